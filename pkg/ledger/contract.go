package ledger

import (
	"fmt"

	"github.com/scrip-ledger/scrip/internal/types"
	"github.com/scrip-ledger/scrip/pkg/cvm"
	"github.com/scrip-ledger/scrip/pkg/cvm/compiler"
	"github.com/scrip-ledger/scrip/pkg/cvm/ir"
	"github.com/scrip-ledger/scrip/pkg/store"
)

// SetContract compiles source and installs it on the owner's account,
// replacing any previous contract. The script is rejected when it exceeds
// the length ceiling or its static cost exceeds the install ceiling. maxCost
// sets the per-invocation budget: nil keeps the system default, zero removes
// the bound up to the system ceiling.
func (e *Engine) SetContract(owner types.AccountID, source string, maxCost *int64) (*Contract, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if len(source) > e.cfg.ScriptMaxLen {
		return nil, fmt.Errorf("%w: %d bytes, ceiling %d", ErrScriptTooLong, len(source), e.cfg.ScriptMaxLen)
	}
	if maxCost != nil && *maxCost < 0 {
		return nil, cvm.ErrInvalidBudget
	}

	prog, err := compiler.Compile(source)
	if err != nil {
		return nil, err
	}
	static := e.cfg.Costs.StaticCost(prog)
	if static > e.cfg.StaticCostMax {
		return nil, fmt.Errorf("%w: static cost %d, ceiling %d", ErrScriptTooCostly, static, e.cfg.StaticCostMax)
	}

	code, err := ir.Encode(prog)
	if err != nil {
		return nil, err
	}
	c := &Contract{
		Owner:      owner,
		Source:     ir.Compress([]byte(source)),
		Code:       code,
		Digest:     types.ComputeReceipt([]byte(source)),
		StaticCost: static,
		MaxCost:    maxCost,
	}
	err = e.store.Update(func(sc *store.Scope) error {
		return putRow(sc, keyContract(owner), c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Contract returns an account's installed contract row.
func (e *Engine) Contract(owner types.AccountID) (*Contract, error) {
	var c *Contract
	err := e.store.View(func(sc *store.Scope) error {
		var err error
		c, err = e.getContract(sc, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ContractSource returns the decompressed script text of an installed
// contract.
func (e *Engine) ContractSource(owner types.AccountID) (string, error) {
	c, err := e.Contract(owner)
	if err != nil {
		return "", err
	}
	src, err := ir.Decompress(c.Source)
	if err != nil {
		return "", err
	}
	return string(src), nil
}

// RemoveContract uninstalls an account's contract and clears its persistent
// variables.
func (e *Engine) RemoveContract(owner types.AccountID) error {
	return e.store.Update(func(sc *store.Scope) error {
		if _, err := e.getContract(sc, owner); err != nil {
			return err
		}
		if err := sc.Delete(keyContract(owner)); err != nil {
			return err
		}
		var keys [][]byte
		err := sc.Iterate(prefixVariables(owner), func(key, _ []byte) error {
			k := make([]byte, len(key))
			copy(k, key)
			keys = append(keys, k)
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := sc.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// getContract reads a contract row by owner.
func (e *Engine) getContract(sc *store.Scope, owner types.AccountID) (*Contract, error) {
	var c Contract
	ok, err := getRow(sc, keyContract(owner), &c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoContract
	}
	return &c, nil
}

// hasContract reports whether an account has a contract installed.
func (e *Engine) hasContract(sc *store.Scope, owner types.AccountID) (bool, error) {
	_, ok, err := sc.Get(keyContract(owner))
	return ok, err
}

// variableGet reads one persistent contract variable. Unset keys read as "".
func (e *Engine) variableGet(sc *store.Scope, owner types.AccountID, name string) (string, error) {
	raw, _, err := sc.Get(keyVariable(owner, name))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// variableSet writes one persistent contract variable under the size and
// quota limits. An empty value deletes the row, freeing its quota slot.
func (e *Engine) variableSet(sc *store.Scope, owner types.AccountID, name, value string) error {
	if name == "" || len(name) > e.cfg.VariableKeyMax {
		return fmt.Errorf("%w: key length %d, ceiling %d", cvm.ErrVariableTooLarge, len(name), e.cfg.VariableKeyMax)
	}
	if len(value) > e.cfg.VariableValueMax {
		return fmt.Errorf("%w: value length %d, ceiling %d", cvm.ErrVariableTooLarge, len(value), e.cfg.VariableValueMax)
	}

	key := keyVariable(owner, name)
	if value == "" {
		return sc.Delete(key)
	}

	_, exists, err := sc.Get(key)
	if err != nil {
		return err
	}
	if !exists {
		n, err := sc.Count(prefixVariables(owner))
		if err != nil {
			return err
		}
		if n >= e.cfg.VariableQuota {
			return fmt.Errorf("%w: %d keys", ErrVariableQuota, n)
		}
	}
	return sc.Set(key, []byte(value))
}
