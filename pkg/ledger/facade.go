package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/scrip-ledger/scrip/internal/types"
	"github.com/scrip-ledger/scrip/pkg/cvm"
	"github.com/scrip-ledger/scrip/pkg/store"
)

// facade is the cvm.Ledger implementation bound to one invocation. It pins
// the executing contract's identity: every mutating call acts on behalf of
// the owner account, and every nested effect shares the invocation's scope
// and chain meter.
type facade struct {
	engine *Engine
	sc     *store.Scope
	chain  *cvm.ChainContext
	caller types.AccountID
	owner  types.AccountID
	execID types.ExecutionID
}

var _ cvm.Ledger = (*facade)(nil)

func (f *facade) Transfer(dest types.AccountID, cur types.CurrencyID, amount int64) error {
	_, err := f.engine.transfer(f.sc, f.chain, f.owner, dest, cur, amount, f.execID)
	return err
}

func (f *facade) Balance(account types.AccountID, cur types.CurrencyID) (int64, error) {
	return f.engine.balance(f.sc, account, cur)
}

func (f *facade) StoreGet(key string) (string, error) {
	return f.engine.variableGet(f.sc, f.owner, key)
}

func (f *facade) StoreSet(key, value string) error {
	return f.engine.variableSet(f.sc, f.owner, key, value)
}

func (f *facade) Approve(spender types.AccountID, cur types.CurrencyID, amount int64) error {
	return f.engine.approve(f.sc, f.owner, spender, cur, amount)
}

func (f *facade) TransferFrom(owner, dest types.AccountID, cur types.CurrencyID, amount int64) error {
	_, err := f.engine.transferFrom(f.sc, f.chain, f.owner, owner, dest, cur, amount)
	return err
}

func (f *facade) Allowance(owner, spender types.AccountID, cur types.CurrencyID) (int64, error) {
	return f.engine.allowance(f.sc, owner, spender, cur)
}

func (f *facade) Currency(id types.CurrencyID) (map[string]any, error) {
	c, err := f.engine.getCurrency(f.sc, id)
	if err != nil {
		return nil, err
	}
	return rowAttrs(c)
}

func (f *facade) Transaction(id types.TransferID) (map[string]any, error) {
	t, err := f.engine.getTransfer(f.sc, id)
	if err != nil {
		return nil, err
	}
	return rowAttrs(t)
}

func (f *facade) ClaimCreate(payer types.AccountID, cur types.CurrencyID, amount int64, memo string) (types.ClaimID, error) {
	c, err := f.engine.createClaim(f.sc, f.owner, payer, cur, amount, memo)
	if err != nil {
		return 0, err
	}
	return c.ID, nil
}

func (f *facade) ClaimPay(id types.ClaimID) error {
	_, err := f.engine.payClaim(f.sc, f.chain, f.owner, id)
	return err
}

func (f *facade) ClaimCancel(id types.ClaimID) error {
	return f.engine.cancelClaim(f.sc, f.owner, id)
}

func (f *facade) Execute(target types.AccountID, input string) (string, error) {
	rec, err := f.engine.invoke(f.sc, f.chain, f.owner, target, input)
	if err != nil {
		return "", err
	}
	return rec.Output, nil
}

func (f *facade) Swap(from, to types.CurrencyID, amountIn int64) (int64, error) {
	return f.engine.swap(f.sc, f.chain, f.owner, from, to, amountIn)
}

func (f *facade) AddLiquidity(pool types.PoolID, amountA, amountB int64) (int64, error) {
	return f.engine.addLiquidity(f.sc, f.chain, f.owner, pool, amountA, amountB)
}

func (f *facade) RemoveLiquidity(pool types.PoolID, shares int64) (map[string]any, error) {
	outA, outB, err := f.engine.removeLiquidity(f.sc, f.chain, f.owner, pool, shares)
	if err != nil {
		return nil, err
	}
	return map[string]any{"a": outA, "b": outB}, nil
}

// rowAttrs renders a row as the opaque attribute map contracts see through
// attr. Integers survive the JSON round trip as int64 via Number decoding.
func rowAttrs(row any) (map[string]any, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode row attributes: %w", err)
	}
	attrs := make(map[string]any)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&attrs); err != nil {
		return nil, fmt.Errorf("decode row attributes: %w", err)
	}
	for k, v := range attrs {
		if num, ok := v.(json.Number); ok {
			if n, err := num.Int64(); err == nil {
				attrs[k] = n
			} else {
				attrs[k] = num.String()
			}
		}
	}
	return attrs, nil
}
