package ledger

import (
	"errors"
	"log"

	"github.com/scrip-ledger/scrip/internal/types"
	"github.com/scrip-ledger/scrip/pkg/cvm"
	"github.com/scrip-ledger/scrip/pkg/cvm/ir"
	"github.com/scrip-ledger/scrip/pkg/ledger/audit"
	"github.com/scrip-ledger/scrip/pkg/store"
)

// Invoke runs the target account's contract as a root operation. On success
// the whole effect chain commits; a fault or cancel discards every economic
// effect and re-raises. The audit record is returned in either case, since
// the journal commits independently of the transaction.
func (e *Engine) Invoke(caller, owner types.AccountID, input string) (*audit.Record, error) {
	var rec *audit.Record
	err := e.store.Update(func(sc *store.Scope) error {
		var err error
		rec, err = e.invoke(sc, nil, caller, owner, input)
		return err
	})
	return rec, err
}

// invoke runs one contract invocation inside the given scope. A nil chain
// starts a fresh budget from the contract's max cost; a live chain is shared
// so nested invocations draw from the same meter.
//
// Classification: a clean run is success; a CancelError is reverted and
// re-raised; anything else is failed. Failed and reverted both propagate the
// error so the enclosing scope rolls back.
func (e *Engine) invoke(sc *store.Scope, chain *cvm.ChainContext, caller, owner types.AccountID, input any) (*audit.Record, error) {
	c, err := e.getContract(sc, owner)
	if err != nil {
		return nil, err
	}
	prog, err := ir.Decode(c.Code)
	if err != nil {
		return nil, err
	}

	if chain == nil {
		budget := e.cfg.DefaultBudget
		if c.MaxCost != nil {
			budget = *c.MaxCost
		}
		chain, err = cvm.NewChainContext(budget)
		if err != nil {
			return nil, err
		}
	}

	rec, err := e.journal.Begin(caller, owner, inputString(input), e.now())
	if err != nil {
		return nil, err
	}

	ec := &cvm.ExecutionContext{
		Caller:      caller,
		Owner:       owner,
		Input:       input,
		ExecutionID: rec.ID,
	}
	f := &facade{
		engine: e,
		sc:     sc,
		chain:  chain,
		caller: caller,
		owner:  owner,
		execID: rec.ID,
	}
	vm := cvm.New(prog, e.cfg.Costs, chain, f, ec, cvm.Options{
		Rand: e.cfg.Rand,
		Now:  e.cfg.Now,
	})

	before := chain.Cost()
	out, runErr := vm.Run()

	rec.Output = out
	rec.Cost = chain.Cost() - before
	rec.FinishedAt = e.now()
	var cancel *cvm.CancelError
	switch {
	case runErr == nil:
		rec.Status = types.ExecutionSuccess
	case errors.As(runErr, &cancel):
		rec.Status = types.ExecutionReverted
		rec.Error = runErr.Error()
	default:
		rec.Status = types.ExecutionFailed
		rec.Error = runErr.Error()
	}
	if err := e.journal.Finish(rec); err != nil {
		log.Printf("execution %s: journal finish: %v", rec.ID, err)
	}
	return rec, runErr
}

// inputString renders an invocation input for the audit record.
func inputString(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case int64:
		return ir.FormatInt(v)
	default:
		return ""
	}
}
