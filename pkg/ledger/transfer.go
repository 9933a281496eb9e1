package ledger

import (
	"errors"

	"github.com/scrip-ledger/scrip/internal/types"
	"github.com/scrip-ledger/scrip/pkg/cvm"
	"github.com/scrip-ledger/scrip/pkg/store"
)

// Transfer moves amount of a currency from source to dest as a root
// operation. If the destination account has a contract installed, it runs
// inside the same scope with the transfer id as input; any fault it raises
// rolls the transfer back with it.
func (e *Engine) Transfer(source, dest types.AccountID, cur types.CurrencyID, amount int64) (*Transfer, error) {
	var t *Transfer
	err := e.store.Update(func(sc *store.Scope) error {
		var err error
		t, err = e.transfer(sc, nil, source, dest, cur, amount, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// transfer is the single balance-mutation path. Every operation that moves
// funds, from user transfers through claim settlement to pool swaps, ends up
// here, so the pair invariant and the transfer record are enforced in one
// place.
func (e *Engine) transfer(sc *store.Scope, chain *cvm.ChainContext, source, dest types.AccountID, cur types.CurrencyID, amount int64, execID types.ExecutionID) (*Transfer, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if source == dest {
		return nil, ErrSelfTransfer
	}
	if err := source.Validate(); err != nil {
		return nil, err
	}
	if err := dest.Validate(); err != nil {
		return nil, err
	}
	if _, err := e.getCurrency(sc, cur); err != nil {
		return nil, err
	}

	if err := e.applyPair(sc, source, dest, cur, amount); err != nil {
		return nil, err
	}

	id, err := e.nextID(sc, seqTransfer)
	if err != nil {
		return nil, err
	}
	t := &Transfer{
		ID:        types.TransferID(id),
		Source:    source,
		Dest:      dest,
		Currency:  cur,
		Amount:    amount,
		Execution: execID,
		Time:      e.now(),
	}
	if err := putRow(sc, keyTransfer(t.ID), t); err != nil {
		return nil, err
	}

	// Receiving account with an installed contract gets notified: its
	// script runs with the transfer id as input, inside the same scope.
	hasContract, err := e.hasContract(sc, dest)
	if err != nil {
		return nil, err
	}
	if hasContract && dest != e.cfg.SystemAccount {
		if _, err := e.invoke(sc, chain, source, dest, int64(t.ID)); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// getTransfer reads a transfer row by id.
func (e *Engine) getTransfer(sc *store.Scope, id types.TransferID) (*Transfer, error) {
	var t Transfer
	ok, err := getRow(sc, keyTransfer(id), &t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownTransfer
	}
	return &t, nil
}

// IsEconomicFault reports whether err is one of the economic sentinel
// errors, as opposed to a contract fault or a store fault.
func IsEconomicFault(err error) bool {
	for _, sentinel := range []error{
		ErrInvalidAmount, ErrSelfTransfer,
		ErrInsufficientFunds, ErrInsufficientAllowance,
		ErrInsufficientStake, ErrInsufficientShares, ErrInsufficientLiquidity,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
