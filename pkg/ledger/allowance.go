package ledger

import (
	"github.com/scrip-ledger/scrip/internal/types"
	"github.com/scrip-ledger/scrip/pkg/cvm"
	"github.com/scrip-ledger/scrip/pkg/store"
)

// Approve sets the allowance a spender may draw from the owner's balance in
// a currency. The value replaces any previous allowance; zero removes the
// row.
func (e *Engine) Approve(owner, spender types.AccountID, cur types.CurrencyID, amount int64) error {
	return e.store.Update(func(sc *store.Scope) error {
		return e.approve(sc, owner, spender, cur, amount)
	})
}

func (e *Engine) approve(sc *store.Scope, owner, spender types.AccountID, cur types.CurrencyID, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if err := owner.Validate(); err != nil {
		return err
	}
	if err := spender.Validate(); err != nil {
		return err
	}
	if _, err := e.getCurrency(sc, cur); err != nil {
		return err
	}
	key := keyAllowance(owner, spender, cur)
	if amount == 0 {
		return sc.Delete(key)
	}
	return putRow(sc, key, &allowanceRow{Amount: amount})
}

// TransferFrom draws amount from the owner's balance to dest, spending the
// caller's allowance. The allowance is decremented before the transfer so a
// reentrant draw cannot reuse it.
func (e *Engine) TransferFrom(spender, owner, dest types.AccountID, cur types.CurrencyID, amount int64) (*Transfer, error) {
	var t *Transfer
	err := e.store.Update(func(sc *store.Scope) error {
		var err error
		t, err = e.transferFrom(sc, nil, spender, owner, dest, cur, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (e *Engine) transferFrom(sc *store.Scope, chain *cvm.ChainContext, spender, owner, dest types.AccountID, cur types.CurrencyID, amount int64) (*Transfer, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	key := keyAllowance(owner, spender, cur)
	sc.Lock(string(key))

	var row allowanceRow
	ok, err := getRow(sc, key, &row)
	if err != nil {
		return nil, err
	}
	if !ok || row.Amount < amount {
		return nil, ErrInsufficientAllowance
	}
	row.Amount -= amount
	if row.Amount == 0 {
		err = sc.Delete(key)
	} else {
		err = putRow(sc, key, &row)
	}
	if err != nil {
		return nil, err
	}
	return e.transfer(sc, chain, owner, dest, cur, amount, 0)
}

// allowance reads the remaining allowance. Absent reads as zero.
func (e *Engine) allowance(sc *store.Scope, owner, spender types.AccountID, cur types.CurrencyID) (int64, error) {
	var row allowanceRow
	ok, err := getRow(sc, keyAllowance(owner, spender, cur), &row)
	if err != nil || !ok {
		return 0, err
	}
	return row.Amount, nil
}
