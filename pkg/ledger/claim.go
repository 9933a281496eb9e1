package ledger

import (
	"github.com/scrip-ledger/scrip/internal/types"
	"github.com/scrip-ledger/scrip/pkg/cvm"
	"github.com/scrip-ledger/scrip/pkg/store"
)

const claimMemoMaxLen = 256

// CreateClaim records a payment request from claimant against payer. No
// funds move until the payer settles it.
func (e *Engine) CreateClaim(claimant, payer types.AccountID, cur types.CurrencyID, amount int64, memo string) (*Claim, error) {
	var c *Claim
	err := e.store.Update(func(sc *store.Scope) error {
		var err error
		c, err = e.createClaim(sc, claimant, payer, cur, amount, memo)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (e *Engine) createClaim(sc *store.Scope, claimant, payer types.AccountID, cur types.CurrencyID, amount int64, memo string) (*Claim, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if claimant == payer {
		return nil, ErrSelfTransfer
	}
	if err := claimant.Validate(); err != nil {
		return nil, err
	}
	if err := payer.Validate(); err != nil {
		return nil, err
	}
	if len(memo) > claimMemoMaxLen {
		memo = memo[:claimMemoMaxLen]
	}
	if _, err := e.getCurrency(sc, cur); err != nil {
		return nil, err
	}

	id, err := e.nextID(sc, seqClaim)
	if err != nil {
		return nil, err
	}
	c := &Claim{
		ID:       types.ClaimID(id),
		Claimant: claimant,
		Payer:    payer,
		Currency: cur,
		Amount:   amount,
		Memo:     memo,
		Status:   types.ClaimPending,
	}
	if err := putRow(sc, keyClaim(c.ID), c); err != nil {
		return nil, err
	}
	return c, nil
}

// PayClaim settles a pending claim. Only the payer may settle, and the
// transfer to the claimant happens in the same scope as the status change.
func (e *Engine) PayClaim(caller types.AccountID, id types.ClaimID) (*Transfer, error) {
	var t *Transfer
	err := e.store.Update(func(sc *store.Scope) error {
		var err error
		t, err = e.payClaim(sc, nil, caller, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (e *Engine) payClaim(sc *store.Scope, chain *cvm.ChainContext, caller types.AccountID, id types.ClaimID) (*Transfer, error) {
	key := keyClaim(id)
	sc.Lock(string(key))

	c, err := e.getClaim(sc, id)
	if err != nil {
		return nil, err
	}
	if c.Status != types.ClaimPending {
		return nil, ErrClaimSettled
	}
	if c.Payer != caller {
		return nil, ErrNotClaimPayer
	}

	t, err := e.transfer(sc, chain, c.Payer, c.Claimant, c.Currency, c.Amount, 0)
	if err != nil {
		return nil, err
	}
	c.Status = types.ClaimPaid
	if err := putRow(sc, key, c); err != nil {
		return nil, err
	}
	return t, nil
}

// CancelClaim voids a pending claim. Either party may cancel.
func (e *Engine) CancelClaim(caller types.AccountID, id types.ClaimID) error {
	return e.store.Update(func(sc *store.Scope) error {
		return e.cancelClaim(sc, caller, id)
	})
}

func (e *Engine) cancelClaim(sc *store.Scope, caller types.AccountID, id types.ClaimID) error {
	key := keyClaim(id)
	sc.Lock(string(key))

	c, err := e.getClaim(sc, id)
	if err != nil {
		return err
	}
	if c.Status != types.ClaimPending {
		return ErrClaimSettled
	}
	if caller != c.Claimant && caller != c.Payer {
		return ErrNotClaimParty
	}
	c.Status = types.ClaimCanceled
	return putRow(sc, key, c)
}

// getClaim reads a claim row by id.
func (e *Engine) getClaim(sc *store.Scope, id types.ClaimID) (*Claim, error) {
	var c Claim
	ok, err := getRow(sc, keyClaim(id), &c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownClaim
	}
	return &c, nil
}
