package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/scrip-ledger/scrip/internal/types"
	"github.com/scrip-ledger/scrip/pkg/store"
)

// balance reads an account's balance row. Absent reads as zero.
func (e *Engine) balance(sc *store.Scope, account types.AccountID, cur types.CurrencyID) (int64, error) {
	raw, ok, err := sc.Get(keyBalance(account, cur))
	if err != nil || !ok {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

// setBalance writes an account's balance row, deleting it at zero so absent
// and zero stay indistinguishable.
func (e *Engine) setBalance(sc *store.Scope, account types.AccountID, cur types.CurrencyID, amount int64) error {
	key := keyBalance(account, cur)
	if amount == 0 {
		return sc.Delete(key)
	}
	return sc.Set(key, u64be(uint64(amount)))
}

// adjust moves an account's balance by delta under its row lock, failing if
// the result would go negative.
func (e *Engine) adjust(sc *store.Scope, account types.AccountID, cur types.CurrencyID, delta int64) error {
	key := keyBalance(account, cur)
	sc.Lock(string(key))

	bal, err := e.balance(sc, account, cur)
	if err != nil {
		return err
	}
	next := bal + delta
	if next < 0 {
		return fmt.Errorf("%w: account %s has %d, needs %d", ErrInsufficientFunds, account, bal, -delta)
	}
	return e.setBalance(sc, account, cur, next)
}

// applyPair debits the source and credits the destination. When the system
// account is an endpoint the currency supply moves by the same amount: a
// transfer out of it mints, a transfer into it burns. The system account
// itself never holds a balance row.
func (e *Engine) applyPair(sc *store.Scope, source, dest types.AccountID, cur types.CurrencyID, amount int64) error {
	if source != e.cfg.SystemAccount {
		if err := e.adjust(sc, source, cur, -amount); err != nil {
			return err
		}
	}
	if dest != e.cfg.SystemAccount {
		if err := e.adjust(sc, dest, cur, amount); err != nil {
			return err
		}
	}
	switch e.cfg.SystemAccount {
	case source:
		return e.supplyAdjust(sc, cur, amount)
	case dest:
		return e.supplyAdjust(sc, cur, -amount)
	}
	return nil
}

// supplyAdjust moves a currency's recorded supply under its row lock.
func (e *Engine) supplyAdjust(sc *store.Scope, cur types.CurrencyID, delta int64) error {
	key := keyCurrency(cur)
	sc.Lock(string(key))

	c, err := e.getCurrency(sc, cur)
	if err != nil {
		return err
	}
	c.Supply += delta
	return putRow(sc, key, c)
}
