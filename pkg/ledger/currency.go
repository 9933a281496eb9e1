package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/scrip-ledger/scrip/internal/types"
	"github.com/scrip-ledger/scrip/pkg/store"
)

const symbolMaxLen = 12

// CreateCurrency issues a new currency with the given symbol and daily
// staking interest rate. The caller becomes the issuer. Symbols are unique.
func (e *Engine) CreateCurrency(issuer types.AccountID, symbol string, dailyRate decimal.Decimal) (*Currency, error) {
	if err := issuer.Validate(); err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || len(symbol) > symbolMaxLen {
		return nil, fmt.Errorf("%w: symbol %q", ErrInvalidAmount, symbol)
	}
	if dailyRate.IsNegative() {
		return nil, fmt.Errorf("%w: negative rate", ErrInvalidAmount)
	}

	var c *Currency
	err := e.store.Update(func(sc *store.Scope) error {
		symKey := keySymbol(symbol)
		sc.Lock(string(symKey))

		if _, ok, err := sc.Get(symKey); err != nil {
			return err
		} else if ok {
			return ErrDuplicateCurrency
		}

		id, err := e.nextID(sc, seqCurrency)
		if err != nil {
			return err
		}
		c = &Currency{
			ID:        types.CurrencyID(id),
			Symbol:    symbol,
			Issuer:    issuer,
			DailyRate: dailyRate,
		}
		if err := putRow(sc, keyCurrency(c.ID), c); err != nil {
			return err
		}
		return sc.Set(symKey, u64be(id))
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Mint issues new units of a currency to dest. Only the issuer may mint, and
// only while minting has not been renounced. The mint is recorded as a
// transfer from the system account, which moves the supply.
func (e *Engine) Mint(caller, dest types.AccountID, cur types.CurrencyID, amount int64) (*Transfer, error) {
	var t *Transfer
	err := e.store.Update(func(sc *store.Scope) error {
		c, err := e.getCurrency(sc, cur)
		if err != nil {
			return err
		}
		if c.Issuer != caller {
			return ErrNotIssuer
		}
		if c.MintingRenounced {
			return ErrMintingRenounced
		}
		t, err = e.transfer(sc, nil, e.cfg.SystemAccount, dest, cur, amount, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Burn destroys amount of the caller's own balance, recorded as a transfer
// to the system account.
func (e *Engine) Burn(caller types.AccountID, cur types.CurrencyID, amount int64) (*Transfer, error) {
	var t *Transfer
	err := e.store.Update(func(sc *store.Scope) error {
		var err error
		t, err = e.transfer(sc, nil, caller, e.cfg.SystemAccount, cur, amount, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// RenounceMinting permanently disables minting for a currency. Issuer only,
// and irreversible.
func (e *Engine) RenounceMinting(caller types.AccountID, cur types.CurrencyID) error {
	return e.store.Update(func(sc *store.Scope) error {
		key := keyCurrency(cur)
		sc.Lock(string(key))

		c, err := e.getCurrency(sc, cur)
		if err != nil {
			return err
		}
		if c.Issuer != caller {
			return ErrNotIssuer
		}
		c.MintingRenounced = true
		return putRow(sc, key, c)
	})
}

// DeleteCurrency removes a currency whose supply has been fully burned.
// Issuer only.
func (e *Engine) DeleteCurrency(caller types.AccountID, cur types.CurrencyID) error {
	return e.store.Update(func(sc *store.Scope) error {
		key := keyCurrency(cur)
		sc.Lock(string(key))

		c, err := e.getCurrency(sc, cur)
		if err != nil {
			return err
		}
		if c.Issuer != caller {
			return ErrNotIssuer
		}
		if c.Supply != 0 {
			return ErrSupplyNotZero
		}
		if err := sc.Delete(keySymbol(c.Symbol)); err != nil {
			return err
		}
		return sc.Delete(key)
	})
}

// RequestRateChange records a pending daily rate change for a currency. The
// change only becomes applicable after the configured timelock. At most one
// request may be pending; a second request while one is pending is rejected
// rather than replacing it.
func (e *Engine) RequestRateChange(caller types.AccountID, cur types.CurrencyID, rate decimal.Decimal) error {
	if rate.IsNegative() {
		return fmt.Errorf("%w: negative rate", ErrInvalidAmount)
	}
	return e.store.Update(func(sc *store.Scope) error {
		key := keyCurrency(cur)
		sc.Lock(string(key))

		c, err := e.getCurrency(sc, cur)
		if err != nil {
			return err
		}
		if c.Issuer != caller {
			return ErrNotIssuer
		}
		if c.PendingRate != nil {
			return ErrRateChangePending
		}
		c.PendingRate = &rate
		c.PendingRateAt = e.now()
		return putRow(sc, key, c)
	})
}

// ApplyRateChange applies a pending rate change once its timelock has
// elapsed.
func (e *Engine) ApplyRateChange(caller types.AccountID, cur types.CurrencyID) error {
	return e.store.Update(func(sc *store.Scope) error {
		key := keyCurrency(cur)
		sc.Lock(string(key))

		c, err := e.getCurrency(sc, cur)
		if err != nil {
			return err
		}
		if c.Issuer != caller {
			return ErrNotIssuer
		}
		if c.PendingRate == nil {
			return ErrNoRateChange
		}
		if e.now()-c.PendingRateAt < int64(e.cfg.RateChangeDelay.Seconds()) {
			return ErrRateChangeLocked
		}
		c.DailyRate = *c.PendingRate
		c.PendingRate = nil
		c.PendingRateAt = 0
		return putRow(sc, key, c)
	})
}

// getCurrency reads a currency row by id.
func (e *Engine) getCurrency(sc *store.Scope, id types.CurrencyID) (*Currency, error) {
	var c Currency
	ok, err := getRow(sc, keyCurrency(id), &c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownCurrency
	}
	return &c, nil
}
