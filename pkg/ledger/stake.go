package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/scrip-ledger/scrip/internal/types"
	"github.com/scrip-ledger/scrip/pkg/store"
)

const secondsPerDay = 86_400

// StakeDeposit moves amount from the account into the stake vault and adds
// it to the account's staked position. Any pending interest compounds first.
func (e *Engine) StakeDeposit(account types.AccountID, cur types.CurrencyID, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return e.store.Update(func(sc *store.Scope) error {
		s, err := e.compound(sc, account, cur)
		if err != nil {
			return err
		}
		if _, err := e.transfer(sc, nil, account, e.cfg.StakeAccount, cur, amount, 0); err != nil {
			return err
		}
		s.Amount += amount
		return putRow(sc, keyStake(account, cur), s)
	})
}

// StakeWithdraw compounds pending interest, then moves amount from the stake
// vault back to the account.
func (e *Engine) StakeWithdraw(account types.AccountID, cur types.CurrencyID, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return e.store.Update(func(sc *store.Scope) error {
		s, err := e.compound(sc, account, cur)
		if err != nil {
			return err
		}
		if s.Amount < amount {
			return ErrInsufficientStake
		}
		if _, err := e.transfer(sc, nil, e.cfg.StakeAccount, account, cur, amount, 0); err != nil {
			return err
		}
		s.Amount -= amount
		key := keyStake(account, cur)
		if s.Amount == 0 {
			return sc.Delete(key)
		}
		return putRow(sc, key, s)
	})
}

// StakeInterest folds any accrued interest into the position and returns the
// compounded amount now staked.
func (e *Engine) StakeInterest(account types.AccountID, cur types.CurrencyID) (int64, error) {
	var amount int64
	err := e.store.Update(func(sc *store.Scope) error {
		s, err := e.compound(sc, account, cur)
		if err != nil {
			return err
		}
		amount = s.Amount
		if s.Amount == 0 {
			return nil
		}
		return putRow(sc, keyStake(account, cur), s)
	})
	return amount, err
}

// compound materializes daily compound interest on the account's stake row
// under its row lock and returns the updated row (not yet written). The new
// amount is floor(amount * (1+rate)^days) over the whole days elapsed since
// LastUpdatedAt; the timestamp only advances in whole-day steps so partial
// days carry over exactly. The reward is minted from the system account into
// the stake vault, keeping the vault balance equal to the sum of positions.
func (e *Engine) compound(sc *store.Scope, account types.AccountID, cur types.CurrencyID) (*Stake, error) {
	key := keyStake(account, cur)
	sc.Lock(string(key))

	s := &Stake{Account: account, Currency: cur, LastUpdatedAt: e.now()}
	ok, err := getRow(sc, key, s)
	if err != nil {
		return nil, err
	}
	if !ok || s.Amount == 0 {
		s.LastUpdatedAt = e.now()
		return s, nil
	}

	days := (e.now() - s.LastUpdatedAt) / secondsPerDay
	if days <= 0 {
		return s, nil
	}

	c, err := e.getCurrency(sc, cur)
	if err != nil {
		return nil, err
	}
	if c.DailyRate.IsZero() {
		s.LastUpdatedAt += days * secondsPerDay
		return s, nil
	}

	factor := decimal.NewFromInt(1).Add(c.DailyRate).Pow(decimal.NewFromInt(days))
	grown := decimal.NewFromInt(s.Amount).Mul(factor).Floor().IntPart()
	reward := grown - s.Amount
	if reward > 0 {
		if _, err := e.transfer(sc, nil, e.cfg.SystemAccount, e.cfg.StakeAccount, cur, reward, 0); err != nil {
			return nil, err
		}
	}
	s.Amount = grown
	s.LastUpdatedAt += days * secondsPerDay
	return s, nil
}
