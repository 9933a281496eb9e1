// Package ledger implements the Scrip ledger engine: authoritative balances,
// transfers, currencies, staking, allowances, claims, liquidity pools, and
// the contract invocation pipeline.
//
// Every mutation runs inside a store.Scope threaded explicitly through the
// call chain, so a root operation and everything it recursively triggers
// (contract executions, their transfers, their nested executions) commits or
// rolls back as one unit. Execution audit records are the deliberate
// exception: they live in a separate journal committed independently, so a
// failed run keeps its record even though its economic effects are erased.
package ledger

import (
	"encoding/binary"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/scrip-ledger/scrip/internal/types"
	"github.com/scrip-ledger/scrip/pkg/cvm"
	"github.com/scrip-ledger/scrip/pkg/ledger/audit"
	"github.com/scrip-ledger/scrip/pkg/store"
)

// Config holds engine configuration. All cost and limit knobs are explicit;
// nothing reads globals.
type Config struct {
	// SystemAccount is the mint/burn counterparty. Transfers from it mint,
	// transfers to it burn, and the currency supply moves by the same
	// amount.
	SystemAccount types.AccountID

	// StakeAccount is the custody account holding staked funds.
	StakeAccount types.AccountID

	// Costs is the opcode cost table shared by static costing and the VM.
	Costs cvm.CostTable

	// DefaultBudget applies to contracts that set no max cost.
	DefaultBudget int64

	// SwapFeeBps is the proportional swap fee in basis points, applied to
	// the input amount before constant-product pricing at each hop.
	SwapFeeBps int64

	// RateChangeDelay is the timelock between requesting and applying an
	// interest rate change.
	RateChangeDelay time.Duration

	// Contract install ceilings.
	ScriptMaxLen  int
	StaticCostMax int64

	// Persistent contract variable limits.
	VariableKeyMax   int
	VariableValueMax int
	VariableQuota    int

	// Now is the clock; defaults to time.Now.
	Now func() time.Time

	// Rand seeds the VM's random opcode; defaults to a time-seeded source.
	Rand *rand.Rand
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		SystemAccount:    "system",
		StakeAccount:     "stake",
		Costs:            cvm.DefaultCostTable(),
		DefaultBudget:    cvm.CostDefault,
		SwapFeeBps:       30,
		RateChangeDelay:  48 * time.Hour,
		ScriptMaxLen:     16_384,
		StaticCostMax:    100_000,
		VariableKeyMax:   8,
		VariableValueMax: 16,
		VariableQuota:    2000,
	}
}

// Engine owns all persisted economic state and exposes atomic operations
// over it. The VM and facade only ever hold transient, execution-scoped
// references.
type Engine struct {
	store   *store.Store
	journal *audit.Journal
	cfg     Config
}

// New creates an engine over an open row store and execution journal.
func New(st *store.Store, journal *audit.Journal, cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Costs == nil {
		cfg.Costs = cvm.DefaultCostTable()
	}
	return &Engine{store: st, journal: journal, cfg: cfg}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Journal returns the execution journal.
func (e *Engine) Journal() *audit.Journal {
	return e.journal
}

// now returns the configured clock reading as unix seconds.
func (e *Engine) now() int64 {
	return e.cfg.Now().Unix()
}

// nextID allocates the next id from a named sequence. The sentinel row is
// read under an explicit row lock before computing current maximum plus one,
// so concurrent callers always receive distinct, strictly increasing ids
// regardless of what the surrounding transaction later does with them.
func (e *Engine) nextID(sc *store.Scope, name string) (uint64, error) {
	key := keySeq(name)
	sc.Lock(string(key))

	raw, ok, err := sc.Get(key)
	if err != nil {
		return 0, err
	}
	var current uint64
	if ok {
		current = binary.BigEndian.Uint64(raw)
	}
	next := current + 1
	if err := sc.Set(key, u64be(next)); err != nil {
		return 0, err
	}
	return next, nil
}

// Balance returns an account's balance in a currency. Absent rows read as
// zero; a zero balance row is never retained.
func (e *Engine) Balance(account types.AccountID, cur types.CurrencyID) (int64, error) {
	var bal int64
	err := e.store.View(func(sc *store.Scope) error {
		var err error
		bal, err = e.balance(sc, account, cur)
		return err
	})
	return bal, err
}

// Transaction returns a transfer row by id.
func (e *Engine) Transaction(id types.TransferID) (*Transfer, error) {
	var t *Transfer
	err := e.store.View(func(sc *store.Scope) error {
		var err error
		t, err = e.getTransfer(sc, id)
		return err
	})
	return t, err
}

// Currency returns a currency row by id.
func (e *Engine) Currency(id types.CurrencyID) (*Currency, error) {
	var c *Currency
	err := e.store.View(func(sc *store.Scope) error {
		var err error
		c, err = e.getCurrency(sc, id)
		return err
	})
	return c, err
}

// CurrencyBySymbol returns a currency row by its symbol. Symbols are stored
// and looked up upper-cased.
func (e *Engine) CurrencyBySymbol(symbol string) (*Currency, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	var c *Currency
	err := e.store.View(func(sc *store.Scope) error {
		raw, ok, err := sc.Get(keySymbol(symbol))
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnknownCurrency
		}
		c, err = e.getCurrency(sc, types.CurrencyID(binary.BigEndian.Uint64(raw)))
		return err
	})
	return c, err
}

// Claim returns a claim row by id.
func (e *Engine) Claim(id types.ClaimID) (*Claim, error) {
	var c *Claim
	err := e.store.View(func(sc *store.Scope) error {
		var err error
		c, err = e.getClaim(sc, id)
		return err
	})
	return c, err
}

// Pool returns a pool row by id.
func (e *Engine) Pool(id types.PoolID) (*Pool, error) {
	var p *Pool
	err := e.store.View(func(sc *store.Scope) error {
		var err error
		p, err = e.getPool(sc, id)
		return err
	})
	return p, err
}

// StakeOf returns an account's staked position. Absent rows read as zero.
func (e *Engine) StakeOf(account types.AccountID, cur types.CurrencyID) (int64, error) {
	var amount int64
	err := e.store.View(func(sc *store.Scope) error {
		var s Stake
		ok, err := getRow(sc, keyStake(account, cur), &s)
		if err != nil || !ok {
			return err
		}
		amount = s.Amount
		return nil
	})
	return amount, err
}

// Allowance returns the remaining allowance for an (owner, spender,
// currency) triple. Absent rows read as zero.
func (e *Engine) Allowance(owner, spender types.AccountID, cur types.CurrencyID) (int64, error) {
	var amount int64
	err := e.store.View(func(sc *store.Scope) error {
		var err error
		amount, err = e.allowance(sc, owner, spender, cur)
		return err
	})
	return amount, err
}
