package ledger

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/scrip-ledger/scrip/internal/types"
	"github.com/scrip-ledger/scrip/pkg/ledger/audit"
	"github.com/scrip-ledger/scrip/pkg/store"
)

// fakeClock is a settable clock for timelock and staking tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestEngine(t *testing.T) (*Engine, *fakeClock) {
	t.Helper()
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	journal, err := audit.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { journal.Close() })

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cfg := DefaultConfig()
	cfg.Now = clock.Now
	return New(st, journal, cfg), clock
}

// newCurrency creates a currency and mints an initial balance to its issuer.
func newCurrency(t *testing.T, e *Engine, issuer types.AccountID, symbol string, initial int64) types.CurrencyID {
	t.Helper()
	c, err := e.CreateCurrency(issuer, symbol, decimal.Zero)
	if err != nil {
		t.Fatalf("CreateCurrency %s: %v", symbol, err)
	}
	if initial > 0 {
		if _, err := e.Mint(issuer, issuer, c.ID, initial); err != nil {
			t.Fatalf("Mint %s: %v", symbol, err)
		}
	}
	return c.ID
}

func mustBalance(t *testing.T, e *Engine, account types.AccountID, cur types.CurrencyID) int64 {
	t.Helper()
	bal, err := e.Balance(account, cur)
	if err != nil {
		t.Fatalf("Balance(%s): %v", account, err)
	}
	return bal
}

func TestTransferMovesFunds(t *testing.T) {
	e, _ := newTestEngine(t)
	gold := newCurrency(t, e, "alice", "GLD", 1000)

	tr, err := e.Transfer("alice", "bob", gold, 300)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if tr.Source != "alice" || tr.Dest != "bob" || tr.Amount != 300 {
		t.Fatalf("transfer row = %+v", tr)
	}
	if got := mustBalance(t, e, "alice", gold); got != 700 {
		t.Errorf("alice = %d", got)
	}
	if got := mustBalance(t, e, "bob", gold); got != 300 {
		t.Errorf("bob = %d", got)
	}

	// A user transfer never moves the supply.
	c, err := e.Currency(gold)
	if err != nil {
		t.Fatalf("Currency: %v", err)
	}
	if c.Supply != 1000 {
		t.Errorf("supply = %d, want 1000", c.Supply)
	}

	got, err := e.Transaction(tr.ID)
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	if got.Amount != 300 || got.Currency != gold {
		t.Errorf("fetched transfer = %+v", got)
	}
}

func TestTransferValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	gold := newCurrency(t, e, "alice", "GLD", 100)

	if _, err := e.Transfer("alice", "bob", gold, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero amount: %v", err)
	}
	if _, err := e.Transfer("alice", "bob", gold, -5); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative amount: %v", err)
	}
	if _, err := e.Transfer("alice", "alice", gold, 5); !errors.Is(err, ErrSelfTransfer) {
		t.Errorf("self transfer: %v", err)
	}
	if _, err := e.Transfer("alice", "bob", 999, 5); !errors.Is(err, ErrUnknownCurrency) {
		t.Errorf("unknown currency: %v", err)
	}
	if _, err := e.Transfer("alice", "bob", gold, 101); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("overdraw: %v", err)
	} else if !IsEconomicFault(err) {
		t.Errorf("overdraw not classified economic: %v", err)
	}
	// A failed transfer leaves balances untouched and no transfer row.
	if got := mustBalance(t, e, "alice", gold); got != 100 {
		t.Errorf("alice = %d after failed transfers", got)
	}
}

func TestMintBurnSupply(t *testing.T) {
	e, _ := newTestEngine(t)
	gold := newCurrency(t, e, "alice", "GLD", 1000)

	if _, err := e.Mint("bob", "bob", gold, 10); !errors.Is(err, ErrNotIssuer) {
		t.Fatalf("non-issuer mint: %v", err)
	}

	if _, err := e.Burn("alice", gold, 400); err != nil {
		t.Fatalf("Burn: %v", err)
	}
	c, _ := e.Currency(gold)
	if c.Supply != 600 {
		t.Errorf("supply after burn = %d", c.Supply)
	}
	if got := mustBalance(t, e, "alice", gold); got != 600 {
		t.Errorf("alice after burn = %d", got)
	}

	if err := e.RenounceMinting("alice", gold); err != nil {
		t.Fatalf("RenounceMinting: %v", err)
	}
	if _, err := e.Mint("alice", "alice", gold, 1); !errors.Is(err, ErrMintingRenounced) {
		t.Fatalf("mint after renounce: %v", err)
	}

	if err := e.DeleteCurrency("alice", gold); !errors.Is(err, ErrSupplyNotZero) {
		t.Fatalf("delete with supply: %v", err)
	}
	if _, err := e.Burn("alice", gold, 600); err != nil {
		t.Fatalf("final burn: %v", err)
	}
	if err := e.DeleteCurrency("alice", gold); err != nil {
		t.Fatalf("DeleteCurrency: %v", err)
	}
	if _, err := e.Currency(gold); !errors.Is(err, ErrUnknownCurrency) {
		t.Fatalf("currency survives delete: %v", err)
	}
}

func TestDuplicateSymbolRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	newCurrency(t, e, "alice", "GLD", 0)
	if _, err := e.CreateCurrency("bob", "GLD", decimal.Zero); !errors.Is(err, ErrDuplicateCurrency) {
		t.Fatalf("duplicate symbol: %v", err)
	}
	// Lookup by symbol is case-normalized.
	c, err := e.CurrencyBySymbol("GLD")
	if err != nil {
		t.Fatalf("CurrencyBySymbol: %v", err)
	}
	if c.Issuer != "alice" {
		t.Errorf("issuer = %s", c.Issuer)
	}
}

func TestRateChangeTimelock(t *testing.T) {
	e, clock := newTestEngine(t)
	gold := newCurrency(t, e, "alice", "GLD", 0)
	rate := decimal.RequireFromString("0.01")

	if err := e.RequestRateChange("alice", gold, rate); err != nil {
		t.Fatalf("RequestRateChange: %v", err)
	}
	// A second request while one is pending is rejected, not replaced.
	if err := e.RequestRateChange("alice", gold, rate); !errors.Is(err, ErrRateChangePending) {
		t.Fatalf("second request: %v", err)
	}
	if err := e.ApplyRateChange("alice", gold); !errors.Is(err, ErrRateChangeLocked) {
		t.Fatalf("early apply: %v", err)
	}

	clock.advance(48*time.Hour + time.Second)
	if err := e.ApplyRateChange("alice", gold); err != nil {
		t.Fatalf("ApplyRateChange: %v", err)
	}
	c, _ := e.Currency(gold)
	if !c.DailyRate.Equal(rate) {
		t.Errorf("rate = %s", c.DailyRate)
	}
	if err := e.ApplyRateChange("alice", gold); !errors.Is(err, ErrNoRateChange) {
		t.Fatalf("re-apply: %v", err)
	}
}

func TestTransferIDsMonotonicUnderConcurrency(t *testing.T) {
	e, _ := newTestEngine(t)
	gold := newCurrency(t, e, "alice", "GLD", 10_000)

	const workers = 8
	const perWorker = 10
	ids := make(chan types.TransferID, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tr, err := e.Transfer("alice", "bob", gold, 1)
				if err != nil {
					t.Errorf("Transfer: %v", err)
					return
				}
				ids <- tr.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[types.TransferID]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate transfer id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != workers*perWorker {
		t.Fatalf("got %d ids, want %d", len(seen), workers*perWorker)
	}
}

func TestAllowanceRejectsUnkeyableIDs(t *testing.T) {
	e, _ := newTestEngine(t)
	gold := newCurrency(t, e, "alice", "GLD", 1000)

	// Composite allowance keys separate owner and spender with a zero byte,
	// so ids containing one would alias other pairs and must be rejected.
	if err := e.Approve("alice", "bob\x00c", gold, 777); !errors.Is(err, types.ErrInvalidAccountID) {
		t.Fatalf("spender with zero byte: %v", err)
	}
	if err := e.Approve("alice\x00bob", "c", gold, 777); !errors.Is(err, types.ErrInvalidAccountID) {
		t.Fatalf("owner with zero byte: %v", err)
	}
	if got, _ := e.Allowance("alice", "bob\x00c", gold); got != 0 {
		t.Errorf("aliased allowance = %d", got)
	}
	if _, err := e.Transfer("alice", "bob\x00c", gold, 1); !errors.Is(err, types.ErrInvalidAccountID) {
		t.Errorf("transfer to unkeyable id: %v", err)
	}
}

func TestAllowanceLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)
	gold := newCurrency(t, e, "alice", "GLD", 1000)

	if err := e.Approve("alice", "spender", gold, 500); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if got, _ := e.Allowance("alice", "spender", gold); got != 500 {
		t.Fatalf("allowance = %d", got)
	}

	if _, err := e.TransferFrom("spender", "alice", "bob", gold, 200); err != nil {
		t.Fatalf("TransferFrom: %v", err)
	}
	if got, _ := e.Allowance("alice", "spender", gold); got != 300 {
		t.Errorf("allowance after draw = %d", got)
	}
	if got := mustBalance(t, e, "bob", gold); got != 200 {
		t.Errorf("bob = %d", got)
	}

	if _, err := e.TransferFrom("spender", "alice", "bob", gold, 301); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("overdraw allowance: %v", err)
	}

	// Re-approve replaces; zero clears.
	if err := e.Approve("alice", "spender", gold, 0); err != nil {
		t.Fatalf("Approve zero: %v", err)
	}
	if got, _ := e.Allowance("alice", "spender", gold); got != 0 {
		t.Errorf("cleared allowance = %d", got)
	}
	if _, err := e.TransferFrom("spender", "alice", "bob", gold, 1); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("draw on cleared allowance: %v", err)
	}
}
