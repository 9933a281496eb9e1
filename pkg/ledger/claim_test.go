package ledger

import (
	"errors"
	"testing"

	"github.com/scrip-ledger/scrip/internal/types"
)

func TestClaimLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)
	gold := newCurrency(t, e, "alice", "GLD", 0)
	if _, err := e.Mint("alice", "bob", gold, 500); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	c, err := e.CreateClaim("alice", "bob", gold, 200, "invoice 7")
	if err != nil {
		t.Fatalf("CreateClaim: %v", err)
	}
	if c.Status != types.ClaimPending {
		t.Fatalf("status = %s", c.Status)
	}

	// Only the payer settles.
	if _, err := e.PayClaim("mallory", c.ID); !errors.Is(err, ErrNotClaimPayer) {
		t.Fatalf("stranger pay: %v", err)
	}
	if _, err := e.PayClaim("alice", c.ID); !errors.Is(err, ErrNotClaimPayer) {
		t.Fatalf("claimant pay: %v", err)
	}

	tr, err := e.PayClaim("bob", c.ID)
	if err != nil {
		t.Fatalf("PayClaim: %v", err)
	}
	if tr.Source != "bob" || tr.Dest != "alice" || tr.Amount != 200 {
		t.Fatalf("settlement transfer = %+v", tr)
	}
	if got := mustBalance(t, e, "alice", gold); got != 200 {
		t.Errorf("alice = %d", got)
	}

	got, err := e.Claim(c.ID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if got.Status != types.ClaimPaid {
		t.Errorf("status = %s", got.Status)
	}
	if _, err := e.PayClaim("bob", c.ID); !errors.Is(err, ErrClaimSettled) {
		t.Fatalf("double pay: %v", err)
	}
}

func TestClaimCancel(t *testing.T) {
	e, _ := newTestEngine(t)
	gold := newCurrency(t, e, "alice", "GLD", 0)

	c, err := e.CreateClaim("alice", "bob", gold, 50, "")
	if err != nil {
		t.Fatalf("CreateClaim: %v", err)
	}
	if err := e.CancelClaim("mallory", c.ID); !errors.Is(err, ErrNotClaimParty) {
		t.Fatalf("stranger cancel: %v", err)
	}
	// Either party may cancel a pending claim.
	if err := e.CancelClaim("bob", c.ID); err != nil {
		t.Fatalf("payer cancel: %v", err)
	}
	got, _ := e.Claim(c.ID)
	if got.Status != types.ClaimCanceled {
		t.Errorf("status = %s", got.Status)
	}
	if _, err := e.PayClaim("bob", c.ID); !errors.Is(err, ErrClaimSettled) {
		t.Fatalf("pay canceled claim: %v", err)
	}
	if err := e.CancelClaim("alice", c.ID); !errors.Is(err, ErrClaimSettled) {
		t.Fatalf("cancel canceled claim: %v", err)
	}
}

func TestClaimValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	gold := newCurrency(t, e, "alice", "GLD", 0)

	if _, err := e.CreateClaim("alice", "alice", gold, 10, ""); !errors.Is(err, ErrSelfTransfer) {
		t.Errorf("self claim: %v", err)
	}
	if _, err := e.CreateClaim("alice", "bob", gold, 0, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero claim: %v", err)
	}
	if _, err := e.CreateClaim("alice", "bob", 999, 10, ""); !errors.Is(err, ErrUnknownCurrency) {
		t.Errorf("unknown currency: %v", err)
	}
	if _, err := e.Claim(999); !errors.Is(err, ErrUnknownClaim) {
		t.Errorf("unknown claim: %v", err)
	}
}
