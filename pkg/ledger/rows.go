package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/scrip-ledger/scrip/internal/types"
	"github.com/scrip-ledger/scrip/pkg/store"
)

// Currency is one issued currency. Supply reflects the net of every mint and
// burn transfer through the system account.
type Currency struct {
	ID        types.CurrencyID `json:"id"`
	Symbol    string           `json:"symbol"`
	Issuer    types.AccountID  `json:"issuer"`
	Supply    int64            `json:"supply"`
	DailyRate decimal.Decimal  `json:"daily_rate"`

	// MintingRenounced permanently disables further minting.
	MintingRenounced bool `json:"minting_renounced,omitempty"`

	// Pending rate change, at most one at a time. PendingRateAt is the unix
	// time the change was requested; it applies only after the timelock.
	PendingRate   *decimal.Decimal `json:"pending_rate,omitempty"`
	PendingRateAt int64            `json:"pending_rate_at,omitempty"`
}

// Transfer is the immutable unit of record for every balance mutation.
type Transfer struct {
	ID       types.TransferID `json:"id"`
	Source   types.AccountID  `json:"source"`
	Dest     types.AccountID  `json:"dest"`
	Currency types.CurrencyID `json:"currency"`
	Amount   int64            `json:"amount"`

	// Execution is the invocation that produced this transfer, if any.
	Execution types.ExecutionID `json:"execution,omitempty"`

	Time int64 `json:"time"`
}

// Contract is an account's installed script. Replaced wholesale on update.
type Contract struct {
	Owner types.AccountID `json:"owner"`

	// Source and Code are zstd-compressed: the original script text and
	// its compiled IR.
	Source []byte `json:"source"`
	Code   []byte `json:"code"`

	// Digest identifies the script content (blake3 of the source).
	Digest types.Receipt `json:"digest"`

	// StaticCost is the worst-case-free cost of the body, loops counted
	// once.
	StaticCost int64 `json:"static_cost"`

	// MaxCost is the invocation budget: nil means the configured default,
	// zero means unbounded up to the system ceiling.
	MaxCost *int64 `json:"max_cost,omitempty"`
}

// Claim is a payment request from a claimant against a payer.
type Claim struct {
	ID       types.ClaimID     `json:"id"`
	Claimant types.AccountID   `json:"claimant"`
	Payer    types.AccountID   `json:"payer"`
	Currency types.CurrencyID  `json:"currency"`
	Amount   int64             `json:"amount"`
	Memo     string            `json:"memo,omitempty"`
	Status   types.ClaimStatus `json:"status"`
}

// Stake is one account's staked position in a currency. Interest compounds
// lazily: any deposit or withdrawal first materializes the pending reward.
type Stake struct {
	Account  types.AccountID  `json:"account"`
	Currency types.CurrencyID `json:"currency"`
	Amount   int64            `json:"amount"`

	// LastUpdatedAt is the unix time compounding last ran. Partial days
	// carry over: it only ever advances in whole-day steps.
	LastUpdatedAt int64 `json:"last_updated_at"`
}

// Pool is one constant-product liquidity pool over an unordered currency
// pair, stored with CurrencyA < CurrencyB.
type Pool struct {
	ID          types.PoolID     `json:"id"`
	CurrencyA   types.CurrencyID `json:"currency_a"`
	CurrencyB   types.CurrencyID `json:"currency_b"`
	ReserveA    int64            `json:"reserve_a"`
	ReserveB    int64            `json:"reserve_b"`
	TotalShares int64            `json:"total_shares"`
}

// Provider is one account's share of a pool.
type Provider struct {
	Pool    types.PoolID    `json:"pool"`
	Account types.AccountID `json:"account"`
	Shares  int64           `json:"shares"`
}

// allowanceRow holds the remaining allowance for an (owner, spender,
// currency) triple; the triple itself lives in the key.
type allowanceRow struct {
	Amount int64 `json:"amount"`
}

// getRow reads and decodes one row. Returns false when the row is absent.
func getRow(sc *store.Scope, key []byte, out any) (bool, error) {
	raw, ok, err := sc.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("%w: decode row %q: %v", store.ErrStore, key, err)
	}
	return true, nil
}

// putRow encodes and writes one row.
func putRow(sc *store.Scope, key []byte, row any) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("%w: encode row %q: %v", store.ErrStore, key, err)
	}
	return sc.Set(key, raw)
}
