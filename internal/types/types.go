// Package types defines the core identifier and status types shared by the
// Scrip ledger, contract VM, and API surfaces.
package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

var (
	// ErrInvalidAccountID is returned for empty, oversized, or unkeyable
	// account ids.
	ErrInvalidAccountID = errors.New("invalid account id")

	// ErrInvalidReceipt is returned when a receipt fails to decode.
	ErrInvalidReceipt = errors.New("invalid receipt")
)

// AccountIDMaxLen bounds account identifiers (chat-platform ids are short).
const AccountIDMaxLen = 64

// AccountID identifies a ledger account. Opaque to the core; the surrounding
// service maps platform users onto these.
type AccountID string

// Validate reports whether the account id is usable as a row key. Zero bytes
// are rejected: composite row keys use them as separators, so an embedded one
// would let distinct id pairs alias the same key.
func (a AccountID) Validate() error {
	if a == "" || len(a) > AccountIDMaxLen {
		return fmt.Errorf("%w: %q", ErrInvalidAccountID, string(a))
	}
	if strings.IndexByte(string(a), 0x00) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidAccountID, string(a))
	}
	return nil
}

// CurrencyID identifies a currency. Allocated sequentially at creation.
type CurrencyID uint64

// TransferID identifies a transfer. Strictly increasing, allocated under the
// ledger's serialization lock, never reused.
type TransferID uint64

// ExecutionID identifies one contract invocation, allocated by the audit
// journal independently of the economic transaction.
type ExecutionID uint64

// ClaimID identifies a payment claim.
type ClaimID uint64

// PoolID identifies a liquidity pool.
type PoolID uint64

// String implementations keep log lines and JSON digits-only.

func (c CurrencyID) String() string  { return strconv.FormatUint(uint64(c), 10) }
func (t TransferID) String() string  { return strconv.FormatUint(uint64(t), 10) }
func (e ExecutionID) String() string { return strconv.FormatUint(uint64(e), 10) }
func (c ClaimID) String() string     { return strconv.FormatUint(uint64(c), 10) }
func (p PoolID) String() string      { return strconv.FormatUint(uint64(p), 10) }

// ExecutionStatus is the lifecycle state of a contract invocation.
type ExecutionStatus string

// Execution statuses. Pending transitions to exactly one terminal state.
const (
	ExecutionPending  ExecutionStatus = "pending"
	ExecutionSuccess  ExecutionStatus = "success"
	ExecutionFailed   ExecutionStatus = "failed"
	ExecutionReverted ExecutionStatus = "reverted"
)

// Terminal reports whether the status is a terminal state.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSuccess || s == ExecutionFailed || s == ExecutionReverted
}

// ClaimStatus is the lifecycle state of a claim.
type ClaimStatus string

// Claim statuses. Only pending claims may be paid or canceled.
const (
	ClaimPending  ClaimStatus = "pending"
	ClaimPaid     ClaimStatus = "paid"
	ClaimCanceled ClaimStatus = "canceled"
)

// ReceiptSize is the digest length kept for execution receipts.
const ReceiptSize = 16

// Receipt is a short content digest handed back for audit records so callers
// can reference an execution without knowing its numeric id.
type Receipt [ReceiptSize]byte

// ComputeReceipt derives a receipt from an execution's identifying bytes.
func ComputeReceipt(data []byte) Receipt {
	var r Receipt
	sum := blake3.Sum256(data)
	copy(r[:], sum[:ReceiptSize])
	return r
}

// ReceiptFromString parses a base58-encoded receipt.
func ReceiptFromString(s string) (Receipt, error) {
	var r Receipt
	data, err := base58.Decode(s)
	if err != nil {
		return r, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}
	if len(data) != ReceiptSize {
		return r, ErrInvalidReceipt
	}
	copy(r[:], data)
	return r, nil
}

// String returns the base58-encoded representation.
func (r Receipt) String() string {
	return base58.Encode(r[:])
}

// IsZero returns true if the receipt is all zeros.
func (r Receipt) IsZero() bool {
	return r == Receipt{}
}

// MarshalText implements encoding.TextMarshaler.
func (r Receipt) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Receipt) UnmarshalText(text []byte) error {
	parsed, err := ReceiptFromString(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
