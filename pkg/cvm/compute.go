// Package cvm implements the contract virtual machine for Scrip.
//
// The VM is a tree-walking interpreter over the IR produced by the compiler.
// Every instruction is metered against a cost budget shared across nested
// contract invocations, so a chain of cross-contract calls is bounded by one
// ceiling no matter how deep it goes.
package cvm

import (
	"errors"

	"github.com/scrip-ledger/scrip/internal/types"
	"github.com/scrip-ledger/scrip/pkg/cvm/ir"
)

// Budget constants.
const (
	// CostDefault is the budget applied when a contract sets no max cost.
	CostDefault = int64(10_000)

	// CostMax is the hard ceiling no budget may exceed. A max cost of zero
	// means unbounded up to this ceiling.
	CostMax = int64(1_000_000)

	// CostWhileIteration is the surcharge per loop pass, on top of the
	// body's own instruction costs.
	CostWhileIteration = int64(1)
)

// Variable limits.
const (
	// VarIntMax caps the magnitude of any integer a contract can hold.
	VarIntMax = int64(1) << 62

	// VarStrMax caps the byte length of any string a contract can hold.
	VarStrMax = 256
)

var (
	// ErrBudgetExceeded is returned when the chain cost passes its ceiling.
	ErrBudgetExceeded = errors.New("cost budget exceeded")

	// ErrInvalidBudget is returned for a negative budget.
	ErrInvalidBudget = errors.New("invalid cost budget")
)

// CostTable maps opcodes to their static execution cost.
type CostTable map[ir.Opcode]int64

// DefaultCostTable returns the standard cost table. Callers may copy and
// adjust it before constructing an engine; the table is never mutated by
// the VM.
func DefaultCostTable() CostTable {
	return CostTable{
		ir.OpAdd: 1, ir.OpSub: 1, ir.OpMul: 1, ir.OpDiv: 1, ir.OpMod: 1,
		ir.OpEq: 1, ir.OpNeq: 1, ir.OpLt: 1, ir.OpGt: 1, ir.OpLte: 1, ir.OpGte: 1,
		ir.OpMov: 1,

		ir.OpIf: 1, ir.OpWhile: 1, ir.OpExit: 1, ir.OpCancel: 1, ir.OpLog: 1,

		ir.OpBalance: 5, ir.OpStoreGet: 5, ir.OpAllowance: 5,
		ir.OpCurrency: 5, ir.OpTransaction: 5,
		ir.OpStoreSet: 10, ir.OpApprove: 10,
		ir.OpClaimCreate: 10, ir.OpClaimCancel: 10,
		ir.OpTransfer:     25,
		ir.OpTransferFrom: 30, ir.OpClaimPay: 30,
		ir.OpExecute: 50, ir.OpSwap: 50, ir.OpAddLiq: 50, ir.OpRemoveLiq: 50,

		ir.OpLen: 2, ir.OpStr: 2, ir.OpInt: 2, ir.OpTime: 2,
		ir.OpAttr: 2, ir.OpIndex: 2,
		ir.OpSlice: 3, ir.OpSplit: 3, ir.OpRandom: 3,
		ir.OpHash: 10,
	}
}

// Cost returns the static cost of an opcode. Unknown opcodes cost zero here;
// the VM rejects them before charging.
func (t CostTable) Cost(op ir.Opcode) int64 {
	return t[op]
}

// StaticCost computes the worst-case-free cost of a script body: every
// instruction counted once, loop bodies included a single time.
func (t CostTable) StaticCost(instrs []ir.Instruction) int64 {
	var total int64
	for i := range instrs {
		total += t.Cost(instrs[i].Op)
		total += t.StaticCost(instrs[i].Then)
		total += t.StaticCost(instrs[i].Else)
		total += t.StaticCost(instrs[i].Body)
	}
	return total
}

// ChainContext is the running cost accumulator shared by every invocation in
// one top-level chain. A callee's cost is added to the same total the caller
// is bound by, so recursion cannot escape the budget.
//
// It is deliberately not safe for concurrent use: one chain executes strictly
// sequentially on the calling goroutine.
type ChainContext struct {
	cost  int64
	limit int64
}

// NewChainContext creates a chain meter with the given ceiling. A limit of
// zero means unbounded up to CostMax.
func NewChainContext(limit int64) (*ChainContext, error) {
	if limit < 0 {
		return nil, ErrInvalidBudget
	}
	if limit == 0 || limit > CostMax {
		limit = CostMax
	}
	return &ChainContext{limit: limit}, nil
}

// Charge consumes cost units, failing once the total passes the ceiling.
func (cc *ChainContext) Charge(cost int64) error {
	cc.cost += cost
	if cc.cost > cc.limit {
		return ErrBudgetExceeded
	}
	return nil
}

// Cost returns the accumulated cost.
func (cc *ChainContext) Cost() int64 {
	return cc.cost
}

// Limit returns the ceiling.
func (cc *ChainContext) Limit() int64 {
	return cc.limit
}

// ExecutionContext identifies one invocation within a chain.
type ExecutionContext struct {
	// Caller is the account that triggered this invocation.
	Caller types.AccountID

	// Owner is the account whose contract is executing.
	Owner types.AccountID

	// Input is the invocation payload, exposed as the $input variable.
	// Either a string (direct invocation) or an int64 transfer id
	// (transfer-triggered invocation).
	Input any

	// ExecutionID is the audit journal id for this invocation.
	ExecutionID types.ExecutionID
}
