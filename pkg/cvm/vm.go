package cvm

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/scrip-ledger/scrip/internal/types"
	"github.com/scrip-ledger/scrip/pkg/cvm/ir"
)

// VM-level errors. All of these surface wrapped in a *Fault carrying the
// instruction index and opcode.
var (
	ErrUnknownOpcode     = errors.New("unknown opcode")
	ErrUndefinedVariable = errors.New("undefined variable")
	ErrSystemVariable    = errors.New("system variable is read-only")
	ErrBadArgument       = errors.New("bad argument")
	ErrVariableTooLarge  = errors.New("variable too large")
	ErrDivisionByZero    = errors.New("division by zero")
)

// errExit signals a clean early termination via the exit opcode.
var errExit = errors.New("exit called")

// Fault is a contract fault: a bug in the contract or a resource violation.
// It aborts the invocation and rolls back the triggering unit of work.
type Fault struct {
	Index int       // instruction counter at the faulting instruction
	Op    ir.Opcode // faulting opcode
	Err   error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("contract fault at instruction %d (%s): %v", f.Index, f.Op, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// CancelError is raised by the cancel opcode: a deliberate refusal by the
// contract, not a bug. The engine finalizes the execution as reverted and
// re-raises this to the original caller.
type CancelError struct {
	Message string
}

func (e *CancelError) Error() string {
	if e.Message == "" {
		return "canceled by contract"
	}
	return "canceled by contract: " + e.Message
}

// Ledger is the narrowed API surface a contract may call. The engine binds an
// implementation to one invocation's caller/owner pair; every method shares
// the invocation's transactional scope and chain cost meter.
type Ledger interface {
	// Transfer moves funds out of the contract's own account. The source is
	// always the contract owner; the facade rejects anything else.
	Transfer(dest types.AccountID, currency types.CurrencyID, amount int64) error

	// Balance returns any account's balance in a currency.
	Balance(account types.AccountID, currency types.CurrencyID) (int64, error)

	// StoreGet reads a persistent contract variable. Unset keys read as "".
	StoreGet(key string) (string, error)

	// StoreSet writes a persistent contract variable, scoped to the owner.
	StoreSet(key, value string) error

	// Approve grants a spender an allowance from the contract's account.
	Approve(spender types.AccountID, currency types.CurrencyID, amount int64) error

	// TransferFrom spends an allowance granted to the contract's account.
	TransferFrom(owner, dest types.AccountID, currency types.CurrencyID, amount int64) error

	// Allowance returns the remaining allowance for an (owner, spender) pair.
	Allowance(owner, spender types.AccountID, currency types.CurrencyID) (int64, error)

	// Currency returns a currency row as an opaque attribute set.
	Currency(id types.CurrencyID) (map[string]any, error)

	// Transaction returns a transfer row as an opaque attribute set.
	Transaction(id types.TransferID) (map[string]any, error)

	// ClaimCreate files a claim against a payer on behalf of the owner.
	ClaimCreate(payer types.AccountID, currency types.CurrencyID, amount int64, memo string) (types.ClaimID, error)

	// ClaimPay settles a pending claim the contract's account is payer of.
	ClaimPay(id types.ClaimID) error

	// ClaimCancel cancels a pending claim the contract is party to.
	ClaimCancel(id types.ClaimID) error

	// Execute synchronously invokes another account's contract, sharing the
	// current chain budget, and returns its output.
	Execute(target types.AccountID, input string) (string, error)

	// Swap trades amountIn of one currency for another along the best pool
	// route, returning the amount received.
	Swap(from, to types.CurrencyID, amountIn int64) (int64, error)

	// AddLiquidity deposits into a pool, returning minted shares.
	AddLiquidity(pool types.PoolID, amountA, amountB int64) (int64, error)

	// RemoveLiquidity burns shares, returning the withdrawn amounts keyed
	// "a" and "b".
	RemoveLiquidity(pool types.PoolID, shares int64) (map[string]any, error)
}

// Options configures VM extras. The zero value is usable.
type Options struct {
	// Rand is the source for the random opcode. Defaults to a time-seeded
	// PCG source.
	Rand *rand.Rand

	// Now is the clock for the time opcode. Defaults to time.Now.
	Now func() time.Time
}

// VM interprets one contract's IR against a ledger facade and a shared
// chain cost meter. A VM executes exactly one invocation and is discarded.
type VM struct {
	prog   []ir.Instruction
	costs  CostTable
	chain  *ChainContext
	ledger Ledger

	vars   map[string]any
	out    strings.Builder
	icount int

	rng *rand.Rand
	now func() time.Time
}

// New creates a VM for one invocation. The system variables are seeded from
// the execution context and may not be reassigned by the contract.
func New(prog []ir.Instruction, costs CostTable, chain *ChainContext, ledger Ledger, ec *ExecutionContext, opts Options) *VM {
	rng := opts.Rand
	if rng == nil {
		now := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(now, now^0x9e3779b97f4a7c15))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var input any
	switch v := ec.Input.(type) {
	case string:
		input = v
	case int64:
		input = v
	default:
		input = ""
	}

	return &VM{
		prog:   prog,
		costs:  costs,
		chain:  chain,
		ledger: ledger,
		vars: map[string]any{
			ir.VarSender: string(ec.Caller),
			ir.VarSelf:   string(ec.Owner),
			ir.VarInput:  input,
		},
		rng: rng,
		now: now,
	}
}

// Run executes the program to completion or early exit and returns the
// accumulated output buffer. A *Fault or *CancelError aborts the run.
func (m *VM) Run() (string, error) {
	err := m.run(m.prog)
	if err != nil && !errors.Is(err, errExit) {
		return "", err
	}
	return m.out.String(), nil
}

// Instructions returns the number of instructions executed so far.
func (m *VM) Instructions() int {
	return m.icount
}

// run walks one instruction block depth-first.
func (m *VM) run(block []ir.Instruction) error {
	for i := range block {
		ins := &block[i]
		m.icount++

		cost, known := m.costs[ins.Op]
		if !known {
			return m.fault(ins, ErrUnknownOpcode)
		}
		if err := m.chain.Charge(cost); err != nil {
			return m.fault(ins, err)
		}

		if err := m.step(ins); err != nil {
			return err
		}
	}
	return nil
}

// step dispatches a single instruction.
func (m *VM) step(ins *ir.Instruction) error {
	switch ins.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod,
		ir.OpLt, ir.OpGt, ir.OpLte, ir.OpGte:
		return m.arith(ins)

	case ir.OpEq, ir.OpNeq:
		return m.equality(ins)

	case ir.OpMov:
		v, err := m.arg(ins, 0)
		if err != nil {
			return err
		}
		return m.bind(ins, v)

	case ir.OpIf:
		cond, err := m.arg(ins, 0)
		if err != nil {
			return err
		}
		if truthy(cond) {
			return m.run(ins.Then)
		}
		return m.run(ins.Else)

	case ir.OpWhile:
		return m.loop(ins)

	case ir.OpExit:
		return errExit

	case ir.OpCancel:
		msg := ""
		if len(ins.Args) > 0 {
			v, err := m.arg(ins, 0)
			if err != nil {
				return err
			}
			msg = stringify(v)
		}
		return &CancelError{Message: msg}

	case ir.OpLog:
		v, err := m.arg(ins, 0)
		if err != nil {
			return err
		}
		if m.out.Len() > 0 {
			m.out.WriteByte('\n')
		}
		m.out.WriteString(stringify(v))
		return nil

	case ir.OpTransfer, ir.OpBalance, ir.OpStoreGet, ir.OpStoreSet,
		ir.OpApprove, ir.OpTransferFrom, ir.OpAllowance,
		ir.OpCurrency, ir.OpTransaction,
		ir.OpClaimCreate, ir.OpClaimPay, ir.OpClaimCancel,
		ir.OpExecute, ir.OpSwap, ir.OpAddLiq, ir.OpRemoveLiq:
		return m.ledgerOp(ins)

	case ir.OpHash, ir.OpRandom, ir.OpLen, ir.OpSlice, ir.OpSplit,
		ir.OpStr, ir.OpInt, ir.OpTime, ir.OpAttr, ir.OpIndex:
		return m.builtin(ins)

	default:
		return m.fault(ins, ErrUnknownOpcode)
	}
}

// loop executes a while instruction. The raw condition operand is
// re-resolved on every pass; the compiler appends the condition's
// re-evaluation instructions to the body, so resolving the operand again is
// all the guard needs. Each pass charges an iteration surcharge.
func (m *VM) loop(ins *ir.Instruction) error {
	if len(ins.Args) != 1 {
		return m.fault(ins, fmt.Errorf("%w: while wants 1 condition operand, got %d", ErrBadArgument, len(ins.Args)))
	}
	for {
		cond, err := m.resolve(ins.Args[0])
		if err != nil {
			return m.fault(ins, err)
		}
		if !truthy(cond) {
			return nil
		}
		if err := m.chain.Charge(CostWhileIteration); err != nil {
			return m.fault(ins, err)
		}
		if err := m.run(ins.Body); err != nil {
			return err
		}
	}
}

// arith executes two-operand integer opcodes.
func (m *VM) arith(ins *ir.Instruction) error {
	a, err := m.argInt(ins, 0)
	if err != nil {
		return err
	}
	b, err := m.argInt(ins, 1)
	if err != nil {
		return err
	}

	var out int64
	switch ins.Op {
	case ir.OpAdd:
		out = a + b
	case ir.OpSub:
		out = a - b
	case ir.OpMul:
		out = a * b
		if a != 0 && out/a != b {
			return m.fault(ins, fmt.Errorf("%w: integer magnitude", ErrVariableTooLarge))
		}
	case ir.OpDiv:
		if b == 0 {
			return m.fault(ins, ErrDivisionByZero)
		}
		out = floorDiv(a, b)
	case ir.OpMod:
		if b == 0 {
			return m.fault(ins, ErrDivisionByZero)
		}
		out = floorMod(a, b)
	case ir.OpLt:
		out = bool01(a < b)
	case ir.OpGt:
		out = bool01(a > b)
	case ir.OpLte:
		out = bool01(a <= b)
	case ir.OpGte:
		out = bool01(a >= b)
	}
	return m.bind(ins, out)
}

// equality executes eq/neq, which also compare strings.
func (m *VM) equality(ins *ir.Instruction) error {
	a, err := m.arg(ins, 0)
	if err != nil {
		return err
	}
	b, err := m.arg(ins, 1)
	if err != nil {
		return err
	}

	equal := false
	switch av := a.(type) {
	case int64:
		if bv, ok := b.(int64); ok {
			equal = av == bv
		}
	case string:
		if bv, ok := b.(string); ok {
			equal = av == bv
		}
	}
	if ins.Op == ir.OpNeq {
		equal = !equal
	}
	return m.bind(ins, bool01(equal))
}

// resolve maps a raw argument to its runtime value: variable references
// resolve through the namespace, digit strings become int literals, and
// anything else passes through unresolved.
func (m *VM) resolve(arg string) (any, error) {
	if ir.IsVarRef(arg) {
		v, ok := m.vars[arg]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUndefinedVariable, arg)
		}
		return v, nil
	}
	if n, ok := ir.IntLit(arg); ok {
		return n, nil
	}
	return arg, nil
}

// arg resolves the i-th argument, faulting with attribution on failure.
func (m *VM) arg(ins *ir.Instruction, i int) (any, error) {
	if i >= len(ins.Args) {
		return nil, m.fault(ins, fmt.Errorf("%w: missing operand %d", ErrBadArgument, i))
	}
	v, err := m.resolve(ins.Args[i])
	if err != nil {
		return nil, m.fault(ins, err)
	}
	return v, nil
}

// argInt resolves the i-th argument and requires an integer.
func (m *VM) argInt(ins *ir.Instruction, i int) (int64, error) {
	v, err := m.arg(ins, i)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, m.fault(ins, fmt.Errorf("%w: operand %d is not an integer", ErrBadArgument, i))
	}
	return n, nil
}

// argStr resolves the i-th argument and requires a string.
func (m *VM) argStr(ins *ir.Instruction, i int) (string, error) {
	v, err := m.arg(ins, i)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", m.fault(ins, fmt.Errorf("%w: operand %d is not a string", ErrBadArgument, i))
	}
	return s, nil
}

// bind writes the instruction's result into its output variable, if any,
// enforcing the variable-write rules.
func (m *VM) bind(ins *ir.Instruction, v any) error {
	if ins.Out == "" {
		return nil
	}
	if !ir.IsVarRef(ins.Out) {
		return m.fault(ins, fmt.Errorf("%w: output %q is not a variable", ErrBadArgument, ins.Out))
	}
	switch ins.Out {
	case ir.VarSender, ir.VarSelf, ir.VarInput:
		return m.fault(ins, fmt.Errorf("%w: %s", ErrSystemVariable, ins.Out))
	}
	switch val := v.(type) {
	case int64:
		if val > VarIntMax || val < -VarIntMax {
			return m.fault(ins, fmt.Errorf("%w: integer magnitude", ErrVariableTooLarge))
		}
	case string:
		if len(val) > VarStrMax {
			return m.fault(ins, fmt.Errorf("%w: string length %d", ErrVariableTooLarge, len(val)))
		}
	}
	m.vars[ins.Out] = v
	return nil
}

// fault wraps an error with the current instruction index and opcode.
// Cancels and already-attributed faults pass through untouched.
func (m *VM) fault(ins *ir.Instruction, err error) error {
	var f *Fault
	var c *CancelError
	if errors.As(err, &f) || errors.As(err, &c) {
		return err
	}
	return &Fault{Index: m.icount, Op: ins.Op, Err: err}
}

// truthy maps a runtime value to a loop/branch decision.
func truthy(v any) bool {
	switch val := v.(type) {
	case int64:
		return val != 0
	case string:
		return val != ""
	case nil:
		return false
	default:
		return true
	}
}

// stringify renders a scalar for output and cancel messages.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int64:
		return ir.FormatInt(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func bool01(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// floorMod returns the remainder whose sign follows the divisor.
func floorMod(a, b int64) int64 {
	r := a % b
	if r != 0 && ((a < 0) != (b < 0)) {
		r += b
	}
	return r
}
