package cvm

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/scrip-ledger/scrip/internal/types"
	"github.com/scrip-ledger/scrip/pkg/cvm/ir"
)

// stubLedger is a no-op ledger facade recording transfer calls.
type stubLedger struct {
	transfers []string
	vars      map[string]string
}

func newStubLedger() *stubLedger {
	return &stubLedger{vars: make(map[string]string)}
}

func (l *stubLedger) Transfer(dest types.AccountID, cur types.CurrencyID, amount int64) error {
	l.transfers = append(l.transfers, string(dest))
	return nil
}

func (l *stubLedger) Balance(types.AccountID, types.CurrencyID) (int64, error) { return 42, nil }

func (l *stubLedger) StoreGet(key string) (string, error) { return l.vars[key], nil }

func (l *stubLedger) StoreSet(key, value string) error {
	l.vars[key] = value
	return nil
}

func (l *stubLedger) Approve(types.AccountID, types.CurrencyID, int64) error { return nil }

func (l *stubLedger) TransferFrom(types.AccountID, types.AccountID, types.CurrencyID, int64) error {
	return nil
}

func (l *stubLedger) Allowance(types.AccountID, types.AccountID, types.CurrencyID) (int64, error) {
	return 0, nil
}

func (l *stubLedger) Currency(types.CurrencyID) (map[string]any, error) {
	return map[string]any{"symbol": "GLD", "supply": int64(1000)}, nil
}

func (l *stubLedger) Transaction(types.TransferID) (map[string]any, error) {
	return map[string]any{"amount": int64(7), "source": "alice"}, nil
}

func (l *stubLedger) ClaimCreate(types.AccountID, types.CurrencyID, int64, string) (types.ClaimID, error) {
	return 1, nil
}

func (l *stubLedger) ClaimPay(types.ClaimID) error    { return nil }
func (l *stubLedger) ClaimCancel(types.ClaimID) error { return nil }

func (l *stubLedger) Execute(types.AccountID, string) (string, error) { return "", nil }

func (l *stubLedger) Swap(types.CurrencyID, types.CurrencyID, int64) (int64, error) { return 0, nil }

func (l *stubLedger) AddLiquidity(types.PoolID, int64, int64) (int64, error) { return 0, nil }

func (l *stubLedger) RemoveLiquidity(types.PoolID, int64) (map[string]any, error) {
	return map[string]any{"a": int64(0), "b": int64(0)}, nil
}

// newTestVM builds a VM over a fresh chain with the given budget.
func newTestVM(t *testing.T, prog []ir.Instruction, budget int64) (*VM, *ChainContext) {
	t.Helper()
	chain, err := NewChainContext(budget)
	if err != nil {
		t.Fatalf("NewChainContext: %v", err)
	}
	ec := &ExecutionContext{Caller: "alice", Owner: "bot", Input: "hello"}
	vm := New(prog, DefaultCostTable(), chain, newStubLedger(), ec, Options{
		Rand: rand.New(rand.NewPCG(1, 2)),
		Now:  func() time.Time { return time.Unix(1_700_000_000, 0) },
	})
	return vm, chain
}

func run(t *testing.T, prog []ir.Instruction) (*VM, string) {
	t.Helper()
	vm, _ := newTestVM(t, prog, 0)
	out, err := vm.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return vm, out
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		op   ir.Opcode
		a, b string
		want int64
	}{
		{ir.OpAdd, "2", "3", 5},
		{ir.OpSub, "2", "5", -3},
		{ir.OpMul, "-4", "3", -12},
		{ir.OpDiv, "7", "2", 3},
		{ir.OpDiv, "-7", "2", -4},
		{ir.OpMod, "7", "2", 1},
		{ir.OpMod, "-7", "2", 1},
		{ir.OpMod, "7", "-2", -1},
	}
	for _, tc := range tests {
		prog := []ir.Instruction{{Op: tc.op, Args: []string{tc.a, tc.b}, Out: "$x"}}
		vm, _ := run(t, prog)
		if got := vm.vars["$x"]; got != tc.want {
			t.Errorf("%s(%s, %s) = %v, want %d", tc.op, tc.a, tc.b, got, tc.want)
		}
	}
}

func TestComparisons(t *testing.T) {
	tests := []struct {
		op   ir.Opcode
		a, b string
		want int64
	}{
		{ir.OpLt, "1", "2", 1},
		{ir.OpLt, "2", "2", 0},
		{ir.OpGt, "3", "2", 1},
		{ir.OpLte, "2", "2", 1},
		{ir.OpGte, "1", "2", 0},
		{ir.OpEq, "2", "2", 1},
		{ir.OpNeq, "2", "2", 0},
		{ir.OpEq, "a", "a", 1},
		{ir.OpEq, "a", "b", 0},
	}
	for _, tc := range tests {
		prog := []ir.Instruction{{Op: tc.op, Args: []string{tc.a, tc.b}, Out: "$x"}}
		vm, _ := run(t, prog)
		if got := vm.vars["$x"]; got != tc.want {
			t.Errorf("%s(%q, %q) = %v, want %d", tc.op, tc.a, tc.b, got, tc.want)
		}
	}
}

func TestEqualityMixedTypes(t *testing.T) {
	// An integer never equals a string, even with the same digits.
	prog := []ir.Instruction{
		{Op: ir.OpMov, Args: []string{"5"}, Out: "$n"},
		{Op: ir.OpHash, Args: []string{"x"}, Out: "$s"}, // a string value
		{Op: ir.OpEq, Args: []string{"$n", "$s"}, Out: "$x"},
	}
	vm, _ := run(t, prog)
	if got := vm.vars["$x"]; got != int64(0) {
		t.Fatalf("mixed-type eq = %v, want 0", got)
	}
}

func TestDivisionByZero(t *testing.T) {
	prog := []ir.Instruction{{Op: ir.OpDiv, Args: []string{"1", "0"}, Out: "$x"}}
	vm, _ := newTestVM(t, prog, 0)
	_, err := vm.Run()
	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("expected *Fault, got %v", err)
	}
	if !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected division by zero, got %v", err)
	}
	if fault.Op != ir.OpDiv {
		t.Errorf("fault op = %s, want div", fault.Op)
	}
}

func TestSystemVariables(t *testing.T) {
	prog := []ir.Instruction{
		{Op: ir.OpLog, Args: []string{ir.VarSender}},
		{Op: ir.OpLog, Args: []string{ir.VarSelf}},
		{Op: ir.OpLog, Args: []string{ir.VarInput}},
	}
	_, out := run(t, prog)
	if out != "alice\nbot\nhello" {
		t.Fatalf("output = %q", out)
	}
}

func TestSystemVariableWriteFaults(t *testing.T) {
	prog := []ir.Instruction{{Op: ir.OpMov, Args: []string{"1"}, Out: ir.VarSender}}
	vm, _ := newTestVM(t, prog, 0)
	_, err := vm.Run()
	if !errors.Is(err, ErrSystemVariable) {
		t.Fatalf("expected system variable fault, got %v", err)
	}
}

func TestUndefinedVariableFaults(t *testing.T) {
	prog := []ir.Instruction{{Op: ir.OpLog, Args: []string{"$missing"}}}
	vm, _ := newTestVM(t, prog, 0)
	_, err := vm.Run()
	if !errors.Is(err, ErrUndefinedVariable) {
		t.Fatalf("expected undefined variable fault, got %v", err)
	}
}

func TestUnknownOpcodeFaults(t *testing.T) {
	prog := []ir.Instruction{{Op: ir.Opcode("explode")}}
	vm, _ := newTestVM(t, prog, 0)
	_, err := vm.Run()
	if !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("expected unknown opcode fault, got %v", err)
	}
}

func TestStringCapFaults(t *testing.T) {
	long := strings.Repeat("a", VarStrMax+1)
	prog := []ir.Instruction{{Op: ir.OpMov, Args: []string{long}, Out: "$x"}}
	vm, _ := newTestVM(t, prog, 0)
	_, err := vm.Run()
	if !errors.Is(err, ErrVariableTooLarge) {
		t.Fatalf("expected variable too large, got %v", err)
	}
}

func TestMulOverflowFaults(t *testing.T) {
	// 2^32 * 2^32 wraps int64 to zero; the wrap must fault, not bind 0.
	prog := []ir.Instruction{
		{Op: ir.OpMov, Args: []string{"4294967296"}, Out: "$a"},
		{Op: ir.OpMul, Args: []string{"$a", "$a"}, Out: "$b"},
	}
	vm, _ := newTestVM(t, prog, 0)
	_, err := vm.Run()
	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("expected *Fault, got %v", err)
	}
	if !errors.Is(err, ErrVariableTooLarge) {
		t.Fatalf("expected variable too large, got %v", err)
	}
	if fault.Op != ir.OpMul {
		t.Errorf("fault op = %s, want mul", fault.Op)
	}

	// 2^31 * 2^31 lands exactly on the magnitude cap and is fine.
	ok := []ir.Instruction{
		{Op: ir.OpMov, Args: []string{"2147483648"}, Out: "$a"},
		{Op: ir.OpMul, Args: []string{"$a", "$a"}, Out: "$b"},
		{Op: ir.OpLog, Args: []string{"$b"}},
	}
	_, out := run(t, ok)
	if out != "4611686018427387904" {
		t.Fatalf("output = %q", out)
	}
}

func TestSliceBoundsClamp(t *testing.T) {
	// Negative bounds wrap from the end; past-the-start wraps clamp to an
	// empty slice instead of faulting or escaping the sequence.
	prog := []ir.Instruction{
		{Op: ir.OpSlice, Args: []string{"abc", "0", "-10"}, Out: "$a"},
		{Op: ir.OpSlice, Args: []string{"abc", "-10", "2"}, Out: "$b"},
		{Op: ir.OpSlice, Args: []string{"abc", "-10", "-10"}, Out: "$c"},
		{Op: ir.OpSlice, Args: []string{"abc", "0", "10"}, Out: "$d"},
		{Op: ir.OpLog, Args: []string{"$a"}},
		{Op: ir.OpLog, Args: []string{"$b"}},
		{Op: ir.OpLog, Args: []string{"$c"}},
		{Op: ir.OpLog, Args: []string{"$d"}},
	}
	_, out := run(t, prog)
	if out != "ab\n\nabc" {
		t.Fatalf("output = %q", out)
	}
}

func TestExitStopsExecution(t *testing.T) {
	prog := []ir.Instruction{
		{Op: ir.OpLog, Args: []string{"before"}},
		{Op: ir.OpExit},
		{Op: ir.OpLog, Args: []string{"after"}},
	}
	_, out := run(t, prog)
	if out != "before" {
		t.Fatalf("output = %q, want %q", out, "before")
	}
}

func TestCancelRaisesCancelError(t *testing.T) {
	prog := []ir.Instruction{{Op: ir.OpCancel, Args: []string{"no deal"}}}
	vm, _ := newTestVM(t, prog, 0)
	_, err := vm.Run()
	var cancel *CancelError
	if !errors.As(err, &cancel) {
		t.Fatalf("expected *CancelError, got %v", err)
	}
	if cancel.Message != "no deal" {
		t.Errorf("message = %q", cancel.Message)
	}
}

func TestIfBranches(t *testing.T) {
	prog := []ir.Instruction{
		{Op: ir.OpIf, Args: []string{"1"},
			Then: []ir.Instruction{{Op: ir.OpLog, Args: []string{"yes"}}},
			Else: []ir.Instruction{{Op: ir.OpLog, Args: []string{"no"}}}},
		{Op: ir.OpIf, Args: []string{"0"},
			Then: []ir.Instruction{{Op: ir.OpLog, Args: []string{"yes"}}},
			Else: []ir.Instruction{{Op: ir.OpLog, Args: []string{"no"}}}},
	}
	_, out := run(t, prog)
	if out != "yes\nno" {
		t.Fatalf("output = %q", out)
	}
}

func TestWhileLoop(t *testing.T) {
	// i = 0; while i < 5 { i = i + 1 }; log(i)
	prog := []ir.Instruction{
		{Op: ir.OpMov, Args: []string{"0"}, Out: "$i"},
		{Op: ir.OpLt, Args: []string{"$i", "5"}, Out: "$c"},
		{Op: ir.OpWhile, Args: []string{"$c"}, Body: []ir.Instruction{
			{Op: ir.OpAdd, Args: []string{"$i", "1"}, Out: "$i"},
			{Op: ir.OpLt, Args: []string{"$i", "5"}, Out: "$c"},
		}},
		{Op: ir.OpLog, Args: []string{"$i"}},
	}
	_, out := run(t, prog)
	if out != "5" {
		t.Fatalf("output = %q, want 5", out)
	}
}

func TestBudgetExceeded(t *testing.T) {
	// Infinite loop against a tiny budget.
	prog := []ir.Instruction{
		{Op: ir.OpWhile, Args: []string{"1"}, Body: []ir.Instruction{
			{Op: ir.OpAdd, Args: []string{"1", "1"}, Out: "$x"},
		}},
	}
	vm, chain := newTestVM(t, prog, 10)
	_, err := vm.Run()
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected budget exceeded, got %v", err)
	}
	if chain.Cost() <= chain.Limit() {
		t.Errorf("cost %d should have passed limit %d", chain.Cost(), chain.Limit())
	}
}

func TestCostAccounting(t *testing.T) {
	prog := []ir.Instruction{
		{Op: ir.OpMov, Args: []string{"1"}, Out: "$a"},  // 1
		{Op: ir.OpHash, Args: []string{"$a"}, Out: "$h"}, // 10
		{Op: ir.OpTransfer, Args: []string{"bob", "1", "5"}}, // 25
	}
	vm, chain := newTestVM(t, prog, 0)
	if _, err := vm.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if chain.Cost() != 36 {
		t.Fatalf("cost = %d, want 36", chain.Cost())
	}
}

func TestBuiltins(t *testing.T) {
	prog := []ir.Instruction{
		{Op: ir.OpLen, Args: []string{"hello"}, Out: "$n"},
		{Op: ir.OpSlice, Args: []string{"hello", "1", "3"}, Out: "$s"},
		{Op: ir.OpStr, Args: []string{"42"}, Out: "$str"},
		{Op: ir.OpInt, Args: []string{"$str"}, Out: "$i"},
		{Op: ir.OpSplit, Args: []string{"a,b,c", ","}, Out: "$parts"},
		{Op: ir.OpLen, Args: []string{"$parts"}, Out: "$pn"},
		{Op: ir.OpIndex, Args: []string{"$parts", "-1"}, Out: "$last"},
		{Op: ir.OpTime, Out: "$t"},
	}
	vm, _ := run(t, prog)
	if vm.vars["$n"] != int64(5) {
		t.Errorf("len = %v", vm.vars["$n"])
	}
	if vm.vars["$s"] != "el" {
		t.Errorf("slice = %v", vm.vars["$s"])
	}
	if vm.vars["$i"] != int64(42) {
		t.Errorf("int(str) = %v", vm.vars["$i"])
	}
	if vm.vars["$pn"] != int64(3) {
		t.Errorf("len(split) = %v", vm.vars["$pn"])
	}
	if vm.vars["$last"] != "c" {
		t.Errorf("index -1 = %v", vm.vars["$last"])
	}
	if vm.vars["$t"] != int64(1_700_000_000) {
		t.Errorf("time = %v", vm.vars["$t"])
	}
}

func TestRandomInRange(t *testing.T) {
	prog := []ir.Instruction{{Op: ir.OpRandom, Args: []string{"3", "7"}, Out: "$r"}}
	for i := 0; i < 50; i++ {
		vm, _ := run(t, prog)
		r := vm.vars["$r"].(int64)
		if r < 3 || r > 7 {
			t.Fatalf("random out of range: %d", r)
		}
	}
}

func TestAttrReadsLedgerRows(t *testing.T) {
	prog := []ir.Instruction{
		{Op: ir.OpCurrency, Args: []string{"1"}, Out: "$c"},
		{Op: ir.OpAttr, Args: []string{"$c", "symbol"}, Out: "$sym"},
		{Op: ir.OpLog, Args: []string{"$sym"}},
	}
	_, out := run(t, prog)
	if out != "GLD" {
		t.Fatalf("output = %q", out)
	}
}

func TestAttrDeniesDunder(t *testing.T) {
	prog := []ir.Instruction{
		{Op: ir.OpCurrency, Args: []string{"1"}, Out: "$c"},
		{Op: ir.OpAttr, Args: []string{"$c", "__class__"}, Out: "$x"},
	}
	vm, _ := newTestVM(t, prog, 0)
	_, err := vm.Run()
	if !errors.Is(err, ErrBadArgument) {
		t.Fatalf("expected bad argument fault, got %v", err)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	prog := []ir.Instruction{
		{Op: ir.OpStoreSet, Args: []string{"k", "v"}},
		{Op: ir.OpStoreGet, Args: []string{"k"}, Out: "$v"},
		{Op: ir.OpLog, Args: []string{"$v"}},
	}
	_, out := run(t, prog)
	if out != "v" {
		t.Fatalf("output = %q", out)
	}
}
