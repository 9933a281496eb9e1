// Package ir defines the instruction list form contracts are compiled to and
// the VM executes.
//
// An instruction carries an opcode, zero or more raw arguments, an optional
// output variable, and, for block-forming opcodes, nested instruction lists
// (Then/Else for conditionals, Body for loops).
//
// Arguments are bare scalars with a prefix convention:
//   - "$name" is a variable reference, resolved at execution time
//   - a string of decimal digits (optionally "-"-signed) is an int literal
//   - anything else passes through as-is (string literals, opaque values)
package ir

import (
	"strconv"
	"strings"
)

// VarPrefix marks an argument as a variable reference.
const VarPrefix = "$"

// Reserved system variable names. They are seeded by the engine before
// execution and may never be written by a contract.
const (
	VarSender = "$sender" // account that triggered the invocation
	VarSelf   = "$self"   // account the contract belongs to
	VarInput  = "$input"  // invocation input payload
)

// Opcode identifies one VM operation. The set is closed: the VM faults on
// anything it does not know.
type Opcode string

// Arithmetic and comparison opcodes.
const (
	OpAdd Opcode = "add"
	OpSub Opcode = "sub"
	OpMul Opcode = "mul"
	OpDiv Opcode = "div"
	OpMod Opcode = "mod"
	OpEq  Opcode = "eq"
	OpNeq Opcode = "neq"
	OpLt  Opcode = "lt"
	OpGt  Opcode = "gt"
	OpLte Opcode = "lte"
	OpGte Opcode = "gte"
	OpMov Opcode = "mov"
)

// Flow and output opcodes.
const (
	OpIf     Opcode = "if"
	OpWhile  Opcode = "while"
	OpExit   Opcode = "exit"
	OpCancel Opcode = "cancel"
	OpLog    Opcode = "log"
)

// Ledger-facing opcodes.
const (
	OpTransfer     Opcode = "transfer"
	OpBalance      Opcode = "balance"
	OpStoreGet     Opcode = "store_get"
	OpStoreSet     Opcode = "store_set"
	OpApprove      Opcode = "approve"
	OpTransferFrom Opcode = "transfer_from"
	OpAllowance    Opcode = "allowance"
	OpCurrency     Opcode = "currency"
	OpTransaction  Opcode = "transaction"
	OpClaimCreate  Opcode = "claim_create"
	OpClaimPay     Opcode = "claim_pay"
	OpClaimCancel  Opcode = "claim_cancel"
	OpExecute      Opcode = "execute"
	OpSwap         Opcode = "swap"
	OpAddLiq       Opcode = "add_liquidity"
	OpRemoveLiq    Opcode = "remove_liquidity"
)

// Utility opcodes.
const (
	OpHash   Opcode = "hash"
	OpRandom Opcode = "random"
	OpLen    Opcode = "len"
	OpSlice  Opcode = "slice"
	OpSplit  Opcode = "split"
	OpStr    Opcode = "str"
	OpInt    Opcode = "int"
	OpTime   Opcode = "time"
	OpAttr   Opcode = "attr"
	OpIndex  Opcode = "index"
)

// Instruction is one IR operation, possibly carrying nested blocks.
type Instruction struct {
	Op   Opcode   `json:"op"`
	Args []string `json:"args,omitempty"`
	Out  string   `json:"out,omitempty"`

	Then []Instruction `json:"then,omitempty"`
	Else []Instruction `json:"else,omitempty"`
	Body []Instruction `json:"body,omitempty"`
}

// producesValue lists the opcodes allowed to bind an output variable.
var producesValue = map[Opcode]bool{
	OpAdd: true, OpSub: true, OpMul: true, OpDiv: true, OpMod: true,
	OpEq: true, OpNeq: true, OpLt: true, OpGt: true, OpLte: true, OpGte: true,
	OpMov: true,
	OpBalance: true, OpStoreGet: true, OpAllowance: true,
	OpCurrency: true, OpTransaction: true, OpClaimCreate: true,
	OpExecute: true, OpSwap: true, OpAddLiq: true, OpRemoveLiq: true,
	OpHash: true, OpRandom: true, OpLen: true, OpSlice: true, OpSplit: true,
	OpStr: true, OpInt: true, OpTime: true, OpAttr: true, OpIndex: true,
}

// ProducesValue reports whether op may bind an output variable.
func ProducesValue(op Opcode) bool {
	return producesValue[op]
}

// IsVarRef reports whether a raw argument is a variable reference.
func IsVarRef(arg string) bool {
	return strings.HasPrefix(arg, VarPrefix)
}

// VarRef builds a variable-reference argument from a bare name.
func VarRef(name string) string {
	return VarPrefix + name
}

// IntLit reports whether a raw argument is an integer literal, and its value.
func IntLit(arg string) (int64, bool) {
	if arg == "" || IsVarRef(arg) {
		return 0, false
	}
	s := arg
	if s[0] == '-' {
		if len(s) == 1 {
			return 0, false
		}
		s = s[1:]
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// FormatInt renders an integer as a literal argument.
func FormatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}

// Count returns the total number of instructions including nested blocks.
func Count(instrs []Instruction) int {
	n := 0
	for i := range instrs {
		n++
		n += Count(instrs[i].Then)
		n += Count(instrs[i].Else)
		n += Count(instrs[i].Body)
	}
	return n
}
