package cvm

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/scrip-ledger/scrip/pkg/cvm/ir"
)

// builtin dispatches the utility opcodes. These never touch ledger state.
func (m *VM) builtin(ins *ir.Instruction) error {
	switch ins.Op {
	case ir.OpHash:
		v, err := m.arg(ins, 0)
		if err != nil {
			return err
		}
		sum := sha3.Sum256([]byte(stringify(v)))
		return m.bind(ins, hex.EncodeToString(sum[:]))

	case ir.OpRandom:
		lo, err := m.argInt(ins, 0)
		if err != nil {
			return err
		}
		hi, err := m.argInt(ins, 1)
		if err != nil {
			return err
		}
		if hi < lo {
			return m.fault(ins, fmt.Errorf("%w: empty range [%d, %d]", ErrBadArgument, lo, hi))
		}
		// Inclusive on both ends.
		return m.bind(ins, lo+m.rng.Int64N(hi-lo+1))

	case ir.OpLen:
		v, err := m.arg(ins, 0)
		if err != nil {
			return err
		}
		switch val := v.(type) {
		case string:
			return m.bind(ins, int64(len(val)))
		case []string:
			return m.bind(ins, int64(len(val)))
		case []any:
			return m.bind(ins, int64(len(val)))
		case map[string]any:
			return m.bind(ins, int64(len(val)))
		default:
			return m.fault(ins, fmt.Errorf("%w: len of unsized value", ErrBadArgument))
		}

	case ir.OpSlice:
		return m.sliceOp(ins)

	case ir.OpSplit:
		s, err := m.argStr(ins, 0)
		if err != nil {
			return err
		}
		sep, err := m.argStr(ins, 1)
		if err != nil {
			return err
		}
		if sep == "" {
			return m.fault(ins, fmt.Errorf("%w: empty separator", ErrBadArgument))
		}
		return m.bind(ins, strings.Split(s, sep))

	case ir.OpStr:
		v, err := m.arg(ins, 0)
		if err != nil {
			return err
		}
		switch v.(type) {
		case string, int64:
			return m.bind(ins, stringify(v))
		default:
			return m.fault(ins, fmt.Errorf("%w: str of non-scalar value", ErrBadArgument))
		}

	case ir.OpInt:
		v, err := m.arg(ins, 0)
		if err != nil {
			return err
		}
		switch val := v.(type) {
		case int64:
			return m.bind(ins, val)
		case string:
			n, perr := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
			if perr != nil {
				return m.fault(ins, fmt.Errorf("%w: %q is not an integer", ErrBadArgument, val))
			}
			return m.bind(ins, n)
		default:
			return m.fault(ins, fmt.Errorf("%w: int of non-scalar value", ErrBadArgument))
		}

	case ir.OpTime:
		return m.bind(ins, m.now().Unix())

	case ir.OpAttr:
		v, err := m.arg(ins, 0)
		if err != nil {
			return err
		}
		name, err := m.argStr(ins, 1)
		if err != nil {
			return err
		}
		return m.readMember(ins, v, name)

	case ir.OpIndex:
		v, err := m.arg(ins, 0)
		if err != nil {
			return err
		}
		key, err := m.arg(ins, 1)
		if err != nil {
			return err
		}
		switch idx := key.(type) {
		case int64:
			return m.indexSeq(ins, v, idx)
		case string:
			return m.readMember(ins, v, idx)
		default:
			return m.fault(ins, fmt.Errorf("%w: index key", ErrBadArgument))
		}
	}

	return m.fault(ins, ErrUnknownOpcode)
}

// readMember reads a named member of a host-produced attribute set. Only
// shapes returned by other opcodes are readable; dunder-style names are
// denied outright so contracts cannot probe host internals.
func (m *VM) readMember(ins *ir.Instruction, v any, name string) error {
	if strings.HasPrefix(name, "__") {
		return m.fault(ins, fmt.Errorf("%w: member %q", ErrBadArgument, name))
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return m.fault(ins, fmt.Errorf("%w: value has no members", ErrBadArgument))
	}
	member, ok := obj[name]
	if !ok {
		return m.fault(ins, fmt.Errorf("%w: unknown member %q", ErrBadArgument, name))
	}
	return m.bind(ins, member)
}

// indexSeq reads one element of a sequence value, supporting negative
// indices counted from the end.
func (m *VM) indexSeq(ins *ir.Instruction, v any, idx int64) error {
	var length int64
	switch val := v.(type) {
	case string:
		length = int64(len(val))
	case []string:
		length = int64(len(val))
	case []any:
		length = int64(len(val))
	default:
		return m.fault(ins, fmt.Errorf("%w: value is not indexable", ErrBadArgument))
	}
	if idx < 0 {
		idx += length
	}
	if idx < 0 || idx >= length {
		return m.fault(ins, fmt.Errorf("%w: index %d out of range", ErrBadArgument, idx))
	}
	switch val := v.(type) {
	case string:
		return m.bind(ins, string(val[idx]))
	case []string:
		return m.bind(ins, val[idx])
	case []any:
		return m.bind(ins, val[idx])
	}
	return nil
}

// sliceOp implements the slice opcode: value plus optional lower/upper/step
// operands (an empty-string operand marks an omitted bound).
func (m *VM) sliceOp(ins *ir.Instruction) error {
	v, err := m.arg(ins, 0)
	if err != nil {
		return err
	}

	lo, err := m.optInt(ins, 1)
	if err != nil {
		return err
	}
	hi, err := m.optInt(ins, 2)
	if err != nil {
		return err
	}
	step, err := m.optInt(ins, 3)
	if err != nil {
		return err
	}
	if step != nil && *step <= 0 {
		return m.fault(ins, fmt.Errorf("%w: slice step %d", ErrBadArgument, *step))
	}

	switch val := v.(type) {
	case string:
		start, end := sliceBounds(int64(len(val)), lo, hi)
		return m.bind(ins, applyStep(val, start, end, step))
	case []string:
		start, end := sliceBounds(int64(len(val)), lo, hi)
		if step == nil || *step == 1 {
			out := make([]string, end-start)
			copy(out, val[start:end])
			return m.bind(ins, out)
		}
		var out []string
		for i := start; i < end; i += *step {
			out = append(out, val[i])
		}
		return m.bind(ins, out)
	default:
		return m.fault(ins, fmt.Errorf("%w: value is not sliceable", ErrBadArgument))
	}
}

// optInt resolves an optional integer operand. Missing or empty operands
// return nil.
func (m *VM) optInt(ins *ir.Instruction, i int) (*int64, error) {
	if i >= len(ins.Args) || ins.Args[i] == "" {
		return nil, nil
	}
	n, err := m.argInt(ins, i)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// sliceBounds normalizes optional lower/upper bounds to [start, end] within
// the sequence, wrapping negatives from the end.
func sliceBounds(length int64, lo, hi *int64) (int64, int64) {
	start := int64(0)
	end := length
	if lo != nil {
		start = *lo
		if start < 0 {
			start += length
		}
	}
	if hi != nil {
		end = *hi
		if end < 0 {
			end += length
		}
	}
	if start < 0 {
		start = 0
	}
	if end < 0 {
		end = 0
	}
	if end > length {
		end = length
	}
	if start > end {
		start = end
	}
	return start, end
}

func applyStep(s string, start, end int64, step *int64) string {
	if step == nil || *step == 1 {
		return s[start:end]
	}
	var b strings.Builder
	for i := start; i < end; i += *step {
		b.WriteByte(s[i])
	}
	return b.String()
}
