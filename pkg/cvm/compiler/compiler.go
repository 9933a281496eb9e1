// Package compiler translates restricted Go-syntax contract source into the
// IR instruction list executed by the VM.
//
// A contract is a Go file (the package clause may be omitted) whose entry
// block is func main(). Only a small statement and expression subset is
// accepted: single-target assignment, if/else, condition-only for loops,
// integer/string literals, binary arithmetic and comparisons, short-circuit
// && and ||, call syntax for VM opcodes, storage[...] reads and writes, and
// attribute/index/slice reads. Anything else fails compilation; no partial
// IR is ever produced.
package compiler

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"github.com/scrip-ledger/scrip/pkg/cvm/ir"
)

// Compilation faults.
var (
	ErrNoEntry       = errors.New("no func main entry block")
	ErrUnsupported   = errors.New("unsupported construct")
	ErrBadAssignment = errors.New("bad assignment")
	ErrReservedName  = errors.New("reserved name")
	ErrNoValue       = errors.New("call does not produce a value")
	ErrBadLiteral    = errors.New("string literal may not begin with $")
)

// storageName is the reserved mapping identifier lowered to store_get and
// store_set instructions.
const storageName = "storage"

// reserved maps the three reserved source names onto their fixed internal
// system variables.
var reserved = map[string]string{
	"sender": ir.VarSender,
	"self":   ir.VarSelf,
	"input":  ir.VarInput,
}

// renames maps generic built-in call names onto their opcodes.
var renames = map[string]ir.Opcode{
	"print": ir.OpLog,
	"rand":  ir.OpRandom,
	"now":   ir.OpTime,
}

// Compile translates contract source into IR.
func Compile(src string) ([]ir.Instruction, error) {
	text := src
	if !strings.HasPrefix(strings.TrimSpace(src), "package") {
		text = "package contract\n\n" + src
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "contract.go", text, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	var entry *ast.FuncDecl
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok {
			return nil, fmt.Errorf("%w: only func main is allowed at top level", ErrUnsupported)
		}
		if fn.Name.Name != "main" {
			return nil, fmt.Errorf("%w: func %s", ErrUnsupported, fn.Name.Name)
		}
		if fn.Type.Params.NumFields() != 0 || fn.Type.Results.NumFields() != 0 {
			return nil, fmt.Errorf("%w: func main takes no arguments and returns nothing", ErrUnsupported)
		}
		entry = fn
	}
	if entry == nil || entry.Body == nil {
		return nil, ErrNoEntry
	}

	c := &compiler{fset: fset}
	return c.stmts(entry.Body.List)
}

// compiler holds per-compilation state.
type compiler struct {
	fset *token.FileSet
	ntmp int
}

// temp mints a fresh temporary variable reference.
func (c *compiler) temp() string {
	c.ntmp++
	return ir.VarRef(fmt.Sprintf("t%d", c.ntmp))
}

// errAt annotates an error with the source position of a node.
func (c *compiler) errAt(node ast.Node, err error) error {
	pos := c.fset.Position(node.Pos())
	return fmt.Errorf("%d:%d: %w", pos.Line, pos.Column, err)
}

// stmts lowers a statement list into an instruction block.
func (c *compiler) stmts(list []ast.Stmt) ([]ir.Instruction, error) {
	var code []ir.Instruction
	for _, stmt := range list {
		if err := c.stmt(&code, stmt); err != nil {
			return nil, err
		}
	}
	return code, nil
}

// stmt lowers one statement, appending instructions to code.
func (c *compiler) stmt(code *[]ir.Instruction, stmt ast.Stmt) error {
	switch s := stmt.(type) {
	case *ast.AssignStmt:
		return c.assign(code, s)

	case *ast.ExprStmt:
		call, ok := s.X.(*ast.CallExpr)
		if !ok {
			return c.errAt(s, fmt.Errorf("%w: expression statement must be a call", ErrUnsupported))
		}
		_, err := c.call(code, call, "", false)
		return err

	case *ast.IfStmt:
		return c.ifStmt(code, s)

	case *ast.ForStmt:
		return c.forStmt(code, s)

	case *ast.ReturnStmt:
		if len(s.Results) != 0 {
			return c.errAt(s, fmt.Errorf("%w: return carries no value", ErrUnsupported))
		}
		*code = append(*code, ir.Instruction{Op: ir.OpExit})
		return nil

	case *ast.BlockStmt:
		inner, err := c.stmts(s.List)
		if err != nil {
			return err
		}
		*code = append(*code, inner...)
		return nil

	default:
		return c.errAt(stmt, fmt.Errorf("%w: %T statement", ErrUnsupported, stmt))
	}
}

// assign lowers single-target assignment: either a plain variable or a
// storage subscript. The right-hand side evaluates into the target directly
// when it is an operation; a copy is emitted only when the evaluated result
// is not already bound to the target.
func (c *compiler) assign(code *[]ir.Instruction, s *ast.AssignStmt) error {
	if len(s.Lhs) != 1 || len(s.Rhs) != 1 {
		return c.errAt(s, fmt.Errorf("%w: exactly one assignment target", ErrBadAssignment))
	}
	if s.Tok != token.ASSIGN && s.Tok != token.DEFINE {
		return c.errAt(s, fmt.Errorf("%w: %s", ErrUnsupported, s.Tok))
	}

	switch lhs := s.Lhs[0].(type) {
	case *ast.Ident:
		if _, ok := reserved[lhs.Name]; ok {
			return c.errAt(lhs, fmt.Errorf("%w: %s may not be reassigned", ErrReservedName, lhs.Name))
		}
		if lhs.Name == storageName {
			return c.errAt(lhs, fmt.Errorf("%w: storage may only be subscripted", ErrBadAssignment))
		}
		target := ir.VarRef(lhs.Name)
		arg, err := c.expr(code, s.Rhs[0], target)
		if err != nil {
			return err
		}
		if arg != target {
			*code = append(*code, ir.Instruction{Op: ir.OpMov, Args: []string{arg}, Out: target})
		}
		return nil

	case *ast.IndexExpr:
		base, ok := lhs.X.(*ast.Ident)
		if !ok || base.Name != storageName {
			return c.errAt(lhs, fmt.Errorf("%w: target must be a variable or storage subscript", ErrBadAssignment))
		}
		key, err := c.expr(code, lhs.Index, "")
		if err != nil {
			return err
		}
		val, err := c.expr(code, s.Rhs[0], "")
		if err != nil {
			return err
		}
		*code = append(*code, ir.Instruction{Op: ir.OpStoreSet, Args: []string{key, val}})
		return nil

	default:
		return c.errAt(s, fmt.Errorf("%w: target must be a variable or storage subscript", ErrBadAssignment))
	}
}

// ifStmt lowers if/else into a nested block instruction.
func (c *compiler) ifStmt(code *[]ir.Instruction, s *ast.IfStmt) error {
	if s.Init != nil {
		return c.errAt(s, fmt.Errorf("%w: if with init statement", ErrUnsupported))
	}
	cond, err := c.expr(code, s.Cond, "")
	if err != nil {
		return err
	}
	then, err := c.stmts(s.Body.List)
	if err != nil {
		return err
	}
	var elseCode []ir.Instruction
	switch e := s.Else.(type) {
	case nil:
	case *ast.BlockStmt:
		elseCode, err = c.stmts(e.List)
		if err != nil {
			return err
		}
	case *ast.IfStmt:
		if err := c.ifStmt(&elseCode, e); err != nil {
			return err
		}
	default:
		return c.errAt(s.Else, fmt.Errorf("%w: %T else branch", ErrUnsupported, s.Else))
	}
	*code = append(*code, ir.Instruction{Op: ir.OpIf, Args: []string{cond}, Then: then, Else: elseCode})
	return nil
}

// forStmt lowers a condition-only for loop. The condition is lowered once
// before the loop, and its evaluation instructions are appended to the loop
// body so each pass refreshes the condition operand without re-running the
// guard from outside.
func (c *compiler) forStmt(code *[]ir.Instruction, s *ast.ForStmt) error {
	if s.Init != nil || s.Post != nil {
		return c.errAt(s, fmt.Errorf("%w: for with init or post statement", ErrUnsupported))
	}

	condArg := "1"
	var condCode []ir.Instruction
	if s.Cond != nil {
		var err error
		condArg, err = c.expr(&condCode, s.Cond, "")
		if err != nil {
			return err
		}
	}

	body, err := c.stmts(s.Body.List)
	if err != nil {
		return err
	}
	body = append(body, condCode...)

	*code = append(*code, condCode...)
	*code = append(*code, ir.Instruction{Op: ir.OpWhile, Args: []string{condArg}, Body: body})
	return nil
}

// expr lowers an expression and returns the raw argument holding its value.
// When dst is non-empty, operation results are written there directly.
func (c *compiler) expr(code *[]ir.Instruction, e ast.Expr, dst string) (string, error) {
	switch x := e.(type) {
	case *ast.BasicLit:
		return c.literal(x)

	case *ast.Ident:
		return c.ident(x)

	case *ast.ParenExpr:
		return c.expr(code, x.X, dst)

	case *ast.UnaryExpr:
		return c.unary(code, x, dst)

	case *ast.BinaryExpr:
		return c.binary(code, x, dst)

	case *ast.CallExpr:
		return c.call(code, x, dst, true)

	case *ast.SelectorExpr:
		obj, err := c.expr(code, x.X, "")
		if err != nil {
			return "", err
		}
		out := c.out(dst)
		*code = append(*code, ir.Instruction{Op: ir.OpAttr, Args: []string{obj, x.Sel.Name}, Out: out})
		return out, nil

	case *ast.IndexExpr:
		if base, ok := x.X.(*ast.Ident); ok && base.Name == storageName {
			key, err := c.expr(code, x.Index, "")
			if err != nil {
				return "", err
			}
			out := c.out(dst)
			*code = append(*code, ir.Instruction{Op: ir.OpStoreGet, Args: []string{key}, Out: out})
			return out, nil
		}
		obj, err := c.expr(code, x.X, "")
		if err != nil {
			return "", err
		}
		key, err := c.expr(code, x.Index, "")
		if err != nil {
			return "", err
		}
		out := c.out(dst)
		*code = append(*code, ir.Instruction{Op: ir.OpIndex, Args: []string{obj, key}, Out: out})
		return out, nil

	case *ast.SliceExpr:
		return c.sliceExpr(code, x, dst)

	default:
		return "", c.errAt(e, fmt.Errorf("%w: %T expression", ErrUnsupported, e))
	}
}

// literal lowers an int or string literal to its raw argument form.
func (c *compiler) literal(x *ast.BasicLit) (string, error) {
	switch x.Kind {
	case token.INT:
		n, err := strconv.ParseInt(x.Value, 0, 64)
		if err != nil {
			return "", c.errAt(x, fmt.Errorf("%w: integer literal %s", ErrUnsupported, x.Value))
		}
		return ir.FormatInt(n), nil
	case token.STRING:
		s, err := strconv.Unquote(x.Value)
		if err != nil {
			return "", c.errAt(x, fmt.Errorf("%w: string literal %s", ErrUnsupported, x.Value))
		}
		// A leading $ would be re-read as a variable reference at runtime.
		if strings.HasPrefix(s, ir.VarPrefix) {
			return "", c.errAt(x, fmt.Errorf("%w: %q", ErrBadLiteral, s))
		}
		return s, nil
	default:
		return "", c.errAt(x, fmt.Errorf("%w: %s literal", ErrUnsupported, x.Kind))
	}
}

// ident lowers an identifier: booleans coerce to 0/1, reserved names rewrite
// to their internal system variables, everything else is a variable ref.
func (c *compiler) ident(x *ast.Ident) (string, error) {
	switch x.Name {
	case "true":
		return "1", nil
	case "false":
		return "0", nil
	case storageName:
		return "", c.errAt(x, fmt.Errorf("%w: storage may only be subscripted", ErrUnsupported))
	}
	if internal, ok := reserved[x.Name]; ok {
		return internal, nil
	}
	return ir.VarRef(x.Name), nil
}

// unary lowers -x and !x. A negated int literal folds in place.
func (c *compiler) unary(code *[]ir.Instruction, x *ast.UnaryExpr, dst string) (string, error) {
	switch x.Op {
	case token.SUB:
		if lit, ok := x.X.(*ast.BasicLit); ok && lit.Kind == token.INT {
			arg, err := c.literal(lit)
			if err != nil {
				return "", err
			}
			return "-" + arg, nil
		}
		arg, err := c.expr(code, x.X, "")
		if err != nil {
			return "", err
		}
		out := c.out(dst)
		*code = append(*code, ir.Instruction{Op: ir.OpSub, Args: []string{"0", arg}, Out: out})
		return out, nil

	case token.NOT:
		arg, err := c.expr(code, x.X, "")
		if err != nil {
			return "", err
		}
		out := c.out(dst)
		*code = append(*code, ir.Instruction{Op: ir.OpEq, Args: []string{arg, "0"}, Out: out})
		return out, nil

	default:
		return "", c.errAt(x, fmt.Errorf("%w: unary %s", ErrUnsupported, x.Op))
	}
}

// binaryOps maps source operators to opcodes.
var binaryOps = map[token.Token]ir.Opcode{
	token.ADD: ir.OpAdd,
	token.SUB: ir.OpSub,
	token.MUL: ir.OpMul,
	token.QUO: ir.OpDiv,
	token.REM: ir.OpMod,
	token.EQL: ir.OpEq,
	token.NEQ: ir.OpNeq,
	token.LSS: ir.OpLt,
	token.GTR: ir.OpGt,
	token.LEQ: ir.OpLte,
	token.GEQ: ir.OpGte,
}

// binary lowers arithmetic, comparisons, and short-circuit boolean chains.
func (c *compiler) binary(code *[]ir.Instruction, x *ast.BinaryExpr, dst string) (string, error) {
	switch x.Op {
	case token.LAND, token.LOR:
		return c.boolChain(code, x, dst)
	}

	op, ok := binaryOps[x.Op]
	if !ok {
		return "", c.errAt(x, fmt.Errorf("%w: operator %s", ErrUnsupported, x.Op))
	}
	left, err := c.expr(code, x.X, "")
	if err != nil {
		return "", err
	}
	right, err := c.expr(code, x.Y, "")
	if err != nil {
		return "", err
	}
	out := c.out(dst)
	*code = append(*code, ir.Instruction{Op: op, Args: []string{left, right}, Out: out})
	return out, nil
}

// boolChain lowers && and || to nested conditionals writing one shared
// accumulator, preserving left-to-right short-circuit order and side effects:
// for &&, the right side only evaluates under a truthy guard; for ||, only
// under a falsy guard.
func (c *compiler) boolChain(code *[]ir.Instruction, x *ast.BinaryExpr, dst string) (string, error) {
	acc := dst
	if acc == "" {
		acc = c.temp()
	}
	if err := c.exprInto(code, x.X, acc); err != nil {
		return "", err
	}

	var rest []ir.Instruction
	if err := c.exprInto(&rest, x.Y, acc); err != nil {
		return "", err
	}

	guard := ir.Instruction{Op: ir.OpIf, Args: []string{acc}}
	if x.Op == token.LAND {
		guard.Then = rest
	} else {
		guard.Else = rest
	}
	*code = append(*code, guard)
	return acc, nil
}

// exprInto evaluates an expression and guarantees the result lands in target.
func (c *compiler) exprInto(code *[]ir.Instruction, e ast.Expr, target string) error {
	arg, err := c.expr(code, e, target)
	if err != nil {
		return err
	}
	if arg != target {
		*code = append(*code, ir.Instruction{Op: ir.OpMov, Args: []string{arg}, Out: target})
	}
	return nil
}

// call lowers function-call syntax to an instruction whose opcode is the
// function name, applying the built-in rename table. Only opcodes on the
// value allow-list may be used where a value is needed.
func (c *compiler) call(code *[]ir.Instruction, x *ast.CallExpr, dst string, wantValue bool) (string, error) {
	fn, ok := x.Fun.(*ast.Ident)
	if !ok {
		return "", c.errAt(x, fmt.Errorf("%w: computed call target", ErrUnsupported))
	}
	op, ok := renames[fn.Name]
	if !ok {
		op = ir.Opcode(fn.Name)
	}

	args := make([]string, 0, len(x.Args))
	for _, a := range x.Args {
		arg, err := c.expr(code, a, "")
		if err != nil {
			return "", err
		}
		args = append(args, arg)
	}

	ins := ir.Instruction{Op: op, Args: args}
	out := ""
	if wantValue {
		if !ir.ProducesValue(op) {
			return "", c.errAt(x, fmt.Errorf("%w: %s", ErrNoValue, op))
		}
		out = c.out(dst)
		ins.Out = out
	}
	*code = append(*code, ins)
	return out, nil
}

// sliceExpr lowers s[lo:hi] to the slice instruction; omitted bounds are
// carried as empty operands.
func (c *compiler) sliceExpr(code *[]ir.Instruction, x *ast.SliceExpr, dst string) (string, error) {
	if x.Slice3 {
		return "", c.errAt(x, fmt.Errorf("%w: full slice expression", ErrUnsupported))
	}
	obj, err := c.expr(code, x.X, "")
	if err != nil {
		return "", err
	}
	lo := ""
	if x.Low != nil {
		if lo, err = c.expr(code, x.Low, ""); err != nil {
			return "", err
		}
	}
	hi := ""
	if x.High != nil {
		if hi, err = c.expr(code, x.High, ""); err != nil {
			return "", err
		}
	}
	out := c.out(dst)
	*code = append(*code, ir.Instruction{Op: ir.OpSlice, Args: []string{obj, lo, hi}, Out: out})
	return out, nil
}

// out picks the destination: the caller-supplied target or a fresh temporary.
func (c *compiler) out(dst string) string {
	if dst != "" {
		return dst
	}
	return c.temp()
}
