package vm

import (
	"fmt"
	"io"
	"reflect"
)

// Disassemble writes a listing of the closure's function and of every
// function reachable through its constants.
func Disassemble(w io.Writer, c *Closure) {
	seen := make(map[*Function]bool)
	disassemble(w, c.Function, c.Constants, seen)
}

func disassemble(w io.Writer, fn *Function, consts []any, seen map[*Function]bool) {
	if seen[fn] {
		return
	}
	seen[fn] = true
	printInstructions(w, fn, consts)
	for i, k := range consts {
		if nested, ok := k.(*Function); ok && i+1 < len(consts) {
			nestedConsts, _ := consts[i+1].([]any)
			disassemble(w, nested, nestedConsts, seen)
		}
	}
}

func printInstructions(w io.Writer, fn *Function, consts []any) {
	fmt.Fprintf(w, "\n _____________________________________\n")
	fmt.Fprintf(w, "\n Function %v (args %v, locals %v)\n", fn.Name, fn.Arity, fn.LocalCount)
	fmt.Fprintf(w, "%4v %5v %17v %7v\n", "Idx", "Line", "Instr", "Args")
	fmt.Fprintf(w, " _____________________________________\n\n")
	for i, instr := range fn.Code {
		op := instr & opcodeMask
		line := fn.Lines[i]
		switch {
		case op == OPInt:
			fmt.Fprintf(w, "%4v %5v %17v %4v\n", i, line, op, immediate(instr.Operand()))
		case twoOperands(op):
			a, b := instr.Operands()
			fmt.Fprintf(w, "%4v %5v %17v %4v %4v%v\n", i, line, op, a, b, describe(consts, op, a))
		case hasOperand(op):
			fmt.Fprintf(w, "%4v %5v %17v %4v%v\n", i, line, op, instr.Operand(), describe(consts, op, instr.Operand()))
		default:
			fmt.Fprintf(w, "%4v %5v %17v\n", i, line, op)
		}
	}
	for _, h := range fn.Handlers {
		fmt.Fprintf(w, "  %v [%v, %v) -> [%v, %v)", h.Kind, h.TryStart, h.TryEnd, h.HandlerStart, h.HandlerEnd)
		if h.CatchType != nil {
			fmt.Fprintf(w, " %v", h.CatchType)
		}
		fmt.Fprintln(w)
	}
	for i, t := range fn.Tables {
		fmt.Fprintf(w, "  table %v: min %v targets %v default %v", i, t.Min, t.Targets, t.Default)
		if t.Keys != nil {
			fmt.Fprintf(w, " keys %v", len(t.Keys))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
}

func hasOperand(op Bytecode) bool {
	switch op {
	case OPConst, OPDefault, OPGetArg, OPSetArg, OPGetLocal, OPSetLocal,
		OPFrameParent, OPFrameCell, OPNewFrame, OPMakeClosure, OPBinary, OPUnary,
		OPConvert, OPTypeAssert, OPTypeAs, OPTypeIs, OPTypeEqual, OPBox,
		OPJump, OPJumpIfFalse, OPJumpIfTrue, OPJumpIfNil, OPJumpIfNotNil,
		OPTableSwitch, OPMapSwitch, OPInvoke, OPTailInvoke, OPReturn, OPLeave,
		OPGetField, OPSetField, OPWithField, OPNew, OPMakeSlice, OPRuntimeVars:
		return true
	}
	return false
}

// describe renders the constant an operand refers to.
func describe(consts []any, op Bytecode, k int) string {
	switch op {
	case OPBinary, OPUnary:
		return fmt.Sprintf(" (%v)", Operator(k))
	case OPConst, OPDefault, OPMakeClosure, OPConvert, OPTypeAssert, OPTypeAs,
		OPTypeIs, OPTypeEqual, OPBox, OPGetField, OPSetField, OPWithField,
		OPNew, OPMakeSlice, OPCallHost, OPCallMethod, OPDynamic, OPNewArray:
	default:
		return ""
	}
	if k >= len(consts) {
		return ""
	}
	switch v := consts[k].(type) {
	case *Function:
		return fmt.Sprintf(" (%v)", v.Name)
	case reflect.Type:
		return fmt.Sprintf(" (%v)", v)
	case *Field:
		return fmt.Sprintf(" (.%v)", v.Name)
	case *HostFunc:
		return fmt.Sprintf(" (%v)", v.Fn.Type())
	case *HostMethod:
		return fmt.Sprintf(" (.%v)", v.Name)
	case *DynamicSite:
		return fmt.Sprintf(" (dynamic .%v)", v.Member)
	case string:
		return fmt.Sprintf(" (%q)", v)
	}
	return fmt.Sprintf(" (%v)", consts[k])
}
