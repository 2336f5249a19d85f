// Package vm is the stack machine that runs compiled procedures: the
// instruction set, closures with their frames and cells, and the
// interpreter loop.
package vm

import (
	"fmt"
	"reflect"
)

// Bytecode is one instruction word. The opcode lives in the low byte and
// the operand in the upper 24 bits. Two-operand forms split the operand in
// two 12 bit fields.
type Bytecode uint32

const (
	opcodeMask       Bytecode = 0xFF
	instructionShift          = 8
	operandMask      Bytecode = 0xFFF
	upperShift                = 20
	// MaxOperand is the largest single operand.
	MaxOperand = 1<<24 - 1
	// MaxShortOperand is the largest operand of a two-operand form.
	MaxShortOperand = 1<<12 - 1
)

// Opcodes for the VM.
const (
	OPNop Bytecode = iota
	OPConst
	OPInt
	OPTrue
	OPFalse
	OPNil
	OPDefault
	OPPop
	OPDup
	OPSwap
	OPGetArg
	OPSetArg
	OPGetLocal
	OPSetLocal
	OPClosureFrame
	OPFrameParent
	OPFrameCell
	OPCellGet
	OPCellSet
	OPNewFrame
	OPMakeClosure
	OPBinary
	OPUnary
	OPConvert
	OPTypeAssert
	OPTypeAs
	OPTypeIs
	OPTypeEqual
	OPIsNil
	OPBox
	OPUnwrap
	OPDeref
	OPStoreRef
	OPJump
	OPJumpIfFalse
	OPJumpIfTrue
	OPJumpIfNil
	OPJumpIfNotNil
	OPTableSwitch
	OPMapSwitch
	OPCallHost
	OPCallMethod
	OPInvoke
	OPTailInvoke
	OPDynamic
	OPReturn
	OPThrow
	OPLeave
	OPEndFinally
	OPEndFilter
	OPGetField
	OPSetField
	OPWithField
	OPIndex
	OPSetIndex
	OPWithIndex
	OPNew
	OPNewArray
	OPMakeSlice
	OPRuntimeVars
)

// string representation of the opcodes.
var opCodeDescription = [...]string{
	OPNop:          "Nop",          // |- OpCode -|
	OPConst:        "Const",        // |- OpCode -|- kIndex -|
	OPInt:          "Int",          // |- OpCode -|- kind -|- value -|
	OPTrue:         "True",         // |- OpCode -|
	OPFalse:        "False",        // |- OpCode -|
	OPNil:          "Nil",          // |- OpCode -|
	OPDefault:      "Default",      // |- OpCode -|- type kIndex -|
	OPPop:          "Pop",          // |- OpCode -|
	OPDup:          "Dup",          // |- OpCode -|
	OPSwap:         "Swap",         // |- OpCode -|
	OPGetArg:       "GetArg",       // |- OpCode -|- Arg Index -|
	OPSetArg:       "SetArg",       // |- OpCode -|- Arg Index -|
	OPGetLocal:     "GetLocal",     // |- OpCode -|- Local Index -|
	OPSetLocal:     "SetLocal",     // |- OpCode -|- Local Index -|
	OPClosureFrame: "ClosureFrame", // |- OpCode -|
	OPFrameParent:  "FrameParent",  // |- OpCode -|- Hops -|
	OPFrameCell:    "FrameCell",    // |- OpCode -|- Cell Index -|
	OPCellGet:      "CellGet",      // |- OpCode -|
	OPCellSet:      "CellSet",      // |- OpCode -|
	OPNewFrame:     "NewFrame",     // |- OpCode -|- Cell Count -|
	OPMakeClosure:  "MakeClosure",  // |- OpCode -|- kIndex -|
	OPBinary:       "Binary",       // |- OpCode -|- Operator -|
	OPUnary:        "Unary",        // |- OpCode -|- Operator -|
	OPConvert:      "Convert",      // |- OpCode -|- type kIndex -|
	OPTypeAssert:   "TypeAssert",   // |- OpCode -|- type kIndex -|
	OPTypeAs:       "TypeAs",       // |- OpCode -|- type kIndex -|
	OPTypeIs:       "TypeIs",       // |- OpCode -|- type kIndex -|
	OPTypeEqual:    "TypeEqual",    // |- OpCode -|- type kIndex -|
	OPIsNil:        "IsNil",        // |- OpCode -|
	OPBox:          "Box",          // |- OpCode -|- type kIndex -|
	OPUnwrap:       "Unwrap",       // |- OpCode -|
	OPDeref:        "Deref",        // |- OpCode -|
	OPStoreRef:     "StoreRef",     // |- OpCode -|
	OPJump:         "Jump",         // |- OpCode -|- Jump Address -|
	OPJumpIfFalse:  "JumpFalse",    // |- OpCode -|- Jump Address -|
	OPJumpIfTrue:   "JumpTrue",     // |- OpCode -|- Jump Address -|
	OPJumpIfNil:    "JumpNil",      // |- OpCode -|- Jump Address -|
	OPJumpIfNotNil: "JumpNotNil",   // |- OpCode -|- Jump Address -|
	OPTableSwitch:  "TableSwitch",  // |- OpCode -|- Table Index -|
	OPMapSwitch:    "MapSwitch",    // |- OpCode -|- Table Index -|
	OPCallHost:     "CallHost",     // |- OpCode -|- kIndex -|- ArgCount -|
	OPCallMethod:   "CallMethod",   // |- OpCode -|- kIndex -|- ArgCount -|
	OPInvoke:       "Invoke",       // |- OpCode -|- ArgCount -|
	OPTailInvoke:   "TailInvoke",   // |- OpCode -|- ArgCount -|
	OPDynamic:      "Dynamic",      // |- OpCode -|- kIndex -|- ArgCount -|
	OPReturn:       "Return",       // |- OpCode -|- Value Count -|
	OPThrow:        "Throw",        // |- OpCode -|
	OPLeave:        "Leave",        // |- OpCode -|- Jump Address -|
	OPEndFinally:   "EndFinally",   // |- OpCode -|
	OPEndFilter:    "EndFilter",    // |- OpCode -|
	OPGetField:     "GetField",     // |- OpCode -|- kIndex -|
	OPSetField:     "SetField",     // |- OpCode -|- kIndex -|
	OPWithField:    "WithField",    // |- OpCode -|- kIndex -|
	OPIndex:        "Index",        // |- OpCode -|
	OPSetIndex:     "SetIndex",     // |- OpCode -|
	OPWithIndex:    "WithIndex",    // |- OpCode -|
	OPNew:          "New",          // |- OpCode -|- type kIndex -|
	OPNewArray:     "NewArray",     // |- OpCode -|- type kIndex -|- Length -|
	OPMakeSlice:    "MakeSlice",    // |- OpCode -|- type kIndex -|
	OPRuntimeVars:  "RuntimeVars",  // |- OpCode -|- Cell Count -|
}

func (op Bytecode) String() string {
	if int(op) < len(opCodeDescription) {
		return opCodeDescription[op]
	}
	return fmt.Sprintf("Op(%d)", uint32(op))
}

// Opcode extracts the opcode of an instruction.
func (b Bytecode) Opcode() Bytecode { return b & opcodeMask }

// Operand extracts the 24 bit operand.
func (b Bytecode) Operand() int { return int(b >> instructionShift) }

// Operands extracts the two 12 bit operands.
func (b Bytecode) Operands() (int, int) {
	return int(b >> instructionShift & operandMask), int(b >> upperShift)
}

// Make encodes a one-operand instruction.
func Make(op Bytecode, operand int) Bytecode {
	if operand < 0 || operand > MaxOperand {
		panic(fmt.Sprintf("vm: operand %d out of range for %v", operand, op))
	}
	return op | Bytecode(operand)<<instructionShift
}

// Make2 encodes a two-operand instruction.
func Make2(op Bytecode, a, b int) Bytecode {
	if a < 0 || a > MaxShortOperand || b < 0 || b > MaxShortOperand {
		panic(fmt.Sprintf("vm: operands %d, %d out of range for %v", a, b, op))
	}
	return op | Bytecode(a)<<instructionShift | Bytecode(b)<<upperShift
}

// twoOperands lists the opcodes whose operand is split.
func twoOperands(op Bytecode) bool {
	switch op {
	case OPCallHost, OPCallMethod, OPDynamic, OPNewArray:
		return true
	}
	return false
}

// Small integer immediates: the low 4 bits of the OPInt operand select the
// integer type, the remaining 20 bits hold the value offset by
// -MinImmediate.
const (
	immKindBits = 4
	// MinImmediate and MaxImmediate bound the values OPInt can carry.
	MinImmediate = -(1 << 19)
	MaxImmediate = 1<<19 - 1
)

var immKinds = [...]reflect.Kind{
	reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
	reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
}

// MakeInt encodes an OPInt pushing v as a value of the predeclared integer
// type t. ok is false when t or v cannot be encoded.
func MakeInt(t reflect.Type, v int64) (Bytecode, bool) {
	if v < MinImmediate || v > MaxImmediate || t.PkgPath() != "" || t.Name() == "" {
		return 0, false
	}
	for i, k := range immKinds {
		if k == t.Kind() {
			if v < 0 && k >= reflect.Uint {
				return 0, false
			}
			return Make(OPInt, int(v-MinImmediate)<<immKindBits|i), true
		}
	}
	return 0, false
}

// immediate decodes the value of an OPInt operand.
func immediate(operand int) any {
	v := int64(operand>>immKindBits) + MinImmediate
	switch immKinds[operand&(1<<immKindBits-1)] {
	case reflect.Int:
		return int(v)
	case reflect.Int8:
		return int8(v)
	case reflect.Int16:
		return int16(v)
	case reflect.Int32:
		return int32(v)
	case reflect.Int64:
		return v
	case reflect.Uint:
		return uint(v)
	case reflect.Uint8:
		return uint8(v)
	case reflect.Uint16:
		return uint16(v)
	case reflect.Uint32:
		return uint32(v)
	case reflect.Uint64:
		return uint64(v)
	default:
		return uintptr(v)
	}
}
