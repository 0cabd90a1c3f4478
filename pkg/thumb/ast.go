// Package thumb defines the Thumb target description used by the frame
// lowering passes: registers, opcodes, operands and instructions.
// Instructions are plain values; passes rewrite code by building
// replacement instructions rather than mutating operands in place.
package thumb

import (
	"fmt"
	"strings"
)

// Reg is a physical register
type Reg uint8

const (
	NoReg Reg = iota
	R0
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	SP
	LR
	PC
	D0
	D1
	D2
	D3
	D4
	D5
	D6
	D7
	D8
	D9
	D10
	D11
	D12
	D13
	D14
	D15
	numRegs
)

// Registers with a fixed role in the frame lowering code
const (
	FramePtr   = R7  // frame pointer on Thumb (Darwin and ELF)
	ScratchReg = R3  // address scratch for out of range spills
	IPReg      = R12 // intra-procedure scratch, holds R2/R3 while they are borrowed
)

var regNames = [numRegs]string{
	"noreg",
	"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
	"r8", "r9", "r10", "r11", "r12",
	"sp", "lr", "pc",
	"d0", "d1", "d2", "d3", "d4", "d5", "d6", "d7",
	"d8", "d9", "d10", "d11", "d12", "d13", "d14", "d15",
}

func (r Reg) String() string {
	if r < numRegs {
		return regNames[r]
	}
	return fmt.Sprintf("reg%d", uint8(r))
}

// IsLow reports whether r belongs to the restricted register subset (r0-r7).
// Most 16-bit encodings can only name these registers.
func IsLow(r Reg) bool {
	return r >= R0 && r <= R7
}

// IsGPR reports whether r is a 32-bit general purpose register
func IsGPR(r Reg) bool {
	return r >= R0 && r <= PC
}

// IsDPR reports whether r is a 64-bit floating point register
func IsDPR(r Reg) bool {
	return r >= D0 && r <= D15
}

// CalleeSavedRegs lists the registers a callee must preserve, in the order
// the spill code saves them.
var CalleeSavedRegs = []Reg{
	LR, R7, R6, R5, R4,
	R11, R10, R9, R8,
	D15, D14, D13, D12, D11, D10, D9, D8,
}

// IsCalleeSaved returns true if the register is in CalleeSavedRegs
func IsCalleeSaved(r Reg) bool {
	for _, cs := range CalleeSavedRegs {
		if cs == r {
			return true
		}
	}
	return false
}

// ParseReg looks up a register by its assembly name
func ParseReg(name string) (Reg, bool) {
	name = strings.ToLower(name)
	switch name {
	case "fp":
		return FramePtr, true
	case "ip":
		return IPReg, true
	}
	for i := R0; i < numRegs; i++ {
		if regNames[i] == name {
			return i, true
		}
	}
	return NoReg, false
}

// --- Operands ---

// OperandKind discriminates Operand
type OperandKind uint8

const (
	KindReg OperandKind = iota + 1
	KindImm
	KindFrameIndex // symbolic stack slot, resolved by frame index elimination
	KindCPI        // constant pool index
	KindSymbol
)

// Operand is a single instruction operand
type Operand struct {
	Kind OperandKind
	Reg  Reg    // KindReg
	Imm  int64  // KindImm value, or the index for KindFrameIndex / KindCPI
	Sym  string // KindSymbol
	Def  bool   // register is written
	Kill bool   // last use of the register value
}

// RegOp is a register use
func RegOp(r Reg) Operand {
	return Operand{Kind: KindReg, Reg: r}
}

// DefOp is a register definition
func DefOp(r Reg) Operand {
	return Operand{Kind: KindReg, Reg: r, Def: true}
}

// KillOp is the last use of a register
func KillOp(r Reg) Operand {
	return Operand{Kind: KindReg, Reg: r, Kill: true}
}

// UseOp is a register use that is killed only when kill is set
func UseOp(r Reg, kill bool) Operand {
	return Operand{Kind: KindReg, Reg: r, Kill: kill}
}

// ImmOp is an immediate
func ImmOp(v int64) Operand {
	return Operand{Kind: KindImm, Imm: v}
}

// FIOp references frame index fi
func FIOp(fi int) Operand {
	return Operand{Kind: KindFrameIndex, Imm: int64(fi)}
}

// CPIOp references constant pool entry idx
func CPIOp(idx int) Operand {
	return Operand{Kind: KindCPI, Imm: int64(idx)}
}

// SymOp references a global symbol
func SymOp(name string) Operand {
	return Operand{Kind: KindSymbol, Sym: name}
}

func (o Operand) IsReg() bool        { return o.Kind == KindReg }
func (o Operand) IsImm() bool        { return o.Kind == KindImm }
func (o Operand) IsFrameIndex() bool { return o.Kind == KindFrameIndex }

// Index returns the frame index or constant pool index of o
func (o Operand) Index() int {
	return int(o.Imm)
}

func (o Operand) String() string {
	switch o.Kind {
	case KindReg:
		s := o.Reg.String()
		switch {
		case o.Def && o.Kill:
			s += "<def><kill>"
		case o.Def:
			s += "<def>"
		case o.Kill:
			s += "<kill>"
		}
		return s
	case KindImm:
		return fmt.Sprintf("#%d", o.Imm)
	case KindFrameIndex:
		return fmt.Sprintf("fi#%d", o.Imm)
	case KindCPI:
		return fmt.Sprintf("cp#%d", o.Imm)
	case KindSymbol:
		return "@" + o.Sym
	default:
		return "<invalid>"
	}
}

// --- Instructions ---

// Loc is the source location tag carried by an instruction.
// The zero value means unknown.
type Loc struct {
	Line int
}

// Instr is one machine instruction
type Instr struct {
	Op  Opcode
	Ops []Operand
	Loc Loc
}

// New builds an instruction
func New(op Opcode, ops ...Operand) Instr {
	return Instr{Op: op, Ops: ops}
}

// At returns a copy of in tagged with loc
func (in Instr) At(loc Loc) Instr {
	in.Loc = loc
	return in
}

// Clone returns a copy that shares no operand storage with in
func (in Instr) Clone() Instr {
	ops := make([]Operand, len(in.Ops))
	copy(ops, in.Ops)
	in.Ops = ops
	return in
}

// Desc returns the static description of the opcode
func (in Instr) Desc() *Desc {
	return in.Op.Desc()
}

// FrameIndexOperand returns the position of the first frame index operand,
// or -1 when there is none.
func (in Instr) FrameIndexOperand() int {
	for i, op := range in.Ops {
		if op.IsFrameIndex() {
			return i
		}
	}
	return -1
}

// Reg returns the register of operand i, or NoReg
func (in Instr) Reg(i int) Reg {
	if i < len(in.Ops) && in.Ops[i].IsReg() {
		return in.Ops[i].Reg
	}
	return NoReg
}

// Imm returns the immediate of operand i
func (in Instr) Imm(i int) int64 {
	if i < len(in.Ops) && in.Ops[i].IsImm() {
		return in.Ops[i].Imm
	}
	return 0
}

func (in Instr) String() string {
	if len(in.Ops) == 0 {
		return in.Op.String()
	}
	parts := make([]string, len(in.Ops))
	for i, op := range in.Ops {
		parts[i] = op.String()
	}
	return in.Op.String() + " " + strings.Join(parts, ", ")
}
