package thumb

import "fmt"

// Opcode identifies an instruction form
type Opcode uint8

const (
	InvalidOp Opcode = iota

	// Stack pointer arithmetic
	TADDspi  // sp = sp + imm7*4
	TSUBspi  // sp = sp - imm7*4
	TADDrSPi // rd = sp + imm8*4 (or a frame index before elimination)

	// Immediate arithmetic
	TADDi3 // rd = rn + imm3
	TSUBi3 // rd = rn - imm3
	TADDi8 // rd = rd + imm8
	TSUBi8 // rd = rd - imm8
	TMOVi8 // rd = imm8
	TNEG   // rd = -rm

	// Register arithmetic
	TADDrr   // rd = rn + rm, low registers
	TSUBrr   // rd = rn - rm, low registers
	TADDhirr // rd = rd + rm, any registers

	// Moves
	TMOVr       // low to low
	TMOVlor2hir // low to high
	TMOVhir2lor // high to low
	TMOVhir2hir // high to high

	// Memory
	TLDRcp   // rd = constpool[idx]
	TLDRspi  // rt = [sp + imm8*4]
	TSTRspi  // [sp + imm8*4] = rt
	TSpill   // spill form of TSTRspi
	TRestore // restore form of TLDRspi
	TLDR     // rt = [rn + rm + imm5*4]
	TSTR     // [rn + rm + imm5*4] = rt
	TLDRBi   // rt = byte [rn + imm5]

	// Stack and control flow
	TPUSH
	TPOP
	TPOP_RET
	TBX_RET
	TBX_RET_vararg
	TBL

	// Call frame pseudo instructions
	ADJCALLSTACKDOWN
	ADJCALLSTACKUP

	numOpcodes
)

// AddrMode is the addressing mode family of a memory instruction
type AddrMode uint8

const (
	AddrModeNone AddrMode = iota
	AddrModeT1_s          // sp relative word access: imm8*4 off sp, imm5*4 off other bases
	AddrModeT1_1          // byte access: imm5
)

func (m AddrMode) String() string {
	switch m {
	case AddrModeNone:
		return "none"
	case AddrModeT1_s:
		return "T1_s"
	case AddrModeT1_1:
		return "T1_1"
	default:
		return fmt.Sprintf("addrmode(%d)", uint8(m))
	}
}

// Desc is the static description of an opcode
type Desc struct {
	Name     string
	AddrMode AddrMode
	MayLoad  bool
	MayStore bool
	Pseudo   bool

	// Immediate field: operand position, width in bits and scale.
	// ImmIdx is -1 when the form carries no immediate.
	ImmIdx   int
	ImmBits  uint
	ImmScale int64

	Tied   bool // operand 1 must name the same register as operand 0
	SPBase bool // operand 1 must be sp
	IsRet  bool
}

// MaxImm is the largest encodable field value
func (d *Desc) MaxImm() int64 {
	if d.ImmBits == 0 {
		return 0
	}
	return int64(1)<<d.ImmBits - 1
}

var descs = [numOpcodes]Desc{
	InvalidOp: {Name: "<invalid>", ImmIdx: -1},

	TADDspi:  {Name: "tADDspi", ImmIdx: 2, ImmBits: 7, ImmScale: 4, Tied: true, SPBase: true},
	TSUBspi:  {Name: "tSUBspi", ImmIdx: 2, ImmBits: 7, ImmScale: 4, Tied: true, SPBase: true},
	TADDrSPi: {Name: "tADDrSPi", ImmIdx: 2, ImmBits: 8, ImmScale: 4, SPBase: true},

	TADDi3: {Name: "tADDi3", ImmIdx: 2, ImmBits: 3, ImmScale: 1},
	TSUBi3: {Name: "tSUBi3", ImmIdx: 2, ImmBits: 3, ImmScale: 1},
	TADDi8: {Name: "tADDi8", ImmIdx: 2, ImmBits: 8, ImmScale: 1, Tied: true},
	TSUBi8: {Name: "tSUBi8", ImmIdx: 2, ImmBits: 8, ImmScale: 1, Tied: true},
	TMOVi8: {Name: "tMOVi8", ImmIdx: 1, ImmBits: 8, ImmScale: 1},
	TNEG:   {Name: "tNEG", ImmIdx: -1},

	TADDrr:   {Name: "tADDrr", ImmIdx: -1},
	TSUBrr:   {Name: "tSUBrr", ImmIdx: -1},
	TADDhirr: {Name: "tADDhirr", ImmIdx: -1, Tied: true},

	TMOVr:       {Name: "tMOVr", ImmIdx: -1},
	TMOVlor2hir: {Name: "tMOVlor2hir", ImmIdx: -1},
	TMOVhir2lor: {Name: "tMOVhir2lor", ImmIdx: -1},
	TMOVhir2hir: {Name: "tMOVhir2hir", ImmIdx: -1},

	TLDRcp:   {Name: "tLDRcp", ImmIdx: -1, MayLoad: true},
	TLDRspi:  {Name: "tLDRspi", AddrMode: AddrModeT1_s, MayLoad: true, ImmIdx: 2, ImmBits: 8, ImmScale: 4},
	TSTRspi:  {Name: "tSTRspi", AddrMode: AddrModeT1_s, MayStore: true, ImmIdx: 2, ImmBits: 8, ImmScale: 4},
	TSpill:   {Name: "tSpill", AddrMode: AddrModeT1_s, MayStore: true, ImmIdx: 2, ImmBits: 8, ImmScale: 4},
	TRestore: {Name: "tRestore", AddrMode: AddrModeT1_s, MayLoad: true, ImmIdx: 2, ImmBits: 8, ImmScale: 4},
	TLDR:     {Name: "tLDR", MayLoad: true, ImmIdx: 2, ImmBits: 5, ImmScale: 4},
	TSTR:     {Name: "tSTR", MayStore: true, ImmIdx: 2, ImmBits: 5, ImmScale: 4},
	TLDRBi:   {Name: "tLDRBi", AddrMode: AddrModeT1_1, MayLoad: true, ImmIdx: 2, ImmBits: 5, ImmScale: 1},

	TPUSH:          {Name: "tPUSH", ImmIdx: -1, MayStore: true},
	TPOP:           {Name: "tPOP", ImmIdx: -1, MayLoad: true},
	TPOP_RET:       {Name: "tPOP_RET", ImmIdx: -1, MayLoad: true, IsRet: true},
	TBX_RET:        {Name: "tBX_RET", ImmIdx: -1, IsRet: true},
	TBX_RET_vararg: {Name: "tBX_RET_vararg", ImmIdx: -1, IsRet: true},
	TBL:            {Name: "tBL", ImmIdx: -1},

	ADJCALLSTACKDOWN: {Name: "ADJCALLSTACKDOWN", ImmIdx: 0, Pseudo: true},
	ADJCALLSTACKUP:   {Name: "ADJCALLSTACKUP", ImmIdx: 0, Pseudo: true},
}

var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, numOpcodes)
	for op := Opcode(1); op < numOpcodes; op++ {
		m[descs[op].Name] = op
	}
	return m
}()

// Desc returns the static description of op
func (op Opcode) Desc() *Desc {
	if op >= numOpcodes {
		return &descs[InvalidOp]
	}
	return &descs[op]
}

func (op Opcode) String() string {
	if op >= numOpcodes {
		return fmt.Sprintf("opcode(%d)", uint8(op))
	}
	return descs[op].Name
}

// LookupOpcode finds an opcode by name
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// IsCallFramePseudo reports whether op is a call frame setup or destroy marker
func IsCallFramePseudo(op Opcode) bool {
	return op == ADJCALLSTACKDOWN || op == ADJCALLSTACKUP
}

// MoveOpcode picks the register to register move form for dst = src
func MoveOpcode(dst, src Reg) Opcode {
	switch {
	case IsLow(dst) && IsLow(src):
		return TMOVr
	case IsLow(src):
		return TMOVlor2hir
	case IsLow(dst):
		return TMOVhir2lor
	default:
		return TMOVhir2hir
	}
}
