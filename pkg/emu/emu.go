// Package emu executes straight-line Thumb code produced by frame lowering.
// It models 32-bit registers, a sparse word memory and the function
// constant pool, which is enough to check that emitted sequences compute
// what they claim. Branches and calls are not executed.
package emu

import (
	"errors"
	"fmt"
	"slices"

	"github.com/raymyers/ralph-frame/pkg/mach"
	"github.com/raymyers/ralph-frame/pkg/thumb"
)

var (
	ErrUnsupported = errors.New("emu: unsupported instruction")
	ErrUnaligned   = errors.New("emu: unaligned word access")
	ErrBadPool     = errors.New("emu: bad constant pool index")
)

// Emulator is the machine state
type Emulator struct {
	Regs     [64]uint32
	Mem      map[uint32]uint32
	Pool     *mach.ConstantPool
	Returned bool // a return instruction was executed
	Steps    int
}

// New creates an emulator reading constants from pool
func New(pool *mach.ConstantPool) *Emulator {
	return &Emulator{
		Mem:  make(map[uint32]uint32),
		Pool: pool,
	}
}

func (e *Emulator) Reg(r thumb.Reg) uint32       { return e.Regs[r] }
func (e *Emulator) SetReg(r thumb.Reg, v uint32) { e.Regs[r] = v }

// Load reads the word at addr; unwritten memory reads as zero
func (e *Emulator) Load(addr uint32) (uint32, error) {
	if addr&3 != 0 {
		return 0, fmt.Errorf("%w: load at %#x", ErrUnaligned, addr)
	}
	return e.Mem[addr], nil
}

// Store writes the word at addr
func (e *Emulator) Store(addr, v uint32) error {
	if addr&3 != 0 {
		return fmt.Errorf("%w: store at %#x", ErrUnaligned, addr)
	}
	e.Mem[addr] = v
	return nil
}

// Run executes code in order and stops after a return
func (e *Emulator) Run(code []thumb.Instr) error {
	for _, in := range code {
		if err := e.Step(in); err != nil {
			return err
		}
		if e.Returned {
			break
		}
	}
	return nil
}

var dispatchTab = [...]func(e *Emulator, in thumb.Instr) error{
	thumb.TADDspi:        (*Emulator).emuSPImm,
	thumb.TSUBspi:        (*Emulator).emuSPImm,
	thumb.TADDrSPi:       (*Emulator).emuAddImm,
	thumb.TADDi3:         (*Emulator).emuAddImm,
	thumb.TSUBi3:         (*Emulator).emuSubImm,
	thumb.TADDi8:         (*Emulator).emuAddImm,
	thumb.TSUBi8:         (*Emulator).emuSubImm,
	thumb.TMOVi8:         (*Emulator).emuMovImm,
	thumb.TNEG:           (*Emulator).emuNeg,
	thumb.TADDrr:         (*Emulator).emuAddRR,
	thumb.TSUBrr:         (*Emulator).emuSubRR,
	thumb.TADDhirr:       (*Emulator).emuAddRR,
	thumb.TMOVr:          (*Emulator).emuMov,
	thumb.TMOVlor2hir:    (*Emulator).emuMov,
	thumb.TMOVhir2lor:    (*Emulator).emuMov,
	thumb.TMOVhir2hir:    (*Emulator).emuMov,
	thumb.TLDRcp:         (*Emulator).emuLoadPool,
	thumb.TLDRspi:        (*Emulator).emuLoad,
	thumb.TRestore:       (*Emulator).emuLoad,
	thumb.TLDR:           (*Emulator).emuLoad,
	thumb.TSTRspi:        (*Emulator).emuStore,
	thumb.TSpill:         (*Emulator).emuStore,
	thumb.TSTR:           (*Emulator).emuStore,
	thumb.TPUSH:          (*Emulator).emuPush,
	thumb.TPOP:           (*Emulator).emuPop,
	thumb.TPOP_RET:       (*Emulator).emuPop,
	thumb.TBX_RET:        (*Emulator).emuRet,
	thumb.TBX_RET_vararg: (*Emulator).emuRet,
	thumb.TBL:            (*Emulator).emuNop,
}

// Step executes one instruction
func (e *Emulator) Step(in thumb.Instr) error {
	if in.FrameIndexOperand() >= 0 {
		return fmt.Errorf("%w: unresolved frame index in %s", ErrUnsupported, in)
	}
	if int(in.Op) >= len(dispatchTab) || dispatchTab[in.Op] == nil {
		return fmt.Errorf("%w: %s", ErrUnsupported, in)
	}
	e.Steps++
	return dispatchTab[in.Op](e, in)
}

// operand reads register or immediate operand i
func (e *Emulator) operand(in thumb.Instr, i int) uint32 {
	if i >= len(in.Ops) {
		return 0
	}
	op := in.Ops[i]
	switch op.Kind {
	case thumb.KindReg:
		return e.Regs[op.Reg]
	case thumb.KindImm:
		return uint32(op.Imm)
	default:
		return 0
	}
}

// scaledImm returns the immediate operand of in multiplied by its scale
func scaledImm(in thumb.Instr) uint32 {
	d := in.Desc()
	return uint32(in.Imm(d.ImmIdx) * d.ImmScale)
}

func (e *Emulator) emuNop(_ thumb.Instr) error {
	return nil
}

func (e *Emulator) emuSPImm(in thumb.Instr) error {
	if in.Op == thumb.TSUBspi {
		e.Regs[thumb.SP] -= scaledImm(in)
	} else {
		e.Regs[thumb.SP] += scaledImm(in)
	}
	return nil
}

func (e *Emulator) emuAddImm(in thumb.Instr) error {
	e.Regs[in.Reg(0)] = e.operand(in, 1) + scaledImm(in)
	return nil
}

func (e *Emulator) emuSubImm(in thumb.Instr) error {
	e.Regs[in.Reg(0)] = e.operand(in, 1) - scaledImm(in)
	return nil
}

func (e *Emulator) emuMovImm(in thumb.Instr) error {
	e.Regs[in.Reg(0)] = scaledImm(in)
	return nil
}

func (e *Emulator) emuNeg(in thumb.Instr) error {
	e.Regs[in.Reg(0)] = -e.operand(in, 1)
	return nil
}

func (e *Emulator) emuAddRR(in thumb.Instr) error {
	e.Regs[in.Reg(0)] = e.operand(in, 1) + e.operand(in, 2)
	return nil
}

func (e *Emulator) emuSubRR(in thumb.Instr) error {
	e.Regs[in.Reg(0)] = e.operand(in, 1) - e.operand(in, 2)
	return nil
}

func (e *Emulator) emuMov(in thumb.Instr) error {
	e.Regs[in.Reg(0)] = e.operand(in, 1)
	return nil
}

func (e *Emulator) emuLoadPool(in thumb.Instr) error {
	if len(in.Ops) < 2 || in.Ops[1].Kind != thumb.KindCPI || e.Pool == nil {
		return fmt.Errorf("%w: %s", ErrBadPool, in)
	}
	v, ok := e.Pool.Value(in.Ops[1].Index())
	if !ok {
		return fmt.Errorf("%w: %s", ErrBadPool, in)
	}
	e.Regs[in.Reg(0)] = uint32(v)
	return nil
}

// address computes base + offset register + scaled immediate
func (e *Emulator) address(in thumb.Instr) uint32 {
	addr := e.operand(in, 1) + scaledImm(in)
	if r := in.Reg(3); r != thumb.NoReg {
		addr += e.Regs[r]
	}
	return addr
}

func (e *Emulator) emuLoad(in thumb.Instr) error {
	v, err := e.Load(e.address(in))
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}
	e.Regs[in.Reg(0)] = v
	return nil
}

func (e *Emulator) emuStore(in thumb.Instr) error {
	if err := e.Store(e.address(in), e.operand(in, 0)); err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}
	return nil
}

// regList returns the register operands of a push or pop in ascending order
func regList(in thumb.Instr) []thumb.Reg {
	var regs []thumb.Reg
	for _, op := range in.Ops {
		if op.IsReg() {
			regs = append(regs, op.Reg)
		}
	}
	slices.Sort(regs)
	return regs
}

// emuPush stores the lowest register at the lowest address
func (e *Emulator) emuPush(in thumb.Instr) error {
	regs := regList(in)
	sp := e.Regs[thumb.SP] - uint32(4*len(regs))
	for i, r := range regs {
		if err := e.Store(sp+uint32(4*i), e.Regs[r]); err != nil {
			return fmt.Errorf("%s: %w", in, err)
		}
	}
	e.Regs[thumb.SP] = sp
	return nil
}

func (e *Emulator) emuPop(in thumb.Instr) error {
	regs := regList(in)
	sp := e.Regs[thumb.SP]
	for i, r := range regs {
		v, err := e.Load(sp + uint32(4*i))
		if err != nil {
			return fmt.Errorf("%s: %w", in, err)
		}
		e.Regs[r] = v
	}
	e.Regs[thumb.SP] = sp + uint32(4*len(regs))
	if slices.Contains(regs, thumb.PC) {
		e.Returned = true
	}
	return nil
}

func (e *Emulator) emuRet(_ thumb.Instr) error {
	e.Returned = true
	return nil
}
