package stacking

import (
	"github.com/raymyers/ralph-frame/pkg/mach"
	"github.com/raymyers/ralph-frame/pkg/thumb"
)

// EliminateFrameIndex rewrites the instruction at idx so its frame index
// operand becomes a base register and an encodable offset. spAdj is the sp
// adjustment of the enclosing call sequence. Any code needed to reach the
// slot is inserted around the instruction. It returns the index just past
// the rewritten code.
func (l *thumbLowering) EliminateFrameIndex(fn *mach.Function, blk *mach.Block, idx int, spAdj int64) int {
	in := blk.Instrs[idx]
	i := in.FrameIndexOperand()
	if i < 0 {
		fatalf(ErrNoFrameIndex, "%s", in)
	}

	fr := fn.Frame
	afi := fn.Info
	fi := in.Ops[i].Index()
	frameReg := thumb.SP
	offset := fr.ObjectOffset(fi) + fr.StackSize + spAdj

	switch {
	case afi.IsGPRCalleeSavedArea1Frame(fi):
		offset -= afi.GPRCS1Offset
	case afi.IsGPRCalleeSavedArea2Frame(fi):
		offset -= afi.GPRCS2Offset
	case afi.IsDPRCalleeSavedAreaFrame(fi):
		offset -= afi.DPRCSOffset
	case l.HasFP(fn):
		if spAdj != 0 {
			fatalf(ErrFPWithSPAdjust, "%s with sp adjustment %d", in, spAdj)
		}
		frameReg = thumb.FramePtr
		offset -= afi.FramePtrSpillOffset
	}

	e := &eliminator{
		fn:       fn,
		blk:      blk,
		idx:      idx,
		in:       in,
		fiPos:    i,
		frameReg: frameReg,
		p:        l.planner(fn),
		th:       l.cfg.Thresholds,
	}
	if in.Op == thumb.TADDrSPi {
		return e.addrOf(offset)
	}
	return e.memory(offset)
}

// eliminator rewrites one instruction
type eliminator struct {
	fn       *mach.Function
	blk      *mach.Block
	idx      int
	in       thumb.Instr
	fiPos    int
	frameReg thumb.Reg
	p        *Planner
	th       Thresholds
}

// replace substitutes the instruction with before, repl and after
func (e *eliminator) replace(before []thumb.Instr, repl thumb.Instr, after []thumb.Instr) int {
	code := make([]thumb.Instr, 0, len(before)+1+len(after))
	code = append(code, before...)
	code = append(code, repl.At(e.in.Loc))
	code = append(code, after...)
	return e.blk.Splice(e.idx, code...)
}

// addrOf handles "rd = address of slot + imm"
func (e *eliminator) addrOf(offset int64) int {
	in := e.in
	loc := in.Loc
	dst := in.Reg(0)
	frameReg := e.frameReg
	offset += in.Imm(e.fiPos + 1)

	op := thumb.TADDrSPi
	var bits uint
	scale := int64(1)
	if frameReg != thumb.SP {
		// no fp relative form of tADDrSPi
		op = thumb.TADDi3
		bits = 3
	} else {
		bits, scale = 8, 4
		if offset&3 != 0 {
			fatalf(ErrMisalignedSPAdjust, "%s resolves to sp%+d", in, offset)
		}
	}

	if offset == 0 {
		mov := thumb.New(thumb.MoveOpcode(dst, frameReg), thumb.DefOp(dst), thumb.RegOp(frameReg))
		return e.replace(nil, mov, nil)
	}

	mask := int64(1)<<bits - 1
	if offset > 0 && offset/scale <= mask {
		direct := thumb.New(op, thumb.DefOp(dst), thumb.RegOp(frameReg), thumb.ImmOp(offset/scale))
		return e.replace(nil, direct, nil)
	}

	if e.p.NumInstrs(op, false, abs64(offset), bits, scale) > e.th.Inline {
		return e.blk.Splice(e.idx, e.p.RegPlusImmediate(loc, dst, frameReg, offset)...)
	}

	if offset > 0 {
		// r0 = sp + imm becomes r0 = sp + 255*4; r0 = r0 + (imm - 255*4)
		first := thumb.New(op, thumb.DefOp(dst), thumb.RegOp(frameReg), thumb.ImmOp(mask))
		rest := e.p.RegPlusImmediate(loc, dst, dst, offset-mask*scale)
		return e.replace(nil, first, rest)
	}

	// r0 = sp - imm becomes r0 = -imm; r0 = r0 + sp
	neg := e.p.Constant(loc, dst, offset)
	add := thumb.New(thumb.TADDhirr, thumb.DefOp(dst), thumb.KillOp(dst), thumb.RegOp(frameReg))
	return e.replace(neg, add, nil)
}

// memory handles loads and stores addressing a slot
func (e *eliminator) memory(offset int64) int {
	in := e.in
	d := in.Desc()
	switch d.AddrMode {
	case thumb.AddrModeT1_s:
	case thumb.AddrModeNone:
		fatalf(ErrUnexpectedOpcode, "%s cannot reference a frame index", in)
	default:
		fatalf(ErrUnsupportedAddrMode, "%s uses %s", in, d.AddrMode)
	}

	const scale = 4
	immIdx := e.fiPos + 1
	frameReg := e.frameReg
	bits := uint(5)
	if frameReg == thumb.SP {
		bits = 8
	}

	offset += in.Imm(immIdx) * scale
	if offset&(scale-1) != 0 {
		fatalf(ErrMisalignedSPAdjust, "%s resolves to %s%+d", in, frameReg, offset)
	}

	mask := int64(1)<<bits - 1
	if offset >= 0 && offset <= mask*scale {
		direct := thumb.New(in.Op, in.Ops[0], thumb.RegOp(frameReg), thumb.ImmOp(offset/scale))
		return e.replace(nil, direct, nil)
	}

	// The rewritten tLDR/tSTR take a register base and a 5-bit field.
	isSpillRestore := in.Op == thumb.TSpill || in.Op == thumb.TRestore
	mask = 1<<5 - 1
	var imm int64
	if !isSpillRestore {
		imm = (offset / scale) & mask
		offset &^= mask * scale
	}

	switch {
	case d.MayLoad:
		return e.load(offset, imm, isSpillRestore)
	case d.MayStore:
		return e.store(offset, imm, isSpillRestore)
	default:
		fatalf(ErrUnexpectedOpcode, "%s neither loads nor stores", in)
		return 0
	}
}

// scratchAddr returns code setting tmp to the part of the address the
// instruction no longer encodes. useRR reports that tmp holds only the
// offset and the frame register must be added by the access itself.
func (e *eliminator) scratchAddr(tmp thumb.Reg, offset int64, isSpillRestore bool) (code []thumb.Instr, useRR bool) {
	loc := e.in.Loc
	switch {
	case !isSpillRestore:
		return e.p.RegPlusImmediate(loc, tmp, e.frameReg, offset), false
	case e.frameReg == thumb.SP:
		return e.p.RegPlusImmInReg(loc, tmp, e.frameReg, offset, false), false
	default:
		// keep the flags intact
		return e.p.LoadConstPool(loc, tmp, offset), true
	}
}

// access builds the register based form of the original access
func (e *eliminator) access(op thumb.Opcode, tmp thumb.Reg, imm int64, useRR bool) thumb.Instr {
	rt := e.in.Ops[0]
	rt.Def = op == thumb.TLDR
	ops := []thumb.Operand{rt, thumb.KillOp(tmp), thumb.ImmOp(imm)}
	if useRR {
		ops = append(ops, thumb.RegOp(e.frameReg))
	}
	return thumb.New(op, ops...)
}

func (e *eliminator) load(offset, imm int64, isSpillRestore bool) int {
	// the destination doubles as the address register
	tmp := e.in.Reg(0)
	before, useRR := e.scratchAddr(tmp, offset, isSpillRestore)
	return e.replace(before, e.access(thumb.TLDR, tmp, imm, useRR), nil)
}

func (e *eliminator) store(offset, imm int64, isSpillRestore bool) int {
	loc := e.in.Loc
	val := e.in.Reg(0)
	tmp := thumb.ScratchReg

	var before, after []thumb.Instr
	hold := func(r thumb.Reg) {
		before = append(before, thumb.New(thumb.TMOVlor2hir, thumb.DefOp(thumb.IPReg), thumb.KillOp(r)).At(loc))
		after = append(after, thumb.New(thumb.TMOVhir2lor, thumb.DefOp(r), thumb.KillOp(thumb.IPReg)).At(loc))
	}
	if val == thumb.ScratchReg {
		// r12 = r2; r2 = address; str r3, [r2]; r2 = r12
		hold(thumb.R2)
		tmp = thumb.R2
	}
	if tmp == thumb.ScratchReg && e.fn.Info.R3IsLiveIn {
		hold(thumb.ScratchReg)
	}

	addr, useRR := e.scratchAddr(tmp, offset, isSpillRestore)
	before = append(before, addr...)
	return e.replace(before, e.access(thumb.TSTR, tmp, imm, useRR), after)
}
