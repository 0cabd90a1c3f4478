package stacking

import (
	"github.com/raymyers/ralph-frame/pkg/mach"
	"github.com/raymyers/ralph-frame/pkg/thumb"
)

// EmitPrologue inserts the function entry sequence into the entry block
// and publishes the spill area layout in fn.Info. The callee-saved push is
// expected to be in place already.
//
// Entry sequence:
//  1. Allocate the vararg register save area
//  2. Skip the callee-saved push
//  3. Point r7 at the saved r7 (Darwin, or when a frame pointer is needed)
//  4. Allocate everything below the spill areas
func (l *thumbLowering) EmitPrologue(fn *mach.Function) {
	entry := fn.Entry()
	if entry == nil {
		fatalf(ErrBadFrameLayout, "function has no blocks")
	}
	fr := fn.Frame
	p := l.planner(fn)

	// Layout state is recomputed from scratch; the call frame policy is
	// decided once and survives.
	policy := mach.CallFrameUndecided
	if fn.Info != nil {
		policy = fn.Info.CallFrame
	}
	afi := mach.NewFuncInfo()
	afi.CallFrame = policy
	fn.Info = afi

	// r3 may have to serve as a scratch register
	afi.R3IsLiveIn = fn.IsLiveIn(thumb.R3)

	// add/sub sp, #imm scale the immediate by 4
	numBytes := alignUp(fr.StackSize, mach.StackAlignment)
	fr.StackSize = numBytes

	var loc thumb.Loc
	if entry.Len() > 0 {
		loc = entry.Instrs[0].Loc
	}
	pos := 0

	if va := fn.VarArgsRegSaveSize; va != 0 {
		pos = entry.InsertAt(pos, p.SPUpdate(loc, -va)...)
	}

	afi.HasStackFrame = l.needsStackFrame(fn)
	if !afi.HasStackFrame {
		if numBytes != 0 {
			entry.InsertAt(pos, p.SPUpdate(loc, -numBytes)...)
		}
		return
	}

	areas := assignSpillAreas(fr.CalleeSaved, l.cfg.Target, afi)

	if pos < entry.Len() && entry.Instrs[pos].Op == thumb.TPUSH {
		pos++
		if pos < entry.Len() {
			loc = entry.Instrs[pos].Loc
		}
	}

	hasFP := l.HasFP(fn)
	if l.cfg.Target == TargetDarwin || hasFP {
		// Darwin requires r7 to point at the slot holding the previous r7
		if areas.fpSpillFI < 0 {
			fatalf(ErrFramePtrNotSpilled, "%s needs a frame pointer", fn.Name)
		}
		setFP := thumb.New(thumb.TADDrSPi,
			thumb.DefOp(thumb.FramePtr), thumb.FIOp(areas.fpSpillFI), thumb.ImmOp(0)).At(loc)
		pos = entry.InsertAt(pos, setFP)
	}

	dprOffset := numBytes - (areas.gpr1 + areas.gpr2 + areas.dpr)
	if dprOffset < 0 {
		fatalf(ErrBadFrameLayout, "callee-saved areas (%d bytes) exceed the frame (%d bytes)",
			areas.gpr1+areas.gpr2+areas.dpr, numBytes)
	}
	gpr2Offset := dprOffset + areas.dpr
	gpr1Offset := gpr2Offset + areas.gpr2
	if areas.fpSpillFI >= 0 {
		afi.FramePtrSpillOffset = fr.ObjectOffset(areas.fpSpillFI) + numBytes
	}
	afi.GPRCS1Offset = gpr1Offset
	afi.GPRCS2Offset = gpr2Offset
	afi.DPRCSOffset = dprOffset

	if dprOffset != 0 {
		// after all the callee-save spills
		entry.InsertAt(pos, p.SPUpdate(loc, -dprOffset)...)
	}

	if l.cfg.Target == TargetELF && hasFP {
		fr.OffsetAdjustment -= afi.FramePtrSpillOffset
	}

	afi.GPRCS1Size = areas.gpr1
	afi.GPRCS2Size = areas.gpr2
	afi.DPRCSSize = areas.dpr
}

// EmitEpilogue inserts the exit sequence before the return ending blk.
// For variadic functions the return is replaced by a branch through r3.
func (l *thumbLowering) EmitEpilogue(fn *mach.Function, blk *mach.Block) {
	if !blk.IsReturnBlock() {
		fatalf(ErrNotReturnBlock, "block %s", blk.Label)
	}
	ret := blk.Len() - 1
	retIn := blk.Instrs[ret]
	if retIn.Op == thumb.TBX_RET_vararg {
		fatalf(ErrNotReturnBlock, "block %s already has a vararg return", blk.Label)
	}
	loc := retIn.Loc
	fr := fn.Frame
	afi := fn.Info
	p := l.planner(fn)
	numBytes := fr.StackSize

	if !afi.HasStackFrame {
		if numBytes != 0 {
			ret = blk.InsertAt(ret, p.SPUpdate(loc, numBytes)...)
		}
	} else {
		// unwind to the first callee-saved restore
		pos := ret
		for pos > 0 && isCSRestore(blk.Instrs[pos-1]) {
			pos--
		}

		// move sp to the start of the callee-save areas
		numBytes -= afi.CalleeSavedAreaSize()

		var code []thumb.Instr
		if l.HasFP(fn) {
			numBytes = afi.FramePtrSpillOffset - numBytes
			if numBytes != 0 {
				code = p.RegPlusImmediate(loc, thumb.SP, thumb.FramePtr, -numBytes)
			} else {
				code = []thumb.Instr{
					thumb.New(thumb.TMOVlor2hir, thumb.DefOp(thumb.SP), thumb.RegOp(thumb.FramePtr)).At(loc),
				}
			}
		} else {
			code = p.SPUpdate(loc, numBytes)
			if retIn.Op == thumb.TBX_RET && pos == ret && pos > 0 && blk.Instrs[pos-1].Op == thumb.TPOP {
				// before the pop of the callee-saved registers
				pos--
			}
		}
		ret += blk.InsertAt(pos, code...) - pos
	}

	va := fn.VarArgsRegSaveSize
	if va == 0 {
		return
	}

	// Vararg functions pop lr into r3 and branch through it once the save
	// area is released.
	var code []thumb.Instr
	if retIn.Op == thumb.TPOP_RET {
		if regs := popWithoutPC(retIn); len(regs.Ops) > 0 {
			code = append(code, regs)
		}
	}
	code = append(code, thumb.New(thumb.TPOP, thumb.DefOp(thumb.ScratchReg)).At(loc))
	code = append(code, p.SPUpdate(loc, va)...)
	code = append(code, thumb.New(thumb.TBX_RET_vararg, thumb.KillOp(thumb.ScratchReg)).At(loc))
	blk.Splice(ret, code...)
}

// popWithoutPC turns a returning pop into a plain pop of the other registers
func popWithoutPC(in thumb.Instr) thumb.Instr {
	out := thumb.New(thumb.TPOP).At(in.Loc)
	for _, op := range in.Ops {
		if op.IsReg() && op.Reg == thumb.PC {
			continue
		}
		out.Ops = append(out.Ops, op)
	}
	return out
}
