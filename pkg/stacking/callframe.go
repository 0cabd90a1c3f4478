package stacking

import (
	"github.com/raymyers/ralph-frame/pkg/mach"
	"github.com/raymyers/ralph-frame/pkg/thumb"
)

// Largest outgoing argument area kept in the static frame: half of what an
// 8-bit scaled sp offset reaches, so slots above it stay addressable.
const maxReservedCallFrame = (1<<8 - 1) * 4 / 2

// HasReservedCallFrame reports whether outgoing argument space is part of
// the static frame. The answer is computed on first use and cached in the
// function's layout state so every call site sees the same policy.
func (l *thumbLowering) HasReservedCallFrame(fn *mach.Function) bool {
	if fn.Info == nil {
		fn.Info = mach.NewFuncInfo()
	}
	afi := fn.Info
	if afi.CallFrame == mach.CallFrameUndecided {
		fr := fn.Frame
		afi.CallFrame = mach.CallFrameReserved
		if fr.MaxCallFrameSize >= maxReservedCallFrame || fr.HasVarSizedObjects {
			afi.CallFrame = mach.CallFrameAdjusted
		}
	}
	return afi.CallFrame == mach.CallFrameReserved
}

// LowerCallFrameAdjustment replaces the call frame marker at idx with the
// sp update it stands for, or with nothing when the call frame is
// reserved. It returns the index where traversal resumes.
func (l *thumbLowering) LowerCallFrameAdjustment(fn *mach.Function, blk *mach.Block, idx int) int {
	in := blk.Instrs[idx]
	if !thumb.IsCallFramePseudo(in.Op) {
		fatalf(ErrUnexpectedOpcode, "%s is not a call frame marker", in)
	}
	var code []thumb.Instr
	if !l.HasReservedCallFrame(fn) {
		if amount := callFrameAmount(in); amount != 0 {
			if in.Op == thumb.ADJCALLSTACKDOWN {
				amount = -amount
			}
			code = l.planner(fn).SPUpdate(in.Loc, amount)
		}
	}
	return blk.Splice(idx, code...)
}

// callFrameAmount is the marker size rounded up to the stack alignment
func callFrameAmount(in thumb.Instr) int64 {
	return alignUp(in.Imm(0), mach.StackAlignment)
}
