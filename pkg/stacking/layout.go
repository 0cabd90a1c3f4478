// Package stacking lowers the symbolic stack references of a Thumb machine
// function into concrete code. It inserts the prologue and epilogues,
// replaces call frame markers with sp updates and rewrites every frame
// index operand into a legally encodable base register plus offset.
package stacking

import (
	"github.com/raymyers/ralph-frame/pkg/mach"
)

// Thumb frame after the prologue (incoming sp at the top):
//
//	+---------------------------+  <- incoming sp
//	| vararg register save area |
//	+---------------------------+  <- object offsets are relative to here
//	| GPR callee-save area 1    |  GPRCS1Offset from the final sp
//	| GPR callee-save area 2    |  GPRCS2Offset
//	| DPR callee-save area      |  DPRCSOffset
//	+---------------------------+
//	| locals, spill slots       |
//	| reserved call frame       |
//	+---------------------------+  <- sp, StackSize below the save area
//
// With a frame pointer, r7 points at the slot holding the caller's r7 and
// FramePtrSpillOffset is the distance from sp to that slot.

// alignUp rounds n up to the nearest multiple of align
func alignUp(n, align int64) int64 {
	if align == 0 {
		return n
	}
	return ((n + align - 1) / align) * align
}

// HasFP reports whether fn keeps a frame pointer in r7
func (l *thumbLowering) HasFP(fn *mach.Function) bool {
	fr := fn.Frame
	return l.cfg.DisableFramePointerElim || fr.HasVarSizedObjects || fr.FrameAddressTaken
}

// needsStackFrame reports whether the prologue has spill areas to account
// for. A function without one only moves sp over its locals.
func (l *thumbLowering) needsStackFrame(fn *mach.Function) bool {
	return len(fn.Frame.CalleeSaved) > 0 || l.HasFP(fn)
}
