package mach

import (
	"fmt"

	"github.com/raymyers/ralph-frame/pkg/thumb"
)

// Thumb stack layout (incoming sp at the top):
//
//	+---------------------------+  <- incoming sp
//	| vararg register save area |  VarArgsRegSaveSize
//	+---------------------------+
//	| GPR callee-save area 1    |  r4-r7, lr (and r8-r11 off Darwin)
//	| GPR callee-save area 2    |  r8-r11 on Darwin
//	| DPR callee-save area      |  d8-d15
//	+---------------------------+  <- sp after the callee-save push
//	| locals, spill slots       |
//	| reserved call frame       |
//	+---------------------------+  <- sp after the prologue (4-byte aligned)
//
// Object offsets are relative to sp below the vararg save area and are
// negative for everything inside the frame.

// StackAlignment is the required alignment of sp adjustments
const StackAlignment = 4

// FrameObject is one stack slot
type FrameObject struct {
	Offset int64 // offset from the top of the frame
	Size   int64
}

// CalleeSavedInfo pairs a callee-saved register with its spill slot
type CalleeSavedInfo struct {
	Reg      thumb.Reg
	FrameIdx int
}

// FrameInfo is the frame layout computed by stack slot allocation
type FrameInfo struct {
	Objects            []FrameObject
	StackSize          int64 // rounded and written back by prologue insertion
	MaxCallFrameSize   int64
	HasVarSizedObjects bool
	FrameAddressTaken  bool
	CalleeSaved        []CalleeSavedInfo

	// OffsetAdjustment is applied by debug info consumers to object offsets
	OffsetAdjustment int64
}

// CreateStackObject adds a slot and returns its frame index
func (fi *FrameInfo) CreateStackObject(offset, size int64) int {
	fi.Objects = append(fi.Objects, FrameObject{Offset: offset, Size: size})
	return len(fi.Objects) - 1
}

// ObjectOffset returns the frame relative offset of frame index idx
func (fi *FrameInfo) ObjectOffset(idx int) int64 {
	if idx < 0 || idx >= len(fi.Objects) {
		panic(fmt.Sprintf("mach: frame index %d out of range (%d objects)", idx, len(fi.Objects)))
	}
	return fi.Objects[idx].Offset
}

// CallFramePolicy records how outgoing argument space is provided
type CallFramePolicy uint8

const (
	CallFrameUndecided CallFramePolicy = iota
	CallFrameReserved                  // allocated once as part of the static frame
	CallFrameAdjusted                  // sp moved around every call
)

func (p CallFramePolicy) String() string {
	switch p {
	case CallFrameReserved:
		return "reserved"
	case CallFrameAdjusted:
		return "adjusted"
	default:
		return "undecided"
	}
}

// FuncInfo is the derived per-function layout state. Prologue insertion
// fills it in; frame index elimination reads it.
type FuncInfo struct {
	HasStackFrame bool
	R3IsLiveIn    bool
	CallFrame     CallFramePolicy

	FramePtrSpillOffset int64

	GPRCS1Offset int64
	GPRCS2Offset int64
	DPRCSOffset  int64

	GPRCS1Size int64
	GPRCS2Size int64
	DPRCSSize  int64

	GPRCS1Frames map[int]bool
	GPRCS2Frames map[int]bool
	DPRCSFrames  map[int]bool
}

// NewFuncInfo returns empty layout state
func NewFuncInfo() *FuncInfo {
	return &FuncInfo{
		GPRCS1Frames: make(map[int]bool),
		GPRCS2Frames: make(map[int]bool),
		DPRCSFrames:  make(map[int]bool),
	}
}

func (fi *FuncInfo) IsGPRCalleeSavedArea1Frame(idx int) bool { return fi.GPRCS1Frames[idx] }
func (fi *FuncInfo) IsGPRCalleeSavedArea2Frame(idx int) bool { return fi.GPRCS2Frames[idx] }
func (fi *FuncInfo) IsDPRCalleeSavedAreaFrame(idx int) bool  { return fi.DPRCSFrames[idx] }

// CalleeSavedAreaSize is the total size of the three spill regions
func (fi *FuncInfo) CalleeSavedAreaSize() int64 {
	return fi.GPRCS1Size + fi.GPRCS2Size + fi.DPRCSSize
}
