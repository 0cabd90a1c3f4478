package stacking

import (
	"slices"
	"testing"

	"github.com/raymyers/ralph-frame/pkg/mach"
	"github.com/raymyers/ralph-frame/pkg/thumb"
)

func TestAssignSpillAreas(t *testing.T) {
	csi := []mach.CalleeSavedInfo{
		{Reg: thumb.LR, FrameIdx: 0},
		{Reg: thumb.R7, FrameIdx: 1},
		{Reg: thumb.R4, FrameIdx: 2},
		{Reg: thumb.R8, FrameIdx: 3},
		{Reg: thumb.R11, FrameIdx: 4},
		{Reg: thumb.D8, FrameIdx: 5},
	}

	tests := []struct {
		target          Target
		gpr1, gpr2, dpr int64
		area2           []int
	}{
		{TargetELF, 20, 0, 8, nil},
		{TargetDarwin, 12, 8, 8, []int{3, 4}},
	}

	for _, tt := range tests {
		afi := mach.NewFuncInfo()
		a := assignSpillAreas(csi, tt.target, afi)
		if a.gpr1 != tt.gpr1 || a.gpr2 != tt.gpr2 || a.dpr != tt.dpr {
			t.Errorf("%s: areas = %d/%d/%d, want %d/%d/%d",
				tt.target, a.gpr1, a.gpr2, a.dpr, tt.gpr1, tt.gpr2, tt.dpr)
		}
		if a.fpSpillFI != 1 {
			t.Errorf("%s: fpSpillFI = %d, want 1", tt.target, a.fpSpillFI)
		}
		for fi := 0; fi <= 4; fi++ {
			in2 := slices.Contains(tt.area2, fi)
			if afi.IsGPRCalleeSavedArea2Frame(fi) != in2 {
				t.Errorf("%s: fi#%d in area 2 = %v, want %v", tt.target, fi, !in2, in2)
			}
			if afi.IsGPRCalleeSavedArea1Frame(fi) == in2 {
				t.Errorf("%s: fi#%d in area 1 = %v, want %v", tt.target, fi, in2, !in2)
			}
		}
		if !afi.IsDPRCalleeSavedAreaFrame(5) {
			t.Errorf("%s: fi#5 should be in the DPR area", tt.target)
		}
	}
}

func TestAssignSpillAreasNoFramePointer(t *testing.T) {
	csi := []mach.CalleeSavedInfo{{Reg: thumb.LR, FrameIdx: 0}, {Reg: thumb.R4, FrameIdx: 1}}
	a := assignSpillAreas(csi, TargetELF, mach.NewFuncInfo())
	if a.fpSpillFI != -1 {
		t.Errorf("fpSpillFI = %d, want -1", a.fpSpillFI)
	}
}

func TestAssignSpillAreasRejectsScratchRegisters(t *testing.T) {
	for _, r := range []thumb.Reg{thumb.R0, thumb.R3, thumb.R12, thumb.D0} {
		csi := []mach.CalleeSavedInfo{{Reg: r, FrameIdx: 0}}
		requirePanicsWith(t, ErrBadFrameLayout, func() {
			assignSpillAreas(csi, TargetELF, mach.NewFuncInfo())
		})
	}
}

func TestIsCSRestore(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"tRestore r4<def>, fi#0, #0", true},
		{"tRestore r11<def>, fi#2, #0", true},
		{"tRestore r0<def>, fi#0, #0", false},
		{"tRestore r4<def>, sp, #1", false},
		{"tLDRspi r4<def>, fi#0, #0", false},
		{"tPOP r4<def>", false},
	}

	for _, tt := range tests {
		if got := isCSRestore(thumb.MustParse(tt.line)); got != tt.want {
			t.Errorf("isCSRestore(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestClobberedCalleeSavedRegsEmpty(t *testing.T) {
	fn := mach.NewFunction("empty")
	fn.AddBlock("entry").Instrs = parse("tBX_RET")
	if regs := ClobberedCalleeSavedRegs(fn); len(regs) != 0 {
		t.Errorf("expected no callee-saved regs, got %v", regs)
	}
}

func TestClobberedCalleeSavedRegs(t *testing.T) {
	fn := mach.NewFunction("clobbers")
	fn.AddBlock("entry").Instrs = parse(
		"tMOVi8 r6<def>, #1",
		"tADDrr r4<def>, r0, r1",
		"tMOVr r0<def>, r5", // read only
		"tMOVlor2hir r8<def>, r0",
	)
	fn.AddBlock("exit").Instrs = parse(
		"tMOVi8 r4<def>, #2",
		"tRestore r7<def>, fi#0, #0",
		"tPOP_RET r5<def>, pc<def>",
	)

	got := ClobberedCalleeSavedRegs(fn)
	want := []thumb.Reg{thumb.R4, thumb.R6, thumb.R8}
	if !slices.Equal(got, want) {
		t.Errorf("ClobberedCalleeSavedRegs = %v, want %v", got, want)
	}
}

func TestUnsavedCalleeSaved(t *testing.T) {
	fn := mach.NewFunction("partial")
	fi := fn.Frame.CreateStackObject(-4, 4)
	fn.Frame.CalleeSaved = []mach.CalleeSavedInfo{{Reg: thumb.R4, FrameIdx: fi}}
	fn.AddBlock("entry").Instrs = parse(
		"tMOVi8 r4<def>, #1",
		"tMOVi8 r5<def>, #2",
		"tBX_RET",
	)

	got := unsavedCalleeSaved(fn)
	if !slices.Equal(got, []thumb.Reg{thumb.R5}) {
		t.Errorf("unsavedCalleeSaved = %v, want [r5]", got)
	}
}
