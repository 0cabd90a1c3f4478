package stacking

import (
	"slices"

	"github.com/raymyers/ralph-frame/pkg/mach"
	"github.com/raymyers/ralph-frame/pkg/thumb"
)

// Thumb callee-saved registers:
// - r4-r7 and lr go to the first GPR area
// - r8-r11 go to the second GPR area on Darwin, the first elsewhere
// - d8-d15 go to the DPR area, 8 bytes each

// spillAreas is the result of classifying the callee-saved registers
type spillAreas struct {
	gpr1, gpr2, dpr int64 // area sizes in bytes
	fpSpillFI       int   // frame index holding r7, or -1
}

// assignSpillAreas sorts each callee-saved slot into its area and records
// the membership in afi.
func assignSpillAreas(csi []mach.CalleeSavedInfo, target Target, afi *mach.FuncInfo) spillAreas {
	a := spillAreas{fpSpillFI: -1}
	for _, cs := range csi {
		switch cs.Reg {
		case thumb.R4, thumb.R5, thumb.R6, thumb.R7, thumb.LR:
			afi.GPRCS1Frames[cs.FrameIdx] = true
			a.gpr1 += 4
		case thumb.R8, thumb.R9, thumb.R10, thumb.R11:
			if target == TargetDarwin {
				afi.GPRCS2Frames[cs.FrameIdx] = true
				a.gpr2 += 4
			} else {
				afi.GPRCS1Frames[cs.FrameIdx] = true
				a.gpr1 += 4
			}
		default:
			if !thumb.IsDPR(cs.Reg) || !thumb.IsCalleeSaved(cs.Reg) {
				fatalf(ErrBadFrameLayout, "%s is not a callee-saved register", cs.Reg)
			}
			afi.DPRCSFrames[cs.FrameIdx] = true
			a.dpr += 8
		}
		if cs.Reg == thumb.FramePtr {
			a.fpSpillFI = cs.FrameIdx
		}
	}
	return a
}

// isCSRestore reports whether in reloads a callee-saved register from its
// frame slot
func isCSRestore(in thumb.Instr) bool {
	return in.Op == thumb.TRestore &&
		len(in.Ops) > 1 && in.Ops[1].IsFrameIndex() &&
		thumb.IsCalleeSaved(in.Reg(0))
}

// ClobberedCalleeSavedRegs returns the callee-saved registers fn writes,
// sorted by register number.
func ClobberedCalleeSavedRegs(fn *mach.Function) []thumb.Reg {
	used := make(map[thumb.Reg]bool)
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			// restores write the register they preserve
			if in.Op == thumb.TRestore || in.Op == thumb.TPOP || in.Op == thumb.TPOP_RET {
				continue
			}
			for _, op := range in.Ops {
				if op.IsReg() && op.Def && thumb.IsCalleeSaved(op.Reg) {
					used[op.Reg] = true
				}
			}
		}
	}

	var result []thumb.Reg
	for r := range used {
		result = append(result, r)
	}
	slices.Sort(result)
	return result
}

// unsavedCalleeSaved returns the clobbered callee-saved registers that have
// no slot in fn's frame
func unsavedCalleeSaved(fn *mach.Function) []thumb.Reg {
	var missing []thumb.Reg
	for _, r := range ClobberedCalleeSavedRegs(fn) {
		saved := slices.ContainsFunc(fn.Frame.CalleeSaved, func(cs mach.CalleeSavedInfo) bool {
			return cs.Reg == r
		})
		if !saved {
			missing = append(missing, r)
		}
	}
	return missing
}
