package thumb

import (
	"errors"
	"fmt"
)

// ErrIllegalEncoding is returned by Check for instructions that cannot be encoded
var ErrIllegalEncoding = errors.New("illegal encoding")

// FieldWidth returns the width and scale of the immediate field of in.
// The T1_s family narrows to 5 bits when the base is not sp.
func FieldWidth(in Instr) (bits uint, scale int64) {
	d := in.Desc()
	bits, scale = d.ImmBits, d.ImmScale
	if d.AddrMode == AddrModeT1_s && in.Reg(1) != SP {
		bits = 5
	}
	return bits, scale
}

// FitsField reports whether the byte offset v can be encoded in a field of
// the given width and scale.
func FitsField(v int64, bits uint, scale int64) bool {
	if v < 0 || v%scale != 0 {
		return false
	}
	return v/scale <= int64(1)<<bits-1
}

// Check verifies that in is a legal, fully lowered instruction: no pseudo
// opcode, no frame index, every immediate inside its field and every tied
// or sp-only operand in place.
func Check(in Instr) error {
	d := in.Desc()
	if in.Op == InvalidOp || in.Op >= numOpcodes {
		return fmt.Errorf("%w: unknown opcode %d", ErrIllegalEncoding, uint8(in.Op))
	}
	if d.Pseudo {
		return fmt.Errorf("%w: pseudo instruction %s", ErrIllegalEncoding, in)
	}
	if i := in.FrameIndexOperand(); i >= 0 {
		return fmt.Errorf("%w: unresolved frame index in %s", ErrIllegalEncoding, in)
	}
	if d.ImmIdx >= 0 {
		if d.ImmIdx >= len(in.Ops) || !in.Ops[d.ImmIdx].IsImm() {
			return fmt.Errorf("%w: %s: operand %d is not an immediate", ErrIllegalEncoding, in, d.ImmIdx)
		}
		bits, _ := FieldWidth(in)
		v := in.Ops[d.ImmIdx].Imm
		if v < 0 || v > int64(1)<<bits-1 {
			return fmt.Errorf("%w: %s: immediate %d does not fit %d bits", ErrIllegalEncoding, in, v, bits)
		}
	}
	if d.Tied {
		if len(in.Ops) < 2 || in.Reg(0) != in.Reg(1) || in.Reg(0) == NoReg {
			return fmt.Errorf("%w: %s: two-address form needs tied operands", ErrIllegalEncoding, in)
		}
	}
	if d.SPBase && in.Reg(1) != SP {
		return fmt.Errorf("%w: %s: base must be sp", ErrIllegalEncoding, in)
	}
	if (in.Op == TADDspi || in.Op == TSUBspi) && in.Reg(0) != SP {
		return fmt.Errorf("%w: %s: destination must be sp", ErrIllegalEncoding, in)
	}
	return nil
}
