package stacking

import (
	"github.com/raymyers/ralph-frame/pkg/mach"
	"github.com/raymyers/ralph-frame/pkg/thumb"
)

// Planner builds instruction sequences that materialize register plus
// immediate computations with legally encodable immediates. Every method
// returns fresh instructions tagged with the given location; the caller
// splices them into a block.
type Planner struct {
	pool *mach.ConstantPool
	th   Thresholds
}

// NewPlanner creates a planner that places out of range constants in pool
func NewPlanner(pool *mach.ConstantPool, th Thresholds) *Planner {
	return &Planner{pool: pool, th: th}
}

// seq accumulates emitted code
type seq struct {
	loc  thumb.Loc
	code []thumb.Instr
}

func (s *seq) emit(op thumb.Opcode, ops ...thumb.Operand) {
	s.code = append(s.code, thumb.New(op, ops...).At(s.loc))
}

func (s *seq) move(dst, src thumb.Reg, kill bool) {
	s.emit(thumb.MoveOpcode(dst, src), thumb.DefOp(dst), thumb.UseOp(src, kill))
}

func (s *seq) append(code []thumb.Instr) {
	s.code = append(s.code, code...)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// NumInstrs returns the number of instructions a chunked add or subtract of
// bytes needs when the first instruction is op with a bits wide field scaled
// by scale. A tADDrSPi is followed by unscaled 8-bit adds. extra counts a
// trailing fix-up instruction.
func (p *Planner) NumInstrs(op thumb.Opcode, extra bool, bytes int64, bits uint, scale int64) int {
	n := 0
	chunk := (int64(1)<<bits - 1) * scale
	if op == thumb.TADDrSPi {
		this := min(bytes, chunk)
		bytes -= this
		n++
		chunk = 1<<8 - 1
	}
	n += int(bytes / chunk)
	if bytes%chunk != 0 {
		n++
	}
	if extra {
		n++
	}
	return n
}

// RegPlusImmediate returns code computing dst = base + offset
func (p *Planner) RegPlusImmediate(loc thumb.Loc, dst, base thumb.Reg, offset int64) []thumb.Instr {
	s := &seq{loc: loc}
	p.regPlusImmediate(s, dst, base, offset)
	return s.code
}

// SPUpdate returns code moving sp by bytes, which must be a multiple of 4
func (p *Planner) SPUpdate(loc thumb.Loc, bytes int64) []thumb.Instr {
	return p.RegPlusImmediate(loc, thumb.SP, thumb.SP, bytes)
}

func (p *Planner) regPlusImmediate(s *seq, dst, base thumb.Reg, offset int64) {
	isSub := offset < 0
	bytes := abs64(offset)
	isMul4 := bytes&3 == 0

	var (
		op           thumb.Opcode
		extra        bool
		twoAddr      bool
		dstNotEqBase bool
		bits         uint
		scale        int64 = 1
	)

	switch {
	case dst == thumb.SP && base == thumb.SP:
		if !isMul4 {
			fatalf(ErrMisalignedSPAdjust, "sp adjustment %d", offset)
		}
		bits, scale = 7, 4
		op = thumb.TADDspi
		if isSub {
			op = thumb.TSUBspi
		}
		twoAddr = true
	case dst == thumb.SP:
		// sp = rN +/- imm: copy then adjust sp in place
		if !isMul4 {
			p.regPlusImmInReg(s, dst, base, offset, true)
			return
		}
		bits, scale = 7, 4
		op = thumb.TADDspi
		if isSub {
			op = thumb.TSUBspi
		}
		twoAddr = true
		dstNotEqBase = true
	case !isSub && base == thumb.SP:
		// r1 = sp + 403 becomes r1 = sp + 100*4; r1 = r1 + 3
		if !isMul4 {
			bytes &^= 3
			extra = true
		}
		bits, scale = 8, 4
		op = thumb.TADDrSPi
	default:
		dstNotEqBase = dst != base
		bits = 8
		op = thumb.TADDi8
		if isSub {
			op = thumb.TSUBi8
		}
		twoAddr = true
	}

	threshold := p.th.Other
	if dst == thumb.SP {
		threshold = p.th.SPDest
	}
	if p.NumInstrs(op, extra, bytes, bits, scale) > threshold {
		p.regPlusImmInReg(s, dst, base, offset, true)
		return
	}

	if dstNotEqBase {
		if thumb.IsLow(dst) && thumb.IsLow(base) {
			this := min(bytes, 1<<3-1)
			bytes -= this
			sub := thumb.TADDi3
			if isSub {
				sub = thumb.TSUBi3
			}
			s.emit(sub, thumb.DefOp(dst), thumb.UseOp(base, base != thumb.FramePtr), thumb.ImmOp(this))
		} else {
			s.move(dst, base, base != thumb.SP && base != thumb.FramePtr && dst != thumb.SP)
		}
		base = dst
	}

	// tADDrSPi must be emitted even when only the unscaled remainder is left
	first := op == thumb.TADDrSPi
	chunk := (int64(1)<<bits - 1) * scale
	for bytes > 0 || first {
		first = false
		this := min(bytes, chunk)
		bytes -= this
		this /= scale
		if twoAddr {
			s.emit(op, thumb.DefOp(dst), thumb.UseOp(dst, dst != thumb.SP), thumb.ImmOp(this))
			continue
		}
		s.emit(op, thumb.DefOp(dst), thumb.UseOp(base, base != thumb.SP), thumb.ImmOp(this))
		base = dst
		if op == thumb.TADDrSPi {
			// r4 = sp + imm; r4 = r4 + imm ...
			bits, scale = 8, 1
			chunk = int64(1)<<bits - 1
			op = thumb.TADDi8
			twoAddr = true
		}
	}

	if extra {
		s.emit(thumb.TADDi3, thumb.DefOp(dst), thumb.KillOp(dst), thumb.ImmOp(offset&3))
	}
}

// RegPlusImmInReg returns code computing dst = base + offset by first
// materializing offset in a register. When canChangeCC is false no flag
// setting subtract is used.
func (p *Planner) RegPlusImmInReg(loc thumb.Loc, dst, base thumb.Reg, offset int64, canChangeCC bool) []thumb.Instr {
	s := &seq{loc: loc}
	p.regPlusImmInReg(s, dst, base, offset, canChangeCC)
	return s.code
}

func (p *Planner) regPlusImmInReg(s *seq, dst, base thumb.Reg, offset int64, canChangeCC bool) {
	if dst == thumb.SP && base != thumb.SP {
		s.move(thumb.SP, base, false)
		base = thumb.SP
	}
	if dst != thumb.SP && dst == base {
		p.regPlusImmInScratch(s, dst, offset)
		return
	}

	isHigh := !thumb.IsLow(dst) || (base != thumb.NoReg && !thumb.IsLow(base))
	isSub := false
	n := offset
	// subtract has no high register form and sets flags
	if n < 0 && !isHigh && canChangeCC {
		isSub = true
		n = -n
	}

	ld := dst
	if dst == thumb.SP {
		ld = thumb.ScratchReg
		s.emit(thumb.TMOVlor2hir, thumb.DefOp(thumb.IPReg), thumb.KillOp(thumb.ScratchReg))
	}

	p.loadImm(s, ld, n)

	switch {
	case isSub:
		s.emit(thumb.TSUBrr, thumb.DefOp(dst), thumb.UseOp(base, base != thumb.SP), thumb.KillOp(ld))
	case dst == thumb.SP:
		s.emit(thumb.TADDhirr, thumb.DefOp(dst), thumb.RegOp(base), thumb.KillOp(ld))
	case isHigh:
		s.emit(thumb.TADDhirr, thumb.DefOp(dst), thumb.KillOp(ld), thumb.UseOp(base, base != thumb.SP))
	default:
		s.emit(thumb.TADDrr, thumb.DefOp(dst), thumb.KillOp(ld), thumb.UseOp(base, base != thumb.SP))
	}

	if dst == thumb.SP {
		s.emit(thumb.TMOVhir2lor, thumb.DefOp(thumb.ScratchReg), thumb.KillOp(thumb.IPReg))
	}
}

// regPlusImmInScratch handles reg = reg + offset where loading the constant
// into the destination would destroy the base. A low scratch is borrowed
// and saved on the stack around the computation.
func (p *Planner) regPlusImmInScratch(s *seq, reg thumb.Reg, offset int64) {
	scratch := thumb.ScratchReg
	if reg == thumb.ScratchReg {
		scratch = thumb.R2
	}
	s.emit(thumb.TPUSH, thumb.RegOp(scratch))
	p.loadImm(s, scratch, offset)
	add := thumb.TADDrr
	if !thumb.IsLow(reg) {
		add = thumb.TADDhirr
	}
	s.emit(add, thumb.DefOp(reg), thumb.RegOp(reg), thumb.KillOp(scratch))
	s.emit(thumb.TPOP, thumb.DefOp(scratch))
}

// loadImm sets reg to n using the shortest of mov, mov+neg or a pool load
func (p *Planner) loadImm(s *seq, reg thumb.Reg, n int64) {
	switch {
	case n >= 0 && n <= 255:
		s.emit(thumb.TMOVi8, thumb.DefOp(reg), thumb.ImmOp(n))
	case n < 0 && n >= -255:
		s.emit(thumb.TMOVi8, thumb.DefOp(reg), thumb.ImmOp(-n))
		s.emit(thumb.TNEG, thumb.DefOp(reg), thumb.KillOp(reg))
	default:
		s.append(p.LoadConstPool(s.loc, reg, n))
	}
}

// Constant returns code setting dst to imm
func (p *Planner) Constant(loc thumb.Loc, dst thumb.Reg, imm int64) []thumb.Instr {
	s := &seq{loc: loc}
	isSub := imm < 0
	mag := abs64(imm)
	this := min(mag, 1<<8-1)
	mag -= this
	s.emit(thumb.TMOVi8, thumb.DefOp(dst), thumb.ImmOp(this))
	if mag > 0 {
		p.regPlusImmediate(s, dst, dst, mag)
	}
	if isSub {
		s.emit(thumb.TNEG, thumb.DefOp(dst), thumb.KillOp(dst))
	}
	return s.code
}

// LoadConstPool returns a load of value from the function constant pool
func (p *Planner) LoadConstPool(loc thumb.Loc, dst thumb.Reg, value int64) []thumb.Instr {
	idx := p.pool.Insert(int32(value), 4)
	return []thumb.Instr{
		thumb.New(thumb.TLDRcp, thumb.DefOp(dst), thumb.CPIOp(idx)).At(loc),
	}
}
