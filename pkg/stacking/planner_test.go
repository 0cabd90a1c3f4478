package stacking

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raymyers/ralph-frame/pkg/mach"
	"github.com/raymyers/ralph-frame/pkg/thumb"
)

func newPlanner() (*Planner, *mach.ConstantPool) {
	pool := &mach.ConstantPool{}
	return NewPlanner(pool, DefaultConfig().Thresholds), pool
}

func TestNumInstrs(t *testing.T) {
	p, _ := newPlanner()
	tests := []struct {
		name  string
		op    thumb.Opcode
		extra bool
		bytes int64
		bits  uint
		scale int64
		want  int
	}{
		{"zero", thumb.TADDi8, false, 0, 8, 1, 0},
		{"one chunk", thumb.TADDi8, false, 255, 8, 1, 1},
		{"chunk and remainder", thumb.TADDi8, false, 256, 8, 1, 2},
		{"three chunks", thumb.TADDi8, false, 765, 8, 1, 3},
		{"sp adjust", thumb.TSUBspi, false, 508, 7, 4, 1},
		{"sp adjust remainder", thumb.TSUBspi, false, 512, 7, 4, 2},
		{"addrspi fits", thumb.TADDrSPi, false, 1000, 8, 4, 1},
		{"addrspi zero", thumb.TADDrSPi, false, 0, 8, 4, 1},
		{"addrspi then i8", thumb.TADDrSPi, false, 1028, 8, 4, 2},
		{"addrspi then two i8", thumb.TADDrSPi, false, 2000, 8, 4, 5},
		{"extra", thumb.TADDrSPi, true, 400, 8, 4, 2},
		{"i3", thumb.TADDi3, false, 20, 3, 1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.NumInstrs(tt.op, tt.extra, tt.bytes, tt.bits, tt.scale)
			if got != tt.want {
				t.Errorf("NumInstrs(%s, %v, %d, %d, %d) = %d, want %d",
					tt.op, tt.extra, tt.bytes, tt.bits, tt.scale, got, tt.want)
			}
		})
	}
}

func TestRegPlusImmediateSequences(t *testing.T) {
	tests := []struct {
		name   string
		dst    thumb.Reg
		base   thumb.Reg
		offset int64
		want   []string
	}{
		{
			name: "sp relative fits one add",
			dst:  thumb.R4, base: thumb.SP, offset: 1000,
			want: []string{"tADDrSPi r4<def>, sp, #250"},
		},
		{
			name: "sp relative with unscaled remainder",
			dst:  thumb.R4, base: thumb.SP, offset: 403,
			want: []string{
				"tADDrSPi r4<def>, sp, #100",
				"tADDi3 r4<def>, r4<kill>, #3",
			},
		},
		{
			name: "sp relative below four",
			dst:  thumb.R1, base: thumb.SP, offset: 2,
			want: []string{
				"tADDrSPi r1<def>, sp, #0",
				"tADDi3 r1<def>, r1<kill>, #2",
			},
		},
		{
			name: "sp relative split",
			dst:  thumb.R0, base: thumb.SP, offset: 1028,
			want: []string{
				"tADDrSPi r0<def>, sp, #255",
				"tADDi8 r0<def>, r0<kill>, #8",
			},
		},
		{
			name: "sp decrement",
			dst:  thumb.SP, base: thumb.SP, offset: -16,
			want: []string{"tSUBspi sp<def>, sp, #4"},
		},
		{
			name: "sp increment in three chunks",
			dst:  thumb.SP, base: thumb.SP, offset: 1200,
			want: []string{
				"tADDspi sp<def>, sp, #127",
				"tADDspi sp<def>, sp, #127",
				"tADDspi sp<def>, sp, #46",
			},
		},
		{
			name: "low to low",
			dst:  thumb.R0, base: thumb.R4, offset: 10,
			want: []string{
				"tADDi3 r0<def>, r4<kill>, #7",
				"tADDi8 r0<def>, r0<kill>, #3",
			},
		},
		{
			name: "low subtract",
			dst:  thumb.R2, base: thumb.R2, offset: -200,
			want: []string{"tSUBi8 r2<def>, r2<kill>, #200"},
		},
		{
			name: "sp minus into low register",
			dst:  thumb.R1, base: thumb.SP, offset: -8,
			want: []string{
				"tMOVhir2lor r1<def>, sp",
				"tSUBi8 r1<def>, r1<kill>, #8",
			},
		},
		{
			name: "sp from frame pointer",
			dst:  thumb.SP, base: thumb.R7, offset: -8,
			want: []string{
				"tMOVlor2hir sp<def>, r7",
				"tSUBspi sp<def>, sp, #2",
			},
		},
		{
			name: "identity",
			dst:  thumb.SP, base: thumb.SP, offset: 0,
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newPlanner()
			got := p.RegPlusImmediate(thumb.Loc{}, tt.dst, tt.base, tt.offset)
			assert.Equal(t, tt.want, text(got))
		})
	}
}

func TestRegPlusImmediateFallsBackToPool(t *testing.T) {
	p, pool := newPlanner()
	got := p.RegPlusImmediate(thumb.Loc{Line: 7}, thumb.R4, thumb.SP, 2000)
	assert.Equal(t, []string{
		"tLDRcp r4<def>, cp#0",
		"tADDhirr r4<def>, r4<kill>, sp",
	}, text(got))

	v, ok := pool.Value(0)
	require.True(t, ok)
	assert.Equal(t, int32(2000), v)
	for _, in := range got {
		assert.Equal(t, 7, in.Loc.Line)
	}
}

func TestRegPlusImmediateSPFallback(t *testing.T) {
	p, _ := newPlanner()
	got := p.SPUpdate(thumb.Loc{}, -2048)
	assert.Equal(t, []string{
		"tMOVlor2hir r12<def>, r3<kill>",
		"tLDRcp r3<def>, cp#0",
		"tADDhirr sp<def>, sp, r3<kill>",
		"tMOVhir2lor r3<def>, r12<kill>",
	}, text(got))
}

func TestRegPlusImmediateSameRegisterBorrowsScratch(t *testing.T) {
	p, _ := newPlanner()
	got := p.RegPlusImmediate(thumb.Loc{}, thumb.R4, thumb.R4, 5000)
	assert.Equal(t, []string{
		"tPUSH r3",
		"tLDRcp r3<def>, cp#0",
		"tADDrr r4<def>, r4, r3<kill>",
		"tPOP r3<def>",
	}, text(got))

	got = p.RegPlusImmediate(thumb.Loc{}, thumb.R3, thumb.R3, 5000)
	assert.Equal(t, "tPUSH r2", got[0].String())
}

func TestSPUpdateMisaligned(t *testing.T) {
	p, _ := newPlanner()
	requirePanicsWith(t, ErrMisalignedSPAdjust, func() {
		p.RegPlusImmediate(thumb.Loc{}, thumb.SP, thumb.SP, -10)
	})
}

func TestRegPlusImmInRegSmallNegative(t *testing.T) {
	p, pool := newPlanner()

	// flags may change: subtract the magnitude
	got := p.RegPlusImmInReg(thumb.Loc{}, thumb.R0, thumb.R1, -100, true)
	assert.Equal(t, []string{
		"tMOVi8 r0<def>, #100",
		"tSUBrr r0<def>, r1<kill>, r0<kill>",
	}, text(got))

	// flags preserved: load the negated magnitude and add
	got = p.RegPlusImmInReg(thumb.Loc{}, thumb.R0, thumb.R1, -100, false)
	assert.Equal(t, []string{
		"tMOVi8 r0<def>, #100",
		"tNEG r0<def>, r0<kill>",
		"tADDrr r0<def>, r0<kill>, r1<kill>",
	}, text(got))
	assert.Equal(t, 0, pool.Len())
}

func TestLoadConstPoolDeduplicates(t *testing.T) {
	p, pool := newPlanner()
	a := p.LoadConstPool(thumb.Loc{}, thumb.R0, 70000)
	b := p.LoadConstPool(thumb.Loc{}, thumb.R5, 70000)
	c := p.LoadConstPool(thumb.Loc{}, thumb.R5, -70000)
	assert.Equal(t, "tLDRcp r0<def>, cp#0", a[0].String())
	assert.Equal(t, "tLDRcp r5<def>, cp#0", b[0].String())
	assert.Equal(t, "tLDRcp r5<def>, cp#1", c[0].String())
	assert.Equal(t, 2, pool.Len())
}

func testOffsets() []int64 {
	offsets := []int64{
		0, 1, 2, 3, 4, 7, 8, 12, 255, 256, 257, 508, 512, 1020, 1021, 1023,
		1024, 1028, 2000, 4096, 65535, 65536,
		-1, -3, -4, -7, -8, -255, -256, -508, -1020, -1024, -2000, -65536,
		math.MaxInt32, math.MaxInt32 - 3, math.MinInt32, math.MinInt32 + 4,
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 60; i++ {
		offsets = append(offsets, int64(int32(rng.Uint32())))
		offsets = append(offsets, int64(rng.Intn(4096))-2048)
	}
	return offsets
}

var testRegs = []thumb.Reg{
	thumb.R0, thumb.R2, thumb.R3, thumb.R4, thumb.R7,
	thumb.R8, thumb.R12, thumb.LR, thumb.SP,
}

func TestRegPlusImmediateSemantics(t *testing.T) {
	for _, dst := range testRegs {
		for _, base := range testRegs {
			for _, off := range testOffsets() {
				if dst == thumb.SP && base == thumb.SP && off&3 != 0 {
					continue
				}
				p, pool := newPlanner()
				code := p.RegPlusImmediate(thumb.Loc{}, dst, base, off)
				requireLegal(t, code)

				e := newEmu(pool)
				before := e.Regs
				require.NoError(t, e.Run(code))

				want := before[base] + uint32(off)
				require.Equal(t, want, e.Reg(dst), "%s = %s%+d via %v", dst, base, off, text(code))
				for r := thumb.R0; r <= thumb.PC; r++ {
					if r == dst || r == thumb.IPReg {
						continue
					}
					require.Equal(t, before[r], e.Reg(r), "%s clobbered by %v", r, text(code))
				}
			}
		}
	}
}

func TestRegPlusImmInRegSemantics(t *testing.T) {
	for _, dst := range testRegs {
		for _, base := range testRegs {
			for _, off := range testOffsets() {
				for _, cc := range []bool{true, false} {
					p, pool := newPlanner()
					code := p.RegPlusImmInReg(thumb.Loc{}, dst, base, off, cc)
					requireLegal(t, code)

					e := newEmu(pool)
					before := e.Regs
					require.NoError(t, e.Run(code))
					require.Equal(t, before[base]+uint32(off), e.Reg(dst),
						"%s = %s%+d via %v", dst, base, off, text(code))
					if dst != thumb.ScratchReg {
						require.Equal(t, before[thumb.ScratchReg], e.Reg(thumb.ScratchReg), "%v", text(code))
					}
				}
			}
		}
	}
}

func TestConstantSemantics(t *testing.T) {
	for _, dst := range []thumb.Reg{thumb.R0, thumb.R3, thumb.R6, thumb.R8} {
		for _, v := range testOffsets() {
			p, pool := newPlanner()
			code := p.Constant(thumb.Loc{}, dst, v)
			requireLegal(t, code)
			require.Equal(t, thumb.TMOVi8, code[0].Op)

			e := newEmu(pool)
			before := e.Regs
			require.NoError(t, e.Run(code))
			require.Equal(t, uint32(v), e.Reg(dst), "%s = %d via %v", dst, v, text(code))
			require.Equal(t, before[thumb.SP], e.Reg(thumb.SP))
		}
	}
}

func TestConstantShortForms(t *testing.T) {
	p, _ := newPlanner()
	assert.Equal(t, []string{"tMOVi8 r0<def>, #200"}, text(p.Constant(thumb.Loc{}, thumb.R0, 200)))
	assert.Equal(t, []string{
		"tMOVi8 r0<def>, #8",
		"tNEG r0<def>, r0<kill>",
	}, text(p.Constant(thumb.Loc{}, thumb.R0, -8)))
	assert.Equal(t, []string{
		"tMOVi8 r1<def>, #255",
		"tADDi8 r1<def>, r1<kill>, #45",
		"tNEG r1<def>, r1<kill>",
	}, text(p.Constant(thumb.Loc{}, thumb.R1, -300)))
}
