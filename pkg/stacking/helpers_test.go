package stacking

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raymyers/ralph-frame/pkg/emu"
	"github.com/raymyers/ralph-frame/pkg/mach"
	"github.com/raymyers/ralph-frame/pkg/thumb"
)

// initialSP is where test code starts with the stack
const initialSP = 0x8000_0000

func newThumb(t *testing.T, mutate ...func(*Config)) *thumbLowering {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	fl, err := New(cfg)
	require.NoError(t, err)
	return fl.(*thumbLowering)
}

func withTarget(target Target) func(*Config) {
	return func(c *Config) { c.Target = target }
}

func withFP(c *Config) {
	c.DisableFramePointerElim = true
}

// parse builds instructions from their text form
func parse(lines ...string) []thumb.Instr {
	code := make([]thumb.Instr, len(lines))
	for i, l := range lines {
		code[i] = thumb.MustParse(l)
	}
	return code
}

// text renders instructions for comparison
func text(code []thumb.Instr) []string {
	out := make([]string, len(code))
	for i, in := range code {
		out[i] = in.String()
	}
	return out
}

// requirePanicsWith runs f and requires it to panic with an error wrapping target
func requirePanicsWith(t *testing.T, target error, f func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic wrapping %v", target)
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		assert.ErrorIs(t, err, target)
	}()
	f()
}

// requireLegal checks the encoding of every instruction
func requireLegal(t *testing.T, code []thumb.Instr) {
	t.Helper()
	for _, in := range code {
		require.NoError(t, thumb.Check(in), "in %v", text(code))
	}
}

// newEmu returns an emulator with every register holding a distinct value
func newEmu(pool *mach.ConstantPool) *emu.Emulator {
	e := emu.New(pool)
	for r := thumb.R0; r <= thumb.PC; r++ {
		e.SetReg(r, 0x1000_0000+uint32(r)*0x111)
	}
	e.SetReg(thumb.SP, initialSP)
	return e
}

// dump renders state for failure messages
func dump(v ...any) string {
	cfg := spew.ConfigState{Indent: "  ", SortKeys: true, DisablePointerAddresses: true}
	return cfg.Sdump(v...)
}
