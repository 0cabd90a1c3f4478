package fixture

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raymyers/ralph-frame/pkg/mach"
	"github.com/raymyers/ralph-frame/pkg/thumb"
)

const twoFuncs = `functions:
  - name: leaf
    live_ins: [r0, r3]
    frame:
      stack_size: 12
      objects:
        - {offset: -4, size: 4}
        - {offset: -12}
      callee_saved:
        - {reg: lr, fi: 0}
    blocks:
      - label: entry
        succs: [exit]
        code:
          - tPUSH lr
          - "tSTRspi r0, fi#1, #0"
      - label: exit
        code:
          - tPOP_RET pc<def>
  - name: variadic
    varargs_save_size: 8
    frame:
      max_call_frame_size: 600
      var_sized_objects: true
      frame_address_taken: true
    blocks:
      - code: [tBX_RET]
`

func build(t *testing.T, doc string) ([]*mach.Function, error) {
	t.Helper()
	f, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	return f.Build()
}

func TestBuild(t *testing.T) {
	fns, err := build(t, twoFuncs)
	require.NoError(t, err)
	require.Len(t, fns, 2)

	leaf := fns[0]
	assert.Equal(t, "leaf", leaf.Name)
	assert.Equal(t, []thumb.Reg{thumb.R0, thumb.R3}, leaf.LiveIns)
	assert.Equal(t, int64(12), leaf.Frame.StackSize)
	require.Len(t, leaf.Frame.Objects, 2)
	assert.Equal(t, int64(4), leaf.Frame.Objects[1].Size, "size defaults to a word")
	assert.Equal(t, []mach.CalleeSavedInfo{{Reg: thumb.LR, FrameIdx: 0}}, leaf.Frame.CalleeSaved)

	entry := leaf.Entry()
	require.Len(t, entry.Instrs, 2)
	assert.Equal(t, "tSTRspi r0, fi#1, #0", entry.Instrs[1].String())
	assert.Equal(t, 16, entry.Instrs[1].Loc.Line)
	assert.Equal(t, []*mach.Block{leaf.Block("exit")}, entry.Succs)

	v := fns[1]
	assert.Equal(t, int64(8), v.VarArgsRegSaveSize)
	assert.Equal(t, int64(600), v.Frame.MaxCallFrameSize)
	assert.True(t, v.Frame.HasVarSizedObjects)
	assert.True(t, v.Frame.FrameAddressTaken)
	assert.Equal(t, "bb0", v.Entry().Label)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			"missing name",
			"functions:\n  - blocks:\n      - code: [tBX_RET]\n",
			"has no name",
		},
		{
			"duplicate function",
			"functions:\n  - name: f\n    blocks: [{code: [tBX_RET]}]\n  - name: f\n    blocks: [{code: [tBX_RET]}]\n",
			"duplicate function f",
		},
		{
			"no blocks",
			"functions:\n  - name: f\n",
			"no blocks",
		},
		{
			"duplicate block",
			"functions:\n  - name: f\n    blocks:\n      - {label: a, code: [tBX_RET]}\n      - {label: a, code: [tBX_RET]}\n",
			"duplicate block a",
		},
		{
			"unknown successor",
			"functions:\n  - name: f\n    blocks:\n      - {label: a, succs: [b], code: [tBX_RET]}\n",
			"unknown successor b",
		},
		{
			"bad instruction",
			"functions:\n  - name: f\n    blocks:\n      - code:\n          - tBX_RET\n          - tFROB r0\n",
			"line 6",
		},
		{
			"nested instruction",
			"functions:\n  - name: f\n    blocks:\n      - code:\n          - [tBX_RET]\n",
			"must be a string",
		},
		{
			"bad live-in",
			"functions:\n  - name: f\n    live_ins: [r99]\n    blocks: [{code: [tBX_RET]}]\n",
			"unknown live-in",
		},
		{
			"caller-saved register",
			"functions:\n  - name: f\n    frame:\n      objects: [{offset: -4}]\n      callee_saved: [{reg: r0, fi: 0}]\n    blocks: [{code: [tBX_RET]}]\n",
			"not a callee-saved register",
		},
		{
			"missing slot",
			"functions:\n  - name: f\n    frame:\n      callee_saved: [{reg: r4, fi: 2}]\n    blocks: [{code: [tBX_RET]}]\n",
			"missing object fi#2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := build(t, tt.doc)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid), "%v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader("functions:\n  - name: f\n    frame:\n      stacksize: 4\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stacksize")
}

func TestParseEmpty(t *testing.T) {
	f, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	fns, err := f.Build()
	require.NoError(t, err)
	assert.Empty(t, fns)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.yaml")
	require.NoError(t, os.WriteFile(path, []byte(twoFuncs), 0644))
	fns, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, fns, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("functions:\n  - name: f\n"), 0644))
	_, err = Load(bad)
	assert.ErrorContains(t, err, bad)
}
