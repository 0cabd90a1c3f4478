// Package fixture reads machine functions from YAML documents. A fixture
// describes the frame produced by stack slot allocation and the code of
// each block in the textual instruction syntax of package thumb:
//
//	functions:
//	  - name: leaf
//	    frame:
//	      stack_size: 12
//	      objects:
//	        - {offset: -4, size: 4}
//	      callee_saved:
//	        - {reg: lr, fi: 0}
//	    blocks:
//	      - label: entry
//	        code:
//	          - tPUSH lr
//	          - "tSTRspi r0, fi#0, #0"
//	          - tPOP_RET pc<def>
//
// Instructions with immediates must be quoted: YAML reads " #" as the start
// of a comment. Every instruction keeps the YAML line it came from as its
// location.
package fixture

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/raymyers/ralph-frame/pkg/mach"
	"github.com/raymyers/ralph-frame/pkg/thumb"
)

// ErrInvalid is wrapped by every structural error in a fixture
var ErrInvalid = errors.New("invalid fixture")

// File is a fixture document
type File struct {
	Functions []Function `yaml:"functions"`
}

// Function describes one machine function
type Function struct {
	Name            string   `yaml:"name"`
	LiveIns         []string `yaml:"live_ins"`
	VarArgsSaveSize int64    `yaml:"varargs_save_size"`
	Frame           Frame    `yaml:"frame"`
	Blocks          []Block  `yaml:"blocks"`
}

// Frame is the layout computed before frame lowering
type Frame struct {
	StackSize         int64         `yaml:"stack_size"`
	MaxCallFrameSize  int64         `yaml:"max_call_frame_size"`
	VarSizedObjects   bool          `yaml:"var_sized_objects"`
	FrameAddressTaken bool          `yaml:"frame_address_taken"`
	Objects           []Object      `yaml:"objects"`
	CalleeSaved       []CalleeSaved `yaml:"callee_saved"`
}

// Object is a stack slot; its frame index is its position in the list
type Object struct {
	Offset int64 `yaml:"offset"`
	Size   int64 `yaml:"size"`
}

// CalleeSaved assigns a callee-saved register its slot
type CalleeSaved struct {
	Reg string `yaml:"reg"`
	FI  int    `yaml:"fi"`
}

// Block is a basic block. Code entries are kept as nodes so each
// instruction can be tagged with its line.
type Block struct {
	Label string      `yaml:"label"`
	Succs []string    `yaml:"succs"`
	Code  []yaml.Node `yaml:"code"`
}

// Parse decodes a fixture document. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("fixture: %w", err)
	}
	return &f, nil
}

// Load reads and builds the fixture at path
func Load(path string) ([]*mach.Function, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	f, err := Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	fns, err := f.Build()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fns, nil
}

// Build converts the document into machine functions
func (f *File) Build() ([]*mach.Function, error) {
	fns := make([]*mach.Function, 0, len(f.Functions))
	names := make(map[string]bool)
	for i := range f.Functions {
		fd := &f.Functions[i]
		if fd.Name == "" {
			return nil, fmt.Errorf("%w: function %d has no name", ErrInvalid, i)
		}
		if names[fd.Name] {
			return nil, fmt.Errorf("%w: duplicate function %s", ErrInvalid, fd.Name)
		}
		names[fd.Name] = true

		fn, err := fd.build()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fd.Name, err)
		}
		fns = append(fns, fn)
	}
	return fns, nil
}

func (fd *Function) build() (*mach.Function, error) {
	fn := mach.NewFunction(fd.Name)
	fn.VarArgsRegSaveSize = fd.VarArgsSaveSize

	for _, name := range fd.LiveIns {
		r, ok := thumb.ParseReg(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown live-in register %q", ErrInvalid, name)
		}
		fn.LiveIns = append(fn.LiveIns, r)
	}

	if err := fd.Frame.build(fn.Frame); err != nil {
		return nil, err
	}

	if len(fd.Blocks) == 0 {
		return nil, fmt.Errorf("%w: no blocks", ErrInvalid)
	}
	for i, bd := range fd.Blocks {
		label := bd.Label
		if label == "" {
			label = fmt.Sprintf("bb%d", i)
		}
		if fn.Block(label) != nil {
			return nil, fmt.Errorf("%w: duplicate block %s", ErrInvalid, label)
		}
		blk := fn.AddBlock(label)
		for j := range bd.Code {
			in, err := parseCode(&bd.Code[j])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", label, err)
			}
			blk.Append(in)
		}
	}

	// successors may refer forward
	for i, bd := range fd.Blocks {
		blk := fn.Blocks[i]
		for _, s := range bd.Succs {
			succ := fn.Block(s)
			if succ == nil {
				return nil, fmt.Errorf("%w: block %s: unknown successor %s", ErrInvalid, blk.Label, s)
			}
			blk.Succs = append(blk.Succs, succ)
		}
	}
	return fn, nil
}

func (fr *Frame) build(out *mach.FrameInfo) error {
	out.StackSize = fr.StackSize
	out.MaxCallFrameSize = fr.MaxCallFrameSize
	out.HasVarSizedObjects = fr.VarSizedObjects
	out.FrameAddressTaken = fr.FrameAddressTaken

	for _, o := range fr.Objects {
		size := o.Size
		if size == 0 {
			size = 4
		}
		out.CreateStackObject(o.Offset, size)
	}

	for _, cs := range fr.CalleeSaved {
		r, ok := thumb.ParseReg(cs.Reg)
		if !ok || !thumb.IsCalleeSaved(r) {
			return fmt.Errorf("%w: %q is not a callee-saved register", ErrInvalid, cs.Reg)
		}
		if cs.FI < 0 || cs.FI >= len(out.Objects) {
			return fmt.Errorf("%w: %s saved to missing object fi#%d", ErrInvalid, r, cs.FI)
		}
		out.CalleeSaved = append(out.CalleeSaved, mach.CalleeSavedInfo{Reg: r, FrameIdx: cs.FI})
	}
	return nil
}

// parseCode reads one instruction and tags it with its line
func parseCode(n *yaml.Node) (thumb.Instr, error) {
	if n.Kind != yaml.ScalarNode {
		return thumb.Instr{}, fmt.Errorf("%w: line %d: instruction must be a string", ErrInvalid, n.Line)
	}
	in, err := thumb.ParseInstr(n.Value)
	if err != nil {
		return thumb.Instr{}, fmt.Errorf("%w: line %d: %v", ErrInvalid, n.Line, err)
	}
	return in.At(thumb.Loc{Line: n.Line}), nil
}
