// Package mach defines the machine function model the frame lowering passes
// operate on: basic blocks of Thumb instructions, the frame layout produced
// by stack slot allocation, the function constant pool and the derived
// per-function layout state written by prologue insertion.
package mach

import (
	"fmt"

	"github.com/raymyers/ralph-frame/pkg/thumb"
)

// Block is a basic block. Instructions are addressed by index; passes that
// insert or remove code return the index where traversal should resume.
type Block struct {
	Label  string
	Instrs []thumb.Instr
	Succs  []*Block
}

// Len returns the number of instructions in the block
func (b *Block) Len() int {
	return len(b.Instrs)
}

// Append adds an instruction at the end of the block
func (b *Block) Append(in thumb.Instr) {
	b.Instrs = append(b.Instrs, in)
}

// InsertAt inserts code before position idx and returns the index of the
// instruction that was at idx.
func (b *Block) InsertAt(idx int, code ...thumb.Instr) int {
	if idx < 0 || idx > len(b.Instrs) {
		panic(fmt.Sprintf("mach: insert position %d out of range in block %s", idx, b.Label))
	}
	if len(code) == 0 {
		return idx
	}
	b.Instrs = append(b.Instrs, code...)
	copy(b.Instrs[idx+len(code):], b.Instrs[idx:len(b.Instrs)-len(code)])
	copy(b.Instrs[idx:], code)
	return idx + len(code)
}

// Replace substitutes the instruction at idx
func (b *Block) Replace(idx int, in thumb.Instr) {
	b.Instrs[idx] = in
}

// RemoveAt deletes the instruction at idx
func (b *Block) RemoveAt(idx int) {
	b.Instrs = append(b.Instrs[:idx], b.Instrs[idx+1:]...)
}

// Splice replaces the instruction at idx with code, which may be empty,
// and returns the index just past the inserted code.
func (b *Block) Splice(idx int, code ...thumb.Instr) int {
	b.RemoveAt(idx)
	return b.InsertAt(idx, code...)
}

// IsReturnBlock reports whether the block ends in a return
func (b *Block) IsReturnBlock() bool {
	return len(b.Instrs) > 0 && b.Instrs[len(b.Instrs)-1].Desc().IsRet
}

// Function is a function under compilation
type Function struct {
	Name      string
	Blocks    []*Block
	Frame     *FrameInfo
	ConstPool *ConstantPool
	LiveIns   []thumb.Reg

	// Size of the register save area a variadic function allocates on
	// entry for its unnamed register arguments.
	VarArgsRegSaveSize int64

	// Info is the derived layout state, reset by prologue insertion
	Info *FuncInfo
}

// NewFunction creates an empty function with a fresh frame and pool
func NewFunction(name string) *Function {
	return &Function{
		Name:      name,
		Frame:     &FrameInfo{},
		ConstPool: &ConstantPool{},
		Info:      NewFuncInfo(),
	}
}

// AddBlock appends a new block
func (f *Function) AddBlock(label string) *Block {
	b := &Block{Label: label}
	f.Blocks = append(f.Blocks, b)
	return b
}

// Entry returns the entry block
func (f *Function) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// Block looks up a block by label
func (f *Function) Block(label string) *Block {
	for _, b := range f.Blocks {
		if b.Label == label {
			return b
		}
	}
	return nil
}

// IsLiveIn reports whether r is live on entry to the function
func (f *Function) IsLiveIn(r thumb.Reg) bool {
	for _, l := range f.LiveIns {
		if l == r {
			return true
		}
	}
	return false
}

// HasFrameIndices reports whether any instruction still references a frame index
func (f *Function) HasFrameIndices() bool {
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if in.FrameIndexOperand() >= 0 {
				return true
			}
		}
	}
	return false
}

// NumInstrs returns the total instruction count of the function
func (f *Function) NumInstrs() int {
	n := 0
	for _, b := range f.Blocks {
		n += len(b.Instrs)
	}
	return n
}
