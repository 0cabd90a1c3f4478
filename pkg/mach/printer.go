package mach

import (
	"fmt"
	"io"

	"github.com/raymyers/ralph-frame/pkg/thumb"
)

// Printer outputs machine functions in a readable format
type Printer struct {
	w    io.Writer
	code *thumb.Printer
}

// NewPrinter creates a new function printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, code: thumb.NewPrinter(w)}
}

// PrintFunction prints the frame summary, constant pool and blocks of fn
func (p *Printer) PrintFunction(fn *Function) {
	fmt.Fprintf(p.w, "%s:\n", fn.Name)

	if fr := fn.Frame; fr != nil {
		fmt.Fprintf(p.w, "  ; stacksize = %d\n", fr.StackSize)
		if fr.MaxCallFrameSize > 0 {
			fmt.Fprintf(p.w, "  ; maxcallframe = %d\n", fr.MaxCallFrameSize)
		}
		for i, obj := range fr.Objects {
			fmt.Fprintf(p.w, "  ; fi#%d: offset %d, size %d\n", i, obj.Offset, obj.Size)
		}
	}

	if fn.ConstPool != nil {
		for i, c := range fn.ConstPool.Entries() {
			fmt.Fprintf(p.w, "  ; cp#%d: %d (align %d)\n", i, c.Value, c.Align)
		}
	}

	for _, b := range fn.Blocks {
		fmt.Fprintf(p.w, "%s:\n", b.Label)
		p.code.PrintCode(b.Instrs)
	}
}
