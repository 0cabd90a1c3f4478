package thumb

import (
	"fmt"
	"io"
)

// Printer writes Thumb instructions one per line
type Printer struct {
	w io.Writer

	// ShowLoc appends the source location tag as a trailing comment
	ShowLoc bool
}

// NewPrinter creates a new instruction printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintInstr outputs a single instruction
func (p *Printer) PrintInstr(in Instr) {
	if p.ShowLoc && in.Loc.Line != 0 {
		fmt.Fprintf(p.w, "\t%s\t; line %d\n", in, in.Loc.Line)
		return
	}
	fmt.Fprintf(p.w, "\t%s\n", in)
}

// PrintCode outputs an instruction sequence
func (p *Printer) PrintCode(code []Instr) {
	for _, in := range code {
		p.PrintInstr(in)
	}
}
