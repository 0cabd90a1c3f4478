package thumb

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseInstr reads the textual form produced by Instr.String:
//
//	tADDrSPi r4<def>, fi#2, #0
//	tLDRcp r0<def>, cp#1
//	tBL @callee
func ParseInstr(s string) (Instr, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Instr{}, fmt.Errorf("empty instruction")
	}
	name, rest, _ := strings.Cut(s, " ")
	op, ok := LookupOpcode(name)
	if !ok {
		return Instr{}, fmt.Errorf("unknown opcode %q", name)
	}
	in := Instr{Op: op}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return in, nil
	}
	for _, field := range strings.Split(rest, ",") {
		o, err := parseOperand(strings.TrimSpace(field))
		if err != nil {
			return Instr{}, fmt.Errorf("%s: %w", name, err)
		}
		in.Ops = append(in.Ops, o)
	}
	return in, nil
}

// MustParse is ParseInstr for tests and tables; it panics on error
func MustParse(s string) Instr {
	in, err := ParseInstr(s)
	if err != nil {
		panic(err)
	}
	return in
}

func parseOperand(s string) (Operand, error) {
	switch {
	case s == "":
		return Operand{}, fmt.Errorf("empty operand")
	case strings.HasPrefix(s, "#"):
		v, err := strconv.ParseInt(s[1:], 0, 64)
		if err != nil {
			return Operand{}, fmt.Errorf("bad immediate %q", s)
		}
		return ImmOp(v), nil
	case strings.HasPrefix(s, "fi#"):
		v, err := strconv.Atoi(s[3:])
		if err != nil {
			return Operand{}, fmt.Errorf("bad frame index %q", s)
		}
		return FIOp(v), nil
	case strings.HasPrefix(s, "cp#"):
		v, err := strconv.Atoi(s[3:])
		if err != nil {
			return Operand{}, fmt.Errorf("bad constant pool index %q", s)
		}
		return CPIOp(v), nil
	case strings.HasPrefix(s, "@"):
		return SymOp(s[1:]), nil
	}

	name, flags, _ := strings.Cut(s, "<")
	r, ok := ParseReg(name)
	if !ok {
		return Operand{}, fmt.Errorf("unknown register %q", name)
	}
	o := RegOp(r)
	flags = strings.ReplaceAll(strings.TrimSuffix(flags, ">"), "><", ",")
	if flags != "" {
		for _, f := range strings.Split(flags, ",") {
			switch f {
			case "def":
				o.Def = true
			case "kill", "dead":
				o.Kill = true
			default:
				return Operand{}, fmt.Errorf("unknown register flag %q", f)
			}
		}
	}
	return o, nil
}
