package mach

import "sync"

// Constant is one constant pool entry
type Constant struct {
	Value int32
	Align int
}

// ConstantPool is the per-function literal pool addressed by tLDRcp.
// Insert may be called from any pass without external locking.
type ConstantPool struct {
	mu      sync.Mutex
	entries []Constant
}

// Insert returns the index of value in the pool, adding it when missing.
// Equal values share an entry whose alignment is the largest requested.
func (p *ConstantPool) Insert(value int32, align int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.entries {
		if c.Value == value {
			if align > c.Align {
				p.entries[i].Align = align
			}
			return i
		}
	}
	p.entries = append(p.entries, Constant{Value: value, Align: align})
	return len(p.entries) - 1
}

// Value returns the constant at idx
func (p *ConstantPool) Value(idx int) (int32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.entries) {
		return 0, false
	}
	return p.entries[idx].Value, true
}

// Entries returns a snapshot of the pool
func (p *ConstantPool) Entries() []Constant {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Constant, len(p.entries))
	copy(out, p.entries)
	return out
}

// Len returns the number of entries
func (p *ConstantPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
