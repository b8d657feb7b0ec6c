// Package regs holds register tables: the ASIC-specific mapping between
// register names and dword offsets. Tables are input data; the decoder uses
// them for symbolic field decode and shader pointer discovery, the VM
// translator to locate page table configuration registers.
package regs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Register is one named register at a dword offset.
type Register struct {
	Name string
	Addr uint32
}

// Table is a bidirectional name/offset map. The zero value is not usable;
// use NewTable.
type Table struct {
	byName map[string]Register
	byAddr map[uint32]string
}

func NewTable(regs ...Register) *Table {
	t := &Table{
		byName: make(map[string]Register, len(regs)),
		byAddr: make(map[uint32]string, len(regs)),
	}
	for _, r := range regs {
		t.Add(r)
	}
	return t
}

// canon strips the "mm"/"reg" prefixes some register databases carry.
func canon(name string) string {
	name = strings.TrimSpace(name)
	switch {
	case strings.HasPrefix(name, "mm") && len(name) > 2 && name[2] >= 'A' && name[2] <= 'Z':
		return name[2:]
	case strings.HasPrefix(name, "reg") && len(name) > 3 && name[3] >= 'A' && name[3] <= 'Z':
		return name[3:]
	}
	return name
}

// Add inserts or replaces r. The first name registered at an offset wins for NameAt.
func (t *Table) Add(r Register) {
	r.Name = canon(r.Name)
	t.byName[r.Name] = r
	if _, ok := t.byAddr[r.Addr]; !ok {
		t.byAddr[r.Addr] = r.Name
	}
}

// Merge copies every register of o into t, o's entries replacing t's.
func (t *Table) Merge(o *Table) {
	if o == nil {
		return
	}
	for _, name := range o.Names() {
		t.Add(o.byName[name])
	}
}

func (t *Table) Lookup(name string) (Register, bool) {
	r, ok := t.byName[canon(name)]
	return r, ok
}

// Addr returns the offset of name or an error naming the missing register.
func (t *Table) Addr(name string) (uint32, error) {
	r, ok := t.Lookup(name)
	if !ok {
		return 0, fmt.Errorf("register %s not in table", canon(name))
	}
	return r.Addr, nil
}

func (t *Table) NameAt(addr uint32) (string, bool) {
	n, ok := t.byAddr[addr]
	return n, ok
}

// Symbol names addr, falling back to a hex placeholder.
func (t *Table) Symbol(addr uint32) string {
	if t != nil {
		if n, ok := t.byAddr[addr]; ok {
			return n
		}
	}
	return fmt.Sprintf("reg_0x%x", addr)
}

func (t *Table) Len() int { return len(t.byName) }

// Names returns the register names in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.byName))
	for n := range t.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FromMap builds a table from name = offset pairs as found in an ini section.
// Offsets accept any strconv base prefix.
func FromMap(m map[string]string) (*Table, error) {
	t := NewTable()
	for name, v := range m {
		addr, err := strconv.ParseUint(strings.TrimSpace(v), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("register %s: bad offset %q: %w", name, v, err)
		}
		t.Add(Register{Name: name, Addr: uint32(addr)})
	}
	return t, nil
}
