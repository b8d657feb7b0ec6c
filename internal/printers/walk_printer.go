package printers

import (
	"fmt"
	"io"

	"github.com/xlab/treeprint"

	"gpudbg/internal/vm"
)

// WalkTrace renders page table walks as a tree: one branch per chunk,
// with the entries read for it nested level by level.
type WalkTrace struct {
	root    treeprint.Tree
	entries []vm.Entry
	chunks  int
	failed  int
}

func NewWalkTrace() *WalkTrace {
	return &WalkTrace{root: treeprint.NewWithRoot("walk")}
}

func (t *WalkTrace) Context(ctx *vm.Context) {
	t.root.SetValue(ctx.String())
}

func (t *WalkTrace) Entry(e vm.Entry) {
	t.entries = append(t.entries, e)
}

func (t *WalkTrace) Chunk(c vm.Chunk, err error) {
	t.chunks++
	var head string
	switch {
	case err != nil:
		t.failed++
		head = fmt.Sprintf("0x%x +0x%x: %v", c.VA, c.Len, err)
	case c.PRT:
		head = fmt.Sprintf("0x%x +0x%x: prt, skipped", c.VA, c.Len)
	default:
		head = fmt.Sprintf("0x%x +0x%x -> %s 0x%x (port %s 0x%x)", c.VA, c.Len, c.Space, c.Phys, c.PortSpace, c.PortAddr)
	}

	node := t.root.AddBranch(head)
	for _, e := range t.entries {
		node = node.AddBranch(EntryString(e))
	}
	t.entries = t.entries[:0]
}

// Chunks returns the number of chunks seen and how many of them failed.
func (t *WalkTrace) Chunks() (int, int) { return t.chunks, t.failed }

func (t *WalkTrace) String() string { return t.root.String() }

// WriteTo renders the trace to w.
func (t *WalkTrace) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(t.root.Bytes())
	return int64(n), err
}

// EntryString renders one table entry of a walk.
func EntryString(e vm.Entry) string {
	switch e.Kind {
	case vm.KindBase:
		return fmt.Sprintf("%s depth=%d %s %s", e.Kind, e.Level, e.Space, e.PDE)
	case vm.KindPDE:
		return fmt.Sprintf("%s%d [%d] @%s 0x%x %s", e.Kind, e.Level, e.Index, e.Space, e.Addr, e.PDE)
	}
	return fmt.Sprintf("%s L%d [%d] @%s 0x%x %s", e.Kind, e.Level, e.Index, e.Space, e.Addr, e.PTE)
}
