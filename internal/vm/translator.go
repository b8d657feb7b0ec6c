// Package vm translates GPU virtual addresses by walking the page tables
// the same way the hardware does, for each supported page table era.
package vm

import (
	"errors"
	"iter"

	"gpudbg/internal/common"
	"gpudbg/internal/gpu"
	"gpudbg/internal/port"
	"gpudbg/internal/regs"
)

// EntryKind tags the role an entry played in a walk.
type EntryKind int

const (
	KindBase EntryKind = iota
	KindPDE
	KindPTE
	KindPTEAsPDE
)

func (k EntryKind) String() string {
	switch k {
	case KindBase:
		return "BASE"
	case KindPDE:
		return "PDE"
	case KindPTE:
		return "PTE"
	case KindPTEAsPDE:
		return "PTE-as-PDE"
	}
	return "?"
}

// Entry is one table entry read during a walk. Level counts down from the
// context depth; the leaf table is level 0 and an entry reached through a
// further hop is level -1.
type Entry struct {
	Kind  EntryKind
	Level int
	Index uint64
	Addr  uint64
	Space gpu.Space
	PDE   PDE
	PTE   PTE
}

// Chunk is the translation of one contiguous piece of a request, never
// crossing a page or fragment boundary.
type Chunk struct {
	VA  uint64
	Len uint64
	// Phys is the MC address for device pages and the bus address for system pages.
	Phys  uint64
	Space gpu.Space
	// PortSpace and PortAddr locate the bytes for the access port.
	PortSpace gpu.Space
	PortAddr  uint64
	PTE       PTE
	// PRT marks a partially resident page: unbacked and skipped.
	PRT bool
}

// Tracer receives the steps of a walk.
type Tracer interface {
	Context(ctx *Context)
	Entry(e Entry)
	Chunk(c Chunk, err error)
}

// Translator resolves virtual addresses through an access port. It keeps
// no state between calls; every request re-reads registers and tables.
type Translator struct {
	port port.Port
	regs *regs.Table
	cfg  *Config
	log  common.Logger
}

func NewTranslator(p port.Port, t *regs.Table, cfg *Config) *Translator {
	if cfg == nil {
		cfg = NewConfig(0)
	}
	if t == nil {
		t = regs.Builtin()
	}
	return &Translator{port: p, regs: t, cfg: cfg, log: common.OrNoOp(cfg.Logger).Named("vm")}
}

// Config returns the translator configuration.
func (t *Translator) Config() *Config { return t.cfg }

// Context reads the current page table configuration for id.
func (t *Translator) Context(id gpu.CtxID) (*Context, error) {
	return loadContext(t.port, t.regs, t.cfg, id)
}

// Translate walks [addr, addr+length) page by page. Unmapped pages yield
// an error and iteration continues; any other error ends it.
func (t *Translator) Translate(id gpu.CtxID, addr, length uint64) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		w, err := t.walker(id, nil)
		if err != nil {
			yield(Chunk{VA: addr}, err)
			return
		}
		w.run(addr, length, yield)
	}
}

// Trace walks the range reporting every entry to tr. Unmapped pages are
// reported and skipped; the returned error is the one that stopped the walk.
func (t *Translator) Trace(id gpu.CtxID, addr, length uint64, tr Tracer) error {
	w, err := t.walker(id, tr)
	if err != nil {
		return err
	}
	tr.Context(w.ctx)

	var stop error
	w.run(addr, length, func(c Chunk, err error) bool {
		tr.Chunk(c, err)
		if err != nil && !errors.Is(err, common.ErrUnmappedAddress) {
			stop = err
		}
		return true
	})
	return stop
}

// Read fills buf from virtual memory. PRT pages read as zero; any other
// unmapped page fails the request.
func (t *Translator) Read(id gpu.CtxID, addr uint64, buf []byte) error {
	var off uint64
	for c, err := range t.Translate(id, addr, uint64(len(buf))) {
		if err != nil {
			return err
		}
		dst := buf[off : off+c.Len]
		if c.PRT {
			clear(dst)
		} else if err := t.port.ReadMem(c.PortSpace, c.PortAddr, dst); err != nil {
			return portErr(id, c.VA, err)
		}
		off += c.Len
	}
	return nil
}

// Write stores data to virtual memory. PRT pages are skipped.
func (t *Translator) Write(id gpu.CtxID, addr uint64, data []byte) error {
	var off uint64
	for c, err := range t.Translate(id, addr, uint64(len(data))) {
		if err != nil {
			return err
		}
		if !c.PRT {
			if err := t.port.WriteMem(c.PortSpace, c.PortAddr, data[off:off+c.Len]); err != nil {
				return portErr(id, c.VA, err)
			}
		}
		off += c.Len
	}
	return nil
}

// ReadWords reads n little-endian words from virtual memory.
func (t *Translator) ReadWords(id gpu.CtxID, addr uint64, n int) ([]uint32, error) {
	buf := make([]byte, 4*n)
	if err := t.Read(id, addr, buf); err != nil {
		return nil, err
	}
	return port.BytesToWords(buf), nil
}

// Mapped reports whether the page holding addr is backed by memory.
func (t *Translator) Mapped(id gpu.CtxID, addr uint64) bool {
	w, err := t.walker(id, nil)
	if err != nil {
		return false
	}
	c, err := w.resolve(addr)
	return err == nil && !c.PRT
}

func (t *Translator) walker(id gpu.CtxID, tr Tracer) (*walker, error) {
	ctx, err := t.Context(id)
	if err != nil {
		t.log.Logf(common.SeverityDebug, "context %s: %v", id, err)
		return nil, err
	}
	return &walker{port: t.port, ctx: ctx, lay: layoutFor(ctx.Era), tr: tr, log: t.log}, nil
}

func portErr(id gpu.CtxID, va uint64, err error) error {
	if common.CodeOf(err) == gpu.ErrPortAccess {
		return err
	}
	return common.NewErrorWithAddr(gpu.ErrSevError, gpu.ErrPortAccess, id.VMID, gpu.Addr(va), err.Error())
}
