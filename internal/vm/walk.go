package vm

import (
	"errors"

	"gpudbg/internal/common"
	"gpudbg/internal/gpu"
	"gpudbg/internal/port"
)

const (
	entryBytes   = 8
	dirIndexMask = 0x1FF
	maxPageShift = 47
)

// walker holds one request's context. It lives for a single Translate,
// Trace, Read or Write call.
type walker struct {
	port port.Port
	ctx  *Context
	lay  layout
	tr   Tracer
	log  common.Logger
}

func (w *walker) emit(e Entry) {
	if w.tr != nil {
		w.tr.Entry(e)
	}
}

func (w *walker) unmapped(addr uint64, msg string) error {
	w.log.Logf(common.SeverityDebug, "%s 0x%x: %s", w.ctx.ID, addr, msg)
	return common.NewErrorWithAddr(gpu.ErrSevWarn, gpu.ErrUnmappedAddress, w.ctx.ID.VMID, gpu.Addr(addr), msg)
}

func (w *walker) run(addr, length uint64, yield func(Chunk, error) bool) {
	for length > 0 {
		c, err := w.resolve(addr)
		if c.Len == 0 {
			c.Len = gpu.PageSize - addr%gpu.PageSize
		}
		c.VA = addr
		c.Len = min(c.Len, length)
		if !yield(c, err) {
			return
		}
		if err != nil && !errors.Is(err, common.ErrUnmappedAddress) {
			return
		}
		addr += c.Len
		length -= c.Len
	}
}

// resolve walks the tables for the page holding addr. A walk reads at most
// depth+1 entries plus one further hop, whatever the entries contain.
func (w *walker) resolve(addr uint64) (Chunk, error) {
	ctx := w.ctx
	if addr < ctx.Start || addr > ctx.End {
		return Chunk{}, w.unmapped(addr, "outside context span")
	}
	va := addr - ctx.Start
	blockBits := 9 + uint(min(ctx.BlockSize, 15))
	depth := ctx.Depth & 3

	var tbl uint64
	var space gpu.Space
	var bfs uint
	if ctx.Era == EraA {
		tbl, space = ctx.Base, gpu.SpaceDevice
		w.emit(Entry{Kind: KindBase, Level: depth, Addr: tbl, Space: space, PDE: PDE{Raw: tbl, Valid: true, Base: tbl}})
	} else {
		base := w.lay.pde(ctx.Base)
		tbl, space, bfs = base.Base, spaceOf(base.System), base.BFS
		w.emit(Entry{Kind: KindBase, Level: depth, Space: space, PDE: base})
	}

	for level := depth; level >= 1; level-- {
		shift := 12 + blockBits + 9*uint(level-1)
		idx := va >> shift
		if level != depth {
			idx &= dirIndexMask
		}
		ea := tbl + idx*entryBytes
		raw, err := w.readEntry(ea, space)
		if err != nil {
			return Chunk{}, err
		}

		pde := w.lay.pde(raw)
		if pde.IsPTE {
			pte := w.lay.pte(raw)
			w.emit(Entry{Kind: KindPTE, Level: level, Index: idx, Addr: ea, Space: space, PTE: pte})
			return w.leaf(addr, va, pte, pageMask(shift-12))
		}
		w.emit(Entry{Kind: KindPDE, Level: level, Index: idx, Addr: ea, Space: space, PDE: pde})
		if !pde.Valid {
			return Chunk{}, w.unmapped(addr, "invalid PDE")
		}
		tbl, space, bfs = pde.Base, spaceOf(pde.System), pde.BFS
	}

	idx := va >> 12
	if depth > 0 {
		idx &= (1 << blockBits) - 1
	}
	ea := tbl + idx*entryBytes
	raw, err := w.readEntry(ea, space)
	if err != nil {
		return Chunk{}, err
	}
	pte := w.lay.pte(raw)
	if !pte.Further {
		w.emit(Entry{Kind: KindPTE, Level: 0, Index: idx, Addr: ea, Space: space, PTE: pte})
		return w.leaf(addr, va, pte, pageMask(max(bfs, pte.Fragment)))
	}

	// The PTE points at one more table of 4 KiB pages spanning its fragment.
	w.emit(Entry{Kind: KindPTEAsPDE, Level: 0, Index: idx, Addr: ea, Space: space, PTE: pte})
	sub := (va >> 12) & ((1 << min(pte.Fragment, maxPageShift-12)) - 1)
	ea = pte.Base + sub*entryBytes
	space = spaceOf(pte.System)
	raw, err = w.readEntry(ea, space)
	if err != nil {
		return Chunk{}, err
	}
	pte = w.lay.pte(raw)
	w.emit(Entry{Kind: KindPTE, Level: -1, Index: sub, Addr: ea, Space: space, PTE: pte})
	if pte.Further {
		return Chunk{}, common.NewErrorWithAddr(gpu.ErrSevError, gpu.ErrWalkBound, ctx.ID.VMID, gpu.Addr(addr),
			"further bit set past the extra level")
	}
	return w.leaf(addr, va, pte, pageMask(0))
}

// leaf turns the final PTE into a chunk. mask covers the page or fragment.
func (w *walker) leaf(addr, va uint64, pte PTE, mask uint64) (Chunk, error) {
	c := Chunk{PTE: pte, Len: mask + 1 - (va & mask)}
	if !pte.Valid {
		if pte.PRT {
			c.PRT = true
			return c, nil
		}
		return c, w.unmapped(addr, "invalid PTE")
	}

	c.Phys = (pte.Base &^ mask) | (va & mask)
	if pte.System {
		cpu, err := w.port.BusToCPU(c.Phys)
		if err != nil {
			return c, err
		}
		c.Space, c.PortSpace, c.PortAddr = gpu.SpaceSystem, gpu.SpaceSystem, cpu
		return c, nil
	}

	ps, pa, err := w.device(c.Phys)
	if err != nil {
		return c, w.unmapped(addr, err.Error())
	}
	c.Space, c.PortSpace, c.PortAddr = gpu.SpaceDevice, ps, pa
	return c, nil
}

// device maps an MC address to the port. Without dedicated memory the
// frame buffer aperture is backed by system memory.
func (w *walker) device(mc uint64) (gpu.Space, uint64, error) {
	if mc < w.ctx.FBBase {
		return 0, 0, errBelowFB
	}
	off := mc - w.ctx.FBBase + w.ctx.FBOffset
	if w.ctx.ZeroFB {
		return gpu.SpaceSystem, off, nil
	}
	return gpu.SpaceDevice, off, nil
}

var errBelowFB = errors.New("address below frame buffer base")

func (w *walker) readEntry(addr uint64, space gpu.Space) (uint64, error) {
	var at uint64
	var err error
	if space == gpu.SpaceSystem {
		if at, err = w.port.BusToCPU(addr); err != nil {
			return 0, portErr(w.ctx.ID, addr, err)
		}
	} else if space, at, err = w.device(addr); err != nil {
		return 0, w.unmapped(addr, "page table entry: "+err.Error())
	}
	raw, err := port.ReadU64(w.port, space, at)
	if err != nil {
		return 0, portErr(w.ctx.ID, addr, err)
	}
	return raw, nil
}

func spaceOf(system bool) gpu.Space {
	if system {
		return gpu.SpaceSystem
	}
	return gpu.SpaceDevice
}

func pageMask(shift uint) uint64 {
	return uint64(gpu.PageSize)<<min(shift, maxPageShift-12) - 1
}
