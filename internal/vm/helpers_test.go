package vm_test

import (
	"encoding/binary"

	"gpudbg/internal/gpu"
	"gpudbg/internal/port"
	"gpudbg/internal/regs"
	"gpudbg/internal/vm"
)

const (
	vramSize  = 8 << 20
	sysBase   = 0x4000_0000
	sysSize   = 8 << 20
	tableArea = 0x10000
	dataArea  = 0x400000

	// zero frame buffer aperture used by the zero-FB tests
	zfbMC = 0x1000_0000
)

// env is a synthetic device: VRAM and system memory buffers, a register
// table, and a bump allocator for page tables.
type env struct {
	major  int
	era    vm.Era
	port   *port.Mapper
	vram   []byte
	sys    []byte
	table  *regs.Table
	nextPg uint64
	nextRg uint32
	zeroFB bool
}

func newEnv(major int) *env {
	e := &env{
		major:  major,
		port:   port.NewMapper(),
		vram:   make([]byte, vramSize),
		sys:    make([]byte, sysSize),
		table:  regs.NewTable(),
		nextPg: tableArea,
		nextRg: 0x1000,
	}
	e.era, _ = vm.EraFor(major)
	if err := e.port.AddAccessor(port.NewBufferAccessor(0, e.vram, gpu.SpaceDevice)); err != nil {
		panic(err)
	}
	if err := e.port.AddAccessor(port.NewBufferAccessor(sysBase, e.sys, gpu.SpaceSystem)); err != nil {
		panic(err)
	}
	return e
}

func (e *env) translator() *vm.Translator {
	return vm.NewTranslator(e.port, e.table, vm.NewConfig(e.major))
}

func (e *env) setReg(name string, v uint32) {
	r, ok := e.table.Lookup(name)
	if !ok {
		r = regs.Register{Name: name, Addr: e.nextRg}
		e.table.Add(r)
		e.nextRg++
	}
	e.port.SetReg(r.Addr, 0, v)
}

// mcBase is where table and page MC addresses start.
func (e *env) mcBase() uint64 {
	if e.zeroFB {
		return zfbMC
	}
	return 0
}

func (e *env) alloc() uint64 {
	pg := e.mcBase() + e.nextPg
	e.nextPg += gpu.PageSize
	return pg
}

// mem returns the backing bytes at MC address mc.
func (e *env) mem(mc uint64) []byte {
	if e.zeroFB {
		return e.sys[mc-zfbMC:]
	}
	return e.vram[mc:]
}

func (e *env) put(mc, v uint64) {
	binary.LittleEndian.PutUint64(e.mem(mc), v)
}

func (e *env) putSys(addr, v uint64) {
	binary.LittleEndian.PutUint64(e.sys[addr-sysBase:], v)
}

func (e *env) pde(base uint64) uint64 {
	if e.era == vm.EraA {
		return base&0xFFFFFFF000 | 1
	}
	return base&0x0000FFFFFFFFFFC0 | 1
}

type pteOpt struct {
	invalid  bool
	system   bool
	prt      bool
	further  bool
	fragment uint64
}

func (e *env) pte(base uint64, o pteOpt) uint64 {
	v := base&0x0000FFFFFFFFF000 | o.fragment<<7
	if !o.invalid {
		v |= 1
	}
	if o.system {
		v |= 2
	}
	switch e.era {
	case vm.EraB:
		if o.prt {
			v |= 1 << 51
		}
		if o.further {
			v |= 1 << 56
		}
	case vm.EraC:
		if o.prt {
			v |= 1 << 56
		}
		if o.further {
			v |= 1 << 52
		}
	}
	return v
}

// configure programs context 0 with the top table at top.
func (e *env) configure(depth, blockSize int, top uint64, startPage, endPage uint64) {
	if e.era == vm.EraA {
		e.setReg("VM_CONTEXT0_PAGE_TABLE_BASE_ADDR", uint32(top>>12))
		e.setReg("VM_CONTEXT0_PAGE_TABLE_START_ADDR", uint32(startPage))
		e.setReg("VM_CONTEXT0_PAGE_TABLE_END_ADDR", uint32(endPage))
		e.setReg("VM_CONTEXT0_CNTL", uint32(depth)<<1|uint32(blockSize)<<24|1)
		return
	}
	base := e.pde(top)
	e.setReg("GCVM_CONTEXT0_PAGE_TABLE_BASE_ADDR_LO32", uint32(base))
	e.setReg("GCVM_CONTEXT0_PAGE_TABLE_BASE_ADDR_HI32", uint32(base>>32))
	e.setReg("GCVM_CONTEXT0_PAGE_TABLE_START_ADDR_LO32", uint32(startPage))
	e.setReg("GCVM_CONTEXT0_PAGE_TABLE_START_ADDR_HI32", uint32(startPage>>32))
	e.setReg("GCVM_CONTEXT0_PAGE_TABLE_END_ADDR_LO32", uint32(endPage))
	e.setReg("GCVM_CONTEXT0_PAGE_TABLE_END_ADDR_HI32", uint32(endPage>>32))
	e.setReg("GCVM_CONTEXT0_CNTL", uint32(depth)<<1|uint32(blockSize)<<3|1)
}

// tables builds root -> depth PDE levels -> PTB for va and returns the
// leaf table and the root. Tables already built are reused.
type tables struct {
	e     *env
	depth int
	root  uint64
	dirs  map[uint64]uint64 // entry address -> table it points at
}

func (e *env) newTables(depth int) *tables {
	return &tables{e: e, depth: depth, root: e.alloc(), dirs: make(map[uint64]uint64)}
}

func (t *tables) leaf(va uint64) uint64 {
	tbl := t.root
	for level := t.depth; level >= 1; level-- {
		shift := 21 + 9*uint(level-1)
		idx := va >> shift
		if level != t.depth {
			idx &= 0x1FF
		}
		ea := tbl + idx*8
		next, ok := t.dirs[ea]
		if !ok {
			next = t.e.alloc()
			t.dirs[ea] = next
			t.e.put(ea, t.e.pde(next))
		}
		tbl = next
	}
	return tbl
}

func (t *tables) leafIndex(va uint64) uint64 {
	idx := va >> 12
	if t.depth > 0 {
		idx &= 0x1FF
	}
	return idx
}

// mapPage points the PTE for va at base.
func (t *tables) mapPage(va, base uint64, o pteOpt) uint64 {
	ea := t.leaf(va) + t.leafIndex(va)*8
	t.e.put(ea, t.e.pte(base, o))
	return ea
}

// recorder is a Tracer keeping everything it sees.
type recorder struct {
	ctx     *vm.Context
	entries []vm.Entry
	chunks  []vm.Chunk
	errs    []error
}

func (r *recorder) Context(ctx *vm.Context) { r.ctx = ctx }
func (r *recorder) Entry(e vm.Entry)        { r.entries = append(r.entries, e) }
func (r *recorder) Chunk(c vm.Chunk, err error) {
	r.chunks = append(r.chunks, c)
	r.errs = append(r.errs, err)
}
