package vm

import (
	"errors"
	"fmt"

	"gpudbg/internal/common"
	"gpudbg/internal/gpu"
	"gpudbg/internal/port"
	"gpudbg/internal/regs"
)

// Context is the page table configuration of one VM context, read from
// registers at the start of every translation request.
type Context struct {
	ID  gpu.CtxID
	Era Era

	// Base is the top table address on era A and the raw base PDE on B/C.
	Base      uint64
	Start     uint64 // first mapped byte
	End       uint64 // last mapped byte, inclusive
	Depth     int
	BlockSize int

	FBBase   uint64
	FBTop    uint64
	FBOffset uint64
	ZeroFB   bool
}

func (c *Context) String() string {
	return fmt.Sprintf("%s %s base=0x%x span=[0x%x,0x%x] depth=%d bs=%d fb=[0x%x,0x%x]+0x%x zfb=%v",
		c.ID, c.Era, c.Base, c.Start, c.End, c.Depth, c.BlockSize, c.FBBase, c.FBTop, c.FBOffset, c.ZeroFB)
}

// regReader resolves register names against a table, trying each prefix in turn.
type regReader struct {
	p        port.Port
	t        *regs.Table
	part     gpu.Partition
	prefixes []string
}

func (r *regReader) read(name string) (uint32, error) {
	for _, pre := range r.prefixes {
		if reg, ok := r.t.Lookup(pre + name); ok {
			return r.p.ReadReg(reg.Addr, r.part)
		}
	}
	return 0, common.NewErrorf(gpu.ErrSevError, gpu.ErrUnknownRegister, "%s%s not in register table", r.prefixes[0], name)
}

// optional reads a register that may be absent from older tables.
func (r *regReader) optional(name string) (uint32, error) {
	v, err := r.read(name)
	if errors.Is(err, common.ErrUnknownRegister) {
		return 0, nil
	}
	return v, err
}

func (r *regReader) read64(lo, hi string) (uint64, error) {
	l, err := r.read(lo)
	if err != nil {
		return 0, err
	}
	h, err := r.read(hi)
	if err != nil {
		return 0, err
	}
	return uint64(h)<<32 | uint64(l), nil
}

func loadContext(p port.Port, t *regs.Table, cfg *Config, id gpu.CtxID) (*Context, error) {
	era, err := EraFor(cfg.IPMajor)
	if err != nil {
		return nil, err
	}
	id.Hub = cfg.hub(id)
	ctx := &Context{ID: id, Era: era}

	if era == EraA {
		err = ctx.loadEraA(&regReader{p: p, t: t, part: id.Partition, prefixes: []string{""}})
	} else {
		err = ctx.loadEraB(&regReader{p: p, t: t, part: id.Partition, prefixes: []string{string(id.Hub), ""}})
	}
	if err != nil {
		return nil, err
	}

	ctx.ZeroFB = cfg.ForceZeroFB || ctx.FBTop < ctx.FBBase
	return ctx, nil
}

// Era A keeps per-context base registers but shares span and control
// registers between all non-zero contexts.
func (c *Context) loadEraA(r *regReader) error {
	shared := min(c.ID.VMID, 1)

	base, err := r.read(fmt.Sprintf("VM_CONTEXT%d_PAGE_TABLE_BASE_ADDR", c.ID.VMID))
	if err != nil {
		return err
	}
	start, err := r.read(fmt.Sprintf("VM_CONTEXT%d_PAGE_TABLE_START_ADDR", shared))
	if err != nil {
		return err
	}
	end, err := r.read(fmt.Sprintf("VM_CONTEXT%d_PAGE_TABLE_END_ADDR", shared))
	if err != nil {
		return err
	}
	cntl, err := r.read(fmt.Sprintf("VM_CONTEXT%d_CNTL", shared))
	if err != nil {
		return err
	}
	loc, err := r.optional("MC_VM_FB_LOCATION")
	if err != nil {
		return err
	}
	off, err := r.optional("MC_VM_FB_OFFSET")
	if err != nil {
		return err
	}

	c.Base = uint64(base) << 12
	c.Start = uint64(start) << 12
	c.End = uint64(end)<<12 | 0xFFF
	c.Depth = int(gpu.Bits(uint64(cntl), 2, 1))
	c.BlockSize = int(gpu.Bits(uint64(cntl), 27, 24))
	c.FBBase = gpu.Bits(uint64(loc), 15, 0) << 24
	c.FBTop = gpu.Bits(uint64(loc), 31, 16)<<24 | 0xFFFFFF
	c.FBOffset = uint64(off) << 22
	return nil
}

func (c *Context) loadEraB(r *regReader) error {
	n := c.ID.VMID
	var err error

	if c.Base, err = r.read64(
		fmt.Sprintf("VM_CONTEXT%d_PAGE_TABLE_BASE_ADDR_LO32", n),
		fmt.Sprintf("VM_CONTEXT%d_PAGE_TABLE_BASE_ADDR_HI32", n)); err != nil {
		return err
	}
	start, err := r.read64(
		fmt.Sprintf("VM_CONTEXT%d_PAGE_TABLE_START_ADDR_LO32", n),
		fmt.Sprintf("VM_CONTEXT%d_PAGE_TABLE_START_ADDR_HI32", n))
	if err != nil {
		return err
	}
	end, err := r.read64(
		fmt.Sprintf("VM_CONTEXT%d_PAGE_TABLE_END_ADDR_LO32", n),
		fmt.Sprintf("VM_CONTEXT%d_PAGE_TABLE_END_ADDR_HI32", n))
	if err != nil {
		return err
	}
	cntl, err := r.read(fmt.Sprintf("VM_CONTEXT%d_CNTL", n))
	if err != nil {
		return err
	}
	fbBase, err := r.optional("MC_VM_FB_LOCATION_BASE")
	if err != nil {
		return err
	}
	fbTop, err := r.optional("MC_VM_FB_LOCATION_TOP")
	if err != nil {
		return err
	}
	off, err := r.optional("MC_VM_FB_OFFSET")
	if err != nil {
		return err
	}

	c.Start = start << 12
	c.End = end<<12 | 0xFFF
	c.Depth = int(gpu.Bits(uint64(cntl), 2, 1))
	c.BlockSize = int(gpu.Bits(uint64(cntl), 6, 3))
	c.FBBase = uint64(fbBase) << 24
	c.FBTop = uint64(fbTop)<<24 | 0xFFFFFF
	c.FBOffset = uint64(off) << 24
	return nil
}
