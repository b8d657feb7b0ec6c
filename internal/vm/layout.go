package vm

import (
	"fmt"

	"gpudbg/internal/common"
	"gpudbg/internal/gpu"
)

// Era is a page-table hardware generation. Each era has its own PDE/PTE
// bit layout and register naming.
type Era int

const (
	EraA Era = iota // GC 6..8
	EraB            // GC 9..11
	EraC            // GC 12
)

func (e Era) String() string {
	switch e {
	case EraA:
		return "gfx6-8"
	case EraB:
		return "gfx9-11"
	case EraC:
		return "gfx12"
	}
	return fmt.Sprintf("era(%d)", int(e))
}

// EraFor dispatches on the GC IP major version.
func EraFor(major int) (Era, error) {
	switch {
	case major >= 6 && major <= 8:
		return EraA, nil
	case major >= 9 && major <= 11:
		return EraB, nil
	case major == 12:
		return EraC, nil
	}
	return 0, common.NewErrorf(gpu.ErrSevError, gpu.ErrUnsupportedGeneration, "no page table layout for GC major %d", major)
}

// PDE is a decoded page directory entry.
type PDE struct {
	Raw      uint64
	Valid    bool
	System   bool
	Coherent bool
	Base     uint64 // address of the next table
	IsPTE    bool   // large page: this entry maps memory directly
	BFS      uint   // block fragment size for the tables below
}

// PTE is a decoded page table entry. Fields absent in an era stay zero.
type PTE struct {
	Raw        uint64
	Valid      bool
	System     bool
	Coherent   bool // snooped on era A
	TMZ        bool
	Execute    bool
	Read       bool
	Write      bool
	Fragment   uint
	Base       uint64
	PRT        bool
	Further    bool
	MType      uint
	DCC        bool
	LLCNoAlloc bool
}

func (p PDE) String() string {
	return fmt.Sprintf("PDE{base=0x%x v=%d s=%d c=%d p=%d bfs=%d}",
		p.Base, b2i(p.Valid), b2i(p.System), b2i(p.Coherent), b2i(p.IsPTE), p.BFS)
}

func (p PTE) String() string {
	return fmt.Sprintf("PTE{base=0x%x v=%d s=%d c=%d tmz=%d x=%d r=%d w=%d frag=%d prt=%d f=%d mtype=%d}",
		p.Base, b2i(p.Valid), b2i(p.System), b2i(p.Coherent), b2i(p.TMZ), b2i(p.Execute),
		b2i(p.Read), b2i(p.Write), p.Fragment, b2i(p.PRT), b2i(p.Further), p.MType)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// layout is the per-era entry decoder.
type layout interface {
	era() Era
	pde(raw uint64) PDE
	pte(raw uint64) PTE
}

type layoutA struct{}
type layoutB struct{}
type layoutC struct{}

func layoutFor(e Era) layout {
	switch e {
	case EraA:
		return layoutA{}
	case EraC:
		return layoutC{}
	}
	return layoutB{}
}

const (
	baseMaskA = 0x000000FFFFFFF000 // 39:12
	pdeBaseB  = 0x0000FFFFFFFFFFC0 // 47:6
	pteBaseB  = 0x0000FFFFFFFFF000 // 47:12
)

func (layoutA) era() Era { return EraA }

func (layoutA) pde(raw uint64) PDE {
	return PDE{Raw: raw, Valid: gpu.Bit(raw, 0), Base: raw & baseMaskA}
}

func (layoutA) pte(raw uint64) PTE {
	return PTE{
		Raw:      raw,
		Valid:    gpu.Bit(raw, 0),
		System:   gpu.Bit(raw, 1),
		Coherent: gpu.Bit(raw, 2),
		Fragment: uint(gpu.Bits(raw, 11, 7)),
		Base:     raw & baseMaskA,
	}
}

func (layoutB) era() Era { return EraB }

func (layoutB) pde(raw uint64) PDE {
	return PDE{
		Raw:      raw,
		Valid:    gpu.Bit(raw, 0),
		System:   gpu.Bit(raw, 1),
		Coherent: gpu.Bit(raw, 2),
		Base:     raw & pdeBaseB,
		IsPTE:    gpu.Bit(raw, 54),
		BFS:      uint(gpu.Bits(raw, 63, 59)),
	}
}

func (layoutB) pte(raw uint64) PTE {
	return PTE{
		Raw:      raw,
		Valid:    gpu.Bit(raw, 0),
		System:   gpu.Bit(raw, 1),
		Coherent: gpu.Bit(raw, 2),
		TMZ:      gpu.Bit(raw, 3),
		Execute:  gpu.Bit(raw, 4),
		Read:     gpu.Bit(raw, 5),
		Write:    gpu.Bit(raw, 6),
		Fragment: uint(gpu.Bits(raw, 11, 7)),
		Base:     raw & pteBaseB,
		PRT:      gpu.Bit(raw, 51),
		Further:  gpu.Bit(raw, 56),
		MType:    uint(gpu.Bits(raw, 58, 57)),
	}
}

func (layoutC) era() Era { return EraC }

func (layoutC) pde(raw uint64) PDE {
	p := layoutB{}.pde(raw)
	p.IsPTE = gpu.Bit(raw, 63)
	p.BFS = uint(gpu.Bits(raw, 62, 58))
	return p
}

func (layoutC) pte(raw uint64) PTE {
	p := layoutB{}.pte(raw)
	p.MType = uint(gpu.Bits(raw, 55, 54))
	p.PRT = gpu.Bit(raw, 56)
	p.DCC = gpu.Bit(raw, 58)
	p.LLCNoAlloc = gpu.Bit(raw, 59)
	p.Further = gpu.Bit(raw, 52)
	return p
}
