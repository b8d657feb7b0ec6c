package port

import (
	"fmt"
	"sort"
	"sync"

	"gpudbg/internal/common"
	"gpudbg/internal/gpu"
)

type regKey struct {
	addr uint32
	part gpu.Partition
}

// busWindow maps [bus, bus+size) onto [cpu, cpu+size).
type busWindow struct {
	bus, cpu, size uint64
}

// Mapper is a Port assembled from memory accessors, a register file, and
// bus address windows. It backs captures loaded from disk and the tests.
type Mapper struct {
	mu        sync.Mutex
	accessors []Accessor
	accCurr   Accessor
	regs      map[regKey]uint32
	windows   []busWindow

	// StrictRegs makes reads of registers never set an error instead of zero.
	StrictRegs bool
}

func NewMapper() *Mapper {
	return &Mapper{regs: make(map[regKey]uint32)}
}

// AddAccessor registers acc; ranges may not overlap within a shared space.
func (m *Mapper) AddAccessor(acc Accessor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if acc.EndAddr() < acc.StartAddr() {
		return fmt.Errorf("%w: %s", ErrOutOfRange, acc)
	}
	for _, existing := range m.accessors {
		rangeOverlap := existing.StartAddr() <= acc.EndAddr() && acc.StartAddr() <= existing.EndAddr()
		spaceOverlap := existing.Space()&acc.Space() != 0
		if rangeOverlap && spaceOverlap {
			return fmt.Errorf("%w: %s and %s", ErrAccOverlap, existing, acc)
		}
	}
	m.accessors = append(m.accessors, acc)
	return nil
}

// RemoveAllAccessors drops every accessor, closing file accessors.
func (m *Mapper) RemoveAllAccessors() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.accessors {
		if fa, ok := acc.(*FileAccessor); ok {
			fa.Close()
		}
	}
	m.accessors = nil
	m.accCurr = nil
}

func (m *Mapper) Accessors() []Accessor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Accessor(nil), m.accessors...)
}

func (m *Mapper) findAccessor(addr uint64, space gpu.Space) Accessor {
	if c := m.accCurr; c != nil && c.StartAddr() <= addr && c.EndAddr() >= addr && c.Space()&space != 0 {
		return c
	}
	for _, acc := range m.accessors {
		if addr < acc.StartAddr() || addr > acc.EndAddr() || acc.Space()&space == 0 {
			continue
		}
		m.accCurr = acc
		return acc
	}
	return nil
}

func (m *Mapper) ReadMem(space gpu.Space, addr uint64, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for done := 0; done < len(buf); {
		cur := addr + uint64(done)
		acc := m.findAccessor(cur, space)
		if acc == nil {
			return common.NewErrorf(gpu.ErrSevError, gpu.ErrPortAccess, "no %s memory at 0x%x", space, cur)
		}
		n, err := acc.ReadAt(cur, buf[done:])
		if err != nil {
			return common.NewErrorf(gpu.ErrSevError, gpu.ErrPortAccess, "%s read at 0x%x: %v", space, cur, err)
		}
		if n == 0 {
			return common.NewErrorf(gpu.ErrSevError, gpu.ErrPortAccess, "short %s read at 0x%x", space, cur)
		}
		done += n
	}
	return nil
}

func (m *Mapper) WriteMem(space gpu.Space, addr uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for done := 0; done < len(data); {
		cur := addr + uint64(done)
		acc := m.findAccessor(cur, space)
		if acc == nil {
			return common.NewErrorf(gpu.ErrSevError, gpu.ErrPortAccess, "no %s memory at 0x%x", space, cur)
		}
		n, err := acc.WriteAt(cur, data[done:])
		if err != nil {
			return common.NewErrorf(gpu.ErrSevError, gpu.ErrPortAccess, "%s write at 0x%x: %v", space, cur, err)
		}
		if n == 0 {
			return common.NewErrorf(gpu.ErrSevError, gpu.ErrPortAccess, "short %s write at 0x%x", space, cur)
		}
		done += n
	}
	return nil
}

// SetReg stores a register value; it is the capture loader's WriteReg.
func (m *Mapper) SetReg(addr uint32, part gpu.Partition, val uint32) {
	m.mu.Lock()
	m.regs[regKey{addr, part}] = val
	m.mu.Unlock()
}

func (m *Mapper) ReadReg(addr uint32, part gpu.Partition) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.regs[regKey{addr, part}]
	if !ok && m.StrictRegs {
		return 0, common.NewErrorf(gpu.ErrSevError, gpu.ErrPortAccess, "register 0x%x (partition %d) not captured", addr, part)
	}
	return v, nil
}

func (m *Mapper) WriteReg(addr uint32, part gpu.Partition, val uint32) error {
	m.SetReg(addr, part, val)
	return nil
}

// AddBusWindow maps size bytes of bus address space at bus to cpu.
func (m *Mapper) AddBusWindow(bus, cpu, size uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.windows = append(m.windows, busWindow{bus: bus, cpu: cpu, size: size})
	sort.Slice(m.windows, func(i, j int) bool { return m.windows[i].bus < m.windows[j].bus })
}

// BusToCPU is the identity when no windows are configured.
func (m *Mapper) BusToCPU(addr uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.windows) == 0 {
		return addr, nil
	}
	for _, w := range m.windows {
		if addr >= w.bus && addr-w.bus < w.size {
			return w.cpu + (addr - w.bus), nil
		}
	}
	return 0, common.NewErrorf(gpu.ErrSevError, gpu.ErrPortAccess, "bus address 0x%x has no CPU mapping", addr)
}
