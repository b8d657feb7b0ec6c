// Package port defines the access boundary between the decode core and the
// device: physical memory reads and writes, register access, and bus address
// resolution. Nothing in the core talks to hardware except through a Port.
package port

import (
	"encoding/binary"

	"gpudbg/internal/gpu"
)

// Port is the capability the core consumes for all device access.
//
// Every call may block (ioctl, sysfs, file I/O) and values read from a live
// device may change between calls. Implementations must be safe to call from
// one goroutine at a time; the core never holds a lock across a call.
type Port interface {
	// ReadMem fills buf from physical memory at addr. A short read is an error.
	ReadMem(space gpu.Space, addr uint64, buf []byte) error
	// WriteMem writes data to physical memory at addr.
	WriteMem(space gpu.Space, addr uint64, data []byte) error
	// ReadReg reads one 32-bit register at a dword offset.
	ReadReg(addr uint32, part gpu.Partition) (uint32, error)
	// WriteReg writes one 32-bit register at a dword offset.
	WriteReg(addr uint32, part gpu.Partition, val uint32) error
	// BusToCPU resolves a GPU bus (DMA) address to a CPU-visible address.
	BusToCPU(addr uint64) (uint64, error)
}

// ReadU64 reads a little-endian 64-bit entry, the size of every PDE and PTE.
func ReadU64(p Port, space gpu.Space, addr uint64) (uint64, error) {
	var b [8]byte
	if err := p.ReadMem(space, addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// ReadWords reads n little-endian 32-bit words.
func ReadWords(p Port, space gpu.Space, addr uint64, n int) ([]uint32, error) {
	buf := make([]byte, 4*n)
	if err := p.ReadMem(space, addr, buf); err != nil {
		return nil, err
	}
	return BytesToWords(buf), nil
}

// BytesToWords converts a little-endian byte slice to words, dropping a ragged tail.
func BytesToWords(b []byte) []uint32 {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}

// WordsToBytes is the inverse of BytesToWords.
func WordsToBytes(words []uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}
