// Package pm4 decodes command processor (PM4) packet streams.
package pm4

import (
	"fmt"

	"gpudbg/internal/gpu"
)

// Header is a decoded PM4 header word.
type Header struct {
	Raw  uint32
	Type int
	// Count is the number of body words that follow the header.
	Count      int
	Opcode     uint32 // type 3
	Base       uint32 // type 0 first register
	ShaderType bool   // type 3: compute
	Predicate  bool   // type 3
}

func ParseHeader(w uint32) Header {
	h := Header{Raw: w, Type: int(w >> 30)}
	v := uint64(w)
	switch h.Type {
	case 0:
		h.Count = int(gpu.Bits(v, 29, 16)) + 1
		h.Base = uint32(gpu.Bits(v, 15, 0))
	case 3:
		h.Count = int(gpu.Bits(v, 29, 16)) + 1
		h.Opcode = uint32(gpu.Bits(v, 15, 8))
		h.ShaderType = gpu.Bit(v, 1)
		h.Predicate = gpu.Bit(v, 0)
	}
	return h
}

func (h Header) String() string {
	switch h.Type {
	case 0:
		return fmt.Sprintf("PKT0 base=0x%x n=%d", h.Base, h.Count)
	case 2:
		return "PKT2"
	case 3:
		return fmt.Sprintf("PKT3 %s n=%d", OpcodeName(h.Opcode), h.Count)
	}
	return fmt.Sprintf("PKT%d 0x%08x", h.Type, h.Raw)
}

// Type0 builds a type 0 header writing n consecutive registers from reg.
func Type0(reg uint32, n int) uint32 {
	return uint32(n-1)&0x3FFF<<16 | reg&0xFFFF
}

// Type2 is the filler packet.
const Type2 uint32 = 0x80000000

// Type3 builds a type 3 header for opcode with n body words.
func Type3(opcode uint32, n int) uint32 {
	return 3<<30 | uint32(n-1)&0x3FFF<<16 | (opcode&0xFF)<<8
}
