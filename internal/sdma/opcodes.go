// Package sdma decodes system DMA engine packet streams.
package sdma

import (
	"fmt"
	"slices"

	"gpudbg/internal/gpu"
)

const (
	OpNOP        = 0
	OpCopy       = 1
	OpWrite      = 2
	OpIndirect   = 4
	OpFence      = 5
	OpTrap       = 6
	OpPollRegMem = 8
	OpCondExe    = 9
	OpAtomic     = 10
	OpConstFill  = 11
	OpPTEPDE     = 12
	OpTimestamp  = 13
	OpSRBMWrite  = 14
	OpPreExe     = 15
	OpGCRReq     = 17
	OpDummyTrap  = 32
)

// Header builds an SDMA header word.
func Header(op, subOp uint32) uint32 { return (subOp&0xFF)<<8 | op&0xFF }

// field extracts bits hi:lo of body word `word`; word -1 is the header.
type field struct {
	word   int
	name   string
	hi, lo uint
	radix  gpu.Radix
	symbol func(d *decoder, v uint64) string
}

const hdr = -1

func dw(word int, name string) field { return field{word: word, name: name, hi: 31} }

func bf(word int, name string, hi, lo uint) field {
	return field{word: word, name: name, hi: hi, lo: lo}
}

func (f field) dec() field { f.radix = gpu.RadixDec; return f }

func (f field) sym(fn func(d *decoder, v uint64) string) field { f.symbol = fn; return f }

// packetDef describes one opcode. The body is fixed words long unless
// length derives it from the header or the leading body words; need is
// how many body words length reads.
type packetDef struct {
	name   string
	subs   map[uint32]string
	fields []field
	fixed  int
	need   int
	length func(header uint32, body []uint32) int
	tail   string
}

func (p packetDef) words() int {
	n := 0
	for _, f := range p.fields {
		n = max(n, f.word+1)
	}
	return n
}

func (p packetDef) subName(sub uint32) (string, bool) {
	if p.subs == nil {
		return p.name, true
	}
	s, ok := p.subs[sub]
	if !ok {
		return fmt.Sprintf("%s_SUB%d", p.name, sub), false
	}
	return p.name + "_" + s, true
}

func symReg(d *decoder, v uint64) string { return d.regs.Symbol(uint32(v)) }

var packets = map[uint32]packetDef{
	OpNOP: {
		name:   "NOP",
		fields: []field{bf(hdr, "count", 29, 16).dec()},
		length: func(h uint32, _ []uint32) int { return int(gpu.Bits(uint64(h), 29, 16)) },
		tail:   "payload",
	},
	OpCopy: {
		name: "COPY",
		subs: map[uint32]string{0: "LINEAR"},
		fields: []field{
			bf(hdr, "broadcast", 27, 27), bf(hdr, "tmz", 18, 18),
			bf(0, "count", 29, 0).dec(), bf(1, "dst_sw", 17, 16), bf(1, "src_sw", 25, 24),
			dw(2, "src_addr_lo"), dw(3, "src_addr_hi"), dw(4, "dst_addr_lo"), dw(5, "dst_addr_hi"),
		},
		fixed: 6,
	},
	OpWrite: {
		name: "WRITE",
		subs: map[uint32]string{0: "LINEAR"},
		fields: []field{
			dw(0, "dst_addr_lo"), dw(1, "dst_addr_hi"), bf(2, "count", 19, 0).dec(),
		},
		need:   3,
		length: func(_ uint32, b []uint32) int { return 3 + int(b[2]&0xFFFFF) + 1 },
		tail:   "data",
	},
	OpIndirect: {
		name: "INDIRECT",
		fields: []field{
			bf(hdr, "vmid", 19, 16).dec(), bf(hdr, "priv", 31, 31),
			dw(0, "ib_base_lo"), dw(1, "ib_base_hi"), bf(2, "ib_size", 19, 0).dec(),
			dw(3, "csa_addr_lo"), dw(4, "csa_addr_hi"),
		},
		fixed: 5,
	},
	OpFence: {
		name:   "FENCE",
		fields: []field{bf(hdr, "mtype", 18, 16), dw(0, "addr_lo"), dw(1, "addr_hi"), dw(2, "data")},
		fixed:  3,
	},
	OpTrap: {
		name:   "TRAP",
		fields: []field{bf(0, "int_context", 27, 0)},
		fixed:  1,
	},
	OpPollRegMem: {
		name: "POLL_REGMEM",
		fields: []field{
			bf(hdr, "hdp_flush", 26, 26), bf(hdr, "func", 30, 28), bf(hdr, "mem_poll", 31, 31),
			dw(0, "addr_lo"), dw(1, "addr_hi"), dw(2, "value"), dw(3, "mask"),
			bf(4, "interval", 15, 0).dec(), bf(4, "retry_count", 27, 16).dec(),
		},
		fixed: 5,
	},
	OpCondExe: {
		name:   "COND_EXE",
		fields: []field{dw(0, "addr_lo"), dw(1, "addr_hi"), dw(2, "reference"), bf(3, "exec_count", 13, 0).dec()},
		fixed:  4,
	},
	OpAtomic: {
		name: "ATOMIC",
		fields: []field{
			bf(hdr, "loop", 16, 16), bf(hdr, "tmz", 18, 18), bf(hdr, "atomic_op", 31, 25),
			dw(0, "addr_lo"), dw(1, "addr_hi"), dw(2, "src_data_lo"), dw(3, "src_data_hi"),
			dw(4, "cmp_data_lo"), dw(5, "cmp_data_hi"), bf(6, "loop_interval", 12, 0).dec(),
		},
		fixed: 7,
	},
	OpConstFill: {
		name: "CONST_FILL",
		fields: []field{
			bf(hdr, "fillsize", 31, 30),
			dw(0, "dst_addr_lo"), dw(1, "dst_addr_hi"), dw(2, "data"), bf(3, "count", 21, 0).dec(),
		},
		fixed: 4,
	},
	OpPTEPDE: {
		name: "PTEPDE",
		subs: map[uint32]string{0: "GEN"},
		fields: []field{
			dw(0, "dst_addr_lo"), dw(1, "dst_addr_hi"), dw(2, "flags_lo"), dw(3, "flags_hi"),
			dw(4, "init_addr_lo"), dw(5, "init_addr_hi"), dw(6, "incr_lo"), dw(7, "incr_hi"),
			bf(8, "count", 18, 0).dec(),
		},
		fixed: 9,
	},
	OpTimestamp: {
		name:   "TIMESTAMP",
		subs:   map[uint32]string{0: "SET", 1: "GET", 2: "GET_GLOBAL"},
		fields: []field{dw(0, "addr_lo"), dw(1, "addr_hi")},
		fixed:  2,
	},
	OpSRBMWrite: {
		name: "SRBM_WRITE",
		fields: []field{
			bf(hdr, "byte_enable", 31, 28),
			bf(0, "addr", 17, 0).sym(symReg), dw(1, "data"),
		},
		fixed: 2,
	},
	OpPreExe: {
		name:   "PRE_EXE",
		fields: []field{bf(hdr, "dev_sel", 23, 16), bf(0, "exec_count", 13, 0).dec()},
		fixed:  1,
	},
	OpGCRReq: {
		name: "GCR_REQ",
		fields: []field{
			dw(0, "base_va_lo"), bf(1, "base_va_hi", 15, 0), bf(1, "gcr_control_lo", 31, 16),
			bf(2, "gcr_control_hi", 2, 0), bf(2, "limit_va_lo", 31, 7), bf(3, "limit_va_hi", 15, 0), bf(3, "vmid", 27, 24).dec(),
		},
		fixed: 4,
	},
	OpDummyTrap: {
		name:   "DUMMY_TRAP",
		fields: []field{bf(0, "int_context", 27, 0)},
		fixed:  1,
	},
}

// OpcodeName returns the mnemonic of an (op, sub-op) pair.
func OpcodeName(op, sub uint32) string {
	p, ok := packets[op]
	if !ok {
		return fmt.Sprintf("UNKNOWN_%d", op)
	}
	n, _ := p.subName(sub)
	return n
}

// Opcodes lists the ops with a field table.
func Opcodes() []uint32 {
	ops := make([]uint32, 0, len(packets))
	for op := range packets {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}

// BodyWords returns the body length of a packet given its header and as
// many leading body words as the opcode needs; ok is false for unknown ops.
func BodyWords(header uint32, body []uint32) (n int, ok bool) {
	p, known := packets[header&0xFF]
	if !known {
		return 0, false
	}
	if p.length == nil {
		return p.fixed, true
	}
	if len(body) < p.need {
		return p.need, true
	}
	return p.length(header, body), true
}

// FieldCount returns the number of fields a packet with n body words produces.
func FieldCount(op uint32, n int) int {
	p, ok := packets[op]
	if !ok {
		return 0
	}
	c := 0
	for _, f := range p.fields {
		if f.word < n {
			c++
		}
	}
	return c + max(0, n-p.words())
}
