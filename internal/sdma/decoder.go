package sdma

import (
	"fmt"

	"gpudbg/internal/common"
	"gpudbg/internal/gpu"
	"gpudbg/internal/regs"
	"gpudbg/internal/stream"
)

type decoder struct {
	st   *stream.DecoderState
	sink stream.Sink
	env  *stream.Env
	regs *regs.Table
	log  common.Logger

	header uint32
	body   []uint32
	at     uint64
}

// Decode runs the SDMA state machine over st.Stream. Unknown opcodes are
// reported and skipped one word at a time; a body running past the end of
// the stream ends the decode with a TruncatedStream error.
func Decode(st *stream.DecoderState, sink stream.Sink, env *stream.Env) error {
	if env == nil {
		env = &stream.Env{}
	}
	d := &decoder{st: st, sink: sink, env: env, regs: env.Regs, log: common.OrNoOp(env.Log).Named("sdma")}
	if d.regs == nil {
		d.regs = regs.Builtin()
	}

	for st.Pos < st.Stream.Len() {
		st.Begin()
		d.header = st.Stream.At(st.Pos)
		d.at = st.AddrOf(st.Pos)
		op, sub := d.header&0xFF, (d.header>>8)&0xFF

		p, known := packets[op]
		if !known {
			d.body = nil
			d.start(OpcodeName(op, sub), op, sub)
			d.warn(gpu.ErrMalformedPacket, "unknown opcode %d header 0x%08x", op, d.header)
			st.Advance(1)
			continue
		}
		name, subOK := p.subName(sub)
		if !subOK {
			d.body = nil
			d.start(name, op, sub)
			d.warn(gpu.ErrMalformedPacket, "unknown sub-op %d of %s", sub, p.name)
			st.Advance(1)
			continue
		}

		avail := st.Stream.Len() - st.Pos - 1
		n, _ := BodyWords(d.header, st.Stream.Window(st.Pos+1, min(p.need, avail)))
		if avail < n {
			return d.truncated(name, n, avail)
		}
		st.Body(op, sub, n)
		d.body = st.Stream.Window(st.Pos+1, n)
		d.start(name, op, sub)
		d.fields(p)
		if op == OpIndirect {
			d.indirect()
		}
		st.Advance(1 + n)
	}
	st.Finish()
	return nil
}

func (d *decoder) truncated(name string, n, left int) error {
	msg := fmt.Sprintf("%s needs %d body words, %d left", name, n, left)
	d.sink.Warn(d.st.Warn(gpu.ErrTruncatedStream, "%s", msg))
	d.log.Warning(msg)
	d.st.Finish()
	return common.NewErrorWithAddr(gpu.ErrSevError, gpu.ErrTruncatedStream, d.st.VMID, gpu.Addr(d.at), msg)
}

func (d *decoder) warn(code gpu.Err, format string, args ...any) {
	w := d.st.Warn(code, format, args...)
	d.sink.Warn(w)
	d.log.Logf(common.SeverityWarning, "word %d: %s", w.Offset, w.Message)
}

func (d *decoder) start(name string, op, sub uint32) {
	d.sink.StartPacket(stream.Packet{
		Offset: d.st.Pos,
		Addr:   d.at,
		Opcode: op,
		SubOp:  sub,
		Name:   name,
		Words:  len(d.body),
		Header: d.header,
	})
}

func (d *decoder) fields(p packetDef) {
	for _, f := range p.fields {
		if f.word >= len(d.body) {
			continue
		}
		w := d.header
		if f.word >= 0 {
			w = d.body[f.word]
		}
		v := gpu.Bits(uint64(w), f.hi, f.lo)
		var sym string
		if f.symbol != nil {
			sym = f.symbol(d, v)
		}
		d.sink.AddField(stream.Field{Name: f.name, Value: v, Radix: f.radix, Symbol: sym})
	}
	first := p.words()
	for i := first; i < len(d.body); i++ {
		name := fmt.Sprintf("dw%d", i)
		if p.tail != "" {
			name = fmt.Sprintf("%s[%d]", p.tail, i-first)
		}
		d.sink.AddField(stream.Field{Name: name, Value: uint64(d.body[i])})
	}
}

func (d *decoder) indirect() {
	addr := uint64(d.body[1])<<32 | uint64(d.body[0])
	size := int(d.body[2] & 0xFFFFF)
	vmid := gpu.VMID(gpu.Bits(uint64(d.header), 19, 16))
	if vmid == 0 {
		vmid = d.st.VMID
	}
	if size == 0 {
		return
	}
	if d.env.Follow && d.env.Mem != nil && !d.env.Mem.Mapped(vmid, addr) {
		d.warn(gpu.ErrUnmappedAddress, "indirect buffer vmid %d addr 0x%x is not mapped", vmid, addr)
		return
	}
	ref := stream.IndirectBufferRef{
		Addr:    addr,
		VMID:    vmid,
		Words:   size,
		Family:  gpu.FamilySDMA,
		SrcVMID: d.st.VMID,
		SrcAddr: d.at,
		Parent:  d.st.Self,
	}
	if i, added := d.st.Arena.AddIB(ref); added {
		d.st.Children = append(d.st.Children, i)
	}
}
