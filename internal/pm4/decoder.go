package pm4

import (
	"fmt"

	"gpudbg/internal/common"
	"gpudbg/internal/gpu"
	"gpudbg/internal/regs"
	"gpudbg/internal/stream"
)

// EndProgram is the s_endpgm instruction word that terminates a shader.
const EndProgram = 0xBF810000

// DefaultMaxShaderBytes bounds the end-of-program scan when Env leaves it unset.
const DefaultMaxShaderBytes = 1 << 20

type decoder struct {
	st   *stream.DecoderState
	sink stream.Sink
	env  *stream.Env
	regs *regs.Table
	log  common.Logger

	hdr  Header
	body []uint32
	at   uint64 // header address
}

// Decode runs the PM4 state machine over st.Stream, reporting packets to
// sink. Malformed packets are reported and skipped. A packet whose body
// runs past the end of the stream stops the decode with a TruncatedStream
// error; everything before it has already been delivered.
func Decode(st *stream.DecoderState, sink stream.Sink, env *stream.Env) error {
	if env == nil {
		env = &stream.Env{}
	}
	d := &decoder{st: st, sink: sink, env: env, regs: env.Regs, log: common.OrNoOp(env.Log).Named("pm4")}
	if d.regs == nil {
		d.regs = regs.Builtin()
	}

	for st.Pos < st.Stream.Len() {
		st.Begin()
		d.hdr = ParseHeader(st.Stream.At(st.Pos))
		d.at = st.AddrOf(st.Pos)
		n := d.hdr.Count
		if d.hdr.Type == 1 || d.hdr.Type == 2 {
			n = 0
		}
		if !st.Fits(1 + n) {
			return d.truncated(n)
		}
		st.Body(d.hdr.Opcode, 0, n)
		d.body = st.Stream.Window(st.Pos+1, n)

		switch d.hdr.Type {
		case 0:
			d.type0()
		case 1:
			d.warn(gpu.ErrMalformedPacket, "reserved packet type 1 header 0x%08x", d.hdr.Raw)
		case 2:
			d.start("TYPE2")
		case 3:
			d.type3()
		}
		st.Advance(1 + n)
	}
	st.Finish()
	return nil
}

func (d *decoder) truncated(n int) error {
	left := d.st.Stream.Len() - d.st.Pos - 1
	msg := fmt.Sprintf("%s needs %d body words, %d left", d.hdr, n, left)
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

func (d *decoder) start(name string) {
	d.sink.StartPacket(stream.Packet{
		Offset: d.st.Pos,
		Addr:   d.at,
		Type:   d.hdr.Type,
		Opcode: d.hdr.Opcode,
		Name:   name,
		Words:  len(d.body),
		Header: d.hdr.Raw,
	})
}

func (d *decoder) field(name string, v uint64, radix gpu.Radix, sym string) {
	d.sink.AddField(stream.Field{Name: name, Value: v, Radix: radix, Symbol: sym})
}

// type0 writes consecutive registers starting at the header base.
func (d *decoder) type0() {
	d.start("TYPE0")
	for i, v := range d.body {
		reg := d.hdr.Base + uint32(i)
		d.field(d.regs.Symbol(reg), uint64(v), gpu.RadixHex, "")
	}
	for i, v := range d.body {
		d.regWrite(d.hdr.Base+uint32(i), v, d.at+4*uint64(1+i))
	}
}

func (d *decoder) type3() {
	op := d.hdr.Opcode
	p, ok := packets[op]
	d.start(OpcodeName(op))
	if !ok {
		d.warn(gpu.ErrMalformedPacket, "no field table for opcode 0x%02x", op)
		return
	}
	d.fields(p)
	if len(d.body) < p.min {
		d.warn(gpu.ErrMalformedPacket, "%s needs %d body words, header declares %d", p.name, p.min, len(d.body))
		return
	}

	switch op {
	case OpIndirectBuffer, OpIndirectBufferConst, OpRunList:
		d.indirect()
	case OpMapQueues:
		d.mapQueues()
	}
	if p.regs != nil {
		if reg, ok := p.regs(d); ok {
			first := p.words()
			for i, v := range d.body[min(first, len(d.body)):] {
				d.regWrite(reg+uint32(i), v, d.at+4*uint64(1+first+i))
			}
		}
	}
}

// fields emits the table entries inside the body, then one field per
// remaining word.
func (d *decoder) fields(p packetDef) {
	for _, f := range p.fields {
		if f.word >= len(d.body) {
			continue
		}
		v := gpu.Bits(uint64(d.body[f.word]), f.hi, f.lo) << f.shift
		var sym string
		if f.symbol != nil {
			sym = f.symbol(d, v)
		}
		d.field(f.name, v, f.radix, sym)
	}

	first := p.words()
	reg, named := uint32(0), false
	if p.regs != nil && len(d.body) >= first {
		reg, named = p.regs(d)
	}
	for i := first; i < len(d.body); i++ {
		var name string
		switch {
		case named:
			name = d.regs.Symbol(reg + uint32(i-first))
		case p.tail != "":
			name = fmt.Sprintf("%s[%d]", p.tail, i-first)
		default:
			name = fmt.Sprintf("dw%d", i)
		}
		d.field(name, uint64(d.body[i]), gpu.RadixHex, "")
	}
}

// regWrite tracks shader program pointer halves. A high-half write
// completes the pointer when the matching low half is pending.
func (d *decoder) regWrite(reg, v uint32, at uint64) {
	name, ok := d.regs.NameAt(reg)
	if !ok {
		return
	}
	stage, half := regs.ProgramHalf(name)
	switch half {
	case regs.HalfLo:
		d.st.SetPending(stage, v)
	case regs.HalfHi:
		lo, ok := d.st.TakePending(stage)
		if !ok {
			d.log.Logf(common.SeverityDebug, "%s written without a pending low half", name)
			return
		}
		addr := (uint64(v)<<32 | uint64(lo)) << 8
		d.shader(stage, addr, at)
	}
}

func (d *decoder) shader(stage string, addr, at uint64) {
	if d.st.Arena.HasShader(d.st.VMID, addr) {
		return
	}
	ref := stream.ShaderRef{Addr: addr, VMID: d.st.VMID, Stage: stage, SrcAddr: at}
	if d.following() {
		ref.Size = d.shaderSize(addr)
	}
	if _, added := d.st.Arena.AddShader(ref); added {
		d.sink.AddShader(ref)
	}
}

func (d *decoder) following() bool { return d.env.Follow && d.env.Mem != nil }

// shaderSize scans for the end-of-program word a page at a time. An
// unreadable first page gives size 0.
func (d *decoder) shaderSize(addr uint64) uint64 {
	limit := uint64(d.env.MaxShaderBytes)
	if limit == 0 {
		limit = DefaultMaxShaderBytes
	}
	var off uint64
	for off < limit {
		n := min(gpu.PageSize-(addr+off)%gpu.PageSize, limit-off) / 4
		if n == 0 {
			break
		}
		words, err := d.env.Mem.ReadWords(d.st.VMID, addr+off, int(n))
		if err != nil {
			d.log.Logf(common.SeverityDebug, "shader 0x%x: %v", addr, err)
			return off
		}
		for i, w := range words {
			if w == EndProgram {
				return off + 4*uint64(i+1)
			}
		}
		off += 4 * n
	}
	return off
}

// indirect records the buffer named by an INDIRECT_BUFFER style packet.
func (d *decoder) indirect() {
	addr := uint64(d.body[1]&0xFFFF)<<32 | uint64(d.body[0]&^3)
	ctl := uint64(d.body[2])
	size := int(gpu.Bits(ctl, 19, 0))
	vmid := gpu.VMID(gpu.Bits(ctl, 27, 24))
	if d.hdr.Opcode == OpRunList || vmid == 0 {
		vmid = d.st.VMID
	}
	if size == 0 {
		return
	}
	if d.following() && !d.env.Mem.Mapped(vmid, addr) {
		d.warn(gpu.ErrUnmappedAddress, "indirect buffer vmid %d addr 0x%x is not mapped", vmid, addr)
		return
	}
	ref := stream.IndirectBufferRef{
		Addr:    addr,
		VMID:    vmid,
		Words:   size,
		Family:  gpu.FamilyPM4,
		Chain:   d.hdr.Opcode != OpRunList && gpu.Bit(ctl, 20),
		SrcVMID: d.st.VMID,
		SrcAddr: d.at,
		Parent:  d.st.Self,
	}
	if i, added := d.st.Arena.AddIB(ref); added {
		d.st.Children = append(d.st.Children, i)
	}
}

func (d *decoder) mapQueues() {
	sel := uint32(gpu.Bits(uint64(d.body[0]), 28, 26))
	ref := stream.DataBlockRef{
		Addr:      uint64(d.body[3])<<32 | uint64(d.body[2]&^3),
		VMID:      d.st.VMID,
		Kind:      mqdKind(sel),
		EngineSel: sel,
		SrcAddr:   d.at,
	}
	d.st.Arena.AddDataBlock(ref)
	d.sink.AddDataBlock(ref)
}

func mqdKind(engineSel uint32) stream.DataBlockKind {
	switch engineSel {
	case 0:
		return stream.BlockComputeMQD
	case 2, 3:
		return stream.BlockSDMAMQD
	case 4:
		return stream.BlockGfxMQD
	}
	return stream.BlockUnknown
}
