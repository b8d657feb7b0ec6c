package stream

import "gpudbg/internal/gpu"

// Sink receives decoded output. Per buffer the decoder calls, in order:
//
//	StartBuffer, then for each packet StartPacket followed by AddField calls
//	and any AddShader / AddDataBlock the packet produced, then Done.
//
// Warn may be called between packets. Done is the only point at which a
// buffer-scoped resource may be finalized.
type Sink interface {
	StartBuffer(b Buffer)
	StartPacket(p Packet)
	AddField(f Field)
	AddShader(s ShaderRef)
	AddDataBlock(d DataBlockRef)
	Warn(w Warning)
	Done()
}

// Buffer opens one decoded stream.
type Buffer struct {
	Addr   uint64
	VMID   gpu.VMID
	Family gpu.Family
	Origin Origin
	Words  int
	// From is the IB reference this buffer was reached through, nil for roots.
	From *IndirectBufferRef
}

// Packet opens one decoded packet.
type Packet struct {
	Offset int    // word index of the header within the stream
	Addr   uint64 // address of the header when the stream has one
	Type   int    // PM4 packet type; zero for SDMA
	Opcode uint32
	SubOp  uint32
	Name   string
	Words  int // body words following the header
	Header uint32
}

// Field is one named value decoded from a packet body.
type Field struct {
	Name   string
	Value  uint64
	Radix  gpu.Radix
	Symbol string
}

// Warning reports a recoverable problem or the reason a buffer stopped early.
type Warning struct {
	Offset  int
	Code    gpu.Err
	Message string
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) StartBuffer(Buffer)        {}
func (NopSink) StartPacket(Packet)        {}
func (NopSink) AddField(Field)            {}
func (NopSink) AddShader(ShaderRef)       {}
func (NopSink) AddDataBlock(DataBlockRef) {}
func (NopSink) Warn(Warning)              {}
func (NopSink) Done()                     {}
