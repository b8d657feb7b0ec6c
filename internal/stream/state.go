package stream

import (
	"fmt"

	"gpudbg/internal/common"
	"gpudbg/internal/gpu"
	"gpudbg/internal/regs"
)

// Phase is where the decoder sits relative to the packet boundaries.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseHeader
	PhaseBody
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseHeader:
		return "header"
	case PhaseBody:
		return "body"
	case PhaseDone:
		return "done"
	}
	return "idle"
}

// Memory is the view of GPU virtual memory the decoders follow references
// through.
type Memory interface {
	Mapped(vmid gpu.VMID, addr uint64) bool
	ReadWords(vmid gpu.VMID, addr uint64, n int) ([]uint32, error)
}

// Env is what a family decoder needs beyond the words themselves.
type Env struct {
	Regs *regs.Table
	// Mem is consulted only when Follow is set.
	Mem            Memory
	Follow         bool
	MaxShaderBytes int
	Log            common.Logger
}

// DecoderState is the state of one decode call. It is discarded after the
// sink has seen Done for the stream.
type DecoderState struct {
	Stream *WordStream
	Family gpu.Family
	VMID   gpu.VMID
	Addr   uint64 // address of word 0, zero when unknown
	Arena  *Arena
	// Index of this buffer in Arena.IBs, -1 for a root stream.
	Self int

	Phase     Phase
	Pos       int
	Opcode    uint32
	SubOp     uint32
	Remaining int

	// Children lists arena indices of IBs first discovered in this stream.
	Children []int

	pending map[string]uint32
}

func NewDecoderState(ws *WordStream, family gpu.Family, vmid gpu.VMID, addr uint64, arena *Arena) *DecoderState {
	if arena == nil {
		arena = NewArena()
	}
	return &DecoderState{
		Stream:  ws,
		Family:  family,
		VMID:    vmid,
		Addr:    addr,
		Arena:   arena,
		Self:    -1,
		pending: make(map[string]uint32),
	}
}

// AddrOf returns the address of word i in the stream.
func (s *DecoderState) AddrOf(i int) uint64 { return s.Addr + 4*uint64(i) }

// Begin enters the header phase for the packet at Pos.
func (s *DecoderState) Begin() {
	s.Phase = PhaseHeader
	s.Opcode, s.SubOp, s.Remaining = 0, 0, 0
}

// Body records the decoded header and enters the body phase.
func (s *DecoderState) Body(opcode, subOp uint32, words int) {
	s.Phase = PhaseBody
	s.Opcode, s.SubOp, s.Remaining = opcode, subOp, words
}

// Advance moves past the current packet.
func (s *DecoderState) Advance(n int) {
	s.Pos += n
	s.Phase = PhaseIdle
	s.Remaining = 0
}

func (s *DecoderState) Finish() { s.Phase = PhaseDone }

// Fits reports whether n more words are available at Pos.
func (s *DecoderState) Fits(n int) bool { return s.Pos+n <= s.Stream.Len() }

// SetPending stores one half of a value split across packets.
func (s *DecoderState) SetPending(key string, v uint32) { s.pending[key] = v }

// TakePending returns and forgets a pending value.
func (s *DecoderState) TakePending(key string) (uint32, bool) {
	v, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	return v, ok
}

// Warn builds a warning at the current position.
func (s *DecoderState) Warn(code gpu.Err, format string, args ...any) Warning {
	return Warning{Offset: s.Pos, Code: code, Message: fmt.Sprintf(format, args...)}
}
