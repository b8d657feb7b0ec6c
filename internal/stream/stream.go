// Package stream holds what the packet decoders share: word streams, the
// sink contract decoded output leaves through, the artifacts discovered
// while decoding, and the per-stream decoder state.
package stream

import (
	"fmt"

	"gpudbg/internal/gpu"
)

// OriginKind says where the words of a stream came from.
type OriginKind int

const (
	OriginBuffer OriginKind = iota // caller supplied words
	OriginRing
	OriginVM   // read through the translator
	OriginFile // hex word file
)

func (k OriginKind) String() string {
	switch k {
	case OriginRing:
		return "ring"
	case OriginVM:
		return "vm"
	case OriginFile:
		return "file"
	}
	return "buffer"
}

// Origin tags a stream with its source.
type Origin struct {
	Kind OriginKind
	Name string // ring or file name
	VMID gpu.VMID
	Addr uint64 // virtual address for OriginVM
}

func (o Origin) String() string {
	switch o.Kind {
	case OriginRing, OriginFile:
		return fmt.Sprintf("%s:%s", o.Kind, o.Name)
	case OriginVM:
		return fmt.Sprintf("vm:%d@0x%x", o.VMID, o.Addr)
	}
	return o.Kind.String()
}

// WordStream is an immutable sequence of 32-bit words.
type WordStream struct {
	Origin Origin
	words  []uint32
}

// New copies words into a stream.
func New(origin Origin, words []uint32) *WordStream {
	return &WordStream{Origin: origin, words: append([]uint32(nil), words...)}
}

func (s *WordStream) Len() int { return len(s.words) }

func (s *WordStream) At(i int) uint32 { return s.words[i] }

// Words returns a copy of the stream contents.
func (s *WordStream) Words() []uint32 { return append([]uint32(nil), s.words...) }

// Window returns words [i, i+n) without copying; callers must not modify it.
func (s *WordStream) Window(i, n int) []uint32 { return s.words[i : i+n : i+n] }
