package stream

import (
	"fmt"

	"gpudbg/internal/gpu"
)

// IndirectBufferRef is a nested command buffer named by a packet.
type IndirectBufferRef struct {
	Addr   uint64
	VMID   gpu.VMID
	Words  int
	Family gpu.Family
	Chain  bool
	// Where the referencing packet sat.
	SrcVMID gpu.VMID
	SrcAddr uint64
	// Parent is the arena index of the buffer holding the reference, -1 for a root.
	Parent int
}

func (r IndirectBufferRef) String() string {
	return fmt.Sprintf("ib %s vmid=%d addr=0x%x words=%d", r.Family, r.VMID, r.Addr, r.Words)
}

// ShaderRef is a shader program whose address was assembled from register writes.
type ShaderRef struct {
	Addr    uint64
	VMID    gpu.VMID
	Stage   string
	Size    uint64 // bytes up to and including the end-of-program word; 0 when unknown
	SrcAddr uint64
}

func (r ShaderRef) String() string {
	return fmt.Sprintf("shader %s vmid=%d addr=0x%x size=%d", r.Stage, r.VMID, r.Addr, r.Size)
}

// DataBlockKind identifies the structure a data block holds.
type DataBlockKind int

const (
	BlockComputeMQD DataBlockKind = iota
	BlockSDMAMQD
	BlockGfxMQD
	BlockUnknown
)

func (k DataBlockKind) String() string {
	switch k {
	case BlockComputeMQD:
		return "compute-mqd"
	case BlockSDMAMQD:
		return "sdma-mqd"
	case BlockGfxMQD:
		return "gfx-mqd"
	}
	return "unknown"
}

// DataBlockRef is a typed memory structure referenced by a packet.
type DataBlockRef struct {
	Addr uint64
	VMID gpu.VMID
	Kind DataBlockKind
	// EngineSel is the raw engine selector the kind was derived from.
	EngineSel uint32
	SrcAddr   uint64
}

func (r DataBlockRef) String() string {
	return fmt.Sprintf("%s vmid=%d addr=0x%x", r.Kind, r.VMID, r.Addr)
}

type refKey struct {
	vmid gpu.VMID
	addr uint64
}

// Arena owns every artifact discovered in one decode session. Artifacts
// refer to each other by index so the graph needs no back pointers.
type Arena struct {
	IBs     []IndirectBufferRef
	Shaders []ShaderRef
	Blocks  []DataBlockRef

	ibSeen     map[refKey]int
	shaderSeen map[refKey]int
}

func NewArena() *Arena {
	return &Arena{ibSeen: make(map[refKey]int), shaderSeen: make(map[refKey]int)}
}

// AddIB records ib unless a buffer at the same (vmid, addr) is already
// known. It returns the index and whether the reference was new.
func (a *Arena) AddIB(ib IndirectBufferRef) (int, bool) {
	k := refKey{ib.VMID, ib.Addr}
	if i, ok := a.ibSeen[k]; ok {
		return i, false
	}
	a.IBs = append(a.IBs, ib)
	a.ibSeen[k] = len(a.IBs) - 1
	return len(a.IBs) - 1, true
}

// HasShader reports whether the shader at (vmid, addr) is already known.
func (a *Arena) HasShader(vmid gpu.VMID, addr uint64) bool {
	_, ok := a.shaderSeen[refKey{vmid, addr}]
	return ok
}

// AddShader de-duplicates shaders by (vmid, addr).
func (a *Arena) AddShader(s ShaderRef) (int, bool) {
	k := refKey{s.VMID, s.Addr}
	if i, ok := a.shaderSeen[k]; ok {
		return i, false
	}
	a.Shaders = append(a.Shaders, s)
	a.shaderSeen[k] = len(a.Shaders) - 1
	return len(a.Shaders) - 1, true
}

func (a *Arena) AddDataBlock(d DataBlockRef) int {
	a.Blocks = append(a.Blocks, d)
	return len(a.Blocks) - 1
}
