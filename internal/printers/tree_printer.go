package printers

import (
	"fmt"
	"io"

	"github.com/xlab/treeprint"

	"gpudbg/internal/gpu"
	"gpudbg/internal/stream"
)

type packetKey struct {
	vmid gpu.VMID
	addr uint64
}

// TreePrinter arranges a decode session as a tree. A buffer reached
// through an indirect buffer packet hangs below that packet.
type TreePrinter struct {
	root    treeprint.Tree
	buf     treeprint.Tree
	pkt     treeprint.Tree
	family  gpu.Family
	vmid    gpu.VMID
	fields  bool
	packets map[packetKey]treeprint.Tree
}

// NewTreePrinter creates a tree printer. With fields unset only packets,
// shaders and data blocks are shown.
func NewTreePrinter(fields bool) *TreePrinter {
	return &TreePrinter{
		root:    treeprint.NewWithRoot("decode"),
		fields:  fields,
		packets: make(map[packetKey]treeprint.Tree),
	}
}

func (p *TreePrinter) StartBuffer(b stream.Buffer) {
	parent := p.root
	if b.From != nil {
		if n, ok := p.packets[packetKey{b.From.SrcVMID, b.From.SrcAddr}]; ok {
			parent = n
		}
	}
	p.buf = parent.AddBranch(fmt.Sprintf("%s %s vmid=%d addr=0x%x words=%d", b.Family, b.Origin, b.VMID, b.Addr, b.Words))
	p.pkt = nil
	p.family, p.vmid = b.Family, b.VMID
}

func (p *TreePrinter) StartPacket(pkt stream.Packet) {
	if p.buf == nil {
		return
	}
	p.pkt = p.buf.AddBranch(fmt.Sprintf("[%d] %s", pkt.Offset, PacketString(p.family, pkt)))
	p.packets[packetKey{p.vmid, pkt.Addr}] = p.pkt
}

func (p *TreePrinter) AddField(f stream.Field) {
	if p.fields && p.pkt != nil {
		p.pkt.AddNode(FieldString(f))
	}
}

func (p *TreePrinter) AddShader(s stream.ShaderRef) {
	if p.pkt != nil {
		p.pkt.AddNode(s.String())
	}
}

func (p *TreePrinter) AddDataBlock(d stream.DataBlockRef) {
	if p.pkt != nil {
		p.pkt.AddNode(d.String())
	}
}

func (p *TreePrinter) Warn(w stream.Warning) {
	if p.buf != nil {
		p.buf.AddNode(fmt.Sprintf("warning [%d] %s", w.Offset, w.Message))
	}
}

func (p *TreePrinter) Done() {
	p.buf, p.pkt = nil, nil
}

// Tree returns the tree built so far.
func (p *TreePrinter) Tree() treeprint.Tree { return p.root }

func (p *TreePrinter) String() string { return p.root.String() }

// WriteTo renders the tree to w.
func (p *TreePrinter) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(p.root.Bytes())
	return int64(n), err
}
