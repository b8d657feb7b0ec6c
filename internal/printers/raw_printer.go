package printers

import (
	"fmt"
	"io"
	"strings"

	"gpudbg/internal/common"
	"gpudbg/internal/stream"
)

// RawPrinter concatenates the opcode names of each buffer into a single
// line, written when the buffer is done. Fields are ignored.
type RawPrinter struct {
	ItemPrinter
	sep  string
	head string
	ops  []string
}

// NewRawPrinter creates a printer joining opcode names with sep.
func NewRawPrinter(writer io.Writer, sep string) *RawPrinter {
	if sep == "" {
		sep = " "
	}
	return &RawPrinter{ItemPrinter: *NewItemPrinter(writer), sep: sep}
}

func (p *RawPrinter) StartBuffer(b stream.Buffer) {
	p.head = fmt.Sprintf("%s %s", b.Family, b.Origin)
	p.ops = p.ops[:0]
}

func (p *RawPrinter) StartPacket(pkt stream.Packet) {
	name := pkt.Name
	if name == "" {
		name = fmt.Sprintf("0x%08x", pkt.Header)
	}
	p.ops = append(p.ops, name)
}

func (p *RawPrinter) Warn(w stream.Warning) {
	p.ops = append(p.ops, "!"+common.CodeName(w.Code))
}

func (p *RawPrinter) Done() {
	p.ItemPrintLine(p.head + ": " + strings.Join(p.ops, p.sep) + "\n")
	p.ops = p.ops[:0]
}

func (p *RawPrinter) AddField(stream.Field)            {}
func (p *RawPrinter) AddShader(stream.ShaderRef)       {}
func (p *RawPrinter) AddDataBlock(stream.DataBlockRef) {}
