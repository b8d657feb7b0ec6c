package printers

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"gpudbg/internal/common"
	"gpudbg/internal/gpu"
	"gpudbg/internal/stream"
)

// TextPrinter prints decoded buffers one line per packet, with the
// packet fields indented below.
type TextPrinter struct {
	ItemPrinter
	collectStats bool
	packetCounts map[string]int
	warnCounts   map[gpu.Err]int

	buf     stream.Buffer
	packets int
}

// NewTextPrinter creates a new text printer.
func NewTextPrinter(writer io.Writer) *TextPrinter {
	return &TextPrinter{
		ItemPrinter:  *NewItemPrinter(writer),
		packetCounts: make(map[string]int),
		warnCounts:   make(map[gpu.Err]int),
	}
}

func (p *TextPrinter) StartBuffer(b stream.Buffer) {
	p.buf = b
	p.packets = 0
	line := fmt.Sprintf("%s buffer %s vmid=%d addr=0x%x words=%d\n", b.Family, b.Origin, b.VMID, b.Addr, b.Words)
	if b.From != nil {
		line += fmt.Sprintf("  from vmid=%d addr=0x%x\n", b.From.SrcVMID, b.From.SrcAddr)
	}
	p.ItemPrintLine(line)
}

func (p *TextPrinter) StartPacket(pkt stream.Packet) {
	p.packets++
	if p.collectStats {
		p.packetCounts[pkt.Name]++
	}

	var sb strings.Builder
	if !p.OffsetPrintMuted() {
		sb.WriteString(fmt.Sprintf("Idx:%d; 0x%x; ", pkt.Offset, pkt.Addr))
	}
	sb.WriteString(PacketString(p.buf.Family, pkt))
	sb.WriteString("\n")
	p.ItemPrintLine(sb.String())
}

func (p *TextPrinter) AddField(f stream.Field) {
	p.ItemPrintLine("    " + FieldString(f) + "\n")
}

func (p *TextPrinter) AddShader(s stream.ShaderRef) {
	p.ItemPrintLine("  -> " + s.String() + "\n")
}

func (p *TextPrinter) AddDataBlock(d stream.DataBlockRef) {
	p.ItemPrintLine("  -> " + d.String() + "\n")
}

func (p *TextPrinter) Warn(w stream.Warning) {
	if p.collectStats {
		p.warnCounts[w.Code]++
	}
	p.ItemPrintLine(fmt.Sprintf("WARNING: Idx:%d; %s; %s\n", w.Offset, common.CodeName(w.Code), w.Message))
}

func (p *TextPrinter) Done() {
	p.ItemPrintLine(fmt.Sprintf("end of buffer 0x%x: %d packets\n\n", p.buf.Addr, p.packets))
}

// SetCollectStats turns on statistics collection.
func (p *TextPrinter) SetCollectStats() { p.collectStats = true }

// PrintStats outputs the packet and warning counts seen so far.
func (p *TextPrinter) PrintStats() {
	var sb strings.Builder

	sb.WriteString("Packets processed:-\n")
	names := make([]string, 0, len(p.packetCounts))
	for name := range p.packetCounts {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		sb.WriteString(fmt.Sprintf("%s : %d\n", name, p.packetCounts[name]))
	}
	if len(p.warnCounts) > 0 {
		sb.WriteString("Warnings:-\n")
		for code := gpu.OK; code < gpu.ErrLast; code++ {
			if n := p.warnCounts[code]; n > 0 {
				sb.WriteString(fmt.Sprintf("%s : %d\n", common.CodeName(code), n))
			}
		}
	}
	sb.WriteString("\n")

	// stats print even when the per-packet output is muted
	muted := p.IsMuted()
	p.SetMute(false)
	p.ItemPrintLine(sb.String())
	p.SetMute(muted)
}

// PacketString renders a packet header line.
func PacketString(family gpu.Family, pkt stream.Packet) string {
	if family == gpu.FamilySDMA {
		return fmt.Sprintf("SDMA %s op=%d sub=%d n=%d hdr=0x%08x", pkt.Name, pkt.Opcode, pkt.SubOp, pkt.Words, pkt.Header)
	}
	switch pkt.Type {
	case 3:
		return fmt.Sprintf("PKT3 %s op=0x%02x n=%d hdr=0x%08x", pkt.Name, pkt.Opcode, pkt.Words, pkt.Header)
	case 2:
		return fmt.Sprintf("PKT2 hdr=0x%08x", pkt.Header)
	}
	return fmt.Sprintf("PKT%d n=%d hdr=0x%08x", pkt.Type, pkt.Words, pkt.Header)
}

// FieldString renders a field in its radix, with the symbol when there is one.
func FieldString(f stream.Field) string {
	var s string
	if f.Radix == gpu.RadixDec {
		s = fmt.Sprintf("%s = %d", f.Name, f.Value)
	} else {
		s = fmt.Sprintf("%s = 0x%x", f.Name, f.Value)
	}
	if f.Symbol != "" {
		s += " (" + f.Symbol + ")"
	}
	return s
}
