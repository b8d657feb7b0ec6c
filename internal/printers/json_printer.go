package printers

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/nsf/jsondiff"

	"gpudbg/internal/common"
	"gpudbg/internal/gpu"
	"gpudbg/internal/stream"
)

type jsonDoc struct {
	Buffers []*jsonBuffer `json:"buffers"`
}

type jsonSource struct {
	VMID gpu.VMID `json:"vmid"`
	Addr string   `json:"addr"`
}

type jsonBuffer struct {
	Family   string        `json:"family"`
	Origin   string        `json:"origin"`
	VMID     gpu.VMID      `json:"vmid"`
	Addr     string        `json:"addr"`
	Words    int           `json:"words"`
	From     *jsonSource   `json:"from,omitempty"`
	Packets  []*jsonPacket `json:"packets"`
	Warnings []jsonWarning `json:"warnings,omitempty"`
}

type jsonPacket struct {
	Offset  int          `json:"offset"`
	Addr    string       `json:"addr"`
	Name    string       `json:"name"`
	Type    int          `json:"type,omitempty"`
	Opcode  uint32       `json:"opcode"`
	SubOp   uint32       `json:"subop,omitempty"`
	Words   int          `json:"words"`
	Header  string       `json:"header"`
	Fields  []jsonField  `json:"fields"`
	Shaders []jsonShader `json:"shaders,omitempty"`
	Blocks  []jsonBlock  `json:"blocks,omitempty"`
}

type jsonField struct {
	Name   string `json:"name"`
	Value  uint64 `json:"value"`
	Radix  string `json:"radix"`
	Symbol string `json:"symbol,omitempty"`
}

type jsonShader struct {
	Stage string   `json:"stage"`
	VMID  gpu.VMID `json:"vmid"`
	Addr  string   `json:"addr"`
	Size  uint64   `json:"size"`
}

type jsonBlock struct {
	Kind      string   `json:"kind"`
	VMID      gpu.VMID `json:"vmid"`
	Addr      string   `json:"addr"`
	EngineSel uint32   `json:"engine_sel"`
}

type jsonWarning struct {
	Offset  int    `json:"offset"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func hex(v uint64) string { return fmt.Sprintf("0x%x", v) }

// JSONPrinter builds a JSON document of every decoded buffer. A buffer
// joins the document when its Done arrives.
type JSONPrinter struct {
	doc jsonDoc
	cur *jsonBuffer
	pkt *jsonPacket
}

func NewJSONPrinter() *JSONPrinter {
	return &JSONPrinter{doc: jsonDoc{Buffers: []*jsonBuffer{}}}
}

func (p *JSONPrinter) StartBuffer(b stream.Buffer) {
	p.cur = &jsonBuffer{
		Family:  b.Family.String(),
		Origin:  b.Origin.String(),
		VMID:    b.VMID,
		Addr:    hex(b.Addr),
		Words:   b.Words,
		Packets: []*jsonPacket{},
	}
	if b.From != nil {
		p.cur.From = &jsonSource{VMID: b.From.SrcVMID, Addr: hex(b.From.SrcAddr)}
	}
	p.pkt = nil
}

func (p *JSONPrinter) StartPacket(pkt stream.Packet) {
	if p.cur == nil {
		return
	}
	p.pkt = &jsonPacket{
		Offset: pkt.Offset,
		Addr:   hex(pkt.Addr),
		Name:   pkt.Name,
		Type:   pkt.Type,
		Opcode: pkt.Opcode,
		SubOp:  pkt.SubOp,
		Words:  pkt.Words,
		Header: fmt.Sprintf("0x%08x", pkt.Header),
		Fields: []jsonField{},
	}
	p.cur.Packets = append(p.cur.Packets, p.pkt)
}

func (p *JSONPrinter) AddField(f stream.Field) {
	if p.pkt == nil {
		return
	}
	p.pkt.Fields = append(p.pkt.Fields, jsonField{Name: f.Name, Value: f.Value, Radix: f.Radix.String(), Symbol: f.Symbol})
}

func (p *JSONPrinter) AddShader(s stream.ShaderRef) {
	if p.pkt == nil {
		return
	}
	p.pkt.Shaders = append(p.pkt.Shaders, jsonShader{Stage: s.Stage, VMID: s.VMID, Addr: hex(s.Addr), Size: s.Size})
}

func (p *JSONPrinter) AddDataBlock(d stream.DataBlockRef) {
	if p.pkt == nil {
		return
	}
	p.pkt.Blocks = append(p.pkt.Blocks, jsonBlock{Kind: d.Kind.String(), VMID: d.VMID, Addr: hex(d.Addr), EngineSel: d.EngineSel})
}

func (p *JSONPrinter) Warn(w stream.Warning) {
	if p.cur == nil {
		return
	}
	p.cur.Warnings = append(p.cur.Warnings, jsonWarning{Offset: w.Offset, Code: common.CodeName(w.Code), Message: w.Message})
}

func (p *JSONPrinter) Done() {
	if p.cur == nil {
		return
	}
	p.doc.Buffers = append(p.doc.Buffers, p.cur)
	p.cur, p.pkt = nil, nil
}

// Len returns the number of finished buffers.
func (p *JSONPrinter) Len() int { return len(p.doc.Buffers) }

// Bytes returns the indented document.
func (p *JSONPrinter) Bytes() ([]byte, error) {
	return json.MarshalIndent(&p.doc, "", "  ")
}

// Encode writes the indented document to w.
func (p *JSONPrinter) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(&p.doc)
}

// Reset drops every buffer collected so far.
func (p *JSONPrinter) Reset() {
	p.doc.Buffers = []*jsonBuffer{}
	p.cur, p.pkt = nil, nil
}

// Diff compares the document against expected. It reports whether both
// hold the same JSON and, when they do not, a console rendering of the
// differences.
func (p *JSONPrinter) Diff(expected []byte) (bool, string, error) {
	actual, err := p.Bytes()
	if err != nil {
		return false, "", err
	}
	opts := jsondiff.DefaultConsoleOptions()
	d, text := jsondiff.Compare(expected, actual, &opts)
	switch d {
	case jsondiff.FullMatch:
		return true, "", nil
	case jsondiff.FirstArgIsInvalidJson, jsondiff.BothArgsAreInvalidJson:
		return false, "", common.NewErrorMsg(gpu.ErrSevError, gpu.ErrCaptureParse, "expected document: "+text)
	}
	return false, text, nil
}
