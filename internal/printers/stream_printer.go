package printers

import (
	"errors"
	"fmt"
	"os"

	"gpudbg/internal/common"
	"gpudbg/internal/stream"
)

// StreamPrinter writes every buffer as text to its own temporary file.
// The file is created at StartBuffer and only closed at Done, so a
// buffer that never completes leaves no finished file behind.
type StreamPrinter struct {
	dir     string
	pattern string
	log     common.Logger

	file  *os.File
	text  *TextPrinter
	files []string
	errs  []error
}

// NewStreamPrinter creates files in dir, or the system temp directory
// when dir is empty.
func NewStreamPrinter(dir string, logger common.Logger) *StreamPrinter {
	return &StreamPrinter{dir: dir, pattern: "gpudbg-*.txt", log: common.OrNoOp(logger).Named("stream")}
}

func (p *StreamPrinter) StartBuffer(b stream.Buffer) {
	if p.file != nil {
		p.abandon()
	}
	f, err := os.CreateTemp(p.dir, p.pattern)
	if err != nil {
		p.fail(fmt.Errorf("create buffer file: %w", err))
		return
	}
	p.file = f
	p.text = NewTextPrinter(f)
	p.text.StartBuffer(b)
}

func (p *StreamPrinter) StartPacket(pkt stream.Packet) {
	if p.text != nil {
		p.text.StartPacket(pkt)
	}
}

func (p *StreamPrinter) AddField(f stream.Field) {
	if p.text != nil {
		p.text.AddField(f)
	}
}

func (p *StreamPrinter) AddShader(s stream.ShaderRef) {
	if p.text != nil {
		p.text.AddShader(s)
	}
}

func (p *StreamPrinter) AddDataBlock(d stream.DataBlockRef) {
	if p.text != nil {
		p.text.AddDataBlock(d)
	}
}

func (p *StreamPrinter) Warn(w stream.Warning) {
	if p.text != nil {
		p.text.Warn(w)
	}
}

func (p *StreamPrinter) Done() {
	if p.file == nil {
		return
	}
	p.text.Done()
	name := p.file.Name()
	if err := p.file.Close(); err != nil {
		p.fail(fmt.Errorf("close %s: %w", name, err))
	} else {
		p.files = append(p.files, name)
		p.log.Logf(common.SeverityDebug, "buffer written to %s", name)
	}
	p.file, p.text = nil, nil
}

// Files lists the completed buffer files in decode order.
func (p *StreamPrinter) Files() []string { return p.files }

// Err joins the file errors seen so far.
func (p *StreamPrinter) Err() error { return errors.Join(p.errs...) }

// Close removes the file of a buffer that never reached Done.
func (p *StreamPrinter) Close() error {
	if p.file != nil {
		p.abandon()
	}
	return p.Err()
}

func (p *StreamPrinter) abandon() {
	name := p.file.Name()
	p.file.Close()
	if err := os.Remove(name); err != nil {
		p.fail(err)
	}
	p.log.Logf(common.SeverityWarning, "buffer file %s abandoned before done", name)
	p.file, p.text = nil, nil
}

func (p *StreamPrinter) fail(err error) {
	p.log.Error(err)
	p.errs = append(p.errs, err)
}
