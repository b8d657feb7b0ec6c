package printers

import (
	"fmt"
	"io"

	"gpudbg/internal/common"
)

// ItemPrinter is the output base shared by the line oriented printers.
type ItemPrinter struct {
	writer      io.Writer
	logger      common.Logger
	muted       bool
	offsetMuted bool
}

// NewItemPrinter constructs an ItemPrinter using the given io.Writer.
func NewItemPrinter(writer io.Writer) *ItemPrinter {
	return &ItemPrinter{
		writer: writer,
	}
}

// SetOutput redirects the printer output.
func (p *ItemPrinter) SetOutput(w io.Writer) {
	if w != nil {
		p.writer = w
	}
}

// SetMessageLogger sets an optional logger that also receives every line.
func (p *ItemPrinter) SetMessageLogger(logger common.Logger) {
	p.logger = logger
}

// ItemPrintLine writes the given message to the writer and optionally logs it.
func (p *ItemPrinter) ItemPrintLine(msg string) {
	if p.muted {
		return
	}
	if p.writer != nil {
		fmt.Fprint(p.writer, msg)
	}
	if p.logger != nil {
		p.logger.Info(msg)
	}
}

// SetMute sets the printer to mute (avoids output).
func (p *ItemPrinter) SetMute(mute bool) { p.muted = mute }

// IsMuted returns true if the printer is muted.
func (p *ItemPrinter) IsMuted() bool { return p.muted }

// MuteOffsetPrint mutes or unmutes the word offset prefix on packet lines.
func (p *ItemPrinter) MuteOffsetPrint(mute bool) { p.offsetMuted = mute }

// OffsetPrintMuted returns whether offset printing is muted.
func (p *ItemPrinter) OffsetPrintMuted() bool { return p.offsetMuted }
