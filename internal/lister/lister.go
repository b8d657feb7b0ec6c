// Package lister runs complete decode sessions: it opens a capture, picks
// the stream to decode and prints the result in the requested format.
package lister

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gpudbg/internal/common"
	"gpudbg/internal/decode"
	"gpudbg/internal/gpu"
	"gpudbg/internal/printers"
	"gpudbg/internal/stream"
)

// Output formats.
const (
	FormatText   = "text"
	FormatJSON   = "json"
	FormatTree   = "tree"
	FormatRaw    = "raw"
	FormatStream = "stream"
)

// Formats lists the accepted output formats.
var Formats = []string{FormatText, FormatJSON, FormatTree, FormatRaw, FormatStream}

// Config mirrors the command line of the decode commands.
type Config struct {
	CaptureDir string
	// Ring names the ring to decode; the first ring when empty.
	Ring string
	// Whole decodes the entire ring instead of the rptr..wptr window.
	Whole bool
	// Family overrides the ring's packet family when set.
	Family string
	// VMID overrides the ring's VMID when not negative.
	VMID   int
	Follow bool
	Format string
	// Expect is a JSON document the json output is compared against.
	Expect string
	// StreamDir receives the per-buffer files of the stream format.
	StreamDir string
	// JSONOut also writes the json document to this file, whatever Format is.
	JSONOut   string
	Stats     bool
	NoOffsets bool

	MaxBuffers     int
	MaxShaderBytes int

	Output io.Writer
	Logger common.Logger
}

func NewConfig() *Config {
	d := decode.NewConfig()
	return &Config{
		VMID:           -1,
		Format:         FormatText,
		MaxBuffers:     d.MaxBuffers,
		MaxShaderBytes: d.MaxShaderBytes,
	}
}

func (c *Config) writer() io.Writer {
	if c.Output == nil {
		return os.Stdout
	}
	return c.Output
}

// DecodeConfig derives the decoder settings.
func (c *Config) DecodeConfig() *decode.Config {
	d := decode.NewConfig()
	d.Follow = c.Follow
	if c.MaxBuffers > 0 {
		d.MaxBuffers = c.MaxBuffers
	}
	if c.MaxShaderBytes > 0 {
		d.MaxShaderBytes = c.MaxShaderBytes
	}
	d.Logger = c.Logger
	return d
}

// ErrMismatch is returned when the json output differs from Expect.
var ErrMismatch = errors.New("decoded output differs from the expected document")

// Run decodes a ring of the capture in cfg.CaptureDir.
func Run(cfg *Config) (*decode.Result, error) {
	w := cfg.writer()
	s, err := Open(cfg.CaptureDir, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture: %w", err)
	}
	defer s.Close()

	ring, err := s.Ring(cfg.Ring)
	if err != nil {
		return nil, err
	}
	ws, err := s.RingStream(ring, cfg.Whole)
	if err != nil {
		return nil, err
	}

	family := ring.Family
	if cfg.Family != "" {
		if family, err = gpu.ParseFamily(cfg.Family); err != nil {
			return nil, err
		}
	}
	vmid := ring.VMID
	if cfg.VMID >= 0 {
		vmid = gpu.VMID(cfg.VMID)
	}

	if cfg.Format == "" || cfg.Format == FormatText {
		fmt.Fprintf(w, "GPU Command Lister : reading capture from path %s\n", cfg.CaptureDir)
		fmt.Fprintf(w, "Capture: %s\n", s.Capture)
		fmt.Fprintf(w, "Using ring %s (%s, vmid %d, %d words)\n\n", ring.Name, family, vmid, ws.Len())
	}

	dcfg := cfg.DecodeConfig()
	dcfg.Regs = s.Capture.Regs
	return Decode(cfg, dcfg, s.Memory(), decode.Root{Stream: ws, Family: family, VMID: vmid})
}

// RunIB decodes n words at addr of vmid's address space.
func RunIB(cfg *Config, s *Session, vmid gpu.VMID, addr uint64, n int, family gpu.Family) (*decode.Result, error) {
	words, err := s.ReadWords(vmid, addr, n)
	if err != nil {
		return nil, err
	}
	dcfg := cfg.DecodeConfig()
	dcfg.Regs = s.Capture.Regs
	ws := stream.New(stream.Origin{Kind: stream.OriginVM, VMID: vmid, Addr: addr}, words)
	return Decode(cfg, dcfg, s.Memory(), decode.Root{Stream: ws, Family: family, VMID: vmid, Addr: addr})
}

// Decode runs one session over root and prints it. mem may be nil when
// nothing is to be followed.
func Decode(cfg *Config, dcfg *decode.Config, mem stream.Memory, root decode.Root) (*decode.Result, error) {
	out, err := newOutput(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.JSONOut != "" {
		out = withJSONFile(out, cfg.JSONOut)
	}
	res, err := decode.NewDecoder(dcfg, mem).Decode(root, out.sink)
	if err != nil {
		return nil, err
	}
	if err := out.finish(res); err != nil {
		return res, err
	}
	return res, nil
}

// output is a sink plus the step that completes it once the session ends.
type output struct {
	sink   stream.Sink
	finish func(*decode.Result) error
}

func newOutput(cfg *Config) (*output, error) {
	w := cfg.writer()
	switch cfg.Format {
	case "", FormatText:
		p := printers.NewTextPrinter(w)
		p.MuteOffsetPrint(cfg.NoOffsets)
		if cfg.Stats {
			p.SetCollectStats()
		}
		return &output{sink: p, finish: func(res *decode.Result) error {
			if cfg.Stats {
				p.PrintStats()
			}
			summary(w, res)
			return nil
		}}, nil

	case FormatJSON:
		p := printers.NewJSONPrinter()
		return &output{sink: p, finish: func(*decode.Result) error {
			if cfg.Expect == "" {
				return p.Encode(w)
			}
			want, err := os.ReadFile(cfg.Expect)
			if err != nil {
				return err
			}
			ok, diff, err := p.Diff(want)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(w, diff)
				return ErrMismatch
			}
			fmt.Fprintf(w, "%d buffers match %s\n", p.Len(), cfg.Expect)
			return nil
		}}, nil

	case FormatTree:
		p := printers.NewTreePrinter(true)
		return &output{sink: p, finish: func(*decode.Result) error {
			_, err := p.WriteTo(w)
			return err
		}}, nil

	case FormatRaw:
		return &output{sink: printers.NewRawPrinter(w, " "), finish: func(*decode.Result) error { return nil }}, nil

	case FormatStream:
		p := printers.NewStreamPrinter(cfg.StreamDir, cfg.Logger)
		return &output{sink: p, finish: func(*decode.Result) error {
			err := p.Close()
			for _, f := range p.Files() {
				fmt.Fprintln(w, f)
			}
			return err
		}}, nil
	}
	return nil, common.NewErrorf(gpu.ErrSevError, gpu.ErrBadConfig, "unknown output format %q", cfg.Format)
}

// withJSONFile fans the session out to a json printer saved to path.
func withJSONFile(out *output, path string) *output {
	p := printers.NewJSONPrinter()
	return &output{sink: printers.NewMulti(out.sink, p), finish: func(res *decode.Result) error {
		err := out.finish(res)
		data, jerr := p.Bytes()
		if jerr == nil {
			jerr = os.WriteFile(path, append(data, '\n'), 0o644)
		}
		return errors.Join(err, jerr)
	}}
}

func summary(w io.Writer, res *decode.Result) {
	a := res.Arena
	fmt.Fprintf(w, "%d buffers decoded, %d indirect buffers, %d shaders, %d data blocks found\n",
		res.Buffers, len(a.IBs), len(a.Shaders), len(a.Blocks))
	for _, ib := range res.Skipped {
		fmt.Fprintf(w, "skipped %s\n", ib)
	}
	for _, err := range res.Errors {
		fmt.Fprintf(w, "stopped: %v\n", err)
	}
}
