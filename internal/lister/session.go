package lister

import (
	"fmt"
	"io"

	"gpudbg/internal/common"
	"gpudbg/internal/decode"
	"gpudbg/internal/gpu"
	"gpudbg/internal/printers"
	"gpudbg/internal/snapshot"
	"gpudbg/internal/stream"
	"gpudbg/internal/vm"
)

// Session is an open capture with a translator over its memory.
type Session struct {
	Capture *snapshot.Capture
	VM      *vm.Translator
	// Partition is used for every register and memory access.
	Partition gpu.Partition

	log common.Logger
}

// Open loads the capture in dir.
func Open(dir string, logger common.Logger) (*Session, error) {
	logger = common.OrNoOp(logger)
	c, err := snapshot.Load(dir, logger)
	if err != nil {
		return nil, err
	}
	cfg := vm.NewConfig(c.Device.GCMajor)
	cfg.Hub = c.Device.Hub
	cfg.ForceZeroFB = c.Device.ZeroFB
	cfg.Logger = logger
	return &Session{
		Capture: c,
		VM:      vm.NewTranslator(c.Port, c.Regs, cfg),
		log:     logger.Named("lister"),
	}, nil
}

func (s *Session) Close() { s.Capture.Close() }

// Memory exposes the translator to the decoders.
func (s *Session) Memory() stream.Memory {
	return decode.VMMemory{T: s.VM, Hub: s.VM.Config().Hub, Partition: s.Partition}
}

func (s *Session) ctx(vmid gpu.VMID) gpu.CtxID {
	return gpu.CtxID{VMID: vmid, Hub: s.VM.Config().Hub, Partition: s.Partition}
}

// Ring returns the named ring, or the first one when name is empty.
func (s *Session) Ring(name string) (snapshot.RingDef, error) {
	if name == "" {
		if len(s.Capture.Rings) == 0 {
			return snapshot.RingDef{}, common.NewErrorMsg(gpu.ErrSevError, gpu.ErrBadConfig, "capture has no rings")
		}
		return s.Capture.Rings[0], nil
	}
	r, ok := s.Capture.Ring(name)
	if !ok {
		return snapshot.RingDef{}, common.NewErrorf(gpu.ErrSevError, gpu.ErrBadConfig, "no ring named %q", name)
	}
	return r, nil
}

// RingStream reads a ring and cuts the window between its pointers.
func (s *Session) RingStream(r snapshot.RingDef, whole bool) (*stream.WordStream, error) {
	words, err := s.Capture.RingWords(r)
	if err != nil {
		return nil, err
	}
	ws := decode.Ring(r.Name, words, r.Rptr, r.Wptr, whole)
	s.log.Logf(common.SeverityDebug, "ring %s: %d words, rptr=%d wptr=%d window=%d", r.Name, len(words), r.Rptr, r.Wptr, ws.Len())
	return ws, nil
}

// Context describes the page table setup of vmid.
func (s *Session) Context(vmid gpu.VMID) (*vm.Context, error) {
	return s.VM.Context(s.ctx(vmid))
}

// Trace writes the walk of [addr, addr+length) as a tree.
func (s *Session) Trace(vmid gpu.VMID, addr, length uint64, w io.Writer) error {
	tr := printers.NewWalkTrace()
	err := s.VM.Trace(s.ctx(vmid), addr, length, tr)
	if _, werr := tr.WriteTo(w); werr != nil && err == nil {
		err = werr
	}
	return err
}

// Translate writes one line per chunk of [addr, addr+length).
func (s *Session) Translate(vmid gpu.VMID, addr, length uint64, w io.Writer) error {
	for c, err := range s.VM.Translate(s.ctx(vmid), addr, length) {
		switch {
		case err != nil:
			fmt.Fprintf(w, "0x%x +0x%x: %v\n", c.VA, c.Len, err)
			if common.CodeOf(err) != gpu.ErrUnmappedAddress {
				return err
			}
		case c.PRT:
			fmt.Fprintf(w, "0x%x +0x%x: prt\n", c.VA, c.Len)
		default:
			fmt.Fprintf(w, "0x%x +0x%x -> %s 0x%x\n", c.VA, c.Len, c.Space, c.Phys)
		}
	}
	return nil
}

// ReadWords reads n words of virtual memory.
func (s *Session) ReadWords(vmid gpu.VMID, addr uint64, n int) ([]uint32, error) {
	return s.VM.ReadWords(s.ctx(vmid), addr, n)
}

// Dump writes n words at addr, four per line.
func (s *Session) Dump(vmid gpu.VMID, addr uint64, n int, w io.Writer) error {
	words, err := s.ReadWords(vmid, addr, n)
	if err != nil {
		return err
	}
	for i, v := range words {
		if i%4 == 0 {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "0x%012x:", addr+4*uint64(i))
		}
		fmt.Fprintf(w, " %08x", v)
	}
	if len(words) > 0 {
		fmt.Fprintln(w)
	}
	return nil
}
