// Package decode drives the packet family decoders over command streams:
// family dispatch, following discovered indirect buffers, and turning rings
// and word files into streams.
package decode

import (
	"errors"
	"fmt"

	"gpudbg/internal/common"
	"gpudbg/internal/gpu"
	"gpudbg/internal/regs"
	"gpudbg/internal/stream"
)

// Decoder runs decode sessions. mem may be nil, in which case nothing is
// followed whatever the configuration says.
type Decoder struct {
	cfg *Config
	mem stream.Memory
	reg *Register
	log common.Logger
}

func NewDecoder(cfg *Config, mem stream.Memory) *Decoder {
	if cfg == nil {
		cfg = NewConfig()
	}
	reg := cfg.Register
	if reg == nil {
		reg = DefaultRegister()
	}
	return &Decoder{cfg: cfg, mem: mem, reg: reg, log: common.OrNoOp(cfg.Logger).Named("decode")}
}

// Result summarizes a session.
type Result struct {
	Arena   *stream.Arena
	Buffers int
	// Errors holds the error that stopped each buffer that did not decode
	// to the end. Sibling buffers are unaffected.
	Errors []error
	// Skipped lists discovered buffers that were not decoded.
	Skipped []stream.IndirectBufferRef
}

// Err joins the per-buffer errors.
func (r *Result) Err() error { return errors.Join(r.Errors...) }

// Root describes the stream a session starts from.
type Root struct {
	Stream *stream.WordStream
	Family gpu.Family
	VMID   gpu.VMID
	Addr   uint64
}

// Decode decodes root and, when following, every buffer reachable from
// it, breadth first. Each buffer is delivered to sink as one
// StartBuffer ... Done sequence. The returned error is non-nil only when the
// session could not start.
func (d *Decoder) Decode(root Root, sink stream.Sink) (*Result, error) {
	fn, err := d.reg.Lookup(root.Family)
	if err != nil {
		return nil, err
	}
	res := &Result{Arena: stream.NewArena()}
	env := d.env()

	st := stream.NewDecoderState(root.Stream, root.Family, root.VMID, root.Addr, res.Arena)
	queue := d.run(fn, st, nil, sink, env, res)
	if !env.Follow {
		return res, nil
	}

	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		ib := res.Arena.IBs[i]

		if d.cfg.MaxBuffers > 0 && res.Buffers >= d.cfg.MaxBuffers {
			d.log.Logf(common.SeverityWarning, "buffer limit %d reached, %d buffers not decoded", d.cfg.MaxBuffers, len(queue)+1)
			res.Skipped = append(res.Skipped, ib)
			for _, j := range queue {
				res.Skipped = append(res.Skipped, res.Arena.IBs[j])
			}
			break
		}
		if d.cfg.MaxIBWords > 0 && ib.Words > d.cfg.MaxIBWords {
			d.log.Logf(common.SeverityWarning, "%s exceeds %d words, skipped", ib, d.cfg.MaxIBWords)
			res.Skipped = append(res.Skipped, ib)
			continue
		}
		fn, err := d.reg.Lookup(ib.Family)
		if err != nil {
			res.Errors = append(res.Errors, err)
			res.Skipped = append(res.Skipped, ib)
			continue
		}
		words, err := d.mem.ReadWords(ib.VMID, ib.Addr, ib.Words)
		if err != nil {
			d.log.Logf(common.SeverityWarning, "%s: %v", ib, err)
			res.Errors = append(res.Errors, err)
			res.Skipped = append(res.Skipped, ib)
			continue
		}

		ws := stream.New(stream.Origin{Kind: stream.OriginVM, VMID: ib.VMID, Addr: ib.Addr}, words)
		child := stream.NewDecoderState(ws, ib.Family, ib.VMID, ib.Addr, res.Arena)
		child.Self = i
		queue = append(queue, d.run(fn, child, &ib, sink, env, res)...)
	}
	return res, nil
}

// run decodes one buffer and returns the buffers it discovered first.
func (d *Decoder) run(fn FamilyFunc, st *stream.DecoderState, from *stream.IndirectBufferRef, sink stream.Sink, env *stream.Env, res *Result) []int {
	res.Buffers++
	sink.StartBuffer(stream.Buffer{
		Addr:   st.Addr,
		VMID:   st.VMID,
		Family: st.Family,
		Origin: st.Stream.Origin,
		Words:  st.Stream.Len(),
		From:   from,
	})
	if err := fn(st, sink, env); err != nil {
		d.log.Logf(common.SeverityDebug, "%s buffer at 0x%x stopped: %v", st.Family, st.Addr, err)
		res.Errors = append(res.Errors, err)
	}
	sink.Done()
	return st.Children
}

func (d *Decoder) env() *stream.Env {
	t := d.cfg.Regs
	if t == nil {
		t = regs.Builtin()
	}
	return &stream.Env{
		Regs:           t,
		Mem:            d.mem,
		Follow:         d.cfg.Follow && d.mem != nil,
		MaxShaderBytes: d.cfg.MaxShaderBytes,
		Log:            d.cfg.Logger,
	}
}

// Words decodes a caller-supplied word buffer.
func (d *Decoder) Words(words []uint32, family gpu.Family, vmid gpu.VMID, sink stream.Sink) (*Result, error) {
	return d.Decode(Root{Stream: stream.New(stream.Origin{Kind: stream.OriginBuffer}, words), Family: family, VMID: vmid}, sink)
}

// IB reads n words at addr through the translator and decodes them.
func (d *Decoder) IB(vmid gpu.VMID, addr uint64, n int, family gpu.Family, sink stream.Sink) (*Result, error) {
	if d.mem == nil {
		return nil, common.NewErrorMsg(gpu.ErrSevError, gpu.ErrBadConfig, "no memory to read the buffer from")
	}
	words, err := d.mem.ReadWords(vmid, addr, n)
	if err != nil {
		return nil, fmt.Errorf("read ib vmid %d addr 0x%x: %w", vmid, addr, err)
	}
	ws := stream.New(stream.Origin{Kind: stream.OriginVM, VMID: vmid, Addr: addr}, words)
	return d.Decode(Root{Stream: ws, Family: family, VMID: vmid, Addr: addr}, sink)
}
