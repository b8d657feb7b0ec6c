package stream

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"gpudbg/internal/gpu"
)

func TestWordStreamCopies(t *testing.T) {
	in := []uint32{1, 2, 3}
	ws := New(Origin{Kind: OriginRing, Name: "gfx_0.0.0"}, in)
	in[0] = 99
	if ws.At(0) != 1 {
		t.Fatalf("stream aliases caller slice")
	}
	out := ws.Words()
	out[1] = 42
	if ws.At(1) != 2 {
		t.Fatalf("Words aliases stream storage")
	}
	if diff := cmp.Diff([]uint32{2, 3}, ws.Window(1, 2)); diff != "" {
		t.Errorf("window mismatch (-want +got):\n%s", diff)
	}
	if got := ws.Origin.String(); got != "ring:gfx_0.0.0" {
		t.Errorf("origin = %q", got)
	}
}

func TestArenaDeduplicates(t *testing.T) {
	a := NewArena()
	i, added := a.AddShader(ShaderRef{VMID: 1, Addr: 0x1000, Stage: "PS"})
	if i != 0 || !added {
		t.Fatalf("first shader: %d %v", i, added)
	}
	i, added = a.AddShader(ShaderRef{VMID: 1, Addr: 0x1000, Stage: "VS"})
	if i != 0 || added {
		t.Fatalf("duplicate shader: %d %v", i, added)
	}
	if _, added = a.AddShader(ShaderRef{VMID: 2, Addr: 0x1000}); !added {
		t.Fatalf("same address in another vmid must be distinct")
	}
	if !a.HasShader(1, 0x1000) || a.HasShader(3, 0x1000) {
		t.Error("HasShader disagrees with AddShader")
	}

	if _, added = a.AddIB(IndirectBufferRef{VMID: 3, Addr: 0x2000, Parent: -1}); !added {
		t.Fatal("first ib not added")
	}
	if _, added = a.AddIB(IndirectBufferRef{VMID: 3, Addr: 0x2000, Parent: 0}); added {
		t.Fatal("repeated ib added")
	}
	if len(a.IBs) != 1 || len(a.Shaders) != 2 {
		t.Errorf("arena sizes ib=%d shaders=%d", len(a.IBs), len(a.Shaders))
	}
}

func TestDecoderStatePhases(t *testing.T) {
	ws := New(Origin{}, []uint32{0, 0, 0, 0})
	s := NewDecoderState(ws, gpu.FamilyPM4, 0, 0x100, nil)
	if s.Phase != PhaseIdle || s.Self != -1 {
		t.Fatalf("initial state %v self=%d", s.Phase, s.Self)
	}
	s.Begin()
	s.Body(0x10, 0, 2)
	if s.Phase != PhaseBody || s.Remaining != 2 || !s.Fits(3) || s.Fits(5) {
		t.Fatalf("body state %+v", s)
	}
	s.Advance(3)
	if s.Pos != 3 || s.AddrOf(s.Pos) != 0x10c {
		t.Fatalf("advance pos=%d addr=0x%x", s.Pos, s.AddrOf(s.Pos))
	}

	s.SetPending("PS", 0x1234)
	if v, ok := s.TakePending("PS"); !ok || v != 0x1234 {
		t.Fatalf("pending = %x %v", v, ok)
	}
	if _, ok := s.TakePending("PS"); ok {
		t.Fatal("pending value survived take")
	}
}
