package sdma

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gpudbg/internal/common"
	"gpudbg/internal/gpu"
	"gpudbg/internal/stream"
)

type event struct {
	Kind  string
	Name  string
	Value uint64
	Code  gpu.Err
}

type recorder struct {
	stream.NopSink
	events []event
}

func (r *recorder) StartPacket(p stream.Packet) {
	r.events = append(r.events, event{Kind: "packet", Name: p.Name, Value: uint64(p.Words)})
}
func (r *recorder) AddField(f stream.Field) {
	r.events = append(r.events, event{Kind: "field", Name: f.Name, Value: f.Value})
}
func (r *recorder) Warn(w stream.Warning) {
	r.events = append(r.events, event{Kind: "warn", Code: w.Code})
}

func (r *recorder) count(kind string) int {
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func decode(t *testing.T, words []uint32, sink stream.Sink, env *stream.Env) (*stream.DecoderState, error) {
	t.Helper()
	st := stream.NewDecoderState(stream.New(stream.Origin{}, words), gpu.FamilySDMA, 1, 0x1000, nil)
	return st, Decode(st, sink, env)
}

func TestFieldCountPerOpcode(t *testing.T) {
	for _, op := range Opcodes() {
		p := packets[op]
		t.Run(p.name, func(t *testing.T) {
			words := []uint32{Header(op, 0)}
			switch op {
			case OpNOP:
				words[0] |= 2 << 16
				words = append(words, 0xA, 0xB)
			case OpWrite:
				words = append(words, 0x100, 0, 1, 0xD0, 0xD1)
			default:
				for i := 0; i < p.fixed; i++ {
					words = append(words, uint32(i+1))
				}
			}
			var r recorder
			if _, err := decode(t, words, &r, nil); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got, want := r.count("field"), FieldCount(op, len(words)-1); got != want {
				t.Errorf("fields = %d, want %d", got, want)
			}
			if r.count("packet") != 1 || r.count("warn") != 0 {
				t.Errorf("events %+v", r.events)
			}
		})
	}
}

func TestWriteLinearLength(t *testing.T) {
	words := []uint32{
		Header(OpWrite, 0), 0x2000, 0, 2, 0xA, 0xB, 0xC,
		Header(OpFence, 0), 0x3000, 0, 0x55,
	}
	var r recorder
	if _, err := decode(t, words, &r, nil); err != nil {
		t.Fatal(err)
	}
	want := []event{
		{Kind: "packet", Name: "WRITE_LINEAR", Value: 6},
		{Kind: "field", Name: "dst_addr_lo", Value: 0x2000},
		{Kind: "field", Name: "dst_addr_hi"},
		{Kind: "field", Name: "count", Value: 2},
		{Kind: "field", Name: "data[0]", Value: 0xA},
		{Kind: "field", Name: "data[1]", Value: 0xB},
		{Kind: "field", Name: "data[2]", Value: 0xC},
		{Kind: "packet", Name: "FENCE", Value: 3},
		{Kind: "field", Name: "mtype"},
		{Kind: "field", Name: "addr_lo", Value: 0x3000},
		{Kind: "field", Name: "addr_hi"},
		{Kind: "field", Name: "data", Value: 0x55},
	}
	if diff := cmp.Diff(want, r.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestIndirectDiscovery(t *testing.T) {
	words := []uint32{
		Header(OpIndirect, 0) | 4<<16, 0x40_0000, 0x1, 0x20, 0, 0,
		Header(OpIndirect, 0), 0x50_0000, 0, 0x8, 0, 0,
		Header(OpIndirect, 0), 0x60_0000, 0, 0, 0, 0,
	}
	var r recorder
	st, err := decode(t, words, &r, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []stream.IndirectBufferRef{
		{Addr: 0x1_0040_0000, VMID: 4, Words: 0x20, Family: gpu.FamilySDMA, SrcVMID: 1, SrcAddr: 0x1000, Parent: -1},
		{Addr: 0x50_0000, VMID: 1, Words: 0x8, Family: gpu.FamilySDMA, SrcVMID: 1, SrcAddr: 0x1018, Parent: -1},
	}
	if diff := cmp.Diff(want, st.Arena.IBs); diff != "" {
		t.Errorf("ibs mismatch (-want +got):\n%s", diff)
	}
}

type mappedAt uint64

func (m mappedAt) Mapped(_ gpu.VMID, addr uint64) bool { return addr == uint64(m) }
func (m mappedAt) ReadWords(gpu.VMID, uint64, int) ([]uint32, error) {
	return nil, errors.New("not used")
}

func TestIndirectFollowSkipsUnmapped(t *testing.T) {
	words := []uint32{
		Header(OpIndirect, 0), 0x40_0000, 0, 0x20, 0, 0,
		Header(OpIndirect, 0), 0x50_0000, 0, 0x20, 0, 0,
	}
	var r recorder
	st, err := decode(t, words, &r, &stream.Env{Follow: true, Mem: mappedAt(0x50_0000)})
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Arena.IBs) != 1 || st.Arena.IBs[0].Addr != 0x50_0000 {
		t.Errorf("ibs %v", st.Arena.IBs)
	}
	if r.count("warn") != 1 {
		t.Errorf("warnings %+v", r.events)
	}
}

func TestUnknownOpsResumeNextWord(t *testing.T) {
	words := []uint32{
		Header(3, 0),
		Header(OpCopy, 7),
		Header(OpTrap, 0), 0x5,
	}
	var r recorder
	if _, err := decode(t, words, &r, nil); err != nil {
		t.Fatal(err)
	}
	want := []event{
		{Kind: "packet", Name: "UNKNOWN_3"},
		{Kind: "warn", Code: gpu.ErrMalformedPacket},
		{Kind: "packet", Name: "COPY_SUB7"},
		{Kind: "warn", Code: gpu.ErrMalformedPacket},
		{Kind: "packet", Name: "TRAP", Value: 1},
		{Kind: "field", Name: "int_context", Value: 5},
	}
	if diff := cmp.Diff(want, r.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestTruncated(t *testing.T) {
	for _, words := range [][]uint32{
		{Header(OpFence, 0), 0, 0},
		{Header(OpWrite, 0), 0, 0},
		{Header(OpWrite, 0), 0, 0, 4, 1},
		{Header(OpNOP, 0) | 3<<16},
	} {
		t.Run(fmt.Sprintf("%08x/%d", words[0], len(words)), func(t *testing.T) {
			var r recorder
			_, err := decode(t, words, &r, nil)
			if !errors.Is(err, common.ErrTruncatedStream) {
				t.Fatalf("err = %v", err)
			}
			if r.count("packet") != 0 || r.count("warn") != 1 {
				t.Errorf("events %+v", r.events)
			}
		})
	}
}

func TestBodyWords(t *testing.T) {
	tests := []struct {
		header uint32
		body   []uint32
		want   int
		ok     bool
	}{
		{Header(OpNOP, 0) | 5<<16, nil, 5, true},
		{Header(OpCopy, 0), nil, 6, true},
		{Header(OpWrite, 0), []uint32{0, 0, 9}, 13, true},
		{Header(OpWrite, 0), []uint32{0}, 3, true},
		{Header(OpPTEPDE, 0), nil, 9, true},
		{Header(0x7F, 0), nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := BodyWords(tt.header, tt.body)
		if got != tt.want || ok != tt.ok {
			t.Errorf("BodyWords(%#x) = %d, %v; want %d, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}
