package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"gpudbg/internal/common"
	"gpudbg/internal/gpu"
	"gpudbg/internal/port"
)

const navi10Ini = `
; gfx hang on navi10
[snapshot]
version = 1.0
description = "gfx ring hang"

[device]
name = card0
asic = navi10
gc_major = 10
gc_minor = 1
partitions = 2

[regs]
GCVM_CONTEXT0_CNTL = 0x1688
regGCVM_CONTEXT0_PAGE_TABLE_BASE_ADDR_LO32 = 0x16f3

[values]
GCVM_CONTEXT0_CNTL = 0x3
0x16f3 = 0x00401001

[values.1]
GCVM_CONTEXT0_CNTL = 0x5

[dump_vram]
file = vram.bin
address = 0x100000
space = vram

[dump_sys]
file = sys.bin
address = 0x8000
offset = 4
length = 8
space = sys

[bus_0]
bus = 0x10000
cpu = 0x8000
size = 0x1000

[ring_gfx]
file = gfx.txt
format = hex
rptr = 1
wptr = 3

[ring_sdma0]
file = sdma0.bin
vmid = 2
`

func writeCapture(t *testing.T, ini string) string {
	t.Helper()
	dir := t.TempDir()
	write := func(name string, data []byte) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	write(SnapshotINIFilename, []byte(ini))
	write("vram.bin", port.WordsToBytes([]uint32{0xc0001000, 0x11, 0x22, 0x33}))
	write("sys.bin", port.WordsToBytes([]uint32{0xffffffff, 0xaaaa0001, 0xaaaa0002, 0xffffffff}))
	write("gfx.txt", []byte("# header\nc0013700, 0x0\n00002c08 deadbeef\n"))
	write("sdma0.bin", port.WordsToBytes([]uint32{0x0, 0x0}))
	return dir
}

func TestLoadCapture(t *testing.T) {
	dir := writeCapture(t, navi10Ini)

	c, err := Load(dir, nil)
	require.NoError(t, err)
	defer c.Close()

	require.Equal(t, "1.0", c.Info.Version)
	require.Equal(t, "gfx ring hang", c.Info.Description)
	require.Equal(t, DeviceInfo{Name: "card0", Asic: "navi10", GCMajor: 10, GCMinor: 1, Hub: gpu.HubGFX, Partitions: 2}, c.Device)

	addr, err := c.Regs.Addr("GCVM_CONTEXT0_PAGE_TABLE_BASE_ADDR_LO32")
	require.NoError(t, err)
	require.Equal(t, uint32(0x16f3), addr)
	_, ok := c.Regs.Lookup("COMPUTE_PGM_LO")
	require.True(t, ok, "built-in registers stay available")

	v, err := c.Port.ReadReg(0x1688, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(3), v)
	v, err = c.Port.ReadReg(0x1688, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(5), v)
	v, err = c.Port.ReadReg(0x16f3, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(0x00401001), v)

	words, err := port.ReadWords(c.Port, gpu.SpaceDevice, 0x100004, 2)
	require.NoError(t, err)
	require.Equal(t, []uint32{0x11, 0x22}, words)

	words, err = port.ReadWords(c.Port, gpu.SpaceSystem, 0x8000, 2)
	require.NoError(t, err)
	require.Equal(t, []uint32{0xaaaa0001, 0xaaaa0002}, words)
	require.ErrorIs(t, c.Port.ReadMem(gpu.SpaceSystem, 0x8008, make([]byte, 4)), common.ErrPortAccess)

	cpu, err := c.Port.BusToCPU(0x10004)
	require.NoError(t, err)
	require.Equal(t, uint64(0x8004), cpu)

	require.Len(t, c.Rings, 2)
	gfx, ok := c.Ring("gfx")
	require.True(t, ok)
	require.Equal(t, gpu.FamilyPM4, gfx.Family)
	require.Equal(t, uint32(1), gfx.Rptr)
	require.Equal(t, uint32(3), gfx.Wptr)
	ring, err := c.RingWords(gfx)
	require.NoError(t, err)
	require.Equal(t, []uint32{0xc0013700, 0, 0x2c08, 0xdeadbeef}, ring)

	sdma, ok := c.Ring("sdma0")
	require.True(t, ok)
	require.Equal(t, gpu.FamilySDMA, sdma.Family, "family inferred from ring name")
	require.Equal(t, gpu.VMID(2), sdma.VMID)
	ring, err = c.RingWords(sdma)
	require.NoError(t, err)
	require.Len(t, ring, 2)
}

func TestRingWordsSingleLineHex(t *testing.T) {
	dir := writeCapture(t, navi10Ini)
	line := strings.Repeat("c0001000 00000000 ", 8192)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gfx.txt"), []byte(line), 0o644))

	c, err := Load(dir, nil)
	require.NoError(t, err)
	defer c.Close()
	gfx, ok := c.Ring("gfx")
	require.True(t, ok)
	ring, err := c.RingWords(gfx)
	require.NoError(t, err)
	require.Len(t, ring, 16384)
	require.Equal(t, uint32(0xc0001000), ring[16382])
}

func TestFillDump(t *testing.T) {
	ini := navi10Ini + `
[dump_zero]
fill = 0
address = 0x200000
length = 0x1000
space = sys
`
	c, err := Load(writeCapture(t, ini), nil)
	require.NoError(t, err)
	defer c.Close()

	words, err := port.ReadWords(c.Port, gpu.SpaceSystem, 0x200ff8, 2)
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 0}, words)
	require.ErrorIs(t, c.Port.ReadMem(gpu.SpaceDevice, 0x200000, make([]byte, 4)), common.ErrPortAccess)
}

func TestParseCaptureErrors(t *testing.T) {
	tests := []struct {
		name string
		ini  string
		code gpu.Err
	}{
		{"no device", "[snapshot]\nversion=1\n", gpu.ErrCaptureParse},
		{"no gc major", "[device]\nasic=vega10\n", gpu.ErrCaptureParse},
		{"bad version", "[snapshot]\nversion=2\n[device]\ngc_major=9\n", gpu.ErrCaptureParse},
		{"duplicate key", "[device]\ngc_major=9\ngc_major=10\n", gpu.ErrCaptureParse},
		{"garbage line", "[device]\ngc_major 9\n", gpu.ErrCaptureParse},
		{"bad space", "[device]\ngc_major=9\n[dump0]\nfile=a\naddress=0\nspace=oops\n", gpu.ErrCaptureParse},
		{"bad family", "[device]\ngc_major=9\n[ring_x]\nfile=a\nfamily=vcn\n", gpu.ErrCaptureParse},
		{"fill without length", "[device]\ngc_major=9\n[dump0]\nfill=0\naddress=0\n", gpu.ErrCaptureParse},
		{"fill and file", "[device]\ngc_major=9\n[dump0]\nfill=0\nfile=a\naddress=0\nlength=4\n", gpu.ErrCaptureParse},
		{"bad partition", "[device]\ngc_major=9\n[values.x]\nA=1\n", gpu.ErrCaptureParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCapture(strings.NewReader(tt.ini))
			require.Error(t, err)
			require.Equal(t, tt.code, common.CodeOf(err))
		})
	}
}

func TestUnknownRegisterValue(t *testing.T) {
	dir := writeCapture(t, "[device]\ngc_major=9\n[values]\nNOT_A_REGISTER=1\n")
	_, err := Load(dir, nil)
	require.ErrorIs(t, err, common.ErrUnknownRegister)
}

func TestMissingDumpFile(t *testing.T) {
	dir := writeCapture(t, "[device]\ngc_major=9\n[dump]\nfile=nope.bin\naddress=0\n")
	_, err := Load(dir, nil)
	require.ErrorIs(t, err, common.ErrCaptureParse)

	r := NewReader(t.TempDir())
	_, err = r.Read()
	require.Error(t, err)
	require.False(t, r.SnapshotFound())
}

func TestIniParser(t *testing.T) {
	ini, err := ParseIni(strings.NewReader("\uFEFFignored=1\n[a]\nx = 1 ; trailing\n[dump_b]\n[dump_a]\ny=\"q\"\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "dump_b", "dump_a"}, ini.Order)
	require.Equal(t, "1", ini.GetSection("a")["x"])
	require.Equal(t, "q", ini.GetSection("dump_a")["y"])
	require.Equal(t, []string{"dump_b", "dump_a"}, ini.SectionsWithPrefix("dump"))
	require.Nil(t, ini.GetSection("missing"))
}
