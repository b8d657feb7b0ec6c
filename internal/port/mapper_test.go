package port

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"gpudbg/internal/common"
	"gpudbg/internal/gpu"
)

const blockBytes = 0x1000

func block(tag byte) []byte {
	buf := make([]byte, blockBytes)
	for i := 0; i < blockBytes; i += 4 {
		binary.LittleEndian.PutUint32(buf[i:], uint32(tag)<<24|uint32(i))
	}
	return buf
}

func TestOverlapRegions(t *testing.T) {
	m := NewMapper()

	require.NoError(t, m.AddAccessor(NewBufferAccessor(0x0000, block(1), gpu.SpaceDevice)))

	err := m.AddAccessor(NewBufferAccessor(0x0800, block(2), gpu.SpaceDevice))
	require.ErrorIs(t, err, ErrAccOverlap)

	require.NoError(t, m.AddAccessor(NewBufferAccessor(0x8000, block(2), gpu.SpaceDevice)))

	// Same range in another space is fine.
	require.NoError(t, m.AddAccessor(NewBufferAccessor(0x0000, block(3), gpu.SpaceSystem)))

	// A both-spaces accessor collides with either.
	err = m.AddAccessor(NewBufferAccessor(0x0000, block(4), gpu.SpaceAny))
	require.ErrorIs(t, err, ErrAccOverlap)

	require.Len(t, m.Accessors(), 3)
}

func TestReadAcrossAccessors(t *testing.T) {
	m := NewMapper()
	require.NoError(t, m.AddAccessor(NewBufferAccessor(0x0000, block(1), gpu.SpaceDevice)))
	require.NoError(t, m.AddAccessor(NewBufferAccessor(blockBytes, block(2), gpu.SpaceDevice)))

	buf := make([]byte, 8)
	require.NoError(t, m.ReadMem(gpu.SpaceDevice, blockBytes-4, buf))
	require.Equal(t, uint32(1)<<24|(blockBytes-4), binary.LittleEndian.Uint32(buf[0:]))
	require.Equal(t, uint32(2)<<24, binary.LittleEndian.Uint32(buf[4:]))

	err := m.ReadMem(gpu.SpaceSystem, 0, buf)
	require.ErrorIs(t, err, common.ErrPortAccess)

	err = m.ReadMem(gpu.SpaceDevice, 2*blockBytes-4, buf)
	require.ErrorIs(t, err, common.ErrPortAccess, "read running off the end must fail, not be short")
}

func TestWriteThenReadU64(t *testing.T) {
	m := NewMapper()
	require.NoError(t, m.AddAccessor(NewBufferAccessor(0x10000, make([]byte, 64), gpu.SpaceSystem)))

	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], 0x1122334455667788)
	require.NoError(t, m.WriteMem(gpu.SpaceSystem, 0x10008, b[:]))

	v, err := ReadU64(m, gpu.SpaceSystem, 0x10008)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1122334455667788), v)

	words, err := ReadWords(m, gpu.SpaceSystem, 0x10008, 2)
	require.NoError(t, err)
	require.Equal(t, []uint32{0x55667788, 0x11223344}, words)
}

func TestCallbackAccessor(t *testing.T) {
	m := NewMapper()
	cb := NewCBAccessor(0x1000, 0x1fff, gpu.SpaceDevice)
	var calls int
	cb.SetCB(func(addr uint64, space gpu.Space, buf []byte) (int, error) {
		calls++
		for i := range buf {
			buf[i] = byte(addr) + byte(i)
		}
		return len(buf), nil
	}, nil)
	require.NoError(t, m.AddAccessor(cb))

	buf := make([]byte, 4)
	require.NoError(t, m.ReadMem(gpu.SpaceDevice, 0x1010, buf))
	require.Equal(t, []byte{0x10, 0x11, 0x12, 0x13}, buf)
	require.Equal(t, 1, calls)

	err := m.WriteMem(gpu.SpaceDevice, 0x1010, buf)
	require.ErrorIs(t, err, common.ErrPortAccess)

	_, err = NewCBAccessor(0, 1, gpu.SpaceDevice).ReadAt(0, buf)
	require.ErrorIs(t, err, ErrCallbackUnset)
}

func TestFillAccessor(t *testing.T) {
	m := NewMapper()
	require.NoError(t, m.AddAccessor(NewFillAccessor(0x2000, 0x1000, gpu.SpaceSystem, 0xdeadbeef)))

	words, err := ReadWords(m, gpu.SpaceSystem, 0x2ff8, 2)
	require.NoError(t, err)
	require.Equal(t, []uint32{0xdeadbeef, 0xdeadbeef}, words)

	buf := make([]byte, 2)
	require.NoError(t, m.ReadMem(gpu.SpaceSystem, 0x2002, buf))
	require.Equal(t, []byte{0xad, 0xde}, buf)

	require.ErrorIs(t, m.ReadMem(gpu.SpaceSystem, 0x2ffc, make([]byte, 8)), common.ErrPortAccess)
	require.ErrorIs(t, m.WriteMem(gpu.SpaceSystem, 0x2000, buf), common.ErrPortAccess)
}

func TestFileAccessorRegions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vram.bin")
	require.NoError(t, os.WriteFile(path, append(block(7), block(8)...), 0o644))

	fa, err := NewFileAccessor(path, 0x100000, blockBytes, blockBytes, gpu.SpaceDevice)
	require.NoError(t, err)
	defer fa.Close()
	fa.AddOffsetRange(0x200000, blockBytes, 0)

	m := NewMapper()
	require.NoError(t, m.AddAccessor(fa))

	words, err := ReadWords(m, gpu.SpaceDevice, 0x100000, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(8)<<24, words[0])

	words, err = ReadWords(m, gpu.SpaceDevice, 0x200004, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(7)<<24|4, words[0])

	_, err = NewFileAccessor(path, 0, blockBytes, 4*blockBytes, gpu.SpaceDevice)
	require.ErrorIs(t, err, ErrFileAccess)
}

func TestRegistersAndBus(t *testing.T) {
	m := NewMapper()
	m.SetReg(0x2c08, 0, 0xdead)
	require.NoError(t, m.WriteReg(0x2c08, 1, 0xbeef))

	v, err := m.ReadReg(0x2c08, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(0xdead), v)
	v, err = m.ReadReg(0x2c08, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(0xbeef), v)

	v, err = m.ReadReg(0x1234, 0)
	require.NoError(t, err)
	require.Zero(t, v)
	m.StrictRegs = true
	_, err = m.ReadReg(0x1234, 0)
	require.ErrorIs(t, err, common.ErrPortAccess)

	cpu, err := m.BusToCPU(0xabc000)
	require.NoError(t, err)
	require.Equal(t, uint64(0xabc000), cpu, "identity with no windows")

	m.AddBusWindow(0x1_0000_0000, 0x8000, 0x1000)
	cpu, err = m.BusToCPU(0x1_0000_0010)
	require.NoError(t, err)
	require.Equal(t, uint64(0x8010), cpu)
	_, err = m.BusToCPU(0x1_0000_1000)
	require.ErrorIs(t, err, common.ErrPortAccess)
}
