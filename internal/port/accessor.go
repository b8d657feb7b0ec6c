package port

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"gpudbg/internal/gpu"
)

// Common errors
var (
	ErrAccOverlap    = errors.New("memory accessor overlap")
	ErrOutOfRange    = errors.New("address out of range")
	ErrReadOnly      = errors.New("accessor is read only")
	ErrFileAccess    = errors.New("file access error")
	ErrCallbackUnset = errors.New("callback not set")
)

// Accessor serves one contiguous physical range of one or more spaces.
type Accessor interface {
	StartAddr() uint64
	EndAddr() uint64
	Space() gpu.Space
	// ReadAt copies up to len(buf) bytes from addr and returns the count.
	// A count of zero with a nil error means addr is outside the accessor.
	ReadAt(addr uint64, buf []byte) (int, error)
	// WriteAt copies data to addr and returns the count written.
	WriteAt(addr uint64, data []byte) (int, error)
	String() string
}

// BaseAccessor provides common fields for accessors.
type BaseAccessor struct {
	startAddr uint64
	endAddr   uint64
	space     gpu.Space
}

func (b *BaseAccessor) StartAddr() uint64 { return b.startAddr }
func (b *BaseAccessor) EndAddr() uint64   { return b.endAddr }
func (b *BaseAccessor) Space() gpu.Space  { return b.space }

func (b *BaseAccessor) InRange(addr uint64) bool {
	return addr >= b.startAddr && addr <= b.endAddr
}

// BytesInRange clips a request at addr to the end of the accessor.
func (b *BaseAccessor) BytesInRange(addr uint64, reqBytes int) int {
	if !b.InRange(addr) {
		return 0
	}
	available := b.endAddr - addr + 1
	if uint64(reqBytes) > available {
		return int(available)
	}
	return reqBytes
}

// -----------------------------------------------------------------------------
// Buffer Accessor
// -----------------------------------------------------------------------------

// BufferAccessor serves a byte slice. Writes land in the slice.
type BufferAccessor struct {
	BaseAccessor
	data []byte
}

func NewBufferAccessor(addr uint64, data []byte, space gpu.Space) *BufferAccessor {
	return &BufferAccessor{
		BaseAccessor: BaseAccessor{
			startAddr: addr,
			endAddr:   addr + uint64(len(data)) - 1,
			space:     space,
		},
		data: data,
	}
}

func (b *BufferAccessor) ReadAt(addr uint64, buf []byte) (int, error) {
	count := b.BytesInRange(addr, len(buf))
	if count == 0 {
		return 0, nil
	}
	offset := addr - b.startAddr
	return copy(buf[:count], b.data[offset:]), nil
}

func (b *BufferAccessor) WriteAt(addr uint64, data []byte) (int, error) {
	count := b.BytesInRange(addr, len(data))
	if count == 0 {
		return 0, nil
	}
	offset := addr - b.startAddr
	return copy(b.data[offset:], data[:count]), nil
}

func (b *BufferAccessor) String() string {
	return fmt.Sprintf("BuffAcc; Range::0x%x:0x%x; Space::%s", b.startAddr, b.endAddr, b.space)
}

// -----------------------------------------------------------------------------
// Callback Accessor
// -----------------------------------------------------------------------------

// ReadFn serves a read for a callback accessor.
type ReadFn func(addr uint64, space gpu.Space, buf []byte) (int, error)

// WriteFn serves a write for a callback accessor.
type WriteFn func(addr uint64, space gpu.Space, data []byte) (int, error)

// CBAccessor forwards accesses to caller-supplied functions, e.g. an ioctl
// or debugfs backend.
type CBAccessor struct {
	BaseAccessor
	read  ReadFn
	write WriteFn
}

func NewCBAccessor(startAddr, endAddr uint64, space gpu.Space) *CBAccessor {
	return &CBAccessor{
		BaseAccessor: BaseAccessor{
			startAddr: startAddr,
			endAddr:   endAddr,
			space:     space,
		},
	}
}

// NewFillAccessor serves a read-only region in which every 32-bit word
// reads as value.
func NewFillAccessor(startAddr, size uint64, space gpu.Space, value uint32) *CBAccessor {
	c := NewCBAccessor(startAddr, startAddr+size-1, space)
	c.SetCB(func(addr uint64, _ gpu.Space, buf []byte) (int, error) {
		for i := range buf {
			buf[i] = byte(value >> (8 * ((addr + uint64(i)) % 4)))
		}
		return len(buf), nil
	}, nil)
	return c
}

func (c *CBAccessor) SetCB(read ReadFn, write WriteFn) {
	c.read = read
	c.write = write
}

func (c *CBAccessor) ReadAt(addr uint64, buf []byte) (int, error) {
	if c.read == nil {
		return 0, ErrCallbackUnset
	}
	count := c.BytesInRange(addr, len(buf))
	if count == 0 {
		return 0, nil
	}
	return c.read(addr, c.space, buf[:count])
}

func (c *CBAccessor) WriteAt(addr uint64, data []byte) (int, error) {
	if c.write == nil {
		return 0, ErrReadOnly
	}
	count := c.BytesInRange(addr, len(data))
	if count == 0 {
		return 0, nil
	}
	return c.write(addr, c.space, data[:count])
}

func (c *CBAccessor) String() string {
	return fmt.Sprintf("CBAcc; Range::0x%x:0x%x; Space::%s", c.startAddr, c.endAddr, c.space)
}

// -----------------------------------------------------------------------------
// File Accessor
// -----------------------------------------------------------------------------

// FileRegion maps an address range onto a file offset.
type FileRegion struct {
	BaseAccessor
	fileOffset int64
}

// FileAccessor serves a memory dump file, optionally as several regions.
// It is read only.
type FileAccessor struct {
	BaseAccessor
	filePath string
	file     *os.File
	fileSize int64
	regions  []FileRegion
	mu       sync.Mutex
}

// NewFileAccessor maps size bytes of path starting at offset to startAddr.
// A zero offset and size maps the whole file.
func NewFileAccessor(path string, startAddr uint64, offset int64, size int64, space gpu.Space) (*FileAccessor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileAccess, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	fa := &FileAccessor{
		filePath: path,
		file:     f,
		fileSize: info.Size(),
	}
	fa.space = space

	if offset == 0 && size == 0 {
		size = fa.fileSize
	}
	if size <= 0 || offset+size > fa.fileSize {
		f.Close()
		return nil, fmt.Errorf("%w: range 0x%x+0x%x exceeds %s", ErrFileAccess, offset, size, path)
	}
	fa.AddOffsetRange(startAddr, uint64(size), offset)
	return fa, nil
}

// AddOffsetRange adds another region of the same file.
func (f *FileAccessor) AddOffsetRange(startAddr, size uint64, offset int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if size == 0 {
		return
	}
	endAddr := startAddr + size - 1

	f.regions = append(f.regions, FileRegion{
		BaseAccessor: BaseAccessor{startAddr: startAddr, endAddr: endAddr, space: f.space},
		fileOffset:   offset,
	})
	sort.Slice(f.regions, func(i, j int) bool {
		return f.regions[i].startAddr < f.regions[j].startAddr
	})

	if len(f.regions) == 1 {
		f.startAddr, f.endAddr = startAddr, endAddr
		return
	}
	f.startAddr = min(f.startAddr, startAddr)
	f.endAddr = max(f.endAddr, endAddr)
}

func (f *FileAccessor) ReadAt(addr uint64, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, reg := range f.regions {
		if !reg.InRange(addr) {
			continue
		}
		count := reg.BytesInRange(addr, len(buf))
		n, err := f.file.ReadAt(buf[:count], int64(addr-reg.startAddr)+reg.fileOffset)
		if err != nil && err != io.EOF {
			return n, err
		}
		return n, nil
	}
	return 0, nil
}

func (f *FileAccessor) WriteAt(addr uint64, data []byte) (int, error) {
	return 0, ErrReadOnly
}

func (f *FileAccessor) Close() error {
	return f.file.Close()
}

func (f *FileAccessor) String() string {
	return fmt.Sprintf("FileAcc; Range::0x%x:%x; Space::%s; Filename=%s", f.startAddr, f.endAddr, f.space, f.filePath)
}
