package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gpudbg/internal/common"
	"gpudbg/internal/decode"
	"gpudbg/internal/gpu"
	"gpudbg/internal/port"
	"gpudbg/internal/regs"
)

// Capture is a loaded capture directory: a port over the dumped memory and
// register values, and the register table to interpret them with.
type Capture struct {
	Dir    string
	Info   Info
	Device DeviceInfo
	Regs   *regs.Table
	Port   *port.Mapper
	Rings  []RingDef
}

// Ring returns the ring section with the given name.
func (c *Capture) Ring(name string) (RingDef, bool) {
	for _, r := range c.Rings {
		if r.Name == name {
			return r, true
		}
	}
	return RingDef{}, false
}

// RingWords reads the full contents of a ring file.
func (c *Capture) RingWords(r RingDef) ([]uint32, error) {
	path := c.path(r.Path)
	f, err := os.Open(path)
	if err != nil {
		return nil, common.NewErrorf(gpu.ErrSevError, gpu.ErrCaptureParse, "ring %s: %v", r.Name, err)
	}
	defer f.Close()

	if r.Format == RingFormatHex {
		words, err := decode.ParseHexWords(f)
		if err != nil {
			return nil, common.NewErrorf(gpu.ErrSevError, gpu.ErrCaptureParse, "ring %s: %v", r.Name, err)
		}
		return words, nil
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, common.NewErrorf(gpu.ErrSevError, gpu.ErrCaptureParse, "ring %s: %v", r.Name, err)
	}
	return port.BytesToWords(data), nil
}

// Close releases the dump files.
func (c *Capture) Close() {
	if c.Port != nil {
		c.Port.RemoveAllAccessors()
	}
}

func (c *Capture) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// build turns the parsed ini into a live Capture, opening every dump file.
func build(dir string, parsed *ParsedCapture) (*Capture, error) {
	c := &Capture{
		Dir:    dir,
		Info:   parsed.Info,
		Device: parsed.Device,
		Regs:   regs.Builtin(),
		Port:   port.NewMapper(),
		Rings:  parsed.Rings,
	}

	tbl, err := regs.FromMap(parsed.RegDefs)
	if err != nil {
		return nil, common.NewErrorf(gpu.ErrSevError, gpu.ErrCaptureParse, "%v", err)
	}
	c.Regs.Merge(tbl)

	lookup := func(name string) (uint32, bool) {
		r, ok := c.Regs.Lookup(name)
		return r.Addr, ok
	}
	for part, vals := range parsed.Values {
		for key, s := range vals {
			addr, err := regKeyAddr(key, lookup)
			if err != nil {
				return nil, err
			}
			v, err := parseUint(RegValuesSectionName, key, s)
			if err != nil {
				return nil, err
			}
			c.Port.SetReg(addr, part, uint32(v))
		}
	}

	for _, d := range parsed.Dumps {
		if err := c.addDump(d); err != nil {
			c.Close()
			return nil, err
		}
	}
	for _, b := range parsed.Bus {
		c.Port.AddBusWindow(b.Bus, b.CPU, b.Size)
	}
	return c, nil
}

func (c *Capture) addDump(d DumpDef) error {
	if d.HasFill {
		if err := c.Port.AddAccessor(port.NewFillAccessor(d.Address, d.Length, d.Space, d.Fill)); err != nil {
			return common.NewErrorf(gpu.ErrSevError, gpu.ErrCaptureParse, "%s: %v", describeDump(d), err)
		}
		return nil
	}
	path := c.path(d.Path)
	size := int64(d.Length)
	if size == 0 {
		info, err := os.Stat(path)
		if err != nil {
			return common.NewErrorf(gpu.ErrSevError, gpu.ErrCaptureParse, "%s: %v", describeDump(d), err)
		}
		size = info.Size() - int64(d.Offset)
	}
	fa, err := port.NewFileAccessor(path, d.Address, int64(d.Offset), size, d.Space)
	if err != nil {
		return common.NewErrorf(gpu.ErrSevError, gpu.ErrCaptureParse, "%s: %v", describeDump(d), err)
	}
	if err := c.Port.AddAccessor(fa); err != nil {
		fa.Close()
		return common.NewErrorf(gpu.ErrSevError, gpu.ErrCaptureParse, "%s: %v", describeDump(d), err)
	}
	return nil
}

func (c *Capture) String() string {
	return fmt.Sprintf("%s (%s gc%d.%d, %d regs, %d rings)", c.Dir, c.Device.Asic, c.Device.GCMajor, c.Device.GCMinor, c.Regs.Len(), len(c.Rings))
}
