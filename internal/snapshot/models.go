package snapshot

import "gpudbg/internal/gpu"

// Info stores version and description from snapshot.ini
type Info struct {
	Version     string
	Description string
}

// DeviceInfo is the [device] section: what was captured.
type DeviceInfo struct {
	Name       string
	Asic       string
	GCMajor    int
	GCMinor    int
	Hub        gpu.Hub
	Partitions int
	ZeroFB     bool
}

// DumpDef stores a parsed [dump*] section
type DumpDef struct {
	Section string
	Address uint64
	Path    string
	Length  uint64
	Offset  uint64
	Space   gpu.Space
	// Fill is the word every address of a file-less dump reads as.
	Fill    uint32
	HasFill bool
}

// BusDef stores a parsed [bus*] section.
type BusDef struct {
	Bus, CPU, Size uint64
}

// RingDef stores a parsed [ring*] section.
type RingDef struct {
	Name   string
	Path   string
	Format string
	Family gpu.Family
	VMID   gpu.VMID
	Rptr   uint32
	Wptr   uint32
}

// ParsedCapture is snapshot.ini as presented in the file, before any
// dump file is opened.
type ParsedCapture struct {
	Info    Info
	Device  DeviceInfo
	RegDefs map[string]string
	// Values holds register values per partition, keyed by name or offset.
	Values map[gpu.Partition]map[string]string
	Dumps  []DumpDef
	Bus    []BusDef
	Rings  []RingDef
}

func NewParsedCapture() *ParsedCapture {
	return &ParsedCapture{
		Device:  DeviceInfo{Hub: gpu.HubGFX, Partitions: 1},
		RegDefs: make(map[string]string),
		Values:  make(map[gpu.Partition]map[string]string),
	}
}
