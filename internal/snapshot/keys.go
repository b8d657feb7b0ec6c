package snapshot

const (
	// snapshot.ini
	SnapshotINIFilename = "snapshot.ini"

	SnapshotSectionName = "snapshot"
	VersionKey          = "version"
	DescriptionKey      = "description"

	DeviceSectionName = "device"
	DeviceNameKey     = "name"
	AsicKey           = "asic"
	GCMajorKey        = "gc_major"
	GCMinorKey        = "gc_minor"
	HubKey            = "hub"
	PartitionsKey     = "partitions"
	ZeroFBKey         = "zero_fb"

	// register table: name = dword offset
	RegTableSectionName = "regs"
	// register values: name or offset = value; "values.N" for partition N
	RegValuesSectionName = "values"

	DumpSectionPrefix = "dump"
	DumpAddressKey    = "address"
	DumpLengthKey     = "length"
	DumpOffsetKey     = "offset"
	DumpFileKey       = "file"
	DumpSpaceKey      = "space"
	// fill = value replaces file for regions left out of the capture
	DumpFillKey = "fill"

	BusSectionPrefix = "bus"
	BusAddrKey       = "bus"
	BusCPUKey        = "cpu"
	BusSizeKey       = "size"

	RingSectionPrefix = "ring"
	RingNameKey       = "name"
	RingFileKey       = "file"
	RingFormatKey     = "format"
	RingFamilyKey     = "family"
	RingVMIDKey       = "vmid"
	RingRptrKey       = "rptr"
	RingWptrKey       = "wptr"

	// dump spaces
	SpaceVRAM   = "vram"
	SpaceSystem = "sys"

	// ring file formats
	RingFormatBin = "bin"
	RingFormatHex = "hex"
)
