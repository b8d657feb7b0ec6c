package gpu

import "fmt"

// Addresses and Contexts

// Addr is a GPU address: virtual, MC physical, or bus address depending on context.
type Addr uint64

// VMID selects a virtual address space within a hub.
type VMID uint32

// Partition selects a compute partition (XCC instance) on multi-partition parts.
type Partition int

// Hub selects the VM hub an address belongs to.
type Hub string

const (
	HubGFX Hub = "GC"
	HubMM  Hub = "MM"
)

// CtxID identifies one VM context: the translation inputs fixed for a walk.
type CtxID struct {
	VMID      VMID
	Hub       Hub
	Partition Partition
}

func (c CtxID) String() string {
	return fmt.Sprintf("%s:vmid%d:p%d", c.Hub, c.VMID, c.Partition)
}

// PageSize is the base translation granule.
const PageSize = 4096

// Memory spaces

// Space distinguishes physical memory the access port can reach.
type Space uint32

const (
	SpaceDevice Space = 0x1 // dedicated VRAM, MC-relative offset
	SpaceSystem Space = 0x2 // system memory, CPU-visible address
	SpaceAny    Space = SpaceDevice | SpaceSystem
)

func (s Space) String() string {
	switch s {
	case SpaceDevice:
		return "vram"
	case SpaceSystem:
		return "sys"
	case SpaceAny:
		return "any"
	default:
		return "none"
	}
}

// Packet families

// Family is the packet format of a word stream.
type Family uint32

const (
	FamilyPM4  Family = 0
	FamilySDMA Family = 1
)

func (f Family) String() string {
	switch f {
	case FamilyPM4:
		return "pm4"
	case FamilySDMA:
		return "sdma"
	default:
		return "unknown"
	}
}

// ParseFamily accepts the names printed by Family.String.
func ParseFamily(s string) (Family, error) {
	switch s {
	case "pm4", "PM4", "gfx", "compute":
		return FamilyPM4, nil
	case "sdma", "SDMA", "dma":
		return FamilySDMA, nil
	}
	return 0, fmt.Errorf("unknown packet family %q", s)
}

// Radix is the preferred display base of a decoded field.
type Radix uint8

const (
	RadixHex Radix = 0
	RadixDec Radix = 1
)

func (r Radix) String() string {
	if r == RadixDec {
		return "dec"
	}
	return "hex"
}

// Library Return and Error Codes

// Err represents library error return type
type Err uint32

const (
	OK                       Err = 0
	ErrFail                  Err = 1
	ErrMalformedPacket       Err = 2
	ErrTruncatedStream       Err = 3
	ErrUnmappedAddress       Err = 4
	ErrUnsupportedGeneration Err = 5
	ErrWalkBound             Err = 6
	ErrPortAccess            Err = 7
	ErrBadConfig             Err = 8
	ErrUnknownRegister       Err = 9
	ErrCaptureParse          Err = 10
	ErrLast                  Err = 11
)

// ErrSeverity used to indicate the severity of an error or logger verbosity
type ErrSeverity uint32

const (
	ErrSevNone  ErrSeverity = 0
	ErrSevError ErrSeverity = 1
	ErrSevWarn  ErrSeverity = 2
	ErrSevInfo  ErrSeverity = 3
)

// Bits extracts the inclusive bit range hi:lo from v.
func Bits(v uint64, hi, lo uint) uint64 {
	w := hi - lo + 1
	if w >= 64 {
		return v >> lo
	}
	return (v >> lo) & ((uint64(1) << w) - 1)
}

// Bit reports whether bit n of v is set.
func Bit(v uint64, n uint) bool {
	return (v>>n)&1 != 0
}
