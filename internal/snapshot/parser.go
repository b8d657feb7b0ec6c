package snapshot

import (
	"fmt"
	"io"
	"maps"
	"strconv"
	"strings"

	"gpudbg/internal/common"
	"gpudbg/internal/gpu"
)

func parseErr(format string, args ...any) error {
	return common.NewErrorf(gpu.ErrSevError, gpu.ErrCaptureParse, format, args...)
}

// ParseCapture parses snapshot.ini.
func ParseCapture(input io.Reader) (*ParsedCapture, error) {
	ini, err := ParseIni(input)
	if err != nil {
		return nil, parseErr("%v", err)
	}
	for _, sec := range ini.Order {
		if e, dup := ini.duplicate(sec); dup {
			return nil, parseErr("line %d: duplicate key %q in [%s]", e.line, e.key, sec)
		}
	}

	parsed := NewParsedCapture()

	if snapSec, ok := ini.Sections[SnapshotSectionName]; ok {
		parsed.Info.Version = snapSec[VersionKey]
		parsed.Info.Description = snapSec[DescriptionKey]
	}
	if v := parsed.Info.Version; v != "" && v != "1" && v != "1.0" {
		return nil, parseErr("illegal capture file version: %s", v)
	}

	if err := parseDevice(ini.GetSection(DeviceSectionName), &parsed.Device); err != nil {
		return nil, err
	}

	if regsSec, ok := ini.Sections[RegTableSectionName]; ok {
		maps.Copy(parsed.RegDefs, regsSec)
	}

	for _, sec := range ini.SectionsWithPrefix(RegValuesSectionName) {
		part, err := partitionOf(sec)
		if err != nil {
			return nil, err
		}
		vals := make(map[string]string, len(ini.Sections[sec]))
		maps.Copy(vals, ini.Sections[sec])
		parsed.Values[part] = vals
	}

	for _, sec := range ini.SectionsWithPrefix(DumpSectionPrefix) {
		dump, err := parseDump(sec, ini.Sections[sec])
		if err != nil {
			return nil, err
		}
		parsed.Dumps = append(parsed.Dumps, dump)
	}

	for _, sec := range ini.SectionsWithPrefix(BusSectionPrefix) {
		m := ini.Sections[sec]
		var b BusDef
		var err error
		if b.Bus, err = parseUint(sec, BusAddrKey, m[BusAddrKey]); err != nil {
			return nil, err
		}
		if b.CPU, err = parseUint(sec, BusCPUKey, m[BusCPUKey]); err != nil {
			return nil, err
		}
		if b.Size, err = parseUint(sec, BusSizeKey, m[BusSizeKey]); err != nil {
			return nil, err
		}
		parsed.Bus = append(parsed.Bus, b)
	}

	for _, sec := range ini.SectionsWithPrefix(RingSectionPrefix) {
		ring, err := parseRing(sec, ini.Sections[sec])
		if err != nil {
			return nil, err
		}
		parsed.Rings = append(parsed.Rings, ring)
	}

	return parsed, nil
}

func parseDevice(sec map[string]string, dev *DeviceInfo) error {
	if sec == nil {
		return parseErr("missing [%s] section", DeviceSectionName)
	}
	dev.Name = sec[DeviceNameKey]
	dev.Asic = sec[AsicKey]

	major, ok := sec[GCMajorKey]
	if !ok {
		return parseErr("[%s] needs %s", DeviceSectionName, GCMajorKey)
	}
	v, err := parseUint(DeviceSectionName, GCMajorKey, major)
	if err != nil {
		return err
	}
	dev.GCMajor = int(v)
	if minor, ok := sec[GCMinorKey]; ok {
		v, err := parseUint(DeviceSectionName, GCMinorKey, minor)
		if err != nil {
			return err
		}
		dev.GCMinor = int(v)
	}
	if hub := sec[HubKey]; hub != "" {
		dev.Hub = gpu.Hub(strings.ToUpper(hub))
	}
	if parts, ok := sec[PartitionsKey]; ok {
		v, err := parseUint(DeviceSectionName, PartitionsKey, parts)
		if err != nil {
			return err
		}
		if v == 0 {
			return parseErr("[%s] %s must be at least 1", DeviceSectionName, PartitionsKey)
		}
		dev.Partitions = int(v)
	}
	if z, ok := sec[ZeroFBKey]; ok {
		b, err := strconv.ParseBool(z)
		if err != nil {
			return parseErr("[%s] %s: %v", DeviceSectionName, ZeroFBKey, err)
		}
		dev.ZeroFB = b
	}
	return nil
}

// partitionOf maps "values" to 0 and "values.N" to N.
func partitionOf(sec string) (gpu.Partition, error) {
	rest := strings.TrimPrefix(sec, RegValuesSectionName)
	if rest == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(rest, "."))
	if err != nil || !strings.HasPrefix(rest, ".") || n < 0 {
		return 0, parseErr("bad register value section [%s]", sec)
	}
	return gpu.Partition(n), nil
}

func parseDump(sec string, m map[string]string) (DumpDef, error) {
	dump := DumpDef{Section: sec, Path: m[DumpFileKey], Space: gpu.SpaceDevice}
	var err error
	if s, ok := m[DumpFillKey]; ok {
		fill, err := parseUint(sec, DumpFillKey, s)
		if err != nil {
			return dump, err
		}
		if fill > 0xFFFFFFFF {
			return dump, parseErr("[%s] %s does not fit a word", sec, DumpFillKey)
		}
		dump.Fill, dump.HasFill = uint32(fill), true
	}
	switch {
	case dump.Path == "" && !dump.HasFill:
		return dump, parseErr("[%s] needs %s", sec, DumpFileKey)
	case dump.Path != "" && dump.HasFill:
		return dump, parseErr("[%s] takes %s or %s, not both", sec, DumpFileKey, DumpFillKey)
	}
	if dump.Address, err = parseUint(sec, DumpAddressKey, m[DumpAddressKey]); err != nil {
		return dump, err
	}
	if s, ok := m[DumpLengthKey]; ok {
		if dump.Length, err = parseUint(sec, DumpLengthKey, s); err != nil {
			return dump, err
		}
	}
	if dump.HasFill && dump.Length == 0 {
		return dump, parseErr("[%s] fill regions need a %s", sec, DumpLengthKey)
	}
	if s, ok := m[DumpOffsetKey]; ok {
		if dump.Offset, err = parseUint(sec, DumpOffsetKey, s); err != nil {
			return dump, err
		}
	}
	switch strings.ToLower(m[DumpSpaceKey]) {
	case "", SpaceVRAM, "device":
	case SpaceSystem, "system":
		dump.Space = gpu.SpaceSystem
	default:
		return dump, parseErr("[%s] unknown space %q", sec, m[DumpSpaceKey])
	}
	return dump, nil
}

func parseRing(sec string, m map[string]string) (RingDef, error) {
	ring := RingDef{
		Name:   m[RingNameKey],
		Path:   m[RingFileKey],
		Format: strings.ToLower(m[RingFormatKey]),
	}
	if ring.Name == "" {
		ring.Name = strings.TrimLeft(strings.TrimPrefix(sec, RingSectionPrefix), "_.")
	}
	if ring.Path == "" {
		return ring, parseErr("[%s] needs %s", sec, RingFileKey)
	}
	switch ring.Format {
	case "":
		ring.Format = RingFormatBin
	case RingFormatBin, RingFormatHex:
	default:
		return ring, parseErr("[%s] unknown format %q", sec, ring.Format)
	}

	if fam, ok := m[RingFamilyKey]; ok {
		f, err := gpu.ParseFamily(fam)
		if err != nil {
			return ring, parseErr("[%s] %v", sec, err)
		}
		ring.Family = f
	} else if strings.Contains(ring.Name, "sdma") {
		ring.Family = gpu.FamilySDMA
	}

	for key, dst := range map[string]*uint32{RingRptrKey: &ring.Rptr, RingWptrKey: &ring.Wptr} {
		s, ok := m[key]
		if !ok {
			continue
		}
		v, err := parseUint(sec, key, s)
		if err != nil {
			return ring, err
		}
		*dst = uint32(v)
	}
	if s, ok := m[RingVMIDKey]; ok {
		v, err := parseUint(sec, RingVMIDKey, s)
		if err != nil {
			return ring, err
		}
		ring.VMID = gpu.VMID(v)
	}
	return ring, nil
}

func parseUint(sec, key, s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, parseErr("[%s] %s: bad number %q", sec, key, s)
	}
	return v, nil
}

// regKeyAddr resolves a [values] key: a register name known to the table,
// or a literal dword offset.
func regKeyAddr(key string, lookup func(string) (uint32, bool)) (uint32, error) {
	if addr, ok := lookup(key); ok {
		return addr, nil
	}
	if v, err := strconv.ParseUint(key, 0, 32); err == nil {
		return uint32(v), nil
	}
	return 0, common.NewErrorf(gpu.ErrSevError, gpu.ErrUnknownRegister, "register value for %s has no table entry", key)
}

func describeDump(d DumpDef) string {
	if d.HasFill {
		return fmt.Sprintf("[%s] fill=0x%x @0x%x+0x%x (%s)", d.Section, d.Fill, d.Address, d.Length, d.Space)
	}
	return fmt.Sprintf("[%s] %s @0x%x (%s)", d.Section, d.Path, d.Address, d.Space)
}
