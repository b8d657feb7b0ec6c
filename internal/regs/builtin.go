package regs

import "strings"

// RegOffsetMask covers the dword register offset field of register-writing packets.
const RegOffsetMask = 0x1FFFFF

// Packet register windows.
const (
	ConfigBase  = 0x2000
	SHBase      = 0x2C00
	ContextBase = 0xA000
	UConfigBase = 0xC000
)

// Builtin returns the well-known graphics/compute registers shared by the
// GFX9 and later command processors. Capture register tables override it.
func Builtin() *Table {
	return NewTable(
		Register{"SPI_SHADER_PGM_RSRC1_PS", 0x2C0A},
		Register{"SPI_SHADER_PGM_RSRC2_PS", 0x2C0B},
		Register{"SPI_SHADER_PGM_LO_PS", 0x2C08},
		Register{"SPI_SHADER_PGM_HI_PS", 0x2C09},
		Register{"SPI_SHADER_USER_DATA_PS_0", 0x2C0C},
		Register{"SPI_SHADER_PGM_LO_VS", 0x2C48},
		Register{"SPI_SHADER_PGM_HI_VS", 0x2C49},
		Register{"SPI_SHADER_PGM_LO_GS", 0x2C88},
		Register{"SPI_SHADER_PGM_HI_GS", 0x2C89},
		Register{"SPI_SHADER_PGM_LO_ES", 0x2CC8},
		Register{"SPI_SHADER_PGM_HI_ES", 0x2CC9},
		Register{"SPI_SHADER_PGM_LO_HS", 0x2D08},
		Register{"SPI_SHADER_PGM_HI_HS", 0x2D09},
		Register{"SPI_SHADER_PGM_LO_LS", 0x2D48},
		Register{"SPI_SHADER_PGM_HI_LS", 0x2D49},
		Register{"COMPUTE_NUM_THREAD_X", 0x2E07},
		Register{"COMPUTE_NUM_THREAD_Y", 0x2E08},
		Register{"COMPUTE_NUM_THREAD_Z", 0x2E09},
		Register{"COMPUTE_PGM_LO", 0x2E0C},
		Register{"COMPUTE_PGM_HI", 0x2E0D},
		Register{"COMPUTE_PGM_RSRC1", 0x2E12},
		Register{"COMPUTE_PGM_RSRC2", 0x2E13},
		Register{"COMPUTE_RESOURCE_LIMITS", 0x2E15},
		Register{"COMPUTE_USER_DATA_0", 0x2E40},
		Register{"COMPUTE_USER_DATA_1", 0x2E41},
		Register{"DB_RENDER_CONTROL", 0xA000},
		Register{"DB_COUNT_CONTROL", 0xA001},
		Register{"DB_DEPTH_VIEW", 0xA002},
		Register{"PA_SC_SCREEN_SCISSOR_TL", 0xA00C},
		Register{"PA_SC_SCREEN_SCISSOR_BR", 0xA00D},
		Register{"CB_COLOR0_BASE", 0xA318},
		Register{"GRBM_GFX_INDEX", 0xC200},
		Register{"VGT_PRIMITIVE_TYPE", 0xC242},
		Register{"VGT_INDEX_TYPE", 0xC243},
		Register{"VGT_NUM_INSTANCES", 0xC24D},
	)
}

// Half says which half of a 64-bit shader program pointer a register holds.
type Half int

const (
	HalfNone Half = iota
	HalfLo
	HalfHi
)

// ProgramHalf classifies a register name as the low or high half of a shader
// program pointer and returns the shader stage it belongs to.
//
//	SPI_SHADER_PGM_LO_PS -> ("PS", HalfLo)
//	COMPUTE_PGM_HI       -> ("COMPUTE", HalfHi)
func ProgramHalf(name string) (stage string, half Half) {
	name = canon(name)
	var idx int
	switch {
	case strings.Contains(name, "PGM_LO"):
		half, idx = HalfLo, strings.Index(name, "PGM_LO")
	case strings.Contains(name, "PGM_HI"):
		half, idx = HalfHi, strings.Index(name, "PGM_HI")
	default:
		return "", HalfNone
	}

	suffix := strings.TrimPrefix(name[idx+len("PGM_LO"):], "_")
	switch {
	case suffix != "":
		stage = suffix
	case strings.HasPrefix(name, "COMPUTE"):
		stage = "COMPUTE"
	default:
		stage = name[:idx]
	}
	return stage, half
}
