package vm

import (
	"gpudbg/internal/common"
	"gpudbg/internal/gpu"
)

// Config holds the translation inputs that do not come from registers.
type Config struct {
	// IPMajor is the GC IP major version; it selects the page table era.
	IPMajor int
	// Hub is used for contexts that do not name one.
	Hub gpu.Hub
	// ForceZeroFB treats the device as having no dedicated memory.
	ForceZeroFB bool
	Logger      common.Logger
}

// NewConfig creates a default configuration
func NewConfig(major int) *Config {
	return &Config{IPMajor: major, Hub: gpu.HubGFX}
}

func (c *Config) hub(id gpu.CtxID) gpu.Hub {
	if id.Hub != "" {
		return id.Hub
	}
	if c.Hub != "" {
		return c.Hub
	}
	return gpu.HubGFX
}
