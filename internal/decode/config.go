package decode

import (
	"gpudbg/internal/common"
	"gpudbg/internal/regs"
)

// Config controls one decode session.
type Config struct {
	// Follow decodes discovered indirect buffers and sizes shaders by
	// reading them through the translator.
	Follow         bool
	MaxShaderBytes int
	// MaxIBWords skips indirect buffers claiming more words than this.
	MaxIBWords int
	// MaxBuffers bounds the number of buffers decoded in a session, root included.
	MaxBuffers int

	Regs     *regs.Table
	Logger   common.Logger
	Register *Register
}

func NewConfig() *Config {
	return &Config{
		MaxShaderBytes: 1 << 20,
		MaxIBWords:     1 << 20,
		MaxBuffers:     4096,
	}
}
