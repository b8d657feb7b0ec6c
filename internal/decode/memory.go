package decode

import (
	"gpudbg/internal/gpu"
	"gpudbg/internal/vm"
)

// VMMemory exposes one hub and partition of a translator to the decoders.
type VMMemory struct {
	T         *vm.Translator
	Hub       gpu.Hub
	Partition gpu.Partition
}

func (m VMMemory) ctx(vmid gpu.VMID) gpu.CtxID {
	return gpu.CtxID{VMID: vmid, Hub: m.Hub, Partition: m.Partition}
}

func (m VMMemory) Mapped(vmid gpu.VMID, addr uint64) bool {
	return m.T.Mapped(m.ctx(vmid), addr)
}

func (m VMMemory) ReadWords(vmid gpu.VMID, addr uint64, n int) ([]uint32, error) {
	return m.T.ReadWords(m.ctx(vmid), addr, n)
}
