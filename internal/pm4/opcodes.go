package pm4

import (
	"fmt"
	"slices"
)

// Type 3 opcodes.
const (
	OpNOP                    = 0x10
	OpSetBase                = 0x11
	OpClearState             = 0x12
	OpIndexBufferSize        = 0x13
	OpDispatchDirect         = 0x15
	OpDispatchIndirect       = 0x16
	OpAtomicGDS              = 0x1D
	OpAtomicMem              = 0x1E
	OpSetPredication         = 0x20
	OpRegRMW                 = 0x21
	OpCondExec               = 0x22
	OpPredExec               = 0x23
	OpDrawIndirect           = 0x24
	OpDrawIndexIndirect      = 0x25
	OpIndexBase              = 0x26
	OpDrawIndex2             = 0x27
	OpContextControl         = 0x28
	OpIndexType              = 0x2A
	OpDrawIndirectMulti      = 0x2C
	OpDrawIndexAuto          = 0x2D
	OpNumInstances           = 0x2F
	OpDrawIndexMultiAuto     = 0x30
	OpIndirectBufferConst    = 0x33
	OpStrmoutBufferUpdate    = 0x34
	OpDrawIndexOffset2       = 0x35
	OpWriteData              = 0x37
	OpDrawIndexIndirectMulti = 0x38
	OpMemSemaphore           = 0x3A
	OpWaitRegMem             = 0x3C
	OpIndirectBuffer         = 0x3F
	OpCopyData               = 0x40
	OpCPDMA                  = 0x41
	OpPFPSyncME              = 0x42
	OpSurfaceSync            = 0x43
	OpEventWrite             = 0x46
	OpEventWriteEOP          = 0x47
	OpEventWriteEOS          = 0x48
	OpReleaseMem             = 0x49
	OpPreambleCntl           = 0x4A
	OpDMAData                = 0x50
	OpAcquireMem             = 0x58
	OpSetConfigReg           = 0x68
	OpSetContextReg          = 0x69
	OpSetSHReg               = 0x76
	OpSetSHRegOffset         = 0x77
	OpSetUConfigReg          = 0x79
	OpLoadConstRAM           = 0x80
	OpWriteConstRAM          = 0x81
	OpDumpConstRAM           = 0x83
	OpIncrementCECounter     = 0x84
	OpIncrementDECounter     = 0x85
	OpWaitOnCECounter        = 0x86
	OpFrameControl           = 0x90
	OpSetResources           = 0xA0
	OpMapProcess             = 0xA1
	OpMapQueues              = 0xA2
	OpUnmapQueues            = 0xA3
	OpQueryStatus            = 0xA4
	OpRunList                = 0xA5
)

// OpcodeName returns the mnemonic of a type 3 opcode.
func OpcodeName(op uint32) string {
	if p, ok := packets[op]; ok {
		return p.name
	}
	return fmt.Sprintf("UNKNOWN_0x%02X", op)
}

// Known reports whether op has a field table.
func Known(op uint32) bool {
	_, ok := packets[op]
	return ok
}

// Opcodes lists every opcode with a field table.
func Opcodes() []uint32 {
	ops := make([]uint32, 0, len(packets))
	for op := range packets {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}

// FieldCount returns how many fields a packet of opcode with n body words
// produces: one per table entry inside the body plus one per extra word.
func FieldCount(op uint32, n int) int {
	p, ok := packets[op]
	if !ok {
		return 0
	}
	c := 0
	for _, f := range p.fields {
		if f.word < n {
			c++
		}
	}
	return c + max(0, n-p.words())
}

var vgtEvents = [64]string{
	"Reserved_0x00", "SAMPLE_STREAMOUTSTATS1", "SAMPLE_STREAMOUTSTATS2", "SAMPLE_STREAMOUTSTATS3",
	"CACHE_FLUSH_TS", "CONTEXT_DONE", "CACHE_FLUSH", "CS_PARTIAL_FLUSH",
	"VGT_STREAMOUT_SYNC", "Reserved_0x09", "VGT_STREAMOUT_RESET", "END_OF_PIPE_INCR_DE",
	"END_OF_PIPE_IB_END", "RST_PIX_CNT", "BREAK_BATCH", "VS_PARTIAL_FLUSH",
	"PS_PARTIAL_FLUSH", "FLUSH_HS_OUTPUT", "FLUSH_DFSM", "RESET_TO_LOWEST_VGT",
	"CACHE_FLUSH_AND_INV_TS_EVENT", "ZPASS_DONE", "CACHE_FLUSH_AND_INV_EVENT", "PERFCOUNTER_START",
	"PERFCOUNTER_STOP", "PIPELINESTAT_START", "PIPELINESTAT_STOP", "PERFCOUNTER_SAMPLE",
	"FLUSH_ES_OUTPUT", "BIN_CONF_OVERRIDE_CHECK", "SAMPLE_PIPELINESTAT", "SO_VGTSTREAMOUT_FLUSH",
	"SAMPLE_STREAMOUTSTATS", "RESET_VTX_CNT", "BLOCK_CONTEXT_DONE", "CS_CONTEXT_DONE",
	"VGT_FLUSH", "TGID_ROLLOVER", "SQ_NON_EVENT", "SC_SEND_DB_VPZ",
	"BOTTOM_OF_PIPE_TS", "FLUSH_SX_TS", "DB_CACHE_FLUSH_AND_INV", "FLUSH_AND_INV_DB_DATA_TS",
	"FLUSH_AND_INV_DB_META", "FLUSH_AND_INV_CB_DATA_TS", "FLUSH_AND_INV_CB_META", "CS_DONE",
	"PS_DONE", "FLUSH_AND_INV_CB_PIXEL_DATA", "SX_CB_RAT_ACK_REQUEST", "THREAD_TRACE_START",
	"THREAD_TRACE_STOP", "THREAD_TRACE_MARKER", "THREAD_TRACE_DRAW", "THREAD_TRACE_FINISH",
	"PIXEL_PIPE_STAT_CONTROL", "PIXEL_PIPE_STAT_DUMP", "PIXEL_PIPE_STAT_RESET", "CONTEXT_SUSPEND",
	"OFFCHIP_HS_DEALLOC", "ENABLE_NGG_PIPELINE", "ENABLE_LEGACY_PIPELINE", "DRAW_DONE",
}

// EventName resolves a VGT event type.
func EventName(ev uint64) string {
	if ev < uint64(len(vgtEvents)) {
		return vgtEvents[ev]
	}
	return fmt.Sprintf("EVENT_0x%x", ev)
}

var engineNames = map[uint64]string{0: "compute", 2: "sdma0", 3: "sdma1", 4: "gfx"}

var writeDstNames = map[uint64]string{0: "register", 1: "memory_sync", 2: "tc_l2", 3: "gds", 5: "memory"}
