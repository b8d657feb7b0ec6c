package pm4

import (
	"gpudbg/internal/gpu"
	"gpudbg/internal/regs"
)

// field extracts bits hi:lo of body word `word`, shifted left by shift.
type field struct {
	word   int
	name   string
	hi, lo uint
	shift  uint
	radix  gpu.Radix
	symbol func(d *decoder, v uint64) string
}

func dw(word int, name string) field { return field{word: word, name: name, hi: 31} }

func bf(word int, name string, hi, lo uint) field {
	return field{word: word, name: name, hi: hi, lo: lo}
}

func (f field) dec() field { f.radix = gpu.RadixDec; return f }

func (f field) shl(n uint) field { f.shift = n; return f }

func (f field) sym(fn func(d *decoder, v uint64) string) field { f.symbol = fn; return f }

// packetDef is the field table of one opcode. Body words past the last
// table entry become one field each: named after the register they write
// when regs says so, else after tail.
type packetDef struct {
	name   string
	fields []field
	tail   string
	regs   func(d *decoder) (uint32, bool)
	// min is the body size the packet's follow-up actions need.
	min int
}

func (p packetDef) words() int {
	n := 0
	for _, f := range p.fields {
		n = max(n, f.word+1)
	}
	return n
}

func symEvent(_ *decoder, v uint64) string { return EventName(v) }

func symEngine(_ *decoder, v uint64) string { return engineNames[v] }

func symWriteDst(_ *decoder, v uint64) string { return writeDstNames[v] }

func symRegIn(base uint32) func(*decoder, uint64) string {
	return func(d *decoder, v uint64) string { return d.regs.Symbol(base + uint32(v)) }
}

func symWriteReg(d *decoder, v uint64) string {
	if writeDst(d.body) != 0 {
		return ""
	}
	return d.regs.Symbol(uint32(v) & regs.RegOffsetMask)
}

func symPollReg(d *decoder, v uint64) string {
	if gpu.Bit(uint64(d.body[0]), 4) {
		return ""
	}
	return d.regs.Symbol(uint32(v) & regs.RegOffsetMask)
}

func setRegs(base uint32) func(*decoder) (uint32, bool) {
	return func(d *decoder) (uint32, bool) { return base + d.body[0]&0xFFFF, true }
}

func writeDataRegs(d *decoder) (uint32, bool) {
	if writeDst(d.body) != 0 {
		return 0, false
	}
	return d.body[1] & regs.RegOffsetMask, true
}

func writeDst(body []uint32) uint64 { return gpu.Bits(uint64(body[0]), 11, 8) }

func setReg(name string, base uint32) packetDef {
	return packetDef{
		name:   name,
		fields: []field{bf(0, "reg_offset", 15, 0).sym(symRegIn(base))},
		regs:   setRegs(base),
		min:    1,
	}
}

var ibFields = []field{
	bf(0, "ib_base_lo", 31, 2).shl(2),
	bf(1, "ib_base_hi", 15, 0),
	bf(2, "ib_size", 19, 0).dec(),
	bf(2, "chain", 20, 20),
	bf(2, "vmid", 27, 24).dec(),
}

var packets = map[uint32]packetDef{
	OpNOP:             {name: "NOP", tail: "payload"},
	OpSetBase:         {name: "SET_BASE", fields: []field{bf(0, "base_index", 3, 0), dw(1, "address_lo"), dw(2, "address_hi")}},
	OpClearState:      {name: "CLEAR_STATE", fields: []field{bf(0, "cmd", 3, 0)}},
	OpIndexBufferSize: {name: "INDEX_BUFFER_SIZE", fields: []field{dw(0, "index_buffer_size").dec()}},
	OpDispatchDirect: {name: "DISPATCH_DIRECT", fields: []field{
		dw(0, "dim_x").dec(), dw(1, "dim_y").dec(), dw(2, "dim_z").dec(), dw(3, "dispatch_initiator"),
	}},
	OpDispatchIndirect: {name: "DISPATCH_INDIRECT", fields: []field{dw(0, "data_offset"), dw(1, "dispatch_initiator")}},
	OpAtomicGDS: {name: "ATOMIC_GDS", fields: []field{
		bf(0, "atom_op", 7, 0), bf(0, "atom_cmp_swap", 16, 16), bf(0, "atom_complete", 17, 17),
		bf(0, "atom_read", 18, 18), bf(0, "atom_rd_cntl", 20, 19), bf(0, "engine_sel", 31, 30),
		bf(1, "auto_inc_bytes", 5, 0).dec(), bf(1, "dmode", 8, 8),
		bf(2, "atom_base", 15, 0), bf(3, "atom_size", 15, 0), bf(4, "atom_offset0", 7, 0),
		dw(5, "atom_src0"), dw(6, "atom_src0_u"), dw(7, "atom_src1"), dw(8, "atom_src1_u"),
		dw(9, "atom_cmp0"), dw(10, "atom_cmp0_u"),
	}},
	OpAtomicMem: {name: "ATOMIC_MEM", fields: []field{
		bf(0, "atomic", 6, 0), bf(0, "command", 11, 8), bf(0, "cache_policy", 26, 25), bf(0, "engine_sel", 31, 30),
		dw(1, "addr_lo"), dw(2, "addr_hi"), dw(3, "src_data_lo"), dw(4, "src_data_hi"),
		dw(5, "cmp_data_lo"), dw(6, "cmp_data_hi"), bf(7, "loop_interval", 12, 0).dec(),
	}},
	OpSetPredication: {name: "SET_PREDICATION", fields: []field{
		bf(0, "pred_bool", 8, 8), bf(0, "hint", 12, 12), bf(0, "pred_op", 18, 16), bf(0, "continue_bit", 31, 31),
		dw(1, "start_addr_lo"), dw(2, "start_addr_hi"),
	}},
	OpRegRMW: {name: "REG_RMW", fields: []field{
		bf(0, "mod_adrs", 17, 0).sym(symRegIn(0)), bf(0, "or_mask_src", 30, 30), bf(0, "and_mask_src", 31, 31),
		dw(1, "and_mask"), dw(2, "or_mask"),
	}},
	OpCondExec: {name: "COND_EXEC", fields: []field{
		dw(0, "addr_lo"), dw(1, "addr_hi"), bf(2, "cache_policy", 26, 25), bf(3, "exec_count", 13, 0).dec(),
	}},
	OpPredExec: {name: "PRED_EXEC", fields: []field{bf(0, "exec_count", 13, 0).dec(), bf(0, "device_select", 31, 24)}},
	OpDrawIndirect: {name: "DRAW_INDIRECT", fields: []field{
		dw(0, "data_offset"), bf(1, "start_vtx_loc", 15, 0).sym(symRegIn(regs.SHBase)),
		bf(2, "start_inst_loc", 15, 0).sym(symRegIn(regs.SHBase)), dw(3, "draw_initiator"),
	}},
	OpDrawIndexIndirect: {name: "DRAW_INDEX_INDIRECT", fields: []field{
		dw(0, "data_offset"), bf(1, "base_vtx_loc", 15, 0).sym(symRegIn(regs.SHBase)),
		bf(2, "start_inst_loc", 15, 0).sym(symRegIn(regs.SHBase)), dw(3, "draw_initiator"),
	}},
	OpIndexBase: {name: "INDEX_BASE", fields: []field{dw(0, "index_base_lo"), bf(1, "index_base_hi", 15, 0)}},
	OpDrawIndex2: {name: "DRAW_INDEX_2", fields: []field{
		dw(0, "max_size").dec(), dw(1, "index_base_lo"), dw(2, "index_base_hi"), dw(3, "index_count").dec(), dw(4, "draw_initiator"),
	}},
	OpContextControl: {name: "CONTEXT_CONTROL", fields: []field{
		bf(0, "load_global_config", 0, 0), bf(0, "load_per_context_state", 1, 1), bf(0, "load_global_uconfig", 15, 15),
		bf(0, "load_gfx_sh_regs", 16, 16), bf(0, "load_cs_sh_regs", 24, 24), bf(0, "load_ce_ram", 28, 28),
		bf(0, "load_enable", 31, 31),
		bf(1, "shadow_global_config", 0, 0), bf(1, "shadow_per_context_state", 1, 1), bf(1, "shadow_global_uconfig", 15, 15),
		bf(1, "shadow_gfx_sh_regs", 16, 16), bf(1, "shadow_cs_sh_regs", 24, 24), bf(1, "shadow_enable", 31, 31),
	}},
	OpIndexType: {name: "INDEX_TYPE", fields: []field{bf(0, "index_type", 1, 0), bf(0, "swap_mode", 3, 2)}},
	OpDrawIndirectMulti: {name: "DRAW_INDIRECT_MULTI", fields: []field{
		dw(0, "data_offset"), bf(1, "start_vtx_loc", 15, 0), bf(2, "start_inst_loc", 15, 0),
		bf(3, "draw_index_loc", 15, 0), bf(3, "count_indirect_enable", 30, 30), bf(3, "draw_index_enable", 31, 31),
		dw(4, "count").dec(), dw(5, "count_addr_lo"), dw(6, "count_addr_hi"), dw(7, "stride").dec(), dw(8, "draw_initiator"),
	}},
	OpDrawIndexAuto: {name: "DRAW_INDEX_AUTO", fields: []field{dw(0, "index_count").dec(), dw(1, "draw_initiator")}},
	OpNumInstances:  {name: "NUM_INSTANCES", fields: []field{dw(0, "num_instances").dec()}},
	OpDrawIndexMultiAuto: {name: "DRAW_INDEX_MULTI_AUTO", fields: []field{
		dw(0, "prim_count").dec(), dw(1, "draw_initiator"), bf(2, "prim_loc", 5, 0), bf(2, "index_offset", 31, 16).dec(),
	}},
	OpIndirectBufferConst: {name: "INDIRECT_BUFFER_CONST", fields: ibFields, min: 3},
	OpStrmoutBufferUpdate: {name: "STRMOUT_BUFFER_UPDATE", fields: []field{
		bf(0, "update_memory", 0, 0), bf(0, "source_select", 2, 1), bf(0, "buffer_select", 9, 8),
		dw(1, "dst_address_lo"), dw(2, "dst_address_hi"), dw(3, "src_address_lo"), dw(4, "src_address_hi"),
	}},
	OpDrawIndexOffset2: {name: "DRAW_INDEX_OFFSET_2", fields: []field{
		dw(0, "max_size").dec(), dw(1, "index_offset").dec(), dw(2, "index_count").dec(), dw(3, "draw_initiator"),
	}},
	OpWriteData: {name: "WRITE_DATA", fields: []field{
		bf(0, "dst_sel", 11, 8).sym(symWriteDst), bf(0, "addr_incr", 16, 16), bf(0, "wr_confirm", 20, 20),
		bf(0, "cache_policy", 26, 25), bf(0, "engine_sel", 31, 30),
		dw(1, "dst_addr_lo").sym(symWriteReg), dw(2, "dst_addr_hi"),
	}, tail: "data", regs: writeDataRegs, min: 3},
	OpDrawIndexIndirectMulti: {name: "DRAW_INDEX_INDIRECT_MULTI", fields: []field{
		dw(0, "data_offset"), bf(1, "base_vtx_loc", 15, 0), bf(2, "start_inst_loc", 15, 0),
		bf(3, "draw_index_loc", 15, 0), bf(3, "count_indirect_enable", 30, 30), bf(3, "draw_index_enable", 31, 31),
		dw(4, "count").dec(), dw(5, "count_addr_lo"), dw(6, "count_addr_hi"), dw(7, "stride").dec(), dw(8, "draw_initiator"),
	}},
	OpMemSemaphore: {name: "MEM_SEMAPHORE", fields: []field{
		dw(0, "address_lo"), dw(1, "address_hi"),
		bf(2, "use_mailbox", 16, 16), bf(2, "signal_type", 20, 20), bf(2, "client_code", 25, 24), bf(2, "sem_sel", 31, 29),
	}},
	OpWaitRegMem: {name: "WAIT_REG_MEM", fields: []field{
		bf(0, "function", 2, 0), bf(0, "mem_space", 4, 4), bf(0, "operation", 7, 6), bf(0, "engine_sel", 9, 8),
		dw(1, "poll_addr_lo").sym(symPollReg), dw(2, "poll_addr_hi"), dw(3, "reference"), dw(4, "mask"),
		bf(5, "poll_interval", 15, 0).dec(),
	}},
	OpIndirectBuffer: {name: "INDIRECT_BUFFER", fields: ibFields, min: 3},
	OpCopyData: {name: "COPY_DATA", fields: []field{
		bf(0, "src_sel", 3, 0), bf(0, "dst_sel", 11, 8), bf(0, "count_sel", 16, 16), bf(0, "wr_confirm", 20, 20),
		bf(0, "engine_sel", 31, 30),
		dw(1, "src_addr_lo"), dw(2, "src_addr_hi"), dw(3, "dst_addr_lo"), dw(4, "dst_addr_hi"),
	}},
	OpCPDMA: {name: "CP_DMA", fields: []field{
		dw(0, "src_addr_lo"), bf(1, "src_addr_hi", 15, 0), bf(1, "engine", 27, 27), bf(1, "src_sel", 30, 29), bf(1, "cp_sync", 31, 31),
		dw(2, "dst_addr_lo"), bf(3, "dst_addr_hi", 15, 0), bf(3, "dst_sel", 21, 20),
		bf(4, "byte_count", 20, 0).dec(), bf(4, "dis_wc", 21, 21), bf(4, "raw_wait", 30, 30),
	}},
	OpPFPSyncME: {name: "PFP_SYNC_ME", fields: []field{dw(0, "dummy")}},
	OpSurfaceSync: {name: "SURFACE_SYNC", fields: []field{
		bf(0, "coher_cntl", 28, 0), bf(0, "engine", 31, 31), dw(1, "coher_size"), dw(2, "coher_base"),
		bf(3, "poll_interval", 15, 0).dec(),
	}},
	OpEventWrite: {name: "EVENT_WRITE", fields: []field{
		bf(0, "event_type", 5, 0).sym(symEvent), bf(0, "event_index", 11, 8),
		dw(1, "address_lo"), dw(2, "address_hi"),
	}},
	OpEventWriteEOP: {name: "EVENT_WRITE_EOP", fields: []field{
		bf(0, "event_type", 5, 0).sym(symEvent), bf(0, "event_index", 11, 8),
		dw(1, "address_lo"), bf(2, "address_hi", 15, 0), bf(2, "int_sel", 25, 24), bf(2, "data_sel", 31, 29),
		dw(3, "data_lo"), dw(4, "data_hi"),
	}},
	OpEventWriteEOS: {name: "EVENT_WRITE_EOS", fields: []field{
		bf(0, "event_type", 5, 0).sym(symEvent), bf(0, "event_index", 11, 8),
		dw(1, "address_lo"), bf(2, "address_hi", 15, 0), bf(2, "command", 31, 29), dw(3, "data"),
	}},
	OpReleaseMem: {name: "RELEASE_MEM", fields: []field{
		bf(0, "event_type", 5, 0).sym(symEvent), bf(0, "event_index", 11, 8), bf(0, "tcl1_action_ena", 16, 16),
		bf(0, "tc_action_ena", 17, 17), bf(0, "tc_wb_action_ena", 18, 18), bf(0, "cache_policy", 26, 25),
		bf(0, "execute", 28, 28),
		bf(1, "dst_sel", 17, 16), bf(1, "int_sel", 26, 24), bf(1, "data_sel", 31, 29),
		dw(2, "address_lo"), dw(3, "address_hi"), dw(4, "data_lo"), dw(5, "data_hi"),
	}},
	OpPreambleCntl: {name: "PREAMBLE_CNTL", fields: []field{bf(0, "command", 31, 28)}},
	OpDMAData: {name: "DMA_DATA", fields: []field{
		bf(0, "engine_sel", 0, 0), bf(0, "src_cache_policy", 14, 13), bf(0, "dst_sel", 21, 20),
		bf(0, "dst_cache_policy", 26, 25), bf(0, "src_sel", 30, 29), bf(0, "cp_sync", 31, 31),
		dw(1, "src_addr_lo"), dw(2, "src_addr_hi"), dw(3, "dst_addr_lo"), dw(4, "dst_addr_hi"),
		bf(5, "byte_count", 25, 0).dec(), bf(5, "sas", 26, 26), bf(5, "das", 27, 27), bf(5, "saic", 28, 28),
		bf(5, "daic", 29, 29), bf(5, "raw_wait", 30, 30), bf(5, "dis_wc", 31, 31),
	}},
	OpAcquireMem: {name: "ACQUIRE_MEM", fields: []field{
		bf(0, "coher_cntl", 30, 0), dw(1, "coher_size"), bf(2, "coher_size_hi", 7, 0), dw(3, "coher_base_lo"),
		bf(4, "coher_base_hi", 23, 0), bf(5, "poll_interval", 15, 0).dec(),
	}, tail: "gcr_cntl"},
	OpSetConfigReg:  setReg("SET_CONFIG_REG", regs.ConfigBase),
	OpSetContextReg: setReg("SET_CONTEXT_REG", regs.ContextBase),
	OpSetSHReg:      setReg("SET_SH_REG", regs.SHBase),
	OpSetSHRegOffset: {name: "SET_SH_REG_OFFSET", fields: []field{
		bf(0, "reg_offset", 15, 0).sym(symRegIn(regs.SHBase)), dw(1, "data_offset"), bf(2, "driver_data", 31, 0),
	}},
	OpSetUConfigReg: setReg("SET_UCONFIG_REG", regs.UConfigBase),
	OpLoadConstRAM: {name: "LOAD_CONST_RAM", fields: []field{
		dw(0, "addr_lo"), dw(1, "addr_hi"), bf(2, "num_dw", 14, 0).dec(), bf(3, "start_addr", 15, 0),
	}},
	OpWriteConstRAM: {name: "WRITE_CONST_RAM", fields: []field{bf(0, "offset", 15, 0)}, tail: "data"},
	OpDumpConstRAM: {name: "DUMP_CONST_RAM", fields: []field{
		bf(0, "offset", 15, 0), bf(1, "num_dw", 14, 0).dec(), dw(2, "addr_lo"), dw(3, "addr_hi"),
	}},
	OpIncrementCECounter: {name: "INCREMENT_CE_COUNTER", fields: []field{bf(0, "cntrsel", 1, 0)}},
	OpIncrementDECounter: {name: "INCREMENT_DE_COUNTER", fields: []field{dw(0, "dummy")}},
	OpWaitOnCECounter: {name: "WAIT_ON_CE_COUNTER", fields: []field{
		bf(0, "cond_acquire_mem", 0, 0), bf(0, "force_sync", 1, 1),
	}},
	OpFrameControl: {name: "FRAME_CONTROL", fields: []field{bf(0, "tmz", 0, 0), bf(0, "command", 31, 28)}},
	OpSetResources: {name: "SET_RESOURCES", fields: []field{
		bf(0, "vmid_mask", 15, 0), bf(0, "unmap_latency", 23, 16).dec(), bf(0, "queue_type", 31, 29),
		dw(1, "queue_mask_lo"), dw(2, "queue_mask_hi"), dw(3, "gws_mask_lo"), dw(4, "gws_mask_hi"),
		bf(5, "oac_mask", 15, 0), bf(6, "gds_heap_base", 5, 0), bf(6, "gds_heap_size", 16, 11),
	}},
	OpMapProcess: {name: "MAP_PROCESS", fields: []field{
		bf(0, "pasid", 15, 0).dec(), bf(0, "debug_vmid", 21, 18), bf(0, "debug_flag", 22, 22), bf(0, "tmz", 23, 23),
		bf(0, "diq_enable", 24, 24), bf(0, "process_quantum", 31, 25).dec(),
		dw(1, "vm_context_page_table_base_addr_lo32"), dw(2, "vm_context_page_table_base_addr_hi32"),
		dw(3, "sh_mem_bases"), dw(4, "sh_mem_config"),
	}},
	OpMapQueues: {name: "MAP_QUEUES", fields: []field{
		bf(0, "queue_sel", 5, 4), bf(0, "vmid", 11, 8).dec(), bf(0, "queue", 18, 13).dec(), bf(0, "pipe", 20, 19).dec(),
		bf(0, "me", 22, 21).dec(), bf(0, "queue_type", 25, 23), bf(0, "engine_sel", 28, 26).sym(symEngine),
		bf(0, "num_queues", 31, 29).dec(),
		bf(1, "doorbell_offset", 27, 2), dw(2, "mqd_addr_lo"), dw(3, "mqd_addr_hi"),
		dw(4, "wptr_addr_lo"), dw(5, "wptr_addr_hi"),
	}, min: 4},
	OpUnmapQueues: {name: "UNMAP_QUEUES", fields: []field{
		bf(0, "action", 1, 0), bf(0, "queue_sel", 5, 4), bf(0, "engine_sel", 28, 26).sym(symEngine), bf(0, "num_queues", 31, 29).dec(),
		bf(1, "doorbell_offset0", 27, 2), bf(2, "doorbell_offset1", 27, 2), bf(3, "doorbell_offset2", 27, 2),
		bf(4, "doorbell_offset3", 27, 2),
	}},
	OpQueryStatus: {name: "QUERY_STATUS", fields: []field{
		bf(0, "context_id", 27, 0), bf(0, "interrupt_sel", 29, 28), bf(0, "command", 31, 30),
		bf(1, "doorbell_offset", 27, 2), bf(1, "engine_sel", 28, 26).sym(symEngine),
		dw(2, "addr_lo"), dw(3, "addr_hi"), dw(4, "data_lo"), dw(5, "data_hi"),
	}},
	OpRunList: {name: "RUN_LIST", fields: []field{
		bf(0, "ib_base_lo", 31, 2).shl(2), bf(1, "ib_base_hi", 15, 0),
		bf(2, "ib_size", 19, 0).dec(), bf(2, "chain", 20, 20), bf(2, "offload_polling", 21, 21),
		bf(2, "valid", 23, 23), bf(2, "process_cnt", 29, 26).dec(),
	}, min: 3},
}
