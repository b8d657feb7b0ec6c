package vm_test

import (
	"encoding/binary"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"gpudbg/internal/common"
	"gpudbg/internal/gpu"
	"gpudbg/internal/vm"
)

var ctx0 = gpu.CtxID{VMID: 0, Hub: gpu.HubGFX}

// vaFor picks a virtual address with a distinct index at every level.
func vaFor(depth int) uint64 {
	va := uint64(9)<<12 | 0x234
	for level := 1; level <= depth; level++ {
		va |= uint64(4-level) << (21 + 9*(level-1))
	}
	return va
}

var _ = Describe("Era dispatch", func() {
	DescribeTable("maps GC major versions to eras",
		func(major int, want vm.Era) {
			era, err := vm.EraFor(major)
			Expect(err).NotTo(HaveOccurred())
			Expect(era).To(Equal(want))
		},
		Entry("gfx6", 6, vm.EraA),
		Entry("gfx8", 8, vm.EraA),
		Entry("gfx9", 9, vm.EraB),
		Entry("gfx11", 11, vm.EraB),
		Entry("gfx12", 12, vm.EraC),
	)

	It("refuses unknown generations instead of guessing", func() {
		for _, major := range []int{0, 5, 13} {
			_, err := vm.EraFor(major)
			Expect(err).To(MatchError(common.ErrUnsupportedGeneration))
		}

		e := newEnv(13)
		var got error
		for _, err := range e.translator().Translate(ctx0, 0x1000, 0x1000) {
			got = err
		}
		Expect(got).To(MatchError(common.ErrUnsupportedGeneration))
	})
})

var _ = Describe("Translator", func() {
	for _, major := range []int{7, 10, 12} {
		Describe(fmt.Sprintf("GC %d", major), func() {
			for depth := 0; depth <= 3; depth++ {
				It(fmt.Sprintf("round-trips a depth %d walk", depth), func() {
					e := newEnv(major)
					t := e.newTables(depth)
					va := vaFor(depth)
					phys := uint64(dataArea + depth*gpu.PageSize)
					t.mapPage(va, phys, pteOpt{})
					e.configure(depth, 0, t.root, 0, 0xFFFFFFFFF)

					binary.LittleEndian.PutUint32(e.vram[phys+0x234:], 0xC0FFEE00+uint32(depth))

					var chunks []vm.Chunk
					for c, err := range e.translator().Translate(ctx0, va, 8) {
						Expect(err).NotTo(HaveOccurred())
						chunks = append(chunks, c)
					}
					Expect(chunks).To(HaveLen(1))
					Expect(chunks[0].Phys).To(Equal(phys + 0x234))
					Expect(chunks[0].Space).To(Equal(gpu.SpaceDevice))
					Expect(chunks[0].Len).To(Equal(uint64(8)))

					words, err := e.translator().ReadWords(ctx0, va, 1)
					Expect(err).NotTo(HaveOccurred())
					Expect(words[0]).To(Equal(0xC0FFEE00 + uint32(depth)))
				})
			}

			It("fails on an invalid PTE and never yields an address", func() {
				e := newEnv(major)
				t := e.newTables(1)
				t.mapPage(0x3000, dataArea, pteOpt{invalid: true})
				e.configure(1, 0, t.root, 0, 0xFFFFF)

				n := 0
				for c, err := range e.translator().Translate(ctx0, 0x3000, gpu.PageSize) {
					n++
					Expect(err).To(MatchError(common.ErrUnmappedAddress))
					Expect(c.Phys).To(BeZero())
				}
				Expect(n).To(Equal(1))

				err := e.translator().Read(ctx0, 0x3000, make([]byte, 4))
				Expect(err).To(MatchError(common.ErrUnmappedAddress))
			})

			It("fails on an invalid PDE", func() {
				e := newEnv(major)
				t := e.newTables(2)
				t.mapPage(0x200000, dataArea, pteOpt{})
				// knock out the top level directory entry
				e.put(t.root, 0)
				e.configure(2, 0, t.root, 0, 0xFFFFFF)

				Expect(e.translator().Mapped(ctx0, 0x200000)).To(BeFalse())
				err := e.translator().Read(ctx0, 0x200000, make([]byte, 4))
				Expect(err).To(MatchError(common.ErrUnmappedAddress))
			})

			It("keeps enumerating past unmapped pages when no buffer is given", func() {
				e := newEnv(major)
				t := e.newTables(1)
				t.mapPage(0x0000, dataArea, pteOpt{})
				t.mapPage(0x1000, dataArea+0x1000, pteOpt{invalid: true})
				t.mapPage(0x2000, dataArea+0x2000, pteOpt{})
				e.configure(1, 0, t.root, 0, 0xFFFFF)

				var errs []error
				var lens []uint64
				for c, err := range e.translator().Translate(ctx0, 0x800, 0x2000) {
					errs = append(errs, err)
					lens = append(lens, c.Len)
				}
				Expect(lens).To(Equal([]uint64{0x800, 0x1000, 0x800}))
				Expect(errs[0]).NotTo(HaveOccurred())
				Expect(errs[1]).To(MatchError(common.ErrUnmappedAddress))
				Expect(errs[2]).NotTo(HaveOccurred())
			})

			It("rejects addresses outside the context span", func() {
				e := newEnv(major)
				t := e.newTables(0)
				t.mapPage(0x1000, dataArea, pteOpt{})
				e.configure(0, 0, t.root, 1, 1)

				Expect(e.translator().Mapped(ctx0, 0x0)).To(BeFalse())
				Expect(e.translator().Mapped(ctx0, 0x2000)).To(BeFalse())
			})

			It("writes through the walk", func() {
				e := newEnv(major)
				t := e.newTables(1)
				t.mapPage(0x5000, dataArea, pteOpt{})
				t.mapPage(0x6000, dataArea+0x3000, pteOpt{})
				e.configure(1, 0, t.root, 0, 0xFFFFF)

				data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
				Expect(e.translator().Write(ctx0, 0x5FFC, data)).To(Succeed())
				Expect(e.vram[dataArea+0xFFC : dataArea+0x1000]).To(Equal(data[:4]))
				Expect(e.vram[dataArea+0x3000 : dataArea+0x3004]).To(Equal(data[4:]))
			})
		})
	}

	It("honours block size on era B", func() {
		e := newEnv(10)
		// block size 1: 1024 entry leaf tables, leaf index covers va bits 21:12
		top := e.alloc()
		ptb := e.alloc()
		e.alloc()
		va := uint64(0x3FF000)
		e.put(top, e.pde(ptb))
		e.put(ptb+0x3FF*8, e.pte(dataArea, pteOpt{}))
		e.configure(1, 1, top, 0, 0xFFFFF)

		ok := e.translator().Mapped(ctx0, va)
		Expect(ok).To(BeTrue())
	})

	It("translates va 0x1000 in a flat table to 0x2000_1000", func() {
		e := newEnv(10)
		t := e.newTables(0)
		// an 8 KiB fragment based at 0x2000_0000 covers pages 0 and 1
		t.mapPage(0x1000, 0x2000_0000, pteOpt{fragment: 1})
		e.configure(0, 0, t.root, 0, 0xFFFFF)

		for c, err := range e.translator().Translate(ctx0, 0x1000, 0x1000) {
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Phys).To(Equal(uint64(0x2000_1000)))
			Expect(c.Space).To(Equal(gpu.SpaceDevice))
		}
	})

	It("clips chunks at fragment boundaries", func() {
		e := newEnv(10)
		t := e.newTables(0)
		for pg := uint64(0); pg < 8; pg++ {
			t.mapPage(pg<<12, dataArea, pteOpt{fragment: 2})
		}
		e.configure(0, 0, t.root, 0, 0xFFFFF)

		var lens []uint64
		for c, err := range e.translator().Translate(ctx0, 0x1800, 0x4000) {
			Expect(err).NotTo(HaveOccurred())
			lens = append(lens, c.Len)
		}
		Expect(lens).To(Equal([]uint64{0x2800, 0x1800}))
	})

	Describe("partially resident pages", func() {
		for _, major := range []int{10, 12} {
			It(fmt.Sprintf("skips PRT pages silently on GC %d", major), func() {
				e := newEnv(major)
				t := e.newTables(1)
				t.mapPage(0x0000, dataArea, pteOpt{})
				t.mapPage(0x1000, 0, pteOpt{invalid: true, prt: true})
				e.configure(1, 0, t.root, 0, 0xFFFFF)
				e.vram[dataArea+0xFFF] = 0xAA

				var prt []bool
				for c, err := range e.translator().Translate(ctx0, 0xFFF, 2) {
					Expect(err).NotTo(HaveOccurred())
					prt = append(prt, c.PRT)
				}
				Expect(prt).To(Equal([]bool{false, true}))

				buf := []byte{0x55, 0x55}
				Expect(e.translator().Read(ctx0, 0xFFF, buf)).To(Succeed())
				Expect(buf).To(Equal([]byte{0xAA, 0x00}))
				Expect(e.translator().Mapped(ctx0, 0x1000)).To(BeFalse())
			})
		}
	})

	Describe("further chaining", func() {
		for _, major := range []int{10, 12} {
			It(fmt.Sprintf("follows one extra level on GC %d", major), func() {
				e := newEnv(major)
				t := e.newTables(1)
				sub := e.alloc()
				// va 0x6000 is page 2 of the 16 KiB fragment at 0x4000
				t.mapPage(0x6000, sub, pteOpt{further: true, fragment: 2})
				e.put(sub+2*8, e.pte(dataArea+0x7000, pteOpt{}))
				e.configure(1, 0, t.root, 0, 0xFFFFF)

				rec := &recorder{}
				Expect(e.translator().Trace(ctx0, 0x6010, 4, rec)).To(Succeed())
				Expect(rec.chunks).To(HaveLen(1))
				Expect(rec.chunks[0].Phys).To(Equal(uint64(dataArea + 0x7010)))

				var kinds []vm.EntryKind
				for _, en := range rec.entries {
					kinds = append(kinds, en.Kind)
				}
				Expect(kinds).To(Equal([]vm.EntryKind{vm.KindBase, vm.KindPDE, vm.KindPTEAsPDE, vm.KindPTE}))
			})

			It(fmt.Sprintf("stops a pathological further chain on GC %d", major), func() {
				e := newEnv(major)
				const depth = 2
				t := e.newTables(depth)
				// every table entry on the path claims a further level
				pte := e.pte(0, pteOpt{further: true})
				leaf := t.leaf(0x5000)
				self := leaf
				for i := uint64(0); i < 512; i++ {
					e.put(self+i*8, pte|self)
				}
				for ea := range t.dirs {
					e.put(ea, e.pde(t.dirs[ea])|(pte&^0xFFFFFFFFF001))
				}
				e.configure(depth, 0, t.root, 0, 0xFFFFFFF)

				rec := &recorder{}
				err := e.translator().Trace(ctx0, 0x5000, 4, rec)
				Expect(err).To(MatchError(common.ErrWalkBound))

				walked := 0
				for _, en := range rec.entries {
					if en.Kind != vm.KindBase {
						walked++
					}
				}
				Expect(walked).To(BeNumerically("<=", depth+2))

				var last error
				for _, err := range e.translator().Translate(ctx0, 0x5000, 0x10000) {
					last = err
				}
				Expect(last).To(MatchError(common.ErrWalkBound))
			})
		}
	})

	It("reads system pages through the bus mapping", func() {
		e := newEnv(10)
		t := e.newTables(1)
		t.mapPage(0x9000, sysBase+0x2000, pteOpt{system: true})
		e.configure(1, 0, t.root, 0, 0xFFFFF)
		e.putSys(sysBase+0x2008, 0x1122334455667788)

		buf := make([]byte, 8)
		Expect(e.translator().Read(ctx0, 0x9008, buf)).To(Succeed())
		Expect(binary.LittleEndian.Uint64(buf)).To(Equal(uint64(0x1122334455667788)))

		for c, err := range e.translator().Translate(ctx0, 0x9008, 8) {
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Space).To(Equal(gpu.SpaceSystem))
			Expect(c.PortAddr).To(Equal(uint64(sysBase + 0x2008)))
		}
	})

	It("redirects device reads into system memory without a frame buffer", func() {
		e := newEnv(10)
		e.zeroFB = true
		e.setReg("GCMC_VM_FB_LOCATION_BASE", zfbMC>>24)
		e.setReg("GCMC_VM_FB_LOCATION_TOP", zfbMC>>24-1)
		e.setReg("GCMC_VM_FB_OFFSET", sysBase>>24)

		t := e.newTables(1)
		page := e.alloc()
		t.mapPage(0x4000, page, pteOpt{})
		e.configure(1, 0, t.root, 0, 0xFFFFF)
		binary.LittleEndian.PutUint32(e.mem(page+0x10), 0xFEEDF00D)

		ctx, err := e.translator().Context(ctx0)
		Expect(err).NotTo(HaveOccurred())
		Expect(ctx.ZeroFB).To(BeTrue())

		words, err := e.translator().ReadWords(ctx0, 0x4010, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(words).To(Equal([]uint32{0xFEEDF00D}))

		for c := range e.translator().Translate(ctx0, 0x4010, 4) {
			Expect(c.Space).To(Equal(gpu.SpaceDevice))
			Expect(c.PortSpace).To(Equal(gpu.SpaceSystem))
			Expect(c.Phys).To(Equal(page + 0x10))
		}
	})

	It("can be forced into zero frame buffer mode", func() {
		e := newEnv(10)
		e.configure(0, 0, 0, 0, 0xFFFFF)
		cfg := vm.NewConfig(10)
		cfg.ForceZeroFB = true
		ctx, err := vm.NewTranslator(e.port, e.table, cfg).Context(ctx0)
		Expect(err).NotTo(HaveOccurred())
		Expect(ctx.ZeroFB).To(BeTrue())
	})

	Describe("context registers", func() {
		It("reads hub-prefixed registers on era B", func() {
			e := newEnv(10)
			e.setReg("MMVM_CONTEXT3_PAGE_TABLE_BASE_ADDR_LO32", 0x1001)
			e.setReg("MMVM_CONTEXT3_PAGE_TABLE_BASE_ADDR_HI32", 0)
			e.setReg("MMVM_CONTEXT3_PAGE_TABLE_START_ADDR_LO32", 0x10)
			e.setReg("MMVM_CONTEXT3_PAGE_TABLE_START_ADDR_HI32", 0)
			e.setReg("MMVM_CONTEXT3_PAGE_TABLE_END_ADDR_LO32", 0x20)
			e.setReg("MMVM_CONTEXT3_PAGE_TABLE_END_ADDR_HI32", 1)
			e.setReg("MMVM_CONTEXT3_CNTL", 2<<1|3<<3|1)

			ctx, err := e.translator().Context(gpu.CtxID{VMID: 3, Hub: gpu.HubMM})
			Expect(err).NotTo(HaveOccurred())
			Expect(ctx.Base).To(Equal(uint64(0x1001)))
			Expect(ctx.Start).To(Equal(uint64(0x10000)))
			Expect(ctx.End).To(Equal(uint64(0x1000_0002_0FFF)))
			Expect(ctx.Depth).To(Equal(2))
			Expect(ctx.BlockSize).To(Equal(3))
			Expect(ctx.ZeroFB).To(BeFalse())

			_, err = e.translator().Context(gpu.CtxID{VMID: 3, Hub: gpu.HubGFX})
			Expect(err).To(MatchError(common.ErrUnknownRegister))
		})

		It("shares span and control registers between user contexts on era A", func() {
			e := newEnv(8)
			e.setReg("VM_CONTEXT5_PAGE_TABLE_BASE_ADDR", 0x123)
			e.setReg("VM_CONTEXT1_PAGE_TABLE_START_ADDR", 0)
			e.setReg("VM_CONTEXT1_PAGE_TABLE_END_ADDR", 0xFFF)
			e.setReg("VM_CONTEXT1_CNTL", 1<<1|4<<24)
			e.setReg("MC_VM_FB_LOCATION", 0x00FF_0000)
			e.setReg("MC_VM_FB_OFFSET", 0x2)

			ctx, err := e.translator().Context(gpu.CtxID{VMID: 5})
			Expect(err).NotTo(HaveOccurred())
			Expect(ctx.Era).To(Equal(vm.EraA))
			Expect(ctx.Base).To(Equal(uint64(0x123000)))
			Expect(ctx.End).To(Equal(uint64(0xFFFFFF)))
			Expect(ctx.Depth).To(Equal(1))
			Expect(ctx.BlockSize).To(Equal(4))
			Expect(ctx.FBBase).To(BeZero())
			Expect(ctx.FBTop).To(Equal(uint64(0xFFFFFFFF)))
			Expect(ctx.FBOffset).To(Equal(uint64(0x800000)))
		})
	})

	It("decodes era C attribute bits", func() {
		e := newEnv(12)
		t := e.newTables(0)
		raw := e.pte(dataArea, pteOpt{}) | 2<<54 | 1<<58 | 1<<59 | 1<<3
		e.put(t.leaf(0)+0, raw)
		e.configure(0, 0, t.root, 0, 0xFFFFF)

		for c, err := range e.translator().Translate(ctx0, 0, 4) {
			Expect(err).NotTo(HaveOccurred())
			Expect(c.PTE.MType).To(Equal(uint(2)))
			Expect(c.PTE.DCC).To(BeTrue())
			Expect(c.PTE.LLCNoAlloc).To(BeTrue())
			Expect(c.PTE.TMZ).To(BeTrue())
			Expect(c.PTE.PRT).To(BeFalse())
		}
	})
})
