package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gpudbg/internal/gpu"
	"gpudbg/internal/lister"
)

var ibFamily string

func openSession() (*lister.Session, error) {
	if captureDir == "" {
		return nil, fmt.Errorf("missing capture directory on --capture")
	}
	return lister.Open(captureDir, newLogger())
}

// vmArgs parses VMID ADDR [LEN].
func vmArgs(args []string, defLen uint64) (gpu.VMID, uint64, uint64, error) {
	id, err := parseUint(args[0])
	if err != nil {
		return 0, 0, 0, err
	}
	addr, err := parseUint(args[1])
	if err != nil {
		return 0, 0, 0, err
	}
	n := defLen
	if len(args) > 2 {
		if n, err = parseUint(args[2]); err != nil {
			return 0, 0, 0, err
		}
	}
	return gpu.VMID(id), addr, n, nil
}

func newVMCmd() *cobra.Command {
	vmCmd := &cobra.Command{
		Use:   "vm",
		Short: "Inspect the GPU virtual address spaces of a capture",
	}

	ctxCmd := &cobra.Command{
		Use:   "ctx VMID",
		Short: "Print the page table setup of a VMID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()
			id, err := parseUint(args[0])
			if err != nil {
				return err
			}
			ctx, err := s.Context(gpu.VMID(id))
			if err != nil {
				return err
			}
			fmt.Println(ctx)
			return nil
		},
	}

	translateCmd := &cobra.Command{
		Use:   "translate VMID ADDR [LEN]",
		Short: "Translate a virtual range to physical chunks",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRange(args, 4, func(s *lister.Session, id gpu.VMID, addr, n uint64) error {
				return s.Translate(id, addr, n, os.Stdout)
			})
		},
	}

	traceCmd := &cobra.Command{
		Use:   "trace VMID ADDR [LEN]",
		Short: "Print the page table walk of a virtual range",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRange(args, 4, func(s *lister.Session, id gpu.VMID, addr, n uint64) error {
				return s.Trace(id, addr, n, os.Stdout)
			})
		},
	}

	dumpCmd := &cobra.Command{
		Use:   "dump VMID ADDR [WORDS]",
		Short: "Dump words of virtual memory",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRange(args, 16, func(s *lister.Session, id gpu.VMID, addr, n uint64) error {
				return s.Dump(id, addr, int(n), os.Stdout)
			})
		},
	}

	ibCmd := &cobra.Command{
		Use:   "ib VMID ADDR WORDS",
		Short: "Decode a buffer of virtual memory",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := gpu.ParseFamily(ibFamily)
			if err != nil {
				return err
			}
			return withRange(args, 0, func(s *lister.Session, id gpu.VMID, addr, n uint64) error {
				_, err := lister.RunIB(listerConfig(), s, id, addr, int(n), f)
				return err
			})
		},
	}
	ibCmd.Flags().StringVar(&ibFamily, "family", "pm4", "Packet family (pm4, sdma)")
	ibCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow indirect buffers")
	addOutputFlags(ibCmd)

	vmCmd.AddCommand(ctxCmd, translateCmd, traceCmd, dumpCmd, ibCmd)
	return vmCmd
}

func withRange(args []string, defLen uint64, fn func(*lister.Session, gpu.VMID, uint64, uint64) error) error {
	id, addr, n, err := vmArgs(args, defLen)
	if err != nil {
		return err
	}
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s, id, addr, n)
}
