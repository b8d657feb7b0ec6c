package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"gpudbg/internal/gpu"
	"gpudbg/internal/lister"
)

const shellHelp = `commands:
  ring [NAME] [whole] [follow]   decode a ring
  ib VMID ADDR WORDS [sdma]      decode a buffer of virtual memory
  ctx VMID                       page table setup
  translate VMID ADDR [LEN]      virtual to physical chunks
  trace VMID ADDR [LEN]          page table walk
  dump VMID ADDR [WORDS]         dump memory
  format NAME                    output format (text, json, tree, raw)
  quit`

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session over a capture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()
			return runShell(s)
		},
	}
}

func runShell(s *lister.Session) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "> ",
		HistoryFile: filepath.Join(os.TempDir(), "umrdecode.history"),
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Printf("Capture: %s\n", s.Capture)
	fmt.Println("Type 'help' for commands, 'quit' to exit.")
	sh := &shell{s: s, format: lister.FormatText}
	for {
		line, err := rl.Readline()
		if err != nil {
			return nil
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			return nil
		}
		if err := sh.exec(fields[0], fields[1:]); err != nil {
			fmt.Println("error:", err)
		}
	}
}

type shell struct {
	s      *lister.Session
	format string
}

func (sh *shell) config() *lister.Config {
	cfg := lister.NewConfig()
	cfg.CaptureDir = captureDir
	cfg.Format = sh.format
	cfg.Output = os.Stdout
	cfg.Logger = newLogger()
	return cfg
}

func (sh *shell) exec(cmd string, args []string) error {
	switch cmd {
	case "help":
		fmt.Println(shellHelp)
	case "format":
		if len(args) != 1 {
			return fmt.Errorf("usage: format NAME")
		}
		sh.format = args[0]
	case "ring":
		cfg := sh.config()
		for _, a := range args {
			switch a {
			case "whole":
				cfg.Whole = true
			case "follow":
				cfg.Follow = true
			default:
				cfg.Ring = a
			}
		}
		_, err := lister.Run(cfg)
		return err
	case "ib":
		if len(args) < 3 {
			return fmt.Errorf("usage: ib VMID ADDR WORDS [sdma]")
		}
		id, addr, n, err := vmArgs(args, 0)
		if err != nil {
			return err
		}
		f := gpu.FamilyPM4
		if len(args) > 3 {
			if f, err = gpu.ParseFamily(args[3]); err != nil {
				return err
			}
		}
		cfg := sh.config()
		cfg.Follow = true
		_, err = lister.RunIB(cfg, sh.s, id, addr, int(n), f)
		return err
	case "ctx":
		if len(args) != 1 {
			return fmt.Errorf("usage: ctx VMID")
		}
		id, err := parseUint(args[0])
		if err != nil {
			return err
		}
		ctx, err := sh.s.Context(gpu.VMID(id))
		if err != nil {
			return err
		}
		fmt.Println(ctx)
	case "translate", "trace", "dump":
		if len(args) < 2 {
			return fmt.Errorf("usage: %s VMID ADDR [LEN]", cmd)
		}
		def := uint64(4)
		if cmd == "dump" {
			def = 16
		}
		id, addr, n, err := vmArgs(args, def)
		if err != nil {
			return err
		}
		switch cmd {
		case "translate":
			return sh.s.Translate(id, addr, n, os.Stdout)
		case "trace":
			return sh.s.Trace(id, addr, n, os.Stdout)
		}
		return sh.s.Dump(id, addr, int(n), os.Stdout)
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}
