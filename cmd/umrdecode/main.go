package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"gpudbg/internal/common"
	"gpudbg/internal/decode"
	"gpudbg/internal/gpu"
	"gpudbg/internal/lister"
	"gpudbg/internal/stream"
)

var (
	logLevel   string
	captureDir string

	family     string
	vmid       int
	ringFamily string
	ringVMID   int
	format     string
	expect     string
	ringName   string
	whole      bool
	follow     bool
	stats      bool
	noOffsets  bool
	streamDir  string
	jsonOut    string
	maxBuffers int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "umrdecode",
		Short: "GPU command stream decoder and page table walker",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := common.ParseSeverity(logLevel)
			return err
		},
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&captureDir, "capture", "c", "", "Capture directory holding snapshot.ini")

	decodeCmd := &cobra.Command{
		Use:   "decode [file | word...]",
		Short: "Decode a hex word file or words given on the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDecode,
	}
	decodeCmd.Flags().StringVar(&family, "family", "pm4", "Packet family (pm4, sdma)")
	decodeCmd.Flags().IntVar(&vmid, "vmid", 0, "VMID the words belong to")
	decodeCmd.Flags().BoolVar(&follow, "follow", false, "Follow indirect buffers through the capture memory")
	addOutputFlags(decodeCmd)

	ringCmd := &cobra.Command{
		Use:   "ring",
		Short: "Decode a ring of a capture",
		Args:  cobra.NoArgs,
		RunE:  runRing,
	}
	ringCmd.Flags().StringVarP(&ringName, "ring", "r", "", "Ring name (first ring when empty)")
	ringCmd.Flags().BoolVar(&whole, "whole", false, "Decode the whole ring instead of rptr..wptr")
	ringCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow indirect buffers")
	ringCmd.Flags().StringVar(&ringFamily, "family", "", "Override the ring's packet family")
	ringCmd.Flags().IntVar(&ringVMID, "vmid", -1, "Override the ring's VMID")
	ringCmd.Flags().IntVar(&maxBuffers, "max-buffers", 0, "Stop after this many buffers (0 for the default)")
	addOutputFlags(ringCmd)

	rootCmd.AddCommand(decodeCmd, ringCmd, newVMCmd(), newShellCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&format, "format", "o", lister.FormatText, "Output format ("+strings.Join(lister.Formats, ", ")+")")
	cmd.Flags().StringVar(&expect, "expect", "", "Compare json output against this document")
	cmd.Flags().StringVar(&streamDir, "stream-dir", "", "Directory for the per-buffer files of the stream format")
	cmd.Flags().StringVar(&jsonOut, "json-out", "", "Also write the json document to this file")
	cmd.Flags().BoolVar(&stats, "stats", false, "Print packet statistics")
	cmd.Flags().BoolVar(&noOffsets, "no-offsets", false, "Do not print word offsets")
}

func newLogger() common.Logger {
	sev, err := common.ParseSeverity(logLevel)
	if err != nil {
		sev = common.SeverityWarning
	}
	return common.NewStdLogger(sev)
}

func listerConfig() *lister.Config {
	cfg := lister.NewConfig()
	cfg.CaptureDir = captureDir
	cfg.Format = format
	cfg.Expect = expect
	cfg.StreamDir = streamDir
	cfg.JSONOut = jsonOut
	cfg.Stats = stats
	cfg.NoOffsets = noOffsets
	cfg.Follow = follow
	if maxBuffers > 0 {
		cfg.MaxBuffers = maxBuffers
	}
	cfg.Output = os.Stdout
	cfg.Logger = newLogger()
	return cfg
}

func runRing(cmd *cobra.Command, args []string) error {
	if captureDir == "" {
		return fmt.Errorf("missing capture directory on --capture")
	}
	cfg := listerConfig()
	cfg.Ring = ringName
	cfg.Whole = whole
	cfg.Family = ringFamily
	cfg.VMID = ringVMID
	_, err := lister.Run(cfg)
	return err
}

func runDecode(cmd *cobra.Command, args []string) error {
	f, err := gpu.ParseFamily(family)
	if err != nil {
		return err
	}
	ws, err := wordArgs(args)
	if err != nil {
		return err
	}
	cfg := listerConfig()
	dcfg := cfg.DecodeConfig()
	root := decode.Root{Stream: ws, Family: f, VMID: gpu.VMID(vmid)}

	if follow && captureDir == "" {
		return fmt.Errorf("--follow needs a capture to read buffers from, set --capture")
	}
	var mem stream.Memory
	if captureDir != "" {
		s, err := lister.Open(captureDir, cfg.Logger)
		if err != nil {
			return err
		}
		defer s.Close()
		mem = s.Memory()
		dcfg.Regs = s.Capture.Regs
	}
	_, err = lister.Decode(cfg, dcfg, mem, root)
	return err
}

// wordArgs reads a single file argument as a hex word file and anything
// else as a list of words.
func wordArgs(args []string) (*stream.WordStream, error) {
	if len(args) == 1 {
		if _, err := os.Stat(args[0]); err == nil {
			return decode.ReadHexFile(args[0])
		}
	}
	words, err := decode.ParseHexWords(strings.NewReader(strings.Join(args, "\n")))
	if err != nil {
		return nil, err
	}
	return stream.New(stream.Origin{Kind: stream.OriginBuffer}, words), nil
}

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}
