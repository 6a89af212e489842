package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose   bool
	simulate  bool
	vidHex    string
	pidHex    string
	baudHz    int
	irLen     int
	apNum     uint8
	debugBase uint64
	ctiBase   uint64
)

var rootCmd = &cobra.Command{
	Use:   "armdbg",
	Short: "ARMv8-A external-debug host stack over JTAG",
	Long: `armdbg drives a USB-attached FTDI adapter in bit-bang mode to scan a
JTAG chain, bring up the ARM Debug Access Port, and inspect or control an
ARMv8-A core's external debug facilities.

Examples:
  armdbg scan --simulate                    # auto-scan a simulated chain
  armdbg halt --debug-base 0x80090000       # halt the core
  armdbg midr --debug-base 0x80090000       # read MIDR_EL1
  armdbg read-reg --reg edscr               # read one debug register`,
	Version: "0.1.0",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "use the in-memory simulator instead of a real FTDI adapter")
	rootCmd.PersistentFlags().StringVar(&vidHex, "vid", "0403", "FTDI USB vendor ID (hex)")
	rootCmd.PersistentFlags().StringVar(&pidHex, "pid", "6001", "FTDI USB product ID (hex)")
	rootCmd.PersistentFlags().IntVar(&baudHz, "baud", 10000, "bit-bang clock rate in Hz")
	rootCmd.PersistentFlags().IntVar(&irLen, "ir-len", 4, "JTAG instruction register length in bits")
	rootCmd.PersistentFlags().Uint8Var(&apNum, "ap", 0, "MEM-AP select number")
	rootCmd.PersistentFlags().Uint64Var(&debugBase, "debug-base", 0, "ARMv8 external debug register block base address")
	rootCmd.PersistentFlags().Uint64Var(&ctiBase, "cti-base", 0, "Cross Trigger Interface register block base address")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
