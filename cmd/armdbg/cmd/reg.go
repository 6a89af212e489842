package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/armdbg/pkg/armv8"
)

var namedRegisters = map[string]armv8.RegisterOffset{
	"edscr":   armv8.EDSCR,
	"edrcr":   armv8.EDRCR,
	"edprsr":  armv8.EDPRSR,
	"editr":   armv8.EDITR,
	"midr":    armv8.MIDREL1,
	"oslar":   armv8.OSLAREL1,
	"dtrrx":   armv8.DBGDTRRXEL0,
	"dtrtx":   armv8.DBGDTRTXEL0,
	"edpidr0": armv8.EDPIDR0,
}

var (
	regName  string
	regValue string
)

var readRegCmd = &cobra.Command{
	Use:   "read-reg",
	Short: "Read one named ARMv8 external debug register",
	RunE: func(cmd *cobra.Command, args []string) error {
		off, ok := namedRegisters[regName]
		if !ok {
			return fmt.Errorf("armdbg: unknown register %q", regName)
		}
		log := newLogger()
		r, err := newRig(log)
		if err != nil {
			return err
		}
		defer r.Close()

		v, err := r.target(log).RegisterRead(off)
		if err != nil {
			return err
		}
		fmt.Printf("%s = 0x%08x\n", regName, v)
		return nil
	},
}

var writeRegCmd = &cobra.Command{
	Use:   "write-reg",
	Short: "Write one named ARMv8 external debug register",
	RunE: func(cmd *cobra.Command, args []string) error {
		off, ok := namedRegisters[regName]
		if !ok {
			return fmt.Errorf("armdbg: unknown register %q", regName)
		}
		v, err := strconv.ParseUint(regValue, 0, 32)
		if err != nil {
			return fmt.Errorf("armdbg: parse --value: %w", err)
		}

		log := newLogger()
		r, err := newRig(log)
		if err != nil {
			return err
		}
		defer r.Close()

		return r.target(log).RegisterWrite(off, uint32(v))
	},
}

func init() {
	for _, c := range []*cobra.Command{readRegCmd, writeRegCmd} {
		c.Flags().StringVar(&regName, "reg", "edscr", "register name: "+registerNameList())
	}
	writeRegCmd.Flags().StringVar(&regValue, "value", "0", "value to write (decimal or 0x-prefixed hex)")
	rootCmd.AddCommand(readRegCmd, writeRegCmd)
}

func registerNameList() string {
	s := ""
	for name := range namedRegisters {
		if s != "" {
			s += ", "
		}
		s += name
	}
	return s
}
