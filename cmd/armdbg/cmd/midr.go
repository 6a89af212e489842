package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var midrCmd = &cobra.Command{
	Use:   "midr",
	Short: "Read MIDR_EL1 via the MEM-AP banked-data window",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		r, err := newRig(log)
		if err != nil {
			return err
		}
		defer r.Close()

		midr, err := r.target(log).MIDRRead()
		if err != nil {
			return err
		}
		fmt.Printf("MIDR_EL1 = 0x%08x\n", midr)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(midrCmd)
}
