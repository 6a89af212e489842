package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var haltCmd = &cobra.Command{
	Use:   "halt",
	Short: "Halt the core via OSLAR release, EDSCR.HDE, and a CTI pulse",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		r, err := newRig(log)
		if err != nil {
			return err
		}
		defer r.Close()

		target := r.target(log)
		if err := target.Halt(); err != nil {
			return err
		}

		prsr, err := target.EDPRSRRead()
		if err != nil {
			return err
		}
		fmt.Printf("halted=%v\n", prsr.Halted())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(haltCmd)
}
