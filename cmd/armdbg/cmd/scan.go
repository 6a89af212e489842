package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Reset the TAP and run the IDCODE auto-scan",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		r, err := newRig(log)
		if err != nil {
			return err
		}
		defer r.Close()

		if len(r.core.Devices) == 0 {
			fmt.Println("no IDCODE-bearing devices found")
			return nil
		}
		for i, dev := range r.core.Devices {
			if dev.Bypass {
				fmt.Printf("device %d: BYPASS\n", i)
				continue
			}
			fmt.Printf("device %d: raw=0x%08x manufacturer=%s part=0x%04x version=0x%x name=%s\n",
				i, dev.IDCode.Raw, dev.Manufacturer.Name, dev.IDCode.PartNumber, dev.IDCode.Version, dev.Info.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
