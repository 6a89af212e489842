// Command armdbg is a thin CLI wrapper over pkg/jtag, pkg/dap, and
// pkg/armv8: flag parsing and wiring only, no protocol logic of its own.
package main

import "github.com/OpenTraceLab/armdbg/cmd/armdbg/cmd"

func main() {
	cmd.Execute()
}
