package cmd

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/gousb"

	"github.com/OpenTraceLab/armdbg/pkg/armv8"
	"github.com/OpenTraceLab/armdbg/pkg/dap"
	"github.com/OpenTraceLab/armdbg/pkg/jtag"
)

// rig bundles the wired-up layers a subcommand needs, and knows how to tear
// itself down cleanly.
type rig struct {
	adapter jtag.Adapter
	core    *jtag.Core
	handle  *jtag.Handle
	dap     *dap.DAP
	closer  func() error
}

func (r *rig) Close() error {
	if err := r.handle.Close(); err != nil {
		return err
	}
	if r.closer != nil {
		return r.closer()
	}
	return nil
}

// newRig opens an adapter (real FTDI hardware or the simulator, per
// --simulate), runs the IDCODE auto-scan, brings up the DAP, and returns a
// handle scoped to --ir-len.
func newRig(log *slog.Logger) (*rig, error) {
	var adapter jtag.Adapter
	var closer func() error

	if simulate {
		sim := jtag.NewSimAdapter()
		adapter = sim
	} else {
		vid, err := parseUSBID(vidHex)
		if err != nil {
			return nil, fmt.Errorf("armdbg: parse --vid: %w", err)
		}
		pid, err := parseUSBID(pidHex)
		if err != nil {
			return nil, fmt.Errorf("armdbg: parse --pid: %w", err)
		}
		ftdi, err := jtag.OpenFTDIBitBang(vid, pid, jtag.DefaultFTDIPins, baudHz)
		if err != nil {
			return nil, err
		}
		adapter = ftdi
		closer = ftdi.Close
	}

	core, err := jtag.NewCore(adapter, log)
	if err != nil {
		return nil, err
	}
	for _, dev := range core.Devices {
		if dev.Bypass {
			log.Info("discovered device", "bypass", true)
			continue
		}
		log.Info("discovered device", "manufacturer", dev.Manufacturer.Name, "part", dev.IDCode.PartNumber)
	}

	locked := jtag.NewLocked(core)
	handle := jtag.NewHandle(locked, irLen)

	d, err := dap.NewDAP(handle, apNum, log)
	if err != nil {
		return nil, fmt.Errorf("armdbg: dap init: %w", err)
	}

	return &rig{adapter: adapter, core: core, handle: handle, dap: d, closer: closer}, nil
}

func (r *rig) target(log *slog.Logger) *armv8.Target {
	locked := dap.NewLocked(r.dap)
	return armv8.NewTarget(locked, debugBase, ctiBase, log)
}

func parseUSBID(s string) (gousb.ID, error) {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return gousb.ID(v), nil
}
