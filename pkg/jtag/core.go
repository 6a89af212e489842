package jtag

import (
	"fmt"
	"log/slog"

	"github.com/OpenTraceLab/armdbg/pkg/idcode"
	"github.com/OpenTraceLab/armdbg/pkg/idcode/deviceinfo"
	"github.com/OpenTraceLab/armdbg/pkg/tap"
)

// maxDevices bounds the length of an IDCODE auto-scan. Two devices is more
// than any chain this stack has been pointed at, but the array stays fixed
// size rather than growing unbounded from a noisy TDO line.
const maxDevices = 2

// ScannedDevice is one entry discovered during the IDCODE auto-scan. A
// BYPASS-only device (Bypass true) carries no IDCode/Manufacturer/Info, per
// spec.md §4.2's "BYPASS recorded as 0".
type ScannedDevice struct {
	IDCode       idcode.IDCode
	Manufacturer idcode.Manufacturer
	Info         deviceinfo.DeviceInfo
	Bypass       bool
}

// Core owns a single Adapter and tracks the TAP's logical state. It has no
// internal lock: callers that need to serialize concurrent access wrap a
// Core in a Locked and hand out Handles (see handle.go), mirroring the
// teacher's cmsisdap.go mu sync.Mutex idiom one level up instead of
// embedding it here.
type Core struct {
	adapter Adapter
	sm      *tap.StateMachine
	Devices []ScannedDevice
	log     *slog.Logger
}

// NewCore resets the TAP, then runs the IDCODE auto-scan described in
// spec.md §4.2 to discover what devices (if any) sit on the chain.
func NewCore(adapter Adapter, log *slog.Logger) (*Core, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &Core{adapter: adapter, sm: tap.NewStateMachine(), log: log}
	if err := c.ChangeState(tap.StateTestLogicReset); err != nil {
		return nil, fmt.Errorf("jtag: reset during init: %w", err)
	}
	if err := c.scan(); err != nil {
		return nil, fmt.Errorf("jtag: idcode scan during init: %w", err)
	}
	return c, nil
}

// State reports the TAP's current logical state.
func (c *Core) State() tap.State { return c.sm.State() }

// ChangeState drives the minimal TMS sequence between the current state and
// to. The table below is the explicit from/to match the original
// implementation hand-wrote rather than the general BFS in pkg/tap;
// spec.md's end-to-end scenarios assert this exact bit pattern, so it is
// authoritative here. pkg/tap.StateMachine.GoTo remains available for paths
// outside this table (e.g. Pause->Update).
//
// An unsupported pair is a programmer error (category 4): the caller asked
// for a transition this stack never needs, and that is a bug to fix, not a
// runtime condition to recover from.
func (c *Core) ChangeState(to tap.State) error {
	from := c.sm.State()

	reset := func() error {
		return WriteTMS(c.adapter, []bool{true, true, true, true, true})
	}

	var seq []bool
	switch {
	case to == tap.StateTestLogicReset:
		if err := reset(); err != nil {
			return err
		}
		c.sm = tap.NewStateMachine()
		return nil
	case from == tap.StateTestLogicReset && to == tap.StateRunTestIdle:
		seq = []bool{false}
	case from == tap.StateTestLogicReset:
		if err := c.ChangeState(tap.StateRunTestIdle); err != nil {
			return err
		}
		return c.ChangeState(to)
	case from == tap.StateRunTestIdle && to == tap.StateRunTestIdle:
		seq = []bool{false}
	case (from == tap.StateSelectDRScan || from == tap.StateSelectIRScan) && to == tap.StateRunTestIdle:
		seq = []bool{false, true, true, false}
	case (from == tap.StateCaptureDR || from == tap.StateCaptureIR) && to == tap.StateRunTestIdle:
		seq = []bool{true, true, false}
	case (from == tap.StateShiftDR || from == tap.StateShiftIR) && to == tap.StateRunTestIdle:
		seq = []bool{true, true, false}
	case (from == tap.StateExit1DR || from == tap.StateExit1IR) && to == tap.StateRunTestIdle:
		seq = []bool{true, false}
	case (from == tap.StatePauseDR || from == tap.StatePauseIR) && to == tap.StateRunTestIdle:
		seq = []bool{true, true, false}
	case (from == tap.StateExit2DR || from == tap.StateExit2IR) && to == tap.StateRunTestIdle:
		seq = []bool{true, false}
	case (from == tap.StateUpdateDR || from == tap.StateUpdateIR) && to == tap.StateRunTestIdle:
		seq = []bool{false}
	case from == tap.StateRunTestIdle && to == tap.StateCaptureDR:
		seq = []bool{true, false}
	case from == tap.StateRunTestIdle && to == tap.StateShiftDR:
		seq = []bool{true, false, false}
	case from == tap.StateExit1DR && to == tap.StateUpdateDR:
		seq = []bool{true}
	case from == tap.StateRunTestIdle && to == tap.StateCaptureIR:
		seq = []bool{true, true, false}
	case from == tap.StateRunTestIdle && to == tap.StateShiftIR:
		seq = []bool{true, true, false, false}
	case from == tap.StateExit1IR && to == tap.StateUpdateIR:
		seq = []bool{true}
	default:
		panic(fmt.Sprintf("jtag: unsupported state transition %s -> %s", from, to))
	}

	if err := WriteTMS(c.adapter, seq); err != nil {
		return err
	}
	for _, bit := range seq {
		c.sm.Clock(bit)
	}
	return nil
}

// WriteIR shifts an IR-length instruction into the chain, LSB first, and
// returns to Run-Test/Idle.
func (c *Core) WriteIR(value uint8, irLen int) error {
	if irLen < 1 || irLen > 8 {
		panic(fmt.Sprintf("jtag: ir_len %d out of range [1,8]", irLen))
	}
	if err := c.ChangeState(tap.StateShiftIR); err != nil {
		return err
	}
	bits := make([]bool, irLen)
	for i := 0; i < irLen; i++ {
		bits[i] = value&(1<<uint(i)) != 0
	}
	if err := WriteData(c.adapter, bits, true); err != nil {
		return err
	}
	c.sm.Clock(true)
	return c.ChangeState(tap.StateRunTestIdle)
}

// ReadWriteDR shifts data bits into/out of the chain via Shift-DR and
// returns to Run-Test/Idle, writing the sampled TDO bits back into data.
func (c *Core) ReadWriteDR(data []bool) error {
	if err := c.ChangeState(tap.StateShiftDR); err != nil {
		return err
	}
	if err := ReadData(c.adapter, data, true); err != nil {
		return err
	}
	c.sm.Clock(true)
	return c.ChangeState(tap.StateRunTestIdle)
}

// scan runs the IDCODE auto-scan of spec.md §4.2, grounded on
// original_source/libjtag/src/jtag/jtag.rs's scan(): seed the chain with
// 0x0000_00FF, shift maxDevices*32 bits through Shift-DR, then walk the
// captured stream bit by bit (not in fixed 32-bit windows): a leading 1
// starts a 32-bit IDCODE window (LSB-first); a leading 0 is a single-bit
// BYPASS device. A 32-bit window that reads back exactly the seed
// (0x0000_00FF) is the auto-scan's own terminator, not a device, and ends
// the scan. Recording stops silently once maxDevices entries are found,
// per spec.md §4.2's documented failure behavior (the original's fixed-size
// array would instead panic out of bounds).
func (c *Core) scan() error {
	const seed = uint32(0x000000FF)
	bits := make([]bool, maxDevices*32)
	for i := 0; i < 32; i++ {
		bits[i] = seed&(1<<uint(i)) != 0
	}

	if err := c.ReadWriteDR(bits); err != nil {
		return err
	}

	c.Devices = c.Devices[:0]
	for i := 0; i < len(bits) && len(c.Devices) < maxDevices; {
		if !bits[i] {
			c.log.Debug("jtag: idcode scan found bypass device")
			c.Devices = append(c.Devices, ScannedDevice{Bypass: true})
			i++
			continue
		}

		if i+32 > len(bits) {
			break
		}
		var raw uint32
		for b := 0; b < 32; b++ {
			if bits[i+b] {
				raw |= 1 << uint(b)
			}
		}
		i += 32

		if raw == seed {
			break
		}

		code := idcode.ParseIDCode(raw)
		mfr, _ := idcode.LookupManufacturer(code.ManufacturerCode)
		info := deviceinfo.Lookup(raw)
		c.log.Debug("jtag: idcode scan found device", "raw", fmt.Sprintf("0x%08x", raw), "manufacturer", mfr.Name, "part", code.PartNumber)
		c.Devices = append(c.Devices, ScannedDevice{IDCode: code, Manufacturer: mfr, Info: info})
	}
	return nil
}
