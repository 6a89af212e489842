package jtag

import (
	"io"
	"log/slog"
	"testing"

	"github.com/OpenTraceLab/armdbg/pkg/tap"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// streamAdapter plays back an arbitrary LSB-first bit stream on RawRead,
// one bit per pin entry per call, defaulting to 0 once the stream is
// exhausted (matching a real idle TDO line holding low).
type streamAdapter struct {
	bits []bool
	pos  int
}

func newStreamAdapter(bits []bool) *streamAdapter {
	return &streamAdapter{bits: bits}
}

func (a *streamAdapter) RawWrite(pins []PinBit) error { return nil }

func (a *streamAdapter) RawRead(pins []PinBit) error {
	for i := range pins {
		bit := false
		if a.pos < len(a.bits) {
			bit = a.bits[a.pos]
		}
		a.pos++
		if bit {
			pins[i] |= PinTDO
		}
	}
	return nil
}

// lsbBits32 renders raw as 32 LSB-first bits, as the TAP would clock it out.
func lsbBits32(raw uint32) []bool {
	bits := make([]bool, 32)
	for i := range bits {
		bits[i] = raw&(1<<uint(i)) != 0
	}
	return bits
}

const idcodeSeedTerminator = uint32(0x000000FF)

// armDebugIDCode is a well-formed bit0=1 IDCODE (version=0x0, part=0xBA00,
// manufacturer=0x093 "ARM" in this package's JEP106 table) used across the
// scan scenarios below.
const armDebugIDCode = uint32(0x0BA00127)

func TestNewCoreScenario1EmptyChainNoIDCode(t *testing.T) {
	// A chain with no real devices echoes the seed straight back: the very
	// first 32-bit window equals the terminator, so the scan ends having
	// recorded nothing.
	adapter := newStreamAdapter(lsbBits32(idcodeSeedTerminator))
	c, err := NewCore(adapter, testLogger())
	if err != nil {
		t.Fatalf("NewCore returned error: %v", err)
	}
	if len(c.Devices) != 0 {
		t.Fatalf("Devices = %v, want none", c.Devices)
	}
	if c.State() != tap.StateRunTestIdle {
		t.Fatalf("State() = %s, want %s", c.State(), tap.StateRunTestIdle)
	}
}

// TestNewCoreScenario2SingleDeviceIDCode is spec.md §8 scenario 1: one real
// IDCODE immediately followed by the seed terminator. The terminator must
// end the scan rather than being recorded as a spurious second device.
func TestNewCoreScenario2SingleDeviceIDCode(t *testing.T) {
	raw := armDebugIDCode
	bits := append(lsbBits32(raw), lsbBits32(idcodeSeedTerminator)...)

	c, err := NewCore(newStreamAdapter(bits), testLogger())
	if err != nil {
		t.Fatalf("NewCore returned error: %v", err)
	}
	if len(c.Devices) != 1 {
		t.Fatalf("Devices = %v, want exactly one", c.Devices)
	}
	if c.Devices[0].Bypass {
		t.Fatalf("Devices[0] = %v, want a real IDCODE entry", c.Devices[0])
	}
	if c.Devices[0].IDCode.Raw != raw {
		t.Fatalf("Raw = 0x%08x, want 0x%08x", c.Devices[0].IDCode.Raw, raw)
	}
	if c.Devices[0].Manufacturer.Name != "ARM" {
		t.Fatalf("Manufacturer = %v, want ARM", c.Devices[0].Manufacturer)
	}
}

// TestNewCoreScenarioBypassPlusDevice is spec.md §8 scenario 2: one leading
// BYPASS bit (a single 0), then one real IDCODE, then the seed terminator.
// Expected: idcodes[0]=0 (bypass), idcodes[1]=the real IDCODE.
func TestNewCoreScenarioBypassPlusDevice(t *testing.T) {
	raw := armDebugIDCode
	bits := append([]bool{false}, lsbBits32(raw)...)
	bits = append(bits, lsbBits32(idcodeSeedTerminator)...)

	c, err := NewCore(newStreamAdapter(bits), testLogger())
	if err != nil {
		t.Fatalf("NewCore returned error: %v", err)
	}
	if len(c.Devices) != 2 {
		t.Fatalf("Devices = %v, want exactly two", c.Devices)
	}
	if !c.Devices[0].Bypass || c.Devices[0].IDCode.Raw != 0 {
		t.Fatalf("Devices[0] = %v, want bypass/0", c.Devices[0])
	}
	if c.Devices[1].Bypass || c.Devices[1].IDCode.Raw != raw {
		t.Fatalf("Devices[1] = %v, want raw 0x%08x", c.Devices[1], raw)
	}
	if c.Devices[1].Manufacturer.Name != "ARM" {
		t.Fatalf("Manufacturer = %v, want ARM", c.Devices[1].Manufacturer)
	}
}

// TestNewCoreScanStopsAtMaxDevices exercises spec.md §4.2's documented
// failure behavior: once maxDevices entries are recorded, the scan aborts
// silently instead of continuing to walk the remaining bits (or, as in the
// original Rust, indexing out of bounds).
func TestNewCoreScanStopsAtMaxDevices(t *testing.T) {
	bits := make([]bool, maxDevices*32) // all zero: maxDevices bypass bits, then more bypass bits follow
	c, err := NewCore(newStreamAdapter(bits), testLogger())
	if err != nil {
		t.Fatalf("NewCore returned error: %v", err)
	}
	if len(c.Devices) != maxDevices {
		t.Fatalf("Devices = %v, want exactly %d", c.Devices, maxDevices)
	}
	for i, dev := range c.Devices {
		if !dev.Bypass {
			t.Fatalf("Devices[%d] = %v, want bypass", i, dev)
		}
	}
}

func TestChangeStateExplicitTable(t *testing.T) {
	sim := NewSimAdapter()
	c := &Core{adapter: sim, sm: tap.NewStateMachine(), log: testLogger()}

	if err := c.ChangeState(tap.StateRunTestIdle); err != nil {
		t.Fatalf("ChangeState(RunTestIdle) from Reset: %v", err)
	}
	if c.State() != tap.StateRunTestIdle {
		t.Fatalf("State() = %s, want %s", c.State(), tap.StateRunTestIdle)
	}

	if err := c.ChangeState(tap.StateShiftIR); err != nil {
		t.Fatalf("ChangeState(ShiftIR): %v", err)
	}
	last := sim.LastShift()
	want := []bool{true, true, false, false}
	if len(last.Pins) != len(want) {
		t.Fatalf("got %d TMS entries, want %d", len(last.Pins), len(want))
	}
	for i, w := range want {
		if got := last.Pins[i]&PinTMS != 0; got != w {
			t.Fatalf("tms[%d] = %v, want %v", i, got, w)
		}
	}
}

func TestChangeStateUnsupportedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unsupported transition")
		}
	}()
	sim := NewSimAdapter()
	c := &Core{adapter: sim, sm: tap.NewStateMachine(), log: testLogger()}
	c.sm.Clock(false) // -> RunTestIdle
	c.sm.Clock(true)  // -> SelectDRScan
	c.sm.Clock(true)  // -> SelectIRScan
	c.sm.Clock(false) // -> CaptureIR
	_ = c.ChangeState(tap.StatePauseDR) // CaptureIR -> PauseDR is not in the table
}

func TestWriteIRShiftsLSBFirst(t *testing.T) {
	sim := NewSimAdapter()
	c, err := NewCore(sim, testLogger())
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	sim.Reset()

	if err := c.WriteIR(0b0101, 4); err != nil {
		t.Fatalf("WriteIR: %v", err)
	}

	var tdiEvent *ShiftEvent
	for i := range sim.Events() {
		ev := sim.Events()[i]
		if !ev.IsRead && len(ev.Pins) == 4 {
			tdiEvent = &ev
		}
	}
	if tdiEvent == nil {
		t.Fatalf("no 4-bit write observed")
	}
	want := []bool{true, false, true, false}
	for i, w := range want {
		if got := tdiEvent.Pins[i]&PinTDI != 0; got != w {
			t.Fatalf("tdi[%d] = %v, want %v", i, got, w)
		}
	}
	if tdiEvent.Pins[3]&PinTMS == 0 {
		t.Fatalf("expected TMS asserted on final IR bit to exit Shift-IR")
	}
}

func TestHandleCloseForcesReset(t *testing.T) {
	sim := NewSimAdapter()
	c, err := NewCore(sim, testLogger())
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	locked := NewLocked(c)
	h := NewHandle(locked, 4)

	if err := h.WriteInstruction(0x3); err != nil {
		t.Fatalf("WriteInstruction: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.State() != tap.StateTestLogicReset {
		t.Fatalf("State() after Close = %s, want %s", c.State(), tap.StateTestLogicReset)
	}
	// Idempotent.
	if err := h.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
}
