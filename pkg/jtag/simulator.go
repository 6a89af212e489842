package jtag

// ShiftEvent records one RawWrite or RawRead call observed by a SimAdapter,
// for tests that need to assert on the exact pin pattern a higher layer
// produced.
type ShiftEvent struct {
	Pins   []PinBit
	IsRead bool
}

// ShiftHook lets a test observe each shift as it is recorded; for a RawRead
// it runs after the SimAdapter has filled in TDO. Mirrors the teacher's
// SimAdapter.OnShift callback.
type ShiftHook func(pins []PinBit, isRead bool)

// SimAdapter is an in-memory Adapter for tests and for the CLI's
// --simulate flag. It does not model a TAP; it exists purely to observe
// and shape the pin traffic pkg/jtag and pkg/dap produce, and optionally to
// play back a canned TDO bitstream (e.g. to fake an IDCODE scan response).
type SimAdapter struct {
	OnShift ShiftHook

	// TDOQueue, if non-empty, supplies the TDO bit returned for each
	// successive pin entry across RawRead calls in FIFO order; once
	// exhausted, TDO reads back as 0.
	TDOQueue []bool

	last   ShiftEvent
	events []ShiftEvent
}

// NewSimAdapter returns a ready-to-use simulator.
func NewSimAdapter() *SimAdapter {
	return &SimAdapter{}
}

func (s *SimAdapter) RawWrite(pins []PinBit) error {
	s.record(pins, false)
	return nil
}

func (s *SimAdapter) RawRead(pins []PinBit) error {
	for i := range pins {
		bit := false
		if len(s.TDOQueue) > 0 {
			bit = s.TDOQueue[0]
			s.TDOQueue = s.TDOQueue[1:]
		}
		if bit {
			pins[i] |= PinTDO
		}
	}
	s.record(pins, true)
	return nil
}

func (s *SimAdapter) record(pins []PinBit, isRead bool) {
	cp := make([]PinBit, len(pins))
	copy(cp, pins)
	ev := ShiftEvent{Pins: cp, IsRead: isRead}
	s.last = ev
	s.events = append(s.events, ev)
	if s.OnShift != nil {
		s.OnShift(cp, isRead)
	}
}

// LastShift returns the most recent RawWrite/RawRead call.
func (s *SimAdapter) LastShift() ShiftEvent { return s.last }

// Events returns every RawWrite/RawRead call observed so far.
func (s *SimAdapter) Events() []ShiftEvent { return s.events }

// Reset clears recorded history without affecting TDOQueue.
func (s *SimAdapter) Reset() {
	s.last = ShiftEvent{}
	s.events = nil
}
