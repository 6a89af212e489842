package jtag

import (
	"fmt"

	"github.com/google/gousb"
)

// FTDI vendor-specific control requests (FTDI AN232B-05 "Bit Bang Modes").
const (
	ftdiReqReset       = 0x00
	ftdiReqSetBaudRate = 0x03
	ftdiReqSetBitMode  = 0x0B
)

// ftdiBitModeSyncBB is libftdi's BITMODE_SYNCBB: every byte written is
// latched out on the configured output pins and the pin state is
// simultaneously sampled back, giving a deterministic write/read pairing
// per USB transfer instead of the async bitbang mode's unclocked FIFO.
const ftdiBitModeSyncBB = 0x04

const ftdiChunkSize = 512

// FTDIPins maps the seven JTAG signals onto FT232R GPIO bit positions.
// Defaults follow the pin assignment in
// _examples/original_source/libjtag/src/interface/ftdi_bitbang.rs.
type FTDIPins struct {
	TCK, TDI, TDO, TMS, SRST, TRST, RTCK uint8
}

// DefaultFTDIPins is the pin-out the original adapter firmware used.
var DefaultFTDIPins = FTDIPins{TCK: 0, TDI: 1, TDO: 2, TMS: 3, SRST: 4, TRST: 5, RTCK: 6}

// FTDIBitBangAdapter drives an FT232R (or compatible) FTDI chip in
// synchronous bit-bang mode over USB bulk transfers. It implements Adapter
// by translating PinBit entries to/from the device's single-byte-per-cycle
// wire format described in spec.md §6.
type FTDIBitBangAdapter struct {
	pins FTDIPins
	ctx  *gousb.Context
	dev  *gousb.Device
	intf *gousb.Interface
	done func()
	out  *gousb.OutEndpoint
	in   *gousb.InEndpoint
}

// OpenFTDIBitBang opens the first device matching vid/pid, claims its bulk
// interface, and configures synchronous bit-bang mode at baudHz. Grounded
// on the teacher's NewUSBTransport (pkg/jtag/cmsisdap_transport.go): open
// device, find/claim interface, resolve endpoints, wrap every step with
// %w-chained errors.
func OpenFTDIBitBang(vid, pid gousb.ID, pins FTDIPins, baudHz int) (*FTDIBitBangAdapter, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("jtag: open ftdi device %s:%s: %w", vid, pid, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("jtag: ftdi device %s:%s not found", vid, pid)
	}

	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("jtag: set auto detach: %w", err)
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("jtag: select config: %w", err)
	}
	intf, done, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("jtag: claim interface: %w", err)
	}

	var outEP *gousb.OutEndpoint
	var inEP *gousb.InEndpoint
	for _, ep := range intf.Setting.Endpoints {
		if ep.Direction == gousb.EndpointDirectionOut && outEP == nil {
			outEP, err = intf.OutEndpoint(ep.Number)
			if err != nil {
				break
			}
		}
		if ep.Direction == gousb.EndpointDirectionIn && inEP == nil {
			inEP, err = intf.InEndpoint(ep.Number)
			if err != nil {
				break
			}
		}
	}
	if err != nil || outEP == nil || inEP == nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("jtag: resolve bulk endpoints: %w", err)
	}

	a := &FTDIBitBangAdapter{pins: pins, ctx: ctx, dev: dev, intf: intf, done: done, out: outEP, in: inEP}
	if err := a.controlReset(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.controlSetBaudRate(baudHz); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.controlSetBitMode(a.outputMask(), ftdiBitModeSyncBB); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// outputMask is every pin this adapter drives (everything except TDO and
// RTCK, which are inputs).
func (a *FTDIBitBangAdapter) outputMask() byte {
	return byte(1<<a.pins.TCK | 1<<a.pins.TDI | 1<<a.pins.TMS | 1<<a.pins.SRST | 1<<a.pins.TRST)
}

func (a *FTDIBitBangAdapter) controlReset() error {
	_, err := a.dev.Control(0x40, ftdiReqReset, 0, 0, nil)
	if err != nil {
		return fmt.Errorf("jtag: ftdi reset: %w", err)
	}
	return nil
}

func (a *FTDIBitBangAdapter) controlSetBitMode(mask byte, mode byte) error {
	value := uint16(mask) | uint16(mode)<<8
	_, err := a.dev.Control(0x40, ftdiReqSetBitMode, value, 0, nil)
	if err != nil {
		return fmt.Errorf("jtag: ftdi set bitmode: %w", err)
	}
	return nil
}

// controlSetBaudRate encodes baudHz per the FTDI application note's
// divisor/fractional-remainder scheme against the chip's nominal 3MHz base
// clock; FT232R bitbang sample rate is 16x this value.
func (a *FTDIBitBangAdapter) controlSetBaudRate(baudHz int) error {
	const baseClock = 3000000
	if baudHz <= 0 {
		return fmt.Errorf("jtag: invalid baud rate %d", baudHz)
	}
	divisor := baseClock / baudHz
	fracTable := [8]uint16{0, 3, 2, 4, 1, 5, 6, 7}
	rem := 0
	if baudHz != 0 {
		rem = ((baseClock % baudHz) * 8) / baudHz
	}
	value := uint16(divisor&0x3FFF) | (fracTable[rem&0x7] << 14)
	index := uint16(divisor>>14) & 0x3
	_, err := a.dev.Control(0x40, ftdiReqSetBaudRate, value, index, nil)
	if err != nil {
		return fmt.Errorf("jtag: ftdi set baudrate: %w", err)
	}
	return nil
}

// pinsToByte packs one PinBit entry into the device's GPIO byte.
func (a *FTDIBitBangAdapter) pinsToByte(p PinBit) byte {
	var b byte
	if p&PinTCK != 0 {
		b |= 1 << a.pins.TCK
	}
	if p&PinTDI != 0 {
		b |= 1 << a.pins.TDI
	}
	if p&PinTMS != 0 {
		b |= 1 << a.pins.TMS
	}
	if p&PinTRST != 0 {
		b |= 1 << a.pins.TRST
	}
	if p&PinSRST != 0 {
		b |= 1 << a.pins.SRST
	}
	return b
}

// byteToTDO extracts the TDO bit from a sampled GPIO byte.
func (a *FTDIBitBangAdapter) byteToTDO(b byte) bool {
	return b&(1<<a.pins.TDO) != 0
}

// RawWrite strobes TCK once per entry, two bytes per entry (TCK low, then
// TCK high), per spec.md §6's wire format. TDO is sampled by the device
// regardless, but this path discards it.
func (a *FTDIBitBangAdapter) RawWrite(pins []PinBit) error {
	_, err := a.shift(pins, nil)
	return err
}

// RawRead is identical to RawWrite but captures TDO back into pins.
func (a *FTDIBitBangAdapter) RawRead(pins []PinBit) error {
	_, err := a.shift(pins, pins)
	return err
}

func (a *FTDIBitBangAdapter) shift(pins []PinBit, capture []PinBit) (int, error) {
	buf := make([]byte, 0, len(pins)*2)
	for _, p := range pins {
		level := a.pinsToByte(p)
		buf = append(buf, level, level|(1<<a.pins.TCK))
	}

	rxBuf := make([]byte, len(buf))
	n := 0
	for n < len(buf) {
		end := n + ftdiChunkSize
		if end > len(buf) {
			end = len(buf)
		}
		wrote, err := a.out.Write(buf[n:end])
		if err != nil {
			return n, fmt.Errorf("jtag: ftdi bulk write: %w", err)
		}
		read, err := a.in.Read(rxBuf[n : n+wrote])
		if err != nil {
			return n, fmt.Errorf("jtag: ftdi bulk read: %w", err)
		}
		_ = read
		n += wrote
	}

	if capture != nil {
		for i := range capture {
			sample := rxBuf[i*2+1]
			if a.byteToTDO(sample) {
				capture[i] |= PinTDO
			} else {
				capture[i] &^= PinTDO
			}
		}
	}
	return n, nil
}

// Close releases the USB interface and device handle.
func (a *FTDIBitBangAdapter) Close() error {
	if a.done != nil {
		a.done()
	}
	if a.dev != nil {
		a.dev.Close()
	}
	if a.ctx != nil {
		a.ctx.Close()
	}
	return nil
}
