// Package dap implements the JTAG-DP flavor of the ARM Debug Access Port
// protocol: DPACC/APACC scanning, SELECT-register bank routing, the
// CTRL/STAT power-up handshake, and MEM-AP convenience accessors. It is
// grounded on _examples/original_source/libjtag/src/jtag/dap.rs, expressed
// against the bitfield-via-typed-accessor style the teacher uses elsewhere
// (pkg/bsr's register views) rather than the Rust original's bitfield
// macros.
package dap

import (
	"fmt"
	"log/slog"
)

// Instruction is a JTAG-DP IR opcode (spec.md §4.4).
type Instruction uint8

const (
	InstrAbort  Instruction = 0b1000
	InstrDPACC  Instruction = 0b1010
	InstrAPACC  Instruction = 0b1011
	InstrIDCODE Instruction = 0b1110
	InstrBypass Instruction = 0b1111
)

// DPAddress selects one of the four DPACC registers via the scan's 2-bit
// address field.
type DPAddress uint8

const (
	DPAddrIDCodeOrAbort DPAddress = 0b00
	DPAddrCtrlStat      DPAddress = 0b01
	DPAddrSelect        DPAddress = 0b10
	DPAddrRDBuff        DPAddress = 0b11
)

// MemapAddress is a MEM-AP register offset in the banked address space.
type MemapAddress uint32

const (
	MemapCSW   MemapAddress = 0x00
	MemapTARlo MemapAddress = 0x04
	MemapTARhi MemapAddress = 0x08
	MemapDRW   MemapAddress = 0x0C
	MemapBD0   MemapAddress = 0x10
	MemapBD1   MemapAddress = 0x14
	MemapBD2   MemapAddress = 0x18
	MemapBD3   MemapAddress = 0x1C
	MemapMBT   MemapAddress = 0x20
	MemapBASEhi MemapAddress = 0xF0
	MemapCFG   MemapAddress = 0xF4
	MemapBASElo MemapAddress = 0xF8
	MemapIDR   MemapAddress = 0xFC
)

// Decompose splits a MemapAddress into the 4-bit apbanksel routed through
// SELECT and the 2-bit word index used by the scan's address field.
func (m MemapAddress) Decompose() (apbanksel uint8, wordIndex uint8) {
	apbanksel = uint8((m >> 4) & 0xF)
	wordIndex = uint8((m >> 2) & 0x3)
	return
}

// Ack is the 3-bit JTAG-DP scan acknowledgement.
type Ack uint8

const (
	AckInvalid Ack = 0
	AckWait    Ack = 0b001
	AckOKFault Ack = 0b010
)

func ackFromBits(bits uint8) Ack {
	switch bits {
	case 0b010:
		return AckOKFault
	case 0b001:
		return AckWait
	default:
		return AckInvalid
	}
}

func (a Ack) String() string {
	switch a {
	case AckOKFault:
		return "OK/FAULT"
	case AckWait:
		return "WAIT"
	default:
		return "INVALID"
	}
}

// Select is the JTAG-DP SELECT register (spec.md §3).
type Select uint32

func NewSelect(apsel, apbanksel, dpbanksel uint8) Select {
	return Select(uint32(apsel)<<24 | uint32(apbanksel)<<4 | uint32(dpbanksel))
}

func (s Select) APSel() uint8      { return uint8(s >> 24) }
func (s Select) APBankSel() uint8  { return uint8((s >> 4) & 0xF) }
func (s Select) DPBankSel() uint8  { return uint8(s & 0xF) }
func (s Select) Raw() uint32       { return uint32(s) }

// CtrlStatus is the JTAG-DP CTRL/STAT register (spec.md §3).
type CtrlStatus uint32

const (
	ctrlCSYSPwrUpReq  = 1 << 30
	ctrlCSYSPwrUpAck  = 1 << 31
	ctrlCDbgPwrUpReq  = 1 << 28
	ctrlCDbgPwrUpAck  = 1 << 29
	ctrlStickyErr     = 1 << 5
)

func (c CtrlStatus) CSysPwrUpReq() bool { return c&ctrlCSYSPwrUpReq != 0 }
func (c CtrlStatus) CSysPwrUpAck() bool { return c&ctrlCSYSPwrUpAck != 0 }
func (c CtrlStatus) CDbgPwrUpReq() bool { return c&ctrlCDbgPwrUpReq != 0 }
func (c CtrlStatus) CDbgPwrUpAck() bool { return c&ctrlCDbgPwrUpAck != 0 }
func (c CtrlStatus) StickyErr() bool    { return c&ctrlStickyErr != 0 }

func (c CtrlStatus) WithCSysPwrUpReq(v bool) CtrlStatus { return setBit32(c, ctrlCSYSPwrUpReq, v) }
func (c CtrlStatus) WithCDbgPwrUpReq(v bool) CtrlStatus { return setBit32(c, ctrlCDbgPwrUpReq, v) }
func (c CtrlStatus) WithStickyErr(v bool) CtrlStatus    { return setBit32(c, ctrlStickyErr, v) }
func (c CtrlStatus) Raw() uint32                        { return uint32(c) }

func setBit32[T ~uint32](v T, mask uint32, set bool) T {
	if set {
		return T(uint32(v) | mask)
	}
	return T(uint32(v) &^ mask)
}

// CSW is the MEM-AP Control/Status Word (spec.md §3).
type CSW uint32

const cswDbgSwEnable = 1 << 31

func (c CSW) DbgSwEnable() bool      { return c&cswDbgSwEnable != 0 }
func (c CSW) WithDbgSwEnable(v bool) CSW { return setBit32(c, cswDbgSwEnable, v) }
func (c CSW) Size() uint8            { return uint8(c & 0x7) }
func (c CSW) WithSize(size uint8) CSW { return CSW(uint32(c)&^0x7 | uint32(size&0x7)) }
func (c CSW) Raw() uint32            { return uint32(c) }

// Size field values (spec.md §4.4).
const (
	CSWSizeByte  uint8 = 0b000
	CSWSizeHalf  uint8 = 0b001
	CSWSizeWord  uint8 = 0b010
)

// DebugTransport is the lower layer a DAP drives: one JTAG IR write and one
// full-duplex Shift-DR per access, satisfied by *jtag.Handle.
type DebugTransport interface {
	WriteInstruction(ir uint8) error
	ReadWriteDR(data []bool) error
}

// DAP drives DPACC/APACC scans over a DebugTransport. It has no internal
// lock (matching the Rust original, whose DAP<T> is only ever made
// thread-safe by a Mutex<T> one layer up) — see Locked in locked.go for the
// shared-handle wrapper pkg/armv8 relies on for multi-step accesses.
type DAP struct {
	transport DebugTransport
	apnum     uint8
	log       *slog.Logger
}

// NewDAP wraps transport and runs the CTRL/STAT power-up handshake
// described in spec.md §4.4 / dap.rs's DAP::init.
func NewDAP(transport DebugTransport, apnum uint8, log *slog.Logger) (*DAP, error) {
	if log == nil {
		log = slog.Default()
	}
	d := &DAP{transport: transport, apnum: apnum, log: log}
	if err := d.init(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DAP) init() error {
	if _, err := d.DPSelectWrite(d.apnum, 0, 0); err != nil {
		return fmt.Errorf("dap: init select write: %w", err)
	}

	ack, ctrl, err := d.DPCtrlStatRead()
	if err != nil {
		return fmt.Errorf("dap: init ctrlstat read: %w", err)
	}
	d.log.Debug("dap: init read ctrlstat", "ack", ack, "ctrl", fmt.Sprintf("0x%08x", ctrl.Raw()))

	if _, err := d.DPCtrlStatWrite(ctrl.WithStickyErr(true)); err != nil {
		return fmt.Errorf("dap: init clear sticky err: %w", err)
	}
	if _, err := d.DPCtrlStatWrite(ctrl.WithStickyErr(false).WithCDbgPwrUpReq(true).WithCSysPwrUpReq(true)); err != nil {
		return fmt.Errorf("dap: init power-up request: %w", err)
	}

	for {
		ack, ctrl, err := d.DPCtrlStatRead()
		if err != nil {
			return fmt.Errorf("dap: init poll ctrlstat: %w", err)
		}
		if ack != AckOKFault {
			continue
		}
		if ctrl.CDbgPwrUpAck() && ctrl.CSysPwrUpAck() {
			break
		}
	}
	d.log.Info("dap: debug/system power domains up")

	ack, csw, err := d.MemAPCSWRead()
	if err != nil {
		return fmt.Errorf("dap: init csw read: %w", err)
	}
	if ack != AckOKFault {
		return fmt.Errorf("dap: init csw read ack = %s", ack)
	}
	if _, err := d.MemAPCSWWrite(csw.WithDbgSwEnable(true).WithSize(CSWSizeWord)); err != nil {
		return fmt.Errorf("dap: init csw write: %w", err)
	}
	return nil
}

// acc performs one DPACC or APACC scan: write the 4-bit IR opcode, then
// shift the 35-bit DR (RnW | a[2:1] | data[31:0]) described in spec.md
// §4.4, LSB first. The returned result is valid only when rnw is true.
func (d *DAP) acc(instr Instruction, addr uint8, rnw bool, data uint32) (Ack, uint32, error) {
	if err := d.transport.WriteInstruction(uint8(instr)); err != nil {
		return AckInvalid, 0, fmt.Errorf("dap: write ir: %w", err)
	}

	bits := make([]bool, 35)
	bits[0] = rnw
	bits[1] = addr&0b01 != 0
	bits[2] = addr&0b10 != 0
	for i := 0; i < 32; i++ {
		bits[3+i] = data&(1<<uint(i)) != 0
	}

	if err := d.transport.ReadWriteDR(bits); err != nil {
		return AckInvalid, 0, fmt.Errorf("dap: scan: %w", err)
	}

	var ackBits uint8
	for i := 0; i < 3; i++ {
		if bits[i] {
			ackBits |= 1 << uint(i)
		}
	}
	ack := ackFromBits(ackBits)

	var result uint32
	for i := 0; i < 32; i++ {
		if bits[3+i] {
			result |= 1 << uint(i)
		}
	}
	return ack, result, nil
}

func (d *DAP) dpacc(addr DPAddress, rnw bool, data uint32) (Ack, uint32, error) {
	return d.acc(InstrDPACC, uint8(addr), rnw, data)
}

func (d *DAP) apacc(addr uint8, rnw bool, data uint32) (Ack, uint32, error) {
	return d.acc(InstrAPACC, addr, rnw, data)
}

// Abort selects the ABORT instruction and shifts a 1 into the ABORT
// register, clearing a sticky error state. Named
// per spec.md §4.4's description of the ABORT register; no call signature
// was given there, so this one is supplemented from dap.rs's abort().
func (d *DAP) Abort() error {
	_, _, err := d.acc(InstrAbort, uint8(DPAddrIDCodeOrAbort), false, 1)
	if err != nil {
		return fmt.Errorf("dap: abort: %w", err)
	}
	return nil
}

// DPSelectWrite writes the SELECT register, routing subsequent APACC
// scans to apsel/apbanksel and DPACC scans to dpbanksel. Per dap.rs's
// dp_select_write, every non-RDBUFF DPACC access is followed by an
// explicit RDBUFF read, and it is that read's ack that is returned.
func (d *DAP) DPSelectWrite(apsel, apbanksel, dpbanksel uint8) (Ack, error) {
	if _, _, err := d.dpacc(DPAddrSelect, false, NewSelect(apsel, apbanksel, dpbanksel).Raw()); err != nil {
		return AckInvalid, fmt.Errorf("dap: select write: %w", err)
	}
	ack, _, err := d.DPRDBuffRead()
	return ack, err
}

// DPRDBuffRead reads RDBUFF, the non-destructive read of the last posted
// AP result.
func (d *DAP) DPRDBuffRead() (Ack, uint32, error) {
	return d.dpacc(DPAddrRDBuff, true, 0)
}

// DPCtrlStatRead reads CTRL/STAT, following up with an RDBUFF read for the
// actual ack/result, per dap.rs's dp_ctrlstat.
func (d *DAP) DPCtrlStatRead() (Ack, CtrlStatus, error) {
	if _, _, err := d.dpacc(DPAddrCtrlStat, true, 0); err != nil {
		return AckInvalid, 0, fmt.Errorf("dap: ctrlstat read: %w", err)
	}
	ack, v, err := d.DPRDBuffRead()
	return ack, CtrlStatus(v), err
}

// DPCtrlStatWrite writes CTRL/STAT, following up with an RDBUFF read for
// the actual ack, per dap.rs's dp_ctrlstat.
func (d *DAP) DPCtrlStatWrite(v CtrlStatus) (Ack, error) {
	if _, _, err := d.dpacc(DPAddrCtrlStat, false, v.Raw()); err != nil {
		return AckInvalid, fmt.Errorf("dap: ctrlstat write: %w", err)
	}
	ack, _, err := d.DPRDBuffRead()
	return ack, err
}

// MemAP performs one MEM-AP access: route SELECT to addr's bank, issue the
// APACC, then read RDBUFF to retrieve the posted result (spec.md §4.4's
// note that AP reads are posted one cycle behind).
func (d *DAP) MemAP(addr MemapAddress, rnw bool, data uint32) (Ack, uint32, error) {
	apbanksel, wordIndex := addr.Decompose()
	if ack, err := d.DPSelectWrite(d.apnum, apbanksel, 0); err != nil {
		return ack, 0, fmt.Errorf("dap: memap select: %w", err)
	} else if ack != AckOKFault {
		return ack, 0, nil
	}
	if _, _, err := d.apacc(wordIndex, rnw, data); err != nil {
		return AckInvalid, 0, fmt.Errorf("dap: memap apacc: %w", err)
	}
	return d.DPRDBuffRead()
}

func (d *DAP) MemAPCSWRead() (Ack, CSW, error) {
	ack, v, err := d.MemAP(MemapCSW, true, 0)
	return ack, CSW(v), err
}

func (d *DAP) MemAPCSWWrite(v CSW) (Ack, error) {
	ack, _, err := d.MemAP(MemapCSW, false, v.Raw())
	return ack, err
}

func (d *DAP) MemAPIDRRead() (Ack, uint32, error) {
	return d.MemAP(MemapIDR, true, 0)
}

func (d *DAP) MemAPCFGRead() (Ack, uint32, error) {
	return d.MemAP(MemapCFG, true, 0)
}

func (d *DAP) MemAPTARu32Write(addr uint32) (Ack, error) {
	ack, _, err := d.MemAP(MemapTARlo, false, addr)
	return ack, err
}

func (d *DAP) MemAPTARu32Read() (Ack, uint32, error) {
	return d.MemAP(MemapTARlo, true, 0)
}

// MemAPTARu64Write sets TAR's high and low words, hi first, matching
// dap.rs's memap_tar_u64. Required before a 64-bit address MEM-AP access
// such as pkg/armv8's BD-window register reads.
func (d *DAP) MemAPTARu64Write(addr uint64) (Ack, error) {
	if ack, _, err := d.MemAP(MemapTARhi, false, uint32(addr>>32)); err != nil || ack != AckOKFault {
		return ack, err
	}
	ack, _, err := d.MemAP(MemapTARlo, false, uint32(addr))
	return ack, err
}

// MemAPTARu64Read reads TAR's high and low words, hi first, matching
// dap.rs's memap_tar_u64.
func (d *DAP) MemAPTARu64Read() (Ack, uint64, error) {
	ack, hi, err := d.MemAP(MemapTARhi, true, 0)
	if err != nil || ack != AckOKFault {
		return ack, 0, err
	}
	ack, lo, err := d.MemAP(MemapTARlo, true, 0)
	return ack, uint64(hi)<<32 | uint64(lo), err
}

func (d *DAP) MemAPDRWRead() (Ack, uint32, error)  { return d.MemAP(MemapDRW, true, 0) }
func (d *DAP) MemAPDRWWrite(v uint32) (Ack, error) { ack, _, err := d.MemAP(MemapDRW, false, v); return ack, err }

// MemAPBD0..MemAPBD3 access the banked-data window, letting a caller read
// or write up to four consecutive 32-bit words without re-issuing a TAR
// write in between (spec.md §5's "Banked-Data (BD0-BD3) 16-byte window").
func (d *DAP) memAPBD(n int, read bool, v uint32) (Ack, uint32, error) {
	addrs := [4]MemapAddress{MemapBD0, MemapBD1, MemapBD2, MemapBD3}
	return d.MemAP(addrs[n], read, v)
}

func (d *DAP) MemAPBD0(read bool, v uint32) (Ack, uint32, error) { return d.memAPBD(0, read, v) }
func (d *DAP) MemAPBD1(read bool, v uint32) (Ack, uint32, error) { return d.memAPBD(1, read, v) }
func (d *DAP) MemAPBD2(read bool, v uint32) (Ack, uint32, error) { return d.memAPBD(2, read, v) }
func (d *DAP) MemAPBD3(read bool, v uint32) (Ack, uint32, error) { return d.memAPBD(3, read, v) }

func (d *DAP) MemAPBaseU32Read() (Ack, uint32, error) { return d.MemAP(MemapBASElo, true, 0) }

func (d *DAP) MemAPBaseU64Read() (Ack, uint64, error) {
	ack, lo, err := d.MemAP(MemapBASElo, true, 0)
	if err != nil || ack != AckOKFault {
		return ack, 0, err
	}
	ack, hi, err := d.MemAP(MemapBASEhi, true, 0)
	return ack, uint64(hi)<<32 | uint64(lo), err
}
