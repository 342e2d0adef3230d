// Package cpu implements C4: the per-engine fetch/decode/dispatch loop,
// PSW/register state, and serialization hooks (spec §4.4). Grounded on
// emu/cpu/cpu.go and emu/cpu/cpudefs.go, generalized from the teacher's
// single package-level `sysCPU` global to an instantiable *CPU so a
// multi-engine configuration (spec's "inter-CPU coordination across
// multiple emulated engines") can run more than one. The teacher's
// `table [256]func(*stepInfo) uint16` dispatch idiom is kept; handlers now
// return (nextIA, error) instead of an ilc-style uint16 interrupt code, per
// spec §9's "result-typed dispatch loop" design note, so a Go caller sees
// normal control flow instead of the teacher's sentinel-return convention.
package cpu

import (
	"sync"
	"sync/atomic"

	"github.com/rcornwell/s370e/internal/arch/dat"
	"github.com/rcornwell/s370e/internal/arch/intr"
	"github.com/rcornwell/s370e/internal/arch/psw"
	"github.com/rcornwell/s370e/internal/arch/storage"
)

// storeLoadPSW implements spec §4.3's store-old/load-new exchange shared by
// every interrupt class: the current PSW is serialized to oldAddr, then the
// PSW at newAddr becomes the running PSW. Both addresses are relative to the
// CPU's prefix, mirroring storePSW's low-address-prefixing in emu/cpu/cpu.go.
func (c *CPU) storeLoadPSW(oldAddr, newAddr uint32) error {
	old := c.PSW.Store()
	for i, b := range old {
		if err := c.Store.WriteByte(storage.Prefix(c.Prefix, oldAddr+uint32(i)), 0, b); err != nil {
			return err
		}
	}
	var raw [8]byte
	for i := range raw {
		b, err := c.Store.ReadByte(storage.Prefix(c.Prefix, newAddr+uint32(i)), 0)
		if err != nil {
			return err
		}
		raw[i] = b
	}
	next, err := psw.Load(raw)
	if err != nil {
		return err
	}
	c.PSW = next
	return nil
}

// ProgramCheck is the typed error every instruction handler raises on an
// architected exception (spec §7, §9 "Err(ProgramException{code, nullify})").
type ProgramCheck struct {
	Code    uint16
	Nullify bool // true: IA unchanged; false (suppressing): IA advances past instruction
}

func (e ProgramCheck) Error() string { return "program check" }

// Program-interrupt codes (spec §7 taxonomy), values per the architecture's
// interruption-code field, grounded on emu/cpu/cpudefs.go's ircXxx consts.
const (
	ExcOperation     uint16 = 0x0001
	ExcPrivileged    uint16 = 0x0002
	ExcExecute       uint16 = 0x0003
	ExcProtection    uint16 = 0x0004
	ExcAddressing    uint16 = 0x0005
	ExcSpecification uint16 = 0x0006
	ExcData          uint16 = 0x0007
	ExcFixedOverflow uint16 = 0x0008
	ExcFixedDivide   uint16 = 0x0009
	ExcDecOverflow   uint16 = 0x000a
	ExcDecDivide     uint16 = 0x000b
	ExcExpOverflow   uint16 = 0x000c
	ExcExpUnderflow  uint16 = 0x000d
	ExcSignificance  uint16 = 0x000e
	ExcFPDivide      uint16 = 0x000f
	ExcSegTranslation uint16 = 0x0010
	ExcPageTranslation uint16 = 0x0011
	ExcTranslationSpec uint16 = 0x0012
	ExcSpecialOp       uint16 = 0x0013
	ExcMonitorEvent  uint16 = 0x0040
	ExcPEREvent      uint16 = 0x0080
)

// stepInfo mirrors the teacher's decode scratch struct (emu/cpu/cpudefs.go).
type stepInfo struct {
	opcode   uint8
	r1, r2   uint8
	imm8     uint8  // SI-format immediate byte (raw[1])
	addr1    uint32
	addr2    uint32
	length   uint8 // SS-format length byte(s)
}

// opHandler is the dispatch-table entry shape: given decoded operand info,
// mutate CPU state and return the next instruction address or a
// ProgramCheck.
type opHandler func(c *CPU, step *stepInfo) (nextIA uint32, err error)

// ChannelUnit is the subset of the channel subsystem (C6) the CPU's I/O
// instructions need. Implemented by internal/ioarch/channel.Subsystem; kept
// as a local interface to avoid an import cycle (channel's executor in turn
// calls back into storage/dat, not cpu).
type ChannelUnit interface {
	StartSubchannel(subchan uint16, ccwAddr uint32, key uint8) (cc uint8, err error)
	TestSubchannel(subchan uint16) (cc uint8, statusWord [8]byte)
	HaltSubchannel(subchan uint16) (cc uint8)
	ClearSubchannel(subchan uint16) (cc uint8)
	PresentInterrupt() (subchan uint16, statusWord [8]byte, ok bool)
	HasPending() bool
}

// CPU is one emulated engine: spec §3's per-engine register set plus the
// DAT translator, pending-interrupt aggregation, and dispatch table.
type CPU struct {
	mu sync.Mutex

	Index int // engine number, for broadcast bookkeeping

	GPR [16]uint32
	CR  [16]uint32
	AR  [16]uint32
	FPR [8]uint64

	PSW psw.PSW

	Prefix    uint32
	TODOffset int64
	CPUTimer  int64
	ClockComparator uint64
	TODProgField uint16

	Pending intr.Pending
	Stopping bool
	Stopped  bool
	Waiting  bool

	InstCount uint64

	table [256]opHandler

	Store *storage.Store
	DAT   *dat.Translator
	Chan  ChannelUnit

	// SIEHook implements the nested-interpretive-execution entry instruction
	// (C5, spec §4.5); wired by cmd/s370e/main.go to internal/arch/sie.Run
	// since this package cannot import sie (sie imports cpu for the guest
	// CPU type). Left nil, the SIE opcode raises an operation exception.
	SIEHook func(host *CPU, descAddr uint32) (uint32, error)

	// broadcastAck participates in the cross-CPU serialization rendezvous
	// (spec §5 "counter of CPUs still to acknowledge").
	broadcastAck *atomic.Int32
}

// New allocates a CPU bound to the given shared store and channel unit.
func New(index int, store *storage.Store, ch ChannelUnit) *CPU {
	c := &CPU{
		Index: index,
		Store: store,
		DAT:   dat.NewTranslator(store),
		Chan:  ch,
	}
	c.CR[0] = 0x000000e0
	c.CR[2] = 0xffffffff
	c.buildTable()
	return c
}

// SetBroadcastCounter wires this CPU into a shared rendezvous counter used
// by the serialization hook (spec §4.4, §5).
func (c *CPU) SetBroadcastCounter(ctr *atomic.Int32) { c.broadcastAck = ctr }

// FetchInstruction fetches the 2, 4, or 6 instruction bytes at ia, applying
// prefixing only (no DAT translation); a storage error on any byte raises a
// nullifying addressing exception without having modified any register, IA
// remaining the untouched IA of the attempted fetch.
func (c *CPU) FetchInstruction(ia uint32) ([6]byte, int, error) {
	var buf [6]byte
	first, err := c.Store.ReadByte(storage.Prefix(c.Prefix, ia), c.PSW.Key)
	if err != nil {
		return buf, 0, ProgramCheck{Code: ExcAddressing, Nullify: true}
	}
	buf[0] = first
	ilen := instLength(first)
	for i := 1; i < ilen; i++ {
		b, err := c.Store.ReadByte(storage.Prefix(c.Prefix, ia+uint32(i)), c.PSW.Key)
		if err != nil {
			return buf, 0, ProgramCheck{Code: ExcAddressing, Nullify: true}
		}
		buf[i] = b
	}
	return buf, ilen, nil
}

// instLength maps the top two bits of the opcode byte to instruction length
// per the architecture's RR(2)/RX,RS,SI(4)/SS(6) format rule.
func instLength(opcode byte) int {
	switch opcode >> 6 {
	case 0:
		return 2
	case 1, 2:
		return 4
	default:
		return 6
	}
}

// Step decodes and dispatches exactly one instruction starting at the
// CPU's current PSW.IA, applying the nullify/suppress ILC policy spec §8
// requires: on success the IA advances by ILC; on ProgramCheck with
// Nullify, the IA is left at the fetch-time IA; otherwise IA advances past
// the instruction before the interrupt is taken.
func (c *CPU) Step() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ia := c.PSW.IA
	raw, ilen, err := c.FetchInstruction(ia)
	if err != nil {
		return c.raiseProgramCheck(ia, err)
	}
	c.PSW.ILC = uint8(ilen / 2)

	step := decode(raw[:ilen])
	handler := c.table[step.opcode]
	if handler == nil {
		handler = opUnknown
	}

	nextIA, err := handler(c, &step)
	if err != nil {
		return c.raiseProgramCheck(ia, err)
	}
	c.PSW.IA = nextIA
	c.InstCount++
	return nil
}

func (c *CPU) raiseProgramCheck(faultIA uint32, err error) error {
	pc, ok := err.(ProgramCheck)
	if !ok {
		pc = ProgramCheck{Code: ExcOperation, Nullify: true}
	}
	if pc.Nullify {
		c.PSW.IA = faultIA
	} else {
		c.PSW.IA = faultIA + uint32(c.PSW.ILC)*2
	}
	c.Pending.ExternalPending = false // a program check is not an external interrupt
	c.PSW.IntCode = pc.Code
	if serr := c.storeLoadPSW(psw.ProgramOld, psw.ProgramNew); serr != nil {
		return serr
	}
	return pc
}

// RaiseExternal delivers the external-interrupt class (spec §4.3): stores
// the old PSW at the external-old slot and loads the external-new PSW.
func (c *CPU) RaiseExternal() error {
	return c.storeLoadPSW(psw.ExternalOld, psw.ExternalNew)
}

// RaiseIO delivers the I/O-interrupt class: the presented subchannel status
// word is stored at the CSW slot for the legacy SIO/TIO path before the
// PSW exchange runs, matching storePSW's combined CSW-then-PSW sequence.
func (c *CPU) RaiseIO(statusWord [8]byte) error {
	for i, b := range statusWord {
		if err := c.Store.WriteByte(storage.Prefix(c.Prefix, psw.CSW+uint32(i)), 0, b); err != nil {
			return err
		}
	}
	return c.storeLoadPSW(psw.IOOld, psw.IONew)
}

// RaiseMachineCheck delivers the machine-check class.
func (c *CPU) RaiseMachineCheck() error {
	return c.storeLoadPSW(psw.MCheckOld, psw.MCheckNew)
}

// RaiseRestart delivers the restart class: the restart-old/restart-new slots
// share the IPL PSW's low-address pair (psw.ICCW1/psw.IPSW), per the
// architecture's memory map.
func (c *CPU) RaiseRestart() error {
	return c.storeLoadPSW(psw.ICCW1, psw.IPSW)
}

// clearExternalSources resets every contributing source Highest folds into
// ClassExternal once that class has been delivered.
func (c *CPU) clearExternalSources() {
	c.Pending.ExternalPending = false
	c.Pending.EmergencySignal = false
	c.Pending.ExternalCall = false
	c.Pending.ServiceSignalPending = false
	c.Pending.CPUTimerNegative = false
	c.Pending.ClockComparatorReached = false
	c.Pending.IntervalTimerPending = false
}

// CheckInterrupts samples pending sources at a dispatch boundary (spec
// §4.3's "recomputed whenever any contributing source changes") and
// delivers the highest-priority class through the PSW exchange. It reports
// whether an interrupt was taken so the caller can skip fetching the next
// instruction this cycle, mirroring the architecture's "an interrupt
// replaces an instruction fetch" rule.
func (c *CPU) CheckInterrupts() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Chan != nil {
		c.Pending.IOPending = c.Chan.HasPending()
	}

	cls, ok := c.Pending.Highest(c.Stopping)
	if !ok {
		return false, nil
	}
	switch cls {
	case intr.ClassMachineCheck:
		c.Pending.MachineCheckPending = false
		return true, c.RaiseMachineCheck()
	case intr.ClassExternal:
		c.clearExternalSources()
		return true, c.RaiseExternal()
	case intr.ClassIO:
		subchan, word, present := c.Chan.PresentInterrupt()
		if !present {
			c.Pending.IOPending = false
			return false, nil
		}
		_ = subchan
		return true, c.RaiseIO(word)
	case intr.ClassRestart:
		c.Pending.RestartPending = false
		return true, c.RaiseRestart()
	default:
		// ClassBroadcastSync/ClassStopping/ClassWait are handled by
		// Serialize/the run loop's own stop check, not a PSW exchange here.
		return false, nil
	}
}

// decode extracts the RR/RX/RS/SI/SS operand fields the representative
// handler set in ops_standard.go needs, following the format diagrams in
// emu/cpu/cpu.go's header comment.
func decode(raw []byte) stepInfo {
	s := stepInfo{opcode: raw[0]}
	switch len(raw) {
	case 2:
		s.r1 = raw[1] >> 4
		s.r2 = raw[1] & 0xf
	case 4:
		s.r1 = raw[1] >> 4
		s.r2 = raw[1] & 0xf
		s.imm8 = raw[1]
		b := raw[2] >> 4
		d := uint32(raw[2]&0xf)<<8 | uint32(raw[3])
		s.addr1 = uint32(b)<<16 | d // packed base<<16|disp for effAddr; RX r2 operand reuses this field
	case 6:
		s.length = raw[1]
		b1 := raw[2] >> 4
		d1 := uint32(raw[2]&0xf)<<8 | uint32(raw[3])
		b2 := raw[4] >> 4
		d2 := uint32(raw[4]&0xf)<<8 | uint32(raw[5])
		s.addr1 = uint32(b1)<<16 | d1
		s.addr2 = uint32(b2)<<16 | d2
	}
	return s
}

// effAddr resolves a packed base<<16|disp field (see decode) against the
// CPU's current GPRs, the teacher's address-computation idiom in
// emu/cpu/cpu.go's opMem generalized into a standalone helper.
func (c *CPU) effAddr(packed uint32) uint32 {
	base := (packed >> 16) & 0xf
	disp := packed & 0xfff
	addr := disp
	if base != 0 {
		addr += c.GPR[base]
	}
	return addr & 0x7fffffff
}

func opUnknown(c *CPU, step *stepInfo) (uint32, error) {
	return 0, ProgramCheck{Code: ExcOperation, Nullify: true}
}

// realAddr resolves a logical address to a real one, applying DAT when the
// PSW enables it and prefixing unconditionally, mirroring the teacher's
// combined translate+prefix call sequence in cpu.go's operand fetch helpers.
func (c *CPU) realAddr(vaddr uint32, access dat.AccessType) (uint32, error) {
	if !c.PSW.DATEnable {
		return storage.Prefix(c.Prefix, vaddr), nil
	}
	asce := dat.ASCE{Origin: c.CR[1] & 0xfffff000, Length: 0x7ff}
	real, _, err := c.DAT.Translate(vaddr, asce, c.PSW.Key, access, false)
	if err != nil {
		return 0, err
	}
	return storage.Prefix(c.Prefix, real), nil
}

// readWord/writeWord resolve a logical operand address and access storage,
// the common path every RX-format arithmetic/logical handler shares.
func (c *CPU) readWord(vaddr uint32) (uint32, error) {
	real, err := c.realAddr(vaddr, dat.AccessRead)
	if err != nil {
		return 0, err
	}
	return c.Store.ReadWord(real, c.PSW.Key)
}

func (c *CPU) writeWord(vaddr uint32, v uint32) error {
	real, err := c.realAddr(vaddr, dat.AccessWrite)
	if err != nil {
		return err
	}
	return c.Store.WriteWord(real, c.PSW.Key, v)
}

func (c *CPU) readByte(vaddr uint32) (uint8, error) {
	real, err := c.realAddr(vaddr, dat.AccessRead)
	if err != nil {
		return 0, err
	}
	return c.Store.ReadByte(real, c.PSW.Key)
}

func (c *CPU) writeByte(vaddr uint32, v uint8) error {
	real, err := c.realAddr(vaddr, dat.AccessWrite)
	if err != nil {
		return err
	}
	return c.Store.WriteByte(real, c.PSW.Key, v)
}
