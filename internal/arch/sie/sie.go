// Package sie implements C5: nested interpretive execution (spec §4.5).
// Not present in the teacher at all (S/370/BC-mode only); grounded on
// original_source/sie.c's zz_start_interpretive_execution for the state
// descriptor field layout, validity-check order, and the host/guest
// interrupt-priority macros (SIE_I_HOST/SIE_I_IO/SIE_I_EXT), translated from
// Hercules's REGS/SIEBK C structs into Go value types. The CPU-register
// save/restore shape instead follows the teacher's cpuState struct
// (emu/cpu/cpudefs.go) for naming consistency with internal/arch/cpu.
package sie

import (
	"encoding/binary"

	"github.com/rcornwell/s370e/internal/arch/cpu"
	"github.com/rcornwell/s370e/internal/arch/storage"
)

// Intercept enumerates the interception codes stored into the state
// descriptor on guest exit, grounded on original_source/sie.c's SIE_WHY_*
// cause codes.
type Intercept int

const (
	InterceptInstruction Intercept = iota
	InterceptInstructionGeneral
	InterceptWait
	InterceptExternal
	InterceptIO
	InterceptMCheck
	InterceptHostIntf // a host-level condition forced the interception (SIE_I_HOST)
)

// StateDescriptor mirrors the fields zz_start_interpretive_execution reads
// out of the guest's SIEBK control block (original_source/sie.c).
type StateDescriptor struct {
	Addr uint32 // absolute address of the descriptor (spec's state-descriptor address)

	Prefix     uint32
	MainOrigin uint32
	MainSize   uint32
	XStoreOrigin uint32
	XStoreLimit uint32

	CPUTimer uint64
	Epoch    uint64

	RCPOrigin uint32 // reference/change preservation table origin
	SCAOrigin uint32 // system control area origin

	HostProtect bool // SIE_V_HP equivalent: guest storage keys shadow host's
	ZoneRelocate bool
}

// Validity check failures, mirrored from sie.c's PGM_SPECIFICATION_EXCEPTION
// / PGM_SPECIAL_OPERATION_EXCEPTION paths taken before the guest ever runs.
type ErrInvalidState struct{ Reason string }

func (e ErrInvalidState) Error() string { return "invalid SIE state descriptor: " + e.Reason }

// Session holds one host CPU's active guest: its saved register set, the
// state descriptor, and the translator/ALB the guest gets (purged
// separately from the host's per spec §4.5 "host and guest each keep
// independent TLB/ALB state").
type Session struct {
	Host  *cpu.CPU
	Guest *cpu.CPU

	State StateDescriptor

	active bool
}

// Enter validates the state descriptor and switches control to the guest,
// mirroring sie.c's validity checks: address must be page-256-aligned,
// nonzero, and not alias the host's own prefix page.
func Enter(host *cpu.CPU, descAddr uint32, hostPrefix uint32, guestStore *storage.Store, readDesc func(addr uint32) (StateDescriptor, error)) (*Session, error) {
	if descAddr&0xff != 0 {
		return nil, ErrInvalidState{Reason: "descriptor address not on a 256-byte boundary"}
	}
	if descAddr&0x7ffff000 == 0 {
		return nil, ErrInvalidState{Reason: "descriptor address is zero-page"}
	}
	if descAddr&0x7ffff000 == hostPrefix {
		return nil, ErrInvalidState{Reason: "descriptor address aliases host prefix"}
	}

	desc, err := readDesc(descAddr)
	if err != nil {
		return nil, err
	}
	desc.Addr = descAddr

	guest := cpu.New(host.Index, guestStore, host.Chan)
	guest.Prefix = desc.Prefix
	guest.CPUTimer = int64(desc.CPUTimer)
	guest.TODOffset = int64(desc.Epoch)

	return &Session{Host: host, Guest: guest, State: desc, active: true}, nil
}

// Run executes guest instructions until an interception condition fires,
// per the host/guest priority macros in sie.c: a pending host-level
// condition (machine check, external, restart, I/O, wait)
// always takes priority over continuing the guest, matching SIE_I_HOST.
func (s *Session) Run() (Intercept, error) {
	if !s.active {
		return InterceptHostIntf, ErrInvalidState{Reason: "session not active"}
	}
	for {
		if s.hostInterceptPending() {
			return InterceptHostIntf, nil
		}
		if s.Guest.Pending.Wait {
			return InterceptWait, nil
		}
		if cls, ok := s.Guest.Pending.Highest(false); ok {
			_ = cls
			return InterceptExternal, nil
		}
		if err := s.Guest.Step(); err != nil {
			if _, ok := err.(cpu.ProgramCheck); ok {
				return InterceptInstruction, nil
			}
			return InterceptInstructionGeneral, err
		}
	}
}

// hostInterceptPending mirrors SIE_I_HOST: any pending host condition
// forces a return to the host regardless of guest state.
func (s *Session) hostInterceptPending() bool {
	return s.Host.Pending.MachineCheckPending && s.Host.Pending.MachineCheckEnable ||
		s.Host.Pending.ExternalPending && s.Host.Pending.ExternalMask ||
		s.Host.Pending.RestartPending ||
		s.Host.Pending.IOPending && s.Host.Pending.IOMask ||
		s.Host.PSW.Wait
}

// Exit tears down the session, writing the guest CPU timer back to the
// descriptor via writeDesc (caller owns the storage write since it may need
// DAT translation the sie package doesn't have access to).
func (s *Session) Exit(code Intercept, writeDesc func(addr uint32, timer uint64) error) error {
	s.active = false
	return writeDesc(s.State.Addr, uint64(s.Guest.CPUTimer))
}

// descriptorSize is the on-disk width of the state descriptor fields this
// reduced port reads/writes (spec §4.5 drops the full SIEBK's extended-
// configuration and multiprocessing fields; Prefix/storage bounds/CPU timer/
// epoch are what a guest entry here actually needs).
const descriptorSize = 48

const (
	descOffPrefix       = 0
	descOffMainOrigin   = 4
	descOffMainSize     = 8
	descOffXStoreOrigin = 12
	descOffXStoreLimit  = 16
	descOffCPUTimer     = 20
	descOffEpoch        = 28
	descOffRCPOrigin    = 36
	descOffSCAOrigin    = 40
	descOffFlags        = 44
)

const (
	flagHostProtect  = 0x01
	flagZoneRelocate = 0x02
)

func decodeDescriptor(buf [descriptorSize]byte) StateDescriptor {
	return StateDescriptor{
		Prefix:       binary.BigEndian.Uint32(buf[descOffPrefix:]),
		MainOrigin:   binary.BigEndian.Uint32(buf[descOffMainOrigin:]),
		MainSize:     binary.BigEndian.Uint32(buf[descOffMainSize:]),
		XStoreOrigin: binary.BigEndian.Uint32(buf[descOffXStoreOrigin:]),
		XStoreLimit:  binary.BigEndian.Uint32(buf[descOffXStoreLimit:]),
		CPUTimer:     binary.BigEndian.Uint64(buf[descOffCPUTimer:]),
		Epoch:        binary.BigEndian.Uint64(buf[descOffEpoch:]),
		RCPOrigin:    binary.BigEndian.Uint32(buf[descOffRCPOrigin:]),
		SCAOrigin:    binary.BigEndian.Uint32(buf[descOffSCAOrigin:]),
		HostProtect:  buf[descOffFlags]&flagHostProtect != 0,
		ZoneRelocate: buf[descOffFlags]&flagZoneRelocate != 0,
	}
}

// readDescriptor reads and decodes a state descriptor straight out of the
// host's real storage (Enter's descAddr validity checks already ran before
// this is called, so no DAT translation applies here — the descriptor
// address is always a real address per the architecture).
func readDescriptor(store *storage.Store) func(addr uint32) (StateDescriptor, error) {
	return func(addr uint32) (StateDescriptor, error) {
		var buf [descriptorSize]byte
		for i := range buf {
			b, err := store.ReadByte(addr+uint32(i), 0)
			if err != nil {
				return StateDescriptor{}, err
			}
			buf[i] = b
		}
		return decodeDescriptor(buf), nil
	}
}

// writeDescriptor persists the guest's CPU timer back to its descriptor slot
// on exit, the one piece of live guest state spec §4.5 requires survive
// across SIE entries.
func writeDescriptor(store *storage.Store) func(addr uint32, timer uint64) error {
	return func(addr uint32, timer uint64) error {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], timer)
		for i, b := range buf {
			if err := store.WriteByte(addr+descOffCPUTimer+uint32(i), 0, b); err != nil {
				return err
			}
		}
		return nil
	}
}

// Run is the host CPU's SIE-entry hook, wired to internal/arch/cpu.CPU's
// SIEHook by cmd/s370e/main.go (cpu cannot import sie directly: sie already
// imports cpu for the guest CPU type). It carries a guest instruction
// stream to completion against the host's own storage — spec §4.5's reduced
// scope has no separate guest address space/zone relocation backing store —
// and returns the host's next instruction address once the guest exits back
// to the host.
func Run(host *cpu.CPU, descAddr uint32) (uint32, error) {
	sess, err := Enter(host, descAddr, host.Prefix, host.Store, readDescriptor(host.Store))
	if err != nil {
		return 0, err
	}
	if _, err := sess.Run(); err != nil {
		return 0, err
	}
	if err := sess.Exit(InterceptHostIntf, writeDescriptor(host.Store)); err != nil {
		return 0, err
	}
	return host.PSW.IA + 4, nil
}
