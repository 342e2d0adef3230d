// Package channel implements C6: the channel subsystem (spec §4.6),
// generalized from the teacher's S/370 SIO/CSW model in
// emu/sys_channel/channel.go to ESA/390's PMCW/SCSW subchannel model while
// keeping the teacher's CSW-in-PSA path alive for the legacy SIO/TIO/HIO
// instructions (spec requires both families coexist). Grounded on
// chandefs.go's chanCtl/chanDev struct shape and channel.go's StartIO/
// TestIO/HaltIO/ChanEnd state machine.
package channel

import (
	"sync"

	"github.com/rcornwell/s370e/internal/ioarch/ccw"
	"github.com/rcornwell/s370e/internal/ioarch/device"
)

// PMCW mirrors the architecture's path-management control word: the
// per-subchannel configuration the teacher's chanDev.devTab/devStatus pair
// approximated with parallel arrays indexed by device number instead of
// subchannel number. ESA/390 indexes everything by subchannel number, which
// is why this is keyed differently from the teacher.
type PMCW struct {
	DevNum  uint16
	Valid   bool
	Enabled bool
}

// SCSW mirrors the architecture's subchannel-status word (spec §4.6):
// control, status, and the CCW address/residual-count pair the teacher
// split across chanCtl.ccwAddr/chanStatus and the CSW-in-PSA image.
type SCSW struct {
	Pending   bool
	Busy      bool
	Status    ccw.Status
	CCWAddr   uint32
	Key       uint8
}

type subchannel struct {
	mu   sync.Mutex
	pmcw PMCW
	scsw SCSW
	dev  device.Device
}

// Subsystem is the shared channel subsystem every CPU's I/O instructions
// route through (internal/arch/cpu.ChannelUnit). One Subsystem serves every
// engine, matching spec's "channel subsystem is shared infrastructure, not
// per-CPU state".
type Subsystem struct {
	mu   sync.Mutex
	subs [4096]subchannel
	exec *ccw.Executor

	pending chan uint16 // subchannel numbers with a status change to present
}

func New(exec *ccw.Executor) *Subsystem {
	s := &Subsystem{exec: exec, pending: make(chan uint16, 256)}
	return s
}

// Attach registers a device at a fixed subchannel number, generalized from
// the teacher's AddDevice (which indexed by device number on a fixed
// channel-group/unit split).
func (s *Subsystem) Attach(subchan uint16, devNum uint16, dev device.Device) {
	sc := &s.subs[subchan]
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.pmcw = PMCW{DevNum: devNum, Valid: true, Enabled: true}
	sc.dev = dev
}

func (s *Subsystem) lookup(subchan uint16) *subchannel {
	if int(subchan) >= len(s.subs) {
		return nil
	}
	return &s.subs[subchan]
}

// StartSubchannel implements SSCH (and the legacy SIO path): if the
// subchannel is free, launches the CCW chain on its own goroutine and
// returns cc=0 immediately, per spec §4.6 and §5's one-thread-per-active-
// device concurrency model. The calling CPU engine observes completion
// later through PresentInterrupt/HasPending rather than blocking here;
// spec §4.6's synchronous exception (certain diagnose-driven "synchronous
// general I/O" starts) is handled by RunSynchronous instead of this path.
func (s *Subsystem) StartSubchannel(subchan uint16, ccwAddr uint32, key uint8) (uint8, error) {
	sc := s.lookup(subchan)
	if sc == nil || !sc.pmcw.Valid {
		return 3, nil
	}
	sc.mu.Lock()
	if sc.scsw.Busy {
		sc.mu.Unlock()
		return 2, nil
	}
	if sc.scsw.Pending {
		sc.mu.Unlock()
		return 1, nil
	}
	sc.scsw.Busy = true
	sc.scsw.CCWAddr = ccwAddr
	sc.scsw.Key = key
	dev := sc.dev
	sc.mu.Unlock()

	go s.runChain(subchan, sc, dev, ccwAddr, key)
	return 0, nil
}

// RunSynchronous executes a CCW chain on the calling goroutine and blocks
// until it finishes, for the "synchronous general I/O" diagnoses spec §4.6
// carves out as an exception to the otherwise-asynchronous model (those
// diagnoses are defined to complete before the issuing instruction does, so
// they cannot be handed to runChain's background path).
func (s *Subsystem) RunSynchronous(subchan uint16, ccwAddr uint32, key uint8) (uint8, error) {
	sc := s.lookup(subchan)
	if sc == nil || !sc.pmcw.Valid {
		return 3, nil
	}
	sc.mu.Lock()
	if sc.scsw.Busy {
		sc.mu.Unlock()
		return 2, nil
	}
	sc.scsw.Busy = true
	sc.scsw.CCWAddr = ccwAddr
	sc.scsw.Key = key
	dev := sc.dev
	sc.mu.Unlock()

	status, err := s.exec.Run(dev, ccwAddr, key)

	sc.mu.Lock()
	sc.scsw.Busy = false
	sc.scsw.Status = status
	sc.mu.Unlock()
	if err != nil {
		return 3, err
	}
	return 0, nil
}

// runChain executes one device's CCW chain off the CPU goroutine and
// publishes the resulting status for PresentInterrupt to pick up,
// mirroring the teacher's StartIO completion path but decoupled in time
// from the instruction that issued SSCH/SIO.
func (s *Subsystem) runChain(subchan uint16, sc *subchannel, dev device.Device, ccwAddr uint32, key uint8) {
	status, err := s.exec.Run(dev, ccwAddr, key)
	if err != nil {
		status.Channel |= 0x0200 // program-check-equivalent channel status; no data transferred
	}

	sc.mu.Lock()
	sc.scsw.Busy = false
	sc.scsw.Pending = true
	sc.scsw.Status = status
	sc.mu.Unlock()

	select {
	case s.pending <- subchan:
	default:
	}
}

// HasPending reports whether any subchannel has a status change waiting for
// PresentInterrupt, the boolean the CPU's I/O-pending bit tracks (spec
// §4.3's I/O interrupt source).
func (s *Subsystem) HasPending() bool {
	return len(s.pending) > 0
}

// TestSubchannel implements TSCH/TIO: clears and returns pending status.
func (s *Subsystem) TestSubchannel(subchan uint16) (uint8, [8]byte) {
	sc := s.lookup(subchan)
	var word [8]byte
	if sc == nil || !sc.pmcw.Valid {
		return 3, word
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.scsw.Busy {
		return 2, word
	}
	if !sc.scsw.Pending {
		return 0, word
	}
	word = encodeSCSW(sc.scsw)
	sc.scsw.Pending = false
	return 1, word
}

// HaltSubchannel implements HIO/HSCH, grounded on HaltIO.
func (s *Subsystem) HaltSubchannel(subchan uint16) uint8 {
	sc := s.lookup(subchan)
	if sc == nil || !sc.pmcw.Valid {
		return 3
	}
	sc.mu.Lock()
	if !sc.scsw.Busy {
		sc.mu.Unlock()
		return 1
	}
	dev := sc.dev
	sc.mu.Unlock()

	if dev != nil {
		dev.HaltIO()
	}

	sc.mu.Lock()
	sc.scsw.Busy = false
	sc.mu.Unlock()
	return 0
}

// ClearSubchannel implements CLRSCH/CLRCH: discards pending status and
// returns the subchannel to its initial state.
func (s *Subsystem) ClearSubchannel(subchan uint16) uint8 {
	sc := s.lookup(subchan)
	if sc == nil || !sc.pmcw.Valid {
		return 3
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.scsw = SCSW{}
	return 0
}

// PresentInterrupt pops the next subchannel with status pending, for the
// I/O-interrupt class handler to surface to a CPU (spec §4.3's I/O
// interrupt source).
func (s *Subsystem) PresentInterrupt() (uint16, [8]byte, bool) {
	select {
	case subchan := <-s.pending:
		sc := s.lookup(subchan)
		sc.mu.Lock()
		defer sc.mu.Unlock()
		if !sc.scsw.Pending {
			return 0, [8]byte{}, false
		}
		word := encodeSCSW(sc.scsw)
		return subchan, word, true
	default:
		return 0, [8]byte{}, false
	}
}

func encodeSCSW(scsw SCSW) [8]byte {
	var w [8]byte
	w[0] = byte(scsw.CCWAddr >> 24)
	w[1] = byte(scsw.CCWAddr >> 16)
	w[2] = byte(scsw.CCWAddr >> 8)
	w[3] = byte(scsw.CCWAddr)
	w[4] = scsw.Status.Unit
	w[5] = byte(scsw.Status.Channel >> 8)
	w[6] = byte(scsw.Status.Residual >> 8)
	w[7] = byte(scsw.Status.Residual)
	return w
}
