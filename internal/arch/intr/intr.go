// Package intr implements the pending-interrupt aggregation and priority
// half of C3 (spec §4.3). Grounded on the scattered boolean pending/enable
// flags in emu/cpu/cpudefs.go (extIrq/extEnb, intIrq/intEnb, clkIrq/todEnb,
// ...) and the dispatch order in emu/cpu/cpu_system.go's interrupt checks,
// generalized into one aggregation type per spec's "each CPU maintains a
// boolean do-interrupt recomputed whenever any contributing source
// changes" plus the explicit ESA/390 sources the teacher's S/370-only code
// never had (restart, broadcast-pending, emergency/external-call).
package intr

// Class names an interrupt class for the priority table (spec §4.3).
type Class int

const (
	ClassBroadcastSync Class = iota
	ClassMachineCheck
	ClassExternal
	ClassIO
	ClassStopping
	ClassRestart
	ClassWait
	classCount
)

// Pending tracks every contributing source named in spec §4.3 for one CPU.
// Mutation happens under the owning CPU's interrupt lock (spec §5
// sysblk.intlock); this type itself does no locking — the caller
// (internal/arch/cpu) owns synchronization so this stays a plain value type
// usable from tests without a mutex.
type Pending struct {
	ExternalPending bool
	ExternalMask    bool

	IOPending bool
	IOMask    bool // ESA/390 enable bit; BC-mode uses ChannelMask below
	ChannelMask byte // BC-mode: one bit per channel group

	MachineCheckPending bool
	MachineCheckEnable  bool

	RestartPending bool

	CPUTimerNegative bool
	TimerMask        bool

	ClockComparatorReached bool
	CCMask                 bool

	ServiceSignalPending bool

	IntervalTimerPending bool // S/370 only

	EmergencySignal  bool
	ExternalCall     bool

	Wait       bool
	NotStarted bool

	BroadcastPending bool
}

// AnyPending reports whether do-interrupt should be true: any contributing
// source is both pending and enabled (or architecturally always-taken, like
// broadcast sync and restart).
func (p *Pending) AnyPending() bool {
	return p.BroadcastPending ||
		p.MachineCheckPending && p.MachineCheckEnable ||
		p.ExternalPending && p.ExternalMask ||
		p.IOPending && (p.IOMask || p.ChannelMask != 0) ||
		p.RestartPending ||
		p.CPUTimerNegative && p.TimerMask ||
		p.ClockComparatorReached && p.CCMask ||
		p.ServiceSignalPending ||
		p.IntervalTimerPending ||
		p.EmergencySignal ||
		p.ExternalCall
}

// Highest returns the highest-priority class with a real pending-and-masked
// condition, in the exact order spec §4.3 specifies: broadcast sync,
// machine check, external, I/O, stopping, restart, wait.
func (p *Pending) Highest(stopping bool) (Class, bool) {
	switch {
	case p.BroadcastPending:
		return ClassBroadcastSync, true
	case p.MachineCheckPending && p.MachineCheckEnable:
		return ClassMachineCheck, true
	case p.ExternalPending && p.ExternalMask,
		p.EmergencySignal, p.ExternalCall,
		p.ServiceSignalPending,
		p.CPUTimerNegative && p.TimerMask,
		p.ClockComparatorReached && p.CCMask,
		p.IntervalTimerPending:
		return ClassExternal, true
	case p.IOPending && (p.IOMask || p.ChannelMask != 0):
		return ClassIO, true
	case stopping:
		return ClassStopping, true
	case p.RestartPending:
		return ClassRestart, true
	case p.Wait:
		return ClassWait, true
	}
	return 0, false
}
