// Package psw implements C3's PSW half of spec §4.3: the program status
// word itself, its EC/BC-mode serialization, and the fixed prefixed-storage
// slots every interrupt class stores through. Grounded on the storePSW
// layout in emu/cpu/cpu.go and the low-address constants in
// emu/cpu/cpudefs.go (oEPSW/oSPSW/oPPSW/oMPSW/oIOPSW/nEPSW/...), generalized
// to a standalone PSW value type instead of fields scattered across the
// teacher's single global cpuState.
package psw

// Prefixed low-address slots (spec §3, relative to the per-CPU prefix).
const (
	IPSW      uint32 = 0x000
	ICCW1     uint32 = 0x008
	ICCW2     uint32 = 0x010
	ExternalOld uint32 = 0x018
	SVCOld      uint32 = 0x020
	ProgramOld  uint32 = 0x028
	MCheckOld   uint32 = 0x030
	IOOld       uint32 = 0x038
	CSW         uint32 = 0x040
	CAW         uint32 = 0x048
	IntervalTimer uint32 = 0x050
	ExternalNew uint32 = 0x058
	SVCNew      uint32 = 0x060
	ProgramNew  uint32 = 0x068
	MCheckNew   uint32 = 0x070
	IONew       uint32 = 0x078
)

// PSW mirrors spec §3's field list.
type PSW struct {
	SystemMask   uint16 // BC-mode PSW bytes 0-1; the channel-mask byte is the high byte
	Key          uint8
	ECMode       bool
	MachineCheck bool
	Wait         bool
	ProblemState bool
	SpaceMode    uint8 // 0=primary,1=AR,2=secondary,3=home
	ARMode       bool
	CC           uint8
	ProgramMask  uint8
	Amode        uint8 // 0=24,1=31,2=64 (24/31 meaningfully supported here)
	IA           uint32
	IntCode      uint16
	ILC          uint8

	ExtEnable   bool
	IOEnable    bool
	PEREnable   bool
	DATEnable   bool
}

// Store serializes psw into the 8-byte wire format at vector (spec §4.3
// "store-PSW"), choosing EC or BC layout by ECMode, mirroring the teacher's
// storePSW but returning the bytes instead of writing memory directly so
// the caller (internal/arch/cpu) can route them through DAT/storage with
// its own key.
func (p PSW) Store() [8]byte {
	var w1, w2 uint32
	if p.ECMode {
		w1 = 0x80000 |
			uint32(p.Key)<<16 |
			uint32(p.CC)<<12 |
			uint32(p.ProgramMask)<<8
		if p.DATEnable {
			w1 |= 0x04000000
		}
		if p.IOEnable {
			w1 |= 0x02000000
		}
		if p.ExtEnable {
			w1 |= 0x01000000
		}
		if p.PEREnable {
			w1 |= 0x40000000
		}
		if p.MachineCheck {
			w1 |= 0x00040000
		}
		if p.Wait {
			w1 |= 0x00020000
		}
		if p.ProblemState {
			w1 |= 0x00010000
		}
		w2 = p.IA
	} else {
		w1 = uint32(p.SystemMask)<<16 |
			uint32(p.Key)<<16 |
			uint32(p.IntCode)
		if p.ExtEnable {
			w1 |= 0x01000000
		}
		w2 = uint32(p.ILC)<<30 |
			uint32(p.CC)<<28 |
			uint32(p.ProgramMask)<<24 |
			(p.IA & 0x00ffffff)
	}
	var out [8]byte
	out[0] = byte(w1 >> 24)
	out[1] = byte(w1 >> 16)
	out[2] = byte(w1 >> 8)
	out[3] = byte(w1)
	out[4] = byte(w2 >> 24)
	out[5] = byte(w2 >> 16)
	out[6] = byte(w2 >> 8)
	out[7] = byte(w2)
	return out
}

// Load parses an 8-byte PSW image (spec §4.3 "load-PSW"). Bit 12 selects
// EC mode; an EC-mode PSW with any reserved bit (0, 2-4, 24-31) set is
// rejected. The addressing-mode bit is not checked: in EC mode the whole
// second word is taken as the instruction address.
func Load(raw [8]byte) (PSW, error) {
	w1 := uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
	w2 := uint32(raw[4])<<24 | uint32(raw[5])<<16 | uint32(raw[6])<<8 | uint32(raw[7])

	p := PSW{}
	p.ECMode = w1&0x80000 != 0
	p.Key = uint8((w1 >> 16) & 0xf0)
	p.MachineCheck = w1&0x00040000 != 0
	p.Wait = w1&0x00020000 != 0
	p.ProblemState = w1&0x00010000 != 0

	if p.ECMode {
		if w1&0xb80000ff != 0 {
			return PSW{}, ErrSpecification{Reason: "reserved EC-mode bits set"}
		}
		p.DATEnable = w1&0x04000000 != 0
		p.IOEnable = w1&0x02000000 != 0
		p.ExtEnable = w1&0x01000000 != 0
		p.PEREnable = w1&0x40000000 != 0
		p.CC = uint8((w1 >> 12) & 0x3)
		p.ProgramMask = uint8((w1 >> 8) & 0xf)
		p.IA = w2
	} else {
		p.SystemMask = uint16(w1 >> 16)
		p.ExtEnable = w1&0x01000000 != 0
		p.IntCode = uint16(w1 & 0xffff)
		p.ILC = uint8((w2 >> 30) & 0x3)
		p.CC = uint8((w2 >> 28) & 0x3)
		p.ProgramMask = uint8((w2 >> 24) & 0xf)
		p.IA = w2 & 0x00ffffff
	}
	return p, nil
}

// ErrSpecification is raised by Load when reserved PSW bits are invalid.
type ErrSpecification struct{ Reason string }

func (e ErrSpecification) Error() string { return "specification exception: " + e.Reason }
