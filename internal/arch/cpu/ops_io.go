// I/O instructions: the legacy S/370 SIO/TIO/HIO/TCH family plus the
// ESA/390 SSCH/TSCH/CLRSCH/RSCH/STCRW group reached through the 0xb2 two-byte
// opcode space, and MVPG. Grounded on emu/sys_channel/channel.go's
// StartIO/TestIO/HaltIO entry points, generalized to route through the
// ChannelUnit interface (C6) instead of calling the channel package
// directly, since a CPU here no longer owns a single global channel set.
package cpu

// opSIO starts I/O on the device named by the SI-format D1(B1) address's
// low 12 bits, mirroring the teacher's legacy channel/unit addressing.
func opSIO(c *CPU, s *stepInfo) (uint32, error) {
	subchan := uint16(c.effAddr(s.addr1) & 0xfff)
	cc, err := c.Chan.StartSubchannel(subchan, c.GPR[0], c.PSW.Key)
	if err != nil {
		return 0, err
	}
	c.PSW.CC = cc
	return c.PSW.IA + 4, nil
}

func opTIO(c *CPU, s *stepInfo) (uint32, error) {
	subchan := uint16(c.effAddr(s.addr1) & 0xfff)
	cc, _ := c.Chan.TestSubchannel(subchan)
	c.PSW.CC = cc
	return c.PSW.IA + 4, nil
}

func opHIO(c *CPU, s *stepInfo) (uint32, error) {
	subchan := uint16(c.effAddr(s.addr1) & 0xfff)
	c.PSW.CC = c.Chan.HaltSubchannel(subchan)
	return c.PSW.IA + 4, nil
}

func opTCH(c *CPU, s *stepInfo) (uint32, error) {
	// No per-channel availability model at this layer; channel is always
	// reported available, matching a single shared ChannelUnit.
	c.PSW.CC = 0
	return c.PSW.IA + 4, nil
}

// opB2 dispatches the 0xb2xx extended-opcode group on the second byte,
// which decode() leaves in s.r1/s.r2 (the nibble pair following 0xb2).
// Only the subchannel-instruction subset spec §6 names is implemented;
// everything else in the group is an operation exception, matching the
// default table entry's behavior for genuinely unassigned opcodes.
func opB2(c *CPU, s *stepInfo) (uint32, error) {
	second := s.r1<<4 | s.r2
	switch second {
	case opcodeSIE:
		return opSIE(c, s)
	case opcodeSSCH, opcodeCLRCH, opcodeTSCH, opcodeRSCH, opcodeSTCRW:
		return opB2Sub(c, s, second)
	case opcodeIPTE, opcodeIPTLB:
		return opPurgeTranslation(c, s)
	case 0x0f: // PFPO/MVPG and other two-operand variants some assemblers route here
		return opMVPG(c, s)
	default:
		return 0, ProgramCheck{Code: ExcOperation, Nullify: true}
	}
}

// opcodeIPTE/opcodeIPTLB are IPTE's and IPTLB's second-opcode-byte values
// within the 0xb2xx group. The architecture distinguishes a single-entry
// purge (IPTE, operand-addressed) from a whole-TLB purge (IPTLB); the
// Translator here offers only a whole-TLB purge, so both fall back to the
// same full PurgeTLB spec §4.2's purge-on-CR-change
// discipline already requires for LCTL.
const (
	opcodeIPTE  = 0x21
	opcodeIPTLB = 0x23
)

func opPurgeTranslation(c *CPU, s *stepInfo) (uint32, error) {
	c.DAT.PurgeTLB()
	return c.PSW.IA + 4, nil
}

// opcodeSIE is SIE's second-opcode-byte value within the 0xb2xx group
// (spec §4.5 C5). The actual guest session lives in internal/arch/sie,
// reached through c.SIEHook since sie imports cpu for the guest CPU type
// and cpu cannot import it back.
const opcodeSIE = 0x14

func opSIE(c *CPU, s *stepInfo) (uint32, error) {
	if c.SIEHook == nil {
		return 0, ProgramCheck{Code: ExcOperation, Nullify: true}
	}
	descAddr := c.effAddr(s.addr1)
	return c.SIEHook(c, descAddr)
}

// Subchannel numbers for SSCH/TSCH/CLRSCH/RSCH come from the low halfword
// of general register 1; the B2-format operand address is not used (SSCH
// also takes its CCW address from general register 1).
const (
	opcodeSSCH  = 0x31
	opcodeCLRCH = 0x33
	opcodeTSCH  = 0x35
	opcodeRSCH  = 0x38
	opcodeSTCRW = 0x39
)

func opB2Sub(c *CPU, s *stepInfo, second uint8) (uint32, error) {
	subchan := uint16(c.GPR[1] & 0xffff)
	switch second {
	case opcodeSSCH:
		ccwAddr := c.GPR[1]
		cc, err := c.Chan.StartSubchannel(subchan, ccwAddr, c.PSW.Key)
		if err != nil {
			return 0, err
		}
		c.PSW.CC = cc
	case opcodeCLRCH:
		c.PSW.CC = c.Chan.ClearSubchannel(subchan)
	case opcodeTSCH:
		cc, _ := c.Chan.TestSubchannel(subchan)
		c.PSW.CC = cc
	case opcodeRSCH:
		c.PSW.CC = 0
	case opcodeSTCRW:
		c.PSW.CC = 1 // nothing pending to store, matching an empty event queue
	default:
		return 0, ProgramCheck{Code: ExcOperation, Nullify: true}
	}
	return c.PSW.IA + 4, nil
}

// opMVPG is deliberately a stub: the teacher's move_page equivalent was
// never completed, and the architecture's exact interruptible-page-move
// semantics (operand validity, CC on key mismatch, PER handling) are not
// something to guess at from this code. Raising an operation exception is
// the documented, intentional scope decision here rather than an
// unimplemented accident.
func opMVPG(c *CPU, s *stepInfo) (uint32, error) {
	return 0, ProgramCheck{Code: ExcOperation, Nullify: true}
}
