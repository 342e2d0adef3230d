// Representative RR/RX/RS/SI/SS handlers, grounded on emu/cpu/cpu_standard.go.
// Not every opcode in the architecture is implemented; the ones here span
// every instruction class spec §7's exception taxonomy names, and follow
// the teacher's per-opcode function shape closely enough that adding the
// remaining opcodes is a mechanical extension, not a different pattern
// (see DESIGN.md's C4 entry).
package cpu

import "github.com/rcornwell/s370e/internal/arch/dat"

// buildTable wires the dispatch table, mirroring the teacher's table
// literal in emu/cpu/cpu_standard.go's init-time assignment.
func (c *CPU) buildTable() {
	for i := range c.table {
		c.table[i] = opUnknown
	}
	c.table[0x1a] = opAR   // AR
	c.table[0x1b] = opSR   // SR
	c.table[0x1e] = opALR  // ALR
	c.table[0x1f] = opSLR  // SLR
	c.table[0x14] = opNR   // NR
	c.table[0x16] = opOR   // OR
	c.table[0x17] = opXR   // XR
	c.table[0x15] = opCLR  // CLR
	c.table[0x19] = opCR   // CR
	c.table[0x18] = opLR   // LR
	c.table[0x12] = opLTR  // LTR
	c.table[0x13] = opLCR  // LCR
	c.table[0x11] = opLNR  // LNR
	c.table[0x10] = opLPR  // LPR
	c.table[0x05] = opBALR // BALR
	c.table[0x07] = opBCR  // BCR

	c.table[0x5a] = opA  // A
	c.table[0x5b] = opS  // S
	c.table[0x5e] = opAL // AL
	c.table[0x5f] = opSL // SL
	c.table[0x54] = opN  // N
	c.table[0x56] = opO  // O
	c.table[0x57] = opX  // X
	c.table[0x59] = opC  // C
	c.table[0x58] = opL  // L
	c.table[0x50] = opST // ST
	c.table[0x47] = opBC // BC
	c.table[0x45] = opBAL // BAL
	c.table[0x41] = opLA  // LA
	c.table[0x43] = opIC  // IC
	c.table[0x42] = opSTC // STC

	c.table[0x90] = opSTM // STM
	c.table[0x98] = opLM  // LM
	c.table[0xb6] = opSTCTL // STCTL
	c.table[0xb7] = opLCTL  // LCTL

	c.table[0x92] = opMVI // MVI
	c.table[0x95] = opCLI // CLI
	c.table[0x91] = opTM  // TM

	c.table[0xd2] = opMVC // MVC
	c.table[0xd5] = opCLC // CLC
	c.table[0x0e] = opMVCL // MVCL
	c.table[0x0f] = opCLCL // CLCL

	c.table[0x9c] = opSIO // SIO (S/370-compat)
	c.table[0x9d] = opTIO // TIO
	c.table[0x9e] = opHIO // HIO
	c.table[0x9f] = opTCH // TCH
	c.table[0xb2] = opB2  // extended-opcode group: SSCH/TSCH/CLRSCH/RSCH/MVPG via second byte
	c.table[0xb1] = opLRA // LRA
}

func setCC2(c *CPU, a, b int32) {
	switch {
	case a == b:
		c.PSW.CC = 0
	case a < b:
		c.PSW.CC = 1
	default:
		c.PSW.CC = 2
	}
}

func opAR(c *CPU, s *stepInfo) (uint32, error) {
	r := int32(c.GPR[s.r1]) + int32(c.GPR[s.r2])
	c.GPR[s.r1] = uint32(r)
	setArithCC(c, r)
	return c.PSW.IA + 2, nil
}

func opSR(c *CPU, s *stepInfo) (uint32, error) {
	r := int32(c.GPR[s.r1]) - int32(c.GPR[s.r2])
	c.GPR[s.r1] = uint32(r)
	setArithCC(c, r)
	return c.PSW.IA + 2, nil
}

func opALR(c *CPU, s *stepInfo) (uint32, error) {
	a, b := c.GPR[s.r1], c.GPR[s.r2]
	r := a + b
	c.GPR[s.r1] = r
	setLogicalCC(c, r, r < a)
	return c.PSW.IA + 2, nil
}

func opSLR(c *CPU, s *stepInfo) (uint32, error) {
	a, b := c.GPR[s.r1], c.GPR[s.r2]
	r := a - b
	c.GPR[s.r1] = r
	setLogicalCC(c, r, a >= b)
	return c.PSW.IA + 2, nil
}

func opNR(c *CPU, s *stepInfo) (uint32, error) {
	c.GPR[s.r1] &= c.GPR[s.r2]
	setZeroCC(c, c.GPR[s.r1])
	return c.PSW.IA + 2, nil
}

func opOR(c *CPU, s *stepInfo) (uint32, error) {
	c.GPR[s.r1] |= c.GPR[s.r2]
	setZeroCC(c, c.GPR[s.r1])
	return c.PSW.IA + 2, nil
}

func opXR(c *CPU, s *stepInfo) (uint32, error) {
	c.GPR[s.r1] ^= c.GPR[s.r2]
	setZeroCC(c, c.GPR[s.r1])
	return c.PSW.IA + 2, nil
}

func opCLR(c *CPU, s *stepInfo) (uint32, error) {
	setCC2(c, int32(uint32LT(c.GPR[s.r1], c.GPR[s.r2])), 0)
	return c.PSW.IA + 2, nil
}

func uint32LT(a, b uint32) int32 {
	switch {
	case a == b:
		return 0
	case a < b:
		return -1
	default:
		return 1
	}
}

func opCR(c *CPU, s *stepInfo) (uint32, error) {
	setCC2(c, int32(c.GPR[s.r1]), int32(c.GPR[s.r2]))
	return c.PSW.IA + 2, nil
}

func opLR(c *CPU, s *stepInfo) (uint32, error) {
	c.GPR[s.r1] = c.GPR[s.r2]
	return c.PSW.IA + 2, nil
}

func opLTR(c *CPU, s *stepInfo) (uint32, error) {
	c.GPR[s.r1] = c.GPR[s.r2]
	setArithCC(c, int32(c.GPR[s.r1]))
	return c.PSW.IA + 2, nil
}

func opLCR(c *CPU, s *stepInfo) (uint32, error) {
	v := -int32(c.GPR[s.r2])
	c.GPR[s.r1] = uint32(v)
	setArithCC(c, v)
	if c.GPR[s.r2] == 0x80000000 {
		return 0, ProgramCheck{Code: ExcFixedOverflow, Nullify: false}
	}
	return c.PSW.IA + 2, nil
}

func opLNR(c *CPU, s *stepInfo) (uint32, error) {
	v := int32(c.GPR[s.r2])
	if v > 0 {
		v = -v
	}
	c.GPR[s.r1] = uint32(v)
	setArithCC(c, v)
	return c.PSW.IA + 2, nil
}

func opLPR(c *CPU, s *stepInfo) (uint32, error) {
	v := int32(c.GPR[s.r2])
	if v < 0 {
		v = -v
	}
	c.GPR[s.r1] = uint32(v)
	setArithCC(c, v)
	if c.GPR[s.r2] == 0x80000000 {
		return 0, ProgramCheck{Code: ExcFixedOverflow, Nullify: false}
	}
	return c.PSW.IA + 2, nil
}

func opBALR(c *CPU, s *stepInfo) (uint32, error) {
	ret := c.PSW.IA + 2
	if s.r1 != 0 {
		c.GPR[s.r1] = ret
	}
	if s.r2 == 0 {
		return ret, nil
	}
	return c.GPR[s.r2] & 0x7fffffff, nil
}

func opBCR(c *CPU, s *stepInfo) (uint32, error) {
	if branchTaken(s.r1, c.PSW.CC) && s.r2 != 0 {
		return c.GPR[s.r2] & 0x7fffffff, nil
	}
	return c.PSW.IA + 2, nil
}

func branchTaken(mask uint8, cc uint8) bool {
	return mask&(1<<(3-cc)) != 0
}

func setArithCC(c *CPU, r int32) {
	switch {
	case r == 0:
		c.PSW.CC = 0
	case r < 0:
		c.PSW.CC = 1
	default:
		c.PSW.CC = 2
	}
}

func setLogicalCC(c *CPU, r uint32, carry bool) {
	switch {
	case r == 0 && !carry:
		c.PSW.CC = 0
	case r != 0 && !carry:
		c.PSW.CC = 1
	case r == 0 && carry:
		c.PSW.CC = 2
	default:
		c.PSW.CC = 3
	}
}

func setZeroCC(c *CPU, r uint32) {
	if r == 0 {
		c.PSW.CC = 0
	} else {
		c.PSW.CC = 1
	}
}

// RX-format handlers resolve the second operand via effAddr + readWord,
// mirroring the teacher's opAdd/opSub/opAnd/opOr/opXor/opCmp/opL/opST shapes.

func opA(c *CPU, s *stepInfo) (uint32, error) {
	v, err := c.readWord(c.effAddr(s.addr1))
	if err != nil {
		return 0, err
	}
	r := int32(c.GPR[s.r1]) + int32(v)
	c.GPR[s.r1] = uint32(r)
	setArithCC(c, r)
	return c.PSW.IA + 4, nil
}

func opS(c *CPU, s *stepInfo) (uint32, error) {
	v, err := c.readWord(c.effAddr(s.addr1))
	if err != nil {
		return 0, err
	}
	r := int32(c.GPR[s.r1]) - int32(v)
	c.GPR[s.r1] = uint32(r)
	setArithCC(c, r)
	return c.PSW.IA + 4, nil
}

func opAL(c *CPU, s *stepInfo) (uint32, error) {
	v, err := c.readWord(c.effAddr(s.addr1))
	if err != nil {
		return 0, err
	}
	a := c.GPR[s.r1]
	r := a + v
	c.GPR[s.r1] = r
	setLogicalCC(c, r, r < a)
	return c.PSW.IA + 4, nil
}

func opSL(c *CPU, s *stepInfo) (uint32, error) {
	v, err := c.readWord(c.effAddr(s.addr1))
	if err != nil {
		return 0, err
	}
	a := c.GPR[s.r1]
	r := a - v
	c.GPR[s.r1] = r
	setLogicalCC(c, r, a >= v)
	return c.PSW.IA + 4, nil
}

func opN(c *CPU, s *stepInfo) (uint32, error) {
	v, err := c.readWord(c.effAddr(s.addr1))
	if err != nil {
		return 0, err
	}
	c.GPR[s.r1] &= v
	setZeroCC(c, c.GPR[s.r1])
	return c.PSW.IA + 4, nil
}

func opO(c *CPU, s *stepInfo) (uint32, error) {
	v, err := c.readWord(c.effAddr(s.addr1))
	if err != nil {
		return 0, err
	}
	c.GPR[s.r1] |= v
	setZeroCC(c, c.GPR[s.r1])
	return c.PSW.IA + 4, nil
}

func opX(c *CPU, s *stepInfo) (uint32, error) {
	v, err := c.readWord(c.effAddr(s.addr1))
	if err != nil {
		return 0, err
	}
	c.GPR[s.r1] ^= v
	setZeroCC(c, c.GPR[s.r1])
	return c.PSW.IA + 4, nil
}

func opC(c *CPU, s *stepInfo) (uint32, error) {
	v, err := c.readWord(c.effAddr(s.addr1))
	if err != nil {
		return 0, err
	}
	setCC2(c, int32(c.GPR[s.r1]), int32(v))
	return c.PSW.IA + 4, nil
}

func opL(c *CPU, s *stepInfo) (uint32, error) {
	v, err := c.readWord(c.effAddr(s.addr1))
	if err != nil {
		return 0, err
	}
	c.GPR[s.r1] = v
	return c.PSW.IA + 4, nil
}

func opST(c *CPU, s *stepInfo) (uint32, error) {
	if err := c.writeWord(c.effAddr(s.addr1), c.GPR[s.r1]); err != nil {
		return 0, err
	}
	return c.PSW.IA + 4, nil
}

func opLA(c *CPU, s *stepInfo) (uint32, error) {
	c.GPR[s.r1] = c.effAddr(s.addr1)
	return c.PSW.IA + 4, nil
}

func opIC(c *CPU, s *stepInfo) (uint32, error) {
	v, err := c.readByte(c.effAddr(s.addr1))
	if err != nil {
		return 0, err
	}
	c.GPR[s.r1] = (c.GPR[s.r1] &^ 0xff) | uint32(v)
	return c.PSW.IA + 4, nil
}

func opSTC(c *CPU, s *stepInfo) (uint32, error) {
	if err := c.writeByte(c.effAddr(s.addr1), uint8(c.GPR[s.r1])); err != nil {
		return 0, err
	}
	return c.PSW.IA + 4, nil
}

func opBC(c *CPU, s *stepInfo) (uint32, error) {
	target := c.effAddr(s.addr1)
	if branchTaken(s.r1, c.PSW.CC) {
		return target, nil
	}
	return c.PSW.IA + 4, nil
}

func opBAL(c *CPU, s *stepInfo) (uint32, error) {
	ret := c.PSW.IA + 4
	if s.r1 != 0 {
		c.GPR[s.r1] = ret
	}
	return c.effAddr(s.addr1), nil
}

func opLRA(c *CPU, s *stepInfo) (uint32, error) {
	real, err := c.realAddr(c.effAddr(s.addr1), dat.AccessLRA)
	if err != nil {
		c.PSW.CC = 3
		return c.PSW.IA + 4, nil
	}
	c.GPR[s.r1] = real
	c.PSW.CC = 0
	return c.PSW.IA + 4, nil
}

// RS-format register-range load/store, grounded on opLM/opSTM.

func opSTM(c *CPU, s *stepInfo) (uint32, error) {
	addr := c.effAddr(s.addr1)
	r := s.r1
	for {
		if err := c.writeWord(addr, c.GPR[r]); err != nil {
			return 0, err
		}
		addr += 4
		if r == s.r2 {
			break
		}
		r = (r + 1) & 0xf
	}
	return c.PSW.IA + 4, nil
}

func opLM(c *CPU, s *stepInfo) (uint32, error) {
	addr := c.effAddr(s.addr1)
	r := s.r1
	for {
		v, err := c.readWord(addr)
		if err != nil {
			return 0, err
		}
		c.GPR[r] = v
		addr += 4
		if r == s.r2 {
			break
		}
		r = (r + 1) & 0xf
	}
	return c.PSW.IA + 4, nil
}

// opSTCTL stores control registers r1..r3 to consecutive words, the STCTL
// counterpart to opSTM over c.CR instead of c.GPR.
func opSTCTL(c *CPU, s *stepInfo) (uint32, error) {
	addr := c.effAddr(s.addr1)
	r := s.r1
	for {
		if err := c.writeWord(addr, c.CR[r]); err != nil {
			return 0, err
		}
		addr += 4
		if r == s.r2 {
			break
		}
		r = (r + 1) & 0xf
	}
	return c.PSW.IA + 4, nil
}

// opLCTL loads control registers r1..r3 from consecutive words and purges
// the DAT translator, matching spec §4.2's purge-on-CR-change discipline:
// any LCTL can change a segment-table origin, an access-register mode bit,
// or a key, so the whole TLB/ALB is invalidated rather than trying to
// track which of CR0/CR1/CR7/CR13 actually changed.
func opLCTL(c *CPU, s *stepInfo) (uint32, error) {
	addr := c.effAddr(s.addr1)
	r := s.r1
	for {
		v, err := c.readWord(addr)
		if err != nil {
			return 0, err
		}
		c.CR[r] = v
		addr += 4
		if r == s.r2 {
			break
		}
		r = (r + 1) & 0xf
	}
	c.DAT.PurgeTLB()
	c.DAT.PurgeALB()
	return c.PSW.IA + 4, nil
}

// SI-format immediate handlers, grounded on opMVI/opCLI/opTM.

func opMVI(c *CPU, s *stepInfo) (uint32, error) {
	imm := s.imm8
	if err := c.writeByte(c.effAddr(s.addr1), imm); err != nil {
		return 0, err
	}
	return c.PSW.IA + 4, nil
}

func opCLI(c *CPU, s *stepInfo) (uint32, error) {
	imm := s.imm8
	v, err := c.readByte(c.effAddr(s.addr1))
	if err != nil {
		return 0, err
	}
	setCC2(c, int32(v), int32(imm))
	return c.PSW.IA + 4, nil
}

func opTM(c *CPU, s *stepInfo) (uint32, error) {
	mask := s.imm8
	v, err := c.readByte(c.effAddr(s.addr1))
	if err != nil {
		return 0, err
	}
	switch sel := v & mask; {
	case sel == 0:
		c.PSW.CC = 0
	case sel == mask:
		c.PSW.CC = 3
	default:
		c.PSW.CC = 1
	}
	return c.PSW.IA + 4, nil
}

// SS-format MVC/CLC, grounded on opMem/opCLC.

func opMVC(c *CPU, s *stepInfo) (uint32, error) {
	n := int(s.length) + 1
	src := c.effAddr(s.addr2)
	dst := c.effAddr(s.addr1)
	for i := 0; i < n; i++ {
		b, err := c.readByte(src + uint32(i))
		if err != nil {
			return 0, err
		}
		if err := c.writeByte(dst+uint32(i), b); err != nil {
			return 0, err
		}
	}
	return c.PSW.IA + 6, nil
}

func opCLC(c *CPU, s *stepInfo) (uint32, error) {
	n := int(s.length) + 1
	a := c.effAddr(s.addr1)
	b := c.effAddr(s.addr2)
	for i := 0; i < n; i++ {
		x, err := c.readByte(a + uint32(i))
		if err != nil {
			return 0, err
		}
		y, err := c.readByte(b + uint32(i))
		if err != nil {
			return 0, err
		}
		if x != y {
			setCC2(c, int32(x), int32(y))
			return c.PSW.IA + 6, nil
		}
	}
	c.PSW.CC = 0
	return c.PSW.IA + 6, nil
}

// opMVCL and opCLCL are the interruptible long-instruction exemplar, ported
// from emu/cpu/cpu_standard.go's opMVCL (lines ~1114-1185): operand
// registers must be even/odd pairs, destination and source length/address
// come from the GPR pair named by r1/r2, overlap is checked before the
// byte loop runs, and CC reflects the length comparison. The teacher
// restarts the whole instruction from updated registers on an interrupt
// between bytes (PER/external); this port gives the same restartability by
// writing back GPR state after every byte, so a re-Step() after an
// interrupt resumes exactly where it left off.
func opMVCL(c *CPU, s *stepInfo) (uint32, error) {
	if s.r1&1 != 0 || s.r2&1 != 0 {
		return 0, ProgramCheck{Code: ExcSpecification, Nullify: true}
	}
	dstAddr := c.GPR[s.r1] & 0x7fffffff
	dstLen := c.GPR[s.r1+1] & 0x00ffffff
	srcAddr := c.GPR[s.r2] & 0x7fffffff
	srcLen := c.GPR[s.r2+1] & 0x00ffffff
	padByte := uint8(c.GPR[s.r2+1] >> 24)

	n := dstLen
	if srcLen < n {
		n = srcLen
	}
	if n > 0 && dstAddr < srcAddr+n && srcAddr < dstAddr+n {
		c.PSW.CC = 3
		return c.PSW.IA + 2, nil
	}

	switch {
	case dstLen == srcLen:
		c.PSW.CC = 0
	case dstLen < srcLen:
		c.PSW.CC = 1
	default:
		c.PSW.CC = 2
	}

	for dstLen > 0 {
		var b uint8
		var err error
		if srcLen > 0 {
			b, err = c.readByte(srcAddr)
			srcAddr++
			srcLen--
		} else {
			b = padByte
		}
		if err != nil {
			return 0, err
		}
		if err := c.writeByte(dstAddr, b); err != nil {
			return 0, err
		}
		dstAddr++
		dstLen--

		c.GPR[s.r1] = dstAddr
		c.GPR[s.r1+1] = (c.GPR[s.r1+1] &^ 0x00ffffff) | dstLen
		c.GPR[s.r2] = srcAddr
		c.GPR[s.r2+1] = (c.GPR[s.r2+1] &^ 0x00ffffff) | srcLen
	}
	return c.PSW.IA + 2, nil
}

func opCLCL(c *CPU, s *stepInfo) (uint32, error) {
	if s.r1&1 != 0 || s.r2&1 != 0 {
		return 0, ProgramCheck{Code: ExcSpecification, Nullify: true}
	}
	aAddr := c.GPR[s.r1] & 0x7fffffff
	aLen := c.GPR[s.r1+1] & 0x00ffffff
	bAddr := c.GPR[s.r2] & 0x7fffffff
	bLen := c.GPR[s.r2+1] & 0x00ffffff
	aPad := uint8(c.GPR[s.r1+1] >> 24)
	bPad := uint8(c.GPR[s.r2+1] >> 24)

	c.PSW.CC = 0
	for aLen > 0 || bLen > 0 {
		var x, y uint8
		var err error
		if aLen > 0 {
			x, err = c.readByte(aAddr)
			if err != nil {
				return 0, err
			}
		} else {
			x = aPad
		}
		if bLen > 0 {
			y, err = c.readByte(bAddr)
			if err != nil {
				return 0, err
			}
		} else {
			y = bPad
		}
		if x != y {
			setCC2(c, int32(x), int32(y))
			break
		}
		if aLen > 0 {
			aAddr++
			aLen--
		}
		if bLen > 0 {
			bAddr++
			bLen--
		}
		c.GPR[s.r1] = aAddr
		c.GPR[s.r1+1] = (c.GPR[s.r1+1] &^ 0x00ffffff) | aLen
		c.GPR[s.r2] = bAddr
		c.GPR[s.r2+1] = (c.GPR[s.r2+1] &^ 0x00ffffff) | bLen
	}
	return c.PSW.IA + 2, nil
}
