// Package ccw implements C7: the channel-command-word chain walker shared
// by every subchannel (spec §4.7). Grounded on emu/sys_channel/channel.go's
// loadCCW/readBuffer/writeBuffer trio, generalized from the teacher's
// format-0-only, global-CAW walker into a reusable Executor that parses
// both format-0 (24-bit address) and format-1 (31-bit address, IDA) CCWs,
// since spec §4.7 names both.
package ccw

import (
	"github.com/rcornwell/s370e/internal/arch/storage"
	"github.com/rcornwell/s370e/internal/ioarch/device"
)

// Chaining/flag bits, grounded on chandefs.go's chainData/chainCmd/flagSLI/
// flagSkip/flagPCI/flagIDA, renamed for clarity and widened to cover
// format-1's extra bits.
const (
	FlagChainData uint16 = 0x8000
	FlagChainCmd  uint16 = 0x4000
	FlagSLI       uint16 = 0x2000
	FlagSkip      uint16 = 0x1000
	FlagPCI       uint16 = 0x0800
	FlagIDA       uint16 = 0x0400
)

// CCW is one decoded channel command word.
type CCW struct {
	Cmd   uint8
	Addr  uint32
	Flags uint16
	Count uint16
}

// Parse decodes an 8-byte CCW. format1 selects the 31-bit-address encoding
// {command, flags, count(2), address(4)} instead of format 0's
// {command, address(3), flags, reserved, count(2)}; spec §4.7 requires
// both be understood.
func Parse(raw [8]byte, format1 bool) CCW {
	var c CCW
	c.Cmd = raw[0]
	if format1 {
		c.Flags = uint16(raw[1]) << 8
		c.Count = uint16(raw[2])<<8 | uint16(raw[3])
		c.Addr = uint32(raw[4])<<24 | uint32(raw[5])<<16 | uint32(raw[6])<<8 | uint32(raw[7])
		c.Addr &= 0x7fffffff
	} else {
		c.Addr = uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
		c.Flags = uint16(raw[4]) << 8
		c.Count = uint16(raw[6])<<8 | uint16(raw[7])
	}
	return c
}

// Status is the final subchannel status after a chain runs to completion or
// stops on an exception (spec §4.7's CSW/SCSW status-and-residual-count
// pair).
type Status struct {
	Unit     uint8
	Channel  uint16
	Residual uint16
	LastAddr uint32
}

// Executor walks a CCW chain against one device, sharing Store across every
// subchannel (spec's main-storage access during channel execution).
type Executor struct {
	Store *storage.Store
}

func NewExecutor(store *storage.Store) *Executor {
	return &Executor{Store: store}
}

// Run walks the chain starting at ccwAddr, mirroring loadCCW's per-segment
// loop: TIC redirects without consuming a data cycle; every other CCW gets
// its own StartCmd call with a buffer of that CCW's count, a data-chained
// CCW with a zero command byte reusing the previous command and command
// chaining clearing it. Counts are not carried across data-chained CCWs,
// no incorrect-length condition is detected (SLI has no effect), and
// Residual is always reported as 0.
func (e *Executor) Run(dev device.Device, ccwAddr uint32, key uint8) (Status, error) {
	format1 := ccwAddr&0x80000000 != 0
	addr := ccwAddr &^ 0x80000000

	var st Status
	var cmd uint8
	var dataBuf []byte

	const maxChain = 4096 // guards against a malformed chain looping forever
	for i := 0; i < maxChain; i++ {
		raw, err := e.fetchCCW(addr, key)
		if err != nil {
			return st, err
		}
		c := Parse(raw, format1)

		if device.IsTIC(c.Cmd) {
			addr = c.Addr
			continue
		}

		if c.Cmd != 0 {
			cmd = c.Cmd
		}

		switch {
		case cmd&device.CmdWrite != 0 && cmd != 0:
			dataBuf, err = e.readData(c.Addr, c.Count, key)
			if err != nil {
				return st, err
			}
		case cmd&device.CmdRead != 0:
			dataBuf = make([]byte, c.Count)
		default:
			dataBuf = make([]byte, c.Count)
		}

		unitStatus, err := dev.StartCmd(cmd, dataBuf)
		if err != nil {
			return st, err
		}

		if cmd&device.CmdRead != 0 && c.Flags&FlagSkip == 0 {
			if err := e.writeData(c.Addr, dataBuf, key); err != nil {
				return st, err
			}
		}

		st.Unit = unitStatus
		st.LastAddr = c.Addr + uint32(c.Count)
		st.Residual = 0

		if unitStatus&(device.StatusCheck|device.StatusExcept) != 0 {
			st.Channel |= 0x0200 // program check equivalent surfaced to caller as unit check
			return st, nil
		}

		if c.Flags&FlagChainData != 0 {
			addr += 8
			continue
		}
		if c.Flags&(FlagChainCmd) != 0 {
			addr += 8
			cmd = 0
			continue
		}
		break
	}
	return st, nil
}

func (e *Executor) fetchCCW(addr uint32, key uint8) ([8]byte, error) {
	var raw [8]byte
	for i := 0; i < 8; i++ {
		b, err := e.Store.ReadByte(addr+uint32(i), key)
		if err != nil {
			return raw, err
		}
		raw[i] = b
	}
	return raw, nil
}

func (e *Executor) readData(addr uint32, count uint16, key uint8) ([]byte, error) {
	buf := make([]byte, count)
	for i := range buf {
		b, err := e.Store.ReadByte(addr+uint32(i), key)
		if err != nil {
			return nil, err
		}
		buf[i] = b
	}
	return buf, nil
}

func (e *Executor) writeData(addr uint32, buf []byte, key uint8) error {
	for i, b := range buf {
		if err := e.Store.WriteByte(addr+uint32(i), key, b); err != nil {
			return err
		}
	}
	return nil
}
