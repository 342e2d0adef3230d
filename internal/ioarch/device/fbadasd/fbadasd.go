// Package fbadasd implements the fixed-block-architecture DASD handler
// (part of C8): a flat array of uniform 512-byte blocks addressed by
// define-extent + locate + read/write, per spec §4.8's FBA summary. Not
// present in the teacher; original_source/dasdinit.c documents FBA images
// as a plain flat file of fixed-size sectors (its create-image routine,
// not a runtime device), so the CCW command set here follows the
// well-known FBA command codes rather than a single grounding file.
package fbadasd

import (
	"github.com/rcornwell/s370e/internal/ioarch/device"
)

const (
	cmdDefineExtent = 0x63
	cmdLocate       = 0x43
	cmdRead         = 0x42
	cmdWrite        = 0x41
	cmdSense        = 0x04
	cmdNOP          = 0x03
)

// BlockSize is FBA's fixed sector size.
const BlockSize = 512

// BackingStore is the minimal file-like interface fbadasd needs; satisfied
// by *os.File.
type BackingStore interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// Fba is one FBA subchannel's device-side state.
type Fba struct {
	addr       uint16
	store      BackingStore
	blockCount int

	extentBegin, extentEnd int // block numbers
	cursor                 int // current block, set by LOCATE

	sense uint8
}

func New(addr uint16, store BackingStore, blockCount int) *Fba {
	return &Fba{addr: addr, store: store, blockCount: blockCount, extentEnd: blockCount - 1}
}

func (f *Fba) StartIO() uint8 { return 0 }

func (f *Fba) InitDev() uint8 {
	f.cursor = 0
	f.sense = 0
	return 0
}

func (f *Fba) HaltIO() uint8 { return 0 }

func (f *Fba) StartCmd(cmd uint8, data []byte) (uint8, error) {
	switch cmd {
	case cmdDefineExtent:
		return f.defineExtent(data), nil
	case cmdLocate:
		return f.locate(data), nil
	case cmdRead:
		return f.read(data)
	case cmdWrite:
		return f.write(data)
	case cmdSense:
		if len(data) > 0 {
			data[0] = f.sense
		}
		return device.StatusChnEnd | device.StatusDevEnd, nil
	case cmdNOP:
		return device.StatusChnEnd | device.StatusDevEnd, nil
	default:
		f.sense = device.SenseCmdReject
		return device.StatusCheck, nil
	}
}

// defineExtent's parameter is {first-block(4), last-block(4)} — an 8-byte
// reduction of the real 16-byte operand,
// sufficient to bound subsequent LOCATE/READ/WRITE.
func (f *Fba) defineExtent(data []byte) uint8 {
	if len(data) < 8 {
		f.sense = device.SenseCmdReject
		return device.StatusCheck
	}
	first := int(data[0])<<24 | int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	last := int(data[4])<<24 | int(data[5])<<16 | int(data[6])<<8 | int(data[7])
	f.extentBegin, f.extentEnd = first, last
	return device.StatusChnEnd | device.StatusDevEnd
}

// locate's parameter is {operation, flags, reserved(2), block-number(4),
// block-count(2), reserved(2)}; only the block-number is honored, matching
// this handler's single-block-at-a-time read/write model.
func (f *Fba) locate(data []byte) uint8 {
	if len(data) < 8 {
		f.sense = device.SenseCmdReject
		return device.StatusCheck
	}
	block := int(data[4])<<24 | int(data[5])<<16 | int(data[6])<<8 | int(data[7])
	if block < f.extentBegin || block > f.extentEnd || block >= f.blockCount {
		f.sense = device.SenseCmdReject
		return device.StatusCheck
	}
	f.cursor = block
	return device.StatusChnEnd | device.StatusDevEnd
}

func (f *Fba) read(data []byte) (uint8, error) {
	if f.cursor >= f.blockCount {
		f.sense = device.SenseEquipCheck
		return device.StatusCheck, nil
	}
	n, err := f.store.ReadAt(data, int64(f.cursor)*BlockSize)
	if err != nil && n == 0 {
		return 0, err
	}
	f.cursor++
	return device.StatusChnEnd | device.StatusDevEnd, nil
}

func (f *Fba) write(data []byte) (uint8, error) {
	if f.cursor >= f.blockCount {
		f.sense = device.SenseEquipCheck
		return device.StatusCheck, nil
	}
	if _, err := f.store.WriteAt(data, int64(f.cursor)*BlockSize); err != nil {
		return 0, err
	}
	f.cursor++
	return device.StatusChnEnd | device.StatusDevEnd, nil
}
