// Package tape implements the 2400-class magnetic-tape device handler
// (C8), adapted from emu/modelTape/modelTape.go's Model2400ctx onto the
// device.Device shape and driven by the same util/tape.Context frame-level
// reader/writer the teacher uses, generalized to a synchronous
// read-record/write-record call per StartCmd instead of the teacher's
// per-frame event callback chain (CCW execution here already runs the
// whole chain synchronously, see internal/ioarch/ccw).
package tape

import (
	"io"

	"github.com/rcornwell/s370e/internal/ioarch/device"
	"github.com/rcornwell/s370e/util/tape"
)

const (
	cmdRewind     uint8 = 0x07
	cmdRewindUnld uint8 = 0x0f
	cmdWriteMark  uint8 = 0x1f
	cmdBackspace  uint8 = 0x27
	cmdForwardSp  uint8 = 0x37
)

// Tape is a 2400-class tape drive.
type Tape struct {
	addr  uint16
	sense uint8
	ctx   *tape.Context
}

func New(addr uint16) *Tape { return &Tape{addr: addr, ctx: tape.NewTapeContext()} }

func (t *Tape) Attach(fileName string) error { return t.ctx.Attach(fileName) }

func (t *Tape) StartIO() uint8 { return 0 }

func (t *Tape) StartCmd(cmd uint8, data []byte) (uint8, error) {
	if !t.ctx.Attached() {
		t.sense = device.SenseIntervention
		return device.StatusChnEnd | device.StatusDevEnd | device.StatusCheck, nil
	}
	t.sense = 0

	var status uint8
	switch {
	case cmd == device.CmdSense:
		if len(data) > 0 {
			data[0] = t.sense
		}
		status = device.StatusChnEnd | device.StatusDevEnd
	case cmd == cmdRewind || cmd == cmdRewindUnld:
		if err := t.ctx.Rewind(); err != nil {
			t.sense = device.SenseEquipCheck
		}
		status = device.StatusChnEnd | device.StatusDevEnd
	case cmd == cmdWriteMark:
		if err := t.ctx.WriteMark(); err != nil {
			t.sense = device.SenseDataCheck
		}
		status = device.StatusChnEnd | device.StatusDevEnd
	case cmd&device.CmdRead != 0:
		if err := t.ctx.ReadForwStart(); err != nil {
			t.sense = device.SenseDataCheck
			break
		}
		for i := range data {
			b, err := t.ctx.ReadFrame()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.sense = device.SenseDataCheck
				break
			}
			data[i] = b
		}
		status = device.StatusChnEnd | device.StatusDevEnd
	case cmd&device.CmdWrite != 0:
		if err := t.ctx.WriteStart(); err != nil {
			t.sense = device.SenseDataCheck
			break
		}
		for _, b := range data {
			if err := t.ctx.WriteFrame(b); err != nil {
				t.sense = device.SenseDataCheck
				break
			}
		}
		if err := t.ctx.FinishRecord(); err != nil {
			t.sense = device.SenseDataCheck
		}
		status = device.StatusChnEnd | device.StatusDevEnd
	default:
		t.sense = device.SenseCmdReject
	}

	if t.sense != 0 {
		status = device.StatusChnEnd | device.StatusDevEnd | device.StatusCheck
	}
	return status, nil
}

func (t *Tape) HaltIO() uint8 { return 1 }

func (t *Tape) InitDev() uint8 {
	t.sense = 0
	return 0
}
