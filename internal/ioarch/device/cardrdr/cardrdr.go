// Package cardrdr implements the card-reader device handler (C8), adapted
// from emu/model2540R/model2540R.go's Model2540Rctx into the new
// device.Device shape (data moves through a []byte the CCW executor
// supplies instead of a global CSW/CAW pair), still driven by the same
// util/card.CardContext deck reader.
package cardrdr

import (
	"github.com/rcornwell/s370e/internal/ioarch/device"
	"github.com/rcornwell/s370e/util/card"
)

const maskCmd = 0x7
const maskStack = 0x60

// Reader is a 2540-class card reader.
type Reader struct {
	addr    uint16
	busy    bool
	eof     bool
	err     bool
	ready   bool
	sense   uint8
	image   card.Card
	context *card.CardContext
}

func New(addr uint16) *Reader {
	return &Reader{addr: addr, context: card.NewCardContext(0)}
}

func (r *Reader) Attach(fileName string) error { return r.context.Attach(fileName, false, true) }

func (r *Reader) StartIO() uint8 { return 0 }

func (r *Reader) StartCmd(cmd uint8, data []byte) (uint8, error) {
	if r.busy {
		return device.StatusBusy, nil
	}

	var status uint8
	switch cmd & maskCmd {
	case 0:
		return 0, nil
	case device.CmdRead:
		if !r.context.Attached() {
			r.sense = device.SenseIntervention
			return device.StatusChnEnd | device.StatusDevEnd | device.StatusCheck, nil
		}
		r.sense = 0
		if r.eof {
			r.eof, r.err = false, false
			img, rc := r.context.ReadCard()
			switch rc {
			case card.CardOK:
				r.ready = true
				r.image = img
			case card.CardEOF:
				r.eof = true
			case card.CardError:
				r.err = true
				r.ready = true
			}
			if !r.ready {
				return device.StatusChnEnd | device.StatusDevEnd | device.StatusExcept, nil
			}
		}
		if r.context.HopperSize() == 0 {
			r.sense = device.SenseIntervention
		} else {
			// Card.Image holds one Hollerith-punch word per column; the
			// reader copies the low byte of each word, with no EBCDIC
			// translation.
			for i := 0; i < len(data) && i < len(r.image.Image); i++ {
				data[i] = byte(r.image.Image[i])
			}
			status = device.StatusChnEnd | device.StatusDevEnd
		}
	case device.CmdSense:
		if len(data) > 0 {
			data[0] = r.sense
		}
		status = device.StatusChnEnd | device.StatusDevEnd
	case device.CmdCTL:
		if cmd == device.CmdCTL {
			return device.StatusChnEnd | device.StatusDevEnd, nil
		}
		if !r.context.Attached() {
			r.sense = device.SenseIntervention
			break
		}
		if (cmd&0x30) != 0x20 || (cmd&maskStack) == maskStack {
			r.sense |= device.SenseCmdReject
		} else {
			status = device.StatusChnEnd
		}
	default:
		r.sense = device.SenseCmdReject
	}

	if r.sense != 0 {
		status = device.StatusChnEnd | device.StatusDevEnd | device.StatusCheck
	}
	return status, nil
}

func (r *Reader) HaltIO() uint8 {
	if r.busy {
		r.busy = false
		return 2
	}
	return 1
}

func (r *Reader) InitDev() uint8 {
	r.sense = 0
	r.busy = false
	r.eof = false
	r.err = false
	r.ready = false
	return 0
}
