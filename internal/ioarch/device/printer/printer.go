// Package printer implements the 1403-class line-printer device handler
// (C8), adapted from emu/model1403/model1403.go's Model1403ctx onto the
// new device.Device shape: data the chain wrote arrives as the handler's
// []byte argument instead of a shared device buffer filled by callback.
package printer

import (
	"bufio"
	"os"

	"github.com/rcornwell/s370e/internal/ioarch/device"
)

// Printer is a 1403-class line printer writing translated EBCDIC lines to
// an attached file.
type Printer struct {
	addr  uint16
	busy  bool
	sense uint8
	file  *os.File
	w     *bufio.Writer
}

func New(addr uint16) *Printer { return &Printer{addr: addr} }

func (p *Printer) Attach(fileName string) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	p.file = f
	p.w = bufio.NewWriter(f)
	return nil
}

func (p *Printer) StartIO() uint8 { return 0 }

func (p *Printer) StartCmd(cmd uint8, data []byte) (uint8, error) {
	if p.busy {
		return device.StatusBusy, nil
	}

	var status uint8
	switch cmd & 3 {
	case device.CmdWrite:
		if p.file == nil {
			p.sense = device.SenseIntervention
			return device.StatusChnEnd | device.StatusDevEnd | device.StatusCheck, nil
		}
		p.sense = 0
		if err := p.printLine(data); err != nil {
			p.sense = device.SenseDataCheck
			break
		}
		status = device.StatusChnEnd | device.StatusDevEnd
	case device.CmdCTL:
		if cmd == device.CmdCTL {
			return device.StatusChnEnd | device.StatusDevEnd, nil
		}
		if p.file == nil {
			p.sense = device.SenseIntervention
			return device.StatusChnEnd | device.StatusDevEnd | device.StatusCheck, nil
		}
		status = device.StatusChnEnd | device.StatusDevEnd
	case 0:
		if len(data) > 0 {
			data[0] = p.sense
		}
		status = device.StatusChnEnd | device.StatusDevEnd
	default:
		p.sense = device.SenseCmdReject
	}

	if p.sense != 0 {
		status = device.StatusChnEnd | device.StatusDevEnd | device.StatusCheck
	}
	return status, nil
}

// printLine translates EBCDIC data to ASCII for the host file, the way the
// teacher's printLine translates via its EBCDIC-to-ASCII table before
// writing; the actual code-page table is built from golang.org/x/text's
// charmap (see ebcdic.go).
func (p *Printer) printLine(data []byte) error {
	line := make([]byte, len(data))
	for i, b := range data {
		line[i] = ebcdicToASCII[b]
	}
	if _, err := p.w.Write(line); err != nil {
		return err
	}
	if err := p.w.WriteByte('\n'); err != nil {
		return err
	}
	return p.w.Flush()
}

func (p *Printer) HaltIO() uint8 {
	p.busy = false
	return 1
}

func (p *Printer) InitDev() uint8 {
	p.sense = 0
	p.busy = false
	return 0
}
