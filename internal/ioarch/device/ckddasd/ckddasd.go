// Package ckddasd implements the count-key-data DASD device handler (part
// of C8), the only consumer of the C9 compressed-CKD engine. Not present in
// the teacher at all — grounded on original_source/ckddasd.c's CCW command
// switch (around its main ckddasd_execute_ccw dispatch) for which commands
// matter and in what order a channel program typically issues them (DEFINE
// EXTENT, LOCATE RECORD or SEEK+SEARCH ID, then READ/WRITE). This is a
// representative subset: multi-track operations, diagnostic/RPS-sensitive
// commands, and the exact status-modifier propagation the original's SEARCH
// commands rely on for CCW-level branching are out of scope, the same
// narrowing the channel/device layer already applies to its CCW executor
// (a device can report only unit-status bits, not channel status-modifier).
package ckddasd

import (
	"github.com/rcornwell/s370e/internal/ckd"
	"github.com/rcornwell/s370e/internal/ioarch/device"
)

// CCW command codes this handler understands, grounded on ckddasd.c's
// CKDOPER_* bits combined with the classic 8-bit CCW opcodes for seek,
// search, and count/key/data access.
const (
	cmdDefineExtent = 0x63
	cmdLocateRecord = 0x47
	cmdSeek         = 0x07
	cmdSeekCyl      = 0x0b
	cmdSeekHead     = 0x1b
	cmdSearchIDEq   = 0x31
	cmdSearchIDHi   = 0x51
	cmdSearchIDEqHi = 0x71
	cmdReadCount    = 0x12
	cmdReadRecord0  = 0x16
	cmdReadData     = 0x06
	cmdReadKeyData  = 0x0e
	cmdWriteData    = 0x05
	cmdWriteKeyData = 0x0d
	cmdSense        = 0x04
	cmdNOP          = 0x03
)

// Geometry describes a device's cylinder/head layout, set at attach time
// from the compressed image's header (or a plain-CKD file's fixed geometry).
type Geometry struct {
	Cylinders   int
	HeadsPerCyl int
}

// Dasd is one CKD DASD subchannel's device-side state: current seek
// position, the track currently staged from the image, and a cursor into
// that track's parsed record list (spec §4.9's "orientation").
type Dasd struct {
	addr     uint16
	geometry Geometry
	img      *ckd.Image

	cyl, head int
	track     []ckd.Record
	recIdx    int // -1 means oriented to count (before record 0)

	extentBegin, extentEnd int // track numbers, from DEFINE EXTENT

	sense uint8
}

func New(addr uint16, geom Geometry, img *ckd.Image) *Dasd {
	return &Dasd{addr: addr, geometry: geom, img: img, recIdx: -1}
}

// Image exposes the backing compressed-CKD image so an operator-facing
// caller (internal/console) can trigger a manual chkdsk or compaction pass
// without the device handler itself knowing about console commands.
func (d *Dasd) Image() *ckd.Image { return d.img }

func (d *Dasd) trackNumber() int { return d.cyl*d.geometry.HeadsPerCyl + d.head }

func (d *Dasd) loadTrack() error {
	recs, err := d.readTrack(d.trackNumber())
	if err != nil {
		return err
	}
	d.track = recs
	d.recIdx = -1
	return nil
}

func (d *Dasd) readTrack(track int) ([]ckd.Record, error) {
	buf, err := d.img.ReadTrack(track)
	if err != nil {
		return nil, err
	}
	return ckd.ParseTrack(buf), nil
}

func (d *Dasd) writeTrack() error {
	buf := ckd.BuildTrack(d.track, d.img.Header.TrackSize)
	d.img.WriteTrack(d.trackNumber(), buf)
	return nil
}

func (d *Dasd) StartIO() uint8 { return 0 }

func (d *Dasd) InitDev() uint8 {
	d.cyl, d.head, d.recIdx = 0, 0, -1
	d.sense = 0
	return 0
}

func (d *Dasd) HaltIO() uint8 { return 0 }

// StartCmd executes one CCW command against the current seek/orientation
// state, loading the track lazily the first time a command needs it.
func (d *Dasd) StartCmd(cmd uint8, data []byte) (uint8, error) {
	switch cmd {
	case cmdDefineExtent:
		return d.defineExtent(data), nil
	case cmdLocateRecord:
		return d.locateRecord(data)
	case cmdSeek:
		return d.seek(data, true, true)
	case cmdSeekCyl:
		return d.seek(data, true, false)
	case cmdSeekHead:
		return d.seek(data, false, true)
	case cmdSearchIDEq, cmdSearchIDHi, cmdSearchIDEqHi:
		return d.searchID(cmd, data)
	case cmdReadCount:
		return d.readCount(data)
	case cmdReadRecord0:
		d.recIdx = -1
		return d.readData(data, true)
	case cmdReadData:
		return d.readData(data, false)
	case cmdReadKeyData:
		return d.readKeyData(data)
	case cmdWriteData:
		return d.writeData(data, false)
	case cmdWriteKeyData:
		return d.writeData(data, true)
	case cmdSense:
		if len(data) > 0 {
			data[0] = d.sense
		}
		return device.StatusChnEnd | device.StatusDevEnd, nil
	case cmdNOP:
		return device.StatusChnEnd | device.StatusDevEnd, nil
	default:
		d.sense = device.SenseCmdReject
		return device.StatusCheck, nil
	}
}

// defineExtent records the extent bounds a subsequent LOCATE RECORD/SEARCH
// must stay within; the full 16-byte parameter's masking/access-control
// bytes are accepted but not enforced (representative-subset narrowing).
func (d *Dasd) defineExtent(data []byte) uint8 {
	if len(data) < 10 {
		d.sense = device.SenseCmdReject
		return device.StatusCheck
	}
	begCyl := int(data[2])<<8 | int(data[3])
	begHead := int(data[4])<<8 | int(data[5])
	endCyl := int(data[6])<<8 | int(data[7])
	endHead := int(data[8])<<8 | int(data[9])
	d.extentBegin = begCyl*d.geometry.HeadsPerCyl + begHead
	d.extentEnd = endCyl*d.geometry.HeadsPerCyl + endHead
	return device.StatusChnEnd | device.StatusDevEnd
}

// locateRecord seeks to the operation's target CCHH (the 16-byte parameter's
// first four bytes after the 4-byte operation/flag prefix), honoring only
// the seek-and-orient half of the real command's rich operand.
func (d *Dasd) locateRecord(data []byte) (uint8, error) {
	if len(data) < 8 {
		d.sense = device.SenseCmdReject
		return device.StatusCheck, nil
	}
	cyl := int(data[4])<<8 | int(data[5])
	head := int(data[6])<<8 | int(data[7])
	return d.doSeek(cyl, head)
}

func (d *Dasd) seek(data []byte, haveCyl, haveHead bool) (uint8, error) {
	if len(data) < 6 {
		d.sense = device.SenseCmdReject
		return device.StatusCheck, nil
	}
	cyl, head := d.cyl, d.head
	if haveCyl {
		cyl = int(data[2])<<8 | int(data[3])
	}
	if haveHead {
		head = int(data[4])<<8 | int(data[5])
	}
	return d.doSeek(cyl, head)
}

func (d *Dasd) doSeek(cyl, head int) (uint8, error) {
	if cyl >= d.geometry.Cylinders || head >= d.geometry.HeadsPerCyl {
		d.sense = device.SenseUnitSpec
		return device.StatusCheck, nil
	}
	track := cyl*d.geometry.HeadsPerCyl + head
	if track < d.extentBegin || (d.extentEnd != 0 && track > d.extentEnd) {
		d.sense = device.SenseCmdReject
		return device.StatusCheck, nil
	}
	d.cyl, d.head = cyl, head
	if err := d.loadTrack(); err != nil {
		return 0, err
	}
	return device.StatusChnEnd | device.StatusDevEnd, nil
}

// searchID advances the cursor to the next record on the track; the
// argument CCHHR is only length-checked, never compared with the record's
// count, and no status-modifier is returned (narrowing noted in the
// package doc comment).
func (d *Dasd) searchID(cmd uint8, data []byte) (uint8, error) {
	if len(data) < 5 {
		d.sense = device.SenseCmdReject
		return device.StatusCheck, nil
	}
	if d.track == nil {
		if err := d.loadTrack(); err != nil {
			return 0, err
		}
	}
	d.recIdx++
	if d.recIdx >= len(d.track) {
		d.sense = device.SenseEquipCheck
		return device.StatusCheck, nil
	}
	return device.StatusChnEnd | device.StatusDevEnd, nil
}

func (d *Dasd) readCount(data []byte) (uint8, error) {
	if d.track == nil {
		if err := d.loadTrack(); err != nil {
			return 0, err
		}
	}
	if d.recIdx+1 >= len(d.track) {
		d.sense = device.SenseEquipCheck
		return device.StatusCheck, nil
	}
	d.recIdx++
	r := d.track[d.recIdx]
	if len(data) >= 8 {
		data[0] = byte(r.Cyl >> 8)
		data[1] = byte(r.Cyl)
		data[2] = byte(r.Head >> 8)
		data[3] = byte(r.Head)
		data[4] = r.RecNum
		data[5] = byte(len(r.Key))
		data[6] = byte(len(r.Data) >> 8)
		data[7] = byte(len(r.Data))
	}
	return device.StatusChnEnd | device.StatusDevEnd, nil
}

func (d *Dasd) readData(data []byte, record0 bool) (uint8, error) {
	if d.track == nil {
		if err := d.loadTrack(); err != nil {
			return 0, err
		}
	}
	idx := d.recIdx
	if record0 {
		idx = 0
	}
	if idx < 0 || idx >= len(d.track) {
		d.sense = device.SenseEquipCheck
		return device.StatusCheck, nil
	}
	copy(data, d.track[idx].Data)
	return device.StatusChnEnd | device.StatusDevEnd, nil
}

func (d *Dasd) readKeyData(data []byte) (uint8, error) {
	if d.track == nil {
		if err := d.loadTrack(); err != nil {
			return 0, err
		}
	}
	if d.recIdx < 0 || d.recIdx >= len(d.track) {
		d.sense = device.SenseEquipCheck
		return device.StatusCheck, nil
	}
	r := d.track[d.recIdx]
	n := copy(data, r.Key)
	copy(data[n:], r.Data)
	return device.StatusChnEnd | device.StatusDevEnd, nil
}

// writeData overwrites the record the cursor is oriented to, rewriting the
// whole track image back through the compressed engine (spec §4.9's
// deferred-write path); it does not support growing or shrinking a record's
// key/data length mid-track, only replacing it in place.
func (d *Dasd) writeData(data []byte, withKey bool) (uint8, error) {
	if d.track == nil {
		if err := d.loadTrack(); err != nil {
			return 0, err
		}
	}
	if d.recIdx < 0 || d.recIdx >= len(d.track) {
		d.sense = device.SenseEquipCheck
		return device.StatusCheck, nil
	}
	r := &d.track[d.recIdx]
	if withKey {
		klen := len(r.Key)
		if klen <= len(data) {
			copy(r.Key, data[:klen])
			copy(r.Data, data[klen:])
		}
	} else {
		copy(r.Data, data)
	}
	if err := d.writeTrack(); err != nil {
		return 0, err
	}
	return device.StatusChnEnd | device.StatusDevEnd, nil
}
