// Package device defines the interface every I/O device handler (C8)
// implements, and the unit-status byte constants the channel subsystem and
// device handlers share. Grounded on emu/device/device.go, kept almost
// unchanged since the teacher's Device contract already matches spec §4.6's
// device-model shape; StartCmd receives only the command byte and a data
// buffer, the CCW itself being decoded by internal/ioarch/ccw.
package device

// Device is implemented by every device handler under internal/ioarch/device.
type Device interface {
	// StartIO is called when SIO/SSCH selects this device; returns a unit
	// status byte (0 if accepted).
	StartIO() uint8
	// StartCmd executes one CCW command code against the device, returning
	// a unit status byte.
	StartCmd(cmd uint8, data []byte) (uint8, error)
	// HaltIO aborts an in-progress operation.
	HaltIO() uint8
	// InitDev (re)initializes device state after attach/config.
	InitDev() uint8
}

// Unit-status byte bits (spec §4.6), grounded on dev.CStatusXxx constants.
const (
	StatusAttn   uint8 = 0x80
	StatusSMS    uint8 = 0x40
	StatusCtlEnd uint8 = 0x20
	StatusBusy   uint8 = 0x10
	StatusChnEnd uint8 = 0x08
	StatusDevEnd uint8 = 0x04
	StatusCheck  uint8 = 0x02
	StatusExcept uint8 = 0x01
)

// Sense-byte bits (basic sense, byte 0), grounded on dev.SenseXxx constants.
const (
	SenseCmdReject   uint8 = 0x80
	SenseIntervention uint8 = 0x40
	SenseBusCheck    uint8 = 0x20
	SenseEquipCheck  uint8 = 0x10
	SenseDataCheck   uint8 = 0x08
	SenseUnitSpec    uint8 = 0x04
	SenseCtlCheck    uint8 = 0x02
	SenseOverrun     uint8 = 0x02
	SenseOprCheck    uint8 = 0x01
)

// CCW command-code classes (spec §4.7), grounded on dev.CmdXxx constants.
const (
	CmdWrite uint8 = 0x1
	CmdRead  uint8 = 0x2
	CmdCTL   uint8 = 0x3
	CmdSense uint8 = 0x4
	CmdTIC   uint8 = 0x8
	CmdRDBWD uint8 = 0xc
)

func IsTIC(cmd uint8) bool { return cmd == CmdTIC }

// NoDev marks a telnet session not yet bound to a device address.
const NoDev uint16 = 0xffff
