// Package con3270 implements the 3270-class console/display device handler
// (C8), adapted from emu/model1052/model1052.go's Model1052ctx onto the
// device.Device shape. Line-mode read/write only (no 3270 data-stream/
// screen-buffer orders); a full 3270 datastream codec is out of this
// representative subset's scope, matching the teacher's own 1052
// typewriter-console model rather than its telnet package's raw byte
// stream. telnet.Server still owns accept/option-negotiation (grounded on
// telnet/listener.go and telnet/telnet.go); this device receives inbound
// bytes queued over the master bus and writes outbound bytes straight to
// the net.Conn telnet hands it, per spec §4.6 ("attention/connect/receive
// are bus events, not direct device calls").
package con3270

import (
	"bytes"
	"net"
	"sync"

	"github.com/rcornwell/s370e/internal/ioarch/device"
)

// Console is one 3270/1052-class console device.
type Console struct {
	mu        sync.Mutex
	addr      uint16
	sense     uint8
	inbuf     bytes.Buffer
	attn      bool
	connected bool
	conn      net.Conn // set by Connect once the telnet listener accepts this console's session
}

func New(addr uint16) *Console { return &Console{addr: addr} }

func (c *Console) StartIO() uint8 { return 0 }

// Connect, ReceiveChar, and Disconnect satisfy telnet.Telnet so a Console
// can be registered directly with telnet.RegisterTerminal; the dispatch
// loop in cmd/s370e calls these off the master bus's TelConnect/TelReceive/
// TelDisconnect packets rather than telnet invoking them inline, matching
// the teacher's model1052tel indirection through the master channel.
func (c *Console) Connect(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.connected = conn != nil
}

func (c *Console) ReceiveChar(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbuf.Write(data)
}

func (c *Console) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = nil
	c.connected = false
}

func (c *Console) SetAttention() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attn = true
}

func (c *Console) StartCmd(cmd uint8, data []byte) (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		c.sense = device.SenseIntervention
		return device.StatusChnEnd | device.StatusDevEnd | device.StatusCheck, nil
	}
	c.sense = 0

	var status uint8
	switch {
	case cmd == device.CmdSense:
		if len(data) > 0 {
			data[0] = c.sense
		}
		status = device.StatusChnEnd | device.StatusDevEnd
	case cmd&device.CmdRead != 0:
		n, _ := c.inbuf.Read(data)
		_ = n
		status = device.StatusChnEnd | device.StatusDevEnd
	case cmd&device.CmdWrite != 0:
		if c.conn != nil {
			if _, err := c.conn.Write(data); err != nil {
				c.sense = device.SenseEquipCheck
			}
		}
		status = device.StatusChnEnd | device.StatusDevEnd
	case cmd == 0:
		status = 0
	default:
		c.sense = device.SenseCmdReject
	}

	if c.sense != 0 {
		status = device.StatusChnEnd | device.StatusDevEnd | device.StatusCheck
	}
	return status, nil
}

func (c *Console) HaltIO() uint8 { return 1 }

func (c *Console) InitDev() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sense = 0
	c.attn = false
	return 0
}
