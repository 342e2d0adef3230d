// Package console implements C11: the panel/operator bridge. Grounded on
// command/parser/commands.go's cmdList dispatch table and command/parser's
// cmdLine argument-parsing helpers, generalized from the teacher's single
// global core/device-table model to operate over one of several CPU
// engines and the new internal/ioarch device registry, per spec §4.11's
// wider command set (step/trace toggles, per-device trace, storage
// display/alter, devinit, loadcore).
package console

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rcornwell/s370e/internal/arch/cpu"
	"github.com/rcornwell/s370e/internal/arch/storage"
	"github.com/rcornwell/s370e/internal/ioarch/device"
	"github.com/rcornwell/s370e/internal/ioarch/device/ckddasd"
	"github.com/rcornwell/s370e/internal/master"
	hexutil "github.com/rcornwell/s370e/util/hex"
)

// Console holds the panel bridge's view of the running system: every CPU
// engine, the shared bus used to post commands to them, main storage, and
// the device registry devinit/attach commands operate on.
type Console struct {
	Engines []*cpu.Engine
	Bus     *master.Bus
	Store   *storage.Store
	Devices map[uint16]device.Device

	step  bool
	trace bool

	stepDev  map[uint16]bool
	traceDev map[uint16]bool

	breakAddr uint32
	breakSet  bool
}

func New(engines []*cpu.Engine, bus *master.Bus, store *storage.Store, devices map[uint16]device.Device) *Console {
	return &Console{
		Engines:  engines,
		Bus:      bus,
		Store:    store,
		Devices:  devices,
		stepDev:  make(map[uint16]bool),
		traceDev: make(map[uint16]bool),
	}
}

// ProcessCommand parses and executes one operator command line, returning
// quit=true when the simulator should shut down (the "quit" command).
func (c *Console) ProcessCommand(line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := fields[0], fields[1:]

	switch {
	case cmd == "start" || cmd == "g":
		c.Bus.Broadcast(master.Packet{Msg: master.Start})
		return false, nil
	case cmd == "stop":
		c.Bus.Broadcast(master.Packet{Msg: master.Stop})
		return false, nil
	case cmd == "restart":
		c.Bus.Broadcast(master.Packet{Msg: master.Restart})
		return false, nil
	case cmd == "ext":
		c.Bus.Broadcast(master.Packet{Msg: master.ExternalIRQ})
		return false, nil
	case cmd == "store-status":
		c.storeStatus()
		return false, nil
	case cmd == "ipl":
		return false, c.ipl(args)
	case cmd == "loadparm":
		return false, c.loadparm(args)
	case cmd == "s+":
		c.step = true
		return false, nil
	case cmd == "s-":
		c.step = false
		return false, nil
	case cmd == "t+":
		c.trace = true
		return false, nil
	case cmd == "t-":
		c.trace = false
		return false, nil
	case strings.HasPrefix(cmd, "t+") && len(cmd) > 2:
		return false, c.setDevFlag(c.traceDev, cmd[2:])
	case strings.HasPrefix(cmd, "s+") && len(cmd) > 2:
		return false, c.setDevFlag(c.stepDev, cmd[2:])
	case cmd == "i":
		return false, c.attention(args)
	case cmd == "b":
		return false, c.setBreak(args)
	case cmd == "b-":
		c.breakSet = false
		return false, nil
	case cmd == "r":
		return false, c.display(args)
	case cmd == "v":
		return false, c.alter(args)
	case cmd == "devinit":
		return false, c.devinit(args)
	case cmd == "loadcore":
		return false, c.loadcore(args)
	case cmd == "chkdsk":
		return false, c.chkdsk(args)
	case cmd == "gc":
		return false, c.gc(args)
	case cmd == "quit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *Console) storeStatus() {
	for i, e := range c.Engines {
		word := e.CPU.PSW.Store()
		fmt.Printf("CPU%d PSW=%s IA=%08x stopped=%v\n",
			i, hex.EncodeToString(word[:]), e.CPU.PSW.IA, e.CPU.Stopped)
	}
}

func (c *Console) ipl(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("ipl requires a device number")
	}
	dev, err := parseDevNum(args[0])
	if err != nil {
		return err
	}
	if len(c.Engines) == 0 {
		return fmt.Errorf("no CPU engines configured")
	}
	c.Bus.Send(master.Packet{Msg: master.IPLDevice, CPU: 0, DevNum: dev})
	return nil
}

func (c *Console) loadparm(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("loadparm requires an 8-character parameter")
	}
	param := args[0]
	for i := 0; i < 8 && i < len(param); i++ {
		c.Bus.Send(master.Packet{Msg: master.IPLDevice, CPU: 0, Data: param[i]})
	}
	return nil
}

func (c *Console) setDevFlag(m map[uint16]bool, arg string) error {
	dev, err := parseDevNum(arg)
	if err != nil {
		return err
	}
	m[dev] = !m[dev]
	return nil
}

func (c *Console) attention(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("i requires a device number")
	}
	dev, err := parseDevNum(args[0])
	if err != nil {
		return err
	}
	if _, ok := c.Devices[dev]; !ok {
		return fmt.Errorf("no such device %04x", dev)
	}
	c.Bus.Broadcast(master.Packet{Msg: master.Attention, DevNum: dev})
	return nil
}

func (c *Console) setBreak(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("b requires an address")
	}
	addr, err := strconv.ParseUint(args[0], 16, 32)
	if err != nil {
		return fmt.Errorf("bad address %q: %w", args[0], err)
	}
	c.breakAddr = uint32(addr)
	c.breakSet = true
	return nil
}

// display implements "r <addr> [len]" on real storage; there is no
// virtual-storage display ("v" is the alter command).
func (c *Console) display(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("r requires an address")
	}
	addr, err := strconv.ParseUint(args[0], 16, 32)
	if err != nil {
		return fmt.Errorf("bad address %q: %w", args[0], err)
	}
	length := uint64(16)
	if len(args) > 1 {
		length, err = strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("bad length %q: %w", args[1], err)
		}
	}
	data := make([]byte, length)
	for i := range data {
		b, err := c.Store.ReadByte(uint32(addr)+uint32(i), 0)
		if err != nil {
			return err
		}
		data[i] = b
	}
	var sb strings.Builder
	hexutil.FormatBytes(&sb, false, data)
	fmt.Println(sb.String())
	return nil
}

// alter implements "v <addr> <hex-bytes>", writing raw bytes into storage.
func (c *Console) alter(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("v requires an address and data")
	}
	addr, err := strconv.ParseUint(args[0], 16, 32)
	if err != nil {
		return fmt.Errorf("bad address %q: %w", args[0], err)
	}
	data, err := hex.DecodeString(args[1])
	if err != nil {
		return fmt.Errorf("bad data %q: %w", args[1], err)
	}
	for i, b := range data {
		if err := c.Store.WriteByte(uint32(addr)+uint32(i), 0, b); err != nil {
			return err
		}
	}
	return nil
}

// devinit implements "devinit <dev> [args...]": reinitializes an attached
// device handler, per spec §4.11, without requiring a full re-attach.
func (c *Console) devinit(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("devinit requires a device number")
	}
	dev, err := parseDevNum(args[0])
	if err != nil {
		return err
	}
	d, ok := c.Devices[dev]
	if !ok {
		return fmt.Errorf("no such device %04x", dev)
	}
	if status := d.InitDev(); status&device.StatusCheck != 0 {
		return fmt.Errorf("devinit %04x failed, status=%#x", dev, status)
	}
	return nil
}

// loadcore implements "loadcore <file> [addr]": bulk-loads a file into
// absolute storage starting at addr (default 0), for pre-IPL core images.
func (c *Console) loadcore(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("loadcore requires a file name")
	}
	addr := uint32(0)
	if len(args) > 1 {
		a, err := strconv.ParseUint(args[1], 16, 32)
		if err != nil {
			return fmt.Errorf("bad address %q: %w", args[1], err)
		}
		addr = uint32(a)
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	buf := make([]byte, 4096)
	offset := uint32(0)
	for {
		n, rerr := r.Read(buf)
		for i := 0; i < n; i++ {
			if err := c.Store.WriteByte(addr+offset+uint32(i), 0, buf[i]); err != nil {
				return err
			}
		}
		offset += uint32(n)
		if rerr != nil {
			break
		}
	}
	return nil
}

// ckdImage resolves a device number to its backing compressed-CKD image,
// failing for any device that isn't a CKD DASD (ckddasd.Dasd is the only
// handler with an Image() accessor).
func (c *Console) ckdImage(args []string) (*ckddasd.Dasd, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("requires a device number")
	}
	dev, err := parseDevNum(args[0])
	if err != nil {
		return nil, err
	}
	d, ok := c.Devices[dev]
	if !ok {
		return nil, fmt.Errorf("no such device %04x", dev)
	}
	ckd, ok := d.(*ckddasd.Dasd)
	if !ok {
		return nil, fmt.Errorf("device %04x is not a CKD DASD", dev)
	}
	return ckd, nil
}

// chkdsk implements "chkdsk <dev>": an operator-triggered consistency check
// of a CKD device's backing image, the manual counterpart to the check Open
// runs automatically when it finds the OPENED bit already set.
func (c *Console) chkdsk(args []string) error {
	dasd, err := c.ckdImage(args)
	if err != nil {
		return err
	}
	problems, err := dasd.Image().Check()
	if err != nil {
		return err
	}
	if len(problems) == 0 {
		fmt.Println("chkdsk: no problems found")
		return nil
	}
	for _, p := range problems {
		fmt.Printf("chkdsk: %+v\n", p)
	}
	return nil
}

// gc implements "gc <dev>": forces one garbage-collection pass on a CKD
// device's backing image outside its normal background schedule.
func (c *Console) gc(args []string) error {
	dasd, err := c.ckdImage(args)
	if err != nil {
		return err
	}
	dasd.Image().Compact()
	return nil
}

func parseDevNum(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("bad device number %q: %w", s, err)
	}
	return uint16(v), nil
}
