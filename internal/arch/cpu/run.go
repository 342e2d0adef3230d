// Per-CPU run loop, grounded on emu/core/core.go's Start/Stop/processPacket
// triple, generalized from one package-level core bound to the single
// global sysCPU into a method set on *CPU so NewBus-many engines can each
// run their own goroutine against the same master.Bus (spec §5 "each
// modeled as its own goroutine... communicating over channels rather than
// shared mutable globals").
package cpu

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rcornwell/s370e/internal/master"
)

// Engine wraps a CPU with the goroutine lifecycle the teacher's core type
// had: a master.Bus channel, a running flag, and a done signal for Stop.
type Engine struct {
	CPU *CPU

	bus     *master.Bus
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
}

func NewEngine(c *CPU, bus *master.Bus) *Engine {
	return &Engine{CPU: c, bus: bus, done: make(chan struct{})}
}

// Start runs the engine's fetch/decode/dispatch loop until Stop, mirroring
// core.Start()'s shape: step the CPU when running, otherwise idle, and
// drain one master.Packet per iteration without blocking the loop.
func (e *Engine) Start(log *slog.Logger) {
	e.wg.Add(1)
	defer e.wg.Done()

	ch := e.bus.Channel(e.CPU.Index)
	for {
		if e.running {
			taken, err := e.CPU.CheckInterrupts()
			if err != nil {
				log.Error("interrupt delivery failed", "engine", e.CPU.Index, "err", err)
				e.running = false
			} else if !taken {
				if err := e.CPU.Step(); err != nil {
					if _, ok := err.(ProgramCheck); !ok {
						log.Error("cpu step failed", "engine", e.CPU.Index, "err", err)
						e.running = false
					}
				}
			}
		}
		select {
		case <-e.done:
			log.Info("engine shutdown", "engine", e.CPU.Index)
			return
		case packet := <-ch:
			e.processPacket(packet, log)
		default:
		}
	}
}

func (e *Engine) Stop() {
	close(e.done)
	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
	}
}

func (e *Engine) processPacket(p master.Packet, log *slog.Logger) {
	switch p.Msg {
	case master.Start:
		e.running = true
	case master.Stop:
		e.running = false
	case master.Restart:
		e.CPU.Pending.RestartPending = true
	case master.ExternalIRQ:
		e.CPU.Pending.ExternalPending = true
	case master.TimeClock:
		e.CPU.tickTimer()
	default:
		log.Debug("engine ignoring packet", "engine", e.CPU.Index, "msg", p.Msg)
	}
}

// tickTimer decrements the CPU timer and raises the pending bit on sign
// change, grounded on emu/cpu/cpu.timer.go's UpdateTimer.
func (c *CPU) tickTimer() {
	c.CPUTimer -= 1
	if c.CPUTimer < 0 {
		c.Pending.CPUTimerNegative = true
	}
}

// Serialize implements the cross-CPU checkpoint-sync rendezvous (spec §5):
// a CPU executing CSP/CS/CDS-class serialization decrements the shared
// broadcast counter and blocks until every engine has done the same. This
// is new relative to the teacher, which never modeled more than one CPU.
func (c *CPU) Serialize() {
	if c.broadcastAck == nil {
		return
	}
	c.broadcastAck.Add(-1)
	for c.broadcastAck.Load() > 0 {
		time.Sleep(time.Microsecond)
	}
}
