/*
 * trapcore - Execution dispatcher
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package dispatch

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/rcornwell/trapcore/emu/bridge"
	"github.com/rcornwell/trapcore/emu/cpu"
	"github.com/rcornwell/trapcore/emu/exception"
	"github.com/rcornwell/trapcore/emu/guestsig"
	"github.com/rcornwell/trapcore/emu/trap"
)

// Executor runs one translated block starting at the context PC.
type Executor interface {
	Exec(c *cpu.Context) trap.Record
}

// Returned by Run when fatal hook returns.
var ErrFatal = errors.New("fatal trap, context stopped")

// ExitError reports guest exit.
type ExitError struct {
	Status int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("guest exit status %d", e.Status)
}

// SignalExit reports guest killed by a signal.
type SignalExit struct {
	Signal guestsig.Signal
}

func (e *SignalExit) Error() string {
	return "guest terminated by " + e.Signal.String()
}

// Dispatcher runs blocks for one context at a time.
type Dispatcher struct {
	Exec   Executor
	Bridge *bridge.Bridge
	Diag   io.Writer // Register dump on fatal

	// Called for an unknown trap, should not return.
	Fatal func(c *cpu.Context, rec trap.Record)
}

// Default fatal action.
func fatalExit(c *cpu.Context, rec trap.Record) {
	slog.Error("Unknown trap, stopping", "ctx", c.ID, "code", rec.Code.String(), "aux", rec.Aux, "pc", c.PC)
	os.Exit(2)
}

// Create dispatcher.
func New(exec Executor, b *bridge.Bridge) *Dispatcher {
	return &Dispatcher{Exec: exec, Bridge: b, Diag: os.Stderr, Fatal: fatalExit}
}

// Run executes blocks until the guest exits or is killed. Signals are
// only delivered between blocks.
func (d *Dispatcher) Run(c *cpu.Context) error {
	for {
		if term, s := d.Bridge.DeliverPending(c); term {
			slog.Debug("Context terminated by signal", "ctx", c.ID, "signal", s.String())
			return &SignalExit{Signal: s}
		}
		if c.ExitRequested() {
			return &ExitError{Status: c.ExitStatus()}
		}

		rec := d.Exec.Exec(c)
		dec := trap.Classify(rec, c.PC)
		switch dec.Action {
		case trap.ActResume:
		case trap.ActSignal:
			d.Bridge.Enqueue(c, dec.Signal)
		case trap.ActSyscall:
			if exit, status := d.Bridge.Syscall(c); exit {
				return &ExitError{Status: status}
			}
		case trap.ActException:
			// An exception record with nothing raised can not be delivered.
			if exception.Pending(c) == exception.ClassNone {
				return d.fatal(c, rec)
			}
			if c.SystemMode {
				exception.Deliver(c)
			} else {
				d.Bridge.Enqueue(c, bridge.ExceptionSignal(c.Info))
				c.Info = cpu.ExceptionInfo{}
			}
		default:
			return d.fatal(c, rec)
		}
	}
}

// Dump state and stop the context.
func (d *Dispatcher) fatal(c *cpu.Context, rec trap.Record) error {
	if d.Diag != nil {
		c.Dump(d.Diag)
	}
	d.Fatal(c, rec)
	return ErrFatal
}
