/*
 * trapcore - Guest signal delivery
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

package bridge

import (
	"github.com/rcornwell/trapcore/emu/cpu"
	"github.com/rcornwell/trapcore/emu/exception"
	"github.com/rcornwell/trapcore/emu/guestsig"
	"github.com/rcornwell/trapcore/util/debug"
)

// Special handler values.
const (
	HandlerDefault uint64 = 0 // Default action
	HandlerIgnore  uint64 = 1 // Discard signal
)

// Most nested signal frames before the guest is killed.
const maxFrames = 64

// FrameBuilder enters guest signal handlers.
type FrameBuilder interface {
	// Deliver one signal, returns true if the context must terminate.
	Deliver(c *cpu.Context, s guestsig.Signal) bool
	// Return from handler, false if no frame is active.
	Return(c *cpu.Context) bool
}

// DefaultFrames saves the interrupted state in the context and enters
// the handler with signal number, code and address in the first three
// argument registers.
type DefaultFrames struct {
	ABI *ABI
}

// Default action for a signal without a handler.
func defaultTerminates(signo int) bool {
	return signo != guestsig.SIGCHLD
}

func (f *DefaultFrames) Deliver(c *cpu.Context, s guestsig.Signal) bool {
	if s.Signo <= 0 || s.Signo >= guestsig.NSig {
		return false
	}
	handler := c.Handlers[s.Signo]
	switch {
	case s.Signo == guestsig.SIGKILL:
		return true
	case handler == HandlerIgnore:
		// Faults can not be ignored.
		return guestsig.Synchronous(s.Signo)
	case handler == HandlerDefault:
		return defaultTerminates(s.Signo)
	case len(c.Frames) >= maxFrames:
		return true
	}

	c.Frames = append(c.Frames, cpu.Frame{Regs: c.Regs, PC: c.PC, Level: c.Level, Signo: s.Signo})
	c.Regs[f.ABI.Args[0]] = uint64(s.Signo)
	c.Regs[f.ABI.Args[1]] = uint64(int64(s.Code))
	c.Regs[f.ABI.Args[2]] = s.Addr
	c.PC = handler
	return false
}

func (f *DefaultFrames) Return(c *cpu.Context) bool {
	n := len(c.Frames)
	if n == 0 {
		return false
	}
	fr := c.Frames[n-1]
	c.Frames = c.Frames[:n-1]
	c.Regs = fr.Regs
	c.PC = fr.PC
	c.Level = fr.Level
	debug.Debugf("BRIDGE", debugMsk, debugSignal, "ctx %d return from signal %d to %x, %d frames left",
		c.ID, fr.Signo, c.PC, len(c.Frames))
	return true
}

// Enqueue signal for delivery at next block boundary.
func (b *Bridge) Enqueue(c *cpu.Context, s guestsig.Signal) {
	debug.Trace("BRIDGE", debugMsk, debugSignal, "enqueue",
		"ctx", c.ID, "signal", s.String())
	c.Signals.Post(s)
}

// DeliverPending hands every queued signal to the frame builder. If one
// terminates the context the rest are dropped and it is returned.
func (b *Bridge) DeliverPending(c *cpu.Context) (bool, guestsig.Signal) {
	for _, s := range c.Signals.Take() {
		debug.Trace("BRIDGE", debugMsk, debugSignal, "deliver",
			"ctx", c.ID, "signal", s.String(), "handler", handlerOf(c, s.Signo))
		if b.Frames.Deliver(c, s) {
			return true, s
		}
	}
	return false, guestsig.Signal{}
}

func handlerOf(c *cpu.Context, signo int) uint64 {
	if signo <= 0 || signo >= guestsig.NSig {
		return 0
	}
	return c.Handlers[signo]
}

// ExceptionSignal gives the guest signal for a raised exception when
// the guest does not have its own vectors.
func ExceptionSignal(info cpu.ExceptionInfo) guestsig.Signal {
	switch exception.Class(info.Class) {
	case exception.ClassDivide:
		return guestsig.Signal{Signo: guestsig.SIGFPE, Code: guestsig.FPEIntDiv, Addr: info.Addr}
	case exception.ClassOperand:
		return guestsig.Signal{Signo: guestsig.SIGILL, Code: guestsig.ILLIllOpn, Addr: info.Addr}
	case exception.ClassTagCheck:
		return guestsig.Signal{Signo: guestsig.SIGSEGV, Code: guestsig.SEGVMTESErr, Addr: info.Addr}
	case exception.ClassBusError:
		return guestsig.Signal{Signo: guestsig.SIGBUS, Code: guestsig.BUSAdrAln, Addr: info.Addr}
	case exception.ClassSegv:
		return guestsig.Signal{Signo: guestsig.SIGSEGV, Code: int(info.Code), Addr: info.Addr}
	}
	return guestsig.Signal{}
}
