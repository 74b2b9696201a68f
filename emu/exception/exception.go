/*
 * trapcore - Exception injector
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

package exception

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/rcornwell/trapcore/emu/cpu"
	"github.com/rcornwell/trapcore/util/debug"
)

// Class of exception.
type Class uint8

const (
	ClassNone     Class = iota
	ClassDivide         // Fixed point divide
	ClassOperand        // Invalid operand data
	ClassTagCheck       // Synchronous tag check fault
	ClassBusError       // Alignment fault
	ClassSegv           // Address not mapped or protected
	numClasses
)

var className = [numClasses]string{"none", "divide", "operand", "tagcheck", "buserror", "segv"}

func (c Class) String() string {
	if c < numClasses {
		return className[c]
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// Where execution restarts after the exception is handled.
type Restart uint8

const (
	RestartFaulting Restart = iota // Re-execute faulting instruction
	RestartNext                    // Continue with next instruction
)

// Sub codes for architectural exceptions. Signal classes use the
// si_code values from guestsig.
const (
	CodeData   uint16 = 0x0007 // Data exception
	CodeFixDiv uint16 = 0x0009 // Fixed point divide
	CodeTag    uint16 = 0x0011 // Tag mismatch
)

// Offset between guest vectors.
const VectorStride uint64 = 0x80

// Descriptor describes one exception raised by a checked operation.
// It is handed to Raise and afterwards propagated as the error that
// aborts the current block.
type Descriptor struct {
	Class   Class   // Exception class
	Code    uint16  // Sub code
	Addr    uint64  // Faulting address
	Restart Restart // Restart policy
	Site    uint64  // Call site in translated code, 0 if PC is precise
}

func (d *Descriptor) Error() string {
	return fmt.Sprintf("%s exception code %04x addr %x", d.Class, d.Code, d.Addr)
}

// Errors that abort processing, never returned to guest.
var (
	ErrBadClass   = errors.New("exception class not defined")
	ErrBadRestart = errors.New("exception restart policy not defined")
	ErrNoSite     = errors.New("helper call site not in site table")
)

// Abort is called when a state that can not happen is reached. It
// must not return, tests replace it.
var Abort = func(c *cpu.Context, err error) {
	slog.Error("Exception injector abort: " + err.Error())
	c.Dump(os.Stderr)
	os.Exit(134)
}

const (
	debugExcept = 1 << iota
	debugVector
)

var debugOption = map[string]int{
	"EXCEPT": debugExcept,
	"VECTOR": debugVector,
}

var debugMsk int

// Enable debug options.
func Debug(opt string) error {
	flag, ok := debugOption[opt]
	if !ok {
		return errors.New("exception debug option invalid: " + opt)
	}
	debugMsk |= flag
	return nil
}

// Raise repairs the context for the failed operation and records the
// exception. The descriptor is returned so the caller can end the
// block with it.
func Raise(c *cpu.Context, d *Descriptor) error {
	if d.Class == ClassNone || d.Class >= numClasses {
		Abort(c, fmt.Errorf("%w: %d", ErrBadClass, d.Class))
		return d
	}
	if d.Restart != RestartFaulting && d.Restart != RestartNext {
		Abort(c, fmt.Errorf("%w: %d", ErrBadRestart, d.Restart))
		return d
	}

	// Recover precise PC. Without a site the caller left PC at the
	// boundary the restart policy requires.
	if d.Site != 0 {
		if c.Sites == nil {
			Abort(c, fmt.Errorf("%w: %x (no table)", ErrNoSite, d.Site))
			return d
		}
		pc, length, ok := c.Sites.Resolve(d.Site)
		if !ok {
			Abort(c, fmt.Errorf("%w: %x", ErrNoSite, d.Site))
			return d
		}
		c.PC = pc
		if d.Restart == RestartNext {
			c.PC += length
		}
	}

	c.ErrorCode = d.Code
	c.FaultAddr = d.Addr
	c.Info = cpu.ExceptionInfo{
		Class: uint8(d.Class),
		Code:  d.Code,
		Addr:  d.Addr,
		Level: c.Level,
	}
	debug.Trace("EXCEPT", debugMsk, debugExcept, "raise",
		"ctx", c.ID, "class", d.Class.String(), "code", d.Code, "addr", d.Addr, "pc", c.PC)
	return d
}

// Class of last raised exception.
func Pending(c *cpu.Context) Class {
	return Class(c.Info.Class)
}

// Deliver enters the guest exception vector for the last raised
// exception. Old PC and level are saved in the exception record, the
// level is raised to at least one.
func Deliver(c *cpu.Context) {
	class := Class(c.Info.Class)
	if class == ClassNone || class >= numClasses {
		Abort(c, fmt.Errorf("%w: deliver %d", ErrBadClass, class))
		return
	}
	c.Info.OldPC = c.PC
	c.Info.OldLevel = c.Level
	if c.Level == 0 {
		c.Level = 1
	}
	c.PC = c.VectorBase + uint64(class)*VectorStride
	debug.Trace("EXCEPT", debugMsk, debugVector, "vector",
		"ctx", c.ID, "class", class.String(), "old_pc", c.Info.OldPC, "pc", c.PC)
}

// Return from guest exception handler.
func Return(c *cpu.Context) {
	c.PC = c.Info.OldPC
	c.Level = c.Info.OldLevel
	c.Info = cpu.ExceptionInfo{}
}
