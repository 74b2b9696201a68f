/*
 * trapcore - Trap classifier
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

package trap

import (
	"errors"
	"fmt"

	"github.com/rcornwell/trapcore/emu/guestsig"
	"github.com/rcornwell/trapcore/util/debug"
)

// Code returned by a translated block.
type Code uint8

const (
	Chain      Code = iota // Block ended at a boundary
	Interrupt              // Interrupt pending
	Arith                  // Arithmetic fault
	Misaligned             // Misaligned access, Aux holds address
	Illegal                // Illegal instruction
	SoftTrap               // Software trap, Aux holds trap number
	DebugEvent             // Breakpoint or single step
	Exception              // Helper raised an exception
	numCodes
)

var codeName = [numCodes]string{
	"chain", "interrupt", "arith", "misaligned", "illegal", "softtrap", "debug", "exception",
}

func (c Code) String() string {
	if c < numCodes {
		return codeName[c]
	}
	return fmt.Sprintf("code(%d)", uint8(c))
}

// Record produced by one block execution.
type Record struct {
	Code Code   // Why block ended
	Aux  uint64 // Address or trap number
}

// Software trap numbers.
const (
	TrapSyscall uint64 = iota
	TrapBreak
	TrapUser1
	TrapUser2
)

// Action to take for a trap.
type Action uint8

const (
	ActResume    Action = iota // Run next block
	ActSignal                  // Queue guest signal
	ActSyscall                 // Perform system call
	ActException               // Deliver raised exception
	ActFatal                   // Translator bug, stop
)

var actionName = []string{"resume", "signal", "syscall", "exception", "fatal"}

func (a Action) String() string {
	if int(a) < len(actionName) {
		return actionName[a]
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// Decision of classifier. Signal is only valid for ActSignal.
type Decision struct {
	Action Action
	Signal guestsig.Signal
}

const (
	debugTrap = 1 << iota
	debugChain
)

var debugOption = map[string]int{
	"TRAP":  debugTrap,
	"CHAIN": debugChain,
}

var debugMsk int

// Enable debug options.
func Debug(opt string) error {
	flag, ok := debugOption[opt]
	if !ok {
		return errors.New("trap debug option invalid: " + opt)
	}
	debugMsk |= flag
	return nil
}

func signal(signo, code int, addr uint64) Decision {
	return Decision{Action: ActSignal, Signal: guestsig.Signal{Signo: signo, Code: code, Addr: addr}}
}

// Classify maps the record of a finished block to an action. pc is the
// address of the trapping instruction.
func Classify(rec Record, pc uint64) Decision {
	d := classify(rec, pc)
	mask := debugTrap
	if d.Action == ActResume {
		mask = debugChain
	}
	debug.Trace("TRAP", debugMsk, mask, "classify",
		"code", rec.Code.String(), "aux", rec.Aux, "pc", pc, "action", d.Action.String())
	return d
}

func classify(rec Record, pc uint64) Decision {
	switch rec.Code {
	case Chain, Interrupt:
		return Decision{Action: ActResume}
	case Arith:
		return signal(guestsig.SIGFPE, guestsig.FPEIntOvf, pc)
	case Misaligned:
		return signal(guestsig.SIGBUS, guestsig.BUSAdrAln, rec.Aux)
	case Illegal:
		return signal(guestsig.SIGILL, guestsig.ILLIllOpc, pc)
	case SoftTrap:
		switch rec.Aux {
		case TrapSyscall:
			return Decision{Action: ActSyscall}
		case TrapBreak:
			return signal(guestsig.SIGTRAP, guestsig.TRAPBrkpt, pc)
		case TrapUser1:
			return signal(guestsig.SIGUSR1, guestsig.SIKernel, 0)
		case TrapUser2:
			return signal(guestsig.SIGUSR2, guestsig.SIKernel, 0)
		default:
			return signal(guestsig.SIGILL, guestsig.ILLIllTrp, pc)
		}
	case DebugEvent:
		return signal(guestsig.SIGTRAP, guestsig.TRAPBrkpt, pc)
	case Exception:
		return Decision{Action: ActException}
	default:
	}
	// Not in table, translator is broken.
	return Decision{Action: ActFatal}
}
