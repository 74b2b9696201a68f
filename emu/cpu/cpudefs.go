/* CPU context definitions for trapcore

   Copyright (c) 2024, Richard Cornwell

   Permission is hereby granted, free of charge, to any person obtaining a
   copy of this software and associated documentation files (the "Software"),
   to deal in the Software without restriction, including without limitation
   the rights to use, copy, modify, merge, publish, distribute, sublicense,
   and/or sell copies of the Software, and to permit persons to whom the
   Software is furnished to do so, subject to the following conditions:

   The above copyright notice and this permission notice shall be included in
   all copies or substantial portions of the Software.

   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
   RICHARD CORNWELL BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

*/

package cpu

import (
	"sync/atomic"

	"github.com/rcornwell/trapcore/emu/guestsig"
)

const (
	NumRegs  = 32 // General registers
	MaxLevel = 3  // Highest privilege level

	// Tag check policy values, two bits per level.
	TagNone    uint8 = 0 // Mismatch has no effect
	TagSync    uint8 = 1 // Mismatch raises a synchronous fault
	TagAsync   uint8 = 2 // Mismatch sets the asynchronous fault flag
	TagInvalid uint8 = 3 // Reserved encoding

	// Asynchronous tag fault flags, one per address half.
	TagFaultLower uint8 = 0x1 // Bit 55 of address clear
	TagFaultUpper uint8 = 0x2 // Bit 55 of address set

	// Low 64 bit masks.
	LMASKL uint64 = 0x00000000ffffffff // Lower word
	HMASKL uint64 = 0xffffffff00000000 // Upper word
	MSIGNL uint64 = 0x8000000000000000 // Sign of double word
	MSIGN  uint32 = 0x80000000         // Sign of word
)

// Memory is the guest memory seen by one context.
type Memory interface {
	Load(addr uint64, width int) (uint64, error)
	Store(addr uint64, width int, data uint64) error
	LoadBytes(addr uint64, n int) ([]byte, error)
	StoreBytes(addr uint64, data []byte) error
	CompareAndSwap(addr uint64, width int, old, repl uint64) (uint64, error)
	Probe(addr uint64, write bool) error
	Prot(addr uint64) (int, bool)
}

// TagTable returns the memory side tag of a granule.
type TagTable interface {
	Lookup(addr uint64) (uint8, bool)
}

// SiteResolver maps a helper call site inside translated code back to
// the guest instruction that made the call.
type SiteResolver interface {
	Resolve(site uint64) (pc uint64, length uint64, ok bool)
}

// Exception information record, filled in when an exception is raised.
type ExceptionInfo struct {
	Class    uint8  // Exception class
	Code     uint16 // Sub code
	Addr     uint64 // Faulting address
	Level    uint8  // Level exception was taken from
	OldPC    uint64 // PC saved on vector entry
	OldLevel uint8  // Level saved on vector entry
}

// Frame saved on guest signal handler entry.
type Frame struct {
	Regs  [NumRegs]uint64
	PC    uint64
	Level uint8
	Signo int
}

// Context is the complete state of one guest thread.
type Context struct {
	ID    int             // Context number
	Regs  [NumRegs]uint64 // General registers
	PC    uint64          // Program counter
	Level uint8           // Current privilege level

	ErrorCode uint16        // Pending exception sub code
	FaultAddr uint64        // Pending exception address
	Info      ExceptionInfo // Last exception raised
	Remainder uint64        // Remainder of last successful divide

	TagPolicy        [MaxLevel + 1]uint8 // Tag check policy per level
	TagZeroUnchecked [MaxLevel + 1]bool  // Match all tag per level
	TagFault         [MaxLevel + 1]uint8 // Asynchronous tag fault flags

	SystemMode bool   // Exceptions enter guest vectors
	VectorBase uint64 // Base of guest vector table

	Handlers [guestsig.NSig]uint64 // Guest signal handlers, 0 is default
	Frames   []Frame               // Active signal frames

	Mem     Memory         // Guest memory
	Tags    TagTable       // Tag storage, may be nil
	Sites   SiteResolver   // Call site table, may be nil
	Signals guestsig.Queue // Signals waiting for block boundary

	exit       atomic.Bool  // Exit requested from outside
	exitStatus atomic.Int32 // Status given with exit request
}
