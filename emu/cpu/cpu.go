/* CPU context for trapcore

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
	"fmt"
	"io"
	"strings"

	"github.com/rcornwell/trapcore/util/hex"
)

/*
   A context is handed explicitly to every helper, there is no global
   CPU state. The dispatcher owns it, helpers may only change it through
   the pointer they are given, and the exception injector repairs it
   when a helper fails.

   Registers are 64 bits. 32 bit operations use the low word and leave
   the upper word as the instruction set defines.
*/

// Create a new context bound to memory and tag storage.
func NewContext(id int, mem Memory, tags TagTable) *Context {
	c := &Context{ID: id, Mem: mem, Tags: tags}
	c.Reset()
	return c
}

// Reset context to initial state. Memory, tags and sites are kept.
func (c *Context) Reset() {
	for i := 0; i < NumRegs; i++ {
		c.Regs[i] = 0
	}
	c.PC = 0
	c.Level = 0
	c.ErrorCode = 0
	c.FaultAddr = 0
	c.Info = ExceptionInfo{}
	c.Remainder = 0
	for i := 0; i < MaxLevel+1; i++ {
		c.TagPolicy[i] = TagNone
		c.TagZeroUnchecked[i] = false
		c.TagFault[i] = 0
	}
	for i := range c.Handlers {
		c.Handlers[i] = 0
	}
	c.Frames = nil
	_ = c.Signals.Take()
	c.exit.Store(false)
	c.exitStatus.Store(0)
}

// Ask context to stop at next block boundary.
func (c *Context) RequestExit(status int) {
	c.exitStatus.Store(int32(status))
	c.exit.Store(true)
}

// Status given when exit was requested.
func (c *Context) ExitStatus() int {
	return int(c.exitStatus.Load())
}

// Check if exit has been requested.
func (c *Context) ExitRequested() bool {
	return c.exit.Load()
}

// Get low word of register.
func (c *Context) Reg32(r int) uint32 {
	return uint32(c.Regs[r] & LMASKL)
}

// Set low word of register, upper word preserved.
func (c *Context) SetReg32(r int, v uint32) {
	c.Regs[r] = (c.Regs[r] & HMASKL) | uint64(v)
}

// Dump register state, used for fatal diagnostics.
func (c *Context) Dump(w io.Writer) {
	var str strings.Builder
	fmt.Fprintf(&str, "Context %d PC=%016x Level=%d\n", c.ID, c.PC, c.Level)
	for i := 0; i < NumRegs; i += 4 {
		fmt.Fprintf(&str, "R%-2d ", i)
		hex.FormatDouble(&str, c.Regs[i:i+4])
		str.WriteByte('\n')
	}
	fmt.Fprintf(&str, "EXC class=%d code=%04x addr=%016x level=%d\n",
		c.Info.Class, c.Info.Code, c.Info.Addr, c.Info.Level)
	fmt.Fprintf(&str, "ERR=%04x FAULT=%016x REM=%016x TFSR=%x\n",
		c.ErrorCode, c.FaultAddr, c.Remainder, c.TagFault)
	fmt.Fprintf(&str, "Pending signals: %d Frames: %d\n", c.Signals.Pending(), len(c.Frames))
	if c.Mem != nil {
		if data, err := c.Mem.LoadBytes(c.PC, 16); err == nil {
			str.WriteString("Memory at PC: ")
			hex.FormatBytes(&str, true, data)
			str.WriteByte('\n')
		}
	}
	_, _ = io.WriteString(w, str.String())
}

// Site is one entry of a call site table.
type Site struct {
	PC     uint64 // Guest instruction making call
	Length uint64 // Length of instruction
}

// SiteTable is a simple call site resolver built by the block source.
type SiteTable map[uint64]Site

func (s SiteTable) Resolve(site uint64) (uint64, uint64, bool) {
	e, ok := s[site]
	return e.PC, e.Length, ok
}
