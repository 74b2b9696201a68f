/*
 * trapcore - Execution context tests
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

package cpu

import (
	"strings"
	"testing"

	"github.com/rcornwell/trapcore/emu/guestsig"
	"github.com/rcornwell/trapcore/emu/memory"
)

func TestReg32(t *testing.T) {
	c := NewContext(0, nil, nil)
	c.Regs[3] = 0x1234567800000000
	c.SetReg32(3, 0xdeadbeef)
	if c.Regs[3] != 0x12345678deadbeef {
		t.Errorf("SetReg32 got: %016x", c.Regs[3])
	}
	if c.Reg32(3) != 0xdeadbeef {
		t.Errorf("Reg32 got: %08x", c.Reg32(3))
	}
}

func TestReset(t *testing.T) {
	mem := memory.New()
	c := NewContext(1, mem, nil)
	c.Regs[5] = 10
	c.PC = 0x1000
	c.Level = 2
	c.Info = ExceptionInfo{Class: 1, Code: 9, Addr: 0x20, Level: 2}
	c.TagPolicy[1] = TagSync
	c.TagFault[1] = TagFaultUpper
	c.Handlers[guestsig.SIGFPE] = 0x2000
	c.Frames = append(c.Frames, Frame{PC: 4})
	c.Signals.Post(guestsig.Signal{Signo: guestsig.SIGINT})
	c.RequestExit(3)

	c.Reset()
	if c.Regs[5] != 0 || c.PC != 0 || c.Level != 0 {
		t.Errorf("Reset left registers: %x %x %d", c.Regs[5], c.PC, c.Level)
	}
	if c.Info != (ExceptionInfo{}) {
		t.Errorf("Reset left exception info: %+v", c.Info)
	}
	if c.TagPolicy[1] != TagNone || c.TagFault[1] != 0 {
		t.Errorf("Reset left tag state")
	}
	if c.Handlers[guestsig.SIGFPE] != 0 || len(c.Frames) != 0 {
		t.Errorf("Reset left signal state")
	}
	if c.Signals.Pending() != 0 {
		t.Errorf("Reset left %d pending signals", c.Signals.Pending())
	}
	if c.ExitRequested() || c.ExitStatus() != 0 {
		t.Errorf("Reset left exit request")
	}
	if c.Mem != mem || c.ID != 1 {
		t.Errorf("Reset dropped memory binding")
	}
}

func TestRequestExit(t *testing.T) {
	c := NewContext(0, nil, nil)
	if c.ExitRequested() {
		t.Fatal("New context has exit requested")
	}
	c.RequestExit(42)
	if !c.ExitRequested() {
		t.Error("Exit not requested")
	}
	if c.ExitStatus() != 42 {
		t.Errorf("ExitStatus got: %d expected: 42", c.ExitStatus())
	}
}

func TestSiteTable(t *testing.T) {
	sites := SiteTable{0x500: {PC: 0x1000, Length: 4}}
	pc, l, ok := sites.Resolve(0x500)
	if !ok || pc != 0x1000 || l != 4 {
		t.Errorf("Resolve got: %x %d %v", pc, l, ok)
	}
	if _, _, ok := sites.Resolve(0x504); ok {
		t.Error("Resolve found unknown site")
	}
}

func TestDump(t *testing.T) {
	mem := memory.New()
	if err := mem.Map(0, memory.PageSize, memory.ProtRead|memory.ProtWrite); err != nil {
		t.Fatal(err)
	}
	c := NewContext(0, mem, nil)
	c.PC = 0x10
	c.Regs[1] = 0xabcdef
	if err := mem.StoreBytes(0x10, []byte{0x5a, 0xa5}); err != nil {
		t.Fatal(err)
	}
	var out strings.Builder
	c.Dump(&out)
	dump := out.String()
	if !strings.Contains(dump, "PC=0000000000000010") {
		t.Errorf("Dump missing PC: %s", dump)
	}
	if !strings.Contains(dump, "0000000000ABCDEF") {
		t.Errorf("Dump missing register: %s", dump)
	}
	if !strings.Contains(dump, "Memory at PC: 5A A5 ") {
		t.Errorf("Dump missing memory: %s", dump)
	}
}
