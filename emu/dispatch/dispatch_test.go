/*
 * trapcore - Dispatcher tests
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
	"bytes"
	"errors"
	"testing"

	"github.com/rcornwell/trapcore/emu/bridge"
	"github.com/rcornwell/trapcore/emu/cpu"
	"github.com/rcornwell/trapcore/emu/exception"
	"github.com/rcornwell/trapcore/emu/guestsig"
	"github.com/rcornwell/trapcore/emu/helper"
	"github.com/rcornwell/trapcore/emu/memory"
	"github.com/rcornwell/trapcore/emu/trap"
)

type fatalRecord struct {
	called bool
	rec    trap.Record
}

func setup(t *testing.T, prog Table) (*Dispatcher, *cpu.Context, *fatalRecord, *bytes.Buffer) {
	t.Helper()
	mem := memory.New()
	if err := mem.Map(0, memory.PageSize, memory.ProtRead|memory.ProtWrite|memory.ProtExec); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	exception.Abort = func(_ *cpu.Context, err error) {
		t.Fatalf("Exception abort: %v", err)
	}
	f := &fatalRecord{}
	diag := &bytes.Buffer{}
	d := New(prog, bridge.New(bridge.UnixHost{}, bridge.NegErrno))
	d.Diag = diag
	d.Fatal = func(_ *cpu.Context, rec trap.Record) {
		f.called = true
		f.rec = rec
	}
	return d, cpu.NewContext(0, mem, nil), f, diag
}

// Block ending in exit call.
func exitBlock(status func(c *cpu.Context) uint64) Block {
	return func(c *cpu.Context) (trap.Record, error) {
		c.Regs[bridge.DefaultABI.Nr] = bridge.SysExit
		c.Regs[bridge.DefaultABI.Args[0]] = status(c)
		c.PC += 4
		return trap.Record{Code: trap.SoftTrap, Aux: trap.TrapSyscall}, nil
	}
}

func checkExit(t *testing.T, err error, status int) {
	t.Helper()
	var e *ExitError
	if !errors.As(err, &e) {
		t.Fatalf("Run did not exit got: %v", err)
	}
	if e.Status != status {
		t.Errorf("Run exit status got: %d expected: %d", e.Status, status)
	}
}

func checkSignal(t *testing.T, err error, signo, code int) {
	t.Helper()
	var e *SignalExit
	if !errors.As(err, &e) {
		t.Fatalf("Run not killed by signal got: %v", err)
	}
	if e.Signal.Signo != signo || e.Signal.Code != code {
		t.Errorf("Run signal got: %d/%d expected: %d/%d", e.Signal.Signo, e.Signal.Code, signo, code)
	}
}

func TestRunExit(t *testing.T) {
	count := 0
	prog := Table{
		0x0: func(c *cpu.Context) (trap.Record, error) {
			count++
			c.Regs[10] = 42
			c.PC = 0x10
			return trap.Record{Code: trap.Chain}, nil
		},
		0x10: exitBlock(func(c *cpu.Context) uint64 { return c.Regs[10] }),
	}
	d, c, f, _ := setup(t, prog)
	checkExit(t, d.Run(c), 42)
	if count != 1 || f.called {
		t.Errorf("Run count got: %d fatal: %v expected: %d false", count, f.called, 1)
	}
}

// Unknown trap code stops context, no further block runs.
func TestRunFatal(t *testing.T) {
	count := 0
	prog := Table{
		0x0: func(c *cpu.Context) (trap.Record, error) {
			count++
			c.PC = 0x10
			return trap.Record{Code: 99}, nil
		},
		0x10: func(c *cpu.Context) (trap.Record, error) {
			count++
			return trap.Record{Code: trap.Chain}, nil
		},
	}
	d, c, f, diag := setup(t, prog)
	err := d.Run(c)
	if !errors.Is(err, ErrFatal) {
		t.Errorf("Run fatal got: %v expected: %v", err, ErrFatal)
	}
	if !f.called || f.rec.Code != 99 {
		t.Errorf("Fatal hook got: %v %d expected: %v %d", f.called, f.rec.Code, true, 99)
	}
	if count != 1 {
		t.Errorf("Blocks run after fatal got: %d expected: %d", count, 1)
	}
	if diag.Len() == 0 {
		t.Errorf("No diagnostics written")
	}
}

// Block returning a non exception error is fatal.
func TestRunBadBlock(t *testing.T) {
	prog := Table{
		0x0: func(_ *cpu.Context) (trap.Record, error) {
			return trap.Record{}, errors.New("broken")
		},
	}
	d, c, f, _ := setup(t, prog)
	if err := d.Run(c); !errors.Is(err, ErrFatal) {
		t.Errorf("Run bad block got: %v expected: %v", err, ErrFatal)
	}
	if !f.called {
		t.Errorf("Fatal hook not called")
	}
}

func divideBlock(c *cpu.Context) (trap.Record, error) {
	c.SetReg32(3, 100)
	q, err := helper.DivS32(c, 100, int32(c.Reg32(4)), 0)
	if err != nil {
		return trap.Record{}, err
	}
	c.SetReg32(5, uint32(q))
	c.PC += 4
	return trap.Record{Code: trap.Chain}, nil
}

// Divide exception without handler kills guest.
func TestRunDivideSignal(t *testing.T) {
	d, c, _, _ := setup(t, Table{0x0: divideBlock})
	checkSignal(t, d.Run(c), guestsig.SIGFPE, guestsig.FPEIntDiv)
	if c.PC != 0 {
		t.Errorf("Divide fault PC got: %x expected: %x", c.PC, 0)
	}
}

// Guest handler gets signal and code.
func TestRunDivideHandler(t *testing.T) {
	prog := Table{
		0x0: divideBlock,
		0x100: exitBlock(func(c *cpu.Context) uint64 {
			return c.Regs[bridge.DefaultABI.Args[0]]*100 + c.Regs[bridge.DefaultABI.Args[1]]
		}),
	}
	d, c, _, _ := setup(t, prog)
	c.Handlers[guestsig.SIGFPE] = 0x100
	checkExit(t, d.Run(c), guestsig.SIGFPE*100+guestsig.FPEIntDiv)
	if exception.Pending(c) != exception.ClassNone {
		t.Errorf("Exception still pending got: %v", exception.Pending(c))
	}
}

// Exception record without a raised exception is fatal.
func TestRunExceptionNotRaised(t *testing.T) {
	count := 0
	prog := Table{
		0x0: func(_ *cpu.Context) (trap.Record, error) {
			count++
			return trap.Record{Code: trap.Exception}, nil
		},
	}
	d, c, f, _ := setup(t, prog)
	c.Handlers[guestsig.SIGFPE] = 0x100
	if err := d.Run(c); !errors.Is(err, ErrFatal) {
		t.Errorf("Run got: %v expected: %v", err, ErrFatal)
	}
	if !f.called || f.rec.Code != trap.Exception {
		t.Errorf("Fatal hook got: %v %v expected: %v %v", f.called, f.rec.Code, true, trap.Exception)
	}
	if count != 1 {
		t.Errorf("Blocks run got: %d expected: %d", count, 1)
	}
}

// A second exception record after a delivered one is not resent.
func TestRunExceptionStale(t *testing.T) {
	prog := Table{
		0x0: divideBlock,
		0x100: func(c *cpu.Context) (trap.Record, error) {
			c.PC = 0x200
			return trap.Record{Code: trap.Exception}, nil
		},
	}
	d, c, f, _ := setup(t, prog)
	c.Handlers[guestsig.SIGFPE] = 0x100
	if err := d.Run(c); !errors.Is(err, ErrFatal) {
		t.Errorf("Run got: %v expected: %v", err, ErrFatal)
	}
	if !f.called {
		t.Errorf("Fatal hook not called")
	}
	if len(c.Frames) != 1 {
		t.Errorf("Signal frames got: %d expected: %d", len(c.Frames), 1)
	}
}

// System mode enters the exception vector.
func TestRunVector(t *testing.T) {
	vector := uint64(0x200) + uint64(exception.ClassDivide)*exception.VectorStride
	prog := Table{
		0x0: divideBlock,
		vector: exitBlock(func(c *cpu.Context) uint64 {
			return uint64(c.Info.Code)
		}),
	}
	d, c, _, _ := setup(t, prog)
	c.SystemMode = true
	c.VectorBase = 0x200
	checkExit(t, d.Run(c), int(exception.CodeFixDiv))
	if c.Level != 1 || c.Info.OldPC != 0 {
		t.Errorf("Vector entry got: level %d old %x expected: level %d old %x", c.Level, c.Info.OldPC, 1, 0)
	}
}

func TestRunSignals(t *testing.T) {
	tests := []struct {
		rec   trap.Record
		signo int
		code  int
	}{
		{trap.Record{Code: trap.Illegal}, guestsig.SIGILL, guestsig.ILLIllOpc},
		{trap.Record{Code: trap.Arith}, guestsig.SIGFPE, guestsig.FPEIntOvf},
		{trap.Record{Code: trap.Misaligned, Aux: 3}, guestsig.SIGBUS, guestsig.BUSAdrAln},
		{trap.Record{Code: trap.SoftTrap, Aux: trap.TrapUser2}, guestsig.SIGUSR2, guestsig.SIKernel},
		{trap.Record{Code: trap.DebugEvent}, guestsig.SIGTRAP, guestsig.TRAPBrkpt},
	}
	for _, test := range tests {
		prog := Table{
			0x0: func(_ *cpu.Context) (trap.Record, error) {
				return test.rec, nil
			},
		}
		d, c, _, _ := setup(t, prog)
		checkSignal(t, d.Run(c), test.signo, test.code)
	}
}

// Missing block is an illegal instruction.
func TestRunNoBlock(t *testing.T) {
	d, c, _, _ := setup(t, Table{})
	c.PC = 0x400
	checkSignal(t, d.Run(c), guestsig.SIGILL, guestsig.ILLIllOpc)
}

// Exit requested from outside is seen at block boundary.
func TestRunExitRequest(t *testing.T) {
	count := 0
	prog := Table{
		0x0: func(c *cpu.Context) (trap.Record, error) {
			count++
			if count == 3 {
				c.RequestExit(9)
			}
			return trap.Record{Code: trap.Interrupt}, nil
		},
	}
	d, c, _, _ := setup(t, prog)
	checkExit(t, d.Run(c), 9)
	if count != 3 {
		t.Errorf("Blocks run got: %d expected: %d", count, 3)
	}
}
