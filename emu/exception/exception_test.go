/*
 * trapcore - Exception injector tests
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
	"testing"

	"github.com/rcornwell/trapcore/emu/cpu"
)

var aborted error

func setup() *cpu.Context {
	aborted = nil
	Abort = func(_ *cpu.Context, err error) {
		aborted = err
	}
	c := cpu.NewContext(0, nil, nil)
	c.Sites = cpu.SiteTable{
		0x1000: {PC: 0x400, Length: 4},
		0x2000: {PC: 0x404, Length: 6},
	}
	c.PC = 0x800
	return c
}

// Site resolves PC, restart faulting leaves it on instruction.
func TestRaiseFaulting(t *testing.T) {
	c := setup()
	c.Level = 2
	err := Raise(c, &Descriptor{Class: ClassDivide, Code: CodeFixDiv, Restart: RestartFaulting, Site: 0x1000})
	if aborted != nil {
		t.Fatalf("Raise aborted: %v", aborted)
	}
	var d *Descriptor
	if !errors.As(err, &d) {
		t.Fatalf("Raise did not return descriptor: %v", err)
	}
	if c.PC != 0x400 {
		t.Errorf("Raise PC got: %x expected: %x", c.PC, 0x400)
	}
	if c.ErrorCode != CodeFixDiv {
		t.Errorf("Raise error code got: %x expected: %x", c.ErrorCode, CodeFixDiv)
	}
	if Pending(c) != ClassDivide {
		t.Errorf("Raise class got: %v expected: %v", Pending(c), ClassDivide)
	}
	if c.Info.Level != 2 {
		t.Errorf("Raise level got: %d expected: %d", c.Info.Level, 2)
	}
}

// Restart next advances over instruction.
func TestRaiseNext(t *testing.T) {
	c := setup()
	_ = Raise(c, &Descriptor{Class: ClassSegv, Code: 1, Addr: 0xdead0, Restart: RestartNext, Site: 0x2000})
	if aborted != nil {
		t.Fatalf("Raise aborted: %v", aborted)
	}
	if c.PC != 0x40a {
		t.Errorf("Raise PC got: %x expected: %x", c.PC, 0x40a)
	}
	if c.FaultAddr != 0xdead0 || c.Info.Addr != 0xdead0 {
		t.Errorf("Raise address got: %x expected: %x", c.FaultAddr, 0xdead0)
	}
}

// Without site PC is already precise.
func TestRaiseNoSite(t *testing.T) {
	c := setup()
	_ = Raise(c, &Descriptor{Class: ClassOperand, Code: CodeData, Restart: RestartNext})
	if aborted != nil {
		t.Fatalf("Raise aborted: %v", aborted)
	}
	if c.PC != 0x800 {
		t.Errorf("Raise PC got: %x expected: %x", c.PC, 0x800)
	}
}

func TestRaiseAbort(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
		want error
	}{
		{"class none", Descriptor{Class: ClassNone}, ErrBadClass},
		{"class range", Descriptor{Class: numClasses}, ErrBadClass},
		{"restart", Descriptor{Class: ClassDivide, Restart: 7}, ErrBadRestart},
		{"site", Descriptor{Class: ClassDivide, Site: 0x3000}, ErrNoSite},
	}
	for _, test := range tests {
		test := test
		c := setup()
		_ = Raise(c, &test.d)
		if !errors.Is(aborted, test.want) {
			t.Errorf("Raise %s got: %v expected: %v", test.name, aborted, test.want)
		}
		if c.PC != 0x800 {
			t.Errorf("Raise %s changed PC got: %x expected: %x", test.name, c.PC, 0x800)
		}
	}

	c := setup()
	c.Sites = nil
	_ = Raise(c, &Descriptor{Class: ClassDivide, Site: 0x1000})
	if !errors.Is(aborted, ErrNoSite) {
		t.Errorf("Raise without table got: %v expected: %v", aborted, ErrNoSite)
	}
}

func TestDeliverReturn(t *testing.T) {
	c := setup()
	c.VectorBase = 0x10000
	_ = Raise(c, &Descriptor{Class: ClassTagCheck, Code: CodeTag, Addr: 0x5000, Site: 0x1000})
	Deliver(c)
	if aborted != nil {
		t.Fatalf("Deliver aborted: %v", aborted)
	}
	expected := uint64(0x10000) + uint64(ClassTagCheck)*VectorStride
	if c.PC != expected {
		t.Errorf("Deliver PC got: %x expected: %x", c.PC, expected)
	}
	if c.Level != 1 {
		t.Errorf("Deliver level got: %d expected: %d", c.Level, 1)
	}
	if c.Info.OldPC != 0x400 || c.Info.OldLevel != 0 {
		t.Errorf("Deliver saved got: %x/%d expected: %x/%d", c.Info.OldPC, c.Info.OldLevel, 0x400, 0)
	}
	Return(c)
	if c.PC != 0x400 || c.Level != 0 {
		t.Errorf("Return got: %x/%d expected: %x/%d", c.PC, c.Level, 0x400, 0)
	}
	if Pending(c) != ClassNone {
		t.Errorf("Return left class: %v", Pending(c))
	}
}

// Higher level is kept on delivery.
func TestDeliverLevel(t *testing.T) {
	c := setup()
	c.Level = 2
	_ = Raise(c, &Descriptor{Class: ClassBusError, Code: 1})
	Deliver(c)
	if c.Level != 2 {
		t.Errorf("Deliver level got: %d expected: %d", c.Level, 2)
	}
	if c.PC != uint64(ClassBusError)*VectorStride {
		t.Errorf("Deliver PC got: %x expected: %x", c.PC, uint64(ClassBusError)*VectorStride)
	}
}

func TestDebug(t *testing.T) {
	debugMsk = 0
	if err := Debug("EXCEPT"); err != nil {
		t.Errorf("Debug EXCEPT failed: %v", err)
	}
	if debugMsk != debugExcept {
		t.Errorf("Debug mask got: %x expected: %x", debugMsk, debugExcept)
	}
	if err := Debug("BOGUS"); err == nil {
		t.Errorf("Debug BOGUS did not fail")
	}
	debugMsk = 0
}
