/*
 * trapcore - Atomic compare and swap
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

package helper

import (
	"errors"

	"github.com/rcornwell/trapcore/emu/cpu"
	"github.com/rcornwell/trapcore/emu/exception"
	"github.com/rcornwell/trapcore/emu/guestsig"
	"github.com/rcornwell/trapcore/emu/memory"
)

// Convert memory access error to an exception.
func memFault(c *cpu.Context, err error, addr, ra uint64, mask int, op string) error {
	var f *memory.Fault
	switch {
	case errors.As(err, &f):
		code := uint16(guestsig.SEGVMapErr)
		if f.Kind == memory.AccessError {
			code = guestsig.SEGVAccErr
		}
		return fail(c, mask, exception.ClassSegv, code, f.Addr, ra, op)
	case errors.Is(err, memory.ErrAlign):
		return fail(c, mask, exception.ClassBusError, guestsig.BUSAdrAln, addr, ra, op)
	}
	return fail(c, mask, exception.ClassSegv, guestsig.SEGVMapErr, addr, ra, op)
}

// Check alignment and page access before the swap.
func casCheck(c *cpu.Context, addr uint64, width int, ra uint64, op string) error {
	if (addr & uint64(width-1)) != 0 {
		return fail(c, debugCas, exception.ClassBusError, guestsig.BUSAdrAln, addr, ra, op)
	}
	prot, ok := c.Mem.Prot(addr)
	if !ok {
		return fail(c, debugCas, exception.ClassSegv, guestsig.SEGVMapErr, addr, ra, op)
	}
	if (prot & (memory.ProtRead | memory.ProtWrite)) != (memory.ProtRead | memory.ProtWrite) {
		return fail(c, debugCas, exception.ClassSegv, guestsig.SEGVAccErr, addr, ra, op)
	}
	return nil
}

// CompareAndSwap32 replaces the word at addr with repl if it holds
// expected. Returns old - expected, zero when the swap was done.
func CompareAndSwap32(c *cpu.Context, addr uint64, expected, repl uint32, ra uint64) (uint32, error) {
	if err := casCheck(c, addr, 4, ra, "cas32"); err != nil {
		return 0, err
	}
	old, err := c.Mem.CompareAndSwap(addr, 4, uint64(expected), uint64(repl))
	if err != nil {
		return 0, memFault(c, err, addr, ra, debugCas, "cas32")
	}
	return uint32(old) - expected, nil
}

// CompareAndSwap64 replaces the double word at addr with repl if it
// holds expected. Returns old - expected, zero when the swap was done.
func CompareAndSwap64(c *cpu.Context, addr uint64, expected, repl uint64, ra uint64) (uint64, error) {
	if err := casCheck(c, addr, 8, ra, "cas64"); err != nil {
		return 0, err
	}
	old, err := c.Mem.CompareAndSwap(addr, 8, expected, repl)
	if err != nil {
		return 0, memFault(c, err, addr, ra, debugCas, "cas64")
	}
	return old - expected, nil
}
