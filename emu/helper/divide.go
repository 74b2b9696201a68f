/*
 * trapcore - Checked division
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
	"math"

	"github.com/rcornwell/trapcore/emu/cpu"
	"github.com/rcornwell/trapcore/emu/exception"
)

// Divide exception, PC left on divide instruction.
func divFault(c *cpu.Context, ra uint64, op string) error {
	return fail(c, debugDiv, exception.ClassDivide, exception.CodeFixDiv, 0, ra, op)
}

// Signed 32 bit divide.
func DivS32(c *cpu.Context, a, b int32, ra uint64) (int32, error) {
	if b == 0 || (a == math.MinInt32 && b == -1) {
		return 0, divFault(c, ra, "divs32")
	}
	c.Remainder = uint64(int64(a % b))
	return a / b, nil
}

// Unsigned 32 bit divide.
func DivU32(c *cpu.Context, a, b uint32, ra uint64) (uint32, error) {
	if b == 0 {
		return 0, divFault(c, ra, "divu32")
	}
	c.Remainder = uint64(a % b)
	return a / b, nil
}

// Signed 64 bit divide.
func DivS64(c *cpu.Context, a, b int64, ra uint64) (int64, error) {
	if b == 0 || (a == math.MinInt64 && b == -1) {
		return 0, divFault(c, ra, "divs64")
	}
	c.Remainder = uint64(a % b)
	return a / b, nil
}

// Unsigned 64 bit divide.
func DivU64(c *cpu.Context, a, b uint64, ra uint64) (uint64, error) {
	if b == 0 {
		return 0, divFault(c, ra, "divu64")
	}
	c.Remainder = a % b
	return a / b, nil
}

// Signed 64 by 32 divide, quotient must fit in 32 bits. This is the
// even/odd register pair divide.
func DivS32Wide(c *cpu.Context, a int64, b int32, ra uint64) (int32, error) {
	if b == 0 || (a == math.MinInt64 && b == -1) {
		return 0, divFault(c, ra, "divs32wide")
	}
	q := a / int64(b)
	if q < math.MinInt32 || q > math.MaxInt32 {
		return 0, divFault(c, ra, "divs32wide")
	}
	c.Remainder = uint64(a % int64(b))
	return int32(q), nil
}

// Unsigned 64 by 32 divide, quotient must fit in 32 bits.
func DivU32Wide(c *cpu.Context, a uint64, b uint32, ra uint64) (uint32, error) {
	if b == 0 {
		return 0, divFault(c, ra, "divu32wide")
	}
	q := a / uint64(b)
	if q > math.MaxUint32 {
		return 0, divFault(c, ra, "divu32wide")
	}
	c.Remainder = a % uint64(b)
	return uint32(q), nil
}
