/*
 * trapcore - Checked memory access
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

import "github.com/rcornwell/trapcore/emu/cpu"

// Load from guest memory, a fault raises a segmentation exception.
func Load(c *cpu.Context, addr uint64, width int, ra uint64) (uint64, error) {
	v, err := c.Mem.Load(addr, width)
	if err != nil {
		return 0, memFault(c, err, addr, ra, debugMem, "load")
	}
	return v, nil
}

// Store to guest memory, nothing is written on a fault.
func Store(c *cpu.Context, addr uint64, width int, data uint64, ra uint64) error {
	if err := c.Mem.Store(addr, width, data); err != nil {
		return memFault(c, err, addr, ra, debugMem, "store")
	}
	return nil
}
