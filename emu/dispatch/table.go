/*
 * trapcore - Block table executor
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
	"errors"
	"log/slog"

	"github.com/rcornwell/trapcore/emu/cpu"
	"github.com/rcornwell/trapcore/emu/exception"
	"github.com/rcornwell/trapcore/emu/trap"
)

// Returned for a block that failed without raising an exception.
const badBlock trap.Code = 0xff

// Block is one translated block. A helper error ends the block.
type Block func(c *cpu.Context) (trap.Record, error)

// Table executor maps start PC to block.
type Table map[uint64]Block

func (t Table) Exec(c *cpu.Context) trap.Record {
	blk, ok := t[c.PC]
	if !ok {
		return trap.Record{Code: trap.Illegal}
	}
	return Finish(blk(c))
}

// Finish converts the result of a block to a trap record.
func Finish(rec trap.Record, err error) trap.Record {
	if err == nil {
		return rec
	}
	var d *exception.Descriptor
	if errors.As(err, &d) {
		return trap.Record{Code: trap.Exception}
	}
	slog.Error("Block failed: " + err.Error())
	return trap.Record{Code: badBlock}
}
