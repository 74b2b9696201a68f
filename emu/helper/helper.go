/*
 * trapcore - Checked operation helpers
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
	"github.com/rcornwell/trapcore/util/debug"
)

/*
   Helpers are called from inside a translated block. Each one takes the
   context of the calling thread and ra, the call site token of the
   helper call in translated code. ra of zero means the block has
   already stored a precise PC.

   On failure a helper raises the exception through the injector and
   returns the descriptor as its error, the block must return at once.
   Nothing is written to registers or memory before the checks pass.
*/

const (
	debugDiv = 1 << iota
	debugDec
	debugTag
	debugCas
	debugMem
)

var debugOption = map[string]int{
	"DIV": debugDiv,
	"DEC": debugDec,
	"TAG": debugTag,
	"CAS": debugCas,
	"MEM": debugMem,
}

var debugMsk int

// Enable debug options.
func Debug(opt string) error {
	flag, ok := debugOption[opt]
	if !ok {
		return errors.New("helper debug option invalid: " + opt)
	}
	debugMsk |= flag
	return nil
}

// Raise exception for failed helper.
func fail(c *cpu.Context, mask int, class exception.Class, code uint16, addr uint64, ra uint64, op string) error {
	debug.Trace("HELPER", debugMsk, mask, op+" failed",
		"ctx", c.ID, "class", class.String(), "code", code, "addr", addr, "site", ra)
	return exception.Raise(c, &exception.Descriptor{
		Class:   class,
		Code:    code,
		Addr:    addr,
		Restart: exception.RestartFaulting,
		Site:    ra,
	})
}
