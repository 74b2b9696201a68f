/*
 * trapcore - Lua block source
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

package script

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/rcornwell/trapcore/emu/cpu"
	"github.com/rcornwell/trapcore/emu/exception"
	"github.com/rcornwell/trapcore/emu/trap"
	lua "github.com/yuin/gopher-lua"
)

/*
   A script stands in for the translator. It registers blocks with

       block(pc, function() ... return SOFTTRAP, 0 end)

   Each block function returns a trap code and auxiliary value, nothing
   returned means CHAIN. A code that is not a whole number from 0 to 255
   is reported as a failed block. Inside a block the helper functions
   operate on the context being run. A helper that raises an exception
   ends the block at once through a Lua error, the block sees no result.
   Catching that error with pcall does not resume the block, every
   later call that touches the context fails and the block still ends
   with EXCEPTION.

   Helpers take an optional call site token as their last argument.
   Tokens are defined with

       site(token, pc, length)

   and a failing helper restarts at the site's PC, so a block may move
   the PC before its last helper call. Without a token the PC is left
   as the block had it when the helper failed.

   Lua numbers are doubles. 64 bit values are passed as signed numbers
   and are exact between -2^53 and 2^53.
*/

// Returned for a block that failed in Lua.
const badBlock trap.Code = 0xff

// Script runs blocks for a single context, a Lua state can not be
// shared between goroutines.
type Script struct {
	L      *lua.LState
	blocks map[uint64]*lua.LFunction
	sites  cpu.SiteTable
	ctx    *cpu.Context
	fault  error // Exception raised by helper in current block
}

// Load script from file.
func Load(name string) (*Script, error) {
	s := newScript()
	if err := s.L.DoFile(name); err != nil {
		s.Close()
		return nil, fmt.Errorf("loading script %s: %w", name, err)
	}
	return s, nil
}

// Load script from string.
func LoadString(src string) (*Script, error) {
	s := newScript()
	if err := s.L.DoString(src); err != nil {
		s.Close()
		return nil, fmt.Errorf("loading script: %w", err)
	}
	return s, nil
}

func newScript() *Script {
	s := &Script{L: lua.NewState(), blocks: map[uint64]*lua.LFunction{}, sites: cpu.SiteTable{}}
	s.register()
	return s
}

// Close Lua state.
func (s *Script) Close() {
	s.L.Close()
}

// Number of blocks defined.
func (s *Script) Blocks() int {
	return len(s.blocks)
}

// Exec runs the block at the context PC.
func (s *Script) Exec(c *cpu.Context) trap.Record {
	fn, ok := s.blocks[c.PC]
	if !ok {
		return trap.Record{Code: trap.Illegal}
	}
	s.ctx = c
	s.fault = nil
	if len(s.sites) != 0 {
		c.Sites = s.sites
	}
	defer func() { s.ctx = nil }()

	top := s.L.GetTop()
	err := s.L.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true})
	if err != nil {
		s.L.SetTop(top)
		if s.fault != nil {
			s.fault = nil
			return trap.Record{Code: trap.Exception}
		}
		slog.Error("Script block failed", "pc", c.PC, "error", err.Error())
		return trap.Record{Code: badBlock}
	}
	code := s.L.Get(-2)
	aux := s.L.Get(-1)
	s.L.Pop(2)
	if s.fault != nil {
		s.fault = nil
		return trap.Record{Code: trap.Exception}
	}
	if code == lua.LNil {
		return trap.Record{Code: trap.Chain}
	}
	n, ok := code.(lua.LNumber)
	if !ok || n < 0 || n > lua.LNumber(badBlock) || n != lua.LNumber(math.Trunc(float64(n))) {
		slog.Error("Script block returned invalid trap code", "pc", c.PC, "code", code.String())
		return trap.Record{Code: badBlock}
	}
	return trap.Record{Code: trap.Code(n), Aux: toU64(aux)}
}

// Convert Lua value to unsigned, negative numbers wrap.
func toU64(v lua.LValue) uint64 {
	n, ok := v.(lua.LNumber)
	if !ok {
		return 0
	}
	f := float64(n)
	if f < 0 {
		return uint64(int64(f))
	}
	return uint64(f)
}

// Helper failed, unwind the block.
func (s *Script) raise(err error) {
	var d *exception.Descriptor
	if errors.As(err, &d) {
		s.fault = d
	}
	s.L.RaiseError("%s", err.Error())
}
