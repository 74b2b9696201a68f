/*
 * trapcore - Lua helper bindings
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
	"github.com/rcornwell/trapcore/emu/cpu"
	"github.com/rcornwell/trapcore/emu/helper"
	"github.com/rcornwell/trapcore/emu/trap"
	lua "github.com/yuin/gopher-lua"
)

var codes = map[string]trap.Code{
	"CHAIN":      trap.Chain,
	"INTERRUPT":  trap.Interrupt,
	"ARITH":      trap.Arith,
	"MISALIGNED": trap.Misaligned,
	"ILLEGAL":    trap.Illegal,
	"SOFTTRAP":   trap.SoftTrap,
	"DEBUG":      trap.DebugEvent,
	"EXCEPTION":  trap.Exception,
}

// Tag storage that can be written.
type tagSetter interface {
	Set(addr uint64, tag uint8) error
}

// Install globals.
func (s *Script) register() {
	for name, code := range codes {
		s.L.SetGlobal(name, lua.LNumber(code))
	}
	funcs := map[string]lua.LGFunction{
		"block":      s.block,
		"site":       s.site,
		"reg":        s.reg,
		"setreg":     s.setReg,
		"pc":         s.pc,
		"setpc":      s.setPC,
		"level":      s.level,
		"remainder":  s.remainder,
		"load":       s.load,
		"store":      s.store,
		"divs32":     s.divS32,
		"divu32":     s.divU32,
		"divs64":     s.divS64,
		"divu64":     s.divU64,
		"divs32wide": s.divS32Wide,
		"divu32wide": s.divU32Wide,
		"cvb":        s.cvb,
		"cvbg":       s.cvbg,
		"cvd":        s.cvd,
		"cvdg":       s.cvdg,
		"popcnt":     s.popcnt,
		"checktag":   s.checkTag,
		"settag":     s.setTag,
		"cas32":      s.cas32,
		"cas64":      s.cas64,
	}
	for name, fn := range funcs {
		s.L.SetGlobal(name, s.L.NewFunction(fn))
	}
}

// Get unsigned argument.
func checkU64(L *lua.LState, n int) uint64 {
	return toU64(L.CheckNumber(n))
}

// Get signed argument.
func checkI64(L *lua.LState, n int) int64 {
	return int64(float64(L.CheckNumber(n)))
}

// Context of running block.
func (s *Script) context(L *lua.LState) *cpu.Context {
	if s.ctx == nil {
		L.RaiseError("helper called outside of a block")
	}
	if s.fault != nil {
		L.RaiseError("block ended by exception: %s", s.fault.Error())
	}
	return s.ctx
}

// Optional call site token, must be defined.
func (s *Script) optSite(L *lua.LState, n int) uint64 {
	ra := toU64(L.OptNumber(n, 0))
	if ra == 0 {
		return 0
	}
	if _, _, ok := s.sites.Resolve(ra); !ok {
		L.ArgError(n, "unknown call site")
	}
	return ra
}

// block(pc, fn) defines a block.
func (s *Script) block(L *lua.LState) int {
	pc := checkU64(L, 1)
	s.blocks[pc] = L.CheckFunction(2)
	return 0
}

// site(token, pc, length) defines a call site.
func (s *Script) site(L *lua.LState) int {
	token := checkU64(L, 1)
	if token == 0 {
		L.ArgError(1, "site token must not be zero")
	}
	s.sites[token] = cpu.Site{PC: checkU64(L, 2), Length: checkU64(L, 3)}
	return 0
}

func (s *Script) reg(L *lua.LState) int {
	c := s.context(L)
	r := L.CheckInt(1)
	if r < 0 || r >= cpu.NumRegs {
		L.ArgError(1, "register out of range")
	}
	L.Push(lua.LNumber(int64(c.Regs[r])))
	return 1
}

func (s *Script) setReg(L *lua.LState) int {
	c := s.context(L)
	r := L.CheckInt(1)
	if r < 0 || r >= cpu.NumRegs {
		L.ArgError(1, "register out of range")
	}
	c.Regs[r] = checkU64(L, 2)
	return 0
}

func (s *Script) pc(L *lua.LState) int {
	L.Push(lua.LNumber(int64(s.context(L).PC)))
	return 1
}

func (s *Script) setPC(L *lua.LState) int {
	s.context(L).PC = checkU64(L, 1)
	return 0
}

func (s *Script) level(L *lua.LState) int {
	L.Push(lua.LNumber(s.context(L).Level))
	return 1
}

func (s *Script) remainder(L *lua.LState) int {
	L.Push(lua.LNumber(int64(s.context(L).Remainder)))
	return 1
}

func (s *Script) load(L *lua.LState) int {
	c := s.context(L)
	v, err := helper.Load(c, checkU64(L, 1), L.CheckInt(2), s.optSite(L, 3))
	if err != nil {
		s.raise(err)
	}
	L.Push(lua.LNumber(int64(v)))
	return 1
}

func (s *Script) store(L *lua.LState) int {
	c := s.context(L)
	if err := helper.Store(c, checkU64(L, 1), L.CheckInt(2), checkU64(L, 3), s.optSite(L, 4)); err != nil {
		s.raise(err)
	}
	return 0
}

func (s *Script) divS32(L *lua.LState) int {
	q, err := helper.DivS32(s.context(L), int32(checkI64(L, 1)), int32(checkI64(L, 2)), s.optSite(L, 3))
	if err != nil {
		s.raise(err)
	}
	L.Push(lua.LNumber(q))
	return 1
}

func (s *Script) divU32(L *lua.LState) int {
	q, err := helper.DivU32(s.context(L), uint32(checkU64(L, 1)), uint32(checkU64(L, 2)), s.optSite(L, 3))
	if err != nil {
		s.raise(err)
	}
	L.Push(lua.LNumber(q))
	return 1
}

func (s *Script) divS64(L *lua.LState) int {
	q, err := helper.DivS64(s.context(L), checkI64(L, 1), checkI64(L, 2), s.optSite(L, 3))
	if err != nil {
		s.raise(err)
	}
	L.Push(lua.LNumber(q))
	return 1
}

func (s *Script) divU64(L *lua.LState) int {
	q, err := helper.DivU64(s.context(L), checkU64(L, 1), checkU64(L, 2), s.optSite(L, 3))
	if err != nil {
		s.raise(err)
	}
	L.Push(lua.LNumber(int64(q)))
	return 1
}

func (s *Script) divS32Wide(L *lua.LState) int {
	q, err := helper.DivS32Wide(s.context(L), checkI64(L, 1), int32(checkI64(L, 2)), s.optSite(L, 3))
	if err != nil {
		s.raise(err)
	}
	L.Push(lua.LNumber(q))
	return 1
}

func (s *Script) divU32Wide(L *lua.LState) int {
	q, err := helper.DivU32Wide(s.context(L), checkU64(L, 1), uint32(checkU64(L, 2)), s.optSite(L, 3))
	if err != nil {
		s.raise(err)
	}
	L.Push(lua.LNumber(q))
	return 1
}

func (s *Script) cvb(L *lua.LState) int {
	v, err := helper.ConvertToBinary(s.context(L), checkU64(L, 1), s.optSite(L, 2))
	if err != nil {
		s.raise(err)
	}
	L.Push(lua.LNumber(v))
	return 1
}

func (s *Script) cvbg(L *lua.LState) int {
	v, err := helper.ConvertToBinary64(s.context(L), checkU64(L, 1), s.optSite(L, 2))
	if err != nil {
		s.raise(err)
	}
	L.Push(lua.LNumber(v))
	return 1
}

func (s *Script) cvd(L *lua.LState) int {
	if err := helper.ConvertToDecimal(s.context(L), checkU64(L, 1), int32(checkI64(L, 2)), s.optSite(L, 3)); err != nil {
		s.raise(err)
	}
	return 0
}

func (s *Script) cvdg(L *lua.LState) int {
	if err := helper.ConvertToDecimal64(s.context(L), checkU64(L, 1), checkI64(L, 2), s.optSite(L, 3)); err != nil {
		s.raise(err)
	}
	return 0
}

func (s *Script) popcnt(L *lua.LState) int {
	L.Push(lua.LNumber(helper.PopcountBytes(checkU64(L, 1))))
	return 1
}

func (s *Script) checkTag(L *lua.LState) int {
	clean, err := helper.CheckTag(s.context(L), checkU64(L, 1), L.OptBool(2, false), s.optSite(L, 3))
	if err != nil {
		s.raise(err)
	}
	L.Push(lua.LNumber(int64(clean)))
	return 1
}

// settag(addr, tag) sets memory tag of granule.
func (s *Script) setTag(L *lua.LState) int {
	c := s.context(L)
	t, ok := c.Tags.(tagSetter)
	if !ok {
		L.RaiseError("no tag storage")
	}
	if err := t.Set(checkU64(L, 1), uint8(L.CheckInt(2))); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func (s *Script) cas32(L *lua.LState) int {
	r, err := helper.CompareAndSwap32(s.context(L), checkU64(L, 1), uint32(checkU64(L, 2)), uint32(checkU64(L, 3)), s.optSite(L, 4))
	if err != nil {
		s.raise(err)
	}
	L.Push(lua.LNumber(r))
	return 1
}

func (s *Script) cas64(L *lua.LState) int {
	r, err := helper.CompareAndSwap64(s.context(L), checkU64(L, 1), checkU64(L, 2), checkU64(L, 3), s.optSite(L, 4))
	if err != nil {
		s.raise(err)
	}
	L.Push(lua.LNumber(int64(r)))
	return 1
}
