/*
 * trapcore - Machine configuration
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

package machineconfig

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	config "github.com/rcornwell/trapcore/config/configparser"
	"github.com/rcornwell/trapcore/emu/bridge"
	"github.com/rcornwell/trapcore/emu/core"
	"github.com/rcornwell/trapcore/emu/cpu"
	"github.com/rcornwell/trapcore/emu/memory"
	"github.com/rcornwell/trapcore/emu/tags"
)

// Region of guest memory.
type Region struct {
	Addr   uint64
	Size   uint64
	Prot   int
	Tagged bool
}

// Settings collected from configuration file.
type Settings struct {
	Regions    []Region
	Contexts   int
	TagPolicy  [cpu.MaxLevel + 1]uint8
	TCMA       [cpu.MaxLevel + 1]bool
	ErrorFlag  bool
	SystemMode bool
	VectorBase uint64
	Entry      uint64
	Script     string
}

var (
	mu       sync.Mutex
	settings = Settings{Contexts: 1}
)

// register keywords on initialize.
func init() {
	config.RegisterKeyword("MAP", config.TypeKeyword, setMap)
	config.RegisterOption("CONTEXTS", setContexts)
	config.RegisterKeyword("TAGPOLICY", config.TypeOptions, setTagPolicy)
	config.RegisterOption("TCMA", setTCMA)
	config.RegisterSwitch("ERRFLAG", setErrFlag)
	config.RegisterOption("VECTORS", setVectors)
	config.RegisterOption("ENTRY", setEntry)
	config.RegisterFile("SCRIPT", setScript)
}

// Return copy of current settings.
func Get() Settings {
	mu.Lock()
	defer mu.Unlock()
	s := settings
	s.Regions = append([]Region(nil), settings.Regions...)
	return s
}

// Restore default settings.
func Reset() {
	mu.Lock()
	settings = Settings{Contexts: 1}
	mu.Unlock()
}

// Override script name, from command line.
func SetScript(name string) {
	mu.Lock()
	settings.Script = name
	mu.Unlock()
}

var protNames = map[string]int{
	"R":   memory.ProtRead,
	"RW":  memory.ProtRead | memory.ProtWrite,
	"RX":  memory.ProtRead | memory.ProtExec,
	"RWX": memory.ProtRead | memory.ProtWrite | memory.ProtExec,
}

// MAP <addr> SIZE=<n> PROT=<prot> [TAGGED].
func setMap(first config.First, options []config.Option) error {
	r := Region{Addr: first.Number, Prot: memory.ProtRead | memory.ProtWrite}
	if (r.Addr & memory.PageMask) != 0 {
		return fmt.Errorf("map address %x not page aligned", r.Addr)
	}
	for _, opt := range options {
		switch opt.Name {
		case "SIZE":
			size, err := config.ParseNumber(opt.EqualOpt)
			if err != nil || size == 0 {
				return errors.New("map size invalid: " + opt.EqualOpt)
			}
			r.Size = (size + memory.PageSize - 1) &^ memory.PageMask
		case "PROT":
			prot, ok := protNames[strings.ToUpper(opt.EqualOpt)]
			if !ok {
				return errors.New("map protection invalid: " + opt.EqualOpt)
			}
			r.Prot = prot
		case "TAGGED":
			if opt.EqualOpt != "" {
				return errors.New("map tagged does not take a value")
			}
			r.Tagged = true
		default:
			return errors.New("map option invalid: " + opt.Name)
		}
	}
	if r.Size == 0 {
		return fmt.Errorf("map at %x requires size", r.Addr)
	}
	mu.Lock()
	defer mu.Unlock()
	for _, o := range settings.Regions {
		if r.Addr < o.Addr+o.Size && o.Addr < r.Addr+r.Size {
			return fmt.Errorf("map at %x overlaps map at %x", r.Addr, o.Addr)
		}
	}
	settings.Regions = append(settings.Regions, r)
	return nil
}

// Decimal value of first parameter.
func decimal(first config.First, limit uint64) (uint64, error) {
	v, err := strconv.ParseUint(first.Value, 10, 32)
	if err != nil || v > limit {
		return 0, errors.New("number out of range: " + first.Value)
	}
	return v, nil
}

// CONTEXTS <n>.
func setContexts(first config.First, _ []config.Option) error {
	n, err := decimal(first, 256)
	if err != nil || n == 0 {
		return errors.New("contexts must be 1 to 256: " + first.Value)
	}
	mu.Lock()
	settings.Contexts = int(n)
	mu.Unlock()
	return nil
}

var policyNames = map[string]uint8{
	"NONE":     cpu.TagNone,
	"SYNC":     cpu.TagSync,
	"ASYNC":    cpu.TagAsync,
	"RESERVED": cpu.TagInvalid,
}

// TAGPOLICY <level> <policy>.
func setTagPolicy(first config.First, options []config.Option) error {
	level, err := decimal(first, cpu.MaxLevel)
	if err != nil {
		return fmt.Errorf("tag policy level: %w", err)
	}
	if len(options) != 1 || options[0].EqualOpt != "" || len(options[0].Value) != 0 {
		return errors.New("tag policy requires one policy name")
	}
	policy, ok := policyNames[options[0].Name]
	if !ok {
		return errors.New("tag policy invalid: " + options[0].Name)
	}
	mu.Lock()
	settings.TagPolicy[level] = policy
	mu.Unlock()
	return nil
}

// TCMA <level>.
func setTCMA(first config.First, _ []config.Option) error {
	level, err := decimal(first, cpu.MaxLevel)
	if err != nil {
		return fmt.Errorf("tcma level: %w", err)
	}
	mu.Lock()
	settings.TCMA[level] = true
	mu.Unlock()
	return nil
}

// ERRFLAG selects error flag return convention.
func setErrFlag(_ config.First, _ []config.Option) error {
	mu.Lock()
	settings.ErrorFlag = true
	mu.Unlock()
	return nil
}

// VECTORS <base> enables guest exception vectors.
func setVectors(first config.First, _ []config.Option) error {
	if !first.IsNumber {
		return errors.New("vector base must be a number: " + first.Value)
	}
	mu.Lock()
	settings.SystemMode = true
	settings.VectorBase = first.Number
	mu.Unlock()
	return nil
}

// ENTRY <addr> sets starting PC of every context.
func setEntry(first config.First, _ []config.Option) error {
	if !first.IsNumber {
		return errors.New("entry must be a number: " + first.Value)
	}
	mu.Lock()
	settings.Entry = first.Number
	mu.Unlock()
	return nil
}

// SCRIPT "<file>".
func setScript(first config.First, _ []config.Option) error {
	mu.Lock()
	defer mu.Unlock()
	if settings.Script != "" {
		return errors.New("only one script allowed, previous: " + settings.Script)
	}
	settings.Script = first.Value
	return nil
}

// Build creates the machine described by the settings.
func (s Settings) Build() (*core.Core, error) {
	mem := memory.New()
	tt := tags.New()
	for _, r := range s.Regions {
		if err := mem.Map(r.Addr, r.Size, r.Prot); err != nil {
			return nil, err
		}
		if r.Tagged {
			tt.Enable(r.Addr, r.Size)
		}
	}
	n := max(s.Contexts, 1)
	c := core.NewCore(mem, tt, n)
	if s.ErrorFlag {
		c.Convention = bridge.ErrorFlag
	}
	for _, ctx := range c.Contexts {
		ctx.TagPolicy = s.TagPolicy
		ctx.TagZeroUnchecked = s.TCMA
		ctx.SystemMode = s.SystemMode
		ctx.VectorBase = s.VectorBase
	}
	return c, nil
}
