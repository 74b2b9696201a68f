/*
 * trapcore - Machine configuration tests
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
	"strings"
	"testing"

	config "github.com/rcornwell/trapcore/config/configparser"
	"github.com/rcornwell/trapcore/emu/bridge"
	"github.com/rcornwell/trapcore/emu/cpu"
	"github.com/rcornwell/trapcore/emu/memory"
)

func load(t *testing.T, text string) error {
	t.Helper()
	Reset()
	return config.LoadConfig(strings.NewReader(text))
}

func TestMachineConfig(t *testing.T) {
	err := load(t, `# Test machine
MAP 0 SIZE=64K PROT=rwx
map 100000 size=2000 prot=R tagged
CONTEXTS 12
TAGPOLICY 0 SYNC
TAGPOLICY 1 async
TCMA 1
ERRFLAG
VECTORS 8000
ENTRY 1000
SCRIPT "prog one.lua"
`)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	s := Get()
	if len(s.Regions) != 2 {
		t.Fatalf("Regions got: %d expected: %d", len(s.Regions), 2)
	}
	r := s.Regions[0]
	if r.Addr != 0 || r.Size != 0x10000 || r.Prot != memory.ProtRead|memory.ProtWrite|memory.ProtExec || r.Tagged {
		t.Errorf("Region 0 got: %+v", r)
	}
	r = s.Regions[1]
	if r.Addr != 0x100000 || r.Size != 0x2000 || r.Prot != memory.ProtRead || !r.Tagged {
		t.Errorf("Region 1 got: %+v", r)
	}
	if s.Contexts != 12 {
		t.Errorf("Contexts got: %d expected: %d", s.Contexts, 12)
	}
	if s.TagPolicy[0] != cpu.TagSync || s.TagPolicy[1] != cpu.TagAsync || s.TagPolicy[2] != cpu.TagNone {
		t.Errorf("Tag policy got: %v", s.TagPolicy)
	}
	if s.TCMA[0] || !s.TCMA[1] {
		t.Errorf("TCMA got: %v", s.TCMA)
	}
	if !s.ErrorFlag || !s.SystemMode || s.VectorBase != 0x8000 {
		t.Errorf("Flags got: %v %v %x", s.ErrorFlag, s.SystemMode, s.VectorBase)
	}
	if s.Entry != 0x1000 {
		t.Errorf("Entry got: %x expected: %x", s.Entry, 0x1000)
	}
	if s.Script != "prog one.lua" {
		t.Errorf("Script got: %q expected: %q", s.Script, "prog one.lua")
	}

	c, err := s.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(c.Contexts) != 12 {
		t.Errorf("Built contexts got: %d expected: %d", len(c.Contexts), 12)
	}
	if c.Convention != bridge.ErrorFlag {
		t.Errorf("Convention got: %d expected: %d", c.Convention, bridge.ErrorFlag)
	}
	ctx := c.Contexts[3]
	if ctx.TagPolicy[0] != cpu.TagSync || !ctx.TagZeroUnchecked[1] || ctx.VectorBase != 0x8000 || !ctx.SystemMode {
		t.Errorf("Context settings not applied")
	}
	if prot, ok := c.Mem.Prot(0x101000); !ok || prot != memory.ProtRead {
		t.Errorf("Memory protection got: %x %v expected: %x", prot, ok, memory.ProtRead)
	}
	if _, ok := c.Tags.Lookup(0x100010); !ok {
		t.Errorf("Tagged region has no tag storage")
	}
	if _, ok := c.Tags.Lookup(0x10); ok {
		t.Errorf("Untagged region has tag storage")
	}
}

func TestMachineConfigErrors(t *testing.T) {
	tests := []string{
		"MAP 10 SIZE=1000\n",
		"MAP 0\n",
		"MAP 0 SIZE=0\n",
		"MAP 0 SIZE=1000 PROT=W\n",
		"MAP 0 SIZE=1000 COLOR=red\n",
		"MAP 0 SIZE=2000\nMAP 1000 SIZE=1000\n",
		"CONTEXTS 0\n",
		"CONTEXTS many\n",
		"TAGPOLICY 4 SYNC\n",
		"TAGPOLICY 0 MAYBE\n",
		"TAGPOLICY 0 SYNC ASYNC\n",
		"TCMA 9\n",
		"VECTORS xyz\n",
		"ENTRY start\n",
		"SCRIPT \"a.lua\"\nSCRIPT \"b.lua\"\n",
	}
	for _, test := range tests {
		if err := load(t, test); err == nil {
			t.Errorf("Config %q did not fail", test)
		}
	}
}

func TestDefaults(t *testing.T) {
	Reset()
	s := Get()
	if s.Contexts != 1 || len(s.Regions) != 0 || s.SystemMode {
		t.Errorf("Defaults got: %+v", s)
	}
	SetScript("x.lua")
	if Get().Script != "x.lua" {
		t.Errorf("SetScript got: %q expected: %q", Get().Script, "x.lua")
	}
	Reset()
}
