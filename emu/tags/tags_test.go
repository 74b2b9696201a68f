/*
 * trapcore - Memory tag storage tests
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

package tags

import "testing"

// Pages without storage have no entry.
func TestLookupAbsent(t *testing.T) {
	tbl := New()
	if _, ok := tbl.Lookup(0x1000); ok {
		t.Errorf("Lookup on empty table found entry")
	}
	if err := tbl.Set(0x1000, 3); err == nil {
		t.Errorf("Set without storage succeeded")
	}
}

// Each granule holds its own tag.
func TestSetLookup(t *testing.T) {
	tbl := New()
	tbl.Enable(0x2000, PageSize)
	for g := uint64(0); g < uint64(granulesPerPage); g++ {
		if err := tbl.Set(0x2000+g*GranuleSize, uint8(g)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	for g := uint64(0); g < uint64(granulesPerPage); g++ {
		addr := 0x2000 + g*GranuleSize + (g & 0xf)
		tag, ok := tbl.Lookup(addr)
		if !ok {
			t.Errorf("Lookup %x found no entry", addr)
		}
		if tag != uint8(g&0xf) {
			t.Errorf("Lookup %x got: %x expected: %x", addr, tag, g&0xf)
		}
	}
}

// Range set and disable.
func TestSetRange(t *testing.T) {
	tbl := New()
	tbl.Enable(0, 2*PageSize)
	if err := tbl.SetRange(0xff8, 0x20, 0xa); err != nil {
		t.Fatalf("SetRange failed: %v", err)
	}
	for _, addr := range []uint64{0xff0, 0x1000, 0x1010} {
		if tag, _ := tbl.Lookup(addr); tag != 0xa {
			t.Errorf("Tag at %x got: %x expected: %x", addr, tag, 0xa)
		}
	}
	if tag, _ := tbl.Lookup(0x1020); tag != 0 {
		t.Errorf("Tag past range got: %x expected: 0", tag)
	}
	tbl.Disable(0x1000, PageSize)
	if _, ok := tbl.Lookup(0x1000); ok {
		t.Errorf("Lookup after disable found entry")
	}
}

// Empty ranges change nothing.
func TestEmptyRange(t *testing.T) {
	tbl := New()
	tbl.Enable(0, 0)
	if _, ok := tbl.Lookup(0); ok {
		t.Errorf("Enable of empty range added storage")
	}
	tbl.Enable(0, PageSize)
	tbl.Disable(0, 0)
	if _, ok := tbl.Lookup(0); !ok {
		t.Errorf("Disable of empty range removed storage")
	}
}
