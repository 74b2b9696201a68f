/*
 * trapcore - Memory tag storage
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

import (
	"fmt"
	"sync"
	"sync/atomic"
)

/*
   Tag storage holds one 4 bit allocation tag for every 16 byte granule
   of guest memory. Storage exists only for pages that have been tagged
   with Enable, a lookup in any other page reports no entry and the
   access is not checked.

   Tags are packed eight to a 32 bit word, granule n of a word in bits
   4n+3..4n.
*/

const (
	GranuleShift uint64 = 4
	GranuleSize  uint64 = 1 << GranuleShift
	PageShift    uint64 = 12
	PageSize     uint64 = 1 << PageShift

	granulesPerPage = PageSize / GranuleSize
	wordsPerPage    = granulesPerPage / 8
)

type tagPage struct {
	words [wordsPerPage]atomic.Uint32
}

// Table is shared by all contexts of a machine.
type Table struct {
	mu    sync.RWMutex
	pages map[uint64]*tagPage
}

func New() *Table {
	return &Table{pages: map[uint64]*tagPage{}}
}

// Enable tag storage for a range of pages, all tags start at zero.
func (t *Table) Enable(addr, size uint64) {
	if size == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for pn := addr >> PageShift; pn <= (addr+size-1)>>PageShift; pn++ {
		if _, ok := t.pages[pn]; !ok {
			t.pages[pn] = &tagPage{}
		}
	}
}

// Disable removes tag storage for range.
func (t *Table) Disable(addr, size uint64) {
	if size == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for pn := addr >> PageShift; pn <= (addr+size-1)>>PageShift; pn++ {
		delete(t.pages, pn)
	}
}

func (t *Table) getPage(addr uint64) *tagPage {
	t.mu.RLock()
	p := t.pages[addr>>PageShift]
	t.mu.RUnlock()
	return p
}

// Return word and shift for a granule.
func (p *tagPage) slot(addr uint64) (*atomic.Uint32, uint32) {
	g := (addr & (PageSize - 1)) >> GranuleShift
	return &p.words[g>>3], uint32(4 * (g & 7))
}

// Lookup returns the tag for address, false if page has no tag storage.
func (t *Table) Lookup(addr uint64) (uint8, bool) {
	p := t.getPage(addr)
	if p == nil {
		return 0, false
	}
	word, shift := p.slot(addr)
	return uint8((word.Load() >> shift) & 0xf), true
}

// Set the tag of the granule holding address.
func (t *Table) Set(addr uint64, tag uint8) error {
	p := t.getPage(addr)
	if p == nil {
		return fmt.Errorf("no tag storage at %x", addr)
	}
	word, shift := p.slot(addr)
	mask := uint32(0xf) << shift
	for {
		old := word.Load()
		if word.CompareAndSwap(old, (old & ^mask)|(uint32(tag&0xf)<<shift)) {
			return nil
		}
	}
}

// SetRange tags every granule in range with the same tag.
func (t *Table) SetRange(addr, size uint64, tag uint8) error {
	for a := addr &^ (GranuleSize - 1); a < addr+size; a += GranuleSize {
		if err := t.Set(a, tag); err != nil {
			return err
		}
	}
	return nil
}
