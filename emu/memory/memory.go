/*
 * trapcore - Guest memory
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

package memory

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

/*
   Guest memory is a sparse set of 4K pages. Each page is held as 512
   64 bit words so every access can be done with host atomic operations,
   this lets several contexts share memory without a global lock.

   Bytes are little endian within a word: byte n of a word is bits
   8n+7..8n. Multi-byte values are assembled in guest byte order by
   the load and store routines, not by the host.
*/

const (
	PageShift uint64 = 12
	PageSize  uint64 = 1 << PageShift
	PageMask  uint64 = PageSize - 1

	wordsPerPage = PageSize / 8
)

// Page protections, same encoding as mmap.
const (
	ProtNone  = unix.PROT_NONE
	ProtRead  = unix.PROT_READ
	ProtWrite = unix.PROT_WRITE
	ProtExec  = unix.PROT_EXEC
)

// Kind of memory fault.
type FaultKind int

const (
	MapError    FaultKind = 1 + iota // No page at address
	AccessError                      // Page does not permit access
)

// Fault is returned for any access that can not be completed.
type Fault struct {
	Addr  uint64    // Faulting address
	Kind  FaultKind // Why it failed
	Write bool      // Access was a store
}

func (f *Fault) Error() string {
	access := "read"
	if f.Write {
		access = "write"
	}
	if f.Kind == MapError {
		return fmt.Sprintf("%s of unmapped address %x", access, f.Addr)
	}
	return fmt.Sprintf("%s not permitted at %x", access, f.Addr)
}

var (
	ErrWidth = errors.New("invalid access width")
	ErrAlign = errors.New("address not aligned for atomic access")
)

type page struct {
	words [wordsPerPage]atomic.Uint64
	prot  atomic.Int32
}

// Memory is guest physical memory shared by all contexts.
type Memory struct {
	mu    sync.RWMutex
	pages map[uint64]*page
}

// Create empty memory.
func New() *Memory {
	return &Memory{pages: map[uint64]*page{}}
}

// Map a range of pages with given protection. Pages already mapped keep
// their contents but take the new protection.
func (m *Memory) Map(addr, size uint64, prot int) error {
	if (addr&PageMask) != 0 || size == 0 {
		return fmt.Errorf("map of %x size %x not page aligned", addr, size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for pn := addr >> PageShift; pn <= (addr+size-1)>>PageShift; pn++ {
		p, ok := m.pages[pn]
		if !ok {
			p = &page{}
			m.pages[pn] = p
		}
		p.prot.Store(int32(prot))
	}
	return nil
}

// Change protection on a range, every page must already be mapped.
func (m *Memory) Protect(addr, size uint64, prot int) error {
	if size == 0 {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for pn := addr >> PageShift; pn <= (addr+size-1)>>PageShift; pn++ {
		p, ok := m.pages[pn]
		if !ok {
			return &Fault{Addr: pn << PageShift, Kind: MapError}
		}
		p.prot.Store(int32(prot))
	}
	return nil
}

// Remove a range of pages.
func (m *Memory) Unmap(addr, size uint64) {
	if size == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for pn := addr >> PageShift; pn <= (addr+size-1)>>PageShift; pn++ {
		delete(m.pages, pn)
	}
}

// Return page for address, nil if not mapped.
func (m *Memory) getPage(addr uint64) *page {
	m.mu.RLock()
	p := m.pages[addr>>PageShift]
	m.mu.RUnlock()
	return p
}

// Look up page and check access rights.
func (m *Memory) access(addr uint64, write bool) (*page, error) {
	p := m.getPage(addr)
	if p == nil {
		return nil, &Fault{Addr: addr, Kind: MapError, Write: write}
	}
	prot := int(p.prot.Load())
	if write {
		if (prot & ProtWrite) == 0 {
			return nil, &Fault{Addr: addr, Kind: AccessError, Write: true}
		}
	} else if (prot & ProtRead) == 0 {
		return nil, &Fault{Addr: addr, Kind: AccessError}
	}
	return p, nil
}

// Probe checks that address could be accessed without touching it.
func (m *Memory) Probe(addr uint64, write bool) error {
	_, err := m.access(addr, write)
	return err
}

// Prot returns protection of page holding address, false if unmapped.
func (m *Memory) Prot(addr uint64) (int, bool) {
	p := m.getPage(addr)
	if p == nil {
		return 0, false
	}
	return int(p.prot.Load()), true
}

func validWidth(width int) bool {
	return width == 1 || width == 2 || width == 4 || width == 8
}

// Build mask for width bytes.
func widthMask(width int) uint64 {
	if width == 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (8 * width)) - 1
}

// Read one byte.
func (m *Memory) loadByte(addr uint64) (uint64, error) {
	p, err := m.access(addr, false)
	if err != nil {
		return 0, err
	}
	w := p.words[(addr&PageMask)>>3].Load()
	return (w >> (8 * (addr & 7))) & 0xff, nil
}

// Write one byte.
func (m *Memory) storeByte(addr uint64, data uint64) error {
	p, err := m.access(addr, true)
	if err != nil {
		return err
	}
	storeMask(&p.words[(addr&PageMask)>>3], (data&0xff)<<(8*(addr&7)), uint64(0xff)<<(8*(addr&7)))
	return nil
}

// Update bits of word under mask, atomically.
func storeMask(word *atomic.Uint64, data, mask uint64) {
	for {
		old := word.Load()
		if word.CompareAndSwap(old, (old & ^mask)|(data&mask)) {
			return
		}
	}
}

// Load width bytes from address.
func (m *Memory) Load(addr uint64, width int) (uint64, error) {
	if !validWidth(width) {
		return 0, ErrWidth
	}
	offset := addr & 7

	// Access inside one word can be done in one go.
	if offset+uint64(width) <= 8 {
		p, err := m.access(addr, false)
		if err != nil {
			return 0, err
		}
		w := p.words[(addr&PageMask)>>3].Load()
		return (w >> (8 * offset)) & widthMask(width), nil
	}

	// Unaligned access, assemble it a byte at a time.
	var v uint64
	for i := 0; i < width; i++ {
		b, err := m.loadByte(addr + uint64(i))
		if err != nil {
			return 0, err
		}
		v |= b << (8 * i)
	}
	return v, nil
}

// Store width bytes to address.
func (m *Memory) Store(addr uint64, width int, data uint64) error {
	if !validWidth(width) {
		return ErrWidth
	}
	offset := addr & 7
	if offset+uint64(width) <= 8 {
		p, err := m.access(addr, true)
		if err != nil {
			return err
		}
		storeMask(&p.words[(addr&PageMask)>>3], data<<(8*offset), widthMask(width)<<(8*offset))
		return nil
	}

	// Check both ends first so a fault leaves memory untouched.
	if err := m.Probe(addr, true); err != nil {
		return err
	}
	if err := m.Probe(addr+uint64(width)-1, true); err != nil {
		return err
	}
	for i := 0; i < width; i++ {
		if err := m.storeByte(addr+uint64(i), data>>(8*i)); err != nil {
			return err
		}
	}
	return nil
}

// Read a string of bytes.
func (m *Memory) LoadBytes(addr uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		b, err := m.loadByte(addr + uint64(i))
		if err != nil {
			return nil, err
		}
		buf[i] = byte(b)
	}
	return buf, nil
}

// Write a string of bytes. Nothing is written if any byte would fault.
func (m *Memory) StoreBytes(addr uint64, data []byte) error {
	for pa := addr &^ PageMask; pa < addr+uint64(len(data)); pa += PageSize {
		probe := max(pa, addr)
		if err := m.Probe(probe, true); err != nil {
			return err
		}
	}
	for i, b := range data {
		if err := m.storeByte(addr+uint64(i), uint64(b)); err != nil {
			return err
		}
	}
	return nil
}

// CompareAndSwap atomically replaces the value at addr with repl if it
// equals old. Returns the value found in memory. Address must be
// aligned to width, only 4 and 8 byte accesses are supported.
func (m *Memory) CompareAndSwap(addr uint64, width int, old, repl uint64) (uint64, error) {
	if width != 4 && width != 8 {
		return 0, ErrWidth
	}
	if (addr & uint64(width-1)) != 0 {
		return 0, ErrAlign
	}
	p, err := m.access(addr, true)
	if err != nil {
		return 0, err
	}
	if (int(p.prot.Load()) & ProtRead) == 0 {
		return 0, &Fault{Addr: addr, Kind: AccessError, Write: true}
	}
	word := &p.words[(addr&PageMask)>>3]
	if width == 8 {
		for {
			cur := word.Load()
			if cur != old {
				return cur, nil
			}
			if word.CompareAndSwap(cur, repl) {
				return cur, nil
			}
		}
	}

	shift := 8 * (addr & 7)
	mask := uint64(0xffffffff) << shift
	old &= 0xffffffff
	repl &= 0xffffffff
	for {
		cur := word.Load()
		v := (cur & mask) >> shift
		if v != old {
			return v, nil
		}
		if word.CompareAndSwap(cur, (cur & ^mask)|(repl<<shift)) {
			return v, nil
		}
	}
}
