/*
 * trapcore - Memory tag check
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
	"log/slog"

	"github.com/rcornwell/trapcore/emu/cpu"
	"github.com/rcornwell/trapcore/emu/exception"
	"github.com/rcornwell/trapcore/emu/guestsig"
)

/*
   Tagged pointers carry a 4 bit logical tag in bits 59:56. Bit 55
   selects the upper or lower half of the address space, the clean
   address is formed by copying bit 55 over bits 63:56.

   With tag zero unchecked enabled, a pointer whose tag matches the
   untagged form of its half is never checked. That is tag 0 in the
   lower half and tag 0xf in the upper half, which is the same as
   (tag + bit55) & 0xf being zero.
*/

// Tag of pointer.
func PointerTag(ptr uint64) uint8 {
	return uint8((ptr >> 56) & 0xf)
}

// Address with tag removed.
func CleanAddress(ptr uint64) uint64 {
	return uint64(int64(ptr<<8) >> 8)
}

// Address half select bit.
func addrHalf(ptr uint64) uint8 {
	return uint8((ptr >> 55) & 1)
}

// CheckTag compares the pointer tag with the tag stored for the
// granule. The clean address is returned unless a synchronous fault is
// raised.
func CheckTag(c *cpu.Context, ptr uint64, write bool, ra uint64) (uint64, error) {
	clean := CleanAddress(ptr)
	tag := PointerTag(ptr)
	half := addrHalf(ptr)
	level := c.Level & cpu.MaxLevel

	if c.TagZeroUnchecked[level] && ((tag+half)&0xf) == 0 {
		return clean, nil
	}
	if c.Tags == nil {
		return clean, nil
	}
	memTag, ok := c.Tags.Lookup(clean)
	if !ok || memTag == tag {
		return clean, nil
	}

	switch c.TagPolicy[level] {
	case cpu.TagNone:
	case cpu.TagSync:
		return 0, fail(c, debugTag, exception.ClassTagCheck, guestsig.SEGVMTESErr, clean, ra, "tagcheck")
	case cpu.TagAsync:
		c.TagFault[level] |= 1 << half
	default:
		slog.Warn("Tag check policy reserved, mismatch ignored",
			"ctx", c.ID, "level", level, "policy", c.TagPolicy[level], "addr", clean, "write", write)
	}
	return clean, nil
}
