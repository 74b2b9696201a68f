/*
 * trapcore - Packed decimal conversion
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
	"math"
	"math/bits"

	"github.com/rcornwell/trapcore/emu/cpu"
	"github.com/rcornwell/trapcore/emu/exception"
)

/*
   Packed decimal fields are big endian, two digits per byte. The low
   nibble of the last byte is the sign: 0xC plus, 0xD minus. No other
   sign encodings are accepted. An 8 byte field holds 15 digits, a 16
   byte field 31 digits.

       +----+----+----+----+-- ... --+----+----+
       | d  | d  | d  | d  |         | d  | s  |
       +----+----+----+----+-- ... --+----+----+
*/

const (
	SignPlus  byte = 0xc
	SignMinus byte = 0xd
)

var (
	ErrDigit     = errors.New("invalid decimal digit")
	ErrSign      = errors.New("invalid decimal sign")
	ErrFieldSize = errors.New("value does not fit decimal field")
)

// DecodePacked returns the magnitude and sign of a packed field. The
// sign nibble is checked first, then every digit. overflow is set when
// the magnitude does not fit 64 bits, the digits are still checked.
func DecodePacked(field []byte) (mag uint64, negative bool, overflow bool, err error) {
	if len(field) == 0 {
		return 0, false, false, ErrFieldSize
	}
	switch field[len(field)-1] & 0xf {
	case SignPlus:
	case SignMinus:
		negative = true
	default:
		return 0, false, false, ErrSign
	}

	pow := uint64(1)
	powOver := false
	add := func(d byte) error {
		if d > 9 {
			return ErrDigit
		}
		if d != 0 && !overflow {
			if powOver {
				overflow = true
			} else {
				hi, lo := bits.Mul64(uint64(d), pow)
				sum, carry := bits.Add64(mag, lo, 0)
				if hi != 0 || carry != 0 {
					overflow = true
				}
				mag = sum
			}
		}
		if !powOver {
			hi, lo := bits.Mul64(pow, 10)
			if hi != 0 {
				powOver = true
			}
			pow = lo
		}
		return nil
	}

	for i := len(field) - 1; i >= 0; i-- {
		by := field[i]
		if i != len(field)-1 {
			if err := add(by & 0xf); err != nil {
				return 0, false, false, err
			}
		}
		if err := add(by >> 4); err != nil {
			return 0, false, false, err
		}
	}
	if overflow {
		mag = 0
	}
	return mag, negative, overflow, nil
}

// EncodePacked fills field with magnitude and sign, digits packed from
// the low end. Unused high digits are zero.
func EncodePacked(mag uint64, negative bool, field []byte) error {
	if len(field) == 0 {
		return ErrFieldSize
	}
	clear(field)
	pos := len(field) - 1
	if negative {
		field[pos] = SignMinus
	} else {
		field[pos] = SignPlus
	}
	high := true
	for mag != 0 {
		if pos < 0 {
			clear(field)
			return ErrFieldSize
		}
		d := byte(mag % 10)
		mag /= 10
		if high {
			field[pos] |= d << 4
			pos--
		} else {
			field[pos] = d
		}
		high = !high
	}
	return nil
}

// Data exception for bad digit or sign.
func dataFault(c *cpu.Context, addr, ra uint64, op string) error {
	return fail(c, debugDec, exception.ClassOperand, exception.CodeData, addr, ra, op)
}

// Read and decode a decimal field from guest memory.
func loadPacked(c *cpu.Context, addr uint64, size int, ra uint64, op string) (uint64, bool, bool, error) {
	field, err := c.Mem.LoadBytes(addr, size)
	if err != nil {
		return 0, false, false, memFault(c, err, addr, ra, debugDec, op)
	}
	mag, negative, overflow, err := DecodePacked(field)
	if err != nil {
		return 0, false, false, dataFault(c, addr, ra, op)
	}
	return mag, negative, overflow, nil
}

// Convert 8 byte packed field at addr to a 32 bit integer.
func ConvertToBinary(c *cpu.Context, addr uint64, ra uint64) (int32, error) {
	mag, negative, overflow, err := loadPacked(c, addr, 8, ra, "cvb")
	if err != nil {
		return 0, err
	}
	limit := uint64(math.MaxInt32)
	if negative {
		limit++
	}
	if overflow || mag > limit {
		return 0, divFault(c, ra, "cvb")
	}
	if negative {
		return int32(-int64(mag)), nil
	}
	return int32(mag), nil
}

// Convert 16 byte packed field at addr to a 64 bit integer.
func ConvertToBinary64(c *cpu.Context, addr uint64, ra uint64) (int64, error) {
	mag, negative, overflow, err := loadPacked(c, addr, 16, ra, "cvbg")
	if err != nil {
		return 0, err
	}
	limit := uint64(math.MaxInt64)
	if negative {
		limit++
	}
	if overflow || mag > limit {
		return 0, divFault(c, ra, "cvbg")
	}
	if negative {
		return int64(-mag), nil
	}
	return int64(mag), nil
}

// Split value into magnitude and sign.
func magnitude(v int64) (uint64, bool) {
	if v < 0 {
		return -uint64(v), true
	}
	return uint64(v), false
}

// Store a 32 bit integer as an 8 byte packed field at addr.
func ConvertToDecimal(c *cpu.Context, addr uint64, v int32, ra uint64) error {
	field := make([]byte, 8)
	mag, negative := magnitude(int64(v))
	if err := EncodePacked(mag, negative, field); err != nil {
		return err
	}
	if err := c.Mem.StoreBytes(addr, field); err != nil {
		return memFault(c, err, addr, ra, debugDec, "cvd")
	}
	return nil
}

// Store a 64 bit integer as a 16 byte packed field at addr.
func ConvertToDecimal64(c *cpu.Context, addr uint64, v int64, ra uint64) error {
	field := make([]byte, 16)
	mag, negative := magnitude(v)
	if err := EncodePacked(mag, negative, field); err != nil {
		return err
	}
	if err := c.Mem.StoreBytes(addr, field); err != nil {
		return memFault(c, err, addr, ra, debugDec, "cvdg")
	}
	return nil
}
