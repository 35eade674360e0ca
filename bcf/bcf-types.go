// elBCF: a native reader/writer for BCF2 variant call files.
// Copyright (c) 2021 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elbcf/blob/master/LICENSE.txt>.

package bcf

import (
	"encoding/binary"
	"log"
	"math"
)

// The BCF2 type tags that can occur in the low nibble of a typing byte.
const (
	typeInt8  byte = 1
	typeInt16 byte = 2
	typeInt32 byte = 3
	typeFloat byte = 5
	typeChar  byte = 7
)

// typeOverflow in the size nibble of a typing byte announces that the
// true element count follows as a typed integer.
const typeOverflow = 15

// Missing and end-of-vector sentinels per integer width. The values
// between the end-of-vector sentinel and the smallest ordinary value
// are reserved and never occur as data.
const (
	int8Missing  int32 = -128
	int8EOV      int32 = -127
	int16Missing int32 = math.MinInt16
	int16EOV     int32 = math.MinInt16 + 1
	int32Missing int32 = math.MinInt32
	int32EOV     int32 = math.MinInt32 + 1
)

// Smallest values that still encode as ordinary data in each width.
const (
	int8MinValue  int32 = -120
	int16MinValue int32 = -32760
	int32MinValue int32 = math.MinInt32 + 8
)

// NaN payloads for missing and end-of-vector float values.
const (
	floatMissingBits uint32 = 0x7F800001
	floatEOVBits     uint32 = 0x7F800002
)

func fitsInt8(value int32) bool {
	return value >= int8MinValue && value <= math.MaxInt8
}

func fitsInt16(value int32) bool {
	return value >= int16MinValue && value <= math.MaxInt16
}

// intType returns the narrowest integer type tag whose ordinary value
// range contains the given value.
func intType(value int32) byte {
	switch {
	case fitsInt8(value):
		return typeInt8
	case fitsInt16(value):
		return typeInt16
	case value < int32MinValue:
		log.Panicf("invalid typing: integer value %v lies in the reserved range", value)
		return 0
	default:
		return typeInt32
	}
}

// maxIntType widens a type tag to also fit the given value.
func maxIntType(tag byte, value int32) byte {
	if t := intType(value); t > tag {
		return t
	}
	return tag
}

func intTypeSize(tag byte) int {
	switch tag {
	case typeInt8:
		return 1
	case typeInt16:
		return 2
	case typeInt32:
		return 4
	default:
		log.Panicf("invalid typing: unknown integer type tag %v", tag)
		return 0
	}
}

func missingValue(tag byte) int32 {
	switch tag {
	case typeInt8:
		return int8Missing
	case typeInt16:
		return int16Missing
	case typeInt32:
		return int32Missing
	default:
		log.Panicf("invalid typing: unknown integer type tag %v", tag)
		return 0
	}
}

func eovValue(tag byte) int32 {
	switch tag {
	case typeInt8:
		return int8EOV
	case typeInt16:
		return int16EOV
	case typeInt32:
		return int32EOV
	default:
		log.Panicf("invalid typing: unknown integer type tag %v", tag)
		return 0
	}
}

func enlarge(out []byte, by int) (int, []byte) {
	index := len(out)
	newLen := index + by
	if newLen <= cap(out) {
		return index, out[:newLen]
	}
	newOut := make([]byte, newLen, 2*newLen)
	copy(newOut, out)
	return index, newOut
}

// appendType appends a typing byte for the given element count and
// type tag, switching to the overflow form when the count does not fit
// the size nibble.
func appendType(out []byte, size int, tag byte) []byte {
	if size <= 14 {
		return append(out, byte(size)<<4|tag)
	}
	out = append(out, typeOverflow<<4|tag)
	return appendTypedInt(out, int32(size))
}

// appendTypedInt appends a single integer including its typing byte,
// using the narrowest width that fits.
func appendTypedInt(out []byte, value int32) []byte {
	tag := intType(value)
	out = append(out, 1<<4|tag)
	return appendInt(out, value, tag)
}

// appendInt appends the raw little-endian representation of an integer
// in the given width, without a typing byte.
func appendInt(out []byte, value int32, tag byte) []byte {
	switch tag {
	case typeInt8:
		return append(out, byte(value))
	case typeInt16:
		index, out := enlarge(out, 2)
		binary.LittleEndian.PutUint16(out[index:], uint16(value))
		return out
	case typeInt32:
		index, out := enlarge(out, 4)
		binary.LittleEndian.PutUint32(out[index:], uint32(value))
		return out
	default:
		log.Panicf("invalid typing: unknown integer type tag %v", tag)
		return nil
	}
}

// appendFloat appends the raw little-endian representation of a float.
func appendFloat(out []byte, value float64) []byte {
	index, out := enlarge(out, 4)
	binary.LittleEndian.PutUint32(out[index:], math.Float32bits(float32(value)))
	return out
}

func appendFloatBits(out []byte, bits uint32) []byte {
	index, out := enlarge(out, 4)
	binary.LittleEndian.PutUint32(out[index:], bits)
	return out
}

// appendMissing appends the missing sentinel of the given type.
func appendMissing(out []byte, tag byte) []byte {
	if tag == typeFloat {
		return appendFloatBits(out, floatMissingBits)
	}
	return appendInt(out, missingValue(tag), tag)
}

// appendEOV appends the end-of-vector sentinel of the given type.
func appendEOV(out []byte, tag byte) []byte {
	if tag == typeFloat {
		return appendFloatBits(out, floatEOVBits)
	}
	return appendInt(out, eovValue(tag), tag)
}

// appendPadding appends n padding sentinels. Minor version 2 streams
// pad vectors with end-of-vector sentinels, minor version 1 streams
// with missing sentinels.
func appendPadding(out []byte, tag byte, n int, minor byte) []byte {
	for i := 0; i < n; i++ {
		if minor >= 2 {
			out = appendEOV(out, tag)
		} else {
			out = appendMissing(out, tag)
		}
	}
	return out
}

// A recordScanner is a cursor over the raw bytes of a single BCF2
// record block. Decoding errors carry the record number and the byte
// offset within the block.
type recordScanner struct {
	data   []byte
	index  int
	record int
}

func (sc *recordScanner) need(n int) {
	if sc.index+n > len(sc.data) {
		log.Panicf("malformed record: truncated block at (record %v, offset %v)", sc.record, sc.index)
	}
}

func (sc *recordScanner) uint8() byte {
	sc.need(1)
	b := sc.data[sc.index]
	sc.index++
	return b
}

// int32Value reads an untyped little-endian 32-bit integer.
func (sc *recordScanner) int32Value() int32 {
	sc.need(4)
	value := int32(binary.LittleEndian.Uint32(sc.data[sc.index : sc.index+4]))
	sc.index += 4
	return value
}

// floatBits reads the raw bits of an untyped little-endian float.
func (sc *recordScanner) floatBits() uint32 {
	sc.need(4)
	bits := binary.LittleEndian.Uint32(sc.data[sc.index : sc.index+4])
	sc.index += 4
	return bits
}

func (sc *recordScanner) bytes(n int) []byte {
	sc.need(n)
	b := sc.data[sc.index : sc.index+n]
	sc.index += n
	return b
}

// typeDescriptor reads a typing byte, following the overflow form when
// the size nibble is the overflow marker.
func (sc *recordScanner) typeDescriptor() (size int, tag byte) {
	b := sc.uint8()
	tag = b & 0x0F
	switch tag {
	case typeInt8, typeInt16, typeInt32, typeFloat, typeChar:
	case 0:
		if b != 0 {
			log.Panicf("invalid typing: unknown type tag %v at (record %v, offset %v)", tag, sc.record, sc.index-1)
		}
		return 0, typeInt8
	default:
		log.Panicf("invalid typing: unknown type tag %v at (record %v, offset %v)", tag, sc.record, sc.index-1)
	}
	size = int(b >> 4)
	if size == typeOverflow {
		size = int(sc.typedInt())
	}
	return size, tag
}

// intValue reads one raw integer of the given width.
func (sc *recordScanner) intValue(tag byte) int32 {
	switch tag {
	case typeInt8:
		return int32(int8(sc.uint8()))
	case typeInt16:
		sc.need(2)
		value := int32(int16(binary.LittleEndian.Uint16(sc.data[sc.index : sc.index+2])))
		sc.index += 2
		return value
	case typeInt32:
		return sc.int32Value()
	default:
		log.Panicf("invalid typing: unknown integer type tag %v at (record %v, offset %v)", tag, sc.record, sc.index)
		return 0
	}
}

// typedInt reads a typing byte that must announce a single integer,
// followed by that integer.
func (sc *recordScanner) typedInt() int32 {
	b := sc.uint8()
	tag := b & 0x0F
	if size := b >> 4; size != 1 || (tag != typeInt8 && tag != typeInt16 && tag != typeInt32) {
		log.Panicf("invalid typing: expected a single typed integer at (record %v, offset %v)", sc.record, sc.index-1)
	}
	return sc.intValue(tag)
}
