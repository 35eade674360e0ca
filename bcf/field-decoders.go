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
	"log"
	"math"
	"strings"

	"github.com/exascience/elbcf/utils"
	"github.com/exascience/elbcf/vcf"
)

func isIntMissing(value int32, tag byte) bool {
	return value == missingValue(tag)
}

func isIntEOV(value int32, tag byte) bool {
	return value == eovValue(tag)
}

// dictionaryKey reads a typed dictionary offset and resolves it.
func (sc *recordScanner) dictionaryKey(dict *Dictionary) utils.Symbol {
	offset := sc.typedInt()
	sym, ok := dict.Get(offset)
	if !ok {
		log.Panicf("malformed record: unknown dictionary offset %v at (record %v, offset %v)", offset, sc.record, sc.index)
	}
	return sym
}

func (sc *recordScanner) floatValue() (float64, bool, bool) {
	bits := sc.floatBits()
	switch bits {
	case floatMissingBits:
		return 0, true, false
	case floatEOVBits:
		return 0, false, true
	default:
		return float64(math.Float32frombits(bits)), false, false
	}
}

// trimZero removes trailing NUL padding from a CHAR payload.
func trimZero(bytes []byte) string {
	end := len(bytes)
	for end > 0 && bytes[end-1] == 0 {
		end--
	}
	return string(bytes[:end])
}

// decodeString turns a CHAR payload into the attribute value for a
// string-typed field: a plain string when the header declares a single
// value, a list otherwise. Minor version 1 streams carry a leading
// comma before multi-valued payloads.
func decodeString(chars string, field *FieldInfo, minor byte) interface{} {
	if field != nil && field.Number == 1 {
		return chars
	}
	if minor < 2 && strings.HasPrefix(chars, ",") {
		chars = chars[1:]
	}
	if !strings.Contains(chars, ",") {
		return chars
	}
	parts := strings.Split(chars, ",")
	value := make([]interface{}, len(parts))
	for i, part := range parts {
		value[i] = part
	}
	return value
}

// decodeIntVector reads size raw integers, mapping missing entries to
// nil and dropping end-of-vector padding.
func (sc *recordScanner) decodeIntVector(size int, tag byte) []interface{} {
	value := make([]interface{}, 0, size)
	eov := false
	for i := 0; i < size; i++ {
		v := sc.intValue(tag)
		if eov || isIntEOV(v, tag) {
			eov = true
			continue
		}
		if isIntMissing(v, tag) {
			value = append(value, nil)
		} else {
			value = append(value, int(v))
		}
	}
	return value
}

func (sc *recordScanner) decodeFloatVector(size int) []interface{} {
	value := make([]interface{}, 0, size)
	eov := false
	for i := 0; i < size; i++ {
		f, missing, end := sc.floatValue()
		if eov || end {
			eov = true
			continue
		}
		if missing {
			value = append(value, nil)
		} else {
			value = append(value, f)
		}
	}
	return value
}

// decodeTypedValue reads one typed value and materializes it in the
// shape the variant attribute maps use. The field schema refines the
// raw payload where the typing byte alone is ambiguous.
func (sc *recordScanner) decodeTypedValue(field *FieldInfo, minor byte) interface{} {
	size, tag := sc.typeDescriptor()
	switch tag {
	case typeInt8, typeInt16, typeInt32:
		if field != nil && field.Type == vcf.Flag {
			for i := 0; i < size; i++ {
				sc.intValue(tag)
			}
			return true
		}
		if size == 1 {
			v := sc.intValue(tag)
			if isIntMissing(v, tag) || isIntEOV(v, tag) {
				return nil
			}
			return int(v)
		}
		return sc.decodeIntVector(size, tag)
	case typeFloat:
		if size == 1 {
			f, missing, eov := sc.floatValue()
			if missing || eov {
				return nil
			}
			return f
		}
		return sc.decodeFloatVector(size)
	case typeChar:
		chars := trimZero(sc.bytes(size))
		if chars == "" {
			return nil
		}
		if field != nil && field.Type == vcf.Character {
			runes := []rune(chars)
			if len(runes) == 1 {
				return runes[0]
			}
		}
		return decodeString(chars, field, minor)
	default:
		log.Panicf("invalid typing: unknown type tag %v at (record %v, offset %v)", tag, sc.record, sc.index)
		return nil
	}
}

// decodeGT reconstructs allele offsets and phasing from one sample row
// of an encoded GT field. Ploidy is the prefix length before the first
// padding sentinel.
func decodeGT(gt *vcf.Genotype, values []int32, tag byte) {
	for _, v := range values {
		if isIntEOV(v, tag) || isIntMissing(v, tag) {
			break
		}
		allele := (v >> 1) - 1
		gt.GT = append(gt.GT, allele)
		if len(gt.GT) > 1 && v&1 != 0 {
			gt.Phased = true
		}
	}
}

// decodeDedicatedVector fills the AD/PL slots: a row that carries only
// sentinels stays absent.
func decodeDedicatedVector(values []int32, tag byte) []int32 {
	var result []int32
	for _, v := range values {
		if isIntEOV(v, tag) {
			break
		}
		if isIntMissing(v, tag) {
			if result == nil {
				return nil
			}
			result = append(result, -1)
			continue
		}
		result = append(result, v)
	}
	return result
}

// lazyGenotypes owns the raw genotype block of one record. The block
// is decoded on first access.
type lazyGenotypes struct {
	schema   *Schema
	data     []byte
	nFields  int
	nSamples int
	record   int
}

// ResolveGenotypes decodes the genotype block into per-sample
// genotype values.
func (lazy *lazyGenotypes) ResolveGenotypes() (format []utils.Symbol, data []vcf.Genotype) {
	sc := recordScanner{data: lazy.data, record: lazy.record}
	data = make([]vcf.Genotype, lazy.nSamples)
	for i := range data {
		data[i] = vcf.NewGenotype()
	}
	for f := 0; f < lazy.nFields; f++ {
		key := sc.dictionaryKey(lazy.schema.Strings)
		format = append(format, key)
		field := lazy.schema.Formats[key]
		size, tag := sc.typeDescriptor()
		switch key {
		case vcf.GT:
			row := make([]int32, size)
			for i := range data {
				for j := 0; j < size; j++ {
					row[j] = sc.intValue(tag)
				}
				decodeGT(&data[i], row, tag)
			}
		case vcf.FT:
			if tag != typeChar {
				log.Panicf("malformed record: FT field with type tag %v at (record %v, offset %v)", tag, sc.record, sc.index)
			}
			for i := range data {
				data[i].Filter = trimZero(sc.bytes(size))
			}
		case vcf.DP, vcf.GQ:
			for i := range data {
				value := int32(-1)
				for j := 0; j < size; j++ {
					v := sc.intValue(tag)
					if j == 0 && !isIntMissing(v, tag) && !isIntEOV(v, tag) {
						value = v
					}
				}
				if key == vcf.DP {
					data[i].DP = value
				} else {
					data[i].GQ = value
				}
			}
		case vcf.AD, vcf.PL:
			row := make([]int32, size)
			for i := range data {
				for j := 0; j < size; j++ {
					row[j] = sc.intValue(tag)
				}
				values := decodeDedicatedVector(row, tag)
				if key == vcf.AD {
					data[i].AD = values
				} else {
					data[i].PL = values
				}
			}
		default:
			lazy.decodeGenericField(&sc, key, field, size, tag, data)
		}
	}
	return format, data
}

func (lazy *lazyGenotypes) decodeGenericField(sc *recordScanner, key utils.Symbol, field *FieldInfo, size int, tag byte, data []vcf.Genotype) {
	switch tag {
	case typeInt8, typeInt16, typeInt32:
		for i := range data {
			if size == 1 {
				v := sc.intValue(tag)
				if !isIntMissing(v, tag) && !isIntEOV(v, tag) {
					data[i].Data.Set(key, int(v))
				}
				continue
			}
			value := sc.decodeIntVector(size, tag)
			if len(value) != 1 || value[0] != nil {
				data[i].Data.Set(key, value)
			}
		}
	case typeFloat:
		for i := range data {
			if size == 1 {
				f, missing, eov := sc.floatValue()
				if !missing && !eov {
					data[i].Data.Set(key, f)
				}
				continue
			}
			value := sc.decodeFloatVector(size)
			if len(value) != 1 || value[0] != nil {
				data[i].Data.Set(key, value)
			}
		}
	case typeChar:
		for i := range data {
			chars := trimZero(sc.bytes(size))
			if chars == "" {
				continue
			}
			if field != nil && field.Type == vcf.Character {
				runes := []rune(chars)
				if len(runes) == 1 {
					data[i].Data.Set(key, runes[0])
					continue
				}
			}
			data[i].Data.Set(key, decodeString(chars, field, lazy.schema.Minor))
		}
	default:
		log.Panicf("invalid typing: unknown type tag %v at (record %v, offset %v)", tag, sc.record, sc.index)
	}
}
