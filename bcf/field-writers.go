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

	"github.com/exascience/elbcf/utils"
	"github.com/exascience/elbcf/vcf"
)

// passFilter is the literal written for a sample whose FT entry is
// absent.
const passFilter = "PASS"

func asInt32(value interface{}) (int32, bool) {
	switch v := value.(type) {
	case int:
		return int32(v), true
	case int32:
		return v, true
	default:
		return 0, false
	}
}

func asFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// asValueList normalizes a scalar or list attribute to a list view.
func asValueList(value interface{}) []interface{} {
	if list, ok := value.([]interface{}); ok {
		return list
	}
	return []interface{}{value}
}

// maxPloidy returns the largest GT length across samples, with a lower
// bound so that sites without genotype calls still get diploid counts.
func maxPloidy(data []vcf.Genotype, floor int) int {
	ploidy := floor
	for i := range data {
		if n := len(data[i].GT); n > ploidy {
			ploidy = n
		}
	}
	return ploidy
}

// infoVectorLength settles the on-wire element count for a vector
// field: the declared count when the header bounds it, the observed
// count otherwise. Observed counts beyond a bounded declaration are
// rejected.
func infoVectorLength(field *FieldInfo, variant *vcf.Variant, ploidy, observed int) int {
	if n, bounded := field.Count(variant, ploidy); bounded {
		if observed > n {
			log.Panicf("cardinality violation: %v values for %v, expected at most %v", observed, *field.ID, n)
		}
		return n
	}
	return observed
}

func appendInfoInt(out []byte, field *FieldInfo, value interface{}, variant *vcf.Variant, ploidy int, minor byte) []byte {
	values := asValueList(value)
	n := infoVectorLength(field, variant, ploidy, len(values))
	tag := typeInt8
	for _, v := range values {
		if v == nil {
			continue
		}
		i, ok := asInt32(v)
		if !ok {
			log.Panicf("incompatible value %v for integer INFO field %v", v, *field.ID)
		}
		tag = maxIntType(tag, i)
	}
	out = appendType(out, n, tag)
	for _, v := range values {
		if v == nil {
			out = appendMissing(out, tag)
		} else {
			i, _ := asInt32(v)
			out = appendInt(out, i, tag)
		}
	}
	return appendPadding(out, tag, n-len(values), minor)
}

func appendInfoFloat(out []byte, field *FieldInfo, value interface{}, variant *vcf.Variant, ploidy int, minor byte) []byte {
	values := asValueList(value)
	n := infoVectorLength(field, variant, ploidy, len(values))
	out = appendType(out, n, typeFloat)
	for _, v := range values {
		if v == nil {
			out = appendMissing(out, typeFloat)
		} else if f, ok := asFloat64(v); ok {
			out = appendFloat(out, f)
		} else {
			log.Panicf("incompatible value %v for float INFO field %v", v, *field.ID)
		}
	}
	return appendPadding(out, typeFloat, n-len(values), minor)
}

func appendInfoFlag(out []byte, field *FieldInfo, value interface{}) []byte {
	if flag, ok := value.(bool); ok && flag {
		out = appendType(out, 1, typeInt8)
		return append(out, 0x01)
	}
	out = appendType(out, 1, typeInt8)
	return appendMissing(out, typeInt8)
}

func appendInfoCharacter(out []byte, field *FieldInfo, value interface{}, variant *vcf.Variant, ploidy int) []byte {
	var chars string
	switch v := value.(type) {
	case rune:
		chars = string(v)
	case string:
		chars = v
	default:
		log.Panicf("incompatible value %v for character INFO field %v", value, *field.ID)
	}
	n := len(chars)
	if count, bounded := field.Count(variant, ploidy); bounded {
		if n > count {
			log.Panicf("cardinality violation: %v characters for %v, expected at most %v", n, *field.ID, count)
		}
		n = count
	}
	out = appendType(out, n, typeChar)
	out = append(out, chars...)
	for i := len(chars); i < n; i++ {
		out = append(out, 0)
	}
	return out
}

// joinStrings packs a multi-valued string field into one byte run.
// Minor version 1 streams carry a leading comma before the first
// entry, minor version 2 streams do not.
func joinStrings(values []interface{}, fieldID utils.Symbol, minor byte) []byte {
	var joined []byte
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			log.Panicf("incompatible value %v for string field %v", v, *fieldID)
		}
		if i > 0 || minor < 2 {
			joined = append(joined, ',')
		}
		joined = append(joined, s...)
	}
	return joined
}

func appendInfoString(out []byte, field *FieldInfo, value interface{}, minor byte) []byte {
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []interface{}:
		bytes = joinStrings(v, field.ID, minor)
	default:
		log.Panicf("incompatible value %v for string INFO field %v", value, *field.ID)
	}
	out = appendType(out, len(bytes), typeChar)
	return append(out, bytes...)
}

// appendInfoField encodes one INFO key/value pair: a typed dictionary
// offset followed by a typed value.
func (schema *Schema) appendInfoField(out []byte, entry utils.SmallMapEntry, variant *vcf.Variant, ploidy int) []byte {
	field, err := schema.Info(entry.Key)
	if err != nil {
		log.Panic(err)
	}
	out = appendTypedInt(out, field.Offset)
	if entry.Value == nil {
		out = appendType(out, 1, typeInt8)
		return appendMissing(out, typeInt8)
	}
	switch field.Type {
	case vcf.Integer:
		return appendInfoInt(out, field, entry.Value, variant, ploidy, schema.Minor)
	case vcf.Float:
		return appendInfoFloat(out, field, entry.Value, variant, ploidy, schema.Minor)
	case vcf.Flag:
		return appendInfoFlag(out, field, entry.Value)
	case vcf.Character:
		return appendInfoCharacter(out, field, entry.Value, variant, ploidy)
	case vcf.String:
		return appendInfoString(out, field, entry.Value, schema.Minor)
	default:
		log.Panicf("incompatible value: INFO field %v has an invalid declared type", *field.ID)
		return nil
	}
}

func appendGenotypeGT(out []byte, variant *vcf.Variant, data []vcf.Genotype) []byte {
	nValues := maxPloidy(data, 2)
	nAlleles := len(variant.Alt) + 1
	tag := intType(int32(nAlleles << 1))
	out = appendType(out, nValues, tag)
	for i := range data {
		gt := &data[i]
		if len(gt.GT) == 0 {
			for j := 0; j < nValues; j++ {
				out = appendInt(out, 0, tag)
			}
			continue
		}
		for j, allele := range gt.GT {
			var encoded int32
			if allele >= 0 {
				encoded = (allele + 1) << 1
			}
			if j > 0 && gt.Phased {
				encoded |= 1
			}
			out = appendInt(out, encoded, tag)
		}
		for j := len(gt.GT); j < nValues; j++ {
			out = appendEOV(out, tag)
		}
	}
	return out
}

func appendGenotypeFT(out []byte, data []vcf.Genotype) []byte {
	nValues := len(passFilter)
	for i := range data {
		if n := len(data[i].Filter); n > nValues {
			nValues = n
		}
	}
	out = appendType(out, nValues, typeChar)
	for i := range data {
		filter := data[i].Filter
		if filter == "" {
			filter = passFilter
		}
		out = append(out, filter...)
		for j := len(filter); j < nValues; j++ {
			out = append(out, 0)
		}
	}
	return out
}

func appendGenotypeDepth(out []byte, data []vcf.Genotype, get func(gt *vcf.Genotype) int32) []byte {
	tag := typeInt8
	for i := range data {
		if value := get(&data[i]); value >= 0 {
			tag = maxIntType(tag, value)
		}
	}
	out = appendType(out, 1, tag)
	for i := range data {
		if value := get(&data[i]); value < 0 {
			out = appendMissing(out, tag)
		} else {
			out = appendInt(out, value, tag)
		}
	}
	return out
}

func appendGenotypeIntVector(out []byte, field *FieldInfo, variant *vcf.Variant, data []vcf.Genotype, ploidy int, minor byte, get func(gt *vcf.Genotype) []int32) []byte {
	nValues, bounded := field.Count(variant, ploidy)
	tag := typeInt8
	for i := range data {
		values := get(&data[i])
		if bounded && len(values) > nValues {
			log.Panicf("cardinality violation: %v values for %v, expected at most %v", len(values), *field.ID, nValues)
		}
		if !bounded && len(values) > nValues {
			nValues = len(values)
		}
		for _, value := range values {
			tag = maxIntType(tag, value)
		}
	}
	out = appendType(out, nValues, tag)
	for i := range data {
		values := get(&data[i])
		if len(values) == 0 {
			out = appendMissing(out, tag)
			out = appendPadding(out, tag, nValues-1, minor)
			continue
		}
		for _, value := range values {
			out = appendInt(out, value, tag)
		}
		out = appendPadding(out, tag, nValues-len(values), minor)
	}
	return out
}

// genotypeValues collects the attribute list of one FORMAT key for
// every sample, tracking the widest observed length.
func genotypeValues(field *FieldInfo, variant *vcf.Variant, data []vcf.Genotype, ploidy int) (rows [][]interface{}, nValues int) {
	nValues, bounded := field.Count(variant, ploidy)
	rows = make([][]interface{}, len(data))
	for i := range data {
		value, ok := data[i].Data.Get(field.ID)
		if !ok || value == nil {
			continue
		}
		row := asValueList(value)
		if bounded && len(row) > nValues {
			log.Panicf("cardinality violation: %v values for %v, expected at most %v", len(row), *field.ID, nValues)
		}
		if !bounded && len(row) > nValues {
			nValues = len(row)
		}
		rows[i] = row
	}
	return rows, nValues
}

func appendGenotypeInt(out []byte, field *FieldInfo, variant *vcf.Variant, data []vcf.Genotype, ploidy int, minor byte) []byte {
	rows, nValues := genotypeValues(field, variant, data, ploidy)
	tag := typeInt8
	for _, row := range rows {
		for _, v := range row {
			if v == nil {
				continue
			}
			i, ok := asInt32(v)
			if !ok {
				log.Panicf("incompatible value %v for integer FORMAT field %v", v, *field.ID)
			}
			tag = maxIntType(tag, i)
		}
	}
	out = appendType(out, nValues, tag)
	for _, row := range rows {
		if len(row) == 0 {
			out = appendMissing(out, tag)
			out = appendPadding(out, tag, nValues-1, minor)
			continue
		}
		for _, v := range row {
			if v == nil {
				out = appendMissing(out, tag)
			} else {
				i, _ := asInt32(v)
				out = appendInt(out, i, tag)
			}
		}
		out = appendPadding(out, tag, nValues-len(row), minor)
	}
	return out
}

func appendGenotypeFloat(out []byte, field *FieldInfo, variant *vcf.Variant, data []vcf.Genotype, ploidy int, minor byte) []byte {
	rows, nValues := genotypeValues(field, variant, data, ploidy)
	out = appendType(out, nValues, typeFloat)
	for _, row := range rows {
		if len(row) == 0 {
			out = appendMissing(out, typeFloat)
			out = appendPadding(out, typeFloat, nValues-1, minor)
			continue
		}
		for _, v := range row {
			if v == nil {
				out = appendMissing(out, typeFloat)
			} else if f, ok := asFloat64(v); ok {
				out = appendFloat(out, f)
			} else {
				log.Panicf("incompatible value %v for float FORMAT field %v", v, *field.ID)
			}
		}
		out = appendPadding(out, typeFloat, nValues-len(row), minor)
	}
	return out
}

func appendGenotypeString(out []byte, field *FieldInfo, data []vcf.Genotype, minor byte) []byte {
	rows := make([][]byte, len(data))
	nValues := 0
	for i := range data {
		value, ok := data[i].Data.Get(field.ID)
		if !ok || value == nil {
			continue
		}
		var bytes []byte
		switch v := value.(type) {
		case string:
			bytes = []byte(v)
		case rune:
			bytes = []byte(string(v))
		case []interface{}:
			bytes = joinStrings(v, field.ID, minor)
		default:
			log.Panicf("incompatible value %v for string FORMAT field %v", value, *field.ID)
		}
		if len(bytes) > nValues {
			nValues = len(bytes)
		}
		rows[i] = bytes
	}
	out = appendType(out, nValues, typeChar)
	for _, row := range rows {
		out = append(out, row...)
		for j := len(row); j < nValues; j++ {
			out = append(out, 0)
		}
	}
	return out
}

// appendFormatField encodes one FORMAT field for all samples: a typed
// dictionary offset, one typing byte declaring the common width and
// length, then the sample-major payload.
func (schema *Schema) appendFormatField(out []byte, key utils.Symbol, variant *vcf.Variant, data []vcf.Genotype, ploidy int) []byte {
	field, err := schema.Format(key)
	if err != nil {
		log.Panic(err)
	}
	out = appendTypedInt(out, field.Offset)
	switch key {
	case vcf.GT:
		return appendGenotypeGT(out, variant, data)
	case vcf.FT:
		return appendGenotypeFT(out, data)
	case vcf.DP:
		return appendGenotypeDepth(out, data, func(gt *vcf.Genotype) int32 { return gt.DP })
	case vcf.GQ:
		return appendGenotypeDepth(out, data, func(gt *vcf.Genotype) int32 { return gt.GQ })
	case vcf.AD:
		return appendGenotypeIntVector(out, field, variant, data, ploidy, schema.Minor, func(gt *vcf.Genotype) []int32 { return gt.AD })
	case vcf.PL:
		return appendGenotypeIntVector(out, field, variant, data, ploidy, schema.Minor, func(gt *vcf.Genotype) []int32 { return gt.PL })
	}
	switch field.Type {
	case vcf.Integer:
		return appendGenotypeInt(out, field, variant, data, ploidy, schema.Minor)
	case vcf.Float:
		return appendGenotypeFloat(out, field, variant, data, ploidy, schema.Minor)
	case vcf.Character, vcf.String:
		return appendGenotypeString(out, field, data, schema.Minor)
	default:
		log.Panicf("incompatible value: FORMAT field %v has an invalid declared type", *field.ID)
		return nil
	}
}
