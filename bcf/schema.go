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
	"fmt"

	"github.com/exascience/elbcf/utils"
	"github.com/exascience/elbcf/vcf"
)

type (
	// A FieldInfo describes one INFO or FORMAT line as seen by the
	// record codec: its dictionary offset, its value type, and its
	// declared cardinality.
	FieldInfo struct {
		ID     utils.Symbol
		Offset int32
		Type   vcf.Type
		Number int32
	}

	// A Schema projects a VCF header into the lookup tables the record
	// codec works with. Schemas are immutable once built and may be
	// shared between readers over the same header.
	Schema struct {
		Header   *vcf.Header
		Strings  *Dictionary
		Contigs  *Dictionary
		Infos    map[utils.Symbol]*FieldInfo
		Formats  map[utils.Symbol]*FieldInfo
		NSamples int
		Minor    byte
	}
)

// Unbounded tells whether the field carries an unrestricted number of
// values per record.
func (field *FieldInfo) Unbounded() bool {
	return field.Number == vcf.NumberDot
}

func binomial(n, k int) int {
	if k < 0 || k > n {
		return 0
	}
	if k > n-k {
		k = n - k
	}
	result := 1
	for i := 1; i <= k; i++ {
		result = result * (n - k + i) / i
	}
	return result
}

// Count returns the number of values the field carries for the given
// variant, and whether that number is bounded. For genotype counts the
// given ploidy governs the result.
func (field *FieldInfo) Count(variant *vcf.Variant, ploidy int) (n int, bounded bool) {
	switch field.Number {
	case vcf.NumberA:
		return len(variant.Alt), true
	case vcf.NumberR:
		return len(variant.Alt) + 1, true
	case vcf.NumberG:
		return binomial(ploidy+len(variant.Alt), ploidy), true
	case vcf.NumberDot:
		return 0, false
	default:
		return int(field.Number), true
	}
}

// Canonical contracts for the standard FORMAT/INFO keys. A header that
// redeclares one of these keys with a different type or cardinality is
// rejected.
var standardKeys = map[utils.Symbol]struct {
	number int32
	typ    vcf.Type
}{
	vcf.GT: {1, vcf.String},
	vcf.FT: {1, vcf.String},
	vcf.DP: {1, vcf.Integer},
	vcf.GQ: {1, vcf.Integer},
	vcf.AD: {vcf.NumberR, vcf.Integer},
	vcf.PL: {vcf.NumberG, vcf.Integer},
}

func checkStandardKey(format *vcf.FormatInformation) error {
	contract, ok := standardKeys[format.ID]
	if !ok {
		return nil
	}
	if format.Number != contract.number || format.Type != contract.typ {
		return fmt.Errorf("invalid header: standard key %v redeclared with Number %v and Type %v", *format.ID, format.Number, format.Type)
	}
	return nil
}

func newFieldInfo(format *vcf.FormatInformation, dict *Dictionary) (*FieldInfo, error) {
	offset, ok := dict.Offset(format.ID)
	if !ok {
		return nil, fmt.Errorf("invalid header: %v missing from the dictionary", *format.ID)
	}
	return &FieldInfo{
		ID:     format.ID,
		Offset: offset,
		Type:   format.Type,
		Number: format.Number,
	}, nil
}

// NewSchema builds the schema tables for a header. The minor version
// decides how IDX annotations are interpreted and which padding
// sentinel the codec uses.
func NewSchema(hdr *vcf.Header, minor byte) (*Schema, error) {
	strings, err := NewStringDictionary(hdr, minor)
	if err != nil {
		return nil, err
	}
	contigs, err := NewContigDictionary(hdr, minor)
	if err != nil {
		return nil, err
	}
	schema := &Schema{
		Header:   hdr,
		Strings:  strings,
		Contigs:  contigs,
		Infos:    make(map[utils.Symbol]*FieldInfo),
		Formats:  make(map[utils.Symbol]*FieldInfo),
		NSamples: hdr.NSamples(),
		Minor:    minor,
	}
	for _, info := range hdr.Infos {
		field, err := newFieldInfo(info, strings)
		if err != nil {
			return nil, err
		}
		if _, ok := schema.Infos[field.ID]; !ok {
			schema.Infos[field.ID] = field
		}
	}
	for _, format := range hdr.Formats {
		if format.Type == vcf.Flag {
			return nil, fmt.Errorf("invalid header: FORMAT line %v declared with type Flag", *format.ID)
		}
		if err := checkStandardKey(format); err != nil {
			return nil, err
		}
		field, err := newFieldInfo(format, strings)
		if err != nil {
			return nil, err
		}
		if _, ok := schema.Formats[field.ID]; !ok {
			schema.Formats[field.ID] = field
		}
	}
	return schema, nil
}

// Info looks up the schema entry for an INFO key.
func (schema *Schema) Info(key utils.Symbol) (*FieldInfo, error) {
	field, ok := schema.Infos[key]
	if !ok {
		return nil, fmt.Errorf("invalid header: INFO key %v not declared in the header", *key)
	}
	return field, nil
}

// Format looks up the schema entry for a FORMAT key.
func (schema *Schema) Format(key utils.Symbol) (*FieldInfo, error) {
	field, ok := schema.Formats[key]
	if !ok {
		return nil, fmt.Errorf("invalid header: FORMAT key %v not declared in the header", *key)
	}
	return field, nil
}
