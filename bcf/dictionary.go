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
	"strconv"

	"github.com/exascience/elbcf/utils"
	"github.com/exascience/elbcf/vcf"
	"github.com/willf/bitset"
)

// A Dictionary is an ordered string table. Records refer to its
// entries by 32-bit offset. Offsets are dense unless IDX annotations
// assign them (minor version 2 only), in which case they may be sparse.
type Dictionary struct {
	symbols  []utils.Symbol
	offsets  map[utils.Symbol]int32
	occupied *bitset.BitSet
}

// Get returns the string stored at the given offset.
func (dict *Dictionary) Get(offset int32) (utils.Symbol, bool) {
	if offset < 0 || int(offset) >= len(dict.symbols) || !dict.occupied.Test(uint(offset)) {
		return nil, false
	}
	return dict.symbols[offset], true
}

// Offset returns the offset assigned to the given string.
func (dict *Dictionary) Offset(sym utils.Symbol) (int32, bool) {
	offset, ok := dict.offsets[sym]
	return offset, ok
}

// Size returns the number of entries in the dictionary.
func (dict *Dictionary) Size() int {
	return len(dict.offsets)
}

// Each calls f for every entry in offset order.
func (dict *Dictionary) Each(f func(offset int32, sym utils.Symbol)) {
	for offset, sym := range dict.symbols {
		if dict.occupied.Test(uint(offset)) {
			f(int32(offset), sym)
		}
	}
}

func newDictionary() *Dictionary {
	return &Dictionary{
		offsets:  make(map[utils.Symbol]int32),
		occupied: bitset.New(64),
	}
}

func (dict *Dictionary) add(sym utils.Symbol, offset int32) error {
	if _, ok := dict.offsets[sym]; ok {
		return nil
	}
	if dict.occupied.Test(uint(offset)) {
		return fmt.Errorf("invalid header: duplicate dictionary offset %v for %v", offset, *sym)
	}
	for int(offset) >= len(dict.symbols) {
		dict.symbols = append(dict.symbols, nil)
	}
	dict.symbols[offset] = sym
	dict.offsets[sym] = offset
	dict.occupied.Set(uint(offset))
	return nil
}

func (dict *Dictionary) append(sym utils.Symbol) {
	if _, ok := dict.offsets[sym]; ok {
		return
	}
	offset := int32(len(dict.symbols))
	dict.symbols = append(dict.symbols, sym)
	dict.offsets[sym] = offset
	dict.occupied.Set(uint(offset))
}

// A dictionaryLine pairs a header line ID with its raw attribute
// fields, in order of appearance in the header.
type dictionaryLine struct {
	id     utils.Symbol
	fields utils.StringMap
}

func parseIdx(fields utils.StringMap) (int32, bool, error) {
	value, ok := fields["IDX"]
	if !ok {
		return 0, false, nil
	}
	idx, err := strconv.ParseInt(value, 10, 32)
	if err != nil || idx < 0 {
		return 0, true, fmt.Errorf("invalid header: malformed IDX value %v", value)
	}
	return int32(idx), true, nil
}

// buildDictionary assembles a dictionary from header lines. When the
// minor version is at least 2 and any line carries an IDX annotation,
// all lines must, and the annotations assign the offsets. Otherwise
// offsets are the positions of first occurrence, optionally after a
// seeded PASS entry at offset 0.
func buildDictionary(lines []dictionaryLine, minor byte, seedPass bool) (*Dictionary, error) {
	indexed := false
	if minor >= 2 {
		for _, line := range lines {
			if _, ok := line.fields["IDX"]; ok {
				indexed = true
				break
			}
		}
	}
	dict := newDictionary()
	if indexed {
		for _, line := range lines {
			idx, ok, err := parseIdx(line.fields)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("invalid header: dictionary line %v lacks an IDX annotation while other lines carry one", *line.id)
			}
			if err := dict.add(line.id, idx); err != nil {
				return nil, err
			}
		}
		return dict, nil
	}
	if seedPass {
		dict.append(vcf.PASS)
	}
	for _, line := range lines {
		dict.append(line.id)
	}
	return dict, nil
}

func dictionaryLines(hdr *vcf.Header) []dictionaryLine {
	fields := make(map[utils.Symbol]utils.StringMap)
	for _, filter := range hdr.Filters {
		if _, ok := fields[filter.ID]; !ok {
			fields[filter.ID] = filter.Fields
		}
	}
	for _, info := range hdr.Infos {
		if _, ok := fields[info.ID]; !ok {
			fields[info.ID] = info.Fields
		}
	}
	for _, format := range hdr.Formats {
		if _, ok := fields[format.ID]; !ok {
			fields[format.ID] = format.Fields
		}
	}
	seen := make(map[utils.Symbol]bool)
	var lines []dictionaryLine
	for _, id := range hdr.DictionaryOrder {
		if seen[id] {
			continue
		}
		seen[id] = true
		lines = append(lines, dictionaryLine{id: id, fields: fields[id]})
	}
	return lines
}

// NewStringDictionary builds the FILTER/INFO/FORMAT dictionary for a
// header. PASS is present at offset 0 whether or not the header
// declares a FILTER line for it, except when explicit IDX annotations
// assign the offsets.
func NewStringDictionary(hdr *vcf.Header, minor byte) (*Dictionary, error) {
	return buildDictionary(dictionaryLines(hdr), minor, true)
}

// NewContigDictionary builds the contig dictionary for a header.
func NewContigDictionary(hdr *vcf.Header, minor byte) (*Dictionary, error) {
	lines := make([]dictionaryLine, 0, len(hdr.Contigs))
	for _, contig := range hdr.Contigs {
		lines = append(lines, dictionaryLine{id: contig.ID, fields: contig.Fields})
	}
	return buildDictionary(lines, minor, false)
}
