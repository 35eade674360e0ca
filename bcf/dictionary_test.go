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
	"bufio"
	"strings"
	"testing"

	"github.com/exascience/elbcf/utils"
	"github.com/exascience/elbcf/vcf"
)

func parseTestHeader(t *testing.T, text string) *vcf.Header {
	t.Helper()
	hdr, err := vcf.ParseHeader(bufio.NewReader(strings.NewReader(text)))
	if err != nil {
		t.Fatal(err)
	}
	return hdr
}

const ordinalHeader = "##fileformat=VCFv4.3\n" +
	"##FILTER=<ID=q10,Description=\"low quality\">\n" +
	"##INFO=<ID=DP,Number=1,Type=Integer,Description=\"combined depth\">\n" +
	"##FORMAT=<ID=GT,Number=1,Type=String,Description=\"genotype\">\n" +
	"##FORMAT=<ID=DP,Number=1,Type=Integer,Description=\"read depth\">\n" +
	"##contig=<ID=1,length=249250621>\n" +
	"##contig=<ID=2,length=243199373>\n" +
	"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tNA00001\n"

func TestOrdinalDictionary(t *testing.T) {
	hdr := parseTestHeader(t, ordinalHeader)
	dict, err := NewStringDictionary(hdr, MinorV2)
	if err != nil {
		t.Fatal(err)
	}
	if sym, ok := dict.Get(0); !ok || sym != vcf.PASS {
		t.Error("PASS not at offset 0")
	}
	if sym, ok := dict.Get(1); !ok || sym != utils.Intern("q10") {
		t.Error("q10 not at offset 1")
	}
	if sym, ok := dict.Get(2); !ok || sym != vcf.DP {
		t.Error("DP not at offset 2")
	}
	if sym, ok := dict.Get(3); !ok || sym != vcf.GT {
		t.Error("GT not at offset 3")
	}
	if dict.Size() != 4 {
		t.Error("DP declared as both INFO and FORMAT counted twice")
	}
	if offset, ok := dict.Offset(vcf.DP); !ok || offset != 2 {
		t.Error("Offset lookup for DP failed")
	}
}

func TestOrdinalDictionaryExplicitPass(t *testing.T) {
	hdr := parseTestHeader(t, "##fileformat=VCFv4.3\n"+
		"##FILTER=<ID=q10,Description=\"low quality\">\n"+
		"##FILTER=<ID=PASS,Description=\"all filters passed\">\n"+
		"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n")
	dict, err := NewStringDictionary(hdr, MinorV1)
	if err != nil {
		t.Fatal(err)
	}
	if sym, ok := dict.Get(0); !ok || sym != vcf.PASS {
		t.Error("PASS not at offset 0")
	}
	if sym, ok := dict.Get(1); !ok || sym != utils.Intern("q10") {
		t.Error("q10 not at offset 1")
	}
	if dict.Size() != 2 {
		t.Error("explicit PASS line counted twice")
	}
}

const indexedHeader = "##fileformat=VCFv4.3\n" +
	"##FILTER=<ID=q10,Description=\"low quality\",IDX=5>\n" +
	"##INFO=<ID=DP,Number=1,Type=Integer,Description=\"combined depth\",IDX=2>\n" +
	"##FORMAT=<ID=GT,Number=1,Type=String,Description=\"genotype\",IDX=3>\n" +
	"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tNA00001\n"

func TestIndexedDictionary(t *testing.T) {
	hdr := parseTestHeader(t, indexedHeader)
	dict, err := NewStringDictionary(hdr, MinorV2)
	if err != nil {
		t.Fatal(err)
	}
	if sym, ok := dict.Get(5); !ok || sym != utils.Intern("q10") {
		t.Error("q10 not at offset 5")
	}
	if sym, ok := dict.Get(2); !ok || sym != vcf.DP {
		t.Error("DP not at offset 2")
	}
	if sym, ok := dict.Get(3); !ok || sym != vcf.GT {
		t.Error("GT not at offset 3")
	}
	if _, ok := dict.Get(0); ok {
		t.Error("offset 0 occupied without an IDX annotation for PASS")
	}
	if _, ok := dict.Get(4); ok {
		t.Error("unassigned offset occupied")
	}
}

func TestIndexedDictionaryIgnoredInMinorV1(t *testing.T) {
	hdr := parseTestHeader(t, indexedHeader)
	dict, err := NewStringDictionary(hdr, MinorV1)
	if err != nil {
		t.Fatal(err)
	}
	if sym, ok := dict.Get(0); !ok || sym != vcf.PASS {
		t.Error("PASS not at offset 0")
	}
	if sym, ok := dict.Get(1); !ok || sym != utils.Intern("q10") {
		t.Error("q10 not at offset 1")
	}
}

func TestMixedIdxAnnotations(t *testing.T) {
	hdr := parseTestHeader(t, "##fileformat=VCFv4.3\n"+
		"##FILTER=<ID=q10,Description=\"low quality\",IDX=5>\n"+
		"##INFO=<ID=DP,Number=1,Type=Integer,Description=\"combined depth\">\n"+
		"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n")
	if _, err := NewStringDictionary(hdr, MinorV2); err == nil {
		t.Error("partial IDX annotations not rejected")
	}
	if _, err := NewStringDictionary(hdr, MinorV1); err != nil {
		t.Error("IDX annotations not ignored for minor version 1")
	}
}

func TestDuplicateIdxOffset(t *testing.T) {
	hdr := parseTestHeader(t, "##fileformat=VCFv4.3\n"+
		"##FILTER=<ID=q10,Description=\"low quality\",IDX=1>\n"+
		"##INFO=<ID=DP,Number=1,Type=Integer,Description=\"combined depth\",IDX=1>\n"+
		"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n")
	if _, err := NewStringDictionary(hdr, MinorV2); err == nil {
		t.Error("duplicate IDX offset not rejected")
	}
}

func TestContigDictionary(t *testing.T) {
	hdr := parseTestHeader(t, ordinalHeader)
	dict, err := NewContigDictionary(hdr, MinorV2)
	if err != nil {
		t.Fatal(err)
	}
	if sym, ok := dict.Get(0); !ok || sym != utils.Intern("1") {
		t.Error("contig 1 not at offset 0")
	}
	if sym, ok := dict.Get(1); !ok || sym != utils.Intern("2") {
		t.Error("contig 2 not at offset 1")
	}
	if dict.Size() != 2 {
		t.Error("contig dictionary seeded with PASS")
	}
}

func TestDictionaryEach(t *testing.T) {
	hdr := parseTestHeader(t, ordinalHeader)
	dict, err := NewStringDictionary(hdr, MinorV2)
	if err != nil {
		t.Fatal(err)
	}
	var symbols []utils.Symbol
	dict.Each(func(offset int32, sym utils.Symbol) {
		if int(offset) != len(symbols) {
			t.Error("Each not in offset order")
		}
		symbols = append(symbols, sym)
	})
	if len(symbols) != 4 {
		t.Error("Each skipped entries")
	}
}
