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
	"testing"

	"github.com/exascience/elbcf/utils"
	"github.com/exascience/elbcf/vcf"
)

func TestBinomial(t *testing.T) {
	if binomial(3, 2) != 3 {
		t.Error("binomial 1 failed")
	}
	if binomial(4, 2) != 6 {
		t.Error("binomial 2 failed")
	}
	if binomial(2, 2) != 1 {
		t.Error("binomial 3 failed")
	}
	if binomial(5, 0) != 1 {
		t.Error("binomial 4 failed")
	}
	if binomial(2, 3) != 0 {
		t.Error("binomial 5 failed")
	}
}

func TestFieldCount(t *testing.T) {
	variant := &vcf.Variant{Ref: "A", Alt: []string{"T", "G"}}
	field := &FieldInfo{Number: vcf.NumberA}
	if n, bounded := field.Count(variant, 2); n != 2 || !bounded {
		t.Error("Count A failed")
	}
	field.Number = vcf.NumberR
	if n, bounded := field.Count(variant, 2); n != 3 || !bounded {
		t.Error("Count R failed")
	}
	field.Number = vcf.NumberG
	if n, bounded := field.Count(variant, 2); n != 6 || !bounded {
		t.Error("Count G failed")
	}
	field.Number = vcf.NumberDot
	if _, bounded := field.Count(variant, 2); bounded {
		t.Error("Count . failed")
	}
	if !field.Unbounded() {
		t.Error("Unbounded failed")
	}
	field.Number = 4
	if n, bounded := field.Count(variant, 2); n != 4 || !bounded {
		t.Error("Count fixed failed")
	}
}

func TestNewSchema(t *testing.T) {
	hdr := parseTestHeader(t, ordinalHeader)
	schema, err := NewSchema(hdr, MinorV2)
	if err != nil {
		t.Fatal(err)
	}
	if schema.NSamples != 1 {
		t.Error("NSamples failed")
	}
	if schema.Minor != MinorV2 {
		t.Error("Minor failed")
	}
	info, err := schema.Info(vcf.DP)
	if err != nil || info.Type != vcf.Integer || info.Number != 1 || info.Offset != 2 {
		t.Error("Info lookup for DP failed")
	}
	format, err := schema.Format(vcf.GT)
	if err != nil || format.Type != vcf.String || format.Offset != 3 {
		t.Error("Format lookup for GT failed")
	}
	if _, err := schema.Info(utils.Intern("XX")); err == nil {
		t.Error("undeclared INFO key not rejected")
	}
	if _, err := schema.Format(utils.Intern("XX")); err == nil {
		t.Error("undeclared FORMAT key not rejected")
	}
}

func TestStandardKeyContract(t *testing.T) {
	hdr := parseTestHeader(t, "##fileformat=VCFv4.3\n"+
		"##FORMAT=<ID=GQ,Number=2,Type=Integer,Description=\"genotype quality\">\n"+
		"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tNA00001\n")
	if _, err := NewSchema(hdr, MinorV2); err == nil {
		t.Error("redeclared GQ cardinality not rejected")
	}
	hdr = parseTestHeader(t, "##fileformat=VCFv4.3\n"+
		"##FORMAT=<ID=AD,Number=R,Type=Float,Description=\"allele depths\">\n"+
		"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tNA00001\n")
	if _, err := NewSchema(hdr, MinorV2); err == nil {
		t.Error("redeclared AD type not rejected")
	}
	hdr = parseTestHeader(t, "##fileformat=VCFv4.3\n"+
		"##FORMAT=<ID=PL,Number=G,Type=Integer,Description=\"phred-scaled likelihoods\">\n"+
		"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tNA00001\n")
	if _, err := NewSchema(hdr, MinorV2); err != nil {
		t.Error("canonical PL declaration rejected:", err)
	}
}

func TestFlagFormatRejected(t *testing.T) {
	hdr := parseTestHeader(t, "##fileformat=VCFv4.3\n"+
		"##FORMAT=<ID=XF,Number=0,Type=Flag,Description=\"a flag\">\n"+
		"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tNA00001\n")
	if _, err := NewSchema(hdr, MinorV2); err == nil {
		t.Error("Flag FORMAT line not rejected")
	}
}
