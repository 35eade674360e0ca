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
	"bytes"
	"encoding/binary"
	"reflect"
	"testing"

	"github.com/exascience/elbcf/utils"
	"github.com/exascience/elbcf/vcf"
)

const emptyHeader = "##fileformat=VCFv4.3\n" +
	"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n"

func TestPrologue(t *testing.T) {
	hdr := parseTestHeader(t, emptyHeader)
	var buf bytes.Buffer
	NewWriter(&buf, hdr, MinorV2)
	stream := buf.Bytes()
	if !bytes.Equal(stream[:5], []byte{0x42, 0x43, 0x46, 0x02, 0x02}) {
		t.Error("prologue magic failed")
	}
	hdrlen := binary.LittleEndian.Uint32(stream[5:9])
	if len(stream) != 9+int(hdrlen) {
		t.Error("prologue header length failed")
	}
	if stream[len(stream)-1] != 0 {
		t.Error("embedded header text not NUL terminated")
	}
	reader := NewReader(bufio.NewReader(bytes.NewReader(stream)))
	if reader.Minor != MinorV2 {
		t.Error("minor version not recovered")
	}
	if reader.Schema.NSamples != 0 {
		t.Error("sample count not recovered")
	}
	if variant := reader.ReadVariant(); variant != nil {
		t.Error("record decoded from a header-only stream")
	}
}

func TestInvalidPrologue(t *testing.T) {
	expectPanic(t, "invalid magic", func() {
		NewReader(bufio.NewReader(bytes.NewReader([]byte("NOTBCF at all"))))
	})
	expectPanic(t, "unsupported minor version", func() {
		NewReader(bufio.NewReader(bytes.NewReader([]byte{0x42, 0x43, 0x46, 0x02, 0x03, 0, 0, 0, 0})))
	})
	hdr := parseTestHeader(t, emptyHeader)
	expectPanic(t, "unsupported writer minor version", func() {
		var buf bytes.Buffer
		NewWriter(&buf, hdr, 3)
	})
}

const sitesHeader = "##fileformat=VCFv4.3\n" +
	"##contig=<ID=1,length=1000000>\n" +
	"##contig=<ID=2,length=1000000>\n" +
	"##contig=<ID=3,length=1000000>\n" +
	"##contig=<ID=4,length=1000000>\n" +
	"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n"

func TestSitesBlock(t *testing.T) {
	hdr := parseTestHeader(t, sitesHeader)
	var buf bytes.Buffer
	writer := NewWriter(&buf, hdr, MinorV2)
	variant := &vcf.Variant{
		Chrom: "4",
		Pos:   1001,
		Ref:   "A",
		Alt:   []string{"T"},
		Qual:  37.0,
	}
	out := writer.FormatVariant(variant, nil)
	sitesSize := binary.LittleEndian.Uint32(out[:4])
	genoSize := binary.LittleEndian.Uint32(out[4:8])
	if int(sitesSize) != len(out)-8 || genoSize != 0 {
		t.Error("block sizes failed")
	}
	expected := []byte{
		0x03, 0x00, 0x00, 0x00, // contig offset 3
		0xE8, 0x03, 0x00, 0x00, // 0-based position 1000
		0x01, 0x00, 0x00, 0x00, // reference length 1
		0x00, 0x00, 0x14, 0x42, // QUAL 37.0
	}
	if !bytes.Equal(out[8:24], expected) {
		t.Error("fixed sites fields failed")
	}
	if out[24] != 0x13 || binary.LittleEndian.Uint32(out[25:29]) != 0x00020000 {
		t.Error("packed allele/info word failed")
	}
	if out[29] != 0x11 || out[30] != 0x00 {
		t.Error("packed format/sample word failed")
	}
	if out[31] != 0x07 {
		t.Error("missing ID encoding failed")
	}
}

func TestCardinalityViolation(t *testing.T) {
	hdr := parseTestHeader(t, "##fileformat=VCFv4.3\n"+
		"##contig=<ID=1,length=1000000>\n"+
		"##INFO=<ID=AC,Number=A,Type=Integer,Description=\"allele counts\">\n"+
		"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n")
	var buf bytes.Buffer
	writer := NewWriter(&buf, hdr, MinorV2)
	variant := &vcf.Variant{Chrom: "1", Pos: 1, Ref: "A", Alt: []string{"T"}}
	variant.Info.Set(utils.Intern("AC"), []interface{}{1, 2})
	expectPanic(t, "cardinality violation", func() {
		writer.FormatVariant(variant, nil)
	})
}

func TestWideInteger(t *testing.T) {
	hdr := parseTestHeader(t, "##fileformat=VCFv4.3\n"+
		"##contig=<ID=1,length=1000000>\n"+
		"##INFO=<ID=AF,Number=1,Type=Integer,Description=\"allele frequency count\">\n"+
		"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n")
	var buf bytes.Buffer
	writer := NewWriter(&buf, hdr, MinorV2)
	variant := &vcf.Variant{Chrom: "1", Pos: 1, Ref: "A", Alt: []string{"T"}}
	variant.Info.Set(utils.Intern("AF"), 1000000)
	out := writer.FormatVariant(variant, nil)
	if !bytes.HasSuffix(out, []byte{0x11, 0x01, 0x13, 0x40, 0x42, 0x0F, 0x00}) {
		t.Error("value not widened to INT32")
	}
	writer.WriteVariant(variant)
	reader := NewReader(bufio.NewReader(bytes.NewReader(buf.Bytes())))
	decoded := reader.ReadVariant()
	if value, ok := decoded.Info.Get(utils.Intern("AF")); !ok || value != 1000000 {
		t.Error("wide integer round trip failed")
	}
}

const genotypesHeader = "##fileformat=VCFv4.3\n" +
	"##contig=<ID=1,length=1000000>\n" +
	"##FORMAT=<ID=GT,Number=1,Type=String,Description=\"genotype\">\n" +
	"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tS1\tS2\tS3\n"

func TestGenotypeEncoding(t *testing.T) {
	hdr := parseTestHeader(t, genotypesHeader)
	var buf bytes.Buffer
	writer := NewWriter(&buf, hdr, MinorV2)
	data := []vcf.Genotype{vcf.NewGenotype(), vcf.NewGenotype(), vcf.NewGenotype()}
	data[0].GT = []int32{0, 1}
	data[1].GT = []int32{1, 1}
	data[1].Phased = true
	data[2].GT = []int32{-1, -1}
	variant := &vcf.Variant{
		Chrom:          "1",
		Pos:            1,
		Ref:            "A",
		Alt:            []string{"T"},
		GenotypeFormat: []utils.Symbol{vcf.GT},
		GenotypeData:   data,
	}
	out := writer.FormatVariant(variant, nil)
	sitesSize := binary.LittleEndian.Uint32(out[:4])
	genotypes := out[8+sitesSize:]
	expected := []byte{
		0x11, 0x01, // dictionary offset of GT
		0x21,                               // two INT8 values per sample
		0x02, 0x04, 0x04, 0x05, 0x00, 0x00, // 0/1, 1|1, ./.
	}
	if !bytes.Equal(genotypes, expected) {
		t.Error("genotype block encoding failed")
	}
	writer.WriteVariant(variant)
	reader := NewReader(bufio.NewReader(bytes.NewReader(buf.Bytes())))
	decoded := reader.ReadVariant()
	if decoded.LazyGenotypes == nil {
		t.Error("genotype block decoded eagerly")
	}
	_, decodedData := decoded.Genotypes()
	if decoded.LazyGenotypes != nil {
		t.Error("resolved genotypes not cached")
	}
	if !reflect.DeepEqual(decodedData[0].GT, []int32{0, 1}) || decodedData[0].Phased {
		t.Error("genotype 0/1 round trip failed")
	}
	if !reflect.DeepEqual(decodedData[1].GT, []int32{1, 1}) || !decodedData[1].Phased {
		t.Error("genotype 1|1 round trip failed")
	}
	if !reflect.DeepEqual(decodedData[2].GT, []int32{-1, -1}) || decodedData[2].Phased {
		t.Error("genotype ./. round trip failed")
	}
}

func TestMultiStringVersions(t *testing.T) {
	hdr := parseTestHeader(t, "##fileformat=VCFv4.3\n"+
		"##contig=<ID=1,length=1000000>\n"+
		"##INFO=<ID=EFFECT,Number=.,Type=String,Description=\"effects\">\n"+
		"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n")
	effect := utils.Intern("EFFECT")
	for _, test := range []struct {
		minor   byte
		payload string
	}{
		{MinorV1, ",mis,non"},
		{MinorV2, "mis,non"},
	} {
		var buf bytes.Buffer
		writer := NewWriter(&buf, hdr, test.minor)
		variant := &vcf.Variant{Chrom: "1", Pos: 1, Ref: "A", Alt: []string{"T"}}
		variant.Info.Set(effect, []interface{}{"mis", "non"})
		out := writer.FormatVariant(variant, nil)
		typed := append(appendType(nil, len(test.payload), typeChar), test.payload...)
		if !bytes.Contains(out, typed) {
			t.Error("multi-string payload failed for minor version", test.minor)
		}
		writer.WriteVariant(variant)
		reader := NewReader(bufio.NewReader(bytes.NewReader(buf.Bytes())))
		decoded := reader.ReadVariant()
		value, ok := decoded.Info.Get(effect)
		if !ok || !reflect.DeepEqual(value, []interface{}{"mis", "non"}) {
			t.Error("multi-string round trip failed for minor version", test.minor)
		}
	}
}

const roundTripHeader = "##fileformat=VCFv4.3\n" +
	"##FILTER=<ID=q10,Description=\"low quality\">\n" +
	"##INFO=<ID=NS,Number=1,Type=Integer,Description=\"samples with data\">\n" +
	"##INFO=<ID=AC,Number=R,Type=Integer,Description=\"allele counts\">\n" +
	"##INFO=<ID=AF,Number=A,Type=Float,Description=\"allele frequency\">\n" +
	"##INFO=<ID=DB,Number=0,Type=Flag,Description=\"dbSNP membership\">\n" +
	"##INFO=<ID=EFFECT,Number=.,Type=String,Description=\"effects\">\n" +
	"##FORMAT=<ID=GT,Number=1,Type=String,Description=\"genotype\">\n" +
	"##FORMAT=<ID=DP,Number=1,Type=Integer,Description=\"read depth\">\n" +
	"##FORMAT=<ID=GQ,Number=1,Type=Integer,Description=\"genotype quality\">\n" +
	"##FORMAT=<ID=AD,Number=R,Type=Integer,Description=\"allele depths\">\n" +
	"##FORMAT=<ID=PL,Number=G,Type=Integer,Description=\"phred-scaled likelihoods\">\n" +
	"##FORMAT=<ID=FT,Number=1,Type=String,Description=\"sample filter\">\n" +
	"##FORMAT=<ID=HQ,Number=2,Type=Integer,Description=\"haplotype qualities\">\n" +
	"##contig=<ID=1,length=1000000>\n" +
	"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tNA00001\tNA00002\n"

func roundTripVariant() *vcf.Variant {
	hq := utils.Intern("HQ")
	data := []vcf.Genotype{vcf.NewGenotype(), vcf.NewGenotype()}
	data[0].GT = []int32{0, 1}
	data[0].DP = 14
	data[0].GQ = 48
	data[0].AD = []int32{10, 5}
	data[0].PL = []int32{10, 0, 20}
	data[0].Filter = "PASS"
	data[0].Data.Set(hq, []interface{}{51, 52})
	data[1].GT = []int32{1, 1}
	data[1].Phased = true
	data[1].GQ = 99
	data[1].PL = []int32{60, 30, 0}
	data[1].Filter = "q10"
	data[1].Data.Set(hq, []interface{}{58, 50})
	variant := &vcf.Variant{
		Chrom:          "1",
		Pos:            1001,
		ID:             []string{"rs1", "rs2"},
		Ref:            "AT",
		Alt:            []string{"T"},
		Qual:           37.5,
		Filter:         []utils.Symbol{vcf.PASS, utils.Intern("q10")},
		GenotypeFormat: []utils.Symbol{vcf.GT, vcf.DP, vcf.GQ, vcf.AD, vcf.PL, vcf.FT, hq},
		GenotypeData:   data,
	}
	variant.Info.Set(utils.Intern("NS"), 2)
	variant.Info.Set(utils.Intern("AC"), []interface{}{3, 4})
	variant.Info.Set(utils.Intern("AF"), 0.5)
	variant.Info.Set(utils.Intern("DB"), true)
	variant.Info.Set(utils.Intern("EFFECT"), []interface{}{"mis", "non"})
	return variant
}

func checkVariantsEqual(t *testing.T, minor byte, got, want *vcf.Variant) {
	t.Helper()
	gotFormat, gotData := got.Genotypes()
	wantFormat, wantData := want.Genotypes()
	if got.Chrom != want.Chrom || got.Pos != want.Pos || got.Ref != want.Ref {
		t.Error("site fields round trip failed for minor version", minor)
	}
	if !reflect.DeepEqual(got.ID, want.ID) {
		t.Error("ID round trip failed for minor version", minor)
	}
	if !reflect.DeepEqual(got.Alt, want.Alt) {
		t.Error("ALT round trip failed for minor version", minor)
	}
	if !reflect.DeepEqual(got.Qual, want.Qual) {
		t.Error("QUAL round trip failed for minor version", minor)
	}
	if !reflect.DeepEqual(got.Filter, want.Filter) {
		t.Error("FILTER round trip failed for minor version", minor)
	}
	if !reflect.DeepEqual(got.Info, want.Info) {
		t.Error("INFO round trip failed for minor version", minor)
	}
	if !reflect.DeepEqual(gotFormat, wantFormat) {
		t.Error("FORMAT keys round trip failed for minor version", minor)
	}
	if !reflect.DeepEqual(gotData, wantData) {
		t.Error("genotype data round trip failed for minor version", minor)
	}
}

func TestRoundTrip(t *testing.T) {
	hdr := parseTestHeader(t, roundTripHeader)
	for _, minor := range []byte{MinorV1, MinorV2} {
		var buf bytes.Buffer
		writer := NewWriter(&buf, hdr, minor)
		variant := roundTripVariant()
		writer.WriteVariant(variant)
		writer.WriteVariant(variant)
		reader := NewReader(bufio.NewReader(bytes.NewReader(buf.Bytes())))
		for i := 0; i < 2; i++ {
			decoded := reader.ReadVariant()
			if decoded == nil {
				t.Fatal("record missing for minor version", minor)
			}
			checkVariantsEqual(t, minor, decoded, variant)
		}
		if reader.ReadVariant() != nil {
			t.Error("spurious record for minor version", minor)
		}
	}
}

func TestReaderSource(t *testing.T) {
	hdr := parseTestHeader(t, roundTripHeader)
	var buf bytes.Buffer
	writer := NewWriter(&buf, hdr, MinorV2)
	variant := roundTripVariant()
	for i := 0; i < 3; i++ {
		writer.WriteVariant(variant)
	}
	reader := NewReader(bufio.NewReader(bytes.NewReader(buf.Bytes())))
	if reader.Prepare(nil) != -1 {
		t.Error("Prepare failed")
	}
	if reader.Fetch(2) != 2 {
		t.Error("Fetch 1 failed")
	}
	records := reader.Data().([][]byte)
	if len(records) != 2 {
		t.Error("Data failed")
	}
	checkVariantsEqual(t, MinorV2, reader.ParseVariant(records[0]), variant)
	if reader.Fetch(2) != 1 {
		t.Error("Fetch 2 failed")
	}
	if reader.Err() != nil {
		t.Error("Err failed")
	}
}
