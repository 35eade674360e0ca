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

// Package bcf implements a reader and writer for BCF2 variant call
// files, minor versions 1 and 2.
package bcf

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log"
	"math"
	"os"
	"strings"

	"github.com/exascience/elbcf/internal"
	"github.com/exascience/elbcf/utils"
	"github.com/exascience/elbcf/utils/bgzf"
	"github.com/exascience/elbcf/vcf"
)

// bcfMagic is the magic string for the BCF2 format, including the
// major version byte. The minor version byte follows it on the wire.
const bcfMagic = "BCF\x02"

// The supported minor versions.
const (
	MinorV1 byte = 1
	MinorV2 byte = 2
)

func checkMinor(minor byte) {
	if minor != MinorV1 && minor != MinorV2 {
		log.Panicf("unsupported version: BCF2.%v", minor)
	}
}

// A Reader decodes a stream of BCF2 records. It implements
// pipeline.Source so that record batches can feed a pargo pipeline.
type Reader struct {
	rc     io.Closer
	r      io.Reader
	Header *vcf.Header
	Schema *Schema
	Minor  byte
	buf    []byte
	record int
	data   interface{}
}

// NewReader reads the BCF2 prologue from the given reader, parses the
// embedded text header, and prepares record decoding. The reader
// transparently handles BGZF compressed input.
func NewReader(reader *bufio.Reader) *Reader {
	r := utils.HandleBGZF(reader)
	prologue := make([]byte, 5)
	internal.ReadFull(r, prologue)
	if string(prologue[:3]) != "BCF" {
		log.Panic("invalid magic: not a BCF file")
	}
	if prologue[3] != bcfMagic[3] {
		log.Panicf("unsupported version: BCF%v.%v", prologue[3], prologue[4])
	}
	minor := prologue[4]
	checkMinor(minor)
	lengthBytes := make([]byte, 4)
	internal.ReadFull(r, lengthBytes)
	text := make([]byte, binary.LittleEndian.Uint32(lengthBytes))
	internal.ReadFull(r, text)
	if end := bytes.IndexByte(text, 0); end >= 0 {
		text = text[:end]
	}
	hdr, err := vcf.ParseHeader(bufio.NewReader(bytes.NewReader(text)))
	if err != nil {
		log.Panic(err)
	}
	schema, err := NewSchema(hdr, minor)
	if err != nil {
		log.Panic(err)
	}
	return &Reader{
		r:      r,
		Header: hdr,
		Schema: schema,
		Minor:  minor,
		buf:    make([]byte, 8),
	}
}

// Open a BCF file for input.
//
// If the name is "/dev/stdin", then the input is read from os.Stdin.
func Open(name string) *Reader {
	var file io.ReadCloser
	if name == "/dev/stdin" {
		file = os.Stdin
	} else {
		file = internal.FileOpen(name)
	}
	reader := NewReader(bufio.NewReader(file))
	reader.rc = file
	return reader
}

// Close the BCF input file.
func (reader *Reader) Close() {
	if c, ok := reader.r.(io.Closer); ok {
		internal.Close(c)
	}
	if reader.rc != nil && reader.rc != os.Stdin {
		internal.Close(reader.rc)
	}
}

// readRecord slabs the raw bytes of the next record, including the
// two leading block size words.
func (reader *Reader) readRecord() ([]byte, bool) {
	if _, err := io.ReadFull(reader.r, reader.buf[:8]); err != nil {
		if err != io.EOF {
			log.Panic(err)
		}
		return nil, false
	}
	sitesSize := int(binary.LittleEndian.Uint32(reader.buf[:4]))
	genoSize := int(binary.LittleEndian.Uint32(reader.buf[4:8]))
	record := make([]byte, 8+sitesSize+genoSize)
	copy(record, reader.buf[:8])
	internal.ReadFull(reader.r, record[8:])
	return record, true
}

// ReadVariant decodes the next record, or returns nil at the end of
// the stream.
func (reader *Reader) ReadVariant() *vcf.Variant {
	record, ok := reader.readRecord()
	if !ok {
		return nil
	}
	return reader.ParseVariant(record)
}

// Err implements the method of the pipeline.Source interface.
func (reader *Reader) Err() error {
	return nil
}

// Prepare implements the method of the pipeline.Source interface.
func (*Reader) Prepare(_ context.Context) (size int) {
	return -1
}

// Fetch implements the method of the pipeline.Source interface.
func (reader *Reader) Fetch(size int) (fetched int) {
	var records [][]byte
	for fetched = 0; fetched < size; fetched++ {
		record, ok := reader.readRecord()
		if !ok {
			break
		}
		records = append(records, record)
	}
	reader.data = records
	return fetched
}

// Data implements the method of the pipeline.Source interface.
func (reader *Reader) Data() interface{} {
	return reader.data
}

// ParseVariant decodes one raw record. The sites block is decoded
// eagerly; the genotype block is kept raw until first access.
func (reader *Reader) ParseVariant(record []byte) *vcf.Variant {
	index := reader.record
	reader.record++
	sitesSize := int(binary.LittleEndian.Uint32(record[:4]))
	sc := recordScanner{data: record[8 : 8+sitesSize], record: index}
	schema := reader.Schema
	variant := &vcf.Variant{}

	contigOffset := sc.int32Value()
	contig, ok := schema.Contigs.Get(contigOffset)
	if !ok {
		log.Panicf("malformed record: unknown contig offset %v at (record %v, offset %v)", contigOffset, index, sc.index)
	}
	variant.Chrom = *contig
	pos0 := sc.int32Value()
	variant.Pos = pos0 + 1
	refLength := sc.int32Value()
	if bits := sc.floatBits(); bits == floatMissingBits {
		variant.Qual = nil
	} else {
		variant.Qual = float64(math.Float32frombits(bits))
	}

	packed := sc.typedInt()
	nAlleles := int(packed >> 16)
	nInfo := int(packed & 0xFFFF)
	packed = sc.typedInt()
	nFormat := int(uint32(packed) >> 24)
	nSamples := int(packed & 0xFFFFFF)
	if nAlleles < 1 {
		log.Panicf("malformed record: no REF allele at (record %v, offset %v)", index, sc.index)
	}
	if nSamples != schema.NSamples {
		log.Panicf("malformed record: %v samples, header declares %v at (record %v, offset %v)", nSamples, schema.NSamples, index, sc.index)
	}

	if size, tag := sc.typeDescriptor(); tag != typeChar {
		log.Panicf("malformed record: ID field with type tag %v at (record %v, offset %v)", tag, index, sc.index)
	} else if id := trimZero(sc.bytes(size)); id != "" {
		variant.ID = strings.Split(id, ";")
	}

	for i := 0; i < nAlleles; i++ {
		size, tag := sc.typeDescriptor()
		if tag != typeChar {
			log.Panicf("malformed record: allele with type tag %v at (record %v, offset %v)", tag, index, sc.index)
		}
		allele := string(sc.bytes(size))
		if i == 0 {
			if allele == "" {
				log.Panicf("malformed record: empty REF allele at (record %v, offset %v)", index, sc.index)
			}
			variant.Ref = allele
		} else {
			variant.Alt = append(variant.Alt, allele)
		}
	}
	variant.SetEnd(variant.Pos + refLength - 1)

	if size, tag := sc.typeDescriptor(); size > 0 {
		for i := 0; i < size; i++ {
			offset := sc.intValue(tag)
			filter, ok := schema.Strings.Get(offset)
			if !ok {
				log.Panicf("malformed record: unknown FILTER offset %v at (record %v, offset %v)", offset, index, sc.index)
			}
			variant.Filter = append(variant.Filter, filter)
		}
	}

	for i := 0; i < nInfo; i++ {
		key := sc.dictionaryKey(schema.Strings)
		value := sc.decodeTypedValue(schema.Infos[key], reader.Minor)
		if value != nil {
			variant.Info.Set(key, value)
		}
	}

	if nFormat > 0 {
		variant.LazyGenotypes = &lazyGenotypes{
			schema:   schema,
			data:     record[8+sitesSize:],
			nFields:  nFormat,
			nSamples: nSamples,
			record:   index,
		}
	}
	return variant
}

// A Writer encodes a stream of BCF2 records. The minor version is
// fixed at construction and decides the padding and multi-string
// layout for the whole stream.
type Writer struct {
	wc     io.Closer
	w      io.Writer
	Schema *Schema
}

func headerText(hdr *vcf.Header) []byte {
	var buf bytes.Buffer
	out := bufio.NewWriter(&buf)
	if err := hdr.Format(out); err != nil {
		log.Panic(err)
	}
	if err := out.Flush(); err != nil {
		log.Panic(err)
	}
	return append(buf.Bytes(), 0)
}

// NewWriter writes the BCF2 prologue and embedded text header to the
// given writer and prepares record encoding.
func NewWriter(w io.Writer, hdr *vcf.Header, minor byte) *Writer {
	checkMinor(minor)
	text := headerText(hdr)
	// The schema is built from the embedded text, as a reader sees it,
	// so that both sides assign the same dictionary offsets.
	embedded, err := vcf.ParseHeader(bufio.NewReader(bytes.NewReader(text[:len(text)-1])))
	if err != nil {
		log.Panic(err)
	}
	schema, err := NewSchema(embedded, minor)
	if err != nil {
		log.Panic(err)
	}
	prologue := make([]byte, 9)
	copy(prologue, bcfMagic)
	prologue[4] = minor
	binary.LittleEndian.PutUint32(prologue[5:], uint32(len(text)))
	internal.Write(w, prologue)
	internal.Write(w, text)
	return &Writer{w: w, Schema: schema}
}

// Create a BCF file for output, BGZF compressed.
//
// If the name is "/dev/stdout", then the output is written to
// os.Stdout.
func Create(name string, hdr *vcf.Header, minor byte) *Writer {
	var file io.WriteCloser
	if name == "/dev/stdout" {
		file = os.Stdout
	} else {
		file = internal.FileCreate(name)
	}
	compressed := bgzf.NewWriter(file, -1)
	writer := NewWriter(compressed, hdr, minor)
	writer.wc = file
	return writer
}

// Close the BCF output file.
func (writer *Writer) Close() {
	if c, ok := writer.w.(io.Closer); ok {
		internal.Close(c)
	}
	if writer.wc != nil && writer.wc != os.Stdout {
		internal.Close(writer.wc)
	}
}

// Write raw bytes to the output stream.
func (writer *Writer) Write(p []byte) int {
	internal.Write(writer.w, p)
	return len(p)
}

// WriteVariant encodes one record and writes it out.
func (writer *Writer) WriteVariant(variant *vcf.Variant) {
	buf := internal.ReserveByteBuffer()
	buf = writer.FormatVariant(variant, buf)
	internal.Write(writer.w, buf)
	internal.ReleaseByteBuffer(buf)
}

func appendUint32(out []byte, value uint32) []byte {
	index, out := enlarge(out, 4)
	binary.LittleEndian.PutUint32(out[index:], value)
	return out
}

// FormatVariant appends the two-block wire form of one record to out.
func (writer *Writer) FormatVariant(variant *vcf.Variant, out []byte) []byte {
	schema := writer.Schema
	format, data := variant.Genotypes()
	nSamples := schema.NSamples
	if len(format) > 0 && len(data) != nSamples {
		log.Panicf("malformed record: %v genotypes, header declares %v samples", len(data), nSamples)
	}
	ploidy := maxPloidy(data, 2)

	sizesIndex, out := enlarge(out, 8)

	contig, ok := schema.Contigs.Offset(utils.Intern(variant.Chrom))
	if !ok {
		log.Panicf("invalid header: contig %v not declared in the header", variant.Chrom)
	}
	out = appendUint32(out, uint32(contig))
	out = appendUint32(out, uint32(variant.Pos-1))
	out = appendUint32(out, uint32(variant.End()-variant.Pos+1))
	if qual, ok := variant.Qual.(float64); ok {
		out = appendFloat(out, qual)
	} else {
		out = appendFloatBits(out, floatMissingBits)
	}

	nAlleles := len(variant.Alt) + 1
	out = appendTypedInt(out, int32(nAlleles<<16)|int32(len(variant.Info)))
	out = appendTypedInt(out, int32(len(format)<<24)|int32(nSamples&0xFFFFFF))

	if len(variant.ID) == 0 {
		out = appendType(out, 0, typeChar)
	} else {
		id := strings.Join(variant.ID, ";")
		out = appendType(out, len(id), typeChar)
		out = append(out, id...)
	}

	if variant.Ref == "" {
		log.Panic("malformed record: empty REF allele")
	}
	out = appendType(out, len(variant.Ref), typeChar)
	out = append(out, variant.Ref...)
	for _, alt := range variant.Alt {
		out = appendType(out, len(alt), typeChar)
		out = append(out, alt...)
	}

	if len(variant.Filter) == 0 {
		out = appendType(out, 0, typeInt8)
	} else {
		offsets := make([]int32, len(variant.Filter))
		tag := typeInt8
		for i, filter := range variant.Filter {
			offset, ok := schema.Strings.Offset(filter)
			if !ok {
				log.Panicf("invalid header: FILTER %v not declared in the header", *filter)
			}
			offsets[i] = offset
			tag = maxIntType(tag, offset)
		}
		out = appendType(out, len(offsets), tag)
		for _, offset := range offsets {
			out = appendInt(out, offset, tag)
		}
	}

	for _, entry := range variant.Info {
		out = schema.appendInfoField(out, entry, variant, ploidy)
	}
	sitesSize := len(out) - sizesIndex - 8

	for _, key := range format {
		out = schema.appendFormatField(out, key, variant, data, ploidy)
	}
	genoSize := len(out) - sizesIndex - 8 - sitesSize

	binary.LittleEndian.PutUint32(out[sizesIndex:], uint32(sitesSize))
	binary.LittleEndian.PutUint32(out[sizesIndex+4:], uint32(genoSize))
	return out
}
