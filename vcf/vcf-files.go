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

package vcf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/exascience/elbcf/internal"
	"github.com/exascience/elbcf/utils"
)

const (
	descriptionKey = "Description"
	idKey          = "ID"
	numberKey      = "Number"
	typeKey        = "Type"
)

// ParseMetaField parses a VCF meta field
func (sc *StringScanner) ParseMetaField() (key, value string) {
	if sc.err != nil {
		return
	}
	sc.SkipSpace()
	start := sc.index
	for ; sc.index < len(sc.data); sc.index++ {
		if c := sc.data[sc.index]; (c == ' ') || (c == '=') {
			break
		}
	}
	key = sc.data[start:sc.index]
	sc.SkipSpace()
	if sc.index >= len(sc.data) || sc.data[sc.index] != '=' {
		if sc.err == nil {
			sc.err = fmt.Errorf("invalid key=value pair in a VCF meta-information line: %v", sc.data)
		}
		return
	}
	sc.index++
	start = sc.index
	if sc.data[sc.index] == '"' {
		start++
		sc.index++
		var buf strings.Builder
		for ; sc.index < len(sc.data); sc.index++ {
			switch sc.data[sc.index] {
			case '"':
				sc.index++
				return key, buf.String()
			case '\\':
				sc.index++
			}
			_ = buf.WriteByte(sc.data[sc.index])
		}
		sc.index = len(sc.data)
		if sc.err == nil {
			sc.err = fmt.Errorf("missing closing \" in a VCF meta-information line: %v", sc.data)
		}
		return key, buf.String()
	}
	for ; sc.index < len(sc.data); sc.index++ {
		if c := sc.data[sc.index]; (c == ' ') || (c == ',') || (c == '>') {
			return key, sc.data[start:sc.index]
		}
	}
	if sc.err == nil {
		sc.err = fmt.Errorf("missing closing > in a VCF meta-information line: %v", sc.data)
	}
	return key, sc.data[start:]
}

// ParseMetaInformation parses VCF meta information
func (sc *StringScanner) ParseMetaInformation() interface{} {
	if sc.err != nil {
		return nil
	}
	if sc.data[sc.index] != '<' {
		start := sc.index
		sc.index = len(sc.data)
		return sc.data[start:]
	}
	sc.index++
	meta := NewMetaInformation()
	for {
		key, value := sc.ParseMetaField()
		switch key {
		case idKey:
			if meta.ID != nil {
				if sc.err == nil {
					sc.err = fmt.Errorf("multiple IDs in a VCF meta-information line: %v", sc.data)
				}
			} else {
				meta.ID = utils.Intern(value)
			}
		case descriptionKey:
			if meta.Description != "" {
				if sc.err == nil {
					sc.err = fmt.Errorf("multiple Descriptions in a VCF meta-information line: %v", sc.data)
				}
			} else {
				meta.Description = value
			}
		default:
			if !meta.Fields.SetUniqueEntry(key, value) {
				if sc.err == nil {
					sc.err = fmt.Errorf("duplicate field key %v in a VCF meta-information line: %v", key, sc.data)
				}
			}
		}
		sc.SkipSpace()
		if c := sc.data[sc.index]; c == ',' {
			sc.index++
			continue
		} else if c == '>' {
			sc.index++
			break
		}
		if sc.err == nil {
			sc.err = fmt.Errorf("invalid syntax in a VCF meta-information line: %v", sc.data)
		}
		break
	}
	if meta.ID == nil {
		if sc.err == nil {
			sc.err = fmt.Errorf("missing ID in a VCF meta-information line: %v", sc.data)
		}
	}
	return meta
}

// ParseFormatInformation parses VCF format information
func (sc *StringScanner) ParseFormatInformation() *FormatInformation {
	if sc.err != nil {
		return nil
	}
	if sc.data[sc.index] != '<' {
		sc.err = fmt.Errorf("missing open angle bracket in a VCF INFO/FORMAT meta-information line: %v", sc.data)
		return nil
	}
	sc.index++
	format := NewFormatInformation()
	for {
		key, value := sc.ParseMetaField()
		switch key {
		case idKey:
			if format.ID != nil {
				if sc.err == nil {
					sc.err = fmt.Errorf("multiple IDs in a VCF INFO/FORMAT meta-information line: %v", sc.data)
				}
			} else {
				format.ID = utils.Intern(value)
			}
		case descriptionKey:
			if format.Description != "" {
				if sc.err == nil {
					sc.err = fmt.Errorf("multiple Descriptions in a VCF INFO/FORMAT meta-information line: %v", sc.data)
				}
			} else {
				format.Description = value
			}
		case numberKey:
			if format.Number > InvalidNumber {
				if sc.err == nil {
					sc.err = fmt.Errorf("multiple Number entries in a VCF INFO/FORMAT meta-information line: %v", sc.data)
				}
			} else {
				switch value {
				case "a", "A":
					format.Number = NumberA
				case "r", "R":
					format.Number = NumberR
				case "g", "G":
					format.Number = NumberG
				case ".":
					format.Number = NumberDot
				default:
					n, err := strconv.ParseInt(value, 10, 32)
					if err != nil {
						if sc.err == nil {
							sc.err = err
						}
					} else {
						format.Number = int32(n)
					}
				}
			}
		case typeKey:
			if format.Type != InvalidType {
				if sc.err == nil {
					sc.err = fmt.Errorf("multiple types in a VCF INFO/FORMAT meta-information line: %v", sc.data)
				}
			} else {
				switch value {
				case "Integer":
					format.Type = Integer
				case "Float":
					format.Type = Float
				case "Flag":
					format.Type = Flag
				case "Character":
					format.Type = Character
				case "String":
					format.Type = String
				default:
					if sc.err == nil {
						sc.err = fmt.Errorf("unknown type in a VCF INFO/FORMAT meta-information line: %v", sc.data)
					}
				}
			}
		default:
			if !format.Fields.SetUniqueEntry(key, value) {
				if sc.err == nil {
					sc.err = fmt.Errorf("duplicate field key %v in a VCF meta-information line: %v", key, sc.data)
				}
			}
		}
		sc.SkipSpace()
		if c := sc.data[sc.index]; c == ',' {
			sc.index++
			continue
		} else if c == '>' {
			sc.index++
			break
		}
		if sc.err == nil {
			sc.err = fmt.Errorf("invalid syntax in a VCF INFO/FORMAT meta-information line: %v", sc.data)
		}
		break
	}
	if format.ID == nil {
		if sc.err == nil {
			sc.err = fmt.Errorf("missing ID in a VCF INFO/FORMAT meta-information line: %v", sc.data)
		}
	}
	if format.Number <= InvalidNumber {
		if sc.err == nil {
			sc.err = fmt.Errorf("missing number entry in a VCF INFO/FORMAT meta-information line: %v", sc.data)
		}
	}
	if format.Type == InvalidType {
		if sc.err == nil {
			sc.err = fmt.Errorf("missing type in a VCF INFO/FORMAT meta-information line: %v", sc.data)
		}
	}
	return format
}

func getLine(reader *bufio.Reader) (line string, err error) {
	line, err = reader.ReadString('\n')
	switch {
	case err == nil:
		line = line[:len(line)-1]
	case err == io.EOF:
		err = nil
	}
	return
}

func (sc *StringScanner) parseFilterInformation() (*MetaInformation, error) {
	meta, ok := sc.ParseMetaInformation().(*MetaInformation)
	if sc.err != nil {
		return nil, sc.err
	}
	if !ok {
		return nil, fmt.Errorf("unstructured FILTER or contig meta-information line: %v", sc.data)
	}
	return meta, nil
}

// ParseHeader parses a VCF header
func ParseHeader(reader *bufio.Reader) (hdr *Header, err error) {
	line, err := getLine(reader)
	if err != nil {
		return nil, err
	}
	if len(line) < len(fileFormatVersionLinePrefix) ||
		line[:len(fileFormatVersionLinePrefix)] != fileFormatVersionLinePrefix {
		return nil, errors.New("invalid first line in a VCF file")
	}
	hdr = NewHeader()
	hdr.FileFormat = line
	var sc StringScanner
	for {
		if data, e := reader.Peek(1); (e != nil) || (data[0] != '#') {
			return nil, errors.New("unexpected end of VCF header")
		}
		_, _ = reader.ReadByte()
		if data, e := reader.Peek(1); e != nil {
			return nil, errors.New("unexpected end of VCF header")
		} else if data[0] != '#' {
			break
		}
		_, _ = reader.ReadByte()
		line, err = getLine(reader)
		if err != nil {
			return nil, err
		}
		sc.Reset(line)
		key, found := sc.readUntilByte('=')
		if !found {
			return nil, errors.New("invalid syntax in a VCF header")
		}
		switch key {
		case "fileformat":
			return nil, errors.New("multiple file format meta-information lines in a VCF file")
		case "INFO":
			info := sc.ParseFormatInformation()
			if sc.err != nil {
				return nil, sc.err
			}
			hdr.Infos = append(hdr.Infos, info)
			hdr.DictionaryOrder = append(hdr.DictionaryOrder, info.ID)
		case "FORMAT":
			format := sc.ParseFormatInformation()
			if sc.err != nil {
				return nil, sc.err
			}
			hdr.Formats = append(hdr.Formats, format)
			hdr.DictionaryOrder = append(hdr.DictionaryOrder, format.ID)
		case "FILTER":
			filter, err := sc.parseFilterInformation()
			if err != nil {
				return nil, err
			}
			hdr.Filters = append(hdr.Filters, filter)
			hdr.DictionaryOrder = append(hdr.DictionaryOrder, filter.ID)
		case "contig":
			contig, err := sc.parseFilterInformation()
			if err != nil {
				return nil, err
			}
			hdr.Contigs = append(hdr.Contigs, contig)
		default:
			hdr.Meta[key] = append(hdr.Meta[key], sc.ParseMetaInformation())
			if sc.err != nil {
				return nil, sc.err
			}
		}
	}
	line, err = getLine(reader)
	if err != nil {
		return nil, err
	}
	hdr.Columns = nil
	sc.Reset(line)
	for sc.Len() > 0 {
		column, _ := sc.readUntilByte('\t')
		hdr.Columns = append(hdr.Columns, column)
	}
	if sc.err != nil {
		return nil, sc.err
	}
	return hdr, nil
}

// FormatString outputs a string to a VCF file, adding necessary double quotes and escapes
func FormatString(out io.ByteWriter, str string) error {
	_ = out.WriteByte('"')
	for i := 0; i < len(str); i++ {
		b := str[i]
		if b == '"' || b == '\\' {
			_ = out.WriteByte('\\')
		}
		_ = out.WriteByte(b)
	}
	return out.WriteByte('"')
}

func needsQuotes(s string) bool {
	for i := 0; i < len(s); i++ {
		if ch := s[i]; ch == '"' || ch == ' ' {
			return true
		}
	}
	return false
}

// FormatMetaInformation outputs VCF meta information, which can be just a string or *MetaInformation
func FormatMetaInformation(out *bufio.Writer, meta interface{}) error {
	switch m := meta.(type) {
	case string:
		_, _ = out.WriteString(m)
		return out.WriteByte('\n')
	case *MetaInformation:
		_, _ = out.WriteString("<ID=")
		_, _ = out.WriteString(*m.ID)
		for key, value := range m.Fields {
			_ = out.WriteByte(',')
			_, _ = out.WriteString(key)
			_ = out.WriteByte('=')
			if needsQuotes(value) {
				_ = FormatString(out, value)
			} else {
				_, _ = out.WriteString(value)
			}
		}
		if m.Description != "" {
			_, _ = out.WriteString(",Description=")
			_ = FormatString(out, m.Description)
		}
		_, err := out.WriteString(">\n")
		return err
	default:
		return errors.New("invalid MetaInformation type")
	}
}

// FormatFormatInformation outputs VCF info or format information
func FormatFormatInformation(out *bufio.Writer, format *FormatInformation, infoNotFormat bool) error {
	_, _ = out.WriteString("<ID=")
	_, _ = out.WriteString(*format.ID)
	_, _ = out.WriteString(",Number=")
	if format.Number >= 0 {
		_, _ = out.WriteString(strconv.FormatInt(int64(format.Number), 10))
	} else {
		switch format.Number {
		case NumberA:
			_ = out.WriteByte('A')
		case NumberR:
			_ = out.WriteByte('R')
		case NumberG:
			_ = out.WriteByte('G')
		case NumberDot:
			_ = out.WriteByte('.')
		default:
			return errors.New("unknown Number kind in a VCF meta-information line")
		}
	}
	_, _ = out.WriteString(",Type=")
	switch format.Type {
	case Integer:
		_, _ = out.WriteString("Integer")
	case Float:
		_, _ = out.WriteString("Float")
	case Flag:
		_, _ = out.WriteString("Flag")
	case Character:
		_, _ = out.WriteString("Character")
	case String:
		_, _ = out.WriteString("String")
	default:
		return errors.New("invalid Type in a VCF meta-information line")
	}
	for key, value := range format.Fields {
		_ = out.WriteByte(',')
		_, _ = out.WriteString(key)
		_ = out.WriteByte('=')
		if (infoNotFormat && (key == "Source" || key == "Version")) || needsQuotes(value) {
			_ = FormatString(out, value)
		} else {
			_, _ = out.WriteString(value)
		}
	}
	if format.Description != "" {
		_, _ = out.WriteString(",Description=")
		_ = FormatString(out, format.Description)
	}
	_, err := out.WriteString(">\n")
	return err
}

// Format outputs a VCF header
func (header *Header) Format(out *bufio.Writer) (err error) {
	_, _ = out.WriteString(header.FileFormat)
	_ = out.WriteByte('\n')
	for _, filter := range header.Filters {
		_, _ = out.WriteString("##FILTER=")
		_ = FormatMetaInformation(out, filter)
	}
	for _, info := range header.Infos {
		_, _ = out.WriteString("##INFO=")
		_ = FormatFormatInformation(out, info, true)
	}
	for _, format := range header.Formats {
		_, _ = out.WriteString("##FORMAT=")
		_ = FormatFormatInformation(out, format, false)
	}
	for _, contig := range header.Contigs {
		_, _ = out.WriteString("##contig=")
		_ = FormatMetaInformation(out, contig)
	}
	for key, metas := range header.Meta {
		for _, meta := range metas {
			_, _ = out.WriteString("##")
			_, _ = out.WriteString(key)
			_ = out.WriteByte('=')
			_ = FormatMetaInformation(out, meta)
		}
	}
	_ = out.WriteByte('#')
	if len(header.Columns) > 0 {
		_, _ = out.WriteString(header.Columns[0])
		for _, col := range header.Columns[1:] {
			_ = out.WriteByte('\t')
			_, _ = out.WriteString(col)
		}
	}
	return out.WriteByte('\n')
}

func formatStringList(out []byte, list []string, separator byte) []byte {
	if len(list) == 0 {
		return append(out, '.', '\t')
	}
	out = append(out, list[0]...)
	for _, entry := range list[1:] {
		out = append(out, separator)
		out = append(out, entry...)
	}
	return append(out, '\t')
}

func formatSymbolList(out []byte, list []utils.Symbol, separator byte) []byte {
	if len(list) == 0 {
		return append(out, '.')
	}
	out = append(out, (*list[0])...)
	for _, sym := range list[1:] {
		out = append(out, separator)
		out = append(out, (*sym)...)
	}
	return out
}

func formatValue(out []byte, value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case int:
		return strconv.AppendInt(out, int64(v), 10), nil
	case float64:
		return strconv.AppendFloat(out, v, 'f', -1, 64), nil
	case rune:
		if v < utf8.RuneSelf {
			return append(out, byte(v)), nil
		}
		pos := len(out)
		out = append(out, '1', '2', '3', '4', '5', '6')
		buf := out[pos:]
		return out[:pos+utf8.EncodeRune(buf, v)], nil
	case string:
		return append(out, v...), nil
	default:
		return nil, errors.New("invalid value type")
	}
}

func formatInfoEntry(out []byte, entry utils.SmallMapEntry) ([]byte, error) {
	out = append(out, (*entry.Key)...)
	switch e := entry.Value.(type) {
	case bool:
		if !e {
			return nil, errors.New("unexpected boolean value")
		}
		return out, nil
	case []interface{}:
		out = append(out, '=')
		if len(e) == 0 {
			return out, nil
		}
		var err error
		out, err = formatValue(out, e[0])
		if err != nil {
			return nil, err
		}
		for _, v := range e[1:] {
			out = append(out, ',')
			out, err = formatValue(out, v)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		out = append(out, '=')
		return formatValue(out, entry.Value)
	}
}

func formatInfo(out []byte, info utils.SmallMap) ([]byte, error) {
	if len(info) == 0 {
		return append(out, '.'), nil
	}
	var err error
	out, err = formatInfoEntry(out, info[0])
	if err != nil {
		return nil, err
	}
	for _, entry := range info[1:] {
		out = append(out, ';')
		out, err = formatInfoEntry(out, entry)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func formatGT(out []byte, gt *Genotype) []byte {
	if len(gt.GT) == 0 {
		return append(out, '.')
	}
	separator := byte('/')
	if gt.Phased {
		separator = '|'
	}
	for i, allele := range gt.GT {
		if i > 0 {
			out = append(out, separator)
		}
		if allele < 0 {
			out = append(out, '.')
		} else {
			out = strconv.AppendInt(out, int64(allele), 10)
		}
	}
	return out
}

func formatInt32List(out []byte, list []int32) []byte {
	out = strconv.AppendInt(out, int64(list[0]), 10)
	for _, value := range list[1:] {
		out = append(out, ',')
		out = strconv.AppendInt(out, int64(value), 10)
	}
	return out
}

func formatGenotypeDataEntry(out []byte, format utils.Symbol, data utils.SmallMap) ([]byte, bool, error) {
	switch value, _ := data.Get(format); val := value.(type) {
	case nil:
		return append(out, '.'), false, nil
	case []interface{}:
		if len(val) == 0 {
			return out, true, nil
		}
		var err error
		if val[0] == nil {
			out = append(out, '.')
		} else {
			out, err = formatValue(out, val[0])
			if err != nil {
				return nil, false, err
			}
		}
		for _, v := range val[1:] {
			out = append(out, ',')
			if v == nil {
				out = append(out, '.')
			} else {
				out, err = formatValue(out, v)
				if err != nil {
					return nil, false, err
				}
			}
		}
		return out, true, nil
	default:
		var err error
		out, err = formatValue(out, value)
		if err != nil {
			return nil, false, err
		}
		return out, true, nil
	}
}

func formatGenotypeEntry(out []byte, format utils.Symbol, gt *Genotype) ([]byte, bool, error) {
	switch format {
	case GT:
		return formatGT(out, gt), len(gt.GT) > 0, nil
	case DP:
		if gt.DP < 0 {
			return append(out, '.'), false, nil
		}
		return strconv.AppendInt(out, int64(gt.DP), 10), true, nil
	case GQ:
		if gt.GQ < 0 {
			return append(out, '.'), false, nil
		}
		return strconv.AppendInt(out, int64(gt.GQ), 10), true, nil
	case AD:
		if len(gt.AD) == 0 {
			return append(out, '.'), false, nil
		}
		return formatInt32List(out, gt.AD), true, nil
	case PL:
		if len(gt.PL) == 0 {
			return append(out, '.'), false, nil
		}
		return formatInt32List(out, gt.PL), true, nil
	case FT:
		if gt.Filter == "" {
			return append(out, '.'), false, nil
		}
		return append(out, gt.Filter...), true, nil
	default:
		return formatGenotypeDataEntry(out, format, gt.Data)
	}
}

func formatGenotype(out []byte, format []utils.Symbol, gt *Genotype) ([]byte, error) {
	if len(format) == 0 {
		return out, nil
	}
	pos := len(out)
	out, ok, err := formatGenotypeEntry(out, format[0], gt)
	if err != nil {
		return nil, err
	}
	if ok {
		pos = len(out)
	}
	for _, f := range format[1:] {
		out = append(out, ':')
		out, ok, err = formatGenotypeEntry(out, f, gt)
		if err != nil {
			return nil, err
		}
		if ok {
			pos = len(out)
		}
	}
	if format[len(format)-1] == GT {
		return out, nil
	}
	return out[:pos], nil
}

// Format outputs a VCF variant line
func (variant *Variant) Format(out []byte) ([]byte, error) {
	format, data := variant.Genotypes()
	out = append(append(out, variant.Chrom...), '\t')
	if variant.Pos < 0 {
		out = append(out, '.', '\t')
	} else {
		out = append(strconv.AppendInt(out, int64(variant.Pos), 10), '\t')
	}
	out = formatStringList(out, variant.ID, ';')
	out = append(append(out, variant.Ref...), '\t')
	out = formatStringList(out, variant.Alt, ',')
	if value, ok := variant.Qual.(float64); ok {
		out = append(strconv.AppendFloat(out, value, 'f', -1, 64), '\t')
	} else {
		out = append(out, '.', '\t')
	}
	if len(variant.Filter) == 0 {
		out = append(out, '.', '\t')
	} else {
		out = append(formatSymbolList(out, variant.Filter, ';'), '\t')
	}
	var err error
	out, err = formatInfo(out, variant.Info)
	if err != nil {
		return nil, err
	}
	if len(format) > 0 {
		out = append(out, '\t')
		out = formatSymbolList(out, format, ':')
		for i := range data {
			out = append(out, '\t')
			out, err = formatGenotype(out, format, &data[i])
			if err != nil {
				return nil, err
			}
		}
	}
	return append(out, '\n'), nil
}

// Format outputs a full VCF struct
func (vcf *Vcf) Format(out *bufio.Writer) error {
	if err := vcf.Header.Format(out); err != nil {
		return err
	}
	var buf []byte
	var err error
	for i := range vcf.Variants {
		if buf, err = vcf.Variants[i].Format(buf); err != nil {
			return err
		}
		if _, err = out.Write(buf); err != nil {
			return err
		}
		buf = buf[:0]
	}
	return nil
}

// The possible file extensions for VCF and BCF files.
const (
	VcfExt = ".vcf"
	BcfExt = ".bcf"
)

// OutputFile represents a text VCF file for output.
type OutputFile struct {
	wc io.WriteCloser
	*bufio.Writer
}

// Create a text VCF file for output.
//
// If the name is "/dev/stdout", then the output is written to
// os.Stdout.
func Create(name string) *OutputFile {
	if name == "/dev/stdout" {
		return &OutputFile{os.Stdout, bufio.NewWriter(os.Stdout)}
	}
	file := internal.FileCreate(name)
	return &OutputFile{file, bufio.NewWriter(file)}
}

// Close the VCF output file.
func (output *OutputFile) Close() {
	if err := output.Flush(); err != nil {
		log.Panic(err)
	}
	if output.wc != os.Stdout {
		internal.Close(output.wc)
	}
}
