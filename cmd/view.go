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

package cmd

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/exascience/elbcf/bcf"
	"github.com/exascience/elbcf/internal"
	"github.com/exascience/elbcf/vcf"
	"github.com/exascience/pargo/pipeline"
)

// ViewHelp is the help string for this command.
const ViewHelp = "view parameters:\n" +
	"elbcf view bcf-file output-file\n" +
	"[--output-format vcf | bcf]\n" +
	"[--minor-version 1 | 2]\n" +
	"[--header-only]\n" +
	"[--nr-of-threads number]\n" +
	"[--log-path path]\n" +
	"[--timed]\n" +
	"[--profile file]\n"

func parseStage(reader *bcf.Reader) pipeline.Node {
	return pipeline.StrictOrd(pipeline.Receive(func(_ int, data interface{}) interface{} {
		records := data.([][]byte)
		variants := make([]*vcf.Variant, len(records))
		for i, record := range records {
			variants[i] = reader.ParseVariant(record)
		}
		return variants
	}))
}

func viewHeader(reader *bcf.Reader, output string) {
	out := vcf.Create(output)
	defer out.Close()
	if err := reader.Header.Format(out.Writer); err != nil {
		log.Panic(err)
	}
}

func viewVcf(reader *bcf.Reader, output string) {
	out := vcf.Create(output)
	defer out.Close()
	if err := reader.Header.Format(out.Writer); err != nil {
		log.Panic(err)
	}
	var p pipeline.Pipeline
	p.Source(reader)
	p.Add(
		parseStage(reader),
		pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
			variants := data.([]*vcf.Variant)
			var buf []byte
			var err error
			for _, variant := range variants {
				if buf, err = variant.Format(buf); err != nil {
					log.Panic(err)
				}
			}
			return buf
		})),
		pipeline.StrictOrd(pipeline.Receive(func(_ int, data interface{}) interface{} {
			if _, err := out.Write(data.([]byte)); err != nil {
				log.Panic(err)
			}
			return nil
		})),
	)
	internal.RunPipeline(&p)
}

func viewBcf(reader *bcf.Reader, output string, minor byte) {
	writer := bcf.Create(output, reader.Header, minor)
	defer writer.Close()
	var p pipeline.Pipeline
	p.Source(reader)
	p.Add(
		parseStage(reader),
		pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
			variants := data.([]*vcf.Variant)
			var buf []byte
			for _, variant := range variants {
				buf = writer.FormatVariant(variant, buf)
			}
			return buf
		})),
		pipeline.StrictOrd(pipeline.Receive(func(_ int, data interface{}) interface{} {
			writer.Write(data.([]byte))
			return nil
		})),
	)
	internal.RunPipeline(&p)
}

// View implements the elbcf view command.
func View() {
	var (
		outputFormat     string
		minorVersion     int
		headerOnly       bool
		nrOfThreads      int
		logPath, profile string
		timed            bool
	)

	var flags flag.FlagSet
	flags.StringVar(&outputFormat, "output-format", "", "vcf or bcf")
	flags.IntVar(&minorVersion, "minor-version", 0, "BCF2 minor version for BCF output")
	flags.BoolVar(&headerOnly, "header-only", false, "write only the header, as VCF text")
	flags.IntVar(&nrOfThreads, "nr-of-threads", 0, "number of worker threads")
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")
	flags.BoolVar(&timed, "timed", false, "measure the runtime")
	flags.StringVar(&profile, "profile", "", "write a runtime profile to the specified file")
	parseFlags(flags, 4, ViewHelp)

	input := getFilename(os.Args[2], ViewHelp)
	output := getFilename(os.Args[3], ViewHelp)

	sanityChecksFailed := !checkExist("", input)
	if !checkCreate("", output) {
		sanityChecksFailed = true
	}
	if !checkOutputFormat(outputFormat) {
		sanityChecksFailed = true
	}
	if minorVersion != 0 && minorVersion != 1 && minorVersion != 2 {
		log.Printf("Error: Invalid minor version %v.\n", minorVersion)
		sanityChecksFailed = true
	}
	if nrOfThreads < 0 {
		log.Println("Error: Invalid nr-of-threads: ", nrOfThreads)
		sanityChecksFailed = true
	}
	if sanityChecksFailed {
		fmt.Fprint(os.Stderr, ViewHelp)
		os.Exit(1)
	}

	if nrOfThreads > 0 {
		runtime.GOMAXPROCS(nrOfThreads)
	}
	setLogOutput(logPath)

	format := strings.ToLower(outputFormat)
	if format == "" {
		if filepath.Ext(output) == vcf.BcfExt {
			format = "bcf"
		} else {
			format = "vcf"
		}
	}

	fullInput, err := internal.FullPathname(input)
	if err != nil {
		log.Panic(err)
	}
	fullOutput, err := internal.FullPathname(output)
	if err != nil {
		log.Panic(err)
	}

	timedRun(timed, profile, "Converting "+fullInput+" to "+fullOutput+".", 1, func() {
		reader := bcf.Open(input)
		defer reader.Close()
		if headerOnly {
			viewHeader(reader, output)
		} else if format == "bcf" {
			minor := reader.Minor
			if minorVersion != 0 {
				minor = byte(minorVersion)
			}
			viewBcf(reader, output, minor)
		} else {
			viewVcf(reader, output)
		}
	})
}
