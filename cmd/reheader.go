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
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/exascience/elbcf/bcf"
	"github.com/exascience/elbcf/internal"
	"github.com/exascience/elbcf/vcf"
	"github.com/google/uuid"
)

// ReheaderHelp is the help string for this command.
const ReheaderHelp = "reheader parameters:\n" +
	"elbcf reheader bcf-file header-file output-file\n" +
	"[--log-path path]\n" +
	"[--timed]\n" +
	"[--profile file]\n"

func readHeader(name string) *vcf.Header {
	file := internal.FileOpen(name)
	defer internal.Close(file)
	hdr, err := vcf.ParseHeader(bufio.NewReader(file))
	if err != nil {
		log.Panic(err)
	}
	return hdr
}

// Reheader implements the elbcf reheader command. The records of the
// input file are re-encoded against the dictionaries of the
// replacement header, so records that refer to contigs or fields the
// new header does not declare are rejected.
func Reheader() {
	var (
		logPath, profile string
		timed            bool
	)

	var flags flag.FlagSet
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")
	flags.BoolVar(&timed, "timed", false, "measure the runtime")
	flags.StringVar(&profile, "profile", "", "write a runtime profile to the specified file")
	parseFlags(flags, 5, ReheaderHelp)

	input := getFilename(os.Args[2], ReheaderHelp)
	headerFile := getFilename(os.Args[3], ReheaderHelp)
	output := getFilename(os.Args[4], ReheaderHelp)

	sanityChecksFailed := !checkExist("", input)
	if !checkExist("", headerFile) {
		sanityChecksFailed = true
	}
	if !checkCreate("", output) {
		sanityChecksFailed = true
	}
	if sanityChecksFailed {
		fmt.Fprint(os.Stderr, ReheaderHelp)
		os.Exit(1)
	}

	setLogOutput(logPath)

	timedRun(timed, profile, "Reheadering "+input+" to "+output+".", 1, func() {
		hdr := readHeader(headerFile)
		reader := bcf.Open(input)
		defer reader.Close()
		tmp := filepath.Join(filepath.Dir(output), uuid.New().String()+vcf.BcfExt)
		writer := bcf.Create(tmp, hdr, reader.Minor)
		for {
			variant := reader.ReadVariant()
			if variant == nil {
				break
			}
			writer.WriteVariant(variant)
		}
		writer.Close()
		internal.FileRename(tmp, output)
	})
}
