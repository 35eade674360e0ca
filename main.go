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

// elBCF is a native reader/writer for BCF2 variant call files,
// supporting both minor versions 1 and 2 of the format.
//
// Please see https://github.com/exascience/elbcf for a documentation
// of the tool, and below (and/or
// https://godoc.org/github.com/ExaScience/elbcf) for the API
// documentation.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/exascience/elbcf/cmd"
)

func printHelp() {
	fmt.Fprintln(os.Stderr, "Available commands: view, reheader")
	fmt.Fprint(os.Stderr, "\n", cmd.ViewHelp)
	fmt.Fprint(os.Stderr, "\n", cmd.ReheaderHelp)
}

func main() {
	fmt.Fprintln(os.Stderr, cmd.ProgramMessage)
	if len(os.Args) < 2 {
		log.Println("Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, cmd.HelpMessage)
		printHelp()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "view":
		cmd.View()
	case "reheader":
		cmd.Reheader()
	case "help", "-help", "--help", "-h", "--h":
		printHelp()
	default:
		log.Println("Unknown command:", os.Args[1])
		printHelp()
		os.Exit(1)
	}
}
