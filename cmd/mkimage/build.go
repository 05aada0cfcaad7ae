// Copyright 2024 The moss-kernel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/subcommands"

	"github.com/hexagonal-sun/moss-kernel/arch"
)

// buildCmd implements subcommands.Command for "build", following the
// Name/Synopsis/Usage/SetFlags/Execute shape of runsc/cmd's commands
// (e.g. runsc/cmd/wait.go).
type buildCmd struct {
	memmap  string
	initrd  string
	cmdline string
	out     string
}

func (*buildCmd) Name() string     { return "build" }
func (*buildCmd) Synopsis() string { return "assemble a boot image (memory map + initrd) for local testing under an emulator" }
func (*buildCmd) Usage() string {
	return `build -memmap=<start:len:avail,...> -initrd=<path> -cmdline=<string> -out=<path>

Assembles a mkimage boot image suitable for constructing an arch.BootInfo
in a development or property-test harness. Each -memmap entry is
start:length:avail, where avail is "1" for usable RAM and "0" for a
reserved region (spec.md §6's memory-map contract).
`
}

func (b *buildCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.memmap, "memmap", "", "comma-separated start:len:avail memory regions")
	f.StringVar(&b.initrd, "initrd", "", "path to the initrd image file")
	f.StringVar(&b.cmdline, "cmdline", "", "kernel command line to embed")
	f.StringVar(&b.out, "out", "image.moss", "output image path")
}

func (b *buildCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	regions, err := parseMemMap(b.memmap)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkimage build: %v\n", err)
		return subcommands.ExitFailure
	}

	var initrd []byte
	if b.initrd != "" {
		initrd, err = os.ReadFile(b.initrd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mkimage build: reading initrd: %v\n", err)
			return subcommands.ExitFailure
		}
	}

	img := &Image{CmdLine: b.cmdline, MemoryMap: regions, Initrd: initrd}
	if err := os.WriteFile(b.out, img.Encode(), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "mkimage build: writing %s: %v\n", b.out, err)
		return subcommands.ExitFailure
	}

	fmt.Printf("mkimage: wrote %s (%d region(s), %d initrd byte(s))\n", b.out, len(regions), len(initrd))
	return subcommands.ExitSuccess
}

func parseMemMap(spec string) ([]arch.MemoryRegion, error) {
	if spec == "" {
		return nil, fmt.Errorf("no -memmap given")
	}
	var out []arch.MemoryRegion
	for _, entry := range strings.Split(spec, ",") {
		fields := strings.Split(entry, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed -memmap entry %q, want start:len:avail", entry)
		}
		start, err := strconv.ParseUint(fields[0], 0, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed -memmap start %q: %w", fields[0], err)
		}
		length, err := strconv.ParseUint(fields[1], 0, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed -memmap length %q: %w", fields[1], err)
		}
		avail, err := strconv.ParseBool(fields[2])
		if err != nil {
			return nil, fmt.Errorf("malformed -memmap avail %q: %w", fields[2], err)
		}
		out = append(out, arch.MemoryRegion{Start: start, Length: length, Available: avail})
	}
	return out, nil
}
