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

	"github.com/google/subcommands"
)

// inspectCmd implements subcommands.Command for "inspect": prints a boot
// image's decoded contents, for verifying what `build` produced before
// handing it to an emulator.
type inspectCmd struct {
	path string
}

func (*inspectCmd) Name() string     { return "inspect" }
func (*inspectCmd) Synopsis() string { return "print a boot image's memory map and command line" }
func (*inspectCmd) Usage() string    { return "inspect -path=<image>\n" }

func (i *inspectCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&i.path, "path", "image.moss", "boot image to inspect")
}

func (i *inspectCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	raw, err := os.ReadFile(i.path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkimage inspect: %v\n", err)
		return subcommands.ExitFailure
	}
	img, err := Decode(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkimage inspect: %v\n", err)
		return subcommands.ExitFailure
	}

	fmt.Printf("cmdline: %q\n", img.CmdLine)
	fmt.Printf("initrd: %d byte(s)\n", len(img.Initrd))
	fmt.Printf("memory map (%d region(s)):\n", len(img.MemoryMap))
	for _, m := range img.MemoryMap {
		fmt.Printf("  [%#x, %#x) available=%v\n", m.Start, m.Start+m.Length, m.Available)
	}
	return subcommands.ExitSuccess
}
