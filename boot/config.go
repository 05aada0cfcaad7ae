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

// Package boot orchestrates the sequence spec.md §2's data-flow paragraph
// and §4 item 9 describe: decode the bootloader-supplied memory map and
// command line, bring up the HAL, physical/virtual memory managers, slab
// allocator, scheduler, and syscall dispatcher, load /bin/init, and enter
// user mode. It corresponds to gvisor's runsc/boot package (Config,
// sequential subsystem bring-up in loader.go's New), generalized from
// runsc's OCI-container bring-up to this spec's from-scratch kernel boot.
package boot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hexagonal-sun/moss-kernel/kernel/syserr"
)

// Rootfs names the filesystem driver the boot command line selects for the
// root mount (spec.md §6's --rootfs grammar). The VFS/filesystem drivers
// themselves are out of scope (spec.md §1); Config only records the
// selection for the external mount collaborator.
type Rootfs string

const (
	RootfsExt4 Rootfs = "ext4fs"
	RootfsFAT32 Rootfs = "fat32fs"
	RootfsTmpfs Rootfs = "tmpfs"
)

// Automount is one repeatable --automount=<mountpoint>,<fstype> entry.
type Automount struct {
	Mountpoint string
	FSType     string
}

// Config is the boot-time configuration decoded from the kernel command
// line grammar of spec.md §6: whitespace-separated --key=value or --flag
// tokens. It plays the role gvisor's runsc/config.Config plays for a
// container sandbox, hand-parsed the same way (see DESIGN.md for why no
// third-party flag library fits a bootloader-supplied string rather than
// os.Args).
type Config struct {
	Init     string
	InitArgs []string
	Rootfs   Rootfs
	Automounts []Automount

	// DebugStop freezes the first task before it enters user mode,
	// grounded on gvisor's pkg/sentry/kernel/ptrace_amd64.go single-step
	// hook (SPEC_FULL.md §4.11); used by the property-test harness.
	DebugStop bool

	// NumCPU overrides the CPU count the scheduler and HAL bring up.
	// Not part of spec.md's own CLI grammar; a testing/tuning knob.
	NumCPU int
}

// DefaultConfig returns the configuration in effect when the command line
// supplies no recognized flags, matching spec.md §6: "--init=<path> ...
// default /bin/init".
func DefaultConfig() *Config {
	return &Config{
		Init:   "/bin/init",
		Rootfs: RootfsTmpfs,
		NumCPU: 1,
	}
}

// ParseCmdLine tokenizes and interprets the bootloader command line per
// spec.md §6's grammar. Unrecognized flags are rejected with Invalid
// rather than silently ignored, since a bootloader command line is
// authored by the image builder and a typo there should not boot with
// unintended defaults.
func ParseCmdLine(cmdline string) (*Config, error) {
	cfg := DefaultConfig()
	for _, tok := range strings.Fields(cmdline) {
		if err := applyToken(cfg, tok); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func applyToken(cfg *Config, tok string) error {
	if !strings.HasPrefix(tok, "--") {
		return syserr.New(syserr.KindInvalid, fmt.Sprintf("boot: malformed command-line token %q, want --flag or --key=value", tok))
	}
	body := tok[2:]
	key, value, hasValue := strings.Cut(body, "=")

	switch key {
	case "init":
		if !hasValue || value == "" {
			return syserr.New(syserr.KindInvalid, "boot: --init requires a path")
		}
		cfg.Init = value
	case "init-arg":
		if !hasValue {
			return syserr.New(syserr.KindInvalid, "boot: --init-arg requires a value")
		}
		cfg.InitArgs = append(cfg.InitArgs, value)
	case "rootfs":
		switch Rootfs(value) {
		case RootfsExt4, RootfsFAT32, RootfsTmpfs:
			cfg.Rootfs = Rootfs(value)
		default:
			return syserr.New(syserr.KindInvalid, fmt.Sprintf("boot: unrecognized --rootfs=%q", value))
		}
	case "automount":
		mnt, fstype, ok := strings.Cut(value, ",")
		if !ok || mnt == "" || fstype == "" {
			return syserr.New(syserr.KindInvalid, fmt.Sprintf("boot: malformed --automount=%q, want <mountpoint>,<fstype>", value))
		}
		cfg.Automounts = append(cfg.Automounts, Automount{Mountpoint: mnt, FSType: fstype})
	case "debug-stop":
		cfg.DebugStop = true
	case "num-cpu":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return syserr.New(syserr.KindInvalid, fmt.Sprintf("boot: invalid --num-cpu=%q", value))
		}
		cfg.NumCPU = n
	default:
		return syserr.New(syserr.KindInvalid, fmt.Sprintf("boot: unrecognized flag --%s", key))
	}
	return nil
}
