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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hexagonal-sun/moss-kernel/arch"
	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
)

// magic identifies a mkimage-produced boot image file.
const magic = uint32(0x4d4f5353) // "MOSS"

// Image is the host-tool-side representation of everything boot.Bringup
// needs from a bootloader: a memory map, a command line, and an
// initrd blob. It exists only so a developer can assemble those three
// things once with `mkimage build` and hand them to a HAL's Boot(info,
// ...) call, or to a test harness building an arch.BootInfo, without
// hand-writing the byte layout each time (spec.md §6's "Initrd format: ...
// page-aligned length, handed to the core as base+length").
type Image struct {
	CmdLine  string
	MemoryMap []arch.MemoryRegion
	Initrd   []byte
}

// Encode serializes img into mkimage's boot-image format: a small header
// (cmdline, memory map entries) followed by the initrd padded to a page
// boundary, matching the page-alignment spec.md §6 requires of the initrd.
func (img *Image) Encode() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, magic)

	cmdBytes := []byte(img.CmdLine)
	binary.Write(&buf, binary.LittleEndian, uint32(len(cmdBytes)))
	buf.Write(cmdBytes)

	binary.Write(&buf, binary.LittleEndian, uint32(len(img.MemoryMap)))
	for _, m := range img.MemoryMap {
		binary.Write(&buf, binary.LittleEndian, m.Start)
		binary.Write(&buf, binary.LittleEndian, m.Length)
		avail := uint8(0)
		if m.Available {
			avail = 1
		}
		buf.WriteByte(avail)
	}

	padded := padToPage(img.Initrd)
	binary.Write(&buf, binary.LittleEndian, uint64(len(padded)))
	buf.Write(padded)

	return buf.Bytes()
}

// Decode parses bytes produced by Encode.
func Decode(b []byte) (*Image, error) {
	r := bytes.NewReader(b)
	var got uint32
	if err := binary.Read(r, binary.LittleEndian, &got); err != nil {
		return nil, fmt.Errorf("mkimage: reading magic: %w", err)
	}
	if got != magic {
		return nil, fmt.Errorf("mkimage: bad magic %#x, want %#x", got, magic)
	}

	var cmdLen uint32
	if err := binary.Read(r, binary.LittleEndian, &cmdLen); err != nil {
		return nil, fmt.Errorf("mkimage: reading cmdline length: %w", err)
	}
	cmdBytes := make([]byte, cmdLen)
	if _, err := r.Read(cmdBytes); err != nil {
		return nil, fmt.Errorf("mkimage: reading cmdline: %w", err)
	}

	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("mkimage: reading memory map length: %w", err)
	}
	memMap := make([]arch.MemoryRegion, n)
	for i := range memMap {
		if err := binary.Read(r, binary.LittleEndian, &memMap[i].Start); err != nil {
			return nil, fmt.Errorf("mkimage: reading region %d start: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &memMap[i].Length); err != nil {
			return nil, fmt.Errorf("mkimage: reading region %d length: %w", i, err)
		}
		avail, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("mkimage: reading region %d availability: %w", i, err)
		}
		memMap[i].Available = avail != 0
	}

	var initrdLen uint64
	if err := binary.Read(r, binary.LittleEndian, &initrdLen); err != nil {
		return nil, fmt.Errorf("mkimage: reading initrd length: %w", err)
	}
	initrd := make([]byte, initrdLen)
	if _, err := io.ReadFull(r, initrd); err != nil {
		return nil, fmt.Errorf("mkimage: reading initrd: %w", err)
	}

	return &Image{CmdLine: string(cmdBytes), MemoryMap: memMap, Initrd: initrd}, nil
}

func padToPage(b []byte) []byte {
	rem := len(b) % kaddr.PageSize
	if rem == 0 {
		return b
	}
	return append(b, make([]byte, kaddr.PageSize-rem)...)
}
