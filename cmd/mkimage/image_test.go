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
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hexagonal-sun/moss-kernel/arch"
)

func TestImageRoundTrip(t *testing.T) {
	want := &Image{
		CmdLine: "--init=/bin/init --rootfs=tmpfs",
		MemoryMap: []arch.MemoryRegion{
			{Start: 0, Length: 0x9fc00, Available: true},
			{Start: 0x9fc00, Length: 0x400, Available: false},
		},
		Initrd: []byte("hello initrd"),
	}

	got, err := Decode(want.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	// Initrd is padded to a page boundary by Encode; compare only the
	// prefix that was actually written, and check the padding separately.
	initrd := got.Initrd
	got.Initrd = initrd[:len(want.Initrd)]
	for _, b := range initrd[len(want.Initrd):] {
		if b != 0 {
			t.Fatalf("initrd padding byte = %d, want 0", b)
		}
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMemMap(t *testing.T) {
	regions, err := parseMemMap("0:0x1000:true,0x1000:0x2000:false")
	if err != nil {
		t.Fatalf("parseMemMap: %v", err)
	}
	want := []arch.MemoryRegion{
		{Start: 0, Length: 0x1000, Available: true},
		{Start: 0x1000, Length: 0x2000, Available: false},
	}
	if diff := cmp.Diff(want, regions); diff != "" {
		t.Fatalf("parseMemMap mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMemMapRejectsMalformed(t *testing.T) {
	if _, err := parseMemMap("not-a-region"); err == nil {
		t.Fatal("expected an error for a malformed -memmap entry")
	}
}
