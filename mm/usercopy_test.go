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

package mm

import (
	"bytes"
	"testing"

	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
)

func TestUserCopyRoundTrip(t *testing.T) {
	as, _ := newTestAddressSpace(t, 4)
	rng, err := as.Mmap(nil, 2*kaddr.PageSize, ProtRead|ProtWrite, BackingAnonymous, SharingPrivate)
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}

	want := bytes.Repeat([]byte("moss-kernel-usercopy-"), 200) // spans two pages
	if n, err := as.CopyToUser(rng.Start, want); err != nil || n != len(want) {
		t.Fatalf("CopyToUser: n=%d err=%v", n, err)
	}

	got := make([]byte, len(want))
	if n, err := as.CopyFromUser(got, rng.Start); err != nil || n != len(got) {
		t.Fatalf("CopyFromUser: n=%d err=%v", n, err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, want)
	}
}

func TestUserCopyDemandPagesOnFirstWrite(t *testing.T) {
	as, _ := newTestAddressSpace(t, 4)
	rng, err := as.Mmap(nil, kaddr.PageSize, ProtRead|ProtWrite, BackingAnonymous, SharingPrivate)
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	if _, _, mapped := as.PT.Translate(rng.Start); mapped {
		t.Fatal("page unexpectedly pre-mapped")
	}

	msg := []byte("hello")
	if n, err := as.CopyToUser(rng.Start, msg); err != nil || n != len(msg) {
		t.Fatalf("CopyToUser: n=%d err=%v", n, err)
	}
	if _, _, mapped := as.PT.Translate(rng.Start); !mapped {
		t.Fatal("page should be mapped after a copy_to_user demand-pages it")
	}
}

func TestUserCopyFaultsOnUnmappedHole(t *testing.T) {
	as, _ := newTestAddressSpace(t, 4)
	buf := make([]byte, 8)
	if _, err := as.CopyFromUser(buf, kaddr.UserVirtual(0x1234_0000)); err == nil {
		t.Fatal("expected an error copying from an address outside any VMA")
	}
}

func TestUserCopyFaultsOnPermissionViolation(t *testing.T) {
	as, _ := newTestAddressSpace(t, 4)
	rng, err := as.Mmap(nil, kaddr.PageSize, ProtRead, BackingAnonymous, SharingPrivate)
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	if _, err := as.CopyToUser(rng.Start, []byte("no")); err == nil {
		t.Fatal("expected an error writing into a read-only VMA")
	}
}
