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
	"strings"
	"testing"

	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
)

func TestProcMapsRendersOneLinePerVMAWithPermissions(t *testing.T) {
	as, _ := newTestAddressSpace(t, 4)
	rng, err := as.Mmap(nil, kaddr.PageSize, ProtRead|ProtWrite, BackingAnonymous, SharingPrivate)
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}

	lines := as.ProcMaps()
	if len(lines) != 1 {
		t.Fatalf("ProcMaps returned %d lines, want 1", len(lines))
	}
	if !strings.Contains(lines[0], "rw-p") {
		t.Fatalf("ProcMaps line %q missing expected rw-p permission field", lines[0])
	}
	if !strings.Contains(lines[0], "[anon]") {
		t.Fatalf("ProcMaps line %q missing [anon] backing tag", lines[0])
	}
	if !rng.Start.IsPageAligned() {
		t.Fatalf("test setup: expected page-aligned range")
	}
}

func TestProcMapsReadOnlyVMAOmitsWritePermission(t *testing.T) {
	as, _ := newTestAddressSpace(t, 4)
	if _, err := as.Mmap(nil, kaddr.PageSize, ProtRead, BackingAnonymous, SharingPrivate); err != nil {
		t.Fatalf("Mmap: %v", err)
	}

	lines := as.ProcMaps()
	if len(lines) != 1 || !strings.Contains(lines[0], "r--p") {
		t.Fatalf("ProcMaps lines = %v, want a single r--p entry", lines)
	}
}

func TestResidentFramesCountsOnlyMappedPages(t *testing.T) {
	as, _ := newTestAddressSpace(t, 4)
	rng, err := as.Mmap(nil, 2*kaddr.PageSize, ProtRead|ProtWrite, BackingAnonymous, SharingPrivate)
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	if got := as.ResidentFrames(); got != 0 {
		t.Fatalf("ResidentFrames before any page fault = %d, want 0", got)
	}

	if _, err := as.CopyToUser(rng.Start, []byte("x")); err != nil {
		t.Fatalf("CopyToUser: %v", err)
	}
	if got := as.ResidentFrames(); got != 1 {
		t.Fatalf("ResidentFrames after touching one of two pages = %d, want 1", got)
	}
}
