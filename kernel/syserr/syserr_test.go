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

package syserr

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestToLinux(t *testing.T) {
	if got, want := ErrFault.ToLinux(), -int64(unix.EFAULT); got != want {
		t.Errorf("ErrFault.ToLinux() = %d, want %d", got, want)
	}
	if got, want := ErrNoMemory.ToLinux(), -int64(unix.ENOMEM); got != want {
		t.Errorf("ErrNoMemory.ToLinux() = %d, want %d", got, want)
	}
}

func TestNewCarriesDebugString(t *testing.T) {
	e := New(KindInvalid, "bad length")
	if e.Errno() != unix.EINVAL {
		t.Errorf("Errno() = %v, want EINVAL", e.Errno())
	}
	if got := e.Error(); got == "" {
		t.Error("expected non-empty error string")
	}
}
