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

// Package syserr defines the kernel core's error taxonomy (spec §7) and its
// mapping onto Linux errno values returned across the syscall ABI.
package syserr

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind is one entry of the taxonomy from spec.md §7.
type Kind int

const (
	KindNoMemory Kind = iota
	KindInvalid
	KindNotFound
	KindExists
	KindPermissionDenied
	KindBusy
	KindWouldBlock
	KindInterrupted
	KindNotSupported
	KindFault
	KindIoError
	KindRange
)

// Error is a kernel-internal error carrying enough information to be mapped
// onto a negative errno at the syscall ABI boundary, plus an optional debug
// string that never crosses that boundary.
type Error struct {
	Kind  Kind
	errno unix.Errno
	debug string
}

func (e *Error) Error() string {
	if e.debug != "" {
		return fmt.Sprintf("%s: %s", e.errno, e.debug)
	}
	return e.errno.Error()
}

// Errno returns the Linux errno this Error maps to.
func (e *Error) Errno() unix.Errno { return e.errno }

// ToLinux returns the value a syscall handler should place in the ABI
// return register: the negated errno.
func (e *Error) ToLinux() int64 { return -int64(e.errno) }

// New constructs an Error with an attached debug string, not exposed across
// the ABI boundary but useful in klog output and panics.
func New(kind Kind, debug string) *Error {
	return &Error{Kind: kind, errno: errnoOf(kind), debug: debug}
}

func errnoOf(k Kind) unix.Errno {
	switch k {
	case KindNoMemory:
		return unix.ENOMEM
	case KindInvalid:
		return unix.EINVAL
	case KindNotFound:
		return unix.ENOENT
	case KindExists:
		return unix.EEXIST
	case KindPermissionDenied:
		return unix.EACCES
	case KindBusy:
		return unix.EBUSY
	case KindWouldBlock:
		return unix.EAGAIN
	case KindInterrupted:
		return unix.EINTR
	case KindNotSupported:
		return unix.ENOSYS
	case KindFault:
		return unix.EFAULT
	case KindIoError:
		return unix.EIO
	case KindRange:
		return unix.ERANGE
	default:
		return unix.EINVAL
	}
}

// Sentinel errors, one per taxonomy entry, matching gvisor's pkg/syserr
// convention of package-level vars for the common cases.
var (
	ErrNoMemory         = New(KindNoMemory, "")
	ErrInvalid          = New(KindInvalid, "")
	ErrNotFound         = New(KindNotFound, "")
	ErrExists           = New(KindExists, "")
	ErrPermissionDenied = New(KindPermissionDenied, "")
	ErrBusy             = New(KindBusy, "")
	ErrWouldBlock       = New(KindWouldBlock, "")
	ErrInterrupted      = New(KindInterrupted, "")
	ErrNotSupported     = New(KindNotSupported, "")
	ErrFault            = New(KindFault, "")
	ErrIoError          = New(KindIoError, "")
	ErrRange            = New(KindRange, "")
)
