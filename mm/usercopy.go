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
	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
	"github.com/hexagonal-sun/moss-kernel/kernel/syserr"
	"github.com/hexagonal-sun/moss-kernel/pmm"
)

// CopyFromUser copies len(dst) bytes from the user range starting at src
// into dst. A fault on the user side (unmapped hole, permission
// violation) is reported as syserr.ErrFault rather than propagating a raw
// panic, matching spec.md §4.4's "recovery scope" contract: on real
// hardware this is implemented by consulting a table mapping the faulting
// instruction's address to a recovery address (spec.md's "Implementation
// hint"); here, because there is no real trap to recover from, the
// equivalent check (walk the VMA/page-table state under the same lock a
// hardware fault handler would take) is performed directly.
func (as *AddressSpace) CopyFromUser(dst []byte, src kaddr.UserVirtual) (int, error) {
	return as.copyUser(dst, src, false)
}

// CopyToUser is the mirror of CopyFromUser: it writes len(src) bytes from
// src into the user range starting at dst.
func (as *AddressSpace) CopyToUser(dst kaddr.UserVirtual, src []byte) (int, error) {
	return as.copyUser(src, dst, true)
}

// copyUser implements both directions: buf is always the kernel-side
// slice, addr is always the user-side address, and toUser selects the
// direction of the copy.
func (as *AddressSpace) copyUser(buf []byte, addr kaddr.UserVirtual, toUser bool) (int, error) {
	remaining := buf
	cur := addr
	copied := 0
	for len(remaining) > 0 {
		page := cur.RoundDown()
		off := int(cur - page)
		n := kaddr.PageSize - off
		if n > len(remaining) {
			n = len(remaining)
		}

		at := AccessType{Read: !toUser, Write: toUser}
		frame, prot, mapped, faultErr := as.ensureMappedForCopy(page, at)
		if faultErr != nil {
			return copied, faultErr
		}
		if !mapped || !prot.SupersetOf(at.asProt()) {
			return copied, syserr.New(syserr.KindFault, "mm: user copy faulted")
		}

		frameBytes := as.Memory.Frame(frame)
		if toUser {
			copy(frameBytes[off:off+n], remaining[:n])
		} else {
			copy(remaining[:n], frameBytes[off:off+n])
		}

		remaining = remaining[n:]
		cur += kaddr.UserVirtual(n)
		copied += n
	}
	return copied, nil
}

// ensureMappedForCopy resolves the page containing addr against the fault
// policy, so that a copy into a not-yet-demand-paged anonymous VMA
// succeeds without the caller needing to fault it in first, exactly as a
// real page fault taken during a copy_to/from_user would.
func (as *AddressSpace) ensureMappedForCopy(page kaddr.UserVirtual, at AccessType) (frame pmm.Frame, prot Prot, ok bool, err error) {
	if f, p, mapped := as.PT.Translate(page); mapped && p.SupersetOf(at.asProt()) {
		return f, p, true, nil
	}
	res, ferr := as.HandleFault(page, at)
	if ferr != nil {
		return 0, 0, false, ferr
	}
	if res.Kind != FaultResolved {
		return 0, 0, false, syserr.New(syserr.KindFault, "mm: user copy address unmapped")
	}
	f, p, mapped := as.PT.Translate(page)
	return f, p, mapped, nil
}
