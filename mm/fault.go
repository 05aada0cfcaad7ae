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

// FaultKind classifies the outcome of HandleFault so the caller (the
// syscall/trap layer) can decide between resuming the task, delivering
// SIGSEGV, or panicking (kernel-mode fault with no recovery site).
type FaultKind int

const (
	// FaultResolved means the fault handler mapped or remapped a page and
	// the faulting instruction should be retried.
	FaultResolved FaultKind = iota
	// FaultSIGSEGV means the fault address is outside any VMA, or the
	// access violates the VMA's permissions.
	FaultSIGSEGV
)

// FaultResult is the outcome of HandleFault.
type FaultResult struct {
	Kind FaultKind
}

// AccessType describes what kind of access triggered a fault.
type AccessType struct {
	Read, Write, Execute bool
}

func (a AccessType) asProt() Prot {
	var p Prot
	if a.Read {
		p |= ProtRead
	}
	if a.Write {
		p |= ProtWrite
	}
	if a.Execute {
		p |= ProtExec
	}
	return p
}

// HandleFault implements the page-fault policy of spec.md §4.4: find the
// VMA containing addr; if none, or the access violates its permissions,
// signal SIGSEGV. If the fault is a write to a CoW page, allocate a fresh
// frame, copy content, remap read-write, and drop the old frame's
// reference. If the fault is a missing page in an anonymous VMA, allocate a
// zero frame and map it with the VMA's protection.
func (as *AddressSpace) HandleFault(addr kaddr.UserVirtual, at AccessType) (FaultResult, error) {
	g := as.mu.Lock()
	defer g.Release()

	v, ok := as.VMAs.Find(addr)
	if !ok {
		return FaultResult{Kind: FaultSIGSEGV}, nil
	}
	needed := at.asProt()
	if !v.Prot.SupersetOf(needed) {
		return FaultResult{Kind: FaultSIGSEGV}, nil
	}

	page := addr.RoundDown()
	frame, curProt, mapped := as.PT.Translate(page)

	if mapped && at.Write && v.CoW && curProt&ProtWrite == 0 {
		return as.resolveCoWLocked(page, frame, v)
	}
	if !mapped && v.Backing == BackingAnonymous {
		return as.resolveAnonymousLocked(page, v)
	}
	if mapped {
		// Page is mapped and permits the access, but the PTE's cached
		// permissions lag the VMA's (e.g. after an mprotect race); resync.
		if err := as.PT.SetProt(page, v.Prot); err != nil {
			return FaultResult{}, err
		}
		return FaultResult{Kind: FaultResolved}, nil
	}
	return FaultResult{Kind: FaultSIGSEGV}, nil
}

func (as *AddressSpace) resolveCoWLocked(page kaddr.UserVirtual, oldFrame pmm.Frame, v VMA) (FaultResult, error) {
	ref, tracked := as.frameRefs[oldFrame]
	if !tracked || ref.Count() <= 1 {
		// We're the last owner; no copy needed, just reclaim write access.
		if err := as.PT.SetProt(page, v.Prot); err != nil {
			return FaultResult{}, err
		}
		if tracked {
			delete(as.frameRefs, oldFrame)
		}
		return FaultResult{Kind: FaultResolved}, nil
	}

	newFrame, err := as.Buddy.Alloc(0)
	if err != nil {
		return FaultResult{}, syserr.New(syserr.KindNoMemory, "mm: CoW copy allocation failed")
	}
	if err := as.copyFrameLocked(newFrame, oldFrame); err != nil {
		as.Buddy.Free(newFrame)
		return FaultResult{}, err
	}
	if err := as.PT.Unmap(page); err != nil {
		return FaultResult{}, err
	}
	if err := as.PT.Map(page, newFrame, v.Prot); err != nil {
		return FaultResult{}, err
	}
	as.PT.FlushRange(kaddr.Range{Start: page, End: page + kaddr.PageSize})
	as.dropFrameLocked(oldFrame)
	return FaultResult{Kind: FaultResolved}, nil
}

func (as *AddressSpace) resolveAnonymousLocked(page kaddr.UserVirtual, v VMA) (FaultResult, error) {
	frame, err := as.Buddy.Alloc(0)
	if err != nil {
		return FaultResult{}, syserr.New(syserr.KindNoMemory, "mm: demand-page allocation failed")
	}
	if err := as.zeroFrameLocked(frame); err != nil {
		as.Buddy.Free(frame)
		return FaultResult{}, err
	}
	if err := as.PT.Map(page, frame, v.Prot); err != nil {
		as.Buddy.Free(frame)
		return FaultResult{}, err
	}
	return FaultResult{Kind: FaultResolved}, nil
}
