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

package syscall

import (
	"context"

	"github.com/hexagonal-sun/moss-kernel/arch"
	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
	"github.com/hexagonal-sun/moss-kernel/mm"
	"github.com/hexagonal-sun/moss-kernel/process"
	"github.com/hexagonal-sun/moss-kernel/sched"
)

// Linux mmap(2) PROT_* and MAP_* bits this dispatcher understands.
const (
	linuxProtRead  = 0x1
	linuxProtWrite = 0x2
	linuxProtExec  = 0x4

	linuxMapShared = 0x01
	linuxMapFixed  = 0x10
)

func translateProt(raw uint64) mm.Prot {
	var p mm.Prot
	if raw&linuxProtRead != 0 {
		p |= mm.ProtRead
	}
	if raw&linuxProtWrite != 0 {
		p |= mm.ProtWrite
	}
	if raw&linuxProtExec != 0 {
		p |= mm.ProtExec
	}
	return p | mm.ProtUser
}

// Mmap implements mmap(2) restricted to anonymous mappings (spec.md §4.4):
// this kernel core has no VFS-backed file mappings to offer, so the fd/
// offset arguments (args[4], args[5]) are accepted but unused, matching
// the system boundary named in spec.md §1.
func (d *Dispatcher) Mmap(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	prot := translateProt(args[2])
	flags := args[3]

	sharing := mm.SharingPrivate
	if flags&linuxMapShared != 0 {
		sharing = mm.SharingShared
	}

	var want *kaddr.Range
	if flags&linuxMapFixed != 0 {
		r := kaddr.Range{
			Start: kaddr.UserVirtual(args[0]).RoundDown(),
			End:   kaddr.UserVirtual(args[0] + args[1]).RoundUp(),
		}
		want = &r
	}

	r, err := tg.AS.Mmap(want, args[1], prot, mm.BackingAnonymous, sharing)
	if err != nil {
		return 0, err
	}
	return uint64(r.Start), nil
}

// Munmap implements munmap(2).
func (d *Dispatcher) Munmap(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	r := kaddr.Range{
		Start: kaddr.UserVirtual(args[0]).RoundDown(),
		End:   kaddr.UserVirtual(args[0] + args[1]).RoundUp(),
	}
	tg.AS.Munmap(r)
	return 0, nil
}

// Mprotect implements mprotect(2).
func (d *Dispatcher) Mprotect(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	r := kaddr.Range{
		Start: kaddr.UserVirtual(args[0]).RoundDown(),
		End:   kaddr.UserVirtual(args[0] + args[1]).RoundUp(),
	}
	prot := translateProt(args[2])
	if err := tg.AS.Mprotect(r, prot); err != nil {
		return 0, err
	}
	return 0, nil
}

// Brk implements brk(2): addr == 0 queries the current break, matching
// glibc's own convention for invoking the raw syscall.
func (d *Dispatcher) Brk(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	return uint64(tg.AS.Brk(kaddr.UserVirtual(args[0]))), nil
}
