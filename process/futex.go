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

package process

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
	"github.com/hexagonal-sun/moss-kernel/kernel/syserr"
	"github.com/hexagonal-sun/moss-kernel/ksync"
	"github.com/hexagonal-sun/moss-kernel/mm"
	"github.com/hexagonal-sun/moss-kernel/sched"
)

// FutexManager implements the futex(2) FUTEX_WAIT/FUTEX_WAKE fast userspace
// mutex primitive (spec.md §4.11's supplemental futex support), grounded on
// gvisor's pkg/sentry/kernel/futex.Manager and task_futex.go's per-task
// Checker, trimmed to the two operations that fast userspace mutexes and
// condition variables actually need: waiting on a value and waking waiters.
// Priority inheritance, requeue, and the process-shared/private distinction
// (spec.md's Non-goals do not name futex robustness, but it is out of scope
// for the same reason PI futexes are absent from this exercise's syscall
// table) are not implemented.
//
// One FutexManager is owned per address space, matching Linux's rule that a
// private futex's identity is its virtual address within one mm.
type FutexManager struct {
	mu      sync.Mutex
	buckets map[kaddr.UserVirtual]*ksync.WakerSet
}

// NewFutexManager constructs an empty manager, called once per address
// space by NewAddressSpace's owning ThreadGroup constructor.
func NewFutexManager() *FutexManager {
	return &FutexManager{buckets: make(map[kaddr.UserVirtual]*ksync.WakerSet)}
}

func (m *FutexManager) bucket(addr kaddr.UserVirtual) *ksync.WakerSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[addr]
	if !ok {
		b = &ksync.WakerSet{}
		m.buckets[addr] = b
	}
	return b
}

// readValue loads the current uint32 at addr, the futex Checker.Check step
// of gvisor's task_futex.go.
func readValue(as *mm.AddressSpace, addr kaddr.UserVirtual) (uint32, error) {
	var buf [4]byte
	if _, err := as.CopyFromUser(buf[:], addr); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// Wait implements FUTEX_WAIT: if the value at addr still equals val, the
// caller blocks until woken by Wake or ctx is done; otherwise it returns
// syserr.ErrWouldBlock immediately, exactly as Linux returns EAGAIN when the
// value has already changed by the time the kernel checks it.
func (m *FutexManager) Wait(ctx context.Context, t *sched.Task, as *mm.AddressSpace, addr kaddr.UserVirtual, val uint32) error {
	cur, err := readValue(as, addr)
	if err != nil {
		return err
	}
	if cur != val {
		return syserr.ErrWouldBlock
	}

	b := m.bucket(addr)
	h := b.Register()
	return t.Await(ctx, func(ictx context.Context) error {
		select {
		case <-h.C():
			return nil
		case <-ictx.Done():
			b.Cancel(h)
			return ictx.Err()
		}
	})
}

// Wake implements FUTEX_WAKE: it wakes up to n waiters registered on addr's
// bucket and reports how many were actually woken.
func (m *FutexManager) Wake(addr kaddr.UserVirtual, n int) int {
	return m.bucket(addr).WakeUpTo(n)
}
