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
	"testing"
	"time"

	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
	"github.com/hexagonal-sun/moss-kernel/kernel/syserr"
	"github.com/hexagonal-sun/moss-kernel/mm"
	"github.com/hexagonal-sun/moss-kernel/sched"
)

func mapFutexWord(t *testing.T, as *mm.AddressSpace, val uint32) kaddr.UserVirtual {
	t.Helper()
	rng, err := as.Mmap(nil, kaddr.PageSize, mm.ProtRead|mm.ProtWrite, mm.BackingAnonymous, mm.SharingPrivate)
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], val)
	if _, err := as.CopyToUser(rng.Start, buf[:]); err != nil {
		t.Fatalf("CopyToUser: %v", err)
	}
	return rng.Start
}

func TestFutexWaitReturnsWouldBlockOnValueMismatch(t *testing.T) {
	as := newTestAS(t, 4)
	addr := mapFutexWord(t, as, 5)

	fm := NewFutexManager()
	s := sched.New(1, nil)
	waiter := sched.NewTask(s, 1, 0, func(t *sched.Task) {})

	err := fm.Wait(context.Background(), waiter, as, addr, 0)
	if err != syserr.ErrWouldBlock {
		t.Fatalf("Wait with stale expected value = %v, want ErrWouldBlock", err)
	}
}

func TestFutexWakeReleasesBlockedWaiter(t *testing.T) {
	as := newTestAS(t, 4)
	addr := mapFutexWord(t, as, 0)
	fm := NewFutexManager()

	s := sched.New(2, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go s.Run(ctx)

	done := make(chan error, 1)
	waiter := sched.NewTask(s, 1, 0, func(t *sched.Task) {
		done <- fm.Wait(ctx, t, as, addr, 0)
	})
	waiter.Start()

	time.Sleep(20 * time.Millisecond)
	if n := fm.Wake(addr, 1); n != 1 {
		t.Fatalf("Wake returned %d, want 1", n)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait returned %v after Wake", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter was never woken")
	}
}

func TestFutexWakeOnEmptyBucketIsNoop(t *testing.T) {
	fm := NewFutexManager()
	if n := fm.Wake(kaddr.UserVirtual(0x1000), 1); n != 0 {
		t.Fatalf("Wake on a bucket with no waiters returned %d, want 0", n)
	}
}
