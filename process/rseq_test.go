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
	"encoding/binary"
	"testing"

	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
	"github.com/hexagonal-sun/moss-kernel/mm"
	"github.com/hexagonal-sun/moss-kernel/sched"
)

func readCPUSlot(t *testing.T, as *mm.AddressSpace, addr kaddr.UserVirtual) uint32 {
	t.Helper()
	var buf [4]byte
	if _, err := as.CopyFromUser(buf[:], addr); err != nil {
		t.Fatalf("CopyFromUser: %v", err)
	}
	return binary.LittleEndian.Uint32(buf[:])
}

func TestRegisterRseqWritesCurrentCPUImmediately(t *testing.T) {
	s := sched.New(1, nil)
	tg, leader := newTestInit(t, s)
	rng, err := tg.AS.Mmap(nil, kaddr.PageSize, mm.ProtRead|mm.ProtWrite, mm.BackingAnonymous, mm.SharingPrivate)
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}

	if err := RegisterRseq(tg, leader, rng.Start); err != nil {
		t.Fatalf("RegisterRseq: %v", err)
	}

	if got, want := readCPUSlot(t, tg.AS, rng.Start), uint32(leader.CPU()); got != want {
		t.Fatalf("registered slot = %d, want %d", got, want)
	}
}

func TestWriteRseqCPUIsNoopWithoutRegistration(t *testing.T) {
	s := sched.New(1, nil)
	tg, leader := newTestInit(t, s)
	rng, err := tg.AS.Mmap(nil, kaddr.PageSize, mm.ProtRead|mm.ProtWrite, mm.BackingAnonymous, mm.SharingPrivate)
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	var sentinel [4]byte
	binary.LittleEndian.PutUint32(sentinel[:], 0xdeadbeef)
	if _, err := tg.AS.CopyToUser(rng.Start, sentinel[:]); err != nil {
		t.Fatalf("CopyToUser: %v", err)
	}

	if err := WriteRseqCPU(tg, leader); err != nil {
		t.Fatalf("WriteRseqCPU: %v", err)
	}
	if got := readCPUSlot(t, tg.AS, rng.Start); got != 0xdeadbeef {
		t.Fatalf("WriteRseqCPU touched the slot of an unregistered task: got %#x", got)
	}
}

func TestUnregisterRseqStopsFurtherWrites(t *testing.T) {
	s := sched.New(1, nil)
	tg, leader := newTestInit(t, s)
	rng, err := tg.AS.Mmap(nil, kaddr.PageSize, mm.ProtRead|mm.ProtWrite, mm.BackingAnonymous, mm.SharingPrivate)
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	if err := RegisterRseq(tg, leader, rng.Start); err != nil {
		t.Fatalf("RegisterRseq: %v", err)
	}

	UnregisterRseq(tg, leader)

	var sentinel [4]byte
	binary.LittleEndian.PutUint32(sentinel[:], 0xcafef00d)
	if _, err := tg.AS.CopyToUser(rng.Start, sentinel[:]); err != nil {
		t.Fatalf("CopyToUser: %v", err)
	}
	if err := WriteRseqCPU(tg, leader); err != nil {
		t.Fatalf("WriteRseqCPU: %v", err)
	}
	if got := readCPUSlot(t, tg.AS, rng.Start); got != 0xcafef00d {
		t.Fatalf("WriteRseqCPU wrote to a slot after Unregister: got %#x", got)
	}
}
