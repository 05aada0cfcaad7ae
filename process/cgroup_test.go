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
	"testing"

	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
	"github.com/hexagonal-sun/moss-kernel/mm"
	"github.com/hexagonal-sun/moss-kernel/sched"
)

func TestUsageStartsAtZero(t *testing.T) {
	s := sched.New(1, nil)
	tg, _ := newTestInit(t, s)

	u := tg.Usage()
	if u.Ticks != 0 || u.PeakRSS != 0 {
		t.Fatalf("Usage on a freshly-created thread group = %+v, want zero", u)
	}
}

func TestUsageTracksPeakRSSAcrossMunmap(t *testing.T) {
	s := sched.New(1, nil)
	tg, _ := newTestInit(t, s)

	rng, err := tg.AS.Mmap(nil, kaddr.PageSize, mm.ProtRead|mm.ProtWrite, mm.BackingAnonymous, mm.SharingPrivate)
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	if _, err := tg.AS.CopyToUser(rng.Start, []byte("x")); err != nil {
		t.Fatalf("CopyToUser: %v", err)
	}

	if got := tg.Usage().PeakRSS; got != 1 {
		t.Fatalf("PeakRSS after touching one page = %d, want 1", got)
	}

	tg.AS.Munmap(rng)

	if got := tg.Usage().PeakRSS; got != 1 {
		t.Fatalf("PeakRSS dropped to %d after Munmap, want the high-water mark 1 preserved", got)
	}
}

func TestUsageSumsServiceAcrossThreads(t *testing.T) {
	s := sched.New(1, nil)
	tg, leader := newTestInit(t, s)
	child := sched.NewTask(s, 2, 0, func(t *sched.Task) {})
	tg.AddThread(child)

	// Neither task has run, so both Service() values are zero; Usage must
	// still sum across every member of tg.Threads(), not just the leader.
	if got := tg.Usage().Ticks; got != leader.Service()+child.Service() {
		t.Fatalf("Usage().Ticks = %v, want sum of both threads' Service()", got)
	}
}
