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

	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
	"github.com/hexagonal-sun/moss-kernel/sched"
)

// RegisterRseq records addr as t's restartable-sequence CPU-id slot and
// writes the current CPU into it immediately, matching Linux's rseq(2)
// registration semantics and gvisor's SetRSEQCPUAddr/rseqCopyOutCPU
// (pkg/sentry/kernel/rseq.go). Restartable sequences' critical-section
// restart-on-preemption behavior is not implemented here: spec.md's
// supplemental feature set names the CPU-id slot glibc's fast-path malloc
// arena selection actually depends on, not the compiler-emitted restart
// machinery a from-scratch libc rarely uses without kernel prodding.
func RegisterRseq(tg *ThreadGroup, t *sched.Task, addr kaddr.UserVirtual) error {
	tg.mu.Lock()
	if tg.rseq == nil {
		tg.rseq = make(map[uint64]kaddr.UserVirtual)
	}
	tg.rseq[t.TID] = addr
	tg.mu.Unlock()
	return WriteRseqCPU(tg, t)
}

// UnregisterRseq removes t's rseq registration (the RSEQ_FLAG_UNREGISTER
// path of rseq(2)).
func UnregisterRseq(tg *ThreadGroup, t *sched.Task) {
	tg.mu.Lock()
	delete(tg.rseq, t.TID)
	tg.mu.Unlock()
}

// WriteRseqCPU refreshes t's registered rseq slot with its current CPU id,
// a no-op if t has no registration. Called after every dispatched syscall
// (package syscall's Dispatch) so a migrated task's userspace sees an
// up-to-date CPU id the next time it consults the slot, standing in for
// the write gvisor performs on migration and context-switch-back-to-user.
func WriteRseqCPU(tg *ThreadGroup, t *sched.Task) error {
	tg.mu.Lock()
	addr, ok := tg.rseq[t.TID]
	tg.mu.Unlock()
	if !ok {
		return nil
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(t.CPU()))
	_, err := tg.AS.CopyToUser(addr, buf[:])
	return err
}
