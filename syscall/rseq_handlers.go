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
	"github.com/hexagonal-sun/moss-kernel/process"
	"github.com/hexagonal-sun/moss-kernel/sched"
)

// rseqFlagUnregister matches Linux's RSEQ_FLAG_UNREGISTER.
const rseqFlagUnregister = 1

// Rseq implements rseq(2) (spec.md §4.11's supplemental restartable-
// sequence support): args[0] is the rseq_area pointer, args[2] is flags.
// Length (args[1]) and signature (args[3]) are accepted without validation,
// since this exercise's libc never actually emits restartable critical
// sections for the registration to protect.
func (d *Dispatcher) Rseq(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	if args[2]&rseqFlagUnregister != 0 {
		process.UnregisterRseq(tg, t)
		return 0, nil
	}
	addr := kaddr.UserVirtual(args[0])
	if err := process.RegisterRseq(tg, t, addr); err != nil {
		return 0, err
	}
	return 0, nil
}
