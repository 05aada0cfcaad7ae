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
	"github.com/hexagonal-sun/moss-kernel/kernel/syserr"
	"github.com/hexagonal-sun/moss-kernel/process"
	"github.com/hexagonal-sun/moss-kernel/sched"
)

// Linux futex(2) opcodes this dispatcher understands. FUTEX_CMD_MASK strips
// FUTEX_PRIVATE_FLAG/FUTEX_CLOCK_REALTIME out of args[1] the way Linux's
// do_futex does before switching on the command.
const (
	futexCmdMask = 0x7f
	futexWait    = 0
	futexWake    = 1
)

// Futex implements futex(2)'s FUTEX_WAIT and FUTEX_WAKE, the two operations
// spec.md §4.11's supplemental futex support names. A timeout argument
// (args[3]) is accepted but ignored: FUTEX_WAIT here blocks until woken or
// interrupted by a signal, never by a deadline, since this exercise's
// process layer has no timer-wheel collaborator for absolute-time waits.
func (d *Dispatcher) Futex(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	addr := kaddr.UserVirtual(args[0])
	switch uint32(args[1]) & futexCmdMask {
	case futexWait:
		val := uint32(args[2])
		err := sched.Interruptable(ctx, t, func(ictx context.Context) error {
			return tg.Futex().Wait(ictx, t, tg.AS, addr, val)
		})
		if err != nil {
			return 0, err
		}
		return 0, nil
	case futexWake:
		n := int(int32(uint32(args[2])))
		if n < 0 {
			n = 0
		}
		return uint64(tg.Futex().Wake(addr, n)), nil
	default:
		return 0, syserr.ErrNotSupported
	}
}
