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

// Package syscall is the system-call dispatcher (spec.md §4.8): it reads
// the syscall number and up to six arguments out of an arch.ExceptionState,
// indexes a per-ISA table of handlers, drives the chosen handler to
// completion on the calling task, and writes the result back into the
// ABI-defined return register. It corresponds to gvisor's
// pkg/sentry/kernel.SyscallTable plus the fast-entry glue in
// pkg/sentry/kernel/task_syscall.go, trimmed to the handler set this
// exercise implements.
package syscall

import (
	"context"

	"github.com/hexagonal-sun/moss-kernel/arch"
	"github.com/hexagonal-sun/moss-kernel/kernel/syserr"
	"github.com/hexagonal-sun/moss-kernel/process"
	"github.com/hexagonal-sun/moss-kernel/sched"
)

// Number is a syscall number as it appears in the ABI-defined register on
// syscall entry, keyed the same way gvisor's linux64.go/linux64_arm64.go
// key their SyscallTable.Table maps.
type Number uintptr

// Args is the up-to-six-register argument record a handler receives,
// mirroring arch.ExceptionState.SyscallArg's six-slot ABI window.
type Args [6]uint64

// Handler implements one syscall number. It receives the task whose
// syscall is being serviced (for signal-aware suspension via sched.Await/
// sched.Interruptable), its owning thread group (for process-lifecycle
// state), and the raw ExceptionState so the rare handler that must steer
// control flow directly (execve rewriting the program counter, a future
// sigreturn restoring a saved context) can do so; most handlers ignore es
// and work only with args. It returns either a non-negative ABI result or
// a *syserr.Error to be translated to a negative errno.
type Handler func(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error)

// Table maps syscall numbers to handlers for one ISA.
type Table map[Number]Handler

// UnimplementedHook, if set, is called with every syscall number Dispatch
// could not find a handler for, before the -ENOSYS return is written.
// Package syscall does not depend on package kernel/ktrace directly (that
// dependency would cross the layering this module's package graph keeps
// leaf-to-root); boot orchestration wires this to ktrace.Log.Emit so an
// unimplemented-syscall trace event is recorded the way gvisor's
// pkg/sentry/unimpl instruments the same condition.
var UnimplementedHook func(nr Number)

// Dispatch is fast-entry's second half (spec.md §4.8): given the
// ExceptionState a trap or fast-syscall trampoline has already built,
// look up es.SyscallNo() in table, run the handler to completion (blocking
// handlers suspend the task via sched.Task.Await/Interruptable rather than
// the executor's goroutine), and write the result back with SetReturn.
// Unknown syscall numbers return -ENOSYS, matching "unknown numbers return
// the not implemented error code" (spec.md §4.8).
func Dispatch(ctx context.Context, table Table, t *sched.Task, es arch.ExceptionState) {
	tg := process.Of(t)
	nr := Number(es.SyscallNo())

	handler, ok := table[nr]
	if !ok {
		if UnimplementedHook != nil {
			UnimplementedHook(nr)
		}
		es.SetReturn(errnoReturn(syserr.ErrNotSupported))
		if tg != nil {
			process.WriteRseqCPU(tg, t)
		}
		t.SyscallStop(ctx)
		return
	}

	var args Args
	for i := range args {
		args[i] = es.SyscallArg(i)
	}

	ret, err := handler(ctx, t, tg, es, args)
	if err != nil {
		serr, ok := err.(*syserr.Error)
		if !ok {
			serr = syserr.ErrFault
		}
		es.SetReturn(errnoReturn(serr))
	} else {
		es.SetReturn(ret)
	}

	if tg != nil {
		// Refresh the task's registered rseq CPU-id slot, if any, on every
		// return to userspace, standing in for the write Linux performs on
		// migration and preemption (spec.md §4.11's supplemental rseq
		// support; process.WriteRseqCPU is a no-op for a task that never
		// called rseq(2)).
		process.WriteRseqCPU(tg, t)
	}

	// A ptrace-attached task halts here rather than returning to user mode,
	// the syscall-exit stop PTRACE_SYSCALL relies on regardless of whether
	// the syscall succeeded (spec.md §4.11's supplemental ptrace hooks). A
	// no-op for every task that was never attached.
	t.SyscallStop(ctx)
}

// errnoReturn reinterprets a negative errno (spec.md §4.8's "negative
// small integer = -errno") as the unsigned ABI return register value the
// caller's C library expects to see and sign-extend back, the same
// two's-complement trick the amd64/arm64 syscall ABIs both rely on.
func errnoReturn(e *syserr.Error) uint64 {
	return uint64(e.ToLinux())
}
