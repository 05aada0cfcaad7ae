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
	"encoding/binary"

	"github.com/hexagonal-sun/moss-kernel/arch"
	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
	"github.com/hexagonal-sun/moss-kernel/kernel/syserr"
	"github.com/hexagonal-sun/moss-kernel/mm"
	"github.com/hexagonal-sun/moss-kernel/process"
	"github.com/hexagonal-sun/moss-kernel/sched"
)

// Linux clone(2) flag bits this dispatcher understands, translated onto
// package process's own CloneFlags so process never has to know Linux's
// bit assignments (spec.md §4.7).
const (
	linuxCloneVM      = 0x00000100
	linuxCloneFiles   = 0x00000400
	linuxCloneSighand = 0x00000800
	linuxCloneThread  = 0x00010000
)

func translateCloneFlags(raw uint64) process.CloneFlags {
	var f process.CloneFlags
	if raw&linuxCloneVM != 0 {
		f |= process.CloneVM
	}
	if raw&linuxCloneFiles != 0 {
		f |= process.CloneFiles
	}
	if raw&linuxCloneSighand != 0 {
		f |= process.CloneSighand
	}
	if raw&linuxCloneThread != 0 {
		f |= process.CloneThread
	}
	return f
}

// childBody is the resumable computation every fresh task from Fork/Clone
// starts with: hand control to whatever mechanism actually resumes user
// mode (Dispatcher.Continue), resolving the owning thread group from the
// task itself rather than a captured variable, since the task's Owner
// field is written before Start() launches its goroutine and the "go"
// statement in Start is a happens-before edge for that write (Go memory
// model), making this safe without additional synchronization.
func (d *Dispatcher) childBody(t *sched.Task) {
	d.resume(t, process.Of(t))
}

// Fork implements fork(2): exactly Clone with no flags (spec.md §4.7).
func (d *Dispatcher) Fork(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	childTID := d.NextPID()
	pt := d.NewPageTable()
	_, childTask, err := process.Clone(d.Sched, tg, childTID, pt, 0, d.childBody)
	if err != nil {
		return 0, syserr.ErrNoMemory
	}
	return childTask.TID, nil
}

// Clone implements clone(2), reading Linux's flags argument out of args[0]
// (spec.md §4.7's generalization of fork). The child-stack, ptid, tls, and
// ctid arguments Linux's clone(2) also takes are meaningful only to the
// arch-specific context-switch/TLS setup this package leaves to
// Dispatcher.Continue, so they are not otherwise consulted here.
func (d *Dispatcher) Clone(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	flags := translateCloneFlags(args[0])
	childTID := d.NextPID()

	var pt mm.PageTable
	if flags&process.CloneVM == 0 {
		pt = d.NewPageTable()
	}

	_, childTask, err := process.Clone(d.Sched, tg, childTID, pt, flags, d.childBody)
	if err != nil {
		return 0, syserr.ErrNoMemory
	}
	return childTask.TID, nil
}

// Execve implements execve(2) (spec.md §4.7): args[0] is the pathname
// (unused directly here, since the VFS that would resolve it to an image
// is an external collaborator; Dispatcher.Loader is handed the pathname
// only via argv[0] by convention), args[1]/args[2] are the argv/envp
// vectors. On success it rewrites es's program counter to the loader's
// reported entry point directly, since execve does not "return" a value
// the way other syscalls do: the next instruction the task executes is
// the new program's entry, not the instruction after the trap.
func (d *Dispatcher) Execve(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	argv, err := copyInVector(tg.AS, kaddr.UserVirtual(args[1]))
	if err != nil {
		return 0, err
	}
	envp, err := copyInVector(tg.AS, kaddr.UserVirtual(args[2]))
	if err != nil {
		return 0, err
	}

	pt := d.NewPageTable()
	newAS := mm.NewAddressSpace(pt, tg.AS.Buddy, tg.AS.Memory, tg.PID)

	entry, err := process.Execve(tg, argv, envp, d.Loader, newAS)
	if err != nil {
		return 0, err
	}

	newAS.BrkSetup(kaddr.UserVirtual(entry).RoundUp() + kaddr.PageSize)
	es.SetPC(uint64(entry))
	return 0, nil
}

// Exit implements exit(2): only the calling thread terminates, and the
// group exits with status only if it was the last thread standing.
func (d *Dispatcher) Exit(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	process.Exit(tg, t.TID, process.ExitStatus{Code: int(int32(args[0]))})
	return 0, nil
}

// ExitGroup implements exit_group(2): the whole thread group terminates.
func (d *Dispatcher) ExitGroup(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	process.ExitGroup(tg, process.ExitStatus{Code: int(int32(args[0]))})
	return 0, nil
}

// encodeWaitStatus matches Linux's wait(2) status word: a normal exit
// stores the low byte of the exit code shifted up by 8; termination by
// signal stores the signal number in the low seven bits.
func encodeWaitStatus(s process.ExitStatus) uint32 {
	if s.Signaled {
		return uint32(s.Signal) & 0x7f
	}
	return uint32(s.Code&0xff) << 8
}

// waitFilterFromPid translates wait4/waitid's raw signed pid argument onto
// process.WaitFilter, following the moss original's do_wait convention
// (src/process/thread_group/wait.rs): -1 selects any child, a value less
// than -1 selects by process-group id (abs(pid)), 0 selects the caller's
// own process group, and any other positive value selects one exact child.
func waitFilterFromPid(tg *process.ThreadGroup, pid int64) process.WaitFilter {
	switch {
	case pid == -1:
		return process.WaitFilter{Mode: process.WaitAny}
	case pid == 0:
		return process.WaitFilter{Mode: process.WaitPgid, Pgid: tg.Pgid()}
	case pid < -1:
		return process.WaitFilter{Mode: process.WaitPgid, Pgid: uint64(-pid)}
	default:
		return process.WaitFilter{Mode: process.WaitPID, PID: uint64(pid)}
	}
}

// Wait4 implements wait4(2) (spec.md §4.7): it suspends the calling task
// via sched.Interruptable, so a signal delivered while blocked resolves
// the call with -EINTR instead of running to completion (spec.md §4.8).
func (d *Dispatcher) Wait4(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	filter := waitFilterFromPid(tg, int64(args[0]))

	var childPID uint64
	var status process.ExitStatus
	err := sched.Interruptable(ctx, t, func(ictx context.Context) error {
		p, s, werr := process.Wait(ictx, t, tg, filter)
		childPID, status = p, s
		return werr
	})
	if err != nil {
		return 0, err
	}

	if statusAddr := args[1]; statusAddr != 0 {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], encodeWaitStatus(status))
		if _, cerr := tg.AS.CopyToUser(kaddr.UserVirtual(statusAddr), buf[:]); cerr != nil {
			return 0, syserr.ErrFault
		}
	}
	return childPID, nil
}

// Kill implements kill(2) against a single target PID (spec.md §4.7/§4.8):
// no process-group or broadcast targets, matching this exercise's single-
// thread-group-at-a-time PID lookup. Posting the signal and interrupting
// every thread that might be blocked in an interruptable syscall is what
// makes "signal interrupts syscall" (spec.md's edge case #5) observable.
func (d *Dispatcher) Kill(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	target := d.Lookup(args[0])
	if target == nil {
		return 0, syserr.ErrNotFound
	}
	sig := process.Signal(args[1])
	target.Sig.PostGroup(sig)
	for _, th := range target.Threads() {
		th.Interrupt()
	}
	return 0, nil
}

// Getpid implements getpid(2).
func (d *Dispatcher) Getpid(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	return tg.PID, nil
}

// Gettid implements gettid(2).
func (d *Dispatcher) Gettid(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	return t.TID, nil
}

// resolveTarget resolves pid onto a *process.ThreadGroup the way setpgid/
// getpgid/getsid resolve their pid argument: 0 means the calling thread
// group itself, matching Linux's convention for these calls.
func (d *Dispatcher) resolveTarget(tg *process.ThreadGroup, pid uint64) *process.ThreadGroup {
	if pid == 0 {
		return tg
	}
	return d.Lookup(pid)
}

// Setpgid implements setpgid(2) (spec.md §3's process-group memberships).
func (d *Dispatcher) Setpgid(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	target := d.resolveTarget(tg, args[0])
	if target == nil {
		return 0, syserr.ErrNotFound
	}
	if err := process.Setpgid(target, args[1]); err != nil {
		return 0, err
	}
	return 0, nil
}

// Getpgid implements getpgid(2).
func (d *Dispatcher) Getpgid(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	target := d.resolveTarget(tg, args[0])
	if target == nil {
		return 0, syserr.ErrNotFound
	}
	return process.Getpgid(target), nil
}

// Setsid implements setsid(2).
func (d *Dispatcher) Setsid(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	sid, err := process.Setsid(tg)
	if err != nil {
		return 0, err
	}
	return sid, nil
}

// Getsid implements getsid(2).
func (d *Dispatcher) Getsid(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	target := d.resolveTarget(tg, args[0])
	if target == nil {
		return 0, syserr.ErrNotFound
	}
	return process.Getsid(target), nil
}

// SchedYield implements sched_yield(2) directly on top of the scheduler's
// own explicit-yield suspension point (spec.md §4.6's yield_now()).
func (d *Dispatcher) SchedYield(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	t.YieldNow()
	return 0, nil
}
