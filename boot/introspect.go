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

package boot

import (
	"fmt"

	"github.com/hexagonal-sun/moss-kernel/kernel/syserr"
	"github.com/hexagonal-sun/moss-kernel/process"
	"github.com/hexagonal-sun/moss-kernel/sched"
)

// ProcMaps renders pid's address space the way /proc/[pid]/maps would
// (spec.md §4.11's supplemental /proc-shaped introspection), delegating to
// mm.AddressSpace.ProcMaps once pid is resolved to its thread group.
func (k *Kernel) ProcMaps(pid uint64) ([]string, error) {
	tg := k.lookup(pid)
	if tg == nil {
		return nil, syserr.New(syserr.KindNotFound, fmt.Sprintf("boot: no such pid %d", pid))
	}
	return tg.AS.ProcMaps(), nil
}

// SchedDebug snapshots every CPU's runqueue occupancy, current task, and
// virtual clock, the /proc/sched_debug-shaped introspection surface (spec.md
// §4.11's supplemental feature set).
func (k *Kernel) SchedDebug() []sched.CPUDebug {
	return k.Sched.Debug()
}

// Usage reports pid's cgroup-lite resource usage: cumulative CPU seconds
// and peak resident frame count (spec.md §4.11's supplemental cgroup-lite
// accounting).
func (k *Kernel) Usage(pid uint64) (process.Usage, error) {
	tg := k.lookup(pid)
	if tg == nil {
		return process.Usage{}, syserr.New(syserr.KindNotFound, fmt.Sprintf("boot: no such pid %d", pid))
	}
	return tg.Usage(), nil
}

// findTask resolves a pid to its thread-group leader, the target every
// ptrace-lite operation below acts on. This exercise does not support
// attaching to a non-leader thread by tid, matching how gvisor's
// PTRACE_ATTACH is documented against a Task but callers in practice always
// name the leader.
func (k *Kernel) findTask(pid uint64) (*sched.Task, error) {
	tg := k.lookup(pid)
	if tg == nil {
		return nil, syserr.New(syserr.KindNotFound, fmt.Sprintf("boot: no such pid %d", pid))
	}
	return tg.Leader(), nil
}

// PtraceAttach marks pid's leader task as ptrace-attached (spec.md §4.11's
// supplemental ptrace hooks): it will halt at every subsequent syscall-exit
// boundary until PtraceCont or PtraceDetach releases it. This is separate
// from --debug-stop, which holds the init task by not starting it until
// Resume.
func (k *Kernel) PtraceAttach(pid uint64) error {
	t, err := k.findTask(pid)
	if err != nil {
		return err
	}
	t.Trace()
	return nil
}

// PtraceDetach releases pid's leader task from any halt in effect and stops
// future syscall-exit stops, the PTRACE_DETACH equivalent.
func (k *Kernel) PtraceDetach(pid uint64) error {
	t, err := k.findTask(pid)
	if err != nil {
		return err
	}
	t.Untrace()
	return nil
}

// PtraceCont resumes pid's leader task from a syscall-exit stop without
// detaching it, so it halts again at its next syscall boundary.
func (k *Kernel) PtraceCont(pid uint64) error {
	t, err := k.findTask(pid)
	if err != nil {
		return err
	}
	t.PtraceCont()
	return nil
}
