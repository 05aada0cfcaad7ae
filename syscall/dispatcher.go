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
	"github.com/hexagonal-sun/moss-kernel/mm"
	"github.com/hexagonal-sun/moss-kernel/process"
	"github.com/hexagonal-sun/moss-kernel/sched"
)

// Dispatcher owns the collaborators fork/clone/execve/wait need but that
// package syscall has no business constructing itself: a scheduler to
// enqueue new tasks on, a page-table factory (building an empty
// mm.PageTable for the running ISA), PID allocation, a global
// pid-to-thread-group lookup (standing in for gvisor's PID namespace,
// pkg/sentry/kernel/task_list.go's TaskSet), the ELF loader external
// collaborator execve hands off to, and the hook that resumes a task's
// user-mode execution once its kernel-side lifecycle bookkeeping is done.
// Boot orchestration constructs one Dispatcher and builds its syscall
// table from it.
type Dispatcher struct {
	Sched        *sched.Scheduler
	NewPageTable func() mm.PageTable
	NextPID      func() uint64
	Lookup       func(pid uint64) *process.ThreadGroup

	// Loader is the ELF loader external collaborator (spec.md §1's system
	// boundary): it builds a new address space from a program image and
	// reports the entry point, exactly as process.Execve's loader
	// parameter expects.
	Loader func(newAS *mm.AddressSpace, argv, envp []string) (entry uintptr, err error)

	// Continue resumes user-mode execution for a task once fork/clone has
	// finished installing its kernel-side state, i.e. it is what makes
	// "return from fork with 0 in the child" or "jump to the ELF entry
	// point after execve" actually happen on whatever arch.HAL backend is
	// in use. It is supplied by boot orchestration once a concrete HAL
	// exists; a nil Continue makes new tasks exit immediately with status
	// 0, which is enough to exercise the scheduling and bookkeeping paths
	// in isolation (as this package's tests do) without a hosted backend.
	Continue func(t *sched.Task, tg *process.ThreadGroup)
}

func (d *Dispatcher) resume(t *sched.Task, tg *process.ThreadGroup) {
	if d.Continue != nil {
		d.Continue(t, tg)
		return
	}
	process.Exit(tg, t.TID, process.ExitStatus{})
}
