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

// Package hostplat is arch/hostplat's ptrace-based development and test
// backend for package arch's HAL contract (spec.md §4.1). Rather than
// bare-metal boot/trap assembly, it traces a real host process with
// PTRACE_SYSCALL and translates each syscall-stop into the same
// ExceptionState/TrapHandler dispatch a real ISA's fast-syscall entry
// would produce, grounded on the "no real page table, delegate to a
// host-backed stand-in" shape of pkg/sentry/platform/ptrace, simplified
// to one traced child per RunUser call (appropriate for local development
// and the property-test harness) rather than gvisor's production-scale
// pooled-subprocess design, whose subprocess.go was not present in the
// retrieval pack.
package hostplat

import (
	"sync"
	"time"

	"github.com/hexagonal-sun/moss-kernel/arch"
	"github.com/hexagonal-sun/moss-kernel/mm"
)

// HAL implements arch.HAL by hosting kernel-core execution as an ordinary
// process on the development machine, using mm.SimplePageTable as its
// PageTableRoot stand-in (there is no hardware translation root to load
// under ptrace) and golang.org/x/sys/unix's ptrace wrappers to trap the
// syscalls of a traced child standing in for user mode.
type HAL struct {
	mu      sync.Mutex
	cpus    []arch.PerCPU
	traps   map[arch.TrapVector]arch.TrapHandler
	syscall arch.SyscallHandler
	timers  []*time.Timer
}

// New returns a HAL simulating numCPU CPUs, each a Go goroutine rather
// than a physical core.
func New(numCPU int) *HAL {
	return &HAL{
		cpus:   make([]arch.PerCPU, numCPU),
		traps:  make(map[arch.TrapVector]arch.TrapHandler),
		timers: make([]*time.Timer, numCPU),
	}
}

// ISA reports the architecture of the host this process is running on,
// resolved by the GOARCH-specific file in this package (subprocess_amd64.go
// or subprocess_arm64.go).
func (h *HAL) ISA() arch.ISA { return hostISA }

func (h *HAL) NumCPU() int { return len(h.cpus) }

// Boot performs the hosted equivalent of spec.md §4.1's early bring-up:
// there is no identity map or descriptor table to install (the host
// kernel already did that for this process), so Boot only allocates each
// simulated CPU's kernel stack before invoking kernelMain.
func (h *HAL) Boot(info arch.BootInfo, kernelMain func()) error {
	for i := range h.cpus {
		h.cpus[i].ID = i
		h.cpus[i].KernelStack = make([]byte, 64*1024)
	}
	kernelMain()
	return nil
}

func (h *HAL) InstallTrap(vector arch.TrapVector, fn arch.TrapHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.traps[vector] = fn
}

func (h *HAL) InstallFastSyscall(fn arch.SyscallHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.syscall = fn
}

func (h *HAL) trapHandler(v arch.TrapVector) arch.TrapHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.traps[v]
}

func (h *HAL) syscallHandler() arch.SyscallHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.syscall
}

// ContextSwitch is a bookkeeping no-op under ptrace: the host kernel owns
// the real MMU and scheduler, so there is no register-file save/restore or
// translation-root load for this backend to perform. pt, if non-nil, is
// ignored (AsPageTableRoot wraps an mm.PageTable for this call) and is
// accepted only to satisfy the arch.HAL contract's signature.
func (h *HAL) ContextSwitch(cpu int, from, to arch.ExceptionState, pt arch.PageTableRoot) error {
	return nil
}

// FlushTLB is a no-op: the host kernel's own TLB management already
// covers this process's translations.
func (h *HAL) FlushTLB(scope arch.TLBFlushScope, cpu int) {}

func (h *HAL) PerCPU(cpu int) *arch.PerCPU { return &h.cpus[cpu] }

// ArmTimer schedules fn once, matching arch.HAL's documented one-shot
// semantics; re-arming is the caller's responsibility.
func (h *HAL) ArmTimer(cpu int, d time.Duration, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timers[cpu] != nil {
		h.timers[cpu].Stop()
	}
	h.timers[cpu] = time.AfterFunc(d, fn)
}

// SendIPI satisfies both arch.HAL and sched.IPISender: every simulated CPU
// here is a goroutine in the same address space, so delivering an
// interrupt is just running fn, asynchronously so the sender never blocks
// on the target CPU's executor loop.
func (h *HAL) SendIPI(cpu int, fn func()) {
	go fn()
}

var _ arch.HAL = (*HAL)(nil)

// pageTableRootAdapter adapts an mm.PageTable to arch.PageTableRoot for
// callers that need to pass one to ContextSwitch; hostplat itself never
// installs a hardware root, but keeping the adapter here (rather than in
// mm) keeps mm free of an arch-package dependency.
type pageTableRootAdapter struct{ pt mm.PageTable }

func (a pageTableRootAdapter) Root() uint64 { return 0 }

// AsPageTableRoot wraps pt for a ContextSwitch call.
func AsPageTableRoot(pt mm.PageTable) arch.PageTableRoot { return pageTableRootAdapter{pt} }
