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
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hexagonal-sun/moss-kernel/arch"
	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
	"github.com/hexagonal-sun/moss-kernel/internal/klog"
	"github.com/hexagonal-sun/moss-kernel/kernel/kmetric"
	"github.com/hexagonal-sun/moss-kernel/kernel/ktrace"
	"github.com/hexagonal-sun/moss-kernel/kernel/syserr"
	"github.com/hexagonal-sun/moss-kernel/mm"
	"github.com/hexagonal-sun/moss-kernel/pmm"
	"github.com/hexagonal-sun/moss-kernel/process"
	"github.com/hexagonal-sun/moss-kernel/sched"
	ksys "github.com/hexagonal-sun/moss-kernel/syscall"
)

// Kernel is the assembled kernel core: every collaborator boot orchestration
// brings up, in the dependency order of spec.md §2 ("Arch HAL -> physical
// memory manager -> slab -> virtual address space -> task/executor ->
// process/thread model -> system-call dispatch -> boot orchestration &
// init task"), held together the way runsc/boot.Loader holds gvisor's
// kernel.Kernel, pgalloc.MemoryFile, and platform.Platform.
type Kernel struct {
	Config *Config
	HAL    arch.HAL

	Buddy   *pmm.Buddy
	Mem     *pmm.Memory
	Small   *pmm.Smalloc
	Sched   *sched.Scheduler
	Disp    *ksys.Dispatcher
	Metrics *kmetric.Collector
	Trace   *ktrace.Log

	newPageTable func() mm.PageTable

	mu       sync.Mutex
	procs    map[uint64]*process.ThreadGroup
	nextID   atomic.Uint64
	initTG   *process.ThreadGroup
	initTask *sched.Task
}

// Loader is the ELF-loader external collaborator boot.New wires into the
// dispatcher's Execve path (spec.md §1's "the ELF loader ... named where the
// core interacts with them but their internals are not specified here").
type Loader func(newAS *mm.AddressSpace, argv, envp []string) (entry uintptr, err error)

// Continuation resumes user-mode execution for a task once fork/clone/exec
// have finished their kernel-side bookkeeping, matching
// syscall.Dispatcher.Continue's contract. The arch/hostplat backend and a
// real ISA's context-switch-then-eret both implement this shape.
type Continuation func(t *sched.Task, tg *process.ThreadGroup)

// New assembles a Kernel from a HAL, a page-table factory (building an
// empty mm.PageTable for the HAL's ISA, such as an arch/amd64 or arch/arm64
// PageTable), and boot-time config. It
// performs no memory-map-dependent bring-up yet; call Bringup once the
// bootloader-supplied memory map is available.
func New(cfg *Config, hal arch.HAL, newPageTable func() mm.PageTable, loader Loader, resume Continuation) *Kernel {
	k := &Kernel{
		Config:       cfg,
		HAL:          hal,
		newPageTable: newPageTable,
		procs:        make(map[uint64]*process.ThreadGroup),
		Metrics:      kmetric.NewCollector(),
		Trace:        ktrace.NewLog(),
	}
	k.nextID.Store(1)

	ksys.UnimplementedHook = func(nr ksys.Number) {
		k.Trace.Emit(ktrace.EventSyscallUnimplemented, fmt.Sprintf("syscall %d", nr))
	}

	k.Sched = sched.New(hal.NumCPU(), hal.SendIPI)
	k.Disp = &ksys.Dispatcher{
		Sched:        k.Sched,
		NewPageTable: newPageTable,
		NextPID:      k.allocID,
		Lookup:       k.lookup,
		Loader: func(newAS *mm.AddressSpace, argv, envp []string) (uintptr, error) {
			entry, err := loader(newAS, argv, envp)
			if err != nil {
				k.Trace.Emit(ktrace.EventExecFault, fmt.Sprintf("execve %v: %v", argv, err))
			}
			return entry, err
		},
		Continue: func(t *sched.Task, tg *process.ThreadGroup) {
			k.Trace.Emit(ktrace.EventTaskExit, fmt.Sprintf("pid=%d tid=%d", tg.PID, t.TID))
			resume(t, tg)
		},
	}

	// InstallFastSyscall registers one handler for the whole HAL (one
	// hardware trap vector shared by every CPU and task), so it must resolve
	// the trapping task from the scheduler's own per-CPU bookkeeping rather
	// than close over whichever task happened to be under construction when
	// New ran.
	table := k.tableFor(hal.ISA())
	hal.InstallFastSyscall(func(cpu int, es arch.ExceptionState) {
		t := k.Sched.Current(cpu)
		if t == nil {
			klog.Errorf("boot: fast syscall trap on cpu %d with no current task", cpu)
			return
		}
		ksys.Dispatch(context.Background(), table, t, es)
	})

	return k
}

func (k *Kernel) allocID() uint64 { return k.nextID.Add(1) - 1 }

func (k *Kernel) lookup(pid uint64) *process.ThreadGroup {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.procs[pid]
}

func (k *Kernel) register(tg *process.ThreadGroup) {
	k.mu.Lock()
	k.procs[tg.PID] = tg
	k.mu.Unlock()
}

// roundedUsableRegions converts the bootloader's raw memory map into the
// page-aligned, usable-only physical ranges pmm.New requires (its own doc
// comment: "the caller, boot orchestration, rounds bootloader-reported
// usable ranges to page boundaries before calling New").
func roundedUsableRegions(memMap []arch.MemoryRegion) []kaddr.PhysRange {
	var out []kaddr.PhysRange
	for _, m := range memMap {
		if !m.Available {
			continue
		}
		start := kaddr.Physical(m.Start).RoundUp()
		end := kaddr.Physical(m.Start + m.Length).RoundDown()
		if end <= start {
			continue
		}
		out = append(out, kaddr.PhysRange{Start: start, End: end})
	}
	return out
}

// Bringup performs the memory-map-dependent half of boot: it rounds the
// bootloader's usable regions to page boundaries, seeds smalloc over them,
// builds the buddy allocator and the simulated physical Memory over the
// same regions, and records the buddy's frame counts in Metrics. smalloc
// is seeded first so that any pre-buddy metadata allocation has somewhere
// to come from before Buddy exists; this implementation makes none, since
// Go's own runtime allocator backs pmm.New's free lists. Bringup does not
// bring up slab caches and does not install a kernel direct map.
func (k *Kernel) Bringup(info arch.BootInfo) error {
	regions := roundedUsableRegions(info.MemoryMap)
	if len(regions) == 0 {
		return syserr.New(syserr.KindNoMemory, "boot: bootloader memory map has no usable regions")
	}

	k.Small = pmm.NewSmalloc(regions)
	k.Buddy = pmm.New(regions)

	limit := pmm.FrameOf(regions[len(regions)-1].End)
	k.Mem = pmm.NewMemory(limit)

	klog.Infof("boot: %d usable region(s), %d frames total, %d free after smalloc reservation",
		len(regions), k.Buddy.TotalFrames(), k.Buddy.FreeFrames())

	k.Metrics.ObserveBuddy(k.Buddy)
	return nil
}

// StartInit creates the first task (spec.md §2: "the scheduler creates a
// first task; the init task forks and execs the root program"), mounts the
// configured root filesystem (external collaborator, out of scope: this
// call only records the selection for that collaborator via mount), loads
// the configured init binary, and starts the scheduler's per-CPU executors.
// mount is the VFS external collaborator's mount entry point (spec.md §6's
// kernel<->VFS contract); StartInit does not inspect its result beyond
// propagating an error, since the VFS's internals are out of scope here.
func (k *Kernel) StartInit(ctx context.Context, mount func(fstype string, mountpoint string) error) error {
	if mount != nil {
		if err := mount(string(k.Config.Rootfs), "/"); err != nil {
			return fmt.Errorf("boot: mounting rootfs %s: %w", k.Config.Rootfs, err)
		}
		for _, am := range k.Config.Automounts {
			if err := mount(am.FSType, am.Mountpoint); err != nil {
				return fmt.Errorf("boot: automount %s at %s: %w", am.FSType, am.Mountpoint, err)
			}
		}
	}

	pid := k.allocID()
	pt := k.newPageTable()
	as := mm.NewAddressSpace(pt, k.Buddy, k.Mem, pid)
	creds := process.RootCredentials()

	leader := sched.NewTask(k.Sched, pid, 0, func(t *sched.Task) {
		tg := process.Of(t)
		entry, err := k.Disp.Loader(as, append([]string{k.Config.Init}, k.Config.InitArgs...), nil)
		if err != nil {
			klog.Errorf("boot: failed to load init %q: %v", k.Config.Init, err)
			process.ExitGroup(tg, process.ExitStatus{Code: 127})
			return
		}
		klog.Infof("boot: entering user mode at %#x for %q", entry, k.Config.Init)
		k.Disp.Continue(t, tg)
	})

	tg := process.NewInitThreadGroup(pid, leader, creds, as)
	k.register(tg)
	k.initTG = tg
	k.initTask = leader

	if k.Config.DebugStop {
		klog.Infof("boot: --debug-stop set, init task held before first run")
		return nil
	}

	leader.Start()
	k.Trace.Emit(ktrace.EventTaskStart, fmt.Sprintf("init pid=%d", pid))

	return k.Sched.Run(ctx)
}

// tableFor selects the per-ISA syscall table (spec.md §9's open question:
// "a specification implementer must settle on a single list per ISA").
func (k *Kernel) tableFor(isa arch.ISA) ksys.Table {
	switch isa {
	case arch.ARM64:
		return k.Disp.ARM64Table()
	default:
		return k.Disp.AMD64Table()
	}
}

// InitThreadGroup returns the boot-created init process, or nil before
// StartInit has run. Exposed for the property-test harness and for
// Kernel.ProcMaps/SchedDebug introspection.
func (k *Kernel) InitThreadGroup() *process.ThreadGroup { return k.initTG }

// Resume releases an init task held by --debug-stop, letting the
// property-test harness inspect boot-time state before user mode begins.
func (k *Kernel) Resume(ctx context.Context) error {
	if k.initTask == nil {
		return syserr.New(syserr.KindInvalid, "boot: Resume called before StartInit")
	}
	k.initTask.Start()
	k.Trace.Emit(ktrace.EventTaskStart, fmt.Sprintf("init pid=%d (resumed)", k.initTG.PID))
	return k.Sched.Run(ctx)
}
