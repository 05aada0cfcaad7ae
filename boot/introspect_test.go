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
	"testing"

	"github.com/hexagonal-sun/moss-kernel/arch/hostplat"
	"github.com/hexagonal-sun/moss-kernel/mm"
	"github.com/hexagonal-sun/moss-kernel/process"
	"github.com/hexagonal-sun/moss-kernel/sched"
)

func newHeldTestKernel(t *testing.T) *Kernel {
	t.Helper()
	cfg, err := ParseCmdLine("--init=/bin/true --debug-stop")
	if err != nil {
		t.Fatalf("ParseCmdLine: %v", err)
	}
	cfg.NumCPU = 1

	hal := hostplat.New(cfg.NumCPU)
	loader := func(newAS *mm.AddressSpace, argv, envp []string) (uintptr, error) { return 0, nil }
	resume := func(tsk *sched.Task, tg *process.ThreadGroup) {
		process.ExitGroup(tg, process.ExitStatus{Code: 0})
	}

	k := New(cfg, hal, func() mm.PageTable { return mm.NewSimplePageTable() }, loader, resume)
	if err := k.Bringup(testBootInfo()); err != nil {
		t.Fatalf("Bringup: %v", err)
	}
	if err := k.StartInit(context.Background(), nil); err != nil {
		t.Fatalf("StartInit: %v", err)
	}
	return k
}

func TestProcMapsUnknownPidErrors(t *testing.T) {
	k := newHeldTestKernel(t)
	if _, err := k.ProcMaps(9999); err == nil {
		t.Fatal("ProcMaps on an unknown pid should error")
	}
}

func TestProcMapsReflectsInitAddressSpace(t *testing.T) {
	k := newHeldTestKernel(t)
	tg := k.InitThreadGroup()

	if _, err := tg.AS.Mmap(nil, 0x1000, mm.ProtRead, mm.BackingAnonymous, mm.SharingPrivate); err != nil {
		t.Fatalf("Mmap: %v", err)
	}

	lines, err := k.ProcMaps(tg.PID)
	if err != nil {
		t.Fatalf("ProcMaps: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("ProcMaps(init pid) returned %d lines, want 1", len(lines))
	}
}

func TestSchedDebugReportsConfiguredCPUCount(t *testing.T) {
	k := newHeldTestKernel(t)
	snap := k.SchedDebug()
	if len(snap) != k.Sched.NumCPU() {
		t.Fatalf("SchedDebug returned %d entries, want %d", len(snap), k.Sched.NumCPU())
	}
}

func TestUsageUnknownPidErrors(t *testing.T) {
	k := newHeldTestKernel(t)
	if _, err := k.Usage(9999); err == nil {
		t.Fatal("Usage on an unknown pid should error")
	}
}

func TestPtraceAttachHaltsInitAtNextSyscallExit(t *testing.T) {
	k := newHeldTestKernel(t)
	tg := k.InitThreadGroup()

	if err := k.PtraceAttach(tg.PID); err != nil {
		t.Fatalf("PtraceAttach: %v", err)
	}
	if !tg.Leader().Traced() {
		t.Fatal("PtraceAttach did not mark the init task traced")
	}

	if err := k.PtraceDetach(tg.PID); err != nil {
		t.Fatalf("PtraceDetach: %v", err)
	}
	if tg.Leader().Traced() {
		t.Fatal("PtraceDetach left the init task traced")
	}
}

func TestPtraceOperationsUnknownPidError(t *testing.T) {
	k := newHeldTestKernel(t)
	if err := k.PtraceAttach(9999); err == nil {
		t.Fatal("PtraceAttach on an unknown pid should error")
	}
	if err := k.PtraceDetach(9999); err == nil {
		t.Fatal("PtraceDetach on an unknown pid should error")
	}
	if err := k.PtraceCont(9999); err == nil {
		t.Fatal("PtraceCont on an unknown pid should error")
	}
}
