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

package hostplat

import (
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// RunUser traces argv as a stand-in for a user-mode task: the child is
// started with PTRACE_TRACEME (via exec.Cmd's Ptrace SysProcAttr, the
// standard Go idiom for tracing a freshly-exec'd child) and then run one
// syscall-stop at a time with PTRACE_SYSCALL, alternating between syscall
// entry and exit stops the way Linux's ptrace(2) documents. Each entry
// stop is translated into an ExceptionState and handed to the installed
// fast-syscall handler, mirroring what a real ISA's `syscall`/`svc`
// trampoline does in hardware.
//
// RunUser blocks until the traced child exits and returns its exit code.
// It is a development/test facility, not a production task-hosting
// mechanism: gvisor's own ptrace platform pools and reuses traced stub
// subprocesses across many tasks (pkg/sentry/platform/ptrace's subprocess
// pool), which this backend does not replicate.
func (h *HAL) RunUser(cpu int, argv []string) (int, error) {
	if len(argv) == 0 {
		return 0, fmt.Errorf("hostplat: RunUser requires a non-empty argv")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("hostplat: starting traced child: %w", err)
	}
	pid := cmd.Process.Pid

	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return 0, fmt.Errorf("hostplat: waiting for initial trap: %w", err)
	}

	entering := true
	for {
		if err := unix.PtraceSyscall(pid, 0); err != nil {
			return 0, fmt.Errorf("hostplat: PTRACE_SYSCALL: %w", err)
		}
		if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
			return 0, fmt.Errorf("hostplat: wait4: %w", err)
		}
		if ws.Exited() {
			return ws.ExitStatus(), nil
		}
		if !ws.Stopped() {
			continue
		}

		var regs unix.PtraceRegs
		if err := unix.PtraceGetRegs(pid, &regs); err != nil {
			return 0, fmt.Errorf("hostplat: PTRACE_GETREGS: %w", err)
		}

		if entering {
			es := stateFromPtrace(&regs)
			if fn := h.syscallHandler(); fn != nil {
				fn(cpu, es)
			}
			stateToPtrace(es, &regs)
			if err := unix.PtraceSetRegs(pid, &regs); err != nil {
				return 0, fmt.Errorf("hostplat: PTRACE_SETREGS: %w", err)
			}
		}
		entering = !entering
	}
}
