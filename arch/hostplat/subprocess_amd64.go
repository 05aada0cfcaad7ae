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

//go:build amd64

package hostplat

import (
	"golang.org/x/sys/unix"

	"github.com/hexagonal-sun/moss-kernel/arch"
	amd64arch "github.com/hexagonal-sun/moss-kernel/arch/amd64"
)

var hostISA = arch.AMD64

// stateFromPtrace translates the host's PTRACE_GETREGS result into the
// portable amd64.ExceptionState layout, following the field-by-field
// mapping gvisor's ptrace-arch glue performs between unix.PtraceRegs and
// its own arch.Registers (arch_amd64.go).
func stateFromPtrace(regs *unix.PtraceRegs) *amd64arch.ExceptionState {
	return &amd64arch.ExceptionState{
		R15: regs.R15, R14: regs.R14, R13: regs.R13, R12: regs.R12,
		R11: regs.R11, R10: regs.R10, R9: regs.R9, R8: regs.R8,
		Rbp: regs.Rbp, Rdi: regs.Rdi, Rsi: regs.Rsi,
		Rdx: regs.Rdx, Rcx: regs.Rcx, Rbx: regs.Rbx, Rax: regs.Rax,
		OrigRax: regs.Orig_rax,
		Rip:     regs.Rip,
		Cs:      regs.Cs,
		Eflags:  regs.Eflags,
		Rsp:     regs.Rsp,
		Ss:      regs.Ss,
		Fs:      regs.Fs_base,
		Gs:      regs.Gs_base,
	}
}

// stateToPtrace writes es back into regs before PTRACE_SETREGS, so a
// syscall handler's SetReturn/SetPC calls take effect in the traced child.
func stateToPtrace(es *amd64arch.ExceptionState, regs *unix.PtraceRegs) {
	regs.R15, regs.R14, regs.R13, regs.R12 = es.R15, es.R14, es.R13, es.R12
	regs.R11, regs.R10, regs.R9, regs.R8 = es.R11, es.R10, es.R9, es.R8
	regs.Rbp, regs.Rdi, regs.Rsi = es.Rbp, es.Rdi, es.Rsi
	regs.Rdx, regs.Rcx, regs.Rbx, regs.Rax = es.Rdx, es.Rcx, es.Rbx, es.Rax
	regs.Orig_rax = es.OrigRax
	regs.Rip = es.Rip
	regs.Rsp = es.Rsp
}
