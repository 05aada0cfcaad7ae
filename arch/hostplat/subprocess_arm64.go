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

//go:build arm64

package hostplat

import (
	"golang.org/x/sys/unix"

	"github.com/hexagonal-sun/moss-kernel/arch"
	arm64arch "github.com/hexagonal-sun/moss-kernel/arch/arm64"
)

var hostISA = arch.ARM64

// stateFromPtrace translates the host's PTRACE_GETREGS result into the
// portable arm64.ExceptionState layout, matching gvisor's
// arch_aarch64.go's Registers{ptRegs linux.PtraceRegs, TPIDR_EL0} shape.
func stateFromPtrace(regs *unix.PtraceRegs) *arm64arch.ExceptionState {
	var es arm64arch.ExceptionState
	copy(es.Regs[:], regs.Regs[:])
	es.Sp = regs.Sp
	es.Pc = regs.Pc
	es.Pstate = regs.Pstate
	return &es
}

// stateToPtrace writes es back into regs before PTRACE_SETREGS.
func stateToPtrace(es *arm64arch.ExceptionState, regs *unix.PtraceRegs) {
	copy(regs.Regs[:], es.Regs[:])
	regs.Sp = es.Sp
	regs.Pc = es.Pc
	regs.Pstate = es.Pstate
}
