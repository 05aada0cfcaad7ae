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

// Package arm64 supplies the AArch64 half of the architecture HAL contract
// defined by package arch: the frozen ExceptionState register layout, the
// svc/eret syscall ABI's argument-register mapping, and a from-scratch
// three-level page table over TTBR0_EL1 (spec.md §4.1/§4.4), grounded on
// gvisor's pkg/sentry/arch/arch_aarch64.go (Registers/TPIDR_EL0 shape) and
// pkg/ring0/pagetables/pagetables_arm64.go (level layout).
package arm64

import "github.com/hexagonal-sun/moss-kernel/arch"

// ExceptionState is the AArch64 register-save layout populated by a trap
// or svc entry. X0-X29 are the general-purpose registers, X30 is the link
// register; Sp/Pc/Pstate/Far mirror Linux's struct user_pt_regs plus the
// fault address register captured on a data/instruction abort.
type ExceptionState struct {
	Regs   [31]uint64 // X0..X30
	Sp     uint64
	Pc     uint64
	Pstate uint64
	Tpidr  uint64 // TLS base, TPIDR_EL0
	Far    uint64 // FAR_EL1, valid for data/instruction aborts only
}

func (e *ExceptionState) PC() uint64        { return e.Pc }
func (e *ExceptionState) SetPC(v uint64)    { e.Pc = v }
func (e *ExceptionState) SP() uint64        { return e.Sp }
func (e *ExceptionState) SetSP(v uint64)    { e.Sp = v }
func (e *ExceptionState) FaultAddr() uint64 { return e.Far }

// SyscallNo returns X8, the AArch64 `svc` instruction's ABI-defined
// syscall-number register.
func (e *ExceptionState) SyscallNo() uint64 { return e.Regs[8] }

// SyscallArg returns the i'th syscall argument register: X0-X5, per the
// AAPCS64/Linux syscall calling convention.
func (e *ExceptionState) SyscallArg(i int) uint64 {
	if i < 0 || i > 5 {
		return 0
	}
	return e.Regs[i]
}

func (e *ExceptionState) SetReturn(v uint64) { e.Regs[0] = v }

// Clone returns an independent copy, satisfying arch.ExceptionState.
func (e *ExceptionState) Clone() arch.ExceptionState {
	cp := *e
	return &cp
}

var _ arch.ExceptionState = (*ExceptionState)(nil)
