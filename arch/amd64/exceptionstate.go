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

// Package amd64 supplies the x86-64 half of the architecture HAL contract
// defined by package arch: the frozen ExceptionState register layout, the
// syscall ABI's argument-register mapping, and a from-scratch four-level
// page table (spec.md §4.1/§4.4), grounded on gvisor's
// pkg/sentry/arch/arch_amd64.go (register layout) and
// pkg/ring0/pagetables/pagetables_amd64.go (level shifts, entriesPerPage,
// PTE flag bits).
package amd64

import "github.com/hexagonal-sun/moss-kernel/arch"

// ExceptionState is the x86-64 register-save layout populated by a trap or
// fast-syscall entry. Field order and size are frozen: real assembly (or,
// under arch/hostplat, a ptrace GETREGS call) writes into this layout by
// fixed offset, so it must not be reordered without updating every writer.
type ExceptionState struct {
	R15, R14, R13, R12 uint64
	R11, R10, R9, R8   uint64
	Rbp, Rdi, Rsi      uint64
	Rdx, Rcx, Rbx, Rax uint64
	// OrigRax preserves the syscall number across a handler that
	// mutates Rax to stash an intermediate result, needed by
	// RestartSyscall-style semantics.
	OrigRax           uint64
	Rip               uint64
	Cs                uint64
	Eflags            uint64
	Rsp               uint64
	Ss                uint64
	Fs, Gs            uint64
	Cr2               uint64 // faulting address, valid for TrapPageFault only
}

func (e *ExceptionState) PC() uint64      { return e.Rip }
func (e *ExceptionState) SetPC(v uint64)  { e.Rip = v }
func (e *ExceptionState) SP() uint64      { return e.Rsp }
func (e *ExceptionState) SetSP(v uint64)  { e.Rsp = v }
func (e *ExceptionState) FaultAddr() uint64 { return e.Cr2 }

// SyscallNo returns the syscall number the amd64 `syscall` instruction
// received in RAX, as preserved in OrigRax.
func (e *ExceptionState) SyscallNo() uint64 { return e.OrigRax }

// SyscallArg returns the i'th syscall argument register in Linux's amd64
// ABI order: RDI, RSI, RDX, R10, R8, R9 (R10 replaces RCX, which the
// `syscall` instruction clobbers with the return address).
func (e *ExceptionState) SyscallArg(i int) uint64 {
	switch i {
	case 0:
		return e.Rdi
	case 1:
		return e.Rsi
	case 2:
		return e.Rdx
	case 3:
		return e.R10
	case 4:
		return e.R8
	case 5:
		return e.R9
	default:
		return 0
	}
}

func (e *ExceptionState) SetReturn(v uint64) { e.Rax = v }

// Clone returns an independent copy, satisfying arch.ExceptionState.
func (e *ExceptionState) Clone() arch.ExceptionState {
	cp := *e
	return &cp
}

var _ arch.ExceptionState = (*ExceptionState)(nil)
