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

// AMD64Table builds the x86-64 syscall table, numbered per the host Linux
// amd64 ABI (spec.md §6's "implementers must honor the numbering of the
// host Linux ABI for the ISA"), grounded on gvisor's
// pkg/sentry/syscalls/linux/linux64.go table shape and numbering, trimmed
// to the handler set this exercise implements; every other number falls
// through Dispatch's default -ENOSYS path, exactly as an unrecognized
// syscall does on real Linux for a syscall the kernel build has disabled.
func (d *Dispatcher) AMD64Table() Table {
	return Table{
		0:   d.Read,
		1:   d.Write,
		3:   d.Close,
		9:   d.Mmap,
		10:  d.Mprotect,
		11:  d.Munmap,
		12:  d.Brk,
		24:  d.SchedYield,
		39:  d.Getpid,
		56:  d.Clone,
		57:  d.Fork,
		59:  d.Execve,
		60:  d.Exit,
		61:  d.Wait4,
		62:  d.Kill,
		109: d.Setpgid,
		112: d.Setsid,
		121: d.Getpgid,
		124: d.Getsid,
		202: d.Futex,

		186: d.Gettid,
		231: d.ExitGroup,
		334: d.Rseq,
	}
}
