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

// ARM64Table builds the AArch64 syscall table, numbered per gvisor's
// pkg/sentry/syscalls/linux/linux64_arm64.go (the generic arm64 Linux ABI,
// which, unlike amd64, has no fork(2)/vfork(2) syscall numbers at all;
// libc's fork() wrapper is implemented purely in terms of clone(2) with
// SIGCHLD, so this table has no Fork entry). mmap(2)'s arm64 number (222)
// is not populated in the retrieved linux64_arm64.go window this table was
// grounded on, so it is taken directly from the standard arm64
// asm-generic/unistd.h numbering instead.
func (d *Dispatcher) ARM64Table() Table {
	return Table{
		57: d.Close,
		63: d.Read,
		64: d.Write,

		93: d.Exit,
		94: d.ExitGroup,
		98: d.Futex,

		124: d.SchedYield,
		129: d.Kill,

		154: d.Setpgid,
		155: d.Getpgid,
		156: d.Getsid,
		157: d.Setsid,

		172: d.Getpid,
		178: d.Gettid,

		214: d.Brk,
		215: d.Munmap,
		220: d.Clone,
		221: d.Execve,
		222: d.Mmap,
		226: d.Mprotect,

		260: d.Wait4,
		293: d.Rseq,
	}
}
