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

import (
	"encoding/binary"

	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
	"github.com/hexagonal-sun/moss-kernel/kernel/syserr"
	"github.com/hexagonal-sun/moss-kernel/mm"
)

// maxCStringLen and maxVectorLen bound execve's argv/envp copy-in, standing
// in for Linux's MAX_ARG_STRLEN/comparable argv/envp size limits so a
// malicious or buggy user program cannot make the kernel copy unboundedly
// much data in from an untrusted pointer chain.
const (
	maxCStringLen = 4096
	maxVectorLen  = 256
)

// copyInCString reads a NUL-terminated string out of as starting at addr,
// the same shape of primitive gvisor's loader/task_context copy-in helpers
// build on top of usermem.IO.CopyIn; here it is built directly on
// AddressSpace.CopyFromUser since this exercise has no separate usermem.IO
// layer.
func copyInCString(as *mm.AddressSpace, addr kaddr.UserVirtual) (string, error) {
	var out []byte
	var chunk [64]byte
	for len(out) < maxCStringLen {
		n, err := as.CopyFromUser(chunk[:], addr+kaddr.UserVirtual(len(out)))
		if err != nil && n == 0 {
			return "", err
		}
		if nul := indexByte(chunk[:n], 0); nul >= 0 {
			return string(append(out, chunk[:nul]...)), nil
		}
		out = append(out, chunk[:n]...)
		if n < len(chunk) {
			break
		}
	}
	return string(out), nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// copyInVector reads a NUL-pointer-terminated array of string pointers out
// of as starting at addr (execve's argv/envp shape) and copies in each
// string they point to.
func copyInVector(as *mm.AddressSpace, addr kaddr.UserVirtual) ([]string, error) {
	if addr == 0 {
		return nil, nil
	}
	var out []string
	for i := 0; i < maxVectorLen; i++ {
		var raw [8]byte
		if _, err := as.CopyFromUser(raw[:], addr+kaddr.UserVirtual(i*8)); err != nil {
			return nil, err
		}
		ptr := binary.LittleEndian.Uint64(raw[:])
		if ptr == 0 {
			return out, nil
		}
		s, err := copyInCString(as, kaddr.UserVirtual(ptr))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return nil, syserr.New(syserr.KindInvalid, "syscall: argv/envp vector exceeds implementation limit")
}
