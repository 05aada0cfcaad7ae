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

// Package process is the process-lifecycle layer above package sched
// (spec.md §4.7): thread groups, credentials, per-process file-descriptor
// tables, and signal state, plus the fork/clone/execve/exit/wait handlers
// that drive them.
package process

// Credentials mirrors the subset of Linux's task_struct::cred that the
// syscall layer needs, grounded on gvisor's pkg/sentry/kernel/auth package
// shape (real, saved and effective ID pairs, plus a group list).
type Credentials struct {
	UID, EUID, SUID, FSUID uint32
	GID, EGID, SGID, FSGID uint32
	Groups                 []uint32
}

// Clone returns an independent copy, used by fork/clone so the child does
// not alias the parent's Groups slice.
func (c *Credentials) Clone() *Credentials {
	cp := *c
	cp.Groups = append([]uint32(nil), c.Groups...)
	return &cp
}

// RootCredentials returns the credentials of the boot-time init process.
func RootCredentials() *Credentials {
	return &Credentials{}
}
