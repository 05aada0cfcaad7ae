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

package process

import "github.com/hexagonal-sun/moss-kernel/kernel/syserr"

// Pgid returns tg's process-group id (spec.md §3's process-group and
// session memberships), grounded on the moss original's per-thread-group
// `pgid: Lock<Pgid>` field (src/process/thread_group/wait.rs's `tg.pgid`
// reads in do_wait/find_waitable).
func (tg *ThreadGroup) Pgid() uint64 {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return tg.pgid
}

// Sid returns tg's session id.
func (tg *ThreadGroup) Sid() uint64 {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return tg.sid
}

// isSessionLeader reports whether tg is the leader of its own session,
// i.e. the process whose PID gave the session its id. Callers must hold
// tg.mu.
func (tg *ThreadGroup) isSessionLeader() bool {
	return tg.PID == tg.sid
}

// Setpgid implements setpgid(2): target joins process group pgid, or a new
// group numbered by target's own PID if pgid is 0 (spec.md §3). Mirrors
// POSIX's restriction that a session leader's process group can never be
// changed, since a session leader always founds its own group.
func Setpgid(target *ThreadGroup, pgid uint64) error {
	target.mu.Lock()
	defer target.mu.Unlock()

	if target.isSessionLeader() {
		return syserr.ErrPermissionDenied
	}
	if pgid == 0 {
		pgid = target.PID
	}
	target.pgid = pgid
	return nil
}

// Getpgid implements getpgid(2).
func Getpgid(target *ThreadGroup) uint64 {
	return target.Pgid()
}

// Setsid implements setsid(2): tg becomes the leader of a new session and,
// with it, a new process group, both numbered by tg's own PID (spec.md §3).
// Fails if tg is already a process-group leader, matching POSIX (a session
// leader cannot also already be leading some other group under the old
// session).
func Setsid(tg *ThreadGroup) (uint64, error) {
	tg.mu.Lock()
	defer tg.mu.Unlock()

	if tg.pgid == tg.PID {
		return 0, syserr.ErrPermissionDenied
	}
	tg.sid = tg.PID
	tg.pgid = tg.PID
	return tg.PID, nil
}

// Getsid implements getsid(2).
func Getsid(target *ThreadGroup) uint64 {
	return target.Sid()
}
