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

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Signal is a Linux signal number.
type Signal int

// SignalSet is a bitmask of pending or blocked signals, indexed by
// Signal-1 (signal numbers are 1-based).
type SignalSet uint64

func (s SignalSet) has(sig Signal) bool  { return s&(1<<uint(sig-1)) != 0 }
func (s SignalSet) with(sig Signal) SignalSet {
	return s | 1<<uint(sig-1)
}
func (s SignalSet) without(sig Signal) SignalSet {
	return s &^ (1 << uint(sig-1))
}

// Disposition is the action a signal triggers when delivered.
type Disposition int

const (
	// DispositionDefault runs the POSIX default action for the signal.
	DispositionDefault Disposition = iota
	// DispositionIgnore drops the signal silently.
	DispositionIgnore
	// DispositionHandler invokes a user-installed handler.
	DispositionHandler
)

// DefaultAction is the POSIX default action taken for a signal whose
// disposition is DispositionDefault.
type DefaultAction int

const (
	ActionTerminate DefaultAction = iota
	ActionCoreDump
	ActionStop
	ActionContinue
	ActionIgnore
)

func defaultActionFor(sig Signal) DefaultAction {
	switch unix.Signal(sig) {
	case unix.SIGCHLD, unix.SIGURG, unix.SIGWINCH:
		return ActionIgnore
	case unix.SIGSTOP, unix.SIGTSTP, unix.SIGTTIN, unix.SIGTTOU:
		return ActionStop
	case unix.SIGCONT:
		return ActionContinue
	case unix.SIGQUIT, unix.SIGILL, unix.SIGABRT, unix.SIGFPE, unix.SIGSEGV, unix.SIGBUS, unix.SIGTRAP:
		return ActionCoreDump
	default:
		return ActionTerminate
	}
}

// uninterruptible signals cannot be blocked, ignored, or caught: SIGKILL and
// SIGSTOP (POSIX).
func uninterruptible(sig Signal) bool {
	return unix.Signal(sig) == unix.SIGKILL || unix.Signal(sig) == unix.SIGSTOP
}

// SignalAction records how a thread group handles one signal number.
type SignalAction struct {
	Disposition Disposition
	Mask        SignalSet // additional signals blocked while the handler runs
}

// SignalState is the signal-related state spec.md §4.7 attaches to a task:
// a per-thread pending set and mask, plus a pointer to the per-process
// pending set and shared action table it shares with its thread group.
type SignalState struct {
	mu sync.Mutex

	pending SignalSet
	mask    SignalSet

	shared *sharedSignalState
}

// sharedSignalState is the thread-group-wide portion of signal state:
// process-directed pending signals and the disposition table, both of which
// every thread in the group observes identically (POSIX signal semantics).
type sharedSignalState struct {
	mu      sync.Mutex
	pending SignalSet
	actions [64]SignalAction
}

func newSignalState(shared *sharedSignalState) *SignalState {
	return &SignalState{shared: shared}
}

func newSharedSignalState() *sharedSignalState {
	return &sharedSignalState{}
}

// Clone returns signal state for a new thread sharing shared's action table
// (used by clone() with CLONE_SIGHAND) or with a private copy (fork(), which
// always gets its own SignalAction table per POSIX).
func (s *SignalState) Clone(shareActions bool) *SignalState {
	s.mu.Lock()
	mask := s.mask
	s.mu.Unlock()

	shared := s.shared
	if !shareActions {
		s.shared.mu.Lock()
		cp := &sharedSignalState{pending: s.shared.pending, actions: s.shared.actions}
		s.shared.mu.Unlock()
		shared = cp
	}
	return &SignalState{mask: mask, shared: shared}
}

// SetMask installs a new blocked-signal mask, ignoring attempts to block
// SIGKILL/SIGSTOP.
func (s *SignalState) SetMask(mask SignalSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mask = mask &^ (SignalSet(0).with(Signal(unix.SIGKILL)).with(Signal(unix.SIGSTOP)))
}

// Post marks sig pending for this thread specifically (as opposed to the
// thread group at large).
func (s *SignalState) Post(sig Signal) {
	s.mu.Lock()
	s.pending = s.pending.with(sig)
	s.mu.Unlock()
}

// PostGroup marks sig pending for the thread group; any thread that does
// not have it masked may observe and deliver it.
func (s *SignalState) PostGroup(sig Signal) {
	s.shared.mu.Lock()
	s.shared.pending = s.shared.pending.with(sig)
	s.shared.mu.Unlock()
}

// SetAction installs act as sig's disposition for the whole thread group.
func (s *SignalState) SetAction(sig Signal, act SignalAction) {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	s.shared.actions[sig-1] = act
}

// ClearHandlers resets every signal whose disposition is DispositionHandler
// back to DispositionDefault, per execve()'s "clears signal handlers set to
// default" (spec.md §4.7); signals set to Ignore survive exec, matching
// Linux/POSIX.
func (s *SignalState) ClearHandlers() {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	for i := range s.shared.actions {
		if s.shared.actions[i].Disposition == DispositionHandler {
			s.shared.actions[i] = SignalAction{}
		}
	}
}

// Deliverable reports whether an interruptable syscall wait should be
// cancelled by sig, i.e. sig is not blocked and its disposition is not
// Ignore (spec.md §4.8's "if a signal that would interrupt syscalls is
// pending").
func (s *SignalState) Deliverable(sig Signal) bool {
	if uninterruptible(sig) {
		return true
	}
	s.mu.Lock()
	blocked := s.mask.has(sig)
	s.mu.Unlock()
	if blocked {
		return false
	}
	s.shared.mu.Lock()
	act := s.shared.actions[sig-1]
	s.shared.mu.Unlock()
	return act.Disposition != DispositionIgnore
}

// Pending reports whether any deliverable signal is pending for this
// thread, checking both the per-thread and per-process pending sets.
func (s *SignalState) Pending() (Signal, bool) {
	s.mu.Lock()
	mask := s.mask
	local := s.pending
	s.mu.Unlock()
	s.shared.mu.Lock()
	group := s.shared.pending
	s.shared.mu.Unlock()

	candidates := (local | group) &^ mask
	for sig := Signal(1); sig <= 64; sig++ {
		if candidates.has(sig) && s.Deliverable(sig) {
			return sig, true
		}
	}
	return 0, false
}

// Consume clears sig from both pending sets, called once it has been
// delivered (to a handler or via a default action).
func (s *SignalState) Consume(sig Signal) {
	s.mu.Lock()
	s.pending = s.pending.without(sig)
	s.mu.Unlock()
	s.shared.mu.Lock()
	s.shared.pending = s.shared.pending.without(sig)
	s.shared.mu.Unlock()
}

// Action returns sig's current disposition and default action.
func (s *SignalState) Action(sig Signal) (SignalAction, DefaultAction) {
	s.shared.mu.Lock()
	act := s.shared.actions[sig-1]
	s.shared.mu.Unlock()
	return act, defaultActionFor(sig)
}
