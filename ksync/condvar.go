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

package ksync

import "context"

// CondVar is a condition variable associated with a Mutex. Wait atomically
// releases the mutex and suspends the caller until Notify wakes it, then
// reacquires the mutex before returning, matching pthread_cond_wait
// semantics.
type CondVar struct {
	wakers WakerSet
}

// Wait releases m, suspends until Notify or NotifyAll wakes this waiter (or
// ctx is done), then reacquires m. Callers must re-check their predicate in
// a loop: a wakeup is not a guarantee the predicate now holds.
func (c *CondVar) Wait(ctx context.Context, m *Mutex) error {
	handle := c.wakers.Register()
	m.Unlock()
	select {
	case <-handle.C():
	case <-ctx.Done():
		c.wakers.Cancel(handle)
		// Fall through to reacquire m regardless, matching pthread
		// semantics: the caller always leaves Wait holding m.
		if lockErr := m.Lock(context.Background()); lockErr != nil {
			return lockErr
		}
		return ctx.Err()
	}
	return m.Lock(ctx)
}

// Notify wakes one waiter.
func (c *CondVar) Notify() { c.wakers.WakeOne() }

// NotifyAll wakes every current waiter.
func (c *CondVar) NotifyAll() { c.wakers.WakeAll() }
