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

// Mutex is a sleeping mutual-exclusion lock. Unlike Spinlock, a task may
// hold a Mutex across a suspension point; blocked waiters queue on a
// WakerSet and are woken in FIFO order on release.
type Mutex struct {
	wakers WakerSet
	state  chan struct{} // buffered(1); a token in the channel means "unlocked"
	initd  bool
}

func (m *Mutex) lazyInit() {
	if !m.initd {
		m.state = make(chan struct{}, 1)
		m.state <- struct{}{}
		m.initd = true
	}
}

// Lock blocks the calling goroutine until the mutex is acquired or ctx is
// done, whichever comes first.
func (m *Mutex) Lock(ctx context.Context) error {
	m.lazyInit()
	select {
	case <-m.state:
		return nil
	default:
	}
	handle := m.wakers.Register()
	defer m.wakers.Cancel(handle)
	for {
		select {
		case <-m.state:
			return nil
		case <-handle.C():
			select {
			case <-m.state:
				return nil
			default:
			}
			handle = m.wakers.Register()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Unlock releases the mutex and wakes the longest-waiting blocked task, if
// any, in FIFO order.
func (m *Mutex) Unlock() {
	m.lazyInit()
	select {
	case m.state <- struct{}{}:
	default:
		panic("ksync: Unlock of unlocked Mutex")
	}
	m.wakers.WakeOne()
}
