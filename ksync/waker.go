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

import "sync"

// wakerID identifies a registered waiter within a WakerSet.
type wakerID uint64

// Handle is returned by WakerSet.Register. The awaiting task selects on
// C() alongside its own cancellation channel.
type Handle struct {
	id wakerID
	c  chan struct{}
}

// C returns the channel that is closed (Go's idiomatic one-shot signal)
// when this handle is woken.
func (h Handle) C() <-chan struct{} { return h.c }

// WakerSet is a collection of suspended tasks' wake handles, kept in
// registration order.
// Waking a task that already unregistered (because it was woken, cancelled,
// or gave up) is a documented no-op (spec.md §3, Waker set invariant).
type WakerSet struct {
	mu      sync.Mutex
	nextID  wakerID
	order   []wakerID
	waiters map[wakerID]chan struct{}
}

func (w *WakerSet) lazyInit() {
	if w.waiters == nil {
		w.waiters = make(map[wakerID]chan struct{})
	}
}

// Register adds the calling task to the set and returns a handle it can
// wait on. The task must arrange to call Cancel(handle) if it stops
// waiting for any reason other than being woken (context cancellation,
// giving up after a timeout).
func (w *WakerSet) Register() Handle {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lazyInit()
	id := w.nextID
	w.nextID++
	c := make(chan struct{})
	w.waiters[id] = c
	w.order = append(w.order, id)
	return Handle{id: id, c: c}
}

// Cancel removes h from the set without waking it. A no-op if h was already
// woken or cancelled.
func (w *WakerSet) Cancel(h Handle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeLocked(h.id)
}

func (w *WakerSet) removeLocked(id wakerID) {
	if _, ok := w.waiters[id]; !ok {
		return
	}
	delete(w.waiters, id)
	for i, o := range w.order {
		if o == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

// WakeOne wakes the longest-registered waiter still in the set, giving
// Mutex its FIFO release order. A no-op if the set is empty.
func (w *WakerSet) WakeOne() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lazyInit()
	for len(w.order) > 0 {
		id := w.order[0]
		w.order = w.order[1:]
		c, ok := w.waiters[id]
		if !ok {
			continue
		}
		delete(w.waiters, id)
		close(c)
		return
	}
}

// WakeUpTo wakes at most n of the longest-registered waiters still in the
// set, in FIFO order, and reports how many were actually woken. Used by
// futex(2)'s FUTEX_WAKE, which reports the number of waiters it woke.
func (w *WakerSet) WakeUpTo(n int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lazyInit()
	woken := 0
	for woken < n && len(w.order) > 0 {
		id := w.order[0]
		w.order = w.order[1:]
		c, ok := w.waiters[id]
		if !ok {
			continue
		}
		delete(w.waiters, id)
		close(c)
		woken++
	}
	return woken
}

// WakeAll wakes every currently registered waiter.
func (w *WakerSet) WakeAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lazyInit()
	for _, id := range w.order {
		if c, ok := w.waiters[id]; ok {
			close(c)
		}
	}
	w.waiters = make(map[wakerID]chan struct{})
	w.order = nil
}

// Len reports the number of currently registered waiters, for tests and
// scheduler debug introspection.
func (w *WakerSet) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.order)
}
