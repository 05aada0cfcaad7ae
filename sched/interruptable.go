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

package sched

import (
	"context"

	"github.com/hexagonal-sun/moss-kernel/kernel/syserr"
)

// Interruptable wraps a blocking syscall future so that a signal delivered
// to t while it is suspended aborts the wait instead of letting it run to
// completion, replacing Linux's EINTR semantics (spec.md §4.6, §4.8). fn is
// handed a context derived from ctx that package process's signal-delivery
// path can cancel via t.Interrupt(); if fn's context is the one that ended
// up cancelled (rather than the caller's own ctx), Interruptable reports
// syserr.ErrInterrupted instead of fn's own error.
func Interruptable(ctx context.Context, t *Task, fn func(ctx context.Context) error) error {
	ictx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.armInterrupt(cancel)
	defer t.disarmInterrupt()

	err := fn(ictx)
	if err != nil && ictx.Err() == context.Canceled && ctx.Err() == nil {
		return syserr.ErrInterrupted
	}
	return err
}
