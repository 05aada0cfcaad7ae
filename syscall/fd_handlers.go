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
	"context"
	"io"

	"github.com/hexagonal-sun/moss-kernel/arch"
	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
	"github.com/hexagonal-sun/moss-kernel/kernel/syserr"
	"github.com/hexagonal-sun/moss-kernel/process"
	"github.com/hexagonal-sun/moss-kernel/sched"
)

// maxIOChunk bounds one read(2)/write(2) call's kernel-side buffer,
// standing in for Linux's own per-syscall clamp on huge counts (Linux
// silently caps at MAX_RW_COUNT, ~2 GiB rounded to a page; this exercise's
// bound is far smaller since there is no real device backing these
// descriptors to stream through).
const maxIOChunk = 1 << 20

// reader and writer are the optional capabilities a process.File may
// implement beyond Close; read(2)/write(2) type-assert for them rather
// than widening process.File's own contract, the same "ask only for what
// you need" idiom Go's io package itself follows with io.ReaderFrom/
// io.WriterTo.
type reader interface {
	Read([]byte) (int, error)
}

type writer interface {
	Write([]byte) (int, error)
}

// Read implements read(2): args[0] is the fd, args[1] the user buffer
// address, args[2] the requested count.
func (d *Dispatcher) Read(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	file, _, ok := tg.FDs.Get(int32(args[0]))
	if !ok {
		return 0, syserr.ErrNotFound
	}
	r, ok := file.(reader)
	if !ok {
		return 0, syserr.ErrNotSupported
	}

	count := args[2]
	if count > maxIOChunk {
		count = maxIOChunk
	}
	buf := make([]byte, count)
	n, rerr := r.Read(buf)
	if n > 0 {
		if _, cerr := tg.AS.CopyToUser(kaddr.UserVirtual(args[1]), buf[:n]); cerr != nil {
			return 0, syserr.ErrFault
		}
	}
	if rerr != nil && rerr != io.EOF {
		return 0, syserr.ErrIoError
	}
	return uint64(n), nil
}

// Write implements write(2).
func (d *Dispatcher) Write(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	file, _, ok := tg.FDs.Get(int32(args[0]))
	if !ok {
		return 0, syserr.ErrNotFound
	}
	w, ok := file.(writer)
	if !ok {
		return 0, syserr.ErrNotSupported
	}

	count := args[2]
	if count > maxIOChunk {
		count = maxIOChunk
	}
	buf := make([]byte, count)
	n, cerr := tg.AS.CopyFromUser(buf, kaddr.UserVirtual(args[1]))
	if cerr != nil && n == 0 {
		return 0, syserr.ErrFault
	}
	written, werr := w.Write(buf[:n])
	if werr != nil {
		return uint64(written), syserr.ErrIoError
	}
	return uint64(written), nil
}

// Close implements close(2).
func (d *Dispatcher) Close(ctx context.Context, t *sched.Task, tg *process.ThreadGroup, es arch.ExceptionState, args Args) (uint64, error) {
	file := tg.FDs.Remove(int32(args[0]))
	if file == nil {
		return 0, syserr.ErrNotFound
	}
	if err := file.Close(); err != nil {
		return 0, syserr.ErrIoError
	}
	return 0, nil
}
