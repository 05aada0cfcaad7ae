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

	"github.com/hexagonal-sun/moss-kernel/kernel/syserr"
)

// File is the minimal contract the fd table needs from an open file
// description; the VFS and its filesystem drivers are out of scope for the
// kernel core (spec.md §1) and are named here only as this interface.
type File interface {
	Close() error
}

// FDFlags are the per-descriptor (not per-open-file) flags, matching
// gvisor's fd_table.go distinction between FDFlags (close-on-exec) and
// flags carried by the underlying open file description itself.
type FDFlags struct {
	CloseOnExec bool
}

type descriptor struct {
	file  File
	flags FDFlags
}

// FDTable is a process's file-descriptor table: a dense slice indexed by FD
// number plus a free list of holes, so NewFD's "lowest available FD" search
// (POSIX's open(2) guarantee) scans only the holes instead of gvisor's
// O(table size) forward scan in fd_table.go's NewFDs.
type FDTable struct {
	mu    sync.Mutex
	table []descriptor // table[fd].file == nil means fd is free
	free  []int32      // stack of fd numbers below len(table) known free
}

// NewFDTable returns an empty file-descriptor table.
func NewFDTable() *FDTable {
	return &FDTable{}
}

// NewFD installs file at the lowest available descriptor number >= lowerBound
// and returns it.
func (f *FDTable) NewFD(lowerBound int32, file File, flags FDFlags) (int32, error) {
	if lowerBound < 0 {
		return 0, syserr.New(syserr.KindInvalid, "process: negative fd lower bound")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	best := -1
	for i, fd := range f.free {
		if fd >= lowerBound && f.table[fd].file == nil && (best < 0 || fd < f.free[best]) {
			best = i
		}
	}
	if best >= 0 {
		fd := f.free[best]
		f.free[best] = f.free[len(f.free)-1]
		f.free = f.free[:len(f.free)-1]
		f.table[fd] = descriptor{file: file, flags: flags}
		return fd, nil
	}

	fd := int32(len(f.table))
	if fd < lowerBound {
		fd = lowerBound
		for int32(len(f.table)) < fd {
			f.table = append(f.table, descriptor{})
			f.free = append(f.free, int32(len(f.table)-1))
		}
	}
	f.table = append(f.table, descriptor{file: file, flags: flags})
	return fd, nil
}

// NewFDAt installs file at exactly fd, closing whatever was there.
func (f *FDTable) NewFDAt(fd int32, file File, flags FDFlags) error {
	if fd < 0 {
		return syserr.New(syserr.KindInvalid, "process: negative fd")
	}
	f.mu.Lock()
	for int32(len(f.table)) <= fd {
		f.free = append(f.free, int32(len(f.table)))
		f.table = append(f.table, descriptor{})
	}
	old := f.table[fd]
	f.table[fd] = descriptor{file: file, flags: flags}
	f.mu.Unlock()
	if old.file != nil {
		old.file.Close()
	}
	return nil
}

// Get returns the file installed at fd, if any.
func (f *FDTable) Get(fd int32) (File, FDFlags, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fd < 0 || int(fd) >= len(f.table) {
		return nil, FDFlags{}, false
	}
	d := f.table[fd]
	return d.file, d.flags, d.file != nil
}

// SetFlags rewrites the CloseOnExec-style flags of an existing descriptor.
func (f *FDTable) SetFlags(fd int32, flags FDFlags) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fd < 0 || int(fd) >= len(f.table) || f.table[fd].file == nil {
		return syserr.New(syserr.KindNotFound, "process: SetFlags on unused fd")
	}
	f.table[fd].flags = flags
	return nil
}

// Remove removes and returns the file at fd without closing it; the caller
// is responsible for Close, matching gvisor's Remove/DecRef split so a
// caller can inspect the file before releasing it.
func (f *FDTable) Remove(fd int32) File {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fd < 0 || int(fd) >= len(f.table) {
		return nil
	}
	d := f.table[fd]
	if d.file == nil {
		return nil
	}
	f.table[fd] = descriptor{}
	f.free = append(f.free, fd)
	return d.file
}

// CloseOnExec closes every descriptor with CloseOnExec set, called by
// execve after the new address space is installed (spec.md §4.7).
func (f *FDTable) CloseOnExec() {
	f.mu.Lock()
	var toClose []File
	for fd, d := range f.table {
		if d.file != nil && d.flags.CloseOnExec {
			toClose = append(toClose, d.file)
			f.table[fd] = descriptor{}
			f.free = append(f.free, int32(fd))
		}
	}
	f.mu.Unlock()
	for _, file := range toClose {
		file.Close()
	}
}

// Fork returns an independent copy of f whose descriptors refer to the same
// open File values. No open-file reference count is taken: File exposes
// only Close, and each table's Close and CloseOnExec call it on the shared
// value.
func (f *FDTable) Fork() *FDTable {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := &FDTable{
		table: append([]descriptor(nil), f.table...),
		free:  append([]int32(nil), f.free...),
	}
	return clone
}

// Close closes every installed descriptor, used when the last thread
// sharing this table exits (spec.md §4.7's "release FDs").
func (f *FDTable) Close() {
	f.mu.Lock()
	files := make([]File, 0, len(f.table))
	for i, d := range f.table {
		if d.file != nil {
			files = append(files, d.file)
			f.table[i] = descriptor{}
		}
	}
	f.free = nil
	f.mu.Unlock()
	for _, file := range files {
		file.Close()
	}
}
