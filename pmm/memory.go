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

package pmm

import "github.com/hexagonal-sun/moss-kernel/internal/kaddr"

// Memory is a byte-addressable view of the physical frames a Buddy
// allocates from. On real hardware this is just RAM, addressed through the
// kernel's direct map; hosted under emulation for local development and
// the property-test harness, it is backed by a Go byte slice sized to
// cover every registered region, indexed by frame number. mm's fault
// handler and copy_to/copy_from_user go through Memory rather than
// touching frame content directly so that a future real-hardware HAL needs
// to change only this file.
type Memory struct {
	bytes []byte
}

// NewMemory allocates a simulated physical memory backing store large
// enough to cover every frame up to limit (exclusive).
func NewMemory(limit Frame) *Memory {
	return &Memory{bytes: make([]byte, uint64(limit)<<kaddr.PageShift)}
}

// Frame returns the PageSize-byte window backing f. Callers must not
// retain the slice beyond the frame's lifetime as understood by Buddy.
func (m *Memory) Frame(f Frame) []byte {
	off := uint64(f) << kaddr.PageShift
	return m.bytes[off : off+kaddr.PageSize]
}

// Zero clears f's contents.
func (m *Memory) Zero(f Frame) {
	b := m.Frame(f)
	for i := range b {
		b[i] = 0
	}
}

// Copy copies src's contents into dst.
func (m *Memory) Copy(dst, src Frame) {
	copy(m.Frame(dst), m.Frame(src))
}
