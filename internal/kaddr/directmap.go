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

package kaddr

import "fmt"

// DirectMap describes the kernel's identity-shifted mapping of all physical
// frames into the kernel-virtual address space, installed once at boot by
// the arch HAL. PhysToVirt/VirtToPhys are the only sanctioned conversions
// between the physical and kernel-virtual address spaces; every other site
// that needs one must go through a DirectMap value obtained from the boot
// path, never a raw arithmetic shortcut.
type DirectMap struct {
	// Base is the kernel-virtual address at which physical address 0 is
	// mapped.
	Base Virtual
	// Limit is the largest physical address covered by the direct map.
	Limit Physical
}

// PhysToVirt converts a physical address to its kernel-virtual alias.
func (d DirectMap) PhysToVirt(p Physical) (Virtual, error) {
	if p > d.Limit {
		return 0, fmt.Errorf("kaddr: physical address %#x exceeds direct map limit %#x", uint64(p), uint64(d.Limit))
	}
	return d.Base + Virtual(p), nil
}

// VirtToPhys converts a kernel-virtual address known to lie within the
// direct map back to its physical address.
func (d DirectMap) VirtToPhys(v Virtual) (Physical, error) {
	if v < d.Base {
		return 0, fmt.Errorf("kaddr: virtual address %#x below direct map base %#x", uint64(v), uint64(d.Base))
	}
	off := Physical(v - d.Base)
	if off > d.Limit {
		return 0, fmt.Errorf("kaddr: virtual address %#x outside direct map", uint64(v))
	}
	return off, nil
}
