// Copyright 2026 The gVisor Authors.
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

package layout

// IsVmallocClass returns true if addr lies in the vmalloc, vmemmap or
// modules region. Bounds are inclusive.
func (l *Layout) IsVmallocClass(addr uint64) bool {
	return l.Vmalloc.Contains(addr) ||
		l.Vmemmap.Contains(addr) ||
		l.Modules.Contains(addr)
}

// IsKernelAddress returns true if addr is a kernel virtual address.
func (l *Layout) IsKernelAddress(addr uint64) bool {
	if l.IsVmallocClass(addr) {
		return true
	}
	return addr >= l.PageOffset
}

// IsUserAddress returns true if addr is a user virtual address.
//
// This is not the negation of IsKernelAddress: both clauses are checked.
func (l *Layout) IsUserAddress(addr uint64) bool {
	if l.IsVmallocClass(addr) {
		return false
	}
	return addr < l.PageOffset
}
