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

// Package pagetables walks RISC-V 64 Sv39, Sv48 and Sv57 page tables
// captured in a memory image.
package pagetables

import (
	"gvisor.dev/rvcore/pkg/bits"
	"gvisor.dev/rvcore/pkg/riscv64/layout"
)

const (
	// PFNShift is the position of the physical frame number in an entry.
	PFNShift = 10

	// pfnProtBits is the width of the frame number and flag bits (0..53)
	// of an entry. The Svpbmt/Svnapot bits above them are dropped.
	pfnProtBits = 54

	// entrySize is the size of one page-table entry.
	entrySize = 8

	// indexBits is the width of the table index at every level.
	indexBits = 9

	entriesPerPage = 1 << indexBits
)

// PTE is a raw page-table entry at any level.
type PTE uint64

// Masked returns the entry with the bits above the frame number cleared.
func (p PTE) Masked() uint64 {
	return uint64(p) & bits.LowMask64(pfnProtBits)
}

// Valid returns true if the masked entry is non-zero. A zero entry ends a
// walk at its level.
func (p PTE) Valid() bool {
	return p.Masked() != 0
}

// PFN returns the physical frame number.
func (p PTE) PFN() uint64 {
	return p.Masked() >> PFNShift
}

// Address returns the physical address of the frame or next-level table.
func (p PTE) Address(pageShift uint) uint64 {
	return p.PFN() << pageShift
}

// Present returns true if the present bit is set.
func (p PTE) Present(b layout.PTEBits) bool {
	return bits.IsOn64(uint64(p), b.PresentMask())
}

// Flags returns the formatted flags of the entry.
func (p PTE) Flags(b layout.PTEBits) string {
	return FormatFlags(uint64(p), b)
}
