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

import (
	"fmt"

	"gvisor.dev/rvcore/pkg/bits"
)

// Page sizes.
const (
	PageSize4K = 0x1000
	PageSize2M = 0x200000
	PageSize1G = 0x40000000
)

// PTEBits are the bit positions of the page-table entry flags.
type PTEBits struct {
	Present  uint
	Read     uint
	Write    uint
	Exec     uint
	User     uint
	Global   uint
	Accessed uint
	Dirty    uint
	Soft     uint
}

// DefaultPTEBits are the flag positions of the RISC-V privileged
// architecture. Soft is the first of the two RSW bits.
var DefaultPTEBits = PTEBits{
	Present:  0,
	Read:     1,
	Write:    2,
	Exec:     3,
	User:     4,
	Global:   5,
	Accessed: 6,
	Dirty:    7,
	Soft:     8,
}

// Flag is a named flag mask.
type Flag struct {
	Name string
	Mask uint64
}

// Flags returns the flags in display order.
func (b PTEBits) Flags() []Flag {
	return []Flag{
		{"PRESENT", bits.MaskOf64(int(b.Present))},
		{"READ", bits.MaskOf64(int(b.Read))},
		{"WRITE", bits.MaskOf64(int(b.Write))},
		{"EXEC", bits.MaskOf64(int(b.Exec))},
		{"USER", bits.MaskOf64(int(b.User))},
		{"GLOBAL", bits.MaskOf64(int(b.Global))},
		{"ACCESSED", bits.MaskOf64(int(b.Accessed))},
		{"DIRTY", bits.MaskOf64(int(b.Dirty))},
		{"SOFT", bits.MaskOf64(int(b.Soft))},
	}
}

// PresentMask returns the mask of the present bit.
func (b PTEBits) PresentMask() uint64 {
	return bits.MaskOf64(int(b.Present))
}

// PagingConfig is the paging configuration of the captured system.
type PagingConfig struct {
	// PageSize is the base page size in bytes.
	PageSize uint64

	// PageShift is log2(PageSize).
	PageShift uint

	// Depth is the number of page-table levels: 3 (Sv39), 4 (Sv48) or
	// 5 (Sv57).
	Depth int

	// VABits is the virtual address width the depth was chosen from.
	VABits uint64

	// Bits are the PTE flag positions.
	Bits PTEBits
}

// PageOffsetMask returns the mask of the in-page offset bits.
func (c PagingConfig) PageOffsetMask() uint64 {
	return bits.LowMask64(int(c.PageShift))
}

// PageMask returns the mask of the page number bits.
func (c PagingConfig) PageMask() uint64 {
	return ^c.PageOffsetMask()
}

// PageBase rounds addr down to a page boundary.
func (c PagingConfig) PageBase(addr uint64) uint64 {
	return addr & c.PageMask()
}

// String implements fmt.Stringer.
func (c PagingConfig) String() string {
	return fmt.Sprintf("Sv%d (%d-level, %d byte pages)", c.VABits, c.Depth, c.PageSize)
}

// DepthForVABits returns the number of page-table levels used for a
// virtual address width.
func DepthForVABits(vaBits uint64) int {
	switch vaBits {
	case 57:
		return 5
	case 48:
		return 4
	default:
		return 3
	}
}

// CheckPageSize returns nil if pageSize is supported. Only 4KiB base pages
// are; 2MiB and 1GiB configurations are recognized but rejected.
func CheckPageSize(pageSize uint64) error {
	switch pageSize {
	case PageSize4K:
		return nil
	case 0:
		return ErrUnknownPageSize
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedPageSize, pageSize)
	}
}

// NewPagingConfig returns the configuration for a base page size and
// virtual address width.
func NewPagingConfig(pageSize, vaBits uint64) (PagingConfig, error) {
	if err := CheckPageSize(pageSize); err != nil {
		return PagingConfig{}, err
	}
	return PagingConfigFor(pageSize, vaBits), nil
}

// PagingConfigFor is like NewPagingConfig, but does not check the page
// size. pageSize must be a power of two.
func PagingConfigFor(pageSize, vaBits uint64) PagingConfig {
	return PagingConfig{
		PageSize:  pageSize,
		PageShift: uint(bits.TrailingZeros64(pageSize)),
		Depth:     DepthForVABits(vaBits),
		VABits:    vaBits,
		Bits:      DefaultPTEBits,
	}
}
