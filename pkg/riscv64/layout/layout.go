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

// Package layout derives the paging configuration and kernel virtual
// address-space layout of a RISC-V 64 kernel from its vmcoreinfo.
package layout

import (
	"errors"
	"fmt"

	"gvisor.dev/rvcore/pkg/abi/linux"
	"gvisor.dev/rvcore/pkg/log"
	"gvisor.dev/rvcore/pkg/vmcoreinfo"
)

var (
	// ErrMissingLayout is returned when a mandatory layout entry is not
	// exported by the kernel.
	ErrMissingLayout = errors.New("cannot get vm layout")

	// ErrUnsupportedPageSize is returned for page sizes other than 4KiB.
	ErrUnsupportedPageSize = errors.New("invalid/unsupported page size")

	// ErrUnknownPageSize is returned when the page size is not known.
	ErrUnknownPageSize = errors.New("cannot determine page size")
)

// Defaults for kernels that predate the corresponding vmcoreinfo entries.
const (
	// DefaultVABits is the only virtual address width (Sv39) supported
	// before VA_BITS was exported.
	DefaultVABits = 39

	// DefaultPhysRAMBase is the assumed start of RAM before
	// phys_ram_base was exported. It is correct for most hardware
	// platforms but not for QEMU virt, whose RAM starts at 0x80200000.
	DefaultPhysRAMBase = 0x200000
)

// Thresholds are the first kernel releases exporting each piece of layout
// information.
type Thresholds struct {
	// Modules is the first release with a dedicated modules region
	// (MODULES_VADDR/MODULES_END) and the kernel mapped at
	// KERNEL_LINK_ADDR.
	Modules linux.KernelVersion

	// PhysRAMBase is the first release exporting phys_ram_base.
	PhysRAMBase linux.KernelVersion

	// VABits is the first release exporting VA_BITS.
	VABits linux.KernelVersion
}

// DefaultThresholds are the upstream Linux thresholds.
var DefaultThresholds = Thresholds{
	Modules:     linux.KernelVersionOf(5, 13, 0),
	PhysRAMBase: linux.KernelVersionOf(5, 14, 0),
	VABits:      linux.KernelVersionOf(5, 17, 0),
}

// Range is a closed range of virtual addresses.
type Range struct {
	Start uint64
	End   uint64
}

// Contains returns true if Start <= addr <= End.
func (r Range) Contains(addr uint64) bool {
	return r.Start <= addr && addr <= r.End
}

// String implements fmt.Stringer.
func (r Range) String() string {
	return fmt.Sprintf("0x%x - 0x%x", r.Start, r.End)
}

// Layout is the kernel virtual address-space layout.
type Layout struct {
	// Version is the kernel release the layout was resolved for.
	Version linux.KernelVersion

	// VABits is the virtual address width.
	VABits uint64

	// PageOffset is the start of the linear map.
	PageOffset uint64

	// Vmalloc, Vmemmap and Modules are the dynamically mapped regions.
	Vmalloc Range
	Vmemmap Range
	Modules Range

	// KernelLinkAddr is the virtual address the kernel image is linked
	// at.
	KernelLinkAddr uint64

	// PhysBase is the physical address of the start of RAM.
	PhysBase uint64

	// StructPageSize is sizeof(struct page), or zero if not exported.
	StructPageSize uint64

	// kernelLinkMapped is set for kernels that map the kernel image at
	// KernelLinkAddr rather than in the linear map.
	kernelLinkMapped bool
}

// Resolve resolves the layout of a kernel of version v using the default
// thresholds.
func Resolve(s vmcoreinfo.Store, v linux.KernelVersion) (*Layout, error) {
	return ResolveWith(s, v, DefaultThresholds)
}

// ResolveWith resolves the layout of a kernel of version v. Any missing
// mandatory entry fails the whole resolution; a partial layout is never
// returned.
func ResolveWith(s vmcoreinfo.Store, v linux.KernelVersion, th Thresholds) (*Layout, error) {
	l := &Layout{
		Version:          v,
		kernelLinkMapped: v.AtLeast(th.Modules),
	}

	if v.AtLeast(th.PhysRAMBase) {
		base, ok, err := vmcoreinfo.Number(s, "phys_ram_base")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: cannot read phys_ram_base", ErrMissingLayout)
		}
		l.PhysBase = base
	} else {
		l.PhysBase = DefaultPhysRAMBase
	}

	if sz, ok, err := vmcoreinfo.Size(s, "page"); err != nil {
		return nil, err
	} else if ok {
		l.StructPageSize = sz
	}

	l.VABits = DefaultVABits
	if v.AtLeast(th.VABits) {
		bits, ok, err := vmcoreinfo.Number(s, "VA_BITS")
		if err != nil {
			return nil, err
		}
		if ok {
			l.VABits = bits
		} else {
			log.Warningf("Kernel %v does not export VA_BITS, assuming %d", v, DefaultVABits)
		}
	}

	for _, e := range []struct {
		name string
		dst  *uint64
	}{
		{"PAGE_OFFSET", &l.PageOffset},
		{"VMALLOC_START", &l.Vmalloc.Start},
		{"VMALLOC_END", &l.Vmalloc.End},
		{"VMEMMAP_START", &l.Vmemmap.Start},
		{"VMEMMAP_END", &l.Vmemmap.End},
		{"KERNEL_LINK_ADDR", &l.KernelLinkAddr},
	} {
		if err := address(s, e.name, e.dst); err != nil {
			return nil, err
		}
	}

	// Before 5.13 modules lived inside the vmalloc region.
	if v.AtLeast(th.Modules) {
		if err := address(s, "MODULES_VADDR", &l.Modules.Start); err != nil {
			return nil, err
		}
		if err := address(s, "MODULES_END", &l.Modules.End); err != nil {
			return nil, err
		}
	} else {
		l.Modules = l.Vmalloc
	}

	if log.IsLogging(log.Debug) {
		log.Debugf("vmemmap\t: %v", l.Vmemmap)
		log.Debugf("vmalloc\t: %v", l.Vmalloc)
		log.Debugf("modules\t: %v", l.Modules)
		log.Debugf("lowmem\t: 0x%x -", l.PageOffset)
		log.Debugf("kernel link addr\t: 0x%x", l.KernelLinkAddr)
	}
	return l, nil
}

func address(s vmcoreinfo.Store, name string, dst *uint64) error {
	v, ok, err := vmcoreinfo.Address(s, name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingLayout, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s not exported", ErrMissingLayout, vmcoreinfo.NumberKey(name))
	}
	*dst = v
	return nil
}

// ModulesInVmalloc returns true if the modules region is the vmalloc region,
// as for kernels before 5.13.
func (l *Layout) ModulesInVmalloc() bool {
	return !l.kernelLinkMapped
}

// LinearToPhys translates an address of the kernel image or the linear map.
// Kernels that map their image at KernelLinkAddr translate image addresses
// relative to it; every other address is linear-map relative.
func (l *Layout) LinearToPhys(vaddr uint64) uint64 {
	if l.kernelLinkMapped && vaddr >= l.KernelLinkAddr {
		return vaddr - l.KernelLinkAddr + l.PhysBase
	}
	return vaddr - l.PageOffset + l.PhysBase
}

// VmallocStart returns the first vmalloc address.
func (l *Layout) VmallocStart() uint64 {
	return l.Vmalloc.Start
}
