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

package machine

import (
	"io"

	"gvisor.dev/rvcore/pkg/abi/linux"
	"gvisor.dev/rvcore/pkg/riscv64/crashregs"
	"gvisor.dev/rvcore/pkg/riscv64/pagetables"
)

// Arch is the architecture query surface used by the host.
type Arch interface {
	// TranslateUser translates vaddr in the address space of tc.
	TranslateUser(tc *TaskContext, vaddr uint64, verbose bool) (*Translation, error)

	// TranslateKernel translates a kernel virtual address.
	TranslateKernel(kaddr uint64, verbose bool) (*Translation, error)

	// IsKernelAddress returns true for kernel virtual addresses.
	IsKernelAddress(addr uint64) bool

	// IsUserAddress returns true for user virtual addresses.
	IsUserAddress(addr uint64) bool

	// IsVmallocClass returns true for vmalloc, vmemmap and module
	// addresses.
	IsVmallocClass(addr uint64) bool

	// FormatPTE writes the display form of a leaf entry.
	FormatPTE(w io.Writer, raw uint64) error

	// TranslatePTE returns the frame address of a leaf entry and whether
	// it is present.
	TranslatePTE(raw uint64) (phys uint64, present bool)

	// VmallocStart returns the first vmalloc address.
	VmallocStart() uint64

	// Registers returns the crash-time registers of cpu.
	Registers(cpu int) (linux.RISCV64Regs, bool)

	// SMPCPUs returns the number of CPUs.
	SMPCPUs() int

	// IsTaskAddr returns true if task may be a task_struct address.
	IsTaskAddr(task uint64) bool
}

var _ Arch = (*Context)(nil)

// IsKernelAddress implements Arch.IsKernelAddress.
func (c *Context) IsKernelAddress(addr uint64) bool {
	return c.layout != nil && c.layout.IsKernelAddress(addr)
}

// IsUserAddress implements Arch.IsUserAddress.
func (c *Context) IsUserAddress(addr uint64) bool {
	return c.layout != nil && c.layout.IsUserAddress(addr)
}

// IsVmallocClass implements Arch.IsVmallocClass.
func (c *Context) IsVmallocClass(addr uint64) bool {
	return c.layout != nil && c.layout.IsVmallocClass(addr)
}

// FormatPTE implements Arch.FormatPTE.
func (c *Context) FormatPTE(w io.Writer, raw uint64) error {
	if err := c.need(PhasePreGDB); err != nil {
		return err
	}
	return pagetables.FormatPTE(w, raw, c.paging)
}

// TranslatePTE implements Arch.TranslatePTE.
func (c *Context) TranslatePTE(raw uint64) (uint64, bool) {
	return pagetables.TranslatePTE(raw, c.paging)
}

// VmallocStart implements Arch.VmallocStart.
func (c *Context) VmallocStart() uint64 {
	if c.layout == nil {
		return 0
	}
	return c.layout.VmallocStart()
}

// Registers implements Arch.Registers. CPUs without a crash note have no
// registers.
func (c *Context) Registers(cpu int) (linux.RISCV64Regs, bool) {
	if c.regs == nil || cpu < 0 || cpu >= len(c.regs.Regs) {
		return linux.RISCV64Regs{}, false
	}
	for _, m := range c.regs.Missing {
		if m == cpu {
			return linux.RISCV64Regs{}, false
		}
	}
	return c.regs.Regs[cpu], true
}

// RegisterSource returns the source the crash registers were recovered
// from.
func (c *Context) RegisterSource() crashregs.Strategy {
	if c.regs == nil {
		return crashregs.None
	}
	return c.regs.Strategy
}

// SMPCPUs implements Arch.SMPCPUs.
func (c *Context) SMPCPUs() int {
	if n := c.host.Topology.CPUsPresent; n > 0 {
		return n
	}
	if c.cpus > 0 {
		return c.cpus
	}
	return c.cpuCount()
}

// IsTaskAddr implements Arch.IsTaskAddr.
func (c *Context) IsTaskAddr(task uint64) bool {
	if !c.IsKernelAddress(task) {
		return false
	}
	if c.opts.SeparateThreadInfo {
		return true
	}
	return c.machdep.StackSize != 0 && task&(c.machdep.StackSize-1) == 0
}
