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
	"errors"
	"fmt"
	"io"

	"gvisor.dev/rvcore/pkg/memory"
	"gvisor.dev/rvcore/pkg/riscv64/pagetables"
)

// TaskContext identifies the task whose address space a user address is
// translated in.
type TaskContext struct {
	// Task is the address of the task_struct.
	Task uint64

	// MM is the address of the task's mm_struct, or zero for kernel
	// threads.
	MM uint64

	// KernelThread is set for kernel threads.
	KernelThread bool
}

// Translation is the result of an address translation.
type Translation struct {
	// VAddr is the translated address.
	VAddr uint64

	// Present is set if VAddr is mapped.
	Present bool

	// Phys is the physical address; valid only if Present.
	Phys uint64

	// Linear is set if the address was translated arithmetically rather
	// than by a page-table walk.
	Linear bool

	// Walk is the page-table walk, if one was made.
	Walk *pagetables.WalkState
}

// WriteTrace writes the walk trace, if a walk was made.
func (t *Translation) WriteTrace(w io.Writer) error {
	if t.Walk == nil {
		return nil
	}
	return t.Walk.WriteTrace(w)
}

func fromWalk(s *pagetables.WalkState) *Translation {
	return &Translation{
		VAddr:   s.VAddr,
		Present: s.Present,
		Phys:    s.Phys,
		Walk:    s,
	}
}

// walk translates vaddr with the query walker.
func (c *Context) walk(root pagetables.Root, vaddr uint64) (*pagetables.WalkState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.walker.Walk(root, vaddr)
}

// kernelToPhys translates the kernel-virtual reads of the memory image.
// Only vmalloc-class addresses are walked, with the kernel root table,
// which is in the kernel image and so translates linearly.
func (c *Context) kernelToPhys(vaddr uint64) (uint64, bool, error) {
	l := c.layout
	if !l.IsKernelAddress(vaddr) {
		return 0, false, nil
	}
	if !l.IsVmallocClass(vaddr) {
		return l.LinearToPhys(vaddr), true, nil
	}
	if c.swapperPgDir == 0 {
		return 0, false, nil
	}
	c.kvMu.Lock()
	defer c.kvMu.Unlock()
	s, err := c.kvWalker.Walk(pagetables.KernelRoot(c.swapperPgDir), vaddr)
	if err != nil {
		return 0, false, err
	}
	return s.Phys, s.Present, nil
}

// TranslateKernel translates a kernel virtual address. Addresses outside
// the vmalloc-class regions translate linearly; with verbose set the page
// tables are walked for them too, and the walk decides the result.
func (c *Context) TranslateKernel(kaddr uint64, verbose bool) (*Translation, error) {
	if err := c.need(PhasePreGDB); err != nil {
		return nil, err
	}
	l := c.layout
	if !l.IsKernelAddress(kaddr) {
		return &Translation{VAddr: kaddr}, nil
	}

	linear := &Translation{
		VAddr:   kaddr,
		Present: true,
		Phys:    l.LinearToPhys(kaddr),
		Linear:  true,
	}
	if l.VmallocStart() == 0 {
		return linear, nil
	}
	if !l.IsVmallocClass(kaddr) && (!verbose || c.swapperPgDir == 0) {
		return linear, nil
	}
	if c.swapperPgDir == 0 {
		return nil, fmt.Errorf("translating %#x: swapper_pg_dir unknown", kaddr)
	}
	s, err := c.walk(pagetables.KernelRoot(c.swapperPgDir), kaddr)
	if err != nil {
		return nil, err
	}
	return fromWalk(s), nil
}

// TranslateUser translates a user virtual address in the address space of
// tc. Kernel threads have no address space of their own; kernel addresses
// are translated in the one they borrowed, their active_mm.
//
// User addresses are always walked, so verbose does not change the result.
func (c *Context) TranslateUser(tc *TaskContext, vaddr uint64, verbose bool) (*Translation, error) {
	if tc == nil {
		return nil, ErrNoTaskContext
	}
	if err := c.need(PhasePostGDB); err != nil {
		return nil, err
	}
	if c.offsets.MMPgd == 0 {
		return nil, errors.New("offset of mm_struct.pgd unknown")
	}

	mm := tc.MM
	if tc.KernelThread && c.layout.IsKernelAddress(vaddr) {
		if c.offsets.TaskActiveMM == 0 {
			return nil, errors.New("offset of task_struct.active_mm unknown")
		}
		activeMM, err := memory.ReadUint64(c.host.Memory, tc.Task+c.offsets.TaskActiveMM, memory.KernelVirtual, memory.ReadOpts{
			Policy:  memory.FaultOnError,
			Purpose: "task active_mm contents",
		})
		if err != nil {
			return nil, err
		}
		if activeMM == 0 {
			return nil, ErrNoActiveMM
		}
		mm = activeMM
	} else if mm == 0 {
		return nil, fmt.Errorf("task %#x has no mm_struct", tc.Task)
	}

	pgd, err := memory.ReadUint64(c.host.Memory, mm+c.offsets.MMPgd, memory.KernelVirtual, memory.ReadOpts{
		Policy:  memory.FaultOnError,
		Purpose: "mm_struct pgd",
	})
	if err != nil {
		return nil, err
	}
	s, err := c.walk(pagetables.KernelRoot(pgd), vaddr)
	if err != nil {
		return nil, err
	}
	return fromWalk(s), nil
}
