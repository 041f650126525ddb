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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/rvcore/pkg/riscv64/machine"
	"gvisor.dev/rvcore/rvcrash/cmd/util"
	"gvisor.dev/rvcore/rvcrash/config"
)

// Layout implements subcommands.Command for the "layout" command.
type Layout struct{}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "print the kernel virtual memory layout and machine constants"
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return `layout [flags] - print the kernel virtual memory layout and machine constants
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Layout) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (l *Layout) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	s, err := OpenSession(ctx, conf)
	if err != nil {
		util.Fatalf("error opening dump: %v", err)
	}
	defer s.Close()

	if err := writeLayout(os.Stdout, s.Machine, conf.Output); err != nil {
		return util.Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

type region struct {
	Start hexAddr `json:"start" yaml:"start"`
	End   hexAddr `json:"end" yaml:"end"`
}

type layoutResult struct {
	Release        string          `json:"release" yaml:"release"`
	VABits         uint64          `json:"va_bits" yaml:"va_bits"`
	Levels         int             `json:"levels" yaml:"levels"`
	PageOffset     hexAddr         `json:"page_offset" yaml:"page_offset"`
	Vmalloc        region          `json:"vmalloc" yaml:"vmalloc"`
	Vmemmap        region          `json:"vmemmap" yaml:"vmemmap"`
	Modules        region          `json:"modules" yaml:"modules"`
	KernelLinkAddr hexAddr         `json:"kernel_link_addr" yaml:"kernel_link_addr"`
	PhysRAMBase    hexAddr         `json:"phys_ram_base" yaml:"phys_ram_base"`
	SwapperPgDir   hexAddr         `json:"swapper_pg_dir,omitempty" yaml:"swapper_pg_dir,omitempty"`
	Machdep        machine.Machdep `json:"machdep" yaml:"machdep"`
}

func writeLayout(w io.Writer, m *machine.Context, format config.Output) error {
	l := m.Layout()
	res := layoutResult{
		Release:        l.Version.String(),
		VABits:         l.VABits,
		Levels:         m.Paging().Depth,
		PageOffset:     hexAddr(l.PageOffset),
		Vmalloc:        region{hexAddr(l.Vmalloc.Start), hexAddr(l.Vmalloc.End)},
		Vmemmap:        region{hexAddr(l.Vmemmap.Start), hexAddr(l.Vmemmap.End)},
		Modules:        region{hexAddr(l.Modules.Start), hexAddr(l.Modules.End)},
		KernelLinkAddr: hexAddr(l.KernelLinkAddr),
		PhysRAMBase:    hexAddr(l.PhysBase),
		Machdep:        m.Machdep(),
	}
	if pgd, ok := m.SwapperPgDir(); ok {
		res.SwapperPgDir = hexAddr(pgd)
	}
	return writeResult(w, format, res, func(w io.Writer) error {
		md := res.Machdep
		for _, line := range []struct {
			name  string
			value string
		}{
			{"RELEASE", res.Release},
			{"VA_BITS", fmt.Sprintf("%d (%d levels)", res.VABits, res.Levels)},
			{"PAGE_OFFSET", fmt.Sprintf("%016x", l.PageOffset)},
			{"VMALLOC", l.Vmalloc.String()},
			{"VMEMMAP", l.Vmemmap.String()},
			{"MODULES", l.Modules.String()},
			{"KERNEL_LINK_ADDR", fmt.Sprintf("%016x", l.KernelLinkAddr)},
			{"PHYS_RAM_BASE", fmt.Sprintf("%x", l.PhysBase)},
			{"SWAPPER_PG_DIR", fmt.Sprintf("%x", uint64(res.SwapperPgDir))},
			{"PAGE_TYPE", md.PageType},
			{"PAGE_SIZE", fmt.Sprintf("%d", md.PageSize)},
			{"STACK_SIZE", fmt.Sprintf("%d", md.StackSize)},
			{"SECTION_SIZE_BITS", fmt.Sprintf("%d", md.SectionSizeBits)},
			{"MAX_PHYSMEM_BITS", fmt.Sprintf("%d", md.MaxPhysmemBits)},
			{"HZ", fmt.Sprintf("%d", md.HZ)},
			{"NR_IRQS", fmt.Sprintf("%d", md.NrIRQs)},
			{"CPUS", fmt.Sprintf("%d", m.SMPCPUs())},
		} {
			if _, err := fmt.Fprintf(w, "%17s: %s\n", line.name, line.value); err != nil {
				return err
			}
		}
		return nil
	})
}
