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
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/rvcore/pkg/riscv64/machine"
	"gvisor.dev/rvcore/pkg/vmcoreinfo"
	"gvisor.dev/rvcore/rvcrash/cmd/util"
	"gvisor.dev/rvcore/rvcrash/config"
)

// Vtop implements subcommands.Command for the "vtop" command.
type Vtop struct {
	task    string
	mm      string
	kthread bool
	verbose bool
}

// Name implements subcommands.Command.Name.
func (*Vtop) Name() string {
	return "vtop"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Vtop) Synopsis() string {
	return "translate virtual addresses to physical addresses"
}

// Usage implements subcommands.Command.Usage.
func (*Vtop) Usage() string {
	return `vtop [flags] <address>... - translate virtual addresses to physical addresses

Addresses are hexadecimal. User addresses are translated in the address space
of --task, kernel addresses in the kernel's. Kernel addresses outside the
vmalloc, vmemmap and modules regions are translated arithmetically unless -v is
given.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (v *Vtop) SetFlags(f *flag.FlagSet) {
	f.StringVar(&v.task, "task", "", "task_struct address of the task whose address space user addresses are translated in.")
	f.StringVar(&v.mm, "mm", "", "mm_struct address of the task.")
	f.BoolVar(&v.kthread, "kthread", false, "the task is a kernel thread; kernel addresses are translated in its active_mm.")
	f.BoolVar(&v.verbose, "v", false, "walk the page tables for linear-map addresses too.")
}

// Execute implements subcommands.Command.Execute.
func (v *Vtop) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	addrs, err := parseAddrs(f.Args())
	if err != nil {
		return util.Errorf("%v", err)
	}
	tc, err := v.taskContext()
	if err != nil {
		return util.Errorf("%v", err)
	}

	s, err := OpenSession(ctx, conf)
	if err != nil {
		util.Fatalf("error opening dump: %v", err)
	}
	defer s.Close()

	if err := writeVtop(os.Stdout, s.Machine, tc, addrs, v.verbose, conf.Output); err != nil {
		return util.Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

// taskContext returns the task named by the flags, or nil.
func (v *Vtop) taskContext() (*machine.TaskContext, error) {
	if v.task == "" {
		if v.mm != "" || v.kthread {
			return nil, errors.New("--mm and --kthread need --task")
		}
		return nil, nil
	}
	tc := &machine.TaskContext{KernelThread: v.kthread}
	var err error
	if tc.Task, err = vmcoreinfo.ParseAddress(v.task); err != nil {
		return nil, fmt.Errorf("invalid --task %q: %w", v.task, err)
	}
	if v.mm != "" {
		if tc.MM, err = vmcoreinfo.ParseAddress(v.mm); err != nil {
			return nil, fmt.Errorf("invalid --mm %q: %w", v.mm, err)
		}
	}
	return tc, nil
}

// parseAddrs parses hexadecimal addresses, with or without 0x.
func parseAddrs(args []string) ([]uint64, error) {
	addrs := make([]uint64, 0, len(args))
	for _, arg := range args {
		a, err := vmcoreinfo.ParseAddress(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", arg, err)
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

type levelResult struct {
	Level string  `json:"level" yaml:"level"`
	Table hexAddr `json:"table" yaml:"table"`
	Entry hexAddr `json:"entry" yaml:"entry"`
}

type vtopResult struct {
	Virtual  hexAddr       `json:"virtual" yaml:"virtual"`
	Present  bool          `json:"present" yaml:"present"`
	Physical hexAddr       `json:"physical,omitempty" yaml:"physical,omitempty"`
	Linear   bool          `json:"linear,omitempty" yaml:"linear,omitempty"`
	Walk     []levelResult `json:"walk,omitempty" yaml:"walk,omitempty"`

	tr *machine.Translation
}

// translate translates addr in the address space of tc, or the kernel's if
// tc is nil or addr is a kernel address of a user task.
func translate(m *machine.Context, tc *machine.TaskContext, addr uint64, verbose bool) (*machine.Translation, error) {
	switch {
	case m.IsUserAddress(addr) && tc == nil:
		return nil, fmt.Errorf("%x: user address needs --task", addr)
	case tc != nil && (m.IsUserAddress(addr) || tc.KernelThread):
		return m.TranslateUser(tc, addr, verbose)
	default:
		return m.TranslateKernel(addr, verbose)
	}
}

func writeVtop(w io.Writer, m *machine.Context, tc *machine.TaskContext, addrs []uint64, verbose bool, format config.Output) error {
	results := make([]vtopResult, 0, len(addrs))
	for _, addr := range addrs {
		tr, err := translate(m, tc, addr, verbose)
		if err != nil {
			return err
		}
		res := vtopResult{
			Virtual: hexAddr(tr.VAddr),
			Present: tr.Present,
			Linear:  tr.Linear,
			tr:      tr,
		}
		if tr.Present {
			res.Physical = hexAddr(tr.Phys)
		}
		if tr.Walk != nil {
			for _, l := range tr.Walk.Levels {
				res.Walk = append(res.Walk, levelResult{
					Level: l.Level.Name,
					Table: hexAddr(l.Table),
					Entry: hexAddr(l.Entry),
				})
			}
		}
		results = append(results, res)
	}
	return writeResult(w, format, results, func(w io.Writer) error {
		for i, res := range results {
			if i > 0 {
				if _, err := io.WriteString(w, "\n"); err != nil {
					return err
				}
			}
			phys := "(not mapped)"
			if res.Present {
				phys = fmt.Sprintf("%x", uint64(res.Physical))
			}
			if _, err := fmt.Fprintf(w, "VIRTUAL           PHYSICAL\n%-16x  %s\n", uint64(res.Virtual), phys); err != nil {
				return err
			}
			if res.tr.Walk == nil {
				continue
			}
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
			if err := res.tr.WriteTrace(w); err != nil {
				return err
			}
		}
		return nil
	})
}
