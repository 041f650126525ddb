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
	"gvisor.dev/rvcore/pkg/abi/linux"
	"gvisor.dev/rvcore/pkg/riscv64/machine"
	"gvisor.dev/rvcore/rvcrash/cmd/util"
	"gvisor.dev/rvcore/rvcrash/config"
)

// Regs implements subcommands.Command for the "regs" command.
type Regs struct {
	cpu int
}

// Name implements subcommands.Command.Name.
func (*Regs) Name() string {
	return "regs"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Regs) Synopsis() string {
	return "print the registers of each CPU at the time of the crash"
}

// Usage implements subcommands.Command.Usage.
func (*Regs) Usage() string {
	return `regs [flags] - print the registers of each CPU at the time of the crash
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Regs) SetFlags(f *flag.FlagSet) {
	f.IntVar(&r.cpu, "cpu", -1, "only print this CPU. -1 prints all.")
}

// Execute implements subcommands.Command.Execute.
func (r *Regs) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
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

	if err := writeRegs(os.Stdout, s.Machine, r.cpu, conf.Output); err != nil {
		return util.Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

type regsResult struct {
	CPU       int               `json:"cpu" yaml:"cpu"`
	Source    string            `json:"source,omitempty" yaml:"source,omitempty"`
	Registers map[string]uint64 `json:"registers,omitempty" yaml:"registers,omitempty"`

	regs *linux.RISCV64Regs
}

func writeRegs(w io.Writer, m *machine.Context, cpu int, format config.Output) error {
	cpus := m.SMPCPUs()
	first, last := 0, cpus-1
	if cpu >= 0 {
		if cpu >= cpus {
			return fmt.Errorf("invalid cpu %d, the system has %d", cpu, cpus)
		}
		first, last = cpu, cpu
	}

	var results []regsResult
	for i := first; i <= last; i++ {
		res := regsResult{CPU: i}
		if regs, ok := m.Registers(i); ok {
			res.Source = m.RegisterSource().String()
			res.Registers = regs.Map()
			res.regs = &regs
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
			if res.regs == nil {
				if _, err := fmt.Fprintf(w, "CPU %d: no registers\n", res.CPU); err != nil {
					return err
				}
				continue
			}
			if _, err := fmt.Fprintf(w, "CPU %d (%s):\n", res.CPU, res.Source); err != nil {
				return err
			}
			if err := res.regs.Format(w); err != nil {
				return err
			}
		}
		return nil
	})
}
