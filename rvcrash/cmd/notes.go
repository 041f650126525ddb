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
	"gvisor.dev/rvcore/pkg/dumpfile"
	"gvisor.dev/rvcore/rvcrash/cmd/util"
	"gvisor.dev/rvcore/rvcrash/config"
)

// Notes implements subcommands.Command for the "notes" command.
type Notes struct{}

// Name implements subcommands.Command.Name.
func (*Notes) Name() string {
	return "notes"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Notes) Synopsis() string {
	return "list the ELF notes of the dump"
}

// Usage implements subcommands.Command.Usage.
func (*Notes) Usage() string {
	return `notes [flags] - list the ELF notes of the dump
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Notes) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Notes) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	s, err := openSession(ctx, conf, sessionOpts{noMachine: true})
	if err != nil {
		util.Fatalf("error opening dump: %v", err)
	}
	defer s.Close()

	if err := writeNotes(os.Stdout, s.Dump, conf.Output); err != nil {
		return util.Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

var noteTypes = map[uint32]string{
	linux.NT_PRSTATUS:   "NT_PRSTATUS",
	linux.NT_PRFPREG:    "NT_PRFPREG",
	linux.NT_PRPSINFO:   "NT_PRPSINFO",
	linux.NT_TASKSTRUCT: "NT_TASKSTRUCT",
	linux.NT_AUXV:       "NT_AUXV",
}

func noteType(n linux.ElfNote) string {
	if n.Name == linux.NoteNameVmcoreinfo {
		return "VMCOREINFO"
	}
	if s, ok := noteTypes[n.Type]; ok {
		return s
	}
	return fmt.Sprintf("%#x", n.Type)
}

type noteResult struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	DescSize uint32 `json:"descsz" yaml:"descsz"`
	PID      int32  `json:"pid,omitempty" yaml:"pid,omitempty"`
}

func writeNotes(w io.Writer, d *dumpfile.Dump, format config.Output) error {
	var results []noteResult
	if err := d.ProcessNotes(func(n linux.ElfNote, raw []byte) error {
		res := noteResult{
			Name:     n.Name,
			Type:     noteType(n),
			DescSize: n.DescSize,
		}
		if dumpfile.IsPRStatus(n) && len(n.Desc) >= linux.ElfPrstatusSize {
			var pr linux.ElfPrstatus
			pr.UnmarshalBytes(n.Desc)
			res.PID = pr.Pid
		}
		results = append(results, res)
		return nil
	}); err != nil {
		return err
	}
	return writeResult(w, format, results, func(w io.Writer) error {
		if _, err := fmt.Fprintf(w, "%-12s %-14s %8s %8s\n", "NAME", "TYPE", "DESCSZ", "PID"); err != nil {
			return err
		}
		for _, res := range results {
			pid := "-"
			if res.PID != 0 {
				pid = fmt.Sprintf("%d", res.PID)
			}
			if _, err := fmt.Fprintf(w, "%-12s %-14s %8d %8s\n", res.Name, res.Type, res.DescSize, pid); err != nil {
				return err
			}
		}
		return nil
	})
}
