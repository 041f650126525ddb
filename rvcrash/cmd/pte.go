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
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/rvcore/pkg/riscv64/layout"
	"gvisor.dev/rvcore/pkg/riscv64/pagetables"
	"gvisor.dev/rvcore/rvcrash/cmd/util"
	"gvisor.dev/rvcore/rvcrash/config"
)

// PTE implements subcommands.Command for the "pte" command.
type PTE struct {
	vaBits uint64
}

// Name implements subcommands.Command.Name.
func (*PTE) Name() string {
	return "pte"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*PTE) Synopsis() string {
	return "decode page-table entries"
}

// Usage implements subcommands.Command.Usage.
func (*PTE) Usage() string {
	return `pte [flags] <entry>... - decode hexadecimal page-table entries

No dump is needed; the entries are decoded with 4KiB pages.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *PTE) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&p.vaBits, "va-bits", layout.DefaultVABits, "virtual address width: 39, 48 or 57.")
}

// Execute implements subcommands.Command.Execute.
func (p *PTE) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	entries, err := parseAddrs(f.Args())
	if err != nil {
		return util.Errorf("%v", err)
	}
	cfg, err := layout.NewPagingConfig(layout.PageSize4K, p.vaBits)
	if err != nil {
		return util.Errorf("%v", err)
	}
	if err := writePTEs(os.Stdout, cfg, entries, conf.Output); err != nil {
		return util.Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

type pteResult struct {
	PTE      hexAddr `json:"pte" yaml:"pte"`
	Physical hexAddr `json:"physical" yaml:"physical"`
	Present  bool    `json:"present" yaml:"present"`
	Flags    string  `json:"flags" yaml:"flags"`
}

func writePTEs(w io.Writer, cfg layout.PagingConfig, entries []uint64, format config.Output) error {
	results := make([]pteResult, 0, len(entries))
	for _, raw := range entries {
		phys, present := pagetables.TranslatePTE(raw, cfg)
		results = append(results, pteResult{
			PTE:      hexAddr(raw),
			Physical: hexAddr(phys),
			Present:  present,
			Flags:    pagetables.FormatFlags(raw, cfg.Bits),
		})
	}
	return writeResult(w, format, results, func(w io.Writer) error {
		for i, raw := range entries {
			if i > 0 {
				if _, err := io.WriteString(w, "\n"); err != nil {
					return err
				}
			}
			if err := pagetables.FormatPTE(w, raw, cfg); err != nil {
				return err
			}
		}
		return nil
	})
}
