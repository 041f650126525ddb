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
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"
	"gvisor.dev/rvcore/pkg/cleanup"
	"gvisor.dev/rvcore/pkg/dumpfile"
	"gvisor.dev/rvcore/pkg/log"
	"gvisor.dev/rvcore/pkg/riscv64/machine"
	"gvisor.dev/rvcore/pkg/symbols"
	"gvisor.dev/rvcore/pkg/vmcoreinfo"
	"gvisor.dev/rvcore/rvcrash/config"
)

// Session is an open dump with its machine description set up.
type Session struct {
	Dump    *dumpfile.Dump
	Symbols symbols.Source
	Machine *machine.Context
}

// sessionOpts selects how far a session is set up.
type sessionOpts struct {
	// noMachine skips the machine description; only the dump is opened.
	noMachine bool
}

// OpenSession opens the dump named by conf and runs the machine lifecycle
// hooks on it.
func OpenSession(ctx context.Context, conf *config.Config) (*Session, error) {
	return openSession(ctx, conf, sessionOpts{})
}

func openSession(ctx context.Context, conf *config.Config, opts sessionOpts) (*Session, error) {
	if conf.Dump == "" {
		return nil, errors.New("no dump file, use --dump")
	}

	var (
		dump  *dumpfile.Dump
		table *symbols.Table
		extra *vmcoreinfo.Info
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dump, err = dumpfile.Open(gctx, conf.Dump, dumpfile.Opts{
			Wait:   conf.LockWait,
			NoLock: conf.NoLock,
		})
		return err
	})
	g.Go(func() error {
		var err error
		table, err = loadSymbols(conf)
		return err
	})
	if conf.Vmcoreinfo != "" {
		g.Go(func() error {
			f, err := os.Open(conf.Vmcoreinfo)
			if err != nil {
				return err
			}
			defer f.Close()
			if extra, err = vmcoreinfo.Parse(f); err != nil {
				return fmt.Errorf("%s: %w", conf.Vmcoreinfo, err)
			}
			return nil
		})
	}
	err := g.Wait()
	cu := cleanup.Make(func() {
		if dump != nil {
			dump.Close()
		}
	})
	defer cu.Clean()
	if err != nil {
		return nil, err
	}

	if extra != nil {
		dump.Info.Merge(extra)
	}
	s := &Session{
		Dump:    dump,
		Symbols: symbols.Chain{table, symbols.FromVmcoreinfo(dump.Info)},
	}
	if !opts.noMachine {
		if s.Machine, err = s.setup(conf); err != nil {
			return nil, err
		}
	}
	cu.Release()
	return s, nil
}

// loadSymbols loads the symbol table named by conf, if any.
func loadSymbols(conf *config.Config) (*symbols.Table, error) {
	switch {
	case conf.SystemMap != "":
		f, err := os.Open(conf.SystemMap)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		t, err := symbols.ParseSystemMap(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", conf.SystemMap, err)
		}
		return t, nil
	case conf.Vmlinux != "":
		return symbols.OpenELF(conf.Vmlinux)
	default:
		log.Infof("No symbol table given, using vmcoreinfo SYMBOL() entries")
		return symbols.NewTable(nil), nil
	}
}

// setup runs the lifecycle hooks.
func (s *Session) setup(conf *config.Config) (*machine.Context, error) {
	kind := s.Dump.Kind
	if conf.Live {
		kind = dumpfile.Live
	}
	m, err := machine.New(machine.Host{
		Memory:  s.Dump.Image,
		Info:    s.Dump.Info,
		Symbols: s.Symbols,
		Kind:    kind,
		Topology: machine.Topology{
			CPUs: conf.CPUs,
		},
	}, machine.Opts{
		Live:               conf.Live,
		HZ:                 uint64(conf.HZ),
		SeparateThreadInfo: conf.SeparateThreadInfo,
		Offsets: machine.Offsets{
			TaskActiveMM: conf.TaskActiveMMOffset,
			MMPgd:        conf.MMPgdOffset,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := m.SetupEnv(); err != nil {
		return nil, err
	}
	proc, err := m.NoteProcessor()
	if err != nil {
		return nil, err
	}
	if err := s.Dump.ProcessNotes(proc); err != nil {
		return nil, fmt.Errorf("processing notes: %w", err)
	}
	for _, hook := range []struct {
		name string
		fn   func() error
	}{
		{"PRE_SYMTAB", m.PreSymtab},
		{"PRE_GDB", m.PreGDB},
		{"POST_GDB", m.PostGDB},
		{"POST_VM", m.PostVM},
	} {
		if err := hook.fn(); err != nil {
			return nil, fmt.Errorf("%s: %w", hook.name, err)
		}
		log.Debugf("Machine setup %s done", hook.name)
	}
	return m, nil
}

// Close releases the dump.
func (s *Session) Close() error {
	return s.Dump.Close()
}
