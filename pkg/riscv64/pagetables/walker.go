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

package pagetables

import (
	"fmt"
	"io"
	"strings"

	"gvisor.dev/rvcore/pkg/abi/linux"
	"gvisor.dev/rvcore/pkg/log"
	"gvisor.dev/rvcore/pkg/memory"
	"gvisor.dev/rvcore/pkg/riscv64/layout"
)

// Root is the root table of a walk.
type Root struct {
	// Addr is the address of the root table.
	Addr uint64

	// Space is the address space Addr is in.
	Space memory.Space
}

// KernelRoot returns a root at a kernel virtual address, such as the pgd of
// an mm_struct or swapper_pg_dir.
func KernelRoot(pgd uint64) Root {
	return Root{Addr: pgd, Space: memory.KernelVirtual}
}

// LevelResult is the entry visited at one level.
type LevelResult struct {
	// Level is the level visited.
	Level Level

	// Table is the address of the table page. The root table is in the
	// root's space; all others are physical.
	Table uint64

	// EntryAddr is the address of the entry.
	EntryAddr uint64

	// Entry is the raw entry.
	Entry PTE
}

// WalkState is the result of one walk.
type WalkState struct {
	// VAddr is the address translated.
	VAddr uint64

	// Levels are the entries visited, root first.
	Levels []LevelResult

	// Invalid is set if the walk ended at a zero entry.
	Invalid bool

	// Present is set if the leaf maps a present page.
	Present bool

	// Phys is the translated physical address; valid only if Present.
	Phys uint64

	cfg layout.PagingConfig
}

// Leaf returns the masked leaf entry, if the walk reached the leaf level
// with a non-zero entry.
func (s *WalkState) Leaf() (PTE, bool) {
	if s.Invalid || len(s.Levels) == 0 {
		return 0, false
	}
	last := s.Levels[len(s.Levels)-1]
	if !last.Level.Leaf() {
		return 0, false
	}
	return PTE(last.Entry.Masked()), true
}

// WriteTrace writes the verbose translation trace.
func (s *WalkState) WriteTrace(w io.Writer) error {
	var b strings.Builder
	for i, r := range s.Levels {
		switch {
		case i == 0:
			fmt.Fprintf(&b, "   %s: %x => %x\n", r.Level.Name, r.EntryAddr, uint64(r.Entry))
		case r.Level.Leaf():
			fmt.Fprintf(&b, "   %s: %x => %x\n", r.Level.Name, r.Table, uint64(r.Entry))
		default:
			fmt.Fprintf(&b, "  %s: %016x => %016x\n", r.Level.Name, r.Table, uint64(r.Entry))
		}
	}
	if s.Invalid {
		b.WriteString("invalid\n")
		_, err := io.WriteString(w, b.String())
		return err
	}
	leaf, ok := s.Leaf()
	if !ok {
		_, err := io.WriteString(w, b.String())
		return err
	}
	if !s.Present {
		b.WriteString("\n")
		if err := FormatPTE(&b, uint64(leaf), s.cfg); err != nil {
			return err
		}
		fmt.Fprintf(&b, " PAGE: %016x not present\n\n", leaf.Address(s.cfg.PageShift))
	} else {
		fmt.Fprintf(&b, " PAGE: %016x\n\n", s.cfg.PageBase(s.Phys))
		if err := FormatPTE(&b, uint64(leaf), s.cfg); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// table is the cached page of one level.
type table struct {
	valid bool
	space memory.Space
	base  uint64
	page  []byte
}

// Walker walks page tables. A Walker caches the last table page read at
// each level and must not be used concurrently.
type Walker struct {
	mem    memory.Reader
	cfg    layout.PagingConfig
	levels []Level
	cache  []table

	// KeepWarm keeps the cached table pages between walks. If false, each
	// walk starts cold.
	KeepWarm bool
}

// NewWalker returns a walker reading tables from mem.
func NewWalker(mem memory.Reader, cfg layout.PagingConfig) (*Walker, error) {
	levels, err := Levels(cfg.Depth)
	if err != nil {
		return nil, err
	}
	return &Walker{
		mem:      mem,
		cfg:      cfg,
		levels:   levels,
		cache:    make([]table, len(levels)),
		KeepWarm: true,
	}, nil
}

// Config returns the paging configuration.
func (w *Walker) Config() layout.PagingConfig {
	return w.cfg
}

// Reset drops all cached table pages.
func (w *Walker) Reset() {
	for i := range w.cache {
		w.cache[i].valid = false
	}
}

// fill returns the page at base for level i, reading it unless cached.
func (w *Walker) fill(i int, space memory.Space, base uint64) ([]byte, error) {
	t := &w.cache[i]
	if t.valid && t.space == space && t.base == base {
		return t.page, nil
	}
	t.valid = false
	if t.page == nil {
		t.page = make([]byte, w.cfg.PageSize)
	}
	opts := memory.ReadOpts{
		Policy:  memory.FaultOnError,
		Purpose: strings.ToLower(w.levels[i].Name) + " page",
	}
	if err := w.mem.Read(base, space, t.page, opts); err != nil {
		return nil, err
	}
	t.valid, t.space, t.base = true, space, base
	return t.page, nil
}

// Walk translates vaddr through the tables at root. A vaddr without a
// mapping is not an error: the returned state has Present unset. Errors are
// returned only when a table cannot be read.
func (w *Walker) Walk(root Root, vaddr uint64) (*WalkState, error) {
	if !w.KeepWarm {
		w.Reset()
	}
	s := &WalkState{
		VAddr:  vaddr,
		Levels: make([]LevelResult, 0, len(w.levels)),
		cfg:    w.cfg,
	}
	space := root.Space
	tableAddr := root.Addr
	for i, l := range w.levels {
		entryAddr := tableAddr + l.Index(vaddr)*entrySize
		base := w.cfg.PageBase(entryAddr)
		page, err := w.fill(i, space, base)
		if err != nil {
			return nil, fmt.Errorf("walking %#x at %s: %w", vaddr, l.Name, err)
		}
		off := entryAddr - base
		entry := PTE(linux.ByteOrder.Uint64(page[off : off+entrySize]))
		s.Levels = append(s.Levels, LevelResult{
			Level:     l,
			Table:     tableAddr,
			EntryAddr: entryAddr,
			Entry:     entry,
		})
		if !entry.Valid() {
			s.Invalid = true
			return s, nil
		}
		if l.Leaf() {
			if !entry.Present(w.cfg.Bits) {
				return s, nil
			}
			s.Present = true
			s.Phys = entry.Address(w.cfg.PageShift) | vaddr&w.cfg.PageOffsetMask()
			if log.IsLogging(log.Debug) {
				log.Debugf("vtop %#x => %#x (%s)", vaddr, s.Phys, entry.Flags(w.cfg.Bits))
			}
			return s, nil
		}
		tableAddr = entry.Address(w.cfg.PageShift)
		space = memory.Physical
	}
	panic("unreachable")
}
