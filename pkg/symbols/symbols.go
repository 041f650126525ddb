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

// Package symbols resolves kernel symbol names to addresses.
//
// Tables can be built from a System.map file, from the symbol table of a
// vmlinux ELF, or from the SYMBOL() entries of vmcoreinfo. Chain combines
// several sources, first hit wins.
package symbols

import (
	"bufio"
	"debug/elf"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"gvisor.dev/rvcore/pkg/vmcoreinfo"
)

// Source resolves symbol names.
type Source interface {
	// Lookup returns the address of name.
	Lookup(name string) (uint64, bool)
}

// Exists returns true if src knows name.
func Exists(src Source, name string) bool {
	if src == nil {
		return false
	}
	_, ok := src.Lookup(name)
	return ok
}

// Symbol is a single symbol table entry.
type Symbol struct {
	Name  string
	Value uint64

	// Type is the nm(1) style type letter, e.g. 'T' or 'd'. It is '?'
	// when unknown.
	Type byte
}

// Table is an immutable symbol table.
type Table struct {
	byName map[string]Symbol
	byAddr []Symbol
}

// NewTable builds a table from syms. For duplicate names the first entry
// wins.
func NewTable(syms []Symbol) *Table {
	t := &Table{
		byName: make(map[string]Symbol, len(syms)),
		byAddr: make([]Symbol, 0, len(syms)),
	}
	for _, s := range syms {
		if _, ok := t.byName[s.Name]; ok {
			continue
		}
		t.byName[s.Name] = s
		t.byAddr = append(t.byAddr, s)
	}
	sort.SliceStable(t.byAddr, func(i, j int) bool {
		return t.byAddr[i].Value < t.byAddr[j].Value
	})
	return t
}

// Lookup implements Source.Lookup.
func (t *Table) Lookup(name string) (uint64, bool) {
	if t == nil {
		return 0, false
	}
	s, ok := t.byName[name]
	return s.Value, ok
}

// Symbol returns the entry for name.
func (t *Table) Symbol(name string) (Symbol, bool) {
	s, ok := t.byName[name]
	return s, ok
}

// Len returns the number of symbols.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byAddr)
}

// Nearest returns the symbol with the highest address not above addr, and
// the offset of addr from it.
func (t *Table) Nearest(addr uint64) (Symbol, uint64, bool) {
	i := sort.Search(len(t.byAddr), func(i int) bool {
		return t.byAddr[i].Value > addr
	})
	if i == 0 {
		return Symbol{}, 0, false
	}
	s := t.byAddr[i-1]
	return s, addr - s.Value, true
}

// ParseSystemMap reads a System.map (nm) listing: "address type name" per
// line. Lines with other shapes are skipped; a malformed address is an
// error.
func ParseSystemMap(r io.Reader) (*Table, error) {
	var syms []Symbol
	s := bufio.NewScanner(r)
	lineno := 0
	for s.Scan() {
		lineno++
		fields := strings.Fields(s.Text())
		if len(fields) < 3 || len(fields[1]) != 1 {
			continue
		}
		v, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("System.map line %d: bad address %q: %w", lineno, fields[0], err)
		}
		syms = append(syms, Symbol{Name: fields[2], Value: v, Type: fields[1][0]})
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("reading System.map: %w", err)
	}
	return NewTable(syms), nil
}

// FromELF reads the symbol table of a vmlinux image.
func FromELF(f *elf.File) (*Table, error) {
	elfSyms, err := f.Symbols()
	if err != nil {
		return nil, fmt.Errorf("reading ELF symbols: %w", err)
	}
	syms := make([]Symbol, 0, len(elfSyms))
	for _, es := range elfSyms {
		if es.Name == "" || es.Section == elf.SHN_UNDEF {
			continue
		}
		syms = append(syms, Symbol{Name: es.Name, Value: es.Value, Type: elfType(f, es)})
	}
	return NewTable(syms), nil
}

// OpenELF opens the vmlinux at path and reads its symbols.
func OpenELF(path string) (*Table, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return FromELF(f)
}

// elfType approximates the nm(1) letter of an ELF symbol.
func elfType(f *elf.File, s elf.Symbol) byte {
	var c byte = '?'
	switch {
	case s.Section == elf.SHN_ABS:
		c = 'a'
	case elf.ST_TYPE(s.Info) == elf.STT_FUNC:
		c = 't'
	case int(s.Section) < len(f.Sections):
		sec := f.Sections[s.Section]
		switch {
		case sec.Flags&elf.SHF_EXECINSTR != 0:
			c = 't'
		case sec.Type == elf.SHT_NOBITS:
			c = 'b'
		case sec.Flags&elf.SHF_WRITE != 0:
			c = 'd'
		case sec.Flags&elf.SHF_ALLOC != 0:
			c = 'r'
		}
	}
	if c != '?' && elf.ST_BIND(s.Info) == elf.STB_GLOBAL {
		c -= 'a' - 'A'
	}
	return c
}

// FromVmcoreinfo builds a table from the SYMBOL() entries of info.
// Malformed values are skipped.
func FromVmcoreinfo(info *vmcoreinfo.Info) *Table {
	var syms []Symbol
	for _, k := range info.Keys() {
		if !strings.HasPrefix(k, "SYMBOL(") || !strings.HasSuffix(k, ")") {
			continue
		}
		name := k[len("SYMBOL(") : len(k)-1]
		v, ok, err := vmcoreinfo.Symbol(info, name)
		if !ok || err != nil {
			continue
		}
		syms = append(syms, Symbol{Name: name, Value: v, Type: '?'})
	}
	return NewTable(syms)
}

// Chain is a list of sources consulted in order.
type Chain []Source

// Lookup implements Source.Lookup.
func (c Chain) Lookup(name string) (uint64, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if v, ok := s.Lookup(name); ok {
			return v, true
		}
	}
	return 0, false
}
