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

// Package vmcoreinfo parses the vmcoreinfo blob that a crashing kernel
// exports alongside its memory image.
//
// The blob is a sequence of KEY=VALUE lines, for example:
//
//	OSRELEASE=6.6.0
//	PAGESIZE=4096
//	SYMBOL(swapper_pg_dir)=ffffffff81a2c000
//	SIZE(note_buf_t)=408
//	OFFSET(elf_prstatus.pr_reg)=112
//	NUMBER(VA_BITS)=39
//	NUMBER(PAGE_OFFSET)=0xffffffd800000000
//
// Lookups are by the full key, including any NUMBER()/SIZE() wrapper.
package vmcoreinfo

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"gvisor.dev/rvcore/pkg/abi/linux"
)

// Store is a read-only source of vmcoreinfo entries.
type Store interface {
	// Lookup returns the raw value for key and whether it was present.
	Lookup(key string) (string, bool)
}

// Info is a parsed vmcoreinfo blob. The zero value is an empty blob.
type Info struct {
	entries map[string]string
}

// New returns an empty Info.
func New() *Info {
	return &Info{entries: make(map[string]string)}
}

// Parse reads KEY=VALUE lines from r. Blank lines are skipped; a line
// without '=' is an error. Later duplicates replace earlier ones, as the
// kernel appends overrides.
func Parse(r io.Reader) (*Info, error) {
	info := New()
	s := bufio.NewScanner(r)
	lineno := 0
	for s.Scan() {
		lineno++
		line := strings.TrimRight(s.Text(), "\r\x00")
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("vmcoreinfo line %d: malformed entry %q", lineno, line)
		}
		info.entries[key] = value
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("reading vmcoreinfo: %w", err)
	}
	return info, nil
}

// FromBytes parses a vmcoreinfo note descriptor. Trailing NUL padding is
// ignored.
func FromBytes(b []byte) (*Info, error) {
	return Parse(bytes.NewReader(bytes.TrimRight(b, "\x00")))
}

// Lookup implements Store.Lookup.
func (i *Info) Lookup(key string) (string, bool) {
	if i == nil || i.entries == nil {
		return "", false
	}
	v, ok := i.entries[key]
	return v, ok
}

// Set adds or replaces an entry.
func (i *Info) Set(key, value string) {
	if i.entries == nil {
		i.entries = make(map[string]string)
	}
	i.entries[key] = value
}

// Len returns the number of entries.
func (i *Info) Len() int {
	if i == nil {
		return 0
	}
	return len(i.entries)
}

// Keys returns the keys in sorted order.
func (i *Info) Keys() []string {
	if i == nil {
		return nil
	}
	keys := make([]string, 0, len(i.entries))
	for k := range i.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge copies every entry of o into i, replacing existing keys.
func (i *Info) Merge(o *Info) {
	if o == nil {
		return
	}
	for k, v := range o.entries {
		i.Set(k, v)
	}
}

// Key constructors for the wrapped entry kinds.

// NumberKey returns "NUMBER(name)".
func NumberKey(name string) string { return "NUMBER(" + name + ")" }

// SizeKey returns "SIZE(name)".
func SizeKey(name string) string { return "SIZE(" + name + ")" }

// OffsetKey returns "OFFSET(type.field)".
func OffsetKey(typ, field string) string { return "OFFSET(" + typ + "." + field + ")" }

// SymbolKey returns "SYMBOL(name)".
func SymbolKey(name string) string { return "SYMBOL(" + name + ")" }

// ParseNumber parses a NUMBER() value. The base is inferred from the
// prefix, so both "39" and "0xffffffd800000000" are accepted.
func ParseNumber(v string) (uint64, error) {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "-") {
		n, err := strconv.ParseInt(v, 0, 64)
		return uint64(n), err
	}
	return strconv.ParseUint(v, 0, 64)
}

// ParseAddress parses a hexadecimal address with an optional 0x prefix.
func ParseAddress(v string) (uint64, error) {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(strings.TrimPrefix(v, "0x"), "0X")
	return strconv.ParseUint(v, 16, 64)
}

// lookupParsed looks up key and parses it with parse. ok is false when the
// key is absent; err is set when it is present but malformed.
func lookupParsed(s Store, key string, parse func(string) (uint64, error)) (val uint64, ok bool, err error) {
	raw, ok := s.Lookup(key)
	if !ok {
		return 0, false, nil
	}
	val, err = parse(raw)
	if err != nil {
		return 0, true, fmt.Errorf("vmcoreinfo %s=%q: %w", key, raw, err)
	}
	return val, true, nil
}

// Number returns NUMBER(name) as a number.
func Number(s Store, name string) (uint64, bool, error) {
	return lookupParsed(s, NumberKey(name), ParseNumber)
}

// Address returns NUMBER(name) parsed as a hexadecimal address.
func Address(s Store, name string) (uint64, bool, error) {
	return lookupParsed(s, NumberKey(name), ParseAddress)
}

// Size returns SIZE(name).
func Size(s Store, name string) (uint64, bool, error) {
	return lookupParsed(s, SizeKey(name), ParseNumber)
}

// Offset returns OFFSET(typ.field).
func Offset(s Store, typ, field string) (uint64, bool, error) {
	return lookupParsed(s, OffsetKey(typ, field), ParseNumber)
}

// Symbol returns SYMBOL(name). Symbol values are always hexadecimal.
func Symbol(s Store, name string) (uint64, bool, error) {
	return lookupParsed(s, SymbolKey(name), ParseAddress)
}

// PageSize returns PAGESIZE.
func PageSize(s Store) (uint64, bool, error) {
	return lookupParsed(s, "PAGESIZE", ParseNumber)
}

// KernelVersion returns the version parsed from OSRELEASE.
func KernelVersion(s Store) (linux.KernelVersion, bool, error) {
	raw, ok := s.Lookup("OSRELEASE")
	if !ok {
		return linux.KernelVersion{}, false, nil
	}
	v, err := linux.ParseKernelVersion(raw)
	if err != nil {
		return linux.KernelVersion{}, true, err
	}
	return v, true, nil
}
