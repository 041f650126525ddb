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

// Package crashregs recovers the register state each CPU had when the kernel
// crashed.
//
// Two sources are tried. The crashing kernel saves an NT_PRSTATUS note per
// CPU in its per-CPU crash_notes buffers; if the crash_notes symbol exists
// those buffers are read from the dump. Otherwise, or if the buffers cannot
// be read, the per-CPU notes the dump tool copied into the dump file are
// used.
package crashregs

import (
	"errors"
	"fmt"
	"time"

	"gvisor.dev/rvcore/pkg/abi/linux"
	"gvisor.dev/rvcore/pkg/dumpfile"
	"gvisor.dev/rvcore/pkg/log"
	"gvisor.dev/rvcore/pkg/memory"
	"gvisor.dev/rvcore/pkg/symbols"
)

var (
	// ErrInvalidNote is returned when a crash_notes buffer holds a note
	// that is not a CORE NT_PRSTATUS note. It is fatal: no other source
	// is tried.
	ErrInvalidNote = errors.New("invalid NT_PRSTATUS note")

	// ErrUnavailable is returned when no register source applies.
	ErrUnavailable = errors.New("cannot retrieve registers for active tasks")

	// errSkip marks a source that cannot be used.
	errSkip = errors.New("register source unavailable")
)

// Warnings about individual CPUs are limited to warnBurst, then one every
// warnEvery.
const (
	warnEvery = time.Second
	warnBurst = 8
)

// Locator returns the raw NT_PRSTATUS note record the dump file holds for a
// CPU. dumpfile.PRStatusNotes implements it.
type Locator interface {
	PRStatusNote(cpu int) ([]byte, bool)
}

// Strategy identifies the register source used.
type Strategy int

const (
	// None means no registers were recovered.
	None Strategy = iota

	// CrashNotes means the registers were read from the kernel's per-CPU
	// crash_notes buffers.
	CrashNotes

	// ELFNotes means the registers were taken from the dump file's notes.
	ELFNotes
)

// String implements fmt.Stringer.
func (s Strategy) String() string {
	switch s {
	case None:
		return "none"
	case CrashNotes:
		return "crash_notes"
	case ELFNotes:
		return "elf notes"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Params are the inputs of Extract.
type Params struct {
	// CPUs is the number of CPUs.
	CPUs int

	// Memory reads kernel memory.
	Memory memory.Reader

	// Symbols resolves crash_notes. May be nil.
	Symbols symbols.Source

	// PerCPUOffsets is __per_cpu_offset, or nil if the kernel has none.
	PerCPUOffsets []uint64

	// Kind is the kind of dump. Only kdump and diskdump files carry
	// per-CPU notes.
	Kind dumpfile.Kind

	// Locator finds the dump file's per-CPU notes. May be nil.
	Locator Locator

	// NoteBufSize is sizeof(note_buf_t). Zero means linux.NoteBufSize.
	NoteBufSize uint64

	// PrRegOffset is offsetof(struct elf_prstatus, pr_reg). Zero means
	// linux.ElfPrstatusPrRegOffset.
	PrRegOffset uint64

	// Logger receives warnings. Nil means a rate-limited global logger.
	Logger log.Logger
}

// Result is the recovered register state.
type Result struct {
	// Regs has one entry per CPU. CPUs without a note have zero
	// registers.
	Regs []linux.RISCV64Regs

	// Strategy is the source the registers came from.
	Strategy Strategy

	// Missing lists the CPUs without a note.
	Missing []int
}

// Extract recovers the per-CPU registers.
func Extract(p Params) (*Result, error) {
	if p.CPUs <= 0 {
		return nil, fmt.Errorf("invalid cpu count %d", p.CPUs)
	}
	if p.NoteBufSize == 0 {
		p.NoteBufSize = linux.NoteBufSize
	}
	if p.PrRegOffset == 0 {
		p.PrRegOffset = linux.ElfPrstatusPrRegOffset
	}
	if p.Logger == nil {
		p.Logger = log.RateLimitedLogger(log.Log(), warnEvery, warnBurst)
	}
	if sc, ok := p.Logger.(log.SuppressionCounter); ok {
		defer func() {
			if n := sc.Suppressed(); n > 0 {
				log.Warningf("%d crash register warnings suppressed", n)
			}
		}()
	}

	if p.Symbols != nil {
		if addr, ok := p.Symbols.Lookup("crash_notes"); ok {
			res, err := fromCrashNotes(&p, addr)
			switch {
			case err == nil:
				return res, nil
			case !errors.Is(err, errSkip):
				return nil, err
			}
			log.Debugf("crash_notes unusable, trying dump file notes")
		}
	}
	if p.Kind.HasCrashNotes() && p.Locator != nil {
		return fromELFNotes(&p), nil
	}
	return nil, ErrUnavailable
}

// noteAddrs returns the address of each CPU's crash_notes buffer.
func noteAddrs(p *Params, base uint64) ([]uint64, error) {
	addrs := make([]uint64, p.CPUs)
	switch {
	case p.PerCPUOffsets != nil:
		if len(p.PerCPUOffsets) < p.CPUs {
			p.Logger.Warningf("__per_cpu_offset has %d entries for %d cpus", len(p.PerCPUOffsets), p.CPUs)
			return nil, errSkip
		}
		for i := range addrs {
			addrs[i] = base + p.PerCPUOffsets[i]
		}
	case p.CPUs == 1:
		addrs[0] = base
	default:
		p.Logger.Warningf("cannot locate crash_notes of %d cpus without __per_cpu_offset", p.CPUs)
		return nil, errSkip
	}
	return addrs, nil
}

func fromCrashNotes(p *Params, sym uint64) (*Result, error) {
	base, err := memory.ReadUint64(p.Memory, sym, memory.KernelVirtual, memory.ReadOpts{
		Policy:  memory.QuietOnError,
		Purpose: "crash_notes",
	})
	if err != nil {
		p.Logger.Warningf("cannot read crash_notes: %v", err)
		return nil, errSkip
	}
	addrs, err := noteAddrs(p, base)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Regs:     make([]linux.RISCV64Regs, p.CPUs),
		Strategy: CrashNotes,
	}
	buf := make([]byte, p.NoteBufSize)
	for cpu, addr := range addrs {
		if err := p.Memory.Read(addr, memory.KernelVirtual, buf, memory.ReadOpts{
			Policy:  memory.QuietOnError,
			Purpose: "note_buf_t",
		}); err != nil {
			p.Logger.Warningf("cannot find NT_PRSTATUS note for cpu: %d", cpu)
			return nil, errSkip
		}

		var hdr linux.ElfNoteHeader
		hdr.UnmarshalBytes(buf)
		// Notes of CPUs that were offline, or of dumps taken by a
		// hypervisor, are left empty; the dump file's note is used.
		if hdr.NameSize == 0 && p.Kind.HasCrashNotes() {
			raw, ok := locate(p, cpu)
			if !ok {
				p.Logger.Warningf("cannot find NT_PRSTATUS note for cpu: %d", cpu)
				res.Missing = append(res.Missing, cpu)
				continue
			}
			if err := replaceNote(buf, raw); err != nil {
				return nil, fmt.Errorf("cpu %d: %w", cpu, err)
			}
		}

		if err := decode(buf, p.PrRegOffset, &res.Regs[cpu]); err != nil {
			p.Logger.Warningf("cpu %d: %v", cpu, err)
			return nil, fmt.Errorf("cpu %d: %w", cpu, err)
		}
	}
	return res, nil
}

// replaceNote copies raw over a note_buf_t buffer. The buffer ends with an
// empty note header that raw must leave room for.
func replaceNote(buf, raw []byte) error {
	notesz := uint64(len(buf)) - linux.ElfNoteHeaderSize
	n, err := linux.ParseElfNote(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNote, err)
	}
	if got := n.RecordSize(); got != notesz {
		return fmt.Errorf("%w: note is %d bytes, note_buf_t holds %d", ErrInvalidNote, got, notesz)
	}
	copy(buf[:notesz], raw)
	return nil
}

// decode checks that buf holds a CORE NT_PRSTATUS note and copies its
// registers into regs.
func decode(buf []byte, prReg uint64, regs *linux.RISCV64Regs) error {
	n, err := linux.ParseElfNote(buf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNote, err)
	}
	if n.Type != linux.NT_PRSTATUS {
		return fmt.Errorf("%w (n_type %d != NT_PRSTATUS)", ErrInvalidNote, n.Type)
	}
	if n.Name != linux.NoteNameCore {
		return fmt.Errorf("%w (name %q != %q)", ErrInvalidNote, n.Name, linux.NoteNameCore)
	}
	off := n.DescOffset() + prReg
	if off+linux.RISCV64RegsSize > uint64(len(buf)) {
		return fmt.Errorf("%w: pr_reg at %#x beyond %d byte note", ErrInvalidNote, off, len(buf))
	}
	regs.UnmarshalBytes(buf[off:])
	return nil
}

func locate(p *Params, cpu int) ([]byte, bool) {
	if p.Locator == nil {
		return nil, false
	}
	return p.Locator.PRStatusNote(cpu)
}

func fromELFNotes(p *Params) *Result {
	res := &Result{
		Regs:     make([]linux.RISCV64Regs, p.CPUs),
		Strategy: ELFNotes,
	}
	for cpu := range res.Regs {
		raw, ok := locate(p, cpu)
		if !ok {
			p.Logger.Warningf("cannot find NT_PRSTATUS note for cpu: %d", cpu)
			res.Missing = append(res.Missing, cpu)
			continue
		}
		n, err := linux.ParseElfNote(raw)
		off := n.DescOffset() + p.PrRegOffset
		if err != nil || off+linux.RISCV64RegsSize > uint64(len(raw)) {
			p.Logger.Warningf("malformed NT_PRSTATUS note for cpu: %d", cpu)
			res.Missing = append(res.Missing, cpu)
			continue
		}
		res.Regs[cpu].UnmarshalBytes(raw[off:])
	}
	return res
}
