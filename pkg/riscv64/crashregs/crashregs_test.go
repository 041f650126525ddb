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

package crashregs

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/rvcore/pkg/abi/linux"
	"gvisor.dev/rvcore/pkg/dumpfile"
	"gvisor.dev/rvcore/pkg/dumpfile/dumpfiletest"
	"gvisor.dev/rvcore/pkg/log"
	"gvisor.dev/rvcore/pkg/memory"
	"gvisor.dev/rvcore/pkg/symbols"
)

const (
	// kbase is the kernel virtual address of kmem.
	kbase = 0xffffffd800000000

	crashNotesSym = kbase
	percpuBase    = kbase + 0x1000
	percpuStride  = 0x1000
)

// kmem is kernel memory backed by a byte slice.
type kmem struct {
	data []byte
}

func newKmem(cpus int) *kmem {
	m := &kmem{data: make([]byte, 0x1000+cpus*percpuStride)}
	linux.ByteOrder.PutUint64(m.data, percpuBase)
	return m
}

func (m *kmem) Read(addr uint64, space memory.Space, dst []byte, _ memory.ReadOpts) error {
	if space != memory.KernelVirtual || addr < kbase || addr-kbase+uint64(len(dst)) > uint64(len(m.data)) {
		return memory.ErrNotPresent
	}
	copy(dst, m.data[addr-kbase:])
	return nil
}

func (m *kmem) putNoteBuf(cpu int, buf []byte) {
	copy(m.data[percpuBase-kbase+uint64(cpu)*percpuStride:], buf)
}

// recorder is a log.Logger that keeps warnings.
type recorder struct {
	warnings []string
}

func (r *recorder) Debugf(string, ...any) {}
func (r *recorder) Infof(string, ...any)  {}
func (r *recorder) Warningf(format string, v ...any) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, v...))
}
func (r *recorder) IsLogging(log.Level) bool { return true }

func regsFor(cpu int) linux.RISCV64Regs {
	return linux.RISCV64Regs{
		Pc: 0xffffffff80001000 + uint64(cpu),
		Ra: 0xffffffff80002000 + uint64(cpu),
		Sp: 0xffffffc800010000 + uint64(cpu)*0x4000,
		A0: uint64(cpu),
	}
}

func crashNotesSymbols() symbols.Source {
	return symbols.NewTable([]symbols.Symbol{{Name: "crash_notes", Value: crashNotesSym, Type: 'd'}})
}

func offsets(cpus int) []uint64 {
	var off []uint64
	for i := 0; i < cpus; i++ {
		off = append(off, uint64(i)*percpuStride)
	}
	return off
}

// elfNotes returns dump file notes for cpus, skipping those in missing.
func elfNotes(cpus int, missing ...int) dumpfile.PRStatusNotes {
	notes := make(dumpfile.PRStatusNotes, cpus)
	for i := range notes {
		notes[i] = dumpfiletest.EncodeNote(linux.NoteNameCore, linux.NT_PRSTATUS, dumpfiletest.PRStatusDesc(int32(100+i), regsFor(i)))
	}
	for _, i := range missing {
		notes[i] = nil
	}
	return notes
}

func TestStrategyELFNotes(t *testing.T) {
	const cpus = 4
	rec := &recorder{}
	res, err := Extract(Params{
		CPUs:    cpus,
		Memory:  newKmem(0),
		Symbols: symbols.NewTable(nil),
		Kind:    dumpfile.Kdump,
		Locator: elfNotes(cpus, 2),
		Logger:  rec,
	})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if res.Strategy != ELFNotes {
		t.Errorf("Strategy = %v, want %v", res.Strategy, ELFNotes)
	}
	want := []linux.RISCV64Regs{regsFor(0), regsFor(1), {}, regsFor(3)}
	if diff := cmp.Diff(want, res.Regs); diff != "" {
		t.Errorf("registers mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2}, res.Missing); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"cannot find NT_PRSTATUS note for cpu: 2"}, rec.warnings); diff != "" {
		t.Errorf("warnings mismatch (-want +got):\n%s", diff)
	}
}

func TestUnavailable(t *testing.T) {
	for _, kind := range []dumpfile.Kind{dumpfile.Live, dumpfile.Other} {
		_, err := Extract(Params{
			CPUs:    2,
			Memory:  newKmem(0),
			Kind:    kind,
			Locator: elfNotes(2),
			Logger:  &recorder{},
		})
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("%v: Extract err = %v, want ErrUnavailable", kind, err)
		}
	}
	if _, err := Extract(Params{CPUs: 0}); err == nil {
		t.Errorf("Extract with no cpus succeeded")
	}
}

func TestStrategyCrashNotes(t *testing.T) {
	const cpus = 3
	m := newKmem(cpus)
	for i := 0; i < cpus; i++ {
		m.putNoteBuf(i, dumpfiletest.CrashNoteBuf(int32(100+i), regsFor(i)))
	}
	for _, kind := range []dumpfile.Kind{dumpfile.Kdump, dumpfile.Live} {
		res, err := Extract(Params{
			CPUs:          cpus,
			Memory:        m,
			Symbols:       crashNotesSymbols(),
			PerCPUOffsets: offsets(cpus),
			Kind:          kind,
			Locator:       elfNotes(cpus),
			Logger:        &recorder{},
		})
		if err != nil {
			t.Fatalf("%v: Extract failed: %v", kind, err)
		}
		if res.Strategy != CrashNotes {
			t.Errorf("%v: Strategy = %v, want %v", kind, res.Strategy, CrashNotes)
		}
		want := []linux.RISCV64Regs{regsFor(0), regsFor(1), regsFor(2)}
		if diff := cmp.Diff(want, res.Regs); diff != "" {
			t.Errorf("%v: registers mismatch (-want +got):\n%s", kind, diff)
		}
		if len(res.Missing) != 0 {
			t.Errorf("%v: missing = %v", kind, res.Missing)
		}
	}
}

func TestCrashNotesSingleCPU(t *testing.T) {
	m := newKmem(1)
	m.putNoteBuf(0, dumpfiletest.CrashNoteBuf(1, regsFor(0)))
	res, err := Extract(Params{
		CPUs:    1,
		Memory:  m,
		Symbols: crashNotesSymbols(),
		Kind:    dumpfile.Live,
		Logger:  &recorder{},
	})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if res.Strategy != CrashNotes || res.Regs[0] != regsFor(0) {
		t.Errorf("got %v %+v, wanted crash_notes registers", res.Strategy, res.Regs[0])
	}
}

func TestInvalidNoteIsFatal(t *testing.T) {
	const cpus = 2
	for _, tc := range []struct {
		name string
		buf  []byte
	}{
		{
			name: "wrong type",
			buf: func() []byte {
				buf := make([]byte, linux.NoteBufSize)
				copy(buf, dumpfiletest.EncodeNote(linux.NoteNameCore, linux.NT_PRFPREG, dumpfiletest.PRStatusDesc(1, regsFor(1))))
				return buf
			}(),
		},
		{
			name: "wrong name",
			buf: func() []byte {
				buf := make([]byte, linux.NoteBufSize)
				copy(buf, dumpfiletest.EncodeNote("LINUX", linux.NT_PRSTATUS, dumpfiletest.PRStatusDesc(1, regsFor(1))))
				return buf
			}(),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := newKmem(cpus)
			m.putNoteBuf(0, dumpfiletest.CrashNoteBuf(100, regsFor(0)))
			m.putNoteBuf(1, tc.buf)
			// Dump file notes are available but must not be used.
			res, err := Extract(Params{
				CPUs:          cpus,
				Memory:        m,
				Symbols:       crashNotesSymbols(),
				PerCPUOffsets: offsets(cpus),
				Kind:          dumpfile.Kdump,
				Locator:       elfNotes(cpus),
				Logger:        &recorder{},
			})
			if !errors.Is(err, ErrInvalidNote) {
				t.Errorf("Extract err = %v, want ErrInvalidNote", err)
			}
			if res != nil {
				t.Errorf("Extract returned registers: %+v", res)
			}
		})
	}
}

func TestCrashNotesEmptyBuffer(t *testing.T) {
	const cpus = 3
	m := newKmem(cpus)
	m.putNoteBuf(0, dumpfiletest.CrashNoteBuf(100, regsFor(0)))
	// CPU 1 was offline: its buffer is empty and the dump file note is
	// used. CPU 2's buffer is empty and the dump file has no note.
	rec := &recorder{}
	res, err := Extract(Params{
		CPUs:          cpus,
		Memory:        m,
		Symbols:       crashNotesSymbols(),
		PerCPUOffsets: offsets(cpus),
		Kind:          dumpfile.Kdump,
		Locator:       elfNotes(cpus, 2),
		Logger:        rec,
	})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if res.Strategy != CrashNotes {
		t.Errorf("Strategy = %v, want %v", res.Strategy, CrashNotes)
	}
	want := []linux.RISCV64Regs{regsFor(0), regsFor(1), {}}
	if diff := cmp.Diff(want, res.Regs); diff != "" {
		t.Errorf("registers mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2}, res.Missing); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"cannot find NT_PRSTATUS note for cpu: 2"}, rec.warnings); diff != "" {
		t.Errorf("warnings mismatch (-want +got):\n%s", diff)
	}
}

func TestCrashNotesEmptyBufferLive(t *testing.T) {
	// Without dump file notes an empty buffer is an invalid note.
	m := newKmem(1)
	_, err := Extract(Params{
		CPUs:    1,
		Memory:  m,
		Symbols: crashNotesSymbols(),
		Kind:    dumpfile.Live,
		Logger:  &recorder{},
	})
	if !errors.Is(err, ErrInvalidNote) {
		t.Errorf("Extract err = %v, want ErrInvalidNote", err)
	}
}

func TestLocatedNoteSizeMismatch(t *testing.T) {
	m := newKmem(1)
	notes := dumpfile.PRStatusNotes{
		dumpfiletest.EncodeNote(linux.NoteNameCore, linux.NT_PRSTATUS, make([]byte, linux.ElfPrstatusSize+8)),
	}
	_, err := Extract(Params{
		CPUs:    1,
		Memory:  m,
		Symbols: crashNotesSymbols(),
		Kind:    dumpfile.Kdump,
		Locator: notes,
		Logger:  &recorder{},
	})
	if !errors.Is(err, ErrInvalidNote) {
		t.Errorf("Extract err = %v, want ErrInvalidNote", err)
	}
}

func TestCrashNotesFallback(t *testing.T) {
	const cpus = 2
	for _, tc := range []struct {
		name    string
		mem     func() *kmem
		offsets []uint64
		warning string
	}{
		{
			name: "unreadable crash_notes",
			mem: func() *kmem {
				return &kmem{}
			},
			offsets: offsets(cpus),
			warning: "cannot read crash_notes: " + memory.ErrNotPresent.Error(),
		},
		{
			name: "no per-cpu offsets",
			mem: func() *kmem {
				return newKmem(cpus)
			},
			warning: "cannot locate crash_notes of 2 cpus without __per_cpu_offset",
		},
		{
			name: "unreadable note buffer",
			mem: func() *kmem {
				m := newKmem(cpus)
				m.putNoteBuf(0, dumpfiletest.CrashNoteBuf(100, regsFor(0)))
				return m
			},
			offsets: []uint64{0, 0x100000},
			warning: "cannot find NT_PRSTATUS note for cpu: 1",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			res, err := Extract(Params{
				CPUs:          cpus,
				Memory:        tc.mem(),
				Symbols:       crashNotesSymbols(),
				PerCPUOffsets: tc.offsets,
				Kind:          dumpfile.Kdump,
				Locator:       elfNotes(cpus),
				Logger:        rec,
			})
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}
			if res.Strategy != ELFNotes {
				t.Errorf("Strategy = %v, want %v", res.Strategy, ELFNotes)
			}
			if diff := cmp.Diff([]linux.RISCV64Regs{regsFor(0), regsFor(1)}, res.Regs); diff != "" {
				t.Errorf("registers mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]string{tc.warning}, rec.warnings); diff != "" {
				t.Errorf("warnings mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCustomLayout(t *testing.T) {
	// A kernel with a larger elf_prstatus.
	const prReg = linux.ElfPrstatusPrRegOffset + 16
	desc := make([]byte, linux.ElfPrstatusSize+16)
	regs := regsFor(0)
	regs.MarshalBytes(desc[prReg:])
	notes := dumpfile.PRStatusNotes{dumpfiletest.EncodeNote(linux.NoteNameCore, linux.NT_PRSTATUS, desc)}

	m := newKmem(1)
	bufSize := uint64(linux.NoteBufSize + 16)
	m.putNoteBuf(0, make([]byte, bufSize))
	res, err := Extract(Params{
		CPUs:        1,
		Memory:      m,
		Symbols:     crashNotesSymbols(),
		Kind:        dumpfile.Kdump,
		Locator:     notes,
		NoteBufSize: bufSize,
		PrRegOffset: prReg,
		Logger:      &recorder{},
	})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if res.Regs[0] != regs {
		t.Errorf("registers = %+v, want %+v", res.Regs[0], regs)
	}
}

func TestRateLimitedWarnings(t *testing.T) {
	const cpus = 64
	rec := &recorder{}
	limited := log.RateLimitedLogger(rec, time.Hour, warnBurst)
	res, err := Extract(Params{
		CPUs:    cpus,
		Memory:  newKmem(0),
		Kind:    dumpfile.Kdump,
		Locator: dumpfile.PRStatusNotes{},
		Logger:  limited,
	})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(res.Missing) != cpus {
		t.Errorf("got %d missing cpus, wanted %d", len(res.Missing), cpus)
	}
	if len(rec.warnings) != warnBurst {
		t.Errorf("got %d warnings, wanted %d", len(rec.warnings), warnBurst)
	}
	if got := limited.(log.SuppressionCounter).Suppressed(); got != cpus-warnBurst {
		t.Errorf("Suppressed() = %d, want %d", got, cpus-warnBurst)
	}
}
