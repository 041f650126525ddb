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

// Package dumpfile opens memory images of crashed RISC-V 64 systems.
//
// ELF vmcores written by the kdump kernel are supported: PT_LOAD segments
// become the physical memory image and PT_NOTE segments provide the
// per-CPU NT_PRSTATUS notes and the vmcoreinfo blob. Compressed
// (makedumpfile/diskdump) images are recognized but not decoded.
package dumpfile

import (
	"context"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"gvisor.dev/rvcore/pkg/abi/linux"
	"gvisor.dev/rvcore/pkg/cleanup"
	"gvisor.dev/rvcore/pkg/log"
	"gvisor.dev/rvcore/pkg/memory"
	"gvisor.dev/rvcore/pkg/vmcoreinfo"
)

var (
	// ErrUnsupportedFormat is returned for recognized images that cannot
	// be decoded.
	ErrUnsupportedFormat = errors.New("unsupported dump format")

	// ErrNotDump is returned for files that are not memory images.
	ErrNotDump = errors.New("not a memory image")

	// ErrLocked is returned when a writer still holds the image.
	ErrLocked = errors.New("dump file is locked by a writer")
)

// defaultPageSize is used when vmcoreinfo does not export PAGESIZE.
const defaultPageSize = 4096

// Opts are options for Open.
type Opts struct {
	// Wait is how long to wait for a writer holding an exclusive flock(2)
	// on the image to finish. Zero does not wait.
	Wait time.Duration

	// NoLock skips taking the shared lock.
	NoLock bool
}

// Dump is an open memory image.
type Dump struct {
	// Path is the file the image was read from.
	Path string

	// Kind is the image provenance.
	Kind Kind

	// Image serves reads of the crashed system's memory.
	Image *memory.Image

	// Info is the vmcoreinfo exported by the crashed kernel. It is empty
	// if the image had no VMCOREINFO note.
	Info *vmcoreinfo.Info

	// Notes are the per-CPU NT_PRSTATUS records.
	Notes PRStatusNotes

	noteSegs [][]byte
	file     *os.File
	lock     *flock.Flock
}

// Open opens the image at path.
func Open(ctx context.Context, path string, opts Opts) (*Dump, error) {
	var cu cleanup.Cleanup
	defer cu.Clean()

	d := &Dump{Path: path}
	if !opts.NoLock {
		l, err := lockShared(ctx, path, opts.Wait)
		if err != nil {
			return nil, err
		}
		if l != nil {
			d.lock = l
			cu.Add(func() { l.Unlock() })
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	cu.Add(func() { f.Close() })
	d.file = f

	hdr := make([]byte, 8)
	if _, err := io.ReadFull(f, hdr); err != nil {
		return nil, fmt.Errorf("%s: reading header: %w", path, err)
	}
	kind, isELF := Detect(hdr)
	switch {
	case isELF:
	case kind == Diskdump:
		return nil, fmt.Errorf("%s: compressed %v image: %w", path, kind, ErrUnsupportedFormat)
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrNotDump)
	}
	d.Kind = kind

	ef, err := elf.NewFile(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := checkELF(ef); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	data, unmap, err := memory.MapFile(f)
	if err != nil {
		return nil, err
	}
	cu.Add(func() { unmap() })

	if err := d.load(ef, data, unmap); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Infof("Opened %v image %s: %d segments, %d CPU notes, %d vmcoreinfo entries",
		d.Kind, path, len(d.Image.Segments()), d.Notes.Len(), d.Info.Len())
	cu.Release()
	return d, nil
}

func checkELF(ef *elf.File) error {
	if ef.Class != elf.ELFCLASS64 {
		return fmt.Errorf("%v: %w", ef.Class, ErrUnsupportedFormat)
	}
	if ef.Data != elf.ELFDATA2LSB {
		return fmt.Errorf("%v: %w", ef.Data, ErrUnsupportedFormat)
	}
	if ef.Type != elf.ET_CORE {
		return fmt.Errorf("ELF type %v: %w", ef.Type, ErrNotDump)
	}
	if ef.Machine != elf.EM_RISCV {
		return fmt.Errorf("machine %v: %w", ef.Machine, ErrUnsupportedFormat)
	}
	return nil
}

// load builds the image and collects notes from the program headers.
func (d *Dump) load(ef *elf.File, data []byte, release func() error) error {
	var segs []memory.Segment
	for _, p := range ef.Progs {
		switch p.Type {
		case elf.PT_LOAD:
			segs = append(segs, memory.Segment{
				PhysStart:  p.Paddr,
				PhysEnd:    p.Paddr + p.Memsz,
				FileOffset: p.Off,
				FileSize:   p.Filesz,
			})
		case elf.PT_NOTE:
			if p.Off+p.Filesz > uint64(len(data)) {
				return fmt.Errorf("PT_NOTE [%#x, %#x) beyond file size %#x", p.Off, p.Off+p.Filesz, len(data))
			}
			d.noteSegs = append(d.noteSegs, data[p.Off:p.Off+p.Filesz])
		}
	}

	d.Info = vmcoreinfo.New()
	err := forEachNote(d.noteSegs, func(n linux.ElfNote, raw []byte) error {
		switch {
		case IsPRStatus(n):
			d.Notes = append(d.Notes, raw)
		case IsVmcoreinfo(n):
			info, err := vmcoreinfo.FromBytes(n.Desc)
			if err != nil {
				return err
			}
			d.Info.Merge(info)
		}
		return nil
	})
	if err != nil {
		return err
	}

	pageSize := uint64(defaultPageSize)
	if ps, ok, err := vmcoreinfo.PageSize(d.Info); err != nil {
		log.Warningf("Ignoring vmcoreinfo PAGESIZE: %v", err)
	} else if ok {
		pageSize = ps
	}
	im, err := memory.NewImage(data, segs, pageSize, release)
	if err != nil {
		return err
	}
	d.Image = im
	return nil
}

// PRStatusNote returns the NT_PRSTATUS record for cpu.
func (d *Dump) PRStatusNote(cpu int) ([]byte, bool) {
	return d.Notes.PRStatusNote(cpu)
}

// ProcessNotes replays every note of the image through p, in file order.
func (d *Dump) ProcessNotes(p NoteProcessor) error {
	return forEachNote(d.noteSegs, p)
}

// Close releases the image, its file and its lock.
func (d *Dump) Close() error {
	var errs []error
	if d.Image != nil {
		errs = append(errs, d.Image.Close())
	}
	if d.file != nil {
		errs = append(errs, d.file.Close())
	}
	if d.lock != nil {
		errs = append(errs, d.lock.Unlock())
	}
	return errors.Join(errs...)
}

// lockShared takes a shared flock(2) on path, retrying for up to wait while
// a writer holds it exclusively. Filesystems without lock support are
// tolerated: the image is then opened unlocked.
func lockShared(ctx context.Context, path string, wait time.Duration) (*flock.Flock, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	l := flock.New(path)
	op := func() error {
		ok, err := l.TryRLock()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrLocked
		}
		return nil
	}
	if wait <= 0 {
		err := op()
		if errors.Is(err, ErrLocked) {
			return nil, fmt.Errorf("%s: %w", path, ErrLocked)
		}
		if err != nil {
			log.Warningf("Opening %s unlocked: %v", path, err)
			return nil, nil
		}
		return l, nil
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	b := backoff.WithContext(backoff.NewConstantBackOff(100*time.Millisecond), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if errors.Is(err, ErrLocked) {
			return nil, fmt.Errorf("%s: waited %v: %w", path, wait, ErrLocked)
		}
		log.Warningf("Opening %s unlocked: %v", path, err)
		return nil, nil
	}
	return l, nil
}
