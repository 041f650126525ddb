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

// Package dumpfiletest builds synthetic ELF vmcores for tests.
package dumpfiletest

import (
	"debug/elf"
	"os"

	"gvisor.dev/rvcore/pkg/abi/linux"
	"gvisor.dev/rvcore/pkg/bits"
)

const (
	ehdrSize = 64
	phdrSize = 56
)

// Load is a PT_LOAD segment.
type Load struct {
	Phys uint64
	Data []byte

	// MemSize is p_memsz. If smaller than len(Data), len(Data) is used.
	MemSize uint64
}

// Builder accumulates the contents of an ELF vmcore.
type Builder struct {
	// Machine is e_machine. Zero means EM_RISCV.
	Machine elf.Machine

	// Type is e_type. Zero means ET_CORE.
	Type elf.Type

	notes [][]byte
	loads []Load
}

// AddNote appends a raw note to the PT_NOTE segment.
func (b *Builder) AddNote(name string, typ uint32, desc []byte) {
	b.notes = append(b.notes, EncodeNote(name, typ, desc))
}

// AddPRStatus appends an NT_PRSTATUS note carrying regs for pid.
func (b *Builder) AddPRStatus(pid int32, regs linux.RISCV64Regs) {
	b.AddNote(linux.NoteNameCore, linux.NT_PRSTATUS, PRStatusDesc(pid, regs))
}

// AddVmcoreinfo appends a VMCOREINFO note.
func (b *Builder) AddVmcoreinfo(text string) {
	b.AddNote(linux.NoteNameVmcoreinfo, 0, []byte(text))
}

// AddLoad appends a PT_LOAD segment.
func (b *Builder) AddLoad(l Load) {
	b.loads = append(b.loads, l)
}

// EncodeNote returns a 4-byte aligned note record. An empty name produces
// namesz 0.
func EncodeNote(name string, typ uint32, desc []byte) []byte {
	hdr := linux.ElfNoteHeader{Type: typ, DescSize: uint32(len(desc))}
	if name != "" {
		hdr.NameSize = uint32(len(name) + 1)
	}
	buf := make([]byte, hdr.PaddedSize())
	hdr.MarshalBytes(buf)
	copy(buf[linux.ElfNoteHeaderSize:], name)
	copy(buf[hdr.DescOffset():], desc)
	return buf
}

// PRStatusDesc returns an elf_prstatus descriptor for pid with regs.
func PRStatusDesc(pid int32, regs linux.RISCV64Regs) []byte {
	desc := make([]byte, linux.ElfPrstatusSize)
	linux.ByteOrder.PutUint32(desc[32:], uint32(pid))
	regs.MarshalBytes(desc[linux.ElfPrstatusPrRegOffset:])
	return desc
}

// CrashNoteBuf returns a note_buf_t as the crashing kernel leaves it in a
// CPU's crash_notes: the NT_PRSTATUS note followed by an empty note.
func CrashNoteBuf(pid int32, regs linux.RISCV64Regs) []byte {
	buf := make([]byte, linux.NoteBufSize)
	copy(buf, EncodeNote(linux.NoteNameCore, linux.NT_PRSTATUS, PRStatusDesc(pid, regs)))
	return buf
}

// Bytes returns the encoded vmcore.
func (b *Builder) Bytes() []byte {
	machine := b.Machine
	if machine == 0 {
		machine = elf.EM_RISCV
	}
	typ := b.Type
	if typ == 0 {
		typ = elf.ET_CORE
	}

	var noteSeg []byte
	for _, n := range b.notes {
		noteSeg = append(noteSeg, n...)
	}
	nphdr := len(b.loads)
	if len(noteSeg) > 0 {
		nphdr++
	}

	off := uint64(ehdrSize + nphdr*phdrSize)
	out := make([]byte, off)
	var body []byte

	// ELF header.
	copy(out, []byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)})
	bo := linux.ByteOrder
	bo.PutUint16(out[16:], uint16(typ))
	bo.PutUint16(out[18:], uint16(machine))
	bo.PutUint32(out[20:], uint32(elf.EV_CURRENT))
	bo.PutUint64(out[32:], ehdrSize)
	bo.PutUint16(out[52:], ehdrSize)
	bo.PutUint16(out[54:], phdrSize)
	bo.PutUint16(out[56:], uint16(nphdr))

	ph := out[ehdrSize:]
	putPhdr := func(typ elf.ProgType, fileOff, paddr, filesz, memsz uint64) {
		bo.PutUint32(ph[0:], uint32(typ))
		bo.PutUint32(ph[4:], uint32(elf.PF_R))
		bo.PutUint64(ph[8:], fileOff)
		bo.PutUint64(ph[24:], paddr)
		bo.PutUint64(ph[32:], filesz)
		bo.PutUint64(ph[40:], memsz)
		ph = ph[phdrSize:]
	}

	if len(noteSeg) > 0 {
		putPhdr(elf.PT_NOTE, off, 0, uint64(len(noteSeg)), uint64(len(noteSeg)))
		body = append(body, noteSeg...)
		off += uint64(len(noteSeg))
	}
	for _, l := range b.loads {
		aligned := bits.AlignUp64(off, 8)
		body = append(body, make([]byte, aligned-off)...)
		off = aligned
		memsz := l.MemSize
		if memsz < uint64(len(l.Data)) {
			memsz = uint64(len(l.Data))
		}
		putPhdr(elf.PT_LOAD, off, l.Phys, uint64(len(l.Data)), memsz)
		body = append(body, l.Data...)
		off += uint64(len(l.Data))
	}
	return append(out, body...)
}

// WriteFile writes the vmcore to path.
func (b *Builder) WriteFile(path string) error {
	return os.WriteFile(path, b.Bytes(), 0644)
}
