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

package linux

import (
	"bytes"
	"fmt"

	"gvisor.dev/rvcore/pkg/bits"
)

// Note types defined in include/uapi/linux/elf.h.
const (
	NT_PRSTATUS   = 1
	NT_PRFPREG    = 2
	NT_PRPSINFO   = 3
	NT_TASKSTRUCT = 4
	NT_AUXV       = 6
)

// Note owner names.
const (
	// NoteNameCore is the owner of per-CPU NT_PRSTATUS notes
	// (KEXEC_CORE_NOTE_NAME).
	NoteNameCore = "CORE"

	// NoteNameVmcoreinfo is the owner of the vmcoreinfo note.
	NoteNameVmcoreinfo = "VMCOREINFO"
)

// ElfNoteHeaderSize is the size of Elf64_Nhdr.
const ElfNoteHeaderSize = 12

// noteAlign is the alignment of the name and descriptor of an ELF note.
const noteAlign = 4

// ElfNoteHeader is Elf64_Nhdr.
type ElfNoteHeader struct {
	NameSize uint32
	DescSize uint32
	Type     uint32
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (n *ElfNoteHeader) SizeBytes() int {
	return ElfNoteHeaderSize
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (n *ElfNoteHeader) MarshalBytes(dst []byte) {
	ByteOrder.PutUint32(dst[:4], n.NameSize)
	dst = dst[4:]
	ByteOrder.PutUint32(dst[:4], n.DescSize)
	dst = dst[4:]
	ByteOrder.PutUint32(dst[:4], n.Type)
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (n *ElfNoteHeader) UnmarshalBytes(src []byte) {
	n.NameSize = ByteOrder.Uint32(src[:4])
	src = src[4:]
	n.DescSize = ByteOrder.Uint32(src[:4])
	src = src[4:]
	n.Type = ByteOrder.Uint32(src[:4])
}

// DescOffset returns the offset of the descriptor from the start of the
// note.
func (n *ElfNoteHeader) DescOffset() uint64 {
	return bits.AlignUp64(ElfNoteHeaderSize+uint64(n.NameSize), noteAlign)
}

// RecordSize returns the size of the note without trailing descriptor
// padding. This is the size the kernel's note writer accounts for when it
// sizes note_buf_t.
func (n *ElfNoteHeader) RecordSize() uint64 {
	return ElfNoteHeaderSize + bits.AlignUp64(uint64(n.NameSize), noteAlign) + uint64(n.DescSize)
}

// PaddedSize returns the distance from the start of this note to the start of
// the next one in a PT_NOTE segment.
func (n *ElfNoteHeader) PaddedSize() uint64 {
	return n.DescOffset() + bits.AlignUp64(uint64(n.DescSize), noteAlign)
}

// ElfNote is a decoded ELF note record.
type ElfNote struct {
	ElfNoteHeader

	// Name is the owner name, without the terminating NUL.
	Name string

	// Desc is the descriptor. It aliases the buffer the note was parsed
	// from.
	Desc []byte
}

// ParseElfNote decodes the note at the start of buf.
func ParseElfNote(buf []byte) (ElfNote, error) {
	var n ElfNote
	if len(buf) < ElfNoteHeaderSize {
		return n, fmt.Errorf("short ELF note: %d bytes", len(buf))
	}
	n.UnmarshalBytes(buf[:ElfNoteHeaderSize])
	nameEnd := uint64(ElfNoteHeaderSize) + uint64(n.NameSize)
	descStart := n.DescOffset()
	descEnd := descStart + uint64(n.DescSize)
	if nameEnd > uint64(len(buf)) || descEnd > uint64(len(buf)) {
		return n, fmt.Errorf("ELF note (namesz %d, descsz %d) overruns %d byte buffer", n.NameSize, n.DescSize, len(buf))
	}
	n.Name = string(bytes.TrimRight(buf[ElfNoteHeaderSize:nameEnd], "\x00"))
	n.Desc = buf[descStart:descEnd]
	return n, nil
}

// ForEachElfNote calls fn for each note in a PT_NOTE segment. Iteration stops
// at the first empty (all-zero) header, which the kernel uses as a
// terminator, or when fn returns false.
func ForEachElfNote(buf []byte, fn func(off uint64, n ElfNote) bool) error {
	off := uint64(0)
	for off+ElfNoteHeaderSize <= uint64(len(buf)) {
		n, err := ParseElfNote(buf[off:])
		if err != nil {
			return fmt.Errorf("note at offset %#x: %w", off, err)
		}
		if n.NameSize == 0 && n.DescSize == 0 && n.Type == 0 {
			return nil
		}
		if !fn(off, n) {
			return nil
		}
		off += n.PaddedSize()
	}
	return nil
}
