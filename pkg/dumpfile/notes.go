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

package dumpfile

import (
	"gvisor.dev/rvcore/pkg/abi/linux"
)

// NoteProcessor consumes the notes of an image in file order. raw is the
// whole note record: header, name and descriptor, without trailing
// descriptor padding.
type NoteProcessor func(n linux.ElfNote, raw []byte) error

// PRStatusNotes holds one raw NT_PRSTATUS record per CPU, in the order the
// kdump kernel wrote them. A nil entry is a CPU without a note.
type PRStatusNotes [][]byte

// PRStatusNote returns the record for cpu.
func (p PRStatusNotes) PRStatusNote(cpu int) ([]byte, bool) {
	if cpu < 0 || cpu >= len(p) || p[cpu] == nil {
		return nil, false
	}
	return p[cpu], true
}

// Len returns the number of recorded CPUs.
func (p PRStatusNotes) Len() int {
	return len(p)
}

// IsPRStatus returns true if n is a per-CPU register note.
func IsPRStatus(n linux.ElfNote) bool {
	return n.Type == linux.NT_PRSTATUS && n.Name == linux.NoteNameCore
}

// IsVmcoreinfo returns true if n is the vmcoreinfo note.
func IsVmcoreinfo(n linux.ElfNote) bool {
	return n.Name == linux.NoteNameVmcoreinfo
}

// forEachNote walks the note segments in seg and passes each note to fn.
func forEachNote(segs [][]byte, fn NoteProcessor) error {
	for _, seg := range segs {
		var ferr error
		err := linux.ForEachElfNote(seg, func(off uint64, n linux.ElfNote) bool {
			end := off + n.RecordSize()
			if end > uint64(len(seg)) {
				end = uint64(len(seg))
			}
			ferr = fn(n, seg[off:end])
			return ferr == nil
		})
		if ferr != nil {
			return ferr
		}
		if err != nil {
			return err
		}
	}
	return nil
}
