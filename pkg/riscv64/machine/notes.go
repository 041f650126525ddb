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

package machine

import (
	"gvisor.dev/rvcore/pkg/abi/linux"
	"gvisor.dev/rvcore/pkg/dumpfile"
	"gvisor.dev/rvcore/pkg/log"
)

// NoteProcessor returns the processor for the dump file's ELF notes. It is
// installed by SetupEnv.
func (c *Context) NoteProcessor() (dumpfile.NoteProcessor, error) {
	if err := c.need(PhaseSetupEnv); err != nil {
		return nil, err
	}
	return c.ProcessELFNotes, nil
}

// ProcessELFNotes consumes one ELF-64 note of the dump file. NT_PRSTATUS
// notes are kept, one per CPU in file order.
func (c *Context) ProcessELFNotes(n linux.ElfNote, raw []byte) error {
	switch {
	case dumpfile.IsPRStatus(n):
		c.notes = append(c.notes, raw)
	case dumpfile.IsVmcoreinfo(n):
		log.Debugf("vmcoreinfo note: %d bytes", n.DescSize)
	default:
		log.Debugf("ignoring note %q type %d", n.Name, n.Type)
	}
	return nil
}

// VerifySymbol reports whether a symbol table entry is usable. All
// symbols are.
func (c *Context) VerifySymbol(name string, value uint64, typ byte) bool {
	return true
}

// VerifyPaddr reports whether paddr is inside the captured memory.
func (c *Context) VerifyPaddr(paddr uint64) bool {
	return paddr < c.host.Memory.MaxPhys()
}
