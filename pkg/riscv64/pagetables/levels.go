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

	"gvisor.dev/rvcore/pkg/bits"
)

// Level describes one level of a page-table walk.
type Level struct {
	// Name is the level name used in traces: PGD, P4D, PUD, PMD or PTE.
	Name string

	// Shift is the position of the level's index in a virtual address.
	Shift uint
}

// Index returns the table index of vaddr at this level.
func (l Level) Index(vaddr uint64) uint64 {
	return bits.Field64(vaddr, int(l.Shift), indexBits)
}

// Leaf returns true for the last level of a walk.
func (l Level) Leaf() bool {
	return l.Name == "PTE"
}

var (
	sv39Levels = []Level{
		{Name: "PGD", Shift: 30},
		{Name: "PMD", Shift: 21},
		{Name: "PTE", Shift: 12},
	}

	sv48Levels = []Level{
		{Name: "PGD", Shift: 39},
		{Name: "PUD", Shift: 30},
		{Name: "PMD", Shift: 21},
		{Name: "PTE", Shift: 12},
	}

	// sv57BottomLevels are the PMD and PTE levels of a 5-level walk. The
	// kernel indexes them with its 4-level helpers, so they are shared
	// with sv48Levels.
	sv57BottomLevels = sv48Levels[2:]

	sv57Levels = append([]Level{
		{Name: "PGD", Shift: 48},
		{Name: "P4D", Shift: 39},
		{Name: "PUD", Shift: 30},
	}, sv57BottomLevels...)
)

// Levels returns the levels of a walk of the given depth, root first.
func Levels(depth int) ([]Level, error) {
	switch depth {
	case 3:
		return sv39Levels, nil
	case 4:
		return sv48Levels, nil
	case 5:
		return sv57Levels, nil
	default:
		return nil, fmt.Errorf("unsupported page table depth %d", depth)
	}
}
