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
	"io"
	"strings"

	"gvisor.dev/rvcore/pkg/bits"
	"gvisor.dev/rvcore/pkg/riscv64/layout"
)

// FormatFlags returns the names of the flags set in raw, joined by "|", or
// "no mapping" if raw is zero.
func FormatFlags(raw uint64, b layout.PTEBits) string {
	if raw == 0 {
		return "no mapping"
	}
	var names []string
	for _, f := range b.Flags() {
		if bits.IsAnyOn64(raw, f.Mask) {
			names = append(names, f.Name)
		}
	}
	return strings.Join(names, "|")
}

// TranslatePTE returns the frame address of a leaf entry and whether the
// page is present.
func TranslatePTE(raw uint64, cfg layout.PagingConfig) (phys uint64, present bool) {
	p := PTE(raw)
	return p.Address(cfg.PageShift), p.Present(cfg.Bits)
}

// FormatPTE writes the PTE / PHYSICAL / FLAGS display of a leaf entry. Only
// the PTE header is written if the page is not present.
func FormatPTE(w io.Writer, raw uint64, cfg layout.PagingConfig) error {
	phys, present := TranslatePTE(raw, cfg)
	pte := fmt.Sprintf("%x", raw)
	ptew := max(len(pte), len("PTE"))
	if !present {
		_, err := fmt.Fprintf(w, "%s\n", strings.TrimRight(center("PTE", ptew, false), " "))
		return err
	}
	physical := fmt.Sprintf("%x", phys)
	physw := max(len(physical), len("PHYSICAL"))
	_, err := fmt.Fprintf(w, "%s  %s  FLAGS\n%s  %s  (%s)\n",
		center("PTE", ptew, false),
		center("PHYSICAL", physw, false),
		center(pte, ptew, true),
		center(physical, physw, true),
		FormatFlags(raw, cfg.Bits))
	return err
}

// center pads s to width. An odd pad puts the extra space on the left if
// right is set.
func center(s string, width int, right bool) string {
	pad := width - len(s)
	if pad <= 0 {
		return s
	}
	left := pad / 2
	if right && pad%2 != 0 {
		left++
	}
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", pad-left)
}
