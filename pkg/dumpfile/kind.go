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
	"bytes"
	"fmt"
	"strings"
)

// Kind is the provenance of a memory image.
type Kind int

const (
	// Other is an image of unknown provenance. It carries no crash notes.
	Other Kind = iota

	// Live is the memory of a running system.
	Live

	// Kdump is an ELF vmcore written by the kdump kernel.
	Kdump

	// Diskdump is a makedumpfile compressed dump.
	Diskdump
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Other:
		return "other"
	case Live:
		return "live"
	case Kdump:
		return "kdump"
	case Diskdump:
		return "diskdump"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// HasCrashNotes returns true if images of this kind carry per-CPU
// NT_PRSTATUS notes written at crash time.
func (k Kind) HasCrashNotes() bool {
	return k == Kdump || k == Diskdump
}

// ParseKind parses the String form of a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "other", "":
		return Other, nil
	case "live":
		return Live, nil
	case "kdump":
		return Kdump, nil
	case "diskdump":
		return Diskdump, nil
	}
	return Other, fmt.Errorf("unknown dump kind %q", s)
}

// Signatures at offset 0 of the supported and recognized formats.
var (
	elfMagic          = []byte("\x7fELF")
	kdumpCompressed   = []byte("KDUMP   ")
	diskdumpSignature = []byte("DISKDUMP")
)

// Detect returns the kind of image whose first bytes are hdr, and whether
// the image is an ELF file.
func Detect(hdr []byte) (kind Kind, isELF bool) {
	switch {
	case bytes.HasPrefix(hdr, elfMagic):
		return Kdump, true
	case bytes.HasPrefix(hdr, kdumpCompressed), bytes.HasPrefix(hdr, diskdumpSignature):
		return Diskdump, false
	}
	return Other, false
}
