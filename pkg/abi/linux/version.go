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
	"fmt"
	"strconv"
	"strings"
)

// KernelVersion is a kernel release triple.
type KernelVersion struct {
	Major int
	Minor int
	Patch int
}

// KernelVersionOf returns the version major.minor.patch.
func KernelVersionOf(major, minor, patch int) KernelVersion {
	return KernelVersion{Major: major, Minor: minor, Patch: patch}
}

// ParseKernelVersion parses an OSRELEASE string such as "6.1.0-rc3+". The
// patch level is optional; any suffix after its digits is ignored.
func ParseKernelVersion(release string) (KernelVersion, error) {
	var v KernelVersion
	s := strings.TrimSpace(release)
	parts := strings.SplitN(s, ".", 3)
	if len(parts) < 2 {
		return v, fmt.Errorf("malformed kernel release %q", release)
	}
	var err error
	if v.Major, err = strconv.Atoi(parts[0]); err != nil {
		return v, fmt.Errorf("malformed kernel release %q: major: %w", release, err)
	}
	minor := leadingDigits(parts[1])
	if minor == "" {
		return v, fmt.Errorf("malformed kernel release %q: no minor version", release)
	}
	if v.Minor, err = strconv.Atoi(minor); err != nil {
		return v, fmt.Errorf("malformed kernel release %q: minor: %w", release, err)
	}
	if len(parts) == 3 && len(minor) == len(parts[1]) {
		if patch := leadingDigits(parts[2]); patch != "" {
			if v.Patch, err = strconv.Atoi(patch); err != nil {
				return v, fmt.Errorf("malformed kernel release %q: patch: %w", release, err)
			}
		}
	}
	return v, nil
}

func leadingDigits(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}

// Compare returns -1, 0 or 1 as v is older than, equal to or newer than o.
func (v KernelVersion) Compare(o KernelVersion) int {
	switch {
	case v.Major != o.Major:
		return sign(v.Major - o.Major)
	case v.Minor != o.Minor:
		return sign(v.Minor - o.Minor)
	default:
		return sign(v.Patch - o.Patch)
	}
}

func sign(d int) int {
	switch {
	case d < 0:
		return -1
	case d > 0:
		return 1
	}
	return 0
}

// AtLeast returns true if v is o or newer.
func (v KernelVersion) AtLeast(o KernelVersion) bool {
	return v.Compare(o) >= 0
}

// IsZero returns true if the version is unknown.
func (v KernelVersion) IsZero() bool {
	return v == KernelVersion{}
}

// String implements fmt.Stringer.
func (v KernelVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
