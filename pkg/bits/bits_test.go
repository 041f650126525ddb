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

package bits

import "testing"

func TestMaskOf64(t *testing.T) {
	for _, tc := range []struct {
		bit  int
		want uint64
	}{
		{0, 0x1},
		{8, 0x100},
		{63, 0x8000000000000000},
	} {
		if got := MaskOf64(tc.bit); got != tc.want {
			t.Errorf("MaskOf64(%d): got %#x, wanted %#x", tc.bit, got, tc.want)
		}
	}
}

func TestIsOn64(t *testing.T) {
	if !IsOn64(0x7, 0x3) {
		t.Errorf("IsOn64(0x7, 0x3) = false, want true")
	}
	if IsOn64(0x5, 0x3) {
		t.Errorf("IsOn64(0x5, 0x3) = true, want false")
	}
	if !IsAnyOn64(0x5, 0x3) {
		t.Errorf("IsAnyOn64(0x5, 0x3) = false, want true")
	}
	if IsAnyOn64(0x4, 0x3) {
		t.Errorf("IsAnyOn64(0x4, 0x3) = true, want false")
	}
}

func TestLowMask64(t *testing.T) {
	for i := 0; i <= 64; i++ {
		m := LowMask64(i)
		if got := TrailingZeros64(^m); got != i {
			t.Errorf("LowMask64(%d) = %#x: got %d trailing ones, wanted %d", i, m, got, i)
		}
	}
}

func TestField64(t *testing.T) {
	const v = 0xffffffd800201234
	for _, tc := range []struct {
		shift, width int
		want         uint64
	}{
		{12, 9, 0x001},
		{21, 9, 0x001},
		{30, 9, 0x160},
		{0, 12, 0x234},
	} {
		if got := Field64(v, tc.shift, tc.width); got != tc.want {
			t.Errorf("Field64(%#x, %d, %d): got %#x, wanted %#x", uint64(v), tc.shift, tc.width, got, tc.want)
		}
	}
}

func TestAlignUp64(t *testing.T) {
	for _, tc := range []struct {
		v, align, want uint64
	}{
		{0, 4, 0},
		{1, 4, 4},
		{4, 4, 4},
		{17, 4, 20},
		{4097, 4096, 8192},
	} {
		if got := AlignUp64(tc.v, tc.align); got != tc.want {
			t.Errorf("AlignUp64(%d, %d): got %d, wanted %d", tc.v, tc.align, got, tc.want)
		}
	}
	if IsPowerOfTwo64(0) || IsPowerOfTwo64(12) || !IsPowerOfTwo64(4096) {
		t.Errorf("IsPowerOfTwo64 misclassified 0, 12 or 4096")
	}
}
