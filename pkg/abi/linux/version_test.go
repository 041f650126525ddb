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

import "testing"

func TestParseKernelVersion(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    KernelVersion
		wantErr bool
	}{
		{in: "5.17.0", want: KernelVersionOf(5, 17, 0)},
		{in: "6.1.55-rc3+", want: KernelVersionOf(6, 1, 55)},
		{in: "5.10-rc1", want: KernelVersionOf(5, 10, 0)},
		{in: "6.6", want: KernelVersionOf(6, 6, 0)},
		{in: " 5.13.2\n", want: KernelVersionOf(5, 13, 2)},
		{in: "6", wantErr: true},
		{in: "x.1.2", wantErr: true},
		{in: "6.x", wantErr: true},
		{in: "5.99999999999999999999.1", wantErr: true},
		{in: "6.1.99999999999999999999", wantErr: true},
	} {
		got, err := ParseKernelVersion(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseKernelVersion(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("ParseKernelVersion(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestKernelVersionCompare(t *testing.T) {
	v513 := KernelVersionOf(5, 13, 0)
	for _, tc := range []struct {
		v    KernelVersion
		want int
	}{
		{KernelVersionOf(5, 12, 19), -1},
		{KernelVersionOf(5, 13, 0), 0},
		{KernelVersionOf(5, 13, 1), 1},
		{KernelVersionOf(4, 20, 0), -1},
		{KernelVersionOf(6, 0, 0), 1},
	} {
		if got := tc.v.Compare(v513); got != tc.want {
			t.Errorf("%v.Compare(%v) = %d, want %d", tc.v, v513, got, tc.want)
		}
		if got := tc.v.AtLeast(v513); got != (tc.want >= 0) {
			t.Errorf("%v.AtLeast(%v) = %t", tc.v, v513, got)
		}
	}
	if !(KernelVersion{}).IsZero() || v513.IsZero() {
		t.Errorf("IsZero misreports")
	}
	if got := v513.String(); got != "5.13.0" {
		t.Errorf("String() = %q", got)
	}
}
