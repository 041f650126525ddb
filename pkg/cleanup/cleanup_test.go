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

package cleanup

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// open acquires the named resources in order, failing at index fail (-1
// never fails), and records every release in released.
func open(names []string, fail int, released *[]string) (func(), error) {
	var cu Cleanup
	defer cu.Clean()
	for i, name := range names {
		if i == fail {
			return nil, fmt.Errorf("acquiring %s failed", name)
		}
		cu.Add(func() { *released = append(*released, name) })
	}
	return cu.Release(), nil
}

func TestCleanOnError(t *testing.T) {
	names := []string{"lock", "file", "mapping"}
	for _, tc := range []struct {
		name string
		fail int
		want []string
	}{
		{
			name: "first",
			fail: 0,
		},
		{
			name: "middle",
			fail: 1,
			want: []string{"lock"},
		},
		{
			name: "last",
			fail: 2,
			want: []string{"file", "lock"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var released []string
			if _, err := open(names, tc.fail, &released); err == nil {
				t.Fatalf("open succeeded")
			}
			if diff := cmp.Diff(tc.want, released); diff != "" {
				t.Errorf("released mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRelease(t *testing.T) {
	var released []string
	closer, err := open([]string{"lock", "file", "mapping"}, -1, &released)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if len(released) != 0 {
		t.Fatalf("released %v before close", released)
	}
	closer()
	if diff := cmp.Diff([]string{"mapping", "file", "lock"}, released); diff != "" {
		t.Errorf("released mismatch (-want +got):\n%s", diff)
	}
}

func TestCleanTwice(t *testing.T) {
	n := 0
	cu := Make(func() { n++ })
	cu.Clean()
	cu.Clean()
	if n != 1 {
		t.Errorf("cleaner ran %d times, want 1", n)
	}
}
