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

package memory

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const testPageSize = 4096

// newTestImage returns an image with two segments:
//
//	[0x80000000, 0x80002000) backed by data[0:0x2000]
//	[0x80010000, 0x80012000) with only its first page backed by data[0x2000:0x3000]
func newTestImage(t *testing.T) (*Image, []byte) {
	t.Helper()
	data := make([]byte, 0x3000)
	for i := range data {
		data[i] = byte(i / testPageSize)
	}
	data[0x1ffe] = 0xaa
	data[0x1fff] = 0xbb
	im, err := NewImage(data, []Segment{
		{PhysStart: 0x80010000, PhysEnd: 0x80012000, FileOffset: 0x2000, FileSize: 0x1000},
		{PhysStart: 0x80000000, PhysEnd: 0x80002000, FileOffset: 0, FileSize: 0x2000},
	}, testPageSize, nil)
	if err != nil {
		t.Fatalf("NewImage failed: %v", err)
	}
	return im, data
}

func TestSegmentsOrdered(t *testing.T) {
	im, _ := newTestImage(t)
	got := im.Segments()
	want := []Segment{
		{PhysStart: 0x80000000, PhysEnd: 0x80002000, FileOffset: 0, FileSize: 0x2000},
		{PhysStart: 0x80010000, PhysEnd: 0x80012000, FileOffset: 0x2000, FileSize: 0x1000},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}
	if got, want := im.MaxPhys(), uint64(0x80012000); got != want {
		t.Errorf("MaxPhys() = %#x, want %#x", got, want)
	}
}

func TestReadPhysical(t *testing.T) {
	im, data := newTestImage(t)
	for _, tc := range []struct {
		name    string
		addr    uint64
		size    int
		want    []byte
		wantErr error
	}{
		{
			name: "start",
			addr: 0x80000000,
			size: 4,
			want: data[:4],
		},
		{
			name: "segment tail",
			addr: 0x80001ffe,
			size: 2,
			want: []byte{0xaa, 0xbb},
		},
		{
			name: "zero fill",
			addr: 0x80011ff8,
			size: 8,
			want: make([]byte, 8),
		},
		{
			name: "straddles backed and zero-filled",
			addr: 0x80010ffc,
			size: 8,
			want: []byte{2, 2, 2, 2, 0, 0, 0, 0},
		},
		{
			name:    "hole",
			addr:    0x80005000,
			size:    8,
			wantErr: ErrNotMapped,
		},
		{
			name:    "runs off the end",
			addr:    0x80001ffc,
			size:    8,
			wantErr: ErrNotMapped,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			buf := make([]byte, tc.size)
			err := im.Read(tc.addr, Physical, buf, ReadOpts{Policy: QuietOnError})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Read err = %v, want %v", err, tc.wantErr)
				}
				var fe *FaultError
				if !errors.As(err, &fe) || fe.Addr != tc.addr || fe.Space != Physical {
					t.Errorf("Read err = %#v, want *FaultError at %#x", err, tc.addr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if !bytes.Equal(buf, tc.want) {
				t.Errorf("got %v, wanted %v", buf, tc.want)
			}
		})
	}
}

func TestFaultPolicy(t *testing.T) {
	im, _ := newTestImage(t)
	buf := make([]byte, 8)
	err := im.Read(0x1000, Physical, buf, ReadOpts{Policy: ReturnOnError, Purpose: "test"})
	if err == nil || errors.Is(err, ErrFault) {
		t.Errorf("ReturnOnError: err = %v, want non-fault error", err)
	}
	err = im.Read(0x1000, Physical, buf, ReadOpts{Policy: FaultOnError, Purpose: "test"})
	if !errors.Is(err, ErrFault) || !errors.Is(err, ErrNotMapped) {
		t.Errorf("FaultOnError: err = %v, want ErrFault wrapping ErrNotMapped", err)
	}
}

func TestOverlapRejected(t *testing.T) {
	data := make([]byte, 0x4000)
	for _, segs := range [][]Segment{
		{
			{PhysStart: 0x0, PhysEnd: 0x2000, FileSize: 0x2000},
			{PhysStart: 0x1000, PhysEnd: 0x3000, FileSize: 0x2000},
		},
		{
			{PhysStart: 0x1000, PhysEnd: 0x2000, FileSize: 0x1000},
			{PhysStart: 0x0, PhysEnd: 0x3000, FileSize: 0x3000},
		},
		{
			{PhysStart: 0x0, PhysEnd: 0x1000, FileSize: 0x2000},
		},
		{
			{PhysStart: 0x0, PhysEnd: 0x8000, FileOffset: 0x1000, FileSize: 0x4000},
		},
	} {
		if _, err := NewImage(data, segs, testPageSize, nil); err == nil {
			t.Errorf("NewImage(%v) succeeded, want error", segs)
		}
	}
}

func TestReadKernelVirtual(t *testing.T) {
	im, data := newTestImage(t)
	buf := make([]byte, 8)
	if err := im.Read(0xffffffd800000000, KernelVirtual, buf, ReadOpts{}); !errors.Is(err, ErrNoTranslator) {
		t.Fatalf("Read without translator: err = %v, want ErrNoTranslator", err)
	}

	// Map two virtual pages onto physically discontiguous frames.
	const base = 0xffffffd800000000
	var calls []uint64
	im.SetTranslator(TranslatorFunc(func(vaddr uint64) (uint64, bool, error) {
		calls = append(calls, vaddr)
		switch vaddr &^ (testPageSize - 1) {
		case base:
			return 0x80001000 + vaddr%testPageSize, true, nil
		case base + testPageSize:
			return 0x80010000 + vaddr%testPageSize, true, nil
		}
		return 0, false, nil
	}))

	buf = make([]byte, 8)
	if err := im.Read(base+testPageSize-4, KernelVirtual, buf, ReadOpts{}); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	want := append(append([]byte{}, data[0x1ffc:0x2000]...), data[0x2000:0x2004]...)
	if !bytes.Equal(buf, want) {
		t.Errorf("got %v, wanted %v", buf, want)
	}
	if len(calls) != 2 {
		t.Errorf("translator called %d times, want once per page", len(calls))
	}

	if err := im.Read(base+2*testPageSize, KernelVirtual, buf, ReadOpts{}); !errors.Is(err, ErrNotPresent) {
		t.Errorf("unmapped read: err = %v, want ErrNotPresent", err)
	}
}

func TestReadUint(t *testing.T) {
	im, _ := newTestImage(t)
	v, err := ReadUint64(im, 0x80001ff8, Physical, ReadOpts{})
	if err != nil {
		t.Fatalf("ReadUint64 failed: %v", err)
	}
	if want := uint64(0xbbaa010101010101); v != want {
		t.Errorf("ReadUint64 = %#x, want %#x", v, want)
	}
	w, err := ReadUint32(im, 0x80001ffc, Physical, ReadOpts{})
	if err != nil {
		t.Fatalf("ReadUint32 failed: %v", err)
	}
	if want := uint32(0xbbaa0101); w != want {
		t.Errorf("ReadUint32 = %#x, want %#x", w, want)
	}
}

func TestMapFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmcore")
	want := []byte("physical memory")
	if err := os.WriteFile(path, want, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()
	data, release, err := MapFile(f)
	if err != nil {
		t.Fatalf("MapFile failed: %v", err)
	}
	if !bytes.Equal(data, want) {
		t.Errorf("mapped %q, want %q", data, want)
	}
	im, err := NewImage(data, []Segment{{PhysStart: 0x1000, PhysEnd: 0x1000 + uint64(len(want)), FileSize: uint64(len(want))}}, testPageSize, release)
	if err != nil {
		t.Fatalf("NewImage failed: %v", err)
	}
	if err := im.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
