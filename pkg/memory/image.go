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
	"fmt"
	"sync"

	"github.com/google/btree"
)

// Segment maps a physical range onto a region of the image data. Bytes
// between FileSize and the end of the range read as zero, as for a PT_LOAD
// header with p_memsz > p_filesz.
type Segment struct {
	// PhysStart is the first physical address of the segment.
	PhysStart uint64

	// PhysEnd is one past the last physical address.
	PhysEnd uint64

	// FileOffset is the offset of the segment's data in the image.
	FileOffset uint64

	// FileSize is the number of bytes backed by image data.
	FileSize uint64
}

// Len returns the length of the physical range.
func (s Segment) Len() uint64 {
	return s.PhysEnd - s.PhysStart
}

// Contains returns true if addr lies in the segment.
func (s Segment) Contains(addr uint64) bool {
	return s.PhysStart <= addr && addr < s.PhysEnd
}

// String implements fmt.Stringer.
func (s Segment) String() string {
	return fmt.Sprintf("[%#x, %#x) @%#x", s.PhysStart, s.PhysEnd, s.FileOffset)
}

func segmentLess(a, b Segment) bool {
	return a.PhysStart < b.PhysStart
}

// btreeDegree is the degree of the segment index.
const btreeDegree = 8

// Image is a Reader over a captured memory image.
type Image struct {
	data     []byte
	segs     *btree.BTreeG[Segment]
	maxPhys  uint64
	pageSize uint64
	release  func() error

	mu         sync.RWMutex
	translator Translator
}

// NewImage returns an Image serving segs from data. Segments must not
// overlap and their file ranges must lie within data. release, if non-nil,
// is called by Close.
func NewImage(data []byte, segs []Segment, pageSize uint64, release func() error) (*Image, error) {
	im := &Image{
		data:     data,
		segs:     btree.NewG[Segment](btreeDegree, segmentLess),
		pageSize: pageSize,
		release:  release,
	}
	for _, s := range segs {
		if s.PhysEnd < s.PhysStart {
			return nil, fmt.Errorf("segment %v: end before start", s)
		}
		if s.FileSize > s.Len() {
			return nil, fmt.Errorf("segment %v: file size %#x exceeds memory size %#x", s, s.FileSize, s.Len())
		}
		if s.FileOffset+s.FileSize > uint64(len(data)) {
			return nil, fmt.Errorf("segment %v: data [%#x, %#x) beyond image size %#x", s, s.FileOffset, s.FileOffset+s.FileSize, len(data))
		}
		if s.Len() == 0 {
			continue
		}
		if prev, ok := im.segmentAt(s.PhysStart); ok {
			return nil, fmt.Errorf("segment %v overlaps %v", s, prev)
		}
		if next, ok := im.segmentAfter(s.PhysStart); ok && next.PhysStart < s.PhysEnd {
			return nil, fmt.Errorf("segment %v overlaps %v", s, next)
		}
		im.segs.ReplaceOrInsert(s)
		if s.PhysEnd > im.maxPhys {
			im.maxPhys = s.PhysEnd
		}
	}
	return im, nil
}

// segmentAt returns the segment containing addr.
func (im *Image) segmentAt(addr uint64) (Segment, bool) {
	var found Segment
	ok := false
	im.segs.DescendLessOrEqual(Segment{PhysStart: addr}, func(s Segment) bool {
		found, ok = s, s.Contains(addr)
		return false
	})
	return found, ok
}

// segmentAfter returns the first segment starting at or after addr.
func (im *Image) segmentAfter(addr uint64) (Segment, bool) {
	var found Segment
	ok := false
	im.segs.AscendGreaterOrEqual(Segment{PhysStart: addr}, func(s Segment) bool {
		found, ok = s, true
		return false
	})
	return found, ok
}

// Segments returns the segments in physical address order.
func (im *Image) Segments() []Segment {
	out := make([]Segment, 0, im.segs.Len())
	im.segs.Ascend(func(s Segment) bool {
		out = append(out, s)
		return true
	})
	return out
}

// PageSize returns the page size of the captured system.
func (im *Image) PageSize() uint64 {
	return im.pageSize
}

// MaxPhys returns one past the highest physical address in the image.
func (im *Image) MaxPhys() uint64 {
	return im.maxPhys
}

// SetTranslator registers the kernel-virtual translator.
func (im *Image) SetTranslator(t Translator) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.translator = t
}

// Read implements Reader.Read.
func (im *Image) Read(addr uint64, space Space, dst []byte, opts ReadOpts) error {
	var err error
	switch space {
	case Physical:
		err = im.readPhys(addr, dst)
	case KernelVirtual:
		err = im.readVirt(addr, dst)
	default:
		err = fmt.Errorf("unknown address space %v", space)
	}
	if err != nil {
		return report(addr, space, opts, err)
	}
	return nil
}

func (im *Image) readPhys(addr uint64, dst []byte) error {
	for len(dst) > 0 {
		s, ok := im.segmentAt(addr)
		if !ok {
			return fmt.Errorf("%#x: %w", addr, ErrNotMapped)
		}
		n := uint64(len(dst))
		if rem := s.PhysEnd - addr; rem < n {
			n = rem
		}
		off := addr - s.PhysStart
		copied := uint64(0)
		if off < s.FileSize {
			copied = uint64(copy(dst[:n], im.data[s.FileOffset+off:s.FileOffset+s.FileSize]))
		}
		clear(dst[copied:n])
		dst = dst[n:]
		addr += n
	}
	return nil
}

func (im *Image) readVirt(addr uint64, dst []byte) error {
	im.mu.RLock()
	t := im.translator
	im.mu.RUnlock()
	if t == nil {
		return ErrNoTranslator
	}
	pageSize := im.pageSize
	if pageSize == 0 {
		pageSize = 4096
	}
	for len(dst) > 0 {
		phys, ok, err := t.KernelToPhys(addr)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%#x: %w", addr, ErrNotPresent)
		}
		n := uint64(len(dst))
		if rem := pageSize - addr%pageSize; rem < n {
			n = rem
		}
		if err := im.readPhys(phys, dst[:n]); err != nil {
			return err
		}
		dst = dst[n:]
		addr += n
	}
	return nil
}

// Close releases the image data.
func (im *Image) Close() error {
	if im.release == nil {
		return nil
	}
	r := im.release
	im.release = nil
	return r()
}
