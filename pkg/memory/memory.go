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

// Package memory provides access to the memory of a crashed system as
// captured in a dump file.
//
// Physical reads are served from the image's load segments. Kernel-virtual
// reads are translated page by page through a Translator that the
// architecture layer registers once it knows the address-space layout.
package memory

import (
	"errors"
	"fmt"

	"gvisor.dev/rvcore/pkg/abi/linux"
	"gvisor.dev/rvcore/pkg/log"
)

// Space selects the address space of a read.
type Space int

const (
	// KernelVirtual addresses are translated by the registered Translator.
	KernelVirtual Space = iota

	// Physical addresses index the image directly.
	Physical
)

// String implements fmt.Stringer.
func (s Space) String() string {
	switch s {
	case KernelVirtual:
		return "KVADDR"
	case Physical:
		return "PHYSADDR"
	default:
		return fmt.Sprintf("Space(%d)", int(s))
	}
}

// Policy controls how a failed read is reported.
type Policy int

const (
	// QuietOnError returns the error without logging.
	QuietOnError Policy = iota

	// ReturnOnError logs a warning and returns the error.
	ReturnOnError

	// FaultOnError logs a warning and returns an error that also matches
	// ErrFault, for callers that must abort the current operation.
	FaultOnError
)

// ReadOpts are options for Reader.Read.
type ReadOpts struct {
	// Policy is the error policy.
	Policy Policy

	// Purpose describes the read in error messages, e.g. "pgd page".
	Purpose string
}

var (
	// ErrNotMapped is returned for physical addresses not backed by the
	// image.
	ErrNotMapped = errors.New("physical address not present in image")

	// ErrNoTranslator is returned for kernel-virtual reads before a
	// Translator is registered.
	ErrNoTranslator = errors.New("no kernel virtual address translator")

	// ErrNotPresent is returned when a kernel-virtual address has no
	// mapping.
	ErrNotPresent = errors.New("kernel virtual address not mapped")

	// ErrFault marks errors from FaultOnError reads.
	ErrFault = errors.New("memory fault")
)

// FaultError describes a failed read.
type FaultError struct {
	Addr    uint64
	Space   Space
	Purpose string
	Err     error

	fault bool
}

// Error implements error.Error.
func (e *FaultError) Error() string {
	purpose := e.Purpose
	if purpose == "" {
		purpose = "memory"
	}
	return fmt.Sprintf("read error: %s address: %#x type: %q: %v", e.Space, e.Addr, purpose, e.Err)
}

// Unwrap returns the underlying cause.
func (e *FaultError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches ErrFault for FaultOnError reads.
func (e *FaultError) Is(target error) bool {
	return e.fault && target == ErrFault
}

// Reader reads memory of the crashed system.
type Reader interface {
	// Read fills dst with the contents at addr in space. It either fills
	// dst completely or returns an error.
	Read(addr uint64, space Space, dst []byte, opts ReadOpts) error
}

// Translator translates kernel virtual addresses to physical addresses.
type Translator interface {
	// KernelToPhys returns the physical address of vaddr. ok is false if
	// the address is not mapped.
	KernelToPhys(vaddr uint64) (phys uint64, ok bool, err error)
}

// TranslatorFunc adapts a function to Translator.
type TranslatorFunc func(vaddr uint64) (uint64, bool, error)

// KernelToPhys implements Translator.KernelToPhys.
func (f TranslatorFunc) KernelToPhys(vaddr uint64) (uint64, bool, error) {
	return f(vaddr)
}

// report applies the read policy to a failure.
func report(addr uint64, space Space, opts ReadOpts, err error) error {
	fe := &FaultError{
		Addr:    addr,
		Space:   space,
		Purpose: opts.Purpose,
		Err:     err,
		fault:   opts.Policy == FaultOnError,
	}
	if opts.Policy != QuietOnError {
		log.Warningf("%v", fe)
	}
	return fe
}

// ReadUint64 reads a little-endian 64-bit value.
func ReadUint64(r Reader, addr uint64, space Space, opts ReadOpts) (uint64, error) {
	var buf [8]byte
	if err := r.Read(addr, space, buf[:], opts); err != nil {
		return 0, err
	}
	return linux.ByteOrder.Uint64(buf[:]), nil
}

// ReadUint32 reads a little-endian 32-bit value.
func ReadUint32(r Reader, addr uint64, space Space, opts ReadOpts) (uint32, error) {
	var buf [4]byte
	if err := r.Read(addr, space, buf[:], opts); err != nil {
		return 0, err
	}
	return linux.ByteOrder.Uint32(buf[:]), nil
}
