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
	"io"
)

// RISCV64RegsSize is the size of struct user_regs_struct on riscv64.
const RISCV64RegsSize = 32 * 8

// Offsets within struct elf_prstatus on riscv64.
const (
	// ElfPrstatusPrRegOffset is offsetof(struct elf_prstatus, pr_reg).
	ElfPrstatusPrRegOffset = 112

	// ElfPrstatusSize is sizeof(struct elf_prstatus).
	ElfPrstatusSize = 376

	// NoteBufSize is sizeof(note_buf_t): two note headers (the
	// NT_PRSTATUS note and the empty final note), the "CORE" name and
	// the elf_prstatus descriptor.
	NoteBufSize = 2*ElfNoteHeaderSize + 8 + ElfPrstatusSize
)

// RISCV64Regs is struct user_regs_struct from
// arch/riscv/include/uapi/asm/ptrace.h, the register block stored in
// elf_prstatus.pr_reg.
type RISCV64Regs struct {
	Pc  uint64
	Ra  uint64
	Sp  uint64
	Gp  uint64
	Tp  uint64
	T0  uint64
	T1  uint64
	T2  uint64
	S0  uint64
	S1  uint64
	A0  uint64
	A1  uint64
	A2  uint64
	A3  uint64
	A4  uint64
	A5  uint64
	A6  uint64
	A7  uint64
	S2  uint64
	S3  uint64
	S4  uint64
	S5  uint64
	S6  uint64
	S7  uint64
	S8  uint64
	S9  uint64
	S10 uint64
	S11 uint64
	T3  uint64
	T4  uint64
	T5  uint64
	T6  uint64
}

// slots returns pointers to the registers in struct order.
func (r *RISCV64Regs) slots() [32]*uint64 {
	return [32]*uint64{
		&r.Pc, &r.Ra, &r.Sp, &r.Gp, &r.Tp, &r.T0, &r.T1, &r.T2,
		&r.S0, &r.S1, &r.A0, &r.A1, &r.A2, &r.A3, &r.A4, &r.A5,
		&r.A6, &r.A7, &r.S2, &r.S3, &r.S4, &r.S5, &r.S6, &r.S7,
		&r.S8, &r.S9, &r.S10, &r.S11, &r.T3, &r.T4, &r.T5, &r.T6,
	}
}

// riscv64RegNames are the ABI register names in struct order.
var riscv64RegNames = [32]string{
	"pc", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (r *RISCV64Regs) SizeBytes() int {
	return RISCV64RegsSize
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (r *RISCV64Regs) MarshalBytes(dst []byte) {
	for _, p := range r.slots() {
		ByteOrder.PutUint64(dst[:8], *p)
		dst = dst[8:]
	}
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (r *RISCV64Regs) UnmarshalBytes(src []byte) {
	for _, p := range r.slots() {
		*p = ByteOrder.Uint64(src[:8])
		src = src[8:]
	}
}

// InstructionPointer returns the address of the next instruction to be
// executed.
func (r *RISCV64Regs) InstructionPointer() uint64 {
	return r.Pc
}

// StackPointer returns the address of the Stack pointer.
func (r *RISCV64Regs) StackPointer() uint64 {
	return r.Sp
}

// FramePointer returns s0, which the kernel builds with as the frame pointer.
func (r *RISCV64Regs) FramePointer() uint64 {
	return r.S0
}

// IsZero returns true if no register is set, as for a CPU whose note was
// missing from the dump.
func (r *RISCV64Regs) IsZero() bool {
	return *r == RISCV64Regs{}
}

// Map returns the registers keyed by ABI name.
func (r *RISCV64Regs) Map() map[string]uint64 {
	m := make(map[string]uint64, len(riscv64RegNames))
	for i, p := range r.slots() {
		m[riscv64RegNames[i]] = *p
	}
	return m
}

// Format writes the registers three to a line.
func (r *RISCV64Regs) Format(w io.Writer) error {
	for i, p := range r.slots() {
		sep := " "
		if i%3 == 2 || i == len(riscv64RegNames)-1 {
			sep = "\n"
		}
		if _, err := fmt.Fprintf(w, "%4s : %016x%s", riscv64RegNames[i], *p, sep); err != nil {
			return err
		}
	}
	return nil
}

// ElfSiginfo is struct elf_siginfo.
type ElfSiginfo struct {
	Signo int32
	Code  int32
	Errno int32
}

// ElfPrstatus is struct elf_prstatus for riscv64. The timevals are kept raw.
type ElfPrstatus struct {
	Info    ElfSiginfo
	Cursig  int16
	_       uint16
	Sigpend uint64
	Sighold uint64
	Pid     int32
	Ppid    int32
	Pgrp    int32
	Sid     int32
	Times   [8]uint64
	Reg     RISCV64Regs
	Fpvalid int32
	_       int32
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (p *ElfPrstatus) SizeBytes() int {
	return ElfPrstatusSize
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (p *ElfPrstatus) UnmarshalBytes(src []byte) {
	p.Info.Signo = int32(ByteOrder.Uint32(src[:4]))
	src = src[4:]
	p.Info.Code = int32(ByteOrder.Uint32(src[:4]))
	src = src[4:]
	p.Info.Errno = int32(ByteOrder.Uint32(src[:4]))
	src = src[4:]
	p.Cursig = int16(ByteOrder.Uint16(src[:2]))
	src = src[2:]
	// Padding: var _ uint16 ~= src[:sizeof(uint16)]
	src = src[2:]
	p.Sigpend = ByteOrder.Uint64(src[:8])
	src = src[8:]
	p.Sighold = ByteOrder.Uint64(src[:8])
	src = src[8:]
	p.Pid = int32(ByteOrder.Uint32(src[:4]))
	src = src[4:]
	p.Ppid = int32(ByteOrder.Uint32(src[:4]))
	src = src[4:]
	p.Pgrp = int32(ByteOrder.Uint32(src[:4]))
	src = src[4:]
	p.Sid = int32(ByteOrder.Uint32(src[:4]))
	src = src[4:]
	for i := range p.Times {
		p.Times[i] = ByteOrder.Uint64(src[:8])
		src = src[8:]
	}
	p.Reg.UnmarshalBytes(src[:RISCV64RegsSize])
	src = src[RISCV64RegsSize:]
	p.Fpvalid = int32(ByteOrder.Uint32(src[:4]))
}
