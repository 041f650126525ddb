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

// Package machine is the RISC-V 64 machine description of a crashed system.
//
// A Context is set up by five lifecycle hooks that the host calls once each,
// in order:
//
//	SetupEnv  - install the ELF note processor
//	PreSymtab - install the symbol and physical address checks
//	PreGDB    - resolve the page geometry and the address-space layout,
//	            allocate the walkers and register kernel-virtual translation
//	PostGDB   - check the page size and read kernel constants
//	PostVM    - recover the crash-time registers of each CPU
//
// After PreGDB the Context answers address translation and classification
// queries; after PostVM it also answers register queries.
package machine

import (
	"errors"
	"fmt"
	"sync"

	"gvisor.dev/rvcore/pkg/abi/linux"
	"gvisor.dev/rvcore/pkg/bits"
	"gvisor.dev/rvcore/pkg/dumpfile"
	"gvisor.dev/rvcore/pkg/log"
	"gvisor.dev/rvcore/pkg/memory"
	"gvisor.dev/rvcore/pkg/riscv64/crashregs"
	"gvisor.dev/rvcore/pkg/riscv64/layout"
	"gvisor.dev/rvcore/pkg/riscv64/pagetables"
	"gvisor.dev/rvcore/pkg/symbols"
	"gvisor.dev/rvcore/pkg/vmcoreinfo"
)

// Kernel constants of riscv64.
const (
	// threadSizeOrder is THREAD_SIZE_ORDER.
	threadSizeOrder = 2

	// SectionSizeBits is SECTION_SIZE_BITS.
	SectionSizeBits = 27

	// MaxPhysmemBits is MAX_PHYSMEM_BITS.
	MaxPhysmemBits = 56

	// DefaultHZ is the tick rate assumed when it is not configured.
	DefaultHZ = 250

	// ptrsPerPGD is PTRS_PER_PGD.
	ptrsPerPGD = 512
)

var (
	// ErrPhaseOrder is returned when a lifecycle hook is called out of
	// order, or a query is made before the hooks it needs.
	ErrPhaseOrder = errors.New("lifecycle hook called out of order")

	// ErrNoTaskContext is returned by TranslateUser without a task.
	ErrNoTaskContext = errors.New("current context invalid")

	// ErrNoActiveMM is returned when a kernel thread has no active_mm.
	ErrNoActiveMM = errors.New("no active_mm for this kernel thread")
)

// Phase is a lifecycle phase. A Context is in the phase of the last hook
// that completed.
type Phase int

// Phases, in order.
const (
	PhaseNew Phase = iota
	PhaseSetupEnv
	PhasePreSymtab
	PhasePreGDB
	PhasePostGDB
	PhasePostVM
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "new"
	case PhaseSetupEnv:
		return "SETUP_ENV"
	case PhasePreSymtab:
		return "PRE_SYMTAB"
	case PhasePreGDB:
		return "PRE_GDB"
	case PhasePostGDB:
		return "POST_GDB"
	case PhasePostVM:
		return "POST_VM"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Memory is the memory of the captured system. memory.Image implements it.
type Memory interface {
	memory.Reader

	// PageSize returns the page size of the captured system, or zero if
	// unknown.
	PageSize() uint64

	// MaxPhys returns one past the highest captured physical address.
	MaxPhys() uint64

	// SetTranslator registers the kernel-virtual translator.
	SetTranslator(t memory.Translator)
}

// Topology describes the CPUs of the captured system.
type Topology struct {
	// CPUs is the number of possible CPUs. Zero means one per NT_PRSTATUS
	// note collected from the dump file, and at least one.
	CPUs int

	// CPUsPresent is the number of present CPUs, or zero if unknown.
	CPUsPresent int

	// PerCPUOffsets is __per_cpu_offset. If nil it is read from the dump
	// when the symbol exists.
	PerCPUOffsets []uint64
}

// Host groups the collaborators a Context works with.
type Host struct {
	// Memory is the memory image.
	Memory Memory

	// Info is the vmcoreinfo of the captured kernel.
	Info vmcoreinfo.Store

	// Symbols resolves kernel symbols.
	Symbols symbols.Source

	// Notes locates the dump file's per-CPU notes. If nil, the notes
	// passed to the ELF note processor are used.
	Notes crashregs.Locator

	// Kind is the kind of dump.
	Kind dumpfile.Kind

	// Topology describes the CPUs.
	Topology Topology
}

// Offsets are structure member offsets. Zero means unknown; unknown offsets
// are taken from vmcoreinfo OFFSET() entries.
type Offsets struct {
	// TaskActiveMM is offsetof(struct task_struct, active_mm).
	TaskActiveMM uint64

	// MMPgd is offsetof(struct mm_struct, pgd).
	MMPgd uint64
}

// Opts are options of a Context.
type Opts struct {
	// Live is set when analyzing a running system. No crash registers
	// are recovered.
	Live bool

	// Version overrides the kernel version read from OSRELEASE.
	Version linux.KernelVersion

	// Thresholds are the kernel releases that changed the layout. Zero
	// means layout.DefaultThresholds.
	Thresholds layout.Thresholds

	// HZ overrides DefaultHZ.
	HZ uint64

	// SeparateThreadInfo is set for kernels whose thread_info is not part
	// of task_struct. Task addresses of other kernels must be stack
	// aligned.
	SeparateThreadInfo bool

	// Offsets override vmcoreinfo member offsets.
	Offsets Offsets
}

// Machdep holds the machine constants of the captured system.
type Machdep struct {
	PageSize        uint64 `json:"pagesize" yaml:"pagesize"`
	PageShift       uint64 `json:"pageshift" yaml:"pageshift"`
	PageOffset      uint64 `json:"pageoffset" yaml:"pageoffset"`
	PageMask        uint64 `json:"pagemask" yaml:"pagemask"`
	StackSize       uint64 `json:"stacksize" yaml:"stacksize"`
	KVBase          uint64 `json:"kvbase" yaml:"kvbase"`
	IdentityMapBase uint64 `json:"identity_map_base" yaml:"identity_map_base"`
	PtrsPerPGD      uint64 `json:"ptrs_per_pgd" yaml:"ptrs_per_pgd"`
	PageType        string `json:"page_type" yaml:"page_type"`
	SectionSizeBits uint64 `json:"section_size_bits" yaml:"section_size_bits"`
	MaxPhysmemBits  uint64 `json:"max_physmem_bits" yaml:"max_physmem_bits"`
	HZ              uint64 `json:"hz" yaml:"hz"`
	NrIRQs          uint32 `json:"nr_irqs" yaml:"nr_irqs"`
	NoteBufSize     uint64 `json:"note_buf_size" yaml:"note_buf_size"`
	PrRegOffset     uint64 `json:"pr_reg_offset" yaml:"pr_reg_offset"`
}

// Context is the machine description of one captured system.
type Context struct {
	host Host
	opts Opts

	// phase is the last completed lifecycle phase.
	phase Phase

	// notes are the NT_PRSTATUS records passed to ProcessELFNotes.
	notes dumpfile.PRStatusNotes

	machdep Machdep
	version linux.KernelVersion
	layout  *layout.Layout
	paging  layout.PagingConfig
	offsets Offsets

	// swapperPgDir is the kernel root table, or zero if unknown.
	swapperPgDir uint64

	// mu protects walker.
	mu     sync.Mutex
	walker *pagetables.Walker

	// kvMu protects kvWalker, which serves the kernel-virtual reads of
	// the memory image. It is separate from walker so a walk whose root
	// is read through the image does not reenter mu.
	kvMu     sync.Mutex
	kvWalker *pagetables.Walker

	perCPUOffsets []uint64
	cpus          int

	// regs is set by PostVM.
	regs *crashregs.Result
}

// New returns a Context that has not run any lifecycle hook.
func New(host Host, opts Opts) (*Context, error) {
	if host.Memory == nil {
		return nil, errors.New("no memory image")
	}
	if host.Info == nil {
		return nil, errors.New("no vmcoreinfo")
	}
	if host.Symbols == nil {
		host.Symbols = symbols.NewTable(nil)
	}
	if opts.Thresholds == (layout.Thresholds{}) {
		opts.Thresholds = layout.DefaultThresholds
	}
	return &Context{host: host, opts: opts}, nil
}

// Phase returns the last completed lifecycle phase.
func (c *Context) Phase() Phase {
	return c.phase
}

// enter checks that the hook for phase p may run.
func (c *Context) enter(p Phase) error {
	if c.phase != p-1 {
		return fmt.Errorf("%w: %v after %v", ErrPhaseOrder, p, c.phase)
	}
	return nil
}

// need checks that phase p has completed.
func (c *Context) need(p Phase) error {
	if c.phase < p {
		return fmt.Errorf("%w: needs %v, at %v", ErrPhaseOrder, p, c.phase)
	}
	return nil
}

// SetupEnv runs the SETUP_ENV hook. The host passes the dump file's notes
// to ProcessELFNotes from then on.
func (c *Context) SetupEnv() error {
	if err := c.enter(PhaseSetupEnv); err != nil {
		return err
	}
	c.notes = nil
	c.phase = PhaseSetupEnv
	return nil
}

// PreSymtab runs the PRE_SYMTAB hook. VerifySymbol and VerifyPaddr may be
// used from then on.
func (c *Context) PreSymtab() error {
	if err := c.enter(PhasePreSymtab); err != nil {
		return err
	}
	c.machdep.PtrsPerPGD = ptrsPerPGD
	c.phase = PhasePreSymtab
	return nil
}

// PreGDB runs the PRE_GDB hook.
func (c *Context) PreGDB() error {
	if err := c.enter(PhasePreGDB); err != nil {
		return err
	}

	pageSize := c.host.Memory.PageSize()
	if pageSize == 0 {
		return layout.ErrUnknownPageSize
	}
	if !bits.IsPowerOfTwo64(pageSize) {
		return fmt.Errorf("%w: %d", layout.ErrUnsupportedPageSize, pageSize)
	}
	md := &c.machdep
	md.PageSize = pageSize
	md.PageShift = uint64(bits.TrailingZeros64(pageSize))
	md.PageOffset = pageSize - 1
	md.PageMask = ^md.PageOffset
	md.StackSize = pageSize << threadSizeOrder

	c.version = c.opts.Version
	if c.version.IsZero() {
		v, ok, err := vmcoreinfo.KernelVersion(c.host.Info)
		switch {
		case err != nil:
			return err
		case !ok:
			log.Warningf("OSRELEASE not in vmcoreinfo, assuming an old kernel")
		default:
			c.version = v
		}
	}

	l, err := layout.ResolveWith(c.host.Info, c.version, c.opts.Thresholds)
	if err != nil {
		return err
	}
	c.layout = l
	c.paging = layout.PagingConfigFor(pageSize, l.VABits)

	if c.walker, err = pagetables.NewWalker(c.host.Memory, c.paging); err != nil {
		return err
	}
	if c.kvWalker, err = pagetables.NewWalker(c.host.Memory, c.paging); err != nil {
		return err
	}

	md.KVBase = l.PageOffset
	md.IdentityMapBase = md.KVBase

	if pgd, ok := c.host.Symbols.Lookup("swapper_pg_dir"); ok {
		if l.IsVmallocClass(pgd) {
			log.Warningf("swapper_pg_dir %#x is not in the kernel image", pgd)
		} else {
			c.swapperPgDir = pgd
		}
	} else {
		log.Warningf("swapper_pg_dir not found, vmalloc addresses cannot be translated")
	}

	c.host.Memory.SetTranslator(memory.TranslatorFunc(c.kernelToPhys))
	c.phase = PhasePreGDB
	return nil
}

// PostGDB runs the POST_GDB hook.
func (c *Context) PostGDB() error {
	if err := c.enter(PhasePostGDB); err != nil {
		return err
	}
	if err := layout.CheckPageSize(c.paging.PageSize); err != nil {
		return err
	}
	md := &c.machdep
	md.PageType = fmt.Sprintf("VM_L%d_4K", c.paging.Depth)
	md.SectionSizeBits = SectionSizeBits
	md.MaxPhysmemBits = MaxPhysmemBits
	md.HZ = c.opts.HZ
	if md.HZ == 0 {
		md.HZ = DefaultHZ
	}

	if addr, ok := c.host.Symbols.Lookup("nr_irqs"); ok {
		n, err := memory.ReadUint32(c.host.Memory, addr, memory.KernelVirtual, memory.ReadOpts{
			Policy:  memory.ReturnOnError,
			Purpose: "nr_irqs",
		})
		if err == nil {
			md.NrIRQs = n
		}
	}

	var err error
	if md.PrRegOffset, err = lookupOr(c.host.Info, vmcoreinfo.OffsetKey("elf_prstatus", "pr_reg"), linux.ElfPrstatusPrRegOffset); err != nil {
		return err
	}
	if md.NoteBufSize, err = lookupOr(c.host.Info, vmcoreinfo.SizeKey("note_buf_t"), linux.NoteBufSize); err != nil {
		return err
	}

	c.offsets = c.opts.Offsets
	if c.offsets.TaskActiveMM == 0 {
		if c.offsets.TaskActiveMM, err = lookupOr(c.host.Info, vmcoreinfo.OffsetKey("task_struct", "active_mm"), 0); err != nil {
			return err
		}
	}
	if c.offsets.MMPgd == 0 {
		if c.offsets.MMPgd, err = lookupOr(c.host.Info, vmcoreinfo.OffsetKey("mm_struct", "pgd"), 0); err != nil {
			return err
		}
	}

	if log.IsLogging(log.Debug) {
		log.Debugf("page type %s, %s", md.PageType, c.paging)
	}
	c.phase = PhasePostGDB
	return nil
}

func lookupOr(s vmcoreinfo.Store, key string, def uint64) (uint64, error) {
	raw, ok := s.Lookup(key)
	if !ok {
		return def, nil
	}
	v, err := vmcoreinfo.ParseNumber(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

// cpuCount returns the number of CPUs.
func (c *Context) cpuCount() int {
	if n := c.host.Topology.CPUs; n > 0 {
		return n
	}
	if l, ok := c.locator().(interface{ Len() int }); ok && l.Len() > 0 {
		return l.Len()
	}
	return 1
}

// locator returns the source of the dump file's per-CPU notes.
func (c *Context) locator() crashregs.Locator {
	if c.host.Notes != nil {
		return c.host.Notes
	}
	return c.notes
}

// perCPU returns __per_cpu_offset, or nil if the kernel has none.
func (c *Context) perCPU(cpus int) []uint64 {
	if c.host.Topology.PerCPUOffsets != nil {
		return c.host.Topology.PerCPUOffsets
	}
	addr, ok := c.host.Symbols.Lookup("__per_cpu_offset")
	if !ok {
		return nil
	}
	buf := make([]byte, cpus*8)
	if err := c.host.Memory.Read(addr, memory.KernelVirtual, buf, memory.ReadOpts{
		Policy:  memory.ReturnOnError,
		Purpose: "__per_cpu_offset",
	}); err != nil {
		return nil
	}
	offs := make([]uint64, cpus)
	for i := range offs {
		offs[i] = linux.ByteOrder.Uint64(buf[i*8:])
	}
	return offs
}

// PostVM runs the POST_VM hook. Failing to recover the registers is logged
// and is not an error, unless a crash note is invalid.
func (c *Context) PostVM() error {
	if err := c.enter(PhasePostVM); err != nil {
		return err
	}
	c.cpus = c.cpuCount()
	if c.opts.Live {
		c.phase = PhasePostVM
		return nil
	}

	c.perCPUOffsets = c.perCPU(c.cpus)
	res, err := crashregs.Extract(crashregs.Params{
		CPUs:          c.cpus,
		Memory:        c.host.Memory,
		Symbols:       c.host.Symbols,
		PerCPUOffsets: c.perCPUOffsets,
		Kind:          c.host.Kind,
		Locator:       c.locator(),
		NoteBufSize:   c.machdep.NoteBufSize,
		PrRegOffset:   c.machdep.PrRegOffset,
	})
	if err != nil {
		plural := ""
		if c.cpus > 1 {
			plural = "s"
		}
		log.Warningf("cannot retrieve registers for active task%s: %v", plural, err)
		if errors.Is(err, crashregs.ErrInvalidNote) {
			return err
		}
	} else {
		c.regs = res
		log.Infof("recovered registers of %d cpus from %v", c.cpus-len(res.Missing), res.Strategy)
	}
	c.phase = PhasePostVM
	return nil
}

// Machdep returns the machine constants.
func (c *Context) Machdep() Machdep {
	return c.machdep
}

// Layout returns the address-space layout. It is nil before PreGDB.
func (c *Context) Layout() *layout.Layout {
	return c.layout
}

// Paging returns the paging configuration.
func (c *Context) Paging() layout.PagingConfig {
	return c.paging
}

// Version returns the kernel version.
func (c *Context) Version() linux.KernelVersion {
	return c.version
}

// SwapperPgDir returns the kernel root table, if known.
func (c *Context) SwapperPgDir() (uint64, bool) {
	return c.swapperPgDir, c.swapperPgDir != 0
}
