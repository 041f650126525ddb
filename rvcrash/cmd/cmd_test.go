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

package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
	"gvisor.dev/rvcore/pkg/abi/linux"
	"gvisor.dev/rvcore/pkg/dumpfile/dumpfiletest"
	"gvisor.dev/rvcore/pkg/riscv64/layout"
	"gvisor.dev/rvcore/pkg/riscv64/machine"
	"gvisor.dev/rvcore/rvcrash/config"
)

const (
	physBase   = 0x80200000
	pageSize   = 0x1000
	ramPages   = 16
	kernelLink = 0xffffffff80000000
	vmallocVA  = 0xffffffc800002000

	vmcoreinfoText = `OSRELEASE=6.6.0
PAGESIZE=4096
NUMBER(VA_BITS)=39
NUMBER(phys_ram_base)=2149580800
NUMBER(PAGE_OFFSET)=ffffffd800000000
NUMBER(VMALLOC_START)=0xffffffc800000000
NUMBER(VMALLOC_END)=0xffffffd7ffffffff
NUMBER(VMEMMAP_START)=0xffffffc6fea00000
NUMBER(VMEMMAP_END)=0xffffffc7ffffffff
NUMBER(KERNEL_LINK_ADDR)=0xffffffff80000000
NUMBER(MODULES_VADDR)=0xffffffff01000000
NUMBER(MODULES_END)=0xffffffff7fffffff
`
)

func put64(ram []byte, phys, v uint64) {
	linux.ByteOrder.PutUint64(ram[phys-physBase:], v)
}

// ram returns the memory of a system whose swapper_pg_dir, in the second
// page, maps vmallocVA to the ninth page. The first page holds nr_irqs.
func ram() []byte {
	mem := make([]byte, ramPages*pageSize)
	linux.ByteOrder.PutUint32(mem, 32)
	const (
		pgd = physBase + pageSize
		pmd = physBase + 2*pageSize
		pte = physBase + 3*pageSize
	)
	put64(mem, pgd+((vmallocVA>>30)&0x1ff)*8, (pmd>>12)<<10|1)
	put64(mem, pmd+((vmallocVA>>21)&0x1ff)*8, (pte>>12)<<10|1)
	put64(mem, pte+((vmallocVA>>12)&0x1ff)*8, ((physBase+8*pageSize)>>12)<<10|0xc7)
	return mem
}

func regsFor(cpu int) linux.RISCV64Regs {
	return linux.RISCV64Regs{Pc: kernelLink + 0x1000 + uint64(cpu)*0x10, Sp: vmallocVA + uint64(cpu)*0x100}
}

type fixture struct {
	dir  string
	conf *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	var b dumpfiletest.Builder
	b.AddVmcoreinfo(vmcoreinfoText)
	b.AddPRStatus(1, regsFor(0))
	b.AddPRStatus(2, regsFor(1))
	b.AddLoad(dumpfiletest.Load{Phys: physBase, Data: ram()})
	dump := filepath.Join(dir, "vmcore")
	if err := b.WriteFile(dump); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	sysmap := filepath.Join(dir, "System.map")
	if err := os.WriteFile(sysmap, []byte(
		"ffffffff80000000 T _start\n"+
			"ffffffff80000000 D nr_irqs\n"+
			"ffffffff80001000 B swapper_pg_dir\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return &fixture{
		dir: dir,
		conf: &config.Config{
			Dump:           dump,
			SystemMap:      sysmap,
			LogFormat:      "text",
			DebugLogFormat: "text",
		},
	}
}

func (f *fixture) session(t *testing.T) *Session {
	t.Helper()
	s, err := OpenSession(context.Background(), f.conf)
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenSession(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	if got := s.Machine.Phase(); got != machine.PhasePostVM {
		t.Errorf("Phase() = %v, want %v", got, machine.PhasePostVM)
	}
	if pgd, ok := s.Machine.SwapperPgDir(); !ok || pgd != 0xffffffff80001000 {
		t.Errorf("SwapperPgDir() = %#x, %t", pgd, ok)
	}
	if got := s.Machine.Machdep().NrIRQs; got != 32 {
		t.Errorf("NrIRQs = %d, want 32", got)
	}
}

func TestOpenSessionErrors(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct {
		name   string
		modify func(*config.Config)
	}{
		{
			name:   "no dump",
			modify: func(c *config.Config) { c.Dump = "" },
		},
		{
			name:   "missing dump",
			modify: func(c *config.Config) { c.Dump = filepath.Join(f.dir, "missing") },
		},
		{
			name:   "missing System.map",
			modify: func(c *config.Config) { c.SystemMap = filepath.Join(f.dir, "missing") },
		},
		{
			name:   "not a dump",
			modify: func(c *config.Config) { c.Dump = f.conf.SystemMap },
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			conf := f.conf.Copy()
			tc.modify(conf)
			if s, err := OpenSession(context.Background(), conf); err == nil {
				s.Close()
				t.Errorf("OpenSession succeeded")
			}
		})
	}
}

func TestSessionVmcoreinfoFile(t *testing.T) {
	f := newFixture(t)
	extra := filepath.Join(f.dir, "vmcoreinfo")
	if err := os.WriteFile(extra, []byte("SYMBOL(swapper_pg_dir)=ffffffff80001000\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	conf := f.conf.Copy()
	conf.SystemMap = ""
	conf.Vmcoreinfo = extra
	s, err := OpenSession(context.Background(), conf)
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	defer s.Close()
	if pgd, ok := s.Machine.SwapperPgDir(); !ok || pgd != 0xffffffff80001000 {
		t.Errorf("SwapperPgDir() = %#x, %t", pgd, ok)
	}
}

func TestLayout(t *testing.T) {
	s := newFixture(t).session(t)

	var text strings.Builder
	if err := writeLayout(&text, s.Machine, config.OutputText); err != nil {
		t.Fatalf("writeLayout failed: %v", err)
	}
	for _, want := range []string{
		"          RELEASE: 6.6.0\n",
		"          VA_BITS: 39 (3 levels)\n",
		"      PAGE_OFFSET: ffffffd800000000\n",
		"          VMALLOC: 0xffffffc800000000 - 0xffffffd7ffffffff\n",
		"   SWAPPER_PG_DIR: ffffffff80001000\n",
		"        PAGE_TYPE: VM_L3_4K\n",
		"          NR_IRQS: 32\n",
		"             CPUS: 2\n",
	} {
		if !strings.Contains(text.String(), want) {
			t.Errorf("layout %q does not contain %q", text.String(), want)
		}
	}

	var js strings.Builder
	if err := writeLayout(&js, s.Machine, config.OutputJSON); err != nil {
		t.Fatalf("writeLayout failed: %v", err)
	}
	var got struct {
		Release      string          `json:"release"`
		Levels       int             `json:"levels"`
		PageOffset   string          `json:"page_offset"`
		Vmalloc      map[string]any  `json:"vmalloc"`
		SwapperPgDir string          `json:"swapper_pg_dir"`
		Machdep      machine.Machdep `json:"machdep"`
	}
	if err := json.Unmarshal([]byte(js.String()), &got); err != nil {
		t.Fatalf("json.Unmarshal failed: %v", err)
	}
	if got.Release != "6.6.0" || got.Levels != 3 || got.PageOffset != "0xffffffd800000000" || got.SwapperPgDir != "0xffffffff80001000" {
		t.Errorf("layout = %+v", got)
	}
	if diff := cmp.Diff(map[string]any{"start": "0xffffffc800000000", "end": "0xffffffd7ffffffff"}, got.Vmalloc); diff != "" {
		t.Errorf("vmalloc mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(s.Machine.Machdep(), got.Machdep); diff != "" {
		t.Errorf("machdep mismatch (-want +got):\n%s", diff)
	}
}

func TestVtop(t *testing.T) {
	s := newFixture(t).session(t)

	var b strings.Builder
	if err := writeVtop(&b, s.Machine, nil, []uint64{vmallocVA + 0x10, 0xffffffd800005000}, false, config.OutputText); err != nil {
		t.Fatalf("writeVtop failed: %v", err)
	}
	want := "VIRTUAL           PHYSICAL\n" +
		"ffffffc800002010  80208010\n" +
		"\n" +
		"   PGD: ffffffff80001900 => 20080801\n" +
		"  PMD: 0000000080202000 => 0000000020080c01\n" +
		"   PTE: 80203000 => 200820c7\n" +
		" PAGE: 0000000080208000\n" +
		"\n" +
		"  PTE     PHYSICAL  FLAGS\n" +
		"200820c7  80208000  (PRESENT|READ|WRITE|ACCESSED|DIRTY)\n" +
		"\n" +
		"VIRTUAL           PHYSICAL\n" +
		"ffffffd800005000  80205000\n"
	if diff := cmp.Diff(want, b.String()); diff != "" {
		t.Errorf("vtop mismatch (-want +got):\n%s", diff)
	}

	b.Reset()
	if err := writeVtop(&b, s.Machine, nil, []uint64{vmallocVA + 0x100000}, false, config.OutputJSON); err != nil {
		t.Fatalf("writeVtop failed: %v", err)
	}
	var got []map[string]any
	if err := json.Unmarshal([]byte(b.String()), &got); err != nil {
		t.Fatalf("json.Unmarshal failed: %v", err)
	}
	if len(got) != 1 || got[0]["present"] != false || got[0]["virtual"] != "0xffffffc800102000" {
		t.Errorf("vtop = %v", got)
	}

	if err := writeVtop(&b, s.Machine, nil, []uint64{0x400000}, false, config.OutputText); err == nil {
		t.Errorf("writeVtop of a user address without a task succeeded")
	}
}

func TestVtopTaskContext(t *testing.T) {
	for _, tc := range []struct {
		name    string
		vtop    Vtop
		want    *machine.TaskContext
		wantErr bool
	}{
		{
			name: "none",
		},
		{
			name: "task",
			vtop: Vtop{task: "ffffffd800004000", mm: "0xffffffd800006000"},
			want: &machine.TaskContext{Task: 0xffffffd800004000, MM: 0xffffffd800006000},
		},
		{
			name: "kernel thread",
			vtop: Vtop{task: "ffffffd800004000", kthread: true},
			want: &machine.TaskContext{Task: 0xffffffd800004000, KernelThread: true},
		},
		{
			name:    "mm without task",
			vtop:    Vtop{mm: "ffffffd800006000"},
			wantErr: true,
		},
		{
			name:    "bad task",
			vtop:    Vtop{task: "task"},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.vtop.taskContext()
			if (err != nil) != tc.wantErr {
				t.Fatalf("taskContext() err = %v, wantErr %t", err, tc.wantErr)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("task context mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPTE(t *testing.T) {
	cfg, err := layout.NewPagingConfig(layout.PageSize4K, 39)
	if err != nil {
		t.Fatalf("NewPagingConfig failed: %v", err)
	}
	var b strings.Builder
	if err := writePTEs(&b, cfg, []uint64{0x200820c7, 0x20082000}, config.OutputText); err != nil {
		t.Fatalf("writePTEs failed: %v", err)
	}
	want := "  PTE     PHYSICAL  FLAGS\n" +
		"200820c7  80208000  (PRESENT|READ|WRITE|ACCESSED|DIRTY)\n" +
		"\n" +
		"  PTE\n"
	if diff := cmp.Diff(want, b.String()); diff != "" {
		t.Errorf("pte mismatch (-want +got):\n%s", diff)
	}

	b.Reset()
	if err := writePTEs(&b, cfg, []uint64{0x200820c7, 0}, config.OutputYAML); err != nil {
		t.Fatalf("writePTEs failed: %v", err)
	}
	var got []map[string]any
	if err := yaml.Unmarshal([]byte(b.String()), &got); err != nil {
		t.Fatalf("yaml.Unmarshal failed: %v", err)
	}
	wantYAML := []map[string]any{
		{"pte": "0x200820c7", "physical": "0x80208000", "present": true, "flags": "PRESENT|READ|WRITE|ACCESSED|DIRTY"},
		{"pte": "0x0", "physical": "0x0", "present": false, "flags": "no mapping"},
	}
	if diff := cmp.Diff(wantYAML, got); diff != "" {
		t.Errorf("pte mismatch (-want +got):\n%s", diff)
	}
}

func TestRegs(t *testing.T) {
	s := newFixture(t).session(t)

	var b strings.Builder
	if err := writeRegs(&b, s.Machine, 1, config.OutputText); err != nil {
		t.Fatalf("writeRegs failed: %v", err)
	}
	if !strings.HasPrefix(b.String(), "CPU 1 (elf notes):\n") {
		t.Errorf("regs = %q", b.String())
	}
	if want := "  pc : ffffffff80001010"; !strings.Contains(b.String(), want) {
		t.Errorf("regs %q does not contain %q", b.String(), want)
	}

	b.Reset()
	if err := writeRegs(&b, s.Machine, -1, config.OutputJSON); err != nil {
		t.Fatalf("writeRegs failed: %v", err)
	}
	var got []regsResult
	if err := json.Unmarshal([]byte(b.String()), &got); err != nil {
		t.Fatalf("json.Unmarshal failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d cpus, want 2", len(got))
	}
	for cpu, res := range got {
		regs := regsFor(cpu)
		if res.CPU != cpu || res.Source != "elf notes" || res.Registers["pc"] != regs.Pc || res.Registers["sp"] != regs.Sp {
			t.Errorf("cpu %d: %+v", cpu, res)
		}
	}

	if err := writeRegs(&b, s.Machine, 2, config.OutputText); err == nil {
		t.Errorf("writeRegs of a missing cpu succeeded")
	}
}

func TestNotes(t *testing.T) {
	f := newFixture(t)
	s, err := openSession(context.Background(), f.conf, sessionOpts{noMachine: true})
	if err != nil {
		t.Fatalf("openSession failed: %v", err)
	}
	defer s.Close()
	if s.Machine != nil {
		t.Errorf("machine set up for a notes-only session")
	}

	var b strings.Builder
	if err := writeNotes(&b, s.Dump, config.OutputJSON); err != nil {
		t.Fatalf("writeNotes failed: %v", err)
	}
	var got []noteResult
	if err := json.Unmarshal([]byte(b.String()), &got); err != nil {
		t.Fatalf("json.Unmarshal failed: %v", err)
	}
	want := []noteResult{
		{Name: "VMCOREINFO", Type: "VMCOREINFO", DescSize: uint32(len(vmcoreinfoText))},
		{Name: "CORE", Type: "NT_PRSTATUS", DescSize: linux.ElfPrstatusSize, PID: 1},
		{Name: "CORE", Type: "NT_PRSTATUS", DescSize: linux.ElfPrstatusSize, PID: 2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("notes mismatch (-want +got):\n%s", diff)
	}
}
