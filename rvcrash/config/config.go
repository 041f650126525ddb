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

// Package config provides basic infrastructure to set configuration settings
// for rvcrash. The configuration is set by flags to the command line, and
// may be completed by a TOML file.
package config

import (
	"fmt"
	"time"

	"github.com/mohae/deepcopy"
	"gvisor.dev/rvcore/pkg/log"
)

// Config holds configuration that is not part of a single command.
type Config struct {
	// Dump is the path of the memory image to analyze.
	Dump string `flag:"dump"`

	// SystemMap is the path of a System.map for the dumped kernel.
	SystemMap string `flag:"system-map"`

	// Vmlinux is the path of the dumped kernel's vmlinux. Its symbol table
	// is used if SystemMap is not set.
	Vmlinux string `flag:"vmlinux"`

	// Vmcoreinfo is the path of a vmcoreinfo file, merged over the
	// image's VMCOREINFO note.
	Vmcoreinfo string `flag:"vmcoreinfo"`

	// Live marks the image as the memory of a running system. No crash
	// registers are recovered.
	Live bool `flag:"live"`

	// LockWait is how long to wait for a writer of the image to finish.
	LockWait time.Duration `flag:"lock-wait"`

	// NoLock opens the image without taking a shared lock.
	NoLock bool `flag:"no-lock"`

	// CPUs is the number of possible CPUs. Zero means one per CPU note.
	CPUs int `flag:"cpus"`

	// HZ is the tick rate of the dumped kernel. Zero means the default.
	HZ uint `flag:"hz"`

	// SeparateThreadInfo is set for kernels whose thread_info is not part
	// of task_struct.
	SeparateThreadInfo bool `flag:"separate-thread-info"`

	// TaskActiveMMOffset is offsetof(struct task_struct, active_mm).
	TaskActiveMMOffset uint64 `flag:"offset-task-active-mm"`

	// MMPgdOffset is offsetof(struct mm_struct, pgd).
	MMPgdOffset uint64 `flag:"offset-mm-pgd"`

	// Output is the format command results are written in.
	Output Output `flag:"output"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format"`

	// DebugLog is the path to log debug information to, if not empty.
	DebugLog string `flag:"debug-log"`

	// DebugLogFormat is the log format for debug.
	DebugLogFormat string `flag:"debug-log-format"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// ConfigFile is the path of the TOML file the configuration was
	// completed from.
	ConfigFile string `flag:"config"`
}

func (c *Config) validate() error {
	for _, f := range []string{c.LogFormat, c.DebugLogFormat} {
		switch f {
		case "text", "json":
		default:
			return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", f)
		}
	}
	if c.LockWait < 0 {
		return fmt.Errorf("--lock-wait must be positive, got %v", c.LockWait)
	}
	if c.CPUs < 0 {
		return fmt.Errorf("--cpus must be positive, got %d", c.CPUs)
	}
	if c.Vmlinux != "" && c.SystemMap != "" {
		log.Infof("both --system-map and --vmlinux set, using %s", c.SystemMap)
	}
	return nil
}

// Copy returns a deep copy of c.
func (c *Config) Copy() *Config {
	return deepcopy.Copy(c).(*Config)
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config.Dump: %s", c.Dump)
	log.Infof("Config.SystemMap: %s", c.SystemMap)
	log.Infof("Config.Vmlinux: %s", c.Vmlinux)
	log.Infof("Config.Live: %t", c.Live)
	log.Infof("Config.Output: %v", c.Output)
	if c.ConfigFile != "" {
		log.Infof("Config.ConfigFile: %s", c.ConfigFile)
	}
	log.Debugf("Config flags: %v", c.ToFlags())
}

// Output is the format command results are written in.
type Output int

const (
	// OutputText is the human readable form.
	OutputText Output = iota

	// OutputJSON is indented JSON.
	OutputJSON

	// OutputYAML is YAML.
	OutputYAML
)

func outputPtr(v Output) *Output {
	return &v
}

// Set implements flag.Value.
func (o *Output) Set(v string) error {
	switch v {
	case "text":
		*o = OutputText
	case "json":
		*o = OutputJSON
	case "yaml":
		*o = OutputYAML
	default:
		return fmt.Errorf("invalid output format %q", v)
	}
	return nil
}

// Get implements flag.Getter.
func (o *Output) Get() any {
	return *o
}

// String implements fmt.Stringer.
func (o Output) String() string {
	switch o {
	case OutputText:
		return "text"
	case OutputJSON:
		return "json"
	case OutputYAML:
		return "yaml"
	default:
		panic(fmt.Sprintf("Invalid output format %d", o))
	}
}
