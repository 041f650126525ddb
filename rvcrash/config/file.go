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

package config

import (
	"flag"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
	"gvisor.dev/rvcore/pkg/log"
)

// File is a configuration file.
//
//	[flags]
//	system-map = "/boot/System.map-6.6.0"
//	cpus = 4
type File struct {
	// Flags are flag values. The key value will be converted to flags
	// --key=value directly.
	Flags map[string]any `toml:"flags"`
}

// LoadFile loads a configuration file.
func LoadFile(path string) (*File, error) {
	var f File
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("error loading config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %q: unknown keys %v", path, undecoded)
	}
	return &f, nil
}

// Apply sets the flags of f that were not set on the command line.
func (f *File) Apply(flagSet *flag.FlagSet) error {
	set := make(map[string]bool)
	flagSet.Visit(func(fl *flag.Flag) {
		set[fl.Name] = true
	})

	names := make([]string, 0, len(f.Flags))
	for name := range f.Flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == "config" {
			return fmt.Errorf("config files cannot include other config files")
		}
		if flagSet.Lookup(name) == nil {
			return fmt.Errorf("config file sets unknown flag %q", name)
		}
		if set[name] {
			log.Debugf("flag %q set on the command line, ignoring config file value", name)
			continue
		}
		if err := flagSet.Set(name, fmt.Sprint(f.Flags[name])); err != nil {
			return fmt.Errorf("config file: %w", err)
		}
	}
	return nil
}
