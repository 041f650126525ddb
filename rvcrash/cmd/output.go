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
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
	"gvisor.dev/rvcore/rvcrash/config"
)

// hexAddr is an address rendered in hexadecimal by the structured outputs.
type hexAddr uint64

// MarshalText implements encoding.TextMarshaler.
func (a hexAddr) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%#x", uint64(a))), nil
}

// writeResult writes v in format. text writes the human readable form.
func writeResult(w io.Writer, format config.Output, v any, text func(io.Writer) error) error {
	switch format {
	case config.OutputJSON:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("error marshaling result: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", b)
		return err
	case config.OutputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("error marshaling result: %w", err)
		}
		return enc.Close()
	default:
		return text(w)
	}
}
