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

// Package linux contains the constants and types needed to interpret Linux
// kernel crash images: ELF note records, the riscv64 register set saved in
// NT_PRSTATUS notes, and kernel release versions.
package linux

import "encoding/binary"

// ByteOrder is the byte order of every structure decoded by this package.
// RISC-V is little-endian.
var ByteOrder = binary.LittleEndian
