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

package log

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// Tests that Level can marshal/unmarshal properly.
func TestLevelMarshal(t *testing.T) {
	lvs := []Level{Warning, Info, Debug}
	for _, lv := range lvs {
		bs, err := lv.MarshalJSON()
		if err != nil {
			t.Errorf("error marshaling %v: %v", lv, err)
		}
		var lv2 Level
		if err := lv2.UnmarshalJSON(bs); err != nil {
			t.Errorf("error unmarshaling %v: %v", bs, err)
		}
		if lv != lv2 {
			t.Errorf("marshal/unmarshal level got %v wanted %v", lv2, lv)
		}
	}
}

// Test that integers can be properly unmarshaled.
func TestUnmarshalFromInt(t *testing.T) {
	tcs := []struct {
		i    int
		want Level
	}{
		{0, Warning},
		{1, Info},
		{2, Debug},
	}

	for _, tc := range tcs {
		j, err := json.Marshal(tc.i)
		if err != nil {
			t.Errorf("error marshaling %v: %v", tc.i, err)
		}
		var lv Level
		if err := lv.UnmarshalJSON(j); err != nil {
			t.Errorf("error unmarshaling %v: %v", j, err)
		}
		if lv != tc.want {
			t.Errorf("unmarshal int got %v want %v", lv, tc.want)
		}
	}
}

func TestJSONEmitter(t *testing.T) {
	tw := &testWriter{}
	e := JSONEmitter{&Writer{Next: tw}}
	ts := time.Date(2026, time.May, 4, 13, 2, 1, 0, time.UTC)
	e.Emit(0, Info, ts, "vmalloc: %#x - %#x", 0x1000, 0x2000)
	if len(tw.lines) == 0 {
		t.Fatalf("nothing emitted")
	}
	var got jsonLog
	if err := json.Unmarshal([]byte(tw.lines[0]), &got); err != nil {
		t.Fatalf("emitted line is not JSON: %v: %q", err, tw.lines[0])
	}
	if got.Level != Info {
		t.Errorf("level = %v, want %v", got.Level, Info)
	}
	if !got.Time.Equal(ts) {
		t.Errorf("time = %v, want %v", got.Time, ts)
	}
	if got.Msg != "vmalloc: 0x1000 - 0x2000" {
		t.Errorf("msg = %q", got.Msg)
	}
	if !strings.HasPrefix(got.Caller, "json_test.go:") {
		t.Errorf("caller = %q, want json_test.go:<line>", got.Caller)
	}
}

func TestLevelUnmarshalNames(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: `"warn"`, want: Warning},
		{in: `"Info"`, want: Info},
		{in: `"DEBUG"`, want: Debug},
		{in: `"trace"`, wantErr: true},
		{in: `3`, wantErr: true},
		{in: `-1`, wantErr: true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			var lv Level
			err := lv.UnmarshalJSON([]byte(tc.in))
			if (err != nil) != tc.wantErr {
				t.Fatalf("UnmarshalJSON(%s) err = %v, wantErr %t", tc.in, err, tc.wantErr)
			}
			if err == nil && lv != tc.want {
				t.Errorf("UnmarshalJSON(%s) = %v, want %v", tc.in, lv, tc.want)
			}
		})
	}
	if _, err := Level(7).MarshalJSON(); err == nil {
		t.Errorf("MarshalJSON of an unknown level succeeded")
	}
}

func TestNewEmitter(t *testing.T) {
	w := &Writer{Next: &testWriter{}}
	if e, err := NewEmitter("text", w); err != nil {
		t.Errorf("NewEmitter(text) failed: %v", err)
	} else if _, ok := e.(GoogleEmitter); !ok {
		t.Errorf("NewEmitter(text) = %T, want GoogleEmitter", e)
	}
	if e, err := NewEmitter("json", w); err != nil {
		t.Errorf("NewEmitter(json) failed: %v", err)
	} else if _, ok := e.(JSONEmitter); !ok {
		t.Errorf("NewEmitter(json) = %T, want JSONEmitter", e)
	}
	if _, err := NewEmitter("xml", w); err == nil {
		t.Errorf("NewEmitter(xml) succeeded, want error")
	}
}
