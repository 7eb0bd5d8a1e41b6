// Copyright ©2020 Steve Merrony

// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.

// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package time

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigParsesAlertTimes(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "time.toml"), []byte(`
[event.morning]
time = "07:00:00"

[event.evening]
time = "19:30:00"
`), 0644)
	if err != nil {
		t.Fatalf("could not write time.toml: %s", err)
	}

	tt := new(Time)
	if err := tt.LoadConfig(dir); err != nil {
		t.Fatalf("LoadConfig failed: %s", err)
	}
	if len(tt.alertsByTime["07:00:00"]) != 1 || tt.alertsByTime["07:00:00"][0].name != "morning" {
		t.Errorf("morning alert not loaded: %+v", tt.alertsByTime["07:00:00"])
	}
	if len(tt.alertsByTime["19:30:00"]) != 1 || tt.alertsByTime["19:30:00"][0].name != "evening" {
		t.Errorf("evening alert not loaded: %+v", tt.alertsByTime["19:30:00"])
	}
}

func TestHhmmssFromString(t *testing.T) {
	hh, mm, _, err := hhmmssFromString("13:45:30")
	if err != nil {
		t.Fatalf("hhmmssFromString failed: %s", err)
	}
	if hh != 13 || mm != 45 {
		t.Errorf("hh=%d mm=%d, want 13 45", hh, mm)
	}
}

func TestHhmmssFromStringZeroesOutOfRangeHour(t *testing.T) {
	hh, mm, ss, _ := hhmmssFromString("25:00:00")
	if hh != 0 || mm != 0 || ss != 0 {
		t.Errorf("expected a zeroed result for an out-of-range hour, got %d:%d:%d", hh, mm, ss)
	}
}

func TestProvidesDeviceTypes(t *testing.T) {
	tt := new(Time)
	types := tt.ProvidesDeviceTypes()
	if len(types) != 2 || types[0] != "Ticker" || types[1] != "Events" {
		t.Errorf("ProvidesDeviceTypes = %v, want [Ticker Events]", types)
	}
}
