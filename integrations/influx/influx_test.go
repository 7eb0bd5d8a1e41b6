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

package influx

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "influx.toml"), []byte(`
URL = "http://localhost:9999"
Token = "tok"
Org = "home"
Bucket = "tuya"

[[logger]]
Integration = "Tuya"
DeviceType = "Device"
DeviceName = "lamp"
EventName = "CHANGED"
`), 0644)
	if err != nil {
		t.Fatalf("could not write influx.toml: %s", err)
	}

	i := new(Influx)
	if err := i.LoadConfig(dir); err != nil {
		t.Fatalf("LoadConfig failed: %s", err)
	}
	if i.URL != "http://localhost:9999" || i.Bucket != "tuya" {
		t.Errorf("config not loaded correctly: %+v", i)
	}
	if len(i.Logger) != 1 || i.Logger[0].DeviceName != "lamp" {
		t.Errorf("Logger config not loaded correctly: %+v", i.Logger)
	}
}

func TestProvidesDeviceTypes(t *testing.T) {
	i := new(Influx)
	types := i.ProvidesDeviceTypes()
	if len(types) != 1 || types[0] != "Logger" {
		t.Errorf("ProvidesDeviceTypes = %v, want [Logger]", types)
	}
}

func TestAddStopChanIsConcurrencySafe(t *testing.T) {
	i := new(Influx)
	done := make(chan int, 2)
	go func() { done <- i.addStopChan() }()
	go func() { done <- i.addStopChan() }()
	a, b := <-done, <-done
	if a == b {
		t.Errorf("addStopChan returned the same index twice: %d", a)
	}
	if len(i.stopChans) != 2 {
		t.Errorf("expected 2 stop channels, got %d", len(i.stopChans))
	}
}
