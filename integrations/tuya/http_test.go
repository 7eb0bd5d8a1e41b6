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

package tuya

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/SMerrony/aghast/events"
)

func newTestTuya() *Tuya {
	evChan := make(chan events.EventT, 64)
	devices := NewDeviceTable()
	models := &ModelRegistry{}
	return &Tuya{
		devices: devices,
		models:  models,
		engine:  NewEngine(devices, models, evChan),
		evChan:  evChan,
	}
}

func TestHandleStatusReportsSilentAndOn(t *testing.T) {
	tt := newTestTuya()
	tt.devices.PutConfigured("id1", "lamp", "", "", "", "192.168.1.10")
	tt.devices.Mutate(mustGet(t, tt, "id1"), false, func(d *Device) {
		d.Detected = 100
		d.Status = true
		d.Commanded = true
	})
	tt.devices.PutConfigured("id2", "fan", "", "", "", "")

	req := httptest.NewRequest(http.MethodGet, "/tuya/status", nil)
	rr := httptest.NewRecorder()
	tt.handleStatus(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rr.Code)
	}
	var doc statusDocT
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatalf("response did not parse as JSON: %s", err)
	}
	if doc.Devices["lamp"].State != "on" {
		t.Errorf("lamp state = %q, want on", doc.Devices["lamp"].State)
	}
	if doc.Devices["fan"].State != "silent" {
		t.Errorf("fan state = %q, want silent", doc.Devices["fan"].State)
	}
}

func TestHandleStatusIncludesProxy(t *testing.T) {
	tt := newTestTuya()
	tt.conf.Proxy = "housetuya.proxy"

	rr := httptest.NewRecorder()
	tt.handleStatus(rr, httptest.NewRequest(http.MethodGet, "/tuya/status", nil))

	var doc statusDocT
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatalf("response did not parse as JSON: %s", err)
	}
	if doc.Proxy != "housetuya.proxy" {
		t.Errorf("Proxy = %q, want housetuya.proxy", doc.Proxy)
	}
}

func TestHandleStatusNotModifiedWhenSinceMatchesLatest(t *testing.T) {
	tt := newTestTuya()
	latest := tt.latestChange()

	req := httptest.NewRequest(http.MethodGet, "/tuya/status?since="+strconv.FormatInt(latest, 10), nil)
	rr := httptest.NewRecorder()
	tt.handleStatus(rr, req)

	if rr.Code != http.StatusNotModified {
		t.Errorf("status code = %d, want 304 when since matches the latest change token", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("304 response should have no body, got %q", rr.Body.String())
	}
}

func TestHandleStatusServesBodyWhenSinceIsStale(t *testing.T) {
	tt := newTestTuya()
	tt.bumpLatestChange()
	req := httptest.NewRequest(http.MethodGet, "/tuya/status?since=0", nil)
	rr := httptest.NewRecorder()
	tt.handleStatus(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status code = %d, want 200 when since is stale", rr.Code)
	}
}

func mustGet(t *testing.T, tt *Tuya, id string) *Device {
	t.Helper()
	d, ok := tt.devices.Get(id)
	if !ok {
		t.Fatalf("device %s not found", id)
	}
	return d
}

func TestHandleSetUnknownPoint(t *testing.T) {
	tt := newTestTuya()
	req := httptest.NewRequest(http.MethodGet, "/tuya/set?point=nosuch&state=on", nil)
	rr := httptest.NewRecorder()
	tt.handleSet(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want 404", rr.Code)
	}
}

func TestHandleSetInvalidState(t *testing.T) {
	tt := newTestTuya()
	tt.devices.PutConfigured("id1", "lamp", "", "", "", "")
	req := httptest.NewRequest(http.MethodGet, "/tuya/set?point=lamp&state=sideways", nil)
	rr := httptest.NewRecorder()
	tt.handleSet(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want 400", rr.Code)
	}
}

func TestHandleSetSingleDevice(t *testing.T) {
	tt := newTestTuya()
	tt.devices.PutConfigured("id1", "lamp", "", "", "", "")

	req := httptest.NewRequest(http.MethodGet, "/tuya/set?point=lamp&state=on", nil)
	rr := httptest.NewRecorder()
	tt.handleSet(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200, body=%s", rr.Code, rr.Body.String())
	}
	dev := mustGet(t, tt, "id1")
	if !dev.Commanded {
		t.Errorf("Commanded should be true after set state=on")
	}
	if dev.Pending == 0 {
		t.Errorf("Pending should be armed after a fresh set")
	}
}

func TestHandleSetFansOutToAll(t *testing.T) {
	tt := newTestTuya()
	tt.devices.PutConfigured("id1", "lamp", "", "", "", "")
	tt.devices.PutConfigured("id2", "fan", "", "", "", "")

	req := httptest.NewRequest(http.MethodGet, "/tuya/set?point=all&state=off", nil)
	rr := httptest.NewRecorder()
	tt.handleSet(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rr.Code)
	}
	for _, id := range []string{"id1", "id2"} {
		dev := mustGet(t, tt, id)
		if dev.Commanded {
			t.Errorf("device %s Commanded should be false after set point=all state=off", id)
		}
	}
}

func TestHandleSetDoesNotRearmAlreadyPendingCommand(t *testing.T) {
	tt := newTestTuya()
	tt.devices.PutConfigured("id1", "lamp", "", "", "", "")
	dev := mustGet(t, tt, "id1")
	tt.devices.Mutate(dev, false, func(d *Device) { d.Pending = 555 })

	req := httptest.NewRequest(http.MethodGet, "/tuya/set?point=lamp&state=on", nil)
	rr := httptest.NewRecorder()
	tt.handleSet(rr, req)

	if dev.Pending != 555 {
		t.Errorf("set should not re-arm an already-pending command, Pending = %d", dev.Pending)
	}
}

func TestHandleSetWithPulse(t *testing.T) {
	tt := newTestTuya()
	tt.devices.PutConfigured("id1", "lamp", "", "", "", "")

	req := httptest.NewRequest(http.MethodGet, "/tuya/set?point=lamp&state=on&pulse=30", nil)
	rr := httptest.NewRecorder()
	tt.handleSet(rr, req)

	dev := mustGet(t, tt, "id1")
	if dev.Deadline == 0 {
		t.Errorf("pulse set should arm Deadline")
	}
}

func TestHandleSetRejectsNegativePulse(t *testing.T) {
	tt := newTestTuya()
	tt.devices.PutConfigured("id1", "lamp", "", "", "", "")
	req := httptest.NewRequest(http.MethodGet, "/tuya/set?point=lamp&state=on&pulse=-5", nil)
	rr := httptest.NewRecorder()
	tt.handleSet(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want 400 for a negative pulse", rr.Code)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	tt := newTestTuya()
	tt.devices.PutConfigured("id1", "lamp", "modelX", "0123456789abcdef", "desc", "192.168.1.10")
	tt.models.Refresh([]ModelEntry{{ID: "modelX", Name: "Socket", Control: 1}})

	rr := httptest.NewRecorder()
	tt.handleConfigGet(rr, httptest.NewRequest(http.MethodGet, "/tuya/config", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /tuya/config status = %d", rr.Code)
	}

	body := rr.Body.Bytes()

	fresh := newTestTuya()
	postReq := httptest.NewRequest(http.MethodPost, "/tuya/config", bytes.NewReader(body))
	postRR := httptest.NewRecorder()
	fresh.handleConfigPost(postRR, postReq)
	if postRR.Code != http.StatusOK {
		t.Fatalf("POST /tuya/config status = %d, body=%s", postRR.Code, postRR.Body.String())
	}

	dev, ok := fresh.devices.GetByName("lamp")
	if !ok {
		t.Fatalf("posted configuration did not recreate the device")
	}
	if dev.Model != "modelX" || dev.AddrHost != "192.168.1.10" {
		t.Errorf("round-tripped device mismatch: %+v", dev)
	}
	if fresh.models.LookupControl("modelX") != 1 {
		t.Errorf("round-tripped model registry missing modelX control dps")
	}
}

func TestHandleConfigPostRejectsInvalidJSON(t *testing.T) {
	tt := newTestTuya()
	req := httptest.NewRequest(http.MethodPost, "/tuya/config", bytes.NewReader([]byte("not json")))
	rr := httptest.NewRecorder()
	tt.handleConfigPost(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want 400", rr.Code)
	}
}
