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
	"encoding/json"
	"net/http"
	"os"
	"strconv"
)

// deviceStatusT is one device's entry in the GET /tuya/status document.
type deviceStatusT struct {
	State    string `json:"state"`
	Command  string `json:"command,omitempty"`
	Pulse    int64  `json:"pulse,omitempty"`
	Priority bool   `json:"priority,omitempty"`
}

type statusDocT struct {
	Host      string                   `json:"host"`
	Proxy     string                   `json:"proxy"`
	Timestamp int64                    `json:"timestamp"`
	Latest    int64                    `json:"latest"`
	Devices   map[string]deviceStatusT `json:"devices"`
}

// deviceConfigT / modelConfigT / configDocT mirror the wire configuration
// document from §6 exactly.
type deviceConfigT struct {
	Name        string `json:"name"`
	ID          string `json:"id"`
	Model       string `json:"model"`
	Key         string `json:"key,omitempty"`
	Description string `json:"description,omitempty"`
	Host        string `json:"host,omitempty"`
}

type modelConfigT struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Control int    `json:"control"`
}

type tuyaConfigT struct {
	Devices []deviceConfigT `json:"devices"`
	Models  []modelConfigT  `json:"models"`
}

type configDocT struct {
	Tuya tuyaConfigT `json:"tuya"`
}

func stateString(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func (t *Tuya) statusDoc() statusDocT {
	host, _ := os.Hostname()
	doc := statusDocT{
		Host:      host,
		Proxy:     t.conf.Proxy,
		Timestamp: now(),
		Latest:    t.latestChange(),
		Devices:   make(map[string]deviceStatusT),
	}
	for _, dev := range t.devices.All() {
		entry := deviceStatusT{Priority: dev.Priority}
		if dev.Detected == 0 {
			entry.State = "silent"
		} else {
			entry.State = stateString(dev.Status)
			if dev.Status != dev.Commanded {
				entry.Command = stateString(dev.Commanded)
			}
		}
		if dev.Deadline > 0 {
			entry.Pulse = dev.Deadline
		}
		doc.Devices[dev.Name] = entry
	}
	return doc
}

// handleStatus serves the status document, short-circuiting with 304 Not
// Modified when the caller's "since" token already matches the current
// "latest change" token (§4.H's If-Not-Modified fast path).
func (t *Tuya) handleStatus(w http.ResponseWriter, r *http.Request) {
	if since := r.URL.Query().Get("since"); since != "" {
		if sv, err := strconv.ParseInt(since, 10, 64); err == nil && sv == t.latestChange() {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	writeJSON(w, http.StatusOK, t.statusDoc())
}

// handleSet implements set(point, state, pulse?, cause?).
func (t *Tuya) handleSet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	point := q.Get("point")
	stateParam := q.Get("state")
	if point == "" {
		writeError(w, http.StatusBadRequest, "invalid point name")
		return
	}
	state, err := parseState(stateParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pulse := int64(0)
	if p := q.Get("pulse"); p != "" {
		pv, err := strconv.ParseInt(p, 10, 64)
		if err != nil || pv < 0 {
			writeError(w, http.StatusBadRequest, "invalid pulse")
			return
		}
		pulse = pv
	}

	var targets []*Device
	if point == "all" {
		targets = t.devices.All()
	} else {
		dev, found := t.devices.GetByName(point)
		if !found {
			writeError(w, http.StatusNotFound, "invalid point name")
			return
		}
		targets = []*Device{dev}
	}

	n := now()
	for _, dev := range targets {
		var shouldSend bool
		t.devices.Mutate(dev, false, func(d *Device) {
			d.Commanded = state
			if pulse > 0 {
				d.Deadline = n + pulse
			} else {
				d.Deadline = 0
			}
			if d.Pending == 0 {
				d.Pending = n + commandTimeout
				shouldSend = true
			}
		})
		if shouldSend && dev.Detected > 0 {
			t.engine.controlDevice(dev, state)
		}
	}

	writeJSON(w, http.StatusOK, t.statusDoc())
}

func parseState(s string) (bool, error) {
	switch s {
	case "on", "1":
		return true, nil
	case "off", "0":
		return false, nil
	default:
		return false, errInvalidState
	}
}

var errInvalidState = &httpError{"invalid state"}

type httpError struct{ msg string }

func (e *httpError) Error() string { return e.msg }

// handleConfigGet exports the live configuration, reconstructed from the
// in-memory tables rather than replayed from disk (§4.H).
func (t *Tuya) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, t.exportConfig())
}

func (t *Tuya) exportConfig() configDocT {
	var doc configDocT
	for _, dev := range t.devices.All() {
		doc.Tuya.Devices = append(doc.Tuya.Devices, deviceConfigT{
			Name:        dev.Name,
			ID:          dev.Secret.ID,
			Model:       dev.Model,
			Description: dev.Description,
			Host:        dev.AddrHost,
		})
	}
	for _, m := range t.models.Entries() {
		doc.Tuya.Models = append(doc.Tuya.Models, modelConfigT{ID: m.ID, Name: m.Name, Control: m.Control})
	}
	return doc
}

// handleConfigPost replaces the live configuration, per §4.H.
func (t *Tuya) handleConfigPost(w http.ResponseWriter, r *http.Request) {
	var doc configDocT
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid configuration document")
		return
	}
	t.applyConfig(doc.Tuya)
	t.bumpLatestChange()
	if t.loadedFromDepot && t.depot != nil {
		if body, err := json.Marshal(doc); err == nil {
			t.depot.Put("config", t.conf.ConfigName, body)
		}
	}
	writeJSON(w, http.StatusOK, t.exportConfig())
}

func (t *Tuya) applyConfig(doc tuyaConfigT) {
	for _, dc := range doc.Devices {
		if dc.ID == "" {
			continue
		}
		t.devices.PutConfigured(dc.ID, dc.Name, dc.Model, dc.Key, dc.Description, dc.Host)
	}
	models := make([]ModelEntry, 0, len(doc.Models))
	for _, mc := range doc.Models {
		models = append(models, ModelEntry{ID: mc.ID, Name: mc.Name, Control: mc.Control})
	}
	t.models.Refresh(models)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
