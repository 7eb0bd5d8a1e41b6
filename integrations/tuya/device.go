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
	"fmt"
	"net"
	"sync"
	"time"
)

// DeviceSecret is the identity and crypto material for a device.
type DeviceSecret struct {
	ID      string // device-reported gwId
	Key     []byte // 16-byte shared secret, may be nil if unknown
	Version string
}

// Device is one row in the device table.
type Device struct {
	Name        string
	Secret      DeviceSecret
	Model       string
	Description string

	AddrIP   net.IP
	AddrHost string

	Encrypted bool
	Detected  int64 // unix seconds, 0 = never/lost
	LastSense int64

	ControlDps int // 0 = unresolved

	Status    bool
	Commanded bool
	Pending   int64 // deadline, 0 = idle
	Deadline  int64 // pulse expiry, 0 = not pulsing

	Priority bool

	conn      net.Conn
	outBuffer []byte

	changed bool
}

// DeviceTable is the append-only, id-indexed collection of known devices. All
// mutation goes through its methods, which take the table mutex for the
// duration of the mutation — the one concession the engine's otherwise
// single-threaded sweep makes to net/http and goroutine-per-socket I/O.
type DeviceTable struct {
	mu      sync.RWMutex
	byID    map[string]*Device
	bySock  map[net.Conn]*Device
	order   []string // id insertion order, for deterministic export
	newCtr  int
	changed bool
}

// NewDeviceTable returns an empty table.
func NewDeviceTable() *DeviceTable {
	return &DeviceTable{
		byID:   make(map[string]*Device),
		bySock: make(map[net.Conn]*Device),
	}
}

// Get looks up a device by id.
func (t *DeviceTable) Get(id string) (*Device, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.byID[id]
	return d, ok
}

// GetByName looks up a device by its user-facing label.
func (t *DeviceTable) GetByName(name string) (*Device, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range t.order {
		if t.byID[id].Name == name {
			return t.byID[id], true
		}
	}
	return nil, false
}

// GetBySocket routes an asynchronous I/O event back to its owning device.
func (t *DeviceTable) GetBySocket(c net.Conn) (*Device, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.bySock[c]
	return d, ok
}

// All returns a snapshot slice of every device, in table order.
func (t *DeviceTable) All() []*Device {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Device, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}

// EnsureDevice returns the existing row for id, or creates one with an
// auto-assigned name if unknown. Idempotent on id, as required by §3.
func (t *DeviceTable) EnsureDevice(id string) (dev *Device, created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d, ok := t.byID[id]; ok {
		return d, false
	}
	d := &Device{
		Name:   fmt.Sprintf("new_%d", t.newCtr),
		Secret: DeviceSecret{ID: id, Version: DefaultVersion},
	}
	t.newCtr++
	t.byID[id] = d
	t.order = append(t.order, id)
	return d, true
}

// PutConfigured inserts or updates a device created from config load. It
// never touches runtime-only fields (Status, Commanded, Pending, Deadline) —
// exactly the behavior the original C's buggy refresh path should have had
// (§9 open question 2).
func (t *DeviceTable) PutConfigured(id, name, model, key, description, host string) *Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.byID[id]
	if !ok {
		d = &Device{Secret: DeviceSecret{ID: id, Version: DefaultVersion}}
		t.byID[id] = d
		t.order = append(t.order, id)
	}
	d.Name = name
	d.Model = model
	d.Description = description
	if key != "" {
		d.Secret.Key = []byte(key)
	}
	if host != "" {
		d.AddrHost = host
		if ip := net.ParseIP(host); ip != nil {
			d.AddrIP = ip
		}
	}
	return d
}

// SetSocket records the TCP session currently open toward dev, closing any
// prior one first (§3 invariant 5).
func (t *DeviceTable) SetSocket(dev *Device, c net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if dev.conn != nil {
		delete(t.bySock, dev.conn)
		dev.conn.Close()
	}
	dev.conn = c
	dev.outBuffer = nil
	if c != nil {
		t.bySock[c] = dev
	}
}

// CloseSocket closes and clears dev's socket, if any.
func (t *DeviceTable) CloseSocket(dev *Device) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if dev.conn != nil {
		delete(t.bySock, dev.conn)
		dev.conn.Close()
		dev.conn = nil
	}
	dev.outBuffer = nil
}

// StageOutBuffer records bytes to be flushed once the socket is writable.
func (t *DeviceTable) StageOutBuffer(dev *Device, b []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	dev.outBuffer = b
}

// TakeOutBuffer returns and clears the staged bytes.
func (t *DeviceTable) TakeOutBuffer(dev *Device) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := dev.outBuffer
	dev.outBuffer = nil
	return b
}

// Mutate runs fn against dev under the table's write lock, and marks the
// table changed when markChanged is true. Discovery callers use this to
// update beacon-derived fields; config load calls PutConfigured directly
// instead since a config load is never a "changed" event (§4.E).
func (t *DeviceTable) Mutate(dev *Device, markChanged bool, fn func(*Device)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(dev)
	if markChanged {
		t.changed = true
	}
}

// Changed reports and clears the table-wide changed flag.
func (t *DeviceTable) Changed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.changed
	t.changed = false
	return c
}

// now is a seam for tests; production code always calls time.Now().Unix().
var now = func() int64 { return time.Now().Unix() }
