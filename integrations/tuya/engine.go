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
	"log"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/SMerrony/aghast/events"
)

const (
	tcpPort          = 6668
	senseInterval    = 35
	silenceThreshold = 100
	sweepInterval    = 5
	commandTimeout   = 10
	pulseRearm       = 5
	readBufSize      = 1600
	dialTimeout      = 5 * time.Second
	exchangeDeadline = 10 * time.Second
)

const (
	integName  = "Tuya"
	deviceType = "Device"
)

// Engine is the per-tick scheduler described in §4.G. Beyond the device
// table, model registry and event channel it holds only the last sweep time,
// a sequence counter and the optional changed hook; one Engine drives the
// whole device population.
type Engine struct {
	devices   *DeviceTable
	models    *ModelRegistry
	evChan    chan events.EventT
	lastRetry int64
	seq       uint32
	onChanged func()
}

// NewEngine builds an Engine over devices and models.
func NewEngine(devices *DeviceTable, models *ModelRegistry, evChan chan events.EventT) *Engine {
	return &Engine{devices: devices, models: models, evChan: evChan}
}

// SetChangedHook registers fn to be called at most once per sweep, whenever a
// discovery-driven mutation has set the device table's changed flag since the
// previous sweep.
func (e *Engine) SetChangedHook(fn func()) {
	e.onChanged = fn
}

// Start subscribes to the Time integration's per-second tick and runs the
// sweep loop until the process exits.
func (e *Engine) Start() {
	sid := events.GetSubscriberID(integName + "Engine")
	ch, err := events.Subscribe(sid, "Time", "Ticker", "SystemTicker", "Second")
	if err != nil {
		log.Fatalf("ERROR: Tuya engine could not subscribe to the Second tick - %s\n", err.Error())
	}
	for range ch {
		e.tick()
	}
}

func (e *Engine) tick() {
	n := now()
	if n < e.lastRetry+sweepInterval {
		return
	}
	e.lastRetry = n
	for _, dev := range e.devices.All() {
		e.sweepOne(dev, n)
	}
	if e.devices.Changed() && e.onChanged != nil {
		e.onChanged()
	}
}

func (e *Engine) emit(dev *Device, eventName string, value interface{}) {
	e.evChan <- events.EventT{
		Integration: integName,
		DeviceType:  deviceType,
		DeviceName:  dev.Name,
		EventName:   eventName,
		Value:       value,
	}
}

func (e *Engine) sweepOne(dev *Device, n int64) {
	// 1. Sense.
	if n >= dev.LastSense+senseInterval && dev.Pending == 0 && dev.AddrHost != "" {
		e.devices.Mutate(dev, false, func(d *Device) { d.LastSense = n })
		e.sendQuery(dev)
	}

	// 2. Silence detection.
	if dev.Detected > 0 && dev.Detected < n-silenceThreshold {
		e.devices.CloseSocket(dev)
		e.devices.Mutate(dev, false, func(d *Device) {
			d.Status = false
			d.Commanded = false
			d.Pending = 0
			d.Deadline = 0
			d.Detected = 0
		})
		e.emit(dev, "SILENT", nil)
		return
	}

	// 3. Pulse expiry.
	if dev.Deadline > 0 && n >= dev.Deadline {
		e.devices.Mutate(dev, false, func(d *Device) {
			d.Commanded = false
			d.Deadline = 0
			d.Pending = n + pulseRearm
		})
		e.emit(dev, "RESET END OF PULSE", nil)
	}

	// 4. Reconciliation.
	if dev.Status != dev.Commanded {
		if dev.Pending > n {
			if dev.Detected > 0 {
				e.emit(dev, "RETRY", nil)
				e.controlDevice(dev, dev.Commanded)
			}
		} else if dev.Pending > 0 {
			e.devices.CloseSocket(dev)
			e.devices.Mutate(dev, false, func(d *Device) {
				d.Commanded = d.Status
				d.Pending = 0
			})
			e.emit(dev, "TIMEOUT", nil)
		}
	}
}

// controlDevice is the command-send path: housetuya_device_control.
func (e *Engine) controlDevice(dev *Device, state bool) {
	if dev.AddrHost == "" {
		return
	}
	if dev.Encrypted && len(dev.Secret.Key) == 0 {
		return
	}
	dps := e.resolveControlDps(dev)
	if dps == 0 {
		return
	}
	seq := atomic.AddUint32(&e.seq, 1)
	frame := encodeControl(seq, dev.Secret.ID, dev.Secret.Key, dev.Secret.Version, dps, state)
	e.dialAndExchange(dev, frame, seq)
}

func (e *Engine) sendQuery(dev *Device) {
	seq := atomic.AddUint32(&e.seq, 1)
	frame := encodeQuery(seq, dev.Secret.ID, dev.Secret.Key, dev.Secret.Version)
	e.dialAndExchange(dev, frame, seq)
}

func (e *Engine) resolveControlDps(dev *Device) int {
	if dev.ControlDps != 0 {
		return dev.ControlDps
	}
	dps := e.models.LookupControl(dev.Model)
	if dps != 0 {
		e.devices.Mutate(dev, false, func(d *Device) { d.ControlDps = dps })
	}
	return dps
}

// dialAndExchange opens a fresh TCP connection, stages and flushes frame,
// then reads a single usable reply. It replaces the original reactor's
// writable/readable callbacks with one goroutine per exchange; the device
// table's socket bookkeeping still enforces one-open-socket-per-device.
func (e *Engine) dialAndExchange(dev *Device, frame []byte, seq uint32) {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(dev.AddrHost, strconv.Itoa(tcpPort)), dialTimeout)
	if err != nil {
		log.Printf("DEBUG: Tuya could not connect to %s (%s) - %s\n", dev.Name, dev.AddrHost, err.Error())
		return
	}
	e.devices.SetSocket(dev, conn)
	e.devices.StageOutBuffer(dev, frame)
	go e.serviceConnection(dev, conn, seq)
}

func (e *Engine) serviceConnection(dev *Device, conn net.Conn, seq uint32) {
	defer e.devices.CloseSocket(dev)
	conn.SetDeadline(time.Now().Add(exchangeDeadline))

	buf := e.devices.TakeOutBuffer(dev)
	if _, err := conn.Write(buf); err != nil {
		return
	}

	readBuf := make([]byte, readBufSize)
	for {
		n, err := conn.Read(readBuf)
		if err != nil || n <= 0 {
			return
		}
		dec, ok := decodeFrame(readBuf[:n], dev.Secret.Key, dev.Secret.Version)
		if !ok {
			return
		}
		if dec.Code == CmdControl {
			// echo of our own command; the device still owes us a STATUS
			continue
		}
		e.handleReply(dev, dec)
		return
	}
}

type statusPayload struct {
	Dps map[string]json.RawMessage `json:"dps"`
}

func (e *Engine) handleReply(dev *Device, dec decoded) {
	if dec.Code != CmdStatus && dec.Code != CmdQuery {
		return
	}
	dps := e.resolveControlDps(dev)
	if dps == 0 {
		return
	}
	var sp statusPayload
	if err := json.Unmarshal(dec.Payload, &sp); err != nil {
		log.Printf("DEBUG: Tuya could not parse status JSON from %s - %s\n", dev.Name, err.Error())
		return
	}
	raw, found := sp.Dps[strconv.Itoa(dps)]
	if !found {
		return
	}
	var observed bool
	if err := json.Unmarshal(raw, &observed); err != nil {
		log.Printf("WARNING: Tuya got non-boolean state for %s dps %d\n", dev.Name, dps)
		return
	}
	e.applyObservedStatus(dev, observed)
}

func (e *Engine) applyObservedStatus(dev *Device, observed bool) {
	var confirmed, changed bool
	e.devices.Mutate(dev, false, func(d *Device) {
		if observed == d.Status {
			d.Detected = now()
			return
		}
		if d.Pending != 0 && observed == d.Commanded {
			confirmed = true
			d.Pending = 0
		} else {
			changed = true
			d.Commanded = observed
			d.Pending = 0
		}
		d.Status = observed
		d.Detected = now()
	})
	if confirmed {
		e.emit(dev, "CONFIRMED", observed)
	}
	if changed {
		e.emit(dev, "CHANGED", observed)
	}
}
