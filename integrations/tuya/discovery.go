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

	"github.com/SMerrony/aghast/events"
)

const (
	plaintextDiscoveryPort = 6666
	keyedDiscoveryPort     = 6667
	maxBeaconLen           = 2048
)

type beaconT struct {
	GwID       string `json:"gwId"`
	ProductKey string `json:"productKey"`
	Version    string `json:"version"`
	Encrypt    bool   `json:"encrypt"`
	IP         string `json:"ip"`
}

// discoveryListener owns the two UDP sockets that receive Tuya beacons.
type discoveryListener struct {
	devices *DeviceTable
	evChan  chan events.EventT
}

// listenAndServe binds one discovery socket on port and services it until
// the process exits; it returns only if the bind fails. Callers invoke it
// with go, once per port.
func (l *discoveryListener) listenAndServe(port int, key []byte) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		log.Printf("WARNING: Tuya discovery could not bind UDP :%d - %s\n", port, err.Error())
		return
	}
	defer conn.Close()

	buf := make([]byte, maxBeaconLen)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			log.Printf("DEBUG: Tuya discovery read error on :%d - %s\n", port, err.Error())
			continue
		}
		l.handleBeacon(append([]byte{}, buf[:n]...), key)
	}
}

func (l *discoveryListener) handleBeacon(raw []byte, key []byte) {
	dec, ok := decodeFrame(raw, key, "")
	if !ok {
		return
	}
	var b beaconT
	if err := json.Unmarshal(dec.Payload, &b); err != nil {
		log.Printf("DEBUG: Tuya discovery could not parse beacon JSON - %s\n", err.Error())
		return
	}
	if b.GwID == "" || b.ProductKey == "" || b.Version == "" {
		return
	}

	dev, created := l.devices.EnsureDevice(b.GwID)
	if created {
		log.Printf("INFO: Tuya discovered new device %s (%s)\n", dev.Name, b.GwID)
	}

	wasLost := dev.Detected == 0
	changed := dev.Model != b.ProductKey || dev.Secret.Version != b.Version ||
		dev.Encrypted != b.Encrypt || (b.IP != "" && b.IP != dev.AddrHost)
	l.devices.Mutate(dev, changed, func(d *Device) {
		d.Model = b.ProductKey
		d.Secret.Version = b.Version
		d.Encrypted = b.Encrypt
		if b.IP != "" && b.IP != d.AddrHost {
			d.AddrHost = b.IP
			if ip := net.ParseIP(b.IP); ip != nil {
				d.AddrIP = ip
			}
		}
		d.Detected = now()
		if wasLost {
			d.LastSense = 0
		}
	})

	if wasLost {
		l.evChan <- events.EventT{
			Integration: integName,
			DeviceType:  deviceType,
			DeviceName:  dev.Name,
			EventName:   "DETECTED",
			Value:       b.GwID,
		}
	}
}

// startDiscovery launches both UDP listener goroutines.
func startDiscovery(devices *DeviceTable, evChan chan events.EventT) {
	l := &discoveryListener{devices: devices, evChan: evChan}
	go l.listenAndServe(plaintextDiscoveryPort, nil)
	go l.listenAndServe(keyedDiscoveryPort, discoveryKey())
}
