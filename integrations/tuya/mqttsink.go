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
	"log"

	"github.com/SMerrony/aghast/events"
	"github.com/SMerrony/aghast/mqtt"
)

const mqttSubscribeName = "TuyaMQTTSink"

var statusChangeEvents = map[string]bool{
	"CONFIRMED": true,
	"CHANGED":   true,
	"SILENT":    true,
}

// runMQTTSink subscribes to the engine's own event stream and republishes it
// onto MQTT, per §4.J. It exits if the bus subscription itself fails; a
// missing broker just means mq.Publish is a no-op (see mqtt.MQTT.Publish).
func (t *Tuya) runMQTTSink() {
	sid := events.GetSubscriberID(mqttSubscribeName)
	ch, err := events.Subscribe(sid, integName, deviceType, "+", "+")
	if err != nil {
		log.Printf("WARNING: Tuya MQTT sink could not subscribe to device events - %s\n", err.Error())
		return
	}
	for ev := range ch {
		t.mq.Publish(mqtt.MessageT{
			Topic:   fmt.Sprintf("tuyahost/device/%s/event", ev.DeviceName),
			Payload: ev.EventName,
		})
		if statusChangeEvents[ev.EventName] {
			if dev, found := t.devices.GetByName(ev.DeviceName); found {
				t.mq.Publish(mqtt.MessageT{
					Topic:    fmt.Sprintf("tuyahost/device/%s/state", ev.DeviceName),
					Payload:  fmt.Sprintf("%t", dev.Status),
					Retained: true,
				})
			}
		}
	}
}
