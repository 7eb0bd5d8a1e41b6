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
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/SMerrony/aghast/config"
	"github.com/SMerrony/aghast/events"
	"github.com/SMerrony/aghast/mqtt"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxAPI "github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/pelletier/go-toml"
)

const (
	configFilename = "/influx.toml"
	subscribeName  = "Influx"
	measurement    = "tuya_events"
)

// The Influx type encapsulates the event-history Integration: one logger
// Goroutine per event name of interest, each fed by an event-bus
// subscription rather than MQTT, writing points to a single bucket.
type Influx struct {
	Bucket, Org, Token, URL string
	client                  influxdb2.Client
	writeAPI                influxAPI.WriteAPI
	Logger                  []loggerT
	influxMu                sync.RWMutex
	stopChans               []chan bool
}

type loggerT struct {
	Integration, DeviceType string
	DeviceName, EventName   string
}

// LoadConfig loads and stores the configuration for this Integration.
func (i *Influx) LoadConfig(confdir string) error {
	i.influxMu.Lock()
	defer i.influxMu.Unlock()
	confBytes, err := config.PreprocessTOML(confdir, configFilename)
	if err != nil {
		log.Println("ERROR: Could not load Influx configuration ", err.Error())
		return err
	}
	if err := toml.Unmarshal(confBytes, i); err != nil {
		log.Printf("ERROR: Could not load Influx config due to %s\n", err.Error())
		return err
	}
	log.Printf("INFO: Influx has %d loggers\n", len(i.Logger))
	return nil
}

// ProvidesDeviceTypes returns a slice of device types that this Integration supplies.
func (i *Influx) ProvidesDeviceTypes() []string {
	return []string{"Logger"}
}

// Start launches the Integration, LoadConfig() should have been called beforehand.
// mq is unused — this sink is fed purely by the event bus — but is accepted
// to satisfy the common Integration lifecycle signature.
func (i *Influx) Start(evChan chan events.EventT, mq *mqtt.MQTT) {
	i.influxMu.Lock()
	i.client = influxdb2.NewClient(i.URL, i.Token)
	i.writeAPI = i.client.WriteAPI(i.Org, i.Bucket)
	i.influxMu.Unlock()
	for _, l := range i.Logger {
		go i.logger(l)
	}
}

// Stop terminates the Integration and all Goroutines it contains.
func (i *Influx) Stop() {
	for _, ch := range i.stopChans {
		ch <- true
	}
	log.Println("DEBUG: Influx - All Goroutines should have stopped")
}

func (i *Influx) addStopChan() (ix int) {
	i.influxMu.Lock()
	i.stopChans = append(i.stopChans, make(chan bool))
	ix = len(i.stopChans) - 1
	i.influxMu.Unlock()
	return ix
}

func (i *Influx) logger(l loggerT) {
	sid := events.GetSubscriberID(fmt.Sprintf("%s-%s-%s", subscribeName, l.DeviceName, l.EventName))
	ch, err := events.Subscribe(sid, l.Integration, l.DeviceType, l.DeviceName, l.EventName)
	if err != nil {
		log.Printf("WARNING: Influx Integration (logger) could not subscribe to event for %v\n", l)
		return
	}
	sc := i.addStopChan()
	i.influxMu.RLock()
	stopChan := i.stopChans[sc]
	i.influxMu.RUnlock()
	log.Printf("DEBUG: Influx logger starting for %s, %s, %s, subscriber #: %d\n", l.Integration, l.DeviceName, l.EventName, sid)
	for {
		select {
		case <-stopChan:
			i.writeAPI.Flush()
			return
		case ev := <-ch:
			p := influxdb2.NewPoint(measurement,
				map[string]string{
					"device": ev.DeviceName,
					"event":  ev.EventName,
				},
				map[string]interface{}{
					"value": fmt.Sprintf("%v", ev.Value),
				},
				time.Now())
			i.writeAPI.WritePoint(p)
		}
	}
}
