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

// Package tuya implements the local-network control service for Tuya smart
// devices: wire protocol codec, device lifecycle engine and the HTTP control
// surface that fronts them.
package tuya

import (
	"encoding/json"
	"log"
	"sync/atomic"

	agconfig "github.com/SMerrony/aghast/config"
	"github.com/SMerrony/aghast/events"
	"github.com/SMerrony/aghast/mqtt"
	"github.com/gorilla/mux"
	"github.com/pelletier/go-toml"
)

const configFilename = "/tuya.toml"

// Depot is the opaque key/value persistence collaborator described in §6.
// integrations/postgres provides the real implementation.
type Depot interface {
	Put(category, name string, value []byte) error
	Get(category, name string) ([]byte, bool, error)
}

// confT is the bootstrap seed read from tuya.toml: devices and models known
// before any beacon or depot load, plus the depot key this process's live
// configuration is filed under.
type confT struct {
	ConfigName    string `toml:"configName"`
	LoadFromDepot bool   `toml:"loadFromDepot"`
	Proxy         string `toml:"proxy"`
	Device        []deviceConfigT
	Model         []modelConfigT
}

// Tuya is the Integration gluing the codec, device table, model registry,
// discovery listener, engine and control surface together.
type Tuya struct {
	conf    confT
	devices *DeviceTable
	models  *ModelRegistry
	engine  *Engine

	evChan chan events.EventT
	mq     *mqtt.MQTT

	depot           Depot
	loadedFromDepot bool

	latest int64
}

// LoadConfig loads and stores the configuration for this Integration.
func (t *Tuya) LoadConfig(confdir string) error {
	confBytes, err := agconfig.PreprocessTOML(confdir, configFilename)
	if err != nil {
		log.Printf("ERROR: Could not read Tuya config due to %s\n", err.Error())
		return err
	}
	if err := toml.Unmarshal(confBytes, &t.conf); err != nil {
		log.Printf("ERROR: Could not parse Tuya config due to %s\n", err.Error())
		return err
	}
	t.devices = NewDeviceTable()
	t.models = &ModelRegistry{}
	return nil
}

// ProvidesDeviceTypes returns the Device types this Integration supplies.
func (t *Tuya) ProvidesDeviceTypes() []string {
	return []string{deviceType}
}

// SetDepot wires in the optional depot persistence collaborator. Must be
// called, if at all, before Start.
func (t *Tuya) SetDepot(d Depot) {
	t.depot = d
}

// RegisterRoutes mounts the control surface on router. Must be called, if at
// all, before Start so the routes are live once the HTTP front door's
// listener goroutine starts accepting connections.
func (t *Tuya) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tuya/status", t.handleStatus).Methods("GET")
	router.HandleFunc("/tuya/set", t.handleSet).Methods("GET", "POST")
	router.HandleFunc("/tuya/config", t.handleConfigGet).Methods("GET")
	router.HandleFunc("/tuya/config", t.handleConfigPost).Methods("POST")
}

// Start launches discovery, the polling/command engine, and the MQTT event
// sink. LoadConfig must have been called first.
func (t *Tuya) Start(evChan chan events.EventT, mq *mqtt.MQTT) {
	t.evChan = evChan
	t.mq = mq
	t.engine = NewEngine(t.devices, t.models, evChan)

	t.bootstrapConfig()

	t.engine.SetChangedHook(t.persistConfig)
	startDiscovery(t.devices, evChan)
	go t.engine.Start()
	if t.mq != nil {
		go t.runMQTTSink()
	}
}

// persistConfig mirrors handleConfigPost's depot write, triggered instead by
// the engine noticing a discovery-driven change to the device table.
func (t *Tuya) persistConfig() {
	if !t.loadedFromDepot || t.depot == nil {
		return
	}
	body, err := json.Marshal(t.exportConfig())
	if err != nil {
		log.Printf("WARNING: Tuya could not marshal configuration for depot persistence - %s\n", err.Error())
		return
	}
	if err := t.depot.Put("config", t.conf.ConfigName, body); err != nil {
		log.Printf("WARNING: Tuya could not persist configuration to depot - %s\n", err.Error())
	}
}

// bootstrapConfig loads the initial device/model population, preferring the
// depot's copy (if configured to) over the seed file on disk.
func (t *Tuya) bootstrapConfig() {
	if t.conf.LoadFromDepot && t.depot != nil {
		if body, found, err := t.depot.Get("config", t.conf.ConfigName); err == nil && found {
			var doc configDocT
			if err := json.Unmarshal(body, &doc); err == nil {
				t.applyConfig(doc.Tuya)
				t.loadedFromDepot = true
				return
			}
			log.Printf("WARNING: Tuya could not parse depot-stored configuration, falling back to seed file\n")
		}
	}
	seed := tuyaConfigT{Devices: t.conf.Device, Models: t.conf.Model}
	t.applyConfig(seed)
}

func (t *Tuya) latestChange() int64 {
	return atomic.LoadInt64(&t.latest)
}

func (t *Tuya) bumpLatestChange() {
	atomic.AddInt64(&t.latest, 1)
}
