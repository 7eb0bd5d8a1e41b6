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

package server

import (
	"log"

	"github.com/SMerrony/aghast/config"
	"github.com/SMerrony/aghast/events"
	"github.com/SMerrony/aghast/integrations/influx"
	"github.com/SMerrony/aghast/integrations/time"
	"github.com/SMerrony/aghast/mqtt"
)

// Integration defines the minimal lifecycle every ambient Integration in this
// process satisfies. The Tuya and HTTP-front-door and Postgres-depot
// Integrations are wired explicitly by the bootstrap code instead of through
// this generic loop, since they need to be handed to one another (routes,
// depot handle) before Start is safe to call.
type Integration interface {
	// LoadConfig loads any TOML config file(s) for this Integration.
	LoadConfig(string) error

	// Start begins running the Integration's Goroutines.
	Start(chan events.EventT, *mqtt.MQTT)

	// ProvidesDeviceTypes names the Device types this Integration supplies.
	ProvidesDeviceTypes() []string
}

// StartAmbientIntegrations configures and starts every enabled Integration
// that has no cross-Integration wiring need. "tuya", "http" and "postgres"
// are started separately by the caller.
func StartAmbientIntegrations(conf config.MainConfigT, evChan chan events.EventT, mq *mqtt.MQTT) {
	var integ Integration
	for _, i := range conf.Integrations {
		switch i {
		case "time":
			integ = new(time.Time)
		case "influx":
			integ = new(influx.Influx)
		case "tuya", "http", "postgres":
			continue
		default:
			log.Printf("WARNING: Integration '%s' is not yet handled\n", i)
			continue
		}

		log.Println("DEBUG: Integration ", i, integ.ProvidesDeviceTypes())
		if err := integ.LoadConfig(conf.ConfigDir); err != nil {
			if i == "time" {
				log.Fatalf("ERROR: %s Integration could not load its configuration\n", i)
			}
			log.Printf("ERROR: %s Integration could not load its configuration\n", i)
			continue
		}
		go integ.Start(evChan, mq)
	}
}
