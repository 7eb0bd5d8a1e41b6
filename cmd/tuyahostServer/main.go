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

package main

import (
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/SMerrony/aghast/config"
	"github.com/SMerrony/aghast/events"
	agHTTP "github.com/SMerrony/aghast/integrations/http"
	"github.com/SMerrony/aghast/integrations/postgres"
	"github.com/SMerrony/aghast/integrations/tuya"
	"github.com/SMerrony/aghast/mqtt"
	"github.com/SMerrony/aghast/server"
)

var configFlag = flag.String("configdir", "", "directory containing configuration files")

func main() {
	flag.Parse()
	if *configFlag == "" {
		log.Fatalln("ERROR: You must supply a -configdir")
	}

	if err := config.CheckMainConfig(*configFlag); err != nil {
		log.Fatalln("ERROR: Main configuration check failed - " + err.Error())
	}

	conf, err := config.LoadMainConfig(*configFlag)
	if err != nil {
		log.Fatalf("ERROR: Failed to load main config file with: %s\n", err.Error())
	}

	mq := new(mqtt.MQTT)
	mqttChan := mq.Start(conf.MqttBroker, conf.MqttPort, conf.MqttClientID)

	// The event manager must be running before any Integration starts.
	evChan := events.StartEventManager(conf.LogEvents)

	server.StartAmbientIntegrations(conf, evChan, mq)

	var front *agHTTP.HTTP
	var depot *postgres.Postgres

	for _, name := range conf.Integrations {
		switch name {
		case "http":
			front = new(agHTTP.HTTP)
			if err := front.LoadConfig(conf.ConfigDir); err != nil {
				log.Fatalf("ERROR: HTTP Integration could not load its configuration - %s\n", err.Error())
			}
		case "postgres":
			depot = new(postgres.Postgres)
			if err := depot.LoadConfig(conf.ConfigDir); err != nil {
				log.Printf("WARNING: Postgres depot could not load its configuration - %s\n", err.Error())
				depot = nil
			}
		}
	}

	td := new(tuya.Tuya)
	if err := td.LoadConfig(conf.ConfigDir); err != nil {
		log.Fatalf("ERROR: Tuya Integration could not load its configuration - %s\n", err.Error())
	}
	if depot != nil {
		depot.Start(evChan, mq)
		td.SetDepot(depot)
	}
	if front != nil {
		td.RegisterRoutes(front.Router())
		front.Start(evChan, mq)
	}
	td.Start(evChan, mq)

	if mqttChan != nil {
		mqttChan <- mqtt.MessageT{
			Topic:    conf.SystemName + "/status",
			Qos:      0,
			Retained: false,
			Payload:  "Started",
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan
}
