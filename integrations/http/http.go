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

// Package http is the HTTP front door: a single *mux.Router serving static
// files plus whatever routes other Integrations register on it before Start
// is called.
package http

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/SMerrony/aghast/events"
	"github.com/SMerrony/aghast/mqtt"
	"github.com/gorilla/mux"
	"github.com/pelletier/go-toml"
)

const (
	configFilename = "/http.toml"
	staticDir      = "/static/"
	timeout        = 5 * time.Second
)

// HTTP is the bundled Integration providing the front door.
type HTTP struct {
	srvAddr string
	confDir string
	router  *mux.Router
	server  *httpServer
}

type httpServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

// ProvidesDeviceTypes returns a slice of device types that this Integration supplies.
func (h *HTTP) ProvidesDeviceTypes() []string {
	return []string{"HTTP"}
}

// LoadConfig loads and stores the configuration for this Integration.
func (h *HTTP) LoadConfig(confdir string) error {
	h.confDir = confdir
	tree, err := toml.LoadFile(confdir + configFilename)
	if err != nil {
		log.Println("ERROR: Could not load HTTP configuration ", err.Error())
		return err
	}
	addr, ok := tree.Get("address").(string)
	if !ok || addr == "" {
		addr = ":8080"
	}
	h.srvAddr = addr
	h.router = mux.NewRouter()
	return nil
}

// Router returns the shared router so other Integrations can register their
// own routes on it before Start is called.
func (h *HTTP) Router() *mux.Router {
	return h.router
}

// Start launches the listener. LoadConfig, and any RegisterRoutes calls from
// other Integrations, must happen first.
func (h *HTTP) Start(evChan chan events.EventT, mq *mqtt.MQTT) {
	h.router.Methods("GET").PathPrefix("/static/").Handler(
		http.StripPrefix("/static/", corsGET(http.FileServer(http.Dir(h.confDir+staticDir)))))

	go func() {
		h.startServer()
		defer h.stopServer()
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt)
		<-sigChan
	}()
}

func corsGET(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", "GET")
		next.ServeHTTP(w, r)
	})
}

func (h *HTTP) startServer() {
	htmlServer := httpServer{
		server: &http.Server{
			Addr:           h.srvAddr,
			Handler:        h.router,
			ReadTimeout:    timeout,
			WriteTimeout:   timeout,
			MaxHeaderBytes: 1 << 20,
		},
	}
	htmlServer.wg.Add(1)
	go func() {
		log.Printf("DEBUG: HTTP Server : Service started : Host=%s\n", h.srvAddr)
		htmlServer.server.ListenAndServe()
		htmlServer.wg.Done()
	}()
	h.server = &htmlServer
}

func (h *HTTP) stopServer() error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Printf("INFO: HTTP Server : Service stopping\n")
	if err := h.server.server.Shutdown(ctx); err != nil {
		if err := h.server.server.Close(); err != nil {
			log.Printf("ERROR: HTTP Server : Service stopping : Error=%v\n", err)
			return err
		}
	}
	h.server.wg.Wait()
	log.Printf("INFO: HTTP Server : Stopped\n")
	return nil
}
