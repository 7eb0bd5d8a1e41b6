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

package http

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaultsAddress(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "http.toml"), []byte(``), 0644); err != nil {
		t.Fatalf("could not write http.toml: %s", err)
	}
	h := new(HTTP)
	if err := h.LoadConfig(dir); err != nil {
		t.Fatalf("LoadConfig failed: %s", err)
	}
	if h.srvAddr != ":8080" {
		t.Errorf("srvAddr = %q, want :8080 when unconfigured", h.srvAddr)
	}
	if h.Router() == nil {
		t.Errorf("LoadConfig should build a router")
	}
}

func TestLoadConfigHonoursExplicitAddress(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "http.toml"), []byte(`address = ":9090"`), 0644)
	if err != nil {
		t.Fatalf("could not write http.toml: %s", err)
	}
	h := new(HTTP)
	if err := h.LoadConfig(dir); err != nil {
		t.Fatalf("LoadConfig failed: %s", err)
	}
	if h.srvAddr != ":9090" {
		t.Errorf("srvAddr = %q, want :9090", h.srvAddr)
	}
}

func TestRouterAllowsExternalRegistration(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "http.toml"), []byte(``), 0644)
	h := new(HTTP)
	if err := h.LoadConfig(dir); err != nil {
		t.Fatalf("LoadConfig failed: %s", err)
	}
	h.Router().HandleFunc("/probe", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusTeapot {
		t.Errorf("status code = %d, want %d", rr.Code, http.StatusTeapot)
	}
}

func TestCorsGETSetsHeader(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	handler := corsGET(next)

	req := httptest.NewRequest(http.MethodGet, "/static/x", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if !called {
		t.Errorf("corsGET did not call through to the wrapped handler")
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); got != "GET" {
		t.Errorf("Access-Control-Allow-Methods = %q, want GET", got)
	}
}
