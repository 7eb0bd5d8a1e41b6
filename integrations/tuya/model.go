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
	"strings"
	"sync"
)

// ModelEntry maps a product-key to the data-point used for on/off control.
type ModelEntry struct {
	ID      string
	Name    string
	Control int
}

// ModelRegistry is a process-scoped, case-insensitive lookup table of
// ModelEntry rows, rebuilt wholesale on every config refresh.
type ModelRegistry struct {
	mu      sync.RWMutex
	entries []ModelEntry
}

// LookupControl returns the dps for productKey, or 0 ("unknown") if no model
// carries one.
func (r *ModelRegistry) LookupControl(productKey string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if strings.EqualFold(e.ID, productKey) {
			return e.Control
		}
	}
	return 0
}

// Entries returns a snapshot copy of the registry for config export.
func (r *ModelRegistry) Entries() []ModelEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Refresh rebuilds the registry from a config document, preserving and
// updating in place any entry whose id already exists, appending the rest.
// A model with Control == 0 is not carried forward (§4.D: "ignored").
func (r *ModelRegistry) Refresh(models []ModelEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID := make(map[string]int, len(r.entries))
	for i, e := range r.entries {
		byID[strings.ToLower(e.ID)] = i
	}
	for _, m := range models {
		if m.Control == 0 {
			continue
		}
		key := strings.ToLower(m.ID)
		if ix, found := byID[key]; found {
			r.entries[ix] = m
			continue
		}
		byID[key] = len(r.entries)
		r.entries = append(r.entries, m)
	}
}
