// Copyright 2024 Andres Morey
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package index implements the replicated in-memory mirror of the KV
// store: four lookup tables under a single reader-writer lock, maintained
// by the watch loop in sync.go and read by the reachability evaluator and
// the query surface.
package index

import (
	"strings"
	"sync"

	eventbus "github.com/asaskevich/EventBus"

	"github.com/agntcy/discovery/internal/discoveryerr"
	"github.com/agntcy/discovery/internal/workload"
)

// Index is the shared mutable structure described in spec.md §4.2. All
// reads take the shared (read) lock; all writes take the exclusive lock
// only long enough to apply a single update or remove.
type Index struct {
	mu sync.RWMutex

	byID       map[string]*workload.Workload
	byHostname map[string]string // hostname -> id
	byName     map[string]string // "name" or "namespace/name" -> id
	byGroup    map[string]map[string]struct{}

	// Bus publishes "index:updated" and "index:removed" (id) and
	// "index:rebuilt" () notifications; the teacher's test event bus plays
	// the same role for its own watch tests.
	Bus eventbus.Bus
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		byID:       make(map[string]*workload.Workload),
		byHostname: make(map[string]string),
		byName:     make(map[string]string),
		byGroup:    make(map[string]map[string]struct{}),
		Bus:        eventbus.New(),
	}
}

// Update inserts or replaces the workload stored under id, per the update
// contract in spec.md §4.2: an existing entry is fully removed first so
// stale reverse-index pointers never linger.
func (idx *Index) Update(id string, w *workload.Workload) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
	idx.insertLocked(id, w)
	idx.Bus.Publish("index:updated", id)
}

// Remove deletes the workload stored under id, discarding only the reverse
// index entries that still point at it (last-writer-wins protects a
// hostname/name that was since claimed by a different id).
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.removeLocked(id) {
		idx.Bus.Publish("index:removed", id)
	}
}

func (idx *Index) insertLocked(id string, w *workload.Workload) {
	stored := w.Clone()
	idx.byID[id] = stored

	if stored.Hostname != "" {
		idx.byHostname[stored.Hostname] = id
	}
	if stored.Name != "" {
		idx.byName[stored.Name] = id
	}
	if nn := stored.NamespacedName(); nn != "" {
		idx.byName[nn] = id
	}
	for _, g := range stored.IsolationGroups {
		set, ok := idx.byGroup[g]
		if !ok {
			set = make(map[string]struct{})
			idx.byGroup[g] = set
		}
		set[id] = struct{}{}
	}
}

func (idx *Index) removeLocked(id string) bool {
	w, ok := idx.byID[id]
	if !ok {
		return false
	}

	if w.Hostname != "" && idx.byHostname[w.Hostname] == id {
		delete(idx.byHostname, w.Hostname)
	}
	if w.Name != "" && idx.byName[w.Name] == id {
		delete(idx.byName, w.Name)
	}
	if nn := w.NamespacedName(); nn != "" && idx.byName[nn] == id {
		delete(idx.byName, nn)
	}
	for _, g := range w.IsolationGroups {
		set, ok := idx.byGroup[g]
		if !ok {
			continue
		}
		delete(set, id)
		if len(set) == 0 {
			delete(idx.byGroup, g)
		}
	}

	delete(idx.byID, id)
	return true
}

// Reset clears every table. The sync loop in sync.go does not call it: a
// rebuild fills a fresh shadow Index and swaps the pointer instead.
func (idx *Index) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byID = make(map[string]*workload.Workload)
	idx.byHostname = make(map[string]string)
	idx.byName = make(map[string]string)
	idx.byGroup = make(map[string]map[string]struct{})
}

// Get returns the workload stored under id.
func (idx *Index) Get(id string) (*workload.Workload, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	w, ok := idx.byID[id]
	if !ok {
		return nil, false
	}
	return w.Clone(), true
}

// GetByHostname resolves the last writer of hostname.
func (idx *Index) GetByHostname(hostname string) (*workload.Workload, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	id, ok := idx.byHostname[hostname]
	if !ok {
		return nil, false
	}
	w := idx.byID[id]
	if w == nil {
		return nil, false
	}
	return w.Clone(), true
}

// GetByName resolves "name" or, when namespace is non-empty,
// "namespace/name".
func (idx *Index) GetByName(name, namespace string) (*workload.Workload, bool) {
	key := name
	if namespace != "" {
		key = namespace + "/" + name
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	id, ok := idx.byName[key]
	if !ok {
		return nil, false
	}
	w := idx.byID[id]
	if w == nil {
		return nil, false
	}
	return w.Clone(), true
}

// GroupMembers returns the ids belonging to group.
func (idx *Index) GroupMembers(group string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	set, ok := idx.byGroup[group]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// List returns every indexed workload, in no particular order.
func (idx *Index) List() []*workload.Workload {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]*workload.Workload, 0, len(idx.byID))
	for _, w := range idx.byID {
		out = append(out, w.Clone())
	}
	return out
}

// Identify attempts, in order, hostname / name / direct id / id-prefix
// resolution, per spec.md §4.2. The first hit wins.
func (idx *Index) Identify(identity string) (*workload.Workload, error) {
	if w, ok := idx.GetByHostname(identity); ok {
		return w, nil
	}
	if w, ok := idx.GetByName(identity, ""); ok {
		return w, nil
	}
	if w, ok := idx.Get(identity); ok {
		return w, nil
	}
	if w, ok := idx.identifyByIDPrefix(identity); ok {
		return w, nil
	}
	return nil, discoveryerr.NotFound(identity)
}

func (idx *Index) identifyByIDPrefix(prefix string) (*workload.Workload, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for id, w := range idx.byID {
		if strings.HasPrefix(id, prefix) {
			return w.Clone(), true
		}
	}
	return nil, false
}
