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

// Package query implements the read-only query surface of spec.md §4.6:
// identify, find_reachable, get, get_by_hostname, get_by_name, list_all,
// with filters applied after the base listing.
package query

import (
	"sort"

	"github.com/agntcy/discovery/internal/discoveryerr"
	"github.com/agntcy/discovery/internal/index"
	"github.com/agntcy/discovery/internal/reachability"
	"github.com/agntcy/discovery/internal/workload"
)

// Surface answers query-server requests against a live index. It holds
// no state of its own; Current is read fresh on every call so it can sit
// in front of an index.Syncer whose pointer moves on each rebuild.
type Surface struct {
	Current func() *index.Index
}

func New(current func() *index.Index) *Surface {
	return &Surface{Current: current}
}

// Identify resolves identity to a single workload (spec.md §4.2).
func (s *Surface) Identify(identity string) (*workload.Workload, error) {
	return s.Current().Identify(identity)
}

// FindReachable answers the reachability query of spec.md §4.3.
func (s *Surface) FindReachable(identity string) (*reachability.Result, error) {
	return reachability.FindReachable(s.Current(), identity)
}

// Get resolves by id directly.
func (s *Surface) Get(id string) (*workload.Workload, error) {
	w, ok := s.Current().Get(id)
	if !ok {
		return nil, discoveryerr.NotFound(id)
	}
	return w, nil
}

// GetByHostname resolves by hostname (last writer wins on collision).
func (s *Surface) GetByHostname(hostname string) (*workload.Workload, error) {
	w, ok := s.Current().GetByHostname(hostname)
	if !ok {
		return nil, discoveryerr.NotFound(hostname)
	}
	return w, nil
}

// GetByName resolves "name" or, with namespace set, "namespace/name".
func (s *Surface) GetByName(name, namespace string) (*workload.Workload, error) {
	w, ok := s.Current().GetByName(name, namespace)
	if !ok {
		identity := name
		if namespace != "" {
			identity = namespace + "/" + name
		}
		return nil, discoveryerr.NotFound(identity)
	}
	return w, nil
}

// ListFilter narrows a ListAll call; a zero-value field means "no filter
// on this dimension".
type ListFilter struct {
	Runtime workload.Runtime
	Labels  map[string]string
}

// ListAll returns every indexed workload matching filter, applied after
// the base listing (spec.md §4.6's "filters are applied after the base
// listing"). Sorted by (name, id) for deterministic output.
func (s *Surface) ListAll(filter ListFilter) []*workload.Workload {
	all := s.Current().List()

	out := make([]*workload.Workload, 0, len(all))
	for _, w := range all {
		if filter.Runtime != "" && w.Runtime != filter.Runtime {
			continue
		}
		if !matchesLabels(w.Labels, filter.Labels) {
			continue
		}
		out = append(out, w)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func matchesLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
