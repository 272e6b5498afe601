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

// Package reachability implements the set-intersection evaluator of
// spec.md §4.3: given a caller identity, which other workloads share an
// isolation group, and through which addresses each is reachable.
package reachability

import (
	"sort"

	"github.com/agntcy/discovery/internal/index"
	"github.com/agntcy/discovery/internal/workload"
)

// Result is the (caller, reachable, count) triple of spec.md §3.
type Result struct {
	Caller    *workload.Workload
	Reachable []*workload.Workload
	Count     int
}

// FindReachable implements the algorithm of spec.md §4.3 steps 1-6.
func FindReachable(idx *index.Index, identity string) (*Result, error) {
	caller, err := idx.Identify(identity)
	if err != nil {
		return nil, err
	}

	if len(caller.IsolationGroups) == 0 {
		return &Result{Caller: caller, Reachable: []*workload.Workload{}, Count: 0}, nil
	}

	callerGroups := toSet(caller.IsolationGroups)

	candidateIDs := map[string]struct{}{}
	for g := range callerGroups {
		for _, id := range idx.GroupMembers(g) {
			if id == caller.ID {
				continue
			}
			candidateIDs[id] = struct{}{}
		}
	}

	reachable := make([]*workload.Workload, 0, len(candidateIDs))
	for id := range candidateIDs {
		w, ok := idx.Get(id)
		if !ok {
			continue
		}

		shared := intersect(callerGroups, toSet(w.IsolationGroups))
		if len(shared) == 0 {
			// Not possible by construction (w was found via a shared
			// group), but guard against a race with a concurrent update.
			continue
		}

		reachable = append(reachable, project(w, shared))
	}

	sort.Slice(reachable, func(i, j int) bool {
		if reachable[i].Name != reachable[j].Name {
			return reachable[i].Name < reachable[j].Name
		}
		return reachable[i].ID < reachable[j].ID
	})

	return &Result{Caller: caller, Reachable: reachable, Count: len(reachable)}, nil
}

// project returns a derived workload identical to w except addresses are
// filtered to those usable through a shared group, and isolation_groups is
// narrowed to the shared set -- callers must never see addresses they
// cannot use nor groups they do not share.
func project(w *workload.Workload, shared map[string]struct{}) *workload.Workload {
	out := w.Clone()

	filtered := make([]string, 0, len(w.Addresses))
	for _, a := range w.Addresses {
		group, hasSuffix := workload.AddressGroup(a)
		if !hasSuffix {
			filtered = append(filtered, a)
			continue
		}
		if _, ok := shared[group]; ok {
			filtered = append(filtered, a)
			continue
		}
		if !workload.HasGroup(w.IsolationGroups, group) {
			// The suffix doesn't name a real group on this workload at
			// all (e.g. an IP octet or a DNS label) -- opaque, keep it.
			filtered = append(filtered, a)
			continue
		}
		// Suffix names a real group the caller doesn't share; drop it.
	}
	out.Addresses = filtered

	groups := make([]string, 0, len(shared))
	for g := range shared {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	out.IsolationGroups = groups

	return out
}

func toSet(ss []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		set[s] = struct{}{}
	}
	return set
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for k := range a {
		if _, ok := b[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}
