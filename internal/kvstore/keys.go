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

// Package kvstore implements the KV key layout (spec.md §4.1, §6) and an
// etcd-backed client adapter providing the prefix-scan + watch primitives
// the index sync loop and the watcher daemon both depend on.
package kvstore

import "strings"

// Prefix is the root under which every workload key lives.
const Prefix = "/discovery/workloads/"

// Kind distinguishes the two key suffixes a workload id can carry.
type Kind string

const (
	// KindData is the primary, indexed workload record.
	KindData Kind = "data"
	// KindMetadata is the opaque sibling key; it never drives indexing.
	KindMetadata Kind = "metadata"
)

// DataKey returns "/discovery/workloads/{id}/data".
func DataKey(id string) string {
	return Prefix + id + "/data"
}

// MetadataKey returns "/discovery/workloads/{id}/metadata".
func MetadataKey(id string) string {
	return Prefix + id + "/metadata"
}

// WorkloadPrefix returns "/discovery/workloads/{id}/", used to delete every
// key belonging to a destroyed workload in one call.
func WorkloadPrefix(id string) string {
	return Prefix + id + "/"
}

// ParseKey strips Prefix and splits the remainder into (id, kind). ok is
// false for keys that are not well-formed "{id}/{kind}" pairs, or whose
// kind is neither "data" nor "metadata".
func ParseKey(key string) (id string, kind Kind, ok bool) {
	rest, found := strings.CutPrefix(key, Prefix)
	if !found {
		return "", "", false
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	switch Kind(parts[1]) {
	case KindData:
		return parts[0], KindData, true
	case KindMetadata:
		return parts[0], KindMetadata, true
	default:
		return "", "", false
	}
}
