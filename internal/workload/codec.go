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

package workload

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Encode marshals a Workload to the UTF-8 JSON wire form described in
// spec.md §6. Empty/nil fields are either omitted (optional scalars) or
// normalized to an empty array/object (addresses, isolation_groups,
// labels, annotations never encode as null).
func Encode(w *Workload) ([]byte, error) {
	if err := Validate(w); err != nil {
		return nil, err
	}
	return json.Marshal(normalizeForEncode(w))
}

// Decode unmarshals the wire JSON form into a Workload, normalizing absent
// array/object fields to empty (never nil) so that decode(encode(w)) == w
// field-wise for any well-formed input.
func Decode(data []byte) (*Workload, error) {
	var w Workload
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode workload: %w", err)
	}
	normalizeForDecode(&w)
	return &w, nil
}

func normalizeForEncode(w *Workload) *Workload {
	out := w.Clone()
	if out.Addresses == nil {
		out.Addresses = []string{}
	}
	if out.IsolationGroups == nil {
		out.IsolationGroups = []string{}
	}
	if out.Labels == nil {
		out.Labels = map[string]string{}
	}
	if out.Annotations == nil {
		out.Annotations = map[string]string{}
	}
	return out
}

func normalizeForDecode(w *Workload) {
	if w.Addresses == nil {
		w.Addresses = []string{}
	}
	if w.IsolationGroups == nil {
		w.IsolationGroups = []string{}
	}
	if w.Labels == nil {
		w.Labels = map[string]string{}
	}
	if w.Annotations == nil {
		w.Annotations = map[string]string{}
	}
}

// AddressGroup splits an address on its last "." and returns the non-empty
// text after it. ok is true for every dotted address, including an
// "ip:port", a "dns:port" or a bare dotted "ip" (spec.md §6), so it does not
// by itself tell a "name.group" address from an opaque one. A suffix is only
// meaningful if it names one of the groups actually declared on the
// workload; callers that need that check use HasGroup below.
func AddressGroup(address string) (group string, ok bool) {
	idx := strings.LastIndex(address, ".")
	if idx < 0 || idx == len(address)-1 {
		return "", false
	}
	return address[idx+1:], true
}

// HasGroup reports whether group is present in groups.
func HasGroup(groups []string, group string) bool {
	for _, g := range groups {
		if g == group {
			return true
		}
	}
	return false
}

// Validate checks the minimal structural precondition for encoding: id is
// the sole primary key and must be set.
func Validate(w *Workload) error {
	if w.ID == "" {
		return fmt.Errorf("workload: id is required")
	}
	return nil
}
