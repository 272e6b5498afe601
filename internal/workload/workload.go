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

// Package workload implements the normalized workload record shared by
// every runtime adapter, the KV store, and the reachability evaluator.
package workload

// Runtime identifies the source runtime a Workload was observed on.
type Runtime string

const (
	RuntimeDocker     Runtime = "docker"
	RuntimeContainerd Runtime = "containerd"
	RuntimeKubernetes Runtime = "kubernetes"
)

// Type identifies the kind of unit a Workload represents.
type Type string

const (
	TypeContainer Type = "container"
	TypePod       Type = "pod"
	TypeService   Type = "service"
)

// Workload is the normalized record every runtime adapter produces and the
// watcher persists under /discovery/workloads/{id}/data.
type Workload struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Hostname        string            `json:"hostname,omitempty"`
	Runtime         Runtime           `json:"runtime"`
	WorkloadType    Type              `json:"workload_type"`
	Node            string            `json:"node,omitempty"`
	Namespace       string            `json:"namespace,omitempty"`
	Addresses       []string          `json:"addresses"`
	IsolationGroups []string          `json:"isolation_groups"`
	Labels          map[string]string `json:"labels"`
	Annotations     map[string]string `json:"annotations"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
	Registrar       string            `json:"registrar,omitempty"`
}

// NamespacedName returns the "namespace/name" form used as a secondary key
// in the in-memory index when a namespace is present.
func (w *Workload) NamespacedName() string {
	if w.Namespace == "" {
		return ""
	}
	return w.Namespace + "/" + w.Name
}

// Clone returns a deep copy so callers (notably the reachability evaluator)
// can project a derived view without mutating the indexed record.
func (w *Workload) Clone() *Workload {
	if w == nil {
		return nil
	}
	out := *w
	out.Addresses = append([]string(nil), w.Addresses...)
	out.IsolationGroups = append([]string(nil), w.IsolationGroups...)
	out.Labels = cloneStringMap(w.Labels)
	out.Annotations = cloneStringMap(w.Annotations)
	if w.Metadata != nil {
		out.Metadata = make(map[string]any, len(w.Metadata))
		for k, v := range w.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
