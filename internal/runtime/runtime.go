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

// Package runtime defines the capability set every runtime adapter
// implements (spec.md §4.5): connect, list the current workloads, and
// stream subsequent changes as typed events until closed.
package runtime

import (
	"context"

	"github.com/agntcy/discovery/internal/workload"
)

// EventType classifies a change observed on an adapter's event stream.
type EventType string

const (
	EventAdded          EventType = "ADDED"
	EventModified       EventType = "MODIFIED"
	EventDeleted        EventType = "DELETED"
	EventNetworkChanged EventType = "NETWORK_CHANGED"
)

// Event is one item of an adapter's change stream. Workload is always
// populated, even for EventDeleted (a minimal record carrying at least the
// ID; the Docker adapter also sets a short-id Hostname, per spec.md §4.5.1).
type Event struct {
	Type     EventType
	Workload *workload.Workload
}

// Adapter is the closed interface every runtime implementation satisfies.
// Runtime SDK types (docker, containerd, client-go) must never leak past
// this boundary; callers see only workload.Workload and Event.
//
// Events is a typed channel rather than the blocking callback of the
// source system (spec.md §9 Design Notes): it decouples adapter
// concurrency from watcher concurrency and makes cancellation a simple
// channel close tied to ctx.
type Adapter interface {
	// Connect establishes the underlying connection. Failure here is
	// fatal for this adapter (discoveryerr.ErrRuntimeConnect).
	Connect(ctx context.Context) error

	// ListWorkloads performs one full enumeration of currently observable
	// workloads, used for the watcher's initial PUT pass.
	ListWorkloads(ctx context.Context) ([]*workload.Workload, error)

	// Events returns the channel of subsequent changes. Must be called
	// after Connect. The channel is closed when Close is called or ctx
	// is done, and the Docker and containerd adapters also close it after
	// a stream error. A parallel error channel carries stream-level
	// failures; the watcher logs them and does not reconnect.
	Events(ctx context.Context) (<-chan Event, <-chan error)

	// Close idempotently signals termination and releases resources.
	Close() error
}
