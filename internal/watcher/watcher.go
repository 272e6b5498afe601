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

// Package watcher implements the writer-side daemon of spec.md §4.5:
// drive one runtime adapter, perform the initial list-then-PUT pass, then
// translate the adapter's event stream into KV writes/deletes for the
// lifetime of the process.
package watcher

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/agntcy/discovery/internal/discoveryerr"
	"github.com/agntcy/discovery/internal/kvstore"
	"github.com/agntcy/discovery/internal/runtime"
	"github.com/agntcy/discovery/internal/workload"
)

// Daemon drives one runtime.Adapter and keeps the KV store in sync with
// its observed workloads. Registrar identifies this watcher instance in
// every record it writes (spec.md §3's registrar field).
type Daemon struct {
	adapter   runtime.Adapter
	kv        kvstore.KV
	registrar string

	// Ready closes once the initial list-then-PUT pass has completed, so
	// a caller can block until the watcher has something queryable.
	Ready chan struct{}
}

func New(adapter runtime.Adapter, kv kvstore.KV, registrar string) *Daemon {
	return &Daemon{adapter: adapter, kv: kv, registrar: registrar, Ready: make(chan struct{})}
}

// Run implements the three steps of spec.md §4.5: connect (fatal on
// failure), initial list-then-PUT, then a dedicated concurrent task
// translating the event stream into KV writes/deletes until ctx is done or
// the adapter closes its event channel. Stream errors are logged; Run does
// not back off or reconnect, and returns nil once the event channel closes.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.adapter.Connect(ctx); err != nil {
		return err
	}
	defer d.adapter.Close()

	if err := d.initialList(ctx); err != nil {
		return err
	}
	close(d.Ready)

	events, errs := d.adapter.Events(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			zlog.Error().Err(err).Msg("runtime event stream error")
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d.apply(ctx, ev)
		}
	}
}

func (d *Daemon) initialList(ctx context.Context) error {
	workloads, err := d.adapter.ListWorkloads(ctx)
	if err != nil {
		return err
	}
	for _, w := range workloads {
		d.put(ctx, w)
	}
	zlog.Info().Int("count", len(workloads)).Msg("initial workload list complete")
	return nil
}

// apply translates one adapter event into the corresponding KV mutation
// (spec.md §3's lifecycle rules): ADDED/MODIFIED/NETWORK_CHANGED all PUT
// the full record; DELETED removes the whole key prefix for that id.
func (d *Daemon) apply(ctx context.Context, ev runtime.Event) {
	switch ev.Type {
	case runtime.EventAdded, runtime.EventModified, runtime.EventNetworkChanged:
		d.put(ctx, ev.Workload)
	case runtime.EventDeleted:
		d.remove(ctx, ev.Workload)
	}
}

func (d *Daemon) put(ctx context.Context, w *workload.Workload) {
	if w.Registrar == "" {
		w.Registrar = d.registrar
	}

	data, err := workload.Encode(w)
	if err != nil {
		zlog.Error().Err(discoveryerr.CodecError(w.ID, err)).Msg("skipping unencodable workload")
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := d.kv.Put(writeCtx, kvstore.DataKey(w.ID), data); err != nil {
		zlog.Error().Err(err).Str("id", w.ID).Msg("kv put failed")
	}
}

func (d *Daemon) remove(ctx context.Context, w *workload.Workload) {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := d.kv.DeletePrefix(writeCtx, kvstore.WorkloadPrefix(w.ID)); err != nil {
		zlog.Error().Err(err).Str("id", w.ID).Msg("kv delete failed")
	}
}
