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

// Package containerd implements the containerd-like runtime adapter of
// spec.md §4.5.2: a gRPC UNIX-socket connection scoped to one namespace,
// RUNNING-state + label filtered container listing, an event stream
// mapped onto runtime.Event, and network state reconstructed from CNI
// state files on disk (cni.go).
package containerd

import (
	"context"
	"sync"

	"github.com/containerd/containerd"
	apievents "github.com/containerd/containerd/api/events"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/events"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/typeurl/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/agntcy/discovery/internal/discoveryerr"
	"github.com/agntcy/discovery/internal/runtime"
	"github.com/agntcy/discovery/internal/workload"
)

// Config configures the adapter, sourced from CONTAINERD_SOCKET,
// CONTAINERD_NAMESPACE, CONTAINERD_CNI_STATE_DIR and the generic
// *_LABEL_KEY/*_LABEL_VALUE env vars (spec.md §6).
type Config struct {
	Socket       string
	Namespace    string
	LabelKey     string
	LabelValue   string
	CNIStateDir  string
	Registrar    string
}

// Adapter implements runtime.Adapter against a containerd-compatible
// daemon, augmented with a CNI state reader for network membership.
type Adapter struct {
	cfg Config
	cli *containerd.Client
	cni *stateReader
	w   *stateWatcher

	mu     sync.Mutex
	closed bool
	stopCh chan struct{}
}

func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg, cni: newStateReader(cfg.CNIStateDir, cfg.Namespace), stopCh: make(chan struct{})}
}

func (a *Adapter) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, a.cfg.Namespace)
}

func (a *Adapter) Connect(ctx context.Context) error {
	cli, err := containerd.New(a.cfg.Socket)
	if err != nil {
		return discoveryerr.RuntimeConnect("containerd", err)
	}
	if _, err := cli.Version(a.ctx(ctx)); err != nil {
		return discoveryerr.RuntimeConnect("containerd", err)
	}
	a.cli = cli

	// populate CNI state before the initial ListWorkloads call so the
	// first listing already carries network membership, not just the
	// first watcher tick's worth.
	if err := a.cni.reload(); err != nil {
		zlog.Error().Err(err).Str("dir", a.cfg.CNIStateDir).Msg("initial cni state scan failed")
	}
	return nil
}

// startCNIWatcher begins observing the CNI state directory for
// subsequent changes. A nil dir leaves network enrichment static at
// whatever reload() saw during Connect.
func (a *Adapter) startCNIWatcher(ctx context.Context) (<-chan string, <-chan error, error) {
	if a.cfg.CNIStateDir == "" {
		return nil, nil, nil
	}
	w, err := newStateWatcher(ctx, a.cfg.CNIStateDir, a.cni)
	if err != nil {
		return nil, nil, err
	}
	a.w = w
	return w.Events, w.Errors, nil
}

func (a *Adapter) matchesLabel(c containers.Container) bool {
	if a.cfg.LabelKey == "" {
		return true
	}
	return c.Labels[a.cfg.LabelKey] == a.cfg.LabelValue
}

func (a *Adapter) ListWorkloads(ctx context.Context) ([]*workload.Workload, error) {
	ctx = a.ctx(ctx)

	all, err := a.cli.Containers(ctx)
	if err != nil {
		return nil, discoveryerr.RuntimeStream("containerd", err)
	}

	out := make([]*workload.Workload, 0, len(all))
	for _, c := range all {
		info, err := c.Info(ctx)
		if err != nil {
			continue
		}
		if !a.matchesLabel(info) {
			continue
		}

		running, err := a.isRunning(ctx, c)
		if err != nil || !running {
			continue
		}

		out = append(out, a.toWorkload(info))
	}
	return out, nil
}

func (a *Adapter) isRunning(ctx context.Context, c containerd.Container) (bool, error) {
	task, err := c.Task(ctx, nil)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	status, err := task.Status(ctx)
	if err != nil {
		return false, err
	}
	return status.Status == containerd.Running, nil
}

// toWorkloadByID re-fetches a container's full metadata by id, for event
// handlers that only learn an id (a CNI state change, a task event) and
// must not emit a partial record over one that's already fully populated.
func (a *Adapter) toWorkloadByID(ctx context.Context, id string) (*workload.Workload, error) {
	c, err := a.cli.LoadContainer(a.ctx(ctx), id)
	if err != nil {
		return nil, err
	}
	info, err := c.Info(a.ctx(ctx))
	if err != nil {
		return nil, err
	}
	return a.toWorkload(info), nil
}

// toWorkload normalizes containerd's container metadata plus whatever the
// CNI state reader currently knows about this container's networks.
func (a *Adapter) toWorkload(info containers.Container) *workload.Workload {
	addrs, groups := a.cni.lookup(info.ID)

	return &workload.Workload{
		ID:              info.ID,
		Name:            info.ID,
		Runtime:         workload.RuntimeContainerd,
		WorkloadType:    workload.TypeContainer,
		Namespace:       a.cfg.Namespace,
		Addresses:       addrs,
		IsolationGroups: groups,
		Labels:          info.Labels,
		Registrar:       a.cfg.Registrar,
	}
}

func minimal(id string) *workload.Workload {
	return &workload.Workload{ID: id, Runtime: workload.RuntimeContainerd}
}

func (a *Adapter) Events(ctx context.Context) (<-chan runtime.Event, <-chan error) {
	out := make(chan runtime.Event)
	errs := make(chan error, 1)

	eventCh, eventErrs := a.cli.Subscribe(a.ctx(ctx))

	cniCh, cniErrCh, err := a.startCNIWatcher(ctx)
	if err != nil {
		zlog.Error().Err(err).Msg("cni watcher unavailable, network_changed events disabled")
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.stopCh:
				return
			case err, ok := <-eventErrs:
				if !ok {
					return
				}
				if err != nil {
					select {
					case errs <- discoveryerr.RuntimeStream("containerd", err):
					default:
					}
				}
				return
			case err, ok := <-cniErrCh:
				if ok && err != nil {
					zlog.Error().Err(discoveryerr.CNIParse("", err)).Msg("cni watcher error")
				}
			case id, ok := <-cniCh:
				if !ok {
					cniCh = nil
					continue
				}
				w, err := a.toWorkloadByID(ctx, id)
				if err != nil {
					zlog.Error().Err(err).Str("container_id", id).Msg("failed to re-fetch container for network change")
					continue
				}
				out <- runtime.Event{Type: runtime.EventNetworkChanged, Workload: w}
			case env, ok := <-eventCh:
				if !ok {
					return
				}
				a.handleEvent(ctx, env, out)
			}
		}
	}()

	return out, errs
}

func (a *Adapter) handleEvent(ctx context.Context, env *events.Envelope, out chan<- runtime.Event) {
	payload, err := typeurl.UnmarshalAny(env.Event)
	if err != nil {
		return
	}

	switch msg := payload.(type) {
	case *apievents.TaskStart:
		c, err := a.cli.LoadContainer(a.ctx(ctx), msg.ContainerID)
		if err != nil {
			zlog.Error().Err(err).Str("container_id", msg.ContainerID).Msg("failed to load started container")
			return
		}
		info, err := c.Info(a.ctx(ctx))
		if err != nil {
			return
		}
		out <- runtime.Event{Type: runtime.EventAdded, Workload: a.toWorkload(info)}
	case *apievents.TaskExit:
		out <- runtime.Event{Type: runtime.EventDeleted, Workload: minimal(msg.ContainerID)}
	case *apievents.TaskDelete:
		out <- runtime.Event{Type: runtime.EventDeleted, Workload: minimal(msg.ContainerID)}
	case *apievents.ContainerDelete:
		out <- runtime.Event{Type: runtime.EventDeleted, Workload: minimal(msg.ID)}
	}
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	close(a.stopCh)
	if a.w != nil {
		a.w.Close()
	}
	if a.cli != nil {
		return a.cli.Close()
	}
	return nil
}
