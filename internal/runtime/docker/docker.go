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

// Package docker implements the Docker-like runtime adapter of spec.md
// §4.5.1: a UNIX-socket daemon connection, label-filtered container
// listing, and an event stream mapped onto runtime.Event.
package docker

import (
	"context"
	"fmt"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	zlog "github.com/rs/zerolog/log"

	"github.com/agntcy/discovery/internal/discoveryerr"
	"github.com/agntcy/discovery/internal/runtime"
	"github.com/agntcy/discovery/internal/workload"
)

// Config configures the adapter, sourced from the DOCKER_SOCKET,
// DOCKER_LABEL_KEY, DOCKER_LABEL_VALUE environment variables (spec.md §6).
type Config struct {
	Socket     string
	LabelKey   string
	LabelValue string
	Registrar  string
}

// Adapter implements runtime.Adapter against a Docker-compatible daemon.
type Adapter struct {
	cfg Config
	cli *client.Client

	mu     sync.Mutex
	closed bool
	stopCh chan struct{}
}

func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg, stopCh: make(chan struct{})}
}

func (a *Adapter) Connect(ctx context.Context) error {
	cli, err := client.NewClientWithOpts(
		client.WithHost(a.cfg.Socket),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return discoveryerr.RuntimeConnect("docker", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		return discoveryerr.RuntimeConnect("docker", err)
	}
	a.cli = cli
	return nil
}

func (a *Adapter) labelFilter() filters.Args {
	f := filters.NewArgs()
	if a.cfg.LabelKey != "" {
		f.Add("label", fmt.Sprintf("%s=%s", a.cfg.LabelKey, a.cfg.LabelValue))
	}
	return f
}

func (a *Adapter) ListWorkloads(ctx context.Context) ([]*workload.Workload, error) {
	containers, err := a.cli.ContainerList(ctx, container.ListOptions{Filters: a.labelFilter()})
	if err != nil {
		return nil, discoveryerr.RuntimeStream("docker", err)
	}

	out := make([]*workload.Workload, 0, len(containers))
	for _, c := range containers {
		w, err := a.toWorkload(ctx, c.ID)
		if err != nil {
			zlog.Error().Err(err).Str("container_id", c.ID).Msg("skipping container")
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

// toWorkload inspects a single container and normalizes it, synthesizing
// addresses "{container_name}.{network_name}" for every network it joins
// (spec.md §4.5.1).
func (a *Adapter) toWorkload(ctx context.Context, id string) (*workload.Workload, error) {
	info, err := a.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, err
	}

	name := trimSlash(info.Name)

	var addresses, groups []string
	if info.NetworkSettings != nil {
		for netName := range info.NetworkSettings.Networks {
			groups = append(groups, netName)
			addresses = append(addresses, fmt.Sprintf("%s.%s", name, netName))
		}
	}

	ports := map[string]string{}
	for p := range info.Config.ExposedPorts {
		ports[p.Port()] = p.Proto()
	}

	return &workload.Workload{
		ID:              info.ID,
		Name:            name,
		Hostname:        info.Config.Hostname,
		Runtime:         workload.RuntimeDocker,
		WorkloadType:    workload.TypeContainer,
		Addresses:       addresses,
		IsolationGroups: groups,
		Labels:          info.Config.Labels,
		Metadata:        map[string]any{"ports": ports},
		Registrar:       a.cfg.Registrar,
	}, nil
}

func trimSlash(name string) string {
	if len(name) > 0 && name[0] == '/' {
		return name[1:]
	}
	return name
}

// minimal returns the sparse DELETED record spec.md §4.5.1 requires: id
// plus a short-id-derived hostname, since the container is already gone
// and cannot be re-inspected.
func minimal(id string) *workload.Workload {
	short := id
	if len(short) > 12 {
		short = short[:12]
	}
	return &workload.Workload{ID: id, Hostname: short, Runtime: workload.RuntimeDocker}
}

func (a *Adapter) Events(ctx context.Context) (<-chan runtime.Event, <-chan error) {
	out := make(chan runtime.Event)
	errs := make(chan error, 1)

	msgs, dockerErrs := a.cli.Events(ctx, events.ListOptions{Filters: a.labelFilter()})

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.stopCh:
				return
			case err, ok := <-dockerErrs:
				if !ok {
					return
				}
				if err != nil {
					select {
					case errs <- discoveryerr.RuntimeStream("docker", err):
					default:
					}
				}
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if msg.Type != events.ContainerEventType {
					continue
				}
				a.handleEvent(ctx, msg, out)
			}
		}
	}()

	return out, errs
}

func (a *Adapter) handleEvent(ctx context.Context, msg events.Message, out chan<- runtime.Event) {
	switch msg.Action {
	case events.ActionStart:
		w, err := a.toWorkload(ctx, msg.Actor.ID)
		if err != nil {
			zlog.Error().Err(err).Str("container_id", msg.Actor.ID).Msg("failed to re-fetch started container")
			return
		}
		out <- runtime.Event{Type: runtime.EventAdded, Workload: w}
	case events.ActionStop, events.ActionDie, events.ActionKill:
		out <- runtime.Event{Type: runtime.EventDeleted, Workload: minimal(msg.Actor.ID)}
	case events.ActionConnect, events.ActionDisconnect:
		w, err := a.toWorkload(ctx, msg.Actor.ID)
		if err != nil {
			zlog.Error().Err(err).Str("container_id", msg.Actor.ID).Msg("failed to re-fetch reconnected container")
			return
		}
		out <- runtime.Event{Type: runtime.EventNetworkChanged, Workload: w}
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
	if a.cli != nil {
		return a.cli.Close()
	}
	return nil
}
