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

package kvstore

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EventKind mirrors the two KV operations the index sync loop cares about.
type EventKind string

const (
	EventPut    EventKind = "PUT"
	EventDelete EventKind = "DELETE"
)

// Event is one KV change, either observed via Watch or synthesized during
// an initial List (as a sequence of EventPut).
type Event struct {
	Kind  EventKind
	Key   string
	Value []byte
}

// KV is the subset of an etcd-compatible store the discovery core needs:
// point writes/deletes from the watcher, prefix scan + prefix watch from
// the index sync loop. Implemented by *Client against a real etcd cluster
// and trivially fakeable in tests.
type KV interface {
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	List(ctx context.Context, prefix string) (events []Event, revision int64, err error)
	Watch(ctx context.Context, prefix string, fromRevision int64) (<-chan Event, <-chan error)
	Close() error
}

// Client adapts go.etcd.io/etcd/client/v3 to the KV interface.
type Client struct {
	cli *clientv3.Client
}

// Config configures the etcd client adapter, sourced from ETCD_HOST /
// ETCD_PORT per spec.md §6.
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
}

// NewClient dials the etcd cluster.
func NewClient(cfg Config) (*Client, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: dial etcd: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	_, err := c.cli.Put(ctx, key, string(value))
	return err
}

func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.cli.Delete(ctx, key)
	return err
}

func (c *Client) DeletePrefix(ctx context.Context, prefix string) error {
	_, err := c.cli.Delete(ctx, prefix, clientv3.WithPrefix())
	return err
}

// List performs a full prefix scan, returning each key as a synthetic
// EventPut plus the revision the scan was taken at so a subsequent Watch
// can resume from exactly that point without gap or overlap.
func (c *Client) List(ctx context.Context, prefix string) ([]Event, int64, error) {
	resp, err := c.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, 0, err
	}
	events := make([]Event, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		events = append(events, Event{Kind: EventPut, Key: string(kv.Key), Value: kv.Value})
	}
	return events, resp.Header.Revision, nil
}

// Watch streams changes under prefix starting just after fromRevision. The
// error channel receives at most one error (for example a
// compaction/"mvcc: required revision has been compacted" error, which the
// index sync loop reports as ErrWatchTransient and answers with a rebuild)
// and is then closed along with the event channel. When ctx is done or the
// underlying watch ends without an error, both channels close with no error
// sent.
func (c *Client) Watch(ctx context.Context, prefix string, fromRevision int64) (<-chan Event, <-chan error) {
	events := make(chan Event)
	errs := make(chan error, 1)

	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if fromRevision > 0 {
		opts = append(opts, clientv3.WithRev(fromRevision+1))
	}

	wch := c.cli.Watch(ctx, prefix, opts...)

	go func() {
		defer close(events)
		defer close(errs)

		for resp := range wch {
			if err := resp.Err(); err != nil {
				errs <- err
				return
			}
			for _, ev := range resp.Events {
				kind := EventPut
				if ev.Type == clientv3.EventTypeDelete {
					kind = EventDelete
				}
				select {
				case events <- Event{Kind: kind, Key: string(ev.Kv.Key), Value: ev.Kv.Value}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, errs
}
