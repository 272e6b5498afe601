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

package index

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/agntcy/discovery/internal/discoveryerr"
	"github.com/agntcy/discovery/internal/kvstore"
	"github.com/agntcy/discovery/internal/workload"
)

// backoff bounds reconnect attempts at 1s, 2s, 4s, ... capped at 30s, reset
// on any successfully received event.
type backoff struct {
	d time.Duration
}

func (b *backoff) next() time.Duration {
	if b.d <= 0 {
		b.d = time.Second
	} else {
		b.d *= 2
		if b.d > 30*time.Second {
			b.d = 30 * time.Second
		}
	}
	return b.d
}

func (b *backoff) reset() { b.d = 0 }

// Syncer runs the KV watch loop described in spec.md §4.4, keeping an Index
// in sync with the prefix kvstore.Prefix. Each rebuild populates a fresh
// shadow Index and atomically swaps the pointer Current() returns, so
// readers always observe either the old or the new consistent view, never
// an empty one (the "acceptable simpler implementation" of spec.md §4.4 /
// §9's shadow-index rebuild note).
type Syncer struct {
	kv     kvstore.KV
	prefix string
	cur    atomic.Pointer[Index]
	stopCh chan struct{}
}

// NewSyncer constructs a Syncer that is not yet running; call Run in a
// dedicated goroutine. Current() returns an empty Index until the first
// rebuild completes.
func NewSyncer(kv kvstore.KV) *Syncer {
	s := &Syncer{kv: kv, prefix: kvstore.Prefix, stopCh: make(chan struct{})}
	s.cur.Store(New())
	return s
}

// Current returns the live index. Safe to call concurrently with Run.
func (s *Syncer) Current() *Index {
	return s.cur.Load()
}

// Stop signals the loop to exit at the next event boundary and close its
// watch cursor.
func (s *Syncer) Stop() {
	close(s.stopCh)
}

func (s *Syncer) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Run drives the DISCONNECTED -> REBUILDING -> WATCHING state machine until
// Stop is called or ctx is canceled.
func (s *Syncer) Run(ctx context.Context) {
	bo := &backoff{}

	for !s.stopped() {
		if ctx.Err() != nil {
			return
		}

		shadow, revision, err := s.rebuild(ctx)
		if err != nil {
			zlog.Error().Err(err).Msg("index rebuild failed")
			select {
			case <-time.After(bo.next()):
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
			continue
		}

		s.cur.Store(shadow)
		shadow.Bus.Publish("index:rebuilt")

		err = s.watch(ctx, shadow, revision, bo)
		if err == nil {
			// Stop() was called or ctx was canceled mid-watch.
			return
		}
		zlog.Error().Err(err).Msg("index watch stream ended")

		select {
		case <-time.After(bo.next()):
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

// rebuild performs the initial full prefix scan into a brand new Index.
func (s *Syncer) rebuild(ctx context.Context) (*Index, int64, error) {
	events, revision, err := s.kv.List(ctx, s.prefix)
	if err != nil {
		return nil, 0, err
	}

	shadow := New()
	for _, ev := range events {
		s.applyData(shadow, ev.Key, ev.Value)
	}
	return shadow, revision, nil
}

// watch consumes the change stream for idx starting after revision, until
// the stream ends (error, expiry, or Stop()). Returns nil only when Stop()
// was observed or ctx is done; any other return value is an error to back
// off and retry. Each applied event resets bo.
func (s *Syncer) watch(ctx context.Context, idx *Index, revision int64, bo *backoff) error {
	events, errs := s.kv.Watch(ctx, s.prefix, revision)

	for {
		select {
		case <-s.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				return errors.New("watch error channel closed")
			}
			if err == nil {
				continue
			}
			return discoveryerr.ErrWatchTransient
		case ev, ok := <-events:
			if !ok {
				return errors.New("watch stream closed")
			}
			s.applyEvent(idx, ev)
			bo.reset()
		}
	}
}

func (s *Syncer) applyEvent(idx *Index, ev kvstore.Event) {
	switch ev.Kind {
	case kvstore.EventPut:
		s.applyData(idx, ev.Key, ev.Value)
	case kvstore.EventDelete:
		id, kind, ok := kvstore.ParseKey(ev.Key)
		if !ok || kind != kvstore.KindData {
			return
		}
		idx.Remove(id)
	}
}

func (s *Syncer) applyData(idx *Index, key string, value []byte) {
	id, kind, ok := kvstore.ParseKey(key)
	if !ok || kind != kvstore.KindData {
		// metadata keys and malformed keys never drive indexing.
		return
	}
	w, err := workload.Decode(value)
	if err != nil {
		zlog.Error().Err(discoveryerr.CodecError(key, err)).Msg("skipping malformed workload")
		return
	}
	idx.Update(id, w)
}
