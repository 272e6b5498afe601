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

package containerd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	zlog "github.com/rs/zerolog/log"

	"github.com/agntcy/discovery/internal/debounce"
	"github.com/agntcy/discovery/internal/discoveryerr"
)

// cniEventDebounce coalesces bursts of fsnotify events for the same
// container id (CNI plugins commonly rewrite several files per attach):
// with leading and trailing calls both enabled, a burst emits one
// NETWORK_CHANGED trigger at its start and at most one more when it ends.
const cniEventDebounce = 200 * time.Millisecond

// containerIDPattern matches the 64-char hex container id embedded in a
// CNI state filename; the grammar is
// network("-"namespace)?"-"container_id("-"interface)? (spec.md §6).
var containerIDPattern = regexp.MustCompile(`[0-9a-f]{64}`)

// parseCNIFilename anchors on the container id's location in base and
// strips the adapter's configured namespace suffix from what precedes it,
// per spec.md §4.5.2's parsing rule.
func parseCNIFilename(base, namespace string) (network, containerID string, ok bool) {
	loc := containerIDPattern.FindStringIndex(base)
	if loc == nil {
		return "", "", false
	}
	containerID = base[loc[0]:loc[1]]

	prefix := strings.TrimSuffix(base[:loc[0]], "-")
	if prefix == "" {
		return "", "", false
	}

	if namespace != "" {
		if stripped, found := strings.CutSuffix(prefix, "-"+namespace); found {
			prefix = stripped
		}
	}
	if prefix == "" {
		return "", "", false
	}

	return prefix, containerID, true
}

type cniFile struct {
	IPs []struct {
		Address string `json:"address"`
	} `json:"ips"`
}

// parseCNIStateFile reads the JSON contents at path and returns the
// addresses it declares, with the "/mask" suffix stripped.
func parseCNIStateFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f cniFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(f.IPs))
	for _, ip := range f.IPs {
		addr, _, _ := strings.Cut(ip.Address, "/")
		if addr != "" {
			out = append(out, addr)
		}
	}
	return out, nil
}

// fileEntry records what one CNI state file contributed, so a later
// removal can retract exactly that contribution without needing to
// re-read the (now-deleted) file.
type fileEntry struct {
	containerID string
	network     string
	addresses   []string
}

// stateReader mirrors the on-disk CNI state directory: per-container
// network membership and addresses, rebuilt by reload() and kept current
// incrementally by stateWatcher.
type stateReader struct {
	dir       string
	namespace string

	mu    sync.RWMutex
	files map[string]fileEntry // path -> contribution
}

func newStateReader(dir, namespace string) *stateReader {
	return &stateReader{dir: dir, namespace: namespace, files: make(map[string]fileEntry)}
}

// reload performs a full directory scan. A no-op when no directory is
// configured (the CNI reader is optional ambient enrichment).
func (r *stateReader) reload() error {
	if r.dir == "" {
		return nil
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}

	files := make(map[string]fileEntry, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		entry, err := r.parseFile(path)
		if err != nil {
			zlog.Error().Err(discoveryerr.CNIParse(path, err)).Msg("skipping cni state file")
			continue
		}
		files[path] = entry
	}

	r.mu.Lock()
	r.files = files
	r.mu.Unlock()
	return nil
}

func (r *stateReader) parseFile(path string) (fileEntry, error) {
	network, containerID, ok := parseCNIFilename(filepath.Base(path), r.namespace)
	if !ok {
		return fileEntry{}, discoveryerr.CNIParse(path, errUnparseableFilename)
	}
	addrs, err := parseCNIStateFile(path)
	if err != nil {
		return fileEntry{}, err
	}
	return fileEntry{containerID: containerID, network: network, addresses: addrs}, nil
}

// applyPath re-parses and stores the contribution of one file, used on a
// fsnotify create/write event.
func (r *stateReader) applyPath(path string) {
	entry, err := r.parseFile(path)
	if err != nil {
		zlog.Error().Err(err).Msg("skipping cni state file")
		return
	}
	r.mu.Lock()
	r.files[path] = entry
	r.mu.Unlock()
}

// removePath retracts a file's contribution, used on a fsnotify remove
// event, for a container id resolved purely from the filename (the file
// itself is already gone).
func (r *stateReader) removePath(path string) {
	r.mu.Lock()
	delete(r.files, path)
	r.mu.Unlock()
}

// lookup returns the deduplicated addresses and networks currently known
// for containerID, sorted for deterministic output.
func (r *stateReader) lookup(containerID string) (addresses, groups []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addrSet := map[string]struct{}{}
	groupSet := map[string]struct{}{}
	for _, e := range r.files {
		if e.containerID != containerID {
			continue
		}
		groupSet[e.network] = struct{}{}
		for _, a := range e.addresses {
			addrSet[a] = struct{}{}
		}
	}

	for a := range addrSet {
		addresses = append(addresses, a)
	}
	for g := range groupSet {
		groups = append(groups, g)
	}
	sort.Strings(addresses)
	sort.Strings(groups)
	return addresses, groups
}

var errUnparseableFilename = errUnparseableFilenameErr{}

type errUnparseableFilenameErr struct{}

func (errUnparseableFilenameErr) Error() string { return "cni state filename did not match the expected grammar" }

// stateWatcher observes creations/deletions under a CNI state directory
// and keeps a stateReader current, emitting the affected container id on
// Events so the adapter can surface a NETWORK_CHANGED event. Grounded in
// the node agent's own fsnotify-based log file watcher.
type stateWatcher struct {
	watcher *fsnotify.Watcher
	Events  chan string
	Errors  chan error

	mu     sync.Mutex
	closed bool
}

func newStateWatcher(ctx context.Context, dir string, reader *stateReader) (*stateWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	sw := &stateWatcher{
		watcher: watcher,
		Events:  make(chan string),
		Errors:  make(chan error, 1),
	}

	done := ctx.Done()
	emit := debounce.DebounceByKey(ctx, cniEventDebounce, func(containerID string) {
		select {
		case sw.Events <- containerID:
		case <-done:
		}
	})

	go func() {
		defer sw.Close()
		for {
			select {
			case <-done:
				return
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				select {
				case sw.Errors <- err:
				default:
				}
			case ev, ok := <-watcher.Events:
				if !ok || sw.isClosed() {
					return
				}

				base := filepath.Base(ev.Name)
				_, containerID, ok := parseCNIFilename(base, reader.namespace)
				if !ok {
					continue
				}

				switch {
				case ev.Op&fsnotify.Create == fsnotify.Create, ev.Op&fsnotify.Write == fsnotify.Write:
					reader.applyPath(ev.Name)
				case ev.Op&fsnotify.Remove == fsnotify.Remove, ev.Op&fsnotify.Rename == fsnotify.Rename:
					reader.removePath(ev.Name)
				default:
					continue
				}

				emit(containerID, containerID)
			}
		}
	}()

	return sw, nil
}

func (sw *stateWatcher) isClosed() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.closed
}

func (sw *stateWatcher) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return nil
	}
	sw.closed = true
	err := sw.watcher.Close()
	close(sw.Events)
	return err
}
