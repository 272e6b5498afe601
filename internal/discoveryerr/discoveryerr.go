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

// Package discoveryerr defines the error kinds shared across the discovery
// core, per the error handling policy: only a runtime connect failure is
// fatal, every other kind is retried or skipped locally.
package discoveryerr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Use errors.Is against these, not string comparison.
var (
	// ErrNotFound is raised by index.Identify and the reachability evaluator
	// when an identity does not resolve to any known workload.
	ErrNotFound = errors.New("not found")

	// ErrRuntimeConnect is raised by an adapter's Connect. Fatal for that
	// adapter; the watcher that owns it exits.
	ErrRuntimeConnect = errors.New("runtime connect failed")

	// ErrRuntimeStream is raised by an adapter's event loop on a stream
	// error. The watcher logs it. The Kubernetes adapter backs off and
	// reopens its watch; the Docker and containerd adapters end their event
	// stream after reporting it, and nothing reconnects them.
	ErrRuntimeStream = errors.New("runtime stream error")

	// ErrWatchExpired is the kind for a KV or Kubernetes watch cursor that
	// is too old to resume. No code path returns it: the index sync loop
	// reports a compacted KV watch as ErrWatchTransient, and the Kubernetes
	// adapter clears its token on 410 Gone without returning an error.
	ErrWatchExpired = errors.New("watch expired")

	// ErrWatchTransient is raised on a recoverable KV watch stream error.
	// Logged, backed off (>=1s), and the index re-enters rebuild.
	ErrWatchTransient = errors.New("watch transient error")

	// ErrCodecError is raised when a KV value fails to decode as a
	// Workload. The offending key is skipped; rebuild continues.
	ErrCodecError = errors.New("codec error")

	// ErrCNIParse is raised when a CNI state file cannot be parsed. The
	// file is skipped; the reader continues with the rest.
	ErrCNIParse = errors.New("cni parse error")
)

// NotFound wraps ErrNotFound with the identity that failed to resolve.
func NotFound(identity string) error {
	return fmt.Errorf("%w: %q", ErrNotFound, identity)
}

// RuntimeConnect wraps ErrRuntimeConnect with the adapter and cause.
func RuntimeConnect(runtime string, cause error) error {
	return fmt.Errorf("%s: %w: %w", runtime, ErrRuntimeConnect, cause)
}

// RuntimeStream wraps ErrRuntimeStream with the adapter and cause.
func RuntimeStream(runtime string, cause error) error {
	return fmt.Errorf("%s: %w: %w", runtime, ErrRuntimeStream, cause)
}

// CodecError wraps ErrCodecError with the offending key.
func CodecError(key string, cause error) error {
	return fmt.Errorf("%s: %w: %w", key, ErrCodecError, cause)
}

// CNIParse wraps ErrCNIParse with the offending file.
func CNIParse(path string, cause error) error {
	return fmt.Errorf("%s: %w: %w", path, ErrCNIParse, cause)
}
