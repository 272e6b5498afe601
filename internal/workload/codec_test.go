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
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleWorkload() *Workload {
	return &Workload{
		ID:              "w1",
		Name:            "api",
		Hostname:        "w1host",
		Runtime:         RuntimeDocker,
		WorkloadType:    TypeContainer,
		Addresses:       []string{"api.netA"},
		IsolationGroups: []string{"netA"},
		Labels:          map[string]string{"app": "api"},
		Annotations:     map[string]string{},
		Registrar:       "watcher-1",
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	w := sampleWorkload()

	data, err := Encode(w)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, w, got)
}

func TestEncodeNeverNullsCollections(t *testing.T) {
	w := &Workload{ID: "w2", Name: "bare"}

	data, err := Encode(w)
	require.NoError(t, err)
	require.Contains(t, string(data), `"addresses":[]`)
	require.Contains(t, string(data), `"isolation_groups":[]`)
	require.Contains(t, string(data), `"labels":{}`)
	require.Contains(t, string(data), `"annotations":{}`)
}

func TestDecodeNormalizesAbsentCollections(t *testing.T) {
	got, err := Decode([]byte(`{"id":"w3","name":"n","runtime":"docker","workload_type":"container"}`))
	require.NoError(t, err)
	require.NotNil(t, got.Addresses)
	require.NotNil(t, got.IsolationGroups)
	require.NotNil(t, got.Labels)
	require.NotNil(t, got.Annotations)
	require.Empty(t, got.Addresses)
}

func TestEncodeRequiresID(t *testing.T) {
	_, err := Encode(&Workload{Name: "no-id"})
	require.Error(t, err)
}

func TestAddressGroup(t *testing.T) {
	group, ok := AddressGroup("api.netA")
	require.True(t, ok)
	require.Equal(t, "netA", group)

	_, ok = AddressGroup("10.0.0.1")
	require.True(t, ok) // contains a dot; callers must check HasGroup too

	_, ok = AddressGroup("bareip")
	require.False(t, ok)
}

func TestHasGroup(t *testing.T) {
	require.True(t, HasGroup([]string{"a", "b"}, "b"))
	require.False(t, HasGroup([]string{"a", "b"}, "c"))
}
