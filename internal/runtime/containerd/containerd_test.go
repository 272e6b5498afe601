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
	"testing"

	"github.com/containerd/containerd/containers"
	"github.com/stretchr/testify/require"

	"github.com/agntcy/discovery/internal/workload"
)

func TestMinimalWorkload(t *testing.T) {
	w := minimal(fixtureContainerID)
	require.Equal(t, fixtureContainerID, w.ID)
	require.Equal(t, workload.RuntimeContainerd, w.Runtime)
	require.Empty(t, w.Name)
	require.Empty(t, w.Registrar)
}

func TestMatchesLabelUnconfigured(t *testing.T) {
	a := New(Config{})
	require.True(t, a.matchesLabel(containers.Container{Labels: map[string]string{"foo": "bar"}}))
}

func TestMatchesLabelConfigured(t *testing.T) {
	a := New(Config{LabelKey: "app.kubernetes.io/managed-by", LabelValue: "discovery"})
	require.True(t, a.matchesLabel(containers.Container{Labels: map[string]string{"app.kubernetes.io/managed-by": "discovery"}}))
	require.False(t, a.matchesLabel(containers.Container{Labels: map[string]string{"app.kubernetes.io/managed-by": "other"}}))
	require.False(t, a.matchesLabel(containers.Container{}))
}

// toWorkload must always populate the full record -- ID, Name, Namespace,
// Labels, Registrar, and whatever the CNI reader knows -- since every
// caller (initial listing, TaskStart, and the network-changed re-fetch in
// Events) PUTs its result as the complete stored record (watcher.go's
// apply()). A caller that settles for minimal() instead of toWorkload()
// for a live container silently wipes isolation group membership.
func TestToWorkloadPopulatesFullRecord(t *testing.T) {
	a := New(Config{Namespace: "default", Registrar: "containerd"})
	info := containers.Container{
		ID:     fixtureContainerID,
		Labels: map[string]string{"app.kubernetes.io/managed-by": "discovery"},
	}

	w := a.toWorkload(info)

	require.Equal(t, fixtureContainerID, w.ID)
	require.Equal(t, fixtureContainerID, w.Name)
	require.Equal(t, workload.RuntimeContainerd, w.Runtime)
	require.Equal(t, workload.TypeContainer, w.WorkloadType)
	require.Equal(t, "default", w.Namespace)
	require.Equal(t, "discovery", w.Labels["app.kubernetes.io/managed-by"])
	require.Equal(t, "containerd", w.Registrar)
}

func TestToWorkloadIncludesCNIState(t *testing.T) {
	a := New(Config{Namespace: "default", Registrar: "containerd"})
	a.cni.files = map[string]fileEntry{
		"/state/net-a-default-" + fixtureContainerID: {
			containerID: fixtureContainerID,
			network:     "net-a",
			addresses:   []string{"10.0.0.5"},
		},
	}

	w := a.toWorkload(containers.Container{ID: fixtureContainerID})

	require.Equal(t, []string{"10.0.0.5"}, w.Addresses)
	require.Equal(t, []string{"net-a"}, w.IsolationGroups)
}
