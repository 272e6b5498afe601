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

package reachability

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agntcy/discovery/internal/index"
	"github.com/agntcy/discovery/internal/workload"
)

func seed(idx *index.Index, id, name, hostname string, groups, addresses []string) {
	idx.Update(id, &workload.Workload{
		ID:              id,
		Name:            name,
		Hostname:        hostname,
		IsolationGroups: groups,
		Addresses:       addresses,
	})
}

func TestFindReachableEndToEndFixture(t *testing.T) {
	idx := index.New()
	seed(idx, "w1", "api", "w1host", []string{"netA"}, []string{"api.netA"})
	seed(idx, "w2", "db", "w2host", []string{"netA", "netB"}, []string{"db.netA", "db.netB"})
	seed(idx, "w3", "cache", "w3host", []string{"netB"}, []string{"cache.netB"})

	res, err := FindReachable(idx, "w1host")
	require.NoError(t, err)
	require.Equal(t, "w1", res.Caller.ID)
	require.Equal(t, 1, res.Count)
	require.Len(t, res.Reachable, 1)

	got := res.Reachable[0]
	require.Equal(t, "w2", got.ID)
	require.Equal(t, []string{"netA"}, got.IsolationGroups)
	require.Equal(t, []string{"db.netA"}, got.Addresses)
}

func TestScenarioSharedDockerNetwork(t *testing.T) {
	idx := index.New()
	seed(idx, "a", "a", "ah", []string{"net1"}, []string{"a.net1"})
	seed(idx, "b", "b", "bh", []string{"net1", "net2"}, []string{"b.net1", "b.net2"})
	seed(idx, "c", "c", "ch", []string{"net2"}, []string{"c.net2"})

	res, err := FindReachable(idx, "a")
	require.NoError(t, err)
	require.Len(t, res.Reachable, 1)
	require.Equal(t, "b", res.Reachable[0].ID)
	require.Equal(t, []string{"net1"}, res.Reachable[0].IsolationGroups)
	require.Equal(t, []string{"b.net1"}, res.Reachable[0].Addresses)

	res, err = FindReachable(idx, "c")
	require.NoError(t, err)
	require.Len(t, res.Reachable, 1)
	require.Equal(t, "b", res.Reachable[0].ID)
	require.Equal(t, []string{"net2"}, res.Reachable[0].IsolationGroups)
	require.Equal(t, []string{"b.net2"}, res.Reachable[0].Addresses)
}

func TestScenarioDisjointGroups(t *testing.T) {
	idx := index.New()
	seed(idx, "a", "a", "ah", []string{"alpha"}, []string{"a.alpha"})
	seed(idx, "b", "b", "bh", []string{"beta"}, []string{"b.beta"})

	res, err := FindReachable(idx, "a")
	require.NoError(t, err)
	require.Empty(t, res.Reachable)
	require.Equal(t, 0, res.Count)
}

func TestScenarioEmptyGroups(t *testing.T) {
	idx := index.New()
	seed(idx, "a", "a", "ah", nil, nil)
	seed(idx, "b", "b", "bh", []string{"netA"}, []string{"b.netA"})

	res, err := FindReachable(idx, "a")
	require.NoError(t, err)
	require.Empty(t, res.Reachable)
}

func TestScenarioKubernetesNamespaceIsolation(t *testing.T) {
	idx := index.New()
	seed(idx, "p1", "p1", "p1h", []string{"team-a"}, []string{"p1.team-a"})
	seed(idx, "p2", "p2", "p2h", []string{"team-a"}, []string{"p2.team-a"})
	seed(idx, "p3", "p3", "p3h", []string{"team-b"}, []string{"p3.team-b"})

	res, err := FindReachable(idx, "p1")
	require.NoError(t, err)
	require.Len(t, res.Reachable, 1)
	require.Equal(t, "p2", res.Reachable[0].ID)
}

func TestFindReachableUnknownIdentity(t *testing.T) {
	idx := index.New()
	_, err := FindReachable(idx, "ghost")
	require.Error(t, err)
}

// TestAddressFilteringKeepsOpaqueAndPlainAddresses covers spec.md §4.3 step
// 4c: an address with no group suffix, or whose suffix isn't one of the
// workload's own groups, is never dropped merely for lacking a shared group.
func TestAddressFilteringKeepsOpaqueAndPlainAddresses(t *testing.T) {
	idx := index.New()
	seed(idx, "a", "a", "ah", []string{"netA"}, []string{"a.netA"})
	idx.Update("b", &workload.Workload{
		ID:              "b",
		Name:            "b",
		Hostname:        "bh",
		IsolationGroups: []string{"netA", "netB"},
		Addresses:       []string{"b.netA", "b.netB", "10.0.0.5", "b.example.com"},
	})

	res, err := FindReachable(idx, "a")
	require.NoError(t, err)
	require.Len(t, res.Reachable, 1)
	require.ElementsMatch(t, []string{"b.netA", "10.0.0.5", "b.example.com"}, res.Reachable[0].Addresses)
}

// TestReachabilitySymmetry is the property test of spec.md §8.
func TestReachabilitySymmetry(t *testing.T) {
	idx := index.New()
	seed(idx, "w1", "api", "w1host", []string{"netA"}, []string{"api.netA"})
	seed(idx, "w2", "db", "w2host", []string{"netA", "netB"}, []string{"db.netA", "db.netB"})
	seed(idx, "w3", "cache", "w3host", []string{"netB"}, []string{"cache.netB"})

	resA, err := FindReachable(idx, "w1")
	require.NoError(t, err)
	resB, err := FindReachable(idx, "w2")
	require.NoError(t, err)

	requireContainsID(t, resB.Reachable, "w1")
	requireContainsID(t, resA.Reachable, "w2")
}

// TestReachabilitySelfExclusion is the property test of spec.md §8.
func TestReachabilitySelfExclusion(t *testing.T) {
	idx := index.New()
	seed(idx, "w1", "api", "w1host", []string{"netA"}, []string{"api.netA"})
	seed(idx, "w2", "db", "w2host", []string{"netA"}, []string{"db.netA"})

	res, err := FindReachable(idx, "w1")
	require.NoError(t, err)
	for _, w := range res.Reachable {
		require.NotEqual(t, "w1", w.ID)
	}
}

// TestReachableSortOrder is the property test of spec.md §8: reachable is
// sorted by (name, id) ascending.
func TestReachableSortOrder(t *testing.T) {
	idx := index.New()
	seed(idx, "z9", "zebra", "h1", []string{"netA"}, nil)
	seed(idx, "a1", "alpha", "h2", []string{"netA"}, nil)
	seed(idx, "m1", "mid", "h3", []string{"netA"}, nil)
	seed(idx, "caller", "caller", "hc", []string{"netA"}, nil)

	res, err := FindReachable(idx, "caller")
	require.NoError(t, err)
	require.Len(t, res.Reachable, 3)
	require.Equal(t, []string{"alpha", "mid", "zebra"},
		[]string{res.Reachable[0].Name, res.Reachable[1].Name, res.Reachable[2].Name})
}

func requireContainsID(t *testing.T, ws []*workload.Workload, id string) {
	t.Helper()
	for _, w := range ws {
		if w.ID == id {
			return
		}
	}
	t.Fatalf("expected reachable set to contain id %q", id)
}
