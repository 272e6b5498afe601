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

package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agntcy/discovery/internal/index"
	"github.com/agntcy/discovery/internal/workload"
)

func newFixtureSurface() (*Surface, *index.Index) {
	idx := index.New()
	idx.Update("w1", &workload.Workload{
		ID: "w1", Name: "api", Hostname: "w1host", Runtime: workload.RuntimeDocker,
		IsolationGroups: []string{"netA"}, Addresses: []string{"api.netA"},
		Labels: map[string]string{"tier": "frontend"},
	})
	idx.Update("w2", &workload.Workload{
		ID: "w2", Name: "db", Hostname: "w2host", Runtime: workload.RuntimeDocker,
		IsolationGroups: []string{"netA", "netB"}, Addresses: []string{"db.netA", "db.netB"},
		Labels: map[string]string{"tier": "backend"},
	})
	idx.Update("w3", &workload.Workload{
		ID: "w3", Name: "cache", Hostname: "w3host", Runtime: workload.RuntimeKubernetes,
		IsolationGroups: []string{"netB"}, Addresses: []string{"cache.netB"},
	})
	return New(func() *index.Index { return idx }), idx
}

func TestSurfaceIdentifyAndGetters(t *testing.T) {
	s, _ := newFixtureSurface()

	w, err := s.Identify("w1host")
	require.NoError(t, err)
	require.Equal(t, "w1", w.ID)

	w, err = s.Get("w2")
	require.NoError(t, err)
	require.Equal(t, "db", w.Name)

	w, err = s.GetByHostname("w3host")
	require.NoError(t, err)
	require.Equal(t, "w3", w.ID)

	w, err = s.GetByName("db", "")
	require.NoError(t, err)
	require.Equal(t, "w2", w.ID)

	_, err = s.Get("ghost")
	require.Error(t, err)
}

func TestSurfaceFindReachableEndToEndFixture(t *testing.T) {
	s, _ := newFixtureSurface()

	res, err := s.FindReachable("w1host")
	require.NoError(t, err)
	require.Equal(t, "w1", res.Caller.ID)
	require.Equal(t, 1, res.Count)
	require.Equal(t, "w2", res.Reachable[0].ID)
	require.Equal(t, []string{"netA"}, res.Reachable[0].IsolationGroups)
	require.Equal(t, []string{"db.netA"}, res.Reachable[0].Addresses)
}

func TestSurfaceListAllFiltersByRuntime(t *testing.T) {
	s, _ := newFixtureSurface()

	out := s.ListAll(ListFilter{Runtime: workload.RuntimeKubernetes})
	require.Len(t, out, 1)
	require.Equal(t, "w3", out[0].ID)
}

func TestSurfaceListAllFiltersByLabels(t *testing.T) {
	s, _ := newFixtureSurface()

	out := s.ListAll(ListFilter{Labels: map[string]string{"tier": "backend"}})
	require.Len(t, out, 1)
	require.Equal(t, "w2", out[0].ID)
}

func TestSurfaceListAllSortOrder(t *testing.T) {
	s, _ := newFixtureSurface()

	out := s.ListAll(ListFilter{})
	require.Len(t, out, 3)
	require.Equal(t, []string{"api", "cache", "db"}, []string{out[0].Name, out[1].Name, out[2].Name})
}
