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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const fixtureContainerID = "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2"

func TestParseCNIFilenameScenario(t *testing.T) {
	network, containerID, ok := parseCNIFilename("net-a-default-"+fixtureContainerID+"-eth0", "default")
	require.True(t, ok)
	require.Equal(t, "net-a", network)
	require.Equal(t, fixtureContainerID, containerID)
}

func TestParseCNIFilenameUnderscoreNetwork(t *testing.T) {
	network, containerID, ok := parseCNIFilename("discovery_team-a-default-"+fixtureContainerID+"-eth0", "default")
	require.True(t, ok)
	require.Equal(t, "discovery_team-a", network)
	require.Equal(t, fixtureContainerID, containerID)
}

func TestParseCNIFilenameNoInterfaceSuffix(t *testing.T) {
	network, containerID, ok := parseCNIFilename("net-a-default-"+fixtureContainerID, "default")
	require.True(t, ok)
	require.Equal(t, "net-a", network)
	require.Equal(t, fixtureContainerID, containerID)
}

func TestParseCNIFilenameNoContainerID(t *testing.T) {
	_, _, ok := parseCNIFilename("not-a-valid-name", "default")
	require.False(t, ok)
}

func TestStateReaderReloadAndLookup(t *testing.T) {
	dir := t.TempDir()
	writeCNIFile(t, dir, "net-a-default-"+fixtureContainerID+"-eth0", `{"ips":[{"address":"10.0.0.5/24"}]}`)
	writeCNIFile(t, dir, "net-b-default-"+fixtureContainerID+"-eth1", `{"ips":[{"address":"10.0.1.5/24"},{"address":"10.0.1.6/24"}]}`)

	r := newStateReader(dir, "default")
	require.NoError(t, r.reload())

	addrs, groups := r.lookup(fixtureContainerID)
	require.ElementsMatch(t, []string{"10.0.0.5", "10.0.1.5", "10.0.1.6"}, addrs)
	require.ElementsMatch(t, []string{"net-a", "net-b"}, groups)
}

func TestStateReaderSkipsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeCNIFile(t, dir, "net-a-default-"+fixtureContainerID+"-eth0", `not json`)

	r := newStateReader(dir, "default")
	require.NoError(t, r.reload())

	addrs, groups := r.lookup(fixtureContainerID)
	require.Empty(t, addrs)
	require.Empty(t, groups)
}

func TestStateReaderApplyAndRemovePath(t *testing.T) {
	dir := t.TempDir()
	path := writeCNIFile(t, dir, "net-a-default-"+fixtureContainerID+"-eth0", `{"ips":[{"address":"10.0.0.5/24"}]}`)

	r := newStateReader(dir, "default")
	r.applyPath(path)

	_, groups := r.lookup(fixtureContainerID)
	require.Equal(t, []string{"net-a"}, groups)

	r.removePath(path)
	_, groups = r.lookup(fixtureContainerID)
	require.Empty(t, groups)
}

func writeCNIFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}
