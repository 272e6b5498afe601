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

package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaultsWhenUnset(t *testing.T) {
	cfg, err := New(viper.New())
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1", cfg.Etcd.Host)
	require.Equal(t, 2379, cfg.Etcd.Port)
	require.Equal(t, "/discovery/workloads/", cfg.Etcd.Prefix)
	require.Equal(t, "/var/run/docker.sock", cfg.Docker.Socket)
	require.Equal(t, "default", cfg.Containerd.Namespace)
	require.False(t, cfg.Kubernetes.InCluster)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestNewReadsEnvOverrides(t *testing.T) {
	t.Setenv("ETCD_HOST", "etcd.internal")
	t.Setenv("ETCD_PORT", "23790")
	t.Setenv("DOCKER_LABEL_KEY", "discovery.enabled")
	t.Setenv("DOCKER_LABEL_VALUE", "true")
	t.Setenv("KUBERNETES_IN_CLUSTER", "true")
	t.Setenv("KUBERNETES_WATCH_SERVICES", "true")

	cfg, err := New(viper.New())
	require.NoError(t, err)

	require.Equal(t, "etcd.internal", cfg.Etcd.Host)
	require.Equal(t, 23790, cfg.Etcd.Port)
	require.Equal(t, "discovery.enabled", cfg.Docker.LabelKey)
	require.Equal(t, "true", cfg.Docker.LabelValue)
	require.True(t, cfg.Kubernetes.InCluster)
	require.True(t, cfg.Kubernetes.WatchServices)
}

func TestNewRejectsInvalidLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose")

	_, err := New(viper.New())
	require.Error(t, err)
}
