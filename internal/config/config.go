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

// Package config loads the process configuration from environment
// variables, mirroring the teacher's viper+mapstructure+validator pattern
// but scoped to this module's env surface (spec.md §6).
package config

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the full configuration surface shared by cmd/watcher and
// cmd/queryserver; each binary reads only the sections it needs.
type Config struct {
	Etcd struct {
		Host   string `mapstructure:"host"`
		Port   int    `mapstructure:"port"`
		Prefix string `mapstructure:"prefix"`
	}

	Docker struct {
		Socket     string `mapstructure:"socket"`
		LabelKey   string `mapstructure:"label-key"`
		LabelValue string `mapstructure:"label-value"`
	}

	Containerd struct {
		Socket      string `mapstructure:"socket"`
		Namespace   string `mapstructure:"namespace"`
		CNIStateDir string `mapstructure:"cni-state-dir"`
		LabelKey    string `mapstructure:"label-key"`
		LabelValue  string `mapstructure:"label-value"`
	}

	Kubernetes struct {
		Kubeconfig    string `mapstructure:"kubeconfig"`
		Namespace     string `mapstructure:"namespace"`
		InCluster     bool   `mapstructure:"in-cluster"`
		WatchServices bool   `mapstructure:"watch-services"`
		LabelKey      string `mapstructure:"label-key"`
		LabelValue    string `mapstructure:"label-value"`
	}

	Logging struct {
		Enabled bool
		Level   string `validate:"oneof=debug info warn error disabled"`
		Format  string `validate:"oneof=json pretty"`
	}
}

func (cfg *Config) validate() error {
	return validator.New().Struct(cfg)
}

// DefaultConfig returns the documented defaults for every field (spec.md
// §6: "all have documented defaults; unset strings mean unset, not empty
// string"). New registers these values with viper.SetDefault, so a bound
// env var that is not set resolves to them.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Etcd.Host = "127.0.0.1"
	cfg.Etcd.Port = 2379
	cfg.Etcd.Prefix = "/discovery/workloads/"

	cfg.Docker.Socket = "/var/run/docker.sock"

	cfg.Containerd.Socket = "/run/containerd/containerd.sock"
	cfg.Containerd.Namespace = "default"

	cfg.Kubernetes.Namespace = ""
	cfg.Kubernetes.InCluster = false
	cfg.Kubernetes.WatchServices = false

	cfg.Logging.Enabled = true
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

// New builds a Config from environment variables bound under v. A bound
// variable left unset in the environment resolves to DefaultConfig's value
// for that field rather than an empty string, per spec.md §6.
func New(v *viper.Viper) (*Config, error) {
	applyDefaults(v, DefaultConfig())
	bindEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("etcd.host", d.Etcd.Host)
	v.SetDefault("etcd.port", d.Etcd.Port)
	v.SetDefault("etcd.prefix", d.Etcd.Prefix)

	v.SetDefault("docker.socket", d.Docker.Socket)
	v.SetDefault("docker.label-key", d.Docker.LabelKey)
	v.SetDefault("docker.label-value", d.Docker.LabelValue)

	v.SetDefault("containerd.socket", d.Containerd.Socket)
	v.SetDefault("containerd.namespace", d.Containerd.Namespace)
	v.SetDefault("containerd.cni-state-dir", d.Containerd.CNIStateDir)
	v.SetDefault("containerd.label-key", d.Containerd.LabelKey)
	v.SetDefault("containerd.label-value", d.Containerd.LabelValue)

	v.SetDefault("kubernetes.kubeconfig", d.Kubernetes.Kubeconfig)
	v.SetDefault("kubernetes.namespace", d.Kubernetes.Namespace)
	v.SetDefault("kubernetes.in-cluster", d.Kubernetes.InCluster)
	v.SetDefault("kubernetes.watch-services", d.Kubernetes.WatchServices)
	v.SetDefault("kubernetes.label-key", d.Kubernetes.LabelKey)
	v.SetDefault("kubernetes.label-value", d.Kubernetes.LabelValue)

	v.SetDefault("logging.enabled", d.Logging.Enabled)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

func bindEnv(v *viper.Viper) {
	mustBind := func(key, env string) {
		if err := v.BindEnv(key, env); err != nil {
			panic(err)
		}
	}

	mustBind("etcd.host", "ETCD_HOST")
	mustBind("etcd.port", "ETCD_PORT")
	mustBind("etcd.prefix", "ETCD_PREFIX")

	mustBind("docker.socket", "DOCKER_SOCKET")
	mustBind("docker.label-key", "DOCKER_LABEL_KEY")
	mustBind("docker.label-value", "DOCKER_LABEL_VALUE")

	mustBind("containerd.socket", "CONTAINERD_SOCKET")
	mustBind("containerd.namespace", "CONTAINERD_NAMESPACE")
	mustBind("containerd.cni-state-dir", "CONTAINERD_CNI_STATE_DIR")
	mustBind("containerd.label-key", "CONTAINERD_LABEL_KEY")
	mustBind("containerd.label-value", "CONTAINERD_LABEL_VALUE")

	mustBind("kubernetes.kubeconfig", "KUBECONFIG")
	mustBind("kubernetes.namespace", "KUBERNETES_NAMESPACE")
	mustBind("kubernetes.in-cluster", "KUBERNETES_IN_CLUSTER")
	mustBind("kubernetes.watch-services", "KUBERNETES_WATCH_SERVICES")
	mustBind("kubernetes.label-key", "KUBERNETES_LABEL_KEY")
	mustBind("kubernetes.label-value", "KUBERNETES_LABEL_VALUE")

	mustBind("logging.enabled", "LOG_ENABLED")
	mustBind("logging.level", "LOG_LEVEL")
	mustBind("logging.format", "LOG_FORMAT")
}

// EtcdDialTimeout is the default dial timeout used by cmd entrypoints when
// constructing the etcd client from Config.
const EtcdDialTimeout = 5 * time.Second
