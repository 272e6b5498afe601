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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agntcy/discovery/internal/config"
	"github.com/agntcy/discovery/internal/kvstore"
	"github.com/agntcy/discovery/internal/logging"
	"github.com/agntcy/discovery/internal/runtime"
	"github.com/agntcy/discovery/internal/runtime/containerd"
	"github.com/agntcy/discovery/internal/runtime/docker"
	"github.com/agntcy/discovery/internal/runtime/kubernetes"
	"github.com/agntcy/discovery/internal/watcher"
)

type CLI struct {
	Runtime   string
	Registrar string
}

func main() {
	var cli CLI

	cmd := cobra.Command{
		Use:   "discovery-watcher",
		Short: "Watches one runtime and mirrors its workloads into the KV store",
		Run: func(cmd *cobra.Command, args []string) {
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer close(quit)

			v := viper.New()
			cfg, err := config.New(v)
			if err != nil {
				panic(err)
			}

			logging.Configure(logging.Options{
				Enabled: cfg.Logging.Enabled,
				Level:   cfg.Logging.Level,
				Format:  cfg.Logging.Format,
			})

			registrar := cli.Registrar
			if registrar == "" {
				registrar = cli.Runtime
			}

			adapter, err := newAdapter(cli.Runtime, registrar, cfg)
			if err != nil {
				zlog.Fatal().Caller().Err(err).Send()
			}

			kv, err := kvstore.NewClient(kvstore.Config{
				Endpoints:   []string{fmt.Sprintf("%s:%d", cfg.Etcd.Host, cfg.Etcd.Port)},
				DialTimeout: config.EtcdDialTimeout,
			})
			if err != nil {
				zlog.Fatal().Caller().Err(err).Send()
			}
			defer kv.Close()

			d := watcher.New(adapter, kv, registrar)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			done := make(chan struct{})
			go func() {
				defer close(done)
				if err := d.Run(ctx); err != nil && ctx.Err() == nil {
					zlog.Error().Err(err).Msg("watcher daemon exited")
				}
			}()

			<-quit

			zlog.Info().Msg("shutting down")
			cancel()

			select {
			case <-done:
				zlog.Info().Msg("completed graceful shutdown")
			case <-time.After(30 * time.Second):
				zlog.Error().Msg("exceeded shutdown deadline")
			}
		},
	}

	flagset := cmd.Flags()
	flagset.SortFlags = false
	flagset.StringVarP(&cli.Runtime, "runtime", "r", "docker", "Runtime to watch (docker, containerd, kubernetes)")
	flagset.StringVar(&cli.Registrar, "registrar", "", "Registrar name stamped on every workload this watcher writes")

	if err := cmd.Execute(); err != nil {
		zlog.Fatal().Caller().Err(err).Send()
	}
}

func newAdapter(name, registrar string, cfg *config.Config) (runtime.Adapter, error) {
	switch name {
	case "docker":
		return docker.New(docker.Config{
			Socket:     cfg.Docker.Socket,
			LabelKey:   cfg.Docker.LabelKey,
			LabelValue: cfg.Docker.LabelValue,
			Registrar:  registrar,
		}), nil
	case "containerd":
		return containerd.New(containerd.Config{
			Socket:      cfg.Containerd.Socket,
			Namespace:   cfg.Containerd.Namespace,
			LabelKey:    cfg.Containerd.LabelKey,
			LabelValue:  cfg.Containerd.LabelValue,
			CNIStateDir: cfg.Containerd.CNIStateDir,
			Registrar:   registrar,
		}), nil
	case "kubernetes":
		return kubernetes.New(kubernetes.Config{
			Kubeconfig:    cfg.Kubernetes.Kubeconfig,
			InCluster:     cfg.Kubernetes.InCluster,
			Namespace:     cfg.Kubernetes.Namespace,
			LabelKey:      cfg.Kubernetes.LabelKey,
			LabelValue:    cfg.Kubernetes.LabelValue,
			WatchServices: cfg.Kubernetes.WatchServices,
			Registrar:     registrar,
		}), nil
	default:
		return nil, fmt.Errorf("unknown runtime %q", name)
	}
}
