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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agntcy/discovery/internal/config"
	"github.com/agntcy/discovery/internal/index"
	"github.com/agntcy/discovery/internal/kvstore"
	"github.com/agntcy/discovery/internal/logging"
	"github.com/agntcy/discovery/internal/query"
)

type CLI struct {
	Addr string
}

func main() {
	var cli CLI

	cmd := cobra.Command{
		Use:   "discovery-queryserver",
		Short: "Serves reachability and workload queries over the synced index",
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

			kv, err := kvstore.NewClient(kvstore.Config{
				Endpoints:   []string{fmt.Sprintf("%s:%d", cfg.Etcd.Host, cfg.Etcd.Port)},
				DialTimeout: config.EtcdDialTimeout,
			})
			if err != nil {
				zlog.Fatal().Caller().Err(err).Send()
			}
			defer kv.Close()

			syncer := index.NewSyncer(kv)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			go syncer.Run(ctx)

			surface := query.New(syncer.Current)
			mux := newMux(surface)

			httpServer := &http.Server{Addr: cli.Addr, Handler: mux}

			go func() {
				zlog.Info().Msg("starting discovery-queryserver on " + cli.Addr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					zlog.Fatal().Caller().Err(err).Send()
				}
			}()

			<-quit

			zlog.Info().Msg("shutting down")
			syncer.Stop()
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				zlog.Error().Err(err).Msg("exceeded shutdown deadline, forcing close")
				httpServer.Close()
			} else {
				zlog.Info().Msg("completed graceful shutdown")
			}
		},
	}

	flagset := cmd.Flags()
	flagset.SortFlags = false
	flagset.StringVarP(&cli.Addr, "addr", "a", ":8080", "Host address to bind to")

	if err := cmd.Execute(); err != nil {
		zlog.Fatal().Caller().Err(err).Send()
	}
}
