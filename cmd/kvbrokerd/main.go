// Copyright © 2024 OpenIM. All rights reserved.
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

// Command kvbrokerd is a demo host process for the facade: it loads a
// config file, wires the configured backend.Driver into a facade.Facade,
// and serves until interrupted, flushing and closing cleanly on exit.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/pebble"
	"github.com/openimsdk/tools/log"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/automaxprocs/maxprocs"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kvmesh/cbl/pkg/backend"
	"github.com/kvmesh/cbl/pkg/backend/memdriver"
	"github.com/kvmesh/cbl/pkg/backend/mongodriver"
	"github.com/kvmesh/cbl/pkg/backend/pebbledriver"
	"github.com/kvmesh/cbl/pkg/backend/redisdriver"
	"github.com/kvmesh/cbl/pkg/backend/sqldriver"
	"github.com/kvmesh/cbl/pkg/cbl"
	"github.com/kvmesh/cbl/pkg/config"
	"github.com/kvmesh/cbl/pkg/facade"
)

func main() {
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		log.ZDebug(context.Background(), fmt.Sprintf(format, args...))
	})); err != nil {
		log.ZWarn(context.Background(), "kvbrokerd: maxprocs.Set failed", err)
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "kvbrokerd",
		Short: "kvbrokerd serves the cache-and-buffer layer over a configured backend",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a kvbrokerd config file; omit to use built-in defaults")

	root.AddCommand(newServeCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run kvbrokerd until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		if err := config.LoadConfig(configPath, "KVBROKERD", cfg); err != nil {
			return err
		}
	}

	driver, err := buildDriver(ctx, cfg)
	if err != nil {
		return err
	}

	f := facade.New(driver, cblOptions(cfg)...)
	if err := f.Init(ctx); err != nil {
		return fmt.Errorf("kvbrokerd: init: %w", err)
	}

	log.ZInfo(ctx, "kvbrokerd: serving", "backend", cfg.Backend)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	log.ZInfo(ctx, "kvbrokerd: shutting down")
	return f.Close(context.Background())
}

func cblOptions(cfg *config.Config) []cbl.Option {
	opts := []cbl.Option{
		cbl.WithCacheSize(cfg.Cache.Size),
		cbl.WithWriteInterval(cfg.Cache.WriteInterval),
		cbl.WithJSON(cfg.Cache.JSON),
	}
	if cfg.Cache.MinGapPercent > 0 {
		opts = append(opts, cbl.WithCacheMinGap(cfg.Cache.Size*cfg.Cache.MinGapPercent/100))
	}
	return opts
}

// buildDriver constructs the backend.Driver named by cfg.Backend. Each
// branch owns the connection setup for its driver package; the driver
// packages themselves stay storage-engine-client-agnostic (they accept an
// already-constructed client/handle), matching how redisdriver, mongodriver,
// and sqldriver are built in this module.
func buildDriver(ctx context.Context, cfg *config.Config) (backend.Driver, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return memdriver.New(), nil

	case config.BackendRedis:
		var client redis.UniversalClient
		if cfg.Redis.ClusterMode {
			client = redis.NewClusterClient(&redis.ClusterOptions{
				Addrs:    cfg.Redis.Address,
				Username: cfg.Redis.Username,
				Password: cfg.Redis.Password,
			})
		} else {
			addr := "127.0.0.1:6379"
			if len(cfg.Redis.Address) > 0 {
				addr = cfg.Redis.Address[0]
			}
			client = redis.NewClient(&redis.Options{
				Addr:     addr,
				Username: cfg.Redis.Username,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
		}
		var opts []redisdriver.Option
		if cfg.Redis.BatchSize > 0 {
			opts = append(opts, redisdriver.WithBatchSize(cfg.Redis.BatchSize))
		}
		if cfg.Redis.ConcurrentLimit > 0 {
			opts = append(opts, redisdriver.WithConcurrentLimit(cfg.Redis.ConcurrentLimit))
		}
		return redisdriver.New(client, opts...), nil

	case config.BackendMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, fmt.Errorf("kvbrokerd: mongo connect: %w", err)
		}
		coll := client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection)
		return mongodriver.New(coll), nil

	case config.BackendSQL:
		// Only the sqlite dialect is wired here; a mysql or postgres
		// deployment needs its gorm dialect driver added alongside
		// cfg.SQL.Dialect's other values.
		db, err := gorm.Open(sqlite.Open(cfg.SQL.DSN), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("kvbrokerd: sql open: %w", err)
		}
		return sqldriver.New(db), nil

	case config.BackendPebble:
		db, err := pebble.Open(cfg.Pebble.Path, &pebble.Options{})
		if err != nil {
			return nil, fmt.Errorf("kvbrokerd: pebble open: %w", err)
		}
		return pebbledriver.New(db), nil

	default:
		return nil, fmt.Errorf("kvbrokerd: unknown backend kind %q", cfg.Backend)
	}
}
