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

// Package config defines kvbrokerd's configuration structure and its
// Viper-backed loader, adapted from pkg/common/config/load_config.go:
// same LoadConfig shape (file + env-prefix + mapstructure target), a
// module-specific Config in place of OpenIM's service configs.
package config

import (
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/openimsdk/tools/errs"
	"github.com/spf13/viper"
)

// BackendKind selects which backend.Driver kvbrokerd wires up.
type BackendKind string

const (
	BackendMemory BackendKind = "memory"
	BackendRedis  BackendKind = "redis"
	BackendMongo  BackendKind = "mongo"
	BackendSQL    BackendKind = "sql"
	BackendPebble BackendKind = "pebble"
)

// CacheConfig mirrors the teacher's CacheConfig shape (topic/slot/timeout
// knobs), repurposed for the cache-and-buffer layer's own tunables.
type CacheConfig struct {
	Size          int           `mapstructure:"size"`
	WriteInterval time.Duration `mapstructure:"writeInterval"`
	MinGapPercent int           `mapstructure:"minGapPercent"`
	JSON          bool          `mapstructure:"json"`
}

// RedisConfig is the connection shape for BackendRedis.
type RedisConfig struct {
	Address         []string `mapstructure:"address"`
	Username        string   `mapstructure:"username"`
	Password        string   `mapstructure:"password"`
	ClusterMode     bool     `mapstructure:"clusterMode"`
	DB              int      `mapstructure:"db"`
	BatchSize       int      `mapstructure:"batchSize"`
	ConcurrentLimit int      `mapstructure:"concurrentLimit"`
}

// MongoConfig is the connection shape for BackendMongo.
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// SQLConfig is the connection shape for BackendSQL.
type SQLConfig struct {
	DSN     string `mapstructure:"dsn"`
	Dialect string `mapstructure:"dialect"` // "mysql", "postgres", "sqlite"
}

// PebbleConfig is the connection shape for BackendPebble.
type PebbleConfig struct {
	Path string `mapstructure:"path"`
}

// Config is kvbrokerd's top-level configuration.
type Config struct {
	Backend BackendKind  `mapstructure:"backend"`
	Cache   CacheConfig  `mapstructure:"cache"`
	Redis   RedisConfig  `mapstructure:"redis"`
	Mongo   MongoConfig  `mapstructure:"mongo"`
	SQL     SQLConfig    `mapstructure:"sql"`
	Pebble  PebbleConfig `mapstructure:"pebble"`
}

// Default returns a Config usable out of the box against the in-memory
// backend, for demos and tests.
func Default() *Config {
	return &Config{
		Backend: BackendMemory,
		Cache: CacheConfig{
			Size:          1000,
			WriteInterval: 100 * time.Millisecond,
			MinGapPercent: 10,
		},
	}
}

// LoadConfig reads path (YAML/JSON/TOML, detected by extension) into cfg
// via Viper, then applies any environment variable that starts with
// envPrefix and names a field by its mapstructure path with dots replaced
// by underscores (e.g. envPrefix "KVBROKERD" overrides "cache.size" via
// KVBROKERD_CACHE_SIZE).
func LoadConfig(path string, envPrefix string, cfg any) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return errs.WrapMsg(err, "config: failed to read config file", "path", path, "envPrefix", envPrefix)
	}
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
	}); err != nil {
		return errs.WrapMsg(err, "config: failed to unmarshal config", "path", path, "envPrefix", envPrefix)
	}
	return nil
}
