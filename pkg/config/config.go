// Copyright 2026 PingCAP, Inc.
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
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
	"github.com/pingcap/schemadict/pkg/util/logutil"
	"go.uber.org/atomic"
)

// Config contains configuration options.
type Config struct {
	DataDir string `toml:"data-dir" json:"data-dir"`
	NodeID  uint32 `toml:"node-id" json:"node-id"`
	// MaxObjects is the size of the object id space.
	MaxObjects uint32 `toml:"max-objects" json:"max-objects"`
	// StringBufferSize bounds the total length of object names.
	StringBufferSize int `toml:"string-buffer-size" json:"string-buffer-size"`

	Log        Log        `toml:"log" json:"log"`
	LockQueue  LockQueue  `toml:"lock-queue" json:"lock-queue"`
	SingleUser SingleUser `toml:"single-user" json:"single-user"`
	Status     Status     `toml:"status" json:"status"`
}

// Log is the log section of config.
type Log struct {
	// Log level.
	Level string `toml:"level" json:"level"`
	// Log format. one of json or text.
	Format string `toml:"format" json:"format"`
	// Disable automatic timestamps in output.
	DisableTimestamp bool `toml:"disable-timestamp" json:"disable-timestamp"`
	// File log config.
	File logutil.FileLogConfig `toml:"file" json:"file"`
}

// LockQueue is the dict lock queue section of config.
type LockQueue struct {
	// PollInterval is how often a pending lock request is re-checked.
	PollInterval string `toml:"poll-interval" json:"poll-interval"`
}

// SingleUser is the single user mode section of config.
type SingleUser struct {
	Enabled bool `toml:"enabled" json:"enabled"`
	// APINode is the only node allowed to run DDL while single user mode is on.
	APINode uint32 `toml:"api-node" json:"api-node"`
}

// Status is the status section of the config.
type Status struct {
	MetricsAddr string `toml:"metrics-addr" json:"metrics-addr"`
}

var defaultConf = Config{
	DataDir:          "/tmp/schemadict",
	NodeID:           1,
	MaxObjects:       20320,
	StringBufferSize: 1 << 20,
	Log: Log{
		Level:  "info",
		Format: logutil.DefaultLogFormat,
		File:   logutil.NewFileLogConfig(logutil.DefaultLogMaxSize),
	},
	LockQueue: LockQueue{
		PollInterval: "100ms",
	},
}

var globalConf atomic.Pointer[Config]

func init() {
	StoreGlobalConfig(NewConfig())
}

// NewConfig creates a new config instance with default value.
func NewConfig() *Config {
	conf := defaultConf
	return &conf
}

// GetGlobalConfig returns the global configuration for this process.
// It should store configuration from command line and configuration file.
// Other parts of the system can read the global configuration use this function.
func GetGlobalConfig() *Config {
	return globalConf.Load()
}

// StoreGlobalConfig stores a new config to the globalConf. It mostly uses in the test to avoid some data races.
func StoreGlobalConfig(config *Config) {
	globalConf.Store(config)
}

// Load loads config options from a toml file.
func (c *Config) Load(confFile string) error {
	metaData, err := toml.DecodeFile(confFile, c)
	if err != nil {
		return errors.Trace(err)
	}
	if undecoded := metaData.Undecoded(); len(undecoded) > 0 {
		var keys []string
		for _, item := range undecoded {
			keys = append(keys, item.String())
		}
		return errors.Errorf("config file %s contained invalid configuration options: %s",
			confFile, strings.Join(keys, ", "))
	}
	return nil
}

// Valid checks if this config is valid.
func (c *Config) Valid() error {
	if c.DataDir == "" {
		return errors.New("data-dir should not be empty")
	}
	if c.NodeID == 0 || c.NodeID > 64 {
		return fmt.Errorf("node-id should be in [1, 64], got %d", c.NodeID)
	}
	if c.MaxObjects == 0 {
		return errors.New("max-objects should be greater than 0")
	}
	if c.StringBufferSize <= 0 {
		return errors.New("string-buffer-size should be greater than 0")
	}
	if _, err := time.ParseDuration(c.LockQueue.PollInterval); err != nil {
		return errors.Annotatef(err, "invalid lock-queue.poll-interval %q", c.LockQueue.PollInterval)
	}
	if c.SingleUser.Enabled && (c.SingleUser.APINode == 0 || c.SingleUser.APINode > 64) {
		return fmt.Errorf("single-user.api-node should be in [1, 64], got %d", c.SingleUser.APINode)
	}
	return nil
}

// GetPollInterval returns the lock queue poll interval. It falls back to the default
// when the configured value does not parse.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.LockQueue.PollInterval)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(defaultConf.LockQueue.PollInterval)
	}
	return d
}

// ToLogConfig converts *Log to *logutil.LogConfig.
func (l *Log) ToLogConfig() *logutil.LogConfig {
	return logutil.NewLogConfig(l.Level, l.Format, l.File, l.DisableTimestamp)
}
