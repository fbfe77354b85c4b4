// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package godap

import (
	"io/ioutil"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v2"
)

// ProgressCallback receives the fraction of a flash image written so far.
type ProgressCallback func(progress float64)

type TransferConfig struct {
	IdleCycles uint8  `yaml:"idle_cycles"`
	WaitRetry  uint16 `yaml:"wait_retry"`
	MatchRetry uint16 `yaml:"match_retry"`
}

// Config collects the tunables of a probe session. The zero value is not
// usable, start from DefaultConfig.
type Config struct {
	ClockFrequency uint32         `yaml:"clock_frequency"`
	Mode           ConnectMode    `yaml:"mode"`
	Transfer       TransferConfig `yaml:"transfer"`
	// software retries on a WAIT acknowledge, 0 surfaces WAIT to the caller
	WaitRetries    int           `yaml:"wait_retries"`
	PowerUpTimeout time.Duration `yaml:"power_up_timeout"`
	ExecuteTimeout time.Duration `yaml:"execute_timeout"`
	BaudRate       uint32        `yaml:"baud_rate"`

	Progress ProgressCallback `yaml:"-"`
}

const (
	DefaultClockFrequency = 10000000
	DefaultBaudRate       = 9600

	defaultWaitRetry      = 100
	defaultPowerUpTimeout = 2 * time.Second
	defaultExecuteTimeout = 10 * time.Second
)

func DefaultConfig() Config {
	return Config{
		ClockFrequency: DefaultClockFrequency,
		Mode:           ConnectModeDefault,
		Transfer: TransferConfig{
			IdleCycles: 0,
			WaitRetry:  defaultWaitRetry,
			MatchRetry: 0,
		},
		PowerUpTimeout: defaultPowerUpTimeout,
		ExecuteTimeout: defaultExecuteTimeout,
		BaudRate:       DefaultBaudRate,
	}
}

type Option func(*Config)

func WithClockFrequency(hz uint32) Option {
	return func(c *Config) {
		c.ClockFrequency = hz
	}
}

func WithMode(mode ConnectMode) Option {
	return func(c *Config) {
		c.Mode = mode
	}
}

func WithTransferConfig(idleCycles uint8, waitRetry uint16, matchRetry uint16) Option {
	return func(c *Config) {
		c.Transfer = TransferConfig{IdleCycles: idleCycles, WaitRetry: waitRetry, MatchRetry: matchRetry}
	}
}

func WithWaitRetries(retries int) Option {
	return func(c *Config) {
		c.WaitRetries = retries
	}
}

func WithPowerUpTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.PowerUpTimeout = timeout
	}
}

func WithExecuteTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.ExecuteTimeout = timeout
	}
}

func WithBaudRate(rate uint32) Option {
	return func(c *Config) {
		c.BaudRate = rate
	}
}

func WithProgressCallback(cb ProgressCallback) Option {
	return func(c *Config) {
		c.Progress = cb
	}
}

// WithConfig replaces all settings with cfg, later options still apply on top.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

func newConfig(opts []Option) Config {
	cfg := DefaultConfig()

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

// LoadConfig reads a YAML probe profile. Keys missing from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, errors.Annotatef(err, "read config %s", path)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Annotatef(err, "parse config %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, errors.Annotatef(err, "config %s", path)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.ClockFrequency == 0 {
		return errors.NotValidf("clock frequency 0")
	}

	if c.Mode > ConnectModeJtag {
		return errors.NotValidf("connect mode %d", uint8(c.Mode))
	}

	if c.WaitRetries < 0 {
		return errors.NotValidf("negative wait retries")
	}

	if c.PowerUpTimeout < 0 || c.ExecuteTimeout < 0 {
		return errors.NotValidf("negative timeout")
	}

	return nil
}
