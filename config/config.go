// Package config loads the deployer configuration from YAML.
package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/steps"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

var validatorUtil = validator.New()

const (
	DefaultDatabaseDSN         = "mtadeploy.sqlite3"
	DefaultPollingInterval     = 5 * time.Second
	DefaultPollingParallelism  = 4
	DefaultControllerTimeout   = 30 * time.Second
	DefaultControllerRetries   = 3
	DefaultLockTimeout         = 10 * time.Minute
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Controller ControllerConfig `yaml:"controller"`
	Polling    PollingConfig    `yaml:"polling"`
	Timeouts   steps.Timeouts   `yaml:"timeouts"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	// FailMaxCount retriable failures of a step before the process fails,
	// 0 retries until timeouts.default_step (or the stepTimeout variable) has passed since the first failure
	FailMaxCount int64 `yaml:"fail_max_count" validate:"gte=0"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn" validate:"required"`
}

// RedisConfig an empty Addr keeps process instance locks in memory
type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

type ControllerConfig struct {
	URL               string        `yaml:"url" validate:"omitempty,url"`
	LogCacheURL       string        `yaml:"log_cache_url" validate:"omitempty,url"`
	Token             string        `yaml:"token"`
	SpaceGUID         string        `yaml:"space_guid"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	RetryCount        int           `yaml:"retry_count" validate:"gte=0,lte=10"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
}

func (c ControllerConfig) RestClientConfig() cloudcontroller.RestClientConfig {
	return cloudcontroller.RestClientConfig{
		URL:               c.URL,
		LogCacheURL:       c.LogCacheURL,
		Token:             c.Token,
		SpaceGUID:         c.SpaceGUID,
		Timeout:           c.Timeout,
		RetryCount:        c.RetryCount,
		RequestsPerSecond: c.RequestsPerSecond,
	}
}

// PollingConfig how the scheduler re-invokes running process instances
type PollingConfig struct {
	Interval    time.Duration `yaml:"interval" validate:"gt=0"`
	Parallelism int           `yaml:"parallelism" validate:"gte=1,lte=64"`
	LockTimeout time.Duration `yaml:"lock_timeout" validate:"gt=0"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// Default the configuration used when no file is given
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Database.DSN == "" {
		c.Database.DSN = DefaultDatabaseDSN
	}
	if c.Controller.Timeout == 0 {
		c.Controller.Timeout = DefaultControllerTimeout
	}
	if c.Controller.RetryCount == 0 {
		c.Controller.RetryCount = DefaultControllerRetries
	}
	if c.Polling.Interval == 0 {
		c.Polling.Interval = DefaultPollingInterval
	}
	if c.Polling.Parallelism == 0 {
		c.Polling.Parallelism = DefaultPollingParallelism
	}
	if c.Polling.LockTimeout == 0 {
		c.Polling.LockTimeout = DefaultLockTimeout
	}
	defaults := steps.DefaultTimeouts()
	if c.Timeouts.Step == 0 {
		c.Timeouts.Step = defaults.Step
	}
	if c.Timeouts.Upload == 0 {
		c.Timeouts.Upload = defaults.Upload
	}
	if c.Timeouts.Stage == 0 {
		c.Timeouts.Stage = defaults.Stage
	}
	if c.Timeouts.Start == 0 {
		c.Timeouts.Start = defaults.Start
	}
	if c.Timeouts.TaskExecution == 0 {
		c.Timeouts.TaskExecution = defaults.TaskExecution
	}
}

func (c *Config) Validate() error {
	if err := validatorUtil.Struct(c); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "%v", err)
	}
	return nil
}

// Parse decodes YAML, unknown keys are rejected
func Parse(data []byte) (*Config, error) {
	return Load(bytes.NewReader(data))
}

func Load(r io.Reader) (*Config, error) {
	c := &Config{}
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(ErrInvalidConfig, "decode failed: %v", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile reads path, an empty path gives Default
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "open config %s", path)
	}
	defer f.Close()
	c, err := Load(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "load config %s", path)
	}
	return c, nil
}
