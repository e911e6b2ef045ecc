/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package batchproc

import (
	"fmt"
	"time"

	"github.com/acronis/go-vaultkit/config"
)

const cfgDefaultKeyPrefix = "batchProcessor"

const (
	cfgKeyMaxConcurrency = "maxConcurrency"
	cfgKeyBatchSize      = "batchSize"
	cfgKeyRetryAttempts  = "retryAttempts"
	cfgKeyRetryDelay     = "retryDelay"
)

// Config represents a set of configuration parameters for batch processing.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// MaxConcurrency bounds how many worker invocations may run simultaneously.
	MaxConcurrency int `mapstructure:"maxConcurrency" yaml:"maxConcurrency" json:"maxConcurrency"`

	// BatchSize is the chunk size used by ProcessBatches.
	BatchSize int `mapstructure:"batchSize" yaml:"batchSize" json:"batchSize"`

	// RetryAttempts is the number of additional attempts after the first failed one.
	RetryAttempts int `mapstructure:"retryAttempts" yaml:"retryAttempts" json:"retryAttempts"`

	// RetryDelay is the pause between attempts.
	RetryDelay config.TimeDuration `mapstructure:"retryDelay" yaml:"retryDelay" json:"retryDelay"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{
		keyPrefix:      opts.keyPrefix,
		MaxConcurrency: DefaultMaxConcurrency,
		BatchSize:      DefaultBatchSize,
		RetryAttempts:  DefaultRetryAttempts,
		RetryDelay:     config.TimeDuration(DefaultRetryDelay),
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for batch processing in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyMaxConcurrency, DefaultMaxConcurrency)
	dp.SetDefault(cfgKeyBatchSize, DefaultBatchSize)
	dp.SetDefault(cfgKeyRetryAttempts, DefaultRetryAttempts)
	dp.SetDefault(cfgKeyRetryDelay, DefaultRetryDelay.String())
}

// Set sets batch processing configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.MaxConcurrency, err = dp.GetInt(cfgKeyMaxConcurrency); err != nil {
		return err
	}
	if c.MaxConcurrency <= 0 {
		return dp.WrapKeyErr(cfgKeyMaxConcurrency, fmt.Errorf("should be positive"))
	}

	if c.BatchSize, err = dp.GetInt(cfgKeyBatchSize); err != nil {
		return err
	}
	if c.BatchSize <= 0 {
		return dp.WrapKeyErr(cfgKeyBatchSize, fmt.Errorf("should be positive"))
	}

	if c.RetryAttempts, err = dp.GetInt(cfgKeyRetryAttempts); err != nil {
		return err
	}
	if c.RetryAttempts < NoRetries {
		return dp.WrapKeyErr(cfgKeyRetryAttempts, fmt.Errorf("should be >= %d", NoRetries))
	}

	var retryDelay time.Duration
	if retryDelay, err = dp.GetDuration(cfgKeyRetryDelay); err != nil {
		return err
	}
	if retryDelay < 0 {
		return dp.WrapKeyErr(cfgKeyRetryDelay, fmt.Errorf("should not be negative"))
	}
	c.RetryDelay = config.TimeDuration(retryDelay)

	return nil
}

// Options builds processing Options from the configuration.
func (c *Config) Options() Options {
	return Options{
		MaxConcurrency: c.MaxConcurrency,
		BatchSize:      c.BatchSize,
		RetryAttempts:  c.RetryAttempts,
		RetryDelay:     time.Duration(c.RetryDelay),
	}
}
