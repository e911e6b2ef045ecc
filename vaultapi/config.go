/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package vaultapi

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/acronis/go-vaultkit/config"
	"github.com/acronis/go-vaultkit/retry"
)

const cfgDefaultKeyPrefix = "vaultClient"

const (
	// DefaultClientTimeout is a default timeout for a whole request.
	DefaultClientTimeout = 30 * time.Second

	// RetryPolicyExponential is a policy for exponential retries.
	RetryPolicyExponential = "exponential"

	// RetryPolicyConstant is a policy for constant retries.
	RetryPolicyConstant = "constant"
)

const (
	cfgKeyBaseURL                                 = "baseURL"
	cfgKeyAPIKey                                  = "apiKey"
	cfgKeyTLSSkipVerify                           = "tlsSkipVerify"
	cfgKeyTimeout                                 = "timeout"
	cfgKeyRetriesEnabled                          = "retries.enabled"
	cfgKeyRetriesMax                              = "retries.maxAttempts"
	cfgKeyRetriesPolicyStrategy                   = "retries.policy.strategy"
	cfgKeyRetriesPolicyExponentialInitialInterval = "retries.policy.exponentialBackoffInitialInterval"
	cfgKeyRetriesPolicyExponentialMultiplier      = "retries.policy.exponentialBackoffMultiplier"
	cfgKeyRetriesPolicyConstantInterval           = "retries.policy.constantBackoffInterval"
	cfgKeyRateLimitsEnabled                       = "rateLimits.enabled"
	cfgKeyRateLimitsLimit                         = "rateLimits.limit"
	cfgKeyRateLimitsBurst                         = "rateLimits.burst"
	cfgKeyRateLimitsWaitTimeout                   = "rateLimits.waitTimeout"
	cfgKeyLoggerEnabled                           = "logger.enabled"
	cfgKeyLoggerMode                              = "logger.mode"
	cfgKeyLoggerSlowRequestThreshold              = "logger.slowRequestThreshold"
	cfgKeyMetricsEnabled                          = "metrics.enabled"
)

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// RetriesPolicyConfig represents configuration options for the retry backoff policy.
type RetriesPolicyConfig struct {
	// Strategy is a strategy for retry policy: [exponential, constant].
	Strategy string `mapstructure:"strategy" yaml:"strategy" json:"strategy"`

	// ExponentialBackoffInitialInterval is the initial interval for exponential backoff.
	ExponentialBackoffInitialInterval config.TimeDuration `mapstructure:"exponentialBackoffInitialInterval" yaml:"exponentialBackoffInitialInterval" json:"exponentialBackoffInitialInterval"` // nolint: lll

	// ExponentialBackoffMultiplier is the multiplier for exponential backoff.
	ExponentialBackoffMultiplier float64 `mapstructure:"exponentialBackoffMultiplier" yaml:"exponentialBackoffMultiplier" json:"exponentialBackoffMultiplier"` // nolint: lll

	// ConstantBackoffInterval is the interval for constant backoff.
	ConstantBackoffInterval config.TimeDuration `mapstructure:"constantBackoffInterval" yaml:"constantBackoffInterval" json:"constantBackoffInterval"`
}

func (c *RetriesPolicyConfig) set(dp config.DataProvider) error {
	strategy, err := dp.GetString(cfgKeyRetriesPolicyStrategy)
	if err != nil {
		return err
	}
	c.Strategy = strategy

	switch c.Strategy {
	case "":
		return nil
	case RetryPolicyExponential:
		var interval time.Duration
		if interval, err = dp.GetDuration(cfgKeyRetriesPolicyExponentialInitialInterval); err != nil {
			return err
		}
		if interval < 0 {
			return dp.WrapKeyErr(cfgKeyRetriesPolicyExponentialInitialInterval, errors.New("should not be negative"))
		}
		c.ExponentialBackoffInitialInterval = config.TimeDuration(interval)

		var multiplier float64
		if multiplier, err = dp.GetFloat64(cfgKeyRetriesPolicyExponentialMultiplier); err != nil {
			return err
		}
		if multiplier <= 1 {
			return dp.WrapKeyErr(cfgKeyRetriesPolicyExponentialMultiplier, errors.New("should be greater than 1"))
		}
		c.ExponentialBackoffMultiplier = multiplier
		return nil
	case RetryPolicyConstant:
		var interval time.Duration
		if interval, err = dp.GetDuration(cfgKeyRetriesPolicyConstantInterval); err != nil {
			return err
		}
		if interval < 0 {
			return dp.WrapKeyErr(cfgKeyRetriesPolicyConstantInterval, errors.New("should not be negative"))
		}
		c.ConstantBackoffInterval = config.TimeDuration(interval)
		return nil
	default:
		return dp.WrapKeyErr(cfgKeyRetriesPolicyStrategy, errors.New("should be one of: [exponential, constant]"))
	}
}

// RetriesConfig represents configuration options for vault client retries.
type RetriesConfig struct {
	// Enabled is a flag that enables retries.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// MaxAttempts is the maximum number of retry attempts.
	MaxAttempts int `mapstructure:"maxAttempts" yaml:"maxAttempts" json:"maxAttempts"`

	// Policy of a retry: [exponential, constant]. Default is exponential.
	Policy RetriesPolicyConfig `mapstructure:"policy" yaml:"policy" json:"policy"`
}

// GetPolicy returns a retry policy based on the configured strategy
// or nil if none is provided.
func (c *RetriesConfig) GetPolicy() retry.Policy {
	switch c.Policy.Strategy {
	case RetryPolicyExponential:
		return retry.PolicyFunc(func() backoff.BackOff {
			bf := backoff.NewExponentialBackOff()
			bf.InitialInterval = time.Duration(c.Policy.ExponentialBackoffInitialInterval)
			bf.Multiplier = c.Policy.ExponentialBackoffMultiplier
			bf.Reset()
			return bf
		})
	case RetryPolicyConstant:
		return retry.PolicyFunc(func() backoff.BackOff {
			bf := backoff.NewConstantBackOff(time.Duration(c.Policy.ConstantBackoffInterval))
			bf.Reset()
			return bf
		})
	}
	return nil
}

func (c *RetriesConfig) set(dp config.DataProvider) error {
	enabled, err := dp.GetBool(cfgKeyRetriesEnabled)
	if err != nil {
		return err
	}
	c.Enabled = enabled
	if !c.Enabled {
		return nil
	}

	maxAttempts, err := dp.GetInt(cfgKeyRetriesMax)
	if err != nil {
		return err
	}
	if maxAttempts < 0 {
		return dp.WrapKeyErr(cfgKeyRetriesMax, errors.New("should not be negative"))
	}
	c.MaxAttempts = maxAttempts

	return c.Policy.set(dp)
}

// RateLimitsConfig represents configuration options for client-side rate limiting.
type RateLimitsConfig struct {
	// Enabled is a flag that enables rate limiting.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Limit is the maximum number of requests per second.
	Limit int `mapstructure:"limit" yaml:"limit" json:"limit"`

	// Burst allows temporary spikes in request rate.
	Burst int `mapstructure:"burst" yaml:"burst" json:"burst"`

	// WaitTimeout is the maximum time to wait for the limiter's permission.
	WaitTimeout config.TimeDuration `mapstructure:"waitTimeout" yaml:"waitTimeout" json:"waitTimeout"`
}

func (c *RateLimitsConfig) set(dp config.DataProvider) error {
	enabled, err := dp.GetBool(cfgKeyRateLimitsEnabled)
	if err != nil {
		return err
	}
	c.Enabled = enabled
	if !c.Enabled {
		return nil
	}

	limit, err := dp.GetInt(cfgKeyRateLimitsLimit)
	if err != nil {
		return err
	}
	if limit <= 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitsLimit, errors.New("should be positive"))
	}
	c.Limit = limit

	burst, err := dp.GetInt(cfgKeyRateLimitsBurst)
	if err != nil {
		return err
	}
	if burst < 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitsBurst, errors.New("should not be negative"))
	}
	c.Burst = burst

	waitTimeout, err := dp.GetDuration(cfgKeyRateLimitsWaitTimeout)
	if err != nil {
		return err
	}
	if waitTimeout < 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitsWaitTimeout, errors.New("should not be negative"))
	}
	c.WaitTimeout = config.TimeDuration(waitTimeout)

	return nil
}

// LoggerConfig represents configuration options for vault client request logging.
type LoggerConfig struct {
	// Enabled is a flag that enables logging.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Mode of logging: none, all, failed.
	Mode LoggingMode `mapstructure:"mode" yaml:"mode" json:"mode"`

	// SlowRequestThreshold is a threshold for slow requests.
	SlowRequestThreshold time.Duration `mapstructure:"slowRequestThreshold" yaml:"slowRequestThreshold" json:"slowRequestThreshold"` // nolint: lll
}

func (c *LoggerConfig) set(dp config.DataProvider) error {
	enabled, err := dp.GetBool(cfgKeyLoggerEnabled)
	if err != nil {
		return err
	}
	c.Enabled = enabled
	if !c.Enabled {
		return nil
	}

	mode, err := dp.GetString(cfgKeyLoggerMode)
	if err != nil {
		return err
	}
	if !LoggingMode(mode).IsValid() {
		return dp.WrapKeyErr(cfgKeyLoggerMode, errors.New("should be one of: [none, all, failed]"))
	}
	c.Mode = LoggingMode(mode)

	slowRequestThreshold, err := dp.GetDuration(cfgKeyLoggerSlowRequestThreshold)
	if err != nil {
		return err
	}
	if slowRequestThreshold < 0 {
		return dp.WrapKeyErr(cfgKeyLoggerSlowRequestThreshold, errors.New("should not be negative"))
	}
	c.SlowRequestThreshold = slowRequestThreshold

	return nil
}

// MetricsConfig represents configuration options for vault client metrics.
type MetricsConfig struct {
	// Enabled is a flag that enables metrics.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

func (c *MetricsConfig) set(dp config.DataProvider) error {
	enabled, err := dp.GetBool(cfgKeyMetricsEnabled)
	if err != nil {
		return err
	}
	c.Enabled = enabled
	return nil
}

// Config represents a set of configuration parameters for the vault client.
type Config struct {
	// BaseURL is the address the Local REST API plugin listens on.
	BaseURL string `mapstructure:"baseURL" yaml:"baseURL" json:"baseURL"`

	// APIKey is the Bearer token of the Local REST API plugin.
	APIKey string `mapstructure:"apiKey" yaml:"apiKey" json:"apiKey"`

	// TLSSkipVerify disables verification of the plugin's self-signed certificate.
	TLSSkipVerify bool `mapstructure:"tlsSkipVerify" yaml:"tlsSkipVerify" json:"tlsSkipVerify"`

	// Timeout is the maximum time for a whole request, retries included.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`

	// Retries is a configuration for request retries.
	Retries RetriesConfig `mapstructure:"retries" yaml:"retries" json:"retries"`

	// RateLimits is a configuration for client-side rate limiting.
	RateLimits RateLimitsConfig `mapstructure:"rateLimits" yaml:"rateLimits" json:"rateLimits"`

	// Logger is a configuration for request logging.
	Logger LoggerConfig `mapstructure:"logger" yaml:"logger" json:"logger"`

	// Metrics is a configuration for request metrics.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics" json:"metrics"`

	keyPrefix string
}

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
		keyPrefix: opts.keyPrefix,
		BaseURL:   DefaultBaseURL,
		Timeout:   DefaultClientTimeout,
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

// SetProviderDefaults sets default configuration values for the vault client in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyBaseURL, DefaultBaseURL)
	dp.SetDefault(cfgKeyTimeout, DefaultClientTimeout.String())
}

// Set sets vault client configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.BaseURL, err = dp.GetString(cfgKeyBaseURL); err != nil {
		return err
	}

	if c.APIKey, err = dp.GetString(cfgKeyAPIKey); err != nil {
		return err
	}
	if c.APIKey == "" {
		return dp.WrapKeyErr(cfgKeyAPIKey, errors.New("cannot be empty"))
	}

	if c.TLSSkipVerify, err = dp.GetBool(cfgKeyTLSSkipVerify); err != nil {
		return err
	}

	if c.Timeout, err = dp.GetDuration(cfgKeyTimeout); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return dp.WrapKeyErr(cfgKeyTimeout, errors.New("should not be negative"))
	}

	if err = c.Retries.set(dp); err != nil {
		return err
	}
	if err = c.RateLimits.set(dp); err != nil {
		return err
	}
	if err = c.Logger.set(dp); err != nil {
		return err
	}
	return c.Metrics.set(dp)
}
