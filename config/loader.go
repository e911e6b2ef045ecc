/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"io"
)

// DefaultEnvVarsPrefix is the environment variables prefix used by NewEnvLoader.
// With it, the "vaultClient.timeout" key is overridable via VAULTKIT_VAULTCLIENT_TIMEOUT.
const DefaultEnvVarsPrefix = "vaultkit"

// Loader reads configuration data into Config objects.
// Each object's defaults are applied before the parsed values are set,
// and objects implementing KeyPrefixProvider see only their own subtree.
type Loader struct {
	DataProvider DataProvider
}

// NewLoader creates a configuration loader on top of the given data provider.
func NewLoader(dp DataProvider) *Loader {
	return &Loader{dp}
}

// NewDefaultLoader creates a viper-backed loader whose values may be
// overridden by environment variables with the given prefix.
func NewDefaultLoader(envVarsPrefix string) *Loader {
	va := NewViperAdapter()
	va.UseEnvVars(envVarsPrefix)
	return NewLoader(va)
}

// NewEnvLoader creates a viper-backed loader using DefaultEnvVarsPrefix
// for environment variable overrides.
func NewEnvLoader() *Loader {
	return NewDefaultLoader(DefaultEnvVarsPrefix)
}

// LoadFromFile reads configuration data from a file and sets it in the given configuration objects.
func (l *Loader) LoadFromFile(path string, dataType DataType, cfg Config, cfgs ...Config) error {
	if err := l.DataProvider.SetFromFile(path, dataType); err != nil {
		return err
	}
	return l.load(append([]Config{cfg}, cfgs...))
}

// LoadFromReader reads configuration data from a reader and sets it in the given configuration objects.
func (l *Loader) LoadFromReader(reader io.Reader, dataType DataType, cfg Config, cfgs ...Config) error {
	if err := l.DataProvider.SetFromReader(reader, dataType); err != nil {
		return err
	}
	return l.load(append([]Config{cfg}, cfgs...))
}

func (l *Loader) load(cfgs []Config) error {
	// Defaults for all objects are applied before any Set call so that
	// one object's Set may read keys another object defaulted.
	dps := make([]DataProvider, len(cfgs))
	for i, cfg := range cfgs {
		dps[i] = l.DataProvider
		if kp, ok := cfg.(KeyPrefixProvider); ok && kp.KeyPrefix() != "" {
			dps[i] = NewKeyPrefixedDataProvider(l.DataProvider, kp.KeyPrefix())
		}
		cfg.SetProviderDefaults(dps[i])
	}
	for i, cfg := range cfgs {
		if err := cfg.Set(dps[i]); err != nil {
			return err
		}
	}
	return nil
}
