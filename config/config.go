/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package config provides loading of configuration parameters for vaultkit components
// from YAML/JSON files and environment variables.
package config

// Config is a common interface for configuration objects that may be used by Loader.
type Config interface {
	SetProviderDefaults(dp DataProvider)
	Set(dp DataProvider) error
}

// KeyPrefixProvider is an interface for providing key prefix that will be used for configuration parameters.
type KeyPrefixProvider interface {
	KeyPrefix() string
}
