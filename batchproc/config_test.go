/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package batchproc

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-vaultkit/config"
)

func TestConfig(t *testing.T) {
	t.Run("load from yaml", func(t *testing.T) {
		cfgData := bytes.NewBufferString(`
batchProcessor:
  maxConcurrency: 8
  batchSize: 25
  retryAttempts: 5
  retryDelay: 250ms
`)
		cfg := NewConfig()
		err := config.NewDefaultLoader("").LoadFromReader(cfgData, config.DataTypeYAML, cfg)
		require.NoError(t, err)
		require.Equal(t, 8, cfg.MaxConcurrency)
		require.Equal(t, 25, cfg.BatchSize)
		require.Equal(t, 5, cfg.RetryAttempts)
		require.Equal(t, config.TimeDuration(250*time.Millisecond), cfg.RetryDelay)
	})

	t.Run("defaults are used for missing keys", func(t *testing.T) {
		cfgData := bytes.NewBufferString(`
batchProcessor:
  maxConcurrency: 2
`)
		cfg := NewConfig()
		err := config.NewDefaultLoader("").LoadFromReader(cfgData, config.DataTypeYAML, cfg)
		require.NoError(t, err)
		require.Equal(t, 2, cfg.MaxConcurrency)
		require.Equal(t, DefaultBatchSize, cfg.BatchSize)
		require.Equal(t, DefaultRetryAttempts, cfg.RetryAttempts)
		require.Equal(t, config.TimeDuration(DefaultRetryDelay), cfg.RetryDelay)
	})

	t.Run("custom key prefix", func(t *testing.T) {
		cfgData := bytes.NewBufferString(`
indexer:
  batchProcessor:
    maxConcurrency: 4
`)
		cfg := NewConfig(WithKeyPrefix("indexer.batchProcessor"))
		err := config.NewDefaultLoader("").LoadFromReader(cfgData, config.DataTypeYAML, cfg)
		require.NoError(t, err)
		require.Equal(t, 4, cfg.MaxConcurrency)
	})

	t.Run("validation errors", func(t *testing.T) {
		tests := []struct {
			name    string
			yaml    string
			errPart string
		}{
			{
				name:    "non-positive maxConcurrency",
				yaml:    "batchProcessor:\n  maxConcurrency: 0\n",
				errPart: "maxConcurrency",
			},
			{
				name:    "non-positive batchSize",
				yaml:    "batchProcessor:\n  batchSize: -1\n",
				errPart: "batchSize",
			},
			{
				name:    "retryAttempts too small",
				yaml:    "batchProcessor:\n  retryAttempts: -5\n",
				errPart: "retryAttempts",
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				cfg := NewConfig()
				err := config.NewDefaultLoader("").LoadFromReader(
					bytes.NewBufferString(tt.yaml), config.DataTypeYAML, cfg)
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.errPart)
			})
		}
	})

	t.Run("options conversion", func(t *testing.T) {
		cfg := NewDefaultConfig()
		opts := cfg.Options()
		require.Equal(t, DefaultMaxConcurrency, opts.MaxConcurrency)
		require.Equal(t, DefaultBatchSize, opts.BatchSize)
		require.Equal(t, DefaultRetryAttempts, opts.RetryAttempts)
		require.Equal(t, DefaultRetryDelay, opts.RetryDelay)
	})
}
