package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlConfig = `
chain_id: 1
rpc_endpoint: http://localhost:8545
base_token: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
trade_amount: "10 ether"
vault_address: "0x00000000000000000000000000000000000000aa"
bundle_timeout: 90s
min_profit_threshold: "0.02 ether"
max_gas_price: "300 gwei"
route_timeout: 1500
exchanges:
  - id: dex_a
    kind: static
    fee_bps: 30
    reliability: 0.99
    pairs:
      - token_a: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
        token_b: "0x6B175474E89094C44Da98b954EedeAC495271d0F"
        reserve_a: "1000 ether"
        reserve_b: "2000000 ether"
  - id: dex_b
    kind: uniswap_v2
    router: "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"
    factory: "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"
    fee_bps: 30
    pairs:
      - token_a: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
        token_b: "0x6B175474E89094C44Da98b954EedeAC495271d0F"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, "arb.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.BundleTimeout.D())
	assert.Equal(t, 1500*time.Millisecond, cfg.RouteTimeout.D())
	assert.Equal(t, "20000000000000000", cfg.MinProfitThreshold.String())
	assert.Equal(t, "300000000000", cfg.MaxGasPrice.String())
	assert.Equal(t, "10000000000000000000", cfg.TradeAmount.String())

	// untouched options keep their defaults
	assert.Equal(t, 10, cfg.MaxBundleSize)
	assert.True(t, cfg.FrontrunProtection)
	assert.Equal(t, 1.1, cfg.GasMultiplier)
	assert.Equal(t, 3, cfg.ConcurrentRoutes)

	require.Len(t, cfg.Exchanges, 2)
	assert.Equal(t, map[string]float64{"dex_a": 0.99}, cfg.ReliabilityMap())
}

func TestLoadConfigJSONRoundTrip(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, "arb.yaml", yamlConfig))
	require.NoError(t, err)

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	loaded, err := LoadConfig(writeFile(t, "arb.json", string(data)))
	require.NoError(t, err)
	assert.Equal(t, cfg.MinProfitThreshold.String(), loaded.MinProfitThreshold.String())
	assert.Equal(t, cfg.BundleTimeout, loaded.BundleTimeout)
	assert.Equal(t, cfg.Exchanges[0].Pairs[0].ReserveB.String(), loaded.Exchanges[0].Pairs[0].ReserveB.String())
}

func TestValidateConfig(t *testing.T) {
	base := func(t *testing.T) *Config {
		cfg, err := LoadConfig(writeFile(t, "arb.yaml", yamlConfig))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		message string
	}{
		{"zero bundle size", func(c *Config) { c.MaxBundleSize = 0 }, "max_bundle_size must be positive"},
		{"negative bundle size", func(c *Config) { c.MaxBundleSize = -1 }, "max_bundle_size must be positive"},
		{"gas multiplier below one", func(c *Config) { c.GasMultiplier = 0.9 }, "gas_multiplier"},
		{"single hop", func(c *Config) { c.MaxHops = 1 }, "max_hops"},
		{"unknown exchange kind", func(c *Config) { c.Exchanges[1].Kind = "curve" }, "unknown kind"},
		{"duplicate exchange", func(c *Config) { c.Exchanges[1].ID = "dex_a" }, "configured twice"},
		{"vault without address", func(c *Config) { c.VaultShare = 0.5; c.VaultAddress = "" }, "vault_address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base(t)
			tt.mutate(cfg)
			err := cfg.ValidateConfig()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestValidateConfigCollectsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBundleSize = 0
	err := cfg.ValidateConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_bundle_size")
	assert.Contains(t, err.Error(), "base_token")
	assert.Contains(t, err.Error(), "at least two exchanges")
}

func TestLoadConfigRejectsUnknownFormat(t *testing.T) {
	_, err := LoadConfig(writeFile(t, "arb.toml", "chain_id = 1"))
	assert.Error(t, err)
}

func TestLoadSecureConfig(t *testing.T) {
	envFile := writeFile(t, ".env", EnvPrivateKey+"=0xabc123\n")
	os.Unsetenv(EnvPrivateKey)
	t.Cleanup(func() { os.Unsetenv(EnvPrivateKey) })

	require.NoError(t, LoadEnv(envFile, filepath.Join(t.TempDir(), "missing.env")))
	sc, err := LoadSecureConfig()
	require.NoError(t, err)
	assert.Equal(t, "abc123", sc.PrivateKey)
}
