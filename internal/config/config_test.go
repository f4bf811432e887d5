package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.Symbols)
	assert.Equal(t, 100, cfg.Analyzer.CandleLimit)
	assert.Equal(t, 10, cfg.Analyzer.OrderBookDepth)
	assert.Equal(t, 30, cfg.Simulator.IntervalSec)
	assert.Equal(t, 50, cfg.Simulator.CandleLimit)
	assert.Equal(t, 10000.0, cfg.Simulator.InitialBalance)
	assert.Equal(t, 3, cfg.Simulator.MaxOpenPositions)
	assert.Equal(t, 10, cfg.Simulator.MaxClosedTrades)
	assert.Equal(t, "reference", cfg.Simulator.Settlement)
	assert.Equal(t, "json", cfg.Storage.StateBackend)
	assert.Equal(t, "info", cfg.LogConfig.Level)
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"symbols": ["SOL/USDT"],
		"simulator": {"initial_balance": 1000, "settlement": "conserving"},
		"log": {"level": "debug"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"SOL/USDT"}, cfg.Symbols)
	assert.Equal(t, 1000.0, cfg.Simulator.InitialBalance)
	assert.Equal(t, "conserving", cfg.Simulator.Settlement)
	assert.Equal(t, "debug", cfg.LogConfig.Level)
	// 未出现在文件中的字段保持默认
	assert.Equal(t, 30, cfg.Simulator.IntervalSec)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"simulator": {"interval_sec": 15}}`), 0o644))
	t.Setenv("SPOTBOT_SIMULATOR_INTERVAL_SEC", "45")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 45, cfg.Simulator.IntervalSec)
}

func TestLoadConfigRejectsBalanceOutsideMenu(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"simulator": {"initial_balance": 250}}`), 0o644))

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadConfigRejectsUnknownSettlement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"simulator": {"settlement": "magic"}}`), 0o644))

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadConfigMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"symbols": [`), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestBalanceForChoice(t *testing.T) {
	assert.Equal(t, 10.0, BalanceForChoice("1"))
	assert.Equal(t, 100.0, BalanceForChoice("2"))
	assert.Equal(t, 1000.0, BalanceForChoice(" 3\n"))
	assert.Equal(t, 10000.0, BalanceForChoice("4"))
	assert.Equal(t, 10000.0, BalanceForChoice("x"))
	assert.Equal(t, 10000.0, BalanceForChoice(""))
}

func TestResolveEndpoints(t *testing.T) {
	cfg := Default()
	ResolveEndpoints(cfg)
	assert.Equal(t, cfg.LiveAPIURL, cfg.BaseURL)

	cfg.IsTestnet = true
	ResolveEndpoints(cfg)
	assert.Equal(t, cfg.TestnetAPIURL, cfg.BaseURL)
	assert.Equal(t, cfg.TestnetWSURL, cfg.WSBaseURL)
}
