package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"binance-spot-signal-bot-go/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 SPOTBOT_SIMULATOR_INTERVAL_SEC
const EnvPrefix = "SPOTBOT"

// BalanceOptions 模拟盘可选的初始资金
var BalanceOptions = []float64{10, 100, 1000, 10000}

// ErrInvalidConfig 配置未通过校验
var ErrInvalidConfig = errors.New("invalid configuration")

// setDefaults 为所有字段设置默认值，配置文件只需覆盖需要修改的部分
func setDefaults(v *viper.Viper) {
	v.SetDefault("is_testnet", false)
	v.SetDefault("live_api_url", "https://api.binance.com")
	v.SetDefault("live_ws_url", "wss://stream.binance.com:9443")
	v.SetDefault("testnet_api_url", "https://testnet.binance.vision")
	v.SetDefault("testnet_ws_url", "wss://testnet.binance.vision")
	v.SetDefault("symbols", []string{"BTC/USDT", "ETH/USDT"})
	v.SetDefault("candle_interval", "1m")
	v.SetDefault("use_stream", false)

	v.SetDefault("analyzer.interval_sec", 60)
	v.SetDefault("analyzer.symbol_delay_ms", 2000)
	v.SetDefault("analyzer.candle_limit", 100)
	v.SetDefault("analyzer.order_book_depth", 10)
	v.SetDefault("analyzer.strength_threshold", 4)
	v.SetDefault("analyzer.history_display", 10)
	v.SetDefault("analyzer.state_file", "analyzer_state.json")

	v.SetDefault("simulator.interval_sec", 30)
	v.SetDefault("simulator.symbol_delay_ms", 1000)
	v.SetDefault("simulator.candle_limit", 50)
	v.SetDefault("simulator.initial_balance", 10000.0)
	v.SetDefault("simulator.buy_threshold", 4)
	v.SetDefault("simulator.max_open_positions", 3)
	v.SetDefault("simulator.max_closed_trades", 10)
	v.SetDefault("simulator.max_position_fraction", 0.33)
	v.SetDefault("simulator.settlement", "reference")
	v.SetDefault("simulator.state_file", "paper_trading_state.json")

	v.SetDefault("storage.state_backend", "json")
	v.SetDefault("storage.badger_path", "data/state")
	v.SetDefault("storage.journal", "none")
	v.SetDefault("storage.db_path", "data/journal.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file", "logs/bot.log")
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", false)
}

// Default 返回仅由默认值组成的配置
func Default() *models.Config {
	cfg, _ := load(viper.New(), "")
	return cfg
}

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中。
// 文件不存在时使用默认值；环境变量 SPOTBOT_* 优先于文件。
func LoadConfig(path string) (*models.Config, error) {
	v := viper.New()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("json")
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg, err := load(v, path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(v *viper.Viper, path string) (*models.Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
		}
	}

	config := &models.Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return config, nil
}

// Validate 校验配置的取值范围
func Validate(cfg *models.Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !IsBalanceOption(cfg.Simulator.InitialBalance) {
		return fmt.Errorf("%w: 初始资金必须是 %v 之一, 当前为 %v", ErrInvalidConfig, BalanceOptions, cfg.Simulator.InitialBalance)
	}
	return nil
}

// IsBalanceOption 判断金额是否在可选菜单中
func IsBalanceOption(balance float64) bool {
	for _, b := range BalanceOptions {
		if b == balance {
			return true
		}
	}
	return false
}

// BalanceForChoice 把菜单选项 "1"-"4" 映射为初始资金，无效选择时返回 10000
func BalanceForChoice(choice string) float64 {
	switch strings.TrimSpace(choice) {
	case "1":
		return 10
	case "2":
		return 100
	case "3":
		return 1000
	case "4":
		return 10000
	default:
		return 10000
	}
}

// ResolveEndpoints 根据是否使用测试网设置实际的API地址
func ResolveEndpoints(cfg *models.Config) {
	if cfg.IsTestnet {
		cfg.BaseURL = cfg.TestnetAPIURL
		cfg.WSBaseURL = cfg.TestnetWSURL
		return
	}
	cfg.BaseURL = cfg.LiveAPIURL
	cfg.WSBaseURL = cfg.LiveWSURL
}
