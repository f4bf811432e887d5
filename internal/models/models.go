package models

import (
	"strings"
	"time"
)

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	IsTestnet      bool     `json:"is_testnet" mapstructure:"is_testnet"`                                    // 是否使用测试网
	LiveAPIURL     string   `json:"live_api_url" mapstructure:"live_api_url" validate:"omitempty,url"`       // 现货REST地址
	LiveWSURL      string   `json:"live_ws_url" mapstructure:"live_ws_url" validate:"omitempty,url"`         // 现货行情WebSocket地址
	TestnetAPIURL  string   `json:"testnet_api_url" mapstructure:"testnet_api_url" validate:"omitempty,url"` // 测试网REST地址
	TestnetWSURL   string   `json:"testnet_ws_url" mapstructure:"testnet_ws_url" validate:"omitempty,url"`   // 测试网WebSocket地址
	Symbols        []string `json:"symbols" mapstructure:"symbols" validate:"required,min=1,dive,required"`  // 交易对，如 "BTC/USDT"
	CandleInterval string   `json:"candle_interval" mapstructure:"candle_interval" validate:"required"`      // K线周期，默认 "1m"
	UseStream      bool     `json:"use_stream" mapstructure:"use_stream"`                                    // 是否用WebSocket缓存最新价

	Analyzer  AnalyzerConfig  `json:"analyzer" mapstructure:"analyzer"`
	Simulator SimulatorConfig `json:"simulator" mapstructure:"simulator"`
	Storage   StorageConfig   `json:"storage" mapstructure:"storage"`
	LogConfig LogConfig       `json:"log" mapstructure:"log"` // 日志配置

	BaseURL   string `json:"base_url" mapstructure:"base_url"`       // REST API基础地址 (将由程序动态设置)
	WSBaseURL string `json:"ws_base_url" mapstructure:"ws_base_url"` // WebSocket基础地址 (将由程序动态设置)
}

// AnalyzerConfig 定义了行情分析循环的参数
type AnalyzerConfig struct {
	IntervalSec       int    `json:"interval_sec" mapstructure:"interval_sec" validate:"min=1"`             // 两轮分析之间的间隔(秒)
	SymbolDelayMs     int    `json:"symbol_delay_ms" mapstructure:"symbol_delay_ms" validate:"min=0"`       // 每个交易对请求之间的间隔
	CandleLimit       int    `json:"candle_limit" mapstructure:"candle_limit" validate:"min=2,max=1000"`    // 每次拉取的K线数量
	OrderBookDepth    int    `json:"order_book_depth" mapstructure:"order_book_depth" validate:"min=5"`     // 拉取的盘口深度
	StrengthThreshold int    `json:"strength_threshold" mapstructure:"strength_threshold" validate:"min=1"` // 记入历史的最小|score|
	HistoryDisplay    int    `json:"history_display" mapstructure:"history_display" validate:"min=1"`       // 历史展示条数
	StateFile         string `json:"state_file" mapstructure:"state_file" validate:"required"`
}

// SimulatorConfig 定义了模拟盘的参数
type SimulatorConfig struct {
	IntervalSec         int     `json:"interval_sec" mapstructure:"interval_sec" validate:"min=1"`
	SymbolDelayMs       int     `json:"symbol_delay_ms" mapstructure:"symbol_delay_ms" validate:"min=0"`
	CandleLimit         int     `json:"candle_limit" mapstructure:"candle_limit" validate:"min=2,max=1000"`
	InitialBalance      float64 `json:"initial_balance" mapstructure:"initial_balance" validate:"gt=0"` // 初始虚拟资金
	BuyThreshold        int     `json:"buy_threshold" mapstructure:"buy_threshold" validate:"min=1"`    // 开仓所需的最小分数
	MaxOpenPositions    int     `json:"max_open_positions" mapstructure:"max_open_positions" validate:"min=1"`
	MaxClosedTrades     int     `json:"max_closed_trades" mapstructure:"max_closed_trades" validate:"min=1"`
	MaxPositionFraction float64 `json:"max_position_fraction" mapstructure:"max_position_fraction" validate:"min=0,max=1"` // 单仓占用余额上限，0为不限制
	Settlement          string  `json:"settlement" mapstructure:"settlement" validate:"oneof=reference conserving"`       // 平仓结算方式
	StateFile           string  `json:"state_file" mapstructure:"state_file" validate:"required"`
}

// StorageConfig 定义了状态与交易日志的存储方式
type StorageConfig struct {
	StateBackend string `json:"state_backend" mapstructure:"state_backend" validate:"oneof=json badger"` // 状态存储: json 文件或 badger
	BadgerPath   string `json:"badger_path" mapstructure:"badger_path"`
	Journal      string `json:"journal" mapstructure:"journal" validate:"oneof=none sqlite influxdb"` // 交易日志: none, sqlite, influxdb
	DBPath       string `json:"db_path" mapstructure:"db_path"`                                       // sqlite 数据库文件路径
	InfluxURL    string `json:"influx_url" mapstructure:"influx_url"`
	InfluxToken  string `json:"influx_token" mapstructure:"influx_token"`
	InfluxOrg    string `json:"influx_org" mapstructure:"influx_org"`
	InfluxBucket string `json:"influx_bucket" mapstructure:"influx_bucket"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level" mapstructure:"level"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output" mapstructure:"output"`           // 输出模式: "console", "file", "both"
	File       string `json:"file" mapstructure:"file"`               // 日志文件路径
	MaxSize    int    `json:"max_size" mapstructure:"max_size"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age" mapstructure:"max_age"`         // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress" mapstructure:"compress"`       // 是否压缩旧日志文件
}

// Candle 代表一根K线，序列按时间从旧到新排列
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// PriceLevel 盘口中的一档
type PriceLevel struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// OrderBook 盘口快照。Bids 价格从高到低，Asks 价格从低到高
type OrderBook struct {
	Symbol string       `json:"symbol"`
	Bids   []PriceLevel `json:"bids"`
	Asks   []PriceLevel `json:"asks"`
}

// IndicatorSet 是每轮分析重新计算的指标集合，不做持久化
type IndicatorSet struct {
	RSI                float64 `validate:"gte=0,lte=100"`
	OrderBookImbalance float64 `validate:"gte=-1,lte=1"`
	VolumeRatio        float64 `validate:"gte=0"`
	VWAPDistancePct    float64
	Momentum1mPct      float64
	Volatility         float64 `validate:"gte=0"`
	Support            float64 `validate:"gte=0"`
	Resistance         float64 `validate:"gte=0"`
}

// Classification 信号等级
type Classification string

const (
	StrongBuy  Classification = "STRONG BUY"
	Buy        Classification = "BUY"
	WeakBuy    Classification = "WEAK BUY"
	StrongSell Classification = "STRONG SELL"
	Sell       Classification = "SELL"
	WeakSell   Classification = "WEAK SELL"
	WaitHold   Classification = "WAIT / HOLD"
)

// IsBuy 判断是否为任一买入等级
func (c Classification) IsBuy() bool {
	return c == StrongBuy || c == Buy || c == WeakBuy
}

// IsSell 判断是否为任一卖出等级
func (c Classification) IsSell() bool {
	return c == StrongSell || c == Sell || c == WeakSell
}

// Confidence 信号置信度
type Confidence string

const (
	ConfidenceVeryHigh Confidence = "VERY HIGH"
	ConfidenceHigh     Confidence = "HIGH"
	ConfidenceModerate Confidence = "MODERATE"
	ConfidenceLow      Confidence = "LOW"
)

// ReasonCode 标识一条被触发的评分规则
type ReasonCode string

const (
	ReasonRSIOversold     ReasonCode = "RSI_OVERSOLD"
	ReasonRSILow          ReasonCode = "RSI_LOW"
	ReasonRSIOverbought   ReasonCode = "RSI_OVERBOUGHT"
	ReasonRSIHigh         ReasonCode = "RSI_HIGH"
	ReasonStrongBuying    ReasonCode = "STRONG_BUYING"
	ReasonBuyingPressure  ReasonCode = "BUYING_PRESSURE"
	ReasonStrongSelling   ReasonCode = "STRONG_SELLING"
	ReasonSellingPressure ReasonCode = "SELLING_PRESSURE"
	ReasonHighVolume      ReasonCode = "HIGH_VOLUME"
	ReasonGoodVolume      ReasonCode = "GOOD_VOLUME"
	ReasonFairPriceVWAP   ReasonCode = "FAIR_PRICE_VWAP"
	ReasonMomentum        ReasonCode = "MOMENTUM"
	ReasonAtSupport       ReasonCode = "AT_SUPPORT"
	ReasonAtResistance    ReasonCode = "AT_RESISTANCE"
)

var reasonLabels = map[ReasonCode]string{
	ReasonRSIOversold:     "RSI Oversold",
	ReasonRSILow:          "RSI Low",
	ReasonRSIOverbought:   "RSI Overbought",
	ReasonRSIHigh:         "RSI High",
	ReasonStrongBuying:    "Strong Buying",
	ReasonBuyingPressure:  "Buying Pressure",
	ReasonStrongSelling:   "Strong Selling",
	ReasonSellingPressure: "Selling Pressure",
	ReasonHighVolume:      "High Volume",
	ReasonGoodVolume:      "Good Volume",
	ReasonFairPriceVWAP:   "Fair Price (VWAP)",
	ReasonMomentum:        "Momentum",
	ReasonAtSupport:       "At Support",
	ReasonAtResistance:    "At Resistance",
}

// Label 返回用于展示的规则名称
func (r ReasonCode) Label() string {
	if l, ok := reasonLabels[r]; ok {
		return l
	}
	return string(r)
}

// DurationBucket 预计持仓时长
type DurationBucket string

const (
	DurationFast DurationBucket = "2-5 minutes"
	DurationSlow DurationBucket = "5-10 minutes"
	DurationWait DurationBucket = "Wait"
)

// PositionType 信号建议的仓位类型（仅现货）
type PositionType string

const (
	PositionSpotBuy  PositionType = "SPOT BUY"
	PositionSpotSell PositionType = "SPOT SELL"
	PositionNone     PositionType = "NO POSITION"
)

// Signal 是一轮分析的结果，生成后不再修改
type Signal struct {
	Symbol          string
	Score           int
	Classification  Classification
	Confidence      Confidence
	Reasons         []ReasonCode
	CurrentPrice    float64
	EntryPrice      float64
	StopPrice       *float64 // WAIT / HOLD 时为 nil
	TakeProfitPrice *float64 // WAIT / HOLD 时为 nil
	Duration        DurationBucket
	PositionType    PositionType
	Indicators      IndicatorSet
	GeneratedAt     time.Time
}

// HasReason 判断信号是否包含某条规则
func (s Signal) HasReason(code ReasonCode) bool {
	for _, r := range s.Reasons {
		if r == code {
			return true
		}
	}
	return false
}

// PositionState 持仓状态
type PositionState string

const (
	PositionOpen   PositionState = "OPEN"
	PositionClosed PositionState = "CLOSED"
)

// Position 模拟持仓，归 Portfolio 独占
type Position struct {
	ID          string
	Symbol      string
	EntryPrice  float64
	Quantity    float64
	StopPrice   float64
	TargetPrice float64
	OpenedAt    time.Time
	State       PositionState
}

// PositionValue 开仓占用的资金
func (p Position) PositionValue() float64 {
	return p.EntryPrice * p.Quantity
}

// CloseType 平仓原因
type CloseType string

const (
	CloseStop    CloseType = "STOP"
	CloseTarget  CloseType = "TARGET"
	CloseTimeout CloseType = "TIMEOUT"
)

// Trade 记录一笔已平仓的交易，只追加不修改
type Trade struct {
	PositionID string
	Symbol     string
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	Fees       float64
	PnL        float64
	CloseType  CloseType
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// SignalHistoryEntry 强信号历史记录
type SignalHistoryEntry struct {
	Time   time.Time
	Symbol string
	Signal Classification
	Price  float64
	Score  int
}

// ExchangeSymbol 把 "BTC/USDT" 形式转换为币安的 "BTCUSDT"
func ExchangeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}
