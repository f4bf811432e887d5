package exchange

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"binance-spot-signal-bot-go/internal/models"
)

// ErrReplayFinished 回放数据已经走完
var ErrReplayFinished = errors.New("replay finished")

// ReplayExchange 实现了 MarketData 接口，用下载好的历史K线回放行情以进行回测。
// 所有交易对共享一条时间轴，游标之后的数据对调用方不可见。
type ReplayExchange struct {
	mu       sync.RWMutex
	series   map[string][]models.Candle // 键为 "BTCUSDT" 形式
	timeline []time.Time
	cursor   int
}

// NewReplayExchange 用每个交易对的K线创建回放行情，游标从 warmup 处开始，
// 保证第一次分析时已有足够的历史数据。
func NewReplayExchange(series map[string][]models.Candle, warmup int) (*ReplayExchange, error) {
	e := &ReplayExchange{series: make(map[string][]models.Candle, len(series))}
	seen := make(map[int64]struct{})
	for symbol, candles := range series {
		sorted := append([]models.Candle(nil), candles...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].OpenTime.Before(sorted[j].OpenTime) })
		e.series[models.ExchangeSymbol(symbol)] = sorted
		for _, c := range sorted {
			if _, ok := seen[c.OpenTime.UnixMilli()]; !ok {
				seen[c.OpenTime.UnixMilli()] = struct{}{}
				e.timeline = append(e.timeline, c.OpenTime)
			}
		}
	}
	if len(e.timeline) == 0 {
		return nil, fmt.Errorf("回放数据为空")
	}
	sort.Slice(e.timeline, func(i, j int) bool { return e.timeline[i].Before(e.timeline[j]) })

	if warmup >= len(e.timeline) {
		warmup = len(e.timeline) - 1
	}
	if warmup < 0 {
		warmup = 0
	}
	e.cursor = warmup
	return e, nil
}

// Now 返回回放时钟的当前时间
func (e *ReplayExchange) Now() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.timeline[e.cursor]
}

// Advance 把游标前移一步，已到末尾时返回 false
func (e *ReplayExchange) Advance() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cursor >= len(e.timeline)-1 {
		return false
	}
	e.cursor++
	return true
}

// Progress 返回当前步数和总步数
func (e *ReplayExchange) Progress() (int, int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cursor + 1, len(e.timeline)
}

// visible 返回游标时间之前(含)的K线，调用方需持有读锁
func (e *ReplayExchange) visible(symbol string) ([]models.Candle, error) {
	candles, ok := e.series[models.ExchangeSymbol(symbol)]
	if !ok {
		return nil, retrievalError("replay", symbol, fmt.Errorf("没有该交易对的数据"))
	}
	now := e.timeline[e.cursor]
	n := sort.Search(len(candles), func(i int) bool { return candles[i].OpenTime.After(now) })
	if n == 0 {
		return nil, retrievalError("replay", symbol, ErrReplayFinished)
	}
	return candles[:n], nil
}

// FetchCandles 返回游标之前最近的 limit 根K线
func (e *ReplayExchange) FetchCandles(_ context.Context, symbol, _ string, limit int) ([]models.Candle, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	candles, err := e.visible(symbol)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return append([]models.Candle(nil), candles...), nil
}

// FetchOrderBook 历史数据不含盘口，返回空盘口(失衡度为0)
func (e *ReplayExchange) FetchOrderBook(_ context.Context, symbol string, _ int) (models.OrderBook, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, err := e.visible(symbol); err != nil {
		return models.OrderBook{}, err
	}
	return models.OrderBook{Symbol: symbol}, nil
}

// FetchLastPrice 返回游标处的收盘价
func (e *ReplayExchange) FetchLastPrice(_ context.Context, symbol string) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	candles, err := e.visible(symbol)
	if err != nil {
		return 0, err
	}
	return candles[len(candles)-1].Close, nil
}

// LoadCandlesCSV 读取下载器生成的K线CSV文件(带表头，前6列为 open_time,open,high,low,close,volume)
func LoadCandlesCSV(path string) ([]models.Candle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("无法打开历史数据文件: %w", err)
	}
	defer file.Close()
	return ReadCandlesCSV(file)
}

// ReadCandlesCSV 从 reader 解析K线CSV
func ReadCandlesCSV(r io.Reader) ([]models.Candle, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("无法读取CSV记录: %w", err)
	}
	if len(records) <= 1 {
		return nil, fmt.Errorf("历史数据文件为空或只有表头")
	}

	candles := make([]models.Candle, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) < 6 {
			return nil, fmt.Errorf("第 %d 行字段不足", i+2)
		}
		ms, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("第 %d 行时间格式错误: %w", i+2, err)
		}
		c := models.Candle{OpenTime: time.UnixMilli(ms).UTC()}
		for j, dst := range []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume} {
			if *dst, err = parseFloat(rec[j+1]); err != nil {
				return nil, fmt.Errorf("第 %d 行数值格式错误: %w", i+2, err)
			}
		}
		candles = append(candles, c)
	}
	return candles, nil
}
