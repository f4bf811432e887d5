// Package bot 包含两个运行循环(行情分析器和模拟盘)以及基于历史回放的回测驱动。
package bot

import (
	"context"
	"io"
	"os"
	"time"

	"binance-spot-signal-bot-go/internal/exchange"
	"binance-spot-signal-bot-go/internal/indicators"
	"binance-spot-signal-bot-go/internal/logger"
	"binance-spot-signal-bot-go/internal/models"
	"binance-spot-signal-bot-go/internal/scorer"
	"binance-spot-signal-bot-go/internal/storage"

	"go.uber.org/zap"
)

// Sleeper 等待指定时长，ctx 被取消时提前返回错误
type Sleeper func(ctx context.Context, d time.Duration) error

// Option 配置运行循环的时钟、等待方式和输出
type Option func(*runtime)

type runtime struct {
	now   func() time.Time
	sleep Sleeper
	out   io.Writer
	log   *zap.SugaredLogger
}

// newRuntime 默认使用按组件命名的全局logger，需在 logger.InitLogger 之后调用
func newRuntime(component string, opts []Option) runtime {
	rt := runtime{now: time.Now, sleep: sleepContext, out: os.Stdout, log: logger.Named(component)}
	for _, opt := range opts {
		opt(&rt)
	}
	return rt
}

// WithClock 使用指定时钟，回测时传入回放时钟
func WithClock(now func() time.Time) Option {
	return func(rt *runtime) { rt.now = now }
}

// WithSleeper 替换等待函数
func WithSleeper(s Sleeper) Option {
	return func(rt *runtime) { rt.sleep = s }
}

// WithOutput 设置表格输出位置
func WithOutput(w io.Writer) Option {
	return func(rt *runtime) { rt.out = w }
}

// WithLogger 替换组件logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(rt *runtime) { rt.log = l }
}

// NoSleep 不做任何等待，只检查 ctx
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// analyzeSymbol 拉取K线和盘口、计算指标并生成信号。
// 任何一步失败都直接返回错误，调用方本轮跳过该交易对。
func analyzeSymbol(ctx context.Context, market exchange.MarketData, sc *scorer.Scorer, symbol, interval string, candleLimit, depth int) (models.Signal, error) {
	candles, err := market.FetchCandles(ctx, symbol, interval, candleLimit)
	if err != nil {
		return models.Signal{}, err
	}
	book, err := market.FetchOrderBook(ctx, symbol, depth)
	if err != nil {
		return models.Signal{}, err
	}
	set, err := indicators.Compute(candles, book)
	if err != nil {
		return models.Signal{}, err
	}
	price := candles[len(candles)-1].Close
	return sc.Evaluate(symbol, price, set), nil
}

func journalOrNop(j storage.Journal) storage.Journal {
	if j == nil {
		return storage.NopJournal{}
	}
	return j
}
