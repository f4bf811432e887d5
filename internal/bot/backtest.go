package bot

import (
	"context"
	"errors"
	"io"

	"binance-spot-signal-bot-go/internal/exchange"
	"binance-spot-signal-bot-go/internal/logger"
	"binance-spot-signal-bot-go/internal/models"
	"binance-spot-signal-bot-go/internal/reporter"
	"binance-spot-signal-bot-go/internal/simulator"
	"binance-spot-signal-bot-go/internal/storage"
)

// progressEvery 每回放多少步打印一次进度
const progressEvery = 1000

// Backtest 在回放行情上驱动模拟盘，每根K线执行一轮 Step
type Backtest struct {
	trader *PaperTrader
	replay *exchange.ReplayExchange
	equity []float64
}

// NewBacktest 创建回测。回测使用回放时钟，不做等待，也不保存状态
func NewBacktest(cfg *models.Config, replay *exchange.ReplayExchange, initialBalance float64, journal storage.Journal) *Backtest {
	portfolio := simulator.NewPortfolio(initialBalance, simulator.OptionsFromConfig(cfg.Simulator))
	trader := NewPaperTrader(cfg, portfolio, replay, journal, nil,
		WithClock(replay.Now), WithSleeper(NoSleep), WithOutput(io.Discard), WithLogger(logger.Named(logger.ComponentBacktest)))
	return &Backtest{trader: trader, replay: replay}
}

// Run 回放全部数据并返回回测指标。交易次数达到上限且没有持仓时提前结束
func (b *Backtest) Run(ctx context.Context) (*reporter.Metrics, error) {
	start := b.replay.Now()
	portfolio := b.trader.Portfolio()

	for {
		if _, err := b.trader.Step(ctx); err != nil {
			if ctx.Err() == nil {
				return nil, err
			}
			b.trader.log.Warn("回测被中断，输出已回放部分的结果")
			break
		}
		b.equity = append(b.equity, b.trader.Summary(ctx).TotalValue)

		if errors.Is(portfolio.CanOpen(), simulator.ErrTradeLimitReached) && len(portfolio.OpenPositions()) == 0 {
			b.trader.log.Info("已达到交易次数上限，提前结束回测")
			break
		}
		if step, total := b.replay.Progress(); step%progressEvery == 0 {
			b.trader.log.Infof("回测进度: %d/%d", step, total)
		}
		if !b.replay.Advance() {
			break
		}
	}

	summary := b.trader.Summary(ctx)
	metrics := reporter.CalculateMetrics(summary, portfolio.Trades(), b.equity)
	metrics.StartTime = start
	metrics.EndTime = b.replay.Now()
	return metrics, nil
}

// Portfolio 返回回测使用的账户
func (b *Backtest) Portfolio() *simulator.Portfolio {
	return b.trader.Portfolio()
}

// EquityCurve 返回每一步的账户总价值
func (b *Backtest) EquityCurve() []float64 {
	return append([]float64(nil), b.equity...)
}
