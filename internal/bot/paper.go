package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"binance-spot-signal-bot-go/internal/exchange"
	"binance-spot-signal-bot-go/internal/logger"
	"binance-spot-signal-bot-go/internal/models"
	"binance-spot-signal-bot-go/internal/reporter"
	"binance-spot-signal-bot-go/internal/scorer"
	"binance-spot-signal-bot-go/internal/simulator"
	"binance-spot-signal-bot-go/internal/statemanager"
	"binance-spot-signal-bot-go/internal/storage"
)

// StepResult 一轮模拟盘循环的结果
type StepResult struct {
	Closed []models.Trade
	Opened []models.Position
}

// PaperTrader 用实时(或回放)行情驱动模拟账户
type PaperTrader struct {
	runtime
	cfg       models.SimulatorConfig
	depth     int
	symbols   []string
	interval  string
	market    exchange.MarketData
	portfolio *simulator.Portfolio
	scorer    *scorer.Scorer
	journal   storage.Journal
	state     *statemanager.Manager[models.PaperState]
}

// NewPaperTrader 创建模拟盘循环。state 为 nil 时不做持久化
func NewPaperTrader(cfg *models.Config, portfolio *simulator.Portfolio, market exchange.MarketData, journal storage.Journal, state *statemanager.Manager[models.PaperState], opts ...Option) *PaperTrader {
	rt := newRuntime(logger.ComponentPaper, opts)
	return &PaperTrader{
		runtime:   rt,
		cfg:       cfg.Simulator,
		depth:     cfg.Analyzer.OrderBookDepth,
		symbols:   cfg.Symbols,
		interval:  cfg.CandleInterval,
		market:    market,
		portfolio: portfolio,
		scorer:    scorer.NewWithClock(rt.now),
		journal:   journalOrNop(journal),
		state:     state,
	}
}

// Portfolio 返回被驱动的账户
func (t *PaperTrader) Portfolio() *simulator.Portfolio {
	return t.portfolio
}

// Step 执行一轮: 先检查持仓的止损/止盈/超时，再在准入允许时扫描买入信号开仓。
// 每次状态变化后都提交快照。
func (t *PaperTrader) Step(ctx context.Context) (StepResult, error) {
	var res StepResult

	closed, errs := t.portfolio.Monitor(ctx, t.market, t.now())
	for _, err := range errs {
		t.log.Warnf("检查持仓失败: %v", err)
	}
	for _, trade := range closed {
		t.log.Infof("平仓 %s [%s]: 入场 %.6f 出场 %.6f 盈亏 %.4f", trade.Symbol, trade.CloseType, trade.EntryPrice, trade.ExitPrice, trade.PnL)
		if err := t.journal.RecordTrade(ctx, trade); err != nil {
			t.log.Warnf("写入交易日志失败: %v", err)
		}
	}
	if len(closed) > 0 {
		res.Closed = closed
		t.persist()
	}

	if err := t.portfolio.CanOpen(); err != nil {
		t.log.Debugf("暂停开仓: %v", err)
		return res, ctx.Err()
	}

	for i, symbol := range t.symbols {
		if i > 0 {
			if err := t.sleep(ctx, time.Duration(t.cfg.SymbolDelayMs)*time.Millisecond); err != nil {
				return res, err
			}
		}

		sig, err := analyzeSymbol(ctx, t.market, t.scorer, symbol, t.interval, t.cfg.CandleLimit, t.depth)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			t.log.Warnf("分析 %s 失败，本轮跳过: %v", symbol, err)
			continue
		}
		if !sig.Classification.IsBuy() || sig.Score < t.cfg.BuyThreshold {
			continue
		}

		pos, err := t.portfolio.Open(symbol, sig.CurrentPrice, t.now())
		if errors.Is(err, simulator.ErrMaxOpenPositions) || errors.Is(err, simulator.ErrTradeLimitReached) {
			t.log.Debugf("暂停开仓: %v", err)
			break
		}
		if err != nil {
			t.log.Warnf("开仓 %s 失败: %v", symbol, err)
			continue
		}
		t.log.Infof("开仓 %s: 价格 %.6f 数量 %.6f 止损 %.6f 止盈 %.6f (信号 %s %+d)",
			pos.Symbol, pos.EntryPrice, pos.Quantity, pos.StopPrice, pos.TargetPrice, sig.Classification, sig.Score)
		res.Opened = append(res.Opened, *pos)
		t.persist()
	}
	return res, nil
}

// CurrentPrices 获取所有持仓交易对的最新价，失败的交易对不在结果中
func (t *PaperTrader) CurrentPrices(ctx context.Context) map[string]float64 {
	prices := make(map[string]float64)
	for _, pos := range t.portfolio.OpenPositions() {
		if _, ok := prices[pos.Symbol]; ok {
			continue
		}
		price, err := t.market.FetchLastPrice(ctx, pos.Symbol)
		if err != nil {
			t.log.Debugf("获取 %s 最新价失败: %v", pos.Symbol, err)
			continue
		}
		prices[pos.Symbol] = price
	}
	return prices
}

// RecentTrades 返回最近 limit 笔已平仓交易，最新的在前。
// 日志后端可回读时包含以前会话的交易，否则只看当前账户
func (t *PaperTrader) RecentTrades(ctx context.Context, limit int) []models.Trade {
	if reader, ok := t.journal.(storage.HistoryReader); ok {
		trades, err := reader.RecentTrades(ctx, limit)
		if err == nil {
			return trades
		}
		t.log.Warnf("读取交易日志失败，改用当前账户记录: %v", err)
	}
	all := t.portfolio.Trades()
	out := make([]models.Trade, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out
}

// Summary 用最新价计算账户概览
func (t *PaperTrader) Summary(ctx context.Context) simulator.Summary {
	return t.portfolio.Summary(t.CurrentPrices(ctx))
}

// Run 循环执行，直到 ctx 被取消
func (t *PaperTrader) Run(ctx context.Context) error {
	t.log.Infof("模拟盘启动，交易对: %s，初始资金: %.2f USDT，间隔: %ds",
		strings.Join(t.symbols, ", "), t.portfolio.InitialBalance(), t.cfg.IntervalSec)
	for {
		fmt.Fprintf(t.out, "\n[%s]\n", t.now().Format("15:04:05"))
		if _, err := t.Step(ctx); err != nil && ctx.Err() != nil {
			break
		}
		reporter.RenderDashboard(t.out, t.Summary(ctx), t.now())
		if err := t.sleep(ctx, time.Duration(t.cfg.IntervalSec)*time.Second); err != nil {
			break
		}
	}
	t.log.Info("模拟盘已停止")
	return nil
}

func (t *PaperTrader) persist() {
	if t.state != nil {
		t.state.Submit(t.portfolio.State(t.now()))
	}
}

// Stop 停止持久化循环并同步保存最终状态
func (t *PaperTrader) Stop() error {
	if t.state == nil {
		return nil
	}
	t.state.Stop()
	if err := t.state.Flush(t.portfolio.State(t.now())); err != nil {
		return fmt.Errorf("保存模拟盘状态失败: %w", err)
	}
	return nil
}
