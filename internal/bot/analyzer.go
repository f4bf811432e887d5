package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"binance-spot-signal-bot-go/internal/exchange"
	"binance-spot-signal-bot-go/internal/logger"
	"binance-spot-signal-bot-go/internal/models"
	"binance-spot-signal-bot-go/internal/reporter"
	"binance-spot-signal-bot-go/internal/scorer"
	"binance-spot-signal-bot-go/internal/statemanager"
	"binance-spot-signal-bot-go/internal/storage"
)

// Analyzer 周期性地分析每个交易对并输出信号，强信号记入历史
type Analyzer struct {
	runtime
	cfg      models.AnalyzerConfig
	symbols  []string
	interval string
	market   exchange.MarketData
	scorer   *scorer.Scorer
	journal  storage.Journal
	state    *statemanager.Manager[models.AnalyzerState]

	mu      sync.Mutex
	history []models.SignalHistoryEntry
}

// NewAnalyzer 创建分析器。state 为 nil 时不做持久化，journal 为 nil 时不写日志
func NewAnalyzer(cfg *models.Config, market exchange.MarketData, journal storage.Journal, state *statemanager.Manager[models.AnalyzerState], opts ...Option) *Analyzer {
	rt := newRuntime(logger.ComponentAnalyzer, opts)
	return &Analyzer{
		runtime:  rt,
		cfg:      cfg.Analyzer,
		symbols:  cfg.Symbols,
		interval: cfg.CandleInterval,
		market:   market,
		scorer:   scorer.NewWithClock(rt.now),
		journal:  journalOrNop(journal),
		state:    state,
	}
}

// Restore 载入之前保存的信号历史
func (a *Analyzer) Restore(st *models.AnalyzerState) {
	if st == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = make([]models.SignalHistoryEntry, 0, len(st.SignalHistory))
	for _, r := range st.SignalHistory {
		a.history = append(a.history, r.ToEntry())
	}
}

// SeedHistory 在没有保存的历史时，从可回读的日志后端载入最近的强信号，返回载入条数
func (a *Analyzer) SeedHistory(ctx context.Context) (int, error) {
	reader, ok := a.journal.(storage.HistoryReader)
	if !ok {
		return 0, nil
	}
	a.mu.Lock()
	empty := len(a.history) == 0
	a.mu.Unlock()
	if !empty {
		return 0, nil
	}

	entries, err := reader.RecentSignals(ctx, a.cfg.HistoryDisplay)
	if err != nil {
		return 0, fmt.Errorf("读取信号日志失败: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(entries) - 1; i >= 0; i-- {
		a.history = append(a.history, entries[i])
	}
	return len(entries), nil
}

// History 返回信号历史的副本
func (a *Analyzer) History() []models.SignalHistoryEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.SignalHistoryEntry(nil), a.history...)
}

// State 返回可持久化的状态
func (a *Analyzer) State() *models.AnalyzerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := &models.AnalyzerState{
		SignalHistory: make([]models.SignalRecord, len(a.history)),
		LastSave:      a.now(),
	}
	for i, e := range a.history {
		st.SignalHistory[i] = models.NewSignalRecord(e)
	}
	return st
}

// AnalyzeSymbol 对单个交易对生成信号
func (a *Analyzer) AnalyzeSymbol(ctx context.Context, symbol string) (models.Signal, error) {
	return analyzeSymbol(ctx, a.market, a.scorer, symbol, a.interval, a.cfg.CandleLimit, a.cfg.OrderBookDepth)
}

// RunCycle 依次分析所有交易对。获取失败的交易对本轮跳过，
// 本轮结束后展示历史并提交一次状态快照。
func (a *Analyzer) RunCycle(ctx context.Context) ([]models.Signal, error) {
	signals := make([]models.Signal, 0, len(a.symbols))
	for i, symbol := range a.symbols {
		if i > 0 {
			if err := a.sleep(ctx, time.Duration(a.cfg.SymbolDelayMs)*time.Millisecond); err != nil {
				return signals, err
			}
		}

		sig, err := a.AnalyzeSymbol(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return signals, ctx.Err()
			}
			a.log.Warnf("分析 %s 失败，本轮跳过: %v", symbol, err)
			continue
		}
		reporter.RenderSignal(a.out, sig)
		signals = append(signals, sig)

		if scorer.IsStrong(sig, a.cfg.StrengthThreshold) {
			a.record(ctx, sig)
		}
	}

	reporter.RenderHistory(a.out, a.History(), a.cfg.HistoryDisplay)
	if a.state != nil {
		a.state.Submit(a.State())
	}
	return signals, nil
}

func (a *Analyzer) record(ctx context.Context, sig models.Signal) {
	a.mu.Lock()
	a.history = append(a.history, models.SignalHistoryEntry{
		Time:   sig.GeneratedAt,
		Symbol: sig.Symbol,
		Signal: sig.Classification,
		Price:  sig.CurrentPrice,
		Score:  sig.Score,
	})
	a.mu.Unlock()

	a.log.Infof("捕获强信号: %s %s (%+d)", sig.Symbol, sig.Classification, sig.Score)
	if err := a.journal.RecordSignal(ctx, sig); err != nil {
		a.log.Warnf("写入信号日志失败: %v", err)
	}
}

// Run 循环执行分析，直到 ctx 被取消
func (a *Analyzer) Run(ctx context.Context) error {
	a.log.Infof("行情分析器启动，交易对: %s，间隔: %ds", strings.Join(a.symbols, ", "), a.cfg.IntervalSec)
	for iteration := 1; ; iteration++ {
		fmt.Fprintf(a.out, "\nUPDATE #%d - %s\n", iteration, a.now().Format("15:04:05"))
		if _, err := a.RunCycle(ctx); err != nil {
			break
		}
		if err := a.sleep(ctx, time.Duration(a.cfg.IntervalSec)*time.Second); err != nil {
			break
		}
	}
	a.log.Infof("行情分析器已停止，共记录 %d 个强信号", len(a.History()))
	return nil
}

// Stop 停止持久化循环并同步保存最终状态
func (a *Analyzer) Stop() error {
	if a.state == nil {
		return nil
	}
	a.state.Stop()
	if err := a.state.Flush(a.State()); err != nil {
		return fmt.Errorf("保存分析器状态失败: %w", err)
	}
	return nil
}
