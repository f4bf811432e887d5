package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"binance-spot-signal-bot-go/internal/config"
	"binance-spot-signal-bot-go/internal/exchange"
	"binance-spot-signal-bot-go/internal/models"
	"binance-spot-signal-bot-go/internal/persistence"
	"binance-spot-signal-bot-go/internal/simulator"
	"binance-spot-signal-bot-go/internal/statemanager"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeMarket serves fixed candles and books per symbol.
type fakeMarket struct {
	mu      sync.Mutex
	candles map[string][]models.Candle
	books   map[string]models.OrderBook
	prices  map[string]float64
	fail    map[string]bool
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		candles: make(map[string][]models.Candle),
		books:   make(map[string]models.OrderBook),
		prices:  make(map[string]float64),
		fail:    make(map[string]bool),
	}
}

func (m *fakeMarket) FetchCandles(_ context.Context, symbol, _ string, limit int) ([]models.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[symbol] {
		return nil, fmt.Errorf("%w: boom", exchange.ErrRetrieval)
	}
	c := m.candles[symbol]
	if limit > 0 && len(c) > limit {
		c = c[len(c)-limit:]
	}
	return append([]models.Candle(nil), c...), nil
}

func (m *fakeMarket) FetchOrderBook(_ context.Context, symbol string, _ int) (models.OrderBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[symbol] {
		return models.OrderBook{}, fmt.Errorf("%w: boom", exchange.ErrRetrieval)
	}
	return m.books[symbol], nil
}

func (m *fakeMarket) FetchLastPrice(_ context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[symbol] {
		return 0, fmt.Errorf("%w: boom", exchange.ErrRetrieval)
	}
	if p, ok := m.prices[symbol]; ok {
		return p, nil
	}
	c := m.candles[symbol]
	if len(c) == 0 {
		return 0, fmt.Errorf("%w: no data", exchange.ErrRetrieval)
	}
	return c[len(c)-1].Close, nil
}

func (m *fakeMarket) setPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

type recordingJournal struct {
	mu      sync.Mutex
	trades  []models.Trade
	signals []models.Signal
}

func (j *recordingJournal) RecordTrade(_ context.Context, t models.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades = append(j.trades, t)
	return nil
}

func (j *recordingJournal) RecordSignal(_ context.Context, s models.Signal) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.signals = append(j.signals, s)
	return nil
}

func (j *recordingJournal) Close() error { return nil }

// readableJournal also serves previously journaled records, newest first.
type readableJournal struct {
	recordingJournal
	pastTrades  []models.Trade
	pastSignals []models.SignalHistoryEntry
}

func (j *readableJournal) RecentTrades(_ context.Context, limit int) ([]models.Trade, error) {
	if len(j.pastTrades) > limit {
		return j.pastTrades[:limit], nil
	}
	return j.pastTrades, nil
}

func (j *readableJournal) RecentSignals(_ context.Context, limit int) ([]models.SignalHistoryEntry, error) {
	if len(j.pastSignals) > limit {
		return j.pastSignals[:limit], nil
	}
	return j.pastSignals, nil
}

func candle(i int, close, volume float64) models.Candle {
	return models.Candle{
		OpenTime: baseTime.Add(time.Duration(i) * time.Minute),
		Open:     close, High: close, Low: close, Close: close, Volume: volume,
	}
}

// sellOffCandles declines from 100 to 90 with a volume spike on the last candle:
// RSI 0, high volume and a fallback support right below the price.
func sellOffCandles() []models.Candle {
	out := make([]models.Candle, 0, 11)
	for i := 0; i <= 10; i++ {
		vol := 1.0
		if i == 10 {
			vol = 10
		}
		out = append(out, candle(i, 100-float64(i), vol))
	}
	return out
}

// choppyCandles alternate between 100 and 101 and score close to zero.
func choppyCandles() []models.Candle {
	out := make([]models.Candle, 0, 20)
	for i := 0; i < 20; i++ {
		out = append(out, candle(i, 100+float64(i%2), 1))
	}
	return out
}

func bidHeavyBook() models.OrderBook {
	return models.OrderBook{
		Bids: []models.PriceLevel{{Price: 89.9, Volume: 10}},
		Asks: []models.PriceLevel{{Price: 90.1, Volume: 2}},
	}
}

func balancedBook() models.OrderBook {
	return models.OrderBook{
		Bids: []models.PriceLevel{{Price: 100.9, Volume: 5}},
		Asks: []models.PriceLevel{{Price: 101.1, Volume: 5}},
	}
}

func testConfig(symbols ...string) *models.Config {
	cfg := config.Default()
	cfg.Symbols = symbols
	cfg.Analyzer.SymbolDelayMs = 0
	cfg.Simulator.SymbolDelayMs = 0
	return cfg
}

func clockAt(t *time.Time) Option {
	return WithClock(func() time.Time { return *t })
}

func TestAnalyzerRunCycleRecordsStrongSignals(t *testing.T) {
	market := newFakeMarket()
	market.candles["BTC/USDT"] = sellOffCandles()
	market.books["BTC/USDT"] = bidHeavyBook()
	market.candles["ETH/USDT"] = choppyCandles()
	market.books["ETH/USDT"] = balancedBook()
	market.fail["SOL/USDT"] = true

	journal := &recordingJournal{}
	now := baseTime
	var out bytes.Buffer
	a := NewAnalyzer(testConfig("BTC/USDT", "SOL/USDT", "ETH/USDT"), market, journal, nil,
		clockAt(&now), WithSleeper(NoSleep), WithOutput(&out))

	signals, err := a.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 2)

	assert.Equal(t, "BTC/USDT", signals[0].Symbol)
	assert.Equal(t, models.StrongBuy, signals[0].Classification)
	assert.True(t, signals[0].HasReason(models.ReasonRSIOversold))
	assert.True(t, signals[0].HasReason(models.ReasonStrongBuying))
	assert.Equal(t, now, signals[0].GeneratedAt)

	assert.Equal(t, "ETH/USDT", signals[1].Symbol)
	assert.Less(t, signals[1].Score, 4)
	assert.Greater(t, signals[1].Score, -4)

	history := a.History()
	require.Len(t, history, 1)
	assert.Equal(t, "BTC/USDT", history[0].Symbol)
	assert.Equal(t, 90.0, history[0].Price)
	assert.Len(t, journal.signals, 1)

	assert.Contains(t, out.String(), "Strong Signal History")
	assert.Contains(t, out.String(), "ETH/USDT")
}

func TestAnalyzerPersistsHistory(t *testing.T) {
	market := newFakeMarket()
	market.candles["BTC/USDT"] = sellOffCandles()
	market.books["BTC/USDT"] = bidHeavyBook()

	path := filepath.Join(t.TempDir(), "analyzer_state.json")
	repo := persistence.NewJSONFileRepository[models.AnalyzerState](path)
	mgr := statemanager.New[models.AnalyzerState](repo, zap.NewNop())
	mgr.Start()

	now := baseTime
	a := NewAnalyzer(testConfig("BTC/USDT"), market, nil, mgr, clockAt(&now), WithSleeper(NoSleep), WithOutput(io.Discard))
	_, err := a.RunCycle(context.Background())
	require.NoError(t, err)
	require.NoError(t, a.Stop())

	loaded, err := repo.LoadState()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.SignalHistory, 1)
	assert.Equal(t, models.StrongBuy, loaded.SignalHistory[0].Signal)

	restored := NewAnalyzer(testConfig("BTC/USDT"), market, nil, nil)
	restored.Restore(loaded)
	assert.Equal(t, a.History(), restored.History())
}

func TestAnalyzerRunReturnsOnCancel(t *testing.T) {
	market := newFakeMarket()
	market.candles["ETH/USDT"] = choppyCandles()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := testConfig("ETH/USDT")
	var intervals int
	sleeper := func(ctx context.Context, d time.Duration) error {
		if d == time.Duration(cfg.Analyzer.IntervalSec)*time.Second {
			intervals++
			cancel()
		}
		return ctx.Err()
	}

	a := NewAnalyzer(cfg, market, nil, nil, WithSleeper(sleeper), WithOutput(io.Discard))
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, intervals)
	assert.NoError(t, a.Stop())
}

func TestPaperTraderOpensAndClosesPositions(t *testing.T) {
	market := newFakeMarket()
	market.candles["BTC/USDT"] = sellOffCandles()
	market.books["BTC/USDT"] = bidHeavyBook()
	market.candles["ETH/USDT"] = choppyCandles()
	market.books["ETH/USDT"] = balancedBook()

	cfg := testConfig("BTC/USDT", "ETH/USDT")
	journal := &recordingJournal{}
	now := baseTime
	p := simulator.NewPortfolio(10000, simulator.OptionsFromConfig(cfg.Simulator))
	trader := NewPaperTrader(cfg, p, market, journal, nil, clockAt(&now), WithSleeper(NoSleep), WithOutput(io.Discard))

	res, err := trader.Step(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Closed)
	require.Len(t, res.Opened, 1)
	pos := res.Opened[0]
	assert.Equal(t, "BTC/USDT", pos.Symbol)
	assert.Equal(t, 90.0, pos.EntryPrice)
	assert.InDelta(t, 6700, p.Balance(), 1e-6)

	now = now.Add(30 * time.Second)
	market.setPrice("BTC/USDT", 91)
	res, err = trader.Step(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, models.CloseTarget, res.Closed[0].CloseType)
	assert.Equal(t, pos.ID, res.Closed[0].PositionID)
	require.Len(t, journal.trades, 1)
	assert.Greater(t, journal.trades[0].PnL, 0.0)

	summary := trader.Summary(context.Background())
	assert.Equal(t, 1, summary.TotalTrades)
	assert.Equal(t, 1, summary.Wins)
}

func TestPaperTraderRespectsOpenPositionCap(t *testing.T) {
	market := newFakeMarket()
	for _, sym := range []string{"BTC/USDT", "SOL/USDT"} {
		market.candles[sym] = sellOffCandles()
		market.books[sym] = bidHeavyBook()
	}
	cfg := testConfig("BTC/USDT", "SOL/USDT")
	cfg.Simulator.MaxOpenPositions = 1
	p := simulator.NewPortfolio(1000, simulator.OptionsFromConfig(cfg.Simulator))
	trader := NewPaperTrader(cfg, p, market, nil, nil, WithSleeper(NoSleep), WithOutput(io.Discard))

	res, err := trader.Step(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Opened, 1)
	assert.Len(t, p.OpenPositions(), 1)

	res, err = trader.Step(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Opened)
	assert.True(t, errors.Is(p.CanOpen(), simulator.ErrMaxOpenPositions))
}

func TestPaperTraderSkipsFailedSymbols(t *testing.T) {
	market := newFakeMarket()
	market.fail["BTC/USDT"] = true
	market.candles["SOL/USDT"] = sellOffCandles()
	market.books["SOL/USDT"] = bidHeavyBook()

	cfg := testConfig("BTC/USDT", "SOL/USDT")
	p := simulator.NewPortfolio(10000, simulator.OptionsFromConfig(cfg.Simulator))
	trader := NewPaperTrader(cfg, p, market, nil, nil, WithSleeper(NoSleep), WithOutput(io.Discard))

	res, err := trader.Step(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Opened, 1)
	assert.Equal(t, "SOL/USDT", res.Opened[0].Symbol)

	// 价格获取失败的持仓保持不动
	market.fail["SOL/USDT"] = true
	res, err = trader.Step(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Closed)
	assert.Len(t, p.OpenPositions(), 1)
}

func TestPaperTraderStopFlushesState(t *testing.T) {
	market := newFakeMarket()
	market.candles["BTC/USDT"] = sellOffCandles()
	market.books["BTC/USDT"] = bidHeavyBook()

	path := filepath.Join(t.TempDir(), "paper_trading_state.json")
	repo := persistence.NewJSONFileRepository[models.PaperState](path)
	mgr := statemanager.New[models.PaperState](repo, zap.NewNop())
	mgr.Start()

	cfg := testConfig("BTC/USDT")
	now := baseTime
	p := simulator.NewPortfolio(10000, simulator.OptionsFromConfig(cfg.Simulator))
	trader := NewPaperTrader(cfg, p, market, nil, mgr, clockAt(&now), WithSleeper(NoSleep), WithOutput(io.Discard))

	_, err := trader.Step(context.Background())
	require.NoError(t, err)
	require.NoError(t, trader.Stop())

	loaded, err := repo.LoadState()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.InDelta(t, p.Balance(), loaded.Balance, 1e-9)
	assert.Equal(t, 10000.0, loaded.Initial)
	require.Len(t, loaded.Positions, 1)
	assert.Equal(t, "BTC/USDT", loaded.Positions[0].Symbol)
	assert.Equal(t, now, loaded.LastSave)

	resumed := simulator.NewPortfolio(10000, simulator.DefaultOptions())
	resumed.Restore(loaded)
	assert.Equal(t, p.OpenPositions(), resumed.OpenPositions())
}

func TestPaperTraderRunReturnsOnCancel(t *testing.T) {
	market := newFakeMarket()
	market.candles["ETH/USDT"] = choppyCandles()
	market.books["ETH/USDT"] = balancedBook()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeper := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	cfg := testConfig("ETH/USDT")
	p := simulator.NewPortfolio(100, simulator.OptionsFromConfig(cfg.Simulator))
	var out bytes.Buffer
	trader := NewPaperTrader(cfg, p, market, nil, nil, WithSleeper(sleeper), WithOutput(&out))

	assert.NoError(t, trader.Run(ctx))
	assert.Contains(t, out.String(), "No active positions")
}

func TestBacktestOverReplay(t *testing.T) {
	series := sellOffCandles()
	series = append(series, candle(11, 90.5, 1))
	for i := 12; i < 16; i++ {
		series = append(series, candle(i, 90.5, 1))
	}
	replay, err := exchange.NewReplayExchange(map[string][]models.Candle{"BTC/USDT": series}, 10)
	require.NoError(t, err)

	cfg := testConfig("BTC/USDT")
	cfg.Simulator.MaxClosedTrades = 1
	journal := &recordingJournal{}
	bt := NewBacktest(cfg, replay, 10000, journal)

	metrics, err := bt.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, metrics.TotalTrades)
	assert.Equal(t, 1, metrics.WinningTrades)
	assert.InDelta(t, 100.0, metrics.WinRate, 1e-9)
	assert.Equal(t, 1, metrics.CloseTypes[models.CloseTarget])
	assert.Equal(t, baseTime.Add(10*time.Minute), metrics.StartTime)
	assert.Equal(t, baseTime.Add(11*time.Minute), metrics.EndTime)
	assert.Greater(t, metrics.FinalBalance, metrics.InitialBalance)
	assert.Len(t, journal.trades, 1)

	curve := bt.EquityCurve()
	require.Len(t, curve, 2)
	assert.InDelta(t, 10000, curve[0], 1e-6)
	assert.Empty(t, bt.Portfolio().OpenPositions())
}

func TestAnalyzerSeedsHistoryFromJournal(t *testing.T) {
	journal := &readableJournal{pastSignals: []models.SignalHistoryEntry{
		{Time: baseTime.Add(2 * time.Minute), Symbol: "ETH/USDT", Signal: models.StrongSell, Price: 3000, Score: -5},
		{Time: baseTime.Add(time.Minute), Symbol: "BTC/USDT", Signal: models.StrongBuy, Price: 90, Score: 6},
	}}
	a := NewAnalyzer(testConfig("BTC/USDT"), newFakeMarket(), journal, nil,
		WithOutput(io.Discard), WithLogger(zap.NewNop().Sugar()))

	n, err := a.SeedHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	history := a.History()
	require.Len(t, history, 2)
	assert.Equal(t, "BTC/USDT", history[0].Symbol, "history is kept oldest first")
	assert.Equal(t, "ETH/USDT", history[1].Symbol)

	n, err = a.SeedHistory(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "an existing history is not overwritten")
	assert.Len(t, a.History(), 2)
}

func TestAnalyzerSeedHistoryWithoutReadableJournal(t *testing.T) {
	a := NewAnalyzer(testConfig("BTC/USDT"), newFakeMarket(), &recordingJournal{}, nil, WithOutput(io.Discard))
	n, err := a.SeedHistory(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, a.History())
}

func TestPaperTraderRecentTrades(t *testing.T) {
	cfg := testConfig("BTC/USDT")
	p := simulator.NewPortfolio(10000, simulator.OptionsFromConfig(cfg.Simulator))
	for i, symbol := range []string{"BTC/USDT", "ETH/USDT"} {
		pos, err := p.Open(symbol, 100, baseTime.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		_, err = p.Close(pos.ID, 100.2, models.CloseTarget, baseTime.Add(time.Duration(i)*time.Minute+time.Second))
		require.NoError(t, err)
	}

	local := NewPaperTrader(cfg, p, newFakeMarket(), &recordingJournal{}, nil, WithOutput(io.Discard))
	trades := local.RecentTrades(context.Background(), 1)
	require.Len(t, trades, 1)
	assert.Equal(t, "ETH/USDT", trades[0].Symbol)
	assert.Len(t, local.RecentTrades(context.Background(), 10), 2)

	journal := &readableJournal{pastTrades: []models.Trade{{Symbol: "SOL/USDT", PnL: -1}, {Symbol: "BNB/USDT"}}}
	fromJournal := NewPaperTrader(cfg, p, newFakeMarket(), journal, nil, WithOutput(io.Discard))
	trades = fromJournal.RecentTrades(context.Background(), 10)
	require.Len(t, trades, 2)
	assert.Equal(t, "SOL/USDT", trades[0].Symbol)
}
