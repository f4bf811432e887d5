// Package simulator 实现模拟盘的持仓状态机。
// Portfolio 是唯一的可变状态，所有修改都经过它的互斥锁。
package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"binance-spot-signal-bot-go/internal/models"

	"github.com/jxskiss/base62"
	"golang.org/x/sync/errgroup"
)

const (
	RiskFraction       = 0.01   // 每笔交易承担余额的1%风险
	StopLossFraction   = 0.001  // 止损距离 0.1%
	TakeProfitFraction = 0.0015 // 止盈距离 0.15%
	FeeRate            = 0.002  // 往返手续费近似
	PositionTimeout    = 300 * time.Second

	DefaultMaxOpenPositions    = 3
	DefaultMaxClosedTrades     = 10
	DefaultMaxPositionFraction = 0.33

	// SettlementReference 平仓时 balance += exit×qty + pnl
	SettlementReference = "reference"
	// SettlementConserving 平仓时 balance += entry×qty + pnl，资金守恒
	SettlementConserving = "conserving"

	monitorConcurrency = 8
)

var (
	ErrMaxOpenPositions    = errors.New("max open positions reached")
	ErrTradeLimitReached   = errors.New("session trade limit reached")
	ErrInvalidPrice        = errors.New("invalid price")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPositionNotFound    = errors.New("position not found")
)

// PriceSource 提供最新成交价，exchange.MarketData 满足该接口
type PriceSource interface {
	FetchLastPrice(ctx context.Context, symbol string) (float64, error)
}

// Options 模拟盘的准入限制和结算方式
type Options struct {
	MaxOpenPositions    int
	MaxClosedTrades     int
	MaxPositionFraction float64
	Settlement          string
}

// DefaultOptions 返回默认限制
func DefaultOptions() Options {
	return Options{
		MaxOpenPositions:    DefaultMaxOpenPositions,
		MaxClosedTrades:     DefaultMaxClosedTrades,
		MaxPositionFraction: DefaultMaxPositionFraction,
		Settlement:          SettlementReference,
	}
}

// OptionsFromConfig 从配置构造 Options，未设置的字段使用默认值
func OptionsFromConfig(cfg models.SimulatorConfig) Options {
	opts := DefaultOptions()
	if cfg.MaxOpenPositions > 0 {
		opts.MaxOpenPositions = cfg.MaxOpenPositions
	}
	if cfg.MaxClosedTrades > 0 {
		opts.MaxClosedTrades = cfg.MaxClosedTrades
	}
	opts.MaxPositionFraction = cfg.MaxPositionFraction
	if cfg.Settlement != "" {
		opts.Settlement = cfg.Settlement
	}
	return opts
}

// Portfolio 模拟账户：现金余额、未平仓位和已平仓交易
type Portfolio struct {
	mu      sync.Mutex
	balance float64
	initial float64
	open    []*models.Position // 保持开仓顺序
	trades  []models.Trade
	opts    Options
	seq     uint64
}

// NewPortfolio 用初始资金创建账户
func NewPortfolio(initialBalance float64, opts Options) *Portfolio {
	return &Portfolio{
		balance: initialBalance,
		initial: initialBalance,
		open:    make([]*models.Position, 0),
		trades:  make([]models.Trade, 0),
		opts:    opts,
	}
}

// Balance 当前现金余额
func (p *Portfolio) Balance() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}

// InitialBalance 初始资金
func (p *Portfolio) InitialBalance() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initial
}

// CanOpen 检查准入限制
func (p *Portfolio) CanOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canOpenLocked()
}

func (p *Portfolio) canOpenLocked() error {
	if len(p.open) >= p.opts.MaxOpenPositions {
		return fmt.Errorf("%w: %d/%d", ErrMaxOpenPositions, len(p.open), p.opts.MaxOpenPositions)
	}
	if len(p.trades) >= p.opts.MaxClosedTrades {
		return fmt.Errorf("%w: %d/%d", ErrTradeLimitReached, len(p.trades), p.opts.MaxClosedTrades)
	}
	return nil
}

// PositionSize 按1%风险和0.1%止损距离计算数量，并按 MaxPositionFraction 限制占用资金
func (p *Portfolio) PositionSize(balance, price float64) float64 {
	qty := balance * RiskFraction / (price * StopLossFraction)
	if p.opts.MaxPositionFraction > 0 {
		maxQty := balance * p.opts.MaxPositionFraction / price
		if qty > maxQty {
			qty = maxQty
		}
	}
	return qty
}

// Open 以给定价格开一个现货多仓，扣除占用资金
func (p *Portfolio) Open(symbol string, price float64, now time.Time) (*models.Position, error) {
	if price <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.canOpenLocked(); err != nil {
		return nil, err
	}
	if p.balance <= 0 {
		return nil, fmt.Errorf("%w: %.2f", ErrInsufficientBalance, p.balance)
	}

	qty := p.PositionSize(p.balance, price)
	p.seq++
	pos := &models.Position{
		ID:          p.nextID(now),
		Symbol:      symbol,
		EntryPrice:  price,
		Quantity:    qty,
		StopPrice:   price * (1 - StopLossFraction),
		TargetPrice: price * (1 + TakeProfitFraction),
		OpenedAt:    now,
		State:       models.PositionOpen,
	}
	p.balance -= price * qty
	p.open = append(p.open, pos)

	out := *pos
	return &out, nil
}

func (p *Portfolio) nextID(now time.Time) string {
	id := base62.FormatInt(now.UnixMilli())
	id = append(id, '-')
	return string(base62.AppendUint(id, p.seq))
}

// Evaluate 按 止损 > 止盈 > 超时 的优先级判断持仓是否需要平仓
func Evaluate(pos models.Position, price float64, now time.Time) (models.CloseType, bool) {
	switch {
	case price <= pos.StopPrice:
		return models.CloseStop, true
	case price >= pos.TargetPrice:
		return models.CloseTarget, true
	case now.Sub(pos.OpenedAt) >= PositionTimeout:
		return models.CloseTimeout, true
	default:
		return "", false
	}
}

// Close 平掉指定持仓并结算。持仓先被移除，重复平仓返回 ErrPositionNotFound。
func (p *Portfolio) Close(id string, exitPrice float64, closeType models.CloseType, now time.Time) (models.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := -1
	for i, pos := range p.open {
		if pos.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.Trade{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	pos := p.open[idx]
	p.open = append(p.open[:idx], p.open[idx+1:]...)
	pos.State = models.PositionClosed

	fees := pos.EntryPrice * pos.Quantity * FeeRate
	pnl := (exitPrice-pos.EntryPrice)*pos.Quantity - fees
	if p.opts.Settlement == SettlementConserving {
		p.balance += pos.EntryPrice*pos.Quantity + pnl
	} else {
		p.balance += exitPrice*pos.Quantity + pnl
	}

	trade := models.Trade{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   pos.Quantity,
		Fees:       fees,
		PnL:        pnl,
		CloseType:  closeType,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   now,
	}
	p.trades = append(p.trades, trade)
	return trade, nil
}

// Monitor 并发获取每个持仓的最新价，然后按开仓顺序逐个判断和平仓。
// 获取价格失败的持仓本轮跳过，错误一并返回。
func (p *Portfolio) Monitor(ctx context.Context, prices PriceSource, now time.Time) ([]models.Trade, []error) {
	positions := p.OpenPositions()
	if len(positions) == 0 {
		return nil, nil
	}

	latest := make([]float64, len(positions))
	fetchErrs := make([]error, len(positions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(monitorConcurrency)
	for i, pos := range positions {
		i, symbol := i, pos.Symbol
		g.Go(func() error {
			price, err := prices.FetchLastPrice(gctx, symbol)
			if err != nil {
				fetchErrs[i] = fmt.Errorf("获取 %s 最新价失败: %w", symbol, err)
				return nil
			}
			latest[i] = price
			return nil
		})
	}
	_ = g.Wait()

	var (
		closed []models.Trade
		errs   []error
	)
	for i, pos := range positions {
		if fetchErrs[i] != nil {
			errs = append(errs, fetchErrs[i])
			continue
		}
		closeType, ok := Evaluate(pos, latest[i], now)
		if !ok {
			continue
		}
		trade, err := p.Close(pos.ID, latest[i], closeType, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		closed = append(closed, trade)
	}
	return closed, errs
}

// OpenPositions 返回未平仓位的副本，保持开仓顺序
func (p *Portfolio) OpenPositions() []models.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Position, len(p.open))
	for i, pos := range p.open {
		out[i] = *pos
	}
	return out
}

// Trades 返回已平仓交易的副本
func (p *Portfolio) Trades() []models.Trade {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Trade, len(p.trades))
	copy(out, p.trades)
	return out
}

// Snapshot 组合状态的深拷贝
type Snapshot struct {
	Balance   float64
	Initial   float64
	Positions []models.Position
	Trades    []models.Trade
}

// Snapshot 返回当前状态的深拷贝，可在锁外安全读取
func (p *Portfolio) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	positions := make([]models.Position, len(p.open))
	for i, pos := range p.open {
		positions[i] = *pos
	}
	trades := make([]models.Trade, len(p.trades))
	copy(trades, p.trades)
	return Snapshot{Balance: p.balance, Initial: p.initial, Positions: positions, Trades: trades}
}

// State 转换为持久化文档
func (p *Portfolio) State(now time.Time) *models.PaperState {
	snap := p.Snapshot()
	state := &models.PaperState{
		Balance:   snap.Balance,
		Initial:   snap.Initial,
		Positions: make([]models.PositionRecord, len(snap.Positions)),
		Trades:    make([]models.TradeRecord, len(snap.Trades)),
		LastSave:  now,
	}
	for i, pos := range snap.Positions {
		state.Positions[i] = models.NewPositionRecord(pos)
	}
	for i, t := range snap.Trades {
		state.Trades[i] = models.NewTradeRecord(t)
	}
	return state
}

// Restore 用持久化文档替换当前状态。文档缺少余额或初始资金时保留本次会话选择的金额
func (p *Portfolio) Restore(state *models.PaperState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if state.Balance > 0 {
		p.balance = state.Balance
	}
	if state.Initial > 0 {
		p.initial = state.Initial
	}
	p.open = make([]*models.Position, 0, len(state.Positions))
	for _, r := range state.Positions {
		pos := r.ToPosition()
		p.seq++
		if pos.ID == "" {
			pos.ID = p.nextID(pos.OpenedAt)
		}
		p.open = append(p.open, &pos)
	}
	p.trades = make([]models.Trade, 0, len(state.Trades))
	for _, r := range state.Trades {
		p.trades = append(p.trades, r.ToTrade())
	}
}
