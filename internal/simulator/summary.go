package simulator

import "binance-spot-signal-bot-go/internal/models"

// PositionView 带最新价的持仓展示数据
type PositionView struct {
	Position      models.Position
	CurrentPrice  float64
	UnrealizedPnL float64
	PnLPct        float64
	HasPrice      bool
}

// Summary 账户概览，仅用于展示，不修改状态
type Summary struct {
	InitialBalance float64
	Balance        float64
	TotalValue     float64 // 余额 + Σ 最新价×数量
	UnrealizedPnL  float64
	RealizedPnL    float64
	TotalPnL       float64
	ROI            float64 // 百分比
	TotalTrades    int
	Wins           int
	WinRate        float64 // 百分比
	Positions      []PositionView
}

// UnrealizedPnL 单个持仓的浮动盈亏，扣除开仓手续费和预估平仓手续费
func UnrealizedPnL(pos models.Position, currentPrice float64) float64 {
	entryFee := pos.EntryPrice * pos.Quantity * (FeeRate / 2)
	exitFee := currentPrice * pos.Quantity * (FeeRate / 2)
	return (currentPrice-pos.EntryPrice)*pos.Quantity - entryFee - exitFee
}

// Summary 用给定的最新价计算账户概览。缺少价格的持仓按开仓价计算市值。
func (p *Portfolio) Summary(prices map[string]float64) Summary {
	snap := p.Snapshot()
	s := Summary{
		InitialBalance: snap.Initial,
		Balance:        snap.Balance,
		TotalValue:     snap.Balance,
		TotalTrades:    len(snap.Trades),
		Positions:      make([]PositionView, 0, len(snap.Positions)),
	}

	for _, pos := range snap.Positions {
		view := PositionView{Position: pos, CurrentPrice: pos.EntryPrice}
		if price, ok := prices[pos.Symbol]; ok && price > 0 {
			view.CurrentPrice = price
			view.HasPrice = true
			view.UnrealizedPnL = UnrealizedPnL(pos, price)
			if pos.PositionValue() > 0 {
				view.PnLPct = view.UnrealizedPnL / pos.PositionValue() * 100
			}
			s.UnrealizedPnL += view.UnrealizedPnL
		}
		s.TotalValue += view.CurrentPrice * pos.Quantity
		s.Positions = append(s.Positions, view)
	}

	for _, t := range snap.Trades {
		s.RealizedPnL += t.PnL
		if t.PnL > 0 {
			s.Wins++
		}
	}
	s.TotalPnL = s.RealizedPnL + s.UnrealizedPnL
	if s.InitialBalance > 0 {
		s.ROI = (s.TotalValue - s.InitialBalance) / s.InitialBalance * 100
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalTrades) * 100
	}
	return s
}
