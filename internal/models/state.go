package models

import "time"

// PaperState 定义了模拟盘需要持久化的所有数据
type PaperState struct {
	Balance   float64          `json:"balance"`   // 当前可用现金
	Initial   float64          `json:"initial"`   // 初始资金
	Positions []PositionRecord `json:"positions"` // 未平仓位，保持开仓顺序
	Trades    []TradeRecord    `json:"trades"`    // 已平仓交易，只追加
	LastSave  time.Time        `json:"last_save"` // 最后保存时间 (ISO-8601)
}

// PositionRecord 是持仓的落盘形式
type PositionRecord struct {
	ID            string    `json:"id,omitempty"`
	Symbol        string    `json:"symbol"`
	EntryPrice    float64   `json:"entry_price"`
	Qty           float64   `json:"qty"`
	Stop          float64   `json:"stop"`
	Target        float64   `json:"target"`
	EntryTime     time.Time `json:"entry_time"`
	PositionValue float64   `json:"position_value"`
}

// TradeRecord 是已平仓交易的落盘形式。pnl 与 type 为必备字段，其余为补充信息
type TradeRecord struct {
	PnL        float64   `json:"pnl"`
	Type       CloseType `json:"type"`
	PositionID string    `json:"position_id,omitempty"`
	Symbol     string    `json:"symbol,omitempty"`
	EntryPrice float64   `json:"entry_price,omitempty"`
	ExitPrice  float64   `json:"exit_price,omitempty"`
	Qty        float64   `json:"qty,omitempty"`
	Fees       float64   `json:"fees,omitempty"`
	EntryTime  time.Time `json:"entry_time,omitempty"`
	ClosedAt   time.Time `json:"closed_at,omitempty"`
}

// AnalyzerState 定义了行情分析器需要持久化的数据
type AnalyzerState struct {
	SignalHistory []SignalRecord `json:"signal_history"`
	LastSave      time.Time      `json:"last_save"`
}

// SignalRecord 是强信号历史的落盘形式
type SignalRecord struct {
	Time   time.Time      `json:"time"`
	Symbol string         `json:"symbol"`
	Signal Classification `json:"signal"`
	Price  float64        `json:"price"`
	Score  int            `json:"score"`
}

// NewPositionRecord 把持仓转换为落盘形式
func NewPositionRecord(p Position) PositionRecord {
	return PositionRecord{
		ID:            p.ID,
		Symbol:        p.Symbol,
		EntryPrice:    p.EntryPrice,
		Qty:           p.Quantity,
		Stop:          p.StopPrice,
		Target:        p.TargetPrice,
		EntryTime:     p.OpenedAt,
		PositionValue: p.PositionValue(),
	}
}

// ToPosition 从落盘形式恢复持仓
func (r PositionRecord) ToPosition() Position {
	return Position{
		ID:          r.ID,
		Symbol:      r.Symbol,
		EntryPrice:  r.EntryPrice,
		Quantity:    r.Qty,
		StopPrice:   r.Stop,
		TargetPrice: r.Target,
		OpenedAt:    r.EntryTime,
		State:       PositionOpen,
	}
}

// NewTradeRecord 把交易转换为落盘形式
func NewTradeRecord(t Trade) TradeRecord {
	return TradeRecord{
		PnL:        t.PnL,
		Type:       t.CloseType,
		PositionID: t.PositionID,
		Symbol:     t.Symbol,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		Qty:        t.Quantity,
		Fees:       t.Fees,
		EntryTime:  t.OpenedAt,
		ClosedAt:   t.ClosedAt,
	}
}

// ToTrade 从落盘形式恢复交易
func (r TradeRecord) ToTrade() Trade {
	return Trade{
		PositionID: r.PositionID,
		Symbol:     r.Symbol,
		EntryPrice: r.EntryPrice,
		ExitPrice:  r.ExitPrice,
		Quantity:   r.Qty,
		Fees:       r.Fees,
		PnL:        r.PnL,
		CloseType:  r.Type,
		OpenedAt:   r.EntryTime,
		ClosedAt:   r.ClosedAt,
	}
}

// NewSignalRecord 把历史条目转换为落盘形式
func NewSignalRecord(e SignalHistoryEntry) SignalRecord {
	return SignalRecord{Time: e.Time, Symbol: e.Symbol, Signal: e.Signal, Price: e.Price, Score: e.Score}
}

// ToEntry 从落盘形式恢复历史条目
func (r SignalRecord) ToEntry() SignalHistoryEntry {
	return SignalHistoryEntry{Time: r.Time, Symbol: r.Symbol, Signal: r.Signal, Price: r.Price, Score: r.Score}
}
