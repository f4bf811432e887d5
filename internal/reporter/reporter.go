package reporter

import (
	"fmt"
	"io"
	"math"
	"time"

	"binance-spot-signal-bot-go/internal/models"
	"binance-spot-signal-bot-go/internal/simulator"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"
)

// Metrics 存储计算出的所有回测性能指标
type Metrics struct {
	InitialBalance   float64
	FinalBalance     float64
	TotalProfit      float64
	ProfitPercentage float64
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	AvgProfitLoss    float64
	MaxDrawdown      float64
	CloseTypes       map[models.CloseType]int
	EndingCash       float64 // 期末现金
	EndingAssetValue float64 // 期末持仓市值
	OpenPositions    int
	StartTime        time.Time
	EndTime          time.Time
}

// CalculateMetrics 根据回测结束时的账户概览、交易记录和权益曲线计算指标
func CalculateMetrics(summary simulator.Summary, trades []models.Trade, equityCurve []float64) *Metrics {
	m := &Metrics{
		InitialBalance: summary.InitialBalance,
		EndingCash:     summary.Balance,
		FinalBalance:   summary.TotalValue,
		TotalTrades:    len(trades),
		OpenPositions:  len(summary.Positions),
		CloseTypes:     make(map[models.CloseType]int),
	}
	m.EndingAssetValue = m.FinalBalance - m.EndingCash

	var totalProfit, totalLoss float64
	for _, trade := range trades {
		m.CloseTypes[trade.CloseType]++
		if trade.PnL > 0 {
			m.WinningTrades++
			totalProfit += trade.PnL
		} else {
			m.LosingTrades++
			totalLoss += trade.PnL
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if m.LosingTrades > 0 && m.WinningTrades > 0 && totalLoss != 0 {
		avgWin := totalProfit / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		m.AvgProfitLoss = avgWin / avgLoss
	}

	m.TotalProfit = m.FinalBalance - m.InitialBalance
	if m.InitialBalance != 0 {
		m.ProfitPercentage = (m.TotalProfit / m.InitialBalance) * 100
	}
	m.MaxDrawdown = calculateMaxDrawdown(equityCurve) * 100
	return m
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

// GenerateReport 打印回测结果报告
func GenerateReport(w io.Writer, m *Metrics, source string) {
	t := newTable(w, "回测结果报告")
	t.AppendRows([]table.Row{
		{"数据来源", source},
		{"回测周期", fmt.Sprintf("%s 到 %s", m.StartTime.Format("2006-01-02 15:04"), m.EndTime.Format("2006-01-02 15:04"))},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"初始资金", usdt(m.InitialBalance)},
		{"最终资金", usdt(m.FinalBalance)},
		{"总利润", signed(m.TotalProfit)},
		{"收益率", fmt.Sprintf("%.2f%%", m.ProfitPercentage)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"总交易次数", m.TotalTrades},
		{"盈利次数", m.WinningTrades},
		{"亏损次数", m.LosingTrades},
		{"胜率", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"平均盈亏比", fmt.Sprintf("%.2f", m.AvgProfitLoss)},
		{"最大回撤", fmt.Sprintf("%.2f%%", m.MaxDrawdown)},
		{"止损/止盈/超时", fmt.Sprintf("%d / %d / %d", m.CloseTypes[models.CloseStop], m.CloseTypes[models.CloseTarget], m.CloseTypes[models.CloseTimeout])},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"期末现金", usdt(m.EndingCash)},
		{"期末持仓市值", fmt.Sprintf("%s (%d 个持仓)", usdt(m.EndingAssetValue), m.OpenPositions)},
	})
	t.Render()
}

// RenderSignal 打印单个交易对的分析结果
func RenderSignal(w io.Writer, sig models.Signal) {
	t := newTable(w, fmt.Sprintf("%s  %s", sig.Symbol, sig.GeneratedAt.Format("15:04:05")))
	ind := sig.Indicators
	t.AppendRows([]table.Row{
		{"Price", price(sig.CurrentPrice)},
		{"Support", price(ind.Support)},
		{"Resistance", price(ind.Resistance)},
		{"RSI(7)", fmt.Sprintf("%.1f", ind.RSI)},
		{"Volume Ratio", fmt.Sprintf("%.2fx", ind.VolumeRatio)},
		{"Order Book Imbalance", fmt.Sprintf("%+.2f", ind.OrderBookImbalance)},
		{"VWAP Distance", fmt.Sprintf("%+.3f%%", ind.VWAPDistancePct)},
		{"Momentum 1m", fmt.Sprintf("%+.3f%%", ind.Momentum1mPct)},
	})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Signal", classColor(sig.Classification).Sprintf("%s (%+d)", sig.Classification, sig.Score)})
	t.AppendRow(table.Row{"Confidence", sig.Confidence})
	for _, r := range sig.Reasons {
		t.AppendRow(table.Row{"", "• " + r.Label()})
	}

	if sig.StopPrice != nil && sig.TakeProfitPrice != nil {
		stop, target := *sig.StopPrice, *sig.TakeProfitPrice
		risk := math.Abs(sig.CurrentPrice - stop)
		reward := math.Abs(target - sig.CurrentPrice)
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"Position", sig.PositionType},
			{"Entry", price(sig.EntryPrice)},
			{"Stop Loss", fmt.Sprintf("%s (%.2f%%)", price(stop), pctFrom(sig.CurrentPrice, stop))},
			{"Take Profit", fmt.Sprintf("%s (%.2f%%)", price(target), pctFrom(sig.CurrentPrice, target))},
			{"Risk/Reward", riskReward(risk, reward)},
			{"Duration", sig.Duration},
		})
	} else {
		t.AppendRow(table.Row{"Position", sig.PositionType})
	}
	t.Render()
}

// RenderHistory 打印最近的强信号
func RenderHistory(w io.Writer, history []models.SignalHistoryEntry, limit int) {
	if len(history) == 0 {
		return
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	t := newTable(w, "Strong Signal History")
	t.AppendHeader(table.Row{"Time", "Symbol", "Signal", "Price", "Score"})
	for _, e := range history {
		t.AppendRow(table.Row{e.Time.Format("15:04:05"), e.Symbol, classColor(e.Signal).Sprint(e.Signal), price(e.Price), fmt.Sprintf("%+d", e.Score)})
	}
	t.Render()
}

// RenderTrades 打印已平仓交易列表，空列表不输出
func RenderTrades(w io.Writer, trades []models.Trade) {
	if len(trades) == 0 {
		return
	}
	t := newTable(w, "Recent Trades")
	t.AppendHeader(table.Row{"Closed", "Symbol", "Entry", "Exit", "Type", "P&L"})
	for _, tr := range trades {
		t.AppendRow(table.Row{
			tr.ClosedAt.Format("01-02 15:04:05"), tr.Symbol, price(tr.EntryPrice), price(tr.ExitPrice),
			tr.CloseType, pnlColor(tr.PnL).Sprint(money(tr.PnL)),
		})
	}
	t.Render()
}

// RenderDashboard 打印模拟盘账户概览和持仓
func RenderDashboard(w io.Writer, s simulator.Summary, now time.Time) {
	t := newTable(w, "Paper Trading  "+now.Format("2006-01-02 15:04:05"))
	t.AppendRows([]table.Row{
		{"Starting Balance", usdt(s.InitialBalance)},
		{"Balance", usdt(s.Balance)},
		{"Total Value", usdt(s.TotalValue)},
		{"Total P&L", signed(s.TotalPnL)},
		{"ROI", pnlColor(s.ROI).Sprintf("%+.2f%%", s.ROI)},
		{"Trades", s.TotalTrades},
		{"Wins", s.Wins},
		{"Win Rate", fmt.Sprintf("%.1f%%", s.WinRate)},
	})
	t.Render()

	if len(s.Positions) == 0 {
		fmt.Fprintln(w, "No active positions")
		return
	}
	pt := newTable(w, "Active Positions")
	pt.AppendHeader(table.Row{"Symbol", "Entry", "Current", "Qty", "Stop", "Target", "P&L", "Age"})
	for _, v := range s.Positions {
		pnl := "n/a"
		if v.HasPrice {
			pnl = pnlColor(v.UnrealizedPnL).Sprintf("%s (%+.2f%%)", money(v.UnrealizedPnL), v.PnLPct)
		}
		pt.AppendRow(table.Row{
			v.Position.Symbol, price(v.Position.EntryPrice), price(v.CurrentPrice),
			fmt.Sprintf("%.6f", v.Position.Quantity), price(v.Position.StopPrice), price(v.Position.TargetPrice),
			pnl, now.Sub(v.Position.OpenedAt).Truncate(time.Second),
		})
	}
	pt.Render()
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("%s", title)
	return t
}

func classColor(c models.Classification) text.Colors {
	switch {
	case c.IsBuy():
		return text.Colors{text.FgGreen}
	case c.IsSell():
		return text.Colors{text.FgRed}
	default:
		return text.Colors{text.FgYellow}
	}
}

func pnlColor(v float64) text.Colors {
	if v >= 0 {
		return text.Colors{text.FgGreen}
	}
	return text.Colors{text.FgRed}
}

func pctFrom(base, v float64) float64 {
	if base == 0 {
		return 0
	}
	return (v - base) / base * 100
}

func riskReward(risk, reward float64) string {
	if risk == 0 {
		return "n/a"
	}
	return fmt.Sprintf("1:%.1f", reward/risk)
}

// money 保留两位小数
func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func usdt(v float64) string {
	return money(v) + " USDT"
}

func signed(v float64) string {
	s := money(v)
	if v >= 0 {
		s = "+" + s
	}
	return pnlColor(v).Sprint(s + " USDT")
}

// price 按价格量级选择小数位
func price(v float64) string {
	places := int32(2)
	switch a := math.Abs(v); {
	case a == 0:
	case a < 1:
		places = 6
	case a < 100:
		places = 4
	}
	return decimal.NewFromFloat(v).StringFixed(places)
}
