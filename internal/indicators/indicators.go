// Package indicators 实现信号评分所用的技术指标。
// 所有函数都是纯函数，除零等退化情况返回约定的兜底值而不是错误。
package indicators

import (
	"errors"
	"fmt"
	"math"

	"binance-spot-signal-bot-go/internal/models"

	"github.com/go-playground/validator/v10"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultRSIPeriod = 7  // RSI 周期
	BookLevels       = 5  // 盘口失衡只看前5档
	SRLookback       = 50 // 支撑/阻力回看的K线数量
	SRWindow         = 5  // 局部极值窗口
	VolatilityWindow = 20
	VolumeWindow     = 10

	supportFallback    = 0.998
	resistanceFallback = 1.002
)

var (
	// ErrInsufficientData 没有任何K线可供计算
	ErrInsufficientData = errors.New("insufficient market data")
	// ErrIndicatorOutOfRange 指标超出取值范围，通常是输入里有 NaN/Inf 或负价格
	ErrIndicatorOutOfRange = errors.New("indicator out of range")
)

var validate = validator.New()

// RSI 使用最近 period 个价格变化的简单平均计算相对强弱指数。
// 数据不足 period+1 个时返回 50，平均跌幅为 0 时返回 100。
func RSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return 50
	}

	var gainSum, lossSum float64
	for i := len(prices) - period; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum -= delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// OrderBookImbalance 计算前5档买卖挂单量的失衡度，范围 [-1, 1]
func OrderBookImbalance(ob models.OrderBook) float64 {
	bidVol := sumVolume(ob.Bids)
	askVol := sumVolume(ob.Asks)
	total := bidVol + askVol
	if total == 0 {
		return 0
	}
	return (bidVol - askVol) / total
}

func sumVolume(levels []models.PriceLevel) float64 {
	n := len(levels)
	if n > BookLevels {
		n = BookLevels
	}
	var sum float64
	for _, l := range levels[:n] {
		sum += l.Volume
	}
	return sum
}

// SupportResistance 在最近50根K线中寻找局部高低点，
// 返回当前价下方最近的支撑和上方最近的阻力。找不到时按 ±0.2% 合成。
func SupportResistance(candles []models.Candle, currentPrice float64) (support, resistance float64) {
	support = currentPrice * supportFallback
	resistance = currentPrice * resistanceFallback

	window := tail(candles, SRLookback)
	foundSupport, foundResistance := false, false
	for i := 0; i < len(window)-SRWindow; i++ {
		high, low := window[i].High, window[i].Low
		maxHigh, minLow := high, low
		for _, c := range window[i : i+SRWindow] {
			maxHigh = math.Max(maxHigh, c.High)
			minLow = math.Min(minLow, c.Low)
		}

		if high == maxHigh && high > currentPrice {
			if !foundResistance || high < resistance {
				resistance = high
				foundResistance = true
			}
		}
		if low == minLow && low < currentPrice {
			if !foundSupport || low > support {
				support = low
				foundSupport = true
			}
		}
	}
	return support, resistance
}

// Volatility 最近20个收盘价变化率的样本标准差
func Volatility(candles []models.Candle) float64 {
	changes := make([]float64, 0, len(candles))
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev == 0 {
			continue
		}
		changes = append(changes, (candles[i].Close-prev)/prev)
	}
	if len(changes) > VolatilityWindow {
		changes = changes[len(changes)-VolatilityWindow:]
	}
	if len(changes) < 2 {
		return 0
	}
	return stat.StdDev(changes, nil)
}

// VWAPDistance 最新收盘价相对累计VWAP的百分比距离
func VWAPDistance(candles []models.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var pv, vol float64
	for _, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		pv += typical * c.Volume
		vol += c.Volume
	}
	if vol == 0 {
		return 0
	}
	vwap := pv / vol
	if vwap == 0 {
		return 0
	}
	last := candles[len(candles)-1].Close
	return (last - vwap) / vwap * 100
}

// VolumeRatio 最新成交量与最近10根平均成交量之比
func VolumeRatio(candles []models.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	window := tail(candles, VolumeWindow)
	volumes := make([]float64, len(window))
	for i, c := range window {
		volumes[i] = c.Volume
	}
	mean := stat.Mean(volumes, nil)
	if mean == 0 {
		return 0
	}
	return candles[len(candles)-1].Volume / mean
}

// Momentum1m 最后两根K线收盘价的百分比变化
func Momentum1m(candles []models.Candle) float64 {
	n := len(candles)
	if n < 2 || candles[n-2].Close == 0 {
		return 0
	}
	return (candles[n-1].Close - candles[n-2].Close) / candles[n-2].Close * 100
}

// Closes 提取收盘价序列
func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Compute 计算一个交易对的完整指标集合。
// 没有K线时返回中性指标和 ErrInsufficientData，调用方可以记录后继续。
func Compute(candles []models.Candle, ob models.OrderBook) (models.IndicatorSet, error) {
	if len(candles) == 0 {
		return models.IndicatorSet{
			RSI:                50,
			OrderBookImbalance: OrderBookImbalance(ob),
		}, ErrInsufficientData
	}

	price := candles[len(candles)-1].Close
	support, resistance := SupportResistance(candles, price)
	set := models.IndicatorSet{
		RSI:                RSI(Closes(candles), DefaultRSIPeriod),
		OrderBookImbalance: OrderBookImbalance(ob),
		VolumeRatio:        VolumeRatio(candles),
		VWAPDistancePct:    VWAPDistance(candles),
		Momentum1mPct:      Momentum1m(candles),
		Volatility:         Volatility(candles),
		Support:            support,
		Resistance:         resistance,
	}
	if err := validateSet(set); err != nil {
		return set, err
	}
	return set, nil
}

// validateSet 按 IndicatorSet 上的 validate 标签校验范围，
// 无标签的两个百分比字段只检查是否为有限值
func validateSet(set models.IndicatorSet) error {
	if err := validate.Struct(set); err != nil {
		return fmt.Errorf("%w: %v", ErrIndicatorOutOfRange, err)
	}
	for name, v := range map[string]float64{"VWAPDistancePct": set.VWAPDistancePct, "Momentum1mPct": set.Momentum1mPct} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s=%v", ErrIndicatorOutOfRange, name, v)
		}
	}
	return nil
}

func tail(candles []models.Candle, n int) []models.Candle {
	if len(candles) > n {
		return candles[len(candles)-n:]
	}
	return candles
}
