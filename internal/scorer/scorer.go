// Package scorer 把指标集合转换为带交易计划的信号。
package scorer

import (
	"math"
	"time"

	"binance-spot-signal-bot-go/internal/models"
)

const (
	// DefaultStrengthThreshold |score| 达到该值的信号记入历史
	DefaultStrengthThreshold = 4

	proximityPct      = 0.5
	vwapBandPct       = 0.1
	momentumThreshold = 0.1
	fastVolatility    = 0.01
)

// Score 按固定顺序评估14条规则，返回总分和触发的规则。
// 动量规则依赖它之前累计的分数，顺序不能调整。
func Score(set models.IndicatorSet, price float64) (int, []models.ReasonCode) {
	score := 0
	reasons := make([]models.ReasonCode, 0, 6)
	add := func(delta int, code models.ReasonCode) {
		score += delta
		reasons = append(reasons, code)
	}

	switch {
	case set.RSI < 30:
		add(3, models.ReasonRSIOversold)
	case set.RSI < 35:
		add(2, models.ReasonRSILow)
	case set.RSI > 70:
		add(-3, models.ReasonRSIOverbought)
	case set.RSI > 65:
		add(-2, models.ReasonRSIHigh)
	}

	switch {
	case set.OrderBookImbalance > 0.4:
		add(3, models.ReasonStrongBuying)
	case set.OrderBookImbalance > 0.3:
		add(2, models.ReasonBuyingPressure)
	case set.OrderBookImbalance < -0.4:
		add(-3, models.ReasonStrongSelling)
	case set.OrderBookImbalance < -0.3:
		add(-2, models.ReasonSellingPressure)
	}

	switch {
	case set.VolumeRatio > 2.0:
		add(2, models.ReasonHighVolume)
	case set.VolumeRatio > 1.5:
		add(1, models.ReasonGoodVolume)
	}

	if math.Abs(set.VWAPDistancePct) < vwapBandPct {
		add(1, models.ReasonFairPriceVWAP)
	}

	if set.Momentum1mPct > momentumThreshold && score > 0 {
		add(1, models.ReasonMomentum)
	}

	if set.Support > 0 && (price-set.Support)/set.Support*100 < proximityPct {
		add(1, models.ReasonAtSupport)
	}
	if price > 0 && set.Resistance > 0 && (set.Resistance-price)/price*100 < proximityPct {
		add(-1, models.ReasonAtResistance)
	}

	return score, reasons
}

// Classify 根据分数给出信号等级和置信度
func Classify(score int) (models.Classification, models.Confidence) {
	switch {
	case score >= 6:
		return models.StrongBuy, models.ConfidenceVeryHigh
	case score >= 4:
		return models.Buy, models.ConfidenceHigh
	case score >= 2:
		return models.WeakBuy, models.ConfidenceModerate
	case score <= -6:
		return models.StrongSell, models.ConfidenceVeryHigh
	case score <= -4:
		return models.Sell, models.ConfidenceHigh
	case score <= -2:
		return models.WeakSell, models.ConfidenceModerate
	default:
		return models.WaitHold, models.ConfidenceLow
	}
}

// TradePlan 信号附带的交易计划
type TradePlan struct {
	Entry        float64
	Stop         *float64
	TakeProfit   *float64
	Duration     models.DurationBucket
	PositionType models.PositionType
}

// Plan 根据信号等级推导入场、止损和止盈价格。
// 卖出计划只用于展示，模拟盘不会开空。
func Plan(class models.Classification, price, volatility float64) TradePlan {
	duration := models.DurationSlow
	if volatility > fastVolatility {
		duration = models.DurationFast
	}

	switch {
	case class.IsBuy():
		stop, target := price*0.999, price*1.0015
		return TradePlan{Entry: price * 0.9995, Stop: &stop, TakeProfit: &target, Duration: duration, PositionType: models.PositionSpotBuy}
	case class.IsSell():
		stop, target := price*1.001, price*0.9985
		return TradePlan{Entry: price * 1.0005, Stop: &stop, TakeProfit: &target, Duration: duration, PositionType: models.PositionSpotSell}
	default:
		return TradePlan{Entry: price, Duration: models.DurationWait, PositionType: models.PositionNone}
	}
}

// Scorer 生成信号，只持有用于时间戳的时钟
type Scorer struct {
	now func() time.Time
}

// New 创建使用系统时钟的 Scorer
func New() *Scorer {
	return &Scorer{now: time.Now}
}

// NewWithClock 创建使用指定时钟的 Scorer，回测时使用回放时钟
func NewWithClock(now func() time.Time) *Scorer {
	return &Scorer{now: now}
}

// Evaluate 对一个交易对的指标生成完整信号
func (s *Scorer) Evaluate(symbol string, price float64, set models.IndicatorSet) models.Signal {
	score, reasons := Score(set, price)
	class, confidence := Classify(score)
	plan := Plan(class, price, set.Volatility)

	return models.Signal{
		Symbol:          symbol,
		Score:           score,
		Classification:  class,
		Confidence:      confidence,
		Reasons:         reasons,
		CurrentPrice:    price,
		EntryPrice:      plan.Entry,
		StopPrice:       plan.Stop,
		TakeProfitPrice: plan.TakeProfit,
		Duration:        plan.Duration,
		PositionType:    plan.PositionType,
		Indicators:      set,
		GeneratedAt:     s.now(),
	}
}

// IsStrong 判断信号是否足够强以记入历史
func IsStrong(sig models.Signal, threshold int) bool {
	score := sig.Score
	if score < 0 {
		score = -score
	}
	return score >= threshold
}
