package scorer

import (
	"testing"
	"time"

	"binance-spot-signal-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// neutral 不触发任何规则的指标集合
func neutral() models.IndicatorSet {
	return models.IndicatorSet{
		RSI:             50,
		VolumeRatio:     1,
		VWAPDistancePct: 1,
		Support:         90,
		Resistance:      110,
	}
}

func TestScoreNeutral(t *testing.T) {
	score, reasons := Score(neutral(), 100)
	assert.Equal(t, 0, score)
	assert.Empty(t, reasons)
}

func TestStrongBuyScenario(t *testing.T) {
	set := models.IndicatorSet{
		RSI:                25,
		OrderBookImbalance: 0.45,
		VolumeRatio:        2.2,
		VWAPDistancePct:    0,
		Momentum1mPct:      0.2,
		Support:            90,
		Resistance:         110,
	}

	sig := NewWithClock(func() time.Time { return time.Unix(0, 0) }).Evaluate("BTC/USDT", 100, set)
	assert.Equal(t, 10, sig.Score)
	assert.Equal(t, models.StrongBuy, sig.Classification)
	assert.Equal(t, models.ConfidenceVeryHigh, sig.Confidence)
	assert.Equal(t, []models.ReasonCode{
		models.ReasonRSIOversold,
		models.ReasonStrongBuying,
		models.ReasonHighVolume,
		models.ReasonFairPriceVWAP,
		models.ReasonMomentum,
	}, sig.Reasons)
	assert.Equal(t, models.PositionSpotBuy, sig.PositionType)
	assert.Equal(t, time.Unix(0, 0), sig.GeneratedAt)
}

func TestScoreRuleBuckets(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.IndicatorSet)
		score  int
		reason models.ReasonCode
	}{
		{"rsi oversold", func(s *models.IndicatorSet) { s.RSI = 29.9 }, 3, models.ReasonRSIOversold},
		{"rsi low", func(s *models.IndicatorSet) { s.RSI = 30 }, 2, models.ReasonRSILow},
		{"rsi overbought", func(s *models.IndicatorSet) { s.RSI = 70.1 }, -3, models.ReasonRSIOverbought},
		{"rsi high", func(s *models.IndicatorSet) { s.RSI = 70 }, -2, models.ReasonRSIHigh},
		{"strong buying", func(s *models.IndicatorSet) { s.OrderBookImbalance = 0.41 }, 3, models.ReasonStrongBuying},
		{"buying pressure", func(s *models.IndicatorSet) { s.OrderBookImbalance = 0.4 }, 2, models.ReasonBuyingPressure},
		{"strong selling", func(s *models.IndicatorSet) { s.OrderBookImbalance = -0.41 }, -3, models.ReasonStrongSelling},
		{"selling pressure", func(s *models.IndicatorSet) { s.OrderBookImbalance = -0.4 }, -2, models.ReasonSellingPressure},
		{"high volume", func(s *models.IndicatorSet) { s.VolumeRatio = 2.01 }, 2, models.ReasonHighVolume},
		{"good volume", func(s *models.IndicatorSet) { s.VolumeRatio = 2.0 }, 1, models.ReasonGoodVolume},
		{"fair price", func(s *models.IndicatorSet) { s.VWAPDistancePct = -0.09 }, 1, models.ReasonFairPriceVWAP},
		{"at support", func(s *models.IndicatorSet) { s.Support = 99.6 }, 1, models.ReasonAtSupport},
		{"at resistance", func(s *models.IndicatorSet) { s.Resistance = 100.4 }, -1, models.ReasonAtResistance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := neutral()
			tt.mutate(&set)
			score, reasons := Score(set, 100)
			assert.Equal(t, tt.score, score)
			assert.Equal(t, []models.ReasonCode{tt.reason}, reasons)
		})
	}
}

func TestScoreVWAPBandIsExclusive(t *testing.T) {
	set := neutral()
	set.VWAPDistancePct = 0.1
	score, _ := Score(set, 100)
	assert.Equal(t, 0, score)
}

func TestMomentumRequiresPositiveRunningScore(t *testing.T) {
	set := neutral()
	set.Momentum1mPct = 0.5
	score, reasons := Score(set, 100)
	assert.Equal(t, 0, score)
	assert.Empty(t, reasons)

	set.RSI = 75
	score, reasons = Score(set, 100)
	assert.Equal(t, -3, score)
	assert.NotContains(t, reasons, models.ReasonMomentum)

	// 支撑规则在动量之后，不影响动量判断
	set.RSI = 50
	set.Support = 99.8
	score, reasons = Score(set, 100)
	assert.Equal(t, 1, score)
	assert.Equal(t, []models.ReasonCode{models.ReasonAtSupport}, reasons)

	set.RSI = 34
	score, reasons = Score(set, 100)
	assert.Equal(t, 4, score)
	assert.Equal(t, []models.ReasonCode{models.ReasonRSILow, models.ReasonMomentum, models.ReasonAtSupport}, reasons)
}

func TestScoreZeroLevelsDoNotTriggerProximity(t *testing.T) {
	set := neutral()
	set.Support = 0
	set.Resistance = 0
	score, reasons := Score(set, 100)
	assert.Equal(t, 0, score)
	assert.Empty(t, reasons)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		score      int
		class      models.Classification
		confidence models.Confidence
	}{
		{12, models.StrongBuy, models.ConfidenceVeryHigh},
		{6, models.StrongBuy, models.ConfidenceVeryHigh},
		{5, models.Buy, models.ConfidenceHigh},
		{4, models.Buy, models.ConfidenceHigh},
		{3, models.WeakBuy, models.ConfidenceModerate},
		{2, models.WeakBuy, models.ConfidenceModerate},
		{1, models.WaitHold, models.ConfidenceLow},
		{0, models.WaitHold, models.ConfidenceLow},
		{-1, models.WaitHold, models.ConfidenceLow},
		{-2, models.WeakSell, models.ConfidenceModerate},
		{-4, models.Sell, models.ConfidenceHigh},
		{-5, models.Sell, models.ConfidenceHigh},
		{-6, models.StrongSell, models.ConfidenceVeryHigh},
		{-10, models.StrongSell, models.ConfidenceVeryHigh},
	}
	for _, tt := range tests {
		class, confidence := Classify(tt.score)
		assert.Equal(t, tt.class, class, "score %d", tt.score)
		assert.Equal(t, tt.confidence, confidence, "score %d", tt.score)
	}
}

func TestPlanBuy(t *testing.T) {
	plan := Plan(models.WeakBuy, 100, 0.02)
	require.NotNil(t, plan.Stop)
	require.NotNil(t, plan.TakeProfit)
	assert.InDelta(t, 99.95, plan.Entry, 1e-9)
	assert.InDelta(t, 99.9, *plan.Stop, 1e-9)
	assert.InDelta(t, 100.15, *plan.TakeProfit, 1e-9)
	assert.Equal(t, models.DurationFast, plan.Duration)
	assert.Equal(t, models.PositionSpotBuy, plan.PositionType)
}

func TestPlanSellMirrorsBuy(t *testing.T) {
	plan := Plan(models.StrongSell, 100, 0.01)
	require.NotNil(t, plan.Stop)
	require.NotNil(t, plan.TakeProfit)
	assert.InDelta(t, 100.05, plan.Entry, 1e-9)
	assert.InDelta(t, 100.1, *plan.Stop, 1e-9)
	assert.InDelta(t, 99.85, *plan.TakeProfit, 1e-9)
	assert.Equal(t, models.DurationSlow, plan.Duration)
	assert.Equal(t, models.PositionSpotSell, plan.PositionType)
}

func TestPlanWait(t *testing.T) {
	plan := Plan(models.WaitHold, 100, 0.5)
	assert.Equal(t, 100.0, plan.Entry)
	assert.Nil(t, plan.Stop)
	assert.Nil(t, plan.TakeProfit)
	assert.Equal(t, models.DurationWait, plan.Duration)
	assert.Equal(t, models.PositionNone, plan.PositionType)
}

func TestIsStrong(t *testing.T) {
	assert.True(t, IsStrong(models.Signal{Score: 4}, DefaultStrengthThreshold))
	assert.True(t, IsStrong(models.Signal{Score: -4}, DefaultStrengthThreshold))
	assert.False(t, IsStrong(models.Signal{Score: 3}, DefaultStrengthThreshold))
	assert.False(t, IsStrong(models.Signal{Score: -3}, DefaultStrengthThreshold))
}
