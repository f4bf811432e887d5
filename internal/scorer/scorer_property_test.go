package scorer

import (
	"math"
	"reflect"
	"testing"

	"binance-spot-signal-bot-go/internal/models"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func indicatorSetGen() gopter.Gen {
	return gen.Struct(reflect.TypeOf(models.IndicatorSet{}), map[string]gopter.Gen{
		"RSI":                gen.Float64Range(0, 100),
		"OrderBookImbalance": gen.Float64Range(-1, 1),
		"VolumeRatio":        gen.Float64Range(0, 4),
		"VWAPDistancePct":    gen.Float64Range(-0.5, 0.5),
		"Momentum1mPct":      gen.Float64Range(-1, 1),
		"Volatility":         gen.Float64Range(0, 0.05),
		"Support":            gen.Float64Range(95, 100),
		"Resistance":         gen.Float64Range(100, 105),
	})
}

func TestPropertyScoreIndependentOfAbsolutePrice(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// 以2的幂缩放价格，浮点运算结果精确，规则结果不应改变
	properties.Property("same rule outcomes at any price scale", prop.ForAll(
		func(set models.IndicatorSet, exp int) bool {
			scaled := set
			scaled.Support = math.Ldexp(set.Support, exp)
			scaled.Resistance = math.Ldexp(set.Resistance, exp)

			score, reasons := Score(set, 100)
			scaledScore, scaledReasons := Score(scaled, math.Ldexp(100, exp))
			if score != scaledScore || !reflect.DeepEqual(reasons, scaledReasons) {
				return false
			}
			c1, conf1 := Classify(score)
			c2, conf2 := Classify(scaledScore)
			return c1 == c2 && conf1 == conf2
		},
		indicatorSetGen(),
		gen.IntRange(-10, 10),
	))

	properties.Property("score equals the sum of a bounded rule set", prop.ForAll(
		func(set models.IndicatorSet) bool {
			score, reasons := Score(set, 100)
			return score >= -9 && score <= 11 && len(reasons) <= 7
		},
		indicatorSetGen(),
	))

	properties.TestingRun(t)
}

func TestPropertyEvaluateIsDeterministic(t *testing.T) {
	properties := gopter.NewProperties(nil)
	s := New()

	properties.Property("identical inputs yield identical signals", prop.ForAll(
		func(set models.IndicatorSet, price float64) bool {
			a := s.Evaluate("BTC/USDT", price, set)
			b := s.Evaluate("BTC/USDT", price, set)
			return a.Score == b.Score &&
				a.Classification == b.Classification &&
				a.Confidence == b.Confidence &&
				reflect.DeepEqual(a.Reasons, b.Reasons) &&
				a.EntryPrice == b.EntryPrice &&
				(a.StopPrice == nil) == (b.StopPrice == nil)
		},
		indicatorSetGen(),
		gen.Float64Range(1, 100000),
	))

	properties.TestingRun(t)
}
