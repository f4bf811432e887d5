package exchange

import (
	"context"
	"errors"
	"fmt"

	"binance-spot-signal-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// ErrRetrieval 行情获取失败。调用方跳过该交易对本轮分析，不做重试
var ErrRetrieval = errors.New("market data retrieval failed")

// MarketData 定义了分析和模拟所需的只读行情接口。
// 实时行情和回放行情都实现该接口，机器人可以在两者之间切换。
type MarketData interface {
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (models.OrderBook, error)
	FetchLastPrice(ctx context.Context, symbol string) (float64, error)
}

func retrievalError(op, symbol string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrRetrieval, op, symbol, err)
}

// parseFloat 用 decimal 解析交易所返回的字符串数值
func parseFloat(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

// parseLevel 解析一档盘口
func parseLevel(price, qty string) (models.PriceLevel, error) {
	p, err := parseFloat(price)
	if err != nil {
		return models.PriceLevel{}, err
	}
	q, err := parseFloat(qty)
	if err != nil {
		return models.PriceLevel{}, err
	}
	return models.PriceLevel{Price: p, Volume: q}, nil
}
