package exchange

import (
	"context"
	"fmt"
	"time"

	"binance-spot-signal-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

// DefaultStreamMaxAge 推送价格超过该时间视为过期，回退到REST
const DefaultStreamMaxAge = 10 * time.Second

// BinanceExchange 通过币安现货公共接口获取行情，不需要API密钥。
type BinanceExchange struct {
	client       *binance.Client
	stream       *PriceStream
	streamMaxAge time.Duration
	logger       *zap.Logger
}

// NewBinanceExchange 创建行情客户端。baseURL 为空时使用 go-binance 的默认地址。
func NewBinanceExchange(baseURL string, logger *zap.Logger) *BinanceExchange {
	client := binance.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &BinanceExchange{
		client:       client,
		streamMaxAge: DefaultStreamMaxAge,
		logger:       logger,
	}
}

// AttachStream 让 FetchLastPrice 优先使用推送的最新价
func (e *BinanceExchange) AttachStream(stream *PriceStream) {
	e.stream = stream
}

// FetchCandles 获取最近 limit 根K线，按时间从旧到新排列
func (e *BinanceExchange) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	klines, err := e.client.NewKlinesService().
		Symbol(models.ExchangeSymbol(symbol)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, retrievalError("klines", symbol, err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := klineToCandle(k)
		if err != nil {
			return nil, retrievalError("klines", symbol, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func klineToCandle(k *binance.Kline) (models.Candle, error) {
	var c models.Candle
	var err error
	c.OpenTime = time.UnixMilli(k.OpenTime).UTC()
	fields := []struct {
		dst *float64
		src string
	}{
		{&c.Open, k.Open}, {&c.High, k.High}, {&c.Low, k.Low}, {&c.Close, k.Close}, {&c.Volume, k.Volume},
	}
	for _, f := range fields {
		if *f.dst, err = parseFloat(f.src); err != nil {
			return models.Candle{}, fmt.Errorf("解析K线字段 %q 失败: %w", f.src, err)
		}
	}
	return c, nil
}

// FetchOrderBook 获取盘口快照
func (e *BinanceExchange) FetchOrderBook(ctx context.Context, symbol string, depth int) (models.OrderBook, error) {
	res, err := e.client.NewDepthService().
		Symbol(models.ExchangeSymbol(symbol)).
		Limit(depth).
		Do(ctx)
	if err != nil {
		return models.OrderBook{}, retrievalError("depth", symbol, err)
	}

	ob := models.OrderBook{
		Symbol: symbol,
		Bids:   make([]models.PriceLevel, 0, len(res.Bids)),
		Asks:   make([]models.PriceLevel, 0, len(res.Asks)),
	}
	for _, b := range res.Bids {
		level, err := parseLevel(b.Price, b.Quantity)
		if err != nil {
			return models.OrderBook{}, retrievalError("depth", symbol, err)
		}
		ob.Bids = append(ob.Bids, level)
	}
	for _, a := range res.Asks {
		level, err := parseLevel(a.Price, a.Quantity)
		if err != nil {
			return models.OrderBook{}, retrievalError("depth", symbol, err)
		}
		ob.Asks = append(ob.Asks, level)
	}
	return ob, nil
}

// FetchLastPrice 返回最新成交价。有新鲜的推送价格时不发起REST请求。
func (e *BinanceExchange) FetchLastPrice(ctx context.Context, symbol string) (float64, error) {
	if e.stream != nil {
		if price, ok := e.stream.Price(symbol, e.streamMaxAge); ok {
			return price, nil
		}
		e.logger.Debug("推送价格不可用，回退到REST", zap.String("symbol", symbol))
	}

	prices, err := e.client.NewListPricesService().
		Symbol(models.ExchangeSymbol(symbol)).
		Do(ctx)
	if err != nil {
		return 0, retrievalError("price", symbol, err)
	}
	if len(prices) == 0 {
		return 0, retrievalError("price", symbol, fmt.Errorf("empty response"))
	}
	price, err := parseFloat(prices[0].Price)
	if err != nil {
		return 0, retrievalError("price", symbol, err)
	}
	return price, nil
}
