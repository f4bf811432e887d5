package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"binance-spot-signal-bot-go/internal/models"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// PriceStream 订阅币安 miniTicker 推送并缓存每个交易对的最新价，断线后按指数退避重连
type PriceStream struct {
	url     string
	dialer  *websocket.Dialer
	backoff *backoff.Backoff
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.RWMutex
	prices map[string]streamPrice
}

type streamPrice struct {
	price     float64
	updatedAt time.Time
}

// combinedMessage 是组合流的外层结构
type combinedMessage struct {
	Stream string     `json:"stream"`
	Data   miniTicker `json:"data"`
}

// miniTicker 只取需要的字段
type miniTicker struct {
	Symbol string `json:"s"`
	Close  string `json:"c"`
}

// NewPriceStream 为给定交易对创建推送订阅，wsBaseURL 形如 wss://stream.binance.com:9443
func NewPriceStream(wsBaseURL string, symbols []string, logger *zap.Logger) *PriceStream {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(models.ExchangeSymbol(s)) + "@miniTicker"
	}
	return &PriceStream{
		url:     fmt.Sprintf("%s/stream?streams=%s", strings.TrimRight(wsBaseURL, "/"), strings.Join(streams, "/")),
		dialer:  websocket.DefaultDialer,
		backoff: &backoff.Backoff{Min: time.Second, Max: time.Minute, Factor: 2, Jitter: true},
		logger:  logger,
		now:     time.Now,
		prices:  make(map[string]streamPrice),
	}
}

// Price 返回缓存的最新价。maxAge 大于0时，超过该时间的价格视为不可用
func (s *PriceStream) Price(symbol string, maxAge time.Duration) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[models.ExchangeSymbol(symbol)]
	if !ok {
		return 0, false
	}
	if maxAge > 0 && s.now().Sub(p.updatedAt) > maxAge {
		return 0, false
	}
	return p.price, true
}

// Run 保持连接直到 ctx 取消，返回 ctx.Err()
func (s *PriceStream) Run(ctx context.Context) error {
	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := s.backoff.Duration()
		s.logger.Warn("行情推送连接断开，准备重连", zap.Error(err), zap.Duration("wait", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *PriceStream) connectAndRead(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("连接 %s 失败: %w", s.url, err)
	}
	defer conn.Close()
	s.backoff.Reset()
	s.logger.Info("行情推送已连接", zap.String("url", s.url))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := s.handleMessage(data); err != nil {
			s.logger.Debug("忽略无法解析的推送消息", zap.Error(err))
		}
	}
}

func (s *PriceStream) handleMessage(data []byte) error {
	var msg combinedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	if msg.Data.Symbol == "" {
		return fmt.Errorf("消息缺少交易对: %s", msg.Stream)
	}
	price, err := parseFloat(msg.Data.Close)
	if err != nil {
		return fmt.Errorf("解析 %s 价格失败: %w", msg.Data.Symbol, err)
	}

	s.mu.Lock()
	s.prices[msg.Data.Symbol] = streamPrice{price: price, updatedAt: s.now()}
	s.mu.Unlock()
	return nil
}
