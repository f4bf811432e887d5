package storage

import (
	"context"
	"fmt"
	"strings"

	"binance-spot-signal-bot-go/internal/models"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxJournal 把交易和信号写成时间序列点，便于在 Grafana 等工具中查看
type InfluxJournal struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInfluxJournal 创建 InfluxDB 日志。写入是同步的，错误直接返回给调用方
func NewInfluxJournal(url, token, org, bucket string) *InfluxJournal {
	client := influxdb2.NewClient(url, token)
	return &InfluxJournal{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
	}
}

// RecordTrade 写入一笔已平仓交易
func (j *InfluxJournal) RecordTrade(ctx context.Context, t models.Trade) error {
	point := influxdb2.NewPoint(
		"trades",
		map[string]string{
			"symbol":     t.Symbol,
			"close_type": string(t.CloseType),
		},
		map[string]interface{}{
			"position_id": t.PositionID,
			"entry_price": t.EntryPrice,
			"exit_price":  t.ExitPrice,
			"quantity":    t.Quantity,
			"fees":        t.Fees,
			"pnl":         t.PnL,
			"hold_sec":    t.ClosedAt.Sub(t.OpenedAt).Seconds(),
		},
		t.ClosedAt,
	)
	if err := j.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("写入交易到 InfluxDB 失败: %w", err)
	}
	return nil
}

// RecordSignal 写入一个强信号
func (j *InfluxJournal) RecordSignal(ctx context.Context, s models.Signal) error {
	reasons := make([]string, len(s.Reasons))
	for i, r := range s.Reasons {
		reasons[i] = string(r)
	}
	point := influxdb2.NewPoint(
		"signals",
		map[string]string{
			"symbol":         s.Symbol,
			"classification": string(s.Classification),
		},
		map[string]interface{}{
			"score":        s.Score,
			"price":        s.CurrentPrice,
			"rsi":          s.Indicators.RSI,
			"imbalance":    s.Indicators.OrderBookImbalance,
			"volume_ratio": s.Indicators.VolumeRatio,
			"reasons":      strings.Join(reasons, ","),
		},
		s.GeneratedAt,
	)
	if err := j.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("写入信号到 InfluxDB 失败: %w", err)
	}
	return nil
}

// Close 关闭客户端
func (j *InfluxJournal) Close() error {
	j.client.Close()
	return nil
}
