package downloader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"binance-spot-signal-bot-go/internal/logger"
	"binance-spot-signal-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
)

const (
	batchLimit   = 1000 // 币安单次请求最多1000条
	requestPause = 200 * time.Millisecond
)

// KlineDownloader 用于从币安下载K线数据，生成的CSV供回放行情使用
type KlineDownloader struct {
	client *binance.Client
	pause  time.Duration
}

// NewKlineDownloader 创建一个新的下载器实例，baseURL 为空时使用默认地址
func NewKlineDownloader(baseURL string) *KlineDownloader {
	client := binance.NewClient("", "") // 公共接口不需要API Key
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &KlineDownloader{client: client, pause: requestPause}
}

// FileName 返回默认的数据文件路径，例如 data/BTCUSDT-1m-2024-05-01-2024-05-02.csv
func FileName(dir, symbol, interval string, start, end time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s-%s-%s.csv",
		models.ExchangeSymbol(symbol), interval, start.Format("2006-01-02"), end.Format("2006-01-02")))
}

// DownloadKlines 下载指定交易对和时间范围内的K线数据，并保存到CSV文件。
// 如果文件已存在，则会跳过下载，直接使用缓存。
func (d *KlineDownloader) DownloadKlines(ctx context.Context, symbol, interval, filePath string, startTime, endTime time.Time) error {
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		logger.S().Infof("从缓存加载数据: %s", filePath)
		return nil
	}

	logger.S().Infof("开始下载 %s 从 %s 到 %s 的K线数据...", symbol, startTime.Format("2006-01-02"), endTime.Format("2006-01-02"))

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("无法创建目录 %s: %w", dir, err)
	}

	// 先写临时文件，下载中断时不会留下被当作缓存的残缺文件
	tmpPath := filePath + ".part"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("无法创建文件 %s: %w", tmpPath, err)
	}
	defer os.Remove(tmpPath)

	rows, err := d.writeKlines(ctx, csv.NewWriter(file), models.ExchangeSymbol(symbol), interval, startTime, endTime)
	if cerr := file.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		return fmt.Errorf("保存 %s 失败: %w", filePath, err)
	}

	logger.S().Infof("成功下载 %d 条K线数据到 %s", rows, filePath)
	return nil
}

func (d *KlineDownloader) writeKlines(ctx context.Context, writer *csv.Writer, symbol, interval string, startTime, endTime time.Time) (int, error) {
	defer writer.Flush()

	header := []string{"open_time", "open", "high", "low", "close", "volume", "close_time", "quote_asset_volume", "number_of_trades", "taker_buy_base_asset_volume", "taker_buy_quote_asset_volume"}
	if err := writer.Write(header); err != nil {
		return 0, fmt.Errorf("写入CSV表头失败: %w", err)
	}

	rows := 0
	for t := startTime; t.Before(endTime); {
		klines, err := d.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(t.UnixMilli()).
			EndTime(endTime.UnixMilli()).
			Limit(batchLimit).
			Do(ctx)
		if err != nil {
			return rows, fmt.Errorf("下载K线数据失败: %w", err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			record := []string{
				fmt.Sprintf("%d", k.OpenTime),
				k.Open,
				k.High,
				k.Low,
				k.Close,
				k.Volume,
				fmt.Sprintf("%d", k.CloseTime),
				k.QuoteAssetVolume,
				fmt.Sprintf("%d", k.TradeNum),
				k.TakerBuyBaseAssetVolume,
				k.TakerBuyQuoteAssetVolume,
			}
			if err := writer.Write(record); err != nil {
				return rows, fmt.Errorf("写入CSV记录失败: %w", err)
			}
			rows++
		}

		// 更新下一次请求的开始时间
		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		logger.S().Debugf("已下载数据至 %s", t.Format("2006-01-02 15:04:05"))

		select {
		case <-ctx.Done():
			return rows, ctx.Err()
		case <-time.After(d.pause):
		}
	}
	writer.Flush()
	return rows, writer.Error()
}
