package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"binance-spot-signal-bot-go/internal/bot"
	"binance-spot-signal-bot-go/internal/config"
	"binance-spot-signal-bot-go/internal/downloader"
	"binance-spot-signal-bot-go/internal/exchange"
	"binance-spot-signal-bot-go/internal/logger"
	"binance-spot-signal-bot-go/internal/models"
	"binance-spot-signal-bot-go/internal/persistence"
	"binance-spot-signal-bot-go/internal/reporter"
	"binance-spot-signal-bot-go/internal/simulator"
	"binance-spot-signal-bot-go/internal/statemanager"
	"binance-spot-signal-bot-go/internal/storage"

	"github.com/spf13/cobra"
)

const (
	dateLayout        = "2006-01-02"
	recentTradesShown = 10
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		interval int
		symbols  []string
		fresh    bool
		once     bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze symbols periodically and print trading signals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("interval") {
				cfg.Analyzer.IntervalSec = interval
			}
			if len(symbols) > 0 {
				cfg.Symbols = symbols
			}
			ctx := cmd.Context()

			repo, err := openStateRepo[models.AnalyzerState](cfg.Storage, cfg.Analyzer.StateFile, "analyzer_state")
			if err != nil {
				return err
			}
			defer repo.Close()
			if fresh {
				if err := repo.Delete(); err != nil {
					logger.S().Warnf("删除旧的分析器状态失败: %v", err)
				}
			}
			state, err := persistence.LoadOrDefault(repo, &models.AnalyzerState{})
			if err != nil {
				logger.S().Warnf("无法加载分析器状态: %v，将以全新状态启动。", err)
			}

			journal, err := storage.New(cfg.Storage)
			if err != nil {
				return err
			}
			defer journal.Close()

			mgr := statemanager.New[models.AnalyzerState](repo, logger.L().Named("analyzer-state"))
			mgr.Start()

			analyzer := bot.NewAnalyzer(cfg, newLiveMarket(ctx, cfg), journal, mgr)
			analyzer.Restore(state)
			if n := len(state.SignalHistory); n > 0 {
				logger.S().Infof("已加载 %d 条历史信号", n)
			} else if n, err := analyzer.SeedHistory(ctx); err != nil {
				logger.S().Warnf("%v", err)
			} else if n > 0 {
				logger.S().Infof("已从信号日志载入 %d 条历史信号", n)
			}

			if once {
				if _, err := analyzer.RunCycle(ctx); err != nil && ctx.Err() == nil {
					return err
				}
			} else if err := analyzer.Run(ctx); err != nil {
				return err
			}
			if err := analyzer.Stop(); err != nil {
				return err
			}
			logger.S().Infof("进度已保存，共 %d 个强信号", len(analyzer.History()))
			return nil
		},
	}
	cmd.Flags().IntVar(&interval, "interval", 60, "seconds between analysis cycles")
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "symbols to analyze, e.g. BTC/USDT,ETH/USDT")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "discard the saved signal history")
	cmd.Flags().BoolVar(&once, "once", false, "run a single analysis cycle and exit")
	return cmd
}

func newPaperCmd(a *app) *cobra.Command {
	var (
		interval int
		balance  float64
		symbols  []string
		resume   bool
		fresh    bool
	)
	cmd := &cobra.Command{
		Use:   "paper",
		Short: "Paper trade on live prices with a virtual balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("interval") {
				cfg.Simulator.IntervalSec = interval
			}
			if len(symbols) > 0 {
				cfg.Symbols = symbols
			}
			if resume && fresh {
				return fmt.Errorf("--resume 和 --fresh 不能同时使用")
			}
			ctx := cmd.Context()
			p := newPrompter(bufio.NewReader(os.Stdin), os.Stdout)

			if cmd.Flags().Changed("balance") {
				if !config.IsBalanceOption(balance) {
					return fmt.Errorf("%w: 初始资金必须是 %v 之一", config.ErrInvalidConfig, config.BalanceOptions)
				}
				cfg.Simulator.InitialBalance = balance
			} else if !resume {
				cfg.Simulator.InitialBalance = p.chooseBalance()
			}

			repo, err := openStateRepo[models.PaperState](cfg.Storage, cfg.Simulator.StateFile, "paper_trading_state")
			if err != nil {
				return err
			}
			defer repo.Close()

			portfolio := simulator.NewPortfolio(cfg.Simulator.InitialBalance, simulator.OptionsFromConfig(cfg.Simulator))
			previous, err := repo.LoadState()
			if err != nil {
				logger.S().Warnf("无法加载模拟盘状态: %v，将以全新状态启动。", err)
			}
			if previous != nil {
				if !fresh && (resume || p.confirmResume(previous)) {
					portfolio.Restore(previous)
					logger.S().Infof("已恢复上次会话，余额 %.2f USDT", portfolio.Balance())
				} else {
					if err := repo.Delete(); err != nil {
						logger.S().Warnf("删除旧的模拟盘状态失败: %v", err)
					}
					logger.S().Info("开始新的模拟盘会话")
				}
			}

			journal, err := storage.New(cfg.Storage)
			if err != nil {
				return err
			}
			defer journal.Close()

			mgr := statemanager.New[models.PaperState](repo, logger.L().Named("paper-state"))
			mgr.Start()

			trader := bot.NewPaperTrader(cfg, portfolio, newLiveMarket(ctx, cfg), journal, mgr)
			if err := trader.Run(ctx); err != nil {
				return err
			}
			if err := trader.Stop(); err != nil {
				return err
			}
			logger.S().Info("进度已保存")
			reporter.RenderDashboard(os.Stdout, portfolio.Summary(nil), time.Now())
			// ctx 此时已取消，回读日志使用新的 context
			reporter.RenderTrades(os.Stdout, trader.RecentTrades(context.Background(), recentTradesShown))
			return nil
		},
	}
	cmd.Flags().IntVar(&interval, "interval", 30, "seconds between trading cycles")
	cmd.Flags().Float64Var(&balance, "balance", 0, "starting balance (10, 100, 1000 or 10000); skips the menu")
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "symbols to trade, e.g. BTC/USDT,ETH/USDT")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume the saved session without asking")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "discard the saved session without asking")
	return cmd
}

func newBacktestCmd(a *app) *cobra.Command {
	var (
		dataPaths []string
		symbol    string
		start     string
		end       string
		balance   float64
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay downloaded klines through the paper trader",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			ctx := cmd.Context()
			if cmd.Flags().Changed("balance") {
				cfg.Simulator.InitialBalance = balance
			}

			if symbol != "" && start != "" && end != "" {
				path, err := download(ctx, cfg, symbol, cfg.CandleInterval, start, end, "data")
				if err != nil {
					return err
				}
				dataPaths = append(dataPaths, path)
			}
			if len(dataPaths) == 0 {
				return fmt.Errorf("回测模式需要通过 --data 或 --symbol/--start/--end 参数指定数据源")
			}

			series := make(map[string][]models.Candle, len(dataPaths))
			cfg.Symbols = nil
			for _, path := range dataPaths {
				sym := extractSymbolFromPath(path)
				if sym == "" {
					return fmt.Errorf("无法从数据文件路径 %s 中提取交易对", path)
				}
				candles, err := exchange.LoadCandlesCSV(path)
				if err != nil {
					return err
				}
				logger.S().Infof("已加载 %s 的 %d 根K线", sym, len(candles))
				series[sym] = candles
				cfg.Symbols = append(cfg.Symbols, sym)
			}

			replay, err := exchange.NewReplayExchange(series, cfg.Simulator.CandleLimit)
			if err != nil {
				return err
			}
			journal, err := storage.New(cfg.Storage)
			if err != nil {
				return err
			}
			defer journal.Close()

			logger.S().Info("--- 启动回测模式 ---")
			metrics, err := bot.NewBacktest(cfg, replay, cfg.Simulator.InitialBalance, journal).Run(ctx)
			if err != nil {
				return err
			}
			logger.S().Info("回测结束。")
			reporter.GenerateReport(os.Stdout, metrics, strings.Join(dataPaths, ", "))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&dataPaths, "data", nil, "kline CSV files produced by the download command")
	cmd.Flags().StringVar(&symbol, "symbol", "", "symbol to download before the backtest, e.g. BTC/USDT")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&balance, "balance", 10000, "starting balance")
	return cmd
}

func newDownloadCmd(a *app) *cobra.Command {
	var (
		symbol   string
		start    string
		end      string
		dir      string
		interval string
	)
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download historical klines to CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval == "" {
				interval = a.cfg.CandleInterval
			}
			path, err := download(cmd.Context(), a.cfg, symbol, interval, start, end, dir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "symbol, e.g. BTC/USDT")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&dir, "dir", "data", "output directory")
	cmd.Flags().StringVar(&interval, "interval", "", "kline interval (defaults to candle_interval)")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

// download 下载K线数据，文件已存在时直接复用
func download(ctx context.Context, cfg *models.Config, symbol, interval, start, end, dir string) (string, error) {
	startTime, err1 := time.Parse(dateLayout, start)
	endTime, err2 := time.Parse(dateLayout, end)
	if err1 != nil || err2 != nil {
		return "", fmt.Errorf("日期格式错误，请使用 YYYY-MM-DD 格式。start: %v, end: %v", err1, err2)
	}
	if !endTime.After(startTime) {
		return "", fmt.Errorf("结束日期必须晚于开始日期")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("创建 %s 目录失败: %w", dir, err)
	}

	path := downloader.FileName(dir, symbol, interval, startTime, endTime)
	logger.S().Infof("开始下载 %s 从 %s 到 %s 的K线数据...", symbol, start, end)
	if err := downloader.NewKlineDownloader(cfg.BaseURL).DownloadKlines(ctx, symbol, interval, path, startTime, endTime); err != nil {
		return "", fmt.Errorf("下载数据失败: %w", err)
	}
	return path, nil
}

// extractSymbolFromPath 从数据文件路径中提取交易对名称
// 例如: "data/BTCUSDT-1m-2024-05-01-2024-05-02.csv" -> "BTCUSDT"
func extractSymbolFromPath(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	symbol, _, _ := strings.Cut(name, "-")
	return strings.ToUpper(symbol)
}

func openStateRepo[T any](st models.StorageConfig, file, key string) (persistence.StateRepository[T], error) {
	if st.StateBackend == "badger" {
		return persistence.NewBadgerRepository[T](st.BadgerPath, key)
	}
	if dir := filepath.Dir(file); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建状态目录失败: %w", err)
		}
	}
	return persistence.NewJSONFileRepository[T](file), nil
}

// newLiveMarket 创建币安行情客户端，启用推送时后台维护最新价缓存
func newLiveMarket(ctx context.Context, cfg *models.Config) *exchange.BinanceExchange {
	ex := exchange.NewBinanceExchange(cfg.BaseURL, logger.L())
	if cfg.UseStream && cfg.WSBaseURL != "" {
		stream := exchange.NewPriceStream(cfg.WSBaseURL, cfg.Symbols, logger.L())
		go func() {
			if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
				logger.S().Warnf("价格推送已停止: %v", err)
			}
		}()
		ex.AttachStream(stream)
	}
	return ex
}
