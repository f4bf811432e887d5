package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"binance-spot-signal-bot-go/internal/config"
	"binance-spot-signal-bot-go/internal/logger"
	"binance-spot-signal-bot-go/internal/models"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// app 保存所有子命令共享的配置
type app struct {
	configPath string
	cfg        *models.Config
}

func main() {
	// 先用默认配置初始化日志，加载配置后再重新初始化
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger.S().Errorf("%v", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "spotbot",
		Short:         "Binance spot signal analyzer and paper trader",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			config.ResolveEndpoints(cfg)
			if cfg.IsTestnet {
				logger.S().Info("正在使用币安测试网...")
			}
			logger.InitLogger(cfg.LogConfig)
			a.cfg = cfg
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.S().Sync()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "config.json", "path to the config file")

	root.AddCommand(
		newAnalyzeCmd(a),
		newPaperCmd(a),
		newBacktestCmd(a),
		newDownloadCmd(a),
	)
	return root
}
