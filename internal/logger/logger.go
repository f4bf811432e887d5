package logger

import (
	"binance-spot-signal-bot-go/internal/models"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 各运行循环使用的子logger名称
const (
	ComponentAnalyzer = "analyzer"
	ComponentPaper    = "paper"
	ComponentBacktest = "backtest"
)

var sugaredLogger *zap.SugaredLogger

// InitLogger 按配置初始化全局zap日志记录器。
// 控制台输出带颜色，日志文件使用无颜色编码并由lumberjack切割。
func InitLogger(cfg models.LogConfig) {
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(cfg.Level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel) // 默认为Info级别
	}

	core := zapcore.NewTee(newCores(cfg, logLevel)...)
	logger := zap.New(core, zap.AddCaller(), zap.Fields(zap.String("app", "spot-signal-bot")))
	sugaredLogger = logger.Sugar()
}

func newCores(cfg models.LogConfig, level zap.AtomicLevel) []zapcore.Core {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	fileEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)
	console := zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level)

	var cores []zapcore.Core
	output := strings.ToLower(cfg.Output)
	if (output == "file" || output == "both") && cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(rotator), level))
	}
	if output == "console" || output == "both" {
		cores = append(cores, console)
	}

	// 配置无效时退回控制台输出
	if len(cores) == 0 {
		cores = append(cores, console)
	}
	return cores
}

// S 返回全局的sugared logger实例
func S() *zap.SugaredLogger {
	if sugaredLogger == nil {
		// 如果logger未初始化，则提供一个默认的应急logger
		logger, _ := zap.NewDevelopment()
		return logger.Sugar()
	}
	return sugaredLogger
}

// L 返回全局logger的结构化版本，供需要 *zap.Logger 的组件使用
func L() *zap.Logger {
	return S().Desugar()
}

// Named 返回带组件名的子logger，日志行里会带上组件名
func Named(component string) *zap.SugaredLogger {
	return S().Named(component)
}
