package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 全局日志，未初始化时为空实现，便于在测试中直接调用核心流程
var Logger = zap.NewNop()

// InitLogger 按运行模式初始化日志，level 为空时使用模式默认级别
func InitLogger(mode, level string) error {
	var config zap.Config

	if mode == "release" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return err
		}
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	logger, err := config.Build()
	if err != nil {
		return err
	}

	Logger = logger.Named("restoration")
	return nil
}

func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
