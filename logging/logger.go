package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志输出配置
type Config struct {
	FilePath string // 日志文件路径，为空则不写文件
	Console  bool   // 同时输出到 stderr
	Debug    bool   // Debug 级别，否则 Info
}

// DefaultConfig 默认写入 app.log，Debug 级别便于排查
func DefaultConfig() Config {
	return Config{FilePath: "app.log", Debug: true}
}

// New 初始化 zap 日志（文件支持滚动），返回 SugaredLogger
func New(cfg Config) (*zap.SugaredLogger, error) {
	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}
	encoder := zapcore.NewConsoleEncoder(encCfg)

	level := zapcore.InfoLevel
	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	var cores []zapcore.Core
	if cfg.FilePath != "" {
		// 文件滚动策略：10MB 每文件，保留3个备份，保留7天
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   false,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(lj), level))
	}
	if cfg.Console || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return logger.Sugar(), nil
}

// Nop 返回丢弃一切输出的日志器，供未注入日志的组件和测试使用
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// OrNop 为 nil 时回退到 Nop
func OrNop(log *zap.SugaredLogger) *zap.SugaredLogger {
	if log == nil {
		return Nop()
	}
	return log
}

// Sync 清理和同步缓冲
func Sync(log *zap.SugaredLogger) {
	if log != nil {
		_ = log.Sync()
	}
}
