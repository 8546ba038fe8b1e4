package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects level, encoding and the optional rotating file sink.
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File enables a lumberjack sink next to stderr when set.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		MaxSizeMB:  100,
		MaxBackups: 10,
		MaxAgeDays: 7,
		Compress:   true,
	}
}

func (c Config) level() (zapcore.Level, error) {
	raw := strings.TrimSpace(c.Level)
	if raw == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("parse log level %q: %w", c.Level, err)
	}
	return lvl, nil
}

func (c Config) encoder() (zapcore.Encoder, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.MillisDurationEncoder

	switch strings.ToLower(strings.TrimSpace(c.Format)) {
	case "", "json":
		return zapcore.NewJSONEncoder(encCfg), nil
	case "console":
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encCfg), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", c.Format)
	}
}

func (c Config) sinks() zapcore.WriteSyncer {
	stderr := zapcore.Lock(os.Stderr)
	if strings.TrimSpace(c.File) == "" {
		return stderr
	}

	defaults := DefaultConfig()
	file := &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    orDefault(c.MaxSizeMB, defaults.MaxSizeMB),
		MaxBackups: orDefault(c.MaxBackups, defaults.MaxBackups),
		MaxAge:     orDefault(c.MaxAgeDays, defaults.MaxAgeDays),
		Compress:   c.Compress,
	}
	return zapcore.NewMultiWriteSyncer(stderr, zapcore.AddSync(file))
}

// New builds the process logger named after the binary ("api", "worker").
func New(cfg Config, name string) (*zap.Logger, error) {
	lvl, err := cfg.level()
	if err != nil {
		return nil, err
	}
	enc, err := cfg.encoder()
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(enc, cfg.sinks(), zap.NewAtomicLevelAt(lvl))
	logger := zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if name != "" {
		logger = logger.Named(name)
	}
	return logger, nil
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
