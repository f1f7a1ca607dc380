package logger

import (
	"os"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig log file configuration
type LogConfig struct {
	Level      string `env:"LOG_LEVEL"`
	Filename   string `env:"LOG_FILENAME"`
	MaxSize    int    `env:"LOG_MAX_SIZE"` // MB
	MaxAge     int    `env:"LOG_MAX_AGE"`  // days
	MaxBackups int    `env:"LOG_MAX_BACKUPS"`
	Daily      bool   `env:"LOG_DAILY"`
}

var lg *zap.Logger = zap.NewNop()

// Init builds the global logger. In development mode logs go to stderr with a
// console encoder; otherwise to the rotating file plus stderr.
func Init(cfg *LogConfig, mode string) error {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core
	if mode == "development" {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg),
			zapcore.Lock(os.Stderr),
			level,
		))
	} else {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	if cfg.Filename != "" {
		writer := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxAge:     cfg.MaxAge,
			MaxBackups: cfg.MaxBackups,
			LocalTime:  cfg.Daily,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.AddSync(writer),
			level,
		))
	}

	lg = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	return nil
}

// GetLogger returns the underlying zap logger (caller skip removed).
func GetLogger() *zap.Logger {
	return lg.WithOptions(zap.AddCallerSkip(-1))
}

func Debug(msg string, fields ...zap.Field) { lg.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { lg.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { lg.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { lg.Error(msg, fields...) }

// Sync flushes buffered log entries.
func Sync() {
	_ = lg.Sync()
}
