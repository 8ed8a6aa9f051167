package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig controls level and optional file rotation.
type LogConfig struct {
	Level      string `env:"LOG_LEVEL" yaml:"level"`
	Filename   string `env:"LOG_FILENAME" yaml:"filename"`
	MaxSize    int    `env:"LOG_MAX_SIZE" yaml:"max_size"`
	MaxAge     int    `env:"LOG_MAX_AGE" yaml:"max_age"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" yaml:"max_backups"`
}

// Lg is the process logger. It is a no-op until Init runs so packages can log from tests.
var Lg = zap.NewNop()

var level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// Init builds Lg from cfg. In "release" mode output is JSON, otherwise console.
func Init(cfg *LogConfig, mode string) error {
	if cfg == nil {
		cfg = &LogConfig{}
	}
	if err := level.UnmarshalText([]byte(strings.ToLower(defaultString(cfg.Level, "info")))); err != nil {
		return err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	var encoder zapcore.Encoder
	if mode == "release" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if cfg.Filename != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    defaultInt(cfg.MaxSize, 100),
			MaxAge:     defaultInt(cfg.MaxAge, 7),
			MaxBackups: defaultInt(cfg.MaxBackups, 5),
			LocalTime:  true,
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	Lg = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	zap.ReplaceGlobals(Lg)
	return nil
}

// SetLevel changes the level at runtime.
func SetLevel(l string) error {
	return level.UnmarshalText([]byte(strings.ToLower(l)))
}

func Debug(msg string, fields ...zap.Field) { Lg.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { Lg.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Lg.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Lg.Error(msg, fields...) }

// With returns a child logger carrying fields.
func With(fields ...zap.Field) *zap.Logger {
	return Lg.WithOptions(zap.AddCallerSkip(-1)).With(fields...)
}

func Sync() error {
	return Lg.Sync()
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
