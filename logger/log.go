package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Log *zap.Logger

var level = zap.NewAtomicLevelAt(zapcore.DebugLevel)

// FileConfig 日志文件滚动配置，Path 为空则只输出到终端
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDay  int
	Compress   bool
}

type Config struct {
	Level   string // debug/info/warn/error
	Service string
	File    FileConfig
}

func init() {
	Log = zap.New(newCore(Config{}), zap.AddCaller(), zap.AddCallerSkip(1))
}

// Init 按配置重建全局 logger（main 启动时调用一次）
func Init(cfg Config) {
	SetLevel(cfg.Level)
	l := zap.New(newCore(cfg), zap.AddCaller(), zap.AddCallerSkip(1))
	if cfg.Service != "" {
		l = l.With(zap.String("service", cfg.Service))
	}
	Log = l
}

// SetLevel 运行时调整日志级别，非法值忽略
func SetLevel(s string) {
	if strings.TrimSpace(s) == "" {
		return
	}
	var lv zapcore.Level
	if err := lv.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return
	}
	level.SetLevel(lv)
}

func newCore(cfg Config) zapcore.Core {
	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		CallerKey:    "caller",
		MessageKey:   "msg",
		LineEnding:   zapcore.DefaultLineEnding,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.CapitalLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}

	syncers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if p := cfg.File.Path; p != "" {
		syncers = append(syncers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   p,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxAge:     cfg.File.MaxAgeDay,
			MaxBackups: cfg.File.MaxBackups,
			Compress:   cfg.File.Compress,
		}))
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.NewMultiWriteSyncer(syncers...),
		level,
	)
	return countingCore{Core: core, service: cfg.Service}
}

// 快捷方法
func Info(msg string, fields ...zap.Field) { Log.Info(msg, fields...) }
func Infof(format string, args ...interface{}) {
	Log.Info(fmt.Sprintf(format, args...))
}
func Warn(msg string, fields ...zap.Field) { Log.Warn(msg, fields...) }
func Warnf(format string, args ...interface{}) {
	Log.Warn(fmt.Sprintf(format, args...))
}
func Error(msg string, fields ...zap.Field) { Log.Error(msg, fields...) }

func Errorf(format string, args ...interface{}) {
	Log.Error(fmt.Sprintf(format, args...))
}

func Debug(msg string, fields ...zap.Field) { Log.Debug(msg, fields...) }
func Debugf(format string, args ...interface{}) {
	Log.Debug(fmt.Sprintf(format, args...))
}

// Sync 进程退出前刷盘
func Sync() { _ = Log.Sync() }
