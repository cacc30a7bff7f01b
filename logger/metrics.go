package logger

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zapcore"
)

var logCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "talkify_log_total",
		Help: "Number of log entries by level.",
	},
	[]string{"service", "level"},
)

// Collectors 给 metrics 包统一注册
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{logCounter}
}

// countingCore 装饰 zapcore.Core，按级别计数
type countingCore struct {
	zapcore.Core
	service string
}

func (c countingCore) With(fields []zapcore.Field) zapcore.Core {
	return countingCore{Core: c.Core.With(fields), service: c.service}
}

func (c countingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(ent.Level) {
		return ce
	}
	logCounter.WithLabelValues(c.service, ent.Level.String()).Inc()
	return c.Core.Check(ent, ce)
}
