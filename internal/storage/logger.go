package storage

import (
	"context"
	"errors"
	"time"

	"netmonitor/internal/ctxkeys"
	"netmonitor/internal/logger"

	gormlogger "gorm.io/gorm/logger"
)

// SlowThreshold 超过该耗时的 SQL 以警告级别记录
const SlowThreshold = 200 * time.Millisecond

// GormLogger 把 GORM 日志转发到 logger.Logger，并带上触发该语句的记录ID
type GormLogger struct {
	log   logger.Logger
	level gormlogger.LogLevel
}

// NewGormLogger 默认只记录警告及以上
func NewGormLogger(l logger.Logger) *GormLogger {
	if l == nil {
		l = logger.NewNop()
	}
	return &GormLogger{log: l, level: gormlogger.Warn}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.log.Info(msg, l.fields(ctx, "data", data)...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.log.Warn(msg, l.fields(ctx, "data", data)...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.log.Error(msg, l.fields(ctx, "data", data)...)
	}
}

// Trace 记录一条 SQL
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	kv := l.fields(ctx, "sql", sql, "rows", rows, "elapsedMs", float64(elapsed.Microseconds())/1000)

	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound) && l.level >= gormlogger.Error:
		l.log.Err(err, "SQL执行错误", kv...)
	case elapsed > SlowThreshold && l.level >= gormlogger.Warn:
		l.log.Warn("慢SQL", kv...)
	case l.level >= gormlogger.Info:
		l.log.Debug("SQL执行", kv...)
	}
}

func (l *GormLogger) fields(ctx context.Context, kv ...any) []any {
	if id := ctxkeys.TraceID(ctx); id != "" {
		return append([]any{"record", id}, kv...)
	}
	return kv
}
