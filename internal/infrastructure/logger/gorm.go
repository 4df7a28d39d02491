package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

const defaultMaxSQLLength = 2048

// GormLogger writes gorm statements to zap with the trace, request and order
// of the calling context attached
type GormLogger struct {
	base          *zap.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
	maxSQLLength  int
}

// GormLoggerOption configures a GormLogger
type GormLoggerOption func(*GormLogger)

// WithSlowThreshold sets the slow query threshold; zero disables slow query warnings
func WithSlowThreshold(threshold time.Duration) GormLoggerOption {
	return func(l *GormLogger) {
		l.slowThreshold = threshold
	}
}

// WithMaxSQLLength truncates logged statements; ledger payload inserts can be large
func WithMaxSQLLength(n int) GormLoggerOption {
	return func(l *GormLogger) {
		l.maxSQLLength = n
	}
}

// NewGormLogger creates a gorm logger backed by zap
func NewGormLogger(zapLogger *zap.Logger, level gormlogger.LogLevel, opts ...GormLoggerOption) *GormLogger {
	gl := &GormLogger{
		base:          zapLogger.Named("gorm"),
		level:         level,
		slowThreshold: 200 * time.Millisecond,
		maxSQLLength:  defaultMaxSQLLength,
	}
	for _, opt := range opts {
		opt(gl)
	}
	return gl
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.forContext(ctx).Info(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.forContext(ctx).Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.forContext(ctx).Error(fmt.Sprintf(msg, data...))
	}
}

// Trace logs failed statements at error, slow ones at warn and the rest at
// debug. Record-not-found is an expected lookup outcome and is not logged.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	if err != nil && errors.Is(err, gormlogger.ErrRecordNotFound) {
		return
	}

	elapsed := time.Since(begin)
	slow := l.slowThreshold > 0 && elapsed > l.slowThreshold

	var msg string
	switch {
	case err != nil && l.level >= gormlogger.Error:
		msg = "SQL Error"
	case slow && l.level >= gormlogger.Warn:
		msg = "Slow SQL"
	case l.level >= gormlogger.Info:
		msg = "SQL Query"
	default:
		return
	}

	sql, rows := fc()
	fields := []zap.Field{
		zap.String("sql", l.truncate(sql)),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	}

	log := l.forContext(ctx)
	switch msg {
	case "SQL Error":
		log.Error(msg, append(fields, zap.Error(err))...)
	case "Slow SQL":
		log.Warn(msg, append(fields, zap.Duration("threshold", l.slowThreshold))...)
	default:
		log.Debug(msg, fields...)
	}
}

func (l *GormLogger) forContext(ctx context.Context) *ContextLogger {
	cl := WithLogger(ctx, l.base)
	if orderID := GetOrderID(ctx); orderID != 0 {
		cl = cl.With(zap.Int64("order_id", orderID))
	}
	return cl
}

func (l *GormLogger) truncate(sql string) string {
	if l.maxSQLLength <= 0 || len(sql) <= l.maxSQLLength {
		return sql
	}
	return sql[:l.maxSQLLength] + "...(truncated)"
}

// MapGormLogLevel maps a config log level to the GORM log level
func MapGormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "warn":
		return gormlogger.Warn
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
