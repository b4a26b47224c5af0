package kgorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type zapLogger struct {
	log           *zap.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// NewLogger adapts a zap logger to GORM. Queries slower than slowThreshold
// are logged at warn, failing queries at error, the rest at debug.
func NewLogger(log *zap.Logger, slowThreshold time.Duration) gormlogger.Interface {
	return &zapLogger{
		log:           log.Named("gorm"),
		level:         gormlogger.Warn,
		slowThreshold: slowThreshold,
	}
}

func (l *zapLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &zapLogger{log: l.log, level: level, slowThreshold: l.slowThreshold}
}

func (l *zapLogger) Info(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.log.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *zapLogger) Warn(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.log.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *zapLogger) Error(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.log.Error(fmt.Sprintf(msg, data...))
	}
}

func (l *zapLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.String("sql", sql),
		zap.Duration("duration", elapsed),
		zap.Int64("rows", rows),
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		l.log.Error("query failed", append(fields, zap.Error(err))...)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold:
		l.log.Warn("slow query", fields...)
	case l.level >= gormlogger.Info:
		l.log.Debug("query", fields...)
	}
}
