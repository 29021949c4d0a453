package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerConfig mirrors the DATABASE_LOG_LEVEL and DATABASE_SLOW_QUERY settings.
type GormLoggerConfig struct {
	Level         string
	SlowThreshold time.Duration
}

// GormLogger routes SQL traces through the request-scoped zap logger.
// Missing rows are not errors here; repositories map them to nil results.
type GormLogger struct {
	level gormlogger.LogLevel
	slow  time.Duration
}

func NewGormLogger(cfg GormLoggerConfig) *GormLogger {
	return &GormLogger{level: parseGormLevel(cfg.Level), slow: cfg.SlowThreshold}
}

func parseGormLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent", "off":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		l.base(ctx).Sugar().Infof(msg, data...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.base(ctx).Sugar().Warnf(msg, data...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		l.base(ctx).Sugar().Errorf(msg, data...)
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	if errors.Is(err, gormlogger.ErrRecordNotFound) {
		err = nil
	}
	elapsed := time.Since(begin)
	slow := l.slow > 0 && elapsed > l.slow

	var write func(string, ...zap.Field)
	switch {
	case err != nil && l.level >= gormlogger.Error:
		write = l.base(ctx).Error
	case slow && l.level >= gormlogger.Warn:
		write = l.base(ctx).Warn
	case l.level >= gormlogger.Info:
		write = l.base(ctx).Debug
	default:
		return
	}

	sql, rows := fc()
	op, table := describeSQL(sql)
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("table", table),
		zap.Duration("elapsed", elapsed),
		zap.Bool("slow", slow),
		zap.String("sql", strings.TrimSpace(sql)),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	write("sql", fields...)
}

// ParamsFilter drops bound values; signatures and emails must not reach logs.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *GormLogger) base(ctx context.Context) *zap.Logger {
	return FromContext(ctx).Named("db")
}

// describeSQL returns the statement verb and the first table it names.
func describeSQL(sql string) (string, string) {
	tokens := strings.Fields(strings.TrimSpace(sql))
	op := "UNKNOWN"
	for i, token := range tokens {
		word := strings.ToUpper(strings.Trim(token, "();"))
		if op == "UNKNOWN" {
			switch word {
			case "SELECT", "INSERT", "UPDATE", "DELETE":
				op = word
				if word == "UPDATE" && i+1 < len(tokens) {
					return op, cleanIdent(tokens[i+1])
				}
			}
			continue
		}
		if (word == "FROM" || word == "INTO") && i+1 < len(tokens) {
			return op, cleanIdent(tokens[i+1])
		}
	}
	return op, ""
}

func cleanIdent(token string) string {
	return strings.Trim(token, "`\"();")
}

var _ gormlogger.Interface = (*GormLogger)(nil)
