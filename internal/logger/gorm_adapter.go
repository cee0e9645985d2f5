package logger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tphakala/repomigrate/internal/errors"
)

// GormLoggerAdapter sends gorm statements to the datastore logger.
//
// Statements run under a task execution carry the task id as trace_id.
// Plain statements log at TRACE; an UPDATE that matched no rows logs at
// DEBUG since that is how a lost claim or a stale state transition shows
// up; failed and slow statements log at WARN.
type GormLoggerAdapter struct {
	log           Logger
	slowThreshold time.Duration
}

// NewGormLoggerAdapter creates the adapter. A slowThreshold of 0 disables
// slow statement warnings.
func NewGormLoggerAdapter(log Logger, slowThreshold time.Duration) *GormLoggerAdapter {
	if log == nil {
		log = NewSlogLogger(nil, LogLevelInfo, nil)
	}
	return &GormLoggerAdapter{log: log, slowThreshold: slowThreshold}
}

func (a *GormLoggerAdapter) LogMode(gormlogger.LogLevel) gormlogger.Interface { return a }

func (a *GormLoggerAdapter) Info(ctx context.Context, msg string, data ...any) {
	a.log.WithContext(ctx).Debug(fmt.Sprintf(msg, data...))
}

func (a *GormLoggerAdapter) Warn(ctx context.Context, msg string, data ...any) {
	a.log.WithContext(ctx).Warn(fmt.Sprintf(msg, data...))
}

func (a *GormLoggerAdapter) Error(ctx context.Context, msg string, data ...any) {
	a.log.WithContext(ctx).Error(fmt.Sprintf(msg, data...))
}

func (a *GormLoggerAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	log := a.log.WithContext(ctx)
	fields := []Field{String("sql", sql), Int64("rows_affected", rows), Duration("elapsed", elapsed)}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		log.Warn("statement failed", append(fields, Error(err))...)
	case a.slowThreshold > 0 && elapsed > a.slowThreshold:
		log.Warn("slow statement", append(fields, Duration("threshold", a.slowThreshold))...)
	case rows == 0 && isUpdate(sql):
		log.Debug("conditional update matched no rows", fields...)
	default:
		log.Trace("statement", fields...)
	}
}

func isUpdate(sql string) bool {
	return len(sql) >= 6 && strings.EqualFold(sql[:6], "UPDATE")
}
