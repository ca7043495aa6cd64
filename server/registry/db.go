package registry

import (
	"errors"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// IsKeyViolation detects unique constraint failures on both Postgres and Sqlite
func IsKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	em := err.Error()
	return strings.Contains(em, "violates unique constraint") || strings.Contains(em, "SQLSTATE 23505")
}

// gormWriter sends gorm's warnings (eg slow queries) to our log instead of stdout
type gormWriter struct {
	log logs.Log
}

func (w gormWriter) Printf(format string, a ...interface{}) {
	w.log.Warnf(format, a...)
}

// withLog returns a session that logs slow queries through log, and never logs "record not found",
// which is an ordinary outcome of Run and MarkProcessed.
func withLog(log logs.Log, db *gorm.DB) *gorm.DB {
	return db.Session(&gorm.Session{
		Logger: logger.New(gormWriter{log}, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
	})
}
