package testutil

import (
	"sync"
	"testing"

	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/voicecoach-backend/internal/data/db"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

var (
	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// DB returns a fresh, migrated in-memory sqlite database for one test.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	gdb, err := db.OpenSQLite(":memory:", gormLogger.Default.LogMode(gormLogger.Silent))
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrateAll(gdb); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	tb.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}
