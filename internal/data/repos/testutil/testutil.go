package testutil

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/eddyhq/eddy-backend/internal/data/db"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

var (
	logOnce sync.Once
	logg    *logger.Logger
	logErr  error

	dbMu     sync.Mutex
	dbHandle map[string]*gorm.DB
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

// DB returns a migrated database handle. By default every test package gets
// its own in-memory sqlite database; set TEST_POSTGRES_DSN to run the same
// tests against Postgres instead.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	cfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	}

	dbMu.Lock()
	defer dbMu.Unlock()
	if dbHandle == nil {
		dbHandle = map[string]*gorm.DB{}
	}

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	key := dsn
	if key == "" {
		key = "sqlite"
	}
	if existing, ok := dbHandle[key]; ok {
		return existing
	}

	var (
		handle *gorm.DB
		err    error
	)
	if dsn != "" {
		handle, err = gorm.Open(postgres.Open(dsn), cfg)
	} else {
		// A named shared-cache database so the pool's connections all see
		// the same schema.
		uri := fmt.Sprintf("file:eddy_test_%d?mode=memory&cache=shared", os.Getpid())
		handle, err = gorm.Open(sqlite.Open(uri), cfg)
	}
	if err != nil {
		tb.Fatalf("failed to open test db: %v", err)
	}
	if sqlDB, dErr := handle.DB(); dErr == nil {
		// Keep connections pooled so the shared in-memory database survives
		// between tests.
		sqlDB.SetMaxIdleConns(4)
	}

	if err := db.AutoMigrateAll(handle); err != nil {
		tb.Fatalf("failed to migrate test db: %v", err)
	}
	if err := db.EnsureGraphIndexes(handle); err != nil {
		tb.Fatalf("failed to ensure graph indexes: %v", err)
	}
	if err := db.EnsureLedgerIndexes(handle); err != nil {
		tb.Fatalf("failed to ensure ledger indexes: %v", err)
	}

	dbHandle[key] = handle
	return handle
}

func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}
