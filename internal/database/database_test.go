package database

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/vidsift/internal/config"
	"github.com/jmylchreest/vidsift/internal/models"
)

func memoryConfig(level string) config.DatabaseConfig {
	return config.DatabaseConfig{
		Driver:          DriverSQLite,
		DSN:             ":memory:",
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		LogLevel:        level,
	}
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(memoryConfig("silent"), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_SQLite(t *testing.T) {
	db := setupTestDB(t)

	assert.NoError(t, db.Ping(context.Background()))
	assert.Equal(t, DriverSQLite, db.Driver())

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MaxOpenConnections)
}

func TestNew_InvalidDriver(t *testing.T) {
	db, err := New(config.DatabaseConfig{Driver: "oracle", DSN: "x"}, nil, nil)
	assert.Nil(t, db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestGetDialector(t *testing.T) {
	for _, driver := range []string{DriverSQLite, DriverPostgres, DriverMySQL} {
		d, err := getDialector(config.DatabaseConfig{Driver: driver, DSN: "dsn"})
		require.NoError(t, err, driver)
		assert.Equal(t, driver, d.Name())
	}
}

func TestDB_CloseThenPing(t *testing.T) {
	db, err := New(memoryConfig("silent"), nil, nil)
	require.NoError(t, err)

	require.NoError(t, db.Close())
	assert.Error(t, db.Ping(context.Background()))
}

func TestOpen_Migrates(t *testing.T) {
	db, err := Open(context.Background(), memoryConfig("silent"), nil)
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, db.Migrator().HasTable(&models.QueueItem{}))
	assert.True(t, db.Migrator().HasTable(&models.RunState{}))

	statuses, err := db.MigrationStatus(context.Background())
	require.NoError(t, err)
	for _, s := range statuses {
		assert.True(t, s.Applied, s.Version)
	}
}

func TestDB_Transaction(t *testing.T) {
	db, err := New(memoryConfig("silent"), nil, &Options{PrepareStmt: false})
	require.NoError(t, err)
	defer db.Close()

	type txItem struct {
		ID    uint   `gorm:"primarykey"`
		Value string `gorm:"not null"`
	}
	require.NoError(t, db.AutoMigrate(&txItem{}))
	ctx := context.Background()

	require.NoError(t, db.Transaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(&txItem{Value: "kept"}).Error
	}))

	rollback := errors.New("forced rollback")
	err = db.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&txItem{Value: "dropped"}).Error; err != nil {
			return err
		}
		return rollback
	})
	assert.ErrorIs(t, err, rollback)

	var values []string
	require.NoError(t, db.Model(&txItem{}).Pluck("value", &values).Error)
	assert.Equal(t, []string{"kept"}, values)
}

func TestGormLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected logger.LogLevel
	}{
		{"silent", logger.Silent},
		{"error", logger.Error},
		{"warn", logger.Warn},
		{"info", logger.Info},
		{"", logger.Warn},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, gormLogLevel(tt.level), tt.level)
	}
}

func TestSlogGormLogger_Trace(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := newGormLogger("warn", log)
	sql := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(context.Background(), time.Now(), sql, nil)
	assert.Empty(t, buf.String(), "fast queries are not logged at warn")

	l.Trace(context.Background(), time.Now(), sql, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String(), "not found is not an error")

	l.Trace(context.Background(), time.Now(), sql, errors.New("disk I/O error"))
	assert.Contains(t, buf.String(), "database error")

	buf.Reset()
	l.Trace(context.Background(), time.Now().Add(-time.Second), sql, nil)
	assert.Contains(t, buf.String(), "slow query")

	buf.Reset()
	l.LogMode(logger.Info).Trace(context.Background(), time.Now(), sql, nil)
	assert.Contains(t, buf.String(), "database query")
}

func TestTruncateSQL(t *testing.T) {
	long := strings.Repeat("x", maxSQLLogLength+10)
	assert.True(t, strings.HasSuffix(truncateSQL(long), "(truncated)"))
	assert.Equal(t, "SELECT 1", truncateSQL("SELECT 1"))
}
