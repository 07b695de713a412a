package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockPool(t *testing.T) (*Pool, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		// gorm pings on Open, which the mock would reject as unexpected.
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	cfg := DefaultPoolConfig()
	cfg.HealthCheckInterval = 0

	pool, err := NewPool(gormDB, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool, mock
}

func TestNewPoolNilDB(t *testing.T) {
	_, err := NewPool(nil, DefaultPoolConfig(), zap.NewNop())
	assert.Error(t, err)
}

func TestPoolPing(t *testing.T) {
	pool, mock := newMockPool(t)

	mock.ExpectPing()
	assert.NoError(t, pool.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolStats(t *testing.T) {
	pool, _ := newMockPool(t)

	stats := pool.Stats()
	assert.Equal(t, DefaultPoolConfig().MaxOpenConns, stats.MaxOpenConnections)
}

func TestPoolClose(t *testing.T) {
	pool, mock := newMockPool(t)

	mock.ExpectClose()
	require.NoError(t, pool.Close())

	assert.Error(t, pool.Ping(context.Background()))
	assert.Error(t, pool.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		return nil
	}))

	// Second close is a no-op.
	assert.NoError(t, pool.Close())
}

func TestPoolWithTransaction(t *testing.T) {
	pool, mock := newMockPool(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE topics").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := pool.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		return tx.Exec("UPDATE topics SET title = $1 WHERE id = $2", "new", "t1").Error
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolWithTransactionRollsBack(t *testing.T) {
	pool, mock := newMockPool(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	wantErr := errors.New("boom")
	err := pool.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolWithTransactionRetry(t *testing.T) {
	pool, mock := newMockPool(t)

	// First attempt deadlocks, second succeeds.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE topics").WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE topics").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := pool.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		return tx.Exec("UPDATE topics SET title = $1", "new").Error
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolWithTransactionRetryGivesUpOnPermanentError(t *testing.T) {
	pool, mock := newMockPool(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE topics").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err := pool.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		return tx.Exec("UPDATE topics SET title = $1", "new").Error
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolWithTransactionRetryExhausted(t *testing.T) {
	pool, mock := newMockPool(t)

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE topics").WillReturnError(errors.New("deadlock detected"))
		mock.ExpectRollback()
	}

	start := time.Now()
	err := pool.WithTransactionRetry(context.Background(), 2, func(tx *gorm.DB) error {
		return tx.Exec("UPDATE topics SET title = $1", "new").Error
	})
	assert.ErrorContains(t, err, "after 2 retries")
	// Backoff between attempts should have run at least once.
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"deadlock", errors.New("deadlock detected"), true},
		{"serialization", errors.New("ERROR: could not serialize access (SQLSTATE 40001)"), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"lock wait timeout", errors.New("Error 1205: Lock wait timeout exceeded"), true},
		{"bad connection", errors.New("driver: bad connection"), true},
		{"sqlite busy", errors.New("database is locked"), true},
		{"syntax", errors.New("syntax error at or near"), false},
		{"not found", errors.New("record not found"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryableError(tt.err))
		})
	}
}
