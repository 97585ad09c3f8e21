// Package ledger persists trading rounds, monitoring targets and alert state in SQLite.
package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tradeloop/internal/logger"
	"tradeloop/internal/pkg/errs"
	"tradeloop/internal/store/model"
)

const defaultRetryDelay = 200 * time.Millisecond

// Store 所有操作都是短事务；调用方不得在事务内发起网络请求。
type Store struct {
	db         *gorm.DB
	nowFn      func() time.Time
	retryDelay time.Duration
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("ledger path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return NewFromDB(db)
}

func NewFromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	if err := db.AutoMigrate(
		&model.TraderRoundModel{},
		&model.MonitoringTargetModel{},
		&model.AlertStateModel{},
	); err != nil {
		return nil, fmt.Errorf("ledger migrate failed: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db, nowFn: time.Now, retryDelay: defaultRetryDelay}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) now() time.Time {
	return s.nowFn().UTC()
}

// write 执行一次写操作，失败后重试一次；仍失败则记 error 日志并返回 LedgerIO。
func (s *Store) write(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	err := fn(s.db.WithContext(ctx))
	if err == nil {
		return nil
	}
	logger.Warnf("ledger %s failed, retrying once: %v", op, err)
	select {
	case <-ctx.Done():
		return errs.Wrap(errs.KindLedgerIO, op, "", ctx.Err())
	case <-time.After(s.retryDelay):
	}
	if err = fn(s.db.WithContext(ctx)); err == nil {
		return nil
	}
	logger.Errorf("ledger %s failed after retry: %v", op, err)
	return errs.Wrap(errs.KindLedgerIO, op, "", err)
}

func readErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return errs.Wrap(errs.KindLedgerIO, op, "", err)
}
