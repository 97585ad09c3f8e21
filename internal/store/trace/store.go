// Package trace keeps one JSON snapshot per fired cycle in trace_runs.
package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type Run struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Reason    string          `json:"reason"`
	Symbol    string          `json:"symbol,omitempty"`
	PlanID    string          `json:"plan_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Store 管理 trace_runs 表，写入失败不影响交易周期。
type Store struct {
	mu    sync.Mutex
	db    *sql.DB
	nowFn func() time.Time
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("trace store path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, nowFn: time.Now}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trace_runs (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			reason TEXT NOT NULL,
			symbol TEXT,
			plan_id TEXT,
			payload TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trace_runs_created ON trace_runs(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// NewID 生成周期 id，同时用作 trace 主键与日志关联字段。
func NewID() string {
	return uuid.NewString()
}

// Save 序列化 payload 并写入一行；ID 为空时自动生成。
func (s *Store) Save(ctx context.Context, run Run, payload any) (Run, error) {
	if run.ID == "" {
		run.ID = NewID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.nowFn()
	}
	run.CreatedAt = run.CreatedAt.UTC()
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return run, fmt.Errorf("encode trace payload: %w", err)
		}
		run.Payload = raw
	}
	if len(run.Payload) == 0 {
		run.Payload = json.RawMessage("{}")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return run, fmt.Errorf("trace store closed")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trace_runs (id, created_at, reason, symbol, plan_id, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UnixMilli(), run.Reason, run.Symbol, run.PlanID, string(run.Payload))
	if err != nil {
		return run, fmt.Errorf("insert trace run: %w", err)
	}
	return run, nil
}

// Latest 返回最近一次 trace；表为空时返回 nil, nil。
func (s *Store) Latest(ctx context.Context) (*Run, error) {
	runs, err := s.History(ctx, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

func (s *Store) History(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("trace store closed")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, reason, symbol, plan_id, payload FROM trace_runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var (
			run      Run
			ts       int64
			sym, pid sql.NullString
			payload  string
		)
		if err := rows.Scan(&run.ID, &ts, &run.Reason, &sym, &pid, &payload); err != nil {
			return nil, err
		}
		run.CreatedAt = time.UnixMilli(ts).UTC()
		run.Symbol = sym.String
		run.PlanID = pid.String
		run.Payload = json.RawMessage(payload)
		out = append(out, run)
	}
	return out, rows.Err()
}

// Get 按 id 读取；不存在返回 nil, nil。
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("trace store closed")
	}
	var (
		run      Run
		ts       int64
		sym, pid sql.NullString
		payload  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, reason, symbol, plan_id, payload FROM trace_runs WHERE id = ?`, id).
		Scan(&run.ID, &ts, &run.Reason, &sym, &pid, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.CreatedAt = time.UnixMilli(ts).UTC()
	run.Symbol, run.PlanID = sym.String, pid.String
	run.Payload = json.RawMessage(payload)
	return &run, nil
}

// Prune 只保留最近 keep 条。
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, fmt.Errorf("trace store closed")
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM trace_runs WHERE id NOT IN (SELECT id FROM trace_runs ORDER BY created_at DESC, rowid DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
