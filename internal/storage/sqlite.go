package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	_ "modernc.org/sqlite" // sqlite driver
)

// SQLiteStore SQLite形式的结果日志和进度存储,同时实现 LogSink 和 ProgressStore
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ LogSink       = (*SQLiteStore)(nil)
	_ ProgressStore = (*SQLiteStore)(nil)
)

// OpenSQLite 打开(或创建)数据库并建表
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: 创建数据库目录失败: %v", models.ErrPersistence, err)
		}
	}

	db, err := initDatabase(path)
	if err != nil {
		return nil, fmt.Errorf("%w: 打开数据库失败: %v", models.ErrPersistence, err)
	}
	return &SQLiteStore{db: db}, nil
}

func initDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			row_number INT NOT NULL,
			activity_id TEXT NOT NULL,
			url TEXT NOT NULL,
			file TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL,
			created_at INT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_outcomes_row ON outcomes(row_number);
		CREATE TABLE IF NOT EXISTS progress (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			next_row INT NOT NULL,
			run_id TEXT NOT NULL,
			processed INT NOT NULL,
			updated_at INT NOT NULL
		);
	`)
	return err
}

// Append 在一个事务中追加本行的全部记录
func (s *SQLiteStore) Append(ctx context.Context, entries []models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	const q = `INSERT INTO outcomes (row_number, activity_id, url, file, status, error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Row, e.ActivityID, e.URL, e.File, string(e.Status), e.Error, e.Time.UnixMilli()); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: 写入日志失败: %v", models.ErrPersistence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return nil
}

// Entries 按写入顺序读取某行的记录, row <= 0 时读取全部
func (s *SQLiteStore) Entries(ctx context.Context, row int) ([]models.LogEntry, error) {
	q := `SELECT row_number, activity_id, url, file, status, error, created_at FROM outcomes`

	var args []any
	if row > 0 {
		q += ` WHERE row_number = ?`
		args = append(args, row)
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var (
			e       models.LogEntry
			status  string
			created int64
		)
		if err := rows.Scan(&e.Row, &e.ActivityID, &e.URL, &e.File, &status, &e.Error, &created); err != nil {
			return nil, err
		}
		e.Status = models.OutcomeStatus(status)
		e.Time = time.UnixMilli(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Load 读取进度,没有记录时返回 nil, nil
func (s *SQLiteStore) Load(ctx context.Context) (*models.Progress, error) {
	const q = `SELECT next_row, run_id, processed, updated_at FROM progress WHERE id = 1`

	var (
		p       models.Progress
		updated int64
	)
	err := s.db.QueryRowContext(ctx, q).Scan(&p.NextRow, &p.RunID, &p.Processed, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: 读取进度失败: %v", models.ErrPersistence, err)
	}
	p.UpdatedAt = time.UnixMilli(updated)
	return &p, nil
}

// Save 覆盖写入进度
func (s *SQLiteStore) Save(ctx context.Context, p *models.Progress) error {
	const q = `INSERT INTO progress (id, next_row, run_id, processed, updated_at) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET next_row = excluded.next_row, run_id = excluded.run_id,
		processed = excluded.processed, updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, q, p.NextRow, p.RunID, p.Processed, p.UpdatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("%w: 保存进度失败: %v", models.ErrPersistence, err)
	}
	return nil
}

// Close 关闭数据库
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
