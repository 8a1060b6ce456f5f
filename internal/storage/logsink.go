package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/RecoveryAshes/imgharvest/internal/models"
)

// LogSink 追加写入的结果日志
type LogSink interface {
	Append(ctx context.Context, entries []models.LogEntry) error
	Close() error
}

var logColumns = []string{"Row", "ActivityId", "URL", "File", "Status", "Error", "Time"}

// CSVLogSink 追加写入CSV文件,首次创建时写表头
type CSVLogSink struct {
	mu   sync.Mutex
	path string
}

// NewCSVLogSink 创建CSV日志
func NewCSVLogSink(path string) (*CSVLogSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: 创建日志目录失败: %v", models.ErrPersistence, err)
		}
	}
	return &CSVLogSink{path: path}, nil
}

// Append 追加记录并fsync
func (s *CSVLogSink) Append(_ context.Context, entries []models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	needHeader := false
	if info, err := os.Stat(s.path); err != nil || info.Size() == 0 {
		needHeader = true
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("%w: 打开日志文件失败: %v", models.ErrPersistence, err)
	}

	w := csv.NewWriter(f)
	if needHeader {
		w.Write(logColumns)
	}
	for _, e := range entries {
		w.Write([]string{
			strconv.Itoa(e.Row),
			e.ActivityID,
			e.URL,
			e.File,
			string(e.Status),
			e.Error,
			e.Time.Format(time.RFC3339),
		})
	}
	w.Flush()

	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("%w: 写入日志失败: %v", models.ErrPersistence, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: 同步日志失败: %v", models.ErrPersistence, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return nil
}

// Close 无需释放资源
func (s *CSVLogSink) Close() error {
	return nil
}

// ReadCSVLog 读取CSV日志中的全部记录
func ReadCSVLog(path string) ([]models.LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}

	var entries []models.LogEntry
	for i, r := range records {
		if i == 0 || len(r) < len(logColumns) {
			continue
		}
		row, err := strconv.Atoi(r[0])
		if err != nil {
			return nil, fmt.Errorf("日志第%d行格式错误: %w", i+1, err)
		}
		ts, _ := time.Parse(time.RFC3339, r[6])
		entries = append(entries, models.LogEntry{
			Row:        row,
			ActivityID: r[1],
			URL:        r[2],
			File:       r[3],
			Status:     models.OutcomeStatus(r[4]),
			Error:      r[5],
			Time:       ts,
		})
	}
	return entries, nil
}
