package models

import (
	"encoding/json"
	"time"
)

// RowSummary 汇总文件中的一行
type RowSummary struct {
	Row        int    `json:"row"`
	ActivityID string `json:"activity_id,omitempty"`
	Successes  int    `json:"successes"`
	Failures   int    `json:"failures"`
	Skipped    string `json:"skipped,omitempty"` // 跳过原因
}

// RunSummary 一次运行的汇总
type RunSummary struct {
	RunID     string       `json:"run_id"`
	StartRow  int          `json:"start_row"`
	StartTime time.Time    `json:"start_time"`
	EndTime   time.Time    `json:"end_time,omitempty"`
	Duration  float64      `json:"duration"` // 秒
	Rows      []RowSummary `json:"rows"`

	TotalRows      int `json:"total_rows"`
	SkippedRows    int `json:"skipped_rows"`
	TotalSuccesses int `json:"total_successes"`
	TotalFailures  int `json:"total_failures"`
}

// NewRunSummary 创建运行汇总
func NewRunSummary(runID string, startRow int) *RunSummary {
	return &RunSummary{
		RunID:     runID,
		StartRow:  startRow,
		StartTime: time.Now(),
		Rows:      make([]RowSummary, 0),
	}
}

// Add 累加一行的结果
func (s *RunSummary) Add(r *RowResult) {
	rs := RowSummary{
		Row:        r.Row.Number,
		ActivityID: r.Row.ActivityID,
		Successes:  r.SuccessCount,
		Failures:   r.FailureCount,
	}
	if r.Skipped {
		rs.Skipped = r.SkipReason
		s.SkippedRows++
	}
	s.Rows = append(s.Rows, rs)
	s.TotalRows++
	s.TotalSuccesses += r.SuccessCount
	s.TotalFailures += r.FailureCount
}

// Finish 结束计时
func (s *RunSummary) Finish() {
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime).Seconds()
}

// ToJSON 序列化为JSON
func (s *RunSummary) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
