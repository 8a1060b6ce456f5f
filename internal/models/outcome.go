package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provenance 候选URL的来源
type Provenance string

const (
	SourceStatic     Provenance = "static"     // 页面静态标记
	SourceStylesheet Provenance = "stylesheet" // 外链样式表
	SourceDynamic    Provenance = "dynamic"    // 无头浏览器
)

// CandidateURL 发现的候选图片URL
type CandidateURL struct {
	URL    string     `json:"url"`
	Source Provenance `json:"source"`
}

// OutcomeStatus 日志记录状态
type OutcomeStatus string

const (
	StatusSuccess        OutcomeStatus = "success"
	StatusDownloadFailed OutcomeStatus = "download_failed"
	StatusNoWebsite      OutcomeStatus = "no_website"
	StatusSkipped        OutcomeStatus = "skipped"
)

// DownloadOutcome 单个URL的下载结果,每个尝试过的URL恰好产生一个
// (重试在结果内部完成)
type DownloadOutcome struct {
	URL        string     `json:"url"`
	Source     Provenance `json:"source"`
	Success    bool       `json:"success"`
	FileName   string     `json:"file,omitempty"`
	Err        error      `json:"-"`
	Attempts   int        `json:"attempts"`
	Duration   float64    `json:"duration"` // 秒
	ContentMD5 string     `json:"md5,omitempty"`
}

// ErrorString 日志中的错误描述
func (o DownloadOutcome) ErrorString() string {
	return OutcomeError(o.Err)
}

// LogEntry 日志接收端的一条记录(追加写入)
type LogEntry struct {
	Row        int           `json:"row"`
	ActivityID string        `json:"activity_id"`
	URL        string        `json:"url"`
	File       string        `json:"file"`
	Status     OutcomeStatus `json:"status"`
	Error      string        `json:"error"`
	Time       time.Time     `json:"time"`
}

// RowResult 单行处理结果
type RowResult struct {
	Row          Row               `json:"row"`
	SuccessCount int               `json:"successes"`
	FailureCount int               `json:"failures"`
	Skipped      bool              `json:"skipped"`
	SkipStatus   OutcomeStatus     `json:"skip_status,omitempty"`
	SkipReason   string            `json:"skip_reason,omitempty"`
	Outcomes     []DownloadOutcome `json:"outcomes"`
	DynamicUsed  bool              `json:"dynamic_used"`
	Duration     float64           `json:"duration"` // 秒
}

// LogEntries 将结果转换为日志记录,跳过的行只产生一条
func (r *RowResult) LogEntries() []LogEntry {
	now := time.Now()
	if r.Skipped {
		return []LogEntry{{
			Row:        r.Row.Number,
			ActivityID: r.Row.ActivityID,
			URL:        r.Row.Website,
			Status:     r.SkipStatus,
			Error:      r.SkipReason,
			Time:       now,
		}}
	}

	entries := make([]LogEntry, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		entry := LogEntry{
			Row:        r.Row.Number,
			ActivityID: r.Row.ActivityID,
			URL:        o.URL,
			Time:       now,
		}
		if o.Success {
			entry.Status = StatusSuccess
			entry.File = o.FileName
		} else {
			entry.Status = StatusDownloadFailed
			entry.Error = o.ErrorString()
		}
		entries = append(entries, entry)
	}
	return entries
}

// CountDuplicates 统计重复内容导致的失败数
func (r *RowResult) CountDuplicates() int {
	n := 0
	for _, o := range r.Outcomes {
		if errors.Is(o.Err, ErrDuplicateContent) {
			n++
		}
	}
	return n
}

// SkipError 跳过的行返回包装了 ErrSkippedInput 的错误,否则返回 nil
func (r *RowResult) SkipError() error {
	if !r.Skipped {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrSkippedInput, r.SkipReason)
}

// SuccessfulFiles 成功保存的文件名
func (r *RowResult) SuccessfulFiles() []string {
	files := make([]string, 0, r.SuccessCount)
	for _, o := range r.Outcomes {
		if o.Success {
			files = append(files, o.FileName)
		}
	}
	return files
}

// OutcomeError 将错误渲染为日志中的error字段
func OutcomeError(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrDuplicateContent):
		return "duplicate_image"
	case errors.Is(err, ErrTooSmall):
		return "too_small"
	case errors.Is(err, ErrDecode):
		return "decode_error:" + detail(err, ErrDecode)
	case errors.Is(err, ErrPersistence):
		return "fs_error:" + detail(err, ErrPersistence)
	case errors.Is(err, ErrDownload):
		return detail(err, ErrDownload)
	}
	return strings.TrimSpace(err.Error())
}

// detail 去掉哨兵错误前缀,只保留底层原因
func detail(err, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return msg
}
