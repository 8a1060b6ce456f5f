package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Progress 进度指针: 下一个待处理的行号
type Progress struct {
	NextRow   int       `json:"next_row"`   // 下一个未处理的行号
	RunID     string    `json:"run_id"`     // 最后写入的运行ID
	Processed int       `json:"processed"`  // 本次运行已完成的行数
	UpdatedAt time.Time `json:"updated_at"` // 最后更新时间
}

// NewProgress 创建进度指针
func NewProgress(nextRow int) *Progress {
	return &Progress{
		NextRow:   nextRow,
		RunID:     generateID(),
		UpdatedAt: time.Now(),
	}
}

// Resume 以新的运行ID继续,指针不变
func (p *Progress) Resume() {
	p.RunID = generateID()
	p.Processed = 0
	p.UpdatedAt = time.Now()
}

// Advance 行完成后推进指针
func (p *Progress) Advance(completedRow int) {
	p.NextRow = completedRow + 1
	p.Processed++
	p.UpdatedAt = time.Now()
}

// ToJSON 序列化为JSON
func (p *Progress) ToJSON() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// FromJSON 从JSON反序列化
func (p *Progress) FromJSON(data []byte) error {
	return json.Unmarshal(data, p)
}

// SaveToFile 原子写入: 先写临时文件并fsync,再rename覆盖
func (p *Progress) SaveToFile(path string) error {
	data, err := p.ToJSON()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建进度目录失败: %w", err)
		}
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("创建临时进度文件失败: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("写入进度失败: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("同步进度文件失败: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// LoadProgressFromFile 从文件加载
func LoadProgressFromFile(path string) (*Progress, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p Progress
	if err := p.FromJSON(data); err != nil {
		return nil, err
	}

	return &p, nil
}
