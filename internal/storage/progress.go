package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/RecoveryAshes/imgharvest/internal/models"
)

// ProgressStore 进度指针持久化,每行完成后写一次
type ProgressStore interface {
	// Load 读取进度,从未保存过时返回 nil, nil
	Load(ctx context.Context) (*models.Progress, error)
	Save(ctx context.Context, p *models.Progress) error
	Close() error
}

// FileProgressStore JSON文件形式的进度存储
type FileProgressStore struct {
	path string
}

// NewFileProgressStore 创建文件进度存储
func NewFileProgressStore(path string) *FileProgressStore {
	return &FileProgressStore{path: path}
}

// Load 读取进度文件
func (s *FileProgressStore) Load(_ context.Context) (*models.Progress, error) {
	p, err := models.LoadProgressFromFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: 读取进度文件失败: %v", models.ErrPersistence, err)
	}
	return p, nil
}

// Save 原子写入进度文件
func (s *FileProgressStore) Save(_ context.Context, p *models.Progress) error {
	if err := p.SaveToFile(s.path); err != nil {
		return fmt.Errorf("%w: 保存进度失败: %v", models.ErrPersistence, err)
	}
	return nil
}

// Close 无需释放资源
func (s *FileProgressStore) Close() error {
	return nil
}
