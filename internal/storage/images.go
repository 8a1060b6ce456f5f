package storage

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/google/uuid"
	"github.com/kennygrant/sanitize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// formatExtensions 解码格式对应的扩展名,URL没有可用扩展名时使用
var formatExtensions = map[string]string{
	"jpeg": ".jpg",
	"png":  ".png",
	"gif":  ".gif",
	"bmp":  ".bmp",
	"webp": ".webp",
}

// MaxImagePixels 像素总数上限,超过时不做完整解码
const MaxImagePixels = 89_478_485

// StagedImage 已通过校验并写入临时文件的图片
type StagedImage struct {
	TempPath string
	Ext      string
	Format   string
	Size     models.Size
}

// FileImageStore 输出目录中的图片存储
//
// Stage 解码校验后写入隐藏的临时文件,Commit 以最终名称原子重命名,
// 外部读取者不会看到写了一半的文件。
type FileImageStore struct {
	dir     string
	minSize models.Size
}

// NewFileImageStore 创建图片存储,输出目录不存在时自动创建
func NewFileImageStore(dir string, minSize models.Size) (*FileImageStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: 创建输出目录失败: %v", models.ErrPersistence, err)
	}
	return &FileImageStore{dir: dir, minSize: minSize}, nil
}

// Dir 输出目录
func (s *FileImageStore) Dir() string {
	return s.dir
}

// Stage 解码并校验尺寸,通过后写入临时文件
// 解码失败或像素数超过 MaxImagePixels 返回 ErrDecode,尺寸不足返回 ErrTooSmall,
// 这些情况都不会留下文件
func (s *FileImageStore) Stage(data []byte, sourceURL string) (*StagedImage, error) {
	// 先只读头部: 完整解码会按头部声明的尺寸分配像素缓冲
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDecode, err)
	}

	size := models.Size{Width: cfg.Width, Height: cfg.Height}
	if size.Width < s.minSize.Width || size.Height < s.minSize.Height {
		return nil, fmt.Errorf("%w: %s < %s", models.ErrTooSmall, size, s.minSize)
	}
	if int64(size.Width)*int64(size.Height) > MaxImagePixels {
		return nil, fmt.Errorf("%w: 像素数过大 %s", models.ErrDecode, size)
	}

	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDecode, err)
	}

	tmpPath := filepath.Join(s.dir, "."+uuid.New().String()+".tmp")
	if err := writeFileSync(tmpPath, data); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	return &StagedImage{
		TempPath: tmpPath,
		Ext:      imageExtension(sourceURL, format),
		Format:   format,
		Size:     size,
	}, nil
}

// Commit 将临时文件重命名为 {activityId}_{type}_{seq}{ext},返回文件名
func (s *FileImageStore) Commit(staged *StagedImage, activityID, imageType string, seq int) (string, error) {
	name := ImageFileName(activityID, imageType, seq, staged.Ext)
	if err := os.Rename(staged.TempPath, filepath.Join(s.dir, name)); err != nil {
		os.Remove(staged.TempPath)
		return "", fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return name, nil
}

// Discard 删除临时文件
func (s *FileImageStore) Discard(staged *StagedImage) {
	if staged == nil {
		return
	}
	os.Remove(staged.TempPath)
}

// ImageFileName 输出文件名
func ImageFileName(activityID, imageType string, seq int, ext string) string {
	return fmt.Sprintf("%s_%s_%d%s", safeBaseName(activityID), safeBaseName(imageType), seq, ext)
}

func safeBaseName(s string) string {
	if name := sanitize.BaseName(s); name != "" {
		return name
	}
	return "unknown"
}

func imageExtension(sourceURL, format string) string {
	if ext := models.URLExtension(sourceURL); models.ImageExtensions[ext] {
		return ext
	}
	if ext, ok := formatExtensions[format]; ok {
		return ext
	}
	return ".jpg"
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
