package models

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ImageExtensions 允许的图片扩展名
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".avif": true,
	".heic": true,
}

// ValidateURL 验证URL
func ValidateURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("无效的URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL必须是HTTP或HTTPS协议")
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL必须包含主机名")
	}
	return nil
}

// IsHTTPURL 是否为http/https绝对URL(不区分大小写)
func IsHTTPURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// URLExtension 返回URL路径的扩展名(小写,忽略查询串和片段)
func URLExtension(rawURL string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return strings.ToLower(path.Ext(p))
}

// HasImageExtension URL扩展名是否在允许列表中
func HasImageExtension(rawURL string) bool {
	return ImageExtensions[URLExtension(rawURL)]
}

// generateID 生成唯一ID
func generateID() string {
	return uuid.New().String()
}
