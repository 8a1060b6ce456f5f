package utils

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/RecoveryAshes/imgharvest/internal/models"
)

// MaxHeaderValueLength HTTP头部值最大长度 (8KB)
const MaxHeaderValueLength = 8192

var (
	headerNameRe  = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	headerValueRe = regexp.MustCompile(`^[\x20-\x7E\t]*$`)

	// 由HTTP客户端管理,不允许自定义
	forbiddenHeaders = map[string]bool{
		"host":              true,
		"content-length":    true,
		"transfer-encoding": true,
		"connection":        true,
	}

	// 名称包含这些关键字的头部在日志中脱敏
	sensitiveKeywords = []string{"authorization", "cookie", "token", "key", "secret", "password", "credential"}
)

// ValidateHeaders 验证头部名称和值(RFC 7230)
func ValidateHeaders(headers http.Header) error {
	for name, values := range headers {
		if forbiddenHeaders[strings.ToLower(name)] {
			return &models.ValidationError{HeaderName: name, Reason: "此头部由HTTP客户端自动管理,不允许自定义"}
		}
		if !headerNameRe.MatchString(name) {
			return &models.ValidationError{HeaderName: name, Reason: "头部名称包含非法字符 (仅允许字母、数字和连字符)"}
		}
		for _, v := range values {
			if len(v) > MaxHeaderValueLength {
				return &models.ValidationError{
					HeaderName: name,
					Reason:     fmt.Sprintf("头部值过长: %d 字节 (最大 %d)", len(v), MaxHeaderValueLength),
				}
			}
			if !headerValueRe.MatchString(v) {
				return &models.ValidationError{HeaderName: name, Reason: "头部值包含非法字符 (仅允许可打印ASCII字符)"}
			}
		}
	}
	return nil
}

// IsSensitiveHeader 是否为敏感头部
func IsSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// RedactHeaders 返回脱敏后的 "Name: value" 列表(按名称排序),用于日志
func RedactHeaders(headers http.Header) []string {
	out := make([]string, 0, len(headers))
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}
		value := values[0]
		if IsSensitiveHeader(name) {
			switch {
			case strings.HasPrefix(value, "Bearer "):
				value = "Bearer ***"
			case len(value) > 8:
				value = value[:4] + "***" + value[len(value)-4:]
			default:
				value = "***"
			}
		}
		out = append(out, name+": "+value)
	}
	sort.Strings(out)
	return out
}
