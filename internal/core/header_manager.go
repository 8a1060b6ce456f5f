package core

import (
	"net/http"
	"sync"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
)

const (
	// DefaultUserAgent 默认User-Agent
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Safari/537.36"
)

// HeaderManager 管理页面、样式表和图片请求使用的HTTP头部
// 实现 models.HeaderProvider 接口
type HeaderManager struct {
	// defaults 系统默认头部
	defaults http.Header

	// config 配置文件 http.headers 中的头部
	config http.Header

	// cli 命令行 -H 传入的头部
	cli http.Header

	once   sync.Once
	merged http.Header
	err    error
}

// NewHeaderManager 创建头部管理器
// 参数:
//   - configHeaders: 配置文件中的头部 (viper 会把键转为小写,这里统一规范化)
//   - cliHeaders: 命令行传递的头部字符串列表
func NewHeaderManager(configHeaders map[string]string, cliHeaders []string) (*HeaderManager, error) {
	hm := &HeaderManager{
		defaults: getDefaultHeaders(),
		config:   make(http.Header),
		cli:      make(http.Header),
	}

	for name, value := range configHeaders {
		hm.config.Set(name, value)
	}

	if len(cliHeaders) > 0 {
		parsed, err := models.CliHeaders(cliHeaders).Parse()
		if err != nil {
			return nil, err
		}
		hm.cli = parsed
	}

	return hm, nil
}

// getDefaultHeaders 返回系统默认头部
func getDefaultHeaders() http.Header {
	return http.Header{
		"User-Agent":      []string{DefaultUserAgent},
		"Accept":          []string{"image/avif,image/webp,image/apng,image/*,*/*;q=0.8"},
		"Accept-Encoding": []string{"gzip, deflate, br"},
	}
}

// Validate 验证所有头部的合法性
// 验证顺序: 默认 → 配置 → 命令行
func (hm *HeaderManager) Validate() error {
	if err := utils.ValidateHeaders(hm.defaults); err != nil {
		utils.Errorf("默认头部验证失败: %v", err)
		return err
	}
	if err := utils.ValidateHeaders(hm.config); err != nil {
		utils.Errorf("配置文件头部验证失败: %v", err)
		return err
	}
	if err := utils.ValidateHeaders(hm.cli); err != nil {
		utils.Errorf("命令行头部验证失败: %v", err)
		return err
	}
	return nil
}

// GetMergedHeaders 按优先级合并头部 (default < config < cli)
func (hm *HeaderManager) GetMergedHeaders() http.Header {
	result := make(http.Header)
	for _, layer := range []http.Header{hm.defaults, hm.config, hm.cli} {
		for name, values := range layer {
			result[name] = values
		}
	}
	return result
}

// GetSafeHeaders 返回脱敏后的头部 (用于日志)
func (hm *HeaderManager) GetSafeHeaders() []string {
	return utils.RedactHeaders(hm.GetMergedHeaders())
}

// GetHeaders 实现 HeaderProvider 接口
// 首次调用时验证并合并,之后返回副本
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	hm.once.Do(func() {
		if err := hm.Validate(); err != nil {
			hm.err = err
			return
		}
		hm.merged = hm.GetMergedHeaders()
		utils.Debugf("HTTP头部: %v", hm.GetSafeHeaders())
	})
	if hm.err != nil {
		return nil, hm.err
	}
	return hm.merged.Clone(), nil
}
