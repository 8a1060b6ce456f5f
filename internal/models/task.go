package models

import (
	"fmt"
	"strings"
	"time"
)

// RowStatus 输入行状态
type RowStatus string

const (
	RowStatusPending RowStatus = "pending" // 待处理
	RowStatusSkipped RowStatus = "skipped" // 已跳过
)

// Row 一个待抓取的目标页面(输入数据的一行),读取后不再修改
type Row struct {
	Number     int       `json:"row"`         // 行号(稳定排序键,从1开始)
	ActivityID string    `json:"activity_id"` // 外部标识
	Type       string    `json:"type"`        // 分类标签,用于输出文件命名
	Name       string    `json:"name,omitempty"`
	Website    string    `json:"website"` // 目标URL(可能无效)
	Status     RowStatus `json:"status"`
}

// IsPending 是否为待处理行
func (r Row) IsPending() bool {
	return RowStatus(strings.ToLower(strings.TrimSpace(string(r.Status)))) == RowStatusPending
}

// Size 图片尺寸
type Size struct {
	Width  int `json:"width" mapstructure:"width"`
	Height int `json:"height" mapstructure:"height"`
}

// String 格式化为 WxH
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// DynamicConfig 动态回退(无头浏览器)配置
type DynamicConfig struct {
	Enabled         bool `json:"enabled" mapstructure:"enabled"`                       // 是否启用动态回退
	Headless        bool `json:"headless" mapstructure:"headless"`                     // 无头模式
	MaxScrollRounds int  `json:"max_scroll_rounds" mapstructure:"max_scroll_rounds"`   // 滚动/加载更多的最大轮数
	MaxClicks       int  `json:"max_clicks" mapstructure:"max_clicks"`                 // 最多点击的缩略图数量
	SettleMillis    int  `json:"settle_ms" mapstructure:"settle_ms"`                   // 每次交互后的等待(毫秒)
	MinFreeMemoryMB int  `json:"min_free_memory_mb" mapstructure:"min_free_memory_mb"` // 启动浏览器所需的最小可用内存
}

// HarvestConfig 抓取配置,每次运行构造一次,按指针传给各组件
type HarvestConfig struct {
	DownloadConcurrency int           `json:"download_concurrency" mapstructure:"download_concurrency"` // 每行并发下载数
	MaxImagesPerSite    int           `json:"max_images_per_site" mapstructure:"max_images_per_site"`   // 每行配额
	MinImageSize        Size          `json:"min_image_size" mapstructure:"min_image_size"`             // 最小尺寸
	RequestRetries      int           `json:"request_retries" mapstructure:"request_retries"`           // 页面/样式表请求次数
	Timeout             int           `json:"timeout" mapstructure:"timeout"`                           // 网络超时(秒)
	DownloadAttempts    int           `json:"download_attempts" mapstructure:"download_attempts"`       // 单个图片的下载尝试次数
	RetryBackoffMillis  int           `json:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`         // 线性退避基数(毫秒)
	ExecutorWorkers     int           `json:"executor_workers" mapstructure:"executor_workers"`         // 解码/保存并发数
	Instances           int           `json:"instances" mapstructure:"instances"`                       // 同机运行的实例数(自动调优用)
	AutoTune            bool          `json:"auto_tune" mapstructure:"auto_tune"`                       // 按CPU核数自动调优
	OutputDir           string        `json:"output_dir" mapstructure:"-"`                              // 图片输出目录
	SocialDomains       []string      `json:"social_domains" mapstructure:"social_domains"`             // 视为社交链接的域名
	Dynamic             DynamicConfig `json:"dynamic" mapstructure:"dynamic"`
}

// DefaultHarvestConfig 默认抓取配置
func DefaultHarvestConfig() HarvestConfig {
	return HarvestConfig{
		DownloadConcurrency: 4,
		MaxImagesPerSite:    10,
		MinImageSize:        Size{Width: 250, Height: 250},
		RequestRetries:      1,
		Timeout:             10,
		DownloadAttempts:    3,
		RetryBackoffMillis:  500,
		ExecutorWorkers:     4,
		Instances:           1,
		OutputDir:           "output",
		SocialDomains:       []string{"facebook.com", "instagram.com"},
		Dynamic: DynamicConfig{
			Enabled:         true,
			Headless:        true,
			MaxScrollRounds: 5,
			MaxClicks:       20,
			SettleMillis:    1000,
			MinFreeMemoryMB: 512,
		},
	}
}

// Validate 验证配置
func (c *HarvestConfig) Validate() error {
	if c.DownloadConcurrency < 1 || c.DownloadConcurrency > 64 {
		return fmt.Errorf("下载并发数必须在1-64之间")
	}
	if c.MaxImagesPerSite < 1 {
		return fmt.Errorf("每个站点的图片配额必须大于0")
	}
	if c.MinImageSize.Width < 0 || c.MinImageSize.Height < 0 {
		return fmt.Errorf("最小图片尺寸不能为负数")
	}
	if c.RequestRetries < 1 {
		return fmt.Errorf("请求次数必须大于0")
	}
	if c.Timeout < 1 || c.Timeout > 300 {
		return fmt.Errorf("超时时间必须在1-300秒之间")
	}
	if c.DownloadAttempts < 1 {
		return fmt.Errorf("下载尝试次数必须大于0")
	}
	if c.RetryBackoffMillis < 0 {
		return fmt.Errorf("退避时间不能为负数")
	}
	if c.ExecutorWorkers < 1 {
		return fmt.Errorf("解码并发数必须大于0")
	}
	if c.Instances < 1 {
		return fmt.Errorf("实例数必须大于0")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("输出目录不能为空")
	}
	if c.Dynamic.MaxScrollRounds < 0 || c.Dynamic.MaxClicks < 0 {
		return fmt.Errorf("动态回退的迭代上限不能为负数")
	}
	return nil
}

// TimeoutDuration 网络超时
func (c *HarvestConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// RetryBackoff 线性退避基数
func (c *HarvestConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMillis) * time.Millisecond
}
