package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/spf13/viper"
)

// 日志接收端和进度存储的后端
const (
	BackendCSV    = "csv"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config 应用程序配置
type Config struct {
	Harvest  models.HarvestConfig `mapstructure:"harvest"`
	Input    InputConfig          `mapstructure:"input"`
	Output   OutputConfig         `mapstructure:"output"`
	Sink     SinkConfig           `mapstructure:"sink"`
	Progress ProgressConfig       `mapstructure:"progress"`
	HTTP     HTTPConfig           `mapstructure:"http"`
	Logging  LoggingConfig        `mapstructure:"logging"`
}

// InputConfig 输入配置
type InputConfig struct {
	RowsCSV  string `mapstructure:"rows_csv"`
	RawCSV   string `mapstructure:"raw_csv"`
	StartRow int    `mapstructure:"start_row"` // -1 表示从进度指针继续
}

// OutputConfig 输出配置
type OutputConfig struct {
	Dir         string `mapstructure:"dir"`
	SummaryJSON string `mapstructure:"summary_json"`
}

// SinkConfig 日志接收端配置
type SinkConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// ProgressConfig 进度指针存储配置
type ProgressConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// HTTPConfig 请求头配置
type HTTPConfig struct {
	Headers map[string]string `mapstructure:"headers"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// LoadConfig 加载配置文件
// configPath 为空时依次搜索 ./configs、. 和 ~/.imgharvest 下的 config.yaml,
// 找不到配置文件时使用默认值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".imgharvest"))
		}
	}

	// 环境变量覆盖,例如 IMGHARVEST_HARVEST_TIMEOUT=20
	v.SetEnvPrefix("IMGHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, &models.ConfigError{FilePath: configPath, Cause: fmt.Errorf("读取配置文件失败: %w", err)}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, &models.ConfigError{FilePath: v.ConfigFileUsed(), Cause: fmt.Errorf("解析配置文件失败: %w", err)}
	}
	config.Harvest.OutputDir = config.Output.Dir

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	d := models.DefaultHarvestConfig()

	v.SetDefault("harvest.download_concurrency", d.DownloadConcurrency)
	v.SetDefault("harvest.max_images_per_site", d.MaxImagesPerSite)
	v.SetDefault("harvest.min_image_size.width", d.MinImageSize.Width)
	v.SetDefault("harvest.min_image_size.height", d.MinImageSize.Height)
	v.SetDefault("harvest.request_retries", d.RequestRetries)
	v.SetDefault("harvest.timeout", d.Timeout)
	v.SetDefault("harvest.download_attempts", d.DownloadAttempts)
	v.SetDefault("harvest.retry_backoff_ms", d.RetryBackoffMillis)
	v.SetDefault("harvest.executor_workers", d.ExecutorWorkers)
	v.SetDefault("harvest.instances", d.Instances)
	v.SetDefault("harvest.auto_tune", d.AutoTune)
	v.SetDefault("harvest.social_domains", d.SocialDomains)

	v.SetDefault("harvest.dynamic.enabled", d.Dynamic.Enabled)
	v.SetDefault("harvest.dynamic.headless", d.Dynamic.Headless)
	v.SetDefault("harvest.dynamic.max_scroll_rounds", d.Dynamic.MaxScrollRounds)
	v.SetDefault("harvest.dynamic.max_clicks", d.Dynamic.MaxClicks)
	v.SetDefault("harvest.dynamic.settle_ms", d.Dynamic.SettleMillis)
	v.SetDefault("harvest.dynamic.min_free_memory_mb", d.Dynamic.MinFreeMemoryMB)

	v.SetDefault("input.rows_csv", "data/rows.csv")
	v.SetDefault("input.raw_csv", "data/raw.csv")
	v.SetDefault("input.start_row", -1)

	v.SetDefault("output.dir", d.OutputDir)
	v.SetDefault("output.summary_json", "logs/summary.json")

	v.SetDefault("sink.backend", BackendCSV)
	v.SetDefault("sink.path", "logs/harvest_log.csv")

	v.SetDefault("progress.backend", BackendFile)
	v.SetDefault("progress.path", "logs/progress.json")

	v.SetDefault("http.headers", map[string]string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if err := c.Harvest.Validate(); err != nil {
		return err
	}
	switch c.Sink.Backend {
	case BackendCSV, BackendSQLite:
	default:
		return fmt.Errorf("不支持的日志后端: %q (可选 csv, sqlite)", c.Sink.Backend)
	}
	switch c.Progress.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("不支持的进度后端: %q (可选 file, sqlite)", c.Progress.Backend)
	}
	if c.Sink.Path == "" || c.Progress.Path == "" {
		return fmt.Errorf("日志和进度路径不能为空")
	}
	return nil
}

// CLIFlags 命令行参数,零值表示未指定
type CLIFlags struct {
	Concurrency     int
	Quota           int
	MinSize         string // WxH
	Timeout         int
	Retries         int
	Input           string
	Output          string
	StartRow        int // 负数表示未指定
	NoDynamic       bool
	Headless        *bool
	AutoTune        bool
	SinkBackend     string
	ProgressBackend string
	LogLevel        string
}

// MergeCLIFlags 合并命令行参数到配置,命令行优先于配置文件
func (c *Config) MergeCLIFlags(f CLIFlags) error {
	if f.Concurrency > 0 {
		c.Harvest.DownloadConcurrency = f.Concurrency
	}
	if f.Quota > 0 {
		c.Harvest.MaxImagesPerSite = f.Quota
	}
	if f.MinSize != "" {
		size, err := ParseSize(f.MinSize)
		if err != nil {
			return err
		}
		c.Harvest.MinImageSize = size
	}
	if f.Timeout > 0 {
		c.Harvest.Timeout = f.Timeout
	}
	if f.Retries > 0 {
		c.Harvest.RequestRetries = f.Retries
	}
	if f.Input != "" {
		c.Input.RowsCSV = f.Input
	}
	if f.Output != "" {
		c.Output.Dir = f.Output
		c.Harvest.OutputDir = f.Output
	}
	if f.StartRow >= 0 {
		c.Input.StartRow = f.StartRow
	}
	if f.NoDynamic {
		c.Harvest.Dynamic.Enabled = false
	}
	if f.Headless != nil {
		c.Harvest.Dynamic.Headless = *f.Headless
	}
	if f.AutoTune {
		c.Harvest.AutoTune = true
	}
	if f.SinkBackend != "" {
		c.Sink.Backend = f.SinkBackend
	}
	if f.ProgressBackend != "" {
		c.Progress.Backend = f.ProgressBackend
	}
	if f.LogLevel != "" {
		c.Logging.Level = f.LogLevel
	}
	return nil
}

// ParseSize 解析 "250x250" 格式的尺寸
func ParseSize(s string) (models.Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return models.Size{}, fmt.Errorf("尺寸格式错误: %q (应为 WxH)", s)
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width < 0 {
		return models.Size{}, fmt.Errorf("尺寸宽度无效: %q", s)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || height < 0 {
		return models.Size{}, fmt.Errorf("尺寸高度无效: %q", s)
	}
	return models.Size{Width: width, Height: height}, nil
}
