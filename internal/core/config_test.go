package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp 切换到空的临时目录,测试结束后恢复
func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoadConfigDefaults(t *testing.T) {
	// 临时目录中没有 config.yaml, 全部使用默认值
	chdirTemp(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Harvest.DownloadConcurrency)
	assert.Equal(t, 10, cfg.Harvest.MaxImagesPerSite)
	assert.Equal(t, models.Size{Width: 250, Height: 250}, cfg.Harvest.MinImageSize)
	assert.Equal(t, 1, cfg.Harvest.RequestRetries)
	assert.Equal(t, 10, cfg.Harvest.Timeout)
	assert.Equal(t, []string{"facebook.com", "instagram.com"}, cfg.Harvest.SocialDomains)
	assert.True(t, cfg.Harvest.Dynamic.Enabled)
	assert.Equal(t, "output", cfg.Harvest.OutputDir)
	assert.Equal(t, -1, cfg.Input.StartRow)
	assert.Equal(t, BackendCSV, cfg.Sink.Backend)
	assert.Equal(t, BackendFile, cfg.Progress.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
harvest:
  download_concurrency: 8
  max_images_per_site: 5
  min_image_size:
    width: 400
    height: 300
  dynamic:
    enabled: false
output:
  dir: /tmp/pictures
sink:
  backend: sqlite
  path: logs/harvest.db
http:
  headers:
    Referer: https://example.com/
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Harvest.DownloadConcurrency)
	assert.Equal(t, 5, cfg.Harvest.MaxImagesPerSite)
	assert.Equal(t, models.Size{Width: 400, Height: 300}, cfg.Harvest.MinImageSize)
	assert.False(t, cfg.Harvest.Dynamic.Enabled)
	assert.Equal(t, 5, cfg.Harvest.Dynamic.MaxScrollRounds)
	assert.Equal(t, "/tmp/pictures", cfg.Harvest.OutputDir)
	assert.Equal(t, BackendSQLite, cfg.Sink.Backend)
	assert.Equal(t, "https://example.com/", cfg.HTTP.Headers["referer"])
}

func TestLoadConfigEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("IMGHARVEST_HARVEST_TIMEOUT", "30")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Harvest.Timeout)
}

func TestLoadConfigBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("harvest: [unclosed"), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	var ce *models.ConfigError
	assert.True(t, errors.As(err, &ce))
}

func TestMergeCLIFlags(t *testing.T) {
	chdirTemp(t)
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	headed := false
	require.NoError(t, cfg.MergeCLIFlags(CLIFlags{
		Concurrency: 2,
		Quota:       3,
		MinSize:     "100x120",
		Output:      "pics",
		StartRow:    7,
		NoDynamic:   true,
		Headless:    &headed,
		SinkBackend: BackendSQLite,
	}))

	assert.Equal(t, 2, cfg.Harvest.DownloadConcurrency)
	assert.Equal(t, 3, cfg.Harvest.MaxImagesPerSite)
	assert.Equal(t, models.Size{Width: 100, Height: 120}, cfg.Harvest.MinImageSize)
	assert.Equal(t, "pics", cfg.Harvest.OutputDir)
	assert.Equal(t, 7, cfg.Input.StartRow)
	assert.False(t, cfg.Harvest.Dynamic.Enabled)
	assert.False(t, cfg.Harvest.Dynamic.Headless)
	assert.Equal(t, BackendSQLite, cfg.Sink.Backend)

	// 未指定的参数保持配置值
	assert.Equal(t, 10, cfg.Harvest.Timeout)

	assert.Error(t, cfg.MergeCLIFlags(CLIFlags{MinSize: "big", StartRow: -1}))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"默认配置", func(c *Config) {}, false},
		{"未知日志后端", func(c *Config) { c.Sink.Backend = "kafka" }, true},
		{"未知进度后端", func(c *Config) { c.Progress.Backend = "redis" }, true},
		{"进度路径为空", func(c *Config) { c.Progress.Path = "" }, true},
		{"并发为0", func(c *Config) { c.Harvest.DownloadConcurrency = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{
				Harvest:  models.DefaultHarvestConfig(),
				Sink:     SinkConfig{Backend: BackendCSV, Path: "log.csv"},
				Progress: ProgressConfig{Backend: BackendFile, Path: "progress.json"},
			}
			tt.mutate(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    models.Size
		wantErr bool
	}{
		{"250x250", models.Size{Width: 250, Height: 250}, false},
		{" 640X480 ", models.Size{Width: 640, Height: 480}, false},
		{"0x0", models.Size{}, false},
		{"250", models.Size{}, true},
		{"-1x5", models.Size{}, true},
		{"ax5", models.Size{}, true},
	}

	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSize(%q) = %v, 期望 %v", tt.in, got, tt.want)
		}
	}
}
