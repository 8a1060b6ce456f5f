package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/RecoveryAshes/imgharvest/internal/crawlers"
	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/storage"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
)

// monitorInterval 资源采样间隔
const monitorInterval = 5 * time.Second

// Harvester 组装好的一次运行: 存储、抓取组件和批量运行器
type Harvester struct {
	runner  *Runner
	monitor *crawlers.ResourceMonitor
	closers []io.Closer
}

// HarvesterOptions 组装参数
type HarvesterOptions struct {
	Headers      models.HeaderProvider
	ShowProgress bool
	Out          io.Writer // 每行摘要的输出, nil 为标准输出
}

// NewHarvester 根据配置组装一次运行
// 自动调优在校验之前执行,调优后的并发数同样要通过校验
func NewHarvester(cfg *Config, opts HarvesterOptions) (*Harvester, error) {
	monitor := crawlers.NewResourceMonitor(crawlers.ResourceMonitorConfig{
		MinFreeMemoryMB: cfg.Harvest.Dynamic.MinFreeMemoryMB,
	})
	if cfg.Harvest.AutoTune {
		monitor.AutoTune(&cfg.Harvest)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置无效: %w", err)
	}

	h := &Harvester{monitor: monitor}

	sink, progress, err := h.openStores(cfg)
	if err != nil {
		h.Close()
		return nil, err
	}

	images, err := storage.NewFileImageStore(cfg.Harvest.OutputDir, cfg.Harvest.MinImageSize)
	if err != nil {
		h.Close()
		return nil, err
	}
	utils.Logger.Info().Str("dir", images.Dir()).Msg("图片输出目录")

	harvest := &cfg.Harvest
	transport := crawlers.NewTransport()
	fetcher := crawlers.NewPageFetcher(harvest, transport, opts.Headers)
	downloader := crawlers.NewImageDownloader(harvest, transport, opts.Headers)
	pool := crawlers.NewDownloadPool(harvest, downloader, images)
	browser := crawlers.NewBrowserSource(harvest, monitor, opts.Headers)

	h.runner = NewRunner(RunnerOptions{
		Rows:         storage.NewCSVRowSource(cfg.Input.RowsCSV),
		Processor:    NewRowProcessor(harvest, fetcher, browser, pool),
		Sink:         sink,
		Progress:     progress,
		Reporter:     utils.NewReporter(cfg.Output.SummaryJSON, opts.Out),
		StartRow:     cfg.Input.StartRow,
		ShowProgress: opts.ShowProgress,
	})

	utils.Infof("输出目录: %s, 日志: %s (%s), 进度: %s (%s)",
		cfg.Harvest.OutputDir, cfg.Sink.Path, cfg.Sink.Backend, cfg.Progress.Path, cfg.Progress.Backend)

	return h, nil
}

// openStores 打开日志接收端和进度存储
// 两者都使用同一个 SQLite 文件时共享一个连接
func (h *Harvester) openStores(cfg *Config) (storage.LogSink, storage.ProgressStore, error) {
	var shared *storage.SQLiteStore
	openSQLite := func(path string) (*storage.SQLiteStore, error) {
		if shared != nil && filepath.Clean(path) == filepath.Clean(cfg.Sink.Path) {
			return shared, nil
		}
		db, err := storage.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, db)
		return db, nil
	}

	var sink storage.LogSink
	switch cfg.Sink.Backend {
	case BackendSQLite:
		db, err := openSQLite(cfg.Sink.Path)
		if err != nil {
			return nil, nil, err
		}
		shared = db
		sink = db
	default:
		csvSink, err := storage.NewCSVLogSink(cfg.Sink.Path)
		if err != nil {
			return nil, nil, err
		}
		h.closers = append(h.closers, csvSink)
		sink = csvSink
	}

	var progress storage.ProgressStore
	switch cfg.Progress.Backend {
	case BackendSQLite:
		db, err := openSQLite(cfg.Progress.Path)
		if err != nil {
			return nil, nil, err
		}
		progress = db
	default:
		progress = storage.NewFileProgressStore(cfg.Progress.Path)
	}

	return sink, progress, nil
}

// Run 执行批量抓取
func (h *Harvester) Run(ctx context.Context) (*models.RunSummary, error) {
	h.monitor.StartMonitoring(monitorInterval)
	defer h.monitor.StopMonitoring()
	return h.runner.Run(ctx)
}

// Close 关闭所有存储
func (h *Harvester) Close() error {
	var errs []error
	for _, c := range h.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	h.closers = nil
	return errors.Join(errs...)
}
