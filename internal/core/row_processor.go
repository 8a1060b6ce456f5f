package core

import (
	"context"
	"errors"
	"time"

	"github.com/RecoveryAshes/imgharvest/internal/crawlers"
	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
)

// RowProcessor 处理单行: 校验网址、抓取页面、驱动来源链和下载池
type RowProcessor struct {
	config  *models.HarvestConfig
	fetcher crawlers.Fetcher
	dynamic crawlers.DynamicSource
	pool    *crawlers.DownloadPool
}

// NewRowProcessor 创建行处理器, dynamic 为 nil 时不使用动态兜底
func NewRowProcessor(cfg *models.HarvestConfig, fetcher crawlers.Fetcher, dynamic crawlers.DynamicSource, pool *crawlers.DownloadPool) *RowProcessor {
	if !cfg.Dynamic.Enabled {
		dynamic = nil
	}
	return &RowProcessor{
		config:  cfg,
		fetcher: fetcher,
		dynamic: dynamic,
		pool:    pool,
	}
}

// Process 处理一行
//
// 无效、缺失或社交网址直接返回跳过结果,不发起任何请求。
// 页面抓取失败不会中止该行,而是以空的静态候选继续,交给后续来源。
// 只有 ctx 被取消时返回错误,此时结果不完整,调用方不应推进进度。
func (p *RowProcessor) Process(ctx context.Context, row models.Row) (*models.RowResult, error) {
	start := time.Now()
	logger := utils.WithRow(row.Number, row.ActivityID)

	result := &models.RowResult{Row: row}

	ok, status, reason := utils.ValidateWebsite(row.Website, p.config.SocialDomains)
	if !ok {
		result.Skipped = true
		result.SkipStatus = status
		result.SkipReason = reason
		logger.Info().Err(result.SkipError()).Str("website", row.Website).Msg("跳过该行")
		return result, nil
	}

	var images, stylesheets []string
	markup, err := p.fetcher.Fetch(ctx, row.Website)
	switch {
	case err == nil:
		images, stylesheets = crawlers.ExtractImageURLs(markup, row.Website)
		logger.Debug().Int("images", len(images)).Int("stylesheets", len(stylesheets)).Msg("解析页面完成")
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		logger.Warn().Err(err).Msg("页面抓取失败,继续使用其他来源")
	}

	chain := crawlers.NewSourceChain(crawlers.ChainConfig{
		PageURL:     row.Website,
		Static:      images,
		Stylesheets: stylesheets,
		Fetcher:     p.fetcher,
		Dynamic:     p.dynamic,
		Concurrency: p.config.DownloadConcurrency,
		Quota:       p.config.MaxImagesPerSite,
	})

	pr := p.pool.Run(ctx, row, chain)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result.Outcomes = pr.Outcomes
	result.SuccessCount = pr.SuccessCount
	result.FailureCount = pr.FailureCount
	result.DynamicUsed = chain.DynamicUsed()
	result.Duration = time.Since(start).Seconds()

	logger.Info().
		Int("successes", result.SuccessCount).
		Int("failures", result.FailureCount).
		Int("duplicates", result.CountDuplicates()).
		Bool("dynamic", result.DynamicUsed).
		Strs("files", result.SuccessfulFiles()).
		Float64("duration", result.Duration).
		Msg("行处理完成")

	return result, nil
}

// IsInterrupted 错误是否来自运行被中断
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
