package crawlers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/storage"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// URLSource 候选URL来源 (SourceChain 实现)
type URLSource interface {
	Next(ctx context.Context, successCount int) (models.CandidateURL, bool)
}

// Downloader 图片下载 (ImageDownloader 实现)
type Downloader interface {
	Probe(ctx context.Context, rawURL string) (string, error)
	Download(ctx context.Context, rawURL string) ([]byte, int, error)
}

// ImageStore 图片暂存与落盘 (storage.FileImageStore 实现)
type ImageStore interface {
	Stage(data []byte, sourceURL string) (*storage.StagedImage, error)
	Commit(staged *storage.StagedImage, activityID, imageType string, seq int) (string, error)
	Discard(staged *storage.StagedImage)
}

// PoolResult 一行的下载结果
type PoolResult struct {
	Outcomes     []models.DownloadOutcome
	SuccessCount int
	FailureCount int
	Discarded    int // 取消后完成、未记录的结果数
}

// DownloadPool 自补充的下载工作池
//
// 每行最多 download_concurrency 个任务同时运行,任务结束前从来源链
// 取下一个URL并派生新任务。成功数达到配额时取消所有在途任务,
// 被取消任务的结果直接丢弃。解码/保存步骤另受 executor_workers 限制,
// 该限制在所有行之间共享。
type DownloadPool struct {
	downloader  Downloader
	store       ImageStore
	concurrency int
	quota       int
	decodeSlots *semaphore.Weighted
}

// NewDownloadPool 创建下载池
func NewDownloadPool(cfg *models.HarvestConfig, downloader Downloader, store ImageStore) *DownloadPool {
	workers := cfg.ExecutorWorkers
	if workers < 1 {
		workers = 1
	}
	return &DownloadPool{
		downloader:  downloader,
		store:       store,
		concurrency: cfg.DownloadConcurrency,
		quota:       cfg.MaxImagesPerSite,
		decodeSlots: semaphore.NewWeighted(int64(workers)),
	}
}

// rowState 行内共享状态,只在 mu 保护下修改
type rowState struct {
	mu       sync.Mutex
	row      models.Row
	dedup    *DedupIndex
	success  int
	failure  int
	outcomes []models.DownloadOutcome
	discard  int
	quota    int
	cancel   context.CancelFunc
	logger   zerolog.Logger
}

// Run 对一行运行下载池,直到配额达到或来源链耗尽
func (p *DownloadPool) Run(ctx context.Context, row models.Row, source URLSource) PoolResult {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := &rowState{
		row:    row,
		dedup:  NewDedupIndex(),
		quota:  p.quota,
		cancel: cancel,
		logger: utils.WithRow(row.Number, row.ActivityID),
	}

	fetchSlots := semaphore.NewWeighted(int64(p.concurrency))
	var wg sync.WaitGroup

	var spawn func(candidate models.CandidateURL)
	spawn = func(candidate models.CandidateURL) {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := fetchSlots.Acquire(runCtx, 1); err != nil {
				return
			}
			p.attempt(runCtx, state, candidate)
			fetchSlots.Release(1)

			if runCtx.Err() != nil || state.successCount() >= p.quota {
				return
			}
			if next, ok := source.Next(runCtx, state.successCount()); ok {
				spawn(next)
			}
		}()
	}

	initial := p.concurrency
	if p.quota < initial {
		initial = p.quota
	}
	for i := 0; i < initial; i++ {
		next, ok := source.Next(runCtx, state.successCount())
		if !ok {
			break
		}
		spawn(next)
	}

	wg.Wait()

	state.mu.Lock()
	defer state.mu.Unlock()
	state.logger.Debug().
		Int("unique", state.dedup.Len()).
		Int("discarded", state.discard).
		Msg("下载池结束")
	return PoolResult{
		Outcomes:     state.outcomes,
		SuccessCount: state.success,
		FailureCount: state.failure,
		Discarded:    state.discard,
	}
}

// attempt 处理单个URL: 探测 -> 下载 -> 解码校验 -> 去重 -> 落盘
func (p *DownloadPool) attempt(ctx context.Context, state *rowState, candidate models.CandidateURL) {
	start := time.Now()
	outcome := models.DownloadOutcome{URL: candidate.URL, Source: candidate.Source}

	if !models.HasImageExtension(candidate.URL) {
		p.probe(ctx, state, candidate.URL)
	}

	data, attempts, err := p.downloader.Download(ctx, candidate.URL)
	outcome.Attempts = attempts
	if err != nil {
		state.recordFailure(ctx, outcome, err, start)
		return
	}

	if err := p.decodeSlots.Acquire(ctx, 1); err != nil {
		return
	}
	staged, err := p.store.Stage(data, candidate.URL)
	p.decodeSlots.Release(1)
	if err != nil {
		state.recordFailure(ctx, outcome, err, start)
		return
	}

	outcome.ContentMD5 = ContentHash(data)
	state.commit(ctx, p, outcome, staged, start)
}

func (p *DownloadPool) probe(ctx context.Context, state *rowState, rawURL string) {
	contentType, err := p.downloader.Probe(ctx, rawURL)
	if err != nil {
		state.logger.Debug().Err(err).Str("url", rawURL).Msg("内容类型探测失败")
		return
	}
	if contentType != "" && !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		state.logger.Warn().Str("url", rawURL).Str("content_type", contentType).Msg("非图片内容类型,仍尝试下载")
	}
}

func (s *rowState) successCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.success
}

// recordFailure 记录失败结果,ctx已取消时丢弃
func (s *rowState) recordFailure(ctx context.Context, outcome models.DownloadOutcome, err error, start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		s.discardLocked(ctx, outcome.URL)
		return
	}

	outcome.Err = err
	outcome.Duration = time.Since(start).Seconds()
	s.failure++
	s.outcomes = append(s.outcomes, outcome)

	s.logger.Warn().
		Str("url", outcome.URL).
		Str("source", string(outcome.Source)).
		Str("error", outcome.ErrorString()).
		Msg("图片下载失败")
}

// commit 在行锁内完成 去重 -> 配额检查 -> 分配序号 -> 重命名
func (s *rowState) commit(ctx context.Context, p *DownloadPool, outcome models.DownloadOutcome, staged *storage.StagedImage, start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil || s.success >= s.quota {
		p.store.Discard(staged)
		s.discardLocked(ctx, outcome.URL)
		return
	}

	if first, ok := s.dedup.Claim(outcome.ContentMD5, outcome.URL); !ok {
		p.store.Discard(staged)
		s.failLocked(outcome, fmt.Errorf("%w: 与 %s 内容相同", models.ErrDuplicateContent, first), start)
		return
	}

	seq := s.success + 1
	name, err := p.store.Commit(staged, s.row.ActivityID, s.row.Type, seq)
	if err != nil {
		s.dedup.Release(outcome.ContentMD5)
		s.failLocked(outcome, err, start)
		return
	}

	s.success = seq
	outcome.Success = true
	outcome.FileName = name
	outcome.Duration = time.Since(start).Seconds()
	s.outcomes = append(s.outcomes, outcome)

	s.logger.Info().
		Str("url", outcome.URL).
		Str("file", name).
		Str("source", string(outcome.Source)).
		Msg("图片已保存")

	if s.success >= p.quota {
		s.logger.Info().Int("quota", p.quota).Msg("已达到配额,取消剩余下载")
		s.cancel()
	}
}

// discardLocked 丢弃取消后才完成的结果,只计数不记录
func (s *rowState) discardLocked(ctx context.Context, url string) {
	s.discard++
	reason := ctx.Err()
	if s.success >= s.quota {
		reason = models.ErrQuotaReached
	}
	s.logger.Debug().Err(reason).Str("url", url).Msg("丢弃结果")
}

func (s *rowState) failLocked(outcome models.DownloadOutcome, err error, start time.Time) {
	outcome.Err = err
	outcome.Duration = time.Since(start).Seconds()
	s.failure++
	s.outcomes = append(s.outcomes, outcome)

	s.logger.Warn().
		Str("url", outcome.URL).
		Str("error", outcome.ErrorString()).
		Msg("图片未保存")
}
