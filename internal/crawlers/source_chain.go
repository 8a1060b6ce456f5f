package crawlers

import (
	"context"
	"sync"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
)

// DynamicSource 动态兜底来源,失败时返回空列表而不是错误
type DynamicSource interface {
	FetchImageURLs(ctx context.Context, pageURL string, needed int) []string
}

type chainState int

const (
	stateStatic chainState = iota
	stateStylesheet
	stateDynamic
	stateExhausted
)

func (s chainState) String() string {
	switch s {
	case stateStatic:
		return "static"
	case stateStylesheet:
		return "stylesheet"
	case stateDynamic:
		return "dynamic"
	default:
		return "exhausted"
	}
}

// ChainConfig 来源链参数
type ChainConfig struct {
	PageURL     string
	Static      []string
	Stylesheets []string
	Fetcher     Fetcher
	Dynamic     DynamicSource // nil 表示禁用动态兜底
	Concurrency int
	Quota       int
}

// SourceChain 单行的候选URL来源链
//
// 状态: Static -> Stylesheet -> Dynamic -> Exhausted
// 每个来源按发现顺序产出,耗尽后才进入下一个来源;
// 样式表和动态来源的结果作为新的静态子序列继续产出。
type SourceChain struct {
	mu sync.Mutex

	pageURL     string
	fetcher     Fetcher
	dynamic     DynamicSource
	concurrency int
	quota       int

	state       chainState
	queue       []models.CandidateURL
	stylesheets []string
	seen        map[string]bool

	dynamicCalls int
}

// NewSourceChain 创建来源链
func NewSourceChain(cfg ChainConfig) *SourceChain {
	c := &SourceChain{
		pageURL:     cfg.PageURL,
		fetcher:     cfg.Fetcher,
		dynamic:     cfg.Dynamic,
		concurrency: cfg.Concurrency,
		quota:       cfg.Quota,
		state:       stateStatic,
		stylesheets: append([]string(nil), cfg.Stylesheets...),
		seen:        make(map[string]bool),
	}
	c.queue = toCandidates(cfg.Static, models.SourceStatic)
	return c
}

// Next 返回下一个候选URL,successCount 为调用时本行已成功的数量
// 第二个返回值为 false 表示链已耗尽(或ctx已取消)
func (c *SourceChain) Next(ctx context.Context, successCount int) (models.CandidateURL, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return models.CandidateURL{}, false
		}

		switch c.state {
		case stateStatic:
			for len(c.queue) > 0 {
				next := c.queue[0]
				c.queue = c.queue[1:]
				if c.seen[next.URL] {
					continue
				}
				c.seen[next.URL] = true
				return next, true
			}
			c.state = stateStylesheet

		case stateStylesheet:
			if len(c.stylesheets) == 0 {
				c.state = stateDynamic
				continue
			}
			cssURL := c.stylesheets[0]
			c.stylesheets = c.stylesheets[1:]

			if urls := c.stylesheetImages(ctx, cssURL); len(urls) > 0 {
				c.queue = toCandidates(urls, models.SourceStylesheet)
				c.state = stateStatic
			}

		case stateDynamic:
			c.state = stateExhausted
			if c.dynamic == nil || c.dynamicCalls > 0 || successCount >= c.quota {
				continue
			}

			needed := c.quota - successCount
			if c.concurrency < needed {
				needed = c.concurrency
			}

			c.dynamicCalls++
			utils.Infof("静态来源不足 (%d/%d),启用动态兜底: %s", successCount, c.quota, c.pageURL)
			found := filterHTTP(c.dynamic.FetchImageURLs(ctx, c.pageURL, needed))

			fresh := make([]string, 0, len(found))
			for _, u := range found {
				if !c.seen[u] {
					fresh = append(fresh, u)
				}
			}
			if len(fresh) > 0 {
				c.queue = toCandidates(fresh, models.SourceDynamic)
				c.state = stateStatic
			}

		default:
			return models.CandidateURL{}, false
		}
	}
}

// DynamicUsed 动态兜底是否已被调用
func (c *SourceChain) DynamicUsed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dynamicCalls > 0
}

func (c *SourceChain) stylesheetImages(ctx context.Context, cssURL string) []string {
	if c.fetcher == nil {
		return nil
	}
	text, err := c.fetcher.Fetch(ctx, cssURL)
	if err != nil {
		utils.Warnf("样式表抓取失败,跳过: %v", err)
		return nil
	}
	urls := ExtractCSSImageURLs(text, cssURL)
	utils.Debugf("样式表 %s 提取到 %d 个图片URL", cssURL, len(urls))
	return urls
}

func toCandidates(urls []string, source models.Provenance) []models.CandidateURL {
	out := make([]models.CandidateURL, 0, len(urls))
	for _, u := range urls {
		out = append(out, models.CandidateURL{URL: u, Source: source})
	}
	return out
}
