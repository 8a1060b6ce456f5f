package crawlers

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
)

// MaxImageBytes 单张图片的最大字节数
const MaxImageBytes = 32 << 20

// Fetcher 页面/样式表文本抓取
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// NewTransport 页面和图片请求共用的Transport
// 跳过证书验证,允许访问自签名或过期证书的站点
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
}

// PageFetcher 基于Colly的页面抓取器,同步模式,每次抓取克隆一个collector
type PageFetcher struct {
	collector      *colly.Collector
	headerProvider models.HeaderProvider
	retries        int
}

// NewPageFetcher 创建页面抓取器
func NewPageFetcher(cfg *models.HarvestConfig, transport http.RoundTripper, headerProvider models.HeaderProvider) *PageFetcher {
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.MaxBodySize(MaxImageBytes),
	)
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.TimeoutDuration())

	retries := cfg.RequestRetries
	if retries < 1 {
		retries = 1
	}

	return &PageFetcher{
		collector:      c,
		headerProvider: headerProvider,
		retries:        retries,
	}
}

// Fetch 抓取URL文本,最多请求 request_retries 次
func (f *PageFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	headers := currentHeaders(f.headerProvider)

	var lastErr error
	for attempt := 1; attempt <= f.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		body, err := f.fetchOnce(ctx, rawURL, headers)
		if err == nil {
			return body, nil
		}
		lastErr = err
		utils.Debugf("抓取失败 [%s] 第%d/%d次: %v", rawURL, attempt, f.retries, err)
	}

	return "", fmt.Errorf("%w: %s: %v", models.ErrFetch, rawURL, lastErr)
}

func (f *PageFetcher) fetchOnce(ctx context.Context, rawURL string, headers http.Header) (string, error) {
	c := f.collector.Clone()
	c.Context = ctx

	var body []byte
	var decodeErr error

	c.OnRequest(func(r *colly.Request) {
		for name, values := range headers {
			if len(values) > 0 {
				r.Headers.Set(name, values[0])
			}
		}
	})

	c.OnResponse(func(r *colly.Response) {
		body, decodeErr = decompressResponse(r.Headers.Get("Content-Encoding"), r.Body)
	})

	if err := c.Visit(rawURL); err != nil {
		return "", err
	}
	if decodeErr != nil {
		return "", decodeErr
	}
	return string(body), nil
}

// ImageDownloader 图片下载器: 可选的HEAD探测 + 带线性退避的GET重试
type ImageDownloader struct {
	client         *http.Client
	headerProvider models.HeaderProvider
	attempts       int
	backoff        time.Duration
}

// NewImageDownloader 创建图片下载器
func NewImageDownloader(cfg *models.HarvestConfig, transport http.RoundTripper, headerProvider models.HeaderProvider) *ImageDownloader {
	attempts := cfg.DownloadAttempts
	if attempts < 1 {
		attempts = 3
	}
	return &ImageDownloader{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.TimeoutDuration(),
		},
		headerProvider: headerProvider,
		attempts:       attempts,
		backoff:        cfg.RetryBackoff(),
	}
}

// Probe HEAD请求获取Content-Type
func (d *ImageDownloader) Probe(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", err
	}
	applyHeaders(req, currentHeaders(d.headerProvider))

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()
	return resp.Header.Get("Content-Type"), nil
}

// Download 下载图片内容
// 第n次失败后等待 backoff×n 再重试,全部失败返回 ErrDownload
func (d *ImageDownloader) Download(ctx context.Context, rawURL string) ([]byte, int, error) {
	headers := currentHeaders(d.headerProvider)

	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		body, err := d.get(ctx, rawURL, headers)
		if err == nil {
			return body, attempt, nil
		}
		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
		lastErr = err
		utils.Debugf("下载失败 [%s] 第%d/%d次: %v", rawURL, attempt, d.attempts, err)

		if err := sleepContext(ctx, d.backoff*time.Duration(attempt)); err != nil {
			return nil, attempt, err
		}
	}

	return nil, d.attempts, fmt.Errorf("%w: %v", models.ErrDownload, lastErr)
}

func (d *ImageDownloader) get(ctx context.Context, rawURL string, headers http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	applyHeaders(req, headers)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxImageBytes {
		return nil, fmt.Errorf("响应体超过 %d 字节", MaxImageBytes)
	}

	return decompressResponse(resp.Header.Get("Content-Encoding"), body)
}

func currentHeaders(p models.HeaderProvider) http.Header {
	if p == nil {
		return nil
	}
	headers, err := p.GetHeaders()
	if err != nil {
		utils.Warnf("获取HTTP头部失败: %v", err)
		return nil
	}
	return headers
}

func applyHeaders(req *http.Request, headers http.Header) {
	for name, values := range headers {
		if len(values) > 0 {
			req.Header.Set(name, values[0])
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// decompressResponse 根据Content-Encoding头部解压响应体
// 支持 gzip, deflate, br (Brotli)。Colly已解过的gzip按魔数识别后原样返回
func decompressResponse(contentEncoding string, body []byte) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))

	switch encoding {
	case "gzip", "x-gzip":
		if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
			return body, nil
		}
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("gzip读取失败: %w", err)
		}
		return decompressed, nil

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("deflate读取失败: %w", err)
		}
		return decompressed, nil

	case "br":
		decompressed, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("brotli读取失败: %w", err)
		}
		return decompressed, nil

	case "", "identity":
		return body, nil

	default:
		utils.Warnf("未知的Content-Encoding: %s", contentEncoding)
		return body, nil
	}
}
