package crawlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/storage"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngBytes 生成纯色PNG,颜色不同则内容不同
func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func distinctColor(i int) color.Color {
	return color.RGBA{R: uint8(i * 37), G: uint8(255 - i*11), B: uint8(i * 5), A: 255}
}

// imageServer 按路径返回图片,未注册的路径返回500
func imageServer(t *testing.T, images map[string][]byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := images[r.URL.Path]
		if !ok {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestPool(t *testing.T, cfg *models.HarvestConfig) (*DownloadPool, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFileImageStore(dir, cfg.MinImageSize)
	require.NoError(t, err)
	downloader := NewImageDownloader(cfg, NewTransport(), nil)
	return NewDownloadPool(cfg, downloader, store), dir
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

var testRow = models.Row{Number: 7, ActivityID: "A1", Type: "museum", Website: "https://a.com/", Status: models.RowStatusPending}

func TestDownloadPoolDuplicate(t *testing.T) {
	first := pngBytes(t, 300, 300, distinctColor(1))
	server := imageServer(t, map[string][]byte{
		"/a.png": first,
		"/b.png": pngBytes(t, 300, 300, distinctColor(2)),
		"/c.png": first,
	})

	cfg := testConfig()
	cfg.DownloadConcurrency = 1
	cfg.MaxImagesPerSite = 2
	pool, dir := newTestPool(t, cfg)

	dynamic := &fakeDynamic{urls: []string{server.URL + "/never.png"}}
	chain := NewSourceChain(ChainConfig{
		PageURL:     server.URL,
		Static:      []string{server.URL + "/a.png", server.URL + "/c.png", server.URL + "/b.png"},
		Dynamic:     dynamic,
		Concurrency: cfg.DownloadConcurrency,
		Quota:       cfg.MaxImagesPerSite,
	})

	result := pool.Run(context.Background(), testRow, chain)

	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailureCount)
	assert.Equal(t, 0, dynamic.Calls())

	var dup int
	for _, o := range result.Outcomes {
		if !o.Success {
			assert.Equal(t, "duplicate_image", o.ErrorString())
			dup++
		}
	}
	assert.Equal(t, 1, dup)
	assert.Equal(t, []string{"A1_museum_1.png", "A1_museum_2.png"}, listFiles(t, dir))
}

func TestDownloadPoolConcurrencyBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.DownloadConcurrency = 3
	cfg.MaxImagesPerSite = 10
	cfg.DownloadAttempts = 1
	pool, _ := newTestPool(t, cfg)

	static := make([]string, 12)
	for i := range static {
		static[i] = fmt.Sprintf("%s/slow%d.jpg", server.URL, i)
	}
	chain := NewSourceChain(ChainConfig{
		PageURL:     server.URL,
		Static:      static,
		Concurrency: cfg.DownloadConcurrency,
		Quota:       cfg.MaxImagesPerSite,
	})

	result := pool.Run(context.Background(), testRow, chain)

	assert.Equal(t, 0, result.SuccessCount)
	assert.Equal(t, 12, result.FailureCount)
	assert.Equal(t, int32(12), requests.Load())
	assert.LessOrEqual(t, peak.Load(), int32(cfg.DownloadConcurrency), "同时下载数超过并发上限")
	assert.Greater(t, peak.Load(), int32(1), "下载没有并发执行")
}

func TestDownloadPoolAllFailing(t *testing.T) {
	server := imageServer(t, nil)

	cfg := testConfig()
	cfg.DownloadConcurrency = 2
	cfg.MaxImagesPerSite = 10
	cfg.RetryBackoffMillis = 20
	pool, dir := newTestPool(t, cfg)

	static := make([]string, 5)
	for i := range static {
		static[i] = fmt.Sprintf("%s/fail%d.jpg", server.URL, i)
	}
	dynamic := &fakeDynamic{}
	chain := NewSourceChain(ChainConfig{
		PageURL:     server.URL,
		Static:      static,
		Dynamic:     dynamic,
		Concurrency: cfg.DownloadConcurrency,
		Quota:       cfg.MaxImagesPerSite,
	})

	start := time.Now()
	result := pool.Run(context.Background(), testRow, chain)
	elapsed := time.Since(start)

	assert.Equal(t, 0, result.SuccessCount)
	assert.Equal(t, 5, result.FailureCount)
	require.Len(t, result.Outcomes, 5)
	for _, o := range result.Outcomes {
		assert.Equal(t, 3, o.Attempts)
		assert.True(t, errors.Is(o.Err, models.ErrDownload))
		// 每个URL都经历了 20+40+60ms 的退避
		assert.GreaterOrEqual(t, o.Duration, 0.12)
	}
	// 5个URL两路并发,至少三轮
	assert.GreaterOrEqual(t, elapsed, 360*time.Millisecond)
	assert.Equal(t, 1, dynamic.Calls())
	assert.Empty(t, listFiles(t, dir))
}

func TestDownloadPoolTooSmall(t *testing.T) {
	server := imageServer(t, map[string][]byte{
		"/small.png": pngBytes(t, 100, 100, distinctColor(3)),
	})

	cfg := testConfig()
	cfg.MinImageSize = models.Size{Width: 250, Height: 250}
	pool, dir := newTestPool(t, cfg)

	chain := NewSourceChain(ChainConfig{
		PageURL:     server.URL,
		Static:      []string{server.URL + "/small.png"},
		Concurrency: cfg.DownloadConcurrency,
		Quota:       cfg.MaxImagesPerSite,
	})

	result := pool.Run(context.Background(), testRow, chain)

	assert.Equal(t, 0, result.SuccessCount)
	assert.Equal(t, 1, result.FailureCount)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, "too_small", result.Outcomes[0].ErrorString())
	assert.Empty(t, listFiles(t, dir))
}

func TestDownloadPoolDecodeError(t *testing.T) {
	server := imageServer(t, map[string][]byte{
		"/broken.jpg": []byte("not an image"),
	})

	cfg := testConfig()
	pool, dir := newTestPool(t, cfg)

	chain := NewSourceChain(ChainConfig{
		PageURL:     server.URL,
		Static:      []string{server.URL + "/broken.jpg"},
		Concurrency: cfg.DownloadConcurrency,
		Quota:       cfg.MaxImagesPerSite,
	})

	result := pool.Run(context.Background(), testRow, chain)

	require.Len(t, result.Outcomes, 1)
	assert.Contains(t, result.Outcomes[0].ErrorString(), "decode_error:")
	// 解码失败不重试
	assert.Equal(t, 1, result.Outcomes[0].Attempts)
	assert.Empty(t, listFiles(t, dir))
}

func TestDownloadPoolQuotaExact(t *testing.T) {
	images := make(map[string][]byte)
	for i := 0; i < 8; i++ {
		images[fmt.Sprintf("/img%d.png", i)] = pngBytes(t, 260, 260, distinctColor(i+10))
	}
	server := imageServer(t, images)
	static := make([]string, 0, len(images))
	for i := 0; i < 8; i++ {
		static = append(static, fmt.Sprintf("%s/img%d.png", server.URL, i))
	}

	cfg := testConfig()
	cfg.DownloadConcurrency = 4
	cfg.MaxImagesPerSite = 3
	pool, dir := newTestPool(t, cfg)

	dynamic := &fakeDynamic{}
	chain := NewSourceChain(ChainConfig{
		PageURL:     server.URL,
		Static:      static,
		Dynamic:     dynamic,
		Concurrency: cfg.DownloadConcurrency,
		Quota:       cfg.MaxImagesPerSite,
	})

	result := pool.Run(context.Background(), testRow, chain)

	assert.Equal(t, 3, result.SuccessCount)
	assert.Equal(t, 0, dynamic.Calls())

	hashes := make(map[string]bool)
	for _, o := range result.Outcomes {
		if o.Success {
			assert.False(t, hashes[o.ContentMD5], "重复的内容摘要")
			hashes[o.ContentMD5] = true
		}
	}
	assert.Len(t, hashes, 3)
	assert.Equal(t, []string{"A1_museum_1.png", "A1_museum_2.png", "A1_museum_3.png"}, listFiles(t, dir))
}

func TestDownloadPoolCancelsInFlight(t *testing.T) {
	fast1 := pngBytes(t, 300, 300, distinctColor(4))
	fast2 := pngBytes(t, 300, 300, distinctColor(7))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fast1.png":
			w.Write(fast1)
			return
		case "/fast2.png":
			w.Write(fast2)
			return
		}
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.DownloadConcurrency = 3
	cfg.MaxImagesPerSite = 2
	pool, dir := newTestPool(t, cfg)

	chain := NewSourceChain(ChainConfig{
		PageURL:     server.URL,
		Static:      []string{server.URL + "/slow.png", server.URL + "/fast1.png", server.URL + "/fast2.png"},
		Concurrency: cfg.DownloadConcurrency,
		Quota:       cfg.MaxImagesPerSite,
	})

	start := time.Now()
	result := pool.Run(context.Background(), testRow, chain)

	// 配额达到后慢请求被取消,结果不计入
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 0, result.FailureCount)
	assert.Len(t, result.Outcomes, 2)
	assert.Equal(t, []string{"A1_museum_1.png", "A1_museum_2.png"}, listFiles(t, dir))
}

func TestRowStateDiscardAfterQuota(t *testing.T) {
	cfg := testConfig()
	cfg.MaxImagesPerSite = 1
	pool, dir := newTestPool(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	state := &rowState{
		row:    testRow,
		dedup:  NewDedupIndex(),
		quota:  pool.quota,
		cancel: cancel,
		logger: utils.WithRow(testRow.Number, testRow.ActivityID),
	}

	commitOne := func(i int) {
		data := pngBytes(t, 300, 300, distinctColor(i))
		staged, err := pool.store.Stage(data, fmt.Sprintf("https://a.com/%d.png", i))
		require.NoError(t, err)
		outcome := models.DownloadOutcome{URL: fmt.Sprintf("https://a.com/%d.png", i), ContentMD5: ContentHash(data)}
		state.commit(ctx, pool, outcome, staged, time.Now())
	}

	commitOne(1)
	require.Equal(t, 1, state.success)
	assert.Error(t, ctx.Err(), "达到配额后应取消")

	// 配额已满后完成的结果: 临时文件删除,不计成功或失败
	commitOne(2)
	state.recordFailure(ctx, models.DownloadOutcome{URL: "https://a.com/3.png"}, models.ErrDownload, time.Now())

	assert.Equal(t, 1, state.success)
	assert.Equal(t, 0, state.failure)
	assert.Equal(t, 2, state.discard)
	assert.Len(t, state.outcomes, 1)
	assert.Equal(t, 1, state.dedup.Len())
	assert.Equal(t, []string{"A1_museum_1.png"}, listFiles(t, dir))
}

func TestDownloadPoolDynamicFallback(t *testing.T) {
	server := imageServer(t, map[string][]byte{
		"/static.png": pngBytes(t, 300, 300, distinctColor(5)),
		"/lazy.png":   pngBytes(t, 300, 300, distinctColor(6)),
	})

	cfg := testConfig()
	cfg.DownloadConcurrency = 2
	cfg.MaxImagesPerSite = 5
	pool, dir := newTestPool(t, cfg)

	dynamic := &fakeDynamic{urls: []string{server.URL + "/static.png", server.URL + "/lazy.png"}}
	chain := NewSourceChain(ChainConfig{
		PageURL:     server.URL,
		Static:      []string{server.URL + "/static.png"},
		Dynamic:     dynamic,
		Concurrency: cfg.DownloadConcurrency,
		Quota:       cfg.MaxImagesPerSite,
	})

	result := pool.Run(context.Background(), testRow, chain)

	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 0, result.FailureCount)
	assert.Equal(t, 1, dynamic.Calls())
	assert.Len(t, listFiles(t, dir), 2)

	sources := map[models.Provenance]int{}
	for _, o := range result.Outcomes {
		sources[o.Source]++
	}
	assert.Equal(t, 1, sources[models.SourceStatic])
	assert.Equal(t, 1, sources[models.SourceDynamic])
}
