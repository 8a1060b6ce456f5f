package crawlers

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticHeaders http.Header

func (h staticHeaders) GetHeaders() (http.Header, error) {
	return http.Header(h), nil
}

func testConfig() *models.HarvestConfig {
	cfg := models.DefaultHarvestConfig()
	cfg.Timeout = 5
	cfg.RetryBackoffMillis = 10
	return &cfg
}

func TestPageFetcherFetch(t *testing.T) {
	var gotUA atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><img src="/a.jpg"></html>`))
	}))
	defer server.Close()

	headers := staticHeaders{"User-Agent": {"imgharvest-test"}}
	f := NewPageFetcher(testConfig(), NewTransport(), headers)

	body, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Contains(t, body, `<img src="/a.jpg">`)
	assert.Equal(t, "imgharvest-test", gotUA.Load())

	// 同一URL可以重复抓取
	_, err = f.Fetch(context.Background(), server.URL)
	assert.NoError(t, err)
}

func TestPageFetcherBrotli(t *testing.T) {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	bw.Write([]byte(`.hero{background:url(hero.png)}`))
	bw.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		w.Header().Set("Content-Encoding", "br")
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	headers := staticHeaders{"Accept-Encoding": {"gzip, deflate, br"}}
	f := NewPageFetcher(testConfig(), NewTransport(), headers)

	body, err := f.Fetch(context.Background(), server.URL+"/site.css")
	require.NoError(t, err)
	assert.Equal(t, `.hero{background:url(hero.png)}`, body)
}

func TestPageFetcherFailure(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.RequestRetries = 2
	f := NewPageFetcher(cfg, NewTransport(), nil)

	_, err := f.Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrFetch))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestImageDownloaderRetries(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	d := NewImageDownloader(testConfig(), NewTransport(), nil)
	body, attempts, err := d.Download(context.Background(), server.URL+"/x.jpg")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
	assert.Equal(t, 3, attempts)
}

func TestImageDownloaderExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.RetryBackoffMillis = 20
	d := NewImageDownloader(cfg, NewTransport(), nil)

	start := time.Now()
	_, attempts, err := d.Download(context.Background(), server.URL+"/missing.jpg")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrDownload))
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, 3, attempts)
	// 20ms×1 + 20ms×2 + 20ms×3
	assert.GreaterOrEqual(t, elapsed, 120*time.Millisecond)
}

func TestImageDownloaderCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.RetryBackoffMillis = 5000
	d := NewImageDownloader(cfg, NewTransport(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := d.Download(ctx, server.URL+"/x.jpg")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestImageDownloaderProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Type", "image/webp")
	}))
	defer server.Close()

	d := NewImageDownloader(testConfig(), NewTransport(), nil)
	ct, err := d.Probe(context.Background(), server.URL+"/img?id=1")
	require.NoError(t, err)
	assert.Equal(t, "image/webp", ct)
}

func TestDecompressResponse(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write([]byte("hello"))
	zw.Close()

	tests := []struct {
		name     string
		encoding string
		body     []byte
		want     string
	}{
		{"gzip", "gzip", gz.Bytes(), "hello"},
		{"已解压的gzip", "gzip", []byte("hello"), "hello"},
		{"无编码", "", []byte("plain"), "plain"},
		{"未知编码原样返回", "zstd", []byte("raw"), "raw"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decompressResponse(tt.encoding, tt.body)
			if err != nil {
				t.Fatalf("decompressResponse() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("decompressResponse() = %q, 期望 %q", got, tt.want)
			}
		})
	}
}
