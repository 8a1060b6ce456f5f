package crawlers

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// browserSlot 进程内同一时间只允许一个浏览器实例
var browserSlot = make(chan struct{}, 1)

const (
	loadMoreSelector  = "button.load-more, a.more, div.load-more"
	thumbnailSelector = "img.thumbnail, a.gallery-thumb, [onclick]"
)

const imageCountJS = `() => document.images.length`

const harvestImagesJS = `() => {
	const out = [];
	const pushSrcset = (v) => {
		if (!v) return;
		v.split(',').forEach(part => {
			const u = part.trim().split(/\s+/)[0];
			if (u) out.push(u);
		});
	};
	document.querySelectorAll('img, picture source').forEach(el => {
		if (el.currentSrc) out.push(el.currentSrc);
		const src = el.getAttribute('src');
		if (src) out.push(src);
		pushSrcset(el.getAttribute('srcset'));
		pushSrcset(el.getAttribute('data-srcset'));
		['data-src', 'data-lazy', 'data-original'].forEach(a => {
			const v = el.getAttribute(a);
			if (v) out.push(v);
		});
	});
	return out;
}`

const backgroundImagesJS = `() => {
	const out = [];
	const re = /url\(\s*["']?([^"')]+)["']?\s*\)/g;
	document.querySelectorAll('*').forEach(el => {
		const bg = getComputedStyle(el).backgroundImage;
		if (!bg || bg === 'none') return;
		let m;
		while ((m = re.exec(bg)) !== null) out.push(m[1]);
		re.lastIndex = 0;
	});
	return out;
}`

const scrollJS = `() => window.scrollTo(0, document.body ? document.body.scrollHeight : 0)`

// BrowserSource 动态兜底来源(使用Rod)
//
// 静态来源不足时启动一个无头浏览器,滚动/点击"加载更多"触发懒加载,
// 收集 <img> 地址、点击缩略图后出现的大图以及计算样式中的背景图。
// 任何失败都只记录警告并返回已收集到的结果。
type BrowserSource struct {
	config         models.DynamicConfig
	timeout        time.Duration
	monitor        *ResourceMonitor
	headerProvider models.HeaderProvider
}

// NewBrowserSource 创建动态来源,monitor 为 nil 时不做资源检查
func NewBrowserSource(cfg *models.HarvestConfig, monitor *ResourceMonitor, headerProvider models.HeaderProvider) *BrowserSource {
	return &BrowserSource{
		config:         cfg.Dynamic,
		timeout:        cfg.TimeoutDuration(),
		monitor:        monitor,
		headerProvider: headerProvider,
	}
}

// FetchImageURLs 用浏览器发现页面中的图片URL,最多等待一次浏览器槽位
func (bs *BrowserSource) FetchImageURLs(ctx context.Context, pageURL string, needed int) []string {
	if !bs.config.Enabled {
		return nil
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		utils.Warnf("动态兜底: 无效的页面URL %s: %v", pageURL, err)
		return nil
	}

	select {
	case browserSlot <- struct{}{}:
		defer func() { <-browserSlot }()
	case <-ctx.Done():
		return nil
	}

	if bs.monitor != nil {
		if ok, reason := bs.monitor.CheckBrowserAvailability(); !ok {
			utils.Warnf("动态兜底已跳过: %s", reason)
			return nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, bs.budget())
	defer cancel()

	collector := newURLCollector(base)
	if err := bs.crawl(ctx, pageURL, needed, collector); err != nil {
		utils.Warnf("%v", fmt.Errorf("%w: %s: %v", models.ErrDynamicFallback, pageURL, err))
	}

	utils.Infof("动态兜底发现 %d 个图片URL: %s", len(collector.urls), pageURL)
	return collector.urls
}

// budget 单次动态抓取的总时长上限
func (bs *BrowserSource) budget() time.Duration {
	settle := time.Duration(bs.config.SettleMillis) * time.Millisecond
	steps := time.Duration(bs.config.MaxScrollRounds + bs.config.MaxClicks + 1)
	return 3*bs.timeout + steps*settle
}

// crawl 启动浏览器并执行滚动、点击和收集,返回时浏览器必定已关闭
func (bs *BrowserSource) crawl(ctx context.Context, pageURL string, needed int, collector *urlCollector) (err error) {
	defer func() {
		if r := recover(); r != nil {
			utils.Errorf("浏览器操作panic: %v", r)
			err = fmt.Errorf("浏览器操作panic: %v", r)
		}
	}()

	l := launcher.New().
		Context(ctx).
		Headless(bs.config.Headless).
		NoSandbox(true).
		Set("ignore-certificate-errors")

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("启动浏览器失败: %w", err)
	}
	defer func() {
		l.Kill()
		l.Cleanup()
	}()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("连接浏览器失败: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return fmt.Errorf("创建标签页失败: %w", err)
	}

	if headers := currentHeaders(bs.headerProvider); len(headers) > 0 {
		dict := make([]string, 0, len(headers)*2)
		for name, values := range headers {
			if len(values) > 0 {
				dict = append(dict, name, values[0])
			}
		}
		if _, err := page.SetExtraHeaders(dict); err != nil {
			utils.Warnf("设置浏览器请求头失败: %v", err)
		}
	}

	if err := page.Timeout(bs.timeout).Navigate(pageURL); err != nil {
		return fmt.Errorf("导航失败: %w", err)
	}
	if err := page.Timeout(bs.timeout).WaitLoad(); err != nil {
		return fmt.Errorf("等待页面加载失败: %w", err)
	}
	bs.settle(ctx)

	bs.scroll(ctx, page, needed)

	collector.add(evalStrings(page, harvestImagesJS))
	bs.clickThumbnails(ctx, page, collector)
	collector.add(evalStrings(page, backgroundImagesJS))

	return nil
}

// scroll 滚动并点击"加载更多",图片数量不再增长或达到所需数量时停止
func (bs *BrowserSource) scroll(ctx context.Context, page *rod.Page, needed int) {
	last := imageCount(page)
	for round := 0; round < bs.config.MaxScrollRounds; round++ {
		if ctx.Err() != nil || last >= needed {
			return
		}

		if _, err := page.Eval(scrollJS); err != nil {
			utils.Debugf("滚动失败: %v", err)
			return
		}
		if els, err := page.Elements(loadMoreSelector); err == nil && len(els) > 0 {
			if err := els.First().Timeout(bs.timeout).Click(proto.InputMouseButtonLeft, 1); err != nil {
				utils.Debugf("点击加载更多失败: %v", err)
			}
		}
		bs.settle(ctx)

		count := imageCount(page)
		utils.Debugf("滚动第%d轮: 图片数 %d -> %d", round+1, last, count)
		if count <= last {
			return
		}
		last = count
	}
}

// clickThumbnails 依次点击缩略图,收集弹出的大图后按Esc关闭
func (bs *BrowserSource) clickThumbnails(ctx context.Context, page *rod.Page, collector *urlCollector) {
	if bs.config.MaxClicks <= 0 {
		return
	}
	els, err := page.Elements(thumbnailSelector)
	if err != nil {
		return
	}

	for i, el := range els {
		if i >= bs.config.MaxClicks || ctx.Err() != nil {
			return
		}
		if visible, err := el.Visible(); err != nil || !visible {
			continue
		}
		if err := el.Timeout(bs.timeout).Click(proto.InputMouseButtonLeft, 1); err != nil {
			utils.Debugf("点击缩略图失败: %v", err)
			continue
		}
		bs.settle(ctx)
		collector.add(evalStrings(page, harvestImagesJS))

		if err := page.Keyboard.Press(input.Escape); err != nil {
			utils.Debugf("关闭弹层失败: %v", err)
		}
	}
}

func (bs *BrowserSource) settle(ctx context.Context) {
	sleepContext(ctx, time.Duration(bs.config.SettleMillis)*time.Millisecond)
}

func imageCount(page *rod.Page) int {
	res, err := page.Eval(imageCountJS)
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

func evalStrings(page *rod.Page, js string) []string {
	res, err := page.Eval(js)
	if err != nil {
		utils.Debugf("执行脚本失败: %v", err)
		return nil
	}

	var out []string
	for _, item := range res.Value.Arr() {
		if s := item.Str(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// urlCollector 规范化并去重浏览器发现的URL,始终丢弃 .svg
type urlCollector struct {
	base *url.URL
	seen map[string]bool
	urls []string
}

func newURLCollector(base *url.URL) *urlCollector {
	return &urlCollector{base: base, seen: make(map[string]bool)}
}

func (c *urlCollector) add(refs []string) {
	for _, ref := range refs {
		u, ok := resolveHTTP(c.base, ref)
		if !ok || c.seen[u] || models.URLExtension(u) == ".svg" {
			continue
		}
		c.seen[u] = true
		c.urls = append(c.urls, u)
	}
}
