package crawlers

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/imgharvest/internal/models"
	"golang.org/x/net/html"
)

// cssURLPattern 匹配CSS中的 url(...) 引用,兼容单双引号和无引号
var cssURLPattern = regexp.MustCompile(`url\(\s*(?:"([^"]*)"|'([^']*)'|([^)'"]*))\s*\)`)

// lazyAttributes 懒加载插件常用的属性,按优先级排列
var lazyAttributes = []string{
	"data-srcset",
	"data-src",
	"data-lazy",
	"data-original",
	"data-lazy-image",
	"data-img",
	"data-deferred",
}

// ExtractImageURLs 从页面标记中提取候选图片URL和外链样式表URL
//
// 收集顺序:
//  1. <source>/<img> 的 srcset
//  2. <img> 的懒加载 data-* 属性
//  3. <source>/<img> 的 src
//  4. 行内 style 中的 background url(),仅保留允许的扩展名
//
// 样式表URL单独返回,由调用方按需抓取。结果按首次出现去重,
// 最后只保留扩展名在允许列表中的URL。
func ExtractImageURLs(markup string, baseURL string) (images []string, stylesheets []string) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, nil
	}
	doc := goquery.NewDocumentFromNode(root)

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, nil
	}
	// 页面自带 <base href> 时以其为准
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = b
		}
	}

	var raw []string

	// 1. srcset
	doc.Find("source[srcset], img[srcset]").Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr("srcset")
		raw = appendResolved(raw, base, parseSrcset(v)...)
	})

	// 2. 懒加载属性
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range lazyAttributes {
			v, ok := s.Attr(attr)
			if !ok || strings.TrimSpace(v) == "" {
				continue
			}
			if attr == "data-srcset" {
				raw = appendResolved(raw, base, parseSrcset(v)...)
			} else {
				raw = appendResolved(raw, base, v)
			}
		}
	})

	// 3. src
	doc.Find("source[src], img[src]").Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr("src")
		raw = appendResolved(raw, base, v)
	})

	// 4. 行内样式
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		for _, ref := range cssURLRefs(style) {
			u, ok := resolveHTTP(base, ref)
			if ok && models.HasImageExtension(u) {
				raw = append(raw, u)
			}
		}
	})

	// 5. 外链样式表
	doc.Find("link[rel][href]").Each(func(_ int, s *goquery.Selection) {
		rel, _ := s.Attr("rel")
		if !hasToken(rel, "stylesheet") {
			return
		}
		href, _ := s.Attr("href")
		if u, ok := resolveHTTP(base, href); ok {
			stylesheets = append(stylesheets, u)
		}
	})

	images = filterImageURLs(dedupe(raw))
	stylesheets = dedupe(stylesheets)
	return images, stylesheets
}

// ExtractCSSImageURLs 从样式表文本中提取 url(...) 引用的图片
// 相对路径以样式表自身的URL为基准
func ExtractCSSImageURLs(cssText string, stylesheetURL string) []string {
	base, err := url.Parse(stylesheetURL)
	if err != nil {
		return nil
	}

	var out []string
	for _, ref := range cssURLRefs(cssText) {
		if u, ok := resolveHTTP(base, ref); ok && models.HasImageExtension(u) {
			out = append(out, u)
		}
	}
	return dedupe(out)
}

// cssURLRefs 提取CSS文本中所有 url() 的参数
func cssURLRefs(css string) []string {
	matches := cssURLPattern.FindAllStringSubmatch(css, -1)
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		for _, g := range m[1:] {
			if g = strings.TrimSpace(g); g != "" {
				refs = append(refs, g)
				break
			}
		}
	}
	return refs
}

// parseSrcset 解析 srcset,返回每个候选项的URL(忽略 1x/200w 描述符)
func parseSrcset(srcset string) []string {
	var urls []string
	s := srcset
	for {
		s = strings.TrimLeft(s, " \t\n\r\f,")
		if s == "" {
			return urls
		}

		end := strings.IndexAny(s, " \t\n\r\f")
		if end < 0 {
			end = len(s)
		}
		candidate := s[:end]
		s = s[end:]

		// URL 末尾的逗号表示没有描述符
		if trimmed := strings.TrimRight(candidate, ","); trimmed != candidate {
			urls = append(urls, trimmed)
			continue
		}
		urls = append(urls, candidate)

		// 跳过描述符直到下一个逗号
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		} else {
			return urls
		}
	}
}

// resolveHTTP 以base解析引用,仅保留 http/https 绝对URL
func resolveHTTP(base *url.URL, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(strings.ToLower(ref), "data:") {
		return "", false
	}
	u, err := base.Parse(ref)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if u.Host == "" {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}

func appendResolved(dst []string, base *url.URL, refs ...string) []string {
	for _, ref := range refs {
		if u, ok := resolveHTTP(base, ref); ok {
			dst = append(dst, u)
		}
	}
	return dst
}

// dedupe 按首次出现顺序去重
func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// filterImageURLs 只保留扩展名在允许列表中的URL
func filterImageURLs(urls []string) []string {
	out := urls[:0]
	for _, u := range urls {
		if models.HasImageExtension(u) {
			out = append(out, u)
		}
	}
	return out
}

// filterHTTP 只保留 http/https URL
func filterHTTP(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if models.IsHTTPURL(u) {
			out = append(out, u)
		}
	}
	return out
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(strings.ToLower(list)) {
		if f == token {
			return true
		}
	}
	return false
}
