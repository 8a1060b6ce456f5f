// Package crawlers 提供单行网站的图片发现与下载
//
// # 概述
//
// 一行的处理分为两部分: 来源链按需产出候选图片URL,下载池以有界并发
// 消费这些URL,直到成功数达到配额或来源耗尽。
//
// # 核心组件
//
// ## 提取
//
// ExtractImageURLs 用 goquery 从页面标记中收集 srcset、懒加载属性、src
// 和行内样式背景图,并单独返回外链样式表; ExtractCSSImageURLs 解析
// 样式表中的 url(...)。结果按首次出现去重,只保留允许的扩展名。
//
// ## PageFetcher / ImageDownloader
//
// PageFetcher 基于 Colly 抓取页面和样式表,每次请求克隆收集器并注入
// HeaderProvider 的头部,失败时按 request_retries 重试。
// ImageDownloader 使用共享 Transport 下载图片,最多尝试 download_attempts
// 次,每次失败后线性退避 (基数 × 尝试序号),ctx 取消时立即返回。
//
// ## SourceChain (来源链)
//
// 状态: Static → Stylesheet → Dynamic → Exhausted
//
//	chain := NewSourceChain(ChainConfig{
//	    PageURL:     row.Website,
//	    Static:      images,
//	    Stylesheets: stylesheets,
//	    Fetcher:     fetcher,
//	    Dynamic:     browser,
//	    Concurrency: cfg.DownloadConcurrency,
//	    Quota:       cfg.MaxImagesPerSite,
//	})
//	next, ok := chain.Next(ctx, successCount)
//
// 静态候选按发现顺序产出; 用完后逐个抓取样式表,其图片作为新的静态
// 子序列; 样式表也用完且未达配额时,动态来源最多调用一次,
// 请求数量为 min(并发数, 配额 - 已成功数)。
//
// ## BrowserSource (动态兜底)
//
// 基于 go-rod 的无头浏览器: 滚动、点击"加载更多"、逐个点击缩略图并按
// Escape 关闭浮层,再扫描计算样式中的背景图。进程内同一时刻只有一个
// 浏览器实例; 可用内存低于 min_free_memory_mb 时直接跳过。
// 任何失败都只记录警告并返回已收集的URL。
//
// ## DownloadPool (下载池)
//
// 每个任务完成一次尝试后,若未取消且未达配额,就从来源链取下一个URL
// 并派生新任务,同时运行的任务数不超过 download_concurrency。
// 解码和保存另受 executor_workers 限制。成功计数、序号分配和
// DedupIndex 只在行内互斥区中修改; 达到配额时取消所有在途任务,
// 被取消任务的结果不记录。
//
//	pool := NewDownloadPool(cfg, downloader, store)
//	result := pool.Run(ctx, row, chain)
//
// ## ResourceMonitor (资源监控器)
//
// 采样可用内存和CPU负载,决定是否允许启动浏览器; auto_tune 时按
// CPU核数/实例数设置并发。
//
// # 错误处理
//
//   - 页面/样式表抓取失败: models.ErrFetch,降级为更少的来源
//   - 下载重试耗尽: models.ErrDownload,记录错误原因
//   - 解码失败/尺寸过小/写盘失败: models.ErrDecode / ErrTooSmall / ErrPersistence
//   - 内容重复: models.ErrDuplicateContent,日志中为 duplicate_image
//   - 浏览器失败: models.ErrDynamicFallback,视为没有更多URL
package crawlers
