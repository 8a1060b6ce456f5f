package models

import "errors"

// 错误分类
//
// 行级以下的错误都不会中止整个运行:跳过、抓取失败、下载失败、重复内容、
// 动态回退失败和写盘失败都会被记录后继续。只有日志接收端或进度指针
// 无法持久化时才向上返回。
var (
	// ErrSkippedInput 输入行无效(缺失/社交/格式错误),未发起任何网络请求
	ErrSkippedInput = errors.New("输入行已跳过")

	// ErrFetch 页面或样式表请求重试耗尽,降级为更少的候选来源
	ErrFetch = errors.New("页面请求失败")

	// ErrDownload 图片下载重试耗尽
	ErrDownload = errors.New("图片下载失败")

	// ErrDecode 图片无法解码,不重试
	ErrDecode = errors.New("图片解码失败")

	// ErrTooSmall 图片尺寸低于下限,不重试
	ErrTooSmall = errors.New("图片尺寸过小")

	// ErrDuplicateContent 内容哈希与本行已保存的图片重复
	ErrDuplicateContent = errors.New("重复图片")

	// ErrDynamicFallback 浏览器自动化失败,视为没有更多URL
	ErrDynamicFallback = errors.New("动态回退失败")

	// ErrPersistence 文件写入失败,计为下载失败
	ErrPersistence = errors.New("文件写入失败")

	// ErrQuotaReached 配额已满,结果被丢弃
	ErrQuotaReached = errors.New("配额已满")
)
