package main

import (
	"fmt"

	"github.com/RecoveryAshes/imgharvest/internal/core"
)

// ValidateFlags 验证命令行标志, 0 或空值表示未指定
func ValidateFlags(
	concurrency int,
	quota int,
	minSize string,
	timeout int,
	retries int,
	startRow int,
	sinkBackend string,
	progressBackend string,
) error {
	if concurrency != 0 && (concurrency < 1 || concurrency > 64) {
		return fmt.Errorf("并发数必须在1-64之间,当前值: %d", concurrency)
	}

	if quota < 0 {
		return fmt.Errorf("图片配额必须大于0,当前值: %d", quota)
	}

	if minSize != "" {
		if _, err := core.ParseSize(minSize); err != nil {
			return err
		}
	}

	if timeout != 0 && (timeout < 1 || timeout > 300) {
		return fmt.Errorf("超时时间必须在1-300秒之间,当前值: %d", timeout)
	}

	if retries < 0 || retries > 10 {
		return fmt.Errorf("请求次数必须在1-10之间,当前值: %d", retries)
	}

	if startRow < -1 {
		return fmt.Errorf("起始行号无效: %d", startRow)
	}

	validSinks := map[string]bool{"": true, core.BackendCSV: true, core.BackendSQLite: true}
	if !validSinks[sinkBackend] {
		return fmt.Errorf("无效的日志后端: %s (有效值: csv, sqlite)", sinkBackend)
	}

	validProgress := map[string]bool{"": true, core.BackendFile: true, core.BackendSQLite: true}
	if !validProgress[progressBackend] {
		return fmt.Errorf("无效的进度后端: %s (有效值: file, sqlite)", progressBackend)
	}

	return nil
}
