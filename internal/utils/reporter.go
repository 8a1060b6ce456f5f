package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/schollz/progressbar/v3"
)

// Reporter 运行汇总输出
type Reporter struct {
	summaryPath string
	out         io.Writer
}

// NewReporter 创建汇总输出器, summaryPath为空时不写文件
func NewReporter(summaryPath string, out io.Writer) *Reporter {
	if out == nil {
		out = os.Stdout
	}
	return &Reporter{
		summaryPath: summaryPath,
		out:         out,
	}
}

// WriteSummary 原子地重写汇总JSON
func (r *Reporter) WriteSummary(summary *models.RunSummary) error {
	if r.summaryPath == "" {
		return nil
	}

	data, err := summary.ToJSON()
	if err != nil {
		return fmt.Errorf("序列化汇总失败: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.summaryPath), 0755); err != nil {
		return fmt.Errorf("创建汇总目录失败: %w", err)
	}

	tmp := r.summaryPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("写入汇总文件失败: %w", err)
	}
	if err := os.Rename(tmp, r.summaryPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("替换汇总文件失败: %w", err)
	}

	Debugf("保存汇总: %s", r.summaryPath)
	return nil
}

// PrintRow 打印单行结果
func (r *Reporter) PrintRow(result *models.RowResult) {
	if result.Skipped {
		fmt.Fprintf(r.out, "Row %d (ID %s): skipped (%s)\n",
			result.Row.Number, result.Row.ActivityID, result.SkipReason)
		return
	}
	fmt.Fprintf(r.out, "Row %d (ID %s): %d succeeded, %d failed\n",
		result.Row.Number, result.Row.ActivityID, result.SuccessCount, result.FailureCount)
}

// PrintSummary 打印运行汇总
func (r *Reporter) PrintSummary(summary *models.RunSummary) {
	fmt.Fprintln(r.out, "\n==================================================")
	fmt.Fprintln(r.out, "📊 抓取汇总")
	fmt.Fprintln(r.out, "==================================================")
	fmt.Fprintf(r.out, "✅ 处理行数: %d (跳过 %d)\n", summary.TotalRows, summary.SkippedRows)
	fmt.Fprintf(r.out, "✅ 成功图片: %d\n", summary.TotalSuccesses)
	fmt.Fprintf(r.out, "❌ 失败次数: %d\n", summary.TotalFailures)
	fmt.Fprintf(r.out, "⏱️  总耗时: %.2f秒\n", summary.Duration)
	fmt.Fprintln(r.out, "==================================================")
}

// NewProgressBar 创建进度条
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
