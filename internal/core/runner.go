package core

import (
	"context"
	"fmt"
	"time"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/storage"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
	"github.com/schollz/progressbar/v3"
)

// RowSource 输入行来源 (storage.CSVRowSource 实现)
type RowSource interface {
	Rows(start int) ([]models.Row, error)
}

// RowHandler 单行处理 (RowProcessor 实现)
type RowHandler interface {
	Process(ctx context.Context, row models.Row) (*models.RowResult, error)
}

// RunnerOptions 批量运行参数
type RunnerOptions struct {
	Rows      RowSource
	Processor RowHandler
	Sink      storage.LogSink
	Progress  storage.ProgressStore
	Reporter  *utils.Reporter

	// StartRow 起始行号, 小于0时从进度指针继续
	StartRow int

	// ShowProgress 是否显示进度条
	ShowProgress bool
}

// Runner 按行号顺序逐行处理,每行完成后写日志、推进进度指针
type Runner struct {
	rows      RowSource
	processor RowHandler
	sink      storage.LogSink
	progress  storage.ProgressStore
	reporter  *utils.Reporter
	startRow  int
	showBar   bool
}

// NewRunner 创建批量运行器
func NewRunner(opts RunnerOptions) *Runner {
	reporter := opts.Reporter
	if reporter == nil {
		reporter = utils.NewReporter("", nil)
	}
	return &Runner{
		rows:      opts.Rows,
		processor: opts.Processor,
		sink:      opts.Sink,
		progress:  opts.Progress,
		reporter:  reporter,
		startRow:  opts.StartRow,
		showBar:   opts.ShowProgress,
	}
}

// Run 执行批量抓取
//
// 日志接收端或进度指针写入失败时立即返回错误。
// ctx 被取消时当前行被放弃,进度指针停留在该行,返回 ctx 的错误。
func (r *Runner) Run(ctx context.Context) (*models.RunSummary, error) {
	progress, err := r.resolveProgress(ctx)
	if err != nil {
		return nil, err
	}
	start := progress.NextRow

	rows, err := r.rows.Rows(start)
	if err != nil {
		return nil, fmt.Errorf("读取输入行失败: %w", err)
	}

	utils.Infof("🚀 从第 %d 行开始, 待处理 %d 行", start, len(rows))

	summary := models.NewRunSummary(progress.RunID, start)

	var bar *progressbar.ProgressBar
	if r.showBar && len(rows) > 0 {
		bar = utils.NewProgressBar(len(rows), "抓取中")
	}

	// 持久化不随运行取消而中断,否则已完成的行可能丢失记录
	persistCtx := context.WithoutCancel(ctx)

	var runErr error
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		result, err := r.processor.Process(ctx, row)
		if err != nil {
			if IsInterrupted(err) {
				utils.Warnf("运行被中断, 第 %d 行未完成, 下次从该行继续", row.Number)
				runErr = err
				break
			}
			return summary, fmt.Errorf("处理第 %d 行失败: %w", row.Number, err)
		}

		if err := r.sink.Append(persistCtx, result.LogEntries()); err != nil {
			return summary, fmt.Errorf("写入日志失败 (第 %d 行): %w", row.Number, err)
		}

		progress.Advance(row.Number)
		if err := r.progress.Save(persistCtx, progress); err != nil {
			return summary, fmt.Errorf("保存进度失败 (第 %d 行): %w", row.Number, err)
		}

		summary.Add(result)
		if err := r.reporter.WriteSummary(summary); err != nil {
			utils.Warnf("写入汇总失败: %v", err)
		}
		r.reporter.PrintRow(result)
		if bar != nil {
			bar.Add(1)
		}
	}

	if bar != nil {
		bar.Finish()
	}

	summary.Finish()
	if err := r.reporter.WriteSummary(summary); err != nil {
		utils.Warnf("写入汇总失败: %v", err)
	}
	r.reporter.PrintSummary(summary)

	return summary, runErr
}

// resolveProgress 确定起始行: 显式起始行优先,其次是已保存的进度,最后是第1行
func (r *Runner) resolveProgress(ctx context.Context) (*models.Progress, error) {
	saved, err := r.progress.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取进度失败: %w", err)
	}

	switch {
	case r.startRow >= 0:
		p := models.NewProgress(r.startRow)
		if saved != nil {
			utils.Infof("忽略已保存的进度 (第 %d 行), 使用指定起始行 %d", saved.NextRow, r.startRow)
		}
		return p, nil
	case saved != nil:
		utils.Infof("从已保存的进度继续: 第 %d 行 (更新于 %s)", saved.NextRow, saved.UpdatedAt.Format(time.RFC3339))
		saved.Resume()
		return saved, nil
	default:
		return models.NewProgress(1), nil
	}
}
