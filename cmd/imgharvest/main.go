package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/RecoveryAshes/imgharvest/internal/core"
	"github.com/RecoveryAshes/imgharvest/internal/storage"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string

	// HTTP头部参数
	headers        []string
	validateConfig bool

	// 抓取参数
	concurrency     int
	quota           int
	minSize         string
	timeout         int
	retries         int
	inputCSV        string
	outputDir       string
	startRow        int
	noDynamic       bool
	headless        bool
	autoTune        bool
	sinkBackend     string
	progressBackend string
	showProgressBar bool

	// prepare 参数
	rawCSV string
)

// appConfig 在 PersistentPreRunE 中加载
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "imgharvest",
	Short: "按行批量抓取网站图片",
	Long: `imgharvest - 批量网站图片抓取工具

从CSV读取目标网站,逐行抓取页面中的图片:
  • 静态标记、外链样式表和无头浏览器三级来源
  • 每行配额、最小尺寸过滤和内容去重
  • 原子写盘, 文件名为 {activityId}_{type}_{序号}{扩展名}
  • 进度指针, 中断后从未完成的行继续
  • 自定义HTTP请求头

示例:
  # 从原始CSV生成待处理数据
  imgharvest prepare --raw data/raw.csv -i data/rows.csv

  # 开始或继续抓取
  imgharvest -i data/rows.csv -o output --quota 10

  # 从第100行开始, 不使用浏览器
  imgharvest --start-row 100 --no-dynamic

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		logConfig := utils.LogConfig{
			Level:      config.Logging.Level,
			LogDir:     config.Logging.LogDir,
			MaxSize:    config.Logging.Rotation.MaxSize,
			MaxBackups: config.Logging.Rotation.MaxBackups,
			MaxAge:     config.Logging.Rotation.MaxAge,
			Compress:   config.Logging.Rotation.Compress,
		}
		if logLevel != "" {
			logConfig.Level = logLevel
		} else if verbose {
			logConfig.Level = "debug"
		}

		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}

		appConfig = config
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateFlags(concurrency, quota, minSize, timeout, retries, startRow, sinkBackend, progressBackend); err != nil {
			return err
		}

		flags := core.CLIFlags{
			Concurrency:     concurrency,
			Quota:           quota,
			MinSize:         minSize,
			Timeout:         timeout,
			Retries:         retries,
			Input:           inputCSV,
			Output:          outputDir,
			StartRow:        startRow,
			NoDynamic:       noDynamic,
			AutoTune:        autoTune,
			SinkBackend:     sinkBackend,
			ProgressBackend: progressBackend,
		}
		if cmd.Flags().Changed("headless") {
			flags.Headless = &headless
		}
		if err := appConfig.MergeCLIFlags(flags); err != nil {
			return err
		}

		headerManager, err := core.NewHeaderManager(appConfig.HTTP.Headers, headers)
		if err != nil {
			return fmt.Errorf("创建HTTP头部管理器失败: %w", err)
		}

		if validateConfig {
			return runValidateConfig(headerManager)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		harvester, err := core.NewHarvester(appConfig, core.HarvesterOptions{
			Headers:      headerManager,
			ShowProgress: showProgressBar,
		})
		if err != nil {
			return err
		}
		defer harvester.Close()

		if _, err := harvester.Run(ctx); err != nil {
			if core.IsInterrupted(err) {
				utils.Warn("收到中断信号, 已保存进度, 下次运行将从未完成的行继续")
				return nil
			}
			return err
		}

		utils.Info("✨ 抓取任务完成!")
		return nil
	},
}

// runValidateConfig 验证配置和HTTP头部并打印脱敏后的结果
func runValidateConfig(headerManager *core.HeaderManager) error {
	utils.Info("🔍 验证配置...")
	if err := appConfig.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}
	if err := headerManager.Validate(); err != nil {
		return fmt.Errorf("HTTP头部验证失败: %w", err)
	}

	safeHeaders := headerManager.GetSafeHeaders()
	utils.Info("✅ 配置验证通过!")
	utils.Infof("当前有效的HTTP头部 (%d个):", len(safeHeaders))
	for _, line := range safeHeaders {
		utils.Infof("  %s", line)
	}
	return nil
}

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "从原始CSV生成待处理数据",
	Long: `读取原始CSV (Name, Type, Website, ActivityId), 生成带行号和状态的数据CSV。
无效、缺失或社交链接的行标记为 Skipped 并写明原因。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := appConfig.Input.RawCSV
		if rawCSV != "" {
			raw = rawCSV
		}
		data := appConfig.Input.RowsCSV
		if inputCSV != "" {
			data = inputCSV
		}

		result, err := storage.PrepareRows(raw, data, appConfig.Harvest.SocialDomains)
		if err != nil {
			return fmt.Errorf("生成数据失败: %w", err)
		}

		utils.Infof("✅ 已生成 %s: 共 %d 行, 待处理 %d, 跳过 %d",
			data, result.Total, result.Pending, result.Skipped)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("imgharvest %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式 (等同 --log-level debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVarP(&inputCSV, "input", "i", "", "数据CSV路径 (覆盖 input.rows_csv)")

	// HTTP头部参数
	rootCmd.Flags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	rootCmd.Flags().BoolVar(&validateConfig, "validate-config", false, "验证配置文件正确性")

	// 抓取参数
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 0, "每行并发下载数 (1-64)")
	rootCmd.Flags().IntVar(&quota, "quota", 0, "每行保存的图片上限")
	rootCmd.Flags().StringVar(&minSize, "min-size", "", "最小图片尺寸, 格式 WxH")
	rootCmd.Flags().IntVar(&timeout, "timeout", 0, "网络超时(秒, 1-300)")
	rootCmd.Flags().IntVar(&retries, "retries", 0, "页面/样式表请求次数")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "图片输出目录")
	rootCmd.Flags().IntVar(&startRow, "start-row", -1, "起始行号 (默认从进度指针继续)")
	rootCmd.Flags().BoolVar(&noDynamic, "no-dynamic", false, "禁用无头浏览器兜底")
	rootCmd.Flags().BoolVar(&headless, "headless", true, "无头浏览器模式")
	rootCmd.Flags().BoolVar(&autoTune, "auto-tune", false, "按CPU核数和实例数自动设置并发")
	rootCmd.Flags().StringVar(&sinkBackend, "sink", "", "日志后端 (csv|sqlite)")
	rootCmd.Flags().StringVar(&progressBackend, "progress-store", "", "进度存储后端 (file|sqlite)")
	rootCmd.Flags().BoolVar(&showProgressBar, "progress-bar", true, "显示进度条")

	// prepare 参数
	prepareCmd.Flags().StringVar(&rawCSV, "raw", "", "原始CSV路径 (覆盖 input.raw_csv)")

	rootCmd.AddCommand(prepareCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
