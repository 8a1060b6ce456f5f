package crawlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const bytesPerMB = 1024 * 1024

// maxAutoConcurrency 自动调优的并发上限,与配置校验一致
const maxAutoConcurrency = 64

// ResourceMonitor 系统资源监控器
// 职责: 采样可用内存和CPU负载,决定是否允许启动浏览器,并按CPU核数调优并发
type ResourceMonitor struct {
	config ResourceMonitorConfig

	// 系统总内存(字节)
	totalMemory uint64

	// 最近一次采样
	lastAvailable uint64
	lastCPUUsage  float64
	lastSample    time.Time
	mu            sync.RWMutex

	// 采样函数,测试中可替换
	virtualMemory func() (*mem.VirtualMemoryStat, error)
	cpuPercent    func(interval time.Duration, percpu bool) ([]float64, error)
	cpuCounts     func(logical bool) (int, error)

	// 监控控制
	cancelFunc context.CancelFunc
	isRunning  bool
}

// ResourceMonitorConfig 资源监控器配置
type ResourceMonitorConfig struct {
	MinFreeMemoryMB  int // 启动浏览器所需的最小可用内存(MB),0 表示不检查
	CPULoadThreshold int // CPU负载阈值(%),>=100 视为禁用
}

// MemoryStatus 内存状态信息
type MemoryStatus struct {
	TotalMemory     uint64 // 系统总内存(字节)
	AvailableMemory uint64 // 可用内存(字节)
	MemoryPressure  string // 内存压力等级
}

// NewResourceMonitor 创建资源监控器实例
func NewResourceMonitor(config ResourceMonitorConfig) *ResourceMonitor {
	if config.CPULoadThreshold == 0 {
		config.CPULoadThreshold = 100
	}

	rm := &ResourceMonitor{
		config:        config,
		virtualMemory: mem.VirtualMemory,
		cpuPercent:    cpu.Percent,
		cpuCounts:     cpu.Counts,
	}

	vmStat, err := rm.virtualMemory()
	if err != nil {
		log.Warn().Err(err).Msg("获取系统内存失败")
	} else {
		rm.totalMemory = vmStat.Total
		rm.lastAvailable = vmStat.Available
		rm.lastSample = time.Now()
		log.Debug().Msgf("系统总内存: %.2f GB", float64(vmStat.Total)/(1024*1024*1024))
	}

	return rm
}

// StartMonitoring 启动后台采样,幂等
func (rm *ResourceMonitor) StartMonitoring(interval time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.isRunning {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rm.cancelFunc = cancel
	rm.isRunning = true

	go rm.monitoringLoop(ctx, interval)
}

func (rm *ResourceMonitor) monitoringLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rm.sample()
		}
	}
}

// sample 采样可用内存和CPU使用率
func (rm *ResourceMonitor) sample() {
	var available uint64
	if vmStat, err := rm.virtualMemory(); err != nil {
		log.Warn().Err(err).Msg("获取可用内存失败")
	} else {
		available = vmStat.Available
	}

	usage := 0.0
	if percentages, err := rm.cpuPercent(100*time.Millisecond, false); err != nil {
		log.Warn().Err(err).Msg("获取CPU使用率失败")
	} else if len(percentages) > 0 {
		usage = percentages[0]
	}

	rm.mu.Lock()
	if available > 0 {
		rm.lastAvailable = available
	}
	rm.lastCPUUsage = usage
	rm.lastSample = time.Now()
	rm.mu.Unlock()
}

// StopMonitoring 停止资源监控
func (rm *ResourceMonitor) StopMonitoring() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.isRunning && rm.cancelFunc != nil {
		rm.cancelFunc()
		rm.isRunning = false
		rm.cancelFunc = nil
	}
}

// CheckBrowserAvailability 检查当前资源是否允许启动浏览器
// 后台采样未运行时现场采样一次
func (rm *ResourceMonitor) CheckBrowserAvailability() (ok bool, reason string) {
	rm.mu.RLock()
	running := rm.isRunning
	rm.mu.RUnlock()
	if !running {
		rm.sample()
	}

	rm.mu.RLock()
	available := rm.lastAvailable
	cpuUsage := rm.lastCPUUsage
	rm.mu.RUnlock()

	if rm.config.MinFreeMemoryMB > 0 && available < uint64(rm.config.MinFreeMemoryMB)*bytesPerMB {
		return false, fmt.Sprintf("可用内存不足(当前%dMB,需要%dMB)", available/bytesPerMB, rm.config.MinFreeMemoryMB)
	}

	if rm.config.CPULoadThreshold < 100 && cpuUsage > float64(rm.config.CPULoadThreshold) {
		return false, fmt.Sprintf("CPU负载过高(当前%.1f%%)", cpuUsage)
	}

	return true, ""
}

// GetMemoryStatus 获取当前内存状态
func (rm *ResourceMonitor) GetMemoryStatus() MemoryStatus {
	rm.mu.RLock()
	available := rm.lastAvailable
	rm.mu.RUnlock()

	var pressure string
	availableMB := available / bytesPerMB
	switch {
	case availableMB < 200:
		pressure = "emergency"
	case availableMB < 300:
		pressure = "critical"
	case availableMB < 500:
		pressure = "warning"
	default:
		pressure = "normal"
	}

	return MemoryStatus{
		TotalMemory:     rm.totalMemory,
		AvailableMemory: available,
		MemoryPressure:  pressure,
	}
}

// AutoTune 按 CPU核数/实例数 设置下载并发和解码并发
func (rm *ResourceMonitor) AutoTune(cfg *models.HarvestConfig) {
	cores, err := rm.cpuCounts(true)
	if err != nil || cores < 1 {
		log.Warn().Err(err).Msg("获取CPU核数失败,保留配置的并发数")
		return
	}

	instances := cfg.Instances
	if instances < 1 {
		instances = 1
	}

	workers := cores / instances
	if workers < 1 {
		workers = 1
	}
	if workers > maxAutoConcurrency {
		workers = maxAutoConcurrency
	}

	cfg.DownloadConcurrency = workers
	cfg.ExecutorWorkers = workers
	log.Info().Msgf("自动调优: CPU核数=%d, 实例数=%d, 并发数=%d", cores, instances, workers)
}
