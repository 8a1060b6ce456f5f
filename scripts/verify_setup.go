package main

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/shirou/gopsutil/v3/mem"
)

// minFreeMemoryMB 与 harvest.dynamic.min_free_memory_mb 的默认值一致
const minFreeMemoryMB = 512

func main() {
	fmt.Println("==============================================")
	fmt.Println("  imgharvest 环境验证")
	fmt.Println("==============================================")
	fmt.Println()

	allOK := true

	goVersion := runtime.Version()
	fmt.Printf("✅ Go版本: %s\n", goVersion)
	if !strings.HasPrefix(goVersion, "go1.23") && !strings.HasPrefix(goVersion, "go1.24") {
		fmt.Println("⚠️  警告: 建议使用Go 1.23+版本")
	}

	fmt.Printf("✅ 操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	// 动态兜底需要本机的 Chromium/Chrome
	if path, ok := launcher.LookPath(); ok {
		fmt.Printf("✅ 浏览器: %s\n", path)
	} else {
		fmt.Println("⚠️  未找到Chromium/Chrome - 首次运行动态兜底时会自动下载")
		fmt.Println("   也可以使用 --no-dynamic 只做静态抓取")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		availableMB := vm.Available / 1024 / 1024
		if availableMB >= minFreeMemoryMB {
			fmt.Printf("✅ 可用内存: %d MB\n", availableMB)
		} else {
			fmt.Printf("⚠️  可用内存: %d MB, 低于 %d MB 时不会启动浏览器\n", availableMB, minFreeMemoryMB)
		}
	} else {
		fmt.Printf("⚠️  无法读取内存信息: %v\n", err)
	}

	fmt.Println()
	fmt.Println("检查Go模块依赖...")
	if _, err := os.Stat("go.mod"); err == nil {
		fmt.Println("✅ go.mod文件存在")

		fmt.Println("正在下载依赖...")
		if err := exec.Command("go", "mod", "download").Run(); err != nil {
			fmt.Printf("❌ go mod download失败: %v\n", err)
			allOK = false
		} else {
			fmt.Println("✅ 依赖下载完成")
		}
	} else {
		fmt.Println("❌ go.mod文件不存在")
		allOK = false
	}

	fmt.Println()
	fmt.Println("检查项目结构...")
	requiredDirs := []string{
		"cmd/imgharvest",
		"internal/core",
		"internal/crawlers",
		"internal/storage",
		"internal/utils",
		"internal/models",
		"configs",
	}
	for _, dir := range requiredDirs {
		if _, err := os.Stat(dir); err == nil {
			fmt.Printf("✅ %s/\n", dir)
		} else {
			fmt.Printf("❌ %s/ 不存在\n", dir)
			allOK = false
		}
	}

	fmt.Println()
	fmt.Println("==============================================")
	if allOK {
		fmt.Println("✅ 环境验证通过!")
		fmt.Println()
		fmt.Println("下一步:")
		fmt.Println("  1. 运行 'go build ./cmd/imgharvest' 构建项目")
		fmt.Println("  2. 运行 './imgharvest prepare --raw data/raw.csv' 生成数据")
		fmt.Println("  3. 运行 './imgharvest' 开始抓取")
		os.Exit(0)
	}
	fmt.Println("❌ 环境验证失败,请解决上述问题。")
	os.Exit(1)
}
