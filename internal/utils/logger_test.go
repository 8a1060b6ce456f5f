package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogConfig(dir string, level string) LogConfig {
	return LogConfig{
		Level:      level,
		LogDir:     dir,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		NoConsole:  true,
	}
}

func TestInitLogger(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "logs")

	if err := InitLogger(testLogConfig(tempDir, "debug")); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}

	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		t.Errorf("日志目录未创建: %s", tempDir)
	}

	Info("测试信息日志")
	Warn("测试警告日志")
	Debug("测试调试日志")

	mainLogPath := filepath.Join(tempDir, MainLogFile)
	content, err := os.ReadFile(mainLogPath)
	if err != nil {
		t.Fatalf("主日志文件未创建: %v", err)
	}
	if !strings.Contains(string(content), "测试调试日志") {
		t.Error("debug级别下应写入调试日志")
	}
}

func TestLogLevels(t *testing.T) {
	tempDir := t.TempDir()

	if err := InitLogger(testLogConfig(tempDir, "info")); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}

	Infof("格式化信息日志: %s", "测试")
	Warnf("格式化警告日志: %d", 123)
	Debugf("格式化调试日志: %v", true)

	content, err := os.ReadFile(filepath.Join(tempDir, MainLogFile))
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}

	text := string(content)
	if !strings.Contains(text, "格式化信息日志") {
		t.Error("缺少信息日志")
	}
	if strings.Contains(text, "格式化调试日志") {
		t.Error("info级别下不应写入调试日志")
	}
}

func TestErrorLogOnlyReceivesErrors(t *testing.T) {
	tempDir := t.TempDir()

	if err := InitLogger(testLogConfig(tempDir, "info")); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}

	Warn("只是警告")
	Error(errors.New("磁盘已满"), "保存失败")

	content, err := os.ReadFile(filepath.Join(tempDir, ErrorLogFile))
	if err != nil {
		t.Fatalf("读取错误日志失败: %v", err)
	}

	text := string(content)
	if strings.Contains(text, "只是警告") {
		t.Error("错误日志中不应出现警告")
	}
	if !strings.Contains(text, "保存失败") {
		t.Error("错误日志中缺少错误记录")
	}
}

func TestDefaultLogConfig(t *testing.T) {
	config := DefaultLogConfig()

	if config.Level != "info" {
		t.Errorf("默认日志级别错误: 期望 'info', 得到 '%s'", config.Level)
	}
	if config.LogDir != "logs" {
		t.Errorf("默认日志目录错误: 期望 'logs', 得到 '%s'", config.LogDir)
	}
	if config.MaxSize != 10 || config.MaxBackups != 3 || config.MaxAge != 28 {
		t.Errorf("默认轮转参数错误: %+v", config)
	}
	if !config.Compress {
		t.Error("默认应该启用压缩")
	}
}
