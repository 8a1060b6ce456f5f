package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
)

// 数据CSV的列
var dataColumns = []string{"Row", "ActivityId", "Type", "Name", "Website", "Status", "Reason"}

// CSVRowSource 从数据CSV读取输入行
//
// 列名不区分大小写;缺少 Row 列时按数据行位置(从1开始)编号,
// 缺少 Status 列时所有行视为待处理。
type CSVRowSource struct {
	path string
}

// NewCSVRowSource 创建行来源
func NewCSVRowSource(path string) *CSVRowSource {
	return &CSVRowSource{path: path}
}

// Rows 返回行号 >= start 且状态为待处理的行,按文件顺序
func (s *CSVRowSource) Rows(start int) ([]models.Row, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}

	rows := make([]models.Row, 0, len(all))
	for _, row := range all {
		if row.Number >= start && row.IsPending() {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// All 读取文件中的全部行
func (s *CSVRowSource) All() ([]models.Row, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("打开输入文件失败: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取表头失败: %w", err)
	}
	index := headerIndex(header)
	if _, ok := index["website"]; !ok {
		return nil, fmt.Errorf("输入文件缺少 Website 列: %s", s.path)
	}

	var rows []models.Row
	for position := 1; ; position++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("读取第%d行失败: %w", position, err)
		}

		row := models.Row{
			Number:     position,
			ActivityID: field(record, index, "activityid"),
			Type:       field(record, index, "type"),
			Name:       field(record, index, "name"),
			Website:    field(record, index, "website"),
			Status:     models.RowStatusPending,
		}
		if _, ok := index["row"]; ok {
			n, err := strconv.Atoi(field(record, index, "row"))
			if err != nil {
				return nil, fmt.Errorf("第%d行的 Row 列不是整数: %w", position, err)
			}
			row.Number = n
		}
		if _, ok := index["status"]; ok {
			row.Status = models.RowStatus(field(record, index, "status"))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Count 数据行总数
func (s *CSVRowSource) Count() (int, error) {
	rows, err := s.All()
	return len(rows), err
}

// PrepareResult 预处理统计
type PrepareResult struct {
	Total   int
	Pending int
	Skipped int
}

// PrepareRows 将原始CSV (Name, Type, Website, ActivityId) 转换为数据CSV
// 无效网址标记为 Skipped 并写明原因,其余标记为 Pending
func PrepareRows(rawPath, dataPath string, socialDomains []string) (PrepareResult, error) {
	var result PrepareResult

	in, err := os.Open(rawPath)
	if err != nil {
		return result, fmt.Errorf("打开原始文件失败: %w", err)
	}
	defer in.Close()

	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return result, fmt.Errorf("读取原始表头失败: %w", err)
	}
	index := headerIndex(header)
	for _, col := range []string{"activityid", "website"} {
		if _, ok := index[col]; !ok {
			return result, fmt.Errorf("原始文件缺少 %s 列", col)
		}
	}

	if dir := filepath.Dir(dataPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return result, fmt.Errorf("创建目录失败: %w", err)
		}
	}
	tmpPath := dataPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return result, fmt.Errorf("创建数据文件失败: %w", err)
	}
	defer os.Remove(tmpPath)

	writer := csv.NewWriter(out)
	if err := writer.Write(dataColumns); err != nil {
		out.Close()
		return result, err
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			out.Close()
			return result, fmt.Errorf("读取原始第%d行失败: %w", result.Total+1, err)
		}
		result.Total++

		website := field(record, index, "website")
		status, reason := "Pending", ""
		if ok, _, skipReason := utils.ValidateWebsite(website, socialDomains); !ok {
			status, reason = "Skipped", skipReason
			result.Skipped++
		} else {
			result.Pending++
		}

		line := []string{
			strconv.Itoa(result.Total),
			field(record, index, "activityid"),
			field(record, index, "type"),
			field(record, index, "name"),
			website,
			status,
			reason,
		}
		if err := writer.Write(line); err != nil {
			out.Close()
			return result, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		out.Close()
		return result, err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return result, err
	}
	if err := out.Close(); err != nil {
		return result, err
	}
	if err := os.Rename(tmpPath, dataPath); err != nil {
		return result, fmt.Errorf("重命名数据文件失败: %w", err)
	}
	return result, nil
}

func headerIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		key = strings.ReplaceAll(key, "_", "")
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	return index
}

func field(record []string, index map[string]int, name string) string {
	i, ok := index[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
