// Package ingest 将上传的 CSV/JSON 数据解析为插件使用的表格
package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/lomehong/chatplot/pkg/plugin/api"
)

// DefaultMaxSize 默认最大上传大小 (10MB)
const DefaultMaxSize int64 = 10 << 20

// 预定义错误
var (
	ErrTooLarge        = errors.New("文件超过大小限制")
	ErrUnsupportedType = errors.New("不支持的文件类型")
)

// Limits 上传限制
type Limits struct {
	// 最大字节数
	MaxSize int64 `mapstructure:"max_size"`

	// 允许的扩展名（不含点，小写）
	Extensions []string `mapstructure:"extensions"`
}

// DefaultLimits 返回默认上传限制
func DefaultLimits() Limits {
	return Limits{
		MaxSize:    DefaultMaxSize,
		Extensions: []string{"csv", "json"},
	}
}

// Allowed 文件扩展名是否允许
func (l Limits) Allowed(filename string) bool {
	ext := extension(filename)
	for _, allowed := range l.Extensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

func extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// Reader 数据读取器
type Reader struct {
	limits Limits
	logger hclog.Logger
}

// NewReader 创建数据读取器
func NewReader(limits Limits, logger hclog.Logger) *Reader {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if limits.MaxSize <= 0 {
		limits.MaxSize = DefaultMaxSize
	}
	if len(limits.Extensions) == 0 {
		limits.Extensions = DefaultLimits().Extensions
	}
	return &Reader{limits: limits, logger: logger.Named("ingest")}
}

// Limits 返回上传限制
func (r *Reader) Limits() Limits {
	return r.limits
}

// ReadFile 读取并解析文件
func (r *Reader) ReadFile(path string) (*api.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()
	return r.Read(filepath.Base(path), f)
}

// Read 按文件名的扩展名解析数据
// 数据超过大小限制时返回 ErrTooLarge，扩展名不允许时返回 ErrUnsupportedType
func (r *Reader) Read(filename string, src io.Reader) (*api.Table, error) {
	if !r.limits.Allowed(filename) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, filename)
	}

	data, err := io.ReadAll(io.LimitReader(src, r.limits.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("读取数据失败: %w", err)
	}
	if int64(len(data)) > r.limits.MaxSize {
		return nil, fmt.Errorf("%w: %s 超过 %d 字节", ErrTooLarge, filename, r.limits.MaxSize)
	}

	var table *api.Table
	switch extension(filename) {
	case "csv":
		table, err = ParseCSV(bytes.NewReader(data))
	case "json":
		table, err = ParseJSON(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, filename)
	}
	if err != nil {
		return nil, err
	}

	r.logger.Debug("数据已解析", "file", filename, "columns", len(table.Columns), "rows", table.Rows())
	return table, nil
}

// ParseCSV 解析带表头的 CSV 数据
// 整数解析为 int64，其他数值解析为 float64，空单元格为 nil，其余保留为字符串
func ParseCSV(src io.Reader) (*api.Table, error) {
	reader := csv.NewReader(src)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("CSV 数据为空")
		}
		return nil, fmt.Errorf("读取 CSV 表头失败: %w", err)
	}

	table := &api.Table{Columns: make([]api.Column, len(header))}
	for i, name := range header {
		table.Columns[i] = api.Column{Name: strings.TrimSpace(name), Values: []any{}}
	}

	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("解析 CSV 第 %d 行失败: %w", line, err)
		}
		for i, cell := range record {
			table.Columns[i].Values = append(table.Columns[i].Values, inferCell(cell))
		}
	}
	return table, nil
}

func inferCell(cell string) any {
	s := strings.TrimSpace(cell)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	// NaN 与 Inf 无法编码为 JSON，保留为字符串
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}

// ParseJSON 解析 JSON 记录数组
// 列按字段名排序，数值为整数时解析为 int64
func ParseJSON(src io.Reader) (*api.Table, error) {
	decoder := json.NewDecoder(src)
	decoder.UseNumber()

	var records []map[string]any
	if err := decoder.Decode(&records); err != nil {
		return nil, fmt.Errorf("解析 JSON 失败，需要对象数组: %w", err)
	}
	for _, rec := range records {
		for k, v := range rec {
			if n, ok := v.(json.Number); ok {
				rec[k] = numberValue(n)
			}
		}
	}
	return api.TableFromRecords(records, nil), nil
}

// DecodePayload 解析请求中的 JSON 负载
// 记录数组与 {"columns": [...]} 形式解析为表格，其他值按原样返回
func DecodePayload(data []byte) (any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		return ParseJSON(bytes.NewReader(trimmed))
	case '{':
		var shape struct {
			Columns json.RawMessage `json:"columns"`
		}
		if err := json.Unmarshal(trimmed, &shape); err != nil {
			return nil, fmt.Errorf("解析负载失败: %w", err)
		}
		if shape.Columns != nil {
			var table api.Table
			if err := json.Unmarshal(trimmed, &table); err != nil {
				return nil, fmt.Errorf("解析表格负载失败: %w", err)
			}
			if err := table.Validate(); err != nil {
				return nil, fmt.Errorf("无效的表格负载: %w", err)
			}
			return &table, nil
		}
	}

	var value any
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return nil, fmt.Errorf("解析负载失败: %w", err)
	}
	return value, nil
}

func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
