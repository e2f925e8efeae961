package api

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Table 表格数据
// 由数据接入层解析得到的有序命名列，核心只做透传
type Table struct {
	Columns []Column `json:"columns"`
}

// Column 表格列
type Column struct {
	Name   string `json:"name"`
	Values []any  `json:"values"`
}

// AsTable 将透传数据转换为表格，不支持的形态返回错误
func AsTable(data any) (*Table, error) {
	switch v := data.(type) {
	case *Table:
		if v == nil {
			return nil, fmt.Errorf("输入数据为空")
		}
		if err := v.Validate(); err != nil {
			return nil, err
		}
		return v, nil
	case Table:
		if err := v.Validate(); err != nil {
			return nil, err
		}
		return &v, nil
	case []map[string]any:
		return TableFromRecords(v, nil), nil
	default:
		return nil, fmt.Errorf("输入数据必须为表格，实际为 %T", data)
	}
}

// TableFromRecords 由记录列表构造表格
// columns 为空时使用所有记录字段名的排序结果
func TableFromRecords(records []map[string]any, columns []string) *Table {
	if len(columns) == 0 {
		seen := make(map[string]bool)
		for _, rec := range records {
			for k := range rec {
				if !seen[k] {
					seen[k] = true
					columns = append(columns, k)
				}
			}
		}
		sort.Strings(columns)
	}
	t := &Table{Columns: make([]Column, len(columns))}
	for i, name := range columns {
		values := make([]any, len(records))
		for j, rec := range records {
			values[j] = rec[name]
		}
		t.Columns[i] = Column{Name: name, Values: values}
	}
	return t
}

// Validate 校验表格为矩形：所有列的长度相同
func (t *Table) Validate() error {
	for i := 1; i < len(t.Columns); i++ {
		if len(t.Columns[i].Values) != len(t.Columns[0].Values) {
			return fmt.Errorf("列 %s 有 %d 个值，列 %s 有 %d 个值，各列长度必须相同",
				t.Columns[i].Name, len(t.Columns[i].Values), t.Columns[0].Name, len(t.Columns[0].Values))
		}
	}
	return nil
}

// Rows 行数
func (t *Table) Rows() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return len(t.Columns[0].Values)
}

// Column 按名称查找列
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// Names 返回列名
func (t *Table) Names() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Floats 将列值转换为浮点数
func (c *Column) Floats() ([]float64, error) {
	out := make([]float64, len(c.Values))
	for i, v := range c.Values {
		f, ok := ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("列 %s 第 %d 行不是数值: %v", c.Name, i, v)
		}
		out[i] = f
	}
	return out, nil
}

// Numeric 列中所有值是否均为数值
func (c *Column) Numeric() bool {
	if len(c.Values) == 0 {
		return false
	}
	for _, v := range c.Values {
		if _, ok := ToFloat(v); !ok {
			return false
		}
	}
	return true
}

// ToFloat 尝试将值转换为浮点数
func ToFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	// 非有限值无法参与计算，也无法编码为 JSON
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ChartSpec 图表描述
// 渲染层据此生成图像或前端图表配置
type ChartSpec struct {
	Type    string         `json:"type"`
	Data    any            `json:"data"`
	Options map[string]any `json:"options,omitempty"`
}

// Insight 分析洞察
type Insight struct {
	Description string  `json:"description"`
	Importance  float64 `json:"importance"`
	Confidence  float64 `json:"confidence"`
}

// AnalysisResult 分析结果
type AnalysisResult struct {
	Findings map[string]any `json:"findings"`
	Insights []Insight      `json:"insights"`
}
