// Package waterfall 瀑布图可视化插件
package waterfall

import (
	"context"
	"fmt"

	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/lomehong/chatplot/pkg/plugin/config"
)

// Name 插件名称
const Name = "waterfall_chart"

// 柱的度量方式
const (
	MeasureRelative = "relative"
	MeasureTotal    = "total"
)

// Colors 柱的颜色
type Colors struct {
	Positive string `mapstructure:"positive" json:"positive"`
	Negative string `mapstructure:"negative" json:"negative"`
	Total    string `mapstructure:"total" json:"total"`
}

// Config 插件配置
type Config struct {
	Colors         Colors `mapstructure:"colors"`
	ShowTotals     bool   `mapstructure:"show_totals"`
	ShowConnectors bool   `mapstructure:"show_connectors"`
}

var defaultColors = Colors{Positive: "#00876c", Negative: "#e63946", Total: "#457b9d"}

// Step 瀑布图中的一根柱
type Step struct {
	Category string  `json:"category"`
	Value    float64 `json:"value"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Measure  string  `json:"measure"`
	Color    string  `json:"color"`
}

// Chart 瀑布图插件
type Chart struct {
	api.InitGuard
	config Config
}

// New 创建瀑布图插件
func New() api.Plugin {
	return &Chart{}
}

// Metadata 返回插件元数据
func (c *Chart) Metadata() api.PluginMetadata {
	return api.PluginMetadata{
		Name:        Name,
		Version:     "1.0.0",
		Description: "生成展示累计变化的瀑布图",
		Author:      "ChatPlot",
		EntryPoint:  "waterfall.Chart",
		ConfigSchema: &api.ConfigSchema{Fields: map[string]api.FieldSpec{
			"colors": {Type: api.FieldTypeObject, Default: map[string]any{
				"positive": defaultColors.Positive,
				"negative": defaultColors.Negative,
				"total":    defaultColors.Total,
			}},
			"show_totals":     {Type: api.FieldTypeBoolean, Default: true},
			"show_connectors": {Type: api.FieldTypeBoolean, Default: true},
		}},
	}
}

// Initialize 初始化插件
// 只覆盖部分颜色时，其余颜色使用默认值
func (c *Chart) Initialize(ctx context.Context, cfg api.PluginConfig) error {
	if err := c.Begin(Name); err != nil {
		return err
	}

	var conf Config
	if err := config.Decode(cfg, &conf); err != nil {
		c.Abort()
		return err
	}
	if conf.Colors.Positive == "" {
		conf.Colors.Positive = defaultColors.Positive
	}
	if conf.Colors.Negative == "" {
		conf.Colors.Negative = defaultColors.Negative
	}
	if conf.Colors.Total == "" {
		conf.Colors.Total = defaultColors.Total
	}

	c.config = conf
	return nil
}

// Render 生成瀑布图描述
// 选项 categories 与 values 指定类别列与数值列，默认为前两列
func (c *Chart) Render(ctx context.Context, data any, options api.Options) (*api.ChartSpec, error) {
	table, err := api.AsTable(data)
	if err != nil {
		return nil, err
	}
	if len(table.Columns) < 2 && (options["categories"] == nil || options["values"] == nil) {
		return nil, fmt.Errorf("瀑布图至少需要两列数据")
	}

	defCategory, defValue := "", ""
	if len(table.Columns) >= 2 {
		defCategory, defValue = table.Columns[0].Name, table.Columns[1].Name
	}
	categoryName := options.String("categories", defCategory)
	valueName := options.String("values", defValue)

	categoryCol, ok := table.Column(categoryName)
	if !ok {
		return nil, fmt.Errorf("列 %s 不存在", categoryName)
	}
	valueCol, ok := table.Column(valueName)
	if !ok {
		return nil, fmt.Errorf("列 %s 不存在", valueName)
	}
	values, err := valueCol.Floats()
	if err != nil {
		return nil, err
	}

	steps := make([]Step, 0, len(values)+1)
	var cumulative float64
	for i, v := range values {
		color := c.config.Colors.Positive
		if v < 0 {
			color = c.config.Colors.Negative
		}
		steps = append(steps, Step{
			Category: fmt.Sprint(categoryCol.Values[i]),
			Value:    v,
			Start:    cumulative,
			End:      cumulative + v,
			Measure:  MeasureRelative,
			Color:    color,
		})
		cumulative += v
	}
	if c.config.ShowTotals {
		steps = append(steps, Step{
			Category: "Total",
			Value:    cumulative,
			Start:    0,
			End:      cumulative,
			Measure:  MeasureTotal,
			Color:    c.config.Colors.Total,
		})
	}

	return &api.ChartSpec{
		Type: "waterfall",
		Data: steps,
		Options: map[string]any{
			"title":           options.String("title", "Waterfall Chart"),
			"x_label":         options.String("x_label", categoryName),
			"y_label":         options.String("y_label", valueName),
			"categories":      categoryName,
			"values":          valueName,
			"show_connectors": c.config.ShowConnectors,
			"colors":          c.config.Colors,
		},
	}, nil
}
