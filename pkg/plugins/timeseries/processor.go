// Package timeseries 时间序列处理插件
// 对按日期排序后的数值序列进行经典季节分解、z 分数异常值检测与描述统计
package timeseries

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/lomehong/chatplot/pkg/plugin/config"
	"github.com/lomehong/chatplot/pkg/plugins/internal/stats"
)

// Name 插件名称
const Name = "time_series_processor"

// 分解模型
const (
	ModelAdditive       = "additive"
	ModelMultiplicative = "multiplicative"
)

// Config 插件配置
type Config struct {
	DecompositionModel string  `mapstructure:"decomposition_model"`
	SeasonalPeriod     int     `mapstructure:"seasonal_period"`
	OutlierThreshold   float64 `mapstructure:"outlier_threshold"`
}

// Point 序列中的一个观测值
type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Decomposition 季节分解结果
// 分解失败时 Error 非空，其余字段为空
type Decomposition struct {
	Trend    []float64 `json:"trend"`
	Seasonal []float64 `json:"seasonal"`
	Residual []float64 `json:"residual"`
	Error    string    `json:"error,omitempty"`
}

// Outliers 异常值检测结果
type Outliers struct {
	Indices []int     `json:"outlier_indices"`
	Values  []float64 `json:"outlier_values"`
	Total   int       `json:"total_outliers"`
}

// Summary 描述统计
type Summary struct {
	Mean          float64  `json:"mean"`
	Std           float64  `json:"std"`
	Min           float64  `json:"min"`
	Max           float64  `json:"max"`
	Median        float64  `json:"median"`
	FirstValue    float64  `json:"first_value"`
	LastValue     float64  `json:"last_value"`
	TotalChange   float64  `json:"total_change"`
	PercentChange *float64 `json:"percent_change"`
}

// Result 处理结果
type Result struct {
	OriginalData  []Point       `json:"original_data"`
	Decomposition Decomposition `json:"decomposition"`
	Outliers      Outliers      `json:"outliers"`
	Summary       Summary       `json:"summary_stats"`
}

// Processor 时间序列处理插件
type Processor struct {
	api.InitGuard
	config Config
}

// New 创建时间序列处理插件
func New() api.Plugin {
	return &Processor{}
}

// Metadata 返回插件元数据
func (p *Processor) Metadata() api.PluginMetadata {
	return api.PluginMetadata{
		Name:        Name,
		Version:     "1.0.0",
		Description: "时间序列分解、异常值检测与描述统计",
		Author:      "ChatPlot",
		EntryPoint:  "timeseries.Processor",
		ConfigSchema: &api.ConfigSchema{Fields: map[string]api.FieldSpec{
			"decomposition_model": {Type: api.FieldTypeString, Default: ModelAdditive},
			"seasonal_period":     {Type: api.FieldTypeInteger, Default: 12},
			"outlier_threshold":   {Type: api.FieldTypeNumber, Default: 3},
		}},
	}
}

// Initialize 初始化插件
func (p *Processor) Initialize(ctx context.Context, cfg api.PluginConfig) error {
	if err := p.Begin(Name); err != nil {
		return err
	}

	var c Config
	if err := config.Decode(cfg, &c); err != nil {
		p.Abort()
		return err
	}
	if c.DecompositionModel != ModelAdditive && c.DecompositionModel != ModelMultiplicative {
		p.Abort()
		return fmt.Errorf("不支持的分解模型: %s", c.DecompositionModel)
	}
	if c.SeasonalPeriod < 2 {
		p.Abort()
		return fmt.Errorf("季节周期必须大于等于 2，实际为 %d", c.SeasonalPeriod)
	}
	if c.OutlierThreshold <= 0 {
		p.Abort()
		return fmt.Errorf("异常值阈值必须为正数，实际为 %v", c.OutlierThreshold)
	}

	p.config = c
	return nil
}

// Process 处理时间序列
// 选项 date_column 与 value_column 指定日期列与数值列
func (p *Processor) Process(ctx context.Context, data any, options api.Options) (any, error) {
	table, err := api.AsTable(data)
	if err != nil {
		return nil, err
	}

	dateName := options.String("date_column", "")
	valueName := options.String("value_column", "")
	if dateName == "" || valueName == "" {
		return nil, fmt.Errorf("必须指定日期列与数值列")
	}
	dateCol, ok := table.Column(dateName)
	if !ok {
		return nil, fmt.Errorf("列 %s 不存在", dateName)
	}
	valueCol, ok := table.Column(valueName)
	if !ok {
		return nil, fmt.Errorf("列 %s 不存在", valueName)
	}

	points, err := buildSeries(dateCol, valueCol)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("序列为空")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	values := make([]float64, len(points))
	for i, pt := range points {
		values[i] = pt.Value
	}

	return &Result{
		OriginalData:  points,
		Decomposition: p.decompose(values),
		Outliers:      p.detectOutliers(values),
		Summary:       summarize(values),
	}, nil
}

// buildSeries 解析日期与数值并按日期稳定排序
func buildSeries(dateCol, valueCol *api.Column) ([]Point, error) {
	values, err := valueCol.Floats()
	if err != nil {
		return nil, err
	}
	points := make([]Point, len(dateCol.Values))
	for i, v := range dateCol.Values {
		t, err := parseDate(v)
		if err != nil {
			return nil, fmt.Errorf("列 %s 第 %d 行: %w", dateCol.Name, i, err)
		}
		points[i] = Point{Date: t, Value: values[i]}
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})
	return points, nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"2006-01",
}

func parseDate(v any) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return d, nil
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, d); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("无法解析日期: %q", d)
	}
	return time.Time{}, fmt.Errorf("无法解析日期: %v", v)
}

// decompose 经典移动平均季节分解
// 趋势为居中移动平均，首尾缺失值先向后再向前填充
func (p *Processor) decompose(values []float64) Decomposition {
	period := p.config.SeasonalPeriod
	n := len(values)
	if n < 2*period {
		return Decomposition{Error: fmt.Sprintf("季节分解至少需要 %d 个观测值，实际为 %d", 2*period, n)}
	}
	multiplicative := p.config.DecompositionModel == ModelMultiplicative
	if multiplicative {
		for _, v := range values {
			if v <= 0 {
				return Decomposition{Error: "乘法模型要求所有值为正数"}
			}
		}
	}

	trend := movingAverage(values, period)

	// 每个季节位置的平均去趋势值
	sums := make([]float64, period)
	counts := make([]int, period)
	for i, v := range values {
		if math.IsNaN(trend[i]) {
			continue
		}
		if multiplicative {
			sums[i%period] += v / trend[i]
		} else {
			sums[i%period] += v - trend[i]
		}
		counts[i%period]++
	}
	index := make([]float64, period)
	for j := range index {
		index[j] = sums[j] / float64(counts[j])
	}
	center := stats.Mean(index)
	for j := range index {
		if multiplicative {
			index[j] /= center
		} else {
			index[j] -= center
		}
	}

	seasonal := make([]float64, n)
	residual := make([]float64, n)
	for i, v := range values {
		seasonal[i] = index[i%period]
		switch {
		case math.IsNaN(trend[i]):
			residual[i] = math.NaN()
		case multiplicative:
			residual[i] = v / (trend[i] * seasonal[i])
		default:
			residual[i] = v - trend[i] - seasonal[i]
		}
	}

	return Decomposition{
		Trend:    stats.FillNaN(trend),
		Seasonal: seasonal,
		Residual: stats.FillNaN(residual),
	}
}

// movingAverage 居中移动平均，偶数周期使用 2×period 加权窗口
func movingAverage(values []float64, period int) []float64 {
	n := len(values)
	half := period / 2
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}

	for i := half; i < n-half; i++ {
		var sum float64
		if period%2 == 1 {
			for k := i - half; k <= i+half; k++ {
				sum += values[k]
			}
			out[i] = sum / float64(period)
			continue
		}
		sum = 0.5*values[i-half] + 0.5*values[i+half]
		for k := i - half + 1; k < i+half; k++ {
			sum += values[k]
		}
		out[i] = sum / float64(period)
	}
	return out
}

// detectOutliers 检测 z 分数绝对值超过阈值的观测值
func (p *Processor) detectOutliers(values []float64) Outliers {
	out := Outliers{Indices: []int{}, Values: []float64{}}
	for i, z := range stats.ZScores(values) {
		if math.Abs(z) > p.config.OutlierThreshold {
			out.Indices = append(out.Indices, i)
			out.Values = append(out.Values, values[i])
		}
	}
	out.Total = len(out.Indices)
	return out
}

func summarize(values []float64) Summary {
	lo, hi := stats.MinMax(values)
	first, last := values[0], values[len(values)-1]
	s := Summary{
		Mean:        stats.Mean(values),
		Std:         stats.StdDev(values),
		Min:         lo,
		Max:         hi,
		Median:      stats.Median(values),
		FirstValue:  first,
		LastValue:   last,
		TotalChange: last - first,
	}
	if math.IsNaN(s.Std) {
		s.Std = 0
	}
	if first != 0 {
		pct := (last - first) / first * 100
		s.PercentChange = &pct
	}
	return s
}
