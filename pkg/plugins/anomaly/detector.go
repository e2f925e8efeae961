// Package anomaly 异常检测模型插件
// 训练时学习各特征的均值与标准差，预测时以标准化距离为异常分数，
// 分数超过训练集 (1 - contamination) 分位数的样本判定为异常
package anomaly

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/lomehong/chatplot/pkg/plugin/config"
	"github.com/lomehong/chatplot/pkg/plugins/internal/stats"
)

// Name 插件名称
const Name = "anomaly_detector"

// Config 插件配置
type Config struct {
	Contamination float64 `mapstructure:"contamination"`
	// 模型文件路径，为空时不持久化
	ModelPath string `mapstructure:"model_path"`
}

// state 已训练的模型参数
type state struct {
	FeatureColumns []string  `json:"feature_columns"`
	Means          []float64 `json:"means"`
	Stds           []float64 `json:"stds"`
	Threshold      float64   `json:"threshold"`
	TrainedAt      time.Time `json:"trained_at"`
}

// Anomalies 被判定为异常的样本
type Anomalies struct {
	Indices []int            `json:"indices"`
	Scores  []float64        `json:"scores"`
	Data    []map[string]any `json:"data"`
}

// Scores 分数统计
type Scores struct {
	All       []float64 `json:"all"`
	Threshold float64   `json:"threshold"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Mean      float64   `json:"mean"`
	Std       float64   `json:"std"`
}

// FeatureImportance 特征重要性
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// Summary 预测汇总
type Summary struct {
	TotalSamples      int                 `json:"total_samples"`
	TotalAnomalies    int                 `json:"total_anomalies"`
	AnomalyRate       float64             `json:"anomaly_rate"`
	FeatureImportance []FeatureImportance `json:"feature_importance"`
}

// Prediction 预测结果
type Prediction struct {
	Anomalies Anomalies `json:"anomalies"`
	Scores    Scores    `json:"scores"`
	Summary   Summary   `json:"summary"`
}

// Detector 异常检测插件
type Detector struct {
	api.InitGuard
	config Config

	mu    sync.RWMutex
	model *state
}

// New 创建异常检测插件
func New() api.Plugin {
	return &Detector{}
}

// Metadata 返回插件元数据
func (d *Detector) Metadata() api.PluginMetadata {
	return api.PluginMetadata{
		Name:        Name,
		Version:     "1.0.0",
		Description: "基于标准化距离的异常检测",
		Author:      "ChatPlot",
		EntryPoint:  "anomaly.Detector",
		ConfigSchema: &api.ConfigSchema{Fields: map[string]api.FieldSpec{
			"contamination": {Type: api.FieldTypeNumber, Default: 0.1},
			"model_path":    {Type: api.FieldTypeString, Default: ""},
		}},
	}
}

// Initialize 初始化插件
// 配置了模型文件且文件存在时加载已训练的模型
func (d *Detector) Initialize(ctx context.Context, cfg api.PluginConfig) error {
	if err := d.Begin(Name); err != nil {
		return err
	}

	var c Config
	if err := config.Decode(cfg, &c); err != nil {
		d.Abort()
		return err
	}
	if c.Contamination <= 0 || c.Contamination > 0.5 {
		d.Abort()
		return fmt.Errorf("contamination 必须在 (0, 0.5] 之间，实际为 %v", c.Contamination)
	}
	d.config = c

	if c.ModelPath == "" {
		return nil
	}
	model, err := load(c.ModelPath)
	if err != nil {
		d.Abort()
		return err
	}
	d.mu.Lock()
	d.model = model
	d.mu.Unlock()
	return nil
}

// Trained 模型是否已训练
func (d *Detector) Trained() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.model != nil
}

// Train 训练模型
// 选项 feature_columns 指定特征列，未指定时使用所有数值列
func (d *Detector) Train(ctx context.Context, data any, options api.Options) error {
	table, err := api.AsTable(data)
	if err != nil {
		return err
	}
	if table.Rows() == 0 {
		return fmt.Errorf("训练数据为空")
	}

	features := options.Strings("feature_columns")
	if len(features) == 0 {
		for _, col := range table.Columns {
			if col.Numeric() {
				features = append(features, col.Name)
			}
		}
	}
	if len(features) == 0 {
		return fmt.Errorf("没有可用于训练的数值列")
	}

	matrix, err := extract(table, features)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	model := &state{
		FeatureColumns: features,
		Means:          make([]float64, len(features)),
		Stds:           make([]float64, len(features)),
		TrainedAt:      time.Now(),
	}
	for j, col := range matrix {
		model.Means[j] = stats.Mean(col)
		sd := stats.PopStdDev(col)
		if sd == 0 || math.IsNaN(sd) {
			sd = 1
		}
		model.Stds[j] = sd
	}
	scores := model.score(matrix)
	model.Threshold = stats.Quantile(scores, 1-d.config.Contamination)

	if d.config.ModelPath != "" {
		if err := save(d.config.ModelPath, model); err != nil {
			return err
		}
	}

	d.mu.Lock()
	d.model = model
	d.mu.Unlock()
	return nil
}

// Predict 检测异常
// 未训练时返回 NotTrainedError
func (d *Detector) Predict(ctx context.Context, data any) (any, error) {
	d.mu.RLock()
	model := d.model
	d.mu.RUnlock()
	if model == nil {
		return nil, &api.NotTrainedError{Plugin: Name}
	}

	table, err := api.AsTable(data)
	if err != nil {
		return nil, err
	}
	if table.Rows() == 0 {
		return nil, fmt.Errorf("预测数据为空")
	}
	matrix, err := extract(table, model.FeatureColumns)
	if err != nil {
		return nil, fmt.Errorf("输入数据缺少训练时的特征: %w", err)
	}

	scores := model.score(matrix)
	lo, hi := stats.MinMax(scores)
	pred := &Prediction{
		Anomalies: Anomalies{Indices: []int{}, Scores: []float64{}, Data: []map[string]any{}},
		Scores: Scores{
			All:       scores,
			Threshold: model.Threshold,
			Min:       lo,
			Max:       hi,
			Mean:      stats.Mean(scores),
			Std:       stats.PopStdDev(scores),
		},
		Summary: Summary{TotalSamples: len(scores)},
	}
	for i, s := range scores {
		if s <= model.Threshold {
			continue
		}
		pred.Anomalies.Indices = append(pred.Anomalies.Indices, i)
		pred.Anomalies.Scores = append(pred.Anomalies.Scores, s)
		pred.Anomalies.Data = append(pred.Anomalies.Data, row(table, i))
	}
	pred.Summary.TotalAnomalies = len(pred.Anomalies.Indices)
	if len(scores) > 0 {
		pred.Summary.AnomalyRate = float64(pred.Summary.TotalAnomalies) / float64(len(scores))
	}
	pred.Summary.FeatureImportance = model.importance(matrix, scores)
	return pred, nil
}

// score 每个样本的标准化距离（z 分数的均方根）
func (m *state) score(matrix [][]float64) []float64 {
	if len(matrix) == 0 {
		return nil
	}
	n := len(matrix[0])
	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		var ss float64
		for j, col := range matrix {
			z := (col[i] - m.Means[j]) / m.Stds[j]
			ss += z * z
		}
		scores[i] = math.Sqrt(ss / float64(len(matrix)))
	}
	return scores
}

// importance 各特征的标准化值与异常分数的相关系数绝对值，归一化后降序排列
func (m *state) importance(matrix [][]float64, scores []float64) []FeatureImportance {
	out := make([]FeatureImportance, len(matrix))
	var total float64
	for j, col := range matrix {
		c := math.Abs(stats.Correlation(col, scores))
		out[j] = FeatureImportance{Feature: m.FeatureColumns[j], Importance: c}
		total += c
	}
	if total > 0 {
		for j := range out {
			out[j].Importance /= total
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Importance > out[j].Importance
	})
	return out
}

// extract 按列提取特征矩阵
func extract(table *api.Table, features []string) ([][]float64, error) {
	matrix := make([][]float64, len(features))
	for j, name := range features {
		col, ok := table.Column(name)
		if !ok {
			return nil, fmt.Errorf("列 %s 不存在", name)
		}
		values, err := col.Floats()
		if err != nil {
			return nil, err
		}
		matrix[j] = values
	}
	return matrix, nil
}

func row(table *api.Table, i int) map[string]any {
	r := make(map[string]any, len(table.Columns))
	for _, col := range table.Columns {
		if i < len(col.Values) {
			r[col.Name] = col.Values[i]
		}
	}
	return r
}

// load 加载模型文件，文件不存在时返回 nil
func load(path string) (*state, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取模型文件失败: %w", err)
	}
	var m state
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("解析模型文件失败: %w", err)
	}
	if len(m.FeatureColumns) == 0 || len(m.Means) != len(m.FeatureColumns) || len(m.Stds) != len(m.FeatureColumns) {
		return nil, fmt.Errorf("模型文件 %s 内容不完整", path)
	}
	return &m, nil
}

// save 写入模型文件，先写临时文件再重命名
func save(path string, m *state) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建模型目录失败: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化模型失败: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("写入模型文件失败: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("写入模型文件失败: %w", err)
	}
	return nil
}
