package api

import (
	"context"
	"fmt"
)

// Category 插件类别
// 四种类别构成封闭集合，新增类别需要修改此处
type Category string

// 预定义的插件类别
const (
	CategoryDataProcessor Category = "data_processor" // 数据处理
	CategoryVisualization Category = "visualization"  // 可视化
	CategoryAnalysis      Category = "analysis"       // 分析
	CategoryModel         Category = "model"          // 模型
)

// Categories 返回所有类别，顺序固定
func Categories() []Category {
	return []Category{CategoryDataProcessor, CategoryVisualization, CategoryAnalysis, CategoryModel}
}

// ParseCategory 解析类别名称
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("未知的插件类别: %s", s)
}

// Operation 插件操作
type Operation string

// 预定义的插件操作
const (
	OperationProcess Operation = "process"
	OperationRender  Operation = "render"
	OperationAnalyze Operation = "analyze"
	OperationTrain   Operation = "train"
	OperationPredict Operation = "predict"
)

var categoryOperations = map[Category][]Operation{
	CategoryDataProcessor: {OperationProcess},
	CategoryVisualization: {OperationRender},
	CategoryAnalysis:      {OperationAnalyze},
	CategoryModel:         {OperationTrain, OperationPredict},
}

// Operations 返回类别支持的操作
func Operations(c Category) []Operation {
	ops := categoryOperations[c]
	return append([]Operation(nil), ops...)
}

// Supports 类别是否支持该操作
func (c Category) Supports(op Operation) bool {
	for _, candidate := range categoryOperations[c] {
		if candidate == op {
			return true
		}
	}
	return false
}

// DataProcessor 定义了数据处理插件的接口
type DataProcessor interface {
	Plugin

	// Process 处理数据，返回同形态的数据
	Process(ctx context.Context, data any, options Options) (any, error)
}

// Visualization 定义了可视化插件的接口
type Visualization interface {
	Plugin

	// Render 生成图表描述，由外部渲染层负责绘制
	Render(ctx context.Context, data any, options Options) (*ChartSpec, error)
}

// Analysis 定义了分析插件的接口
type Analysis interface {
	Plugin

	// Analyze 分析数据，返回发现与洞察
	Analyze(ctx context.Context, data any, options Options) (*AnalysisResult, error)
}

// Model 定义了模型插件的接口
type Model interface {
	Plugin

	// Train 训练模型
	Train(ctx context.Context, data any, options Options) error

	// Predict 使用已训练的模型预测，未训练时返回 NotTrainedError
	Predict(ctx context.Context, data any) (any, error)
}

// CategoryOf 返回插件实现的唯一能力类别
// 插件必须恰好实现一种能力接口
func CategoryOf(p Plugin) (Category, error) {
	var found []Category
	if _, ok := p.(DataProcessor); ok {
		found = append(found, CategoryDataProcessor)
	}
	if _, ok := p.(Visualization); ok {
		found = append(found, CategoryVisualization)
	}
	if _, ok := p.(Analysis); ok {
		found = append(found, CategoryAnalysis)
	}
	if _, ok := p.(Model); ok {
		found = append(found, CategoryModel)
	}

	name := p.Metadata().Name
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return "", &InvalidMetadataError{Plugin: name, Reason: "插件未实现任何能力接口"}
	default:
		return "", &InvalidMetadataError{Plugin: name, Reason: fmt.Sprintf("插件同时实现了多种能力接口: %v", found)}
	}
}
