// Package basket 购物篮分析插件
// 使用 Apriori 算法挖掘频繁项集，并生成按提升度过滤的关联规则
package basket

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/lomehong/chatplot/pkg/plugin/config"
)

// Name 插件名称
const Name = "market_basket_analyzer"

// 置信度不低于该值的规则视为强规则
const strongConfidence = 0.8

// 洞察中最多列出的规则数
const maxInsights = 5

// Config 插件配置
type Config struct {
	MinSupport    float64 `mapstructure:"min_support"`
	MinConfidence float64 `mapstructure:"min_confidence"`
	MinLift       float64 `mapstructure:"min_lift"`
	MaxLength     int     `mapstructure:"max_length"`
}

// Itemset 频繁项集
type Itemset struct {
	Items   []string `json:"items"`
	Support float64  `json:"support"`
	Length  int      `json:"length"`
}

// Rule 关联规则
// Conviction 在置信度为 1 时为无穷大，以 nil 表示
type Rule struct {
	Antecedents []string `json:"antecedents"`
	Consequents []string `json:"consequents"`
	Support     float64  `json:"support"`
	Confidence  float64  `json:"confidence"`
	Lift        float64  `json:"lift"`
	Leverage    float64  `json:"leverage"`
	Conviction  *float64 `json:"conviction"`
}

// Summary 规则汇总
type Summary struct {
	TotalRules    int      `json:"total_rules"`
	AvgConfidence *float64 `json:"avg_confidence"`
	AvgLift       *float64 `json:"avg_lift"`
	MaxLift       *float64 `json:"max_lift"`
	StrongRules   int      `json:"strong_rules"`
}

// Analyzer 购物篮分析插件
type Analyzer struct {
	api.InitGuard
	config Config
}

// New 创建购物篮分析插件
func New() api.Plugin {
	return &Analyzer{}
}

// Metadata 返回插件元数据
func (a *Analyzer) Metadata() api.PluginMetadata {
	return api.PluginMetadata{
		Name:        Name,
		Version:     "1.0.0",
		Description: "购物篮分析，发现商品之间的关联",
		Author:      "ChatPlot",
		EntryPoint:  "basket.Analyzer",
		ConfigSchema: &api.ConfigSchema{Fields: map[string]api.FieldSpec{
			"min_support":    {Type: api.FieldTypeNumber, Default: 0.01},
			"min_confidence": {Type: api.FieldTypeNumber, Default: 0.5},
			"min_lift":       {Type: api.FieldTypeNumber, Default: 1.0},
			"max_length":     {Type: api.FieldTypeInteger, Default: 3},
		}},
	}
}

// Initialize 初始化插件
func (a *Analyzer) Initialize(ctx context.Context, cfg api.PluginConfig) error {
	if err := a.Begin(Name); err != nil {
		return err
	}

	var c Config
	if err := config.Decode(cfg, &c); err != nil {
		a.Abort()
		return err
	}
	switch {
	case c.MinSupport <= 0 || c.MinSupport > 1:
		a.Abort()
		return fmt.Errorf("min_support 必须在 (0, 1] 之间，实际为 %v", c.MinSupport)
	case c.MinConfidence < 0 || c.MinConfidence > 1:
		a.Abort()
		return fmt.Errorf("min_confidence 必须在 [0, 1] 之间，实际为 %v", c.MinConfidence)
	case c.MinLift < 0:
		a.Abort()
		return fmt.Errorf("min_lift 不能为负数，实际为 %v", c.MinLift)
	case c.MaxLength < 2:
		a.Abort()
		return fmt.Errorf("max_length 必须大于等于 2，实际为 %d", c.MaxLength)
	}

	a.config = c
	return nil
}

// Analyze 分析交易数据
// 选项 transaction_id 与 item_id 指定交易列与商品列
func (a *Analyzer) Analyze(ctx context.Context, data any, options api.Options) (*api.AnalysisResult, error) {
	table, err := api.AsTable(data)
	if err != nil {
		return nil, err
	}

	txName := options.String("transaction_id", "")
	itemName := options.String("item_id", "")
	if txName == "" || itemName == "" {
		return nil, fmt.Errorf("必须指定交易列与商品列")
	}
	txCol, ok := table.Column(txName)
	if !ok {
		return nil, fmt.Errorf("列 %s 不存在", txName)
	}
	itemCol, ok := table.Column(itemName)
	if !ok {
		return nil, fmt.Errorf("列 %s 不存在", itemName)
	}

	baskets := buildBaskets(txCol, itemCol)
	if len(baskets) == 0 {
		return nil, fmt.Errorf("没有交易数据")
	}

	frequent, err := a.apriori(ctx, baskets)
	if err != nil {
		return nil, err
	}
	rules := a.rules(frequent)

	itemsets := make([]Itemset, 0, len(frequent))
	for _, fs := range frequent {
		itemsets = append(itemsets, Itemset{Items: fs.items, Support: fs.support, Length: len(fs.items)})
	}

	return &api.AnalysisResult{
		Findings: map[string]any{
			"frequent_itemsets": itemsets,
			"association_rules": rules,
			"summary":           summarize(rules),
		},
		Insights: insights(rules),
	}, nil
}

// buildBaskets 按交易分组商品，商品去重并排序
func buildBaskets(txCol, itemCol *api.Column) [][]string {
	order := make([]string, 0)
	groups := make(map[string]map[string]struct{})
	for i, tx := range txCol.Values {
		if i >= len(itemCol.Values) || tx == nil || itemCol.Values[i] == nil {
			continue
		}
		id := fmt.Sprint(tx)
		if _, ok := groups[id]; !ok {
			groups[id] = make(map[string]struct{})
			order = append(order, id)
		}
		groups[id][fmt.Sprint(itemCol.Values[i])] = struct{}{}
	}

	baskets := make([][]string, 0, len(order))
	for _, id := range order {
		items := make([]string, 0, len(groups[id]))
		for item := range groups[id] {
			items = append(items, item)
		}
		sort.Strings(items)
		baskets = append(baskets, items)
	}
	return baskets
}

// frequentSet 频繁项集，items 已排序
type frequentSet struct {
	items   []string
	support float64
}

func key(items []string) string {
	return strings.Join(items, "\x00")
}

// apriori 逐层生成候选项集并统计支持度
func (a *Analyzer) apriori(ctx context.Context, baskets [][]string) ([]frequentSet, error) {
	n := float64(len(baskets))
	supports := make(map[string]float64)

	// 单项集
	counts := make(map[string]int)
	for _, b := range baskets {
		for _, item := range b {
			counts[item]++
		}
	}
	var level [][]string
	for item, c := range counts {
		if s := float64(c) / n; s >= a.config.MinSupport {
			level = append(level, []string{item})
			supports[item] = s
		}
	}
	sortItemsets(level)

	var result []frequentSet
	for k := 1; len(level) > 0; k++ {
		for _, items := range level {
			result = append(result, frequentSet{items: items, support: supports[key(items)]})
		}
		if k >= a.config.MaxLength {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidates := generateCandidates(level, supports)
		next := make([][]string, 0)
		for _, cand := range candidates {
			var c int
			for _, b := range baskets {
				if containsAll(b, cand) {
					c++
				}
			}
			if s := float64(c) / n; s >= a.config.MinSupport {
				supports[key(cand)] = s
				next = append(next, cand)
			}
		}
		sortItemsets(next)
		level = next
	}

	sort.SliceStable(result, func(i, j int) bool {
		if len(result[i].items) != len(result[j].items) {
			return len(result[i].items) < len(result[j].items)
		}
		return result[i].support > result[j].support
	})
	return result, nil
}

// generateCandidates 连接共享前缀的 k 项集得到 k+1 项候选集，并剪除含非频繁子集的候选
func generateCandidates(level [][]string, supports map[string]float64) [][]string {
	var out [][]string
	for i := 0; i < len(level); i++ {
		for j := i + 1; j < len(level); j++ {
			a, b := level[i], level[j]
			k := len(a)
			if key(a[:k-1]) != key(b[:k-1]) {
				continue
			}
			cand := append(append([]string(nil), a...), b[k-1])
			sort.Strings(cand)
			if allSubsetsFrequent(cand, supports) {
				out = append(out, cand)
			}
		}
	}
	return out
}

func allSubsetsFrequent(items []string, supports map[string]float64) bool {
	for skip := range items {
		sub := make([]string, 0, len(items)-1)
		sub = append(sub, items[:skip]...)
		sub = append(sub, items[skip+1:]...)
		if _, ok := supports[key(sub)]; !ok {
			return false
		}
	}
	return true
}

// containsAll 有序切片 basket 是否包含有序切片 items 的所有元素
func containsAll(basket, items []string) bool {
	i := 0
	for _, b := range basket {
		if i < len(items) && b == items[i] {
			i++
		}
	}
	return i == len(items)
}

func sortItemsets(sets [][]string) {
	sort.Slice(sets, func(i, j int) bool {
		return key(sets[i]) < key(sets[j])
	})
}

// rules 由频繁项集生成关联规则
func (a *Analyzer) rules(frequent []frequentSet) []Rule {
	supports := make(map[string]float64, len(frequent))
	for _, fs := range frequent {
		supports[key(fs.items)] = fs.support
	}

	rules := make([]Rule, 0)
	for _, fs := range frequent {
		if len(fs.items) < 2 {
			continue
		}
		for _, ante := range properSubsets(fs.items) {
			cons := difference(fs.items, ante)
			supA, supC := supports[key(ante)], supports[key(cons)]
			if supA == 0 || supC == 0 {
				continue
			}
			confidence := fs.support / supA
			lift := confidence / supC
			if confidence < a.config.MinConfidence || lift < a.config.MinLift {
				continue
			}
			r := Rule{
				Antecedents: ante,
				Consequents: cons,
				Support:     fs.support,
				Confidence:  confidence,
				Lift:        lift,
				Leverage:    fs.support - supA*supC,
			}
			if confidence < 1 {
				conviction := (1 - supC) / (1 - confidence)
				r.Conviction = &conviction
			}
			rules = append(rules, r)
		}
	}

	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Lift > rules[j].Lift
	})
	return rules
}

// properSubsets 非空真子集，保持元素顺序
func properSubsets(items []string) [][]string {
	n := len(items)
	var out [][]string
	for mask := 1; mask < (1<<n)-1; mask++ {
		var sub []string
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				sub = append(sub, items[i])
			}
		}
		out = append(out, sub)
	}
	return out
}

func difference(items, remove []string) []string {
	skip := make(map[string]bool, len(remove))
	for _, r := range remove {
		skip[r] = true
	}
	var out []string
	for _, item := range items {
		if !skip[item] {
			out = append(out, item)
		}
	}
	return out
}

func summarize(rules []Rule) Summary {
	s := Summary{TotalRules: len(rules)}
	if len(rules) == 0 {
		return s
	}
	var sumConf, sumLift float64
	maxLift := math.Inf(-1)
	for _, r := range rules {
		sumConf += r.Confidence
		sumLift += r.Lift
		maxLift = math.Max(maxLift, r.Lift)
		if r.Confidence >= strongConfidence {
			s.StrongRules++
		}
	}
	avgConf := sumConf / float64(len(rules))
	avgLift := sumLift / float64(len(rules))
	s.AvgConfidence, s.AvgLift, s.MaxLift = &avgConf, &avgLift, &maxLift
	return s
}

// insights 按提升度列出最强的规则
func insights(rules []Rule) []api.Insight {
	out := make([]api.Insight, 0, maxInsights)
	for i, r := range rules {
		if i >= maxInsights {
			break
		}
		out = append(out, api.Insight{
			Description: fmt.Sprintf("购买 %s 的交易中有 %.0f%% 同时购买了 %s（提升度 %.2f）",
				strings.Join(r.Antecedents, "、"), r.Confidence*100, strings.Join(r.Consequents, "、"), r.Lift),
			Importance: r.Lift,
			Confidence: r.Confidence,
		})
	}
	return out
}
