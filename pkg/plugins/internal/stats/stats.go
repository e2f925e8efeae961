// Package stats 内置插件共用的描述统计函数
package stats

import (
	"math"
	"sort"
)

// Mean 平均值，空切片返回 NaN
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev 样本标准差（自由度 n-1），少于两个值时返回 NaN
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	return math.Sqrt(sumSquares(xs) / float64(len(xs)-1))
}

// PopStdDev 总体标准差（自由度 n）
func PopStdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return math.Sqrt(sumSquares(xs) / float64(len(xs)))
}

func sumSquares(xs []float64) float64 {
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return ss
}

// Median 中位数
func Median(xs []float64) float64 {
	return Quantile(xs, 0.5)
}

// Quantile 线性插值分位数，q 取值 [0, 1]
func Quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// MinMax 最小值与最大值
func MinMax(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return math.NaN(), math.NaN()
	}
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return lo, hi
}

// ZScores 以总体标准差计算的 z 分数，标准差为 0 时全部为 0
func ZScores(xs []float64) []float64 {
	out := make([]float64, len(xs))
	m, sd := Mean(xs), PopStdDev(xs)
	if sd == 0 || math.IsNaN(sd) {
		return out
	}
	for i, x := range xs {
		out[i] = (x - m) / sd
	}
	return out
}

// Correlation 皮尔逊相关系数，任一序列方差为 0 时返回 0
func Correlation(xs, ys []float64) float64 {
	if len(xs) != len(ys) || len(xs) == 0 {
		return 0
	}
	mx, my := Mean(xs), Mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	return sxy / math.Sqrt(sxx*syy)
}

// FillNaN 先向后再向前填充 NaN
func FillNaN(xs []float64) []float64 {
	out := append([]float64(nil), xs...)
	next := math.NaN()
	for i := len(out) - 1; i >= 0; i-- {
		if math.IsNaN(out[i]) {
			out[i] = next
		} else {
			next = out[i]
		}
	}
	prev := math.NaN()
	for i := range out {
		if math.IsNaN(out[i]) {
			out[i] = prev
		} else {
			prev = out[i]
		}
	}
	return out
}
