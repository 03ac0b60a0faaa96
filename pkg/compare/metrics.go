package compare

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"reservoir/pkg/domain"
)

// Match пара сопоставленных шагов
type Match struct {
	IndexA   int
	IndexB   int
	Mismatch float64
}

// AlignTimesteps жадно сопоставляет шаги: для каждого времени из a по
// порядку берётся ближайшее ещё не занятое время из b в пределах допуска.
// Несопоставленные шаги просто не попадают в результат.
func AlignTimesteps(a, b []float64, toleranceDays float64) []Match {
	used := make([]bool, len(b))
	var matches []Match
	for i, ta := range a {
		best, bestDiff := -1, math.Inf(1)
		for j, tb := range b {
			if used[j] {
				continue
			}
			if d := math.Abs(ta - tb); d <= toleranceDays && d < bestDiff {
				best, bestDiff = j, d
			}
		}
		if best < 0 {
			continue
		}
		used[best] = true
		matches = append(matches, Match{IndexA: i, IndexB: best, Mismatch: bestDiff})
	}
	return matches
}

// NRMSE среднеквадратичная разность, отнесённая к размаху a.
// При нулевом размахе: 0, если значения совпадают, иначе 1.
func NRMSE(a, b []float64) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 0
	}
	a, b = a[:n], b[:n]
	rms := floats.Distance(a, b, 2) / math.Sqrt(float64(n))
	rng := floats.Max(a) - floats.Min(a)
	if domain.IsZero(rng) {
		if domain.IsZero(rms) {
			return 0
		}
		return 1
	}
	return rms / rng
}

// RelativeError |a-b| / max(|a|, |b|), ноль при обоих нулевых
func RelativeError(a, b float64) float64 {
	den := math.Max(math.Abs(a), math.Abs(b))
	if den == 0 {
		return 0
	}
	return math.Abs(a-b) / den
}

// fieldMetrics метрики поля по общей длине массивов
func fieldMetrics(name string, a, b []float64) (FieldMetrics, bool) {
	n := min(len(a), len(b))
	if n == 0 {
		return FieldMetrics{}, false
	}
	a, b = a[:n], b[:n]

	diff := make([]float64, n)
	floats.SubTo(diff, a, b)
	for i := range diff {
		diff[i] = math.Abs(diff[i])
	}
	idx := floats.MaxIdx(diff)

	return FieldMetrics{
		Field:         name,
		Count:         n,
		NRMSE:         NRMSE(a, b),
		MAE:           stat.Mean(diff, nil),
		MaxError:      diff[idx],
		MaxErrorIndex: idx,
		R2:            rSquared(a, b, diff),
	}, true
}

// rSquared 1 - SSres/SStot относительно a, не меньше нуля
func rSquared(a, b, absDiff []float64) float64 {
	mean := stat.Mean(a, nil)
	var ssTot float64
	for _, v := range a {
		ssTot += (v - mean) * (v - mean)
	}
	if domain.IsZero(ssTot) {
		if domain.IsZero(floats.Norm(absDiff, 2)) {
			return 1
		}
		return 0
	}
	return math.Max(0, stat.RSquaredFrom(b, a, nil))
}

// wellMetrics расхождения по скважинам, присутствующим в обоих шагах
func wellMetrics(a, b domain.TimestepResult) []WellMetrics {
	var out []WellMetrics
	for _, wa := range a.Wells {
		wb, ok := b.Well(wa.Name)
		if !ok {
			continue
		}
		out = append(out, WellMetrics{
			Name:           wa.Name,
			BHPDelta:       math.Abs(wa.BHP - wb.BHP),
			OilRateDelta:   math.Abs(wa.OilRate - wb.OilRate),
			WaterRateDelta: math.Abs(wa.WaterRate - wb.WaterRate),
			GasRateDelta:   math.Abs(wa.GasRate - wb.GasRate),
			BHPRelError:    RelativeError(wa.BHP, wb.BHP),
			OilRelError:    RelativeError(wa.OilRate, wb.OilRate),
			WaterRelError:  RelativeError(wa.WaterRate, wb.WaterRate),
			GasRelError:    RelativeError(wa.GasRate, wb.GasRate),
		})
	}
	return out
}
