package compare

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"reservoir/pkg/domain"
)

// Compare сравнивает результаты a (эталон) и b. Функция чистая и безопасна
// для параллельного вызова.
func Compare(a, b *domain.UnifiedResult, opts Options) *Report {
	opts = opts.withDefaults(a, b)
	rep := &Report{
		LabelA:        opts.LabelA,
		LabelB:        opts.LabelB,
		ToleranceDays: opts.ToleranceDays,
		MatchQuality:  QualityInvalid,
		Timesteps:     []TimestepComparison{},
	}
	if a != nil {
		rep.TimestepsA = len(a.Timesteps)
	}
	if b != nil {
		rep.TimestepsB = len(b.Timesteps)
	}

	if w := preflight(a, opts.LabelA); w != "" {
		rep.Warnings = append(rep.Warnings, w)
		return rep
	}
	if w := preflight(b, opts.LabelB); w != "" {
		rep.Warnings = append(rep.Warnings, w)
		return rep
	}

	ca, cb := cellCount(a), cellCount(b)
	rep.CellMetricsEnabled = ca == cb
	if !rep.CellMetricsEnabled {
		rep.warn("grid mismatch: %s has %d cells, %s has %d; cell metrics disabled", opts.LabelA, ca, opts.LabelB, cb)
	}

	matches := AlignTimesteps(a.Times(), b.Times(), opts.ToleranceDays)
	if len(matches) == 0 {
		rep.warn("no timesteps matched within %g days", opts.ToleranceDays)
		return rep
	}

	for _, m := range matches {
		ta, tb := a.Timesteps[m.IndexA], b.Timesteps[m.IndexB]
		tc := TimestepComparison{
			IndexA:       m.IndexA,
			IndexB:       m.IndexB,
			TimeA:        ta.TimeDays,
			TimeB:        tb.TimeDays,
			TimeMismatch: m.Mismatch,
			Wells:        wellMetrics(ta, tb),
		}
		if rep.CellMetricsEnabled {
			for _, name := range domain.CellFields {
				if fm, ok := fieldMetrics(name, ta.Cells.Field(name), tb.Cells.Field(name)); ok {
					tc.Fields = append(tc.Fields, fm)
				}
			}
		}
		rep.Timesteps = append(rep.Timesteps, tc)
	}
	rep.ComparedTimesteps = len(rep.Timesteps)

	rep.aggregate()
	return rep
}

func (o Options) withDefaults(a, b *domain.UnifiedResult) Options {
	if o.ToleranceDays <= 0 {
		o.ToleranceDays = DefaultToleranceDays
	}
	if o.LabelA == "" {
		o.LabelA = label(a, "A")
	}
	if o.LabelB == "" {
		o.LabelB = label(b, "B")
	}
	if o.LabelA == o.LabelB {
		o.LabelA, o.LabelB = o.LabelA+" (A)", o.LabelB+" (B)"
	}
	return o
}

func label(r *domain.UnifiedResult, fallback string) string {
	if r != nil && r.Metadata.Backend != "" {
		return r.Metadata.Backend
	}
	return fallback
}

func preflight(r *domain.UnifiedResult, name string) string {
	switch {
	case r == nil:
		return fmt.Sprintf("%s: result is missing", name)
	case r.Status != domain.StatusCompleted:
		return fmt.Sprintf("%s: status is %s, comparison needs a completed result", name, r.Status)
	case len(r.Timesteps) == 0:
		return fmt.Sprintf("%s: result has no timesteps", name)
	}
	return ""
}

func cellCount(r *domain.UnifiedResult) int {
	if r.Metadata.CellCount > 0 {
		return r.Metadata.CellCount
	}
	return r.Timesteps[0].Cells.CellCount()
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// aggregate сводит метрики всех шагов и полей. Без метрик ячеек качество
// определяется средней относительной ошибкой скважин.
func (r *Report) aggregate() {
	var nrmse, mae []float64
	perField := map[string][]FieldMetrics{}
	var wellErr []float64

	for _, tc := range r.Timesteps {
		for _, fm := range tc.Fields {
			nrmse = append(nrmse, fm.NRMSE)
			mae = append(mae, fm.MAE)
			r.OverallMaxError = max(r.OverallMaxError, fm.MaxError)
			perField[fm.Field] = append(perField[fm.Field], fm)
		}
		for _, wm := range tc.Wells {
			wellErr = append(wellErr, wm.MaxRelError())
		}
	}

	for _, name := range domain.CellFields {
		list := perField[name]
		if len(list) == 0 {
			continue
		}
		fs := FieldSummary{Field: name}
		n, m, r2 := make([]float64, len(list)), make([]float64, len(list)), make([]float64, len(list))
		for i, fm := range list {
			n[i], m[i], r2[i] = fm.NRMSE, fm.MAE, fm.R2
			fs.MaxError = max(fs.MaxError, fm.MaxError)
		}
		fs.MeanNRMSE, fs.MeanMAE, fs.MeanR2 = stat.Mean(n, nil), stat.Mean(m, nil), stat.Mean(r2, nil)
		r.Fields = append(r.Fields, fs)
	}

	switch {
	case len(nrmse) > 0:
		r.OverallNRMSE = stat.Mean(nrmse, nil)
		r.OverallMAE = stat.Mean(mae, nil)
		r.MatchQuality = Classify(r.OverallNRMSE)
	case len(wellErr) > 0:
		mean := stat.Mean(wellErr, nil)
		r.MatchQuality = Classify(mean)
		r.warn("quality based on well data only (mean relative error %.4f)", mean)
	default:
		r.warn("matched timesteps carry neither cell nor well data")
	}
}
