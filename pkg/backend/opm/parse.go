package opm

import (
	"fmt"
	"math"

	"reservoir/pkg/backend"
	"reservoir/pkg/domain"
	"reservoir/pkg/ecl"
	"reservoir/pkg/logger"
)

// Допуск сопоставления времени шага рестарта и сводки, сутки
const timeMatchTolerance = 1e-3

// ParseResult читает рестарт и сводку и собирает UnifiedResult. Отсутствие
// рестарта даёт FAILED с предупреждением, отсутствие сводки только
// предупреждение.
func (b *Backend) ParseResult(raw backend.RawResult, req *domain.SimRequest) *domain.UnifiedResult {
	out, ok := raw.(*backend.OPMOutput)
	if !ok || out == nil {
		tag := "nil"
		if raw != nil {
			tag = raw.Backend()
		}
		return domain.NewFailedResult(req, Name, b.Version(), fmt.Sprintf("opm cannot parse %s output", tag))
	}
	log := logger.WithBackend(Name).With("work_dir", out.WorkDir)

	res := domain.NewFailedResult(req, Name, b.Version(), out.Warnings...)
	res.Metadata.WallTimeSeconds = out.Exec.Duration.Seconds()

	steps, err := ecl.ReadRestartFile(out.RestartPath)
	if err != nil {
		res.Metadata.Warnings = append(res.Metadata.Warnings, fmt.Sprintf("restart output unavailable: %v", err))
		log.Warn("restart output unavailable", "error", err)
		return res
	}

	summary, err := ecl.ReadSummaryFiles(out.SpecPath, out.SummaryPath)
	if err != nil {
		res.Metadata.Warnings = append(res.Metadata.Warnings, fmt.Sprintf("summary output unavailable: %v", err))
		log.Warn("summary output unavailable", "error", err)
		summary = nil
	}

	wells := newWellReader(summary, req)
	for _, step := range steps {
		// нулевой шаг - начальное состояние до первого отчёта
		if step.Days <= 0 {
			continue
		}
		cells, warn := cellData(step)
		if warn != "" {
			res.Metadata.Warnings = append(res.Metadata.Warnings, warn)
			continue
		}
		res.Timesteps = append(res.Timesteps, domain.TimestepResult{
			Index:    len(res.Timesteps),
			TimeDays: step.Days,
			Cells:    cells,
			Wells:    wells.at(step.Days),
		})
	}

	if len(res.Timesteps) == 0 {
		res.Metadata.Warnings = append(res.Metadata.Warnings, "restart output contains no report steps")
		return res
	}
	if n := res.Timesteps[0].Cells.CellCount(); n > 0 {
		res.Metadata.CellCount = n
	}

	converged := true
	if req != nil && len(res.Timesteps) < len(req.ReportTimes) {
		last := res.Timesteps[len(res.Timesteps)-1].TimeDays
		res.Metadata.Warnings = append(res.Metadata.Warnings, fmt.Sprintf(
			"simulation stopped at day %g of %g (%d of %d report steps)",
			last, req.ReportTimes[len(req.ReportTimes)-1], len(res.Timesteps), len(req.ReportTimes)))
		converged = false
	}

	res.Metadata.Converged = converged
	if converged {
		res.Status = domain.StatusCompleted
	}
	log.Debug("opm output parsed", "timesteps", len(res.Timesteps), "status", res.Status)
	return res
}

// cellData переводит массивы шага в канонические единицы. So выводится
// как 1 - Sw - Sg.
func cellData(step ecl.RestartStep) (domain.CellData, string) {
	pressure := step.Array("PRESSURE")
	if pressure == nil {
		return domain.CellData{}, fmt.Sprintf("report step %d at day %g has no PRESSURE", step.SeqNum, step.Days)
	}

	n := len(pressure)
	cells := domain.CellData{Pressure: make([]float64, n)}
	for i, p := range pressure {
		cells.Pressure[i] = toBar(p, step.Units)
	}

	cells.Sw = fitLength(step.Array("SWAT"), n)
	cells.Sg = fitLength(step.Array("SGAS"), n)
	cells.So = make([]float64, n)
	for i := range cells.So {
		so := 1 - cells.Sw[i] - cells.Sg[i]
		cells.So[i] = math.Max(0, math.Min(1, so))
	}
	if step.Array("SGAS") == nil {
		cells.Sg = nil
	}
	return cells, ""
}

// fitLength возвращает копию длины n; недостающие значения нули
func fitLength(values []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, values)
	return out
}

func toBar(p float64, units ecl.UnitSystem) float64 {
	if units == ecl.UnitField {
		return domain.PsiToBar(p)
	}
	return p
}

// =============================================================================
// Well series
// =============================================================================

// wellReader отдаёт данные скважин на момент отчётного шага
type wellReader struct {
	summary *ecl.Summary
	field   bool
	times   []float64
	names   []string
	series  map[string][]float64
}

func newWellReader(s *ecl.Summary, req *domain.SimRequest) *wellReader {
	wr := &wellReader{summary: s, series: make(map[string][]float64)}
	if s == nil {
		return wr
	}
	wr.field = s.Spec.UnitSystem == ecl.UnitField
	wr.times = s.ReportTimes()

	wr.names = s.Wells()
	if req != nil && len(wr.names) == 0 {
		for _, w := range req.Wells {
			wr.names = append(wr.names, w.Name)
		}
	}
	for _, name := range wr.names {
		for _, kw := range []string{"WBHP", "WOPR", "WWPR", "WGPR", "WWIR", "WGIR"} {
			if v, ok := s.ReportVector(kw + ":" + name); ok {
				wr.series[kw+":"+name] = v
			}
		}
	}
	return wr
}

// index ищет отчётный шаг сводки по времени
func (wr *wellReader) index(days float64) int {
	for i, t := range wr.times {
		if math.Abs(t-days) <= timeMatchTolerance {
			return i
		}
	}
	return -1
}

func (wr *wellReader) value(kw, well string, i int) float64 {
	v := wr.series[kw+":"+well]
	if i < 0 || i >= len(v) {
		return 0
	}
	return v[i]
}

// at данные всех скважин на момент days. Дебиты закачки вычитаются из
// дебитов добычи, так что закачка отрицательна.
func (wr *wellReader) at(days float64) []domain.WellData {
	if wr.summary == nil {
		return nil
	}
	i := wr.index(days)
	if i < 0 {
		return nil
	}

	wells := make([]domain.WellData, 0, len(wr.names))
	for _, name := range wr.names {
		liquid := func(v float64) float64 {
			if wr.field {
				return domain.StbToM3(v)
			}
			return v
		}
		gas := func(v float64) float64 {
			if wr.field {
				return domain.MscfToM3(v)
			}
			return v
		}
		bhp := wr.value("WBHP", name, i)
		if wr.field {
			bhp = domain.PsiToBar(bhp)
		}
		wells = append(wells, domain.WellData{
			Name:      name,
			BHP:       bhp,
			OilRate:   liquid(wr.value("WOPR", name, i)),
			WaterRate: liquid(wr.value("WWPR", name, i) - wr.value("WWIR", name, i)),
			GasRate:   gas(wr.value("WGPR", name, i) - wr.value("WGIR", name, i)),
		})
	}
	return wells
}
