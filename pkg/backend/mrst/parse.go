package mrst

import (
	"fmt"

	"reservoir/pkg/backend"
	"reservoir/pkg/domain"
	"reservoir/pkg/logger"
	"reservoir/pkg/matfile"
)

// ParseResult разбирает MAT-файл результатов. Отсутствие файла или
// обязательного массива даёт FAILED с предупреждением.
func (b *Backend) ParseResult(raw backend.RawResult, req *domain.SimRequest) *domain.UnifiedResult {
	out, ok := raw.(*backend.MRSTOutput)
	if !ok || out == nil {
		tag := "nil"
		if raw != nil {
			tag = raw.Backend()
		}
		return domain.NewFailedResult(req, Name, b.Version(), fmt.Sprintf("mrst cannot parse %s output", tag))
	}
	log := logger.WithBackend(Name).With("work_dir", out.WorkDir)

	res := domain.NewFailedResult(req, Name, b.Version(), out.Warnings...)
	res.Metadata.WallTimeSeconds = out.Exec.Duration.Seconds()
	warn := func(format string, args ...any) {
		res.Metadata.Warnings = append(res.Metadata.Warnings, fmt.Sprintf(format, args...))
	}

	f, err := matfile.ReadFile(out.ResultPath)
	if err != nil {
		warn("results file unavailable: %v", err)
		log.Warn("results file unavailable", "error", err)
		return res
	}
	for _, name := range requiredVars {
		if _, ok := f.Get(name); !ok {
			warn("results file has no %q array", name)
			log.Warn("results array missing", "array", name)
			return res
		}
	}

	times, _ := f.Float64s(VarTime)
	pressure, _ := f.Get(VarPressure)
	sw, _ := f.Get(VarSw)
	so, _ := f.Get(VarSo)
	sg, hasSg := f.Get(VarSg)

	nt := len(times)
	if cols := pressure.Cols(); cols != nt {
		warn("pressure has %d steps, time vector has %d", cols, nt)
		nt = min(nt, cols)
	}

	wells := newWellTable(f, req, len(times))
	for k := 0; k < nt; k++ {
		cells := domain.CellData{
			Pressure: pressure.Column(k),
			Sw:       sw.Column(k),
			So:       so.Column(k),
		}
		if hasSg {
			cells.Sg = sg.Column(k)
		}
		res.Timesteps = append(res.Timesteps, domain.TimestepResult{
			Index:    k,
			TimeDays: times[k],
			Cells:    cells,
			Wells:    wells.at(k),
		})
	}

	if wt, ok := scalar(f, VarWallTime); ok {
		res.Metadata.WallTimeSeconds = wt
	}
	if len(res.Timesteps) == 0 {
		warn("results file contains no timesteps")
		return res
	}
	res.Metadata.CellCount = res.Timesteps[0].Cells.CellCount()

	converged := true
	if c, ok := scalar(f, VarConverged); ok && c == 0 {
		warn("nonlinear solver did not converge")
		converged = false
	}
	if req != nil && len(res.Timesteps) < len(req.ReportTimes) {
		warn("simulation stopped after %d of %d report steps", len(res.Timesteps), len(req.ReportTimes))
		converged = false
	}

	res.Metadata.Converged = converged
	if converged {
		res.Status = domain.StatusCompleted
	}
	log.Debug("mrst output parsed", "timesteps", len(res.Timesteps), "status", res.Status)
	return res
}

func scalar(f *matfile.File, name string) (float64, bool) {
	v, ok := f.Get(name)
	if !ok {
		return 0, false
	}
	return v.Scalar()
}

// wellTable матрицы скважин nt x nw по столбцам
type wellTable struct {
	names []string
	nt    int
	bhp   []float64
	oil   []float64
	water []float64
	gas   []float64
}

func newWellTable(f *matfile.File, req *domain.SimRequest, nt int) *wellTable {
	wt := &wellTable{nt: nt}
	if v, ok := f.Get(VarWellNames); ok {
		wt.names = v.Strings()
	} else if req != nil {
		for _, w := range req.Wells {
			wt.names = append(wt.names, w.Name)
		}
	}
	wt.bhp, _ = f.Float64s(VarWellBHP)
	wt.oil, _ = f.Float64s(VarWellOil)
	wt.water, _ = f.Float64s(VarWellWater)
	wt.gas, _ = f.Float64s(VarWellGas)
	return wt
}

func (wt *wellTable) value(data []float64, k, w int) float64 {
	i := w*wt.nt + k
	if i >= len(data) {
		return 0
	}
	return data[i]
}

func (wt *wellTable) at(k int) []domain.WellData {
	if len(wt.names) == 0 || wt.bhp == nil {
		return nil
	}
	wells := make([]domain.WellData, len(wt.names))
	for w, name := range wt.names {
		wells[w] = domain.WellData{
			Name:      name,
			BHP:       wt.value(wt.bhp, k, w),
			OilRate:   wt.value(wt.oil, k, w),
			WaterRate: wt.value(wt.water, k, w),
			GasRate:   wt.value(wt.gas, k, w),
		}
	}
	return wells
}
