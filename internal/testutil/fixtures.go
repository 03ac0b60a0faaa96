// Package testutil содержит общие фикстуры и моки для тестов пакетов модуля.
package testutil

import (
	"reservoir/pkg/domain"
)

// SPE1Request возвращает запрос в духе SPE1: сетка 10x10x3, газовая
// нагнетательная скважина и добывающая по нефти, 120 месячных шагов за 10 лет.
func SPE1Request() *domain.SimRequest {
	times := make([]float64, 120)
	for i := range times {
		times[i] = float64(i+1) * 3652.5 / 120
	}

	return &domain.SimRequest{
		Title: "SPE1 style gas injection",
		Grid: domain.GridParams{
			NX: 10, NY: 10, NZ: 3,
			DX:       domain.FeetToM(1000),
			DY:       domain.FeetToM(1000),
			DZ:       domain.FeetToM(50),
			DepthTop: domain.FeetToM(8325),
			Porosity: 0.3,
			PermX:    500, PermY: 500, PermZ: 50,
		},
		Wells: []domain.WellConfig{
			{
				Name: "INJ1", Type: domain.WellInjector,
				I: 0, J: 0, KTop: 0, KBottom: 0,
				Rate:   domain.MscfToM3(100_000),
				BHP:    domain.PsiToBar(9014),
				Phases: []domain.Phase{domain.PhaseGas},
			},
			{
				Name: "PROD1", Type: domain.WellProducer,
				I: 9, J: 9, KTop: 2, KBottom: 2,
				Rate:   domain.StbToM3(20_000),
				BHP:    domain.PsiToBar(1000),
				Phases: []domain.Phase{domain.PhaseOil},
			},
		},
		Fluid: domain.FluidProperties{
			OilDensity:          domain.LbFt3ToKgM3(49.1),
			WaterDensity:        domain.LbFt3ToKgM3(64.79),
			GasDensity:          domain.LbFt3ToKgM3(0.06054),
			OilViscosity:        0.5,
			WaterViscosity:      0.31,
			GasViscosity:        0.013,
			InitialPressure:     domain.PsiToBar(4800),
			BubblePointPressure: domain.PsiToBar(4014.7),
			InitialWaterSat:     0.12,
		},
		ReportTimes: times,
		StartDate:   "2015-01-01",
		Backend:     "opm",
	}
}

// SmallRequest возвращает компактный запрос 3x3x1 с двумя водяными скважинами
func SmallRequest() *domain.SimRequest {
	return &domain.SimRequest{
		Title: "small waterflood",
		Grid: domain.GridParams{
			NX: 3, NY: 3, NZ: 1,
			DX: 100, DY: 100, DZ: 10,
			DepthTop: 2000,
			Porosity: 0.2,
			PermX:    100, PermY: 100, PermZ: 10,
		},
		Wells: []domain.WellConfig{
			{Name: "I1", Type: domain.WellInjector, I: 0, J: 0, Rate: 50, Phases: []domain.Phase{domain.PhaseWater}},
			{Name: "P1", Type: domain.WellProducer, I: 2, J: 2, BHP: 150, Phases: []domain.Phase{domain.PhaseOil}},
		},
		Fluid: domain.FluidProperties{
			OilDensity: 850, WaterDensity: 1020, GasDensity: 0.9,
			OilViscosity: 2, WaterViscosity: 0.5, GasViscosity: 0.02,
			InitialPressure: 200, BubblePointPressure: 100,
		},
		ReportTimes: []float64{30, 60, 90},
	}
}

// CompletedResult собирает завершённый результат с заданными давлениями по шагам.
// Насыщенности строятся из давления, чтобы поля различались.
func CompletedResult(backend string, times []float64, pressures [][]float64, wells ...[]domain.WellData) *domain.UnifiedResult {
	res := &domain.UnifiedResult{
		Metadata: domain.SimMetadata{Backend: backend, Converged: true},
		Status:   domain.StatusCompleted,
	}
	for i, t := range times {
		p := pressures[i]
		sw := make([]float64, len(p))
		so := make([]float64, len(p))
		for c := range p {
			sw[c] = 0.2 + 0.001*float64(c)
			so[c] = 1 - sw[c]
		}
		ts := domain.TimestepResult{
			Index:    i,
			TimeDays: t,
			Cells:    domain.CellData{Pressure: p, Sw: sw, So: so},
		}
		if i < len(wells) {
			ts.Wells = wells[i]
		}
		res.Timesteps = append(res.Timesteps, ts)
		res.Metadata.CellCount = len(p)
	}
	return res
}
