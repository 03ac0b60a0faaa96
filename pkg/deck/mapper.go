package deck

import (
	"fmt"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"reservoir/pkg/apperror"
	"reservoir/pkg/domain"
)

// converter пересчитывает величины колоды в канонические единицы
type converter struct {
	field bool
}

func (c converter) length(v float64) float64 {
	if c.field {
		return domain.FeetToM(v)
	}
	return v
}

func (c converter) pressure(v float64) float64 {
	if c.field {
		return domain.PsiToBar(v)
	}
	return v
}

// liquidRate STB/сут -> м³/сут
func (c converter) liquidRate(v float64) float64 {
	if c.field {
		return domain.StbToM3(v)
	}
	return v
}

// gasRate Mscf/сут -> м³/сут
func (c converter) gasRate(v float64) float64 {
	if c.field {
		return domain.MscfToM3(v)
	}
	return v
}

func (c converter) density(v float64) float64 {
	if c.field {
		return domain.LbFt3ToKgM3(v)
	}
	return v
}

// ToSimRequest строит канонический запрос из результата разбора.
// Неоднородные массивы сетки сводятся к среднему по оси; индексы скважин
// переводятся в 0-based; скважина без управляющей записи становится
// добывающей без цели.
func ToSimRequest(res *ParseResult) (*domain.SimRequest, error) {
	if res == nil {
		return nil, apperror.New(apperror.CodeNilInput, "parse result is nil")
	}
	if !res.HasDimens {
		return nil, apperror.New(apperror.CodeInvalidGrid, "deck has no DIMENS keyword")
	}

	conv := converter{field: res.Units == domain.UnitsField}

	req := &domain.SimRequest{
		Title:    res.Title,
		Grid:     mapGrid(res, conv),
		Metadata: map[string]string{"units": string(res.Units)},
	}
	if res.Path != "" {
		req.Metadata["source"] = res.Path
	}
	if len(res.Unsupported) > 0 {
		req.Metadata["unsupported_keywords"] = strings.Join(res.Unsupported, ",")
	}

	if averaged := averagedArrays(res); len(averaged) > 0 {
		req.Metadata["averaged_arrays"] = strings.Join(averaged, ",")
	}

	req.Wells = mapWells(res, conv, req.Grid.NZ)
	req.Fluid = mapFluid(res, conv)

	start := res.Start
	if !start.IsZero() {
		req.StartDate = start.Format(time.DateOnly)
	} else {
		start, _ = time.Parse(time.DateOnly, domain.DefaultStartDate)
	}
	req.ReportTimes = reportTimes(res.Schedule, start)

	return req, nil
}

func mapGrid(res *ParseResult, conv converter) domain.GridParams {
	g := domain.GridParams{NX: res.Dimens[0], NY: res.Dimens[1], NZ: res.Dimens[2]}

	g.DX = conv.length(arrayMean(res, "DX", "DXV"))
	g.DY = conv.length(arrayMean(res, "DY", "DYV"))
	g.DZ = conv.length(arrayMean(res, "DZ", "DZV"))
	g.DepthTop = conv.length(arrayMean(res, "TOPS"))
	g.Porosity = arrayMean(res, "PORO")

	g.PermX = arrayMean(res, "PERMX")
	g.PermY = arrayMean(res, "PERMY")
	g.PermZ = arrayMean(res, "PERMZ")
	if g.PermY == 0 {
		g.PermY = g.PermX
	}
	if g.PermZ == 0 {
		g.PermZ = g.PermX
	}
	return g
}

// arrayMean среднее первого найденного массива, 0 если ни одного нет
func arrayMean(res *ParseResult, names ...string) float64 {
	for _, name := range names {
		if values := res.Arrays[name]; len(values) > 0 {
			return stat.Mean(values, nil)
		}
	}
	return 0
}

// averagedArrays имена неоднородных массивов, потерявших разброс при сведении к среднему
func averagedArrays(res *ParseResult) []string {
	var out []string
	for _, name := range []string{"DX", "DXV", "DY", "DYV", "DZ", "DZV", "TOPS", "PORO", "PERMX", "PERMY", "PERMZ"} {
		values := res.Arrays[name]
		if len(values) < 2 {
			continue
		}
		lo, hi := floats.Min(values), floats.Max(values)
		if hi-lo > 1e-12*math.Max(1, math.Abs(hi)) {
			out = append(out, name)
		}
	}
	return out
}

func mapWells(res *ParseResult, conv converter, nz int) []domain.WellConfig {
	wells := make([]domain.WellConfig, 0, len(res.WellSpecs))
	for _, spec := range res.WellSpecs {
		w := domain.WellConfig{
			Name: spec.Name,
			Type: domain.WellProducer,
			I:    spec.I - 1,
			J:    spec.J - 1,
		}
		w.KTop, w.KBottom = completionRange(res.Completions, spec.Name, nz)

		if inj, ok := lastInjector(res.Injectors, spec.Name); ok {
			w.Type = domain.WellInjector
			phase := phaseFromDeck(inj.Type, domain.PhaseWater)
			w.Phases = []domain.Phase{phase}
			if inj.Mode != "BHP" {
				w.Rate = rateFor(conv, phase, inj.Rate)
			}
			w.BHP = conv.pressure(inj.BHP)
		} else if prod, ok := lastProducer(res.Producers, spec.Name); ok {
			phase, rate := producerTarget(prod, phaseFromDeck(spec.Phase, domain.PhaseOil))
			w.Phases = []domain.Phase{phase}
			w.Rate = rateFor(conv, phase, rate)
			w.BHP = conv.pressure(prod.BHP)
		} else {
			w.Phases = []domain.Phase{phaseFromDeck(spec.Phase, domain.PhaseOil)}
		}
		wells = append(wells, w)
	}
	return wells
}

// completionRange 0-based интервал перфорации по всем записям COMPDAT
// скважины. Без записей скважина вскрывает весь разрез.
func completionRange(comps []Completion, well string, nz int) (int, int) {
	top, bottom := math.MaxInt, -1
	for _, c := range comps {
		if !strings.EqualFold(c.Well, well) {
			continue
		}
		k1, k2 := c.K1, c.K2
		if k1 <= 0 {
			k1 = 1
		}
		if k2 < k1 {
			k2 = k1
		}
		top = min(top, k1-1)
		bottom = max(bottom, k2-1)
	}
	if bottom < 0 {
		return 0, max(nz-1, 0)
	}
	return top, bottom
}

// Управляющие записи в SCHEDULE переопределяют предыдущие, берётся последняя
func lastInjector(recs []InjectorControl, well string) (InjectorControl, bool) {
	for i := len(recs) - 1; i >= 0; i-- {
		if strings.EqualFold(recs[i].Well, well) {
			return recs[i], true
		}
	}
	return InjectorControl{}, false
}

func lastProducer(recs []ProducerControl, well string) (ProducerControl, bool) {
	for i := len(recs) - 1; i >= 0; i-- {
		if strings.EqualFold(recs[i].Well, well) {
			return recs[i], true
		}
	}
	return ProducerControl{}, false
}

// producerTarget выбирает фазу и дебит по режиму WCONPROD
func producerTarget(p ProducerControl, preferred domain.Phase) (domain.Phase, float64) {
	switch p.Mode {
	case "ORAT":
		return domain.PhaseOil, p.ORAT
	case "WRAT":
		return domain.PhaseWater, p.WRAT
	case "GRAT":
		return domain.PhaseGas, p.GRAT
	case "LRAT":
		return domain.PhaseOil, p.LRAT
	case "BHP", "RESV":
		return preferred, 0
	}
	// режим не указан: первый заданный дебит
	switch {
	case p.ORAT > 0:
		return domain.PhaseOil, p.ORAT
	case p.WRAT > 0:
		return domain.PhaseWater, p.WRAT
	case p.GRAT > 0:
		return domain.PhaseGas, p.GRAT
	case p.LRAT > 0:
		return domain.PhaseOil, p.LRAT
	}
	return preferred, 0
}

func rateFor(conv converter, phase domain.Phase, rate float64) float64 {
	if phase == domain.PhaseGas {
		return conv.gasRate(rate)
	}
	return conv.liquidRate(rate)
}

func phaseFromDeck(s string, def domain.Phase) domain.Phase {
	switch strings.ToUpper(s) {
	case "OIL", "LIQ":
		return domain.PhaseOil
	case "WATER", "WAT":
		return domain.PhaseWater
	case "GAS":
		return domain.PhaseGas
	}
	return def
}

func mapFluid(res *ParseResult, conv converter) domain.FluidProperties {
	f := domain.FluidProperties{
		OilDensity:      domain.DefaultOilDensity,
		WaterDensity:    domain.DefaultWaterDensity,
		GasDensity:      domain.DefaultGasDensity,
		OilViscosity:    domain.DefaultOilViscosity,
		WaterViscosity:  domain.DefaultWaterViscosity,
		GasViscosity:    domain.DefaultGasViscosity,
		InitialWaterSat: domain.DefaultInitialSw,
	}

	if d := res.Density; d != nil {
		f.OilDensity = conv.density(d.Oil)
		f.WaterDensity = conv.density(d.Water)
		f.GasDensity = conv.density(d.Gas)
	}
	if w := res.PVTW; w != nil && w.Viscosity > 0 {
		f.WaterViscosity = w.Viscosity
	}
	if len(res.PVDO) > 0 && res.PVDO[0].Viscosity > 0 {
		f.OilViscosity = res.PVDO[0].Viscosity
	}
	if len(res.PVDG) > 0 && res.PVDG[0].Viscosity > 0 {
		f.GasViscosity = res.PVDG[0].Viscosity
	}
	if e := res.Equil; e != nil {
		f.InitialPressure = conv.pressure(e.DatumPressure)
	}

	// Для мёртвой нефти таблица PVDO начинается с давления насыщения
	f.BubblePointPressure = f.InitialPressure
	if len(res.PVDO) > 0 && res.PVDO[0].Pressure > 0 {
		f.BubblePointPressure = conv.pressure(res.PVDO[0].Pressure)
	}
	return f
}

// reportTimes переводит шаги расписания в накопленные сутки от даты начала
func reportTimes(steps []ScheduleStep, start time.Time) []float64 {
	times := make([]float64, 0, len(steps))
	elapsed := 0.0
	for _, s := range steps {
		if s.IsDate() {
			elapsed = s.Date.Sub(start).Hours() / 24
		} else {
			elapsed += s.Days
		}
		times = append(times, elapsed)
	}
	return times
}

// ParseRequestFile разбирает колоду с диска и отображает её в запрос
func ParseRequestFile(path string, opts ...Option) (*domain.SimRequest, *ParseResult, error) {
	res, err := NewParser(opts...).ParseFile(path)
	if err != nil {
		return nil, nil, err
	}
	req, err := ToSimRequest(res)
	if err != nil {
		return nil, res, fmt.Errorf("map deck %s: %w", path, err)
	}
	return req, res, nil
}
