package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"reservoir/pkg/apperror"
)

// GridParams декартова сетка с однородными по осям параметрами
type GridParams struct {
	NX       int     `json:"nx" yaml:"nx"`
	NY       int     `json:"ny" yaml:"ny"`
	NZ       int     `json:"nz" yaml:"nz"`
	DX       float64 `json:"dx" yaml:"dx"` // м
	DY       float64 `json:"dy" yaml:"dy"`
	DZ       float64 `json:"dz" yaml:"dz"`
	DepthTop float64 `json:"depth_top" yaml:"depth_top"` // м
	Porosity float64 `json:"porosity" yaml:"porosity"`
	PermX    float64 `json:"permeability_x" yaml:"permeability_x"` // мД
	PermY    float64 `json:"permeability_y" yaml:"permeability_y"`
	PermZ    float64 `json:"permeability_z" yaml:"permeability_z"`
}

// TotalCells возвращает число ячеек nx*ny*nz
func (g GridParams) TotalCells() int {
	return g.NX * g.NY * g.NZ
}

// CellIndex возвращает индекс ячейки (0-based) в порядке i быстрее j быстрее k
func (g GridParams) CellIndex(i, j, k int) int {
	return i + g.NX*(j+g.NY*k)
}

// Contains проверяет, что (i, j, k) лежит внутри сетки
func (g GridParams) Contains(i, j, k int) bool {
	return i >= 0 && i < g.NX && j >= 0 && j < g.NY && k >= 0 && k < g.NZ
}

func (g GridParams) validate(v *apperror.ValidationErrors) {
	dims := []struct {
		name string
		val  int
		max  int
	}{
		{"grid.nx", g.NX, MaxNX},
		{"grid.ny", g.NY, MaxNY},
		{"grid.nz", g.NZ, MaxNZ},
	}
	for _, d := range dims {
		if d.val < 1 || d.val > d.max {
			v.AddErrorWithField(apperror.CodeInvalidGrid,
				fmt.Sprintf("must be within [1, %d], got %d", d.max, d.val), d.name)
		}
	}

	positive := []struct {
		name string
		val  float64
	}{
		{"grid.dx", g.DX},
		{"grid.dy", g.DY},
		{"grid.dz", g.DZ},
		{"grid.depth_top", g.DepthTop},
		{"grid.permeability_x", g.PermX},
		{"grid.permeability_y", g.PermY},
		{"grid.permeability_z", g.PermZ},
	}
	for _, p := range positive {
		if !(p.val > 0) {
			v.AddErrorWithField(apperror.CodeInvalidGrid,
				fmt.Sprintf("must be positive, got %g", p.val), p.name)
		}
	}

	if !(g.Porosity > 0 && g.Porosity <= 1) {
		v.AddErrorWithField(apperror.CodeInvalidGrid,
			fmt.Sprintf("must be within (0, 1], got %g", g.Porosity), "grid.porosity")
	}
}

// WellType тип скважины
type WellType string

const (
	WellInjector WellType = "injector"
	WellProducer WellType = "producer"
)

// Phase фаза флюида
type Phase string

const (
	PhaseOil   Phase = "oil"
	PhaseWater Phase = "water"
	PhaseGas   Phase = "gas"
)

// WellConfig описание скважины. Индексы i, j, k 0-based.
// Rate и BHP нулевые, если цель не задана: при заданном Rate скважина
// управляется дебитом, а BHP служит ограничением.
type WellConfig struct {
	Name    string   `json:"name" yaml:"name"`
	Type    WellType `json:"type" yaml:"type"`
	I       int      `json:"i" yaml:"i"`
	J       int      `json:"j" yaml:"j"`
	KTop    int      `json:"k_top" yaml:"k_top"`
	KBottom int      `json:"k_bottom" yaml:"k_bottom"`
	Rate    float64  `json:"rate,omitempty" yaml:"rate,omitempty"` // м³/сут в поверхностных условиях
	BHP     float64  `json:"bhp,omitempty" yaml:"bhp,omitempty"`   // бар
	Phases  []Phase  `json:"phases,omitempty" yaml:"phases,omitempty"`
}

// PrimaryPhase фаза, к которой относится целевой дебит: первая из списка,
// для добывающей по умолчанию нефть, для нагнетательной вода.
func (w WellConfig) PrimaryPhase() Phase {
	if len(w.Phases) > 0 {
		return w.Phases[0]
	}
	if w.Type == WellInjector {
		return PhaseWater
	}
	return PhaseOil
}

// IsGasWell true для скважин, чья целевая фаза газ
func (w WellConfig) IsGasWell() bool {
	return w.PrimaryPhase() == PhaseGas
}

// HasRateTarget true, если скважина управляется дебитом
func (w WellConfig) HasRateTarget() bool {
	return w.Rate > 0
}

// HasBHPTarget true, если задано забойное давление
func (w WellConfig) HasBHPTarget() bool {
	return w.BHP > 0
}

func (w WellConfig) validate(idx int, v *apperror.ValidationErrors) {
	field := func(name string) string { return fmt.Sprintf("wells[%d].%s", idx, name) }

	name := strings.TrimSpace(w.Name)
	if name == "" {
		v.AddErrorWithField(apperror.CodeInvalidWell, "name is required", field("name"))
	} else if len(name) > MaxWellNameLen {
		v.AddErrorWithField(apperror.CodeInvalidWell,
			fmt.Sprintf("name longer than %d characters", MaxWellNameLen), field("name"))
	} else if r, bad := badWellNameRune(name); bad {
		v.AddErrorWithField(apperror.CodeInvalidWell,
			fmt.Sprintf("name contains %q, which a deck cannot quote", r), field("name"))
	}

	if w.Type != WellInjector && w.Type != WellProducer {
		v.AddErrorWithField(apperror.CodeInvalidWell,
			fmt.Sprintf("type must be injector or producer, got %q", w.Type), field("type"))
	}

	if w.I < 0 || w.J < 0 || w.KTop < 0 {
		v.AddErrorWithField(apperror.CodeInvalidWell, "grid location must be non-negative", field("location"))
	}
	if w.KBottom < w.KTop {
		v.AddErrorWithField(apperror.CodeInvalidWell,
			fmt.Sprintf("k_bottom %d is above k_top %d", w.KBottom, w.KTop), field("k_bottom"))
	}
	if w.Rate < 0 || w.BHP < 0 {
		v.AddErrorWithField(apperror.CodeInvalidWell, "targets must be non-negative", field("target"))
	}

	for _, p := range w.Phases {
		if p != PhaseOil && p != PhaseWater && p != PhaseGas {
			v.AddErrorWithField(apperror.CodeInvalidWell, fmt.Sprintf("unknown phase %q", p), field("phases"))
		}
	}
}

// FluidProperties свойства флюидов
type FluidProperties struct {
	OilDensity          float64 `json:"oil_density" yaml:"oil_density"` // кг/м³
	WaterDensity        float64 `json:"water_density" yaml:"water_density"`
	GasDensity          float64 `json:"gas_density" yaml:"gas_density"`
	OilViscosity        float64 `json:"oil_viscosity" yaml:"oil_viscosity"` // сП
	WaterViscosity      float64 `json:"water_viscosity" yaml:"water_viscosity"`
	GasViscosity        float64 `json:"gas_viscosity" yaml:"gas_viscosity"`
	InitialPressure     float64 `json:"initial_pressure" yaml:"initial_pressure"` // бар
	BubblePointPressure float64 `json:"bubble_point_pressure" yaml:"bubble_point_pressure"`
	InitialWaterSat     float64 `json:"initial_water_saturation,omitempty" yaml:"initial_water_saturation,omitempty"`
}

func (f FluidProperties) validate(v *apperror.ValidationErrors) {
	checks := []struct {
		name string
		val  float64
	}{
		{"fluid.oil_density", f.OilDensity},
		{"fluid.water_density", f.WaterDensity},
		{"fluid.gas_density", f.GasDensity},
		{"fluid.oil_viscosity", f.OilViscosity},
		{"fluid.water_viscosity", f.WaterViscosity},
		{"fluid.gas_viscosity", f.GasViscosity},
		{"fluid.initial_pressure", f.InitialPressure},
		{"fluid.bubble_point_pressure", f.BubblePointPressure},
	}
	for _, c := range checks {
		if !(c.val > 0) {
			v.AddErrorWithField(apperror.CodeInvalidFluid,
				fmt.Sprintf("must be positive, got %g", c.val), c.name)
		}
	}
	if f.InitialWaterSat < 0 || f.InitialWaterSat >= 1 {
		v.AddErrorWithField(apperror.CodeInvalidFluid,
			fmt.Sprintf("must be within [0, 1), got %g", f.InitialWaterSat), "fluid.initial_water_saturation")
	}
}

// SimRequest каноническое описание расчёта. После передачи в бэкенд не изменяется.
type SimRequest struct {
	Title       string            `json:"title,omitempty" yaml:"title,omitempty"`
	Grid        GridParams        `json:"grid" yaml:"grid"`
	Wells       []WellConfig      `json:"wells" yaml:"wells"`
	Fluid       FluidProperties   `json:"fluid" yaml:"fluid"`
	ReportTimes []float64         `json:"report_times" yaml:"report_times"` // накопленные сутки
	StartDate   string            `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	Backend     string            `json:"backend,omitempty" yaml:"backend,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Validate проверяет поля запроса независимо от ограничений бэкенда
func (r *SimRequest) Validate() error {
	return r.ValidationErrors().Err()
}

// ValidationErrors собирает все нарушения полей запроса
func (r *SimRequest) ValidationErrors() *apperror.ValidationErrors {
	v := apperror.NewValidationErrors()
	if r == nil {
		v.Add(apperror.ErrNilRequest)
		return v
	}

	r.Grid.validate(v)
	r.Fluid.validate(v)

	if len(r.Wells) == 0 {
		v.Add(apperror.ErrNoWells)
	}
	seen := make(map[string]bool, len(r.Wells))
	for i, w := range r.Wells {
		w.validate(i, v)
		key := strings.ToUpper(w.Name)
		if seen[key] {
			v.AddErrorWithField(apperror.CodeInvalidWell,
				fmt.Sprintf("duplicate well name %q", w.Name), fmt.Sprintf("wells[%d].name", i))
		}
		seen[key] = true
	}

	for _, msg := range ScheduleErrors(r.ReportTimes) {
		v.AddErrorWithField(apperror.CodeInvalidSchedule, msg, "report_times")
	}

	if r.StartDate != "" {
		if _, err := time.Parse(time.DateOnly, r.StartDate); err != nil {
			v.AddErrorWithField(apperror.CodeInvalidSchedule,
				fmt.Sprintf("start_date must be YYYY-MM-DD, got %q", r.StartDate), "start_date")
		}
	}

	return v
}

// ScheduleErrors проверяет список накопленных времён: непустой,
// положительный и строго возрастающий.
func ScheduleErrors(times []float64) []string {
	if len(times) == 0 {
		return []string{"at least one report time is required"}
	}
	var errs []string
	prev := 0.0
	for i, t := range times {
		if !(t > 0) {
			errs = append(errs, fmt.Sprintf("report time %d must be positive, got %g", i, t))
		} else if t <= prev {
			errs = append(errs, fmt.Sprintf("report times must be ascending: %g follows %g", t, prev))
		}
		if t > prev {
			prev = t
		}
	}
	return errs
}

// Timesteps возвращает приращения между отчётными временами
func (r *SimRequest) Timesteps() []float64 {
	steps := make([]float64, len(r.ReportTimes))
	prev := 0.0
	for i, t := range r.ReportTimes {
		steps[i] = t - prev
		prev = t
	}
	return steps
}

// Start возвращает дату начала расчёта, по умолчанию DefaultStartDate
func (r *SimRequest) Start() time.Time {
	if r.StartDate != "" {
		if t, err := time.Parse(time.DateOnly, r.StartDate); err == nil {
			return t
		}
	}
	t, _ := time.Parse(time.DateOnly, DefaultStartDate)
	return t
}

// HasGasWells true, если хотя бы одна скважина работает по газу
func (r *SimRequest) HasGasWells() bool {
	return slices.ContainsFunc(r.Wells, WellConfig.IsGasWell)
}

// Well ищет скважину по имени без учёта регистра
func (r *SimRequest) Well(name string) (WellConfig, bool) {
	for _, w := range r.Wells {
		if strings.EqualFold(w.Name, name) {
			return w, true
		}
	}
	return WellConfig{}, false
}

// Clone возвращает глубокую копию запроса
func (r *SimRequest) Clone() *SimRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Wells = make([]WellConfig, len(r.Wells))
	for i, w := range r.Wells {
		w.Phases = slices.Clone(w.Phases)
		c.Wells[i] = w
	}
	c.ReportTimes = slices.Clone(r.ReportTimes)
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// badWellNameRune ищет символ, который ломает строку в кавычках в деке:
// экранирования кавычки в формате нет, '/' закрывает запись.
func badWellNameRune(name string) (rune, bool) {
	for _, r := range name {
		if r == '\'' || r == '/' || unicode.IsControl(r) {
			return r, true
		}
	}
	return 0, false
}
