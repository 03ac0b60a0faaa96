package deck

import (
	"fmt"
	"slices"
	"time"

	"reservoir/pkg/apperror"
	"reservoir/pkg/domain"
)

// ParseResult промежуточный результат разбора колоды. Значения хранятся в
// единицах колоды без пересчёта; индексы скважин 1-based, как в тексте.
type ParseResult struct {
	Path     string
	Title    string
	Units    domain.UnitSystem
	Phases   []domain.Phase
	Sections []string
	Start    time.Time

	Dimens    [3]int
	HasDimens bool

	Equil   *EquilRecord
	Density *DensityRecord
	PVTW    *PVTWRecord
	Rock    *RockRecord
	PVDO    []PVTRow
	PVDG    []PVTRow

	// Массивы сетки: DX, DY, DZ, DXV, DYV, DZV, TOPS, PORO, PERMX, PERMY, PERMZ, NTG
	Arrays map[string][]float64

	WellSpecs   []WellSpec
	Completions []Completion
	Producers   []ProducerControl
	Injectors   []InjectorControl
	Schedule    []ScheduleStep

	SummaryVectors []string
	Includes       []string
	Unsupported    []string
	Warnings       []string
	Errors         []*apperror.Error
}

func newParseResult(path string) *ParseResult {
	return &ParseResult{
		Path:   path,
		Units:  domain.UnitsMetric,
		Arrays: make(map[string][]float64),
	}
}

// EquilRecord первая запись EQUIL
type EquilRecord struct {
	DatumDepth    float64
	DatumPressure float64
	WOCDepth      float64
	GOCDepth      float64
}

// DensityRecord плотности в поверхностных условиях
type DensityRecord struct {
	Oil   float64
	Water float64
	Gas   float64
}

// PVTWRecord свойства воды
type PVTWRecord struct {
	RefPressure   float64
	Bw            float64
	Compress      float64
	Viscosity     float64
	Viscosibility float64
}

// RockRecord сжимаемость породы
type RockRecord struct {
	RefPressure float64
	Compress    float64
}

// PVTRow строка таблицы PVDO/PVDG: давление, объёмный коэффициент, вязкость
type PVTRow struct {
	Pressure  float64
	FVF       float64
	Viscosity float64
}

// WellSpec запись WELSPECS
type WellSpec struct {
	Name     string
	Group    string
	I, J     int
	RefDepth float64
	Phase    string
	Line     int
}

// Completion запись COMPDAT. Нулевые I/J означают положение устья из WELSPECS.
type Completion struct {
	Well   string
	I, J   int
	K1, K2 int
	Status string
}

// ProducerControl запись WCONPROD. Нули означают умолчание.
type ProducerControl struct {
	Well   string
	Status string
	Mode   string
	ORAT   float64
	WRAT   float64
	GRAT   float64
	LRAT   float64
	RESV   float64
	BHP    float64
}

// InjectorControl запись WCONINJE
type InjectorControl struct {
	Well   string
	Type   string
	Status string
	Mode   string
	Rate   float64
	RESV   float64
	BHP    float64
}

// ScheduleStep шаг расписания: приращение из TSTEP или дата из DATES
type ScheduleStep struct {
	Days float64   // для TSTEP
	Date time.Time // для DATES
}

// IsDate true для шага, заданного датой
func (s ScheduleStep) IsDate() bool { return !s.Date.IsZero() }

// HasPhase проверяет, активна ли фаза
func (r *ParseResult) HasPhase(p domain.Phase) bool {
	return slices.Contains(r.Phases, p)
}

func (r *ParseResult) addPhase(p domain.Phase) {
	if !r.HasPhase(p) {
		r.Phases = append(r.Phases, p)
	}
}

func (r *ParseResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *ParseResult) addError(err *apperror.Error) {
	r.Errors = append(r.Errors, err)
	r.Warnings = append(r.Warnings, err.Message)
}

func (r *ParseResult) addUnsupported(tok Token) {
	if !slices.Contains(r.Unsupported, tok.Text) {
		r.Unsupported = append(r.Unsupported, tok.Text)
	}
	r.warnf("unsupported keyword %s at line %d skipped", tok.Text, tok.Line)
}

// addIndentedKeyword отмечает слово в верхнем регистре одно на строке не с
// первой колонки. Оно остаётся данными записи.
func (r *ParseResult) addIndentedKeyword(tok Token) {
	if !slices.Contains(r.Unsupported, tok.Text) {
		r.Unsupported = append(r.Unsupported, tok.Text)
	}
	r.warnf("%s at line %d column %d looks like a keyword but is indented; read as data of the previous keyword",
		tok.Text, tok.Line, tok.Column)
}

// OK true, если разбор прошёл без синтаксических ошибок
func (r *ParseResult) OK() bool {
	return len(r.Errors) == 0
}
