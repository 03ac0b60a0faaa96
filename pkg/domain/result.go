package domain

import (
	"slices"
	"strings"
)

// Status статус расчёта или задачи
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal true для completed и failed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CellData параллельные массивы по ячейкам в порядке GridParams.CellIndex.
// Любой массив может быть пустым, если бэкенд его не заполняет.
type CellData struct {
	Pressure []float64 `json:"pressure,omitempty"` // бар
	Sw       []float64 `json:"sw,omitempty"`
	So       []float64 `json:"so,omitempty"`
	Sg       []float64 `json:"sg,omitempty"`
}

// Field возвращает массив по имени поля (pressure, sw, so, sg)
func (c CellData) Field(name string) []float64 {
	switch strings.ToLower(name) {
	case FieldPressure:
		return c.Pressure
	case FieldSw:
		return c.Sw
	case FieldSo:
		return c.So
	case FieldSg:
		return c.Sg
	}
	return nil
}

// CellCount возвращает длину самого длинного массива
func (c CellData) CellCount() int {
	return max(len(c.Pressure), len(c.Sw), len(c.So), len(c.Sg))
}

// Имена полей ячеек
const (
	FieldPressure = "pressure"
	FieldSw       = "sw"
	FieldSo       = "so"
	FieldSg       = "sg"
)

// CellFields поля ячеек в порядке сравнения
var CellFields = []string{FieldPressure, FieldSw, FieldSo, FieldSg}

// WellData показатели скважины на отчётный шаг
type WellData struct {
	Name      string  `json:"name"`
	BHP       float64 `json:"bhp"`        // бар
	OilRate   float64 `json:"oil_rate"`   // м³/сут
	WaterRate float64 `json:"water_rate"` // м³/сут
	GasRate   float64 `json:"gas_rate"`   // м³/сут
}

// TimestepResult результаты на одно отчётное время
type TimestepResult struct {
	Index    int        `json:"index"`
	TimeDays float64    `json:"time_days"`
	Cells    CellData   `json:"cells"`
	Wells    []WellData `json:"wells,omitempty"`
}

// Well ищет данные скважины по имени без учёта регистра
func (t TimestepResult) Well(name string) (WellData, bool) {
	for _, w := range t.Wells {
		if strings.EqualFold(w.Name, name) {
			return w, true
		}
	}
	return WellData{}, false
}

// SimMetadata сведения о расчёте
type SimMetadata struct {
	Backend         string   `json:"backend"`
	BackendVersion  string   `json:"backend_version,omitempty"`
	CellCount       int      `json:"cell_count"`
	WallTimeSeconds float64  `json:"wall_time_seconds"`
	Converged       bool     `json:"converged"`
	Warnings        []string `json:"warnings,omitempty"`
}

// UnifiedResult результат расчёта, не зависящий от бэкенда.
// Создаётся один раз в ParseResult бэкенда и далее не изменяется.
type UnifiedResult struct {
	Request   *SimRequest      `json:"request,omitempty"`
	Timesteps []TimestepResult `json:"timesteps"`
	Metadata  SimMetadata      `json:"metadata"`
	Status    Status           `json:"status"`
}

// NewFailedResult создаёт результат со статусом failed и предупреждениями
func NewFailedResult(req *SimRequest, backend, version string, warnings ...string) *UnifiedResult {
	cells := 0
	if req != nil {
		cells = req.Grid.TotalCells()
	}
	return &UnifiedResult{
		Request:   req,
		Timesteps: []TimestepResult{},
		Metadata: SimMetadata{
			Backend:        backend,
			BackendVersion: version,
			CellCount:      cells,
			Warnings:       slices.Clone(warnings),
		},
		Status: StatusFailed,
	}
}

// Times возвращает времена отчётных шагов
func (r *UnifiedResult) Times() []float64 {
	times := make([]float64, len(r.Timesteps))
	for i, ts := range r.Timesteps {
		times[i] = ts.TimeDays
	}
	return times
}

// Succeeded true для завершённого расчёта с хотя бы одним шагом
func (r *UnifiedResult) Succeeded() bool {
	return r != nil && r.Status == StatusCompleted && len(r.Timesteps) > 0
}
