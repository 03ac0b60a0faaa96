// Package compare сравнивает два UnifiedResult: выравнивает шаги по времени,
// считает метрики по полям ячеек и по скважинам и классифицирует качество
// совпадения.
//
// Сравнение никогда не возвращает ошибку: неприменимые входы дают отчёт с
// качеством "invalid" и предупреждением.
package compare

// Quality класс совпадения результатов
type Quality string

const (
	QualityExcellent  Quality = "excellent"
	QualityGood       Quality = "good"
	QualityAcceptable Quality = "acceptable"
	QualityPoor       Quality = "poor"
	QualityInvalid    Quality = "invalid"
)

// Пороги NRMSE для классов качества
const (
	ExcellentThreshold  = 0.01
	GoodThreshold       = 0.05
	AcceptableThreshold = 0.10

	DefaultToleranceDays = 1.0
)

// Classify переводит NRMSE в класс качества
func Classify(nrmse float64) Quality {
	switch {
	case nrmse < ExcellentThreshold:
		return QualityExcellent
	case nrmse < GoodThreshold:
		return QualityGood
	case nrmse < AcceptableThreshold:
		return QualityAcceptable
	default:
		return QualityPoor
	}
}

// Options параметры сравнения
type Options struct {
	LabelA        string
	LabelB        string
	ToleranceDays float64
}

// FieldMetrics метрики одного поля ячеек на одном шаге
type FieldMetrics struct {
	Field         string  `json:"field"`
	Count         int     `json:"count"`
	NRMSE         float64 `json:"nrmse"`
	MAE           float64 `json:"mae"`
	MaxError      float64 `json:"max_error"`
	MaxErrorIndex int     `json:"max_error_index"`
	R2            float64 `json:"r2"`
}

// WellMetrics расхождения по скважине: модули разностей и относительные
// ошибки
type WellMetrics struct {
	Name           string  `json:"name"`
	BHPDelta       float64 `json:"bhp_delta"`
	OilRateDelta   float64 `json:"oil_rate_delta"`
	WaterRateDelta float64 `json:"water_rate_delta"`
	GasRateDelta   float64 `json:"gas_rate_delta"`
	BHPRelError    float64 `json:"bhp_rel_error"`
	OilRelError    float64 `json:"oil_rel_error"`
	WaterRelError  float64 `json:"water_rel_error"`
	GasRelError    float64 `json:"gas_rel_error"`
}

// MaxRelError наибольшая относительная ошибка по скважине
func (w WellMetrics) MaxRelError() float64 {
	return max(w.BHPRelError, w.OilRelError, w.WaterRelError, w.GasRelError)
}

// TimestepComparison сопоставленная пара шагов
type TimestepComparison struct {
	IndexA       int            `json:"index_a"`
	IndexB       int            `json:"index_b"`
	TimeA        float64        `json:"time_a"`
	TimeB        float64        `json:"time_b"`
	TimeMismatch float64        `json:"time_mismatch"`
	Fields       []FieldMetrics `json:"fields,omitempty"`
	Wells        []WellMetrics  `json:"wells,omitempty"`
}

// Field метрики поля по имени
func (t TimestepComparison) Field(name string) (FieldMetrics, bool) {
	for _, f := range t.Fields {
		if f.Field == name {
			return f, true
		}
	}
	return FieldMetrics{}, false
}

// FieldSummary свёртка поля по всем шагам
type FieldSummary struct {
	Field     string  `json:"field"`
	MeanNRMSE float64 `json:"mean_nrmse"`
	MeanMAE   float64 `json:"mean_mae"`
	MaxError  float64 `json:"max_error"`
	MeanR2    float64 `json:"mean_r2"`
}

// Report результат сравнения
type Report struct {
	LabelA             string               `json:"label_a"`
	LabelB             string               `json:"label_b"`
	ToleranceDays      float64              `json:"tolerance_days"`
	MatchQuality       Quality              `json:"match_quality"`
	OverallNRMSE       float64              `json:"overall_nrmse"`
	OverallMAE         float64              `json:"overall_mae"`
	OverallMaxError    float64              `json:"overall_max_error"`
	TimestepsA         int                  `json:"timesteps_a"`
	TimestepsB         int                  `json:"timesteps_b"`
	ComparedTimesteps  int                  `json:"compared_timesteps"`
	CellMetricsEnabled bool                 `json:"cell_metrics_enabled"`
	Timesteps          []TimestepComparison `json:"timesteps"`
	Fields             []FieldSummary       `json:"fields,omitempty"`
	Warnings           []string             `json:"warnings,omitempty"`
}

// Valid true, если сравнение состоялось
func (r *Report) Valid() bool {
	return r.MatchQuality != QualityInvalid
}
