package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// RequestHash вычисляет канонический хеш запроса для указанного бэкенда.
// Title и Metadata не влияют на расчёт и в хеш не входят.
func RequestHash(req *SimRequest, backend string) string {
	if req == nil {
		return ""
	}

	canonical := struct {
		Backend     string          `json:"b"`
		Grid        GridParams      `json:"g"`
		Wells       []WellConfig    `json:"w"`
		Fluid       FluidProperties `json:"f"`
		ReportTimes []float64       `json:"t"`
		StartDate   string          `json:"s"`
	}{
		Backend:     strings.ToLower(backend),
		Grid:        req.Grid,
		Wells:       req.Wells,
		Fluid:       req.Fluid,
		ReportTimes: req.ReportTimes,
		StartDate:   req.StartDate,
	}

	// Маршалинг структуры без map детерминирован; ошибка невозможна для
	// конечных чисел, NaN отсекается валидацией
	data, err := json.Marshal(canonical)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}
