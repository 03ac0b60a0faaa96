package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Стандартные ключи атрибутов
const (
	// Задача
	AttrJobID      = "job.id"
	AttrJobStatus  = "job.status"
	AttrJobCached  = "job.cached"
	AttrBackend    = "backend.name"
	AttrBackendVer = "backend.version"

	// Сетка и расписание
	AttrGridNX        = "grid.nx"
	AttrGridNY        = "grid.ny"
	AttrGridNZ        = "grid.nz"
	AttrGridCells     = "grid.cells"
	AttrWells         = "request.wells"
	AttrTimesteps     = "request.timesteps"
	AttrResultSteps   = "result.timesteps"
	AttrResultWarning = "result.warnings"

	// Колода
	AttrDeckKeywords    = "deck.keywords"
	AttrDeckErrors      = "deck.errors"
	AttrDeckUnsupported = "deck.unsupported"

	// Сравнение
	AttrCompareQuality  = "compare.quality"
	AttrCompareNRMSE    = "compare.nrmse"
	AttrCompareMatched  = "compare.matched_timesteps"
	AttrCompareCellMode = "compare.cell_metrics"
)

// JobAttributes возвращает атрибуты задачи
func JobAttributes(id, backend string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrJobID, id),
		attribute.String(AttrBackend, backend),
	}
}

// GridAttributes возвращает атрибуты сетки запроса
func GridAttributes(nx, ny, nz, wells, timesteps int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrGridNX, nx),
		attribute.Int(AttrGridNY, ny),
		attribute.Int(AttrGridNZ, nz),
		attribute.Int(AttrGridCells, nx*ny*nz),
		attribute.Int(AttrWells, wells),
		attribute.Int(AttrTimesteps, timesteps),
	}
}

// DeckAttributes возвращает атрибуты разбора колоды
func DeckAttributes(keywords, errorsCount, unsupported int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrDeckKeywords, keywords),
		attribute.Int(AttrDeckErrors, errorsCount),
		attribute.Int(AttrDeckUnsupported, unsupported),
	}
}

// CompareAttributes возвращает атрибуты сравнения
func CompareAttributes(quality string, nrmse float64, matched int, cellMetrics bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCompareQuality, quality),
		attribute.Float64(AttrCompareNRMSE, nrmse),
		attribute.Int(AttrCompareMatched, matched),
		attribute.Bool(AttrCompareCellMode, cellMetrics),
	}
}
