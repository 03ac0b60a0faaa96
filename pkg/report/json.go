package report

import (
	"context"
	"encoding/json"

	"reservoir/pkg/compare"
)

// JSONGenerator генератор JSON отчётов
type JSONGenerator struct {
	BaseGenerator
}

// NewJSONGenerator создаёт новый генератор
func NewJSONGenerator() *JSONGenerator {
	return &JSONGenerator{}
}

// Format возвращает формат генератора
func (g *JSONGenerator) Format() Format {
	return FormatJSON
}

// JSONReport структура JSON отчёта
type JSONReport struct {
	Metadata   JSONMetadata    `json:"metadata"`
	Comparison *compare.Report `json:"comparison"`
}

type JSONMetadata struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description,omitempty"`
	GeneratedAt string `json:"generated_at"`
}

// Generate генерирует JSON отчёт. Без IncludeTimesteps шаги опускаются.
func (g *JSONGenerator) Generate(_ context.Context, data *Data) ([]byte, error) {
	rep := *data.Report
	if !data.Options.IncludeTimesteps {
		rep.Timesteps = nil
	}
	out := JSONReport{
		Metadata: JSONMetadata{
			Title:       g.GetTitle(data),
			Author:      g.GetAuthor(data),
			Description: data.Options.Description,
			GeneratedAt: g.GeneratedAt(data).Format("2006-01-02T15:04:05Z07:00"),
		},
		Comparison: &rep,
	}
	return json.MarshalIndent(out, "", "  ")
}
