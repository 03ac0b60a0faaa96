// Package report экспортирует отчёт сравнения в JSON, CSV, Markdown, HTML,
// Excel и PDF.
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reservoir/pkg/apperror"
	"reservoir/pkg/compare"
	"reservoir/pkg/config"
)

// Format формат экспорта
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatXLSX     Format = "xlsx"
	FormatPDF      Format = "pdf"
)

// Formats все поддерживаемые форматы
func Formats() []Format {
	return []Format{FormatJSON, FormatCSV, FormatMarkdown, FormatHTML, FormatXLSX, FormatPDF}
}

// ParseFormat разбирает имя формата или расширение файла
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	case "pdf":
		return FormatPDF, nil
	}
	return "", apperror.Newf(apperror.CodeFormatUnsupported, "unsupported report format %q", s)
}

// Extension расширение файла для формата
func (f Format) Extension() string {
	if f == FormatMarkdown {
		return ".md"
	}
	return "." + string(f)
}

// Options оформление отчёта
type Options struct {
	Title       string
	Author      string
	Description string
	// IncludeTimesteps добавляет таблицы по каждому шагу
	IncludeTimesteps bool
	GeneratedAt      time.Time
}

// OptionsFromConfig опции из секции report
func OptionsFromConfig(cfg config.ReportConfig) Options {
	return Options{Author: cfg.Author, IncludeTimesteps: true}
}

// Data вход генератора
type Data struct {
	Report  *compare.Report
	Options Options
}

// Generator генератор отчёта одного формата
type Generator interface {
	Generate(ctx context.Context, data *Data) ([]byte, error)
	Format() Format
}

// New генератор для формата
func New(f Format) (Generator, error) {
	switch f {
	case FormatJSON:
		return NewJSONGenerator(), nil
	case FormatCSV:
		return NewCSVGenerator(), nil
	case FormatMarkdown:
		return NewMarkdownGenerator(), nil
	case FormatHTML:
		return NewHTMLGenerator(), nil
	case FormatXLSX:
		return NewExcelGenerator(), nil
	case FormatPDF:
		return NewPDFGenerator(), nil
	}
	return nil, apperror.Newf(apperror.CodeFormatUnsupported, "unsupported report format %q", f)
}

// Export генерирует отчёт и пишет его в w
func Export(ctx context.Context, f Format, data *Data, w io.Writer) error {
	if data == nil || data.Report == nil {
		return apperror.New(apperror.CodeNilInput, "comparison report is nil")
	}
	g, err := New(f)
	if err != nil {
		return err
	}
	out, err := g.Generate(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to generate %s report: %w", f, err)
	}
	_, err = w.Write(out)
	return err
}

// ExportFile пишет отчёт в файл; формат берётся из расширения, если f пуст
func ExportFile(ctx context.Context, path string, f Format, data *Data) error {
	if f == "" {
		var err error
		if f, err = ParseFormat(filepath.Ext(path)); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := Export(ctx, f, data, file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// BaseGenerator общие утилиты генераторов
type BaseGenerator struct{}

// GetTitle заголовок отчёта
func (b *BaseGenerator) GetTitle(data *Data) string {
	if data.Options.Title != "" {
		return data.Options.Title
	}
	return fmt.Sprintf("Comparison: %s vs %s", data.Report.LabelA, data.Report.LabelB)
}

// GetAuthor автор отчёта
func (b *BaseGenerator) GetAuthor(data *Data) string {
	if data.Options.Author != "" {
		return data.Options.Author
	}
	return "simctl"
}

// GeneratedAt время генерации
func (b *BaseGenerator) GeneratedAt(data *Data) time.Time {
	if !data.Options.GeneratedAt.IsZero() {
		return data.Options.GeneratedAt
	}
	return time.Now().UTC()
}

// FormatFloat форматирует число с заданной точностью
func (b *BaseGenerator) FormatFloat(v float64, precision int) string {
	return fmt.Sprintf("%.*f", precision, v)
}

// FormatPercent форматирует долю как процент
func (b *BaseGenerator) FormatPercent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

// FormatTimestamp форматирует время
func (b *BaseGenerator) FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// summaryRows пары ключ-значение сводки, общие для табличных форматов
func (b *BaseGenerator) summaryRows(r *compare.Report) [][2]string {
	return [][2]string{
		{"Label A", r.LabelA},
		{"Label B", r.LabelB},
		{"Match quality", string(r.MatchQuality)},
		{"Overall NRMSE", b.FormatFloat(r.OverallNRMSE, 6)},
		{"Overall MAE", b.FormatFloat(r.OverallMAE, 6)},
		{"Overall max error", b.FormatFloat(r.OverallMaxError, 6)},
		{"Timesteps A", fmt.Sprintf("%d", r.TimestepsA)},
		{"Timesteps B", fmt.Sprintf("%d", r.TimestepsB)},
		{"Compared timesteps", fmt.Sprintf("%d", r.ComparedTimesteps)},
		{"Tolerance (days)", b.FormatFloat(r.ToleranceDays, 3)},
		{"Cell metrics", fmt.Sprintf("%v", r.CellMetricsEnabled)},
	}
}

// ColName преобразует индекс колонки в буквенное обозначение (0 -> A, 26 -> AA)
func ColName(index int) string {
	result := ""
	for {
		result = string(rune('A'+index%26)) + result
		index = index/26 - 1
		if index < 0 {
			break
		}
	}
	return result
}

// CellByIndex адрес ячейки по индексу колонки и номеру строки
func CellByIndex(colIndex, row int) string {
	return fmt.Sprintf("%s%d", ColName(colIndex), row)
}
