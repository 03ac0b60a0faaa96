package report

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ExcelGenerator генератор Excel отчётов
type ExcelGenerator struct {
	BaseGenerator
}

// NewExcelGenerator создаёт новый генератор
func NewExcelGenerator() *ExcelGenerator {
	return &ExcelGenerator{}
}

// Format возвращает формат генератора
func (g *ExcelGenerator) Format() Format {
	return FormatXLSX
}

// Имена листов
const (
	SheetSummary   = "Summary"
	SheetFields    = "Fields"
	SheetTimesteps = "Timesteps"
	SheetWells     = "Wells"
	SheetWarnings  = "Warnings"
)

// sheetWriter пишет строки подряд и запоминает первую ошибку
type sheetWriter struct {
	f     *excelize.File
	sheet string
	row   int
	err   error
}

func (w *sheetWriter) set(col int, v any) {
	if w.err != nil {
		return
	}
	w.err = w.f.SetCellValue(w.sheet, CellByIndex(col, w.row), v)
}

func (w *sheetWriter) line(values ...any) {
	for i, v := range values {
		w.set(i, v)
	}
	w.row++
}

func (w *sheetWriter) style(cols int, style int) {
	if w.err != nil || cols == 0 {
		return
	}
	w.err = w.f.SetCellStyle(w.sheet, CellByIndex(0, w.row), CellByIndex(cols-1, w.row), style)
}

// header пишет строку заголовков таблицы со стилем
func (w *sheetWriter) header(style int, names ...any) {
	w.style(len(names), style)
	w.line(names...)
}

// Generate генерирует Excel отчёт: листы Summary, Fields, Timesteps,
// Wells и Warnings
func (g *ExcelGenerator) Generate(_ context.Context, data *Data) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create style: %w", err)
	}

	r := data.Report
	sheets := []func() error{
		func() error { return g.writeSummary(f, data, headerStyle) },
	}
	if len(r.Fields) > 0 {
		sheets = append(sheets, func() error { return g.writeFields(f, data, headerStyle) })
	}
	if data.Options.IncludeTimesteps && len(r.Timesteps) > 0 {
		sheets = append(sheets,
			func() error { return g.writeTimesteps(f, data, headerStyle) },
			func() error { return g.writeWells(f, data, headerStyle) },
		)
	}
	if len(r.Warnings) > 0 {
		sheets = append(sheets, func() error { return g.writeWarnings(f, data, headerStyle) })
	}
	for _, write := range sheets {
		if err := write(); err != nil {
			return nil, err
		}
	}

	// Удаляем дефолтный лист
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}
	if idx, err := f.GetSheetIndex(SheetSummary); err == nil {
		f.SetActiveSheet(idx)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *ExcelGenerator) newSheet(f *excelize.File, name string) (*sheetWriter, error) {
	if _, err := f.NewSheet(name); err != nil {
		return nil, fmt.Errorf("failed to create sheet %s: %w", name, err)
	}
	return &sheetWriter{f: f, sheet: name, row: 1}, nil
}

func (g *ExcelGenerator) writeSummary(f *excelize.File, data *Data, headerStyle int) error {
	w, err := g.newSheet(f, SheetSummary)
	if err != nil {
		return err
	}

	w.line(g.GetTitle(data))
	if w.err == nil {
		w.err = f.MergeCell(SheetSummary, "A1", "D1")
	}
	w.line("Author", g.GetAuthor(data))
	w.line("Generated", g.FormatTimestamp(g.GeneratedAt(data)))
	if data.Options.Description != "" {
		w.line("Description", data.Options.Description)
	}
	w.row++

	r := data.Report
	w.header(headerStyle, "Metric", "Value")
	w.line("Label A", r.LabelA)
	w.line("Label B", r.LabelB)
	w.line("Match quality", string(r.MatchQuality))
	w.line("Overall NRMSE", r.OverallNRMSE)
	w.line("Overall MAE", r.OverallMAE)
	w.line("Overall max error", r.OverallMaxError)
	w.line("Timesteps A", r.TimestepsA)
	w.line("Timesteps B", r.TimestepsB)
	w.line("Compared timesteps", r.ComparedTimesteps)
	w.line("Tolerance (days)", r.ToleranceDays)
	w.line("Cell metrics", r.CellMetricsEnabled)

	if w.err == nil {
		w.err = f.SetColWidth(SheetSummary, "A", "A", 22)
	}
	return w.err
}

func (g *ExcelGenerator) writeFields(f *excelize.File, data *Data, headerStyle int) error {
	w, err := g.newSheet(f, SheetFields)
	if err != nil {
		return err
	}
	w.header(headerStyle, "Field", "Mean NRMSE", "Mean MAE", "Max Error", "Mean R2")
	for _, fs := range data.Report.Fields {
		w.line(fs.Field, fs.MeanNRMSE, fs.MeanMAE, fs.MaxError, fs.MeanR2)
	}
	return w.err
}

func (g *ExcelGenerator) writeTimesteps(f *excelize.File, data *Data, headerStyle int) error {
	w, err := g.newSheet(f, SheetTimesteps)
	if err != nil {
		return err
	}
	w.header(headerStyle, "Index A", "Index B", "Time A", "Time B", "Mismatch",
		"Field", "NRMSE", "MAE", "Max Error", "Max Error Cell", "R2")
	for _, tc := range data.Report.Timesteps {
		if len(tc.Fields) == 0 {
			w.line(tc.IndexA, tc.IndexB, tc.TimeA, tc.TimeB, tc.TimeMismatch)
			continue
		}
		for _, fm := range tc.Fields {
			w.line(tc.IndexA, tc.IndexB, tc.TimeA, tc.TimeB, tc.TimeMismatch,
				fm.Field, fm.NRMSE, fm.MAE, fm.MaxError, fm.MaxErrorIndex, fm.R2)
		}
	}
	return w.err
}

func (g *ExcelGenerator) writeWells(f *excelize.File, data *Data, headerStyle int) error {
	w, err := g.newSheet(f, SheetWells)
	if err != nil {
		return err
	}
	w.header(headerStyle, "Time A", "Well", "BHP Delta", "Oil Delta", "Water Delta", "Gas Delta",
		"BHP Rel", "Oil Rel", "Water Rel", "Gas Rel")
	for _, tc := range data.Report.Timesteps {
		for _, wm := range tc.Wells {
			w.line(tc.TimeA, wm.Name, wm.BHPDelta, wm.OilRateDelta, wm.WaterRateDelta, wm.GasRateDelta,
				wm.BHPRelError, wm.OilRelError, wm.WaterRelError, wm.GasRelError)
		}
	}
	return w.err
}

func (g *ExcelGenerator) writeWarnings(f *excelize.File, data *Data, headerStyle int) error {
	w, err := g.newSheet(f, SheetWarnings)
	if err != nil {
		return err
	}
	w.header(headerStyle, "#", "Warning")
	for i, msg := range data.Report.Warnings {
		w.line(i+1, msg)
	}
	if w.err == nil {
		w.err = f.SetColWidth(SheetWarnings, "B", "B", 80)
	}
	return w.err
}
