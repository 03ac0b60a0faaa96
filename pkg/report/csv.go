package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
)

// CSVGenerator генератор CSV отчётов
type CSVGenerator struct {
	BaseGenerator
}

// NewCSVGenerator создаёт новый генератор
func NewCSVGenerator() *CSVGenerator {
	return &CSVGenerator{}
}

// Format возвращает формат генератора
func (g *CSVGenerator) Format() Format {
	return FormatCSV
}

// csvWriter обёртка для отслеживания ошибок
type csvWriter struct {
	w   *csv.Writer
	err error
}

func (cw *csvWriter) Write(record ...string) {
	if cw.err != nil {
		return
	}
	cw.err = cw.w.Write(record)
}

func (cw *csvWriter) Flush() {
	if cw.err != nil {
		return
	}
	cw.w.Flush()
	cw.err = cw.w.Error()
}

// Generate генерирует CSV: сводка, поля, шаги и скважины отдельными блоками
func (g *CSVGenerator) Generate(_ context.Context, data *Data) ([]byte, error) {
	var buf bytes.Buffer
	cw := &csvWriter{w: csv.NewWriter(&buf)}
	r := data.Report

	cw.Write("# " + g.GetTitle(data))
	cw.Write("")

	cw.Write("Summary")
	for _, kv := range g.summaryRows(r) {
		cw.Write(kv[0], kv[1])
	}
	cw.Write("")

	if len(r.Fields) > 0 {
		cw.Write("Fields")
		cw.Write("Field", "Mean NRMSE", "Mean MAE", "Max Error", "Mean R2")
		for _, f := range r.Fields {
			cw.Write(f.Field, g.FormatFloat(f.MeanNRMSE, 6), g.FormatFloat(f.MeanMAE, 6),
				g.FormatFloat(f.MaxError, 6), g.FormatFloat(f.MeanR2, 6))
		}
		cw.Write("")
	}

	if data.Options.IncludeTimesteps && len(r.Timesteps) > 0 {
		cw.Write("Timesteps")
		cw.Write("Time A", "Time B", "Mismatch", "Field", "NRMSE", "MAE", "Max Error", "Max Error Cell", "R2")
		for _, tc := range r.Timesteps {
			for _, f := range tc.Fields {
				cw.Write(g.FormatFloat(tc.TimeA, 3), g.FormatFloat(tc.TimeB, 3), g.FormatFloat(tc.TimeMismatch, 3),
					f.Field, g.FormatFloat(f.NRMSE, 6), g.FormatFloat(f.MAE, 6), g.FormatFloat(f.MaxError, 6),
					fmt.Sprintf("%d", f.MaxErrorIndex), g.FormatFloat(f.R2, 6))
			}
		}
		cw.Write("")

		cw.Write("Wells")
		cw.Write("Time A", "Well", "BHP Delta", "Oil Delta", "Water Delta", "Gas Delta", "Max Rel Error")
		for _, tc := range r.Timesteps {
			for _, w := range tc.Wells {
				cw.Write(g.FormatFloat(tc.TimeA, 3), w.Name, g.FormatFloat(w.BHPDelta, 4),
					g.FormatFloat(w.OilRateDelta, 4), g.FormatFloat(w.WaterRateDelta, 4),
					g.FormatFloat(w.GasRateDelta, 4), g.FormatFloat(w.MaxRelError(), 6))
			}
		}
		cw.Write("")
	}

	if len(r.Warnings) > 0 {
		cw.Write("Warnings")
		for _, w := range r.Warnings {
			cw.Write(w)
		}
	}

	cw.Flush()
	if cw.err != nil {
		return nil, fmt.Errorf("csv write error: %w", cw.err)
	}
	return buf.Bytes(), nil
}
