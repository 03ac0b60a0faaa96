package report

import (
	"bytes"
	"context"
	"fmt"
	"strings"
)

// MarkdownGenerator генератор Markdown отчётов
type MarkdownGenerator struct {
	BaseGenerator
}

// NewMarkdownGenerator создаёт новый генератор
func NewMarkdownGenerator() *MarkdownGenerator {
	return &MarkdownGenerator{}
}

// Format возвращает формат генератора
func (g *MarkdownGenerator) Format() Format {
	return FormatMarkdown
}

// Generate генерирует Markdown отчёт
func (g *MarkdownGenerator) Generate(_ context.Context, data *Data) ([]byte, error) {
	var buf bytes.Buffer
	r := data.Report

	g.writeHeader(&buf, data)

	buf.WriteString("## Summary\n\n")
	buf.WriteString("| Metric | Value |\n")
	buf.WriteString("|--------|-------|\n")
	for _, kv := range g.summaryRows(r) {
		fmt.Fprintf(&buf, "| %s | %s |\n", kv[0], escapeCell(kv[1]))
	}
	buf.WriteString("\n")

	if len(r.Fields) > 0 {
		buf.WriteString("## Fields\n\n")
		buf.WriteString("| Field | Mean NRMSE | Mean MAE | Max Error | Mean R² |\n")
		buf.WriteString("|-------|-----------:|---------:|----------:|--------:|\n")
		for _, f := range r.Fields {
			fmt.Fprintf(&buf, "| %s | %s | %s | %s | %s |\n", f.Field,
				g.FormatFloat(f.MeanNRMSE, 6), g.FormatFloat(f.MeanMAE, 6),
				g.FormatFloat(f.MaxError, 6), g.FormatFloat(f.MeanR2, 4))
		}
		buf.WriteString("\n")
	}

	if data.Options.IncludeTimesteps && len(r.Timesteps) > 0 {
		buf.WriteString("## Timesteps\n\n")
		for _, tc := range r.Timesteps {
			fmt.Fprintf(&buf, "### Day %s (B: %s, mismatch %s)\n\n",
				g.FormatFloat(tc.TimeA, 2), g.FormatFloat(tc.TimeB, 2), g.FormatFloat(tc.TimeMismatch, 3))
			if len(tc.Fields) > 0 {
				buf.WriteString("| Field | NRMSE | MAE | Max Error | Cell | R² |\n")
				buf.WriteString("|-------|------:|----:|----------:|-----:|---:|\n")
				for _, f := range tc.Fields {
					fmt.Fprintf(&buf, "| %s | %s | %s | %s | %d | %s |\n", f.Field,
						g.FormatFloat(f.NRMSE, 6), g.FormatFloat(f.MAE, 6),
						g.FormatFloat(f.MaxError, 6), f.MaxErrorIndex, g.FormatFloat(f.R2, 4))
				}
				buf.WriteString("\n")
			}
			if len(tc.Wells) > 0 {
				buf.WriteString("| Well | ΔBHP | ΔOil | ΔWater | ΔGas | Max rel. error |\n")
				buf.WriteString("|------|-----:|-----:|-------:|-----:|---------------:|\n")
				for _, w := range tc.Wells {
					fmt.Fprintf(&buf, "| %s | %s | %s | %s | %s | %s |\n", escapeCell(w.Name),
						g.FormatFloat(w.BHPDelta, 3), g.FormatFloat(w.OilRateDelta, 3),
						g.FormatFloat(w.WaterRateDelta, 3), g.FormatFloat(w.GasRateDelta, 3),
						g.FormatPercent(w.MaxRelError()))
				}
				buf.WriteString("\n")
			}
		}
	}

	if len(r.Warnings) > 0 {
		buf.WriteString("## Warnings\n\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&buf, "- %s\n", w)
		}
		buf.WriteString("\n")
	}

	g.writeFooter(&buf, data)
	return buf.Bytes(), nil
}

func (g *MarkdownGenerator) writeHeader(buf *bytes.Buffer, data *Data) {
	fmt.Fprintf(buf, "# %s\n\n", g.GetTitle(data))
	if data.Options.Description != "" {
		fmt.Fprintf(buf, "%s\n\n", data.Options.Description)
	}
	buf.WriteString("## Report Information\n\n")
	fmt.Fprintf(buf, "- **Generated:** %s\n", g.FormatTimestamp(g.GeneratedAt(data)))
	fmt.Fprintf(buf, "- **Author:** %s\n\n", g.GetAuthor(data))
}

func (g *MarkdownGenerator) writeFooter(buf *bytes.Buffer, data *Data) {
	buf.WriteString("---\n\n")
	fmt.Fprintf(buf, "*Generated by simctl at %s*\n", g.FormatTimestamp(g.GeneratedAt(data)))
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
