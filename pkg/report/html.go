package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"reservoir/pkg/compare"
)

// HTMLGenerator генератор HTML отчётов
type HTMLGenerator struct {
	BaseGenerator
}

// NewHTMLGenerator создаёт новый генератор
func NewHTMLGenerator() *HTMLGenerator {
	return &HTMLGenerator{}
}

// Format возвращает формат генератора
func (g *HTMLGenerator) Format() Format {
	return FormatHTML
}

// qualityColor цвет бейджа для класса качества
func qualityColor(q compare.Quality) string {
	switch q {
	case compare.QualityExcellent:
		return "#27ae60"
	case compare.QualityGood:
		return "#3498db"
	case compare.QualityAcceptable:
		return "#f39c12"
	case compare.QualityPoor:
		return "#e74c3c"
	default:
		return "#7f8c8d"
	}
}

// Generate генерирует HTML отчёт
func (g *HTMLGenerator) Generate(_ context.Context, data *Data) ([]byte, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatFloat":   func(v float64, p int) string { return fmt.Sprintf("%.*f", p, v) },
		"formatPercent": g.FormatPercent,
		"qualityColor":  qualityColor,
	}).Parse(htmlTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	templateData := map[string]any{
		"Title":            g.GetTitle(data),
		"Author":           g.GetAuthor(data),
		"Description":      data.Options.Description,
		"Generated":        g.FormatTimestamp(g.GeneratedAt(data)),
		"Report":           data.Report,
		"Summary":          g.summaryRows(data.Report),
		"IncludeTimesteps": data.Options.IncludeTimesteps,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, templateData); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.Bytes(), nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        * { box-sizing: border-box; }
        body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; color: #2c3e50; margin: 0; padding: 24px; background: #f5f7fa; }
        .container { max-width: 1100px; margin: 0 auto; background: #fff; padding: 32px; border-radius: 8px; }
        h1 { margin-top: 0; }
        h2 { border-bottom: 2px solid #3498db; padding-bottom: 4px; }
        .meta { color: #7f8c8d; font-size: 0.9em; }
        .badge { display: inline-block; padding: 4px 12px; border-radius: 12px; color: #fff; font-weight: bold; text-transform: uppercase; }
        table { border-collapse: collapse; width: 100%; margin-bottom: 16px; }
        th { background: #3498db; color: #fff; padding: 6px 8px; text-align: left; }
        td { padding: 6px 8px; border-bottom: 1px solid #ecf0f1; }
        td.num { text-align: right; font-family: monospace; }
        .warning { background: #fef5e7; border-left: 4px solid #f39c12; padding: 8px 12px; margin: 4px 0; }
        footer { margin-top: 32px; color: #7f8c8d; font-size: 0.8em; text-align: center; }
    </style>
</head>
<body>
<div class="container">
    <h1>{{.Title}}</h1>
    <p class="meta">Author: {{.Author}} | Generated: {{.Generated}}</p>
    {{if .Description}}<p>{{.Description}}</p>{{end}}

    <p>Match quality: <span class="badge" style="background: {{qualityColor .Report.MatchQuality}}">{{.Report.MatchQuality}}</span></p>

    <h2>Summary</h2>
    <table>
        {{range .Summary}}<tr><td>{{index . 0}}</td><td>{{index . 1}}</td></tr>
        {{end}}
    </table>

    {{if .Report.Fields}}
    <h2>Fields</h2>
    <table>
        <tr><th>Field</th><th>Mean NRMSE</th><th>Mean MAE</th><th>Max Error</th><th>Mean R²</th></tr>
        {{range .Report.Fields}}<tr><td>{{.Field}}</td><td class="num">{{formatFloat .MeanNRMSE 6}}</td><td class="num">{{formatFloat .MeanMAE 6}}</td><td class="num">{{formatFloat .MaxError 6}}</td><td class="num">{{formatFloat .MeanR2 4}}</td></tr>
        {{end}}
    </table>
    {{end}}

    {{if and .IncludeTimesteps .Report.Timesteps}}
    <h2>Timesteps</h2>
    {{range .Report.Timesteps}}
    <h3>Day {{formatFloat .TimeA 2}} <span class="meta">(B: {{formatFloat .TimeB 2}}, mismatch {{formatFloat .TimeMismatch 3}})</span></h3>
    {{if .Fields}}
    <table>
        <tr><th>Field</th><th>NRMSE</th><th>MAE</th><th>Max Error</th><th>Cell</th><th>R²</th></tr>
        {{range .Fields}}<tr><td>{{.Field}}</td><td class="num">{{formatFloat .NRMSE 6}}</td><td class="num">{{formatFloat .MAE 6}}</td><td class="num">{{formatFloat .MaxError 6}}</td><td class="num">{{.MaxErrorIndex}}</td><td class="num">{{formatFloat .R2 4}}</td></tr>
        {{end}}
    </table>
    {{end}}
    {{if .Wells}}
    <table>
        <tr><th>Well</th><th>ΔBHP</th><th>ΔOil</th><th>ΔWater</th><th>ΔGas</th><th>Max rel. error</th></tr>
        {{range .Wells}}<tr><td>{{.Name}}</td><td class="num">{{formatFloat .BHPDelta 3}}</td><td class="num">{{formatFloat .OilRateDelta 3}}</td><td class="num">{{formatFloat .WaterRateDelta 3}}</td><td class="num">{{formatFloat .GasRateDelta 3}}</td><td class="num">{{formatPercent .MaxRelError}}</td></tr>
        {{end}}
    </table>
    {{end}}
    {{end}}
    {{end}}

    {{if .Report.Warnings}}
    <h2>Warnings</h2>
    {{range .Report.Warnings}}<div class="warning">{{.}}</div>
    {{end}}
    {{end}}

    <footer>Generated by simctl | {{.Generated}}</footer>
</div>
</body>
</html>
`
