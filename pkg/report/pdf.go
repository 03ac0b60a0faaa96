package report

import (
	"context"
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/border"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"reservoir/pkg/compare"
)

// PDFGenerator генератор PDF отчётов
type PDFGenerator struct {
	BaseGenerator
}

// NewPDFGenerator создаёт новый генератор
func NewPDFGenerator() *PDFGenerator {
	return &PDFGenerator{}
}

// Format возвращает формат генератора
func (g *PDFGenerator) Format() Format {
	return FormatPDF
}

// maxTimestepRows ограничение строк таблицы шагов в PDF
const maxTimestepRows = 40

// Стили
var (
	primaryColor   = &props.Color{Red: 52, Green: 152, Blue: 219}  // #3498db
	headerBgColor  = &props.Color{Red: 44, Green: 62, Blue: 80}    // #2c3e50
	successColor   = &props.Color{Red: 39, Green: 174, Blue: 96}   // #27ae60
	warningColor   = &props.Color{Red: 243, Green: 156, Blue: 18}  // #f39c12
	dangerColor    = &props.Color{Red: 231, Green: 76, Blue: 60}   // #e74c3c
	lightGrayColor = &props.Color{Red: 236, Green: 240, Blue: 241} // #ecf0f1
	darkGrayColor  = &props.Color{Red: 127, Green: 140, Blue: 141} // #7f8c8d

	titleStyle = props.Text{
		Size:  20,
		Style: fontstyle.Bold,
		Align: align.Center,
		Color: headerBgColor,
	}

	h2Style = props.Text{
		Size:  14,
		Style: fontstyle.Bold,
		Color: headerBgColor,
		Top:   5,
	}

	normalStyle = props.Text{
		Size: 10,
	}

	boldStyle = props.Text{
		Size:  10,
		Style: fontstyle.Bold,
	}

	smallStyle = props.Text{
		Size:  8,
		Color: darkGrayColor,
	}

	metricValueStyle = props.Text{
		Size:  18,
		Style: fontstyle.Bold,
		Align: align.Center,
		Color: primaryColor,
	}

	metricLabelStyle = props.Text{
		Size:  9,
		Align: align.Center,
		Color: darkGrayColor,
	}

	tableHeaderStyle = &props.Cell{
		BackgroundColor: primaryColor,
	}

	tableHeaderTextStyle = props.Text{
		Size:  9,
		Style: fontstyle.Bold,
		Color: &props.Color{Red: 255, Green: 255, Blue: 255},
		Align: align.Center,
	}

	tableCellStyle = &props.Cell{
		BorderType:  border.Bottom,
		BorderColor: lightGrayColor,
	}

	tableCellTextStyle = props.Text{
		Size:  9,
		Align: align.Center,
	}
)

func pdfQualityColor(q compare.Quality) *props.Color {
	switch q {
	case compare.QualityExcellent:
		return successColor
	case compare.QualityGood:
		return primaryColor
	case compare.QualityAcceptable:
		return warningColor
	case compare.QualityPoor:
		return dangerColor
	default:
		return darkGrayColor
	}
}

// Generate генерирует PDF отчёт
func (g *PDFGenerator) Generate(_ context.Context, data *Data) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber().
		WithLeftMargin(15).
		WithTopMargin(15).
		WithRightMargin(15).
		Build()

	m := maroto.New(cfg)
	r := data.Report

	g.addHeader(m, data)

	g.addSection(m, "Summary")
	g.addMetricCards(m, []metricCard{
		{Label: "Match Quality", Value: string(r.MatchQuality), Highlight: true, Color: pdfQualityColor(r.MatchQuality)},
		{Label: "Overall NRMSE", Value: g.FormatFloat(r.OverallNRMSE, 4), Highlight: true},
		{Label: "Compared Timesteps", Value: fmt.Sprintf("%d", r.ComparedTimesteps)},
	})
	m.AddRow(5)
	items := make([]keyValue, 0, 11)
	for _, kv := range g.summaryRows(r) {
		items = append(items, keyValue{Key: kv[0], Value: kv[1]})
	}
	g.addKeyValueTable(m, items)

	if len(r.Fields) > 0 {
		g.addSection(m, "Fields")
		g.addFieldsTable(m, r.Fields)
	}

	if data.Options.IncludeTimesteps && len(r.Timesteps) > 0 {
		g.addSection(m, "Timesteps")
		g.addTimestepsTable(m, r.Timesteps)
	}

	if len(r.Warnings) > 0 {
		g.addSection(m, "Warnings")
		for _, w := range r.Warnings {
			m.AddRow(6, text.NewCol(12, "• "+w, normalStyle))
		}
	}

	g.addFooter(m, data)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return doc.GetBytes(), nil
}

func (g *PDFGenerator) addHeader(m core.Maroto, data *Data) {
	m.AddRow(15,
		text.NewCol(12, g.GetTitle(data), titleStyle),
	)
	m.AddRow(5,
		line.NewCol(12),
	)
	m.AddRow(6,
		text.NewCol(6, fmt.Sprintf("Author: %s", g.GetAuthor(data)), smallStyle),
		text.NewCol(6, fmt.Sprintf("Generated: %s", g.FormatTimestamp(g.GeneratedAt(data))),
			props.Text{Size: 8, Color: darkGrayColor, Align: align.Right}),
	)
	if desc := data.Options.Description; desc != "" {
		m.AddRow(5,
			text.NewCol(12, desc, smallStyle),
		)
	}
	m.AddRow(8)
}

type metricCard struct {
	Label     string
	Value     string
	Highlight bool
	Color     *props.Color
}

func (g *PDFGenerator) addMetricCards(m core.Maroto, cards []metricCard) {
	if len(cards) == 0 {
		return
	}

	colSize := max(12/len(cards), 2)

	var cols []core.Col
	for _, card := range cards {
		valueStyle := metricValueStyle
		if !card.Highlight {
			valueStyle.Size = 14
		}
		if card.Color != nil {
			valueStyle.Color = card.Color
		}
		cols = append(cols,
			col.New(colSize).Add(
				text.New(card.Value, valueStyle),
				text.New(card.Label, metricLabelStyle),
			),
		)
	}

	m.AddRow(20, cols...)
}

type keyValue struct {
	Key   string
	Value string
}

func (g *PDFGenerator) addKeyValueTable(m core.Maroto, items []keyValue) {
	for _, item := range items {
		m.AddRow(6,
			text.NewCol(6, item.Key, boldStyle),
			text.NewCol(6, item.Value, normalStyle),
		)
	}
}

func (g *PDFGenerator) addSection(m core.Maroto, title string) {
	m.AddRow(10,
		text.NewCol(12, title, h2Style),
	)
	m.AddRow(2,
		line.NewCol(12, props.Line{Color: primaryColor}),
	)
	m.AddRow(5)
}

func headerCol(size int, s string) core.Col {
	return text.NewCol(size, s, tableHeaderTextStyle).WithStyle(tableHeaderStyle)
}

func cellCol(size int, s string) core.Col {
	return text.NewCol(size, s, tableCellTextStyle).WithStyle(tableCellStyle)
}

func (g *PDFGenerator) addFieldsTable(m core.Maroto, fields []compare.FieldSummary) {
	m.AddRow(8,
		headerCol(3, "Field"),
		headerCol(2, "Mean NRMSE"),
		headerCol(2, "Mean MAE"),
		headerCol(3, "Max Error"),
		headerCol(2, "Mean R2"),
	)
	for _, f := range fields {
		m.AddRow(6,
			cellCol(3, f.Field),
			cellCol(2, g.FormatFloat(f.MeanNRMSE, 5)),
			cellCol(2, g.FormatFloat(f.MeanMAE, 4)),
			cellCol(3, g.FormatFloat(f.MaxError, 4)),
			cellCol(2, g.FormatFloat(f.MeanR2, 4)),
		)
	}
}

// addTimestepsTable строка на шаг: худшее поле по NRMSE и худшая скважина
func (g *PDFGenerator) addTimestepsTable(m core.Maroto, steps []compare.TimestepComparison) {
	m.AddRow(8,
		headerCol(2, "Day A"),
		headerCol(2, "Day B"),
		headerCol(2, "Worst Field"),
		headerCol(2, "NRMSE"),
		headerCol(2, "Worst Well"),
		headerCol(2, "Rel. Error"),
	)
	for i, tc := range steps {
		if i >= maxTimestepRows {
			m.AddRow(6,
				text.NewCol(12, fmt.Sprintf("... and %d more rows", len(steps)-maxTimestepRows), smallStyle),
			)
			break
		}
		field, nrmse := "-", "-"
		var worst *compare.FieldMetrics
		for j := range tc.Fields {
			if worst == nil || tc.Fields[j].NRMSE > worst.NRMSE {
				worst = &tc.Fields[j]
			}
		}
		if worst != nil {
			field, nrmse = worst.Field, g.FormatFloat(worst.NRMSE, 5)
		}
		well, relErr := "-", "-"
		var worstWell *compare.WellMetrics
		for j := range tc.Wells {
			if worstWell == nil || tc.Wells[j].MaxRelError() > worstWell.MaxRelError() {
				worstWell = &tc.Wells[j]
			}
		}
		if worstWell != nil {
			well, relErr = worstWell.Name, g.FormatPercent(worstWell.MaxRelError())
		}
		m.AddRow(6,
			cellCol(2, g.FormatFloat(tc.TimeA, 2)),
			cellCol(2, g.FormatFloat(tc.TimeB, 2)),
			cellCol(2, field),
			cellCol(2, nrmse),
			cellCol(2, well),
			cellCol(2, relErr),
		)
	}
}

func (g *PDFGenerator) addFooter(m core.Maroto, data *Data) {
	m.AddRow(10)
	m.AddRow(2,
		line.NewCol(12, props.Line{Color: lightGrayColor}),
	)
	m.AddRow(6,
		text.NewCol(12,
			fmt.Sprintf("Generated by simctl | %s", g.FormatTimestamp(g.GeneratedAt(data))),
			props.Text{Size: 8, Color: darkGrayColor, Align: align.Center},
		),
	)
}
