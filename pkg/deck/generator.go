package deck

import (
	"fmt"
	"strconv"
	"strings"

	"reservoir/pkg/apperror"
	"reservoir/pkg/domain"
)

// Коэффициенты сжимаемости по умолчанию, 1/psi
const (
	defaultWaterCompress = 3.0e-6
	defaultRockCompress  = 4.0e-6
)

// SummaryVectors запрашиваемые генератором векторы сводки: полевые и по скважинам
var (
	fieldVectors = []string{"FOPR", "FWPR", "FGPR", "FWIR", "FGIR", "FPR"}
	wellVectors  = []string{"WBHP", "WOPR", "WWPR", "WGPR", "WWIR", "WGIR"}
)

// deckWriter накапливает текст колоды
type deckWriter struct {
	sb strings.Builder
}

func (w *deckWriter) line(format string, args ...any) {
	fmt.Fprintf(&w.sb, format, args...)
	w.sb.WriteByte('\n')
}

func (w *deckWriter) blank() { w.sb.WriteByte('\n') }

func (w *deckWriter) keyword(name string) { w.line("%s", name) }

// Generate сериализует запрос в колоду в единицах FIELD. Массивы сетки
// однородны по ячейкам, поэтому обратное отображение точно только для
// колод этого генератора.
func Generate(req *domain.SimRequest) (string, error) {
	if req == nil {
		return "", apperror.ErrNilRequest
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	w := &deckWriter{}
	w.line("-- Generated by simctl. Units: FIELD")
	w.blank()

	writeRunspec(w, req)
	writeGrid(w, req.Grid)
	writeProps(w, req)
	writeSolution(w, req)
	writeSummary(w)
	writeSchedule(w, req)

	w.keyword("END")
	return w.sb.String(), nil
}

func writeRunspec(w *deckWriter, req *domain.SimRequest) {
	g := req.Grid
	w.keyword("RUNSPEC")
	if req.Title != "" {
		w.keyword("TITLE")
		w.line("%s", req.Title)
		w.blank()
	}

	w.keyword("DIMENS")
	w.line(" %d %d %d /", g.NX, g.NY, g.NZ)
	w.blank()

	w.keyword("OIL")
	w.keyword("WATER")
	if req.HasGasWells() {
		w.keyword("GAS")
	}
	w.blank()
	w.keyword("FIELD")
	w.blank()

	w.keyword("START")
	w.line(" %s /", FormatDate(req.Start()))
	w.blank()

	w.keyword("WELLDIMS")
	w.line(" %d %d 1 %d /", len(req.Wells), g.NZ, len(req.Wells))
	w.blank()
	w.keyword("UNIFOUT")
	w.blank()
}

func writeGrid(w *deckWriter, g domain.GridParams) {
	n := g.TotalCells()
	w.keyword("GRID")
	w.keyword("INIT")
	w.blank()

	arrays := []struct {
		name  string
		count int
		value float64
	}{
		{"DX", n, domain.MToFeet(g.DX)},
		{"DY", n, domain.MToFeet(g.DY)},
		{"DZ", n, domain.MToFeet(g.DZ)},
		{"TOPS", g.NX * g.NY, domain.MToFeet(g.DepthTop)},
		{"PORO", n, g.Porosity},
		{"PERMX", n, g.PermX},
		{"PERMY", n, g.PermY},
		{"PERMZ", n, g.PermZ},
	}
	for _, a := range arrays {
		w.keyword(a.name)
		w.line(" %d*%s /", a.count, formatNumber(a.value))
		w.blank()
	}
}

func writeProps(w *deckWriter, req *domain.SimRequest) {
	f := req.Fluid
	pInit := domain.BarToPsi(f.InitialPressure)
	pBubble := domain.BarToPsi(f.BubblePointPressure)

	w.keyword("PROPS")

	w.keyword("PVTW")
	w.line(" %s 1.0 %s %s 0 /", formatNumber(pInit), formatNumber(defaultWaterCompress), formatNumber(f.WaterViscosity))
	w.blank()

	// Мёртвая нефть: таблица от давления насыщения вверх
	w.keyword("PVDO")
	for _, row := range pvdoRows(pBubble, pInit, f.OilViscosity) {
		w.line(" %s %s %s", formatNumber(row.Pressure), formatNumber(row.FVF), formatNumber(row.Viscosity))
	}
	w.line("/")
	w.blank()

	if req.HasGasWells() {
		w.keyword("PVDG")
		for _, row := range pvdgRows(pBubble, pInit, f.GasViscosity) {
			w.line(" %s %s %s", formatNumber(row.Pressure), formatNumber(row.FVF), formatNumber(row.Viscosity))
		}
		w.line("/")
		w.blank()
	}

	w.keyword("DENSITY")
	w.line(" %s %s %s /",
		formatNumber(domain.KgM3ToLbFt3(f.OilDensity)),
		formatNumber(domain.KgM3ToLbFt3(f.WaterDensity)),
		formatNumber(domain.KgM3ToLbFt3(f.GasDensity)))
	w.blank()

	w.keyword("ROCK")
	w.line(" %s %s /", formatNumber(pInit), formatNumber(defaultRockCompress))
	w.blank()

	// Кривые Кори с показателем 2
	w.keyword("SWOF")
	swc := f.InitialWaterSat
	for _, sw := range []float64{swc, (swc + 1) / 2, 1} {
		s := (sw - swc) / (1 - swc)
		w.line(" %s %s %s 0", formatNumber(sw), formatNumber(s*s), formatNumber((1-s)*(1-s)))
	}
	w.line("/")
	w.blank()

	if req.HasGasWells() {
		w.keyword("SGOF")
		for _, sg := range []float64{0, (1 - swc) / 2, 1 - swc} {
			s := sg / (1 - swc)
			w.line(" %s %s %s 0", formatNumber(sg), formatNumber(s*s), formatNumber((1-s)*(1-s)))
		}
		w.line("/")
		w.blank()
	}
}

// pvdoRows строит три строки таблицы от давления насыщения до удвоенного
// начального давления со слабой сжимаемостью нефти
func pvdoRows(pBubble, pInit, visc float64) []PVTRow {
	pMax := 2 * max(pInit, pBubble)
	mid := (pBubble + pMax) / 2
	return []PVTRow{
		{Pressure: pBubble, FVF: 1.0, Viscosity: visc},
		{Pressure: mid, FVF: 0.995, Viscosity: visc * 1.01},
		{Pressure: pMax, FVF: 0.99, Viscosity: visc * 1.02},
	}
}

// pvdgRows идеальный газ: Bg обратно пропорционален давлению
func pvdgRows(pBubble, pInit, visc float64) []PVTRow {
	pMin := max(pBubble/4, 14.7)
	pMax := 2 * max(pInit, pBubble)
	rows := make([]PVTRow, 0, 3)
	for _, p := range []float64{pMin, (pMin + pMax) / 2, pMax} {
		rows = append(rows, PVTRow{Pressure: p, FVF: 14.7 / p * 178.1, Viscosity: visc})
	}
	return rows
}

func writeSolution(w *deckWriter, req *domain.SimRequest) {
	g := req.Grid
	top := domain.MToFeet(g.DepthTop)
	bottom := top + domain.MToFeet(g.DZ)*float64(g.NZ)

	w.keyword("SOLUTION")
	w.keyword("EQUIL")
	// Контакты за пределами пласта: весь пласт нефтенасыщен
	w.line(" %s %s %s 0 %s 0 /",
		formatNumber(top),
		formatNumber(domain.BarToPsi(req.Fluid.InitialPressure)),
		formatNumber(bottom+100),
		formatNumber(max(top-100, 0)))
	w.blank()
}

func writeSummary(w *deckWriter) {
	w.keyword("SUMMARY")
	for _, v := range fieldVectors {
		w.keyword(v)
	}
	for _, v := range wellVectors {
		w.keyword(v)
		w.line("/")
	}
	w.keyword("TIME")
	w.blank()
}

func writeSchedule(w *deckWriter, req *domain.SimRequest) {
	g := req.Grid
	w.keyword("SCHEDULE")
	w.keyword("RPTRST")
	w.line(" 'BASIC=2' /")
	w.blank()

	w.keyword("WELSPECS")
	for _, well := range req.Wells {
		refDepth := domain.MToFeet(g.DepthTop + g.DZ*float64(well.KTop))
		w.line(" '%s' 'G1' %d %d %s '%s' /", well.Name, well.I+1, well.J+1, formatNumber(refDepth), deckPhase(well.PrimaryPhase()))
	}
	w.line("/")
	w.blank()

	w.keyword("COMPDAT")
	for _, well := range req.Wells {
		w.line(" '%s' %d %d %d %d 'OPEN' 2* 0.5 /", well.Name, well.I+1, well.J+1, well.KTop+1, well.KBottom+1)
	}
	w.line("/")
	w.blank()

	var producers, injectors []domain.WellConfig
	for _, well := range req.Wells {
		if well.Type == domain.WellInjector {
			injectors = append(injectors, well)
		} else {
			producers = append(producers, well)
		}
	}

	if len(producers) > 0 {
		w.keyword("WCONPROD")
		for _, well := range producers {
			w.line(" %s", producerRecord(well))
		}
		w.line("/")
		w.blank()
	}
	if len(injectors) > 0 {
		w.keyword("WCONINJE")
		for _, well := range injectors {
			w.line(" %s", injectorRecord(well))
		}
		w.line("/")
		w.blank()
	}

	w.keyword("TSTEP")
	w.line(" %s /", repeatNotation(req.Timesteps()))
	w.blank()
}

func producerRecord(well domain.WellConfig) string {
	bhp := "1*"
	if well.HasBHPTarget() {
		bhp = formatNumber(domain.BarToPsi(well.BHP))
	}
	if !well.HasRateTarget() {
		return fmt.Sprintf("'%s' 'OPEN' 'BHP' 5* %s /", well.Name, bhp)
	}

	// ORAT WRAT GRAT LRAT RESV
	rates := []string{"1*", "1*", "1*", "1*", "1*"}
	mode := "ORAT"
	switch well.PrimaryPhase() {
	case domain.PhaseWater:
		mode = "WRAT"
		rates[1] = formatNumber(domain.M3ToStb(well.Rate))
	case domain.PhaseGas:
		mode = "GRAT"
		rates[2] = formatNumber(domain.M3ToMscf(well.Rate))
	default:
		rates[0] = formatNumber(domain.M3ToStb(well.Rate))
	}
	return fmt.Sprintf("'%s' 'OPEN' '%s' %s %s /", well.Name, mode, strings.Join(rates, " "), bhp)
}

func injectorRecord(well domain.WellConfig) string {
	phase := well.PrimaryPhase()
	bhp := "1*"
	if well.HasBHPTarget() {
		bhp = formatNumber(domain.BarToPsi(well.BHP))
	}
	if !well.HasRateTarget() {
		return fmt.Sprintf("'%s' '%s' 'OPEN' 'BHP' 2* %s /", well.Name, deckPhase(phase), bhp)
	}

	rate := domain.M3ToStb(well.Rate)
	if phase == domain.PhaseGas {
		rate = domain.M3ToMscf(well.Rate)
	}
	return fmt.Sprintf("'%s' '%s' 'OPEN' 'RATE' %s 1* %s /", well.Name, deckPhase(phase), formatNumber(rate), bhp)
}

func deckPhase(p domain.Phase) string {
	return strings.ToUpper(string(p))
}

// repeatNotation сворачивает серии одинаковых значений в N*value
func repeatNotation(values []float64) string {
	parts := make([]string, 0, len(values))
	for i := 0; i < len(values); {
		j := i + 1
		for j < len(values) && values[j] == values[i] {
			j++
		}
		if n := j - i; n > 1 {
			parts = append(parts, fmt.Sprintf("%d*%s", n, formatNumber(values[i])))
		} else {
			parts = append(parts, formatNumber(values[i]))
		}
		i = j
	}
	return strings.Join(parts, " ")
}

// formatNumber кратчайшее точное представление. Целые значения получают
// точку, чтобы оставаться REAL при повторном разборе.
func formatNumber(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
