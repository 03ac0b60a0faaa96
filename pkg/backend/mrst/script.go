package mrst

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"reservoir/pkg/apperror"
	"reservoir/pkg/domain"
)

// Имена переменных файла результатов. Общая схема генератора скрипта и
// разбора.
const (
	VarTime       = "time"
	VarPressure   = "pressure"
	VarSw         = "sw"
	VarSo         = "so"
	VarSg         = "sg"
	VarWellBHP    = "wellBHP"
	VarWellOil    = "wellOilRate"
	VarWellWater  = "wellWaterRate"
	VarWellGas    = "wellGasRate"
	VarWellNames  = "wellNames"
	VarWallTime   = "wallTime"
	VarConverged  = "converged"
	ScriptName    = "simulate.m"
	ResultsName   = "results.mat"
	maxIterations = 25
)

// requiredVars массивы, без которых результат не собрать
var requiredVars = []string{VarTime, VarPressure, VarSw, VarSo}

type scriptWell struct {
	Name    string
	I, J    int // 1-based
	KTop    int
	KBottom int
	Control string // rate, bhp
	Value   string // выражение в единицах MRST
	BHPLim  string // ограничение по забойному давлению для скважин с дебитом
	Comp    string
}

type scriptData struct {
	Title         string
	MRSTPath      string
	ResultsFile   string
	NX, NY, NZ    int
	DX, DY, DZ    string
	DepthTop      string
	Porosity      string
	PermX         string
	PermY         string
	PermZ         string
	ThreePhase    bool
	Mu            string
	Rho           string
	Phases        string
	InitialSat    string
	InitialP      string
	Wells         []scriptWell
	Timesteps     string
	MaxIterations int
	Vars          map[string]string
}

var scriptTemplate = template.Must(template.New("mrst").Parse(`% Generated by simctl{{if .Title}}: {{.Title}}{{end}}
try
  mrstPath = '{{.MRSTPath}}';
  if ~isempty(mrstPath)
    run(fullfile(mrstPath, 'startup.m'));
  end
  mrstModule add ad-core ad-blackoil ad-props
  clock0 = tic;

  % grid
  G = cartGrid([{{.NX}}, {{.NY}}, {{.NZ}}], [{{.NX}}*{{.DX}}, {{.NY}}*{{.DY}}, {{.NZ}}*{{.DZ}}]);
  G.nodes.coords(:, 3) = G.nodes.coords(:, 3) + {{.DepthTop}};
  G = computeGeometry(G);

  % rock
  rock = makeRock(G, [{{.PermX}}, {{.PermY}}, {{.PermZ}}]*milli*darcy, {{.Porosity}});

  % fluid
  fluid = initSimpleADIFluid('phases', '{{.Phases}}', ...
    'mu', [{{.Mu}}]*centi*poise, ...
    'rho', [{{.Rho}}]*kilogram/meter^3, ...
    'n', 2*ones(1, {{if .ThreePhase}}3{{else}}2{{end}}));
{{- if .ThreePhase}}
  model = ThreePhaseBlackOilModel(G, rock, fluid, 'disgas', false, 'vapoil', false);
{{- else}}
  model = TwoPhaseOilWaterModel(G, rock, fluid);
{{- end}}

  % wells
  W = [];
{{- range .Wells}}
  W = verticalWell(W, G, rock, {{.I}}, {{.J}}, ({{.KTop}}:{{.KBottom}}), ...
    'Type', '{{.Control}}', 'Val', {{.Value}}, 'Radius', 0.1, ...
    'Name', '{{.Name}}', 'Comp_i', [{{.Comp}}]);
{{- if .BHPLim}}
  W(end).lims = struct('bhp', {{.BHPLim}});
{{- end}}
{{- end}}

  % schedule
  dt = [{{.Timesteps}}]*day;
  schedule = simpleSchedule(dt, 'W', W);
  state0 = initResSol(G, {{.InitialP}}*barsa, [{{.InitialSat}}]);

  % solver
  solver = NonLinearSolver('maxIterations', {{.MaxIterations}});
  [wellSols, states, report] = simulateScheduleAD(state0, model, schedule, 'NonLinearSolver', solver);

  % export
  nt = numel(states);
  nc = G.cells.num;
  nw = numel(W);
  {{index .Vars "time"}} = cumsum(dt(1:nt)) / day;
  {{index .Vars "pressure"}} = zeros(nc, nt);
  {{index .Vars "sw"}} = zeros(nc, nt);
  {{index .Vars "so"}} = zeros(nc, nt);
{{- if .ThreePhase}}
  {{index .Vars "sg"}} = zeros(nc, nt);
{{- end}}
  {{index .Vars "wellBHP"}} = zeros(nt, nw);
  {{index .Vars "wellOilRate"}} = zeros(nt, nw);
  {{index .Vars "wellWaterRate"}} = zeros(nt, nw);
{{- if .ThreePhase}}
  {{index .Vars "wellGasRate"}} = zeros(nt, nw);
{{- end}}
  for k = 1:nt
    {{index .Vars "pressure"}}(:, k) = states{k}.pressure / barsa;
    {{index .Vars "sw"}}(:, k) = states{k}.s(:, 1);
    {{index .Vars "so"}}(:, k) = states{k}.s(:, 2);
{{- if .ThreePhase}}
    {{index .Vars "sg"}}(:, k) = states{k}.s(:, 3);
{{- end}}
    for w = 1:nw
      ws = wellSols{k}(w);
      {{index .Vars "wellBHP"}}(k, w) = ws.bhp / barsa;
      {{index .Vars "wellOilRate"}}(k, w) = -ws.qOs * day;
      {{index .Vars "wellWaterRate"}}(k, w) = -ws.qWs * day;
{{- if .ThreePhase}}
      {{index .Vars "wellGasRate"}}(k, w) = -ws.qGs * day;
{{- end}}
    end
  end
  {{index .Vars "wellNames"}} = {W.name};
  {{index .Vars "converged"}} = true;
  for k = 1:numel(report.ControlstepReports)
    {{index .Vars "converged"}} = {{index .Vars "converged"}} && report.ControlstepReports{k}.Converged;
  end
  {{index .Vars "wallTime"}} = toc(clock0);
  save('{{.ResultsFile}}', '{{index .Vars "time"}}', '{{index .Vars "pressure"}}', '{{index .Vars "sw"}}', '{{index .Vars "so"}}', ...
{{- if .ThreePhase}}
    '{{index .Vars "sg"}}', '{{index .Vars "wellGasRate"}}', ...
{{- end}}
    '{{index .Vars "wellBHP"}}', '{{index .Vars "wellOilRate"}}', '{{index .Vars "wellWaterRate"}}', ...
    '{{index .Vars "wellNames"}}', '{{index .Vars "wallTime"}}', '{{index .Vars "converged"}}', '-v7');
catch err
  disp(['simctl error: ', err.message]);
  exit(1);
end
exit(0);
`))

// GenerateScript строит скрипт MRST для запроса. Индексы скважин
// переводятся в 1-based, единицы канонические (м, бар, сП, кг/м³, м³/сут).
func GenerateScript(req *domain.SimRequest, mrstPath, resultsFile string) (string, error) {
	if req == nil {
		return "", apperror.ErrNilRequest
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	three := req.HasGasWells()
	f := req.Fluid
	data := scriptData{
		Title:         sanitizeComment(req.Title),
		MRSTPath:      quote(mrstPath),
		ResultsFile:   quote(resultsFile),
		NX:            req.Grid.NX,
		NY:            req.Grid.NY,
		NZ:            req.Grid.NZ,
		DX:            num(req.Grid.DX),
		DY:            num(req.Grid.DY),
		DZ:            num(req.Grid.DZ),
		DepthTop:      num(req.Grid.DepthTop),
		Porosity:      num(req.Grid.Porosity),
		PermX:         num(req.Grid.PermX),
		PermY:         num(req.Grid.PermY),
		PermZ:         num(req.Grid.PermZ),
		ThreePhase:    three,
		InitialP:      num(f.InitialPressure),
		Timesteps:     joinNums(req.Timesteps()),
		MaxIterations: maxIterations,
		Vars: map[string]string{
			"time": VarTime, "pressure": VarPressure, "sw": VarSw, "so": VarSo, "sg": VarSg,
			"wellBHP": VarWellBHP, "wellOilRate": VarWellOil, "wellWaterRate": VarWellWater,
			"wellGasRate": VarWellGas, "wellNames": VarWellNames, "wallTime": VarWallTime,
			"converged": VarConverged,
		},
	}

	sw := f.InitialWaterSat
	if three {
		data.Phases = "WOG"
		data.Mu = joinNums([]float64{f.WaterViscosity, f.OilViscosity, f.GasViscosity})
		data.Rho = joinNums([]float64{f.WaterDensity, f.OilDensity, f.GasDensity})
		data.InitialSat = joinNums([]float64{sw, 1 - sw, 0})
	} else {
		data.Phases = "WO"
		data.Mu = joinNums([]float64{f.WaterViscosity, f.OilViscosity})
		data.Rho = joinNums([]float64{f.WaterDensity, f.OilDensity})
		data.InitialSat = joinNums([]float64{sw, 1 - sw})
	}

	for _, w := range req.Wells {
		data.Wells = append(data.Wells, scriptWellFor(w, three))
	}

	var buf bytes.Buffer
	if err := scriptTemplate.Execute(&buf, data); err != nil {
		return "", apperror.Wrap(err, apperror.CodeInternal, "render mrst script")
	}
	return buf.String(), nil
}

func scriptWellFor(w domain.WellConfig, three bool) scriptWell {
	sw := scriptWell{
		Name:    quote(w.Name),
		I:       w.I + 1,
		J:       w.J + 1,
		KTop:    w.KTop + 1,
		KBottom: w.KBottom + 1,
		Comp:    composition(w.PrimaryPhase(), three),
	}

	switch {
	case w.HasRateTarget():
		sw.Control = "rate"
		// в MRST закачка положительна, отбор отрицателен
		sign := ""
		if w.Type == domain.WellProducer {
			sign = "-"
		}
		sw.Value = fmt.Sprintf("%s%s/day", sign, num(w.Rate))
		if w.HasBHPTarget() {
			sw.BHPLim = num(w.BHP) + "*barsa"
		}
	case w.HasBHPTarget():
		sw.Control = "bhp"
		sw.Value = num(w.BHP) + "*barsa"
	default:
		// скважина без цели: нулевой дебит
		sw.Control = "rate"
		sw.Value = "0"
	}
	return sw
}

func composition(p domain.Phase, three bool) string {
	var comp []string
	switch p {
	case domain.PhaseWater:
		comp = []string{"1", "0", "0"}
	case domain.PhaseGas:
		comp = []string{"0", "0", "1"}
	default:
		comp = []string{"0", "1", "0"}
	}
	if !three {
		comp = comp[:2]
	}
	return strings.Join(comp, ", ")
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func joinNums(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = num(v)
	}
	return strings.Join(parts, ", ")
}

// quote экранирует одинарные кавычки строкового литерала
func quote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func sanitizeComment(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}
