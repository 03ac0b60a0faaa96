package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"reservoir/pkg/audit"
	"reservoir/pkg/compare"
	"reservoir/pkg/config"
	"reservoir/pkg/domain"
	"reservoir/pkg/metrics"
	"reservoir/pkg/report"
	"reservoir/pkg/telemetry"
)

// runComparison сравнивает результаты и отмечает сравнение в метриках,
// трассировке и аудите
func runComparison(ctx context.Context, a, b *domain.UnifiedResult, opts compare.Options) *compare.Report {
	_, span := telemetry.StartSpan(ctx, "compare.Compare")
	start := time.Now()

	rep := compare.Compare(a, b, opts)

	span.SetAttributes(telemetry.CompareAttributes(string(rep.MatchQuality), rep.OverallNRMSE, rep.ComparedTimesteps, rep.CellMetricsEnabled)...)
	telemetry.EndSpan(span, nil)
	metrics.Get().RecordComparison(string(rep.MatchQuality))

	entry := audit.NewEntry(audit.ActionCompare).
		Resource(audit.ResourceComparison, rep.LabelA+" vs "+rep.LabelB).
		Duration(time.Since(start)).
		Meta("quality", string(rep.MatchQuality)).
		Meta("nrmse", rep.OverallNRMSE)
	if !rep.Valid() {
		entry.Outcome(audit.OutcomeRejected)
	}
	_ = audit.Log(ctx, entry.Build()) //nolint:errcheck // аудит не влияет на результат
	return rep
}

// reportFlags флаги экспорта отчёта сравнения
type reportFlags struct {
	path      string
	format    string
	title     string
	timesteps bool
}

func (f *reportFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "report", "", "export the comparison report to this file")
	cmd.Flags().StringVar(&f.format, "report-format", "", "report format: json, csv, markdown, html, xlsx, pdf (default: from extension)")
	cmd.Flags().StringVar(&f.title, "report-title", "", "report title")
	cmd.Flags().BoolVar(&f.timesteps, "report-timesteps", true, "include per-timestep tables in the report")
}

// export пишет отчёт в path; пустой path ничего не делает
func (f *reportFlags) export(ctx context.Context, cfg *config.Config, path string, rep *compare.Report) error {
	if path == "" {
		return nil
	}
	var format report.Format
	if f.format != "" {
		var err error
		if format, err = report.ParseFormat(f.format); err != nil {
			return err
		}
	} else if filepath.Ext(path) == "" {
		// без расширения берём формат по умолчанию из конфигурации
		var err error
		if format, err = report.ParseFormat(cfg.Report.DefaultFormat); err != nil {
			return err
		}
		path += format.Extension()
	}

	opts := report.OptionsFromConfig(cfg.Report)
	opts.Title = f.title
	opts.IncludeTimesteps = f.timesteps
	return report.ExportFile(ctx, path, format, &report.Data{Report: rep, Options: opts})
}

func writeComparison(w io.Writer, rep *compare.Report) {
	fmt.Fprintf(w, "Compare:\t%s vs %s\n", rep.LabelA, rep.LabelB)
	fmt.Fprintf(w, "Quality:\t%s\n", rep.MatchQuality)
	fmt.Fprintf(w, "Timesteps:\t%d matched (A: %d, B: %d, tolerance %g d)\n",
		rep.ComparedTimesteps, rep.TimestepsA, rep.TimestepsB, rep.ToleranceDays)
	if rep.CellMetricsEnabled {
		fmt.Fprintf(w, "NRMSE:\t%.6f\n", rep.OverallNRMSE)
		fmt.Fprintf(w, "MAE:\t%.6f\n", rep.OverallMAE)
		fmt.Fprintf(w, "Max error:\t%.6f\n", rep.OverallMaxError)
	}
	if len(rep.Fields) > 0 {
		fmt.Fprintln(w, "FIELD\tMEAN NRMSE\tMEAN MAE\tMAX ERROR\tMEAN R2")
		for _, f := range rep.Fields {
			fmt.Fprintf(w, "%s\t%.6f\t%.6f\t%.6f\t%.4f\n", f.Field, f.MeanNRMSE, f.MeanMAE, f.MaxError, f.MeanR2)
		}
	}
	writeList(w, "Warnings", rep.Warnings)
}

// comparisonView вывод compare без шагов для --output json/yaml, если
// отчёт не запрошен целиком
func comparisonView(rep *compare.Report, full bool) *compare.Report {
	if full {
		return rep
	}
	view := *rep
	view.Timesteps = nil
	return &view
}

func newCompareCommand(flags *globalFlags) *cobra.Command {
	var (
		tolerance      float64
		labelA, labelB string
		full           bool
		rf             reportFlags
	)
	cmd := &cobra.Command{
		Use:   "compare <result-a.json> <result-b.json>",
		Short: "Compare two unified results",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)
			a, err := domain.LoadResult(args[0])
			if err != nil {
				return err
			}
			b, err := domain.LoadResult(args[1])
			if err != nil {
				return err
			}
			if tolerance <= 0 {
				tolerance = cfg.Compare.ToleranceDays
			}

			rep := runComparison(cmd.Context(), a, b, compare.Options{LabelA: labelA, LabelB: labelB, ToleranceDays: tolerance})
			if err := rf.export(cmd.Context(), cfg, rf.path, rep); err != nil {
				return err
			}
			return newPrinter(cmd.OutOrStdout(), flags).emit(comparisonView(rep, full), func(w io.Writer) { writeComparison(w, rep) })
		},
	}
	cmd.Flags().Float64Var(&tolerance, "tolerance", 0, "time alignment tolerance in days (default: compare.tolerance_days)")
	cmd.Flags().StringVar(&labelA, "label-a", "", "label of the first result (default: its backend)")
	cmd.Flags().StringVar(&labelB, "label-b", "", "label of the second result (default: its backend)")
	cmd.Flags().BoolVar(&full, "full", false, "include per-timestep metrics in json/yaml output")
	rf.register(cmd)
	return cmd
}

// benchOutput вывод команды bench
type benchOutput struct {
	Runs        []*jobOutcome     `json:"runs" yaml:"runs"`
	Comparisons []*compare.Report `json:"comparisons" yaml:"comparisons"`
}

func newBenchCommand(flags *globalFlags) *cobra.Command {
	var (
		backends []string
		outDir   string
		timeout  time.Duration
		rf       reportFlags
	)
	cmd := &cobra.Command{
		Use:   "bench <request.yaml|deck.DATA>",
		Short: "Run one request on several backends concurrently and compare the results",
		Long:  "Runs the request on every selected backend at once. The first backend is the reference; every other result is compared against it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			req, err := loadRequest(args[0])
			if err != nil {
				return err
			}
			if outDir != "" {
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return err
				}
			}

			ctx, cancel := withTimeout(cmd.Context(), timeout)
			defer cancel()

			cfg := configFrom(cmd)
			rt, err := newRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, rt.close()) }()

			if len(backends) == 0 {
				backends = rt.registry.Names()
			}
			if len(backends) < 2 {
				return fmt.Errorf("bench needs at least two backends, have %v", backends)
			}

			out := &benchOutput{Runs: make([]*jobOutcome, len(backends))}
			progress := cmd.ErrOrStderr()
			var progressMu sync.Mutex
			g, gctx := errgroup.WithContext(ctx)
			for i, name := range backends {
				g.Go(func() error {
					o, err := rt.execute(gctx, args[0], req, name, &lockedWriter{mu: &progressMu, w: progress})
					if o == nil {
						// отказ при подаче: остальные бэкенды без него не сравнить
						return fmt.Errorf("%s: %w", name, err)
					}
					out.Runs[i] = o
					if o.result != nil && outDir != "" {
						path := resultPath(outDir, args[0], name)
						if err := domain.SaveResult(path, o.result); err != nil {
							return err
						}
						o.ResultPath = path
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			ref := out.Runs[0]
			for _, run := range out.Runs[1:] {
				rep := runComparison(ctx, ref.result, run.result, compare.Options{
					LabelA:        ref.Job.Backend,
					LabelB:        run.Job.Backend,
					ToleranceDays: cfg.Compare.ToleranceDays,
				})
				out.Comparisons = append(out.Comparisons, rep)
				if err := rf.export(ctx, cfg, benchReportPath(rf.path, run.Job.Backend, len(out.Runs) > 2), rep); err != nil {
					return err
				}
			}

			view := &benchOutput{Runs: out.Runs}
			for _, rep := range out.Comparisons {
				view.Comparisons = append(view.Comparisons, comparisonView(rep, false))
			}
			if err := newPrinter(cmd.OutOrStdout(), flags).emit(view, func(w io.Writer) { writeBench(w, out) }); err != nil {
				return err
			}
			for _, run := range out.Runs {
				if run.failed() {
					return errJobFailed
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&backends, "backend", "b", nil, "backends to run, first is the reference (default: all registered)")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "directory for per-backend result files")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall deadline for all runs")
	rf.register(cmd)
	return cmd
}

// benchReportPath при нескольких сравнениях добавляет имя бэкенда к файлу
func benchReportPath(path, backendName string, multi bool) string {
	if path == "" || !multi {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + backendName + ext
}

func writeBench(w io.Writer, out *benchOutput) {
	writeBatch(w, out.Runs)
	for _, rep := range out.Comparisons {
		fmt.Fprintln(w)
		writeComparison(w, rep)
	}
}

// lockedWriter сериализует вывод прогресса параллельных задач
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
