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

	"reservoir/pkg/apperror"
	"reservoir/pkg/domain"
	"reservoir/pkg/jobs"
	"reservoir/pkg/logger"
)

// defaultPollInterval период вывода прогресса, если в конфигурации не задан
const defaultPollInterval = 2 * time.Second

// jobOutcome итог одной задачи для вывода
type jobOutcome struct {
	Input           string      `json:"input" yaml:"input"`
	Job             jobs.Status `json:"job" yaml:"job"`
	Timesteps       int         `json:"timesteps" yaml:"timesteps"`
	CellCount       int         `json:"cell_count" yaml:"cell_count"`
	WallTimeSeconds float64     `json:"wall_time_seconds" yaml:"wall_time_seconds"`
	Warnings        []string    `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	ResultPath      string      `json:"result_path,omitempty" yaml:"result_path,omitempty"`

	result *domain.UnifiedResult
}

func (o *jobOutcome) failed() bool {
	return o.Job.State != domain.StatusCompleted
}

// execute подаёт задачу и ждёт её завершения. Прогресс пишется в progress,
// если он не nil. Отмена ctx отменяет задачу.
func (rt *runtime) execute(ctx context.Context, input string, req *domain.SimRequest, backendName string, progress io.Writer) (*jobOutcome, error) {
	id, err := rt.orch.Submit(ctx, req, backendName)
	if err != nil {
		return nil, err
	}
	log := logger.WithJob(id).With("backend", backendName, "input", input)
	log.Info("job submitted")

	interval := rt.cfg.Jobs.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	var st jobs.Status
	for {
		waitCtx, cancel := context.WithTimeout(ctx, interval)
		st, err = rt.orch.Wait(waitCtx, id)
		cancel()
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			_ = rt.orch.Cancel(id) //nolint:errcheck // задача существует, Cancel не падает
			log.Warn("job cancelled by caller")
			// дожидаемся записи финального состояния
			st, _ = rt.orch.Wait(context.Background(), id) //nolint:errcheck // без дедлайна Wait не возвращает ошибку
			break
		}
		if progress != nil {
			fmt.Fprintf(progress, "[%s] %s %3.0f%% %s\n", id[:8], backendName, st.Progress*100, st.Message)
		}
	}

	out := &jobOutcome{Input: input, Job: st}
	res, err := rt.orch.Result(id)
	if err != nil {
		return out, err
	}
	out.result = res
	out.Timesteps = len(res.Timesteps)
	out.CellCount = res.Metadata.CellCount
	out.WallTimeSeconds = res.Metadata.WallTimeSeconds
	out.Warnings = res.Metadata.Warnings
	log.Info("job finished", "state", st.State, "duration", st.Duration())
	return out, ctx.Err()
}

func writeOutcome(w io.Writer, o *jobOutcome) {
	fmt.Fprintf(w, "Job:\t%s\n", o.Job.ID)
	fmt.Fprintf(w, "Input:\t%s\n", o.Input)
	fmt.Fprintf(w, "Backend:\t%s\n", o.Job.Backend)
	state := string(o.Job.State)
	if o.Job.Cached {
		state += " (cached)"
	}
	fmt.Fprintf(w, "State:\t%s\n", state)
	if o.Job.Error != "" {
		fmt.Fprintf(w, "Error:\t%s\n", o.Job.Error)
	}
	fmt.Fprintf(w, "Duration:\t%s\n", o.Job.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "Timesteps:\t%d\n", o.Timesteps)
	fmt.Fprintf(w, "Cells:\t%d\n", o.CellCount)
	if o.ResultPath != "" {
		fmt.Fprintf(w, "Result:\t%s\n", o.ResultPath)
	}
	writeList(w, "Warnings", o.Warnings)
}

// resultPath путь файла результата в dir
func resultPath(dir, input, backendName string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(dir, fmt.Sprintf("%s.%s.json", base, backendName))
}

func pickBackend(flag string, req *domain.SimRequest) string {
	if flag != "" {
		return flag
	}
	if req.Backend != "" {
		return req.Backend
	}
	return "opm"
}

func newRunCommand(flags *globalFlags) *cobra.Command {
	var (
		backendName string
		resultOut   string
		timeout     time.Duration
		quiet       bool
	)
	cmd := &cobra.Command{
		Use:   "run <request.yaml|deck.DATA>",
		Short: "Run one simulation and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			req, err := loadRequest(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := withTimeout(cmd.Context(), timeout)
			defer cancel()

			rt, err := newRuntime(ctx, configFrom(cmd))
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, rt.close()) }()

			var progress io.Writer
			if !quiet {
				progress = cmd.ErrOrStderr()
			}
			out, err := rt.execute(ctx, args[0], req, pickBackend(backendName, req), progress)
			if out == nil {
				return err
			}
			if out.result != nil && resultOut != "" {
				if serr := domain.SaveResult(resultOut, out.result); serr != nil {
					return errors.Join(err, serr)
				}
				out.ResultPath = resultOut
			}
			if perr := newPrinter(cmd.OutOrStdout(), flags).emit(out, func(w io.Writer) { writeOutcome(w, out) }); perr != nil {
				return perr
			}
			if err != nil {
				return err
			}
			if out.failed() {
				return errJobFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&backendName, "backend", "b", "", "backend name (default: request backend or opm)")
	cmd.Flags().StringVarP(&resultOut, "result", "r", "", "write the unified result as JSON to this file")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall deadline; the job is cancelled when it expires")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	return cmd
}

func newBatchCommand(flags *globalFlags) *cobra.Command {
	var (
		backendName string
		outDir      string
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "batch <input>...",
		Short: "Run several requests through the bounded job queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			reqs := make([]*domain.SimRequest, len(args))
			for i, path := range args {
				if reqs[i], err = loadRequest(path); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
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

			outcomes := make([]*jobOutcome, len(args))
			g, gctx := errgroup.WithContext(ctx)
			// не больше, чем пропускает оркестратор, чтобы не получать отказы по лимиту
			if cfg.Jobs.MaxConcurrent > 0 {
				g.SetLimit(cfg.Jobs.MaxConcurrent)
			}
			var mu sync.Mutex
			var problems []error
			for i := range args {
				g.Go(func() error {
					name := pickBackend(backendName, reqs[i])
					out, err := rt.execute(gctx, args[i], reqs[i], name, nil)
					if err != nil && out == nil {
						out = &jobOutcome{Input: args[i], Job: jobs.Status{Backend: name, State: domain.StatusFailed, Error: err.Error(), ErrorCode: string(apperror.Code(err))}}
					}
					if out.result != nil && outDir != "" {
						path := resultPath(outDir, args[i], name)
						if serr := domain.SaveResult(path, out.result); serr != nil {
							err = errors.Join(err, serr)
						} else {
							out.ResultPath = path
						}
					}
					outcomes[i] = out
					if err != nil {
						mu.Lock()
						problems = append(problems, fmt.Errorf("%s: %w", args[i], err))
						mu.Unlock()
					}
					// ошибки одной задачи не останавливают остальные
					return nil
				})
			}
			_ = g.Wait() //nolint:errcheck // горутины всегда возвращают nil

			if perr := newPrinter(cmd.OutOrStdout(), flags).emit(outcomes, func(w io.Writer) { writeBatch(w, outcomes) }); perr != nil {
				return perr
			}
			for _, p := range problems {
				logger.Log.Warn("batch job problem", "error", p)
			}
			for _, o := range outcomes {
				if o.failed() {
					return errJobFailed
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&backendName, "backend", "b", "", "backend for all inputs (default: per request)")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "directory for <input>.<backend>.json results")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall deadline for the whole batch")
	return cmd
}

func writeBatch(w io.Writer, outcomes []*jobOutcome) {
	fmt.Fprintln(w, "INPUT\tBACKEND\tJOB\tSTATE\tDURATION\tTIMESTEPS\tERROR")
	for _, o := range outcomes {
		id := o.Job.ID
		if len(id) > 8 {
			id = id[:8]
		}
		if id == "" {
			id = "-"
		}
		state := string(o.Job.State)
		if o.Job.Cached {
			state += "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n", o.Input, o.Job.Backend, id, state,
			o.Job.Duration().Round(time.Millisecond), o.Timesteps, o.Job.ErrorCode)
	}
}
