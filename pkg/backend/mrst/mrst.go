// Package mrst адаптер MRST: генерирует скрипт решателя из запроса, выполняет
// его интерпретатором (Octave или MATLAB) и разбирает MAT-файл результатов.
package mrst

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"reservoir/pkg/apperror"
	"reservoir/pkg/backend"
	"reservoir/pkg/config"
	"reservoir/pkg/domain"
	"reservoir/pkg/logger"
)

const (
	Name = "mrst"

	DefaultInterpreter = "octave"
	DefaultTimeout     = 900 * time.Second
	DefaultMaxCells    = 1_000_000

	healthTimeout = 30 * time.Second
)

// Аргументы интерпретатора, после которых ожидается выражение, а не путь
var evalFlags = map[string]bool{"--eval": true, "-r": true, "-batch": true}

func init() {
	backend.RegisterFactory(Name, func(cfg config.BackendsConfig) (backend.Backend, error) {
		if !cfg.MRST.Enabled {
			return nil, backend.ErrDisabled
		}
		return New(cfg.MRST), nil
	})
}

// Backend адаптер MRST
type Backend struct {
	cfg    config.MRSTConfig
	runner backend.Runner

	mu      sync.RWMutex
	version string
}

// Option настройка адаптера
type Option func(*Backend)

// WithRunner подменяет запуск подпроцессов
func WithRunner(r backend.Runner) Option {
	return func(b *Backend) { b.runner = r }
}

// New создаёт адаптер
func New(cfg config.MRSTConfig, opts ...Option) *Backend {
	if cfg.Interpreter == "" {
		cfg.Interpreter = DefaultInterpreter
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxCells <= 0 {
		cfg.MaxCells = DefaultMaxCells
	}

	b := &Backend{cfg: cfg, runner: backend.NewExecRunner()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Version() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.version == "" {
		return "unknown"
	}
	return b.version
}

// Validate проверяет запрос. Потолок ячеек выше, чем у OPM: расчёт идёт
// пакетно.
func (b *Backend) Validate(req *domain.SimRequest) []string {
	if req == nil {
		return []string{apperror.ErrNilRequest.Message}
	}
	problems := req.ValidationErrors().Messages()

	if cells := req.Grid.TotalCells(); cells > b.cfg.MaxCells {
		problems = append(problems,
			fmt.Sprintf("grid has %d cells, MRST backend limit is %d", cells, b.cfg.MaxCells))
	}
	for _, w := range req.Wells {
		if !req.Grid.Contains(w.I, w.J, w.KTop) || !req.Grid.Contains(w.I, w.J, w.KBottom) {
			problems = append(problems, fmt.Sprintf("well %s at (%d, %d, %d-%d) is outside the %dx%dx%d grid",
				w.Name, w.I, w.J, w.KTop, w.KBottom, req.Grid.NX, req.Grid.NY, req.Grid.NZ))
		}
	}
	return problems
}

// HealthCheck запускает интерпретатор с --version
func (b *Backend) HealthCheck(ctx context.Context) error {
	cmd := backend.Command{Binary: b.cfg.Interpreter, Args: []string{"--version"}, Timeout: healthTimeout}
	exe, err := b.runner.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if exe.ExitCode != 0 {
		return backend.NonZeroExit(cmd.Binary, exe)
	}
	if v := strings.TrimSpace(strings.SplitN(exe.Stdout, "\n", 2)[0]); v != "" {
		b.mu.Lock()
		b.version = v
		b.mu.Unlock()
	}
	return nil
}

// Run пишет скрипт в workDir и выполняет его интерпретатором
func (b *Backend) Run(ctx context.Context, req *domain.SimRequest, workDir string, progress backend.ProgressFunc) (backend.RawResult, error) {
	log := logger.WithBackend(Name).With("work_dir", workDir, "cells", req.Grid.TotalCells())
	progress.Report(backend.ProgressStart, "writing script")

	absDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInfrastructure, "resolve work dir")
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInfrastructure, "create work dir")
	}

	out := &backend.MRSTOutput{
		WorkDir:    absDir,
		ScriptPath: filepath.Join(absDir, ScriptName),
		ResultPath: filepath.Join(absDir, ResultsName),
	}
	script, err := GenerateScript(req, b.cfg.MRSTPath, out.ResultPath)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(out.ScriptPath, []byte(script), 0o644); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInfrastructure, "write script")
	}
	progress.Report(backend.ProgressInputWritten, "script written")
	log.Debug("script written", "path", out.ScriptPath, "three_phase", req.HasGasWells())

	exe, err := b.runner.Run(ctx, b.command(out.ScriptPath, absDir))
	if exe != nil {
		out.Exec = *exe
	}
	if err != nil {
		log.Error("interpreter run failed", "error", err)
		return nil, err
	}
	if exe.ExitCode != 0 {
		detail := backend.Tail(exe.Stderr, 10)
		if detail == "" {
			detail = backend.Tail(exe.Stdout, 10)
		}
		log.Error("interpreter exited non-zero", "exit_code", exe.ExitCode)
		return nil, apperror.Newf(apperror.CodeNonZeroExit, "%s exited with code %d: %s",
			b.cfg.Interpreter, exe.ExitCode, detail).WithDetails("exit_code", exe.ExitCode)
	}

	progress.Report(backend.ProgressRunComplete, "simulation finished")
	log.Info("interpreter finished", "duration", exe.Duration)
	return out, nil
}

// command добавляет путь к скрипту или выражение run(...) после флага eval
func (b *Backend) command(scriptPath, dir string) backend.Command {
	args := append([]string{}, b.cfg.InterpreterArgs...)
	if n := len(args); n > 0 && evalFlags[args[n-1]] {
		args = append(args, fmt.Sprintf("run('%s')", quote(scriptPath)))
	} else {
		args = append(args, scriptPath)
	}
	return backend.Command{Binary: b.cfg.Interpreter, Args: args, Dir: dir, Timeout: b.cfg.Timeout}
}
