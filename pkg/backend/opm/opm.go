// Package opm адаптер OPM Flow: пишет колоду, запускает симулятор напрямую или
// в контейнере и читает бинарные рестарт и сводку.
package opm

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
	"reservoir/pkg/deck"
	"reservoir/pkg/domain"
	"reservoir/pkg/logger"
)

const (
	Name = "opm"

	// CaseName базовое имя колоды и выходных файлов
	CaseName = "CASE"

	DefaultBinary   = "flow"
	DefaultImage    = "openporousmedia/opmreleases:latest"
	DefaultTimeout  = 600 * time.Second
	DefaultMaxCells = 100_000

	healthTimeout = 30 * time.Second
	containerDir  = "/work"
)

func init() {
	backend.RegisterFactory(Name, func(cfg config.BackendsConfig) (backend.Backend, error) {
		if !cfg.OPM.Enabled {
			return nil, backend.ErrDisabled
		}
		return New(cfg.OPM), nil
	})
}

// Backend адаптер OPM Flow
type Backend struct {
	cfg    config.OPMConfig
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

// New создаёт адаптер; пустые поля конфигурации заменяются значениями по
// умолчанию
func New(cfg config.OPMConfig, opts ...Option) *Backend {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Mode == "" {
		cfg.Mode = "direct"
	}
	if cfg.DockerBinary == "" {
		cfg.DockerBinary = "docker"
	}
	if cfg.Image == "" {
		cfg.Image = DefaultImage
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

// Version версия симулятора, известная после HealthCheck
func (b *Backend) Version() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.version == "" {
		return "unknown"
	}
	return b.version
}

// Validate проверяет ограничения адаптера: общие правила запроса, потолок
// числа ячеек и положение скважин внутри сетки
func (b *Backend) Validate(req *domain.SimRequest) []string {
	if req == nil {
		return []string{apperror.ErrNilRequest.Message}
	}
	problems := req.ValidationErrors().Messages()

	if cells := req.Grid.TotalCells(); cells > b.cfg.MaxCells {
		problems = append(problems,
			fmt.Sprintf("grid has %d cells, OPM backend limit is %d", cells, b.cfg.MaxCells))
	}
	for _, w := range req.Wells {
		if !req.Grid.Contains(w.I, w.J, w.KTop) || !req.Grid.Contains(w.I, w.J, w.KBottom) {
			problems = append(problems, fmt.Sprintf("well %s at (%d, %d, %d-%d) is outside the %dx%dx%d grid",
				w.Name, w.I, w.J, w.KTop, w.KBottom, req.Grid.NX, req.Grid.NY, req.Grid.NZ))
		}
	}
	return problems
}

// HealthCheck проверяет, что симулятор (или образ) доступен
func (b *Backend) HealthCheck(ctx context.Context) error {
	cmd := backend.Command{Binary: b.cfg.Binary, Args: []string{"--version"}, Timeout: healthTimeout}
	if b.cfg.Mode == "docker" {
		cmd = backend.Command{
			Binary:  b.cfg.DockerBinary,
			Args:    []string{"image", "inspect", "--format", "{{.Id}}", b.cfg.Image},
			Timeout: healthTimeout,
		}
	}

	exe, err := b.runner.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if exe.ExitCode != 0 {
		return backend.NonZeroExit(cmd.Binary, exe)
	}

	if b.cfg.Mode != "docker" {
		if v := firstLine(exe.Stdout); v != "" {
			b.mu.Lock()
			b.version = v
			b.mu.Unlock()
		}
	}
	return nil
}

// Run пишет колоду в workDir и запускает симулятор. Ошибки запуска и
// ненулевой код выхода возвращаются как ошибки инфраструктуры.
func (b *Backend) Run(ctx context.Context, req *domain.SimRequest, workDir string, progress backend.ProgressFunc) (backend.RawResult, error) {
	log := logger.WithBackend(Name).With("work_dir", workDir, "cells", req.Grid.TotalCells())
	progress.Report(backend.ProgressStart, "writing deck")

	absDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInfrastructure, "resolve work dir")
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInfrastructure, "create work dir")
	}

	text, err := deck.Generate(req)
	if err != nil {
		return nil, err
	}
	out := &backend.OPMOutput{
		WorkDir:     absDir,
		DeckPath:    filepath.Join(absDir, CaseName+".DATA"),
		CaseName:    CaseName,
		RestartPath: filepath.Join(absDir, CaseName+".UNRST"),
		SpecPath:    filepath.Join(absDir, CaseName+".SMSPEC"),
		SummaryPath: filepath.Join(absDir, CaseName+".UNSMRY"),
		LogPath:     filepath.Join(absDir, CaseName+".PRT"),
	}
	if err := os.WriteFile(out.DeckPath, []byte(text), 0o644); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInfrastructure, "write deck")
	}
	progress.Report(backend.ProgressInputWritten, "deck written")
	log.Debug("deck written", "path", out.DeckPath, "bytes", len(text))

	exe, err := b.runner.Run(ctx, b.command(absDir))
	if exe != nil {
		out.Exec = *exe
	}
	if err != nil {
		log.Error("simulator run failed", "error", err)
		return nil, err
	}

	errs, warnings := classify(exe, readLog(out.LogPath))
	if exe.ExitCode == 0 {
		// при нулевом коде это только предупреждения: исход решает
		// ParseResult по числу записанных шагов отчёта
		warnings = append(warnings, errs...)
		errs = nil
	}
	out.Warnings = warnings
	if exe.ExitCode != 0 {
		msg := fmt.Sprintf("%s exited with code %d", b.cfg.Binary, exe.ExitCode)
		if len(errs) > 0 {
			msg += ": " + strings.Join(errs, "; ")
		}
		log.Error("simulator reported errors", "exit_code", exe.ExitCode, "errors", len(errs))
		return nil, apperror.New(apperror.CodeNonZeroExit, msg).WithDetails("exit_code", exe.ExitCode)
	}

	progress.Report(backend.ProgressRunComplete, "simulation finished")
	log.Info("simulator finished", "duration", exe.Duration, "warnings", len(warnings))
	return out, nil
}

// command собирает командную строку для режима direct или docker
func (b *Backend) command(dir string) backend.Command {
	if b.cfg.Mode == "docker" {
		args := []string{"run", "--rm", "-v", dir + ":" + containerDir, "-w", containerDir, b.cfg.Image, DefaultBinary}
		args = append(args, b.cfg.ExtraArgs...)
		args = append(args, "--output-dir="+containerDir, CaseName+".DATA")
		return backend.Command{Binary: b.cfg.DockerBinary, Args: args, Dir: dir, Timeout: b.cfg.Timeout}
	}

	args := append([]string{}, b.cfg.ExtraArgs...)
	args = append(args, "--output-dir="+dir, filepath.Join(dir, CaseName+".DATA"))
	return backend.Command{Binary: b.cfg.Binary, Args: args, Dir: dir, Timeout: b.cfg.Timeout}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
