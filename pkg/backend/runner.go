package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"reservoir/pkg/apperror"
	"reservoir/pkg/logger"
)

// DefaultMaxOutputBytes предел захвата stdout и stderr каждого процесса
const DefaultMaxOutputBytes = 4 << 20

// Command описание запуска подпроцесса
type Command struct {
	Binary  string
	Args    []string
	Dir     string
	Env     []string // добавляется к окружению текущего процесса
	Timeout time.Duration
}

// Runner запускает подпроцесс. Ненулевой код выхода не ошибка: он
// возвращается в Execution, классификацию делает адаптер.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Execution, error)
}

// ExecRunner запускает процессы через os/exec
type ExecRunner struct {
	MaxOutputBytes int64
	// WaitDelay сколько ждать закрытия потоков после убийства процесса
	WaitDelay time.Duration
}

// NewExecRunner создаёт Runner с настройками по умолчанию
func NewExecRunner() *ExecRunner {
	return &ExecRunner{MaxOutputBytes: DefaultMaxOutputBytes, WaitDelay: 5 * time.Second}
}

// Run выполняет команду под таймаутом. По истечении таймаута или отмене ctx
// процесс убивается, возвращается ошибка TIMEOUT или CANCELLED.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Execution, error) {
	path, err := exec.LookPath(cmd.Binary)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeBinaryNotFound,
			fmt.Sprintf("executable %q not found", cmd.Binary)).WithDetails("binary", cmd.Binary)
	}

	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(runCtx, path, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	c.WaitDelay = r.WaitDelay

	maxOut := r.MaxOutputBytes
	if maxOut <= 0 {
		maxOut = DefaultMaxOutputBytes
	}
	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: maxOut}
	stderr := &limitedWriter{w: &stderrBuf, max: maxOut}
	c.Stdout = stdout
	c.Stderr = stderr

	log := logger.Log.With("binary", cmd.Binary, "dir", cmd.Dir)
	log.Debug("starting process", "args", cmd.Args, "timeout", cmd.Timeout)

	started := time.Now()
	runErr := c.Run()
	exe := &Execution{
		ExitCode:  -1,
		Stdout:    stdoutBuf.String(),
		Stderr:    stderrBuf.String(),
		Duration:  time.Since(started),
		Truncated: stdout.truncated || stderr.truncated,
	}
	if exe.Truncated {
		log.Warn("process output truncated", "discarded", stdout.discarded+stderr.discarded)
	}

	if runErr == nil {
		exe.ExitCode = 0
		log.Debug("process finished", "duration", exe.Duration)
		return exe, nil
	}

	// Проверка контекста раньше ExitError: убитый процесс тоже даёт ExitError
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		log.Warn("process killed on timeout", "timeout", cmd.Timeout)
		return exe, apperror.Wrap(runErr, apperror.CodeTimeout,
			fmt.Sprintf("%s timed out after %s", cmd.Binary, cmd.Timeout)).WithDetails("timeout", cmd.Timeout.String())
	case ctx.Err() != nil:
		log.Info("process cancelled")
		return exe, apperror.Wrap(ctx.Err(), apperror.CodeCancelled, fmt.Sprintf("%s cancelled", cmd.Binary))
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		exe.ExitCode = exitErr.ExitCode()
		log.Debug("process exited non-zero", "exit_code", exe.ExitCode, "duration", exe.Duration)
		return exe, nil
	}

	log.Error("process failed to run", "error", runErr)
	return exe, apperror.Wrap(runErr, apperror.CodeInfrastructure, fmt.Sprintf("run %s", cmd.Binary))
}

// limitedWriter пишет не более max байт, остальное молча отбрасывает
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}

// NonZeroExit ошибка для ненулевого кода выхода с хвостом stderr
func NonZeroExit(binary string, exe *Execution) error {
	return apperror.Newf(apperror.CodeNonZeroExit, "%s exited with code %d: %s",
		binary, exe.ExitCode, Tail(exe.Stderr, 10)).WithDetails("exit_code", exe.ExitCode)
}

// Tail последние n непустых строк текста через "; "
func Tail(text string, n int) string {
	lines := bytes.Split(bytes.TrimSpace([]byte(text)), []byte("\n"))
	var kept [][]byte
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if line := bytes.TrimSpace(lines[i]); len(line) > 0 {
			kept = append([][]byte{line}, kept...)
		}
	}
	return string(bytes.Join(kept, []byte("; ")))
}
