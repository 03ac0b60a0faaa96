package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reservoir/internal/testutil"
	"reservoir/pkg/apperror"
	"reservoir/pkg/backend"
	"reservoir/pkg/config"
	"reservoir/pkg/domain"
	"reservoir/pkg/jobs"
)

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), NewRootCommand(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeRequest(t *testing.T, req *domain.SimRequest) string {
	t.Helper()
	data, err := domain.EncodeRequestYAML(req)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "request.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestVersion(t *testing.T) {
	code, out, _ := execute(t, "version", "-o", "json")
	require.Equal(t, ExitOK, code)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info.Version)
}

func TestGenerateAndParse(t *testing.T) {
	reqPath := writeRequest(t, testutil.SmallRequest())
	deckPath := filepath.Join(t.TempDir(), "SMALL.DATA")

	code, _, stderr := execute(t, "generate", reqPath, "-f", deckPath)
	require.Equal(t, ExitOK, code, stderr)

	text, err := os.ReadFile(deckPath)
	require.NoError(t, err)
	assert.Contains(t, string(text), "RUNSPEC")

	mapped := filepath.Join(t.TempDir(), "mapped.yaml")
	code, out, stderr := execute(t, "parse", deckPath, "-o", "json", "--request-out", mapped)
	require.Equal(t, ExitOK, code, stderr)

	var sum parseSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, [3]int{3, 3, 1}, sum.Dimensions)
	assert.Equal(t, 2, sum.Wells)
	assert.Empty(t, sum.Errors)
	require.NotNil(t, sum.Request)
	assert.Equal(t, 9, sum.Request.Grid.TotalCells())

	req, err := domain.LoadRequest(mapped)
	require.NoError(t, err)
	assert.Len(t, req.Wells, 2)
}

func TestGenerate_ToStdout(t *testing.T) {
	code, out, _ := execute(t, "generate", writeRequest(t, testutil.SmallRequest()))
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "RUNSPEC")
	assert.Contains(t, out, "SCHEDULE")
}

func TestGenerate_InvalidRequest(t *testing.T) {
	req := testutil.SmallRequest()
	req.Grid.NX = 0

	code, _, stderr := execute(t, "generate", writeRequest(t, req))
	assert.Equal(t, ExitValidation, code)
	assert.Contains(t, stderr, "VALIDATION_FAILED")
}

func TestParse_Strict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ODD.DATA")
	deck := "RUNSPEC\nDIMENS\n 2 2 1 /\nOIL\nWATER\nMETRIC\nFOOBAR\n 1 2 3 /\n"
	require.NoError(t, os.WriteFile(path, []byte(deck), 0o644))

	code, out, _ := execute(t, "parse", path, "--strict")
	assert.NotEqual(t, ExitOK, code)
	assert.Contains(t, out, "FOOBAR")
}

func TestValidate(t *testing.T) {
	t.Run("valid request", func(t *testing.T) {
		code, out, stderr := execute(t, "validate", writeRequest(t, testutil.SmallRequest()), "-o", "json")
		require.Equal(t, ExitOK, code, stderr)

		var rep validationReport
		require.NoError(t, json.Unmarshal([]byte(out), &rep))
		assert.True(t, rep.Valid)
		assert.Empty(t, rep.Request)
	})

	t.Run("field bounds", func(t *testing.T) {
		req := testutil.SmallRequest()
		req.Grid.Porosity = 1.5

		code, out, _ := execute(t, "validate", writeRequest(t, req))
		assert.Equal(t, ExitValidation, code)
		assert.Contains(t, out, "INVALID")
	})

	t.Run("unknown backend", func(t *testing.T) {
		code, _, stderr := execute(t, "validate", writeRequest(t, testutil.SmallRequest()), "-b", "eclipse")
		assert.Equal(t, ExitError, code)
		assert.Contains(t, stderr, "BACKEND_NOT_FOUND")
	})
}

func TestValidate_SampleRequest(t *testing.T) {
	sample := filepath.Join("..", "..", "testdata", "requests", "small_waterflood.yaml")

	code, out, stderr := execute(t, "validate", sample, "-b", "opm,mrst")
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, out, "valid")
	assert.Contains(t, out, "mrst:")
}

func TestCompare(t *testing.T) {
	dir := t.TempDir()
	a := testutil.CompletedResult("opm", []float64{30, 60}, [][]float64{{200, 190, 180}, {195, 185, 175}})
	b := testutil.CompletedResult("mrst", []float64{30.2, 60.1}, [][]float64{{201, 191, 181}, {196, 186, 176}})
	pathA, pathB := filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json")
	require.NoError(t, domain.SaveResult(pathA, a))
	require.NoError(t, domain.SaveResult(pathB, b))

	t.Run("text summary and report", func(t *testing.T) {
		reportPath := filepath.Join(dir, "cmp.md")
		code, out, stderr := execute(t, "compare", pathA, pathB, "--report", reportPath)
		require.Equal(t, ExitOK, code, stderr)

		assert.Contains(t, out, "opm vs mrst")
		assert.Contains(t, out, "2 matched")
		md, err := os.ReadFile(reportPath)
		require.NoError(t, err)
		assert.Contains(t, string(md), "## Summary")
	})

	t.Run("report format without extension", func(t *testing.T) {
		base := filepath.Join(dir, "cmp")
		code, _, stderr := execute(t, "compare", pathA, pathB, "--report", base)
		require.Equal(t, ExitOK, code, stderr)
		// формат по умолчанию из конфигурации - markdown
		_, err := os.Stat(base + ".md")
		assert.NoError(t, err)
	})

	t.Run("json output omits timesteps unless full", func(t *testing.T) {
		code, out, _ := execute(t, "compare", pathA, pathB, "-o", "json")
		require.Equal(t, ExitOK, code)
		var rep map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &rep))
		assert.Nil(t, rep["timesteps"])
		assert.Equal(t, float64(2), rep["compared_timesteps"])

		code, out, _ = execute(t, "compare", pathA, pathB, "-o", "json", "--full")
		require.Equal(t, ExitOK, code)
		require.NoError(t, json.Unmarshal([]byte(out), &rep))
		assert.Len(t, rep["timesteps"], 2)
	})

	t.Run("tight tolerance is invalid but not an error", func(t *testing.T) {
		code, out, _ := execute(t, "compare", pathA, pathB, "--tolerance", "0.01")
		assert.Equal(t, ExitOK, code)
		assert.Contains(t, out, "invalid")
	})

	t.Run("unsupported report format", func(t *testing.T) {
		code, _, stderr := execute(t, "compare", pathA, pathB, "--report", filepath.Join(dir, "x.bin"), "--report-format", "docx")
		assert.Equal(t, ExitError, code)
		assert.Contains(t, stderr, "FORMAT_UNSUPPORTED")
	})
}

func TestUnknownOutputFormat(t *testing.T) {
	code, _, stderr := execute(t, "version", "-o", "xml")
	assert.Equal(t, ExitValidation, code)
	assert.Contains(t, stderr, "unknown output format")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitJobFailed, exitCode(errJobFailed))
	assert.Equal(t, ExitJobFailed, exitCode(errors.Join(errors.New("x"), errJobFailed)))
	assert.Equal(t, ExitValidation, exitCode(apperror.New(apperror.CodeGridTooLarge, "too big")))
	assert.Equal(t, ExitError, exitCode(apperror.New(apperror.CodeBinaryNotFound, "no flow")))
	assert.Equal(t, ExitError, exitCode(errors.New("plain")))
}

func TestBenchReportPath(t *testing.T) {
	assert.Equal(t, "", benchReportPath("", "mrst", true))
	assert.Equal(t, "cmp.pdf", benchReportPath("cmp.pdf", "mrst", false))
	assert.Equal(t, "cmp.mrst.pdf", benchReportPath("cmp.pdf", "mrst", true))
}

func TestResultPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "SPE1.opm.json"), resultPath("out", "decks/SPE1.DATA", "opm"))
}

// ====== runtime.execute ======

func newTestRuntime(t *testing.T, backends ...backend.Backend) *runtime {
	t.Helper()
	reg := backend.NewRegistry()
	for _, b := range backends {
		require.NoError(t, reg.Register(b))
	}
	cfg := &config.Config{Jobs: config.JobsConfig{PollInterval: 10 * time.Millisecond}}
	return &runtime{
		cfg:      cfg,
		registry: reg,
		orch:     jobs.New(reg, jobs.WithWorkDir(t.TempDir(), false)),
	}
}

func TestRuntimeExecute(t *testing.T) {
	t.Run("completes", func(t *testing.T) {
		rt := newTestRuntime(t, &testutil.FakeBackend{})
		defer func() { assert.NoError(t, rt.close()) }()

		out, err := rt.execute(context.Background(), "small.yaml", testutil.SmallRequest(), "fake", nil)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, out.Job.State)
		assert.Equal(t, 3, out.Timesteps)
		assert.False(t, out.failed())
		require.NotNil(t, out.result)
	})

	t.Run("backend failure", func(t *testing.T) {
		rt := newTestRuntime(t, &testutil.FakeBackend{
			RunFn: func(context.Context, *domain.SimRequest, string) error {
				return apperror.New(apperror.CodeNonZeroExit, "flow exited with status 1")
			},
		})
		defer func() { assert.NoError(t, rt.close()) }()

		out, err := rt.execute(context.Background(), "small.yaml", testutil.SmallRequest(), "fake", nil)
		require.NoError(t, err)
		assert.True(t, out.failed())
		assert.Equal(t, string(apperror.CodeNonZeroExit), out.Job.ErrorCode)
	})

	t.Run("unknown backend", func(t *testing.T) {
		rt := newTestRuntime(t)
		defer func() { assert.NoError(t, rt.close()) }()

		out, err := rt.execute(context.Background(), "small.yaml", testutil.SmallRequest(), "opm", nil)
		assert.Nil(t, out)
		assert.Equal(t, apperror.CodeBackendNotFound, apperror.Code(err))
	})

	t.Run("caller cancellation cancels the job", func(t *testing.T) {
		started := make(chan struct{})
		rt := newTestRuntime(t, &testutil.FakeBackend{
			RunFn: func(ctx context.Context, _ *domain.SimRequest, _ string) error {
				close(started)
				<-ctx.Done()
				return ctx.Err()
			},
		})
		defer func() { assert.NoError(t, rt.close()) }()

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-started
			cancel()
		}()

		var progress bytes.Buffer
		out, err := rt.execute(ctx, "small.yaml", testutil.SmallRequest(), "fake", &lockedWriter{mu: new(sync.Mutex), w: &progress})
		assert.ErrorIs(t, err, context.Canceled)
		require.NotNil(t, out)
		assert.True(t, out.failed())
		assert.Equal(t, string(apperror.CodeCancelled), out.Job.ErrorCode)
	})
}

func TestHistory_ArchiveDisabled(t *testing.T) {
	t.Setenv("SIMCTL_DATABASE_ENABLED", "false")

	code, _, stderr := execute(t, "history")
	assert.Equal(t, ExitValidation, code)
	assert.Contains(t, stderr, "job archive is disabled")

	code, _, _ = execute(t, "history", "show", "job-1")
	assert.Equal(t, ExitValidation, code)
}

func TestCache_Disabled(t *testing.T) {
	t.Setenv("SIMCTL_CACHE_ENABLED", "false")

	for _, sub := range []string{"stats", "clear"} {
		code, _, stderr := execute(t, "cache", sub)
		assert.Equal(t, ExitValidation, code, sub)
		assert.Contains(t, stderr, "result cache is disabled", sub)
	}
}

func TestCache_MemoryDriver(t *testing.T) {
	t.Setenv("SIMCTL_CACHE_ENABLED", "true")
	t.Setenv("SIMCTL_CACHE_DRIVER", "memory")

	code, out, stderr := execute(t, "cache", "stats", "-o", "json")
	require.Equal(t, ExitOK, code, stderr)

	var view cacheStatsView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "memory", view.Driver)
	assert.Zero(t, view.Keys)

	code, out, stderr = execute(t, "cache", "clear", "-b", "opm")
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, out, "removed 0 cached result(s)")
}
