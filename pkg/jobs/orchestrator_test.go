package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"reservoir/internal/testutil"
	"reservoir/pkg/apperror"
	"reservoir/pkg/audit"
	"reservoir/pkg/backend"
	"reservoir/pkg/cache"
	"reservoir/pkg/domain"
	"reservoir/pkg/events"
	"reservoir/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init("error")
	goleak.VerifyTestMain(m)
}

// ====== HELPERS ======

type harness struct {
	orch   *Orchestrator
	events *events.MemoryPublisher
	audit  *audit.MemoryLogger
}

func newHarness(t *testing.T, backends []backend.Backend, opts ...Option) *harness {
	t.Helper()
	reg := backend.NewRegistry()
	for _, b := range backends {
		require.NoError(t, reg.Register(b))
	}

	h := &harness{events: &events.MemoryPublisher{}, audit: &audit.MemoryLogger{}}
	opts = append([]Option{
		WithWorkDir(t.TempDir(), false),
		WithPublisher(h.events),
		WithAudit(h.audit),
	}, opts...)
	h.orch = New(reg, opts...)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, h.orch.Shutdown(ctx))
	})
	return h
}

// blockingBackend держит Run до закрытия release или отмены контекста
func blockingBackend(name string, release <-chan struct{}) *testutil.FakeBackend {
	return &testutil.FakeBackend{
		BackendName: name,
		RunFn: func(ctx context.Context, _ *domain.SimRequest, _ string) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

func waitJob(t *testing.T, o *Orchestrator, id string) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := o.Wait(ctx, id)
	require.NoError(t, err)
	return st
}

func waitRunning(t *testing.T, o *Orchestrator, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := o.Poll(id)
		return err == nil && st.State == domain.StatusRunning && st.Progress >= backend.ProgressInputWritten
	}, 5*time.Second, 5*time.Millisecond)
}

// ====== SUBMIT ======

func TestSubmit_Completes(t *testing.T) {
	fake := &testutil.FakeBackend{BackendName: "opm"}
	h := newHarness(t, []backend.Backend{fake})

	id, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "OPM")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	st := waitJob(t, h.orch, id)
	assert.Equal(t, domain.StatusCompleted, st.State)
	assert.Equal(t, 1.0, st.Progress)
	assert.Empty(t, st.Error)
	assert.Equal(t, "opm", st.Backend)
	assert.False(t, st.StartedAt.IsZero())
	assert.False(t, st.FinishedAt.Before(st.StartedAt))

	res, err := h.orch.Result(id)
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Len(t, res.Timesteps, 3)

	assert.Equal(t,
		[]events.Type{events.TypeSubmitted, events.TypeStarted, events.TypeCompleted},
		h.events.Types(id))
	assert.Len(t, h.audit.Find(audit.ActionSubmit), 1)
	assert.Len(t, h.audit.Find(audit.ActionComplete), 1)
	assert.Equal(t, 0, h.orch.Active())
}

func TestSubmit_UnknownBackend(t *testing.T) {
	h := newHarness(t, []backend.Backend{&testutil.FakeBackend{BackendName: "opm"}})

	_, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "eclipse")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeBackendNotFound))
	assert.Empty(t, h.orch.List())

	rejected := h.audit.Find(audit.ActionSubmit)
	require.Len(t, rejected, 1)
	assert.Equal(t, audit.OutcomeRejected, rejected[0].Outcome)
}

func TestSubmit_NilRequest(t *testing.T) {
	h := newHarness(t, []backend.Backend{&testutil.FakeBackend{BackendName: "opm"}})

	_, err := h.orch.Submit(context.Background(), nil, "opm")
	assert.True(t, apperror.Is(err, apperror.CodeNilInput))
}

func TestSubmit_CapacityExceeded(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, []backend.Backend{blockingBackend("opm", release)}, WithMaxConcurrent(1))

	first, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "opm")
	require.NoError(t, err)
	waitRunning(t, h.orch, first)

	_, err = h.orch.Submit(context.Background(), testutil.SmallRequest(), "opm")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeCapacityExceeded))
	assert.Len(t, h.orch.List(), 1, "rejected submission must not be queued")

	close(release)
	assert.Equal(t, domain.StatusCompleted, waitJob(t, h.orch, first).State)

	// после завершения место освобождается
	require.Eventually(t, func() bool { return h.orch.Active() == 0 }, time.Second, 5*time.Millisecond)
	second, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "opm")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, waitJob(t, h.orch, second).State)
}

// ====== FAILURES ======

func TestSubmit_ValidationFailure(t *testing.T) {
	fake := &testutil.FakeBackend{
		BackendName: "opm",
		ValidateFn: func(*domain.SimRequest) []string {
			return []string{"grid has 2000000 cells, limit is 1000000", "well P1 outside grid"}
		},
	}
	h := newHarness(t, []backend.Backend{fake})

	id, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "opm")
	require.NoError(t, err, "validation problems surface on the job, not on submit")

	st := waitJob(t, h.orch, id)
	assert.Equal(t, domain.StatusFailed, st.State)
	assert.Equal(t, string(apperror.CodeValidationFailed), st.ErrorCode)
	assert.Contains(t, st.Error, "grid has 2000000 cells")
	assert.Contains(t, st.Error, "well P1 outside grid")
	assert.Zero(t, fake.Runs.Load(), "run must not start after failed validation")

	res, err := h.orch.Result(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, []string{st.Error}, res.Metadata.Warnings)
	assert.Equal(t, []events.Type{events.TypeSubmitted, events.TypeStarted, events.TypeFailed}, h.events.Types(id))
}

func TestSubmit_RunErrorIsVerbatim(t *testing.T) {
	runErr := apperror.New(apperror.CodeBinaryNotFound, "flow: executable file not found in $PATH")
	fake := &testutil.FakeBackend{
		BackendName: "opm",
		RunFn:       func(context.Context, *domain.SimRequest, string) error { return runErr },
	}
	h := newHarness(t, []backend.Backend{fake})

	id, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "opm")
	require.NoError(t, err)

	st := waitJob(t, h.orch, id)
	assert.Equal(t, domain.StatusFailed, st.State)
	assert.Equal(t, runErr.Error(), st.Error)
	assert.Equal(t, string(apperror.CodeBinaryNotFound), st.ErrorCode)

	fails := h.audit.Find(audit.ActionFail)
	require.Len(t, fails, 1)
	assert.Equal(t, string(apperror.CodeBinaryNotFound), fails[0].ErrorCode)
}

func TestSubmit_PlainErrorKeepsMessage(t *testing.T) {
	fake := &testutil.FakeBackend{
		BackendName: "mrst",
		RunFn: func(context.Context, *domain.SimRequest, string) error {
			return errors.New("octave exited with status 1")
		},
	}
	h := newHarness(t, []backend.Backend{fake})

	id, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "mrst")
	require.NoError(t, err)

	st := waitJob(t, h.orch, id)
	assert.Equal(t, "octave exited with status 1", st.Error)
	assert.Equal(t, string(apperror.CodeInternal), st.ErrorCode)
}

func TestSubmit_BackendReportsFailedResult(t *testing.T) {
	fake := &testutil.FakeBackend{
		BackendName: "opm",
		ParseFn: func(req *domain.SimRequest) *domain.UnifiedResult {
			return domain.NewFailedResult(req, "opm", "2024.10", "restart file CASE.UNRST not found")
		},
	}
	h := newHarness(t, []backend.Backend{fake})

	id, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "opm")
	require.NoError(t, err)

	st := waitJob(t, h.orch, id)
	assert.Equal(t, domain.StatusFailed, st.State)
	assert.Equal(t, string(apperror.CodeDataUnavailable), st.ErrorCode)
	assert.Contains(t, st.Error, "restart file CASE.UNRST not found")

	res, err := h.orch.Result(id)
	require.NoError(t, err)
	assert.Equal(t, "2024.10", res.Metadata.BackendVersion)
}

func TestSubmit_BackendPanic(t *testing.T) {
	fake := &testutil.FakeBackend{
		BackendName: "opm",
		RunFn: func(context.Context, *domain.SimRequest, string) error {
			panic("index out of range")
		},
	}
	h := newHarness(t, []backend.Backend{fake})

	id, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "opm")
	require.NoError(t, err)

	st := waitJob(t, h.orch, id)
	assert.Equal(t, domain.StatusFailed, st.State)
	assert.Equal(t, string(apperror.CodeInternal), st.ErrorCode)
	assert.Contains(t, st.Error, "index out of range")
}

// ====== POLL / RESULT ======

func TestResult_NotTerminal(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, []backend.Backend{blockingBackend("opm", release)})

	id, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "opm")
	require.NoError(t, err)
	waitRunning(t, h.orch, id)

	_, err = h.orch.Result(id)
	assert.True(t, apperror.Is(err, apperror.CodeJobNotTerminal))

	st, err := h.orch.Poll(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, st.State)
	assert.InDelta(t, backend.ProgressInputWritten, st.Progress, 1e-12)

	close(release)
	waitJob(t, h.orch, id)
	_, err = h.orch.Result(id)
	assert.NoError(t, err)
}

func TestPoll_UnknownJob(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.Poll("missing")
	assert.True(t, apperror.Is(err, apperror.CodeJobNotFound))
	_, err = h.orch.Result("missing")
	assert.True(t, apperror.Is(err, apperror.CodeJobNotFound))
	assert.True(t, apperror.Is(h.orch.Cancel("missing"), apperror.CodeJobNotFound))
}

func TestWait_ContextExpires(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	h := newHarness(t, []backend.Backend{blockingBackend("opm", release)})

	id, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "opm")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	st, err := h.orch.Wait(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, st.Terminal())
}

// ====== CANCEL / SHUTDOWN ======

func TestCancel(t *testing.T) {
	h := newHarness(t, []backend.Backend{blockingBackend("opm", nil)})

	id, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "opm")
	require.NoError(t, err)
	waitRunning(t, h.orch, id)

	require.NoError(t, h.orch.Cancel(id))
	st := waitJob(t, h.orch, id)
	assert.Equal(t, domain.StatusFailed, st.State)
	assert.Equal(t, string(apperror.CodeCancelled), st.ErrorCode)
	assert.Len(t, h.audit.Find(audit.ActionCancel), 1)

	// повторная отмена завершённой задачи ничего не делает
	assert.NoError(t, h.orch.Cancel(id))
}

func TestShutdown(t *testing.T) {
	h := newHarness(t, []backend.Backend{blockingBackend("opm", nil)})

	id, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "opm")
	require.NoError(t, err)
	waitRunning(t, h.orch, id)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Shutdown(ctx))

	st, err := h.orch.Poll(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, st.State)
	assert.Equal(t, string(apperror.CodeCancelled), st.ErrorCode)

	_, err = h.orch.Submit(context.Background(), testutil.SmallRequest(), "opm")
	assert.True(t, apperror.Is(err, apperror.CodeShuttingDown))
}

func TestShutdown_RacingSubmits(t *testing.T) {
	h := newHarness(t, []backend.Backend{blockingBackend("opm", nil)}, WithMaxConcurrent(0))

	var (
		mu       sync.Mutex
		accepted []string
		wg       sync.WaitGroup
	)
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for {
				id, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "opm")
				if err != nil {
					assert.True(t, apperror.Is(err, apperror.CodeShuttingDown), err)
					return
				}
				mu.Lock()
				accepted = append(accepted, id)
				mu.Unlock()
				time.Sleep(100 * time.Microsecond)
			}
		}()
	}

	close(start)
	time.Sleep(5 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Shutdown(ctx))

	// после Shutdown принятых задач больше не появляется, и все они завершены
	mu.Lock()
	ids := append([]string(nil), accepted...)
	mu.Unlock()
	for _, id := range ids {
		st, err := h.orch.Poll(id)
		require.NoError(t, err)
		assert.True(t, st.Terminal(), "job %s is %s after Shutdown", id, st.State)
	}
	wg.Wait()
	mu.Lock()
	assert.Len(t, accepted, len(ids))
	mu.Unlock()
}

// ====== CACHE / ARCHIVE ======

func TestResultCache_ShortCircuits(t *testing.T) {
	mem := cache.NewMemoryCache(cache.DefaultOptions())
	defer mem.Close()

	fake := &testutil.FakeBackend{BackendName: "opm"}
	h := newHarness(t, []backend.Backend{fake}, WithResultCache(cache.NewResultCache(mem, time.Hour), 0))

	first, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "opm")
	require.NoError(t, err)
	assert.False(t, waitJob(t, h.orch, first).Cached)

	req := testutil.SmallRequest()
	req.Title = "same physics, different title"
	second, err := h.orch.Submit(context.Background(), req, "opm")
	require.NoError(t, err)

	st := waitJob(t, h.orch, second)
	assert.True(t, st.Cached)
	assert.Equal(t, domain.StatusCompleted, st.State)
	assert.Equal(t, int32(1), fake.Runs.Load())

	res, err := h.orch.Result(second)
	require.NoError(t, err)
	assert.Equal(t, "same physics, different title", res.Request.Title)
	assert.Equal(t, []events.Type{events.TypeSubmitted, events.TypeCompleted}, h.events.Types(second))
}

type memoryArchive struct {
	mu      sync.Mutex
	records []*Record
	err     error
}

func (a *memoryArchive) Save(_ context.Context, rec *Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return a.err
}

func (a *memoryArchive) all() []*Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Record(nil), a.records...)
}

func TestArchive_ReceivesTerminalJobs(t *testing.T) {
	arch := &memoryArchive{}
	ok := &testutil.FakeBackend{BackendName: "opm"}
	bad := &testutil.FakeBackend{
		BackendName: "mrst",
		RunFn:       func(context.Context, *domain.SimRequest, string) error { return errors.New("boom") },
	}
	h := newHarness(t, []backend.Backend{ok, bad}, WithArchive(arch))

	idOK, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "opm")
	require.NoError(t, err)
	idBad, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "mrst")
	require.NoError(t, err)
	waitJob(t, h.orch, idOK)
	waitJob(t, h.orch, idBad)

	require.Eventually(t, func() bool { return len(arch.all()) == 2 }, time.Second, 5*time.Millisecond)
	byID := map[string]*Record{}
	for _, r := range arch.all() {
		byID[r.ID] = r
	}

	good := byID[idOK]
	require.NotNil(t, good)
	assert.Equal(t, domain.StatusCompleted, good.Status)
	assert.Equal(t, 3, good.TimestepCount)
	assert.Equal(t, 9, good.CellCount)
	assert.Equal(t, domain.RequestHash(testutil.SmallRequest(), "opm"), good.RequestHash)

	failed := byID[idBad]
	require.NotNil(t, failed)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, "boom", failed.Error)
}

func TestArchive_ErrorDoesNotFailJob(t *testing.T) {
	arch := &memoryArchive{err: errors.New("connection refused")}
	h := newHarness(t, []backend.Backend{&testutil.FakeBackend{BackendName: "opm"}}, WithArchive(arch))

	id, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "opm")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, waitJob(t, h.orch, id).State)
}

// ====== LIST / PRUNE / HEALTH ======

func TestList_AndPrune(t *testing.T) {
	h := newHarness(t, []backend.Backend{&testutil.FakeBackend{BackendName: "opm"}})

	var ids []string
	for range 3 {
		id, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "opm")
		require.NoError(t, err)
		ids = append(ids, id)
		waitJob(t, h.orch, id)
	}

	list := h.orch.List()
	require.Len(t, list, 3)
	for i, st := range list {
		assert.Equal(t, ids[i], st.ID)
	}

	assert.Equal(t, map[string]map[string]int{"completed": {"opm": 3}}, h.orch.CountByState())

	assert.Equal(t, 0, h.orch.Prune(time.Hour), "recent jobs are kept")
	assert.Equal(t, 3, h.orch.Prune(0))
	assert.Empty(t, h.orch.CountByState())
	assert.Empty(t, h.orch.List())
	_, err := h.orch.Poll(ids[0])
	assert.True(t, apperror.Is(err, apperror.CodeJobNotFound))
}

func TestPrune_KeepsRunningJobs(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, []backend.Backend{blockingBackend("opm", release)})

	id, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "opm")
	require.NoError(t, err)
	waitRunning(t, h.orch, id)

	assert.Equal(t, 0, h.orch.Prune(0))
	close(release)
	waitJob(t, h.orch, id)
}

func TestRetention_Janitor(t *testing.T) {
	h := newHarness(t, []backend.Backend{&testutil.FakeBackend{BackendName: "opm"}},
		WithRetention(time.Millisecond, 5*time.Millisecond))

	id, err := h.orch.Submit(context.Background(), testutil.SmallRequest(), "opm")
	require.NoError(t, err)
	waitJob(t, h.orch, id)

	assert.Eventually(t, func() bool { return len(h.orch.List()) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, h.audit.Find(audit.ActionPrune))
}

func TestBackendsAndHealth(t *testing.T) {
	h := newHarness(t, []backend.Backend{
		&testutil.FakeBackend{BackendName: "opm"},
		&testutil.FakeBackend{BackendName: "mrst", HealthErr: errors.New("octave not found")},
	})

	assert.Equal(t, []string{"mrst", "opm"}, h.orch.Backends())
	assert.Equal(t, map[string]bool{"opm": true, "mrst": false}, h.orch.Health(context.Background()))
}

// ====== CONCURRENCY ======

func TestConcurrentSubmitAndPoll(t *testing.T) {
	const jobs = 16
	h := newHarness(t, []backend.Backend{&testutil.FakeBackend{BackendName: "opm"}}, WithMaxConcurrent(0))

	var wg sync.WaitGroup
	ids := make(chan string, jobs)
	for i := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := testutil.SmallRequest()
			req.Title = fmt.Sprintf("case %d", i)
			id, err := h.orch.Submit(context.Background(), req, "opm")
			if assert.NoError(t, err) {
				ids <- id
			}
			for range 10 {
				_ = h.orch.List()
			}
		}()
	}
	wg.Wait()
	close(ids)

	for id := range ids {
		st := waitJob(t, h.orch, id)
		assert.Equal(t, domain.StatusCompleted, st.State)
	}
	assert.Len(t, h.orch.List(), jobs)
}
