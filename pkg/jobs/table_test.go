package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reservoir/internal/testutil"
	"reservoir/pkg/apperror"
	"reservoir/pkg/domain"
)

func testJob(id string) *job {
	return newJob(id, &testutil.FakeBackend{BackendName: "opm"}, testutil.SmallRequest())
}

func TestTable_AdmitLimit(t *testing.T) {
	tb := newTable()

	require.True(t, tb.admit(testJob("a"), 2))
	require.True(t, tb.admit(testJob("b"), 2))
	assert.False(t, tb.admit(testJob("c"), 2))
	assert.Equal(t, 2, tb.activeCount())

	tb.release()
	assert.True(t, tb.admit(testJob("c"), 2))
	assert.Equal(t, 3, tb.len())

	// без ограничения
	assert.True(t, tb.admit(testJob("d"), 0))
}

func TestTable_SlotReuse(t *testing.T) {
	tb := newTable()
	a, b := testJob("a"), testJob("b")
	tb.admit(a, 0)
	tb.admit(b, 0)

	a.finish(domain.StatusCompleted, nil, nil)
	tb.release()
	require.Equal(t, 1, tb.prune(time.Now().Add(time.Second)))

	tb.admit(testJob("c"), 0)
	assert.Len(t, tb.slots, 2, "freed slot must be reused")

	_, ok := tb.get("a")
	assert.False(t, ok)
	got, ok := tb.get("c")
	require.True(t, ok)
	assert.Equal(t, "c", got.id)
}

func TestJob_FinishOnce(t *testing.T) {
	j := testJob("x")
	j.setProgress(0.8, "run complete")
	j.setProgress(0.1, "late")

	st := j.snapshot()
	assert.Equal(t, 0.8, st.Progress, "progress never goes back")
	assert.Equal(t, "late", st.Message)

	require.True(t, j.finish(domain.StatusFailed, nil, apperror.New(apperror.CodeTimeout, "flow timed out after 10m0s")))
	assert.False(t, j.finish(domain.StatusCompleted, nil, nil))

	st = j.snapshot()
	assert.Equal(t, domain.StatusFailed, st.State)
	assert.Equal(t, "TIMEOUT", st.ErrorCode)
	assert.Equal(t, "[TIMEOUT] flow timed out after 10m0s", st.Error)
	assert.False(t, j.requestCancel(), "terminal job cannot be cancelled")

	select {
	case <-j.done:
	default:
		t.Fatal("done must be closed")
	}
}

func TestJob_CancelBeforeStart(t *testing.T) {
	j := testJob("x")
	require.True(t, j.requestCancel())

	cancelled := false
	j.start(func() { cancelled = true })
	assert.True(t, cancelled)
}

func TestStatus_Duration(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st := Status{StartedAt: start, FinishedAt: start.Add(90 * time.Second)}
	assert.Equal(t, 90*time.Second, st.Duration())
	assert.Zero(t, Status{}.Duration())
}
