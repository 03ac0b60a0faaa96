package jobs

import (
	"context"
	"sync"
	"time"

	"reservoir/pkg/apperror"
	"reservoir/pkg/backend"
	"reservoir/pkg/domain"
)

// Status снимок состояния задачи для опроса
type Status struct {
	ID          string        `json:"id"`
	Backend     string        `json:"backend"`
	Title       string        `json:"title,omitempty"`
	State       domain.Status `json:"state"`
	Progress    float64       `json:"progress"`
	Message     string        `json:"message,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorCode   string        `json:"error_code,omitempty"`
	Cached      bool          `json:"cached,omitempty"`
	SubmittedAt time.Time     `json:"submitted_at"`
	StartedAt   time.Time     `json:"started_at,omitzero"`
	FinishedAt  time.Time     `json:"finished_at,omitzero"`
}

// Terminal true для completed и failed
func (s Status) Terminal() bool {
	return s.State.IsTerminal()
}

// Duration время выполнения; для незавершённой задачи - до текущего момента
func (s Status) Duration() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// job запись таблицы. Изменяемые поля меняет только собственный исполнитель,
// мьютекс защищает их от одновременного чтения при опросе.
type job struct {
	id      string
	backend backend.Backend
	req     *domain.SimRequest

	mu        sync.Mutex
	state     domain.Status
	progress  float64
	message   string
	errMsg    string
	errCode   string
	cached    bool
	cancelled bool
	result    *domain.UnifiedResult
	submitted time.Time
	started   time.Time
	finished  time.Time
	cancel    context.CancelFunc

	done chan struct{}
}

func newJob(id string, b backend.Backend, req *domain.SimRequest) *job {
	return &job{
		id:        id,
		backend:   b,
		req:       req,
		state:     domain.StatusPending,
		submitted: time.Now().UTC(),
		done:      make(chan struct{}),
	}
}

func (j *job) snapshot() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Status{
		ID:          j.id,
		Backend:     j.backend.Name(),
		Title:       j.req.Title,
		State:       j.state,
		Progress:    j.progress,
		Message:     j.message,
		Error:       j.errMsg,
		ErrorCode:   j.errCode,
		Cached:      j.cached,
		SubmittedAt: j.submitted,
		StartedAt:   j.started,
		FinishedAt:  j.finished,
	}
}

func (j *job) start(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = domain.StatusRunning
	j.started = time.Now().UTC()
	j.cancel = cancel
	if j.cancelled {
		cancel()
	}
}

// setProgress прогресс только растёт
func (j *job) setProgress(fraction float64, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.IsTerminal() {
		return
	}
	if fraction > j.progress {
		j.progress = fraction
	}
	j.message = message
}

// finish переводит задачу в терминальное состояние один раз. Текст ошибки
// сохраняется без изменений.
func (j *job) finish(state domain.Status, res *domain.UnifiedResult, err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.IsTerminal() {
		return false
	}
	now := time.Now().UTC()
	if j.started.IsZero() {
		j.started = now
	}
	j.state = state
	j.result = res
	if err != nil {
		j.errMsg = err.Error()
		j.errCode = string(apperror.Code(err))
	}
	j.finished = now
	if state == domain.StatusCompleted {
		j.progress = backend.ProgressParsed
		j.message = "completed"
	} else {
		j.message = "failed"
	}
	close(j.done)
	return true
}

// requestCancel помечает задачу отменённой и отменяет её контекст.
// false, если задача уже завершена.
func (j *job) requestCancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.IsTerminal() {
		return false
	}
	j.cancelled = true
	if j.cancel != nil {
		j.cancel()
	}
	return true
}

func (j *job) isCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

// terminalResult результат терминальной задачи. Для упавшей задачи без
// результата собирается FAILED-результат с текстом ошибки.
func (j *job) terminalResult() (*domain.UnifiedResult, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.IsTerminal() {
		return nil, false
	}
	if j.result != nil {
		return j.result, true
	}
	return domain.NewFailedResult(j.req, j.backend.Name(), j.backend.Version(), j.errMsg), true
}
