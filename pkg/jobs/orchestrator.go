// Package jobs исполняет расчёты в фоне: принимает запрос и имя бэкенда,
// выдаёт id задачи и ведёт её через pending -> running -> completed|failed.
//
// Допуск без очереди: если незавершённых задач уже max_concurrent, подача
// отклоняется сразу с CAPACITY_EXCEEDED. Ни одна принятая задача не
// теряется: ошибки проверки, запуска и разбора, паника бэкенда и отмена
// заканчиваются состоянием failed с исходным сообщением.
package jobs

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"reservoir/pkg/apperror"
	"reservoir/pkg/audit"
	"reservoir/pkg/backend"
	"reservoir/pkg/cache"
	"reservoir/pkg/config"
	"reservoir/pkg/domain"
	"reservoir/pkg/events"
	"reservoir/pkg/logger"
	"reservoir/pkg/metrics"
	"reservoir/pkg/telemetry"
)

// DefaultMaxConcurrent потолок незавершённых задач по умолчанию
const DefaultMaxConcurrent = 4

// archiveTimeout ограничивает запись в архив после завершения задачи
const archiveTimeout = 10 * time.Second

// Option настраивает Orchestrator
type Option func(*Orchestrator)

// WithMaxConcurrent потолок незавершённых задач; <= 0 - без ограничения
func WithMaxConcurrent(n int) Option {
	return func(o *Orchestrator) { o.maxConcurrent = n }
}

// WithWorkDir каталог для рабочих подкаталогов задач
func WithWorkDir(dir string, keep bool) Option {
	return func(o *Orchestrator) {
		o.workDir = dir
		o.keepWorkDir = keep
	}
}

// WithResultCache включает кэш результатов
func WithResultCache(rc *cache.ResultCache, ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.cache = rc
		o.cacheTTL = ttl
	}
}

// WithArchive включает архив завершённых задач
func WithArchive(a Archive) Option {
	return func(o *Orchestrator) { o.archive = a }
}

// WithPublisher включает публикацию событий
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithAudit включает журнал аудита
func WithAudit(l audit.Logger) Option {
	return func(o *Orchestrator) { o.audit = l }
}

// WithMetrics задаёт метрики вместо глобальных
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRetention периодически удаляет задачи, завершённые раньше age
func WithRetention(age, interval time.Duration) Option {
	return func(o *Orchestrator) {
		o.retention = age
		o.pruneInterval = interval
	}
}

// Orchestrator фоновый исполнитель задач
type Orchestrator struct {
	registry *backend.Registry
	table    *table

	maxConcurrent int
	workDir       string
	keepWorkDir   bool
	retention     time.Duration
	pruneInterval time.Duration

	cache     *cache.ResultCache
	cacheTTL  time.Duration
	archive   Archive
	publisher events.Publisher
	audit     audit.Logger
	metrics   *metrics.Metrics
	tracker   *metrics.JobTracker

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
	// gate: submit держит RLock от проверки closed до wg.Add,
	// Shutdown меняет closed под Lock
	gate sync.RWMutex
}

// New создаёт оркестратор над реестром бэкендов
func New(registry *backend.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:      registry,
		table:         newTable(),
		maxConcurrent: DefaultMaxConcurrent,
		publisher:     events.NoopPublisher{},
		audit:         audit.NoopLogger{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.Get()
	}
	o.tracker = metrics.NewJobTracker(o.metrics.JobsRunning)
	o.baseCtx, o.stop = context.WithCancel(context.Background())

	if o.retention > 0 {
		interval := o.pruneInterval
		if interval <= 0 {
			interval = time.Minute
		}
		o.wg.Add(1)
		go o.janitor(interval)
	}
	return o
}

// FromConfig опции из секции jobs и backends
func FromConfig(jobsCfg config.JobsConfig, backendsCfg config.BackendsConfig) []Option {
	opts := []Option{
		WithMaxConcurrent(jobsCfg.MaxConcurrent),
		WithWorkDir(backendsCfg.WorkDir, backendsCfg.KeepWorkDir),
	}
	if jobsCfg.Retention > 0 {
		opts = append(opts, WithRetention(jobsCfg.Retention, jobsCfg.PollInterval))
	}
	return opts
}

// Submit принимает задачу. Неизвестный бэкенд и исчерпанный лимит
// отклоняются сразу, без постановки в очередь.
func (o *Orchestrator) Submit(ctx context.Context, req *domain.SimRequest, backendName string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "Orchestrator.Submit")

	id, err := o.submit(ctx, req, backendName)
	if err == nil {
		span.SetAttributes(telemetry.JobAttributes(id, backendName)...)
	}
	telemetry.EndSpan(span, err)
	return id, err
}

func (o *Orchestrator) submit(ctx context.Context, req *domain.SimRequest, backendName string) (string, error) {
	o.gate.RLock()
	defer o.gate.RUnlock()
	if o.closed.Load() {
		return "", apperror.New(apperror.CodeShuttingDown, "orchestrator is shutting down")
	}
	if req == nil {
		return "", apperror.ErrNilRequest
	}

	b, err := o.registry.Get(backendName)
	if err != nil {
		o.reject(ctx, backendName, "unknown_backend", err)
		return "", err
	}

	j := newJob(uuid.NewString(), b, req.Clone())
	if !o.table.admit(j, o.maxConcurrent) {
		err := apperror.Newf(apperror.CodeCapacityExceeded,
			"%d jobs already running, limit is %d", o.table.activeCount(), o.maxConcurrent).
			WithDetails("backend", b.Name())
		o.reject(ctx, b.Name(), "capacity", err)
		return "", err
	}

	cells := req.Grid.TotalCells()
	o.metrics.RecordSubmit(b.Name(), cells)
	o.log(j).Info("job submitted", "cells", cells, "timesteps", len(req.ReportTimes))
	o.record(ctx, audit.NewEntry(audit.ActionSubmit).Job(j.id, b.Name()).Meta("cells", cells))
	o.publish(ctx, j, events.TypeSubmitted)

	if res, ok := o.lookupCache(ctx, j); ok {
		j.mu.Lock()
		j.cached = true
		j.mu.Unlock()
		j.finish(domain.StatusCompleted, res, nil)
		o.complete(j)
		return j.id, nil
	}

	jobCtx, cancel := context.WithCancel(o.baseCtx)
	j.start(cancel)
	o.wg.Add(1)
	go o.work(jobCtx, j)

	return j.id, nil
}

func (o *Orchestrator) reject(ctx context.Context, backendName, reason string, err error) {
	o.metrics.RecordRejected(backendName, reason)
	logger.WithBackend(backendName).Warn("job rejected", "reason", reason, "error", err)
	o.record(ctx, audit.NewEntry(audit.ActionSubmit).
		Outcome(audit.OutcomeRejected).
		Resource(audit.ResourceJob, "").
		Error(string(apperror.Code(err)), err.Error()).
		Meta("backend", backendName))
}

func (o *Orchestrator) lookupCache(ctx context.Context, j *job) (*domain.UnifiedResult, bool) {
	if o.cache == nil {
		return nil, false
	}
	res, hit, err := o.cache.Get(ctx, j.req, j.backend.Name())
	if err != nil {
		o.log(j).Warn("result cache lookup failed", "error", err)
		return nil, false
	}
	o.metrics.RecordCacheLookup(hit)
	return res, hit
}

// Poll текущее состояние задачи
func (o *Orchestrator) Poll(id string) (Status, error) {
	j, err := o.lookup(id)
	if err != nil {
		return Status{}, err
	}
	return j.snapshot(), nil
}

// Result результат терминальной задачи. Для незавершённой задачи -
// JOB_NOT_TERMINAL.
func (o *Orchestrator) Result(id string) (*domain.UnifiedResult, error) {
	j, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	res, ok := j.terminalResult()
	if !ok {
		st := j.snapshot()
		return nil, apperror.Newf(apperror.CodeJobNotTerminal, "job %s is %s", id, st.State).
			WithDetails("progress", st.Progress)
	}
	return res, nil
}

// Wait блокируется до завершения задачи или отмены ctx
func (o *Orchestrator) Wait(ctx context.Context, id string) (Status, error) {
	j, err := o.lookup(id)
	if err != nil {
		return Status{}, err
	}
	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
}

// Cancel отменяет задачу; подпроцесс бэкенда убивается через контекст.
// Для завершённой задачи ничего не делает.
func (o *Orchestrator) Cancel(id string) error {
	j, err := o.lookup(id)
	if err != nil {
		return err
	}
	if j.requestCancel() {
		o.log(j).Info("job cancellation requested")
	}
	return nil
}

// List состояния всех задач в порядке подачи
func (o *Orchestrator) List() []Status {
	all := o.table.all()
	out := make([]Status, len(all))
	for i, j := range all {
		out[i] = j.snapshot()
	}
	return out
}

// CountByState число задач в таблице по состоянию и бэкенду
func (o *Orchestrator) CountByState() map[string]map[string]int {
	out := map[string]map[string]int{}
	for _, j := range o.table.all() {
		st := j.snapshot()
		if out[string(st.State)] == nil {
			out[string(st.State)] = map[string]int{}
		}
		out[string(st.State)][st.Backend]++
	}
	return out
}

// Active число незавершённых задач
func (o *Orchestrator) Active() int {
	return o.table.activeCount()
}

// Backends имена зарегистрированных бэкендов
func (o *Orchestrator) Backends() []string {
	return o.registry.Names()
}

// Health доступность бэкендов
func (o *Orchestrator) Health(ctx context.Context) map[string]bool {
	health := o.registry.Health(ctx)
	for name, ok := range health {
		o.metrics.RecordHealth(name, ok)
	}
	return health
}

// Prune удаляет задачи, завершённые раньше чем age назад
func (o *Orchestrator) Prune(age time.Duration) int {
	n := o.table.prune(time.Now().UTC().Add(-age))
	if n > 0 {
		logger.Log.Debug("pruned finished jobs", "count", n, "older_than", age)
		o.record(context.Background(), audit.NewEntry(audit.ActionPrune).Meta("count", n))
	}
	return n
}

func (o *Orchestrator) janitor(interval time.Duration) {
	defer o.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-o.baseCtx.Done():
			return
		case <-ticker.C:
			o.Prune(o.retention)
		}
	}
}

// Shutdown перестаёт принимать задачи, отменяет выполняющиеся и ждёт
// исполнителей не дольше ctx
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.gate.Lock()
	first := o.closed.CompareAndSwap(false, true)
	o.gate.Unlock()
	if !first {
		return nil
	}
	for _, j := range o.table.all() {
		j.requestCancel()
	}
	o.stop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Log.Info("orchestrator stopped")
		return nil
	case <-ctx.Done():
		return apperror.Wrap(ctx.Err(), apperror.CodeTimeout, "workers did not stop in time").
			WithDetails("active", o.table.activeCount())
	}
}

func (o *Orchestrator) lookup(id string) (*job, error) {
	j, ok := o.table.get(id)
	if !ok {
		return nil, apperror.Newf(apperror.CodeJobNotFound, "job %s not found", id)
	}
	return j, nil
}

func (o *Orchestrator) log(j *job) *slog.Logger {
	return logger.WithJob(j.id).With("backend", j.backend.Name())
}

func (o *Orchestrator) record(ctx context.Context, b *audit.Builder) {
	if err := o.audit.Log(ctx, b.Build()); err != nil {
		logger.Log.Warn("failed to write audit entry", "error", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, j *job, t events.Type) {
	st := j.snapshot()
	ev := events.NewEvent(t, st.ID, st.Backend, string(st.State))
	ev.Cached = st.Cached
	ev.Error = st.Error
	ev.CellCount = j.req.Grid.TotalCells()
	if res, ok := j.terminalResult(); ok {
		ev.Timesteps = len(res.Timesteps)
		ev.WallTimeSeconds = res.Metadata.WallTimeSeconds
	}
	if err := o.publisher.Publish(ctx, ev); err != nil {
		o.log(j).Warn("failed to publish job event", "type", t, "error", err)
	}
}

// removeWorkDir удаляет рабочий каталог, если его не нужно сохранять
func (o *Orchestrator) removeWorkDir(j *job, dir string) {
	if o.keepWorkDir {
		o.log(j).Debug("keeping work dir", "dir", dir)
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		o.log(j).Warn("failed to remove work dir", "dir", dir, "error", err)
	}
}
