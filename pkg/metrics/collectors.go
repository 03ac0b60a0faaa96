package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// JobStates источник числа задач по состояниям и бэкендам
type JobStates interface {
	CountByState() map[string]map[string]int
}

// JobTableCollector отдаёт содержимое таблицы задач на момент сбора.
// Счётчики JobsFinishedTotal растут всегда, а таблица уменьшается после Prune.
type JobTableCollector struct {
	source JobStates
	jobs   *prometheus.Desc
}

// NewJobTableCollector создаёт коллектор над таблицей задач
func NewJobTableCollector(namespace, subsystem string, source JobStates) *JobTableCollector {
	return &JobTableCollector{
		source: source,
		jobs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "jobs_in_table"),
			"Jobs currently held in the job table by state and backend",
			[]string{"state", "backend"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *JobTableCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobs
}

// Collect implements prometheus.Collector
func (c *JobTableCollector) Collect(ch chan<- prometheus.Metric) {
	for state, byBackend := range c.source.CountByState() {
		for backend, n := range byBackend {
			ch <- prometheus.MustNewConstMetric(c.jobs, prometheus.GaugeValue, float64(n), state, backend)
		}
	}
}

// Register регистрирует коллектор в реестре по умолчанию. Повторная
// регистрация не считается ошибкой.
func Register(c prometheus.Collector) error {
	err := prometheus.Register(c)
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}

// JobTracker считает выполняющиеся задачи по бэкендам
type JobTracker struct {
	mu      sync.Mutex
	active  map[string]int
	running prometheus.Gauge
}

// NewJobTracker создаёт трекер задач
func NewJobTracker(running prometheus.Gauge) *JobTracker {
	return &JobTracker{
		active:  make(map[string]int),
		running: running,
	}
}

// Start отмечает запуск задачи
func (t *JobTracker) Start(backend string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active[backend]++
	t.running.Inc()
}

// End отмечает завершение задачи
func (t *JobTracker) End(backend string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active[backend] > 0 {
		t.active[backend]--
		t.running.Dec()
	}
}

// Active число выполняющихся задач бэкенда
func (t *JobTracker) Active(backend string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[backend]
}
