package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics глобальный контейнер метрик
type Metrics struct {
	// Задачи
	JobsSubmittedTotal *prometheus.CounterVec
	JobsRejectedTotal  *prometheus.CounterVec
	JobsFinishedTotal  *prometheus.CounterVec
	JobsRunning        prometheus.Gauge
	RunDuration        *prometheus.HistogramVec
	GridCells          *prometheus.HistogramVec

	// Сравнение, кэш, колоды
	ComparisonsTotal   *prometheus.CounterVec
	CacheLookupsTotal  *prometheus.CounterVec
	DeckParseProblems  *prometheus.CounterVec
	BackendHealthGauge *prometheus.GaugeVec

	// Информация о сервисе
	ServiceInfo *prometheus.GaugeVec
}

var (
	defaultMu      sync.Mutex
	defaultMetrics *Metrics
)

// InitMetrics инициализирует метрики
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		JobsSubmittedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_submitted_total",
				Help:      "Total number of accepted simulation jobs",
			},
			[]string{"backend"},
		),

		JobsRejectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_rejected_total",
				Help:      "Total number of submissions rejected at admission",
			},
			[]string{"backend", "reason"},
		),

		JobsFinishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_finished_total",
				Help:      "Total number of jobs that reached a terminal state",
			},
			[]string{"backend", "status"},
		),

		JobsRunning: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_running",
				Help:      "Current number of running jobs",
			},
		),

		RunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "run_duration_seconds",
				Help:      "Duration of backend runs including output parsing",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 900, 1800},
			},
			[]string{"backend"},
		),

		GridCells: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "grid_cells",
				Help:      "Number of grid cells in submitted requests",
				Buckets:   []float64{10, 100, 1000, 10000, 100000, 1000000},
			},
			[]string{"backend"},
		),

		ComparisonsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "comparisons_total",
				Help:      "Total number of result comparisons by match quality",
			},
			[]string{"quality"},
		),

		CacheLookupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "result_cache_lookups_total",
				Help:      "Result cache lookups",
			},
			[]string{"result"},
		),

		DeckParseProblems: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "deck_parse_problems_total",
				Help:      "Recovered format errors and unsupported keywords seen while parsing decks",
			},
			[]string{"kind"},
		),

		BackendHealthGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "backend_healthy",
				Help:      "Result of the last backend health probe (1 healthy, 0 failing)",
			},
			[]string{"backend"},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service information",
			},
			[]string{"version", "environment"},
		),
	}

	defaultMu.Lock()
	defaultMetrics = m
	defaultMu.Unlock()
	return m
}

// Get возвращает глобальные метрики
func Get() *Metrics {
	defaultMu.Lock()
	m := defaultMetrics
	defaultMu.Unlock()
	if m == nil {
		return InitMetrics("reservoir", "")
	}
	return m
}

// RecordSubmit отмечает принятую задачу
func (m *Metrics) RecordSubmit(backend string, cells int) {
	m.JobsSubmittedTotal.WithLabelValues(backend).Inc()
	m.GridCells.WithLabelValues(backend).Observe(float64(cells))
}

// RecordRejected отмечает отказ при приёме задачи
func (m *Metrics) RecordRejected(backend, reason string) {
	m.JobsRejectedTotal.WithLabelValues(backend, reason).Inc()
}

// RecordFinished отмечает завершение задачи
func (m *Metrics) RecordFinished(backend, status string, duration time.Duration) {
	m.JobsFinishedTotal.WithLabelValues(backend, status).Inc()
	m.RunDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordComparison отмечает сравнение
func (m *Metrics) RecordComparison(quality string) {
	m.ComparisonsTotal.WithLabelValues(quality).Inc()
}

// RecordCacheLookup отмечает обращение к кэшу результатов
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordDeckProblems отмечает ошибки формата и неподдерживаемые ключевые слова
func (m *Metrics) RecordDeckProblems(errorsCount, unsupported int) {
	if errorsCount > 0 {
		m.DeckParseProblems.WithLabelValues("format_error").Add(float64(errorsCount))
	}
	if unsupported > 0 {
		m.DeckParseProblems.WithLabelValues("unsupported_keyword").Add(float64(unsupported))
	}
}

// RecordHealth отмечает результат проверки бэкенда
func (m *Metrics) RecordHealth(backend string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	m.BackendHealthGauge.WithLabelValues(backend).Set(v)
}

// SetServiceInfo устанавливает информацию о сервисе
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler возвращает HTTP handler для /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve запускает HTTP сервер метрик и останавливает его по отмене ctx
func Serve(ctx context.Context, port int, path string) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK")) //nolint:errcheck // health endpoint, ошибка записи не критична
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx) //nolint:errcheck // сервер метрик останавливается вместе с процессом
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
