// Package events публикует события жизненного цикла задач в NATS.
//
// Тема события: <prefix>.job.<тип>, например reservoir.jobs.job.completed.
// Полезная нагрузка - JSON Event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"reservoir/pkg/apperror"
	"reservoir/pkg/config"
	"reservoir/pkg/logger"
)

// Type тип события
type Type string

const (
	TypeSubmitted Type = "job.submitted"
	TypeStarted   Type = "job.started"
	TypeCompleted Type = "job.completed"
	TypeFailed    Type = "job.failed"
)

// DefaultSubjectPrefix префикс тем по умолчанию
const DefaultSubjectPrefix = "reservoir.jobs"

// Event событие задачи
type Event struct {
	ID              string    `json:"id"`
	Type            Type      `json:"type"`
	JobID           string    `json:"job_id"`
	Backend         string    `json:"backend"`
	Status          string    `json:"status"`
	Cached          bool      `json:"cached,omitempty"`
	CellCount       int       `json:"cell_count,omitempty"`
	Timesteps       int       `json:"timesteps,omitempty"`
	WallTimeSeconds float64   `json:"wall_time_seconds,omitempty"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewEvent событие с новым id и текущим временем
func NewEvent(t Type, jobID, backend, status string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      t,
		JobID:     jobID,
		Backend:   backend,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher приёмник событий. Ошибка публикации не должна влиять на задачу,
// вызывающий код только логирует её.
type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
	Close() error
}

// Subject тема для типа события
func Subject(prefix string, t Type) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + string(t)
}

// ====== NATS ======

// NATSPublisher публикует события в core NATS
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string

	mu         sync.RWMutex
	connected  bool
	reconnects int
}

// Connect подключается к NATS по конфигурации
func Connect(cfg config.EventsConfig, name string) (*NATSPublisher, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	p := &NATSPublisher{prefix: cfg.SubjectPrefix}

	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(timeout),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.setConnected(false)
			if err != nil {
				logger.Log.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.mu.Lock()
			p.connected = true
			p.reconnects++
			p.mu.Unlock()
			logger.Log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInfrastructure, "failed to connect to NATS").
			WithDetails("url", cfg.URL)
	}
	p.conn = conn
	p.connected = true

	logger.Log.Info("Connected to NATS", "url", conn.ConnectedUrl(), "prefix", Subject(p.prefix, "*"))
	return p, nil
}

func (p *NATSPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

// IsConnected состояние соединения
func (p *NATSPublisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// Reconnects число переподключений
func (p *NATSPublisher) Reconnects() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reconnects
}

// Publish публикует событие
func (p *NATSPublisher) Publish(ctx context.Context, ev *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(Subject(p.prefix, ev.Type), payload); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}
	return nil
}

// Close дожидается отправки буфера и закрывает соединение
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}

// ====== Прочие реализации ======

// NoopPublisher отбрасывает события
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *Event) error { return nil }
func (NoopPublisher) Close() error                          { return nil }

// MemoryPublisher копит события в памяти
type MemoryPublisher struct {
	mu     sync.Mutex
	events []*Event
}

func (m *MemoryPublisher) Publish(_ context.Context, ev *Event) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

func (m *MemoryPublisher) Close() error { return nil }

// Events копия накопленных событий
func (m *MemoryPublisher) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...)
}

// Types типы событий задачи в порядке публикации
func (m *MemoryPublisher) Types(jobID string) []Type {
	var out []Type
	for _, ev := range m.Events() {
		if ev.JobID == jobID {
			out = append(out, ev.Type)
		}
	}
	return out
}

// New выбирает публикатор по конфигурации: выключено - NoopPublisher
func New(cfg config.EventsConfig, name string) (Publisher, error) {
	if !cfg.Enabled {
		return NoopPublisher{}, nil
	}
	return Connect(cfg, name)
}
