// Package audit записывает журнал действий над задачами, колодами и
// сравнениями. Записи пишутся в stdout или в файл с ротацией.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"reservoir/pkg/config"
)

// Action тип действия
type Action string

const (
	ActionSubmit   Action = "SUBMIT"
	ActionRun      Action = "RUN"
	ActionComplete Action = "COMPLETE"
	ActionFail     Action = "FAIL"
	ActionCancel   Action = "CANCEL"
	ActionPrune    Action = "PRUNE"
	ActionCompare  Action = "COMPARE"
	ActionParse    Action = "PARSE"
	ActionGenerate Action = "GENERATE"
)

// Outcome результат действия
type Outcome string

const (
	OutcomeSuccess  Outcome = "SUCCESS"
	OutcomeFailure  Outcome = "FAILURE"
	OutcomeRejected Outcome = "REJECTED"
)

// Resource типы объектов журнала
const (
	ResourceJob        = "job"
	ResourceDeck       = "deck"
	ResourceComparison = "comparison"
)

// Entry запись журнала
type Entry struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Service      string         `json:"service"`
	Action       Action         `json:"action"`
	Outcome      Outcome        `json:"outcome"`
	Resource     string         `json:"resource,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Backend      string         `json:"backend,omitempty"`
	DurationMs   int64          `json:"duration_ms"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Logger приёмник записей
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
	Close() error
}

// Config конфигурация журнала
type Config struct {
	Enabled     bool
	Backend     string // stdout, file
	FilePath    string
	MaxSize     int // MB
	MaxBackups  int
	MaxAge      int // дней
	Compress    bool
	BufferSize  int
	FlushPeriod time.Duration
	Service     string
}

// DefaultConfig returns a Config struct with default values.
func DefaultConfig() *Config {
	return &Config{
		Enabled:     true,
		Backend:     "stdout",
		MaxSize:     50,
		MaxBackups:  5,
		MaxAge:      30,
		BufferSize:  1000,
		FlushPeriod: 5 * time.Second,
		Service:     "simctl",
	}
}

// FromConfig собирает Config из секции audit
func FromConfig(cfg config.AuditConfig, service string) *Config {
	c := DefaultConfig()
	c.Enabled = cfg.Enabled
	if cfg.Backend != "" {
		c.Backend = cfg.Backend
	}
	c.FilePath = cfg.FilePath
	if service != "" {
		c.Service = service
	}
	return c
}

// Builder собирает Entry
type Builder struct {
	entry *Entry
}

// NewEntry начинает запись с текущим временем
func NewEntry(action Action) *Builder {
	return &Builder{
		entry: &Entry{
			Timestamp: time.Now().UTC(),
			Action:    action,
			Outcome:   OutcomeSuccess,
			Metadata:  make(map[string]any),
		},
	}
}

func (b *Builder) Service(s string) *Builder {
	b.entry.Service = s
	return b
}

func (b *Builder) Outcome(o Outcome) *Builder {
	b.entry.Outcome = o
	return b
}

// Job ставит ресурс job с идентификатором и бэкендом
func (b *Builder) Job(id, backend string) *Builder {
	b.entry.Resource = ResourceJob
	b.entry.ResourceID = id
	b.entry.Backend = backend
	return b
}

func (b *Builder) Resource(resource, resourceID string) *Builder {
	b.entry.Resource = resource
	b.entry.ResourceID = resourceID
	return b
}

func (b *Builder) Duration(d time.Duration) *Builder {
	b.entry.DurationMs = d.Milliseconds()
	return b
}

// Error ставит код и текст ошибки и переводит исход в FAILURE, если он
// ещё SUCCESS
func (b *Builder) Error(code, message string) *Builder {
	b.entry.ErrorCode = code
	b.entry.ErrorMessage = message
	if b.entry.Outcome == OutcomeSuccess {
		b.entry.Outcome = OutcomeFailure
	}
	return b
}

func (b *Builder) Meta(key string, value any) *Builder {
	b.entry.Metadata[key] = value
	return b
}

// Build возвращает запись, назначая идентификатор при необходимости
func (b *Builder) Build() *Entry {
	if b.entry.ID == "" {
		b.entry.ID = uuid.NewString()
	}
	if len(b.entry.Metadata) == 0 {
		b.entry.Metadata = nil
	}
	return b.entry
}

// JSON сериализует запись в одну строку
func (e *Entry) JSON() ([]byte, error) {
	return json.Marshal(e)
}
