package audit

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"reservoir/pkg/logger"
)

// StreamLogger пишет записи построчно в io.Writer
type StreamLogger struct {
	config *Config
	mu     sync.Mutex
	w      io.Writer
}

// NewStdoutLogger пишет записи в stdout с префиксом [AUDIT]
func NewStdoutLogger(cfg *Config) *StreamLogger {
	return NewStreamLogger(cfg, os.Stdout)
}

// NewStreamLogger пишет записи в w
func NewStreamLogger(cfg *Config, w io.Writer) *StreamLogger {
	return &StreamLogger{config: cfg, w: w}
}

func (l *StreamLogger) Log(_ context.Context, entry *Entry) error {
	if !l.config.Enabled {
		return nil
	}
	fill(entry, l.config)

	data, err := entry.JSON()
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = fmt.Fprintln(l.w, "[AUDIT]", string(data))
	return err
}

func (l *StreamLogger) Close() error { return nil }

// FileLogger пишет записи в файл с ротацией асинхронно через буфер
type FileLogger struct {
	config *Config
	out    *lumberjack.Logger
	writer *bufio.Writer
	mu     sync.Mutex
	buffer chan *Entry
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewFileLogger открывает файл журнала (audit.log по умолчанию)
func NewFileLogger(cfg *Config) (*FileLogger, error) {
	path := cfg.FilePath
	if path == "" {
		path = "audit.log"
	}
	out := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	// lumberjack открывает файл лениво, ошибку пути получаем сразу
	if _, err := out.Write(nil); err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	l := &FileLogger{
		config: cfg,
		out:    out,
		writer: bufio.NewWriter(out),
		buffer: make(chan *Entry, bufferSize),
		done:   make(chan struct{}),
	}

	l.wg.Add(1)
	go l.processLoop()

	return l, nil
}

// Log ставит запись в буфер; при переполнении пишет синхронно
func (l *FileLogger) Log(_ context.Context, entry *Entry) error {
	if !l.config.Enabled {
		return nil
	}
	fill(entry, l.config)

	select {
	case l.buffer <- entry:
		return nil
	default:
		return l.writeEntry(entry)
	}
}

// Close дописывает буфер и закрывает файл
func (l *FileLogger) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		l.wg.Wait()

		l.mu.Lock()
		defer l.mu.Unlock()
		for {
			select {
			case entry := <-l.buffer:
				if werr := l.writeEntryLocked(entry); werr != nil {
					logger.Log.Warn("Failed to write audit entry during shutdown", "error", werr)
				}
				continue
			default:
			}
			break
		}
		if ferr := l.writer.Flush(); ferr != nil {
			logger.Log.Warn("Failed to flush audit writer", "error", ferr)
		}
		err = l.out.Close()
	})
	return err
}

func (l *FileLogger) processLoop() {
	defer l.wg.Done()

	flushPeriod := l.config.FlushPeriod
	if flushPeriod <= 0 {
		flushPeriod = 5 * time.Second
	}
	ticker := time.NewTicker(flushPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case entry := <-l.buffer:
			if err := l.writeEntry(entry); err != nil {
				logger.Log.Warn("Failed to write audit entry", "error", err)
			}
		case <-ticker.C:
			l.flush()
		}
	}
}

func (l *FileLogger) writeEntry(entry *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeEntryLocked(entry)
}

func (l *FileLogger) writeEntryLocked(entry *Entry) error {
	data, err := entry.JSON()
	if err != nil {
		return err
	}
	_, err = l.writer.Write(append(data, '\n'))
	return err
}

func (l *FileLogger) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		logger.Log.Warn("Failed to flush audit writer", "error", err)
	}
}

// MemoryLogger хранит записи в памяти
type MemoryLogger struct {
	mu      sync.Mutex
	entries []*Entry
}

func (l *MemoryLogger) Log(_ context.Context, entry *Entry) error {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	return nil
}

func (l *MemoryLogger) Close() error { return nil }

// Entries копия накопленных записей
func (l *MemoryLogger) Entries() []*Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Entry(nil), l.entries...)
}

// Find записи с указанным действием
func (l *MemoryLogger) Find(action Action) []*Entry {
	var out []*Entry
	for _, e := range l.Entries() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// NoopLogger ничего не записывает
type NoopLogger struct{}

func (NoopLogger) Log(context.Context, *Entry) error { return nil }
func (NoopLogger) Close() error                      { return nil }

// New выбирает реализацию по конфигурации. Выключенный журнал даёт
// NoopLogger, неизвестный backend - stdout.
func New(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return NoopLogger{}, nil
	}

	switch cfg.Backend {
	case "file":
		return NewFileLogger(cfg)
	case "stdout", "":
		return NewStdoutLogger(cfg), nil
	default:
		logger.Log.Warn("Unknown audit backend, using stdout", "backend", cfg.Backend)
		return NewStdoutLogger(cfg), nil
	}
}

func fill(entry *Entry, cfg *Config) {
	if entry.Service == "" {
		entry.Service = cfg.Service
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
}

var (
	globalMu     sync.RWMutex
	globalLogger Logger = NoopLogger{}
)

// SetGlobal задаёт глобальный журнал
func SetGlobal(l Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Get возвращает глобальный журнал
func Get() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Log пишет запись в глобальный журнал
func Log(ctx context.Context, entry *Entry) error {
	return Get().Log(ctx, entry)
}
