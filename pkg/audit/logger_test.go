package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reservoir/pkg/logger"
)

func init() {
	logger.Init("error")
}

func TestStreamLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewStreamLogger(&Config{Enabled: true, Service: "simctl"}, &buf)
	defer l.Close()

	entry := &Entry{Action: ActionRun, Backend: "mrst"}
	if err := l.Log(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	line := buf.String()
	if !strings.HasPrefix(line, "[AUDIT] ") {
		t.Errorf("expected [AUDIT] prefix, got %q", line)
	}
	if entry.Service != "simctl" || entry.ID == "" {
		t.Errorf("expected service and id to be filled, got %+v", entry)
	}
	if !strings.Contains(line, `"backend":"mrst"`) {
		t.Errorf("expected backend in output, got %q", line)
	}
}

func TestStreamLogger_Disabled(t *testing.T) {
	var buf bytes.Buffer
	l := NewStreamLogger(&Config{Enabled: false}, &buf)

	if err := l.Log(context.Background(), NewEntry(ActionRun).Build()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestFileLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit", "audit.log")

	cfg := &Config{
		Enabled:     true,
		Backend:     "file",
		FilePath:    logPath,
		BufferSize:  100,
		FlushPeriod: 50 * time.Millisecond,
		Service:     "simctl",
	}

	l, err := NewFileLogger(cfg)
	if err != nil {
		t.Fatalf("failed to create file logger: %v", err)
	}

	for _, a := range []Action{ActionSubmit, ActionRun, ActionComplete} {
		if err := l.Log(context.Background(), NewEntry(a).Job("job-7", "opm").Build()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}

	// Close дописывает всё, что осталось в буфере
	if err := l.Close(); err != nil {
		t.Errorf("failed to close logger: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second close must be a no-op: %v", err)
	}

	f, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("failed to open log file: %v", err)
	}
	defer f.Close()

	var actions []Action
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		if e.ResourceID != "job-7" {
			t.Errorf("expected job-7, got %s", e.ResourceID)
		}
		actions = append(actions, e.Action)
	}
	if len(actions) != 3 {
		t.Fatalf("expected 3 entries, got %v", actions)
	}
}

func TestFileLogger_DefaultPath(t *testing.T) {
	t.Chdir(t.TempDir())

	l, err := NewFileLogger(&Config{Enabled: true, Backend: "file"})
	if err != nil {
		t.Fatalf("failed to create file logger: %v", err)
	}
	defer l.Close()

	if _, err := os.Stat("audit.log"); err != nil {
		t.Errorf("expected audit.log in working dir: %v", err)
	}
}

func TestMemoryLogger(t *testing.T) {
	l := &MemoryLogger{}
	_ = l.Log(context.Background(), NewEntry(ActionSubmit).Build())
	_ = l.Log(context.Background(), NewEntry(ActionFail).Build())
	_ = l.Log(context.Background(), NewEntry(ActionSubmit).Build())

	if got := len(l.Entries()); got != 3 {
		t.Errorf("expected 3 entries, got %d", got)
	}
	if got := len(l.Find(ActionSubmit)); got != 2 {
		t.Errorf("expected 2 submit entries, got %d", got)
	}
	if got := len(l.Find(ActionCancel)); got != 0 {
		t.Errorf("expected no cancel entries, got %d", got)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *Config
		wantNoop bool
	}{
		{name: "nil config", cfg: nil},
		{name: "disabled", cfg: &Config{Enabled: false}, wantNoop: true},
		{name: "stdout backend", cfg: &Config{Enabled: true, Backend: "stdout"}},
		{name: "unknown backend defaults to stdout", cfg: &Config{Enabled: true, Backend: "kafka"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if _, isNoop := l.(NoopLogger); isNoop != tt.wantNoop {
				t.Errorf("noop = %v, want %v", isNoop, tt.wantNoop)
			}
			l.Close()
		})
	}
}

func TestNew_File(t *testing.T) {
	l, err := New(&Config{Enabled: true, Backend: "file", FilePath: filepath.Join(t.TempDir(), "a.log")})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer l.Close()
	if _, ok := l.(*FileLogger); !ok {
		t.Errorf("expected *FileLogger, got %T", l)
	}
}

func TestGlobalLogger(t *testing.T) {
	original := Get()
	defer SetGlobal(original)

	mem := &MemoryLogger{}
	SetGlobal(mem)

	if Get() != mem {
		t.Error("expected global logger to be updated")
	}
	if err := Log(context.Background(), NewEntry(ActionCancel).Build()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if len(mem.Find(ActionCancel)) != 1 {
		t.Error("expected entry in global logger")
	}
}
