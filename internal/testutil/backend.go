package testutil

import (
	"context"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"reservoir/pkg/backend"
	"reservoir/pkg/domain"
)

// ============================================================
// MOCKS
// ============================================================

// MockBackend mock адаптера на testify/mock
type MockBackend struct {
	mock.Mock
	name string
}

// NewMockBackend создаёт mock с заданным именем
func NewMockBackend(name string) *MockBackend {
	return &MockBackend{name: name}
}

func (m *MockBackend) Name() string    { return m.name }
func (m *MockBackend) Version() string { return "mock-1.0" }

func (m *MockBackend) Validate(req *domain.SimRequest) []string {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]string)
}

func (m *MockBackend) Run(ctx context.Context, req *domain.SimRequest, workDir string, progress backend.ProgressFunc) (backend.RawResult, error) {
	args := m.Called(ctx, req, workDir, progress)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(backend.RawResult), args.Error(1)
}

func (m *MockBackend) ParseResult(raw backend.RawResult, req *domain.SimRequest) *domain.UnifiedResult {
	args := m.Called(raw, req)
	return args.Get(0).(*domain.UnifiedResult)
}

func (m *MockBackend) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// ============================================================
// FAKES
// ============================================================

// FakeBackend адаптер на функциях. Поля с nil дают поведение по умолчанию:
// запрос допустим, запуск мгновенный, результат COMPLETED с одним шагом на
// каждое время отчёта.
type FakeBackend struct {
	BackendName string
	ValidateFn  func(req *domain.SimRequest) []string
	RunFn       func(ctx context.Context, req *domain.SimRequest, workDir string) error
	ParseFn     func(req *domain.SimRequest) *domain.UnifiedResult
	HealthErr   error

	Runs atomic.Int32
}

func (f *FakeBackend) Name() string {
	if f.BackendName == "" {
		return "fake"
	}
	return f.BackendName
}

func (f *FakeBackend) Version() string { return "fake-0.1" }

func (f *FakeBackend) Validate(req *domain.SimRequest) []string {
	if f.ValidateFn != nil {
		return f.ValidateFn(req)
	}
	return nil
}

func (f *FakeBackend) Run(ctx context.Context, req *domain.SimRequest, workDir string, progress backend.ProgressFunc) (backend.RawResult, error) {
	f.Runs.Add(1)
	progress.Report(backend.ProgressStart, "start")
	progress.Report(backend.ProgressInputWritten, "input written")
	if f.RunFn != nil {
		if err := f.RunFn(ctx, req, workDir); err != nil {
			return nil, err
		}
	}
	progress.Report(backend.ProgressRunComplete, "run complete")
	return &backend.OPMOutput{WorkDir: workDir, CaseName: "FAKE"}, nil
}

func (f *FakeBackend) ParseResult(raw backend.RawResult, req *domain.SimRequest) *domain.UnifiedResult {
	if f.ParseFn != nil {
		return f.ParseFn(req)
	}
	pressures := make([][]float64, len(req.ReportTimes))
	for i := range pressures {
		pressures[i] = []float64{200 - float64(i)}
	}
	res := CompletedResult(f.Name(), req.ReportTimes, pressures)
	res.Request = req
	return res
}

func (f *FakeBackend) HealthCheck(context.Context) error { return f.HealthErr }
