package backend_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"reservoir/internal/testutil"
	"reservoir/pkg/apperror"
	"reservoir/pkg/backend"
	"reservoir/pkg/config"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := backend.NewRegistry()
	opm := &testutil.FakeBackend{BackendName: "opm"}
	mrst := &testutil.FakeBackend{BackendName: "mrst"}

	require.NoError(t, reg.Register(opm))
	require.NoError(t, reg.Register(mrst))

	got, err := reg.Get("opm")
	require.NoError(t, err)
	assert.Same(t, opm, got)

	got, err = reg.Get("MRST")
	require.NoError(t, err)
	assert.Same(t, mrst, got)

	assert.Equal(t, []string{"mrst", "opm"}, reg.Names())
}

func TestRegistry_Errors(t *testing.T) {
	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(&testutil.FakeBackend{BackendName: "opm"}))

	_, err := reg.Get("eclipse")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeBackendNotFound))

	err = reg.Register(&testutil.FakeBackend{BackendName: "OPM"})
	assert.True(t, apperror.Is(err, apperror.CodeDuplicateBackend))

	err = reg.Register(&testutil.FakeBackend{BackendName: " "})
	assert.True(t, apperror.Is(err, apperror.CodeInvalidArgument))
}

func TestRegistry_HealthMemoized(t *testing.T) {
	ok := testutil.NewMockBackend("ok")
	ok.On("HealthCheck", mock.Anything).Return(nil).Once()
	broken := testutil.NewMockBackend("broken")
	broken.On("HealthCheck", mock.Anything).Return(errors.New("flow: not found")).Once()

	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(ok))
	require.NoError(t, reg.Register(broken))

	want := map[string]bool{"ok": true, "broken": false}
	assert.Equal(t, want, reg.Health(context.Background()))
	// повторный вызов не дёргает проверки: Once() упал бы на втором вызове
	assert.Equal(t, want, reg.Health(context.Background()))

	ok.AssertNumberOfCalls(t, "HealthCheck", 1)
	broken.AssertNumberOfCalls(t, "HealthCheck", 1)

	reg.ResetHealth()
	ok.On("HealthCheck", mock.Anything).Return(nil).Once()
	broken.On("HealthCheck", mock.Anything).Return(nil).Once()
	assert.Equal(t, map[string]bool{"ok": true, "broken": true}, reg.Health(context.Background()))
}

func TestRegistry_HealthProbesNewBackends(t *testing.T) {
	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(&testutil.FakeBackend{BackendName: "a"}))
	assert.Equal(t, map[string]bool{"a": true}, reg.Health(context.Background()))

	require.NoError(t, reg.Register(&testutil.FakeBackend{BackendName: "b", HealthErr: errors.New("down")}))
	assert.Equal(t, map[string]bool{"a": true, "b": false}, reg.Health(context.Background()))
}

func TestNewRegistryFromConfig(t *testing.T) {
	backend.RegisterFactory("test-enabled", func(config.BackendsConfig) (backend.Backend, error) {
		return &testutil.FakeBackend{BackendName: "test-enabled"}, nil
	})
	backend.RegisterFactory("test-disabled", func(config.BackendsConfig) (backend.Backend, error) {
		return nil, backend.ErrDisabled
	})
	backend.RegisterFactory("test-broken", func(config.BackendsConfig) (backend.Backend, error) {
		return nil, errors.New("no interpreter")
	})

	assert.Subset(t, backend.FactoryNames(), []string{"test-broken", "test-disabled", "test-enabled"})

	reg := backend.NewRegistryFromConfig(config.BackendsConfig{})
	names := reg.Names()
	assert.Contains(t, names, "test-enabled")
	assert.NotContains(t, names, "test-disabled")
	assert.NotContains(t, names, "test-broken")
}

func TestProgressFunc_Report(t *testing.T) {
	var nilFn backend.ProgressFunc
	assert.NotPanics(t, func() { nilFn.Report(0.5, "half") })

	var got []float64
	fn := backend.ProgressFunc(func(f float64, _ string) { got = append(got, f) })
	fn.Report(backend.ProgressStart, "")
	fn.Report(backend.ProgressParsed, "")
	assert.Equal(t, []float64{0, 1}, got)
}

func TestRawResult_Tags(t *testing.T) {
	var raw backend.RawResult = &backend.OPMOutput{}
	assert.Equal(t, "opm", raw.Backend())
	raw = &backend.MRSTOutput{}
	assert.Equal(t, "mrst", raw.Backend())
}
