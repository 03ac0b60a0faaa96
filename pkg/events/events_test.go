package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reservoir/pkg/apperror"
	"reservoir/pkg/config"
	"reservoir/pkg/logger"
)

func init() {
	logger.Init("error")
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "reservoir.jobs.job.completed", Subject("", TypeCompleted))
	assert.Equal(t, "lab.sim.job.submitted", Subject("lab.sim", TypeSubmitted))
}

func TestNewEvent(t *testing.T) {
	a := NewEvent(TypeStarted, "job-1", "opm", "running")
	b := NewEvent(TypeStarted, "job-1", "opm", "running")

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, TypeStarted, a.Type)
	assert.False(t, a.Timestamp.IsZero())

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"job.started"`)
	assert.NotContains(t, string(data), `"error"`)
}

func TestMemoryPublisher(t *testing.T) {
	m := &MemoryPublisher{}
	ctx := context.Background()

	require.NoError(t, m.Publish(ctx, NewEvent(TypeSubmitted, "a", "opm", "pending")))
	require.NoError(t, m.Publish(ctx, NewEvent(TypeSubmitted, "b", "mrst", "pending")))
	require.NoError(t, m.Publish(ctx, NewEvent(TypeCompleted, "a", "opm", "completed")))

	assert.Len(t, m.Events(), 3)
	assert.Equal(t, []Type{TypeSubmitted, TypeCompleted}, m.Types("a"))
	assert.NoError(t, m.Close())
}

func TestNew_Disabled(t *testing.T) {
	p, err := New(config.EventsConfig{Enabled: false}, "test")
	require.NoError(t, err)
	assert.IsType(t, NoopPublisher{}, p)
	assert.NoError(t, p.Publish(context.Background(), NewEvent(TypeFailed, "x", "opm", "failed")))
	assert.NoError(t, p.Close())
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(config.EventsConfig{
		URL:            "nats://127.0.0.1:1",
		ConnectTimeout: 200 * time.Millisecond,
	}, "test")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeInfrastructure))
}

// Требует запущенный NATS: NATS_TEST_URL=nats://localhost:4222
func TestNATSPublisher_RoundTrip(t *testing.T) {
	url := os.Getenv("NATS_TEST_URL")
	if url == "" {
		t.Skip("NATS_TEST_URL not set")
	}

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()

	ch := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe("test.events.job.>", ch)
	require.NoError(t, err)
	defer s.Unsubscribe()
	require.NoError(t, sub.Flush())

	p, err := Connect(config.EventsConfig{URL: url, SubjectPrefix: "test.events"}, "test")
	require.NoError(t, err)
	assert.True(t, p.IsConnected())

	require.NoError(t, p.Publish(context.Background(), NewEvent(TypeCompleted, "job-9", "mrst", "completed")))
	require.NoError(t, p.Close())

	select {
	case msg := <-ch:
		assert.Equal(t, "test.events.job.completed", msg.Subject)
		var ev Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, "job-9", ev.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}
