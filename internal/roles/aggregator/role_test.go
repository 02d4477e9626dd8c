package aggregator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaic-run/meshrt/internal/domain/mesh"
	"github.com/mosaic-run/meshrt/internal/domain/session"
)

func aggregatorTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingEmitter struct {
	batches [][]any
}

func (e *recordingEmitter) Unicast(context.Context, string, string, any) error { return nil }

func (e *recordingEmitter) Broadcast(ctx context.Context, eventType string, payload any) error {
	e.batches = append(e.batches, payload.([]any))
	return nil
}

func newTestSession(t *testing.T, role session.Role, emitter session.Emitter) *session.Session {
	t.Helper()
	return session.New(uuid.New(), uuid.New(), "aggregator-node", uuid.New(), role, emitter, func(uuid.UUID) {}, aggregatorTestLogger())
}

func withFixedClock(t *testing.T, at time.Time) {
	t.Helper()
	orig := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = orig })
}

func TestAggregatorRole_FlushesOnceMaxBatchReached(t *testing.T) {
	emitter := &recordingEmitter{}
	role := New(Config{MaxBatch: 3}, aggregatorTestLogger())
	s := newTestSession(t, role, emitter)

	for _, payload := range []any{"a", "b"} {
		require.NoError(t, role.HandleEvent(context.Background(), s, mesh.Event{Payload: payload}))
	}
	assert.Empty(t, emitter.batches, "must not flush before MaxBatch is reached")

	require.NoError(t, role.HandleEvent(context.Background(), s, mesh.Event{Payload: "c"}))
	require.Len(t, emitter.batches, 1)
	assert.Equal(t, []any{"a", "b", "c"}, emitter.batches[0])
}

func TestAggregatorRole_FlushesOnceMaxWaitElapsed(t *testing.T) {
	emitter := &recordingEmitter{}
	role := New(Config{MaxBatch: 100, MaxWait: time.Minute}, aggregatorTestLogger())
	s := newTestSession(t, role, emitter)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	withFixedClock(t, start)
	require.NoError(t, role.HandleEvent(context.Background(), s, mesh.Event{Payload: "a"}))
	assert.Empty(t, emitter.batches, "the first item alone must not be old enough to flush")

	withFixedClock(t, start.Add(2*time.Minute))
	require.NoError(t, role.HandleEvent(context.Background(), s, mesh.Event{Payload: "b"}))
	require.Len(t, emitter.batches, 1, "the buffer must flush once the oldest item exceeds MaxWait")
	assert.Equal(t, []any{"a", "b"}, emitter.batches[0])
}

func TestAggregatorRole_FlushesRemainderOnClose(t *testing.T) {
	emitter := &recordingEmitter{}
	role := New(Config{MaxBatch: 100}, aggregatorTestLogger())
	s := newTestSession(t, role, emitter)

	require.NoError(t, role.HandleEvent(context.Background(), s, mesh.Event{Payload: "a"}))
	require.NoError(t, role.HandleEvent(context.Background(), s, mesh.Event{Payload: "b"}))
	assert.Empty(t, emitter.batches, "nothing should flush before the batch or wait threshold trips")

	require.NoError(t, role.OnClose(context.Background(), s))
	require.Len(t, emitter.batches, 1)
	assert.Equal(t, []any{"a", "b"}, emitter.batches[0])
}

func TestAggregatorRole_OnCloseWithEmptyBufferIsNoop(t *testing.T) {
	emitter := &recordingEmitter{}
	role := New(Config{MaxBatch: 5}, aggregatorTestLogger())
	s := newTestSession(t, role, emitter)

	require.NoError(t, role.OnClose(context.Background(), s))
	assert.Empty(t, emitter.batches)
}

func TestAggregatorRole_NeverClosesReactively(t *testing.T) {
	role := New(Config{MaxBatch: 1}, aggregatorTestLogger())

	for _, ev := range []mesh.Event{
		{EventType: "node_message", Payload: "hi"},
		{EventType: "session_end", Payload: nil},
	} {
		assert.False(t, role.ShouldCloseAfterEvent(ev))
	}
}

func TestAggregatorRole_DefaultsMaxBatchAndEventType(t *testing.T) {
	role := New(Config{}, aggregatorTestLogger())
	assert.Equal(t, 1, role.cfg.MaxBatch)
	assert.Equal(t, "event_batch", role.cfg.EventType)
}
