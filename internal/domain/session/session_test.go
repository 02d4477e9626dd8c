package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaic-run/meshrt/internal/domain/mesh"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingRole struct {
	mu       sync.Mutex
	handled  []string
	closeAt  string // close after handling this event type
	special  map[string]bool
	closedCh chan struct{}
}

func newRecordingRole() *recordingRole {
	return &recordingRole{special: map[string]bool{}, closedCh: make(chan struct{})}
}

func (r *recordingRole) OnInitialize(ctx context.Context, s *Session) error { return nil }

func (r *recordingRole) HandleEvent(ctx context.Context, s *Session, ev mesh.Event) error {
	r.mu.Lock()
	r.handled = append(r.handled, ev.EventType)
	r.mu.Unlock()
	return nil
}

func (r *recordingRole) ShouldCloseAfterEvent(ev mesh.Event) bool {
	return r.closeAt != "" && ev.EventType == r.closeAt
}

func (r *recordingRole) OnClose(ctx context.Context, s *Session) error {
	close(r.closedCh)
	return nil
}

func (r *recordingRole) IsSpecial(ev mesh.Event) bool { return r.special[ev.EventType] }

func (r *recordingRole) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.handled))
	copy(out, r.handled)
	return out
}

type noopEmitter struct{}

func (noopEmitter) Unicast(ctx context.Context, targetNode, eventType string, payload any) error {
	return nil
}
func (noopEmitter) Broadcast(ctx context.Context, eventType string, payload any) error { return nil }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSession_FIFOOrdering(t *testing.T) {
	role := newRecordingRole()
	var closedSessionID uuid.UUID
	s := New(uuid.New(), uuid.New(), "node-a", uuid.New(), role, noopEmitter{}, func(id uuid.UUID) { closedSessionID = id }, testLogger())
	require.NoError(t, s.Initialize(context.Background()))

	for _, et := range []string{"a", "b", "c", "d"} {
		s.Enqueue(mesh.Event{EventType: et})
	}

	waitFor(t, func() bool { return len(role.snapshot()) == 4 })
	assert.Equal(t, []string{"a", "b", "c", "d"}, role.snapshot())
	_ = closedSessionID
}

func TestSession_ShouldCloseDrainsOnlySpecialEvents(t *testing.T) {
	role := newRecordingRole()
	role.closeAt = "task_done"
	role.special["session_end"] = true

	closeRequested := make(chan uuid.UUID, 1)
	s := New(uuid.New(), uuid.New(), "node-a", uuid.New(), role, noopEmitter{}, func(id uuid.UUID) { closeRequested <- id }, testLogger())
	require.NoError(t, s.Initialize(context.Background()))

	s.Enqueue(mesh.Event{EventType: "task_done"})

	select {
	case <-closeRequested:
	case <-time.After(2 * time.Second):
		t.Fatal("expected requestClose to fire")
	}

	// A non-special event queued after should_close flips must be dropped.
	s.Enqueue(mesh.Event{EventType: "ignored"})
	// A special event must still be handled.
	s.Enqueue(mesh.Event{EventType: "session_end"})

	waitFor(t, func() bool {
		handled := role.snapshot()
		for _, h := range handled {
			if h == "session_end" {
				return true
			}
		}
		return false
	})

	handled := role.snapshot()
	assert.Contains(t, handled, "task_done")
	assert.Contains(t, handled, "session_end")
	assert.NotContains(t, handled, "ignored")
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	role := newRecordingRole()
	s := New(uuid.New(), uuid.New(), "node-a", uuid.New(), role, noopEmitter{}, func(uuid.UUID) {}, testLogger())
	require.NoError(t, s.Initialize(context.Background()))

	done := make(chan struct{}, 2)
	go func() { s.Close(context.Background()); done <- struct{}{} }()
	go func() { s.Close(context.Background()); done <- struct{}{} }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("first Close did not return")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second Close did not return")
	}

	select {
	case <-role.closedCh:
	default:
		t.Fatal("OnClose was never called")
	}
}

func TestSession_InterruptUnsupported(t *testing.T) {
	role := newRecordingRole()
	s := New(uuid.New(), uuid.New(), "node-a", uuid.New(), role, noopEmitter{}, func(uuid.UUID) {}, testLogger())
	require.NoError(t, s.Initialize(context.Background()))

	err := s.Interrupt(context.Background())
	assert.ErrorIs(t, err, ErrInterruptUnsupported)
}
