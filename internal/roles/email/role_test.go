package email

import (
	"context"
	"io"
	"log/slog"
	"net/smtp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaic-run/meshrt/internal/domain/mesh"
	"github.com/mosaic-run/meshrt/internal/domain/routing"
	"github.com/mosaic-run/meshrt/internal/domain/session"
)

func emailTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	calls int
	err   error
}

func (s *recordingSender) Send(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	s.calls++
	return s.err
}

type noopEmitter struct{}

func (noopEmitter) Unicast(context.Context, string, string, any) error { return nil }
func (noopEmitter) Broadcast(context.Context, string, any) error       { return nil }

func newTestSession(t *testing.T, role session.Role) *session.Session {
	t.Helper()
	s := session.New(uuid.New(), uuid.New(), "email-node", uuid.New(), role, noopEmitter{}, func(uuid.UUID) {}, emailTestLogger())
	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func TestEmailRole_TaskingClosesAfterOneSend(t *testing.T) {
	sender := &recordingSender{}
	role := New(Config{To: "a@example.com", From: "b@example.com", Alignment: routing.Tasking}, sender, emailTestLogger())
	s := newTestSession(t, role)

	ev := mesh.Event{EventType: "notify", Payload: "hi"}
	require.NoError(t, role.HandleEvent(context.Background(), s, ev))

	assert.Equal(t, 1, sender.calls)
	assert.True(t, role.ShouldCloseAfterEvent(ev))
}

func TestEmailRole_AgentDrivenStaysOpenAfterSend(t *testing.T) {
	sender := &recordingSender{}
	role := New(Config{To: "a@example.com", From: "b@example.com", Alignment: routing.AgentDriven}, sender, emailTestLogger())
	s := newTestSession(t, role)

	ev := mesh.Event{EventType: "notify", Payload: "hi"}
	require.NoError(t, role.HandleEvent(context.Background(), s, ev))

	assert.Equal(t, 1, sender.calls)
	assert.False(t, role.ShouldCloseAfterEvent(ev))
}

func TestEmailRole_SendFailureDoesNotCloseSession(t *testing.T) {
	sender := &recordingSender{err: assert.AnError}
	role := New(Config{To: "a@example.com", From: "b@example.com", Alignment: routing.Tasking}, sender, emailTestLogger())
	s := newTestSession(t, role)

	ev := mesh.Event{EventType: "notify", Payload: "hi"}
	require.NoError(t, role.HandleEvent(context.Background(), s, ev))

	assert.False(t, role.ShouldCloseAfterEvent(ev), "a failed send must not count toward the one-send close policy")
}
