// Package session implements the Session actor: a single FIFO event queue
// drained by exactly one worker goroutine, with behavior supplied entirely
// by a pluggable Role (the session-role adapter — agent, scheduler, email,
// aggregator).
package session

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mosaic-run/meshrt/internal/domain/mesh"
)

// Emitter is the subset of Node behavior a Role needs to produce downstream
// events: unicast along an existing Connection, or broadcast along every
// Subscription registered for an event type.
type Emitter interface {
	Unicast(ctx context.Context, targetNode, eventType string, payload any) error
	Broadcast(ctx context.Context, eventType string, payload any) error
}

// Role is the application hook every session-role adapter implements.
type Role interface {
	OnInitialize(ctx context.Context, s *Session) error
	HandleEvent(ctx context.Context, s *Session, ev mesh.Event) error
	ShouldCloseAfterEvent(ev mesh.Event) bool
	OnClose(ctx context.Context, s *Session) error
}

// SpecialChecker is an optional Role extension; is_special defaults to false
// when a Role does not implement it.
type SpecialChecker interface {
	IsSpecial(ev mesh.Event) bool
}

// Interrupter is an optional Role extension for roles that can cancel
// in-flight work (the agent role forwards to its LLM driver's cancel hook).
// Roles that don't implement it reject Interrupt with "unsupported".
type Interrupter interface {
	Interrupt(ctx context.Context) error
}

// ErrInterruptUnsupported is returned by Session.Interrupt when the
// underlying Role does not implement Interrupter.
var ErrInterruptUnsupported = &unsupportedError{}

type unsupportedError struct{}

func (*unsupportedError) Error() string { return "session: interrupt not supported by this role" }

// Session is a single long-lived actor: one FIFO queue, one worker.
type Session struct {
	ID       uuid.UUID
	NodeID   string
	MosaicID uuid.UUID
	UserID   uuid.UUID

	Emitter Emitter

	role   Role
	logger *slog.Logger
	queue  *fifo

	// requestClose is called exactly once, from the worker goroutine, the
	// instant should_close flips true — it posts a CloseSessionCommand to
	// the owning MosaicInstance, mirroring the spec's handler-boundary-only
	// closure contract.
	requestClose func(sessionID uuid.UUID)

	mu          sync.Mutex
	initialized bool
	shouldClose atomic.Bool
	workerDone  chan struct{}
	closeOnce   sync.Once
}

// New builds a Session bound to role, not yet initialized.
func New(id uuid.UUID, mosaicID uuid.UUID, nodeID string, userID uuid.UUID, role Role, emitter Emitter, requestClose func(uuid.UUID), logger *slog.Logger) *Session {
	return &Session{
		ID:           id,
		NodeID:       nodeID,
		MosaicID:     mosaicID,
		UserID:       userID,
		Emitter:      emitter,
		role:         role,
		logger:       logger,
		queue:        newFIFO(),
		requestClose: requestClose,
	}
}

// Initialize is idempotent: it calls the role's OnInitialize hook and starts
// the worker goroutine. If the hook errors, the caller sees the error and
// the session is left uninitialized (the caller must not register it).
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	if err := s.role.OnInitialize(ctx, s); err != nil {
		return err
	}
	s.initialized = true
	s.workerDone = make(chan struct{})
	go s.run(context.Background())
	return nil
}

// Enqueue places ev on the queue; never blocks, never drops.
func (s *Session) Enqueue(ev mesh.Event) {
	s.queue.push(ev)
}

// ShouldClose reports whether the session has already decided to close.
func (s *Session) ShouldClose() bool { return s.shouldClose.Load() }

func (s *Session) isSpecial(ev mesh.Event) bool {
	if sc, ok := s.role.(SpecialChecker); ok {
		return sc.IsSpecial(ev)
	}
	return false
}

// run is the event loop. It never breaks on should_close: a session that has
// decided to close keeps its worker alive, draining only special events,
// until the external Close() call tears it down. This guarantees every
// queued special event (e.g. session_end) gets a chance to run first.
func (s *Session) run(ctx context.Context) {
	defer close(s.workerDone)
	for {
		ev, ok := s.queue.pop()
		if !ok {
			return
		}

		if s.shouldClose.Load() && !s.isSpecial(ev) {
			continue
		}

		s.handle(ctx, ev)

		if !s.shouldClose.Load() && s.role.ShouldCloseAfterEvent(ev) {
			s.shouldClose.Store(true)
			s.requestClose(s.ID)
		}
	}
}

func (s *Session) handle(ctx context.Context, ev mesh.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session handler panic", "session_id", s.ID, "recover", r, "stack", string(debug.Stack()))
		}
	}()
	if err := s.role.HandleEvent(ctx, s, ev); err != nil {
		s.logger.Error("session handler error", "session_id", s.ID, "event_type", ev.EventType, "err", err)
	}
}

// Interrupt forwards to the role's Interrupter implementation, if any.
func (s *Session) Interrupt(ctx context.Context) error {
	if in, ok := s.role.(Interrupter); ok {
		return in.Interrupt(ctx)
	}
	return ErrInterruptUnsupported
}

// Close closes the queue, waits for the worker to exit, and runs the role's
// OnClose hook. Idempotent. The worker is not cancelled: before it exits it
// still handles every event already queued (only special ones once
// should_close is set), and a handler already running is not interrupted.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.queue.close()
		<-s.workerDone
		if err := s.role.OnClose(ctx, s); err != nil {
			s.logger.Error("session on_close error", "session_id", s.ID, "err", err)
		}
		s.mu.Lock()
		s.initialized = false
		s.mu.Unlock()
		s.shouldClose.Store(false)
	})
}
