// Package scheduler implements the scheduler session role: a runtime-only,
// cron-triggered emitter with no downstream input contract. It never
// persists state, and it closes only via an explicit close_session call.
// Every session on a scheduler node runs its own cron entry; nothing here
// limits a node to one session.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/mosaic-run/meshrt/internal/domain/mesh"
	"github.com/mosaic-run/meshrt/internal/domain/session"
)

// Config is the node.config shape the scheduler role reads.
type Config struct {
	Expression string // standard 5-field cron expression
	EventType  string // defaults to "scheduler_message"
	Payload    any
}

// Role implements session.Role for a scheduler-type node.
type Role struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	cronSvc *cron.Cron
	entryID cron.EntryID
}

// New builds a scheduler Role.
func New(cfg Config, logger *slog.Logger) *Role {
	if cfg.EventType == "" {
		cfg.EventType = "scheduler_message"
	}
	return &Role{cfg: cfg, logger: logger}
}

var _ session.Role = (*Role)(nil)

func (r *Role) OnInitialize(ctx context.Context, s *session.Session) error {
	if r.cfg.Expression == "" {
		return fmt.Errorf("scheduler role: node.config.cron is required")
	}

	c := cron.New()
	id, err := c.AddFunc(r.cfg.Expression, func() {
		if err := s.Emitter.Broadcast(context.Background(), r.cfg.EventType, r.cfg.Payload); err != nil {
			r.logger.Error("scheduler broadcast failed", "session_id", s.ID, "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler role: invalid cron expression %q: %w", r.cfg.Expression, err)
	}

	r.mu.Lock()
	r.cronSvc = c
	r.entryID = id
	r.mu.Unlock()

	c.Start()
	return nil
}

// HandleEvent: a scheduler node has no downstream input contract; any
// inbound event is logged and dropped.
func (r *Role) HandleEvent(ctx context.Context, s *session.Session, ev mesh.Event) error {
	r.logger.Debug("scheduler role: dropping unexpected inbound event", "session_id", s.ID, "event_type", ev.EventType)
	return nil
}

// ShouldCloseAfterEvent: schedulers close only via an explicit
// close_session call, never as a reaction to an event.
func (r *Role) ShouldCloseAfterEvent(ev mesh.Event) bool { return false }

func (r *Role) OnClose(ctx context.Context, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cronSvc != nil {
		r.cronSvc.Remove(r.entryID)
		stopCtx := r.cronSvc.Stop()
		<-stopCtx.Done()
	}
	return nil
}
