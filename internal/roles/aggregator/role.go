// Package aggregator implements the aggregator session role: it buffers
// inbound event payloads and emits them downstream as a single batched
// event, either once the buffer reaches its configured size or once it has
// waited long enough for more to arrive.
package aggregator

import (
	"context"
	"log/slog"
	"time"

	"github.com/mosaic-run/meshrt/internal/domain/mesh"
	"github.com/mosaic-run/meshrt/internal/domain/session"
)

// Config is the node.config shape the aggregator role reads.
type Config struct {
	MaxBatch  int           // flush once the buffer reaches this many items
	MaxWait   time.Duration // flush once the oldest buffered item is this old
	EventType string        // defaults to "event_batch"
}

// Role implements session.Role for an aggregator-type node.
type Role struct {
	cfg    Config
	logger *slog.Logger

	buf        []any
	oldestSeen time.Time
}

// New builds an aggregator Role.
func New(cfg Config, logger *slog.Logger) *Role {
	if cfg.EventType == "" {
		cfg.EventType = "event_batch"
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 1
	}
	return &Role{cfg: cfg, logger: logger}
}

var _ session.Role = (*Role)(nil)

func (r *Role) OnInitialize(ctx context.Context, s *session.Session) error { return nil }

// HandleEvent buffers the payload and flushes at the handler boundary when
// either the size or age threshold is crossed — the aggregator never checks
// age on a timer, only when an event actually arrives.
func (r *Role) HandleEvent(ctx context.Context, s *session.Session, ev mesh.Event) error {
	if len(r.buf) == 0 {
		r.oldestSeen = now()
	}
	r.buf = append(r.buf, ev.Payload)

	full := len(r.buf) >= r.cfg.MaxBatch
	aged := r.cfg.MaxWait > 0 && now().Sub(r.oldestSeen) >= r.cfg.MaxWait
	if full || aged {
		return r.flush(ctx, s)
	}
	return nil
}

func (r *Role) flush(ctx context.Context, s *session.Session) error {
	if len(r.buf) == 0 {
		return nil
	}
	batch := r.buf
	r.buf = nil
	return s.Emitter.Broadcast(ctx, r.cfg.EventType, batch)
}

// ShouldCloseAfterEvent: the aggregator never closes itself in reaction to
// an event; it closes only via an explicit close_session call, at which
// point OnClose flushes whatever remains.
func (r *Role) ShouldCloseAfterEvent(ev mesh.Event) bool { return false }

// OnClose flushes any remaining buffered payloads before the node detaches
// its transport, so a partial batch is never silently dropped.
func (r *Role) OnClose(ctx context.Context, s *session.Session) error {
	return r.flush(ctx, s)
}

// now is a var so tests can stub time without wall-clock flakiness.
var now = time.Now
