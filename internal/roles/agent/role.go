package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sony/gobreaker"

	"github.com/mosaic-run/meshrt/internal/domain/mesh"
	"github.com/mosaic-run/meshrt/internal/domain/routing"
	"github.com/mosaic-run/meshrt/internal/domain/session"
)

// Role implements session.Role for an agent-type node: it delegates
// reasoning to a Driver, persists every turn, tracks token usage, and closes
// once the driver signals completion, the configured token budget runs out,
// or an explicit session_end event arrives.
type Role struct {
	persister routing.SessionPersister
	driver    Driver
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger

	mode        routing.SessionMode
	model       string
	tokenBudget int64

	history      []Message
	usedTokens   int64
	taskComplete bool
}

// Config is the node.config shape the agent role reads at session-creation
// time.
type Config struct {
	Mode        routing.SessionMode
	Model       string
	TokenBudget int64
}

// New builds an agent Role with its own circuit breaker around the driver
// call; breakerName namespaces that breaker's logging. Each Role, and so each
// session, gets a separate breaker: sessions of the same node do not share
// one.
func New(persister routing.SessionPersister, driver Driver, breakerName string, cfg Config, logger *slog.Logger) *Role {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("agent-llm-driver:%s", breakerName),
		MaxRequests: 1,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("agent driver circuit breaker state change", "breaker", name, "from", from, "to", to)
		},
	})
	return &Role{
		persister:   persister,
		driver:      driver,
		breaker:     cb,
		logger:      logger,
		mode:        cfg.Mode,
		model:       cfg.Model,
		tokenBudget: cfg.TokenBudget,
	}
}

var _ session.Role = (*Role)(nil)
var _ session.SpecialChecker = (*Role)(nil)
var _ session.Interrupter = (*Role)(nil)

func (r *Role) OnInitialize(ctx context.Context, s *session.Session) error {
	mode := r.mode
	if mode == "" {
		mode = routing.ModeBackground
	}
	return r.persister.CreateSession(ctx, routing.SessionRecord{
		SessionID:     s.ID,
		UserID:        s.UserID,
		MosaicID:      s.MosaicID,
		NodeID:        s.NodeID,
		Mode:          mode,
		Model:         r.model,
		Status:        routing.SessionActive,
		RuntimeStatus: routing.RuntimeIdle,
	})
}

func (r *Role) HandleEvent(ctx context.Context, s *session.Session, ev mesh.Event) error {
	_ = r.persister.UpdateRuntimeStatus(ctx, s.ID, routing.RuntimeBusy)
	defer func() {
		_ = r.persister.UpdateRuntimeStatus(ctx, s.ID, routing.RuntimeIdle)
	}()

	content := payloadText(ev.Payload)
	r.history = append(r.history, Message{Role: "user", Content: content})
	_ = r.persister.AppendMessage(ctx, routing.MessageRecord{SessionID: s.ID, Role: "user", Content: content})

	result, err := r.breaker.Execute(func() (any, error) {
		return r.driver.Respond(ctx, r.history)
	})
	if err != nil {
		return fmt.Errorf("agent driver call failed: %w", err)
	}
	reply := result.(Reply)

	r.history = append(r.history, Message{Role: "assistant", Content: reply.Content})
	_ = r.persister.AppendMessage(ctx, routing.MessageRecord{SessionID: s.ID, Role: "assistant", Content: reply.Content})
	_ = r.persister.AddTokenUsage(ctx, s.ID, reply.PromptTokens, reply.CompletionTokens)

	r.usedTokens += reply.PromptTokens + reply.CompletionTokens
	r.taskComplete = reply.TaskComplete

	eventType := "node_message"
	if reply.TaskComplete {
		eventType = "session_end"
	}
	return s.Emitter.Broadcast(ctx, eventType, reply.Content)
}

// ShouldCloseAfterEvent is decided only at the handler boundary: token
// budget overruns and driver-reported completion both surface here, never
// mid-handler, matching the runtime's resolution that RuntimeStatus and
// closure decisions are boundary-only observable.
func (r *Role) ShouldCloseAfterEvent(ev mesh.Event) bool {
	if r.taskComplete {
		return true
	}
	if r.tokenBudget > 0 && r.usedTokens >= r.tokenBudget {
		return true
	}
	return ev.EventType == "session_end"
}

func (r *Role) IsSpecial(ev mesh.Event) bool {
	return ev.EventType == "session_end"
}

func (r *Role) Interrupt(ctx context.Context) error {
	return r.driver.Cancel(ctx)
}

func (r *Role) OnClose(ctx context.Context, s *session.Session) error {
	return r.persister.UpdateStatus(ctx, s.ID, routing.SessionClosed)
}

func payloadText(payload any) string {
	if s, ok := payload.(string); ok {
		return s
	}
	if m, ok := payload.(map[string]any); ok {
		if text, ok := m["text"].(string); ok {
			return text
		}
	}
	return fmt.Sprintf("%v", payload)
}
