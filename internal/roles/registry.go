// Package roles wires routing.NodeType to the concrete session-role adapter
// that node type runs, reading each session's tuning knobs out of the
// node's persisted config map.
package roles

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	domainnode "github.com/mosaic-run/meshrt/internal/domain/node"
	"github.com/mosaic-run/meshrt/internal/domain/routing"
	"github.com/mosaic-run/meshrt/internal/domain/session"
	"github.com/mosaic-run/meshrt/internal/roles/agent"
	"github.com/mosaic-run/meshrt/internal/roles/aggregator"
	"github.com/mosaic-run/meshrt/internal/roles/email"
	"github.com/mosaic-run/meshrt/internal/roles/scheduler"
)

// DriverFactory builds the agent role's LLM driver for one session, given
// the node's configured driver name and model.
type DriverFactory func(driverName, model string) (agent.Driver, error)

// Registry implements mosaic.RoleRegistry.
type Registry struct {
	Sessions      routing.SessionPersister
	Drivers       DriverFactory
	EmailSender   email.Sender
	Logger        *slog.Logger
}

// RoleFactory resolves nodeType to the node.RoleFactory that type runs.
func (r *Registry) RoleFactory(nodeType routing.NodeType) (domainnode.RoleFactory, error) {
	switch nodeType {
	case routing.NodeTypeAgent:
		return r.agentFactory, nil
	case routing.NodeTypeScheduler:
		return r.schedulerFactory, nil
	case routing.NodeTypeEmail:
		return r.emailFactory, nil
	case routing.NodeTypeAggregator:
		return r.aggregatorFactory, nil
	default:
		return nil, fmt.Errorf("roles: unknown node type %q", nodeType)
	}
}

func (r *Registry) agentFactory(sessionID uuid.UUID, config map[string]any) (session.Role, error) {
	driverName, _ := config["driver"].(string)
	if driverName == "" {
		driverName = "anthropic"
	}
	model, _ := config["model"].(string)
	driver, err := r.Drivers(driverName, model)
	if err != nil {
		return nil, err
	}

	cfg := agent.Config{Model: model}
	if mode, ok := config["mode"].(string); ok {
		cfg.Mode = routing.SessionMode(mode)
	}
	if budget, ok := asInt64(config["token_budget"]); ok {
		cfg.TokenBudget = budget
	}

	return agent.New(r.Sessions, driver, sessionID.String(), cfg, r.Logger), nil
}

func (r *Registry) schedulerFactory(sessionID uuid.UUID, config map[string]any) (session.Role, error) {
	cfg := scheduler.Config{}
	if expr, ok := config["cron"].(string); ok {
		cfg.Expression = expr
	}
	if et, ok := config["event_type"].(string); ok {
		cfg.EventType = et
	}
	cfg.Payload = config["payload"]
	return scheduler.New(cfg, r.Logger), nil
}

func (r *Registry) emailFactory(sessionID uuid.UUID, config map[string]any) (session.Role, error) {
	cfg := email.Config{}
	cfg.SMTPAddr, _ = config["smtp_addr"].(string)
	cfg.From, _ = config["from"].(string)
	cfg.To, _ = config["to"].(string)
	cfg.SubjectTmpl, _ = config["subject"].(string)
	if align, ok := config["alignment"].(string); ok {
		cfg.Alignment = routing.AlignmentPolicy(align)
	}
	return email.New(cfg, r.EmailSender, r.Logger), nil
}

func (r *Registry) aggregatorFactory(sessionID uuid.UUID, config map[string]any) (session.Role, error) {
	cfg := aggregator.Config{}
	if mb, ok := asInt64(config["max_batch"]); ok {
		cfg.MaxBatch = int(mb)
	}
	if ws, ok := asInt64(config["max_wait_seconds"]); ok {
		cfg.MaxWait = time.Duration(ws) * time.Second
	}
	if et, ok := config["event_type"].(string); ok {
		cfg.EventType = et
	}
	return aggregator.New(cfg, r.Logger), nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
