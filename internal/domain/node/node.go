// Package node implements the Node actor: a registry of sessions that owns
// a NodeTransport, resolves routing through the RoutingStore, emits events
// (unicast or broadcast-by-subscription), and auto-creates sessions on first
// receipt for an unknown target session id.
package node

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mosaic-run/meshrt/internal/domain/mesh"
	"github.com/mosaic-run/meshrt/internal/domain/routing"
	"github.com/mosaic-run/meshrt/internal/domain/session"
)

// Status mirrors routing.NodeStatus for clarity at the call site.
type Status = routing.NodeStatus

const (
	Running = routing.NodeRunning
	Stopped = routing.NodeStopped
)

// Hooks are the node-level (not session-level) startup/teardown extension
// points. on_start runs before the transport attaches; on_stop runs after
// every session has been closed. The zero value is a no-op, which is what
// every role in this runtime uses today — node-level setup is not yet
// needed by any of agent/scheduler/email/aggregator, whose setup lives in
// the session Role's on_initialize instead.
type Hooks interface {
	OnStart(ctx context.Context, n *Node) error
	OnStop(ctx context.Context, n *Node) error
}

type noopHooks struct{}

func (noopHooks) OnStart(context.Context, *Node) error { return nil }
func (noopHooks) OnStop(context.Context, *Node) error  { return nil }

// RoleFactory builds the session Role for a newly created session on this
// node, given the session's chosen configuration.
type RoleFactory func(sessionID uuid.UUID, config map[string]any) (session.Role, error)

// CreateSessionFunc is injected by the owning MosaicInstance: it posts a
// CreateSessionCommand to the command loop and awaits the (possibly
// already-existing) Session. This is how the Node satisfies "exactly one
// creation per unknown id under concurrent arrivals" without taking a
// node-wide write lock on every frame.
type CreateSessionFunc func(ctx context.Context, nodeID string, sessionID uuid.UUID, config map[string]any) (*session.Session, error)

// Node is the per-mosaic addressable actor described by the spec.
type Node struct {
	Record routing.NodeRecord

	mosaicID uuid.UUID
	nodeID   string
	userID   uuid.UUID

	store     routing.Store
	transport *mesh.Transport
	hooks     Hooks
	roleFor   RoleFactory
	create    CreateSessionFunc
	logger    *slog.Logger

	mu       sync.RWMutex
	status   Status
	sessions map[uuid.UUID]*session.Session
}

// New builds a Node; it is Stopped until Start is called.
func New(rec routing.NodeRecord, userID uuid.UUID, store routing.Store, transport *mesh.Transport, hooks Hooks, roleFor RoleFactory, create CreateSessionFunc, logger *slog.Logger) *Node {
	if hooks == nil {
		hooks = noopHooks{}
	}
	return &Node{
		Record:   rec,
		mosaicID: rec.MosaicID,
		nodeID:   rec.NodeID,
		userID:   userID,
		store:    store,
		transport: transport,
		hooks:    hooks,
		roleFor:  roleFor,
		create:   create,
		logger:   logger,
		status:   Stopped,
		sessions: make(map[uuid.UUID]*session.Session),
	}
}

func (n *Node) ID() string         { return n.nodeID }
func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// Start runs the node-level on_start hook, then attaches the transport. If
// either step fails the transport is torn down and on_stop is not called —
// subclasses are expected to clean up on their own on_start failure path.
func (n *Node) Start(ctx context.Context) error {
	if err := n.hooks.OnStart(ctx, n); err != nil {
		return err
	}
	if err := n.transport.Attach(ctx, n.mosaicID, n.nodeID, n.onFrame); err != nil {
		return err
	}
	n.mu.Lock()
	n.status = Running
	n.mu.Unlock()
	return nil
}

// Stop marks the node Stopped, closes every remaining session, detaches the
// transport, then runs on_stop. Sessions close before the transport detaches
// because a role's on_close (the aggregator's final flush, in particular)
// may still need to emit downstream through this node's transport while
// draining; detaching first would make that last send fail.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	n.status = Stopped
	n.mu.Unlock()

	n.mu.Lock()
	sessions := make([]*session.Session, 0, len(n.sessions))
	for _, s := range n.sessions {
		sessions = append(sessions, s)
	}
	n.sessions = make(map[uuid.UUID]*session.Session)
	n.mu.Unlock()

	for _, s := range sessions {
		s.Close(ctx)
	}

	n.transport.Detach()

	return n.hooks.OnStop(ctx, n)
}

// RegisterSession adds a newly created session to the registry. Called by
// the owning MosaicInstance's CreateSessionCommand handler.
func (n *Node) RegisterSession(s *session.Session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sessions[s.ID] = s
}

// LookupSession returns the session if already registered.
func (n *Node) LookupSession(id uuid.UUID) (*session.Session, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s, ok := n.sessions[id]
	return s, ok
}

// RemoveSession drops a session from the registry (its worker must already
// be stopped by the caller).
func (n *Node) RemoveSession(id uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.sessions, id)
}

// Sessions returns a snapshot of every registered session id.
func (n *Node) Sessions() []uuid.UUID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(n.sessions))
	for id := range n.sessions {
		out = append(out, id)
	}
	return out
}

// onFrame is the NodeTransport callback: it runs on the transport's receive
// loop goroutine, not on the MosaicInstance command loop. Existing-session
// lookup takes only a short-held read lock (the session's own FIFO
// serializes the actual enqueue); unknown sessions are routed through the
// command channel so creation is serialized exactly once per id, as the
// spec's "no internal locking" note intends for the command loop's own
// state but cannot for a callback arriving on a different goroutine.
func (n *Node) onFrame(ev mesh.Event) {
	if n.Status() != Running {
		return
	}
	if ev.TargetSessionID == uuid.Nil {
		return
	}

	if s, ok := n.LookupSession(ev.TargetSessionID); ok {
		s.Enqueue(ev)
		return
	}

	cfg := n.defaultSessionConfig()
	s, err := n.create(context.Background(), n.nodeID, ev.TargetSessionID, cfg)
	if err != nil {
		n.logger.Error("node auto-create session failed", "node_id", n.nodeID, "session_id", ev.TargetSessionID, "err", err)
		return
	}
	s.Enqueue(ev)
}

func (n *Node) defaultSessionConfig() map[string]any {
	cfg := make(map[string]any, len(n.Record.Config))
	for k, v := range n.Record.Config {
		cfg[k] = v
	}
	return cfg
}

// Unicast requires an active Connection from this node to targetNode; if
// none exists the event is dropped (logged, not an error).
func (n *Node) Unicast(ctx context.Context, sourceSession uuid.UUID, targetNode, eventType string, payload any) error {
	if _, err := n.store.GetConnection(ctx, n.mosaicID, n.nodeID, targetNode); err != nil {
		n.logger.Warn("unicast dropped: no active connection", "source_node", n.nodeID, "target_node", targetNode)
		return nil
	}

	remoteSession, err := n.store.ResolveOrCreate(ctx, n.mosaicID, n.nodeID, sourceSession, targetNode)
	if err != nil {
		return err
	}

	ev := mesh.Event{
		EventID:         uuid.New(),
		EventType:       eventType,
		SourceNodeID:    n.nodeID,
		SourceSessionID: sourceSession,
		TargetNodeID:    targetNode,
		TargetSessionID: remoteSession,
		Payload:         payload,
	}
	return n.transport.Send(ctx, n.mosaicID, targetNode, ev)
}

// Broadcast fans an event out to every Subscription registered for
// eventType from this node. Per-target failures are logged and do not stop
// the fan-out; zero subscribers is a silent no-op.
func (n *Node) Broadcast(ctx context.Context, sourceSession uuid.UUID, eventType string, payload any) error {
	targets, err := n.store.GetSubscribers(ctx, n.mosaicID, n.nodeID, eventType)
	if err != nil {
		return err
	}
	for _, target := range targets {
		if err := n.Unicast(ctx, sourceSession, target, eventType, payload); err != nil {
			n.logger.Error("broadcast delivery failed", "source_node", n.nodeID, "target_node", target, "err", err)
		}
	}
	return nil
}

// RoleFor builds the Role for a new session with the given config.
func (n *Node) RoleFor(sessionID uuid.UUID, config map[string]any) (session.Role, error) {
	return n.roleFor(sessionID, config)
}

// UserID is the mosaic owner's id, stamped onto every session this node
// creates.
func (n *Node) UserID() uuid.UUID { return n.userID }

// MosaicID is the owning mosaic's id.
func (n *Node) MosaicID() uuid.UUID { return n.mosaicID }
