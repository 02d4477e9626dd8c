// Package mosaic implements MosaicInstance: the single actor that
// serializes every state mutation for one mosaic — its node set, its
// sessions' registries, and its own lifecycle — behind one command channel.
package mosaic

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mosaic-run/meshrt/internal/domain/mesh"
	domainnode "github.com/mosaic-run/meshrt/internal/domain/node"
	"github.com/mosaic-run/meshrt/internal/domain/routing"
	"github.com/mosaic-run/meshrt/internal/domain/session"
	"github.com/mosaic-run/meshrt/internal/runtime/command"
	"github.com/mosaic-run/meshrt/internal/runtimeerr"
)

// RoleRegistry resolves a node type to the session.Role factory it runs.
type RoleRegistry interface {
	RoleFactory(nodeType routing.NodeType) (domainnode.RoleFactory, error)
}

// Instance is one MosaicInstance.
type Instance struct {
	mosaicID uuid.UUID

	broker   *mesh.Broker
	store    routing.Store
	nodes    routing.NodePersister
	mosaics  routing.MosaicPersister
	roles    RoleRegistry
	logger   *slog.Logger

	cmdCh chan command.Command

	mu         sync.RWMutex
	status     routing.MosaicStatus
	nodeReg    map[string]*domainnode.Node
	stopped    chan struct{}
}

// New builds a not-yet-started Instance for mosaicID.
func New(mosaicID uuid.UUID, broker *mesh.Broker, store routing.Store, nodes routing.NodePersister, mosaics routing.MosaicPersister, roles RoleRegistry, logger *slog.Logger) *Instance {
	return &Instance{
		mosaicID: mosaicID,
		broker:   broker,
		store:    store,
		nodes:    nodes,
		mosaics:  mosaics,
		roles:    roles,
		logger:   logger,
		cmdCh:    make(chan command.Command, 256),
		status:   routing.MosaicStopped,
		nodeReg:  make(map[string]*domainnode.Node),
		stopped:  make(chan struct{}),
	}
}

// Status returns the mosaic's current lifecycle state.
func (m *Instance) Status() routing.MosaicStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Start launches the command loop, loads the mosaic's nodes, and
// sequentially starts every auto_start node. A single node's start failure
// is logged and skipped, not fatal. Any error during these steps cancels
// the loop, drops every node and propagates.
func (m *Instance) Start(ctx context.Context) error {
	go m.loop()

	userID := uuid.Nil
	if mo, err := m.mosaics.GetMosaic(ctx, m.mosaicID); err == nil {
		userID = mo.UserID
	}

	records, err := m.nodes.ListNodes(ctx, m.mosaicID)
	if err != nil {
		m.shutdownLoop()
		return runtimeerr.Wrap(runtimeerr.RuntimeInternal, "list nodes", err)
	}

	for _, rec := range records {
		n, err := m.buildNode(rec, userID)
		if err != nil {
			m.shutdownLoop()
			m.dropNodes()
			return runtimeerr.Wrap(runtimeerr.RuntimeInternal, "build node "+rec.NodeID, err)
		}
		m.mu.Lock()
		m.nodeReg[rec.NodeID] = n
		m.mu.Unlock()

		if rec.AutoStart {
			if err := n.Start(ctx); err != nil {
				m.logger.Error("auto-start node failed", "mosaic_id", m.mosaicID, "node_id", rec.NodeID, "err", err)
			}
		}
	}

	m.mu.Lock()
	m.status = routing.MosaicRunning
	m.mu.Unlock()
	return nil
}

func (m *Instance) buildNode(rec routing.NodeRecord, userID uuid.UUID) (*domainnode.Node, error) {
	roleFactory, err := m.roles.RoleFactory(rec.Type)
	if err != nil {
		return nil, err
	}
	transport := mesh.NewTransport(m.broker, m.logger)
	return domainnode.New(rec, userID, m.store, transport, nil, roleFactory, m.createSession, m.logger), nil
}

func (m *Instance) dropNodes() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodeReg = make(map[string]*domainnode.Node)
}

func (m *Instance) shutdownLoop() {
	close(m.cmdCh)
}

// Submit posts a command to this instance's queue. Blocking sends are
// intentional: a saturated command channel means the mosaic's control plane
// itself is overwhelmed, and callers should observe that back-pressure
// rather than have commands silently vanish. A StopMosaic submitted once the
// instance is already STOPPED (its loop may have exited) succeeds at once.
func (m *Instance) Submit(cmd command.Command) {
	if c, ok := cmd.(*command.StopMosaic); ok && m.Status() == routing.MosaicStopped {
		reply(c.Done, nil)
		return
	}
	m.cmdCh <- cmd
}

// loop is the single command-processing goroutine. It exits once the
// instance's status is STOPPED after handling a command.
func (m *Instance) loop() {
	for cmd := range m.cmdCh {
		m.dispatch(cmd)
		if m.Status() == routing.MosaicStopped {
			return
		}
	}
}

func (m *Instance) dispatch(cmd command.Command) {
	switch c := cmd.(type) {
	case *command.StopMosaic:
		m.handleStopMosaic(c)
	case *command.StartNode:
		m.handleStartNode(c)
	case *command.StopNode:
		m.handleStopNode(c)
	case *command.GetNodeStatus:
		m.handleGetNodeStatus(c)
	case *command.CreateSession:
		m.handleCreateSession(c)
	case *command.SendMessage:
		m.handleSendMessage(c)
	case *command.InterruptSession:
		m.handleInterruptSession(c)
	case *command.CloseSession:
		m.handleCloseSession(c)
	default:
		m.logger.Error("mosaic: unknown command type", "mosaic_id", m.mosaicID)
	}
}

func (m *Instance) requireRunning() error {
	if m.Status() != routing.MosaicRunning {
		return runtimeerr.New(runtimeerr.MosaicNotRunning, "mosaic is not running")
	}
	return nil
}

func (m *Instance) handleStopMosaic(c *command.StopMosaic) {
	// Idempotent: stopping an already-stopped mosaic just succeeds again.
	m.mu.Lock()
	already := m.status == routing.MosaicStopped
	m.status = routing.MosaicStopped
	m.mu.Unlock()

	if already {
		reply(c.Done, nil)
		return
	}

	m.mu.RLock()
	nodes := make([]*domainnode.Node, 0, len(m.nodeReg))
	for _, n := range m.nodeReg {
		nodes = append(nodes, n)
	}
	m.mu.RUnlock()

	// Sequential, not parallel, to avoid cross-session resource races.
	for _, n := range nodes {
		if err := n.Stop(context.Background()); err != nil {
			m.logger.Error("stop node failed", "mosaic_id", m.mosaicID, "node_id", n.ID(), "err", err)
		}
	}

	m.dropNodes()
	reply(c.Done, nil)
}

func (m *Instance) handleStartNode(c *command.StartNode) {
	if err := m.requireRunning(); err != nil {
		reply(c.Done, err)
		return
	}
	m.mu.RLock()
	n, ok := m.nodeReg[c.NodeID]
	m.mu.RUnlock()
	if !ok {
		reply(c.Done, runtimeerr.New(runtimeerr.NodeNotFound, c.NodeID))
		return
	}
	if n.Status() == domainnode.Running {
		reply(c.Done, runtimeerr.New(runtimeerr.NodeAlreadyRunning, c.NodeID))
		return
	}
	reply(c.Done, n.Start(context.Background()))
}

func (m *Instance) handleStopNode(c *command.StopNode) {
	if err := m.requireRunning(); err != nil {
		reply(c.Done, err)
		return
	}
	m.mu.RLock()
	n, ok := m.nodeReg[c.NodeID]
	m.mu.RUnlock()
	if !ok {
		reply(c.Done, runtimeerr.New(runtimeerr.NodeNotFound, c.NodeID))
		return
	}
	if n.Status() != domainnode.Running {
		reply(c.Done, runtimeerr.New(runtimeerr.NodeNotRunning, c.NodeID))
		return
	}
	reply(c.Done, n.Stop(context.Background()))
}

func (m *Instance) handleGetNodeStatus(c *command.GetNodeStatus) {
	m.mu.RLock()
	n, ok := m.nodeReg[c.NodeID]
	m.mu.RUnlock()
	if !ok {
		c.Result <- command.GetNodeStatusResult{Status: routing.NodeStopped}
		return
	}
	c.Result <- command.GetNodeStatusResult{Status: n.Status()}
}

func (m *Instance) handleCreateSession(c *command.CreateSession) {
	if err := m.requireRunning(); err != nil {
		c.Result <- command.CreateSessionResult{Err: err}
		return
	}
	m.mu.RLock()
	n, ok := m.nodeReg[c.NodeID]
	m.mu.RUnlock()
	if !ok {
		c.Result <- command.CreateSessionResult{Err: runtimeerr.New(runtimeerr.NodeNotFound, c.NodeID)}
		return
	}

	// Dedup: a racing auto-create for the same id returns the winner's
	// session instead of erroring — this is what gives the spec's
	// "exactly one creation per unknown id under concurrent arrivals" its
	// teeth, since this handler is the only place that mutates the node's
	// session registry for creation.
	if existing, ok := n.LookupSession(c.SessionID); ok {
		c.Result <- command.CreateSessionResult{SessionID: existing.ID}
		return
	}

	role, err := n.RoleFor(c.SessionID, c.Config)
	if err != nil {
		c.Result <- command.CreateSessionResult{Err: err}
		return
	}

	emitter := domainnode.NewEmitter(n, c.SessionID)
	s := session.New(c.SessionID, m.mosaicID, c.NodeID, n.UserID(), role, emitter, m.requestCloseSession(c.NodeID), m.logger)

	if err := s.Initialize(context.Background()); err != nil {
		c.Result <- command.CreateSessionResult{Err: runtimeerr.Wrap(runtimeerr.RuntimeInternal, "initialize session", err)}
		return
	}

	n.RegisterSession(s)
	c.Result <- command.CreateSessionResult{SessionID: s.ID}
}

func (m *Instance) handleSendMessage(c *command.SendMessage) {
	if m.Status() != routing.MosaicRunning {
		return
	}
	m.mu.RLock()
	n, ok := m.nodeReg[c.NodeID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if s, ok := n.LookupSession(c.SessionID); ok {
		s.Enqueue(c.Event)
	}
}

func (m *Instance) handleInterruptSession(c *command.InterruptSession) {
	if err := m.requireRunning(); err != nil {
		reply(c.Done, err)
		return
	}
	m.mu.RLock()
	n, ok := m.nodeReg[c.NodeID]
	m.mu.RUnlock()
	if !ok {
		reply(c.Done, runtimeerr.New(runtimeerr.NodeNotFound, c.NodeID))
		return
	}
	s, ok := n.LookupSession(c.SessionID)
	if !ok {
		reply(c.Done, runtimeerr.New(runtimeerr.SessionNotFound, c.SessionID.String()))
		return
	}
	reply(c.Done, s.Interrupt(context.Background()))
}

func (m *Instance) handleCloseSession(c *command.CloseSession) {
	if err := m.requireRunning(); err != nil {
		reply(c.Done, err)
		return
	}
	m.mu.RLock()
	n, ok := m.nodeReg[c.NodeID]
	m.mu.RUnlock()
	if !ok {
		reply(c.Done, runtimeerr.New(runtimeerr.NodeNotFound, c.NodeID))
		return
	}
	s, ok := n.LookupSession(c.SessionID)
	if !ok {
		// Idempotent: closing an already-gone session succeeds.
		reply(c.Done, nil)
		return
	}
	s.Close(context.Background())
	n.RemoveSession(c.SessionID)
	reply(c.Done, nil)
}

// createSession is the domainnode.CreateSessionFunc a Node uses to
// auto-create a session for an unknown target_session_id; it blocks the
// calling transport receive-loop goroutine until the command loop has
// processed the creation.
func (m *Instance) createSession(ctx context.Context, nodeID string, sessionID uuid.UUID, config map[string]any) (*session.Session, error) {
	result := make(chan command.CreateSessionResult, 1)
	m.Submit(&command.CreateSession{
		NodeID:    nodeID,
		SessionID: sessionID,
		Config:    config,
		Result:    result,
	})

	select {
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.RLock()
	n, ok := m.nodeReg[nodeID]
	m.mu.RUnlock()
	if !ok {
		return nil, runtimeerr.New(runtimeerr.NodeNotFound, nodeID)
	}
	s, ok := n.LookupSession(sessionID)
	if !ok {
		return nil, runtimeerr.New(runtimeerr.RuntimeInternal, "session vanished after create")
	}
	return s, nil
}

// requestCloseSession returns the function a Session's worker calls, from
// its own goroutine, the instant should_close flips true. It posts
// asynchronously so a saturated command channel never stalls the session
// worker that is trying to hand off its own closure.
func (m *Instance) requestCloseSession(nodeID string) func(uuid.UUID) {
	return func(sessionID uuid.UUID) {
		go m.Submit(&command.CloseSession{NodeID: nodeID, SessionID: sessionID})
	}
}

func reply(done chan error, err error) {
	if done == nil {
		return
	}
	done <- err
}
