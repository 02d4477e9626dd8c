// Package manager implements the RuntimeManager: a fixed worker-loop pool,
// round-robin mosaic assignment, the starting-counter protocol that lets
// stop_runtime wait for every in-flight start before issuing stop commands,
// and the facade every external caller (HTTP binding, tests) drives the
// core through.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mosaic-run/meshrt/internal/domain/mesh"
	"github.com/mosaic-run/meshrt/internal/domain/routing"
	"github.com/mosaic-run/meshrt/internal/runtime/command"
	"github.com/mosaic-run/meshrt/internal/runtime/mosaic"
	"github.com/mosaic-run/meshrt/internal/runtimeerr"
)

// entry is a registry slot: nil Instance means "reserved, still starting"
// (the spec's STARTING placeholder); a non-nil Instance means the mosaic
// has a real, running MosaicInstance.
type entry struct {
	instance *mosaic.Instance
}

// Manager is the process-singleton RuntimeManager.
type Manager struct {
	broker  *mesh.Broker
	store   routing.Store
	nodes   routing.NodePersister
	mosaics routing.MosaicPersister
	roles   mosaic.RoleRegistry
	logger  *slog.Logger

	loops   []*workerLoop
	nextIdx uint64
	idxMu   sync.Mutex

	mu       sync.Mutex
	registry map[uuid.UUID]*entry

	// startWG is the "starting counter + signal" pair: Add(1) per start in
	// flight, Done() by the start's watcher exactly once (success or
	// failure), Wait() is "await all_started".
	startWG sync.WaitGroup

	shutdownOnce sync.Once
	started      bool
}

// New pre-creates numWorkers worker loops and waits for each to confirm it
// is running before returning.
func New(numWorkers int, broker *mesh.Broker, store routing.Store, nodes routing.NodePersister, mosaics routing.MosaicPersister, roles mosaic.RoleRegistry, logger *slog.Logger) *Manager {
	if numWorkers < 1 {
		numWorkers = 1
	}
	m := &Manager{
		broker:   broker,
		store:    store,
		nodes:    nodes,
		mosaics:  mosaics,
		roles:    roles,
		logger:   logger,
		registry: make(map[uuid.UUID]*entry),
	}
	for i := 0; i < numWorkers; i++ {
		loop := newWorkerLoop(i)
		m.loops = append(m.loops, loop)
		go loop.run()
		<-loop.ready
	}
	m.started = true
	return m
}

func (m *Manager) pickLoop() *workerLoop {
	m.idxMu.Lock()
	defer m.idxMu.Unlock()
	loop := m.loops[m.nextIdx%uint64(len(m.loops))]
	m.nextIdx++
	return loop
}

// StartMosaic implements the start-mosaic protocol in full, including the
// placeholder/counter/watcher dance and the caller-side timeout shield.
func (m *Manager) StartMosaic(ctx context.Context, mosaicID uuid.UUID, timeout time.Duration) error {
	m.startWG.Add(1)

	m.mu.Lock()
	if existing, ok := m.registry[mosaicID]; ok {
		m.mu.Unlock()
		m.startWG.Done()
		if existing.instance == nil {
			return runtimeerr.New(runtimeerr.MosaicStarting, mosaicID.String())
		}
		return runtimeerr.New(runtimeerr.MosaicAlreadyRunning, mosaicID.String())
	}
	m.registry[mosaicID] = &entry{instance: nil}
	m.mu.Unlock()

	loop := m.pickLoop()

	type startResult struct {
		inst *mosaic.Instance
		err  error
	}
	resultCh := make(chan startResult, 1)

	loop.Post(func() {
		inst := mosaic.New(mosaicID, m.broker, m.store, m.nodes, m.mosaics, m.roles, m.logger)
		// Always runs with a background context: a caller's timeout must
		// never reach down and cancel in-progress worker-side startup.
		err := inst.Start(context.Background())
		resultCh <- startResult{inst: inst, err: err}
	})

	fwd := make(chan error, 1)
	go func() {
		res := <-resultCh
		m.mu.Lock()
		if res.err != nil {
			delete(m.registry, mosaicID)
		} else {
			m.registry[mosaicID] = &entry{instance: res.inst}
		}
		m.mu.Unlock()
		m.startWG.Done()
		fwd <- res.err
	}()

	select {
	case err := <-fwd:
		if err != nil {
			return runtimeerr.Wrap(runtimeerr.RuntimeInternal, "mosaic start failed", err)
		}
		return nil
	case <-time.After(timeout):
		// The watcher goroutine above keeps running; the placeholder
		// eventually resolves and startWG reaches zero without the caller's
		// help.
		return runtimeerr.New(runtimeerr.RuntimeTimeout, fmt.Sprintf("start_mosaic(%s) timed out", mosaicID))
	}
}

// StopMosaic submits StopMosaic to the mosaic's command loop and shields the
// caller's timeout from the in-progress stop.
func (m *Manager) StopMosaic(ctx context.Context, mosaicID uuid.UUID, timeout time.Duration) error {
	m.mu.Lock()
	e, ok := m.registry[mosaicID]
	m.mu.Unlock()
	if !ok {
		return nil // idempotent: already stopped
	}
	if e.instance == nil {
		return runtimeerr.New(runtimeerr.MosaicStarting, mosaicID.String())
	}

	done := make(chan error, 1)
	e.instance.Submit(&command.StopMosaic{Done: done})

	return m.shieldedWait(done, timeout, func(err error) {
		if err == nil {
			m.mu.Lock()
			delete(m.registry, mosaicID)
			m.mu.Unlock()
		}
	})
}

// shieldedWait forwards done's eventual result to the caller via a select
// against timeout, while a background goroutine always drains done (running
// cleanup once it arrives) regardless of whether the caller is still
// waiting. This is the "detach task on timeout" pattern: a caller timeout
// never cancels the in-progress command.
func (m *Manager) shieldedWait(done chan error, timeout time.Duration, cleanup func(error)) error {
	fwd := make(chan error, 1)
	go func() {
		err := <-done
		if cleanup != nil {
			cleanup(err)
		}
		fwd <- err
	}()

	select {
	case err := <-fwd:
		return err
	case <-time.After(timeout):
		return runtimeerr.New(runtimeerr.RuntimeTimeout, "command timed out")
	}
}

func (m *Manager) resolveInstance(mosaicID uuid.UUID) (*mosaic.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.registry[mosaicID]
	if !ok {
		return nil, runtimeerr.New(runtimeerr.MosaicNotRunning, mosaicID.String())
	}
	if e.instance == nil {
		return nil, runtimeerr.New(runtimeerr.MosaicStarting, mosaicID.String())
	}
	return e.instance, nil
}

// StartNode starts one node inside a running mosaic.
func (m *Manager) StartNode(ctx context.Context, mosaicID uuid.UUID, nodeID string, timeout time.Duration) error {
	inst, err := m.resolveInstance(mosaicID)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	inst.Submit(&command.StartNode{NodeID: nodeID, Done: done})
	return m.shieldedWait(done, timeout, nil)
}

// StopNode stops one running node.
func (m *Manager) StopNode(ctx context.Context, mosaicID uuid.UUID, nodeID string, timeout time.Duration) error {
	inst, err := m.resolveInstance(mosaicID)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	inst.Submit(&command.StopNode{NodeID: nodeID, Done: done})
	return m.shieldedWait(done, timeout, nil)
}

// GetMosaicStatus reports STARTING for a reserved-but-not-yet-resolved
// placeholder and STOPPED for any mosaic id absent from the registry.
func (m *Manager) GetMosaicStatus(mosaicID uuid.UUID) routing.MosaicStatus {
	m.mu.Lock()
	e, ok := m.registry[mosaicID]
	m.mu.Unlock()
	if !ok {
		return routing.MosaicStopped
	}
	if e.instance == nil {
		return routing.MosaicStarting
	}
	return e.instance.Status()
}

// GetNodeStatus reports STOPPED if the node (or its mosaic) is not
// registered.
func (m *Manager) GetNodeStatus(ctx context.Context, mosaicID uuid.UUID, nodeID string) routing.NodeStatus {
	inst, err := m.resolveInstance(mosaicID)
	if err != nil {
		return routing.NodeStopped
	}
	result := make(chan command.GetNodeStatusResult, 1)
	inst.Submit(&command.GetNodeStatus{NodeID: nodeID, Result: result})
	res := <-result
	return res.Status
}

// CreateSession creates a new session on nodeID and returns its id.
func (m *Manager) CreateSession(ctx context.Context, mosaicID uuid.UUID, nodeID string, mode routing.SessionMode, model string, config map[string]any, timeout time.Duration) (uuid.UUID, error) {
	inst, err := m.resolveInstance(mosaicID)
	if err != nil {
		return uuid.Nil, err
	}
	result := make(chan command.CreateSessionResult, 1)
	inst.Submit(&command.CreateSession{
		NodeID:    nodeID,
		SessionID: uuid.New(),
		Mode:      mode,
		Model:     model,
		Config:    config,
		Result:    result,
	})

	select {
	case res := <-result:
		return res.SessionID, res.Err
	case <-time.After(timeout):
		return uuid.Nil, runtimeerr.New(runtimeerr.RuntimeTimeout, "create_session timed out")
	}
}

// SubmitSendMessage is fire-and-forget: it enqueues ev on session's queue.
func (m *Manager) SubmitSendMessage(mosaicID uuid.UUID, nodeID string, sessionID uuid.UUID, ev mesh.Event) error {
	inst, err := m.resolveInstance(mosaicID)
	if err != nil {
		return err
	}
	inst.Submit(&command.SendMessage{NodeID: nodeID, SessionID: sessionID, Event: ev})
	return nil
}

// InterruptSession forwards to the session's interrupt hook.
func (m *Manager) InterruptSession(ctx context.Context, mosaicID uuid.UUID, nodeID string, sessionID uuid.UUID, timeout time.Duration) error {
	inst, err := m.resolveInstance(mosaicID)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	inst.Submit(&command.InterruptSession{NodeID: nodeID, SessionID: sessionID, Done: done})
	return m.shieldedWait(done, timeout, nil)
}

// CloseSession closes one session explicitly via the facade.
func (m *Manager) CloseSession(ctx context.Context, mosaicID uuid.UUID, nodeID string, sessionID uuid.UUID, timeout time.Duration) error {
	inst, err := m.resolveInstance(mosaicID)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	inst.Submit(&command.CloseSession{NodeID: nodeID, SessionID: sessionID, Done: done})
	return m.shieldedWait(done, timeout, nil)
}

// StopRuntime implements the stop-runtime protocol: wait for every in-flight
// start to resolve, stop every running mosaic in parallel, stop every
// worker loop, then stop the Broker.
func (m *Manager) StopRuntime(ctx context.Context) error {
	var stopErr error
	m.shutdownOnce.Do(func() {
		m.startWG.Wait()

		m.mu.Lock()
		ids := make([]uuid.UUID, 0, len(m.registry))
		for id, e := range m.registry {
			if e.instance != nil {
				ids = append(ids, id)
			}
		}
		m.mu.Unlock()

		g, gctx := errgroup.WithContext(ctx)
		for _, id := range ids {
			id := id
			g.Go(func() error {
				if err := m.StopMosaic(gctx, id, 30*time.Second); err != nil {
					m.logger.Error("stop_runtime: mosaic stop failed", "mosaic_id", id, "err", err)
				}
				return nil
			})
		}
		_ = g.Wait()

		for _, loop := range m.loops {
			loop.stop()
		}

		if err := m.broker.Close(); err != nil {
			m.logger.Error("stop_runtime: broker close failed", "err", err)
			stopErr = err
		}
	})
	return stopErr
}
