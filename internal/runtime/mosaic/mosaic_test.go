package mosaic

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaic-run/meshrt/internal/domain/mesh"
	domainnode "github.com/mosaic-run/meshrt/internal/domain/node"
	"github.com/mosaic-run/meshrt/internal/domain/routing"
	"github.com/mosaic-run/meshrt/internal/domain/session"
	"github.com/mosaic-run/meshrt/internal/runtime/command"
	"github.com/mosaic-run/meshrt/internal/store/memstore"
)

func mosaicTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingRole is the no-op Role that countingRegistry hands out;
// countingRegistry counts how many times a Role was constructed, proving
// handleCreateSession's dedup path keeps creation to one per session id even
// under concurrent callers.
type countingRole struct{}

func (countingRole) OnInitialize(context.Context, *session.Session) error            { return nil }
func (countingRole) HandleEvent(context.Context, *session.Session, mesh.Event) error { return nil }
func (countingRole) ShouldCloseAfterEvent(mesh.Event) bool                           { return false }
func (countingRole) OnClose(context.Context, *session.Session) error                 { return nil }

type countingRegistry struct {
	created     int64
	inFlight    int64
	maxInFlight int64
}

func (r *countingRegistry) RoleFactory(routing.NodeType) (domainnode.RoleFactory, error) {
	return func(sessionID uuid.UUID, config map[string]any) (session.Role, error) {
		atomic.AddInt64(&r.created, 1)
		cur := atomic.AddInt64(&r.inFlight, 1)
		for {
			max := atomic.LoadInt64(&r.maxInFlight)
			if cur <= max || atomic.CompareAndSwapInt64(&r.maxInFlight, max, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt64(&r.inFlight, -1)
		return countingRole{}, nil
	}, nil
}

func newTestInstance(t *testing.T, store *memstore.Store, registry RoleRegistry) (*Instance, uuid.UUID) {
	t.Helper()
	mosaicID := uuid.New()
	store.PutMosaic(routing.Mosaic{ID: mosaicID, UserID: uuid.New()})
	store.PutNode(routing.NodeRecord{MosaicID: mosaicID, NodeID: "n1", Type: routing.NodeTypeAgent})

	broker := mesh.NewBroker(mesh.NewInProcessPubSub(mosaicTestLogger()), store, store, mosaicTestLogger())
	inst := New(mosaicID, broker, store, store, store, registry, mosaicTestLogger())
	require.NoError(t, inst.Start(context.Background()))
	return inst, mosaicID
}

func TestMosaic_CommandsSerializeOneAtATime(t *testing.T) {
	store := memstore.New(64)
	registry := &countingRegistry{}
	inst, _ := newTestInstance(t, store, registry)

	var wg sync.WaitGroup
	n := 20
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := inst.createSession(context.Background(), "n1", uuid.New(), nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, n, atomic.LoadInt64(&registry.created))
	assert.EqualValues(t, 1, atomic.LoadInt64(&registry.maxInFlight), "RoleFactory calls must never overlap; the command loop serializes them")
}

func TestMosaic_AutoCreateSessionDedupsConcurrentArrivals(t *testing.T) {
	store := memstore.New(64)
	registry := &countingRegistry{}
	inst, _ := newTestInstance(t, store, registry)

	sessionID := uuid.New()
	var wg sync.WaitGroup
	results := make([]uuid.UUID, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := inst.createSession(context.Background(), "n1", sessionID, nil)
			require.NoError(t, err)
			results[i] = s.ID
		}(i)
	}
	wg.Wait()

	for _, id := range results {
		assert.Equal(t, sessionID, id)
	}
	assert.EqualValues(t, 1, atomic.LoadInt64(&registry.created), "exactly one Role must be built for a racing session id")
}

func TestMosaic_StopMosaicIsIdempotent(t *testing.T) {
	store := memstore.New(64)
	registry := &countingRegistry{}
	inst, _ := newTestInstance(t, store, registry)

	for i := 0; i < 2; i++ {
		done := make(chan error, 1)
		inst.Submit(&command.StopMosaic{Done: done})
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("StopMosaic never replied")
		}
	}
	assert.Equal(t, routing.MosaicStopped, inst.Status())
}
