package node

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaic-run/meshrt/internal/domain/mesh"
	"github.com/mosaic-run/meshrt/internal/domain/routing"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeStore is a minimal routing.Store + routing.MosaicPersister double.
type fakeStore struct {
	mu          sync.Mutex
	connections map[string]routing.Connection
	subscribers map[string][]string
	resolved    map[string]uuid.UUID
	events      []routing.EventRecord
	mosaics     map[uuid.UUID]routing.Mosaic
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		connections: map[string]routing.Connection{},
		subscribers: map[string][]string{},
		resolved:    map[string]uuid.UUID{},
		mosaics:     map[uuid.UUID]routing.Mosaic{},
	}
}

func connKey(mosaicID uuid.UUID, source, target string) string {
	return mosaicID.String() + "|" + source + "|" + target
}

func (s *fakeStore) ResolveOrCreate(_ context.Context, mosaicID uuid.UUID, localNode string, localSession uuid.UUID, remoteNode string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := mosaicID.String() + "|" + localNode + "|" + localSession.String() + "|" + remoteNode
	if v, ok := s.resolved[key]; ok {
		return v, nil
	}
	v := uuid.New()
	s.resolved[key] = v
	return v, nil
}

func (s *fakeStore) GetConnection(_ context.Context, mosaicID uuid.UUID, sourceNode, targetNode string) (routing.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[connKey(mosaicID, sourceNode, targetNode)]
	if !ok {
		return routing.Connection{}, errors.New("no connection")
	}
	return c, nil
}

func (s *fakeStore) GetSubscribers(_ context.Context, mosaicID uuid.UUID, sourceNode, eventType string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribers[mosaicID.String()+"|"+sourceNode+"|"+eventType], nil
}

func (s *fakeStore) InsertEvent(_ context.Context, ev routing.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeStore) GetMosaic(_ context.Context, mosaicID uuid.UUID) (routing.Mosaic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mosaics[mosaicID]
	if !ok {
		return routing.Mosaic{}, errors.New("no mosaic")
	}
	return m, nil
}

func (s *fakeStore) putConnection(mosaicID uuid.UUID, source, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[connKey(mosaicID, source, target)] = routing.Connection{MosaicID: mosaicID, SourceNode: source, TargetNode: target}
}

func (s *fakeStore) putSubscriber(mosaicID uuid.UUID, source, eventType, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := mosaicID.String() + "|" + source + "|" + eventType
	s.subscribers[key] = append(s.subscribers[key], target)
}

func buildNode(t *testing.T, store *fakeStore, mosaicID uuid.UUID, nodeID string, broker *mesh.Broker) *Node {
	t.Helper()
	rec := routing.NodeRecord{MosaicID: mosaicID, NodeID: nodeID, Type: routing.NodeTypeAgent}
	transport := mesh.NewTransport(broker, testLogger())
	n := New(rec, uuid.Nil, store, transport, nil, nil, nil, testLogger())
	require.NoError(t, n.Start(context.Background()))
	return n
}

func TestNode_UnicastDropsOnMissingConnection(t *testing.T) {
	store := newFakeStore()
	broker := mesh.NewBroker(mesh.NewInProcessPubSub(testLogger()), store, store, testLogger())
	mosaicID := uuid.New()
	n := buildNode(t, store, mosaicID, "source-node", broker)
	defer n.Stop(context.Background())

	err := n.Unicast(context.Background(), uuid.New(), "missing-target", "ev", "payload")
	assert.NoError(t, err) // dropped, not an error
}

func TestNode_BroadcastNoSubscribersIsNoop(t *testing.T) {
	store := newFakeStore()
	broker := mesh.NewBroker(mesh.NewInProcessPubSub(testLogger()), store, store, testLogger())
	mosaicID := uuid.New()
	n := buildNode(t, store, mosaicID, "source-node", broker)
	defer n.Stop(context.Background())

	err := n.Broadcast(context.Background(), uuid.New(), "unsubscribed_event", "payload")
	assert.NoError(t, err)
}

func TestNode_UnicastSendsWhenConnectionExists(t *testing.T) {
	store := newFakeStore()
	broker := mesh.NewBroker(mesh.NewInProcessPubSub(testLogger()), store, store, testLogger())
	mosaicID := uuid.New()
	store.mosaics[mosaicID] = routing.Mosaic{ID: mosaicID}
	store.putConnection(mosaicID, "source-node", "target-node")

	source := buildNode(t, store, mosaicID, "source-node", broker)
	defer source.Stop(context.Background())

	received := make(chan mesh.Event, 1)
	targetTransport := mesh.NewTransport(broker, testLogger())
	require.NoError(t, targetTransport.Attach(context.Background(), mosaicID, "target-node", func(ev mesh.Event) {
		received <- ev
	}))
	defer targetTransport.Detach()

	err := source.Unicast(context.Background(), uuid.New(), "target-node", "greeting", "hello")
	require.NoError(t, err)

	select {
	case ev := <-received:
		assert.Equal(t, "greeting", ev.EventType)
		assert.Equal(t, "hello", ev.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("target never received the unicast event")
	}
}
