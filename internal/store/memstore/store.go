// Package memstore is the in-process implementation of routing.Store,
// routing.NodePersister and routing.SessionPersister. It satisfies the exact
// table/column contract the persistence layout names (soft-delete columns,
// unique 4-tuple on session routings) without requiring a live database,
// which keeps the core testable end to end.
//
// A read-through LRU cache sits in front of the routing-pair resolution path
// the same way the teacher's peer enricher caches external lookups: routing
// pairs are read far more often than they are written, so most
// ResolveOrCreate calls never touch the mutex-guarded backing map.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mosaic-run/meshrt/internal/domain/routing"
)

// ErrNoConnection is returned by GetConnection when no active connection
// exists between the given nodes.
var ErrNoConnection = errors.New("memstore: no active connection")

type routingKey struct {
	mosaic uuid.UUID
	node   string
	sess   uuid.UUID
	remote string
}

// Store is a single in-memory backing for all routing-adjacent tables.
type Store struct {
	mu sync.Mutex

	routings map[routingKey]uuid.UUID
	cache    *lru.Cache[routingKey, uuid.UUID]

	connections   map[string]routing.Connection  // key: mosaic#source>target
	subscriptions map[string][]routing.Subscription // key: mosaic#source#eventType
	nodes         map[string][]routing.NodeRecord   // key: mosaic
	mosaics       map[uuid.UUID]routing.Mosaic

	events   map[uuid.UUID]routing.EventRecord
	sessions map[uuid.UUID]routing.SessionRecord
	messages []routing.MessageRecord
}

// New builds an empty Store with a routing-pair cache of cacheSize entries
// (0 disables caching; the cache is purely an optimization, never a source
// of truth — every write goes through the backing map first).
func New(cacheSize int) *Store {
	s := &Store{
		routings:      make(map[routingKey]uuid.UUID),
		connections:   make(map[string]routing.Connection),
		subscriptions: make(map[string][]routing.Subscription),
		nodes:         make(map[string][]routing.NodeRecord),
		mosaics:       make(map[uuid.UUID]routing.Mosaic),
		events:        make(map[uuid.UUID]routing.EventRecord),
		sessions:      make(map[uuid.UUID]routing.SessionRecord),
	}
	if cacheSize > 0 {
		c, err := lru.New[routingKey, uuid.UUID](cacheSize)
		if err == nil {
			s.cache = c
		}
	}
	return s
}

var _ routing.Store = (*Store)(nil)
var _ routing.NodePersister = (*Store)(nil)
var _ routing.SessionPersister = (*Store)(nil)
var _ routing.MosaicPersister = (*Store)(nil)

// PutMosaic registers a mosaic definition; used by whatever authoring
// surface builds a mosaic's graph and by test fixtures.
func (s *Store) PutMosaic(m routing.Mosaic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mosaics[m.ID] = m
}

func (s *Store) GetMosaic(_ context.Context, mosaicID uuid.UUID) (routing.Mosaic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mosaics[mosaicID]
	if !ok {
		return routing.Mosaic{}, fmt.Errorf("memstore: mosaic %s not found", mosaicID)
	}
	return m, nil
}

func (s *Store) ResolveOrCreate(_ context.Context, mosaicID uuid.UUID, localNode string, localSession uuid.UUID, remoteNode string) (uuid.UUID, error) {
	key := routingKey{mosaic: mosaicID, node: localNode, sess: localSession, remote: remoteNode}

	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the lock: another goroutine may have won the race
	// between the cache miss above and acquiring the mutex.
	if v, ok := s.routings[key]; ok {
		if s.cache != nil {
			s.cache.Add(key, v)
		}
		return v, nil
	}

	remoteSession := uuid.New()
	s.routings[key] = remoteSession
	s.routings[routingKey{mosaic: mosaicID, node: remoteNode, sess: remoteSession, remote: localNode}] = localSession

	if s.cache != nil {
		s.cache.Add(key, remoteSession)
	}
	return remoteSession, nil
}

func connKey(mosaicID uuid.UUID, source, target string) string {
	return fmt.Sprintf("%s#%s>%s", mosaicID, source, target)
}

func (s *Store) GetConnection(_ context.Context, mosaicID uuid.UUID, sourceNode, targetNode string) (routing.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[connKey(mosaicID, sourceNode, targetNode)]
	if !ok || c.DeletedAt != nil {
		return routing.Connection{}, ErrNoConnection
	}
	return c, nil
}

// PutConnection registers an active connection; used by test fixtures and by
// whatever authoring surface builds a mosaic's graph.
func (s *Store) PutConnection(c routing.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.connections[connKey(c.MosaicID, c.SourceNode, c.TargetNode)] = c
}

func subKey(mosaicID uuid.UUID, source, eventType string) string {
	return fmt.Sprintf("%s#%s#%s", mosaicID, source, eventType)
}

func (s *Store) GetSubscribers(_ context.Context, mosaicID uuid.UUID, sourceNode, eventType string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subscriptions[subKey(mosaicID, sourceNode, eventType)]
	out := make([]string, 0, len(subs))
	for _, sub := range subs {
		if sub.DeletedAt == nil {
			out = append(out, sub.TargetNode)
		}
	}
	return out, nil
}

// PutSubscription registers a fan-out rule; see PutConnection.
func (s *Store) PutSubscription(sub routing.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	k := subKey(sub.MosaicID, sub.SourceNode, sub.EventType)
	s.subscriptions[k] = append(s.subscriptions[k], sub)
}

func (s *Store) InsertEvent(_ context.Context, ev routing.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.EventID]; ok {
		return nil
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	s.events[ev.EventID] = ev
	return nil
}

// PutNode registers a node definition for a mosaic; used by whatever
// authoring surface builds a mosaic's graph.
func (s *Store) PutNode(rec routing.NodeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[rec.MosaicID.String()] = append(s.nodes[rec.MosaicID.String()], rec)
}

func (s *Store) ListNodes(_ context.Context, mosaicID uuid.UUID) ([]routing.NodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]routing.NodeRecord, len(s.nodes[mosaicID.String()]))
	copy(out, s.nodes[mosaicID.String()])
	return out, nil
}

func (s *Store) GetNode(_ context.Context, mosaicID uuid.UUID, nodeID string) (routing.NodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes[mosaicID.String()] {
		if n.NodeID == nodeID {
			return n, nil
		}
	}
	return routing.NodeRecord{}, fmt.Errorf("memstore: node %s/%s not found", mosaicID, nodeID)
}

func (s *Store) CreateSession(_ context.Context, rec routing.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.sessions[rec.SessionID] = rec
	return nil
}

func (s *Store) UpdateRuntimeStatus(_ context.Context, sessionID uuid.UUID, status routing.RuntimeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("memstore: session %s not found", sessionID)
	}
	rec.RuntimeStatus = status
	s.sessions[sessionID] = rec
	return nil
}

func (s *Store) UpdateStatus(_ context.Context, sessionID uuid.UUID, status routing.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("memstore: session %s not found", sessionID)
	}
	rec.Status = status
	s.sessions[sessionID] = rec
	return nil
}

func (s *Store) AddTokenUsage(_ context.Context, sessionID uuid.UUID, prompt, reply int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("memstore: session %s not found", sessionID)
	}
	rec.PromptTokens += prompt
	rec.ReplyTokens += reply
	s.sessions[sessionID] = rec
	return nil
}

func (s *Store) AppendMessage(_ context.Context, msg routing.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *Store) GetSession(_ context.Context, sessionID uuid.UUID) (routing.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return routing.SessionRecord{}, fmt.Errorf("memstore: session %s not found", sessionID)
	}
	return rec, nil
}
