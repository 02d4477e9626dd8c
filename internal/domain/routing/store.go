package routing

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistent mapping used by Node.send_event: it resolves the
// remote session paired with a local one, creating the pair bidirectionally
// on first use, and backs the Connection/Subscription/Event tables consulted
// during emission.
//
// Implementations must make ResolveOrCreate safe under concurrent callers
// racing to bind the same 4-tuple for the first time: exactly one caller
// observes the creation, the rest observe the winner's row.
type Store interface {
	// ResolveOrCreate returns the remote session bound to
	// (mosaic, localNode, localSession, remoteNode), minting one and
	// inserting both directional rows if none exists yet.
	ResolveOrCreate(ctx context.Context, mosaicID uuid.UUID, localNode string, localSession uuid.UUID, remoteNode string) (uuid.UUID, error)

	// GetConnection returns the active connection from source to target, or
	// a non-nil error if none exists (memstore returns its ErrNoConnection).
	GetConnection(ctx context.Context, mosaicID uuid.UUID, sourceNode, targetNode string) (Connection, error)

	// GetSubscribers lists the nodes subscribed to eventType from source.
	GetSubscribers(ctx context.Context, mosaicID uuid.UUID, sourceNode, eventType string) ([]string, error)

	// InsertEvent persists ev; repeated inserts of the same EventID are a
	// silent no-op (idempotent on EventID).
	InsertEvent(ctx context.Context, ev EventRecord) error
}

// NodePersister loads and stores Node definitions for a mosaic.
type NodePersister interface {
	ListNodes(ctx context.Context, mosaicID uuid.UUID) ([]NodeRecord, error)
	GetNode(ctx context.Context, mosaicID uuid.UUID, nodeID string) (NodeRecord, error)
}

// MosaicPersister resolves the owning user of a mosaic, consulted by the
// Broker when attributing a persisted Event to a user_id.
type MosaicPersister interface {
	GetMosaic(ctx context.Context, mosaicID uuid.UUID) (Mosaic, error)
}

// SessionPersister persists agent-role session state; runtime-only roles
// (scheduler, email, aggregator) never call it.
type SessionPersister interface {
	CreateSession(ctx context.Context, rec SessionRecord) error
	UpdateRuntimeStatus(ctx context.Context, sessionID uuid.UUID, status RuntimeStatus) error
	UpdateStatus(ctx context.Context, sessionID uuid.UUID, status SessionStatus) error
	AddTokenUsage(ctx context.Context, sessionID uuid.UUID, prompt, reply int64) error
	AppendMessage(ctx context.Context, msg MessageRecord) error
	GetSession(ctx context.Context, sessionID uuid.UUID) (SessionRecord, error)
}
