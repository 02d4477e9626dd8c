package node

import (
	"context"

	"github.com/google/uuid"

	"github.com/mosaic-run/meshrt/internal/domain/session"
)

// sessionEmitter binds a Node's emission methods to one fixed source
// session, which is what session.Role implementations see as session.Emitter.
type sessionEmitter struct {
	node   *Node
	source uuid.UUID
}

var _ session.Emitter = (*sessionEmitter)(nil)

func (e *sessionEmitter) Unicast(ctx context.Context, targetNode, eventType string, payload any) error {
	return e.node.Unicast(ctx, e.source, targetNode, eventType, payload)
}

func (e *sessionEmitter) Broadcast(ctx context.Context, eventType string, payload any) error {
	return e.node.Broadcast(ctx, e.source, eventType, payload)
}

// NewEmitter builds the session.Emitter a newly created session on n should
// use, bound to sourceSession.
func NewEmitter(n *Node, sourceSession uuid.UUID) session.Emitter {
	return &sessionEmitter{node: n, source: sourceSession}
}
