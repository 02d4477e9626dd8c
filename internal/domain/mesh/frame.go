// Package mesh implements the wire-level relay: the Broker (global PULL/PUB
// relay with best-effort persistence) and the NodeTransport (a single node's
// PUSH+SUB attachment to the Broker). Both are generalized from the spec's
// ZeroMQ-flavored prose onto a watermill Publisher/Subscriber pair — no ZMQ
// binding exists anywhere in the examples this runtime was grounded on, and
// watermill's pub/sub abstraction is the idiomatic Go shape of the same
// "topic relay with at-least-one-subscriber fan-out" contract.
package mesh

import "github.com/google/uuid"

// Event is the decoded form of the wire frame's JSON body.
type Event struct {
	EventID         uuid.UUID `json:"event_id"`
	EventType       string    `json:"event_type"`
	SourceNodeID    string    `json:"source_node_id"`
	SourceSessionID uuid.UUID `json:"source_session_id"`
	TargetNodeID    string    `json:"target_node_id"`
	TargetSessionID uuid.UUID `json:"target_session_id"`
	Payload         any       `json:"payload"`
}

// Topic is the wire-level mailbox identifier "<mosaic_id>#<node_id>",
// unique across the whole process for a single attached NodeTransport.
func Topic(mosaicID uuid.UUID, nodeID string) string {
	return mosaicID.String() + "#" + nodeID
}
