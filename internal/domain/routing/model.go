// Package routing holds the persisted data model shared by every mosaic:
// mosaics, nodes, connections, subscriptions, session routings, sessions and
// events, plus the RoutingStore contract used to resolve and create the
// bidirectional session pairs that bind one node's session to another's.
package routing

import (
	"time"

	"github.com/google/uuid"
)

// MosaicStatus mirrors the lifecycle a caller observes for a Mosaic.
type MosaicStatus string

const (
	MosaicStopped  MosaicStatus = "STOPPED"
	MosaicStarting MosaicStatus = "STARTING"
	MosaicRunning  MosaicStatus = "RUNNING"
)

// NodeStatus is the runtime status of a Node inside a running mosaic.
type NodeStatus string

const (
	NodeStopped NodeStatus = "STOPPED"
	NodeRunning NodeStatus = "RUNNING"
)

// AlignmentPolicy governs how a Connection's target-side session is created
// and closed relative to its source.
type AlignmentPolicy string

const (
	Mirroring   AlignmentPolicy = "MIRRORING"
	Tasking     AlignmentPolicy = "TASKING"
	AgentDriven AlignmentPolicy = "AGENT_DRIVEN"
)

// SessionMode is the operating mode a session was created with.
type SessionMode string

const (
	ModeBackground  SessionMode = "BACKGROUND"
	ModeProgram     SessionMode = "PROGRAM"
	ModeChat        SessionMode = "CHAT"
	ModeLongRunning SessionMode = "LONG_RUNNING"
)

// SessionStatus applies to persisted (agent) sessions only.
type SessionStatus string

const (
	SessionActive   SessionStatus = "ACTIVE"
	SessionClosed   SessionStatus = "CLOSED"
	SessionArchived SessionStatus = "ARCHIVED"
)

// RuntimeStatus reflects whether a session's worker is mid-handler.
type RuntimeStatus string

const (
	RuntimeIdle RuntimeStatus = "IDLE"
	RuntimeBusy RuntimeStatus = "BUSY"
)

// Mosaic is a named logical graph of nodes belonging to one user.
type Mosaic struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Name   string
}

// NodeType selects which session-role adapter a Node runs.
type NodeType string

const (
	NodeTypeAgent      NodeType = "agent"
	NodeTypeScheduler  NodeType = "scheduler"
	NodeTypeEmail      NodeType = "email"
	NodeTypeAggregator NodeType = "aggregator"
)

// NodeRecord is the persisted description of a Node; NodeID is the
// per-mosaic-unique wire identity, distinct from the database ID.
type NodeRecord struct {
	ID        uuid.UUID
	MosaicID  uuid.UUID
	NodeID    string
	Type      NodeType
	Config    map[string]any
	AutoStart bool
}

// Connection is a directed edge between two nodes carrying a session
// alignment policy. At most one active connection exists per ordered pair.
type Connection struct {
	ID         uuid.UUID
	MosaicID   uuid.UUID
	SourceNode string
	TargetNode string
	Alignment  AlignmentPolicy
	DeletedAt  *time.Time
}

// Subscription is a fan-out rule built atop an existing Connection.
type Subscription struct {
	ID         uuid.UUID
	MosaicID   uuid.UUID
	SourceNode string
	TargetNode string
	EventType  string
	DeletedAt  *time.Time
}

// SessionRoutingRow is one directional half of a bidirectional binding.
type SessionRoutingRow struct {
	ID            uuid.UUID
	MosaicID      uuid.UUID
	LocalNode     string
	LocalSession  uuid.UUID
	RemoteNode    string
	RemoteSession uuid.UUID
	DeletedAt     *time.Time
}

// SessionRecord is the persisted (agent-role) or runtime-only representation
// of a Session actor's durable state.
type SessionRecord struct {
	SessionID     uuid.UUID
	UserID        uuid.UUID
	MosaicID      uuid.UUID
	NodeID        string
	Mode          SessionMode
	Model         string
	Status        SessionStatus
	RuntimeStatus RuntimeStatus
	PromptTokens  int64
	ReplyTokens   int64
	CreatedAt     time.Time
}

// EventRecord is one persisted copy of a routed event.
type EventRecord struct {
	EventID         uuid.UUID
	MosaicID        uuid.UUID
	UserID          uuid.UUID
	EventType       string
	SourceNode      string
	SourceSession   uuid.UUID
	TargetNode      string
	TargetSession   uuid.UUID
	Payload         any
	OccurredAt      time.Time
}

// MessageRecord persists one agent-role conversation turn.
type MessageRecord struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Role      string
	Content   string
	CreatedAt time.Time
}
