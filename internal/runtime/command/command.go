// Package command defines the MosaicInstance's command set. Every command
// except SendMessage carries a completion channel; MosaicInstance processes
// exactly one command at a time from its internal queue.
package command

import (
	"github.com/google/uuid"

	"github.com/mosaic-run/meshrt/internal/domain/mesh"
	"github.com/mosaic-run/meshrt/internal/domain/routing"
)

// Command is the marker every concrete command type satisfies; MosaicInstance
// dispatches on the concrete type via a type switch.
type Command interface {
	isCommand()
}

type base struct{}

func (base) isCommand() {}

// StopMosaic requests the mosaic stop; idempotent.
type StopMosaic struct {
	base
	Done chan error
}

// StartNode starts one node inside a running mosaic.
type StartNode struct {
	base
	NodeID string
	Done   chan error
}

// StopNode stops one running node.
type StopNode struct {
	base
	NodeID string
	Done   chan error
}

// GetNodeStatus returns STOPPED if the node is not registered.
type GetNodeStatus struct {
	base
	NodeID string
	Result chan GetNodeStatusResult
}

// GetNodeStatusResult is the outcome of GetNodeStatus.
type GetNodeStatusResult struct {
	Status routing.NodeStatus
	Err    error
}

// CreateSession creates (or, for a racing duplicate, returns the existing)
// session sessionID on node nodeID.
type CreateSession struct {
	base
	NodeID    string
	SessionID uuid.UUID
	Mode      routing.SessionMode
	Model     string
	Config    map[string]any
	Result    chan CreateSessionResult
}

// CreateSessionResult is the outcome of CreateSession.
type CreateSessionResult struct {
	SessionID uuid.UUID
	Err       error
}

// SendMessage enqueues ev on the target session's queue; fire-and-forget.
type SendMessage struct {
	base
	NodeID    string
	SessionID uuid.UUID
	Event     mesh.Event
}

// InterruptSession forwards to the session's Interrupt hook.
type InterruptSession struct {
	base
	NodeID    string
	SessionID uuid.UUID
	Done      chan error
}

// CloseSession closes one session and removes it from its node's registry.
type CloseSession struct {
	base
	NodeID    string
	SessionID uuid.UUID
	Done      chan error
}
