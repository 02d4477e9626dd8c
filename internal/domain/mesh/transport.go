package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/mosaic-run/meshrt/internal/runtimeerr"
)

// Callback is invoked once per received event, strictly in the order the
// transport received it; the receive loop never invokes it concurrently
// with itself.
type Callback func(ev Event)

// Transport is one node's attachment to the Broker: a push side (Send) and a
// sub side (a permanent receive loop started at Attach).
type Transport struct {
	broker   *Broker
	logger   *slog.Logger
	mosaicID uuid.UUID
	nodeID   string

	mu       sync.Mutex
	attached bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewTransport builds a Transport bound to broker; it is not attached until
// Attach is called.
func NewTransport(broker *Broker, logger *slog.Logger) *Transport {
	return &Transport{broker: broker, logger: logger}
}

// Attach subscribes to this node's topic and starts the permanent receive
// loop that decodes frames and invokes cb in sequence.
func (t *Transport) Attach(ctx context.Context, mosaicID uuid.UUID, nodeID string, cb Callback) error {
	t.mu.Lock()
	if t.attached {
		t.mu.Unlock()
		return runtimeerr.New(runtimeerr.RuntimeInternal, "transport already attached")
	}

	topic := Topic(mosaicID, nodeID)
	loopCtx, cancel := context.WithCancel(ctx)

	msgs, err := t.broker.Subscribe(loopCtx, topic)
	if err != nil {
		t.mu.Unlock()
		cancel()
		return err
	}

	t.mosaicID = mosaicID
	t.nodeID = nodeID
	t.attached = true
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.receiveLoop(topic, msgs, cb)
	return nil
}

func (t *Transport) receiveLoop(topic string, msgs <-chan *message.Message, cb Callback) {
	defer close(t.done)
	for raw := range msgs {
		t.handleOne(topic, raw, cb)
		raw.Ack()
	}
}

func (t *Transport) handleOne(topic string, raw *message.Message, cb Callback) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("mesh transport callback panic", "topic", topic, "recover", r, "stack", string(debug.Stack()))
		}
	}()

	var ev Event
	if err := json.Unmarshal(raw.Payload, &ev); err != nil {
		t.logger.Error("mesh transport decode failed", "topic", topic, "err", err)
		return
	}
	cb(ev)
}

// Send frames ev to topic "<target_mosaic>#<target_node>" and pushes it
// through the Broker. It fails if this transport is not attached.
func (t *Transport) Send(ctx context.Context, targetMosaic uuid.UUID, targetNode string, ev Event) error {
	t.mu.Lock()
	attached := t.attached
	t.mu.Unlock()
	if !attached {
		return runtimeerr.New(runtimeerr.RuntimeInternal, fmt.Sprintf("transport for %s not attached", t.nodeID))
	}
	return t.broker.Publish(ctx, Topic(targetMosaic, targetNode), ev)
}

// Detach tears down the subscription and waits for the receive loop to
// drain. Idempotent.
func (t *Transport) Detach() {
	t.mu.Lock()
	if !t.attached {
		t.mu.Unlock()
		return
	}
	t.attached = false
	cancel := t.cancel
	done := t.done
	t.mu.Unlock()

	cancel()
	<-done
}
