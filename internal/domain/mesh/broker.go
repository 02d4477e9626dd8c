package mesh

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/mosaic-run/meshrt/internal/domain/routing"
)

// Broker is the process-singleton relay. Every NodeTransport pushes frames
// to it and every NodeTransport subscribes to exactly its own topic; the
// Broker itself holds no mosaic state, only the pub/sub transport and the
// persistence side-channel.
type Broker struct {
	pubsub  PubSub
	mosaics routing.MosaicPersister
	events  routing.Store
	logger  *slog.Logger
}

// NewBroker wires a Broker over the given transport. mosaics resolves the
// owning user_id for a topic's mosaic at persistence time; events is where
// persisted Event rows land. Both lookups are best-effort: failures are
// logged and never delay delivery.
func NewBroker(pubsub PubSub, mosaics routing.MosaicPersister, events routing.Store, logger *slog.Logger) *Broker {
	return &Broker{pubsub: pubsub, mosaics: mosaics, events: events, logger: logger}
}

// Publish re-broadcasts ev on topic and spawns an independent task to
// persist it. Order of delivery across topics is not guaranteed; within a
// single topic the underlying pub/sub preserves receive order.
func (b *Broker) Publish(ctx context.Context, topic string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("topic", topic)
	msg.SetContext(ctx)

	if err := b.pubsub.Publish(topic, msg); err != nil {
		return err
	}

	go b.persist(topic, ev)
	return nil
}

// Subscribe attaches to topic and returns the channel of raw messages; the
// caller (NodeTransport) is responsible for decoding and serializing
// callback invocation.
func (b *Broker) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Close shuts down the underlying PubSub transport. Callers must stop
// relaying through the Broker before calling Close.
func (b *Broker) Close() error {
	return b.pubsub.Close()
}

func (b *Broker) persist(topic string, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("broker persistence panic", "topic", topic, "recover", r)
		}
	}()

	mosaicID, err := mosaicIDFromTopic(topic)
	if err != nil {
		b.logger.Warn("broker persistence: malformed topic", "topic", topic, "err", err)
		return
	}

	var userID uuid.UUID
	if m, err := b.mosaics.GetMosaic(context.Background(), mosaicID); err == nil {
		userID = m.UserID
	} else {
		b.logger.Warn("broker persistence: mosaic lookup failed", "mosaic_id", mosaicID, "err", err)
	}

	rec := routing.EventRecord{
		EventID:       ev.EventID,
		MosaicID:      mosaicID,
		UserID:        userID,
		EventType:     ev.EventType,
		SourceNode:    ev.SourceNodeID,
		SourceSession: ev.SourceSessionID,
		TargetNode:    ev.TargetNodeID,
		TargetSession: ev.TargetSessionID,
		Payload:       ev.Payload,
	}

	if err := b.events.InsertEvent(context.Background(), rec); err != nil {
		b.logger.Error("broker persistence failed", "event_id", ev.EventID, "err", err)
	}
}

func mosaicIDFromTopic(topic string) (uuid.UUID, error) {
	for i := 0; i < len(topic); i++ {
		if topic[i] == '#' {
			return uuid.Parse(topic[:i])
		}
	}
	return uuid.Nil, errMalformedTopic
}

var errMalformedTopic = &topicError{"missing '#' separator"}

type topicError struct{ msg string }

func (e *topicError) Error() string { return "mesh: " + e.msg }
