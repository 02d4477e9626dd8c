package mesh

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// PubSub is the transport the Broker relays over. It is exactly
// message.Publisher + message.Subscriber; the split interface exists so
// tests and the default in-process deployment can use gochannel while an
// operator who wants the relay to also fan out externally can swap in the
// AMQP-backed implementation behind the same seam.
type PubSub interface {
	message.Publisher
	message.Subscriber
}

// NewInProcessPubSub builds the default, single-process transport: ordered
// per topic, at-most-once, zero external dependencies. It is what every test
// in this module uses and what a single-process deployment runs in
// production, matching the spec's explicit non-goal of distributed
// consensus.
func NewInProcessPubSub(logger *slog.Logger) PubSub {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: 256,
			Persistent:          false,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewSlogLogger(logger),
	)
}
