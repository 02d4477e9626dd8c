package mesh

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
)

// NewAMQPPubSub builds an optional "production" Broker transport for
// operators who want the relay to also fan out onto an external bus (for
// cross-process observability, not for distributed mosaic execution — a
// mosaic still lives inside one process). It satisfies the same PubSub seam
// as the in-process default, so the Broker is unaware which one it is
// holding.
func NewAMQPPubSub(uri string, logger *slog.Logger) (PubSub, error) {
	wlogger := watermill.NewSlogLogger(logger)

	cfg := amqp.NewDurablePubSubConfig(uri, amqp.GenerateQueueNameTopicNameWithSuffix("meshrt"))

	pub, err := amqp.NewPublisher(cfg, wlogger)
	if err != nil {
		return nil, err
	}
	sub, err := amqp.NewSubscriber(cfg, wlogger)
	if err != nil {
		return nil, err
	}
	return &amqpPubSub{Publisher: pub, Subscriber: sub}, nil
}

// amqpPubSub joins a watermill-amqp Publisher and Subscriber into the single
// PubSub seam the Broker depends on.
type amqpPubSub struct {
	*amqp.Publisher
	*amqp.Subscriber
}

func (a *amqpPubSub) Close() error {
	pubErr := a.Publisher.Close()
	subErr := a.Subscriber.Close()
	if pubErr != nil {
		return pubErr
	}
	return subErr
}

var _ message.Publisher = (*amqpPubSub)(nil)
var _ message.Subscriber = (*amqpPubSub)(nil)
