package jetstream

import (
	"context"

	"github.com/nats-io/nats.go"
)

// ClientInterface defines the JetStream operations the dispatch queue needs.
type ClientInterface interface {
	SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error
	SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error
	SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error)
	Publish(subject string, data []byte, headers map[string]string) error
	NatsConn() *nats.Conn
	Close()
}
