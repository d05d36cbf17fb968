package consumer

import (
	"context"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNoMessages is returned by Subscription.Next when the wait elapsed without a message.
	ErrNoMessages = errors.New("no messages available")
	// ErrSubscriptionClosed means the subscription is gone and has to be re-established.
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// Broker establishes subscriptions on a durable work queue, declaring it if needed.
type Broker interface {
	Subscribe(ctx context.Context, spec Spec) (Subscription, error)
}

type Subscription interface {
	Next(ctx context.Context) (Delivery, error)
	Close() error
}

type Delivery interface {
	Data() []byte
	Header() map[string][]string
	Ack() error
	// Nak asks the broker to redeliver.
	Nak() error
}

type message struct {
	headers map[string][]string
	data    []byte
	spec    Spec
}

func (m *message) Header() map[string][]string {
	return m.headers
}

func (m *message) Data() []byte {
	return m.data
}

func (m *message) Spec() Spec {
	return m.spec
}
