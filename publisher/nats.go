package publisher

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/skynet2/catalogsync/codec"
	"github.com/skynet2/catalogsync/common"
)

const (
	HeaderEventType = "event-type"
	HeaderBookID    = "book-id"
)

// NatsPublisher writes catalog events to a JetStream subject and waits for the stream ack.
type NatsPublisher struct {
	con          *nats.Conn
	subject      string
	interceptors []UnaryPublisherInterceptorFunc
}

func NewNatsPublisher(
	con *nats.Conn,
	subject string,
	interceptors ...UnaryPublisherInterceptorFunc,
) *NatsPublisher {
	return &NatsPublisher{
		con:          con,
		subject:      subject,
		interceptors: interceptors,
	}
}

func (n *NatsPublisher) Publish(
	ctx context.Context,
	event common.CatalogEvent,
	headers map[string][]string,
) error {
	m, err := n.newMsg(event, headers)
	if err != nil {
		return err
	}

	if n.con == nil {
		return errors.WithStack(nats.ErrInvalidConnection)
	}

	js, err := n.con.JetStream()
	if err != nil {
		return errors.WithStack(err)
	}

	executeInterceptors(func(ctx context.Context, request AnyEvent) {
		if _, err = js.PublishMsg(m, nats.Context(ctx)); err != nil {
			err = errors.WithStack(err)
		}
	}, n.interceptors)(ctx, &natsEvent{
		Msg:             m,
		destinationType: n.con.ConnectedUrl(),
	})

	return err
}

// newMsg builds the JetStream message. A Nats-Msg-Id supplied by the caller is
// kept so a retried publish is deduplicated by the stream; otherwise a fresh
// id is generated.
func (n *NatsPublisher) newMsg(event common.CatalogEvent, headers map[string][]string) (*nats.Msg, error) {
	data, err := codec.Encode(event)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	m := &nats.Msg{
		Subject: n.subject,
		Data:    data,
		Header: nats.Header{
			HeaderEventType: {string(event.Type())},
			HeaderBookID:    {event.ID()},
		},
	}

	for k, v := range headers {
		m.Header[k] = v
	}

	if m.Header.Get(nats.MsgIdHdr) == "" {
		m.Header.Set(nats.MsgIdHdr, uuid.NewString())
	}

	return m, nil
}

func executeInterceptors(next UnaryPublisherFunc, mid []UnaryPublisherInterceptorFunc) UnaryPublisherFunc {
	for i := len(mid) - 1; i >= 0; i-- {
		if mid[i] != nil {
			next = mid[i](next)
		}
	}

	return next
}

type natsEvent struct {
	*nats.Msg
	destinationType string
}

func (n *natsEvent) GetHeader(header string) []string {
	return n.Header.Values(header)
}

func (n *natsEvent) GetDestination() string {
	return n.Subject
}

func (n *natsEvent) GetDestinationType() string {
	return n.destinationType
}

func (n *natsEvent) SetHeader(header string, value string) {
	n.Header.Set(header, value)
}

func (n *natsEvent) GetBody() []byte {
	return n.Data
}
