package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/nats-io/nats.go"
)

const (
	defaultFetchWait = 5 * time.Second
	defaultAckWait   = 30 * time.Second
)

type NatsBrokerConfiguration struct {
	URL string `json:"URL"`
	// Stream and Subject default to the consumer's queue name.
	Stream     string        `json:"Stream"`
	Subject    string        `json:"Subject"`
	AckWait    time.Duration `json:"AckWait"`
	MaxDeliver int           `json:"MaxDeliver"`
	FetchWait  time.Duration `json:"FetchWait"`
}

// NatsBroker maps the durable work queue onto a JetStream work-queue stream
// with one durable, explicit-ack pull consumer.
type NatsBroker struct {
	cfg         NatsBrokerConfiguration
	connOptions []nats.Option
	ownsConn    bool
	mut         sync.Mutex
	conn        *nats.Conn
}

// NewNatsBroker dials lazily on the first Subscribe and redials whenever the
// connection has been closed for good.
func NewNatsBroker(cfg NatsBrokerConfiguration, connOptions ...nats.Option) *NatsBroker {
	return &NatsBroker{
		cfg:         withBrokerDefaults(cfg),
		connOptions: connOptions,
		ownsConn:    true,
	}
}

// NewNatsBrokerFromConn uses a connection owned by the caller.
func NewNatsBrokerFromConn(conn *nats.Conn, cfg NatsBrokerConfiguration) *NatsBroker {
	return &NatsBroker{
		cfg:  withBrokerDefaults(cfg),
		conn: conn,
	}
}

func withBrokerDefaults(cfg NatsBrokerConfiguration) NatsBrokerConfiguration {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = defaultAckWait
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = defaultFetchWait
	}

	return cfg
}

func (b *NatsBroker) Subscribe(ctx context.Context, spec Spec) (Subscription, error) {
	conn, err := b.connection()
	if err != nil {
		return nil, err
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, errors.Wrap(err, "jetstream context")
	}

	stream, subject := b.names(spec)

	if err = b.ensureStream(ctx, js, stream, subject); err != nil {
		return nil, err
	}

	if err = b.ensureConsumer(ctx, js, stream, subject, spec.ConsumerName); err != nil {
		return nil, err
	}

	sub, err := js.PullSubscribe(subject, spec.ConsumerName, nats.Bind(stream, spec.ConsumerName))
	if err != nil {
		return nil, errors.Wrapf(err, "pull subscribe %v", subject)
	}

	return &natsSubscription{
		sub:       sub,
		fetchWait: b.cfg.FetchWait,
	}, nil
}

// Close closes the connection if the broker dialed it.
func (b *NatsBroker) Close() {
	b.mut.Lock()
	defer b.mut.Unlock()

	if b.ownsConn && b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

func (b *NatsBroker) names(spec Spec) (string, string) {
	stream, subject := b.cfg.Stream, b.cfg.Subject
	if stream == "" {
		stream = spec.ConsumerQueue
	}
	if subject == "" {
		subject = spec.ConsumerQueue
	}

	return stream, subject
}

func (b *NatsBroker) connection() (*nats.Conn, error) {
	b.mut.Lock()
	defer b.mut.Unlock()

	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn, nil
	}

	if !b.ownsConn {
		return nil, errors.Mark(errors.WithStack(nats.ErrConnectionClosed), ErrSubscriptionClosed)
	}

	conn, err := nats.Connect(b.cfg.URL, b.connOptions...)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to nats %v", b.cfg.URL)
	}

	b.conn = conn

	return conn, nil
}

func (b *NatsBroker) ensureStream(ctx context.Context, js nats.JetStreamContext, stream string, subject string) error {
	_, err := js.StreamInfo(stream, nats.Context(ctx))
	if err == nil {
		return nil
	}

	if !errors.Is(err, nats.ErrStreamNotFound) {
		return errors.Wrapf(err, "stream info %v", stream)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      stream,
		Subjects:  []string{subject},
		Storage:   nats.FileStorage,
		Retention: nats.WorkQueuePolicy,
	}, nats.Context(ctx))
	if err != nil {
		return errors.Wrapf(err, "add stream %v", stream)
	}

	return nil
}

func (b *NatsBroker) ensureConsumer(
	ctx context.Context,
	js nats.JetStreamContext,
	stream string,
	subject string,
	durable string,
) error {
	_, err := js.ConsumerInfo(stream, durable, nats.Context(ctx))
	if err == nil {
		return nil
	}

	if !errors.Is(err, nats.ErrConsumerNotFound) {
		return errors.Wrapf(err, "consumer info %v", durable)
	}

	_, err = js.AddConsumer(stream, &nats.ConsumerConfig{
		Durable:       durable,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       b.cfg.AckWait,
		MaxDeliver:    b.cfg.MaxDeliver,
		FilterSubject: subject,
	}, nats.Context(ctx))
	if err != nil {
		return errors.Wrapf(err, "add consumer %v", durable)
	}

	return nil
}

type natsSubscription struct {
	sub       *nats.Subscription
	fetchWait time.Duration
}

func (s *natsSubscription) Next(_ context.Context) (Delivery, error) {
	msg, err := s.sub.Fetch(1, nats.MaxWait(s.fetchWait))
	if err != nil {
		switch {
		case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			return nil, ErrNoMessages
		case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrBadSubscription):
			return nil, errors.Mark(errors.WithStack(err), ErrSubscriptionClosed)
		default:
			return nil, errors.WithStack(err)
		}
	}

	if len(msg) == 0 {
		return nil, ErrNoMessages
	}

	return &natsDelivery{msg: msg[0]}, nil
}

func (s *natsSubscription) Close() error {
	if err := s.sub.Unsubscribe(); err != nil &&
		!errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return errors.WithStack(err)
	}

	return nil
}

type natsDelivery struct {
	msg *nats.Msg
}

func (d *natsDelivery) Data() []byte {
	return d.msg.Data
}

func (d *natsDelivery) Header() map[string][]string {
	return d.msg.Header
}

func (d *natsDelivery) Ack() error {
	return d.msg.Ack()
}

func (d *natsDelivery) Nak() error {
	return d.msg.Nak()
}
