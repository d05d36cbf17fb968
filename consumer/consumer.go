package consumer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/skynet2/catalogsync/common"
)

const (
	defaultReconnectDelay = 5 * time.Second
)

var ErrAlreadyStarted = errors.New("consumer already started")

// QueueConsumer pulls one message at a time per worker and confirms it
// according to the handler's ConfirmationType. Lost subscriptions are
// re-established after a fixed delay, without a retry limit.
type QueueConsumer struct {
	wPool      *workerpool.WorkerPool
	broker     Broker
	cfg        Configuration
	fn         UnaryFunc
	logger     zerolog.Logger
	opts       *options
	ctx        context.Context
	cancel     context.CancelFunc
	state      atomic.Int32
	reconnects atomic.Int64
	started    atomic.Bool
	isClosing  atomic.Bool
	closeMut   sync.Mutex
}

func NewQueueConsumer(
	broker Broker,
	cfg Configuration,
	fn UnaryFunc,
	opts ...Option,
) *QueueConsumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}

	opt := &options{}
	for _, o := range opts {
		o(opt)
	}

	logger := log.Logger
	if opt.logger != nil {
		logger = *opt.logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &QueueConsumer{
		wPool:  workerpool.New(cfg.Concurrency),
		broker: broker,
		cfg:    cfg,
		fn:     fn,
		logger: logger.With().Str("consumer", cfg.ConsumerName).Str("queue", cfg.Queue).Logger(),
		opts:   opt,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ConsumeAsync starts the workers and returns once the first subscribe attempt
// has an outcome. The error is non-nil only with WithExitOnSubscribeError.
func (c *QueueConsumer) ConsumeAsync() error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ch := make(chan error, 1)
	on := sync.Once{}
	report := func(err error) {
		on.Do(func() {
			ch <- err
			close(ch)
		})
	}

	for i := 0; i < c.cfg.Concurrency; i++ {
		worker := i

		c.wPool.Submit(func() {
			c.run(worker, report)
		})
	}

	return <-ch
}

func (c *QueueConsumer) State() State {
	return State(c.state.Load())
}

// Reconnects counts failed subscribe attempts.
func (c *QueueConsumer) Reconnects() int64 {
	return c.reconnects.Load()
}

func (c *QueueConsumer) Close() error {
	c.closeMut.Lock()
	defer c.closeMut.Unlock()

	if c.isClosing.Load() {
		return nil
	}

	c.isClosing.Store(true)
	c.cancel()

	if c.wPool != nil {
		c.wPool.StopWait()
	}

	c.setState(StateClosed)

	return nil
}

func (c *QueueConsumer) spec() Spec {
	return Spec{
		ConsumerName:  c.cfg.ConsumerName,
		ConsumerQueue: c.cfg.Queue,
		Version:       common.FrameworkVersion,
	}
}

func (c *QueueConsumer) setState(state State) {
	if c.isClosing.Load() && state != StateClosed {
		return
	}

	c.state.Store(int32(state))
}

func (c *QueueConsumer) run(worker int, report func(error)) {
	defer report(nil)

	logger := c.logger.With().Int("worker", worker).Logger()

	for !c.isClosing.Load() {
		c.setState(StateConnecting)

		subscription, err := c.broker.Subscribe(c.ctx, c.spec())
		if err != nil {
			if c.isClosing.Load() {
				return
			}

			if c.opts.exitOnSubscribeError {
				report(errors.WithStack(err))
				return
			}

			c.reconnects.Add(1)
			c.setState(StateReconnecting)
			report(nil)

			logger.Warn().Err(err).Msgf("queue %v is not reachable. consumer will retry in %s",
				c.cfg.Queue, c.cfg.ReconnectDelay)

			if !c.sleep(c.cfg.ReconnectDelay) {
				return
			}

			continue
		}

		c.setState(StateConsuming)
		report(nil)

		c.consume(subscription, logger)

		if closeErr := subscription.Close(); closeErr != nil {
			logger.Debug().Err(closeErr).Msg("can not close subscription")
		}
	}
}

func (c *QueueConsumer) consume(subscription Subscription, logger zerolog.Logger) {
	for {
		delivery, err := subscription.Next(c.ctx)

		if c.isClosing.Load() {
			if delivery != nil {
				_ = delivery.Nak()
			}

			return // redelivered to whoever consumes next
		}

		if err != nil {
			if errors.Is(err, ErrNoMessages) {
				continue
			}

			if errors.Is(err, ErrSubscriptionClosed) {
				logger.Warn().Err(err).Msg("subscription lost, resubscribing")
				return
			}

			logger.Err(errors.Wrap(err, "unhandled error from broker")).Send()
			c.sleep(c.cfg.ReconnectDelay)

			return
		}

		if delivery == nil { // should not happen
			continue
		}

		c.handle(delivery, logger)
	}
}

func (c *QueueConsumer) handle(delivery Delivery, logger zerolog.Logger) {
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background()))
	defer cancel()

	confirmationType, err := c.invoke(ctx, &message{
		headers: delivery.Header(),
		data:    delivery.Data(),
		spec:    c.spec(),
	})

	if err != nil {
		logger.Err(err).Str("confirmation", confirmationType.String()).Msg("message handler returned error")
	}

	switch confirmationType {
	case ConfirmationTypeAck:
		if respErr := delivery.Ack(); respErr != nil {
			logger.Err(errors.Wrap(respErr, "can not ack message")).Send()
		}
	case ConfirmationTypeNack:
		if respErr := delivery.Nak(); respErr != nil {
			logger.Err(errors.Wrap(respErr, "can not nack message")).Send()
		}
	default:
		if respErr := delivery.Nak(); respErr != nil {
			logger.Err(errors.Wrap(respErr, "can not nack message for default")).Send()
		}

		logger.Err(errors.New(fmt.Sprintf("unsupported confirmation type %v", confirmationType))).
			Send()
	}
}

// invoke runs the interceptor chain. A message whose handler panics is acked
// and dropped.
func (c *QueueConsumer) invoke(ctx context.Context, request MessageRequest) (resp ConfirmationType, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = ConfirmationTypeAck
			err = errors.Newf("message handler panicked, dropping message: %v", r)
		}
	}()

	return executeInterceptors(c.fn, c.opts.interceptors)(ctx, request)
}

func (c *QueueConsumer) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func executeInterceptors(next UnaryFunc, mid []UnaryInterceptorFunc) UnaryFunc {
	for _, interceptor := range mid {
		next = interceptor(next)
	}

	return next
}
