package consumer

import (
	"context"
	"time"
)

type Consumer interface {
	ConsumeAsync() error
	Close() error
	State() State
}

type MessageRequest interface {
	Header() map[string][]string
	Spec() Spec
	Data() []byte
}

type Spec struct {
	ConsumerName  string
	ConsumerQueue string
	Version       string
}

type Configuration struct {
	Concurrency    int           `json:"Concurrency"`
	ConsumerName   string        `json:"ConsumerName"`
	Queue          string        `json:"Queue"`
	ReconnectDelay time.Duration `json:"ReconnectDelay"`
}

type ConfirmationType byte

const (
	ConfirmationTypeNack = ConfirmationType(0)
	ConfirmationTypeAck  = ConfirmationType(1)
)

func (c ConfirmationType) String() string {
	switch c {
	case ConfirmationTypeAck:
		return "ack"
	case ConfirmationTypeNack:
		return "nack"
	default:
		return "unsupported"
	}
}

type State int32

const (
	StateIdle = State(iota)
	StateConnecting
	StateConsuming
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConsuming:
		return "consuming"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type UnaryInterceptorFunc = func(next UnaryFunc) UnaryFunc
type UnaryFunc = func(ctx context.Context, request MessageRequest) (ConfirmationType, error)
