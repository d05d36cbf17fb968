package publisher

import (
	"context"

	"github.com/skynet2/catalogsync/common"
)

type Publisher interface {
	Publish(
		ctx context.Context,
		event common.CatalogEvent,
		headers map[string][]string,
	) error
}

type AnyEvent interface {
	SetHeader(header string, value string)
	GetHeader(header string) []string
	GetBody() []byte
	GetDestination() string
	GetDestinationType() string
}

type UnaryPublisherInterceptorFunc = func(next UnaryPublisherFunc) UnaryPublisherFunc
type UnaryPublisherFunc = func(ctx context.Context, event AnyEvent)
