package apmelastic

import (
	"context"

	"go.elastic.co/apm/module/apmhttp/v2"
	"go.elastic.co/apm/v2"

	"github.com/skynet2/catalogsync/publisher"
)

// PublisherInterceptor records a span per published event and forwards the
// trace context in the message headers.
func PublisherInterceptor() publisher.UnaryPublisherInterceptorFunc {
	return func(next publisher.UnaryPublisherFunc) publisher.UnaryPublisherFunc {
		return func(ctx context.Context, event publisher.AnyEvent) {
			span, ctx := apm.StartSpan(ctx, "publish "+event.GetDestination(), "messaging.nats.send")
			defer span.End()

			if tx := apm.TransactionFromContext(ctx); tx != nil {
				traceContext := tx.TraceContext()
				if !span.Dropped() {
					traceContext = span.TraceContext()
				}

				traceparent := apmhttp.FormatTraceparentHeader(traceContext)
				event.SetHeader(apmhttp.W3CTraceparentHeader, traceparent)
				event.SetHeader(apmhttp.ElasticTraceparentHeader, traceparent)

				if state := traceContext.State.String(); state != "" {
					event.SetHeader(apmhttp.TracestateHeader, state)
				}
			}

			next(ctx, event)
		}
	}
}
