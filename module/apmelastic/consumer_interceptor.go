// Package apmelastic traces catalog traffic with Elastic APM.
package apmelastic

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"go.elastic.co/apm/module/apmhttp/v2"
	"go.elastic.co/apm/v2"

	"github.com/skynet2/catalogsync/consumer"
	"github.com/skynet2/catalogsync/publisher"
)

const (
	frameworkName   = "catalogsync"
	transactionType = "messaging"
)

// ConsumerInterceptor opens one transaction per delivered message, continuing
// the trace the publisher stamped onto the message headers.
func ConsumerInterceptor(tracer *apm.Tracer, captureErrors bool) consumer.UnaryInterceptorFunc {
	if tracer == nil {
		tracer = apm.DefaultTracer()
	}

	return func(next consumer.UnaryFunc) consumer.UnaryFunc {
		return func(ctx context.Context, req consumer.MessageRequest) (resp consumer.ConfirmationType, err error) {
			if !tracer.Recording() {
				return next(ctx, req)
			}

			spec := req.Spec()
			name := fmt.Sprintf("%v consume %v", spec.ConsumerName, spec.ConsumerQueue)

			tx, ctx := startTransaction(ctx, tracer, name, req.Header(), spec.Version)
			defer tx.End()

			setMessageLabels(tx, req.Header())

			defer func() {
				if r := recover(); r != nil {
					e := tracer.Recovered(r)
					e.SetTransaction(tx)
					e.Handled = false
					e.Send()

					panic(r)
				}

				setTransactionResult(tx, resp)

				if err != nil && captureErrors {
					captureError(ctx, err)
				}
			}()

			return next(ctx, req)
		}
	}
}

func captureError(ctx context.Context, err error) {
	defer func() {
		_ = recover()
	}()

	zerolog.Ctx(ctx).Debug().Err(err).Msg("reporting handler error to apm")

	if apmError := apm.CaptureError(ctx, err); apmError != nil {
		apmError.Send()
	}
}

func startTransaction(
	ctx context.Context,
	tracer *apm.Tracer,
	name string,
	header map[string][]string,
	version string,
) (*apm.Transaction, context.Context) {
	var opts apm.TransactionOptions

	if traceContext, ok := incomingTraceContext(http.Header(header)); ok {
		opts.TraceContext = traceContext
	}

	tx := tracer.StartTransactionOptions(name, transactionType, opts)
	tx.Context.SetFramework(frameworkName, version)

	return tx, apm.ContextWithTransaction(ctx, tx)
}

func incomingTraceContext(header http.Header) (apm.TraceContext, bool) {
	for _, name := range []string{apmhttp.W3CTraceparentHeader, apmhttp.ElasticTraceparentHeader} {
		value := header.Get(name)
		if value == "" {
			continue
		}

		traceContext, err := apmhttp.ParseTraceparentHeader(value)
		if err != nil {
			continue
		}

		if state := header.Values(apmhttp.TracestateHeader); len(state) > 0 {
			traceContext.State, _ = apmhttp.ParseTracestateHeader(state...)
		}

		return traceContext, true
	}

	return apm.TraceContext{}, false
}

func setMessageLabels(tx *apm.Transaction, header map[string][]string) {
	h := http.Header(header)

	if v := h.Get(publisher.HeaderEventType); v != "" {
		tx.Context.SetLabel("event_type", v)
	}

	if v := h.Get(publisher.HeaderBookID); v != "" {
		tx.Context.SetLabel("book_id", v)
	}
}

func setTransactionResult(tx *apm.Transaction, resp consumer.ConfirmationType) {
	tx.Result = resp.String()

	if resp == consumer.ConfirmationTypeAck {
		tx.Outcome = "success"
	} else {
		tx.Outcome = "failure"
	}
}
