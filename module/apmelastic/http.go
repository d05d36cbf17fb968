package apmelastic

import (
	"net/http"

	"go.elastic.co/apm/module/apmhttp/v2"
	"go.elastic.co/apm/v2"
)

// HTTPMiddleware opens a transaction per HTTP request.
func HTTPMiddleware(tracer *apm.Tracer) func(http.Handler) http.Handler {
	if tracer == nil {
		tracer = apm.DefaultTracer()
	}

	return func(next http.Handler) http.Handler {
		return apmhttp.Wrap(next,
			apmhttp.WithTracer(tracer),
			apmhttp.WithServerRequestName(func(r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}
