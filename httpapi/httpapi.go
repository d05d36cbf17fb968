// Package httpapi exposes the query service over HTTP.
//
// Every JSON response is an envelope: {"success":true,"data":...} or
// {"success":false,"message":...}. Internal error text is logged, never returned.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/skynet2/catalogsync/auth"
	"github.com/skynet2/catalogsync/query"
)

const HealthMessage = "NovelNest Catalog Service is running!"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type QueryService interface {
	ListAll(ctx context.Context) ([]query.Book, error)
	ListByOwner(ctx context.Context, identity string, owner string) ([]query.Book, error)
	Search(ctx context.Context, params query.SearchParams) (*query.SearchResult, error)
}

// Authenticator resolves the user a request was made by.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

type Handler struct {
	queries       QueryService
	authenticator Authenticator
	logger        zerolog.Logger
	middlewares   []func(http.Handler) http.Handler
}

type Option func(h *Handler)

func WithLogger(logger zerolog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMiddleware wraps the router; the first one listed runs outermost.
func WithMiddleware(middlewares ...func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.middlewares = append(h.middlewares, middlewares...)
	}
}

func NewHandler(queries QueryService, authenticator Authenticator, opts ...Option) *Handler {
	h := &Handler{
		queries:       queries,
		authenticator: authenticator,
		logger:        log.Logger,
	}

	for _, o := range opts {
		o(h)
	}

	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(h.middlewares...)
	r.Use(
		hlog.NewHandler(h.logger),
		hlog.RemoteAddrHandler("ip"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Stringer("url", r.URL).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("request")
		}),
		middleware.Recoverer,
		cors,
	)

	r.Get("/", h.health)
	r.Get("/api/books", h.listBooks)
	r.Get("/api/books/search", h.searchBooks)

	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(HealthMessage))
}

func (h *Handler) listBooks(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("user_id")
	if owner == "" {
		books, err := h.queries.ListAll(r.Context())
		if err != nil {
			h.fail(w, r, err, "Failed to fetch books. Please try again later.")
			return
		}

		writeData(w, http.StatusOK, books)

		return
	}

	identity, err := h.authenticator.Authenticate(r)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	books, err := h.queries.ListByOwner(r.Context(), identity, owner)
	if err != nil {
		h.fail(w, r, err, "Failed to fetch books. Please try again later.")
		return
	}

	writeData(w, http.StatusOK, books)
}

func (h *Handler) searchBooks(w http.ResponseWriter, r *http.Request) {
	params, err := searchParams(r)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	result, err := h.queries.Search(r.Context(), params)
	if err != nil {
		h.fail(w, r, err, "Failed to search books. Please try again later.")
		return
	}

	writeData(w, http.StatusOK, result)
}

func searchParams(r *http.Request) (query.SearchParams, error) {
	values := r.URL.Query()

	params := query.SearchParams{
		Title:  values.Get("title"),
		Author: values.Get("author"),
		Genres: values["genre"],
	}

	var err error

	if params.Page, err = intParam(values.Get("page"), "page"); err != nil {
		return query.SearchParams{}, err
	}

	if params.Limit, err = intParam(values.Get("limit"), "limit"); err != nil {
		return query.SearchParams{}, err
	}

	return params, nil
}

// intParam maps an absent parameter to zero so the query service applies its default.
func intParam(raw string, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, errors.Wrapf(query.ErrInvalidParams, "%s must be a positive integer, got %q", name, raw)
	}

	return v, nil
}

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type failureEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// fail writes the failure envelope. fallback is the message used for unclassified errors.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status, message := classify(err)
	if message == "" {
		message = fallback
	}
	if message == "" {
		message = "Internal server error"
	}

	logger := hlog.FromRequest(r)
	if status >= http.StatusInternalServerError {
		logger.Err(err).Int("status", status).Msg("request failed")
	} else {
		logger.Debug().Err(err).Int("status", status).Msg("request rejected")
	}

	writeJSON(w, status, failureEnvelope{Message: message})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized, "Access denied. No token provided."
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, query.ErrUnauthenticated):
		return http.StatusUnauthorized, "Invalid or expired token."
	case errors.Is(err, query.ErrForbidden):
		return http.StatusForbidden, "Forbidden: Access to this user's books is not allowed"
	case errors.Is(err, query.ErrInvalidParams):
		return http.StatusBadRequest, "Invalid search parameters: page and limit must be positive integers."
	default:
		return http.StatusInternalServerError, ""
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successEnvelope{Success: true, Data: data})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}

// cors allows any origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,HEAD,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
