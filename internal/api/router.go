package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/af-corp/sentinel-gate/internal/auth"
	"github.com/af-corp/sentinel-gate/internal/config"
	"github.com/af-corp/sentinel-gate/internal/ratelimit"
	"github.com/af-corp/sentinel-gate/internal/telemetry"
)

// RouterOptions configures the middleware stack. A nil KeyStore disables
// authentication; a nil Limiter disables rate limiting.
type RouterOptions struct {
	KeyStore  auth.KeyStore
	Limiter   *ratelimit.Limiter
	RateLimit func() config.RateLimitConfig
	Metrics   *telemetry.Metrics
}

func NewRouter(h *Handler, opts RouterOptions) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestID)
	r.Use(recordHTTP(opts.Metrics))

	r.Get("/sentinel/v1/health", h.Health)

	r.Group(func(r chi.Router) {
		if opts.KeyStore != nil {
			r.Use(auth.Middleware(opts.KeyStore))
		}
		if opts.Limiter != nil && opts.RateLimit != nil {
			r.Use(ratelimit.Middleware(opts.Limiter, opts.RateLimit, opts.Metrics))
		}

		r.With(auth.RequireScope(auth.ScopeScan)).Post("/v1/scan", h.Scan)

		r.Route("/v1/executions", func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeLedger))
			r.Post("/", h.Execution)
			r.Get("/", h.List)
			r.Post("/finalize", h.Finalize)
			r.With(auth.RequireScope(auth.ScopeOverride)).Post("/override", h.Override)
			r.Get("/{id}", h.Get)
		})
	})
	return r
}

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestID propagates X-Request-ID or assigns req_<unix ms>_<hex>.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func generateRequestID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}

// recordHTTP counts requests by chi route pattern, so ids in paths do not
// explode label cardinality.
func recordHTTP(m *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RecordHTTP(route, strconv.Itoa(status), float64(time.Since(start).Microseconds())/1000)
		})
	}
}
