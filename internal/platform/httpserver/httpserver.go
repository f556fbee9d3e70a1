// Package httpserver serves the operations endpoints: liveness, readiness
// per storage component, and Prometheus metrics.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	dErrors "warden/pkg/domain-errors"
	"warden/pkg/requestcontext"
)

// New builds an HTTP server with sane defaults for this project.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

// RouterConfig holds what the ops router exposes.
type RouterConfig struct {
	Checks   map[string]Check
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	Timeout  time.Duration // per readiness check, default 2s
	Mount    func(r chi.Router)
}

type component struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NewRouter mounts /healthz, /readyz and /metrics, then any extra routes.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(requestScope)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		components, ready := runChecks(req.Context(), cfg)
		status, code := "ready", http.StatusOK
		if !ready {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		WriteJSON(w, code, map[string]any{
			"status":     status,
			"checked_at": requestcontext.Now(req.Context()).UTC().Format(time.RFC3339),
			"components": components,
		})
	})
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	if cfg.Mount != nil {
		cfg.Mount(r)
	}
	return r
}

func runChecks(ctx context.Context, cfg RouterConfig) ([]component, bool) {
	names := make([]string, 0, len(cfg.Checks))
	for name := range cfg.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ready := true
	out := make([]component, 0, len(names))
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err := cfg.Checks[name](cctx)
		cancel()
		c := component{Name: name, OK: err == nil}
		if err != nil {
			ready = false
			c.Error = err.Error()
			cfg.Logger.WarnContext(ctx, "readiness check failed",
				"component", name,
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
		out = append(out, c)
	}
	return out, ready
}

// requestScope pins the request time and copies chi's request id into the
// request context.
func requestScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		if id := chimw.GetReqID(ctx); id != "" {
			ctx = requestcontext.WithRequestID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WriteJSON writes v as the JSON response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a coded error to its status. Internal errors keep their
// description out of the body.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]string{"error": string(code)}
	if code != dErrors.CodeInternal {
		var de *dErrors.Error
		if errors.As(err, &de) {
			body["error_description"] = de.Message
		}
	}
	WriteJSON(w, statusFor(code), body)
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeValidation, dErrors.CodeInvalidInput, dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeInvariantViolation:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
