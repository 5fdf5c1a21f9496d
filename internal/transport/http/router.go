// Package httptransport assembles the public HTTP surface: the gated
// authorization entry point, the credential flow, the token endpoint, the
// human-facing pages, and the operational endpoints.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/torarnehave1/openauth-template/internal/admission"
	"github.com/torarnehave1/openauth-template/internal/issuer"
	"github.com/torarnehave1/openauth-template/internal/landing"
	"github.com/torarnehave1/openauth-template/internal/platform/middleware"
)

// CallbackBody is the fixed response on GET /callback. This service never
// terminates the redirect; the client application owns its callback URL.
const CallbackBody = "Callback is handled by your app worker"

const requestTimeout = 30 * time.Second

// Deps collects everything the router mounts.
type Deps struct {
	Guard     *admission.Guard
	Delegate  *issuer.Delegate
	Presenter *landing.Presenter
	Logger    *slog.Logger
	// Gatherer serves /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// NewRouter builds the full route tree with the shared middleware chain.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/", deps.Presenter.Landing)
	r.Get("/register", deps.Presenter.Landing)
	r.Get("/login", deps.Presenter.Login)

	// The guard runs before the engine sees the request; rejected requests
	// never create protocol state.
	r.With(deps.Guard.Middleware).Get("/authorize", deps.Delegate.Authorize)

	r.Post("/code/start", deps.Delegate.StartChallenge)
	r.Post("/code/verify", deps.Delegate.VerifyChallenge)
	r.Post("/token", deps.Delegate.Token)

	r.Get("/callback", handleCallback)

	r.Get("/healthz", handleHealth(deps.Delegate))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// handleCallback rejects direct callback hits with a fixed diagnostic.
func handleCallback(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write([]byte(CallbackBody))
}

// handleHealth reports liveness plus storage reachability.
func handleHealth(delegate *issuer.Delegate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := delegate.Storage().Ping(ctx); err != nil {
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
