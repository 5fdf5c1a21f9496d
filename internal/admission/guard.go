// Package admission gates every authorization request against the client
// registry before any protocol state is created.
package admission

import (
	"log/slog"
	"net/http"

	"github.com/torarnehave1/openauth-template/internal/platform/metrics"
	"github.com/torarnehave1/openauth-template/internal/platform/middleware"
	"github.com/torarnehave1/openauth-template/internal/registry"
	dErrors "github.com/torarnehave1/openauth-template/pkg/domain-errors"
)

// RejectionBody is the fixed diagnostic returned on rejection. It deliberately
// does not distinguish an unknown client from a known client with a bad
// redirect.
const RejectionBody = "unauthorized client/redirect"

// Guard validates (client_id, redirect_uri) pairs against the registry.
type Guard struct {
	registry *registry.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates a Guard backed by the immutable registry.
func New(reg *registry.Registry, logger *slog.Logger, m *metrics.Metrics) *Guard {
	return &Guard{registry: reg, logger: logger, metrics: m}
}

// Admit returns nil iff the redirect URI is registered for the client.
// Missing parameters arrive as empty strings and fail the check.
func (g *Guard) Admit(clientID, redirectURI string) error {
	if !g.registry.Allows(clientID, redirectURI) {
		return dErrors.New(dErrors.CodeUnauthorizedClient, RejectionBody)
	}
	return nil
}

// Middleware wraps the authorization entry point. Rejected requests get a 400
// with the fixed diagnostic and never reach the next handler; admitted
// requests fall through unmodified.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := r.URL.Query().Get("client_id")
		redirectURI := r.URL.Query().Get("redirect_uri")

		if err := g.Admit(clientID, redirectURI); err != nil {
			g.metrics.AdmissionRejected.Inc()
			g.logger.WarnContext(r.Context(), "authorization request rejected",
				"client_id", clientID,
				"request_id", middleware.GetRequestID(r.Context()),
			)
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(RejectionBody))
			return
		}

		g.metrics.AdmissionAdmitted.Inc()
		next.ServeHTTP(w, r)
	})
}
