package identity

import (
	"context"
	"log/slog"
	"time"

	"github.com/asaskevich/govalidator"

	"github.com/torarnehave1/openauth-template/internal/platform/metrics"
	"github.com/torarnehave1/openauth-template/pkg/domain"
	dErrors "github.com/torarnehave1/openauth-template/pkg/domain-errors"
)

// Service resolves verified emails to stable user identifiers. The credential
// flow has already proven control of the email before Resolve is called; the
// validation here is a trust-boundary check, not verification.
type Service struct {
	store   UserStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewService creates an identity resolver backed by the given store.
func NewService(store UserStore, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{store: store, logger: logger, metrics: m}
}

// Resolve returns the stable identifier for an email, creating the identity
// on first sight. Idempotent: the same email always resolves to the same id,
// including under concurrent first-time calls and after timed-out retries.
func (s *Service) Resolve(ctx context.Context, email string) (domain.UserID, error) {
	start := time.Now()
	defer func() {
		s.metrics.ResolveDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	if email == "" {
		return domain.UserID{}, dErrors.New(dErrors.CodeInvalidInput, "email cannot be empty")
	}
	if !govalidator.IsEmail(email) {
		return domain.UserID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid email")
	}

	id, created, err := s.store.UpsertByEmail(ctx, email)
	if err != nil {
		return domain.UserID{}, dErrors.Wrap(err, dErrors.CodeInternal, "identity resolution failed")
	}
	if id.IsZero() {
		return domain.UserID{}, dErrors.New(dErrors.CodeInternal, "identity resolution failed")
	}

	if created {
		s.metrics.UsersCreated.Inc()
		s.logger.InfoContext(ctx, "user created", "user_id", id.String())
	}
	return id, nil
}

// ResolveSubject wraps the resolved identifier as the protocol subject. This
// is the success hook handed to the issuer delegate; it must only run after
// the engine has confirmed the credential proof.
func (s *Service) ResolveSubject(ctx context.Context, email string) (domain.Subject, error) {
	id, err := s.Resolve(ctx, email)
	if err != nil {
		return domain.Subject{}, err
	}
	return domain.UserSubject(id), nil
}
