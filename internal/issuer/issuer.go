// Package issuer glues the protocol engine to the rest of the service: it
// binds storage, runs the email one-time-code flow, and hands the verified
// subject back to the engine when minting codes and tokens. The protocol
// mechanics themselves (code exchange, token signing, PKCE) belong to the
// engine and are not reimplemented here.
package issuer

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/ory/fosite"
	"github.com/ory/fosite/compose"

	"github.com/torarnehave1/openauth-template/internal/platform/metrics"
	"github.com/torarnehave1/openauth-template/pkg/domain"
)

// maxCodeAttempts bounds wrong guesses before the challenge is burned.
const maxCodeAttempts = 5

// SubjectResolver is the success hook: it runs exactly once per verified
// proof, after the one-time code has been accepted and before any artifact is
// minted for the subject.
type SubjectResolver interface {
	ResolveSubject(ctx context.Context, email string) (domain.Subject, error)
}

// Config carries the engine parameters the delegate needs.
type Config struct {
	IssuerURL       string
	GlobalSecret    string
	CodeTTL         time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// Delegate owns the authorization flow between admission and token issuance.
type Delegate struct {
	provider fosite.OAuth2Provider
	storage  Storage
	sender   CodeSender
	subjects SubjectResolver
	logger   *slog.Logger
	metrics  *metrics.Metrics
	cfg      Config
}

// New composes the protocol engine over the given storage binding and returns
// the delegate around it.
func New(cfg Config, storage Storage, sender CodeSender, subjects SubjectResolver, logger *slog.Logger, m *metrics.Metrics) *Delegate {
	fositeConfig := &fosite.Config{
		AccessTokenIssuer:     cfg.IssuerURL,
		AccessTokenLifespan:   cfg.AccessTokenTTL,
		RefreshTokenLifespan:  cfg.RefreshTokenTTL,
		AuthorizeCodeLifespan: defaultAuthorizeCodeTTL,
		GlobalSecret:          []byte(cfg.GlobalSecret),
		TokenURL:              cfg.IssuerURL + "/token",
	}

	provider := compose.Compose(
		fositeConfig,
		storage,
		&compose.CommonStrategy{CoreStrategy: compose.NewOAuth2HMACStrategy(fositeConfig)},
		compose.OAuth2AuthorizeExplicitFactory,
		compose.OAuth2RefreshTokenGrantFactory,
		compose.OAuth2PKCEFactory,
	)

	return &Delegate{
		provider: provider,
		storage:  storage,
		sender:   sender,
		subjects: subjects,
		logger:   logger,
		metrics:  m,
		cfg:      cfg,
	}
}

// Storage exposes the bound storage for health checks.
func (d *Delegate) Storage() Storage { return d.storage }

// newState returns a cryptographically random correlation state.
func newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
