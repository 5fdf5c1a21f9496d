package issuer_test

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torarnehave1/openauth-template/internal/identity"
	"github.com/torarnehave1/openauth-template/internal/issuer"
	"github.com/torarnehave1/openauth-template/internal/platform/config"
	"github.com/torarnehave1/openauth-template/internal/platform/logger"
	"github.com/torarnehave1/openauth-template/internal/platform/metrics"
	"github.com/torarnehave1/openauth-template/internal/registry"
	"github.com/torarnehave1/openauth-template/pkg/testutil"
)

// recordingSender captures the code instead of delivering it.
type recordingSender struct {
	email string
	code  string
}

func (s *recordingSender) SendCode(_ context.Context, email, code string) error {
	s.email = email
	s.code = code
	return nil
}

type flowEnv struct {
	delegate *issuer.Delegate
	sender   *recordingSender
	users    *identity.InMemoryUserStore
}

func newFlowEnv(t *testing.T) *flowEnv {
	t.Helper()

	reg, err := registry.New([]config.ClientEntry{
		{ClientID: "test-client", RedirectURIs: []string{"http://localhost:3000/callback"}},
	})
	require.NoError(t, err)

	users := identity.NewInMemory()
	resolver := identity.NewService(users, logger.New(), metrics.NewNop())
	sender := &recordingSender{}

	delegate := issuer.New(
		issuer.Config{
			IssuerURL:       "http://localhost:8080",
			GlobalSecret:    "integration-test-secret-0123456789abcdef",
			CodeTTL:         10 * time.Minute,
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 720 * time.Hour,
		},
		issuer.NewMemoryStorage(reg),
		sender,
		resolver,
		logger.New(),
		metrics.NewNop(),
	)
	return &flowEnv{delegate: delegate, sender: sender, users: users}
}

const authorizeQuery = "/authorize?response_type=code&client_id=test-client" +
	"&redirect_uri=" + "http%3A%2F%2Flocalhost%3A3000%2Fcallback" +
	"&state=client-state-0001&scope=openid+email"

// authorize runs GET /authorize and returns the internal state from the login
// redirect.
func (e *flowEnv) authorize(t *testing.T) string {
	t.Helper()

	rr := testutil.DoRequest(http.HandlerFunc(e.delegate.Authorize), testutil.NewRequest(t, http.MethodGet, authorizeQuery))
	testutil.AssertStatus(t, rr, http.StatusFound)

	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/login", loc.Path)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

// startChallenge posts the email form and returns the captured one-time code.
func (e *flowEnv) startChallenge(t *testing.T, state, email string) string {
	t.Helper()

	form := url.Values{"state": {state}, "email": {email}}.Encode()
	rr := testutil.DoRequest(http.HandlerFunc(e.delegate.StartChallenge),
		testutil.NewFormRequest(t, http.MethodPost, "/code/start", form))
	testutil.AssertStatus(t, rr, http.StatusFound)
	require.NotEmpty(t, e.sender.code)
	return e.sender.code
}

func (e *flowEnv) verify(t *testing.T, state, code string) *http.Response {
	t.Helper()

	form := url.Values{"state": {state}, "code": {code}}.Encode()
	rr := testutil.DoRequest(http.HandlerFunc(e.delegate.VerifyChallenge),
		testutil.NewFormRequest(t, http.MethodPost, "/code/verify", form))
	return rr.Result()
}

func TestAuthorize_ParksRequestAndRedirectsToLogin(t *testing.T) {
	env := newFlowEnv(t)
	state := env.authorize(t)

	pending, err := env.delegate.Storage().LoadPendingAuthorization(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, "test-client", pending.ClientID)
	assert.Equal(t, "http://localhost:3000/callback", pending.RedirectURI)
	assert.Equal(t, "client-state-0001", pending.State)
}

func TestAuthorize_EngineRejectsUnknownClient(t *testing.T) {
	env := newFlowEnv(t)

	rr := testutil.DoRequest(http.HandlerFunc(env.delegate.Authorize),
		testutil.NewRequest(t, http.MethodGet, "/authorize?response_type=code&client_id=ghost&redirect_uri=http%3A%2F%2Flocalhost%3A3000%2Fcallback&state=client-state-0001"))
	assert.GreaterOrEqual(t, rr.Code, http.StatusBadRequest)
}

func TestStartChallenge_Validation(t *testing.T) {
	env := newFlowEnv(t)
	state := env.authorize(t)

	t.Run("rejects unknown state", func(t *testing.T) {
		form := url.Values{"state": {"no-such-state"}, "email": {"alice@example.com"}}.Encode()
		rr := testutil.DoRequest(http.HandlerFunc(env.delegate.StartChallenge),
			testutil.NewFormRequest(t, http.MethodPost, "/code/start", form))
		testutil.AssertStatus(t, rr, http.StatusNotFound)
	})

	t.Run("rejects malformed email", func(t *testing.T) {
		form := url.Values{"state": {state}, "email": {"not-an-email"}}.Encode()
		rr := testutil.DoRequest(http.HandlerFunc(env.delegate.StartChallenge),
			testutil.NewFormRequest(t, http.MethodPost, "/code/start", form))
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	})
}

func TestChallengeFlow_EndToEnd(t *testing.T) {
	env := newFlowEnv(t)

	var state, code string
	testutil.Given(t, "an authorization request parked for login", func(t *testing.T) {
		state = env.authorize(t)
	})

	testutil.When(t, "the resource owner asks for a one-time code", func(t *testing.T) {
		code = env.startChallenge(t, state, "alice@example.com")
		assert.Equal(t, "alice@example.com", env.sender.email)
	})

	testutil.Then(t, "a wrong code is rejected", func(t *testing.T) {
		wrong := "000000"
		if wrong == code {
			wrong = "000001"
		}
		resp := env.verify(t, state, wrong)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	testutil.Then(t, "the correct code redirects to the client callback", func(t *testing.T) {
		resp := env.verify(t, state, code)
		require.Equal(t, http.StatusFound, resp.StatusCode)

		callback, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "localhost:3000", callback.Host)
		assert.Equal(t, "/callback", callback.Path)
		assert.NotEmpty(t, callback.Query().Get("code"))
		assert.Equal(t, "client-state-0001", callback.Query().Get("state"))
	})

	testutil.And(t, "the resolved user exists exactly once", func(t *testing.T) {
		assert.Equal(t, 1, env.users.Count())
	})

	testutil.And(t, "the proof is single use", func(t *testing.T) {
		resp := env.verify(t, state, code)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestVerify_BurnsChallengeAfterTooManyAttempts(t *testing.T) {
	env := newFlowEnv(t)
	state := env.authorize(t)
	code := env.startChallenge(t, state, "alice@example.com")

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	for i := 0; i < 4; i++ {
		resp := env.verify(t, state, wrong)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp := env.verify(t, state, wrong)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Even the right code is useless once the challenge is burned.
	resp = env.verify(t, state, code)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestToken_ExchangesAuthorizationCode(t *testing.T) {
	env := newFlowEnv(t)
	state := env.authorize(t)
	code := env.startChallenge(t, state, "alice@example.com")

	resp := env.verify(t, state, code)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	callback, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	authCode := callback.Query().Get("code")
	require.NotEmpty(t, authCode)

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {authCode},
		"redirect_uri": {"http://localhost:3000/callback"},
		"client_id":    {"test-client"},
	}.Encode()

	rr := testutil.DoRequest(http.HandlerFunc(env.delegate.Token),
		testutil.NewFormRequest(t, http.MethodPost, "/token", form))
	testutil.AssertStatus(t, rr, http.StatusOK)

	token := testutil.UnmarshalResponse[map[string]any](t, rr)
	assert.NotEmpty(t, (*token)["access_token"])
	assert.Equal(t, "bearer", strings.ToLower((*token)["token_type"].(string)))

	t.Run("authorization code is single use", func(t *testing.T) {
		rr := testutil.DoRequest(http.HandlerFunc(env.delegate.Token),
			testutil.NewFormRequest(t, http.MethodPost, "/token", form))
		assert.GreaterOrEqual(t, rr.Code, http.StatusBadRequest)
	})
}
