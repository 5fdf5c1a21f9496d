package landing

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torarnehave1/openauth-template/internal/admission"
	"github.com/torarnehave1/openauth-template/internal/platform/config"
	"github.com/torarnehave1/openauth-template/internal/platform/logger"
	"github.com/torarnehave1/openauth-template/internal/platform/metrics"
	"github.com/torarnehave1/openauth-template/internal/registry"
	"github.com/torarnehave1/openauth-template/pkg/testutil"
)

func newPresenter(t *testing.T) (*Presenter, *registry.Registry) {
	t.Helper()
	reg, err := registry.New([]config.ClientEntry{
		{ClientID: "test-client", RedirectURIs: []string{"http://localhost:3000/callback", "http://localhost"}},
		{ClientID: "second-client", RedirectURIs: []string{"http://localhost:4000/cb"}},
	})
	require.NoError(t, err)
	return New(reg, "http://localhost:8080", logger.New()), reg
}

func TestAuthorizeURL_IsSelfConsistent(t *testing.T) {
	presenter, reg := newPresenter(t)

	raw := presenter.AuthorizeURL()
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "test-client", q.Get("client_id"), "default client is the first registered one")
	assert.GreaterOrEqual(t, len(q.Get("state")), 8)

	// The generated link must pass the same gate real clients face.
	guard := admission.New(reg, logger.New(), metrics.NewNop())
	require.NoError(t, guard.Admit(q.Get("client_id"), q.Get("redirect_uri")))
}

func TestLanding_RendersAuthorizeLink(t *testing.T) {
	presenter, _ := newPresenter(t)

	rr := testutil.DoRequest(http.HandlerFunc(presenter.Landing), testutil.NewRequest(t, http.MethodGet, "/"))
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")

	body := string(testutil.ReadBody(t, rr))
	assert.Contains(t, body, "test-client")
	assert.Contains(t, body, "/authorize?")
}

func TestLogin_RendersForms(t *testing.T) {
	presenter, _ := newPresenter(t)

	t.Run("requires state", func(t *testing.T) {
		rr := testutil.DoRequest(http.HandlerFunc(presenter.Login), testutil.NewRequest(t, http.MethodGet, "/login"))
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	})

	t.Run("shows the email form first", func(t *testing.T) {
		rr := testutil.DoRequest(http.HandlerFunc(presenter.Login), testutil.NewRequest(t, http.MethodGet, "/login?state=abc123def456"))
		testutil.AssertStatus(t, rr, http.StatusOK)
		body := string(testutil.ReadBody(t, rr))
		assert.Contains(t, body, `action="/code/start"`)
		assert.Contains(t, body, `value="abc123def456"`)
		assert.False(t, strings.Contains(body, `action="/code/verify"`))
	})

	t.Run("shows the code form after sending", func(t *testing.T) {
		rr := testutil.DoRequest(http.HandlerFunc(presenter.Login), testutil.NewRequest(t, http.MethodGet, "/login?state=abc123def456&sent=1"))
		testutil.AssertStatus(t, rr, http.StatusOK)
		body := string(testutil.ReadBody(t, rr))
		assert.Contains(t, body, `action="/code/verify"`)
	})
}
