package admission

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torarnehave1/openauth-template/internal/platform/config"
	"github.com/torarnehave1/openauth-template/internal/platform/logger"
	"github.com/torarnehave1/openauth-template/internal/platform/metrics"
	"github.com/torarnehave1/openauth-template/internal/registry"
	dErrors "github.com/torarnehave1/openauth-template/pkg/domain-errors"
	"github.com/torarnehave1/openauth-template/pkg/testutil"
)

func newGuard(t *testing.T) *Guard {
	t.Helper()
	reg, err := registry.New([]config.ClientEntry{
		{ClientID: "app-x", RedirectURIs: []string{"https://app-x.example/cb"}},
	})
	require.NoError(t, err)
	return New(reg, logger.New(), metrics.NewNop())
}

func TestAdmit(t *testing.T) {
	guard := newGuard(t)

	t.Run("admits registered pair", func(t *testing.T) {
		assert.NoError(t, guard.Admit("app-x", "https://app-x.example/cb"))
	})

	t.Run("rejects redirect not in allow-list", func(t *testing.T) {
		err := guard.Admit("app-x", "https://evil.example/cb")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorizedClient))
	})

	t.Run("rejects unknown client", func(t *testing.T) {
		err := guard.Admit("unknown", "anything")
		require.Error(t, err)
	})

	t.Run("rejects missing parameters", func(t *testing.T) {
		require.Error(t, guard.Admit("", ""))
	})

	t.Run("rejection message does not reveal which part failed", func(t *testing.T) {
		unknownClient := guard.Admit("unknown", "https://app-x.example/cb")
		badRedirect := guard.Admit("app-x", "https://evil.example/cb")
		assert.Equal(t, unknownClient.Error(), badRedirect.Error())
	})
}

func TestMiddleware(t *testing.T) {
	guard := newGuard(t)

	// next records whether the guard let the request through and asserts the
	// forwarded parameters are untouched.
	var forwarded *http.Request
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = r
		w.WriteHeader(http.StatusOK)
	})
	handler := guard.Middleware(next)

	t.Run("admitted request reaches the issuer with unchanged parameters", func(t *testing.T) {
		forwarded = nil
		req := testutil.NewRequest(t, http.MethodGet,
			"/authorize?client_id=app-x&redirect_uri=https%3A%2F%2Fapp-x.example%2Fcb&response_type=code&state=xyz")
		rr := testutil.DoRequest(handler, req)

		testutil.AssertStatus(t, rr, http.StatusOK)
		require.NotNil(t, forwarded)
		assert.Equal(t, "app-x", forwarded.URL.Query().Get("client_id"))
		assert.Equal(t, "https://app-x.example/cb", forwarded.URL.Query().Get("redirect_uri"))
		assert.Equal(t, "code", forwarded.URL.Query().Get("response_type"))
		assert.Equal(t, "xyz", forwarded.URL.Query().Get("state"))
	})

	t.Run("evil redirect is rejected with 400 and fixed body", func(t *testing.T) {
		forwarded = nil
		req := testutil.NewRequest(t, http.MethodGet,
			"/authorize?client_id=app-x&redirect_uri=https%3A%2F%2Fevil.example%2Fcb")
		rr := testutil.DoRequest(handler, req)

		testutil.AssertStatus(t, rr, http.StatusBadRequest)
		assert.Equal(t, RejectionBody, string(testutil.ReadBody(t, rr)))
		assert.Nil(t, forwarded, "rejected request must not reach the issuer")
	})

	t.Run("unknown client is rejected before any downstream work", func(t *testing.T) {
		forwarded = nil
		req := testutil.NewRequest(t, http.MethodGet, "/authorize?client_id=unknown&redirect_uri=anything")
		rr := testutil.DoRequest(handler, req)

		testutil.AssertStatus(t, rr, http.StatusBadRequest)
		assert.Equal(t, RejectionBody, string(testutil.ReadBody(t, rr)))
		assert.Nil(t, forwarded)
	})

	t.Run("missing parameters are treated as empty strings", func(t *testing.T) {
		forwarded = nil
		req := testutil.NewRequest(t, http.MethodGet, "/authorize")
		rr := testutil.DoRequest(handler, req)

		testutil.AssertStatus(t, rr, http.StatusBadRequest)
		assert.Nil(t, forwarded)
	})
}
