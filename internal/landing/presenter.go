// Package landing renders the human-facing pages: the front page with a
// ready-made authorization link, and the login page where the resource owner
// proves their email with a one-time code.
package landing

import (
	"crypto/rand"
	"encoding/hex"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/torarnehave1/openauth-template/internal/registry"
)

var landingTemplate = template.Must(template.New("landing").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorization Service</title></head>
<body>
  <h1>Authorization Service</h1>
  <p>Sign in to continue to <strong>{{.ClientID}}</strong>.</p>
  <p><a href="{{.AuthorizeURL}}">Start authorization</a></p>
</body>
</html>
`))

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
  <h1>Sign in</h1>
{{if .Sent}}
  <p>We sent a one-time code to your email. Enter it below.</p>
  <form method="post" action="/code/verify">
    <input type="hidden" name="state" value="{{.State}}">
    <label>Code <input type="text" name="code" autocomplete="one-time-code" required></label>
    <button type="submit">Verify</button>
  </form>
{{else}}
  <p>Enter your email and we will send you a one-time code.</p>
  <form method="post" action="/code/start">
    <input type="hidden" name="state" value="{{.State}}">
    <label>Email <input type="email" name="email" required></label>
    <button type="submit">Send code</button>
  </form>
{{end}}
</body>
</html>
`))

// Presenter serves the landing and login pages.
type Presenter struct {
	registry  *registry.Registry
	issuerURL string
	logger    *slog.Logger
}

// New creates a presenter over the client registry.
func New(reg *registry.Registry, issuerURL string, logger *slog.Logger) *Presenter {
	return &Presenter{registry: reg, issuerURL: issuerURL, logger: logger}
}

// AuthorizeURL builds an authorization URL for the default client that is
// guaranteed to pass the admission guard: client_id and redirect_uri are taken
// straight from the registry entry.
func (p *Presenter) AuthorizeURL() string {
	client := p.registry.Default()
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {client.ClientID},
		"redirect_uri":  {client.RedirectURIs[0]},
		"state":         {randomState()},
	}
	return p.issuerURL + "/authorize?" + q.Encode()
}

// Landing handles GET /.
func (p *Presenter) Landing(w http.ResponseWriter, r *http.Request) {
	data := struct {
		ClientID     string
		AuthorizeURL string
	}{
		ClientID:     p.registry.Default().ClientID,
		AuthorizeURL: p.AuthorizeURL(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := landingTemplate.Execute(w, data); err != nil {
		p.logger.ErrorContext(r.Context(), "failed to render landing page", "error", err)
	}
}

// Login handles GET /login. It requires the internal state minted by the
// authorize handler; without it there is no pending authorization to attach
// the proof to.
func (p *Presenter) Login(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		http.Error(w, "missing state parameter", http.StatusBadRequest)
		return
	}
	data := struct {
		State string
		Sent  bool
	}{
		State: state,
		Sent:  r.URL.Query().Get("sent") == "1",
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginTemplate.Execute(w, data); err != nil {
		p.logger.ErrorContext(r.Context(), "failed to render login page", "error", err)
	}
}

// randomState gives the demo link enough state entropy to satisfy the engine.
func randomState() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
