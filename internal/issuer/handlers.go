package issuer

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/ory/fosite"

	dErrors "github.com/torarnehave1/openauth-template/pkg/domain-errors"
	"github.com/torarnehave1/openauth-template/pkg/platform/sentinel"
)

// Authorize handles GET /authorize after the admission guard has admitted the
// request. The engine re-validates the full parameter set; the validated
// request is parked under an internal state and the resource owner is sent to
// the login page to prove their email.
func (d *Delegate) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ar, err := d.provider.NewAuthorizeRequest(ctx, r)
	if err != nil {
		d.logger.WarnContext(ctx, "authorize request rejected by engine", "error", err)
		d.provider.WriteAuthorizeError(ctx, w, ar, err)
		return
	}

	state, err := newState()
	if err != nil {
		d.provider.WriteAuthorizeError(ctx, w, ar, fosite.ErrServerError.WithHint("failed to generate state"))
		return
	}

	pending := &PendingAuthorization{
		ClientID:      ar.GetClient().GetID(),
		RedirectURI:   ar.GetRedirectURI().String(),
		State:         ar.GetState(),
		PKCEChallenge: ar.GetRequestForm().Get("code_challenge"),
		PKCEMethod:    ar.GetRequestForm().Get("code_challenge_method"),
		Scopes:        ar.GetRequestedScopes(),
		CreatedAt:     time.Now(),
	}
	if err := d.storage.StorePendingAuthorization(ctx, state, pending); err != nil {
		d.logger.ErrorContext(ctx, "failed to store pending authorization", "error", err)
		d.provider.WriteAuthorizeError(ctx, w, ar, fosite.ErrServerError.WithHint("failed to store authorization request"))
		return
	}

	http.Redirect(w, r, "/login?state="+url.QueryEscape(state), http.StatusFound)
}

// StartChallenge handles POST /code/start: it issues a one-time code for the
// email entered on the login page and hands it to the configured sender.
// Re-posting replaces any earlier challenge for the same state.
func (d *Delegate) StartChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		writeFlowError(w, dErrors.New(dErrors.CodeBadRequest, "malformed form body"))
		return
	}
	state := r.PostFormValue("state")
	email := r.PostFormValue("email")

	if state == "" {
		writeFlowError(w, dErrors.New(dErrors.CodeBadRequest, "state is required"))
		return
	}
	if !govalidator.IsEmail(email) {
		writeFlowError(w, dErrors.New(dErrors.CodeInvalidInput, "a valid email is required"))
		return
	}

	if _, err := d.storage.LoadPendingAuthorization(ctx, state); err != nil {
		writeFlowError(w, dErrors.Wrap(err, dErrors.CodeNotFound, "authorization request not found or expired"))
		return
	}

	code, err := generateCode()
	if err != nil {
		writeFlowError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue code"))
		return
	}

	challenge := &CodeChallenge{
		Email:     email,
		Code:      code,
		ExpiresAt: time.Now().Add(d.cfg.CodeTTL),
		CreatedAt: time.Now(),
	}
	if err := d.storage.StoreCodeChallenge(ctx, state, challenge); err != nil {
		writeFlowError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store challenge"))
		return
	}
	if err := d.sender.SendCode(ctx, email, code); err != nil {
		_ = d.storage.DeleteCodeChallenge(ctx, state)
		writeFlowError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to deliver code"))
		return
	}

	d.metrics.CodesIssued.Inc()
	d.logger.InfoContext(ctx, "code challenge started", "state", state)
	http.Redirect(w, r, "/login?state="+url.QueryEscape(state)+"&sent=1", http.StatusFound)
}

// VerifyChallenge handles POST /code/verify: it redeems the one-time code,
// runs the success hook to resolve the subject, mints the authorization code,
// and sends the resource owner back to the client's redirect URI.
func (d *Delegate) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		writeFlowError(w, dErrors.New(dErrors.CodeBadRequest, "malformed form body"))
		return
	}
	state := r.PostFormValue("state")
	code := r.PostFormValue("code")
	if state == "" || code == "" {
		writeFlowError(w, dErrors.New(dErrors.CodeBadRequest, "state and code are required"))
		return
	}

	challenge, err := d.storage.LoadCodeChallenge(ctx, state)
	if err != nil {
		d.metrics.CodeVerifyFailures.Inc()
		switch {
		case errors.Is(err, sentinel.ErrExpired):
			writeFlowError(w, dErrors.New(dErrors.CodeBadRequest, "code expired"))
		case errors.Is(err, sentinel.ErrNotFound):
			writeFlowError(w, dErrors.New(dErrors.CodeBadRequest, "no active code for this request"))
		default:
			writeFlowError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load challenge"))
		}
		return
	}

	if subtle.ConstantTimeCompare([]byte(challenge.Code), []byte(code)) != 1 {
		d.metrics.CodeVerifyFailures.Inc()
		attempts, err := d.storage.IncrementCodeChallengeAttempts(ctx, state)
		if err != nil {
			d.logger.ErrorContext(ctx, "failed to record failed attempt", "error", err)
		}
		if attempts >= maxCodeAttempts {
			_ = d.storage.DeleteCodeChallenge(ctx, state)
			writeFlowError(w, dErrors.New(dErrors.CodeUnauthorized, "too many attempts"))
			return
		}
		writeFlowError(w, dErrors.New(dErrors.CodeUnauthorized, "incorrect code"))
		return
	}

	// Proof accepted; the challenge is single-use.
	if err := d.storage.DeleteCodeChallenge(ctx, state); err != nil {
		d.logger.WarnContext(ctx, "failed to delete redeemed challenge", "error", err)
	}

	pending, err := d.storage.LoadPendingAuthorization(ctx, state)
	if err != nil {
		writeFlowError(w, dErrors.Wrap(err, dErrors.CodeNotFound, "authorization request not found or expired"))
		return
	}
	if err := d.storage.DeletePendingAuthorization(ctx, state); err != nil {
		d.logger.WarnContext(ctx, "failed to delete pending authorization", "error", err)
	}

	// Success hook: resolve the verified email to its stable subject before
	// anything is minted.
	subject, err := d.subjects.ResolveSubject(ctx, challenge.Email)
	if err != nil {
		d.logger.ErrorContext(ctx, "subject resolution failed", "error", err)
		writeFlowError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve subject"))
		return
	}

	authCode, err := d.mintAuthorizationCode(ctx, pending, subject.String(), challenge.Email)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to mint authorization code", "error", err)
		writeFlowError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint authorization code"))
		return
	}

	d.logger.InfoContext(ctx, "authorization granted",
		"client_id", pending.ClientID,
		"subject", subject.String(),
	)
	http.Redirect(w, r, buildCallbackURL(pending.RedirectURI, authCode, pending.State), http.StatusFound)
}

// Token handles POST /token by delegating entirely to the engine. The session
// argument is a deserialization template; the stored session from the
// authorization code carries the real subject.
func (d *Delegate) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accessRequest, err := d.provider.NewAccessRequest(ctx, r, new(fosite.DefaultSession))
	if err != nil {
		d.logger.WarnContext(ctx, "access request rejected", "error", err)
		d.provider.WriteAccessError(ctx, w, accessRequest, err)
		return
	}

	response, err := d.provider.NewAccessResponse(ctx, accessRequest)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to create access response", "error", err)
		d.provider.WriteAccessError(ctx, w, accessRequest, err)
		return
	}

	d.provider.WriteAccessResponse(ctx, w, accessRequest, response)
}

// mintAuthorizationCode rebuilds the parked authorization request for the
// engine and asks it for a fresh code bound to the resolved subject.
func (d *Delegate) mintAuthorizationCode(ctx context.Context, pending *PendingAuthorization, subject, email string) (string, error) {
	client, err := d.storage.GetClient(ctx, pending.ClientID)
	if err != nil {
		return "", err
	}

	now := time.Now()
	session := &fosite.DefaultSession{Subject: subject, Username: email}
	session.SetExpiresAt(fosite.AuthorizeCode, now.Add(defaultAuthorizeCodeTTL))
	session.SetExpiresAt(fosite.AccessToken, now.Add(d.cfg.AccessTokenTTL))
	session.SetExpiresAt(fosite.RefreshToken, now.Add(d.cfg.RefreshTokenTTL))

	ar := fosite.NewAuthorizeRequest()
	ar.Form = url.Values{
		"redirect_uri":          {pending.RedirectURI},
		"code_challenge":        {pending.PKCEChallenge},
		"code_challenge_method": {pending.PKCEMethod},
	}
	ar.Client = client
	ar.Session = session
	ar.RequestedAt = now
	ar.State = pending.State
	ar.ResponseTypes = fosite.Arguments{"code"}
	if ar.RedirectURI, err = url.Parse(pending.RedirectURI); err != nil {
		return "", err
	}
	for _, scope := range pending.Scopes {
		ar.RequestedScope = append(ar.RequestedScope, scope)
		ar.GrantedScope = append(ar.GrantedScope, scope)
	}

	response, err := d.provider.NewAuthorizeResponse(ctx, ar, session)
	if err != nil {
		return "", err
	}
	code := response.GetCode()
	if code == "" {
		return "", fosite.ErrServerError.WithHint("no authorization code generated")
	}
	return code, nil
}

// buildCallbackURL appends the minted code and the client's original state to
// the redirect URI.
func buildCallbackURL(redirectURI, code, state string) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// writeFlowError renders a flow failure as plain text with the status mapped
// from the error code.
func writeFlowError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), dErrors.ToHTTPStatus(dErrors.GetCode(err)))
}
