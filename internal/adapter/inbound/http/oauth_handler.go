package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/toolbridge/toolbridge/internal/domain/auth"
	"github.com/toolbridge/toolbridge/internal/domain/catalog"
	"github.com/toolbridge/toolbridge/internal/service"
)

// sessionCookieName carries the signed login session for the authorize UI.
const sessionCookieName = "toolbridge_session"

// sessionTTL bounds how long a login survives before the form is shown again.
const sessionTTL = time.Hour

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign in - {{.ServerName}}</title></head>
<body>
<h1>Sign in to {{.ServerName}}</h1>
{{if .Error}}<p>{{.Error}}</p>{{end}}
<form method="POST" action="{{.Action}}">
{{range $name, $value := .Hidden}}<input type="hidden" name="{{$name}}" value="{{$value}}">
{{end}}<label>Username <input type="text" name="username" autocomplete="username"></label>
<label>Password <input type="password" name="password" autocomplete="current-password"></label>
<button type="submit">Sign in</button>
</form>
</body>
</html>
`))

// OAuthHandler serves the per-server authorization surface: the resource
// metadata document, the authorize endpoint with its login form, and the
// token endpoint.
type OAuthHandler struct {
	store       catalog.Store
	users       auth.UserStore
	authorize   *service.AuthorizeService
	baseURL     string
	loginSecret []byte
	metrics     *Metrics
	logger      *slog.Logger
}

// NewOAuthHandler creates the OAuth surface handler. loginSecret signs the
// login session cookie and must stay stable across restarts.
func NewOAuthHandler(store catalog.Store, users auth.UserStore, authorize *service.AuthorizeService, baseURL string, loginSecret []byte, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		store:       store,
		users:       users,
		authorize:   authorize,
		baseURL:     baseURL,
		loginSecret: loginSecret,
		logger:      logger,
	}
}

// HandleMetadata serves GET /api/oauth/{slug}, the protected resource
// metadata document clients discover from the WWW-Authenticate challenge.
func (h *OAuthHandler) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	server, ok := h.resolveServer(w, r)
	if !ok {
		return
	}

	doc := map[string]any{
		"resource":                         h.baseURL + "/api/mcp/" + server.Slug,
		"authorization_endpoint":           h.baseURL + "/api/oauth/" + server.Slug + "/authorize",
		"token_endpoint":                   h.baseURL + "/api/oauth/" + server.Slug + "/token",
		"scopes_supported":                 strings.Fields(auth.DefaultScope),
		"grant_types_supported":            []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported": []string{service.PKCEMethodS256},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(doc)
}

// HandleAuthorize serves GET /api/oauth/{slug}/authorize. Private servers
// without a valid login session get the login form; otherwise the code is
// minted and the client redirected back.
func (h *OAuthHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	server, ok := h.resolveServer(w, r)
	if !ok {
		return
	}

	req := authorizeRequestFromQuery(r.URL.Query())
	userID := h.sessionUserID(r)

	result, err := h.authorize.Authorize(r.Context(), server, req, userID)
	if err != nil {
		if errors.Is(err, service.ErrLoginRequired) {
			h.renderLogin(w, r, server, "")
			return
		}
		h.writeAuthorizeError(w, req, err)
		return
	}

	for _, warning := range result.Warnings {
		LoggerFromContext(r.Context()).Warn("authorize warning", "server", server.Slug, "warning", warning)
	}

	redirect, err := url.Parse(req.RedirectURI)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not a valid URL")
		return
	}
	q := redirect.Query()
	q.Set("code", result.Code)
	q.Set("state", result.State)
	redirect.RawQuery = q.Encode()

	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

// HandleLogin serves POST /api/oauth/{slug}/authorize: the login form
// submission. On success it sets the signed session cookie and replays the
// original authorize request.
func (h *OAuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	server, ok := h.resolveServer(w, r)
	if !ok {
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	user, err := h.users.GetUserByUsername(r.Context(), username)
	if err != nil {
		if !errors.Is(err, auth.ErrUserNotFound) {
			LoggerFromContext(r.Context()).Error("user lookup failed", "error", err)
		}
		h.renderLogin(w, r, server, "invalid username or password")
		return
	}
	match, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil || !match {
		h.renderLogin(w, r, server, "invalid username or password")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    h.signSession(user.ID, time.Now().Add(sessionTTL)),
		Path:     "/api/oauth/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionTTL.Seconds()),
	})

	// Replay the original authorize request now that a session exists.
	replay := *r.URL
	replay.RawQuery = authorizeQueryFromForm(r.PostForm).Encode()
	http.Redirect(w, r, replay.String(), http.StatusSeeOther)
}

// HandleToken serves POST /api/oauth/{slug}/token for both grant types.
func (h *OAuthHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	server, ok := h.resolveServer(w, r)
	if !ok {
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	req := service.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		ClientID:     r.PostFormValue("client_id"),
		RefreshToken: r.PostFormValue("refresh_token"),
	}

	issued, err := h.authorize.Exchange(r.Context(), server, req)
	if err != nil {
		var oauthErr *service.OAuthError
		if errors.As(err, &oauthErr) {
			writeJSONError(w, http.StatusBadRequest, oauthErr.Code, oauthErr.Description)
			return
		}
		LoggerFromContext(r.Context()).Error("token exchange failed", "server", server.Slug, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "server_error", "token exchange failed")
		return
	}

	if h.metrics != nil {
		h.metrics.TokensIssued.WithLabelValues(req.GrantType).Inc()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  issued.AccessToken,
		"token_type":    issued.TokenType,
		"expires_in":    issued.ExpiresIn,
		"refresh_token": issued.RefreshToken,
		"scope":         issued.Scope,
	})
}

func (h *OAuthHandler) resolveServer(w http.ResponseWriter, r *http.Request) (*catalog.ToolServer, bool) {
	slug := r.PathValue("slug")
	server, err := h.store.GetServerBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, catalog.ErrServerNotFound) {
			writeJSONError(w, http.StatusNotFound, "not_found", "unknown tool server")
		} else {
			LoggerFromContext(r.Context()).Error("server lookup failed", "slug", slug, "error", err)
			writeJSONError(w, http.StatusInternalServerError, "internal_error", "server lookup failed")
		}
		return nil, false
	}
	return server, true
}

// writeAuthorizeError reports an authorize failure. Errors that predate a
// trustworthy redirect_uri are answered directly; everything else goes back
// to the client via redirect parameters.
func (h *OAuthHandler) writeAuthorizeError(w http.ResponseWriter, req service.AuthorizeRequest, err error) {
	var oauthErr *service.OAuthError
	if !errors.As(err, &oauthErr) {
		writeJSONError(w, http.StatusInternalServerError, "server_error", "authorization failed")
		return
	}

	redirect, parseErr := url.Parse(req.RedirectURI)
	if oauthErr.Code == "invalid_request" || req.RedirectURI == "" || parseErr != nil {
		writeJSONError(w, http.StatusBadRequest, oauthErr.Code, oauthErr.Description)
		return
	}

	q := redirect.Query()
	q.Set("error", oauthErr.Code)
	q.Set("error_description", oauthErr.Description)
	if req.State != "" {
		q.Set("state", req.State)
	}
	redirect.RawQuery = q.Encode()
	w.Header().Set("Location", redirect.String())
	w.WriteHeader(http.StatusFound)
}

// renderLogin shows the login form, carrying the authorize parameters as
// hidden fields so the flow resumes after submission.
func (h *OAuthHandler) renderLogin(w http.ResponseWriter, r *http.Request, server *catalog.ToolServer, errMsg string) {
	hidden := make(map[string]string)
	params := r.URL.Query()
	if r.Method == http.MethodPost {
		params = r.PostForm
	}
	for _, name := range authorizeParamNames {
		if v := params.Get(name); v != "" {
			hidden[name] = v
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	err := loginTemplate.Execute(w, map[string]any{
		"ServerName": server.Name,
		"Action":     h.baseURL + "/api/oauth/" + server.Slug + "/authorize",
		"Hidden":     hidden,
		"Error":      errMsg,
	})
	if err != nil {
		h.logger.Error("login template failed", "error", err)
	}
}

// authorizeParamNames are the OAuth query parameters threaded through the
// login form.
var authorizeParamNames = []string{
	"response_type", "client_id", "redirect_uri", "scope", "state",
	"code_challenge", "code_challenge_method", "resource",
}

func authorizeRequestFromQuery(q url.Values) service.AuthorizeRequest {
	return service.AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Resource:            q.Get("resource"),
	}
}

func authorizeQueryFromForm(form url.Values) url.Values {
	q := url.Values{}
	for _, name := range authorizeParamNames {
		if v := form.Get(name); v != "" {
			q.Set(name, v)
		}
	}
	return q
}

// signSession builds the login cookie value: userID.expiryUnix.hmac.
func (h *OAuthHandler) signSession(userID string, expiry time.Time) string {
	payload := userID + "." + strconv.FormatInt(expiry.Unix(), 10)
	return payload + "." + h.sessionMAC(payload)
}

// sessionUserID verifies the login cookie and returns the user ID, or ""
// when the cookie is absent, tampered with, or expired.
func (h *OAuthHandler) sessionUserID(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}

	parts := strings.Split(cookie.Value, ".")
	if len(parts) != 3 {
		return ""
	}
	payload := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(h.sessionMAC(payload)), []byte(parts[2])) {
		return ""
	}
	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || time.Now().Unix() > expiry {
		return ""
	}
	return parts[0]
}

func (h *OAuthHandler) sessionMAC(payload string) string {
	mac := hmac.New(sha256.New, h.loginSecret)
	fmt.Fprint(mac, payload)
	return hex.EncodeToString(mac.Sum(nil))
}
