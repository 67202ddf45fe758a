package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/toolbridge/toolbridge/internal/domain/auth"
	"github.com/toolbridge/toolbridge/internal/domain/catalog"
)

// codeLookupAttempts bounds the read-after-write retry in the token step.
// A fresh WAL read on a different connection can briefly lag the authorize
// step's write.
const codeLookupAttempts = 3

// codeLookupBackoff is the delay between code lookup attempts.
const codeLookupBackoff = 50 * time.Millisecond

// ErrLoginRequired is returned by the authorize step when a private server
// has no authenticated user yet; the HTTP layer turns it into the login
// step.
var ErrLoginRequired = errors.New("login required")

// OAuthError is an RFC 6749 error/error_description pair. The HTTP layer
// serializes it verbatim.
type OAuthError struct {
	Code        string
	Description string
}

// Error implements the error interface.
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func oauthErr(code, description string) *OAuthError {
	return &OAuthError{Code: code, Description: description}
}

// AuthorizeRequest carries the query parameters of the authorize endpoint.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Resource            string
}

// AuthorizeResult is a successfully issued code, with the state to echo.
type AuthorizeResult struct {
	Code     string
	State    string
	Warnings []string
}

// TokenRequest carries the form fields of the token endpoint.
type TokenRequest struct {
	GrantType    string
	Code         string
	CodeVerifier string
	RedirectURI  string
	ClientID     string
	RefreshToken string
}

// AuthorizeService is the code-issuance and code-redemption state machine.
// Codes transition issued -> redeemed exactly once, or expire.
type AuthorizeService struct {
	codes  auth.CodeStore
	gate   *auth.Gate
	tokens *TokenService
	logger *slog.Logger
	now    func() time.Time
}

// NewAuthorizeService creates the authorization server service.
func NewAuthorizeService(codes auth.CodeStore, gate *auth.Gate, tokens *TokenService, logger *slog.Logger) *AuthorizeService {
	return &AuthorizeService{
		codes:  codes,
		gate:   gate,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}
}

// Authorize validates the request and issues an authorization code.
// userID is the authenticated user, empty when none. Public servers bypass
// user and access checks; private servers require a user that passes the
// access gate.
func (s *AuthorizeService) Authorize(ctx context.Context, server *catalog.ToolServer, req AuthorizeRequest, userID string) (*AuthorizeResult, error) {
	if req.ResponseType != "code" {
		return nil, oauthErr("unsupported_response_type", "response_type must be code")
	}
	if req.ClientID == "" {
		return nil, oauthErr("invalid_request", "client_id is required")
	}
	if req.RedirectURI == "" {
		return nil, oauthErr("invalid_request", "redirect_uri is required")
	}
	if req.CodeChallenge == "" {
		return nil, oauthErr("invalid_request", "code_challenge is required")
	}
	if req.CodeChallengeMethod != "" && req.CodeChallengeMethod != PKCEMethodS256 {
		return nil, oauthErr("invalid_request", "only the S256 code_challenge_method is supported")
	}

	var warnings []string
	scope := req.Scope
	if scope == "" {
		scope = auth.DefaultScope
	}
	state := req.State
	if state == "" {
		state = uuid.New().String()
		warnings = append(warnings, "missing state, synthesized one")
		s.logger.Warn("authorize request without state", "client_id", req.ClientID, "server", server.Slug)
	}

	if server.Visibility == catalog.VisibilityPrivate {
		if userID == "" {
			return nil, ErrLoginRequired
		}
		decision, err := s.gate.CheckAccess(ctx, server, userID)
		if err != nil {
			return nil, fmt.Errorf("checking access: %w", err)
		}
		if !decision.Allowed {
			return nil, oauthErr("access_denied", decision.Reason)
		}
	} else if !server.Enabled {
		return nil, oauthErr("access_denied", "server is disabled")
	}

	value, err := generateOpaqueToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	code := &auth.AuthorizationCode{
		Code:          value,
		ClientID:      req.ClientID,
		RedirectURI:   req.RedirectURI,
		CodeChallenge: req.CodeChallenge,
		Scope:         scope,
		Resource:      req.Resource,
		UserID:        userID,
		ServerID:      server.ID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(auth.CodeTTL),
	}
	if err := s.codes.SaveCode(ctx, code); err != nil {
		return nil, fmt.Errorf("persisting authorization code: %w", err)
	}

	s.logger.Info("authorization code issued",
		"server", server.Slug,
		"client_id", req.ClientID,
		"user_id", userID,
	)
	return &AuthorizeResult{Code: value, State: state, Warnings: warnings}, nil
}

// Exchange handles the token endpoint for both grant types.
func (s *AuthorizeService) Exchange(ctx context.Context, server *catalog.ToolServer, req TokenRequest) (*IssuedTokens, error) {
	switch req.GrantType {
	case "authorization_code":
		return s.exchangeCode(ctx, server, req)
	case "refresh_token":
		return s.refresh(ctx, server, req)
	default:
		return nil, oauthErr("unsupported_grant_type", "grant_type must be authorization_code or refresh_token")
	}
}

// exchangeCode redeems an authorization code for a token pair. The
// conditional update in RedeemCode guarantees single use under concurrent
// redemption; the loser observes invalid_grant.
func (s *AuthorizeService) exchangeCode(ctx context.Context, server *catalog.ToolServer, req TokenRequest) (*IssuedTokens, error) {
	if req.Code == "" {
		return nil, oauthErr("invalid_request", "code is required")
	}
	if req.CodeVerifier == "" {
		return nil, oauthErr("invalid_request", "code_verifier is required")
	}

	code, err := s.lookupCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, auth.ErrCodeNotFound) {
			return nil, oauthErr("invalid_grant", "unknown authorization code")
		}
		return nil, fmt.Errorf("looking up authorization code: %w", err)
	}

	if code.ServerID != server.ID {
		return nil, oauthErr("invalid_grant", "authorization code was issued for a different server")
	}
	if code.IsUsed() {
		return nil, oauthErr("invalid_grant", "authorization code already used")
	}
	if code.IsExpired() {
		return nil, oauthErr("invalid_grant", "authorization code expired")
	}
	if !VerifyPKCE(req.CodeVerifier, code.CodeChallenge) {
		return nil, oauthErr("invalid_grant", "PKCE verification failed")
	}
	if normalizeURI(req.RedirectURI) != normalizeURI(code.RedirectURI) {
		return nil, oauthErr("invalid_grant", "redirect_uri does not match")
	}
	if req.ClientID != code.ClientID {
		return nil, oauthErr("invalid_grant", "client_id does not match")
	}

	if err := s.codes.RedeemCode(ctx, code.Code, s.now().UTC()); err != nil {
		if errors.Is(err, auth.ErrCodeAlreadyUsed) {
			return nil, oauthErr("invalid_grant", "authorization code already used")
		}
		return nil, fmt.Errorf("redeeming authorization code: %w", err)
	}

	issued, err := s.tokens.GenerateAccessToken(ctx, code.ServerID, code.UserID, code.Scope, code.ClientID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("authorization code redeemed", "server", server.Slug, "client_id", code.ClientID)
	return issued, nil
}

// refresh rotates a token pair: the old pair is revoked and a new one is
// minted. An already-rotated refresh token is invalid_grant even if the
// replacement was never used.
func (s *AuthorizeService) refresh(ctx context.Context, server *catalog.ToolServer, req TokenRequest) (*IssuedTokens, error) {
	if req.RefreshToken == "" {
		return nil, oauthErr("invalid_request", "refresh_token is required")
	}

	record, err := s.tokens.LookupRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, oauthErr("invalid_grant", "unknown refresh token")
		}
		return nil, fmt.Errorf("looking up refresh token: %w", err)
	}
	if record.IsRevoked() {
		return nil, oauthErr("invalid_grant", "refresh token revoked")
	}
	if record.ServerID != server.ID {
		return nil, oauthErr("invalid_grant", "refresh token was issued for a different server")
	}
	if record.RefreshExpired() {
		return nil, oauthErr("invalid_grant", "refresh token expired")
	}

	return s.tokens.Rotate(ctx, record)
}

// lookupCode retries the code read a bounded number of times to absorb
// read-after-write lag.
func (s *AuthorizeService) lookupCode(ctx context.Context, value string) (*auth.AuthorizationCode, error) {
	var lastErr error
	for attempt := 0; attempt < codeLookupAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(codeLookupBackoff):
			}
		}
		code, err := s.codes.GetCode(ctx, value)
		if err == nil {
			return code, nil
		}
		lastErr = err
		if !errors.Is(err, auth.ErrCodeNotFound) {
			return nil, err
		}
	}
	return nil, lastErr
}

// normalizeURI strips a single trailing slash for exact-match comparison.
func normalizeURI(uri string) string {
	return strings.TrimSuffix(uri, "/")
}
