// Package service contains application services: the token codec, the
// authorization server, the protocol dispatcher, catalog administration,
// and usage statistics.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/toolbridge/toolbridge/internal/domain/auth"
)

// PKCEMethodS256 is the only supported PKCE challenge method.
const PKCEMethodS256 = "S256"

// tokenIssuer is the iss claim on minted access tokens.
const tokenIssuer = "toolbridge"

// Token validation failures, each naming its specific reason.
var (
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenRevoked          = errors.New("token revoked")
	ErrTokenNotFound         = errors.New("token not found")
	ErrTokenAudienceMismatch = errors.New("token audience mismatch")
	ErrPKCEMismatch          = errors.New("PKCE verification failed")
)

// ExpiredTokenError is returned for an expired access token. Refreshable
// tells the caller whether a refresh token still exists, so clients can be
// told to refresh rather than re-authorize.
type ExpiredTokenError struct {
	Refreshable bool
}

// Error implements the error interface.
func (e *ExpiredTokenError) Error() string {
	if e.Refreshable {
		return "token expired, use refresh_token"
	}
	return "token expired"
}

// PKCEPair is a generated verifier/challenge pair.
type PKCEPair struct {
	Verifier  string
	Challenge string
	Method    string
}

// IssuedTokens is the result of minting an access/refresh pair.
type IssuedTokens struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	Scope        string
	Record       *auth.Token
}

// TokenService generates and verifies PKCE challenges and signs, validates,
// and rotates tokens. The signing secret is injected at construction; there
// is no package-level key state.
type TokenService struct {
	secret []byte
	store  auth.TokenStore
	logger *slog.Logger
	now    func() time.Time
}

// NewTokenService creates a token service with the given signing secret.
func NewTokenService(secret []byte, store auth.TokenStore, logger *slog.Logger) *TokenService {
	return &TokenService{
		secret: secret,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// GeneratePKCE returns a random 32-byte verifier with its S256 challenge.
func GeneratePKCE() (PKCEPair, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return PKCEPair{}, fmt.Errorf("generating verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw)
	return PKCEPair{
		Verifier:  verifier,
		Challenge: ComputeChallenge(verifier),
		Method:    PKCEMethodS256,
	}, nil
}

// ComputeChallenge derives the S256 challenge from a verifier.
func ComputeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCE recomputes SHA-256(verifier) and compares it to the challenge
// in constant time.
func VerifyPKCE(verifier, challenge string) bool {
	computed := ComputeChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// generateOpaqueToken returns a random base64url token value.
func generateOpaqueToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// hashRefreshToken is the at-rest form of a refresh token. SHA-256 keeps
// the lookup a direct index hit; the value itself has 256 bits of entropy.
func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GenerateAccessToken mints a signed access token whose audience is the
// server id, plus an opaque refresh token, and persists the pair.
func (s *TokenService) GenerateAccessToken(ctx context.Context, serverID, userID, scope, clientID string) (*IssuedTokens, error) {
	issued, err := s.mint(serverID, userID, scope, clientID)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveToken(ctx, issued.Record); err != nil {
		return nil, fmt.Errorf("persisting token: %w", err)
	}
	return issued, nil
}

// mint signs a fresh access/refresh pair without touching the store, so
// callers choose how the record is persisted.
func (s *TokenService) mint(serverID, userID, scope, clientID string) (*IssuedTokens, error) {
	now := s.now().UTC()
	jti := uuid.New().String()

	sub := userID
	if sub == "" {
		sub = clientID
	}

	claims := jwt.MapClaims{
		"iss":       tokenIssuer,
		"sub":       sub,
		"aud":       serverID,
		"scope":     scope,
		"client_id": clientID,
		"jti":       jti,
		"iat":       now.Unix(),
		"exp":       now.Add(auth.AccessTokenTTL).Unix(),
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}

	refreshToken, err := generateOpaqueToken()
	if err != nil {
		return nil, err
	}

	record := &auth.Token{
		ID:               jti,
		ServerID:         serverID,
		UserID:           userID,
		ClientID:         clientID,
		Scope:            scope,
		RefreshTokenHash: hashRefreshToken(refreshToken),
		AccessExpiresAt:  now.Add(auth.AccessTokenTTL),
		RefreshExpiresAt: now.Add(auth.RefreshTokenTTL),
		CreatedAt:        now,
	}

	return &IssuedTokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(auth.AccessTokenTTL.Seconds()),
		Scope:        scope,
		Record:       record,
	}, nil
}

// ValidateAccessToken checks signature, expiry, audience, and the persisted
// revocation flag, in that order; the first failure short-circuits with its
// specific reason. An expired token reports whether a refresh token still
// exists via ExpiredTokenError.
func (s *TokenService) ValidateAccessToken(ctx context.Context, tokenString, serverID string) (*auth.Token, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && parsed != nil {
			return nil, &ExpiredTokenError{Refreshable: s.refreshable(ctx, parsed)}
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !parsed.Valid {
		return nil, ErrTokenMalformed
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTokenMalformed
	}

	aud, _ := claims["aud"].(string)
	if aud != serverID {
		return nil, ErrTokenAudienceMismatch
	}

	jti, _ := claims["jti"].(string)
	if jti == "" {
		return nil, ErrTokenMalformed
	}
	record, err := s.store.GetToken(ctx, jti)
	if err != nil {
		if errors.Is(err, auth.ErrTokenNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("looking up token: %w", err)
	}
	if record.IsRevoked() {
		return nil, ErrTokenRevoked
	}
	return record, nil
}

// refreshable reports whether the expired token's pair still has a live
// refresh token.
func (s *TokenService) refreshable(ctx context.Context, parsed *jwt.Token) bool {
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return false
	}
	record, err := s.store.GetToken(ctx, jti)
	if err != nil {
		return false
	}
	return !record.IsRevoked() && !record.RefreshExpired()
}

// Rotate revokes the given pair and mints a replacement bound to the same
// (server, user, scope, client). Revocation and the replacement insert
// commit together, so a refresh never leaves the user with neither pair;
// the old refresh token is never valid again, even if the new one goes
// unused.
func (s *TokenService) Rotate(ctx context.Context, old *auth.Token) (*IssuedTokens, error) {
	issued, err := s.mint(old.ServerID, old.UserID, old.Scope, old.ClientID)
	if err != nil {
		return nil, err
	}
	if err := s.store.RotateToken(ctx, old.ID, s.now().UTC(), issued.Record); err != nil {
		return nil, fmt.Errorf("rotating token: %w", err)
	}
	s.logger.Debug("token rotated", "server_id", old.ServerID, "old_jti", old.ID, "new_jti", issued.Record.ID)
	return issued, nil
}

// LookupRefreshToken resolves a presented refresh token value to its pair.
func (s *TokenService) LookupRefreshToken(ctx context.Context, refreshToken string) (*auth.Token, error) {
	record, err := s.store.GetTokenByRefreshHash(ctx, hashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, auth.ErrTokenNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("looking up refresh token: %w", err)
	}
	return record, nil
}
