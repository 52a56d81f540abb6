package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
	"github.com/schoolcore/identity-service/internal/infrastructure/kv"
)

// TokenKind distinguishes the two session-token families.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Claims is the signed payload of both access and refresh tokens.
type Claims struct {
	UserID      string    `json:"uid"`
	Username    string    `json:"uname,omitempty"`
	SessionKey  string    `json:"sk,omitempty"`
	IsSuperuser bool      `json:"su,omitempty"`
	Kind        TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// JWTConfig configures the token service.
type JWTConfig struct {
	Secret          string
	Issuer          string
	Audience        string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// TokenService mints and verifies session tokens. Refresh tokens are
// revocable through a deny-list keyed by jti with TTL covering the remaining
// token lifetime.
type TokenService struct {
	cfg   JWTConfig
	store *kv.Store
}

func NewTokenService(cfg JWTConfig, store *kv.Store) (*TokenService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret must be configured")
	}
	return &TokenService{cfg: cfg, store: store}, nil
}

// IssuePair mints an access + refresh pair bound to a session.
func (s *TokenService) IssuePair(user *models.User, sessionKey string) (*models.TokenPair, error) {
	access, err := s.mint(user, sessionKey, TokenAccess, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.mint(user, sessionKey, TokenRefresh, s.cfg.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}
	return &models.TokenPair{
		Access:    access,
		Refresh:   refresh,
		TokenType: "Bearer",
		ExpiresIn: int64(s.cfg.AccessTokenTTL.Seconds()),
	}, nil
}

func (s *TokenService) mint(user *models.User, sessionKey string, kind TokenKind, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:      user.ID.String(),
		Username:    user.Username,
		SessionKey:  sessionKey,
		IsSuperuser: user.IsSuperuser,
		Kind:        kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.cfg.Issuer,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Verify parses and validates a token of the expected kind, and for refresh
// tokens also consults the deny-list.
func (s *TokenService) Verify(ctx context.Context, tokenString string, kind TokenKind) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	}, jwt.WithIssuer(s.cfg.Issuer), jwt.WithAudience(s.cfg.Audience))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domainErrors.ErrExpiredToken
		}
		return nil, domainErrors.ErrInvalidToken
	}
	if !token.Valid || claims.Kind != kind {
		return nil, domainErrors.ErrInvalidToken
	}

	if kind == TokenRefresh {
		revoked, err := s.store.Exists(ctx, denyKey(claims.ID))
		if err != nil {
			return nil, fmt.Errorf("deny-list check: %w", err)
		}
		if revoked {
			return nil, domainErrors.ErrRevokedToken
		}
	}
	return claims, nil
}

// Revoke deny-lists a refresh token until its natural expiry.
func (s *TokenService) Revoke(ctx context.Context, claims *Claims) error {
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	return s.store.Set(ctx, denyKey(claims.ID), "revoked", ttl)
}

// RefreshTTL exposes the configured refresh lifetime.
func (s *TokenService) RefreshTTL() time.Duration { return s.cfg.RefreshTokenTTL }

func denyKey(jti string) string {
	return "token_denylist:" + jti
}
