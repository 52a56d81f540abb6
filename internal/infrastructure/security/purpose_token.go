package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/infrastructure/kv"
	"github.com/schoolcore/identity-service/internal/utils/random"
)

// Purposes for single-use tokens.
const (
	PurposePasswordReset     = "password_reset"
	PurposeEmailVerification = "email_verification"
)

// PurposeTokenService mints and validates single-use HMAC tokens of the form
//
//	user_id:purpose:expiry:nonce:signature
//
// Consumption is tracked in the KV store with TTL equal to the remaining
// lifetime, so a token validates exactly once.
type PurposeTokenService struct {
	secret []byte
	store  *kv.Store
}

func NewPurposeTokenService(secret string, store *kv.Store) *PurposeTokenService {
	return &PurposeTokenService{secret: []byte(secret), store: store}
}

// Generate mints a token for user and purpose, valid for ttl.
func (s *PurposeTokenService) Generate(userID uuid.UUID, purpose string, ttl time.Duration) (string, error) {
	nonce, err := random.Nonce(8)
	if err != nil {
		return "", err
	}
	expiry := time.Now().Add(ttl).Unix()
	payload := fmt.Sprintf("%s:%s:%d:%s", userID, purpose, expiry, nonce)
	return payload + ":" + s.sign(payload), nil
}

// TokenInfo is returned from a successful validation.
type TokenInfo struct {
	UserID  uuid.UUID
	Purpose string
	Expiry  time.Time
}

// Validate parses the five fields, checks purpose, optional user binding,
// expiry, and the signature in constant time, then consumes the token.
func (s *PurposeTokenService) Validate(ctx context.Context, token, purpose string, userID *uuid.UUID) (*TokenInfo, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 5 {
		return nil, domainErrors.ErrInvalidToken
	}
	rawUser, rawPurpose, rawExpiry, nonce, signature := parts[0], parts[1], parts[2], parts[3], parts[4]

	if rawPurpose != purpose {
		return nil, domainErrors.ErrInvalidToken
	}

	tokenUser, err := uuid.Parse(rawUser)
	if err != nil {
		return nil, domainErrors.ErrInvalidToken
	}
	if userID != nil && *userID != tokenUser {
		return nil, domainErrors.ErrInvalidToken
	}

	expiryUnix, err := strconv.ParseInt(rawExpiry, 10, 64)
	if err != nil {
		return nil, domainErrors.ErrInvalidToken
	}
	expiry := time.Unix(expiryUnix, 0)
	if time.Now().After(expiry) {
		return nil, domainErrors.ErrExpiredToken
	}

	payload := fmt.Sprintf("%s:%s:%s:%s", rawUser, rawPurpose, rawExpiry, nonce)
	if !hmac.Equal([]byte(s.sign(payload)), []byte(signature)) {
		return nil, domainErrors.ErrInvalidToken
	}

	// Single use: first consumer wins the SetNX, everyone after is rejected.
	consumeKey := "purpose_token_used:" + hashToken(token)
	ok, err := s.store.SetNX(ctx, consumeKey, "1", time.Until(expiry))
	if err != nil {
		return nil, fmt.Errorf("purpose token consume: %w", err)
	}
	if !ok {
		return nil, domainErrors.ErrRevokedToken
	}

	return &TokenInfo{UserID: tokenUser, Purpose: rawPurpose, Expiry: expiry}, nil
}

func (s *PurposeTokenService) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
