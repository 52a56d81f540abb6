package security

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
)

func testTokenService(t *testing.T, accessTTL time.Duration) *TokenService {
	t.Helper()
	svc, err := NewTokenService(JWTConfig{
		Secret:          "unit-test-secret",
		Issuer:          "identity-service",
		Audience:        "schoolcore",
		AccessTokenTTL:  accessTTL,
		RefreshTokenTTL: time.Hour,
	}, testStore(t))
	require.NoError(t, err)
	return svc
}

func testUser() *models.User {
	return &models.User{ID: uuid.New(), Username: "jdoe"}
}

func TestIssuePairAndVerify(t *testing.T) {
	svc := testTokenService(t, 15*time.Minute)
	user := testUser()

	pair, err := svc.IssuePair(user, "session-key-1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	claims, err := svc.Verify(context.Background(), pair.Access, TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID)
	assert.Equal(t, "jdoe", claims.Username)
	assert.Equal(t, "session-key-1", claims.SessionKey)

	refreshClaims, err := svc.Verify(context.Background(), pair.Refresh, TokenRefresh)
	require.NoError(t, err)
	assert.Equal(t, "session-key-1", refreshClaims.SessionKey)
}

func TestClaimsCarrySuperuserFlag(t *testing.T) {
	svc := testTokenService(t, 15*time.Minute)
	admin := testUser()
	admin.IsSuperuser = true

	pair, err := svc.IssuePair(admin, "sk")
	require.NoError(t, err)

	claims, err := svc.Verify(context.Background(), pair.Access, TokenAccess)
	require.NoError(t, err)
	assert.True(t, claims.IsSuperuser)

	pair, err = svc.IssuePair(testUser(), "sk2")
	require.NoError(t, err)
	claims, err = svc.Verify(context.Background(), pair.Access, TokenAccess)
	require.NoError(t, err)
	assert.False(t, claims.IsSuperuser)
}

func TestVerifyRejectsKindConfusion(t *testing.T) {
	svc := testTokenService(t, 15*time.Minute)
	pair, err := svc.IssuePair(testUser(), "sk")
	require.NoError(t, err)

	// A refresh token must not pass as an access token, nor the reverse.
	_, err = svc.Verify(context.Background(), pair.Refresh, TokenAccess)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidToken)
	_, err = svc.Verify(context.Background(), pair.Access, TokenRefresh)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidToken)
}

func TestVerifyExpiredToken(t *testing.T) {
	svc := testTokenService(t, -time.Minute)
	pair, err := svc.IssuePair(testUser(), "sk")
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), pair.Access, TokenAccess)
	assert.ErrorIs(t, err, domainErrors.ErrExpiredToken)
}

func TestVerifyForeignSecret(t *testing.T) {
	svc := testTokenService(t, 15*time.Minute)
	other, err := NewTokenService(JWTConfig{
		Secret:          "a-different-secret",
		Issuer:          "identity-service",
		Audience:        "schoolcore",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	}, testStore(t))
	require.NoError(t, err)

	pair, err := other.IssuePair(testUser(), "sk")
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), pair.Access, TokenAccess)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidToken)
}

func TestRevokedRefreshTokenIsRejected(t *testing.T) {
	svc := testTokenService(t, 15*time.Minute)
	pair, err := svc.IssuePair(testUser(), "sk")
	require.NoError(t, err)

	claims, err := svc.Verify(context.Background(), pair.Refresh, TokenRefresh)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), claims))

	_, err = svc.Verify(context.Background(), pair.Refresh, TokenRefresh)
	assert.ErrorIs(t, err, domainErrors.ErrRevokedToken)
}

func TestRevokeDoesNotAffectAccessVerification(t *testing.T) {
	svc := testTokenService(t, 15*time.Minute)
	pair, err := svc.IssuePair(testUser(), "sk")
	require.NoError(t, err)

	refreshClaims, err := svc.Verify(context.Background(), pair.Refresh, TokenRefresh)
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(context.Background(), refreshClaims))

	// Access tokens stay valid until expiry; only the session check cuts
	// them off early.
	_, err = svc.Verify(context.Background(), pair.Access, TokenAccess)
	assert.NoError(t, err)
}
