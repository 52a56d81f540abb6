package security

import (
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixClock(t *testing.T, at time.Time) {
	t.Helper()
	timeNow = func() time.Time { return at }
	t.Cleanup(func() { timeNow = time.Now })
}

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestGenerateSecret(t *testing.T) {
	svc := NewTOTPService("SchoolCore")

	secret, url, err := svc.GenerateSecret("jdoe@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, secret)
	assert.Contains(t, url, "otpauth://totp/")
	assert.Contains(t, url, "SchoolCore")
}

func TestValidateCode(t *testing.T) {
	svc := NewTOTPService("SchoolCore")
	secret, _, err := svc.GenerateSecret("jdoe@example.com")
	require.NoError(t, err)

	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	fixClock(t, now)

	assert.True(t, svc.ValidateCode(secret, codeAt(t, secret, now)))
	assert.False(t, svc.ValidateCode(secret, "000000"))
	assert.False(t, svc.ValidateCode(secret, "not-a-code"))
}

func TestValidateCodeAllowsOnePeriodOfSkew(t *testing.T) {
	svc := NewTOTPService("SchoolCore")
	secret, _, err := svc.GenerateSecret("jdoe@example.com")
	require.NoError(t, err)

	now := time.Date(2025, 3, 14, 9, 27, 0, 0, time.UTC)
	fixClock(t, now)

	assert.True(t, svc.ValidateCode(secret, codeAt(t, secret, now.Add(-30*time.Second))))
	assert.True(t, svc.ValidateCode(secret, codeAt(t, secret, now.Add(30*time.Second))))
	assert.False(t, svc.ValidateCode(secret, codeAt(t, secret, now.Add(-90*time.Second))))
}
