package postgres

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
)

func TestVerifiedColumn(t *testing.T) {
	tests := []struct {
		channel string
		column  string
	}{
		{models.VerificationChannelEmail, "email_verified"},
		{models.VerificationChannelSMS, "phone_verified"},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			column, err := verifiedColumn(tt.channel)
			require.NoError(t, err)
			assert.Equal(t, tt.column, column)
		})
	}

	_, err := verifiedColumn("carrier-pigeon")
	assert.ErrorIs(t, err, domainErrors.ErrInvalidInput)
}

func TestSetVerifiedRejectsUnknownChannelBeforeQuerying(t *testing.T) {
	// A nil pool would panic on any query, so reaching the error proves the
	// channel is validated up front.
	repo := NewUserRepositoryPostgres(nil)
	err := repo.SetVerified(context.Background(), uuid.New(), "carrier-pigeon")
	assert.ErrorIs(t, err, domainErrors.ErrInvalidInput)
}
