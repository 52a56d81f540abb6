package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
)

type stubDirectory struct {
	byAdmission map[string]uuid.UUID
}

func (d *stubDirectory) UserIDByAdmission(_ context.Context, admission string) (uuid.UUID, error) {
	if id, ok := d.byAdmission[admission]; ok {
		return id, nil
	}
	return uuid.Nil, domainErrors.ErrUserNotFound
}

func TestClassify(t *testing.T) {
	r := NewIdentifierResolver(newMemUserRepo(), nil, nil)

	tests := []struct {
		raw        string
		kind       models.IdentifierKind
		normalized string
	}{
		{"Jane.Doe@Example.COM", models.IdentifierEmail, "jane.doe@example.com"},
		{"  jdoe@school.edu ", models.IdentifierEmail, "jdoe@school.edu"},
		{"+254712345678", models.IdentifierPhone, "+254712345678"},
		{"0712 345 678 90", models.IdentifierPhone, "071234567890"},
		{"(254) 712-345-678", models.IdentifierPhone, "254712345678"},
		{"adm2024001", models.IdentifierAdmission, "ADM2024001"},
		{"STU99432", models.IdentifierAdmission, "STU99432"},
		// All-letter strings never classify as admission numbers.
		{"JOHNDOE", models.IdentifierUsername, "JOHNDOE"},
		{"jdoe", models.IdentifierUsername, "jdoe"},
		{"j.doe", models.IdentifierUsername, "j.doe"},
		// Too short for a phone, no digits required pattern.
		{"12345", models.IdentifierUsername, "12345"},
		// Malformed email falls back to username.
		{"not-an-email@", models.IdentifierUsername, "not-an-email@"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			kind, normalized := r.Classify(tt.raw)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.normalized, normalized)
		})
	}
}

func TestResolveByEmailAndPhone(t *testing.T) {
	phone := "+254712345678"
	user := &models.User{ID: uuid.New(), Username: "jdoe", Email: "jdoe@school.edu", Phone: &phone, IsActive: true}
	r := NewIdentifierResolver(newMemUserRepo(user), nil, nil)
	ctx := context.Background()

	got, kind, err := r.Resolve(ctx, "JDoe@School.EDU")
	require.NoError(t, err)
	assert.Equal(t, models.IdentifierEmail, kind)
	assert.Equal(t, user.ID, got.ID)

	got, kind, err = r.Resolve(ctx, "+254 712 345 678")
	require.NoError(t, err)
	assert.Equal(t, models.IdentifierPhone, kind)
	assert.Equal(t, user.ID, got.ID)
}

func TestResolveBlockedDomain(t *testing.T) {
	user := &models.User{ID: uuid.New(), Username: "jdoe", Email: "jdoe@burner.example", IsActive: true}
	r := NewIdentifierResolver(newMemUserRepo(user), nil, []string{"burner.example"})

	// A blocked domain looks exactly like an unknown account.
	_, _, err := r.Resolve(context.Background(), "jdoe@burner.example")
	assert.ErrorIs(t, err, domainErrors.ErrUserNotFound)
}

func TestResolveByAdmissionNumber(t *testing.T) {
	user := &models.User{ID: uuid.New(), Username: "student1", Email: "s1@school.edu", IsActive: true}
	dir := &stubDirectory{byAdmission: map[string]uuid.UUID{"ADM2024001": user.ID}}
	r := NewIdentifierResolver(newMemUserRepo(user), dir, nil)

	got, kind, err := r.Resolve(context.Background(), "adm2024001")
	require.NoError(t, err)
	assert.Equal(t, models.IdentifierAdmission, kind)
	assert.Equal(t, user.ID, got.ID)
}

func TestResolveAdmissionMissFallsBackToUsername(t *testing.T) {
	// Usernames and admission numbers overlap syntactically; the admission
	// lookup failing must not hide a matching username.
	user := &models.User{ID: uuid.New(), Username: "AB12345", Email: "ab@school.edu", IsActive: true}
	dir := &stubDirectory{byAdmission: map[string]uuid.UUID{}}
	r := NewIdentifierResolver(newMemUserRepo(user), dir, nil)

	got, kind, err := r.Resolve(context.Background(), "ab12345")
	require.NoError(t, err)
	assert.Equal(t, models.IdentifierUsername, kind)
	assert.Equal(t, user.ID, got.ID)
}

func TestResolveWithoutDirectory(t *testing.T) {
	r := NewIdentifierResolver(newMemUserRepo(), nil, nil)

	_, kind, err := r.Resolve(context.Background(), "ADM2024001")
	assert.Equal(t, models.IdentifierAdmission, kind)
	assert.ErrorIs(t, err, domainErrors.ErrUserNotFound)
}
