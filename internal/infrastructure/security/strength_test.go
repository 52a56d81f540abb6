package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckStrength(t *testing.T) {
	tests := []struct {
		name     string
		password string
		username string
		email    string
		valid    bool
	}{
		{name: "strong password", password: "Tr0ub4dor&3", valid: true},
		{name: "three classes no symbol", password: "Abcdef12", valid: true},
		{name: "too short", password: "Ab1!", valid: false},
		{name: "only lowercase", password: "abcdefghij", valid: false},
		{name: "two classes", password: "abcdefg1234", valid: false},
		{name: "common password", password: "Password123", valid: false},
		{name: "common lowercase match", password: "LETMEIN!9x", username: "", email: "", valid: true},
		{
			name:     "password inside username",
			password: "Jsmith99!",
			username: "mrjsmith99!x",
			valid:    false,
		},
		{
			name:     "password inside email local part",
			password: "Anna2024!",
			email:    "xanna2024!y@school.example",
			valid:    false,
		},
		{
			name:     "email domain does not count",
			password: "School99!x",
			email:    "user@school99!x.example",
			valid:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := CheckStrength(tt.password, tt.username, tt.email)
			assert.Equal(t, tt.valid, res.Valid, "feedback: %v", res.Feedback)
			if !tt.valid {
				assert.NotEmpty(t, res.Feedback)
			}
		})
	}
}
