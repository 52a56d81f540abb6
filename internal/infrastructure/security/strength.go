package security

import (
	"strings"
	"unicode"
)

// commonPasswords is a short deny-list of passwords seen everywhere. A real
// deployment would load a larger list from disk.
var commonPasswords = map[string]struct{}{
	"password":   {},
	"password1":  {},
	"password123": {},
	"12345678":   {},
	"123456789":  {},
	"qwerty123":  {},
	"letmein":    {},
	"welcome1":   {},
	"admin123":   {},
	"iloveyou":   {},
	"sunshine":   {},
	"school123":  {},
	"student123": {},
	"teacher123": {},
}

// StrengthResult reports which requirements a candidate password met.
type StrengthResult struct {
	Valid    bool     `json:"valid"`
	Feedback []string `json:"feedback,omitempty"`
}

// CheckStrength applies the platform password policy: length >= 8, at least
// three of {lower, upper, digit, symbol}, not a common password, and not a
// substring of the username or the email local part.
func CheckStrength(password, username, email string) StrengthResult {
	res := StrengthResult{Valid: true}

	if len(password) < 8 {
		res.Valid = false
		res.Feedback = append(res.Feedback, "password must be at least 8 characters long")
	}

	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	classes := 0
	for _, ok := range []bool{lower, upper, digit, symbol} {
		if ok {
			classes++
		}
	}
	if classes < 3 {
		res.Valid = false
		res.Feedback = append(res.Feedback, "password must use at least three of: lowercase, uppercase, digits, symbols")
	}

	if _, found := commonPasswords[strings.ToLower(password)]; found {
		res.Valid = false
		res.Feedback = append(res.Feedback, "password is too common")
	}

	lowered := strings.ToLower(password)
	if username != "" && strings.Contains(strings.ToLower(username), lowered) {
		res.Valid = false
		res.Feedback = append(res.Feedback, "password must not be part of the username")
	}
	if email != "" {
		local := strings.ToLower(strings.SplitN(email, "@", 2)[0])
		if local != "" && strings.Contains(local, lowered) {
			res.Valid = false
			res.Feedback = append(res.Feedback, "password must not be part of the email address")
		}
	}

	return res
}
