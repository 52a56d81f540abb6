package service

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"

	domainErrors "github.com/schoolcore/identity-service/internal/domain/errors"
	"github.com/schoolcore/identity-service/internal/domain/models"
	"github.com/schoolcore/identity-service/internal/domain/repository"
)

var (
	emailRe     = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	phoneRe     = regexp.MustCompile(`^\+?\d{10,15}$`)
	admissionRe = regexp.MustCompile(`^[A-Z0-9]{6,20}$`)
)

// StudentDirectory resolves an admission number to the owning user. The
// student-records system implements it; a nil directory disables admission
// lookup entirely.
type StudentDirectory interface {
	UserIDByAdmission(ctx context.Context, admission string) (uuid.UUID, error)
}

// IdentifierResolver classifies a raw login identifier and resolves it to a
// user account (C4).
type IdentifierResolver struct {
	users          repository.UserRepository
	directory      StudentDirectory
	blockedDomains map[string]struct{}
}

func NewIdentifierResolver(users repository.UserRepository, directory StudentDirectory, blockedDomains []string) *IdentifierResolver {
	blocked := make(map[string]struct{}, len(blockedDomains))
	for _, d := range blockedDomains {
		blocked[strings.ToLower(d)] = struct{}{}
	}
	return &IdentifierResolver{users: users, directory: directory, blockedDomains: blocked}
}

// Classify maps a raw identifier to its kind. Classification is purely
// syntactic; it never touches storage. Precedence is email, then phone, then
// admission number, then username.
func (r *IdentifierResolver) Classify(raw string) (models.IdentifierKind, string) {
	trimmed := strings.TrimSpace(raw)

	if strings.Contains(trimmed, "@") && emailRe.MatchString(trimmed) {
		return models.IdentifierEmail, strings.ToLower(trimmed)
	}

	if digits := normalizePhone(trimmed); phoneRe.MatchString(digits) {
		return models.IdentifierPhone, digits
	}

	upper := strings.ToUpper(trimmed)
	if admissionRe.MatchString(upper) && containsDigit(upper) {
		return models.IdentifierAdmission, upper
	}

	return models.IdentifierUsername, trimmed
}

// Resolve classifies and looks up the identifier. A blocked email domain is
// reported the same as an unknown account so probing reveals nothing.
func (r *IdentifierResolver) Resolve(ctx context.Context, raw string) (*models.User, models.IdentifierKind, error) {
	kind, normalized := r.Classify(raw)

	switch kind {
	case models.IdentifierEmail:
		if r.domainBlocked(normalized) {
			return nil, kind, domainErrors.ErrUserNotFound
		}
		user, err := r.users.GetByEmail(ctx, normalized)
		return user, kind, err

	case models.IdentifierPhone:
		user, err := r.users.GetByPhone(ctx, normalized)
		return user, kind, err

	case models.IdentifierAdmission:
		user, err := r.resolveAdmission(ctx, normalized)
		if err != nil {
			// Admission numbers and usernames overlap syntactically, so an
			// unknown admission falls through to a username lookup.
			user, uerr := r.users.GetByUsername(ctx, normalized)
			if uerr != nil {
				return nil, kind, err
			}
			return user, models.IdentifierUsername, nil
		}
		return user, kind, nil

	default:
		user, err := r.users.GetByUsername(ctx, normalized)
		return user, kind, err
	}
}

func (r *IdentifierResolver) resolveAdmission(ctx context.Context, admission string) (*models.User, error) {
	if r.directory == nil {
		return nil, domainErrors.ErrUserNotFound
	}
	userID, err := r.directory.UserIDByAdmission(ctx, admission)
	if err != nil {
		return nil, err
	}
	return r.users.GetByID(ctx, userID)
}

func (r *IdentifierResolver) domainBlocked(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	_, blocked := r.blockedDomains[email[at+1:]]
	return blocked
}

// normalizePhone strips everything but digits, keeping a leading plus.
func normalizePhone(raw string) string {
	var b strings.Builder
	for i, ch := range raw {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		} else if ch == '+' && i == 0 {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

func containsDigit(s string) bool {
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			return true
		}
	}
	return false
}
