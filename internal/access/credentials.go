package access

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// AdminCredentials authenticates the administrator against a stored bcrypt hash
// and issues an admin token through the shared TokenService.
type AdminCredentials struct {
	email  string
	hash   []byte
	tokens *TokenService
}

// NewAdminCredentials creates the admin login verifier.
func NewAdminCredentials(email, passwordHash string, tokens *TokenService) *AdminCredentials {
	return &AdminCredentials{
		email:  strings.ToLower(strings.TrimSpace(email)),
		hash:   []byte(passwordHash),
		tokens: tokens,
	}
}

// HashPassword produces a bcrypt hash suitable for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("access: empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Login verifies email and password and returns a signed admin token.
func (a *AdminCredentials) Login(email, password string) (string, time.Time, error) {
	if a == nil || a.email == "" || len(a.hash) == 0 || a.tokens == nil {
		return "", time.Time{}, ErrUnauthorized
	}
	given := strings.ToLower(strings.TrimSpace(email))
	emailOK := subtle.ConstantTimeCompare([]byte(given), []byte(a.email)) == 1
	// bcrypt runs even on an email mismatch.
	passErr := bcrypt.CompareHashAndPassword(a.hash, []byte(password))
	if !emailOK || passErr != nil {
		return "", time.Time{}, ErrUnauthorized
	}
	return a.tokens.Issue(Caller{Role: RoleAdmin, ID: a.email})
}
