// Package access resolves caller identities and decides which appointments
// and lifecycle actions each role may touch.
package access

import (
	"context"
	"strings"
)

// Role is the kind of actor behind a request.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// ParseRole normalizes raw into a known role.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RolePatient:
		return RolePatient, true
	case RoleDoctor:
		return RoleDoctor, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

// Caller is a resolved identity.
type Caller struct {
	Role Role   `json:"role"`
	ID   string `json:"id"`
}

// Valid reports whether c carries a known role and a subject id.
func (c Caller) Valid() bool {
	_, ok := ParseRole(string(c.Role))
	return ok && c.ID != ""
}

type callerKey struct{}

// WithCaller stores c on ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the caller placed by the authentication middleware.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
