package access

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims minted for every role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Resolver turns a bearer token into a Caller.
type Resolver interface {
	Resolve(token string) (Caller, error)
}

// TokenService issues and validates HS256 tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewTokenService creates a token service. An empty secret makes every token invalid.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: "medicarex",
		now:    time.Now,
	}
}

// Issue signs a token for c and returns it with its expiry.
func (s *TokenService) Issue(c Caller) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, errors.New("access: token secret not configured")
	}
	if !c.Valid() {
		return "", time.Time{}, fmt.Errorf("access: cannot issue token for %+v", c)
	}
	now := s.now()
	expires := now.Add(s.ttl)
	claims := Claims{
		Role: string(c.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("access: sign token: %w", err)
	}
	return signed, expires, nil
}

// Resolve validates token and returns its caller. Any failure is ErrUnauthorized.
func (s *TokenService) Resolve(token string) (Caller, error) {
	if len(s.secret) == 0 || token == "" {
		return Caller{}, ErrUnauthorized
	}
	claims := Claims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return Caller{}, ErrUnauthorized
	}
	role, ok := ParseRole(claims.Role)
	if !ok || claims.Subject == "" {
		return Caller{}, ErrUnauthorized
	}
	return Caller{Role: role, ID: claims.Subject}, nil
}
