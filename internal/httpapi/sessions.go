package httpapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/M4u2002/Amexing-Experience-sub004/internal/accounts"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/authz"
)

// sessionClaims is the JWT payload for an admin-panel session. The role claim
// is what the engine later treats as the asserted role, so it must only ever
// be written here, from a freshly authenticated account.
type sessionClaims struct {
	Role         string `json:"role"`
	RoleID       string `json:"roleId,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	DepartmentID string `json:"departmentId,omitempty"`
	jwt.RegisteredClaims
}

// Sessions issues and verifies signed session tokens.
type Sessions struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewSessions builds the token layer. The secret is mandatory.
func NewSessions(secret, issuer string, ttl time.Duration) (*Sessions, error) {
	if secret == "" {
		return nil, errors.New("httpapi: session secret is required")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Sessions{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Issue signs a token for an authenticated account.
func (s *Sessions) Issue(acc accounts.Account) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(s.ttl)
	claims := sessionClaims{
		Role:         acc.RoleName,
		RoleID:       acc.RoleID,
		ClientID:     acc.ClientID,
		DepartmentID: acc.DepartmentID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   acc.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Parse verifies a token and rebuilds the caller it was issued to.
func (s *Sessions) Parse(token string) (authz.Caller, error) {
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(s.issuer))
	if err != nil {
		return authz.Caller{}, fmt.Errorf("invalid session token: %w", authz.ErrUnauthenticated)
	}
	if !parsed.Valid || claims.Subject == "" {
		return authz.Caller{}, fmt.Errorf("invalid session token: %w", authz.ErrUnauthenticated)
	}
	return authz.Caller{
		ID:           claims.Subject,
		AssertedRole: claims.Role,
		RoleID:       claims.RoleID,
		ClientID:     claims.ClientID,
		DepartmentID: claims.DepartmentID,
	}, nil
}
