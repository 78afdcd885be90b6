// Package auth is the concrete backing of the *Auth* collaborator spec.md
// treats as external (authenticate(token) -> principal). It verifies a
// JWT bearer token using JWT_SECRET (HS256), grounded on
// driftlessaf-go-driftlessaf's golang-jwt/jwt/v5 dependency.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/craftastic-dev/orchestrator/internal/errs"
)

// Principal is the authenticated identity carried through a request —
// everything downstream (ownership checks in the HTTP handlers and in
// PtyAttachPipeline) keys off UserID.
type Principal struct {
	UserID string
}

type claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Mint issues a token for userID — used by tests and by any out-of-band
// session bootstrap; production token issuance belongs to the external Auth
// collaborator, not this core.
func (a *Authenticator) Mint(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(a.secret)
}

// Authenticate verifies token and extracts the Principal (spec §4.5 step 1).
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Principal, error) {
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		return nil, errs.New(errs.Unauthenticated, "token is required")
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, errs.Wrap(errs.Unauthenticated, "invalid token", err)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || c.UserID == "" {
		return nil, errs.New(errs.Unauthenticated, "token missing user_id claim")
	}

	return &Principal{UserID: c.UserID}, nil
}
