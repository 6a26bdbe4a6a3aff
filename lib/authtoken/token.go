// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package authtoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/castdeck/castdeck/lib/clock"
)

// Issuer is the iss claim carried by every Castdeck token.
const Issuer = "castdeck"

// DefaultTTL is the token lifetime used when a caller passes zero.
const DefaultTTL = 24 * time.Hour

// MinSecretSize is the smallest HMAC secret Mint and NewVerifier accept.
const MinSecretSize = 32

// Errors returned by Mint and Verify.
var (
	ErrSecretTooShort = errors.New("authtoken: secret too short")
	ErrInvalidToken   = errors.New("authtoken: invalid token")
	ErrTokenExpired   = errors.New("authtoken: token has expired")
	ErrTokenRevoked   = errors.New("authtoken: token has been revoked")
)

// Claims is the JWT payload. Subject names the holder (a panel, a
// script, a remote operator) for logging; the worker grants every
// verified token the same access.
type Claims struct {
	jwt.RegisteredClaims
}

// Mint signs a token for subject valid for ttl from now. A zero ttl
// means DefaultTTL.
func Mint(secret []byte, subject string, ttl time.Duration, now time.Time) (string, *Claims, error) {
	if len(secret) < MinSecretSize {
		return "", nil, ErrSecretTooShort
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", nil, fmt.Errorf("authtoken: signing token: %w", err)
	}
	return signed, claims, nil
}

// Verifier checks tokens against one secret and a revocation list.
type Verifier struct {
	secret    []byte
	clock     clock.Clock
	blacklist *Blacklist
	parser    *jwt.Parser
}

// NewVerifier creates a verifier for secret. Expiry is evaluated
// against clk.
func NewVerifier(secret []byte, clk clock.Clock) (*Verifier, error) {
	if len(secret) < MinSecretSize {
		return nil, ErrSecretTooShort
	}
	return &Verifier{
		secret:    secret,
		clock:     clk,
		blacklist: NewBlacklist(),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(clk.Now),
		),
	}, nil
}

// Blacklist returns the verifier's revocation list.
func (v *Verifier) Blacklist() *Blacklist { return v.blacklist }

// Verify parses and validates token. Every failure wraps one of
// ErrInvalidToken, ErrTokenExpired, or ErrTokenRevoked.
func (v *Verifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrInvalidToken)
	}
	if v.blacklist.IsRevoked(claims.ID) {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Revoke blacklists a verified token until its natural expiry and
// drops blacklist entries that have already expired.
func (v *Verifier) Revoke(claims *Claims) {
	now := v.clock.Now()
	v.blacklist.Cleanup(now)
	expiresAt := now
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	v.blacklist.Revoke(claims.ID, expiresAt)
}

// Authenticate verifies token and returns the token's subject.
func (v *Verifier) Authenticate(_ context.Context, token string) (string, error) {
	claims, err := v.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
