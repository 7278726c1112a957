// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultTokenTTL is the lifetime of an access token when neither the caller
// nor the configuration chooses one.
const DefaultTokenTTL = 15 * time.Minute

// MinSecretLength is the shortest accepted signing secret, in bytes.
const MinSecretLength = 32

// TokenType is the OAuth2 token type reported alongside issued tokens.
const TokenType = "bearer"

// Decode failure reasons, reported by DecodeReason.
const (
	ReasonExpired      = "expired"
	ReasonSignature    = "signature"
	ReasonMalformed    = "malformed"
	ReasonMissingClaim = "missing_claim"
	ReasonOther        = "other"
)

// TokenConfig is the immutable signing configuration shared by every request.
type TokenConfig struct {
	Secret    []byte
	Algorithm string
	TTL       time.Duration
}

// Claims is the identity carried by an access token.
// HasUserID distinguishes an absent id claim from id 0.
type Claims struct {
	Subject   string
	UserID    int64
	HasUserID bool
	ExpiresAt time.Time
	IssuedAt  time.Time
	TokenID   string
}

// IssuedToken is a freshly signed access token.
type IssuedToken struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
}

// jwtClaims is the wire form: {"sub", "id", "exp", "iat", "jti"}.
type jwtClaims struct {
	UserID *int64 `json:"id,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies access tokens with a single HMAC key.
type TokenCodec struct {
	secret []byte
	method *jwt.SigningMethodHMAC
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// TokenOption configures a TokenCodec.
type TokenOption func(*TokenCodec)

// WithClock overrides the wall clock used for issuing and expiry checks.
func WithClock(now func() time.Time) TokenOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewTokenCodec creates a codec from cfg. Only HMAC algorithms are accepted.
func NewTokenCodec(cfg TokenConfig, opts ...TokenOption) (*TokenCodec, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("min_length", MinSecretLength).
			Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}
	method, ok := jwt.GetSigningMethod(cfg.Algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("algorithm", cfg.Algorithm).
			Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	c := &TokenCodec{
		secret: append([]byte(nil), cfg.Secret...),
		method: method,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
		jwt.WithLeeway(0),
	)
	return c, nil
}

// TTL returns the default token lifetime.
func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

// Algorithm returns the signing algorithm name.
func (c *TokenCodec) Algorithm() string {
	return c.method.Alg()
}

// Issue signs a token for the user. A non-positive ttl selects the default.
func (c *TokenCodec) Issue(username string, userID int64, ttl time.Duration) (*IssuedToken, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	claims := Claims{
		Subject:   username,
		UserID:    userID,
		HasUserID: true,
		ExpiresAt: c.now().Add(ttl),
	}
	token, err := c.Encode(claims)
	if err != nil {
		return nil, err
	}
	return &IssuedToken{
		AccessToken: token,
		TokenType:   TokenType,
		ExpiresAt:   jwt.NewNumericDate(claims.ExpiresAt).Time,
	}, nil
}

// Encode signs claims. A zero ExpiresAt is replaced by now plus the default TTL;
// IssuedAt and TokenID are always stamped fresh.
func (c *TokenCodec) Encode(claims Claims) (string, error) {
	now := c.now()
	if claims.ExpiresAt.IsZero() {
		claims.ExpiresAt = now.Add(c.ttl)
	}

	wire := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        ulid.Make().String(),
		},
	}
	if claims.HasUserID {
		id := claims.UserID
		wire.UserID = &id
	}

	signed, err := jwt.NewWithClaims(c.method, wire).SignedString(c.secret)
	if err != nil {
		return "", oops.Code("TOKEN_ENCODE_FAILED").With("algorithm", c.method.Alg()).Wrap(err)
	}
	return signed, nil
}

// Decode verifies the signature, algorithm and expiry of token and returns its
// claims. Every failure wraps ErrDecode. Missing subject or id is not a
// failure here; see Claims.Complete.
func (c *TokenCodec) Decode(token string) (Claims, error) {
	var wire jwtClaims
	_, err := c.parser.ParseWithClaims(token, &wire, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return Claims{}, oops.Code("TOKEN_DECODE_FAILED").
			With("reason", DecodeReason(err)).
			Wrap(fmt.Errorf("%w: %w", ErrDecode, err))
	}

	claims := Claims{
		Subject: wire.Subject,
		TokenID: wire.ID,
	}
	if wire.UserID != nil {
		claims.UserID = *wire.UserID
		claims.HasUserID = true
	}
	if wire.ExpiresAt != nil {
		claims.ExpiresAt = wire.ExpiresAt.Time
	}
	if wire.IssuedAt != nil {
		claims.IssuedAt = wire.IssuedAt.Time
	}
	return claims, nil
}

// Complete reports whether the claims name both a subject and a user id.
func (c Claims) Complete() bool {
	return c.Subject != "" && c.HasUserID
}

// DecodeReason classifies a decode error for logs and metrics.
func DecodeReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ReasonSignature
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return ReasonMissingClaim
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	default:
		return ReasonOther
	}
}
