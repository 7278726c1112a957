// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// DefaultCookieName is the cookie that carries the access token.
const DefaultCookieName = "access_token"

// TokenSource selects where the resolver looks for a token.
type TokenSource string

// Token sources.
const (
	SourceCookie TokenSource = "cookie"
	SourceBearer TokenSource = "bearer"
	SourceAny    TokenSource = "any" // cookie first, then Authorization header
)

// Valid reports whether s names a known source.
func (s TokenSource) Valid() bool {
	switch s {
	case SourceCookie, SourceBearer, SourceAny:
		return true
	default:
		return false
	}
}

// Identity is the caller resolved from a token. It lives for one request.
type Identity struct {
	Username string
	UserID   int64
	TokenID  string
}

// SessionResolver resolves inbound requests to identities.
type SessionResolver struct {
	codec      *TokenCodec
	source     TokenSource
	cookieName string
}

// NewSessionResolver creates a resolver. Empty source and cookieName select
// SourceAny and DefaultCookieName.
func NewSessionResolver(codec *TokenCodec, source TokenSource, cookieName string) (*SessionResolver, error) {
	if codec == nil {
		return nil, oops.Code("SESSION_RESOLVER_INVALID").Errorf("token codec is required")
	}
	if source == "" {
		source = SourceAny
	}
	if !source.Valid() {
		return nil, oops.Code("SESSION_RESOLVER_INVALID").
			With("source", string(source)).
			Errorf("unknown token source %q", source)
	}
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &SessionResolver{codec: codec, source: source, cookieName: cookieName}, nil
}

// CookieName returns the name of the session cookie.
func (r *SessionResolver) CookieName() string {
	return r.cookieName
}

// Resolve returns the caller's identity, or nil for an anonymous caller.
// A token that fails to decode is an ErrUnauthorized error; a token whose
// claims lack a subject or user id resolves to nil, the same as no token.
func (r *SessionResolver) Resolve(req *http.Request) (*Identity, error) {
	token := r.extract(req)
	if token == "" {
		return nil, nil
	}

	claims, err := r.codec.Decode(token)
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_TOKEN").
			With("reason", DecodeReason(err)).
			Wrap(ErrUnauthorized)
	}
	if !claims.Complete() {
		return nil, nil
	}

	return &Identity{
		Username: claims.Subject,
		UserID:   claims.UserID,
		TokenID:  claims.TokenID,
	}, nil
}

// Require is Resolve for endpoints that need an authenticated caller:
// an anonymous result becomes ErrUnauthorized.
func (r *SessionResolver) Require(req *http.Request) (*Identity, error) {
	id, err := r.Resolve(req)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, oops.Code("AUTH_REQUIRED").Wrap(ErrUnauthorized)
	}
	return id, nil
}

func (r *SessionResolver) extract(req *http.Request) string {
	if r.source != SourceBearer {
		if c, err := req.Cookie(r.cookieName); err == nil && c.Value != "" {
			return strings.TrimPrefix(c.Value, "Bearer ")
		}
	}
	if r.source != SourceCookie {
		return bearerToken(req.Header.Get("Authorization"))
	}
	return ""
}

// bearerToken extracts the token from an Authorization header value.
// Other schemes yield "".
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by WithIdentity, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
