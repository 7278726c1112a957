// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("authgate/auth")

// dummyPassword is hashed once per Service so logins for unknown users still
// pay for a real verification against a digest of the configured algorithm.
const dummyPassword = "authgate-timing-equalizer"

// fallbackDummyHash is used only if hashing dummyPassword fails.
//
//nolint:gosec // G101: not a credential, never matches any password.
const fallbackDummyHash = "$2a$10$AAAAAAAAAAAAAAAAAAAAAOJqnh5yPDVR.DZpHOHmoyIPYyK7xYoBa"

// Service provides login and registration.
type Service struct {
	users  UserRepository
	hasher PasswordHasher
	codec  *TokenCodec
	events EventPublisher
	logger *slog.Logger
	clock  func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithEventPublisher sets where registration events go. Defaults to discarding them.
func WithEventPublisher(p EventPublisher) ServiceOption {
	return func(s *Service) { s.events = p }
}

// WithServiceClock overrides the clock used for event timestamps.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.clock = now }
}

// NewAuthService creates a new Service. All dependencies are required.
func NewAuthService(users UserRepository, hasher PasswordHasher, codec *TokenCodec, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("users repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	}
	if codec == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("token codec is required")
	}

	s := &Service{
		users:  users,
		hasher: hasher,
		codec:  codec,
		events: nopPublisher{},
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("logger is required")
	}
	if s.events == nil {
		s.events = nopPublisher{}
	}
	return s, nil
}

// Codec returns the token codec the service issues with.
func (s *Service) Codec() *TokenCodec {
	return s.codec
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPassword)
		if err != nil || hash == "" {
			s.dummyHash = fallbackDummyHash
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

// Login verifies the credentials and issues an access token that lives for
// ttl, or the codec default when ttl is not positive.
// Unknown usernames, wrong passwords, unreadable digests and inactive accounts
// all fail with the same AUTH_INVALID_CREDENTIALS error.
func (s *Service) Login(ctx context.Context, form LoginForm, ttl time.Duration) (token *IssuedToken, err error) {
	ctx, span := tracer.Start(ctx, "auth.login")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "login failed")
		}
		span.End()
	}()

	user, lookupErr := s.users.GetByUsername(ctx, form.Username())

	var targetHash string
	userExists := false
	switch {
	case lookupErr == nil:
		targetHash = user.PasswordHash
		userExists = true
	case errors.Is(lookupErr, ErrNotFound):
		targetHash = s.dummy()
	default:
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get user by username").
			Wrap(lookupErr)
	}

	// Always verify so unknown users cost the same as wrong passwords.
	valid, verifyErr := s.hasher.Verify(form.Password(), targetHash)
	if verifyErr != nil && userExists {
		s.logger.WarnContext(ctx, "stored password digest could not be verified",
			"user_id", user.ID,
			"error", verifyErr,
		)
	}
	if !userExists || !valid || verifyErr != nil {
		return nil, invalidCredentials()
	}
	if !user.IsActive {
		s.logger.InfoContext(ctx, "login refused for inactive account", "user_id", user.ID)
		return nil, invalidCredentials()
	}

	span.SetAttributes(attribute.Int64("user.id", user.ID))

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradePassword(ctx, user, form.Password())
	}

	token, err = s.codec.Issue(user.Username, user.ID, ttl)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue token").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "login succeeded",
		"user_id", user.ID,
		"expires_at", token.ExpiresAt,
	)
	return token, nil
}

// upgradePassword re-hashes with current parameters. Failures are logged and
// never fail the login.
func (s *Service) upgradePassword(ctx context.Context, user *User, password string) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to rehash password", "user_id", user.ID, "error", err)
		return
	}
	if err := s.users.UpdatePassword(ctx, user.ID, newHash); err != nil {
		s.logger.WarnContext(ctx, "failed to store upgraded password hash", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = newHash
}

// Register creates an active account. A password confirmation mismatch, a
// taken username or a taken email all fail with the same
// AUTH_REGISTRATION_INVALID error, and nothing is written in that case.
func (s *Service) Register(ctx context.Context, form RegistrationForm) (user *User, err error) {
	ctx, span := tracer.Start(ctx, "auth.register", trace.WithAttributes(
		attribute.Bool("registration.has_email", form.Email() != nil),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "registration failed")
		}
		span.End()
	}()

	if !form.PasswordsMatch() {
		return nil, invalidRegistration("password_confirm", nil)
	}

	if err := s.ensureAvailable(ctx, "username", form.Username(), s.users.GetByUsername); err != nil {
		return nil, err
	}
	if email := form.Email(); email != nil {
		if err := s.ensureAvailable(ctx, "email", *email, s.users.GetByEmail); err != nil {
			return nil, err
		}
	}

	hash, err := s.hasher.Hash(form.Password())
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err = NewUser(form.Username(), form.Email(), form.FirstName(), form.LastName(), hash)
	if err != nil {
		return nil, invalidRegistration("username", err)
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// Lost a race with a concurrent registration.
			return nil, invalidRegistration("unique", nil)
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	span.SetAttributes(attribute.Int64("user.id", user.ID))
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)

	event := UserRegistered{
		ID:           user.ID,
		Username:     user.Username,
		Email:        user.Email,
		RegisteredAt: s.clock().UTC(),
	}
	if err := s.events.PublishUserRegistered(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish registration event", "user_id", user.ID, "error", err)
	}

	return user, nil
}

func (s *Service) ensureAvailable(
	ctx context.Context,
	field, value string,
	lookup func(context.Context, string) (*User, error),
) error {
	_, err := lookup(ctx, value)
	switch {
	case err == nil:
		return invalidRegistration(field, nil)
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "check "+field).
			Wrap(err)
	}
}
