// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

// Package auth provides authentication primitives for AuthGate.
//
// # Domain Types
//
// Input values are constructed once and never mutated:
//   - NewLoginForm - username and password submitted for login
//   - NewRegistrationForm - a validated registration request
//   - NewUser - a User with validated username and password hash
//
// Direct struct initialization of User bypasses validation. Repository
// implementations receive pre-validated users from NewUser.
//
// # Tokens and Sessions
//
// TokenCodec signs and verifies JWT access tokens. SessionResolver turns an
// inbound request into an Identity, or nil for anonymous callers. Sessions are
// stateless: nothing about an issued token is stored server-side.
//
// # Services
//
// Service coordinates login and registration. It is created with
// NewAuthService, which validates its dependencies.
//
// # Errors
//
// Every error returned by this package wraps one of the sentinel kinds
// (ErrNotFound, ErrUnauthorized, ErrValidationFailed, ErrDecode, ErrDuplicate)
// so callers can classify it with errors.Is.
package auth
