// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

package auth

import "errors"

// Error kinds. Coded errors returned by this package wrap exactly one of these.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned by repositories when a unique constraint is violated.
	ErrDuplicate = errors.New("already exists")

	// ErrUnauthorized covers bad credentials and invalid or expired tokens.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidationFailed is returned when a registration request is rejected.
	ErrValidationFailed = errors.New("validation failed")

	// ErrDecode is returned when a token cannot be decoded or verified.
	ErrDecode = errors.New("token decode failed")
)

// Messages safe to show to clients. They never reveal which check failed.
const (
	MsgInvalidCredentials  = "incorrect username or password"
	MsgCouldNotValidate    = "could not validate credentials"
	MsgInvalidRegistration = "invalid registration request"
)
