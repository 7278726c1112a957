// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

package auth

import (
	"context"
	"time"
)

// UserRegistered is emitted after a new account has been stored.
type UserRegistered struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        *string   `json:"email,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// EventPublisher delivers account events to other services.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, event UserRegistered) error
}

type nopPublisher struct{}

func (nopPublisher) PublishUserRegistered(context.Context, UserRegistered) error { return nil }
