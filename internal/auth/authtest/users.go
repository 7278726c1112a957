// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

// Package authtest provides in-memory collaborators for auth tests.
package authtest

import (
	"context"
	"strings"
	"sync"

	"github.com/authgate/authgate/internal/auth"
)

// MemoryUsers is an auth.UserRepository backed by a map. Usernames are
// unique and case-sensitive; emails are unique ignoring case.
type MemoryUsers struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*auth.User
}

// NewMemoryUsers returns an empty repository.
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{byID: map[int64]*auth.User{}}
}

// Create stores a copy of user and assigns its ID.
func (m *MemoryUsers) Create(_ context.Context, user *auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Username == user.Username || sameEmail(u.Email, user.Email) {
			return auth.ErrDuplicate
		}
	}
	m.nextID++
	user.ID = m.nextID
	stored := *user
	m.byID[user.ID] = &stored
	return nil
}

// GetByUsername returns a copy of the user named username.
func (m *MemoryUsers) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	return m.find(func(u *auth.User) bool { return u.Username == username })
}

// GetByEmail returns a copy of the user with email.
func (m *MemoryUsers) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	return m.find(func(u *auth.User) bool { return sameEmail(u.Email, &email) })
}

// UpdatePassword replaces the stored digest.
func (m *MemoryUsers) UpdatePassword(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

// Len returns the number of stored users.
func (m *MemoryUsers) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func (m *MemoryUsers) find(match func(*auth.User) bool) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, auth.ErrNotFound
}

func sameEmail(a, b *string) bool {
	return a != nil && b != nil && strings.EqualFold(*a, *b)
}

// RecordingPublisher collects published events.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []auth.UserRegistered
	Err    error
}

// PublishUserRegistered records event and returns p.Err.
func (p *RecordingPublisher) PublishUserRegistered(_ context.Context, event auth.UserRegistered) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.Err
}

// Events returns a copy of the recorded events.
func (p *RecordingPublisher) Events() []auth.UserRegistered {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]auth.UserRegistered(nil), p.events...)
}

var (
	_ auth.UserRepository = (*MemoryUsers)(nil)
	_ auth.EventPublisher = (*RecordingPublisher)(nil)
)
