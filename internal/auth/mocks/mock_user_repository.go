// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

// Package mocks provides testify mocks for the auth interfaces.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	"github.com/authgate/authgate/internal/auth"
)

// MockUserRepository is a mock type for the UserRepository type
type MockUserRepository struct {
	mock.Mock
}

// Create provides a mock function with given fields: ctx, user
func (_m *MockUserRepository) Create(ctx context.Context, user *auth.User) error {
	ret := _m.Called(ctx, user)

	if len(ret) == 0 {
		panic("no return value specified for Create")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, *auth.User) error); ok {
		r0 = rf(ctx, user)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// GetByEmail provides a mock function with given fields: ctx, email
func (_m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	ret := _m.Called(ctx, email)
	return userResult(ret, "GetByEmail", func(rf any) (*auth.User, error, bool) {
		if f, ok := rf.(func(context.Context, string) (*auth.User, error)); ok {
			u, err := f(ctx, email)
			return u, err, true
		}
		return nil, nil, false
	})
}

// GetByUsername provides a mock function with given fields: ctx, username
func (_m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	ret := _m.Called(ctx, username)
	return userResult(ret, "GetByUsername", func(rf any) (*auth.User, error, bool) {
		if f, ok := rf.(func(context.Context, string) (*auth.User, error)); ok {
			u, err := f(ctx, username)
			return u, err, true
		}
		return nil, nil, false
	})
}

// UpdatePassword provides a mock function with given fields: ctx, id, passwordHash
func (_m *MockUserRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	ret := _m.Called(ctx, id, passwordHash)

	if len(ret) == 0 {
		panic("no return value specified for UpdatePassword")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, int64, string) error); ok {
		r0 = rf(ctx, id, passwordHash)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

func userResult(ret mock.Arguments, method string, call func(rf any) (*auth.User, error, bool)) (*auth.User, error) {
	if len(ret) == 0 {
		panic("no return value specified for " + method)
	}
	if u, err, ok := call(ret.Get(0)); ok {
		return u, err
	}

	var r0 *auth.User
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*auth.User)
	}
	return r0, ret.Error(1)
}

// NewMockUserRepository creates a new instance of MockUserRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockUserRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockUserRepository {
	m := &MockUserRepository{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
