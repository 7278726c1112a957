// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	"github.com/authgate/authgate/internal/auth"
)

// MockEventPublisher is a mock type for the EventPublisher type
type MockEventPublisher struct {
	mock.Mock
}

// PublishUserRegistered provides a mock function with given fields: ctx, event
func (_m *MockEventPublisher) PublishUserRegistered(ctx context.Context, event auth.UserRegistered) error {
	ret := _m.Called(ctx, event)

	if len(ret) == 0 {
		panic("no return value specified for PublishUserRegistered")
	}

	if rf, ok := ret.Get(0).(func(context.Context, auth.UserRegistered) error); ok {
		return rf(ctx, event)
	}
	return ret.Error(0)
}

// NewMockEventPublisher creates a new instance of MockEventPublisher. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockEventPublisher(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockEventPublisher {
	m := &MockEventPublisher{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
