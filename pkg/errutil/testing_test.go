// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

package errutil_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/samber/oops"

	"github.com/authgate/authgate/pkg/errutil"
)

var errNotFound = errors.New("not found")

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	errutil.AssertErrorCode(t, oops.Code("MY_CODE").Errorf("test error"), "MY_CODE")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	errutil.AssertErrorContext(t, oops.With("user_id", "123").Errorf("test error"), "user_id", "123")
}

func TestAssertErrorIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"coded sentinel", oops.Code("USER_NOT_FOUND").With("username", "alice").Wrap(errNotFound)},
		{"sentinel under fmt wrapping", oops.Code("USER_NOT_FOUND").Wrap(fmt.Errorf("lookup: %w", errNotFound))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errutil.AssertErrorIs(t, tt.err, errNotFound, "USER_NOT_FOUND")
		})
	}
}

func TestAssertErrorContext_WrappedSentinel(t *testing.T) {
	err := oops.Code("USER_NOT_FOUND").With("username", "alice").Wrap(errNotFound)
	errutil.AssertErrorCode(t, err, "USER_NOT_FOUND")
	errutil.AssertErrorContext(t, err, "username", "alice")
}
