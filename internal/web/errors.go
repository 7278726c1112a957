// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/pkg/errutil"
)

const (
	msgNotFound = "not found"
	msgInternal = "internal server error"
)

// errorResponse is the body of every error reply.
type errorResponse struct {
	Detail string `json:"detail"`
}

// statusFor maps an error to the status code and public detail message.
// Only the generic messages ever leave the process.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		if errutil.Code(err) == "AUTH_INVALID_CREDENTIALS" {
			return http.StatusUnauthorized, auth.MsgInvalidCredentials
		}
		return http.StatusUnauthorized, auth.MsgCouldNotValidate
	case errors.Is(err, auth.ErrDecode):
		return http.StatusUnauthorized, auth.MsgCouldNotValidate
	case errors.Is(err, auth.ErrValidationFailed):
		return http.StatusBadRequest, auth.MsgInvalidRegistration
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound, msgNotFound
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// abortWithError writes the mapped reply and stops the handler chain.
// 401 replies carry a Bearer challenge.
func abortWithError(c *gin.Context, err error) {
	status, detail := statusFor(err)
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", "Bearer")
	}
	_ = c.Error(err) //nolint:errcheck // recorded for the request logger
	c.AbortWithStatusJSON(status, errorResponse{Detail: detail})
}
