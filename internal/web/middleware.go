// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

package web

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/pkg/errutil"
)

const identityErrKey = "authgate.identity_error"

// unmatchedRoute labels requests that hit no route, keeping metric
// cardinality bounded.
const unmatchedRoute = "unmatched"

func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return unmatchedRoute
}

// requestLogger logs one line per request. Server errors are logged at
// error level with their oops attributes.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ctx := c.Request.Context()
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"route", routeOf(c),
			"status", status,
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if id := auth.IdentityFromContext(ctx); id != nil {
			attrs = append(attrs, "user_id", id.UserID)
		}

		switch {
		case status >= 500 && len(c.Errors) > 0:
			logger.ErrorContext(ctx, "request failed", append(attrs, errutil.Attrs(c.Errors.Last().Err)...)...)
		case status >= 400:
			logger.WarnContext(ctx, "request rejected", attrs...)
		default:
			logger.InfoContext(ctx, "request served", attrs...)
		}
	}
}

// requestMetrics records the request counter and latency histogram.
func requestMetrics(rec Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		rec.RecordHTTPRequest(c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start))
	}
}

// resolveIdentity runs the session resolver once per request. A valid token
// puts its identity in the request context; a bad token is remembered for
// RequireIdentity but does not block routes that allow anonymous callers.
func resolveIdentity(resolver *auth.SessionResolver, rec Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := resolver.Resolve(c.Request)
		if err != nil {
			rec.RecordTokenDecodeFailure(decodeReason(err))
			c.Set(identityErrKey, err)
			c.Next()
			return
		}
		if id != nil {
			c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		}
		c.Next()
	}
}

// RequireIdentity rejects requests without a resolved identity with 401.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v, ok := c.Get(identityErrKey); ok {
			if err, isErr := v.(error); isErr {
				abortWithError(c, err)
				return
			}
		}
		if auth.IdentityFromContext(c.Request.Context()) == nil {
			abortWithError(c, oops.Code("AUTH_REQUIRED").Wrap(auth.ErrUnauthorized))
			return
		}
		c.Next()
	}
}

func decodeReason(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if reason, ok := oopsErr.Context()["reason"].(string); ok {
			return reason
		}
	}
	return auth.ReasonOther
}
