// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

// Package web exposes the auth service over HTTP with gin.
package web

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/authgate/authgate/internal/auth"
)

// Recorder receives request outcomes. *observability.Metrics implements it.
type Recorder interface {
	RecordLogin(result string)
	RecordRegistration(result string)
	RecordTokenDecodeFailure(reason string)
	RecordHTTPRequest(method, route string, status int, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordLogin(string) {}
func (nopRecorder) RecordRegistration(string) {}
func (nopRecorder) RecordTokenDecodeFailure(string) {}
func (nopRecorder) RecordHTTPRequest(string, string, int, time.Duration) {}

// Deps are the collaborators of the router. Service and Resolver are required.
type Deps struct {
	Service      *auth.Service
	Resolver     *auth.SessionResolver
	Metrics      Recorder
	Logger       *slog.Logger
	CookieSecure bool
	ServiceName  string
	Clock        func() time.Time
}

// NewRouter builds the gin engine serving:
//
//	POST /auth/token         form login
//	POST /auth/register      registration (JSON or form)
//	POST /auth/create/user   alias of /auth/register
//	GET  /auth/logout        clear the session cookie
//	GET  /auth/me            current identity
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.Service == nil {
		return nil, oops.Code("WEB_CONFIG_INVALID").Errorf("auth service is required")
	}
	if deps.Resolver == nil {
		return nil, oops.Code("WEB_CONFIG_INVALID").Errorf("session resolver is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.ServiceName == "" {
		deps.ServiceName = "authgate"
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	h := &handler{
		service:      deps.Service,
		cookieName:   deps.Resolver.CookieName(),
		cookieSecure: deps.CookieSecure,
		metrics:      deps.Metrics,
		now:          deps.Clock,
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		otelgin.Middleware(deps.ServiceName),
		requestLogger(deps.Logger),
		requestMetrics(deps.Metrics),
		resolveIdentity(deps.Resolver, deps.Metrics),
	)

	g := r.Group("/auth")
	g.POST("/token", h.token)
	g.POST("/register", h.register)
	g.POST("/create/user", h.register)
	g.GET("/logout", h.logout)
	g.GET("/me", RequireIdentity(), h.me)

	return r, nil
}
