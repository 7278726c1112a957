// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/internal/observability"
)

const msgLogoutSuccessful = "logout successful"

// tokenResponse is returned by POST /auth/token.
type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// loginRequest accepts JSON or form bodies. The HTML login form posts the
// username as "email".
type loginRequest struct {
	Username string `json:"username" form:"username"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// registerRequest accepts JSON or form bodies. password2 is the field name
// used by the HTML registration form.
type registerRequest struct {
	Username        string `json:"username" form:"username"`
	Email           string `json:"email" form:"email"`
	FirstName       string `json:"first_name" form:"first_name"`
	LastName        string `json:"last_name" form:"last_name"`
	Password        string `json:"password" form:"password"`
	PasswordConfirm string `json:"password_confirm" form:"password_confirm"`
	Password2       string `json:"password2" form:"password2"`
}

type userResponse struct {
	ID        int64   `json:"id"`
	Username  string  `json:"username"`
	Email     *string `json:"email"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	IsActive  bool    `json:"is_active"`
}

type identityResponse struct {
	Username string `json:"username"`
	ID       int64  `json:"id"`
}

type detailResponse struct {
	Detail string `json:"detail"`
}

// handler serves the /auth routes.
type handler struct {
	service      *auth.Service
	cookieName   string
	cookieSecure bool
	metrics      Recorder
	now          func() time.Time
}

// token verifies the posted credentials and issues an access token, both in
// the body and as an http-only cookie. An unreadable body is treated as empty
// credentials.
func (h *handler) token(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		req = loginRequest{}
	}
	username := req.Username
	if username == "" {
		username = req.Email
	}

	form, err := auth.NewLoginForm(username, req.Password)
	if err != nil {
		h.metrics.RecordLogin(observability.ResultRejected)
		abortWithError(c, err)
		return
	}

	issued, err := h.service.Login(c.Request.Context(), form, 0)
	if err != nil {
		h.metrics.RecordLogin(loginResult(err))
		abortWithError(c, err)
		return
	}
	h.metrics.RecordLogin(observability.ResultSuccess)

	h.setSessionCookie(c, issued)
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: issued.AccessToken,
		TokenType:   issued.TokenType,
		ExpiresAt:   issued.ExpiresAt.UTC(),
	})
}

func loginResult(err error) string {
	if errors.Is(err, auth.ErrUnauthorized) {
		return observability.ResultRejected
	}
	return observability.ResultError
}

// register creates an account from a JSON or form body.
func (h *handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBind(&req); err != nil {
		h.metrics.RecordRegistration(observability.ResultRejected)
		abortWithError(c, auth.ErrValidationFailed)
		return
	}
	if req.PasswordConfirm == "" {
		req.PasswordConfirm = req.Password2
	}

	form, err := auth.NewRegistrationForm(auth.RegistrationInput{
		Username:        req.Username,
		Email:           req.Email,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
	})
	if err != nil {
		h.metrics.RecordRegistration(observability.ResultRejected)
		abortWithError(c, err)
		return
	}

	user, err := h.service.Register(c.Request.Context(), form)
	if err != nil {
		if errors.Is(err, auth.ErrValidationFailed) {
			h.metrics.RecordRegistration(observability.ResultRejected)
		} else {
			h.metrics.RecordRegistration(observability.ResultError)
		}
		abortWithError(c, err)
		return
	}
	h.metrics.RecordRegistration(observability.ResultSuccess)

	c.JSON(http.StatusCreated, userResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		IsActive:  user.IsActive,
	})
}

// logout expires the session cookie. Tokens already issued stay valid until
// they expire.
func (h *handler) logout(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	c.JSON(http.StatusOK, detailResponse{Detail: msgLogoutSuccessful})
}

// me returns the caller's identity. RequireIdentity runs first.
func (h *handler) me(c *gin.Context) {
	id := auth.IdentityFromContext(c.Request.Context())
	c.JSON(http.StatusOK, identityResponse{Username: id.Username, ID: id.UserID})
}

func (h *handler) setSessionCookie(c *gin.Context, issued *auth.IssuedToken) {
	maxAge := int(issued.ExpiresAt.Sub(h.now()).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cookieName,
		Value:    issued.AccessToken,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  issued.ExpiresAt.UTC(),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
