// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

package auth

import (
	"net/mail"
	"strings"

	"github.com/samber/oops"
)

// LoginForm holds credentials submitted for login. Build it with NewLoginForm.
type LoginForm struct {
	username string
	password string
}

// NewLoginForm validates and captures login credentials in one step.
// Missing fields fail with the same error as a wrong password.
func NewLoginForm(username, password string) (LoginForm, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return LoginForm{}, invalidCredentials()
	}
	return LoginForm{username: username, password: password}, nil
}

// Username returns the submitted username.
func (f LoginForm) Username() string { return f.username }

// Password returns the submitted plaintext password.
func (f LoginForm) Password() string { return f.password }

// RegistrationInput is the raw registration payload as received from a client.
type RegistrationInput struct {
	Username        string
	Email           string
	FirstName       string
	LastName        string
	Password        string
	PasswordConfirm string
}

// RegistrationForm is a normalized registration request. Build it with NewRegistrationForm.
type RegistrationForm struct {
	username        string
	email           *string
	firstName       string
	lastName        string
	password        string
	passwordConfirm string
}

// NewRegistrationForm normalizes the input and checks its shape. Uniqueness and
// password confirmation are checked by Service.Register.
func NewRegistrationForm(in RegistrationInput) (RegistrationForm, error) {
	form := RegistrationForm{
		username:        strings.TrimSpace(in.Username),
		firstName:       strings.TrimSpace(in.FirstName),
		lastName:        strings.TrimSpace(in.LastName),
		password:        in.Password,
		passwordConfirm: in.PasswordConfirm,
	}

	if err := ValidateUsername(form.username); err != nil {
		return RegistrationForm{}, invalidRegistration("username", err)
	}
	if form.password == "" {
		return RegistrationForm{}, invalidRegistration("password", nil)
	}

	if email := strings.TrimSpace(in.Email); email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			return RegistrationForm{}, invalidRegistration("email", err)
		}
		form.email = &email
	}

	return form, nil
}

// Username returns the requested username.
func (f RegistrationForm) Username() string { return f.username }

// Email returns the requested email, or nil when none was given.
func (f RegistrationForm) Email() *string {
	if f.email == nil {
		return nil
	}
	email := *f.email
	return &email
}

// FirstName returns the first name.
func (f RegistrationForm) FirstName() string { return f.firstName }

// LastName returns the last name.
func (f RegistrationForm) LastName() string { return f.lastName }

// Password returns the requested plaintext password.
func (f RegistrationForm) Password() string { return f.password }

// PasswordsMatch reports whether the password confirmation equals the password.
func (f RegistrationForm) PasswordsMatch() bool { return f.password == f.passwordConfirm }

func invalidCredentials() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrUnauthorized)
}

// invalidRegistration builds the single registration error. The failing field
// is kept as context for logs only; the cause is not wrapped so the error code
// stays AUTH_REGISTRATION_INVALID.
func invalidRegistration(field string, cause error) error {
	b := oops.Code("AUTH_REGISTRATION_INVALID").With("field", field)
	if cause != nil {
		b = b.With("cause", cause.Error())
	}
	return b.Wrap(ErrValidationFailed)
}
