// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

//go:build integration

package integration

import (
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/internal/auth/postgres"
)

var _ = Describe("UserRepository", func() {
	var repo *postgres.UserRepository

	BeforeEach(func() {
		truncateUsers()
		repo = postgres.NewUserRepository(pool)
	})

	newUser := func(username string, email *string) *auth.User {
		u, err := auth.NewUser(username, email, "First", "Last", "$2a$04$placeholderplaceholderplaceholderplaceholderplace")
		Expect(err).NotTo(HaveOccurred())
		return u
	}

	It("assigns ids and round-trips every column", func() {
		email := "dana@example.com"
		u := newUser("dana", &email)
		Expect(repo.Create(suiteCtx, u)).To(Succeed())
		Expect(u.ID).To(BeNumerically(">", 0))

		got, err := repo.GetByUsername(suiteCtx, "dana")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(u))
	})

	It("maps unique violations to ErrDuplicate", func() {
		Expect(repo.Create(suiteCtx, newUser("erin", nil))).To(Succeed())

		err := repo.Create(suiteCtx, newUser("erin", nil))
		Expect(err).To(MatchError(auth.ErrDuplicate))
	})

	It("treats emails case-insensitively", func() {
		lower := "frank@example.com"
		upper := "FRANK@example.com"
		Expect(repo.Create(suiteCtx, newUser("frank", &lower))).To(Succeed())

		got, err := repo.GetByEmail(suiteCtx, upper)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Username).To(Equal("frank"))

		err = repo.Create(suiteCtx, newUser("frank2", &upper))
		Expect(err).To(MatchError(auth.ErrDuplicate))
	})

	It("reports missing users as ErrNotFound", func() {
		_, err := repo.GetByUsername(suiteCtx, "nobody")
		Expect(err).To(MatchError(auth.ErrNotFound))

		Expect(repo.UpdatePassword(suiteCtx, 999, "$2a$04$x")).To(MatchError(auth.ErrNotFound))
	})

	It("updates the password digest", func() {
		u := newUser("gina", nil)
		Expect(repo.Create(suiteCtx, u)).To(Succeed())

		Expect(repo.UpdatePassword(suiteCtx, u.ID, "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA")).To(Succeed())

		got, err := repo.GetByUsername(suiteCtx, "gina")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.PasswordHash).To(HavePrefix("$argon2id$"))
	})
})
