// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

//go:build integration

package integration

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"golang.org/x/crypto/bcrypt"

	"github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/internal/auth/authtest"
	"github.com/authgate/authgate/internal/auth/postgres"
	"github.com/authgate/authgate/internal/observability"
	"github.com/authgate/authgate/internal/web"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var _ = Describe("Auth HTTP flow", func() {
	var (
		server    *httptest.Server
		client    *http.Client
		repo      *postgres.UserRepository
		publisher *authtest.RecordingPublisher
	)

	BeforeEach(func() {
		truncateUsers()

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		codec, err := auth.NewTokenCodec(auth.TokenConfig{Secret: []byte(testSecret), Algorithm: "HS256"})
		Expect(err).NotTo(HaveOccurred())
		hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
		Expect(err).NotTo(HaveOccurred())

		repo = postgres.NewUserRepository(pool)
		publisher = &authtest.RecordingPublisher{}
		service, err := auth.NewAuthService(repo, hasher, codec,
			auth.WithLogger(logger),
			auth.WithEventPublisher(publisher),
		)
		Expect(err).NotTo(HaveOccurred())
		resolver, err := auth.NewSessionResolver(codec, auth.SourceAny, "")
		Expect(err).NotTo(HaveOccurred())

		router, err := web.NewRouter(web.Deps{
			Service:  service,
			Resolver: resolver,
			Metrics:  observability.NewMetrics(observability.NewRegistry()),
			Logger:   logger,
		})
		Expect(err).NotTo(HaveOccurred())

		server = httptest.NewServer(router)
		jar, err := cookiejar.New(nil)
		Expect(err).NotTo(HaveOccurred())
		client = &http.Client{Jar: jar}
	})

	AfterEach(func() {
		server.Close()
	})

	register := func(body map[string]string) *http.Response {
		raw, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		resp, err := client.Post(server.URL+"/auth/register", "application/json", strings.NewReader(string(raw)))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	login := func(username, password string) *http.Response {
		resp, err := client.PostForm(server.URL+"/auth/token", url.Values{
			"username": {username},
			"password": {password},
		})
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	me := func() (int, map[string]any) {
		resp, err := client.Get(server.URL + "/auth/me")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		var body map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return resp.StatusCode, body
	}

	alice := map[string]string{
		"username":         "alice",
		"email":            "Alice@Example.com",
		"first_name":       "Alice",
		"last_name":        "Liddell",
		"password":         "wonderland",
		"password_confirm": "wonderland",
	}

	It("registers, logs in with the cookie, and logs out", func() {
		resp := register(alice)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		Expect(publisher.Events()).To(HaveLen(1))

		stored, err := repo.GetByUsername(suiteCtx, "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.PasswordHash).To(HavePrefix("$2"))
		Expect(stored.IsActive).To(BeTrue())

		resp = login("alice", "wonderland")
		var token map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&token)).To(Succeed())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(token).To(HaveKeyWithValue("token_type", "bearer"))

		status, body := me()
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("username", "alice"))
		Expect(body).To(HaveKeyWithValue("id", BeNumerically("==", stored.ID)))

		resp, err = client.Get(server.URL + "/auth/logout")
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		status, _ = me()
		Expect(status).To(Equal(http.StatusUnauthorized))
	})

	It("accepts the issued token as a bearer header", func() {
		resp := register(alice)
		resp.Body.Close()

		resp = login("alice", "wonderland")
		var token struct {
			AccessToken string `json:"access_token"`
		}
		Expect(json.NewDecoder(resp.Body).Decode(&token)).To(Succeed())
		resp.Body.Close()

		req, err := http.NewRequest(http.MethodGet, server.URL+"/auth/me", nil)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)
		resp, err = http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("rejects duplicate usernames and case-variant emails", func() {
		resp := register(alice)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		sameName := map[string]string{}
		for k, v := range alice {
			sameName[k] = v
		}
		sameName["email"] = "other@example.com"
		resp = register(sameName)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

		sameEmail := map[string]string{}
		for k, v := range alice {
			sameEmail[k] = v
		}
		sameEmail["username"] = "alice2"
		sameEmail["email"] = "alice@example.COM"
		resp = register(sameEmail)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

		Expect(publisher.Events()).To(HaveLen(1))
	})

	It("allows many accounts without an email", func() {
		for _, name := range []string{"bob", "carol"} {
			resp := register(map[string]string{
				"username":         name,
				"password":         "pw",
				"password_confirm": "pw",
			})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		}
	})

	It("does not reveal whether the username exists", func() {
		resp := register(alice)
		resp.Body.Close()

		wrongPassword := login("alice", "nope")
		wrongBody, _ := io.ReadAll(wrongPassword.Body)
		wrongPassword.Body.Close()

		unknownUser := login("mallory", "nope")
		unknownBody, _ := io.ReadAll(unknownUser.Body)
		unknownUser.Body.Close()

		Expect(wrongPassword.StatusCode).To(Equal(http.StatusUnauthorized))
		Expect(unknownUser.StatusCode).To(Equal(http.StatusUnauthorized))
		Expect(wrongBody).To(MatchJSON(unknownBody))
	})
})
