// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

package config_test

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/authgate/internal/config"
	"github.com/authgate/authgate/pkg/errutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// isolate points the XDG lookup at an empty directory and sets the one
// required value.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("AUTHGATE_AUTH__SECRET_KEY", testSecret)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := config.Load(config.LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Equal(t, "HS256", cfg.Auth.Algorithm)
	assert.Equal(t, 15*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, "any", cfg.Auth.TokenSource)
	assert.Equal(t, "access_token", cfg.Auth.CookieName)
	assert.False(t, cfg.Auth.CookieSecure)
	assert.Equal(t, "bcrypt", cfg.Password.Algorithm)
	assert.Equal(t, 10, cfg.Password.BcryptCost)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "authgate.users", cfg.Events.Topic)
	assert.Empty(t, cfg.Events.Brokers)
	assert.Equal(t, testSecret, cfg.Auth.SecretKey.Reveal())
}

func TestLoad_LayerPrecedence(t *testing.T) {
	isolate(t)

	path := writeFile(t, "config.yaml", `
server:
  addr: ":7000"
auth:
  token_ttl: 30m
  cookie_secure: true
log:
  format: text
`)
	t.Setenv("AUTHGATE_SERVER__ADDR", ":7100")
	t.Setenv("AUTHGATE_EVENTS__BROKERS", "kafka-1:9092, kafka-2:9092")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("addr", "", "")
	flags.String("log-format", "json", "")
	require.NoError(t, flags.Parse([]string{"--addr", ":7200"}))

	cfg, err := config.Load(config.LoadOptions{ConfigFile: path, Flags: flags})
	require.NoError(t, err)

	assert.Equal(t, ":7200", cfg.Server.Addr, "flag beats env and file")
	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL, "file beats defaults")
	assert.True(t, cfg.Auth.CookieSecure)
	assert.Equal(t, "text", cfg.Log.Format, "unchanged flag does not override file")
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Events.Brokers)
}

func TestLoad_DefaultConfigFileFromXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("AUTHGATE_AUTH__SECRET_KEY", testSecret)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "authgate"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "authgate", "config.yaml"),
		[]byte("metrics:\n  addr: \":9999\"\n"), 0o600))

	cfg, err := config.Load(config.LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Metrics.Addr)
}

func TestLoad_DotEnv(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	envFile := writeFile(t, ".env", "AUTHGATE_AUTH__SECRET_KEY="+testSecret+"\nAUTHGATE_AUTH__TOKEN_SOURCE=bearer\n")
	t.Cleanup(func() {
		_ = os.Unsetenv("AUTHGATE_AUTH__SECRET_KEY")
		_ = os.Unsetenv("AUTHGATE_AUTH__TOKEN_SOURCE")
	})
	// Already-set variables win over the file.
	t.Setenv("AUTHGATE_AUTH__TOKEN_SOURCE", "cookie")
	require.NoError(t, os.Unsetenv("AUTHGATE_AUTH__SECRET_KEY"))

	cfg, err := config.Load(config.LoadOptions{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, testSecret, cfg.Auth.SecretKey.Reveal())
	assert.Equal(t, "cookie", cfg.Auth.TokenSource)
}

func TestLoad_MissingDotEnvIsIgnored(t *testing.T) {
	isolate(t)

	_, err := config.Load(config.LoadOptions{EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	require.NoError(t, err)
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	isolate(t)

	_, err := config.Load(config.LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
	errutil.AssertErrorContext(t, err, "layer", "file")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"missing secret", map[string]string{"AUTHGATE_AUTH__SECRET_KEY": ""}, "auth.secret_key"},
		{"short secret", map[string]string{"AUTHGATE_AUTH__SECRET_KEY": "short"}, "auth.secret_key"},
		{"asymmetric algorithm", map[string]string{"AUTHGATE_AUTH__ALGORITHM": "RS256"}, "auth.algorithm"},
		{"unknown HMAC variant", map[string]string{"AUTHGATE_AUTH__ALGORITHM": "HS1"}, "auth"},
		{"zero ttl", map[string]string{"AUTHGATE_AUTH__TOKEN_TTL": "0s"}, "auth.token_ttl"},
		{"unknown token source", map[string]string{"AUTHGATE_AUTH__TOKEN_SOURCE": "query"}, "auth.token_source"},
		{"unknown hasher", map[string]string{"AUTHGATE_PASSWORD__ALGORITHM": "md5"}, "password.algorithm"},
		{"unknown log format", map[string]string{"AUTHGATE_LOG__FORMAT": "xml"}, "log.format"},
		{"sample rate out of range", map[string]string{"AUTHGATE_TRACING__SAMPLE_RATE": "1.5"}, "tracing.sample_rate"},
		{"brokers without topic", map[string]string{
			"AUTHGATE_EVENTS__BROKERS": "kafka:9092",
			"AUTHGATE_EVENTS__TOPIC":   "",
		}, "events.topic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := config.Load(config.LoadOptions{})
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			errutil.AssertErrorContext(t, err, "field", tt.field)
		})
	}
}

func TestLoad_SkipValidation(t *testing.T) {
	isolate(t)
	t.Setenv("AUTHGATE_AUTH__SECRET_KEY", "")
	t.Setenv("AUTHGATE_DATABASE__URL", "postgres://db/authgate")

	cfg, err := config.Load(config.LoadOptions{SkipValidation: true})
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/authgate", cfg.Database.URL.Reveal())
	require.Error(t, cfg.Validate())
}

func TestConfig_TokenConfig(t *testing.T) {
	isolate(t)
	cfg, err := config.Load(config.LoadOptions{})
	require.NoError(t, err)

	tc := cfg.TokenConfig()
	assert.Equal(t, []byte(testSecret), tc.Secret)
	assert.Equal(t, "HS256", tc.Algorithm)
	assert.Equal(t, 15*time.Minute, tc.TTL)
}

func TestConfig_NeverLogsSecrets(t *testing.T) {
	isolate(t)
	t.Setenv("AUTHGATE_DATABASE__URL", "postgres://authgate:hunter2@db:5432/authgate")
	cfg, err := config.Load(config.LoadOptions{})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("configuration loaded", "config", cfg, "secret", cfg.Auth.SecretKey)

	out := buf.String()
	assert.NotContains(t, out, testSecret)
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "[REDACTED]")
	assert.Contains(t, out, "HS256")

	assert.Equal(t, "[REDACTED]", fmt.Sprint(cfg.Auth.SecretKey))
	assert.Empty(t, config.Secret("").String())
}
