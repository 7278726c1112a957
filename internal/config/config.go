// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

// Package config loads AuthGate settings from defaults, a YAML file, the
// environment (optionally seeded from a .env file) and command-line flags.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/internal/xdg"
)

// EnvPrefix prefixes every environment variable AuthGate reads.
// Nested keys use a double underscore: AUTHGATE_AUTH__SECRET_KEY is auth.secret_key.
const EnvPrefix = "AUTHGATE_"

// Secret is a string that never prints its value.
type Secret string

// String implements fmt.Stringer.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value { return slog.StringValue(s.String()) }

// Reveal returns the underlying value.
func (s Secret) Reveal() string { return string(s) }

// Config is the complete runtime configuration. Load returns it by value and
// nothing mutates it afterwards.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	Password PasswordConfig `koanf:"password"`
	Log      LogConfig      `koanf:"log"`
	Tracing  TracingConfig  `koanf:"tracing"`
	Events   EventsConfig   `koanf:"events"`
}

// ServerConfig is the public HTTP listener.
type ServerConfig struct {
	Addr              string        `koanf:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// MetricsConfig is the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// DatabaseConfig locates PostgreSQL.
type DatabaseConfig struct {
	URL      Secret `koanf:"url"`
	MaxConns int32  `koanf:"max_conns"`
}

// AuthConfig controls token signing and the session cookie.
type AuthConfig struct {
	SecretKey    Secret        `koanf:"secret_key"`
	Algorithm    string        `koanf:"algorithm"`
	TokenTTL     time.Duration `koanf:"token_ttl"`
	TokenSource  string        `koanf:"token_source"`
	CookieName   string        `koanf:"cookie_name"`
	CookieSecure bool          `koanf:"cookie_secure"`
}

// PasswordConfig selects the password hashing scheme.
type PasswordConfig struct {
	Algorithm  string `koanf:"algorithm"`
	BcryptCost int    `koanf:"bcrypt_cost"`
}

// LogConfig controls log output.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// TracingConfig controls the OTLP trace exporter.
type TracingConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

// EventsConfig points at Kafka. No brokers disables publishing.
type EventsConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

// Defaults returns the built-in values every other layer overrides.
func Defaults() map[string]any {
	return map[string]any{
		"server.addr":                ":8080",
		"server.read_header_timeout": "10s",
		"server.shutdown_timeout":    "15s",
		"metrics.addr":               ":9100",
		"database.url":               "",
		"database.max_conns":         0,
		"auth.secret_key":            "",
		"auth.algorithm":             "HS256",
		"auth.token_ttl":             auth.DefaultTokenTTL.String(),
		"auth.token_source":          string(auth.SourceAny),
		"auth.cookie_name":           auth.DefaultCookieName,
		"auth.cookie_secure":         false,
		"password.algorithm":         auth.HashBcrypt,
		"password.bcrypt_cost":       10,
		"log.format":                 "json",
		"log.level":                  "info",
		"tracing.enabled":            false,
		"tracing.endpoint":           "localhost:4318",
		"tracing.insecure":           true,
		"tracing.sample_rate":        1.0,
		"events.brokers":             []string{},
		"events.topic":               "authgate.users",
	}
}

// LoadOptions says where Load looks.
type LoadOptions struct {
	// ConfigFile must exist when set. When empty, the XDG config file is
	// read if present.
	ConfigFile string
	// EnvFile is a dotenv file merged into the process environment when it
	// exists. Variables already set win.
	EnvFile string
	// Flags are applied last. Only flags named in FlagKeys are read.
	Flags *pflag.FlagSet
	// SkipValidation returns the merged values without calling Validate.
	// Commands that only touch the database use it.
	SkipValidation bool
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"addr":         "server.addr",
	"metrics-addr": "metrics.addr",
	"database-url": "database.url",
	"log-format":   "log.format",
	"log-level":    "log.level",
}

// Load builds a Config from every layer and validates it.
func Load(opts LoadOptions) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("layer", "defaults").Wrap(err)
	}

	if err := loadFile(k, opts.ConfigFile); err != nil {
		return Config{}, err
	}

	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").
				With("layer", "dotenv").
				With("path", opts.EnvFile).
				Wrap(err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("layer", "env").Wrap(err)
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("layer", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_INVALID").With("operation", "decode").Wrap(err)
	}
	if opts.SkipValidation {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	explicit := path != ""
	if !explicit {
		var err error
		if path, err = xdg.ConfigFile(); err != nil {
			return nil //nolint:nilerr // no home directory means no default file
		}
	}

	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.Code("CONFIG_LOAD_FAILED").With("layer", "file").With("path", path).Wrap(err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("layer", "file").With("path", path).Wrap(err)
	}
	return nil
}

// envValue turns AUTHGATE_AUTH__SECRET_KEY into auth.secret_key. List
// values are comma separated.
func envValue(name, value string) (string, any) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, EnvPrefix)), "__", ".")
	if key == "events.brokers" {
		var brokers []string
		for _, b := range strings.Split(value, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		return key, brokers
	}
	return key, value
}

// Validate checks every field that has a fixed set of acceptable values.
func (c Config) Validate() error {
	switch {
	case len(c.Auth.SecretKey) < auth.MinSecretLength:
		return invalid("auth.secret_key", "must be at least %d bytes", auth.MinSecretLength)
	case !strings.HasPrefix(c.Auth.Algorithm, "HS"):
		return invalid("auth.algorithm", "must be one of HS256, HS384, HS512")
	case c.Auth.TokenTTL <= 0:
		return invalid("auth.token_ttl", "must be positive")
	case !auth.TokenSource(c.Auth.TokenSource).Valid():
		return invalid("auth.token_source", "must be one of cookie, bearer, any")
	case c.Auth.CookieName == "":
		return invalid("auth.cookie_name", "must not be empty")
	case c.Password.Algorithm != auth.HashBcrypt && c.Password.Algorithm != auth.HashArgon2id:
		return invalid("password.algorithm", "must be bcrypt or argon2id")
	case c.Server.Addr == "":
		return invalid("server.addr", "must not be empty")
	case c.Log.Format != "json" && c.Log.Format != "text":
		return invalid("log.format", "must be json or text")
	case c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1:
		return invalid("tracing.sample_rate", "must be between 0 and 1")
	case len(c.Events.Brokers) > 0 && c.Events.Topic == "":
		return invalid("events.topic", "must be set when brokers are configured")
	}
	if _, err := auth.NewTokenCodec(c.TokenConfig()); err != nil {
		return oops.Code("CONFIG_INVALID").With("field", "auth").Errorf("auth: %v", err)
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("field", field).Errorf(field+" "+format, args...)
}

// TokenConfig returns the signing settings for auth.NewTokenCodec.
func (c Config) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		Secret:    []byte(c.Auth.SecretKey.Reveal()),
		Algorithm: c.Auth.Algorithm,
		TTL:       c.Auth.TokenTTL,
	}
}

// LogValue implements slog.LogValuer. Secrets are redacted.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("server.addr", c.Server.Addr),
		slog.String("metrics.addr", c.Metrics.Addr),
		slog.Bool("database.configured", c.Database.URL != ""),
		slog.String("auth.algorithm", c.Auth.Algorithm),
		slog.Duration("auth.token_ttl", c.Auth.TokenTTL),
		slog.String("auth.token_source", c.Auth.TokenSource),
		slog.String("auth.cookie_name", c.Auth.CookieName),
		slog.Bool("auth.cookie_secure", c.Auth.CookieSecure),
		slog.String("password.algorithm", c.Password.Algorithm),
		slog.String("log.format", c.Log.Format),
		slog.Bool("tracing.enabled", c.Tracing.Enabled),
		slog.Int("events.brokers", len(c.Events.Brokers)),
	)
}
