// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

// Package xdg resolves XDG Base Directory paths for AuthGate.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "authgate"

// ConfigFileName is the default configuration file inside ConfigDir.
const ConfigFileName = "config.yaml"

// ConfigDir returns $XDG_CONFIG_HOME/authgate, falling back to ~/.config/authgate.
func ConfigDir() (string, error) {
	return resolve("XDG_CONFIG_HOME", ".config")
}

// ConfigFile returns the default config file path.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

func resolve(envVar, homeRelative string) (string, error) {
	if base := os.Getenv(envVar); base != "" {
		return filepath.Join(base, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", oops.Code("XDG_HOME_UNKNOWN").With("env", envVar).Wrap(err)
	}
	return filepath.Join(home, homeRelative, appName), nil
}
