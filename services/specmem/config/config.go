// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the environment-variable surface documented in
// spec.md §6 and persists the derived tier plan / user resource limits
// into the project's specmem directory.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jonhardwick-spec/specmem/services/specmem/specerrors"
)

// DBCredentials holds the relational/vector store connection parameters.
//
// Description:
//
//	All fields are required. Unlike the original source this is based on,
//	a missing credential is a hard EnvironmentUnusable error at startup —
//	see DESIGN.md "Open Question decisions" #1. There is no silent
//	default.
type DBCredentials struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
}

// Config is the fully resolved environment configuration for one instance.
type Config struct {
	ProjectPath      string
	DB               DBCredentials
	CPUMin           float64
	CPUMax           float64
	RAMMinMB         int
	RAMMaxMB         int
	CodebaseEnabled  bool
	Debug            bool
}

// errMissingEnv names a specific missing environment variable.
type errMissingEnv struct{ name string }

func (e *errMissingEnv) Error() string {
	return fmt.Sprintf("required environment variable %s is not set", e.name)
}

// Unwrap lets callers match a missing credential with
// errors.Is(err, specerrors.ErrEnvironmentUnusable).
func (e *errMissingEnv) Unwrap() error { return specerrors.ErrEnvironmentUnusable }

// Load reads the recognized SPECMEM_* environment variables.
//
// Description:
//
//	projectPathOverride, if non-empty, wins over SPECMEM_PROJECT_PATH and
//	the working directory, matching the precedence in spec.md §6.
//
// Outputs:
//   - *Config: fully populated configuration.
//   - error: wraps specerrors.ErrEnvironmentUnusable-compatible detail
//     when a required DB credential is absent; callers should treat any
//     non-nil error here as fatal to startup.
func Load(projectPathOverride string) (*Config, error) {
	projectPath := projectPathOverride
	if projectPath == "" {
		projectPath = os.Getenv("SPECMEM_PROJECT_PATH")
	}
	if projectPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		projectPath = wd
	}

	db, err := loadDBCredentials()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProjectPath:     projectPath,
		DB:              *db,
		CPUMin:          envFloat("SPECMEM_CPU_MIN", 0),
		CPUMax:          envFloat("SPECMEM_CPU_MAX", 90),
		RAMMinMB:        envInt("SPECMEM_RAM_MIN_MB", 0),
		RAMMaxMB:        envInt("SPECMEM_RAM_MAX_MB", 0),
		CodebaseEnabled: envBool("SPECMEM_CODEBASE_ENABLED", true),
		Debug:           envBool("SPECMEM_DEBUG", false),
	}
	return cfg, nil
}

func loadDBCredentials() (*DBCredentials, error) {
	fields := map[string]string{
		"SPECMEM_DB_HOST":     "",
		"SPECMEM_DB_PORT":     "",
		"SPECMEM_DB_NAME":     "",
		"SPECMEM_DB_USER":     "",
		"SPECMEM_DB_PASSWORD": "",
	}
	for k := range fields {
		v := os.Getenv(k)
		if v == "" {
			return nil, &errMissingEnv{name: k}
		}
		fields[k] = v
	}
	return &DBCredentials{
		Host:     fields["SPECMEM_DB_HOST"],
		Port:     fields["SPECMEM_DB_PORT"],
		Name:     fields["SPECMEM_DB_NAME"],
		User:     fields["SPECMEM_DB_USER"],
		Password: fields["SPECMEM_DB_PASSWORD"],
	}, nil
}

func envFloat(name string, def float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func envBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// UserConfig is persisted to user-config.json: the resource-limit
// overrides the operator explicitly set, preserved across restarts even
// if the environment variables that originally set them are no longer
// present.
type UserConfig struct {
	CPUMin   float64 `json:"cpu_min"`
	CPUMax   float64 `json:"cpu_max"`
	RAMMinMB int     `json:"ram_min_mb"`
	RAMMaxMB int     `json:"ram_max_mb"`
}

// WriteUserConfig persists the resolved resource limits to
// <specmemDir>/user-config.json.
func WriteUserConfig(specmemDir string, cfg *Config) error {
	uc := UserConfig{
		CPUMin:   cfg.CPUMin,
		CPUMax:   cfg.CPUMax,
		RAMMinMB: cfg.RAMMinMB,
		RAMMaxMB: cfg.RAMMaxMB,
	}
	raw, err := json.MarshalIndent(uc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal user config: %w", err)
	}
	path := filepath.Join(specmemDir, "user-config.json")
	if err := os.WriteFile(path, raw, 0640); err != nil {
		return fmt.Errorf("write user config: %w", err)
	}
	return nil
}
