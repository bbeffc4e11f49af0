package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvProject     = "EE_PROJECT"
	EnvCredentials = "GOOGLE_APPLICATION_CREDENTIALS"
	EnvLogLevel    = "LOG_LEVEL"
)

// DefaultEnvFile is read when present and no other file is named.
const DefaultEnvFile = ".env"

// environment merges envFile with the process environment; non-empty
// process values win. A missing DefaultEnvFile is ignored.
func (p *Parser) environment(envFile string) (map[string]string, error) {
	explicit := envFile != ""
	if !explicit {
		envFile = DefaultEnvFile
	}

	env, err := godotenv.Read(envFile)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !explicit:
		env = map[string]string{}
	default:
		return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
	}

	lookup := os.LookupEnv
	if p.env != nil {
		lookup = func(k string) (string, bool) {
			v, ok := p.env[k]
			return v, ok
		}
	}
	for _, k := range []string{EnvProject, EnvCredentials, EnvLogLevel} {
		if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
			env[k] = v
		}
	}
	return env, nil
}

// ApplyEnv copies the recognised variables in env onto cfg. Empty values
// are ignored.
func ApplyEnv(cfg *PipelineConfig, env map[string]string) {
	if v := strings.TrimSpace(env[EnvProject]); v != "" {
		cfg.Project = v
	}
	if v := strings.TrimSpace(env[EnvCredentials]); v != "" {
		cfg.CredentialsFile = v
	}
	if v := strings.ToLower(strings.TrimSpace(env[EnvLogLevel])); v != "" {
		cfg.Telemetry.LogLevel = v
	}
}
