package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"sigs.k8s.io/yaml"
)

// Environment variables that override the admin credentials of the document
const (
	EnvAdminUser     = "KEYCLOAK_ADMIN_USER"
	EnvAdminPassword = "KEYCLOAK_ADMIN_PASSWORD"
)

// LoadKeycloak reads the provisioning document at path and applies
// defaults and environment overrides. It does not validate.
func LoadKeycloak(path string) (*Keycloak, error) {
	cfg := &Keycloak{}
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// LoadEnv reads the secret mapping document at path.
func LoadEnv(path string) (*Env, error) {
	cfg := &Env{}
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.Files == nil {
		cfg.Files = map[string]string{}
	}
	if cfg.Env == nil {
		cfg.Env = map[string]string{}
	}
	return cfg, nil
}

// ApplyEnv overrides the admin credentials from the environment.
func (k *Keycloak) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvAdminUser); v != "" {
		k.AdminUser = v
	}
	if v := getenv(EnvAdminPassword); v != "" {
		k.AdminPass = v
	}
}

// decodeFile decodes TOML by extension; everything else goes through the
// YAML decoder, which also reads JSON.
func decodeFile(path string, out interface{}) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		meta, err := toml.DecodeFile(path, out)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			sort.Strings(keys)
			return fmt.Errorf("failed to parse %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// LoadDotenv loads variables from .env files into the process environment.
// Without paths it reads ./.env and a missing file is not an error.
func LoadDotenv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil {
		var pathErr *os.PathError
		if len(paths) > 0 || !errors.As(err, &pathErr) {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}
	return nil
}
