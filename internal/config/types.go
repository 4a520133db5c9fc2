// Package config loads the provisioning document and the secret mapping.
package config

import (
	"sort"
)

// DefaultUserPassword is used for declared users without a password.
const DefaultUserPassword = "password"

// Keycloak is the desired state of one realm. It is loaded once per run
// and not modified after validation.
type Keycloak struct {
	BaseURL   string `json:"base_url" toml:"base_url"`
	AdminUser string `json:"admin_user" toml:"admin_user"`
	AdminPass string `json:"admin_pass" toml:"admin_pass"`
	RealmName string `json:"realm_name" toml:"realm_name"`
	ClientID  string `json:"client_id" toml:"client_id"`

	ClientOptions ClientOptions `json:"client_options" toml:"client_options"`

	Roles []string `json:"roles,omitempty" toml:"roles"`
	Users []User   `json:"users,omitempty" toml:"users"`

	// Lifespans in seconds
	AccessTokenLifespan        *int `json:"access_token_lifespan,omitempty" toml:"access_token_lifespan"`
	RefreshTokenLifespan       *int `json:"refresh_token_lifespan,omitempty" toml:"refresh_token_lifespan"`
	ClientAccessTokenLifespan  *int `json:"client_access_token_lifespan,omitempty" toml:"client_access_token_lifespan"`
	ClientRefreshTokenLifespan *int `json:"client_refresh_token_lifespan,omitempty" toml:"client_refresh_token_lifespan"`

	FrontendURL *string `json:"frontend_url,omitempty" toml:"frontend_url"`

	ProfileAttributes []ProfileAttribute `json:"profile_attributes,omitempty" toml:"profile_attributes"`

	// Domains are mapped to 127.0.0.1 by the hosts command.
	Domains []string `json:"domains,omitempty" toml:"domains"`
}

// ClientOptions configures the realm's client
type ClientOptions struct {
	ServiceAccountsEnabled bool     `json:"is_service_account_enabled" toml:"is_service_account_enabled"`
	RedirectURIs           []string `json:"redirectUris,omitempty" toml:"redirectUris"`
	WebOrigins             []string `json:"webOrigins,omitempty" toml:"webOrigins"`
}

// User is a user to create when absent
type User struct {
	Username   string              `json:"username" toml:"username"`
	Password   string              `json:"password,omitempty" toml:"password"`
	Email      string              `json:"email,omitempty" toml:"email"`
	FirstName  string              `json:"firstName,omitempty" toml:"firstName"`
	LastName   string              `json:"lastName,omitempty" toml:"lastName"`
	Roles      []string            `json:"roles,omitempty" toml:"roles"`
	Attributes map[string][]string `json:"attributes,omitempty" toml:"attributes"`
}

// ProfileAttribute is a custom user-profile attribute
type ProfileAttribute struct {
	Name     string `json:"name" toml:"name"`
	Required bool   `json:"required,omitempty" toml:"required"`
}

// Env maps derived secrets to target documents.
type Env struct {
	// Files maps a file reference to a target: a path, or
	// secret://<namespace>/<name> for a Kubernetes Secret.
	Files map[string]string `json:"files" toml:"files"`
	// Env maps a secret key to a file reference.
	Env map[string]string `json:"env" toml:"env"`
}

// Keys returns the env keys in processing order.
func (e *Env) Keys() []string {
	keys := make([]string, 0, len(e.Env))
	for k := range e.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ApplyDefaults fills in defaults for fields left empty
func (k *Keycloak) ApplyDefaults() {
	for i := range k.Users {
		if k.Users[i].Password == "" {
			k.Users[i].Password = DefaultUserPassword
		}
	}
}
