package keycloak

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ============================================================================
// User Operations
// ============================================================================

func userPath(realmName, userID string) string {
	return realmPath(realmName) + "/users/" + url.PathEscape(userID)
}

// GetUsers gets users with optional filtering
func (c *Client) GetUsers(ctx context.Context, realmName string, params map[string]string) ([]UserRepresentation, error) {
	var users []UserRepresentation
	if err := c.list(ctx, realmPath(realmName)+"/users", params, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// GetUserByUsername finds a user by username. Keycloak stores usernames in
// lower case, so the match ignores case.
func (c *Client) GetUserByUsername(ctx context.Context, realmName, username string) (*UserRepresentation, error) {
	users, err := c.GetUsers(ctx, realmName, map[string]string{"username": username, "exact": "true"})
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].Username != nil && strings.EqualFold(*users[i].Username, username) {
			return &users[i], nil
		}
	}
	return nil, notFound("user", username)
}

// UserExists reports whether a user with the given username exists.
// Only an empty result counts as absent; API failures are returned.
func (c *Client) UserExists(ctx context.Context, realmName, username string) (bool, error) {
	_, err := c.GetUserByUsername(ctx, realmName, username)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// CreateUser creates an enabled user with a single non-temporary password
// and returns the new user's id.
func (c *Client) CreateUser(ctx context.Context, realmName string, spec UserSpec) (string, error) {
	enabled, verified := true, true
	user := UserRepresentation{
		Username:      &spec.Username,
		Enabled:       &enabled,
		EmailVerified: &verified,
		Credentials: []CredentialRepresentation{{
			Type:      "password",
			Value:     spec.Password,
			Temporary: false,
		}},
		Attributes: spec.Attributes,
	}
	if spec.Email != "" {
		user.Email = &spec.Email
	}
	if spec.FirstName != "" {
		user.FirstName = &spec.FirstName
	}
	if spec.LastName != "" {
		user.LastName = &spec.LastName
	}

	id, err := c.Create(ctx, realmPath(realmName)+"/users", user)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("created user %q: no id in Location header", spec.Username)
	}
	return id, nil
}
