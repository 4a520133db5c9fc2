package keycloak

import (
	"context"
)

// ============================================================================
// Realm Operations
// ============================================================================

// RealmExists reports whether the realm can be read. Any non-success status
// counts as absent.
func (c *Client) RealmExists(ctx context.Context, realmName string) (bool, error) {
	return c.exists(ctx, realmPath(realmName))
}

// CreateRealm creates an enabled realm with the given name
func (c *Client) CreateRealm(ctx context.Context, realmName string) error {
	enabled := true
	_, err := c.Create(ctx, "/admin/realms", RealmRepresentation{
		Realm:   realmName,
		Enabled: &enabled,
	})
	return err
}

// GetRealm gets a realm by name
func (c *Client) GetRealm(ctx context.Context, realmName string) (*RealmRepresentation, error) {
	var realm RealmRepresentation
	if err := c.Get(ctx, realmPath(realmName), &realm); err != nil {
		return nil, err
	}
	return &realm, nil
}

// UpdateRealmSettings reads the realm, overlays the declared settings and
// writes the whole representation back. Fields not named in settings keep
// their server values.
func (c *Client) UpdateRealmSettings(ctx context.Context, realmName string, settings RealmSettings) error {
	realm, err := c.GetRealm(ctx, realmName)
	if err != nil {
		return err
	}
	settings.ApplyTo(realm)
	return c.Update(ctx, realmPath(realmName), realm)
}
