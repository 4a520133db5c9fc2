package keycloak

import (
	"context"
	"strings"
)

// ============================================================================
// Key Operations
// ============================================================================

// GetKeys gets the key metadata of a realm
func (c *Client) GetKeys(ctx context.Context, realmName string) (*KeysMetadataRepresentation, error) {
	var keys KeysMetadataRepresentation
	if err := c.Get(ctx, realmPath(realmName)+"/keys", &keys); err != nil {
		return nil, err
	}
	return &keys, nil
}

// SigningKey returns the public key of the first RSA signing key of the
// realm. Keys reporting a status other than ACTIVE are passed over.
func (c *Client) SigningKey(ctx context.Context, realmName string) (string, error) {
	keys, err := c.GetKeys(ctx, realmName)
	if err != nil {
		return "", err
	}
	for _, key := range keys.Keys {
		if !strings.EqualFold(key.Use, "SIG") || !strings.EqualFold(key.Type, "RSA") {
			continue
		}
		if key.Status != "" && !strings.EqualFold(key.Status, "ACTIVE") {
			continue
		}
		if key.PublicKey == "" {
			continue
		}
		return key.PublicKey, nil
	}
	return "", notFound("RSA signing key in realm", realmName)
}
