package keycloak

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// ============================================================================
// Client Operations
// ============================================================================

func clientsPath(realmName string) string {
	return realmPath(realmName) + "/clients"
}

func clientPath(realmName, id string) string {
	return clientsPath(realmName) + "/" + url.PathEscape(id)
}

// GetClients gets all clients in a realm with optional filtering
func (c *Client) GetClients(ctx context.Context, realmName string, params map[string]string) ([]ClientRepresentation, error) {
	var clients []ClientRepresentation
	if err := c.list(ctx, clientsPath(realmName), params, &clients); err != nil {
		return nil, err
	}
	return clients, nil
}

// GetClientByClientID finds a client by its clientId field
func (c *Client) GetClientByClientID(ctx context.Context, realmName, clientID string) (*ClientRepresentation, error) {
	clients, err := c.GetClients(ctx, realmName, map[string]string{"clientId": clientID})
	if err != nil {
		return nil, err
	}
	for i := range clients {
		if clients[i].ClientID == clientID {
			return &clients[i], nil
		}
	}
	return nil, notFound("client", clientID)
}

// ClientExists reports whether a client with the given clientId exists.
// Only an empty result counts as absent; API failures are returned.
func (c *Client) ClientExists(ctx context.Context, realmName, clientID string) (bool, error) {
	_, err := c.GetClientByClientID(ctx, realmName, clientID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// ResolveClientID returns the internal id of the client with the given clientId
func (c *Client) ResolveClientID(ctx context.Context, realmName, clientID string) (string, error) {
	client, err := c.GetClientByClientID(ctx, realmName, clientID)
	if err != nil {
		return "", err
	}
	if client.ID == nil || *client.ID == "" {
		return "", notFound("client id for", clientID)
	}
	return *client.ID, nil
}

// CreateClient creates a confidential OpenID Connect client with the standard
// flow enabled and returns its internal id.
func (c *Client) CreateClient(ctx context.Context, realmName, clientID string, opts ClientOptions) (string, error) {
	enabled, standardFlow, public := true, true, false
	serviceAccounts := opts.ServiceAccountsEnabled
	redirectURIs := opts.RedirectURIs
	if redirectURIs == nil {
		redirectURIs = []string{}
	}
	webOrigins := opts.WebOrigins
	if webOrigins == nil {
		webOrigins = []string{}
	}

	return c.Create(ctx, clientsPath(realmName), ClientRepresentation{
		ClientID:               clientID,
		Enabled:                &enabled,
		Protocol:               "openid-connect",
		RedirectURIs:           redirectURIs,
		WebOrigins:             webOrigins,
		StandardFlowEnabled:    &standardFlow,
		PublicClient:           &public,
		ServiceAccountsEnabled: &serviceAccounts,
	})
}

// GetClient gets a client by internal ID
func (c *Client) GetClient(ctx context.Context, realmName, id string) (*ClientRepresentation, error) {
	var client ClientRepresentation
	if err := c.Get(ctx, clientPath(realmName, id), &client); err != nil {
		return nil, err
	}
	return &client, nil
}

// UpdateClientAttributes replaces the attributes of the client identified by
// clientId. Every other field of the client is written back as read.
func (c *Client) UpdateClientAttributes(ctx context.Context, realmName, clientID string, attributes map[string]string) error {
	id, err := c.ResolveClientID(ctx, realmName, clientID)
	if err != nil {
		return err
	}
	client, err := c.GetClient(ctx, realmName, id)
	if err != nil {
		return err
	}
	client.Attributes = attributes
	return c.Update(ctx, clientPath(realmName, id), client)
}

// ClientSecret returns the current secret of a confidential client
func (c *Client) ClientSecret(ctx context.Context, realmName, clientID string) (string, error) {
	id, err := c.ResolveClientID(ctx, realmName, clientID)
	if err != nil {
		return "", err
	}
	var secret CredentialRepresentation
	if err := c.Get(ctx, clientPath(realmName, id)+"/client-secret", &secret); err != nil {
		return "", err
	}
	if secret.Value == "" {
		return "", fmt.Errorf("client %q has no secret", clientID)
	}
	return secret.Value, nil
}
