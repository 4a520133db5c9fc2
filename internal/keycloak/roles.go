package keycloak

import (
	"context"
	"net/url"

	"k8s.io/apimachinery/pkg/util/sets"
)

// realmManagementClientID is the built-in client that owns the admin roles of a realm.
const realmManagementClientID = "realm-management"

// ServiceAccountRoles are the realm-management roles bound to a client's
// service account so it can read and manage users.
var ServiceAccountRoles = sets.New("view-users", "manage-users", "query-users")

// ============================================================================
// Role Operations
// ============================================================================

func rolePath(realmName, roleName string) string {
	return realmPath(realmName) + "/roles/" + url.PathEscape(roleName)
}

// RoleExists reports whether the realm role can be read. Any non-success
// status counts as absent.
func (c *Client) RoleExists(ctx context.Context, realmName, roleName string) (bool, error) {
	return c.exists(ctx, rolePath(realmName, roleName))
}

// CreateRealmRole creates a realm role with the given name
func (c *Client) CreateRealmRole(ctx context.Context, realmName, roleName string) error {
	_, err := c.Create(ctx, realmPath(realmName)+"/roles", RoleRepresentation{Name: &roleName})
	return err
}

// GetRealmRole gets a realm role by name
func (c *Client) GetRealmRole(ctx context.Context, realmName, roleName string) (*RoleRepresentation, error) {
	var role RoleRepresentation
	if err := c.Get(ctx, rolePath(realmName, roleName), &role); err != nil {
		return nil, err
	}
	return &role, nil
}

// AssignRealmRole maps a realm role onto a user. The role is looked up by
// name first since the mapping endpoint wants the full representation.
func (c *Client) AssignRealmRole(ctx context.Context, realmName, userID, roleName string) error {
	role, err := c.GetRealmRole(ctx, realmName, roleName)
	if err != nil {
		if IsNotFound(err) {
			return notFound("role", roleName)
		}
		return err
	}
	_, err = c.Create(ctx, userPath(realmName, userID)+"/role-mappings/realm", []RoleRepresentation{*role})
	return err
}

// GrantServiceAccountRoles binds the ServiceAccountRoles of realm-management
// to the service account user of the given client and returns how many roles
// were newly bound. Roles already mapped are not posted again; roles missing
// from realm-management are skipped and logged.
func (c *Client) GrantServiceAccountRoles(ctx context.Context, realmName, clientID string) (int, error) {
	id, err := c.ResolveClientID(ctx, realmName, clientID)
	if err != nil {
		return 0, err
	}

	var serviceAccount UserRepresentation
	if err := c.Get(ctx, clientPath(realmName, id)+"/service-account-user", &serviceAccount); err != nil {
		if IsNotFound(err) {
			return 0, notFound("service account user of client", clientID)
		}
		return 0, err
	}
	if serviceAccount.ID == nil || *serviceAccount.ID == "" {
		return 0, notFound("service account user of client", clientID)
	}

	rmID, err := c.ResolveClientID(ctx, realmName, realmManagementClientID)
	if err != nil {
		return 0, err
	}

	var available []RoleRepresentation
	if err := c.Get(ctx, clientPath(realmName, rmID)+"/roles", &available); err != nil {
		return 0, err
	}

	mappingPath := userPath(realmName, *serviceAccount.ID) + "/role-mappings/clients/" + url.PathEscape(rmID)
	var mapped []RoleRepresentation
	if err := c.Get(ctx, mappingPath, &mapped); err != nil {
		return 0, err
	}
	bound := sets.New[string]()
	for _, role := range mapped {
		if role.Name != nil {
			bound.Insert(*role.Name)
		}
	}

	roles := make([]RoleRepresentation, 0, ServiceAccountRoles.Len())
	found := sets.New[string]()
	for _, role := range available {
		if role.Name == nil || !ServiceAccountRoles.Has(*role.Name) {
			continue
		}
		found.Insert(*role.Name)
		if !bound.Has(*role.Name) {
			roles = append(roles, role)
		}
	}
	if missing := ServiceAccountRoles.Difference(found); missing.Len() > 0 {
		c.log.Info("realm-management roles not found, skipping", "realm", realmName, "roles", sets.List(missing))
	}
	if len(roles) == 0 {
		return 0, nil
	}

	if _, err := c.Create(ctx, mappingPath, roles); err != nil {
		return 0, err
	}
	return len(roles), nil
}
