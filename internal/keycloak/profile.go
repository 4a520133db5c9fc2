package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
)

// UserProfileConfig is the declarative user profile of a realm. Only the
// attribute list is typed; groups, unmanaged attribute policy and any other
// server fields are carried in Extra.
type UserProfileConfig struct {
	Attributes []UserProfileAttribute
	Extra      map[string]json.RawMessage
}

func (p *UserProfileConfig) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	out := UserProfileConfig{}
	if err := f.take("attributes", &out.Attributes); err != nil {
		return fmt.Errorf("user profile: %w", err)
	}
	out.Extra = extraOf(f)
	*p = out
	return nil
}

func (p UserProfileConfig) MarshalJSON() ([]byte, error) {
	f := withExtra(p.Extra)
	attrs := p.Attributes
	if attrs == nil {
		attrs = []UserProfileAttribute{}
	}
	if err := f.put("attributes", attrs); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage(f))
}

// UserProfileAttribute is one attribute of the user profile. Validations,
// annotations and other server fields are carried in Extra.
type UserProfileAttribute struct {
	Name        string
	DisplayName string
	Required    *AttributeRequired
	Permissions *AttributePermissions
	Extra       map[string]json.RawMessage
}

// AttributeRequired lists the roles for which an attribute is mandatory
type AttributeRequired struct {
	Roles []string `json:"roles,omitempty"`
}

// AttributePermissions lists who may view and edit an attribute
type AttributePermissions struct {
	View []string `json:"view"`
	Edit []string `json:"edit"`
}

func (a *UserProfileAttribute) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	out := UserProfileAttribute{}
	for key, dst := range map[string]interface{}{
		"name":        &out.Name,
		"displayName": &out.DisplayName,
		"required":    &out.Required,
		"permissions": &out.Permissions,
	} {
		if err := f.take(key, dst); err != nil {
			return fmt.Errorf("profile attribute: %w", err)
		}
	}
	out.Extra = extraOf(f)
	*a = out
	return nil
}

func (a UserProfileAttribute) MarshalJSON() ([]byte, error) {
	f := withExtra(a.Extra)
	if err := f.put("name", a.Name); err != nil {
		return nil, err
	}
	if a.DisplayName != "" {
		if err := f.put("displayName", a.DisplayName); err != nil {
			return nil, err
		}
	}
	if err := putPtr(f, "required", a.Required); err != nil {
		return nil, err
	}
	if err := putPtr(f, "permissions", a.Permissions); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage(f))
}

// ProfileAttribute declares a custom user-profile attribute to create.
type ProfileAttribute struct {
	Name     string
	Required bool
}

// representation renders the attribute the way it is added to the profile:
// required attributes are mandatory for the "user" role and only visible to
// and editable by admins.
func (p ProfileAttribute) representation() UserProfileAttribute {
	attr := UserProfileAttribute{Name: p.Name, DisplayName: p.Name}
	if p.Required {
		attr.Required = &AttributeRequired{Roles: []string{"user"}}
		attr.Permissions = &AttributePermissions{View: []string{"admin"}, Edit: []string{"admin"}}
	}
	return attr
}

// ============================================================================
// User Profile Operations
// ============================================================================

func profilePath(realmName string) string {
	return realmPath(realmName) + "/users/profile"
}

// GetUserProfile gets the user profile configuration of a realm
func (c *Client) GetUserProfile(ctx context.Context, realmName string) (*UserProfileConfig, error) {
	var profile UserProfileConfig
	if err := c.Get(ctx, profilePath(realmName), &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ProfileAttributeExists reports whether the user profile declares an
// attribute with the given name
func (c *Client) ProfileAttributeExists(ctx context.Context, realmName, name string) (bool, error) {
	profile, err := c.GetUserProfile(ctx, realmName)
	if err != nil {
		return false, err
	}
	for _, attr := range profile.Attributes {
		if attr.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// CreateProfileAttribute appends an attribute to the user profile and writes
// the whole profile back.
func (c *Client) CreateProfileAttribute(ctx context.Context, realmName string, attr ProfileAttribute) error {
	profile, err := c.GetUserProfile(ctx, realmName)
	if err != nil {
		return err
	}
	profile.Attributes = append(profile.Attributes, attr.representation())
	return c.Update(ctx, profilePath(realmName), profile)
}
