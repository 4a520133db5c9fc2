package keycloak

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// fields is the raw object form of a representation. Keys that a typed
// representation does not know about stay here so they survive a
// read-merge-write unchanged.
type fields map[string]json.RawMessage

func decodeFields(data []byte) (fields, error) {
	var f fields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f == nil {
		f = fields{}
	}
	return f, nil
}

// take decodes key into dst and removes it from f.
func (f fields) take(key string, dst interface{}) error {
	raw, ok := f[key]
	if !ok {
		return nil
	}
	delete(f, key)
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("field %q: %w", key, err)
	}
	return nil
}

func (f fields) put(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("field %q: %w", key, err)
	}
	f[key] = raw
	return nil
}

func putPtr[T any](f fields, key string, v *T) error {
	if v == nil {
		return nil
	}
	return f.put(key, *v)
}

func withExtra(extra map[string]json.RawMessage) fields {
	f := make(fields, len(extra)+8)
	for k, v := range extra {
		f[k] = v
	}
	return f
}

func extraOf(f fields) map[string]json.RawMessage {
	if len(f) == 0 {
		return nil
	}
	return f
}

// ============================================================================
// Realm
// ============================================================================

// RealmRepresentation represents a Keycloak realm. Only the fields this tool
// reads or patches are typed; everything else is carried in Extra.
type RealmRepresentation struct {
	ID                    *string
	Realm                 string
	Enabled               *bool
	AccessTokenLifespan   *int
	SSOSessionIdleTimeout *int
	SSOSessionMaxLifespan *int
	Attributes            map[string]string
	Extra                 map[string]json.RawMessage
}

func (r *RealmRepresentation) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	out := RealmRepresentation{}
	for key, dst := range map[string]interface{}{
		"id":                    &out.ID,
		"realm":                 &out.Realm,
		"enabled":               &out.Enabled,
		"accessTokenLifespan":   &out.AccessTokenLifespan,
		"ssoSessionIdleTimeout": &out.SSOSessionIdleTimeout,
		"ssoSessionMaxLifespan": &out.SSOSessionMaxLifespan,
		"attributes":            &out.Attributes,
	} {
		if err := f.take(key, dst); err != nil {
			return fmt.Errorf("realm: %w", err)
		}
	}
	out.Extra = extraOf(f)
	*r = out
	return nil
}

func (r RealmRepresentation) MarshalJSON() ([]byte, error) {
	f := withExtra(r.Extra)
	if r.Realm != "" {
		if err := f.put("realm", r.Realm); err != nil {
			return nil, err
		}
	}
	if r.Attributes != nil {
		if err := f.put("attributes", r.Attributes); err != nil {
			return nil, err
		}
	}
	for _, err := range []error{
		putPtr(f, "id", r.ID),
		putPtr(f, "enabled", r.Enabled),
		putPtr(f, "accessTokenLifespan", r.AccessTokenLifespan),
		putPtr(f, "ssoSessionIdleTimeout", r.SSOSessionIdleTimeout),
		putPtr(f, "ssoSessionMaxLifespan", r.SSOSessionMaxLifespan),
	} {
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(map[string]json.RawMessage(f))
}

// RealmSettings is the set of realm fields the provisioning plan may patch.
// Nil fields are left as they are on the server.
type RealmSettings struct {
	AccessTokenLifespan   *int
	SSOSessionIdleTimeout *int
	SSOSessionMaxLifespan *int
	// FrontendURL is stored in the realm's attributes, not at the top level.
	FrontendURL *string
}

// IsZero reports whether the settings would change nothing.
func (s RealmSettings) IsZero() bool {
	return s.AccessTokenLifespan == nil && s.SSOSessionIdleTimeout == nil &&
		s.SSOSessionMaxLifespan == nil && s.FrontendURL == nil
}

// ApplyTo overlays the declared settings onto r.
func (s RealmSettings) ApplyTo(r *RealmRepresentation) {
	if s.AccessTokenLifespan != nil {
		r.AccessTokenLifespan = s.AccessTokenLifespan
	}
	if s.SSOSessionIdleTimeout != nil {
		r.SSOSessionIdleTimeout = s.SSOSessionIdleTimeout
	}
	if s.SSOSessionMaxLifespan != nil {
		r.SSOSessionMaxLifespan = s.SSOSessionMaxLifespan
	}
	if s.FrontendURL != nil {
		if r.Attributes == nil {
			r.Attributes = map[string]string{}
		}
		r.Attributes["frontendUrl"] = *s.FrontendURL
	}
}

// ============================================================================
// Client
// ============================================================================

// ClientRepresentation represents a Keycloak client. Unknown fields are
// carried in Extra.
type ClientRepresentation struct {
	ID                     *string
	ClientID               string
	Enabled                *bool
	Protocol               string
	RedirectURIs           []string
	WebOrigins             []string
	StandardFlowEnabled    *bool
	PublicClient           *bool
	ServiceAccountsEnabled *bool
	Attributes             map[string]string
	Extra                  map[string]json.RawMessage
}

func (r *ClientRepresentation) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	out := ClientRepresentation{}
	for key, dst := range map[string]interface{}{
		"id":                     &out.ID,
		"clientId":               &out.ClientID,
		"enabled":                &out.Enabled,
		"protocol":               &out.Protocol,
		"redirectUris":           &out.RedirectURIs,
		"webOrigins":             &out.WebOrigins,
		"standardFlowEnabled":    &out.StandardFlowEnabled,
		"publicClient":           &out.PublicClient,
		"serviceAccountsEnabled": &out.ServiceAccountsEnabled,
		"attributes":             &out.Attributes,
	} {
		if err := f.take(key, dst); err != nil {
			return fmt.Errorf("client: %w", err)
		}
	}
	out.Extra = extraOf(f)
	*r = out
	return nil
}

func (r ClientRepresentation) MarshalJSON() ([]byte, error) {
	f := withExtra(r.Extra)
	if r.ClientID != "" {
		if err := f.put("clientId", r.ClientID); err != nil {
			return nil, err
		}
	}
	if r.Protocol != "" {
		if err := f.put("protocol", r.Protocol); err != nil {
			return nil, err
		}
	}
	if r.RedirectURIs != nil {
		if err := f.put("redirectUris", r.RedirectURIs); err != nil {
			return nil, err
		}
	}
	if r.WebOrigins != nil {
		if err := f.put("webOrigins", r.WebOrigins); err != nil {
			return nil, err
		}
	}
	if r.Attributes != nil {
		if err := f.put("attributes", r.Attributes); err != nil {
			return nil, err
		}
	}
	for _, err := range []error{
		putPtr(f, "id", r.ID),
		putPtr(f, "enabled", r.Enabled),
		putPtr(f, "standardFlowEnabled", r.StandardFlowEnabled),
		putPtr(f, "publicClient", r.PublicClient),
		putPtr(f, "serviceAccountsEnabled", r.ServiceAccountsEnabled),
	} {
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(map[string]json.RawMessage(f))
}

// ClientOptions describes the confidential client to create.
type ClientOptions struct {
	ServiceAccountsEnabled bool
	RedirectURIs           []string
	WebOrigins             []string
}

// ClientTokenLifespans holds the per-client token lifespan overrides in seconds.
type ClientTokenLifespans struct {
	AccessTokenLifespan  *int
	RefreshTokenLifespan *int
}

// IsZero reports whether no lifespan is declared.
func (l ClientTokenLifespans) IsZero() bool {
	return l.AccessTokenLifespan == nil && l.RefreshTokenLifespan == nil
}

// Attributes renders the declared lifespans as client attributes. Keycloak
// stores client attributes as strings.
func (l ClientTokenLifespans) Attributes() map[string]string {
	attrs := map[string]string{}
	if l.AccessTokenLifespan != nil {
		attrs["access.token.lifespan"] = strconv.Itoa(*l.AccessTokenLifespan)
	}
	if l.RefreshTokenLifespan != nil {
		attrs["refresh.token.lifespan"] = strconv.Itoa(*l.RefreshTokenLifespan)
	}
	return attrs
}

// ============================================================================
// Roles, users, credentials
// ============================================================================

// RoleRepresentation represents a Keycloak role
type RoleRepresentation struct {
	ID          *string `json:"id,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Composite   *bool   `json:"composite,omitempty"`
	ClientRole  *bool   `json:"clientRole,omitempty"`
	ContainerID *string `json:"containerId,omitempty"`
}

// UserRepresentation represents a Keycloak user
type UserRepresentation struct {
	ID            *string                    `json:"id,omitempty"`
	Username      *string                    `json:"username,omitempty"`
	Email         *string                    `json:"email,omitempty"`
	EmailVerified *bool                      `json:"emailVerified,omitempty"`
	Enabled       *bool                      `json:"enabled,omitempty"`
	FirstName     *string                    `json:"firstName,omitempty"`
	LastName      *string                    `json:"lastName,omitempty"`
	Credentials   []CredentialRepresentation `json:"credentials,omitempty"`
	Attributes    map[string][]string        `json:"attributes,omitempty"`
}

// CredentialRepresentation represents a user credential or a client secret
type CredentialRepresentation struct {
	Type      string `json:"type,omitempty"`
	Value     string `json:"value,omitempty"`
	Temporary bool   `json:"temporary"`
}

// UserSpec describes a user to create.
type UserSpec struct {
	Username   string
	Password   string
	Email      string
	FirstName  string
	LastName   string
	Attributes map[string][]string
}

// ============================================================================
// Keys
// ============================================================================

// KeysMetadataRepresentation is the response of the realm keys endpoint
type KeysMetadataRepresentation struct {
	Active map[string]string           `json:"active,omitempty"`
	Keys   []KeyMetadataRepresentation `json:"keys"`
}

// KeyMetadataRepresentation describes one realm key
type KeyMetadataRepresentation struct {
	KID         string `json:"kid,omitempty"`
	ProviderID  string `json:"providerId,omitempty"`
	Type        string `json:"type,omitempty"`
	Algorithm   string `json:"algorithm,omitempty"`
	Status      string `json:"status,omitempty"`
	Use         string `json:"use,omitempty"`
	PublicKey   string `json:"publicKey,omitempty"`
	Certificate string `json:"certificate,omitempty"`
}
