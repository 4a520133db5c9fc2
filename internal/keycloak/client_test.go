package keycloak

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/keycloak/keycloaktest"
)

func newTestClient(t *testing.T) (*Client, *keycloaktest.Server) {
	t.Helper()
	srv := keycloaktest.NewServer()
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		BaseURL:  srv.URL,
		Username: keycloaktest.AdminUser,
		Password: keycloaktest.AdminPassword,
	}, testr.New(t))
	return c, srv
}

func authenticated(t *testing.T) (*Client, *keycloaktest.Server) {
	t.Helper()
	c, srv := newTestClient(t)
	require.NoError(t, c.Authenticate(context.Background()))
	return c, srv
}

func ptr[T any](v T) *T {
	return &v
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		c, _ := newTestClient(t)
		assert.False(t, c.Authenticated())
		require.NoError(t, c.Authenticate(ctx))
		assert.True(t, c.Authenticated())
	})

	t.Run("RejectedCredentials", func(t *testing.T) {
		srv := keycloaktest.NewServer()
		defer srv.Close()
		c := NewClient(Config{BaseURL: srv.URL, Username: "admin", Password: "wrong"}, testr.New(t))

		err := c.Authenticate(ctx)
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
		assert.False(t, c.Authenticated())
	})

	t.Run("Unreachable", func(t *testing.T) {
		c := NewClient(Config{BaseURL: "http://127.0.0.1:1", Username: "admin", Password: "admin"}, testr.New(t))
		var authErr *AuthError
		require.ErrorAs(t, c.Authenticate(ctx), &authErr)
		assert.Zero(t, authErr.StatusCode)
	})

	t.Run("CallsFailFastWithoutToken", func(t *testing.T) {
		c, srv := newTestClient(t)
		_, err := c.RealmExists(ctx, "master")
		require.ErrorIs(t, err, ErrNotAuthenticated)
		assert.Empty(t, srv.Requests(), "no request should reach the server")
	})
}

func TestRealmOperations(t *testing.T) {
	ctx := context.Background()
	c, srv := authenticated(t)

	exists, err := c.RealmExists(ctx, "hamam")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, c.CreateRealm(ctx, "hamam"))

	exists, err = c.RealmExists(ctx, "hamam")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, true, srv.RealmDoc("hamam")["enabled"])

	err = c.CreateRealm(ctx, "hamam")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
}

func TestUpdateRealmSettings(t *testing.T) {
	ctx := context.Background()

	t.Run("PreservesUnrelatedFields", func(t *testing.T) {
		c, srv := authenticated(t)
		srv.AddRealm("shop", map[string]interface{}{"foo": "bar"})

		require.NoError(t, c.UpdateRealmSettings(ctx, "shop", RealmSettings{AccessTokenLifespan: ptr(600)}))

		doc := srv.RealmDoc("shop")
		assert.Equal(t, "bar", doc["foo"])
		assert.Equal(t, float64(600), doc["accessTokenLifespan"])
		assert.Equal(t, float64(1800), doc["ssoSessionIdleTimeout"])
		assert.Equal(t, "external", doc["sslRequired"])
	})

	t.Run("FrontendURLMergedIntoAttributes", func(t *testing.T) {
		c, srv := authenticated(t)
		srv.AddRealm("shop", nil)

		require.NoError(t, c.UpdateRealmSettings(ctx, "shop", RealmSettings{FrontendURL: ptr("https://auth.example.com")}))

		doc := srv.RealmDoc("shop")
		assert.NotContains(t, doc, "frontendUrl")
		attrs := doc["attributes"].(map[string]interface{})
		assert.Equal(t, "https://auth.example.com", attrs["frontendUrl"])
		assert.Equal(t, "poll", attrs["cibaBackchannelTokenDeliveryMode"])
	})

	t.Run("SessionLifespans", func(t *testing.T) {
		c, srv := authenticated(t)
		srv.AddRealm("shop", nil)

		require.NoError(t, c.UpdateRealmSettings(ctx, "shop", RealmSettings{
			SSOSessionIdleTimeout: ptr(7200),
			SSOSessionMaxLifespan: ptr(7200),
		}))

		doc := srv.RealmDoc("shop")
		assert.Equal(t, float64(7200), doc["ssoSessionIdleTimeout"])
		assert.Equal(t, float64(7200), doc["ssoSessionMaxLifespan"])
		assert.Equal(t, float64(300), doc["accessTokenLifespan"])
	})

	t.Run("MissingRealm", func(t *testing.T) {
		c, _ := authenticated(t)
		err := c.UpdateRealmSettings(ctx, "missing", RealmSettings{AccessTokenLifespan: ptr(1)})
		assert.True(t, IsNotFound(err))
	})
}

func TestClientOperations(t *testing.T) {
	ctx := context.Background()
	c, srv := authenticated(t)
	require.NoError(t, c.CreateRealm(ctx, "hamam"))

	exists, err := c.ClientExists(ctx, "hamam", "api")
	require.NoError(t, err)
	assert.False(t, exists)

	srv.Fail(http.MethodGet, "/admin/realms/hamam/clients", http.StatusForbidden)
	_, err = c.ClientExists(ctx, "hamam", "api")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	srv.ClearFailures()

	_, err = c.ResolveClientID(ctx, "hamam", "api")
	require.ErrorIs(t, err, ErrNotFound)

	id, err := c.CreateClient(ctx, "hamam", "api", ClientOptions{
		ServiceAccountsEnabled: true,
		RedirectURIs:           []string{"https://app.example.com/*"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	resolved, err := c.ResolveClientID(ctx, "hamam", "api")
	require.NoError(t, err)
	assert.Equal(t, id, resolved)

	doc := srv.ClientDoc("hamam", "api")
	assert.Equal(t, "openid-connect", doc["protocol"])
	assert.Equal(t, false, doc["publicClient"])
	assert.Equal(t, true, doc["standardFlowEnabled"])
	assert.Equal(t, true, doc["serviceAccountsEnabled"])
	assert.Equal(t, []interface{}{"https://app.example.com/*"}, doc["redirectUris"])
	assert.Equal(t, []interface{}{}, doc["webOrigins"])

	t.Run("AttributesReplacedWholesale", func(t *testing.T) {
		require.NoError(t, c.UpdateClientAttributes(ctx, "hamam", "api", ClientTokenLifespans{
			AccessTokenLifespan: ptr(900),
		}.Attributes()))

		doc := srv.ClientDoc("hamam", "api")
		assert.Equal(t, map[string]interface{}{"access.token.lifespan": "900"}, doc["attributes"])
		assert.Equal(t, "openid-connect", doc["protocol"], "other client fields must survive")
	})

	t.Run("Secret", func(t *testing.T) {
		secret, err := c.ClientSecret(ctx, "hamam", "api")
		require.NoError(t, err)
		assert.Equal(t, srv.ClientSecret("hamam", "api"), secret)
	})

	t.Run("SecretOfMissingClient", func(t *testing.T) {
		_, err := c.ClientSecret(ctx, "hamam", "web")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRoleOperations(t *testing.T) {
	ctx := context.Background()
	c, srv := authenticated(t)
	require.NoError(t, c.CreateRealm(ctx, "hamam"))

	exists, err := c.RoleExists(ctx, "hamam", "admin")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, c.CreateRealmRole(ctx, "hamam", "admin"))
	require.NoError(t, c.CreateRealmRole(ctx, "hamam", "customer"))

	exists, err = c.RoleExists(ctx, "hamam", "admin")
	require.NoError(t, err)
	assert.True(t, exists)

	userID, err := c.CreateUser(ctx, "hamam", UserSpec{Username: "ali", Password: "password"})
	require.NoError(t, err)

	require.NoError(t, c.AssignRealmRole(ctx, "hamam", userID, "customer"))
	require.NoError(t, c.AssignRealmRole(ctx, "hamam", userID, "admin"))
	assert.Equal(t, []string{"customer", "admin"}, srv.UserRealmRoles("hamam", "ali"))

	err = c.AssignRealmRole(ctx, "hamam", userID, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGrantServiceAccountRoles(t *testing.T) {
	ctx := context.Background()

	t.Run("BindsExactlyTheUserRoles", func(t *testing.T) {
		c, srv := authenticated(t)
		require.NoError(t, c.CreateRealm(ctx, "hamam"))
		_, err := c.CreateClient(ctx, "hamam", "api", ClientOptions{ServiceAccountsEnabled: true})
		require.NoError(t, err)

		granted, err := c.GrantServiceAccountRoles(ctx, "hamam", "api")
		require.NoError(t, err)
		assert.Equal(t, 3, granted)
		assert.Equal(t, []string{"manage-users", "query-users", "view-users"}, srv.ServiceAccountRoles("hamam", "api"))

		srv.ResetCounters()
		granted, err = c.GrantServiceAccountRoles(ctx, "hamam", "api")
		require.NoError(t, err)
		assert.Zero(t, granted)
		assert.Zero(t, srv.Mutations())
	})

	t.Run("ServiceAccountsDisabled", func(t *testing.T) {
		c, _ := authenticated(t)
		require.NoError(t, c.CreateRealm(ctx, "hamam"))
		_, err := c.CreateClient(ctx, "hamam", "web", ClientOptions{})
		require.NoError(t, err)

		_, err = c.GrantServiceAccountRoles(ctx, "hamam", "web")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	})

	t.Run("MissingClient", func(t *testing.T) {
		c, _ := authenticated(t)
		require.NoError(t, c.CreateRealm(ctx, "hamam"))

		_, err := c.GrantServiceAccountRoles(ctx, "hamam", "api")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUserOperations(t *testing.T) {
	ctx := context.Background()
	c, srv := authenticated(t)
	require.NoError(t, c.CreateRealm(ctx, "hamam"))
	srv.AddUser("hamam", "admin")

	t.Run("ExistsIgnoresCase", func(t *testing.T) {
		exists, err := c.UserExists(ctx, "hamam", "Admin")
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = c.UserExists(ctx, "hamam", "nobody")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("Create", func(t *testing.T) {
		id, err := c.CreateUser(ctx, "hamam", UserSpec{
			Username:   "ali",
			Password:   "s3cret",
			Email:      "ali@example.com",
			Attributes: map[string][]string{"deleted": {"false"}},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		doc := srv.UserDoc("hamam", "ali")
		require.NotNil(t, doc)
		assert.Equal(t, id, doc["id"])
		assert.Equal(t, true, doc["enabled"])
		assert.Equal(t, "ali@example.com", doc["email"])
		assert.Equal(t, map[string]interface{}{"deleted": []interface{}{"false"}}, doc["attributes"])

		creds := doc["credentials"].([]interface{})
		require.Len(t, creds, 1)
		cred := creds[0].(map[string]interface{})
		assert.Equal(t, "password", cred["type"])
		assert.Equal(t, "s3cret", cred["value"])
		assert.Equal(t, false, cred["temporary"])
	})

	t.Run("LookupFailureIsReturned", func(t *testing.T) {
		srv.Fail(http.MethodGet, "/admin/realms/hamam/users", http.StatusInternalServerError)
		defer srv.ClearFailures()

		exists, err := c.UserExists(ctx, "hamam", "admin")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
		assert.False(t, exists)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		_, err := c.CreateUser(ctx, "hamam", UserSpec{Username: "ADMIN", Password: "x"})
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	})
}

func TestProfileAttributes(t *testing.T) {
	ctx := context.Background()
	c, srv := authenticated(t)
	require.NoError(t, c.CreateRealm(ctx, "hamam"))

	exists, err := c.ProfileAttributeExists(ctx, "hamam", "deleted")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, c.CreateProfileAttribute(ctx, "hamam", ProfileAttribute{Name: "deleted", Required: true}))

	exists, err = c.ProfileAttributeExists(ctx, "hamam", "deleted")
	require.NoError(t, err)
	assert.True(t, exists)

	attr := srv.ProfileAttribute("hamam", "deleted")
	assert.Equal(t, "deleted", attr["displayName"])
	assert.Equal(t, map[string]interface{}{"roles": []interface{}{"user"}}, attr["required"])
	assert.Equal(t, map[string]interface{}{
		"view": []interface{}{"admin"},
		"edit": []interface{}{"admin"},
	}, attr["permissions"])

	// untouched parts of the profile survive the rewrite
	assert.NotNil(t, srv.ProfileAttribute("hamam", "username"))
	assert.Contains(t, srv.ProfileDoc("hamam"), "groups")

	require.NoError(t, c.CreateProfileAttribute(ctx, "hamam", ProfileAttribute{Name: "nickname"}))
	attr = srv.ProfileAttribute("hamam", "nickname")
	assert.NotContains(t, attr, "required")
	assert.NotContains(t, attr, "permissions")
}

func TestSigningKey(t *testing.T) {
	ctx := context.Background()

	t.Run("FirstActiveRSASigningKey", func(t *testing.T) {
		c, _ := authenticated(t)
		require.NoError(t, c.CreateRealm(ctx, "hamam"))

		key, err := c.SigningKey(ctx, "hamam")
		require.NoError(t, err)
		assert.Equal(t, "MIIBIjANBgkq-hamam", key)
	})

	t.Run("SkipsPassiveKeys", func(t *testing.T) {
		c, srv := authenticated(t)
		require.NoError(t, c.CreateRealm(ctx, "hamam"))
		srv.SetKeys("hamam", []map[string]interface{}{
			{"type": "RSA", "use": "SIG", "status": "PASSIVE", "publicKey": "old"},
			{"type": "RSA", "use": "SIG", "publicKey": "new"},
		})

		key, err := c.SigningKey(ctx, "hamam")
		require.NoError(t, err)
		assert.Equal(t, "new", key)
	})

	t.Run("NoneFound", func(t *testing.T) {
		c, srv := authenticated(t)
		require.NoError(t, c.CreateRealm(ctx, "hamam"))
		srv.SetKeys("hamam", []map[string]interface{}{
			{"type": "OCT", "use": "SIG", "status": "ACTIVE"},
		})

		_, err := c.SigningKey(ctx, "hamam")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAPIError(t *testing.T) {
	ctx := context.Background()
	c, srv := authenticated(t)
	srv.Fail(http.MethodPost, "/admin/realms", http.StatusInternalServerError)

	err := c.CreateRealm(ctx, "hamam")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "/admin/realms", apiErr.Path)
	assert.Contains(t, err.Error(), "injected failure")
	assert.False(t, IsNotFound(err))
	assert.False(t, errors.Is(err, ErrNotAuthenticated))
}

func TestCreateUserWithoutLocation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/master/protocol/openid-connect/token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"t","expires_in":60,"token_type":"Bearer"}`))
	})
	mux.HandleFunc("POST /admin/realms/hamam/users", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Username: "admin", Password: "admin"}, testr.New(t))
	require.NoError(t, c.Authenticate(context.Background()))

	_, err := c.CreateUser(context.Background(), "hamam", UserSpec{Username: "ali", Password: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no id in Location header")
}
