package setup

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/config"
	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/configstore"
	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/keycloak"
	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/keycloak/keycloaktest"
)

func ptr[T any](v T) *T {
	return &v
}

type fixture struct {
	srv    *keycloaktest.Server
	engine *Engine
}

func newFixture(t *testing.T, password string) *fixture {
	t.Helper()
	srv := keycloaktest.NewServer()
	t.Cleanup(srv.Close)

	log := testr.New(t)
	api := keycloak.NewClient(keycloak.Config{
		BaseURL:  srv.URL,
		Username: keycloaktest.AdminUser,
		Password: password,
	}, log)
	return &fixture{srv: srv, engine: NewEngine(api, &configstore.Opener{}, log)}
}

func hamam() *config.Keycloak {
	return &config.Keycloak{
		BaseURL:       "http://keycloak:8080",
		AdminUser:     keycloaktest.AdminUser,
		AdminPass:     keycloaktest.AdminPassword,
		RealmName:     "hamam",
		ClientID:      "api",
		ClientOptions: config.ClientOptions{ServiceAccountsEnabled: true},
		Roles:         []string{"admin", "customer"},
		Users: []config.User{
			{Username: "ali", Password: "password", Roles: []string{"customer"}},
		},
	}
}

func fullConfig() *config.Keycloak {
	cfg := hamam()
	cfg.AccessTokenLifespan = ptr(3600)
	cfg.RefreshTokenLifespan = ptr(86400)
	cfg.ClientAccessTokenLifespan = ptr(900)
	cfg.FrontendURL = ptr("https://auth.hamam.local")
	cfg.ProfileAttributes = []config.ProfileAttribute{{Name: "deleted", Required: true}}
	cfg.Users = append(cfg.Users, config.User{
		Username:   "root",
		Password:   "toor",
		Roles:      []string{"admin", "customer"},
		Attributes: map[string][]string{"deleted": {"false"}},
	})
	return cfg
}

func mutations(requests []string) []string {
	var out []string
	for _, r := range requests {
		if !strings.HasPrefix(r, "GET ") {
			out = append(out, r)
		}
	}
	return out
}

func outcomes(results []Result) map[string]Outcome {
	out := map[string]Outcome{}
	for _, r := range results {
		out[r.Step] = r.Outcome
	}
	return out
}

// ============================================================================
// Plans
// ============================================================================

func noop(context.Context, logr.Logger) (Outcome, error) {
	return OutcomeApplied, nil
}

func TestPlanValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		p := &Plan{Name: "test"}
		p.Add("a", noop)
		p.Add("b", noop, "a")
		p.Add("c", noop, "a", "b")
		assert.NoError(t, p.Validate())
	})

	t.Run("DuplicateName", func(t *testing.T) {
		p := &Plan{Name: "test"}
		p.Add("a", noop)
		p.Add("a", noop)
		assert.ErrorContains(t, p.Validate(), "Duplicate value")
	})

	t.Run("ForwardReference", func(t *testing.T) {
		p := &Plan{Name: "test"}
		p.Add("a", noop, "b")
		p.Add("b", noop)
		assert.ErrorContains(t, p.Validate(), "must name an earlier step")
	})

	t.Run("UnknownReference", func(t *testing.T) {
		p := &Plan{Name: "test"}
		p.Add("a", noop, "ghost")
		assert.ErrorContains(t, p.Validate(), "ghost")
	})

	t.Run("MissingRun", func(t *testing.T) {
		p := &Plan{Name: "test", Steps: []Step{{Name: "a"}}}
		assert.Error(t, p.Validate())
	})
}

func TestEngineRun(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(nil, nil, testr.New(t))

	t.Run("StopsAtFirstFailure", func(t *testing.T) {
		boom := errors.New("boom")
		ran := []string{}
		step := func(name string, err error) StepFunc {
			return func(context.Context, logr.Logger) (Outcome, error) {
				ran = append(ran, name)
				return OutcomeCreated, err
			}
		}

		p := &Plan{Name: "test"}
		p.Add("a", step("a", nil))
		p.Add("b", step("b", boom), "a")
		p.Add("c", step("c", nil), "a")

		results, err := engine.Run(ctx, p)
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)

		var stepErr *StepError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, "b", stepErr.Step)
		assert.Equal(t, "test", stepErr.Plan)
		assert.Contains(t, err.Error(), `step "b" failed`)

		assert.Equal(t, []string{"a", "b"}, ran)
		require.Len(t, results, 2)
		assert.Equal(t, OutcomeCreated, results[0].Outcome)
		assert.Equal(t, OutcomeFailed, results[1].Outcome)
		assert.Equal(t, "boom", results[1].Error)
	})

	t.Run("InvalidPlanRunsNothing", func(t *testing.T) {
		ran := false
		p := &Plan{Name: "test"}
		p.Add("a", func(context.Context, logr.Logger) (Outcome, error) {
			ran = true
			return OutcomeApplied, nil
		}, "later")

		_, err := engine.Run(ctx, p)
		require.Error(t, err)
		assert.False(t, ran)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		cancel()

		p := &Plan{Name: "test"}
		p.Add("a", noop)
		results, err := engine.Run(ctx, p)
		assert.ErrorIs(t, err, context.Canceled)
		require.Len(t, results, 1)
		assert.Equal(t, OutcomeFailed, results[0].Outcome)
	})
}

func TestProvisionPlan(t *testing.T) {
	engine := NewEngine(nil, nil, testr.New(t))

	t.Run("Full", func(t *testing.T) {
		plan := engine.ProvisionPlan(fullConfig())
		require.NoError(t, plan.Validate())
		assert.Equal(t, []string{
			"authenticate",
			"realm",
			"client",
			"service-account-roles",
			"role/admin",
			"role/customer",
			"realm/access-token-lifespan",
			"realm/session-lifespan",
			"realm/frontend-url",
			"client/token-lifespans",
			"profile-attribute/deleted",
			"user/ali",
			"user/root",
		}, plan.Names())
	})

	t.Run("Minimal", func(t *testing.T) {
		cfg := hamam()
		cfg.ClientOptions.ServiceAccountsEnabled = false
		cfg.Roles = nil
		cfg.Users = nil

		plan := engine.ProvisionPlan(cfg)
		assert.Equal(t, []string{"authenticate", "realm", "client"}, plan.Names())
	})

	t.Run("Dependencies", func(t *testing.T) {
		cfg := fullConfig()
		cfg.Users[1].Roles = []string{"admin", "offline_access", "admin"}
		plan := engine.ProvisionPlan(cfg)

		requires := map[string][]string{}
		for _, s := range plan.Steps {
			requires[s.Name] = s.Requires
		}
		assert.Equal(t, []string{"client"}, requires["service-account-roles"])
		assert.Equal(t, []string{"realm"}, requires["role/admin"])
		assert.Equal(t, []string{"client"}, requires["client/token-lifespans"])
		assert.Equal(t, []string{"realm", "role/customer"}, requires["user/ali"])
		// Undeclared roles are not steps of the plan; duplicates are required once.
		assert.Equal(t, []string{"realm", "role/admin"}, requires["user/root"])
	})
}

// ============================================================================
// Provisioning
// ============================================================================

func TestProvision_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, keycloaktest.AdminPassword)

	results, err := f.engine.Provision(ctx, hamam())
	require.NoError(t, err)

	assert.Equal(t, map[string]Outcome{
		"authenticate":          OutcomeApplied,
		"realm":                 OutcomeCreated,
		"client":                OutcomeCreated,
		"service-account-roles": OutcomeApplied,
		"role/admin":            OutcomeCreated,
		"role/customer":         OutcomeCreated,
		"user/ali":              OutcomeCreated,
	}, outcomes(results))

	writes := mutations(f.srv.Requests())
	require.Len(t, writes, 7)
	assert.Equal(t, "POST /admin/realms", writes[0])
	assert.Equal(t, "POST /admin/realms/hamam/clients", writes[1])
	assert.Contains(t, writes[2], "/role-mappings/clients/")
	assert.Equal(t, "POST /admin/realms/hamam/roles", writes[3])
	assert.Equal(t, "POST /admin/realms/hamam/roles", writes[4])
	assert.Equal(t, "POST /admin/realms/hamam/users", writes[5])
	assert.True(t, strings.HasSuffix(writes[6], "/role-mappings/realm"))

	assert.Equal(t, []string{"manage-users", "query-users", "view-users"}, f.srv.ServiceAccountRoles("hamam", "api"))
	assert.Equal(t, []string{"admin", "customer"}, f.srv.Roles("hamam"))
	assert.Equal(t, []string{"ali"}, f.srv.Usernames("hamam"))
	assert.Equal(t, []string{"customer"}, f.srv.UserRealmRoles("hamam", "ali"))

	// A second identical run only checks.
	f.srv.ResetCounters()
	results, err = f.engine.Provision(ctx, hamam())
	require.NoError(t, err)
	assert.Zero(t, f.srv.Mutations())
	assert.Zero(t, f.srv.Creates())
	for _, r := range results {
		if r.Step != StepAuthenticate {
			assert.Equal(t, OutcomeExists, r.Outcome, r.Step)
		}
	}
}

func TestProvision_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, keycloaktest.AdminPassword)
	cfg := fullConfig()

	_, err := f.engine.Provision(ctx, cfg)
	require.NoError(t, err)

	realm := f.srv.RealmDoc("hamam")
	client := f.srv.ClientDoc("hamam", "api")
	creates := f.srv.Creates()
	assert.Equal(t, 6, creates, "realm, client, two roles, two users")

	f.srv.ResetCounters()
	_, err = f.engine.Provision(ctx, cfg)
	require.NoError(t, err)

	assert.Zero(t, f.srv.Creates())
	assert.Equal(t, realm, f.srv.RealmDoc("hamam"))
	assert.Equal(t, client, f.srv.ClientDoc("hamam", "api"))
	assert.Equal(t, []string{"admin", "customer"}, f.srv.Roles("hamam"))
	assert.Equal(t, []string{"ali", "root"}, f.srv.Usernames("hamam"))
	assert.Equal(t, []string{"admin", "customer"}, f.srv.UserRealmRoles("hamam", "root"))
}

func TestProvision_RealmSettings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, keycloaktest.AdminPassword)
	f.srv.AddRealm("hamam", map[string]interface{}{"foo": "bar"})

	_, err := f.engine.Provision(ctx, fullConfig())
	require.NoError(t, err)

	realm := f.srv.RealmDoc("hamam")
	assert.Equal(t, "bar", realm["foo"])
	assert.Equal(t, float64(3600), realm["accessTokenLifespan"])
	assert.Equal(t, float64(86400), realm["ssoSessionIdleTimeout"])
	assert.Equal(t, float64(86400), realm["ssoSessionMaxLifespan"])
	attrs := realm["attributes"].(map[string]interface{})
	assert.Equal(t, "https://auth.hamam.local", attrs["frontendUrl"])

	client := f.srv.ClientDoc("hamam", "api")
	assert.Equal(t, map[string]interface{}{"access.token.lifespan": "900"}, client["attributes"])

	attr := f.srv.ProfileAttribute("hamam", "deleted")
	require.NotNil(t, attr)
	assert.Equal(t, map[string]interface{}{"roles": []interface{}{"user"}}, attr["required"])

	user := f.srv.UserDoc("hamam", "root")
	assert.Equal(t, map[string]interface{}{"deleted": []interface{}{"false"}}, user["attributes"])
}

func TestProvision_RoleAssignmentOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("NewUser", func(t *testing.T) {
		f := newFixture(t, keycloaktest.AdminPassword)
		cfg := hamam()
		cfg.Users = []config.User{{Username: "ali", Roles: []string{"admin", "customer"}}}

		_, err := f.engine.Provision(ctx, cfg)
		require.NoError(t, err)
		assert.Equal(t, []string{"admin", "customer"}, f.srv.UserRealmRoles("hamam", "ali"))
	})

	t.Run("ExistingUserIgnoringCase", func(t *testing.T) {
		f := newFixture(t, keycloaktest.AdminPassword)
		f.srv.AddRealm("hamam", nil)
		f.srv.AddUser("hamam", "ali")

		cfg := hamam()
		cfg.Users = []config.User{{Username: "Ali", Roles: []string{"admin", "customer"}}}

		results, err := f.engine.Provision(ctx, cfg)
		require.NoError(t, err)
		assert.Equal(t, OutcomeExists, outcomes(results)["user/Ali"])
		assert.Empty(t, f.srv.UserRealmRoles("hamam", "ali"))
		for _, r := range f.srv.Requests() {
			assert.NotContains(t, r, "/role-mappings/realm")
		}
	})
}

func TestProvision_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("RejectedCredentials", func(t *testing.T) {
		f := newFixture(t, "wrong")
		results, err := f.engine.Provision(ctx, hamam())
		require.Error(t, err)
		assert.Equal(t, ClassAuth, Classify(err))
		require.Len(t, results, 1)
		assert.Empty(t, f.srv.Requests())
		assert.Nil(t, f.srv.RealmDoc("hamam"))
	})

	t.Run("ResumesAfterPartialFailure", func(t *testing.T) {
		f := newFixture(t, keycloaktest.AdminPassword)
		f.srv.Fail(http.MethodPost, "/admin/realms/hamam/users", http.StatusInternalServerError)

		results, err := f.engine.Provision(ctx, hamam())
		require.Error(t, err)
		assert.Equal(t, ClassTransport, Classify(err))
		var stepErr *StepError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, "user/ali", stepErr.Step)
		assert.Equal(t, OutcomeFailed, results[len(results)-1].Outcome)
		assert.Equal(t, []string{"admin", "customer"}, f.srv.Roles("hamam"))
		assert.Empty(t, f.srv.Usernames("hamam"))

		f.srv.ClearFailures()
		f.srv.ResetCounters()
		results, err = f.engine.Provision(ctx, hamam())
		require.NoError(t, err)
		assert.Equal(t, 1, f.srv.Creates(), "only the missing user is created")
		assert.Equal(t, OutcomeCreated, outcomes(results)["user/ali"])
		assert.Equal(t, []string{"customer"}, f.srv.UserRealmRoles("hamam", "ali"))
	})

	t.Run("ClientLookupFailureStopsBeforeCreate", func(t *testing.T) {
		f := newFixture(t, keycloaktest.AdminPassword)
		f.srv.Fail(http.MethodGet, "/admin/realms/hamam/clients", http.StatusForbidden)

		results, err := f.engine.Provision(ctx, hamam())
		require.Error(t, err)
		assert.Equal(t, ClassTransport, Classify(err))
		var stepErr *StepError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, StepClient, stepErr.Step)
		assert.Equal(t, OutcomeFailed, outcomes(results)[StepClient])
		assert.NotContains(t, f.srv.Requests(), "POST /admin/realms/hamam/clients")
	})

	t.Run("UserLookupFailureStopsBeforeCreate", func(t *testing.T) {
		f := newFixture(t, keycloaktest.AdminPassword)
		_, err := f.engine.Provision(ctx, hamam())
		require.NoError(t, err)

		f.srv.ResetCounters()
		f.srv.Fail(http.MethodGet, "/admin/realms/hamam/users", http.StatusInternalServerError)

		results, err := f.engine.Provision(ctx, hamam())
		require.Error(t, err)
		assert.Equal(t, ClassTransport, Classify(err))
		var stepErr *StepError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, "user/ali", stepErr.Step)
		assert.Equal(t, OutcomeFailed, outcomes(results)["user/ali"])
		assert.NotContains(t, f.srv.Requests(), "POST /admin/realms/hamam/users")
		assert.Zero(t, f.srv.Mutations())
	})

	t.Run("UndeclaredRoleMissing", func(t *testing.T) {
		f := newFixture(t, keycloaktest.AdminPassword)
		cfg := hamam()
		cfg.Users = []config.User{{Username: "ali", Roles: []string{"ghost"}}}

		_, err := f.engine.Provision(ctx, cfg)
		require.Error(t, err)
		assert.Equal(t, ClassDependency, Classify(err))
	})
}

// ============================================================================
// Propagation
// ============================================================================

func TestPropagate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, keycloaktest.AdminPassword)
	cfg := hamam()
	_, err := f.engine.Provision(ctx, cfg)
	require.NoError(t, err)

	dir := t.TempDir()
	apiSettings := filepath.Join(dir, "api", "appsettings.json")
	webSettings := filepath.Join(dir, "web", "settings.json")
	unusedSettings := filepath.Join(dir, "unused", "settings.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(apiSettings), 0755))
	require.NoError(t, os.WriteFile(apiSettings, []byte(`{"foo":"bar","client_secret":"stale"}`), 0644))

	env := &config.Env{
		Files: map[string]string{
			"api":    apiSettings,
			"web":    webSettings,
			"unused": unusedSettings,
		},
		Env: map[string]string{
			"client_secret": "api",
			"signing_key":   "web",
			"database_url":  "unused",
		},
	}

	results, err := f.engine.Propagate(ctx, cfg, env)
	require.NoError(t, err)
	assert.Equal(t, map[string]Outcome{
		"authenticate":         OutcomeApplied,
		"secret/client_secret": OutcomeApplied,
		"secret/database_url":  OutcomeIgnored,
		"secret/signing_key":   OutcomeApplied,
	}, outcomes(results))

	data, err := os.ReadFile(apiSettings)
	require.NoError(t, err)
	assert.JSONEq(t, `{"foo":"bar","client_secret":"`+f.srv.ClientSecret("hamam", "api")+`"}`, string(data))

	data, err = os.ReadFile(webSettings)
	require.NoError(t, err)
	assert.JSONEq(t, `{"signing_key":"MIIBIjANBgkq-hamam"}`, string(data))

	assert.NoFileExists(t, unusedSettings, "unmatched keys must not touch any file")
}

func TestPropagate_MissingFileReference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, keycloaktest.AdminPassword)
	cfg := hamam()
	_, err := f.engine.Provision(ctx, cfg)
	require.NoError(t, err)

	env := &config.Env{
		Files: map[string]string{},
		Env:   map[string]string{"client_secret": "api"},
	}
	results, err := f.engine.Propagate(ctx, cfg, env)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcomes(results)["secret/client_secret"])
}

func TestPropagate_FetchFailureLeavesFilesUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, keycloaktest.AdminPassword)
	cfg := hamam()

	target := filepath.Join(t.TempDir(), "settings.json")
	env := &config.Env{
		Files: map[string]string{"api": target},
		Env:   map[string]string{"client_secret": "api"},
	}

	// Realm was never provisioned, so the client cannot be resolved.
	_, err := f.engine.Propagate(ctx, cfg, env)
	require.Error(t, err)
	assert.Equal(t, ClassDependency, Classify(err))
	assert.NoFileExists(t, target)
}

func TestPropagate_KubernetesSecret(t *testing.T) {
	ctx := context.Background()
	srv := keycloaktest.NewServer()
	defer srv.Close()

	log := testr.New(t)
	api := keycloak.NewClient(keycloak.Config{
		BaseURL:  srv.URL,
		Username: keycloaktest.AdminUser,
		Password: keycloaktest.AdminPassword,
	}, log)
	kube := fake.NewClientBuilder().Build()
	engine := NewEngine(api, &configstore.Opener{
		NewClient: func() (client.Client, error) { return kube, nil },
	}, log)

	cfg := hamam()
	_, err := engine.Provision(ctx, cfg)
	require.NoError(t, err)

	_, err = engine.Propagate(ctx, cfg, &config.Env{
		Files: map[string]string{"api": "secret://apps/api-keycloak"},
		Env:   map[string]string{"client_secret": "api", "signing_key": "api"},
	})
	require.NoError(t, err)

	secret := &corev1.Secret{}
	require.NoError(t, kube.Get(ctx, types.NamespacedName{Namespace: "apps", Name: "api-keycloak"}, secret))
	assert.Equal(t, srv.ClientSecret("hamam", "api"), string(secret.Data["client_secret"]))
	assert.Equal(t, "MIIBIjANBgkq-hamam", string(secret.Data["signing_key"]))
}

func TestPropagatePlan(t *testing.T) {
	engine := NewEngine(nil, nil, testr.New(t))
	plan := engine.PropagatePlan(hamam(), &config.Env{
		Env: map[string]string{"signing_key": "a", "client_secret": "a", "other": "b"},
	})
	require.NoError(t, plan.Validate())
	assert.Equal(t, []string{
		"authenticate",
		"secret/client_secret",
		"secret/other",
		"secret/signing_key",
	}, plan.Names())
}
