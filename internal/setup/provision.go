package setup

import (
	"context"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/config"
	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/keycloak"
)

// ProvisionPlanName names the provisioning plan in logs, results and metrics.
const ProvisionPlanName = "provision"

// Step names of the provisioning plan
const (
	StepAuthenticate        = "authenticate"
	StepRealm               = "realm"
	StepClient              = "client"
	StepServiceAccountRoles = "service-account-roles"
	StepAccessTokenLifespan = "realm/access-token-lifespan"
	StepSessionLifespan     = "realm/session-lifespan"
	StepFrontendURL         = "realm/frontend-url"
	StepClientLifespans     = "client/token-lifespans"
)

// RoleStep is the name of the step creating a realm role
func RoleStep(role string) string {
	return "role/" + role
}

// UserStep is the name of the step creating a user
func UserStep(username string) string {
	return "user/" + username
}

// ProfileAttributeStep is the name of the step creating a user-profile attribute
func ProfileAttributeStep(name string) string {
	return "profile-attribute/" + name
}

// ProvisionPlan builds the provisioning plan for cfg. Steps for features cfg
// does not declare are left out.
func (e *Engine) ProvisionPlan(cfg *config.Keycloak) *Plan {
	realm, clientID := cfg.RealmName, cfg.ClientID
	plan := &Plan{Name: ProvisionPlanName}

	plan.Add(StepAuthenticate, e.authenticateStep)

	plan.Add(StepRealm, func(ctx context.Context, log logr.Logger) (Outcome, error) {
		return ensure(log, "realm", realm,
			func() (bool, error) { return e.api.RealmExists(ctx, realm) },
			func() error { return e.api.CreateRealm(ctx, realm) })
	}, StepAuthenticate)

	plan.Add(StepClient, func(ctx context.Context, log logr.Logger) (Outcome, error) {
		return ensure(log, "client", clientID,
			func() (bool, error) { return e.api.ClientExists(ctx, realm, clientID) },
			func() error {
				_, err := e.api.CreateClient(ctx, realm, clientID, keycloak.ClientOptions{
					ServiceAccountsEnabled: cfg.ClientOptions.ServiceAccountsEnabled,
					RedirectURIs:           cfg.ClientOptions.RedirectURIs,
					WebOrigins:             cfg.ClientOptions.WebOrigins,
				})
				return err
			})
	}, StepRealm)

	if cfg.ClientOptions.ServiceAccountsEnabled {
		plan.Add(StepServiceAccountRoles, func(ctx context.Context, log logr.Logger) (Outcome, error) {
			log.Info("Assigning realm-management roles to service account", "client", clientID, "roles", sets.List(keycloak.ServiceAccountRoles))
			granted, err := e.api.GrantServiceAccountRoles(ctx, realm, clientID)
			if err != nil {
				return OutcomeFailed, err
			}
			if granted == 0 {
				log.Info("Service account roles already assigned", "client", clientID)
				return OutcomeExists, nil
			}
			return OutcomeApplied, nil
		}, StepClient)
	}

	declaredRoles := sets.New[string]()
	for _, role := range cfg.Roles {
		declaredRoles.Insert(role)
		plan.Add(RoleStep(role), func(ctx context.Context, log logr.Logger) (Outcome, error) {
			return ensure(log, "role", role,
				func() (bool, error) { return e.api.RoleExists(ctx, realm, role) },
				func() error { return e.api.CreateRealmRole(ctx, realm, role) })
		}, StepRealm)
	}

	if v := cfg.AccessTokenLifespan; v != nil {
		plan.Add(StepAccessTokenLifespan, e.realmSettingsStep(realm, keycloak.RealmSettings{
			AccessTokenLifespan: v,
		}), StepRealm)
	}

	// Idle and max session lifespans are both taken from the refresh token
	// lifespan and cannot be set independently.
	if v := cfg.RefreshTokenLifespan; v != nil {
		plan.Add(StepSessionLifespan, e.realmSettingsStep(realm, keycloak.RealmSettings{
			SSOSessionIdleTimeout: v,
			SSOSessionMaxLifespan: v,
		}), StepRealm)
	}

	if v := cfg.FrontendURL; v != nil {
		plan.Add(StepFrontendURL, e.realmSettingsStep(realm, keycloak.RealmSettings{
			FrontendURL: v,
		}), StepRealm)
	}

	lifespans := keycloak.ClientTokenLifespans{
		AccessTokenLifespan:  cfg.ClientAccessTokenLifespan,
		RefreshTokenLifespan: cfg.ClientRefreshTokenLifespan,
	}
	if !lifespans.IsZero() {
		plan.Add(StepClientLifespans, func(ctx context.Context, log logr.Logger) (Outcome, error) {
			attrs := lifespans.Attributes()
			log.Info("Updating client token lifespans", "client", clientID, "attributes", attrs)
			if err := e.api.UpdateClientAttributes(ctx, realm, clientID, attrs); err != nil {
				return OutcomeFailed, err
			}
			return OutcomeApplied, nil
		}, StepClient)
	}

	for _, attr := range cfg.ProfileAttributes {
		plan.Add(ProfileAttributeStep(attr.Name), func(ctx context.Context, log logr.Logger) (Outcome, error) {
			return ensure(log, "profile attribute", attr.Name,
				func() (bool, error) { return e.api.ProfileAttributeExists(ctx, realm, attr.Name) },
				func() error {
					return e.api.CreateProfileAttribute(ctx, realm, keycloak.ProfileAttribute{
						Name:     attr.Name,
						Required: attr.Required,
					})
				})
		}, StepRealm)
	}

	for _, user := range cfg.Users {
		requires := []string{StepRealm}
		seen := sets.New[string]()
		for _, role := range user.Roles {
			if declaredRoles.Has(role) && !seen.Has(role) {
				requires = append(requires, RoleStep(role))
				seen.Insert(role)
			}
		}
		plan.Add(UserStep(user.Username), e.userStep(realm, user), requires...)
	}

	return plan
}

// Provision runs the provisioning plan for cfg.
func (e *Engine) Provision(ctx context.Context, cfg *config.Keycloak) ([]Result, error) {
	plan := e.ProvisionPlan(cfg)
	log := e.log.WithValues("realm", cfg.RealmName)
	log.Info("Provisioning realm", "steps", len(plan.Steps))
	if len(cfg.Users) == 0 {
		log.Info("No users to create")
	}

	results, err := e.Run(ctx, plan)
	if err != nil {
		return results, err
	}
	log.Info("Realm provisioned")
	return results, nil
}

func (e *Engine) realmSettingsStep(realm string, settings keycloak.RealmSettings) StepFunc {
	return func(ctx context.Context, log logr.Logger) (Outcome, error) {
		log.Info("Updating realm settings", "realm", realm)
		if err := e.api.UpdateRealmSettings(ctx, realm, settings); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeApplied, nil
	}
}

// userStep creates the user and binds its roles in declared order. An
// existing user is left alone, roles included.
func (e *Engine) userStep(realm string, user config.User) StepFunc {
	return func(ctx context.Context, log logr.Logger) (Outcome, error) {
		exists, err := e.api.UserExists(ctx, realm, user.Username)
		if err != nil {
			return OutcomeFailed, err
		}
		if exists {
			log.Info("User already exists, skipping", "username", user.Username)
			return OutcomeExists, nil
		}

		log.Info("Creating user", "username", user.Username)
		password := user.Password
		if password == "" {
			password = config.DefaultUserPassword
		}
		userID, err := e.api.CreateUser(ctx, realm, keycloak.UserSpec{
			Username:   user.Username,
			Password:   password,
			Email:      user.Email,
			FirstName:  user.FirstName,
			LastName:   user.LastName,
			Attributes: user.Attributes,
		})
		if err != nil {
			return OutcomeFailed, err
		}

		for _, role := range user.Roles {
			log.Info("Assigning role to user", "username", user.Username, "role", role)
			if err := e.api.AssignRealmRole(ctx, realm, userID, role); err != nil {
				return OutcomeFailed, err
			}
		}
		return OutcomeCreated, nil
	}
}

// ensure creates a resource unless it already exists.
func ensure(log logr.Logger, kind, name string, exists func() (bool, error), create func() error) (Outcome, error) {
	ok, err := exists()
	if err != nil {
		return OutcomeFailed, err
	}
	if ok {
		log.Info("Already exists, skipping", "kind", kind, "name", name)
		return OutcomeExists, nil
	}

	log.Info("Creating", "kind", kind, "name", name)
	if err := create(); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeCreated, nil
}
