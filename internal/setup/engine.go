package setup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/configstore"
	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/keycloak"
	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/metrics"
)

// KeycloakAPI is the part of the admin API the plans use.
// *keycloak.Client implements it.
type KeycloakAPI interface {
	Authenticate(ctx context.Context) error

	RealmExists(ctx context.Context, realmName string) (bool, error)
	CreateRealm(ctx context.Context, realmName string) error
	UpdateRealmSettings(ctx context.Context, realmName string, settings keycloak.RealmSettings) error

	ClientExists(ctx context.Context, realmName, clientID string) (bool, error)
	CreateClient(ctx context.Context, realmName, clientID string, opts keycloak.ClientOptions) (string, error)
	UpdateClientAttributes(ctx context.Context, realmName, clientID string, attributes map[string]string) error
	GrantServiceAccountRoles(ctx context.Context, realmName, clientID string) (int, error)
	ClientSecret(ctx context.Context, realmName, clientID string) (string, error)

	RoleExists(ctx context.Context, realmName, roleName string) (bool, error)
	CreateRealmRole(ctx context.Context, realmName, roleName string) error
	AssignRealmRole(ctx context.Context, realmName, userID, roleName string) error

	UserExists(ctx context.Context, realmName, username string) (bool, error)
	CreateUser(ctx context.Context, realmName string, spec keycloak.UserSpec) (string, error)

	ProfileAttributeExists(ctx context.Context, realmName, name string) (bool, error)
	CreateProfileAttribute(ctx context.Context, realmName string, attr keycloak.ProfileAttribute) error

	SigningKey(ctx context.Context, realmName string) (string, error)
}

// StoreOpener opens the target documents of the secret mapping.
// *configstore.Opener implements it.
type StoreOpener interface {
	Open(target string) (configstore.Store, error)
}

// Engine runs plans against one Keycloak session.
type Engine struct {
	api    KeycloakAPI
	stores StoreOpener
	log    logr.Logger
}

// NewEngine creates an Engine
func NewEngine(api KeycloakAPI, stores StoreOpener, log logr.Logger) *Engine {
	return &Engine{
		api:    api,
		stores: stores,
		log:    log.WithName("setup"),
	}
}

// Run executes plan in order and stops at the first failing step. The
// returned results cover every step that ran, the failing one included.
func (e *Engine) Run(ctx context.Context, plan *Plan) ([]Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", plan.Name, err)
	}

	log := e.log.WithValues("plan", plan.Name)
	completed := sets.New[string]()
	results := make([]Result, 0, len(plan.Steps))

	for _, step := range plan.Steps {
		stepLog := log.WithValues("step", step.Name)

		err := ctx.Err()
		for _, req := range step.Requires {
			if err == nil && !completed.Has(req) {
				err = fmt.Errorf("%w: step %q has not completed", ErrPrecondition, req)
			}
		}

		outcome := OutcomeFailed
		start := time.Now()
		if err == nil {
			stepLog.V(1).Info("Running step")
			outcome, err = step.Run(ctx, stepLog)
		}
		elapsed := time.Since(start)

		result := Result{Plan: plan.Name, Step: step.Name, Outcome: outcome, Duration: elapsed}
		if err != nil {
			result.Outcome = OutcomeFailed
			result.Error = err.Error()
			results = append(results, result)
			metrics.RecordStep(plan.Name, string(OutcomeFailed), elapsed.Seconds())
			return results, &StepError{Plan: plan.Name, Step: step.Name, Err: err}
		}

		results = append(results, result)
		metrics.RecordStep(plan.Name, string(outcome), elapsed.Seconds())
		stepLog.V(1).Info("Step finished", "outcome", outcome, "duration", elapsed.String())
		completed.Insert(step.Name)
	}

	return results, nil
}

func (e *Engine) authenticateStep(ctx context.Context, log logr.Logger) (Outcome, error) {
	log.Info("Fetching admin token")
	if err := e.api.Authenticate(ctx); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeApplied, nil
}
