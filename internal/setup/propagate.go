package setup

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/config"
)

// PropagatePlanName names the secret propagation plan.
const PropagatePlanName = "propagate"

// Secret keys the propagation plan knows how to derive
const (
	KeyClientSecret = "client_secret"
	KeySigningKey   = "signing_key"
)

// SecretStep is the name of the step propagating one env key
func SecretStep(key string) string {
	return "secret/" + key
}

// PropagatePlan builds the secret propagation plan: a fresh session, then
// one step per env key in sorted order.
func (e *Engine) PropagatePlan(cfg *config.Keycloak, env *config.Env) *Plan {
	plan := &Plan{Name: PropagatePlanName}
	plan.Add(StepAuthenticate, e.authenticateStep)
	for _, key := range env.Keys() {
		plan.Add(SecretStep(key), e.secretStep(cfg, env, key), StepAuthenticate)
	}
	return plan
}

// Propagate copies the client secret and the realm signing key into the
// documents named by env.
func (e *Engine) Propagate(ctx context.Context, cfg *config.Keycloak, env *config.Env) ([]Result, error) {
	plan := e.PropagatePlan(cfg, env)
	e.log.Info("Propagating secrets", "keys", len(env.Env), "files", len(env.Files))
	return e.Run(ctx, plan)
}

// fetcher derives the value of a secret key
type fetcher func(ctx context.Context) (string, error)

func (e *Engine) fetcherFor(cfg *config.Keycloak, key string) fetcher {
	switch key {
	case KeyClientSecret:
		return func(ctx context.Context) (string, error) {
			return e.api.ClientSecret(ctx, cfg.RealmName, cfg.ClientID)
		}
	case KeySigningKey:
		return func(ctx context.Context) (string, error) {
			return e.api.SigningKey(ctx, cfg.RealmName)
		}
	default:
		return nil
	}
}

// secretStep writes one derived value. Unknown keys and file references
// missing from the mapping are logged and leave every document untouched.
func (e *Engine) secretStep(cfg *config.Keycloak, env *config.Env, key string) StepFunc {
	return func(ctx context.Context, log logr.Logger) (Outcome, error) {
		fetch := e.fetcherFor(cfg, key)
		if fetch == nil {
			log.Info("No matching secret for env key, ignoring", "key", key)
			return OutcomeIgnored, nil
		}

		ref := env.Env[key]
		target, ok := env.Files[ref]
		if !ok {
			log.Info("File reference not found in files, skipping", "key", key, "file", ref)
			return OutcomeIgnored, nil
		}

		value, err := fetch(ctx)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("failed to fetch %s: %w", key, err)
		}

		store, err := e.stores.Open(target)
		if err != nil {
			return OutcomeFailed, err
		}
		created, err := store.Ensure(ctx)
		if err != nil {
			return OutcomeFailed, err
		}
		if created {
			log.Info("Created settings document", "target", store.String())
		}

		if _, exists, err := store.Get(ctx, key); err != nil {
			return OutcomeFailed, err
		} else if exists {
			log.Info("Key already set, overriding", "key", key, "target", store.String())
		}

		if err := store.Set(ctx, key, value); err != nil {
			return OutcomeFailed, err
		}
		log.Info("Wrote secret", "key", key, "target", store.String())
		return OutcomeApplied, nil
	}
}
