package config

import (
	"net/url"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/configstore"
)

// Validate checks the document. All problems are reported together.
func (k *Keycloak) Validate() error {
	var errs field.ErrorList

	errs = append(errs, validateURL(field.NewPath("base_url"), k.BaseURL, true)...)
	for _, f := range []struct {
		name, value string
	}{
		{"admin_user", k.AdminUser},
		{"admin_pass", k.AdminPass},
		{"realm_name", k.RealmName},
		{"client_id", k.ClientID},
	} {
		if strings.TrimSpace(f.value) == "" {
			errs = append(errs, field.Required(field.NewPath(f.name), ""))
		}
	}

	rolesPath := field.NewPath("roles")
	roles := sets.New[string]()
	for i, role := range k.Roles {
		switch {
		case strings.TrimSpace(role) == "":
			errs = append(errs, field.Required(rolesPath.Index(i), "role name must not be empty"))
		case roles.Has(role):
			errs = append(errs, field.Duplicate(rolesPath.Index(i), role))
		}
		roles.Insert(role)
	}

	usersPath := field.NewPath("users")
	usernames := sets.New[string]()
	for i, u := range k.Users {
		p := usersPath.Index(i)
		if strings.TrimSpace(u.Username) == "" {
			errs = append(errs, field.Required(p.Child("username"), ""))
			continue
		}
		lower := strings.ToLower(u.Username)
		if usernames.Has(lower) {
			errs = append(errs, field.Duplicate(p.Child("username"), u.Username))
		}
		usernames.Insert(lower)
		for j, role := range u.Roles {
			if strings.TrimSpace(role) == "" {
				errs = append(errs, field.Required(p.Child("roles").Index(j), "role name must not be empty"))
			}
		}
	}

	for name, v := range map[string]*int{
		"access_token_lifespan":         k.AccessTokenLifespan,
		"refresh_token_lifespan":        k.RefreshTokenLifespan,
		"client_access_token_lifespan":  k.ClientAccessTokenLifespan,
		"client_refresh_token_lifespan": k.ClientRefreshTokenLifespan,
	} {
		if v != nil && *v <= 0 {
			errs = append(errs, field.Invalid(field.NewPath(name), *v, "must be a positive number of seconds"))
		}
	}

	if k.FrontendURL != nil {
		errs = append(errs, validateURL(field.NewPath("frontend_url"), *k.FrontendURL, true)...)
	}

	attrsPath := field.NewPath("profile_attributes")
	attrs := sets.New[string]()
	for i, a := range k.ProfileAttributes {
		p := attrsPath.Index(i).Child("name")
		switch {
		case strings.TrimSpace(a.Name) == "":
			errs = append(errs, field.Required(p, ""))
		case attrs.Has(a.Name):
			errs = append(errs, field.Duplicate(p, a.Name))
		}
		attrs.Insert(a.Name)
	}

	return errs.ToAggregate()
}

// Validate checks the secret mapping. File references that env keys point
// at but that are missing from files are allowed; they are skipped at run
// time.
func (e *Env) Validate() error {
	var errs field.ErrorList

	filesPath := field.NewPath("files")
	for ref, target := range e.Files {
		p := filesPath.Key(ref)
		if strings.TrimSpace(target) == "" {
			errs = append(errs, field.Required(p, "target must not be empty"))
			continue
		}
		if configstore.IsSecretTarget(target) {
			if _, err := configstore.ParseSecretRef(target); err != nil {
				errs = append(errs, field.Invalid(p, target, err.Error()))
			}
		}
	}

	envPath := field.NewPath("env")
	for key, ref := range e.Env {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, field.Required(envPath, "key must not be empty"))
		}
		if strings.TrimSpace(ref) == "" {
			errs = append(errs, field.Required(envPath.Key(key), "file reference must not be empty"))
		}
	}

	return errs.ToAggregate()
}

func validateURL(p *field.Path, value string, required bool) field.ErrorList {
	if value == "" {
		if required {
			return field.ErrorList{field.Required(p, "")}
		}
		return nil
	}
	u, err := url.Parse(value)
	if err != nil {
		return field.ErrorList{field.Invalid(p, value, err.Error())}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return field.ErrorList{field.Invalid(p, value, "must be an absolute http(s) URL")}
	}
	return nil
}
